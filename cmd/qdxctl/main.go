package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/devzendo/qdx-receiver/pkg/client"
)

var (
	socketPath = flag.String("socket", "/tmp/qdxd.sock", "Unix socket path")
	command    = flag.String("cmd", "", "Command to send (e.g., 'STATUS', 'FREQUENCY:14074000')")
)

func main() {
	flag.Parse()

	if *socketPath == "" {
		fmt.Fprintf(os.Stderr, "Socket path is required\n")
		os.Exit(1)
	}

	if *command == "" {
		if len(flag.Args()) > 0 {
			*command = strings.Join(flag.Args(), " ")
		} else {
			showHelp()
			return
		}
	}

	client := client.NewSocketClient(*socketPath)

	response, err := client.SendCommand(*command)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s\n", response.String())
}

func showHelp() {
	fmt.Println("qdxctl - QDX Receiver Daemon Control Tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Printf("  %s [options] <command>\n", os.Args[0])
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -socket <path>    Unix socket path (default: /tmp/qdxd.sock)")
	fmt.Println("  -cmd <command>    Command to send")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  STATUS                    Get daemon status")
	fmt.Println("  FREQUENCY:<hz>            Tune to a frequency")
	fmt.Println("  DIGIT:<pos>:<delta>       Bump a frequency digit (DIGIT:3:+1)")
	fmt.Println("  BAND:<metres>             Tune to a band preset (BAND:20)")
	fmt.Println("  GAIN:<0.0-1.0>            Set playback gain")
	fmt.Println("  MUTE:on|off               Mute or unmute playback")
	fmt.Println("  METER                     Get the signal meter reading")
	fmt.Println("  ERRORS                    Drain pending error events")
	fmt.Println("  EVENTS[:n]                Get recent session events")
	fmt.Println("  PING                      Test connection")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Printf("  %s STATUS\n", os.Args[0])
	fmt.Printf("  %s FREQUENCY:7074000\n", os.Args[0])
	fmt.Printf("  %s BAND:40\n", os.Args[0])
	fmt.Printf("  echo 'STATUS' | nc -U /tmp/qdxd.sock\n")
}
