package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/devzendo/qdx-receiver/pkg/audio"
	"github.com/devzendo/qdx-receiver/pkg/config"
	"github.com/devzendo/qdx-receiver/pkg/engine"
	"github.com/devzendo/qdx-receiver/pkg/logging"
	"github.com/devzendo/qdx-receiver/pkg/verbose"
)

var (
	configPath  = flag.String("config", "config.yaml", "Configuration file path")
	version     = flag.Bool("version", false, "Show version information")
	listDevices = flag.Bool("list-devices", false, "List audio devices and exit")
	verboseFlag = flag.Bool("verbose", false, "Enable verbose CAT tracing")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("qdxd version %s\n", engine.Version)
		os.Exit(0)
	}

	if *listDevices {
		if err := printDevices(); err != nil {
			log.Fatalf("Failed to list devices: %v", err)
		}
		os.Exit(0)
	}

	verbose.SetEnabled(*verboseFlag)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := logging.InitGlobalLogger(logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		Console:    cfg.Logging.Console,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
	}); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logging.CloseGlobalLogger()

	logging.Infof("main", "qdxd version %s starting...", engine.Version)
	logging.Infof("main", "Audio: %q -> %q at %d Hz", cfg.Audio.InputDevice, cfg.Audio.OutputDevice, cfg.Audio.SampleRate)
	logging.Infof("main", "Web interface: http://%s:%d", cfg.Web.BindAddress, cfg.Web.Port)

	daemon, err := NewQDXDaemon(cfg)
	if err != nil {
		logging.Errorf("main", "Failed to create daemon: %v", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := daemon.Start(); err != nil {
		logging.Errorf("main", "Failed to start daemon: %v", err)
		os.Exit(1)
	}

	logging.Infof("main", "qdxd started successfully")

	<-sigChan
	logging.Infof("main", "Shutting down...")

	if err := daemon.Stop(); err != nil {
		logging.Errorf("main", "Error during shutdown: %v", err)
	}

	logging.Infof("main", "qdxd stopped")
}

func printDevices() error {
	host, err := audio.NewPortAudioHost()
	if err != nil {
		return err
	}
	defer host.Close()

	devices, err := host.Devices()
	if err != nil {
		return err
	}

	fmt.Println("Audio devices:")
	for _, dev := range devices {
		fmt.Printf("  %-40s in:%d out:%d default:%.0fHz", dev.Name, dev.MaxInputChans, dev.MaxOutputChans, dev.DefaultRate)
		if dev.Supports48kIn {
			fmt.Print(" [48k capture]")
		}
		if dev.Supports48kOut {
			fmt.Print(" [48k playback]")
		}
		fmt.Println()
	}
	return nil
}
