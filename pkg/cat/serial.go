package cat

import (
	"fmt"
	"strings"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/devzendo/qdx-receiver/pkg/logging"
)

// QDXProduct is the USB product string the QDX enumerates with.
const QDXProduct = "QDX Transceiver"

// FindQDXPort scans the system serial ports for a QDX by its USB product
// string and returns the device name of the first match.
func FindQDXPort() (string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return "", fmt.Errorf("cat: cannot enumerate serial ports: %w", err)
	}
	for _, p := range ports {
		if !p.IsUSB {
			continue
		}
		if strings.Contains(p.Product, "QDX") {
			logging.Infof("cat", "Found QDX at %s (%s)", p.Name, p.Product)
			return p.Name, nil
		}
	}
	return "", fmt.Errorf("cat: no QDX serial port found (product %q)", QDXProduct)
}

// OpenPort opens the CAT serial port 8N1 at the given baud rate. An empty
// device name triggers QDX auto-discovery.
func OpenPort(device string, baud int) (serial.Port, error) {
	if device == "" {
		found, err := FindQDXPort()
		if err != nil {
			return nil, err
		}
		device = found
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("cat: cannot open %s: %w", device, err)
	}
	logging.Infof("cat", "Opened %s at %d baud 8N1", device, baud)
	return port, nil
}
