package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/devzendo/qdx-receiver/pkg/protocol"
	"github.com/devzendo/qdx-receiver/pkg/storage"
)

// SocketClient represents a client connection to the core engine
type SocketClient struct {
	socketPath string
	timeout    time.Duration
}

// NewSocketClient creates a new socket client
func NewSocketClient(socketPath string) *SocketClient {
	return &SocketClient{
		socketPath: socketPath,
		timeout:    5 * time.Second,
	}
}

// SendCommand sends a command and returns the response
func (c *SocketClient) SendCommand(cmd string) (*protocol.Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to socket: %w", err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(c.timeout))

	_, err = conn.Write([]byte(cmd + "\n"))
	if err != nil {
		return nil, fmt.Errorf("send error: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		return nil, fmt.Errorf("no response received")
	}

	responseText := scanner.Text()
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read error: %w", err)
	}

	var response protocol.Response
	if err := json.Unmarshal([]byte(responseText), &response); err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}

	return &response, nil
}

// unmarshalData re-decodes one field of a generic response payload into a
// typed value.
func unmarshalData(resp *protocol.Response, key string, out interface{}) error {
	data, ok := resp.Data[key]
	if !ok {
		return fmt.Errorf("%s not found in response", key)
	}
	raw, _ := json.Marshal(data)
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return nil
}

// GetStatus gets the current daemon status
func (c *SocketClient) GetStatus() (*protocol.Status, error) {
	resp, err := c.SendCommand("STATUS")
	if err != nil {
		return nil, err
	}

	if !resp.Success {
		return nil, fmt.Errorf("status error: %s", resp.Error)
	}

	var status protocol.Status
	if err := unmarshalData(resp, "status", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// SetFrequency tunes the radio
func (c *SocketClient) SetFrequency(hz int64) error {
	resp, err := c.SendCommand(fmt.Sprintf("FREQUENCY:%d", hz))
	if err != nil {
		return err
	}

	if !resp.Success {
		return fmt.Errorf("frequency error: %s", resp.Error)
	}

	return nil
}

// AdjustDigit bumps one decimal digit of the displayed frequency
func (c *SocketClient) AdjustDigit(position, delta int) error {
	resp, err := c.SendCommand(fmt.Sprintf("DIGIT:%d:%+d", position, delta))
	if err != nil {
		return err
	}

	if !resp.Success {
		return fmt.Errorf("digit error: %s", resp.Error)
	}

	return nil
}

// SelectBand tunes to a band preset
func (c *SocketClient) SelectBand(band int) error {
	resp, err := c.SendCommand(fmt.Sprintf("BAND:%d", band))
	if err != nil {
		return err
	}

	if !resp.Success {
		return fmt.Errorf("band error: %s", resp.Error)
	}

	return nil
}

// SetGain sets the playback gain (0.0 to 1.0)
func (c *SocketClient) SetGain(gain float64) error {
	resp, err := c.SendCommand(fmt.Sprintf("GAIN:%.3f", gain))
	if err != nil {
		return err
	}

	if !resp.Success {
		return fmt.Errorf("gain error: %s", resp.Error)
	}

	return nil
}

// SetMute mutes or unmutes playback
func (c *SocketClient) SetMute(mute bool) error {
	arg := "off"
	if mute {
		arg = "on"
	}
	resp, err := c.SendCommand("MUTE:" + arg)
	if err != nil {
		return err
	}

	if !resp.Success {
		return fmt.Errorf("mute error: %s", resp.Error)
	}

	return nil
}

// GetMeter returns the latest signal meter reading
func (c *SocketClient) GetMeter() (map[string]interface{}, error) {
	resp, err := c.SendCommand("METER")
	if err != nil {
		return nil, err
	}

	if !resp.Success {
		return nil, fmt.Errorf("meter error: %s", resp.Error)
	}

	return resp.Data, nil
}

// GetErrors drains the pending error queue
func (c *SocketClient) GetErrors() ([]protocol.ErrorEvent, error) {
	resp, err := c.SendCommand("ERRORS")
	if err != nil {
		return nil, err
	}

	if !resp.Success {
		return nil, fmt.Errorf("errors error: %s", resp.Error)
	}

	if _, ok := resp.Data["errors"]; !ok {
		return []protocol.ErrorEvent{}, nil
	}
	var events []protocol.ErrorEvent
	if err := unmarshalData(resp, "errors", &events); err != nil {
		return nil, err
	}
	return events, nil
}

// GetEvents returns recent session events
func (c *SocketClient) GetEvents(limit int) ([]storage.Event, error) {
	cmd := "EVENTS"
	if limit > 0 {
		cmd = fmt.Sprintf("EVENTS:%d", limit)
	}

	resp, err := c.SendCommand(cmd)
	if err != nil {
		return nil, err
	}

	if !resp.Success {
		return nil, fmt.Errorf("events error: %s", resp.Error)
	}

	if _, ok := resp.Data["events"]; !ok {
		return []storage.Event{}, nil
	}
	var events []storage.Event
	if err := unmarshalData(resp, "events", &events); err != nil {
		return nil, err
	}
	return events, nil
}

// Ping tests the connection
func (c *SocketClient) Ping() error {
	resp, err := c.SendCommand("PING")
	if err != nil {
		return err
	}

	if !resp.Success {
		return fmt.Errorf("ping error: %s", resp.Error)
	}

	return nil
}

// IsConnected tests if the daemon is reachable
func (c *SocketClient) IsConnected() bool {
	return c.Ping() == nil
}
