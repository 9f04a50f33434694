package engine

import (
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/devzendo/qdx-receiver/pkg/audio"
	"github.com/devzendo/qdx-receiver/pkg/client"
	"github.com/devzendo/qdx-receiver/pkg/config"
	"github.com/devzendo/qdx-receiver/pkg/tuner"
)

// fakePort is an in-memory stand-in for the CAT serial port.
type fakePort struct {
	mutex     sync.Mutex
	wrote     []byte
	rx        chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakePort() *fakePort {
	return &fakePort{
		rx:     make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (p *fakePort) Read(buf []byte) (int, error) {
	select {
	case data := <-p.rx:
		return copy(buf, data), nil
	case <-p.closed:
		return 0, io.EOF
	}
}

func (p *fakePort) Write(data []byte) (int, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.wrote = append(p.wrote, data...)
	return len(data), nil
}

func (p *fakePort) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

func (p *fakePort) written() string {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return string(p.wrote)
}

// inject delivers radio response bytes as if they arrived on the wire.
func (p *fakePort) inject(s string) {
	p.rx <- []byte(s)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.API.UnixSocket = filepath.Join(t.TempDir(), "qdxd.sock")
	cfg.CAT.TickMs = 5
	cfg.CAT.TimeoutMs = 50
	cfg.CAT.Retries = 1
	cfg.Storage.DatabasePath = ""
	return cfg
}

func newTestEngine(t *testing.T) (*CoreEngine, *audio.MockHost, *fakePort) {
	t.Helper()
	host := audio.NewMockHost()
	port := newFakePort()
	e := NewCoreEngine(testConfig(t), host, port, "/dev/fake", nil)
	if err := e.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { e.Stop() })

	// Answer the startup VFO query so tests drive a clean link.
	waitFor(t, "startup query", func() bool {
		return strings.HasSuffix(port.written(), "FA;")
	})
	port.inject("FA00014074000;")
	waitFor(t, "startup sync", func() bool {
		_, confirmed := e.PollFrequency()
		return confirmed == 14074000
	})
	return e, host, port
}

func TestEngineSetFrequencyEndToEnd(t *testing.T) {
	e, _, port := newTestEngine(t)

	if err := e.RequestFrequency(7074000); err != nil {
		t.Fatalf("RequestFrequency failed: %v", err)
	}

	waitFor(t, "set command on wire", func() bool {
		return strings.Contains(port.written(), "FA00007074000;")
	})

	// Displayed is optimistic before the radio answers.
	displayed, confirmed := e.PollFrequency()
	if displayed != 7074000 {
		t.Errorf("Expected displayed 7074000, got %d", displayed)
	}
	if confirmed != 14074000 {
		t.Errorf("Expected confirmed 14074000 before response, got %d", confirmed)
	}

	port.inject("FA00007074000;")
	waitFor(t, "confirmation", func() bool {
		_, confirmed := e.PollFrequency()
		return confirmed == 7074000
	})

	if errs := e.PollErrors(); len(errs) != 0 {
		t.Errorf("Unexpected errors: %v", errs)
	}
}

func TestEngineFrequencyOutOfRange(t *testing.T) {
	e, _, port := newTestEngine(t)
	before := port.written()

	err := e.RequestFrequency(500)
	var rerr *tuner.RangeError
	if !errors.As(err, &rerr) {
		t.Fatalf("Expected RangeError, got %v", err)
	}
	if port.written() != before {
		t.Error("Rejected request reached the wire")
	}
}

func TestEngineTimeoutSurfacesError(t *testing.T) {
	e, _, _ := newTestEngine(t)

	if err := e.RequestFrequency(7074000); err != nil {
		t.Fatalf("RequestFrequency failed: %v", err)
	}

	// No response ever arrives: retries run out, the display reverts and
	// the failure lands in the error queue.
	waitFor(t, "display revert", func() bool {
		displayed, _ := e.PollFrequency()
		return displayed == 14074000
	})
	waitFor(t, "queued error", func() bool {
		return len(e.PollErrors()) > 0
	})
}

func TestEngineAdjustDigit(t *testing.T) {
	e, _, port := newTestEngine(t)

	if err := e.AdjustDigit(3, 1); err != nil {
		t.Fatalf("AdjustDigit failed: %v", err)
	}

	waitFor(t, "digit command on wire", func() bool {
		return strings.Contains(port.written(), "FA00014075000;")
	})
}

func TestEngineSelectPreset(t *testing.T) {
	e, _, port := newTestEngine(t)

	if err := e.SelectPreset(40); err != nil {
		t.Fatalf("SelectPreset failed: %v", err)
	}

	waitFor(t, "band command on wire", func() bool {
		return strings.Contains(port.written(), "FA00007074000;")
	})
}

func TestEngineGainAndMute(t *testing.T) {
	e, host, _ := newTestEngine(t)

	e.SetGain(0.5)
	if e.Gain() != 0.5 {
		t.Errorf("Expected gain 0.5, got %f", e.Gain())
	}

	block := make([]float32, 128)
	for i := range block {
		block[i] = 0.5
	}
	host.TriggerCapture(block)

	out := host.TriggerPlayback(128)
	if out[0] != 0.25 {
		t.Errorf("Expected 0.25 after gain, got %f", out[0])
	}

	e.SetMute(true)
	host.TriggerCapture(block)
	out = host.TriggerPlayback(128)
	for i, s := range out {
		if s != 0 {
			t.Fatalf("Expected silence while muted, got %f at %d", s, i)
		}
	}
}

func TestEngineMeter(t *testing.T) {
	e, host, _ := newTestEngine(t)

	block := make([]float32, 128)
	for i := range block {
		block[i] = 0.25
	}
	host.TriggerCapture(block)

	reading := e.PollMeter()
	if reading.Value <= 0 {
		t.Errorf("Expected meter deflection, got %f", reading.Value)
	}
	if reading.Label == "" {
		t.Error("Expected meter label")
	}
}

func TestEngineSocketCommands(t *testing.T) {
	e, _, port := newTestEngine(t)

	c := client.NewSocketClient(e.socketPath)

	t.Run("Ping", func(t *testing.T) {
		if err := c.Ping(); err != nil {
			t.Fatalf("Ping failed: %v", err)
		}
	})

	t.Run("Status", func(t *testing.T) {
		status, err := c.GetStatus()
		if err != nil {
			t.Fatalf("GetStatus failed: %v", err)
		}
		if !status.Running {
			t.Error("Expected running status")
		}
		if status.Confirmed != 14074000 {
			t.Errorf("Expected confirmed 14074000, got %d", status.Confirmed)
		}
		if status.CatDevice != "/dev/fake" {
			t.Errorf("Unexpected CAT device %q", status.CatDevice)
		}
	})

	t.Run("Frequency", func(t *testing.T) {
		if err := c.SetFrequency(10136000); err != nil {
			t.Fatalf("SetFrequency failed: %v", err)
		}
		waitFor(t, "frequency on wire", func() bool {
			return strings.Contains(port.written(), "FA00010136000;")
		})
	})

	t.Run("Gain", func(t *testing.T) {
		if err := c.SetGain(0.75); err != nil {
			t.Fatalf("SetGain failed: %v", err)
		}
		if e.Gain() != 0.75 {
			t.Errorf("Expected gain 0.75, got %f", e.Gain())
		}
	})

	t.Run("Invalid Gain", func(t *testing.T) {
		if err := c.SetGain(1.5); err == nil {
			t.Error("Expected error for out of range gain")
		}
	})

	t.Run("Mute", func(t *testing.T) {
		if err := c.SetMute(true); err != nil {
			t.Fatalf("SetMute failed: %v", err)
		}
		if !e.Muted() {
			t.Error("Expected muted")
		}
		if err := c.SetMute(false); err != nil {
			t.Fatalf("SetMute failed: %v", err)
		}
	})

	t.Run("Meter", func(t *testing.T) {
		data, err := c.GetMeter()
		if err != nil {
			t.Fatalf("GetMeter failed: %v", err)
		}
		if _, ok := data["meter"]; !ok {
			t.Error("Expected meter in response")
		}
	})

	t.Run("Errors", func(t *testing.T) {
		if _, err := c.GetErrors(); err != nil {
			t.Fatalf("GetErrors failed: %v", err)
		}
	})

	t.Run("Unknown Command", func(t *testing.T) {
		resp, err := c.SendCommand("BOGUS")
		if err != nil {
			t.Fatalf("SendCommand failed: %v", err)
		}
		if resp.Success {
			t.Error("Expected failure for unknown command")
		}
	})
}

func TestEngineNoCatPort(t *testing.T) {
	host := audio.NewMockHost()
	e := NewCoreEngine(testConfig(t), host, nil, "", nil)
	if err := e.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer e.Stop()

	// Audio works without a radio attached.
	e.SetGain(0.5)
	if e.Gain() != 0.5 {
		t.Errorf("Expected gain 0.5, got %f", e.Gain())
	}

	// Tuning fails cleanly.
	if err := e.RequestFrequency(7074000); err == nil {
		t.Error("Expected error with no CAT port")
	}
}

func TestEngineStopIdempotent(t *testing.T) {
	host := audio.NewMockHost()
	e := NewCoreEngine(testConfig(t), host, nil, "", nil)
	if err := e.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := e.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := e.Stop(); err != nil {
		t.Fatalf("Second Stop failed: %v", err)
	}
}
