package audio

import (
	"fmt"
	"sync"
)

// MockHost implements Host for testing. Capture and playback blocks are
// driven manually with TriggerCapture and TriggerPlayback, standing in for
// the device callback threads.
type MockHost struct {
	mutex sync.Mutex

	captureHandler  CaptureHandler
	playbackHandler PlaybackHandler
	params          StreamParams

	FailCaptureOpen  bool
	FailPlaybackOpen bool

	captureStarted  bool
	playbackStarted bool
}

// NewMockHost creates a mock audio host.
func NewMockHost() *MockHost {
	return &MockHost{}
}

type mockStream struct {
	host    *MockHost
	capture bool
}

func (s *mockStream) Start() error {
	s.host.mutex.Lock()
	defer s.host.mutex.Unlock()
	if s.capture {
		s.host.captureStarted = true
	} else {
		s.host.playbackStarted = true
	}
	return nil
}

func (s *mockStream) Stop() error {
	s.host.mutex.Lock()
	defer s.host.mutex.Unlock()
	if s.capture {
		s.host.captureStarted = false
	} else {
		s.host.playbackStarted = false
	}
	return nil
}

func (s *mockStream) Close() error { return nil }

// OpenCapture records the handler for later triggering.
func (h *MockHost) OpenCapture(name string, p StreamParams, handler CaptureHandler) (Stream, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.FailCaptureOpen {
		return nil, fmt.Errorf("mock capture device %q unavailable", name)
	}
	h.captureHandler = handler
	h.params = p
	return &mockStream{host: h, capture: true}, nil
}

// OpenPlayback records the handler for later triggering.
func (h *MockHost) OpenPlayback(name string, p StreamParams, handler PlaybackHandler) (Stream, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.FailPlaybackOpen {
		return nil, fmt.Errorf("mock playback device %q unavailable", name)
	}
	h.playbackHandler = handler
	h.params = p
	return &mockStream{host: h, capture: false}, nil
}

// Devices returns a fixed pair of plausible devices.
func (h *MockHost) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{
		{Name: "QDX Transceiver Audio", MaxInputChans: 2, DefaultRate: 48000, Supports48kIn: true},
		{Name: "Built-in Output", MaxOutputChans: 2, DefaultRate: 48000, Supports48kOut: true},
	}, nil
}

// Close is a no-op for the mock.
func (h *MockHost) Close() error { return nil }

// TriggerCapture delivers one interleaved block as if the capture device
// produced it.
func (h *MockHost) TriggerCapture(block []float32) {
	h.mutex.Lock()
	handler := h.captureHandler
	started := h.captureStarted
	h.mutex.Unlock()
	if handler != nil && started {
		handler(block)
	}
}

// TriggerPlayback asks the playback handler to fill a block of n samples
// and returns it.
func (h *MockHost) TriggerPlayback(n int) []float32 {
	h.mutex.Lock()
	handler := h.playbackHandler
	started := h.playbackStarted
	h.mutex.Unlock()
	out := make([]float32, n)
	if handler != nil && started {
		handler(out)
	}
	return out
}

// CaptureStarted reports whether the capture stream is running.
func (h *MockHost) CaptureStarted() bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.captureStarted
}

// PlaybackStarted reports whether the playback stream is running.
func (h *MockHost) PlaybackStarted() bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.playbackStarted
}
