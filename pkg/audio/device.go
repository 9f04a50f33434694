package audio

import "fmt"

// StreamParams describe how a capture or playback stream is opened. The
// relay opens both sides with identical parameters; no resampling is done,
// so a device that cannot run at the requested rate is a hard failure.
type StreamParams struct {
	SampleRate     int
	Channels       int
	FramesPerBlock int
}

// CaptureHandler receives one interleaved block from the capture device, on
// the device's own timing. It must not block.
type CaptureHandler func(block []float32)

// PlaybackHandler fills one interleaved block for the playback device, on
// the device's own timing. It must not block or allocate.
type PlaybackHandler func(out []float32)

// Stream is one running capture or playback stream.
type Stream interface {
	Start() error
	Stop() error
	Close() error
}

// DeviceInfo describes one audio device known to the host.
type DeviceInfo struct {
	Name            string
	MaxInputChans   int
	MaxOutputChans  int
	DefaultRate     float64
	Supports48kIn   bool
	Supports48kOut  bool
}

// Host abstracts the audio backend (PortAudio in production, a mock in
// tests) so the relay only sees the callback contract.
type Host interface {
	// OpenCapture opens an input stream on the named device. An empty name
	// selects the QDX input by product-name match.
	OpenCapture(name string, p StreamParams, h CaptureHandler) (Stream, error)

	// OpenPlayback opens an output stream on the named device. An empty
	// name selects the default speaker output.
	OpenPlayback(name string, p StreamParams, h PlaybackHandler) (Stream, error)

	Devices() ([]DeviceInfo, error)
	Close() error
}

// DeviceError reports a failure to open or configure an audio device. It is
// fatal to the relay; the caller must fix the device and restart.
type DeviceError struct {
	Device string
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("audio device %q: %v", e.Device, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// StreamError reports a device failing mid-session (unplugged, driver
// fault). The relay stops and must be explicitly restarted; it never
// reconnects on its own, since a blind reconnect could route audio to a
// different physical device.
type StreamError struct {
	Device string
	Err    error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("audio stream on %q: %v", e.Device, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }
