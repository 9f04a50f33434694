package audio

import (
	"fmt"
	"strings"

	"github.com/gordonklaus/portaudio"

	"github.com/devzendo/qdx-receiver/pkg/logging"
)

// QDXDeviceSubstring identifies the transceiver's USB audio interface by
// name; the QDX enumerates as "QDX" on every platform.
const QDXDeviceSubstring = "QDX"

// PortAudioHost implements Host over PortAudio.
type PortAudioHost struct {
	initialized bool
}

// NewPortAudioHost initialises PortAudio. Close must be called to terminate
// it.
func NewPortAudioHost() (*PortAudioHost, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return &PortAudioHost{initialized: true}, nil
}

// Close terminates PortAudio.
func (h *PortAudioHost) Close() error {
	if !h.initialized {
		return nil
	}
	h.initialized = false
	return portaudio.Terminate()
}

// Devices lists every audio device with its channel counts and whether it
// runs at the 48 kHz the QDX delivers.
func (h *PortAudioHost) Devices() ([]DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate audio devices: %w", err)
	}
	infos := make([]DeviceInfo, 0, len(devices))
	for _, dev := range devices {
		infos = append(infos, DeviceInfo{
			Name:           dev.Name,
			MaxInputChans:  dev.MaxInputChannels,
			MaxOutputChans: dev.MaxOutputChannels,
			DefaultRate:    dev.DefaultSampleRate,
			Supports48kIn:  dev.MaxInputChannels > 0 && supportsRate(dev, 48000, true),
			Supports48kOut: dev.MaxOutputChannels > 0 && supportsRate(dev, 48000, false),
		})
	}
	return infos, nil
}

func supportsRate(dev *portaudio.DeviceInfo, rate float64, input bool) bool {
	p := portaudio.HighLatencyParameters(nil, nil)
	if input {
		p.Input.Device = dev
		p.Input.Channels = dev.MaxInputChannels
	} else {
		p.Output.Device = dev
		p.Output.Channels = dev.MaxOutputChannels
	}
	p.SampleRate = rate
	return portaudio.IsFormatSupported(p, nil) == nil
}

// findInputDevice resolves the capture device. An empty name selects the
// first input whose name contains the QDX product string.
func (h *PortAudioHost) findInputDevice(name string) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate audio devices: %w", err)
	}
	want := name
	if want == "" {
		want = QDXDeviceSubstring
	}
	for _, dev := range devices {
		if dev.MaxInputChannels > 0 && strings.Contains(dev.Name, want) {
			logging.Infof("audio", "Using %q as capture device", dev.Name)
			return dev, nil
		}
	}
	return nil, fmt.Errorf("no capture device matching %q", want)
}

// findOutputDevice resolves the playback device. An empty name selects the
// host's default output.
func (h *PortAudioHost) findOutputDevice(name string) (*portaudio.DeviceInfo, error) {
	if name == "" {
		dev, err := portaudio.DefaultOutputDevice()
		if err != nil {
			return nil, fmt.Errorf("no default output device: %w", err)
		}
		logging.Infof("audio", "Using default output device %q", dev.Name)
		return dev, nil
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate audio devices: %w", err)
	}
	for _, dev := range devices {
		if dev.MaxOutputChannels > 0 && strings.Contains(dev.Name, name) {
			logging.Infof("audio", "Using %q as playback device", dev.Name)
			return dev, nil
		}
	}
	return nil, fmt.Errorf("no playback device matching %q", name)
}

type portAudioStream struct {
	stream *portaudio.Stream
}

func (s *portAudioStream) Start() error { return s.stream.Start() }
func (s *portAudioStream) Stop() error  { return s.stream.Stop() }
func (s *portAudioStream) Close() error { return s.stream.Close() }

// OpenCapture opens a non-blocking input stream; PortAudio invokes the
// handler with each interleaved block on its own callback thread.
func (h *PortAudioHost) OpenCapture(name string, p StreamParams, handler CaptureHandler) (Stream, error) {
	dev, err := h.findInputDevice(name)
	if err != nil {
		return nil, err
	}
	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = p.Channels
	params.SampleRate = float64(p.SampleRate)
	params.FramesPerBuffer = p.FramesPerBlock

	stream, err := portaudio.OpenStream(params, func(in []float32) {
		handler(in)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open capture stream on %q: %w", dev.Name, err)
	}
	return &portAudioStream{stream: stream}, nil
}

// OpenPlayback opens a non-blocking output stream; PortAudio invokes the
// handler to fill each interleaved block on its own callback thread.
func (h *PortAudioHost) OpenPlayback(name string, p StreamParams, handler PlaybackHandler) (Stream, error) {
	dev, err := h.findOutputDevice(name)
	if err != nil {
		return nil, err
	}
	params := portaudio.LowLatencyParameters(nil, dev)
	params.Output.Channels = p.Channels
	params.SampleRate = float64(p.SampleRate)
	params.FramesPerBuffer = p.FramesPerBlock

	stream, err := portaudio.OpenStream(params, func(out []float32) {
		handler(out)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open playback stream on %q: %w", dev.Name, err)
	}
	return &portAudioStream{stream: stream}, nil
}
