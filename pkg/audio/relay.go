package audio

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/devzendo/qdx-receiver/pkg/logging"
)

// RelayConfig configures the audio relay.
type RelayConfig struct {
	CaptureDevice  string
	PlaybackDevice string
	SampleRate     int
	Channels       int
	FramesPerBlock int
	RingCapacity   int // frames; 0 selects 16x the block size
	MeterAttack    float32
	MeterDecay     float32
}

// Relay pumps receive audio from the transceiver's capture device to the
// speaker's playback device. The capture callback produces into a
// SampleRing and feeds the level meter; the playback callback consumes,
// applies gain and mute, and writes silence on underrun. The two callbacks
// run in independent timing domains owned by the audio host.
type Relay struct {
	cfg  RelayConfig
	host Host

	ring  *SampleRing
	meter *LevelMeter

	capture  Stream
	playback Stream

	gainBits atomic.Uint32 // float32 bits, read once per playback block
	muted    atomic.Bool
	running  atomic.Bool

	latest  atomic.Pointer[MeterReading]
	dropped atomic.Uint64

	// Errors from the callback timing domains are queued here and drained
	// by the control thread; nothing is ever thrown across the callback
	// boundary.
	errs chan error

	mutex sync.Mutex // guards Start/Stop
}

// NewRelay creates a relay over the given audio host. Nothing is opened
// until Start.
func NewRelay(host Host, cfg RelayConfig) *Relay {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 48000
	}
	if cfg.Channels == 0 {
		cfg.Channels = 2
	}
	if cfg.FramesPerBlock == 0 {
		cfg.FramesPerBlock = 64
	}
	if cfg.RingCapacity == 0 {
		cfg.RingCapacity = cfg.FramesPerBlock * 16
	}
	r := &Relay{
		cfg:   cfg,
		host:  host,
		meter: NewLevelMeter(cfg.MeterAttack, cfg.MeterDecay),
		errs:  make(chan error, 16),
	}
	r.SetGain(1.0)
	return r
}

// Start opens the capture and playback streams at a matched rate and block
// size. Either failure aborts the start with a DeviceError; partial streams
// are closed.
func (r *Relay) Start() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.running.Load() {
		return fmt.Errorf("audio relay already started")
	}

	r.ring = NewSampleRing(r.cfg.RingCapacity)
	params := StreamParams{
		SampleRate:     r.cfg.SampleRate,
		Channels:       r.cfg.Channels,
		FramesPerBlock: r.cfg.FramesPerBlock,
	}

	capture, err := r.host.OpenCapture(r.cfg.CaptureDevice, params, r.onCaptureBlock)
	if err != nil {
		return &DeviceError{Device: r.cfg.CaptureDevice, Err: err}
	}
	playback, err := r.host.OpenPlayback(r.cfg.PlaybackDevice, params, r.onPlaybackBlock)
	if err != nil {
		capture.Close()
		return &DeviceError{Device: r.cfg.PlaybackDevice, Err: err}
	}

	r.capture = capture
	r.playback = playback
	r.running.Store(true)

	if err := capture.Start(); err != nil {
		r.stopLocked()
		return &DeviceError{Device: r.cfg.CaptureDevice, Err: err}
	}
	if err := playback.Start(); err != nil {
		r.stopLocked()
		return &DeviceError{Device: r.cfg.PlaybackDevice, Err: err}
	}

	logging.Infof("audio", "Relay started: %d Hz, %d ch, %d frames/block, ring %d frames",
		r.cfg.SampleRate, r.cfg.Channels, r.cfg.FramesPerBlock, r.ring.Cap())
	return nil
}

// Stop closes both streams and discards any buffered audio.
func (r *Relay) Stop() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.stopLocked()
}

func (r *Relay) stopLocked() {
	if !r.running.Load() && r.capture == nil && r.playback == nil {
		return
	}
	r.running.Store(false)
	if r.capture != nil {
		r.capture.Stop()
		r.capture.Close()
		r.capture = nil
	}
	if r.playback != nil {
		r.playback.Stop()
		r.playback.Close()
		r.playback = nil
	}
	logging.Info("audio", "Relay stopped")
}

// IsRunning reports whether both streams are live.
func (r *Relay) IsRunning() bool {
	return r.running.Load()
}

// onCaptureBlock runs in the capture device's timing domain.
func (r *Relay) onCaptureBlock(block []float32) {
	if !r.running.Load() {
		return
	}
	ch := r.cfg.Channels
	nFrames := len(block) / ch
	for i := 0; i < nFrames; i++ {
		var f Frame
		f[0] = block[i*ch]
		if ch > 1 {
			f[1] = block[i*ch+1]
		} else {
			f[1] = f[0]
		}
		if !r.ring.Push(f) {
			// Full: drop the newest frame, keep what is queued for play.
			r.dropped.Add(1)
		}
	}
	reading := r.meter.Update(block)
	r.latest.Store(&reading)
}

// onPlaybackBlock runs in the playback device's timing domain. It never
// blocks and never allocates: underrun slots are filled with silence.
func (r *Relay) onPlaybackBlock(out []float32) {
	gain := r.Gain()
	if r.muted.Load() || !r.running.Load() {
		gain = 0
	}
	ch := r.cfg.Channels
	nFrames := len(out) / ch
	for i := 0; i < nFrames; i++ {
		f, ok := r.ring.Pop()
		if !ok {
			f = Frame{}
		}
		out[i*ch] = f[0] * gain
		if ch > 1 {
			out[i*ch+1] = f[1] * gain
		}
	}
}

// SetGain sets the playback gain in [0, 1], effective on the next playback
// block.
func (r *Relay) SetGain(gain float32) {
	if gain < 0 {
		gain = 0
	}
	if gain > 1 {
		gain = 1
	}
	r.gainBits.Store(math.Float32bits(gain))
}

// Gain returns the current playback gain.
func (r *Relay) Gain() float32 {
	return math.Float32frombits(r.gainBits.Load())
}

// SetMute sets the mute flag, effective on the next playback block. Gain is
// preserved across mute/unmute.
func (r *Relay) SetMute(muted bool) {
	r.muted.Store(muted)
}

// Muted returns the mute flag.
func (r *Relay) Muted() bool {
	return r.muted.Load()
}

// Meter returns the latest meter reading (single slot, last write wins).
func (r *Relay) Meter() MeterReading {
	if m := r.latest.Load(); m != nil {
		return *m
	}
	return MeterReading{Label: "S0"}
}

// DroppedFrames returns how many capture frames overflow has discarded.
func (r *Relay) DroppedFrames() uint64 {
	return r.dropped.Load()
}

// ReportStreamError is called by the host when a device fails mid-session.
// The relay stops; restarting is the caller's decision.
func (r *Relay) ReportStreamError(device string, err error) {
	streamErr := &StreamError{Device: device, Err: err}
	logging.Errorf("audio", "Stream failure: %v", streamErr)
	select {
	case r.errs <- streamErr:
	default:
		// Queue full; the oldest unpolled error already tells the story.
	}
	r.Stop()
}

// PollError returns the next queued audio-path error, or nil.
func (r *Relay) PollError() error {
	select {
	case err := <-r.errs:
		return err
	default:
		return nil
	}
}
