package engine

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/devzendo/qdx-receiver/pkg/audio"
	"github.com/devzendo/qdx-receiver/pkg/cat"
	"github.com/devzendo/qdx-receiver/pkg/config"
	"github.com/devzendo/qdx-receiver/pkg/logging"
	"github.com/devzendo/qdx-receiver/pkg/protocol"
	"github.com/devzendo/qdx-receiver/pkg/storage"
	"github.com/devzendo/qdx-receiver/pkg/tuner"
)

// Version is reported in STATUS responses and by the -version flag.
const Version = "0.1.0"

// maxQueuedErrors bounds the poll-able error queue; past it the oldest
// events are discarded.
const maxQueuedErrors = 64

// CoreEngine owns one session: the audio relay, the CAT link and tuner,
// and the Unix socket command surface. CatLink and Tuner are confined to
// the engine's control goroutine; facade calls cross into it through a
// task channel.
type CoreEngine struct {
	config     *config.Config
	socketPath string
	listener   net.Listener
	running    bool
	mutex      sync.RWMutex
	startTime  time.Time

	relay     *audio.Relay
	catPort   io.ReadWriteCloser
	catDevice string
	link      *cat.Link
	tun       *tuner.Tuner

	// events is the persistent session log; may be nil when storage is
	// disabled in config.
	events *storage.EventLog

	// ctrl carries facade calls onto the control goroutine.
	ctrl     chan func()
	serialRx chan []byte

	errMutex sync.Mutex
	errQueue []protocol.ErrorEvent

	done chan struct{}
	wg   sync.WaitGroup
}

// NewCoreEngine creates an engine over an audio host and an open CAT serial
// port. catPort may be nil when no radio is attached; tuning commands then
// fail cleanly. events may be nil.
func NewCoreEngine(cfg *config.Config, host audio.Host, catPort io.ReadWriteCloser, catDevice string, events *storage.EventLog) *CoreEngine {
	relay := audio.NewRelay(host, audio.RelayConfig{
		CaptureDevice:  cfg.Audio.InputDevice,
		PlaybackDevice: cfg.Audio.OutputDevice,
		SampleRate:     cfg.Audio.SampleRate,
		Channels:       cfg.Audio.Channels,
		FramesPerBlock: cfg.Audio.FramesPerBlock,
		RingCapacity:   cfg.Audio.RingCapacity,
		MeterAttack:    cfg.Audio.MeterAttack,
		MeterDecay:     cfg.Audio.MeterDecay,
	})

	e := &CoreEngine{
		config:     cfg,
		socketPath: cfg.API.UnixSocket,
		startTime:  time.Now(),
		relay:      relay,
		catPort:    catPort,
		catDevice:  catDevice,
		events:     events,
		ctrl:       make(chan func(), 16),
		serialRx:   make(chan []byte, 16),
		done:       make(chan struct{}),
	}

	var sender tuner.CommandSender
	if catPort != nil {
		e.link = cat.NewLink(catPort,
			time.Duration(cfg.CAT.TimeoutMs)*time.Millisecond,
			cfg.CAT.Retries,
			func(err error) { e.queueError("cat", err) })
		sender = e.link
	} else {
		sender = noRadio{}
	}

	e.tun = tuner.NewTuner(sender,
		cfg.Tuner.MinFrequency, cfg.Tuner.MaxFrequency, cfg.Tuner.InitialFrequency,
		func(err error) { e.queueError("cat", err) })

	return e
}

// noRadio stands in for the CAT link when no serial port is configured.
type noRadio struct{}

func (noRadio) Send(cat.Command, cat.Completion) error {
	return fmt.Errorf("no CAT port configured")
}

// Start brings up the relay, the control loop, the serial reader and the
// Unix socket server.
func (e *CoreEngine) Start() error {
	e.mutex.Lock()
	e.running = true
	e.mutex.Unlock()

	if err := e.relay.Start(); err != nil {
		return fmt.Errorf("failed to start audio relay: %w", err)
	}

	os.Remove(e.socketPath)

	listener, err := net.Listen("unix", e.socketPath)
	if err != nil {
		e.relay.Stop()
		return fmt.Errorf("failed to create Unix socket: %w", err)
	}
	e.listener = listener

	if err := os.Chmod(e.socketPath, 0660); err != nil {
		logging.Warnf("engine", "Failed to set socket permissions: %v", err)
	}

	logging.Infof("engine", "Listening on %s", e.socketPath)
	e.logSession("session started")

	e.wg.Add(1)
	go e.controlLoop()

	if e.catPort != nil {
		e.wg.Add(1)
		go e.readSerial()

		// Query the radio so the display starts from its real VFO.
		e.submit(func() {
			if err := e.tun.SyncFromRadio(); err != nil {
				e.queueError("cat", err)
			}
		})
	}

	go e.acceptConnections()

	return nil
}

// Stop tears the session down.
func (e *CoreEngine) Stop() error {
	e.mutex.Lock()
	if !e.running {
		e.mutex.Unlock()
		return nil
	}
	e.running = false
	e.mutex.Unlock()

	close(e.done)

	if e.listener != nil {
		e.listener.Close()
	}
	if e.catPort != nil {
		e.catPort.Close()
	}

	e.wg.Wait()

	e.relay.Stop()
	e.logSession("session stopped")
	os.Remove(e.socketPath)

	return nil
}

func (e *CoreEngine) isRunning() bool {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.running
}

// controlLoop is the single goroutine that owns the CAT link and tuner.
// It interleaves facade tasks, incoming serial bytes, and the timeout tick.
func (e *CoreEngine) controlLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(time.Duration(e.config.CAT.TickMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-e.done:
			return

		case fn := <-e.ctrl:
			fn()

		case data := <-e.serialRx:
			e.link.OnBytesReceived(data)

		case now := <-ticker.C:
			if e.link != nil {
				e.link.Tick(now)
			}
			if err := e.relay.PollError(); err != nil {
				e.queueError("audio", err)
			}
		}
	}
}

// readSerial pumps bytes from the CAT port into the control loop. Read
// returns with an error once Stop closes the port.
func (e *CoreEngine) readSerial() {
	defer e.wg.Done()

	buf := make([]byte, 64)
	for {
		n, err := e.catPort.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case e.serialRx <- data:
			case <-e.done:
				return
			}
		}
		if err != nil {
			select {
			case <-e.done:
			default:
				e.queueError("cat", fmt.Errorf("serial read failed: %w", err))
			}
			return
		}
	}
}

// submit queues fn onto the control goroutine without waiting.
func (e *CoreEngine) submit(fn func()) {
	select {
	case e.ctrl <- fn:
	case <-e.done:
	}
}

// call runs fn on the control goroutine and waits for its result.
func (e *CoreEngine) call(fn func() error) error {
	reply := make(chan error, 1)
	select {
	case e.ctrl <- func() { reply <- fn() }:
	case <-e.done:
		return fmt.Errorf("engine stopped")
	}
	select {
	case err := <-reply:
		return err
	case <-e.done:
		return fmt.Errorf("engine stopped")
	}
}

// queueError records a failure for later PollErrors retrieval. The queue
// is bounded; the oldest entries fall off first.
func (e *CoreEngine) queueError(source string, err error) {
	logging.Warnf("engine", "%s: %v", source, err)

	e.errMutex.Lock()
	e.errQueue = append(e.errQueue, protocol.ErrorEvent{
		Timestamp: time.Now(),
		Source:    source,
		Message:   err.Error(),
	})
	if len(e.errQueue) > maxQueuedErrors {
		e.errQueue = e.errQueue[len(e.errQueue)-maxQueuedErrors:]
	}
	e.errMutex.Unlock()

	if e.events != nil {
		kind := storage.EventCatError
		if source == "audio" {
			kind = storage.EventAudioError
		}
		if logErr := e.events.LogEvent(kind, err.Error(), 0); logErr != nil {
			logging.Warnf("engine", "Failed to log event: %v", logErr)
		}
	}
}

func (e *CoreEngine) logSession(detail string) {
	if e.events == nil {
		return
	}
	if err := e.events.LogEvent(storage.EventSession, detail, 0); err != nil {
		logging.Warnf("engine", "Failed to log event: %v", err)
	}
}

func (e *CoreEngine) logTune(kind, detail string, hz int64) {
	if e.events == nil {
		return
	}
	if err := e.events.LogEvent(kind, detail, hz); err != nil {
		logging.Warnf("engine", "Failed to log event: %v", err)
	}
}

// SetGain sets the playback gain, clamped to 0..1. Gain is an atomic on
// the relay, so no control-goroutine round trip is needed.
func (e *CoreEngine) SetGain(gain float32) {
	e.relay.SetGain(gain)
}

// Gain returns the current playback gain.
func (e *CoreEngine) Gain() float32 {
	return e.relay.Gain()
}

// SetMute mutes or unmutes playback.
func (e *CoreEngine) SetMute(mute bool) {
	e.relay.SetMute(mute)
}

// Muted reports the mute state.
func (e *CoreEngine) Muted() bool {
	return e.relay.Muted()
}

// RequestFrequency tunes the radio to hz.
func (e *CoreEngine) RequestFrequency(hz int64) error {
	err := e.call(func() error { return e.tun.RequestFrequency(hz) })
	if err == nil {
		e.logTune(storage.EventTune, fmt.Sprintf("set %d Hz", hz), hz)
	}
	return err
}

// AdjustDigit bumps one decimal digit of the displayed frequency.
func (e *CoreEngine) AdjustDigit(position, delta int) error {
	err := e.call(func() error { return e.tun.AdjustDigit(position, delta) })
	if err == nil {
		e.logTune(storage.EventTune, fmt.Sprintf("digit %d delta %+d", position, delta), e.PollDisplayed())
	}
	return err
}

// SelectPreset tunes to a band's preset frequency.
func (e *CoreEngine) SelectPreset(band int) error {
	err := e.call(func() error { return e.tun.SelectPreset(band) })
	if err == nil {
		hz, _ := tuner.BandFrequency(band)
		e.logTune(storage.EventBandSelect, fmt.Sprintf("band %dm", band), hz)
	}
	return err
}

// PollMeter returns the most recent signal meter reading.
func (e *CoreEngine) PollMeter() audio.MeterReading {
	return e.relay.Meter()
}

// PollFrequency returns (displayed, confirmed).
func (e *CoreEngine) PollFrequency() (int64, int64) {
	var displayed, confirmed int64
	e.call(func() error {
		displayed, confirmed = e.tun.Frequencies()
		return nil
	})
	return displayed, confirmed
}

// PollDisplayed returns the displayed frequency.
func (e *CoreEngine) PollDisplayed() int64 {
	displayed, _ := e.PollFrequency()
	return displayed
}

// PollErrors drains and returns the pending error events.
func (e *CoreEngine) PollErrors() []protocol.ErrorEvent {
	e.errMutex.Lock()
	defer e.errMutex.Unlock()

	drained := e.errQueue
	e.errQueue = nil
	return drained
}

// Status assembles the daemon status snapshot.
func (e *CoreEngine) Status() protocol.Status {
	displayed, confirmed := e.PollFrequency()
	return protocol.Status{
		Displayed: displayed,
		Confirmed: confirmed,
		Gain:      e.relay.Gain(),
		Muted:     e.relay.Muted(),
		Running:   e.isRunning(),
		CatDevice: e.catDevice,
		Dropped:   e.relay.DroppedFrames(),
		Uptime:    time.Since(e.startTime).String(),
		StartTime: e.startTime,
		Version:   Version,
	}
}

// RecentEvents returns the newest session log events.
func (e *CoreEngine) RecentEvents(limit int) ([]storage.Event, error) {
	if e.events == nil {
		return nil, nil
	}
	return e.events.RecentEvents(limit)
}

// EventsByKind returns the newest session log events of one kind.
func (e *CoreEngine) EventsByKind(kind string, limit int) ([]storage.Event, error) {
	if e.events == nil {
		return nil, nil
	}
	return e.events.EventsByKind(kind, limit)
}

// acceptConnections accepts and handles socket connections
func (e *CoreEngine) acceptConnections() {
	for e.isRunning() {
		conn, err := e.listener.Accept()
		if err != nil {
			if e.isRunning() {
				logging.Warnf("engine", "Socket accept error: %v", err)
			}
			continue
		}

		go e.handleConnection(conn)
	}
}

// handleConnection handles a single socket connection
func (e *CoreEngine) handleConnection(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		cmd, err := protocol.ParseCommand(line)
		if err != nil {
			response := protocol.NewErrorResponse(fmt.Sprintf("parse error: %v", err))
			conn.Write([]byte(response.String() + "\n"))
			continue
		}

		response := e.handleCommand(cmd)
		conn.Write([]byte(response.String() + "\n"))

		if cmd.Type == protocol.CmdQuit {
			break
		}
	}
}

// handleCommand processes a single command
func (e *CoreEngine) handleCommand(cmd *protocol.Command) *protocol.Response {
	switch cmd.Type {
	case protocol.CmdStatus:
		return protocol.NewSuccessResponse(map[string]interface{}{
			"status": e.Status(),
		})

	case protocol.CmdFrequency:
		return e.handleFrequency(cmd)

	case protocol.CmdDigit:
		return e.handleDigit(cmd)

	case protocol.CmdBand:
		return e.handleBand(cmd)

	case protocol.CmdGain:
		return e.handleGain(cmd)

	case protocol.CmdMute:
		return e.handleMute(cmd)

	case protocol.CmdMeter:
		return protocol.NewSuccessResponse(map[string]interface{}{
			"meter": e.PollMeter(),
		})

	case protocol.CmdErrors:
		drained := e.PollErrors()
		return protocol.NewSuccessResponse(map[string]interface{}{
			"errors": drained,
			"count":  len(drained),
		})

	case protocol.CmdEvents:
		return e.handleEvents(cmd)

	case protocol.CmdPing:
		return protocol.NewSuccessResponse(map[string]interface{}{
			"pong": time.Now().Unix(),
		})

	case protocol.CmdQuit:
		return protocol.NewSuccessResponse(map[string]interface{}{
			"message": "goodbye",
		})

	default:
		return protocol.NewErrorResponse(fmt.Sprintf("unknown command: %s", cmd.Type))
	}
}

func (e *CoreEngine) handleFrequency(cmd *protocol.Command) *protocol.Response {
	freqStr, _ := cmd.Args["frequency"].(string)
	hz, err := strconv.ParseInt(freqStr, 10, 64)
	if err != nil {
		return protocol.NewErrorResponse(fmt.Sprintf("invalid frequency: %q", freqStr))
	}

	if err := e.RequestFrequency(hz); err != nil {
		return protocol.NewErrorResponse(err.Error())
	}

	return protocol.NewSuccessResponse(map[string]interface{}{
		"displayed": e.PollDisplayed(),
	})
}

func (e *CoreEngine) handleDigit(cmd *protocol.Command) *protocol.Response {
	posStr, _ := cmd.Args["position"].(string)
	deltaStr, _ := cmd.Args["delta"].(string)

	position, err := strconv.Atoi(posStr)
	if err != nil {
		return protocol.NewErrorResponse(fmt.Sprintf("invalid position: %q", posStr))
	}
	delta, err := strconv.Atoi(deltaStr)
	if err != nil {
		return protocol.NewErrorResponse(fmt.Sprintf("invalid delta: %q", deltaStr))
	}

	if err := e.AdjustDigit(position, delta); err != nil {
		return protocol.NewErrorResponse(err.Error())
	}

	return protocol.NewSuccessResponse(map[string]interface{}{
		"displayed": e.PollDisplayed(),
	})
}

func (e *CoreEngine) handleBand(cmd *protocol.Command) *protocol.Response {
	bandStr, _ := cmd.Args["band"].(string)
	band, err := strconv.Atoi(bandStr)
	if err != nil {
		return protocol.NewErrorResponse(fmt.Sprintf("invalid band: %q", bandStr))
	}

	if err := e.SelectPreset(band); err != nil {
		return protocol.NewErrorResponse(err.Error())
	}

	return protocol.NewSuccessResponse(map[string]interface{}{
		"displayed": e.PollDisplayed(),
	})
}

func (e *CoreEngine) handleGain(cmd *protocol.Command) *protocol.Response {
	gainStr, _ := cmd.Args["gain"].(string)
	gain, err := strconv.ParseFloat(gainStr, 32)
	if err != nil || gain < 0 || gain > 1 {
		return protocol.NewErrorResponse(fmt.Sprintf("invalid gain: %q (want 0.0..1.0)", gainStr))
	}

	e.SetGain(float32(gain))
	return protocol.NewSuccessResponse(map[string]interface{}{
		"gain": e.Gain(),
	})
}

func (e *CoreEngine) handleMute(cmd *protocol.Command) *protocol.Response {
	muteStr, _ := cmd.Args["mute"].(string)
	switch muteStr {
	case "on", "true", "1":
		e.SetMute(true)
	case "off", "false", "0":
		e.SetMute(false)
	default:
		return protocol.NewErrorResponse(fmt.Sprintf("invalid mute argument: %q (want on/off)", muteStr))
	}

	return protocol.NewSuccessResponse(map[string]interface{}{
		"muted": e.Muted(),
	})
}

func (e *CoreEngine) handleEvents(cmd *protocol.Command) *protocol.Response {
	if e.events == nil {
		return protocol.NewErrorResponse("event log disabled")
	}

	limit := 50
	if limitStr, ok := cmd.Args["limit"].(string); ok && limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil {
			return protocol.NewErrorResponse(fmt.Sprintf("invalid limit: %q", limitStr))
		}
		limit = parsed
	}

	var (
		events []storage.Event
		err    error
	)
	if kind, ok := cmd.Args["kind"].(string); ok && kind != "" {
		events, err = e.EventsByKind(kind, limit)
	} else {
		events, err = e.RecentEvents(limit)
	}
	if err != nil {
		return protocol.NewErrorResponse(err.Error())
	}

	return protocol.NewSuccessResponse(map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}
