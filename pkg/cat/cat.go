package cat

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"time"

	"github.com/devzendo/qdx-receiver/pkg/logging"
	"github.com/devzendo/qdx-receiver/pkg/verbose"
)

// The QDX speaks a Kenwood TS-480 style CAT protocol: two uppercase letters,
// optional parameter digits, a ';' terminator. "FA00014074000;" sets VFO A
// to 14.074 MHz; "FA;" asks for it.
const (
	// Delimiter terminates every command and response frame.
	Delimiter = ';'

	// FrequencyDigits is the fixed width of a frequency parameter.
	FrequencyDigits = 11

	// maxFrameBytes bounds the partial-frame accumulator; no QDX response
	// is anywhere near this long.
	maxFrameBytes = 64
)

// Link errors. ErrTimeout is reported per attempt through the event hook;
// ErrLinkLost is the terminal outcome once the retry budget is spent.
var (
	ErrBusy     = errors.New("cat: command already in flight")
	ErrTimeout  = errors.New("cat: no response before deadline")
	ErrLinkLost = errors.New("cat: link lost, retry budget exhausted")
)

// ProtocolError reports a frame that could not be parsed, or one that
// arrived when nothing was expected. The link does not retry after one:
// the radio may still be acting on the command it garbled the answer to.
type ProtocolError struct {
	Frame  string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("cat: protocol error: %s (frame %q)", e.Reason, e.Frame)
}

// State is the link's half-duplex request/response state.
type State int

const (
	StateIdle State = iota
	StateAwaitingResponse
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateAwaitingResponse:
		return "AwaitingResponse"
	case StateTimedOut:
		return "TimedOut"
	default:
		return "Unknown"
	}
}

// Command is one outgoing CAT request.
type Command struct {
	Mnemonic string
	Param    string
}

// Frame renders the command in wire form.
func (c Command) Frame() string {
	return c.Mnemonic + c.Param + string(Delimiter)
}

// SetFrequency builds the VFO A set command.
func SetFrequency(hz int64) Command {
	return Command{Mnemonic: "FA", Param: fmt.Sprintf("%0*d", FrequencyDigits, hz)}
}

// ReadFrequency builds the VFO A query command.
func ReadFrequency() Command {
	return Command{Mnemonic: "FA", Param: ""}
}

// Response is one decoded CAT response frame.
type Response struct {
	Mnemonic string
	Param    string
	Raw      string
}

// Frequency decodes an 11-digit frequency parameter.
func (r Response) Frequency() (int64, error) {
	if len(r.Param) != FrequencyDigits {
		return 0, &ProtocolError{Frame: r.Raw, Reason: fmt.Sprintf("expected %d frequency digits, got %d", FrequencyDigits, len(r.Param))}
	}
	var hz int64
	for _, d := range r.Param {
		hz = hz*10 + int64(d-'0')
	}
	return hz, nil
}

// Completion receives the terminal outcome of one logical request, exactly
// once, on the control goroutine.
type Completion func(Response, error)

var frameRegex = regexp.MustCompile(`^([A-Z]{2})([0-9]*);$`)

type pendingRequest struct {
	cmd      Command
	sentAt   time.Time
	attempts int // sends so far, including the first
	complete Completion
	resolved bool
}

// Link drives the serial CAT exchange as an explicit state machine. Only
// one command may be in flight (the protocol is half-duplex); bytes are
// delivered by the owner's control goroutine via OnBytesReceived, and Tick
// must be called on a regular schedule so timeouts fire even when the
// radio goes quiet.
//
// Link is not goroutine safe: it is owned by a single control goroutine.
type Link struct {
	w       io.Writer
	timeout time.Duration
	retries int

	state   State
	acc     []byte
	pending *pendingRequest

	// onEvent receives non-terminal trouble: per-attempt timeouts and
	// unsolicited or garbled frames seen while idle.
	onEvent func(error)
}

// NewLink creates a link writing frames to w. retries is the number of
// re-sends after the initial attempt; onEvent may be nil.
func NewLink(w io.Writer, timeout time.Duration, retries int, onEvent func(error)) *Link {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	if retries < 0 {
		retries = 0
	}
	if onEvent == nil {
		onEvent = func(error) {}
	}
	return &Link{
		w:       w,
		timeout: timeout,
		retries: retries,
		state:   StateIdle,
		onEvent: onEvent,
	}
}

// State returns the current link state.
func (l *Link) State() State {
	return l.state
}

// Busy reports whether a command is in flight.
func (l *Link) Busy() bool {
	return l.state != StateIdle
}

// Send frames and writes the command, arming the response deadline.
// Returns ErrBusy while a previous command is unresolved.
func (l *Link) Send(cmd Command, complete Completion) error {
	if l.state != StateIdle {
		return ErrBusy
	}
	frame := cmd.Frame()
	verbose.Printf("CAT send %q", frame)
	if _, err := io.WriteString(l.w, frame); err != nil {
		return fmt.Errorf("cat: write failed: %w", err)
	}
	l.pending = &pendingRequest{
		cmd:      cmd,
		sentAt:   time.Now(),
		attempts: 1,
		complete: complete,
	}
	l.acc = l.acc[:0]
	l.state = StateAwaitingResponse
	return nil
}

// OnBytesReceived appends serial bytes to the partial-frame accumulator and
// processes any completed frames. Bytes arriving after a timeout are stale
// replies to an attempt the link has already given up on, and are dropped.
func (l *Link) OnBytesReceived(data []byte) {
	if l.state == StateTimedOut {
		verbose.Printf("CAT dropping %d stale bytes", len(data))
		return
	}
	for _, b := range data {
		l.acc = append(l.acc, b)
		if b == Delimiter {
			frame := string(l.acc)
			l.acc = l.acc[:0]
			l.handleFrame(frame)
			if l.state == StateTimedOut {
				return
			}
			continue
		}
		if len(l.acc) > maxFrameBytes {
			overrun := &ProtocolError{Frame: string(l.acc[:16]) + "...", Reason: "no delimiter within frame limit"}
			l.acc = l.acc[:0]
			l.fail(overrun)
			return
		}
	}
}

func (l *Link) handleFrame(frame string) {
	verbose.Printf("CAT recv %q", frame)

	m := frameRegex.FindStringSubmatch(frame)
	if m == nil {
		l.fail(&ProtocolError{Frame: frame, Reason: "malformed frame"})
		return
	}
	resp := Response{Mnemonic: m[1], Param: m[2], Raw: frame}

	if l.state != StateAwaitingResponse {
		// Nothing asked for this. Surface it, stay Idle.
		l.onEvent(&ProtocolError{Frame: frame, Reason: "unsolicited frame"})
		return
	}
	if resp.Mnemonic != l.pending.cmd.Mnemonic {
		l.fail(&ProtocolError{Frame: frame, Reason: fmt.Sprintf("response %s does not match request %s", resp.Mnemonic, l.pending.cmd.Mnemonic)})
		return
	}
	l.resolve(resp, nil)
}

// fail resolves the pending request with a protocol error, or reports the
// error as an event when nothing is in flight. No automatic retry: the
// radio may have acted on the request whose answer was garbled.
func (l *Link) fail(err error) {
	if l.state == StateAwaitingResponse {
		l.resolve(Response{}, err)
	} else {
		l.onEvent(err)
	}
}

// resolve delivers the terminal outcome of the in-flight request and
// returns the link to Idle. A resolved request can never resolve again.
func (l *Link) resolve(resp Response, err error) {
	p := l.pending
	l.pending = nil
	l.state = StateIdle
	if p == nil || p.resolved {
		return
	}
	p.resolved = true
	if p.complete != nil {
		p.complete(resp, err)
	}
}

// Tick advances the timeout machinery. On deadline expiry the link moves to
// TimedOut, discarding stale input; the following tick either re-sends the
// same command (within the retry budget) or resolves the request with
// ErrLinkLost, leaving any further recovery to the caller.
func (l *Link) Tick(now time.Time) {
	switch l.state {
	case StateAwaitingResponse:
		if now.Sub(l.pending.sentAt) <= l.timeout {
			return
		}
		if l.pending.attempts > l.retries {
			logging.Warnf("cat", "No response after %d attempts, link lost", l.pending.attempts)
			l.resolve(Response{}, ErrLinkLost)
			return
		}
		logging.Debugf("cat", "Attempt %d timed out for %q", l.pending.attempts, l.pending.cmd.Frame())
		l.onEvent(fmt.Errorf("%w (attempt %d of %d)", ErrTimeout, l.pending.attempts, l.retries+1))
		l.acc = l.acc[:0]
		l.state = StateTimedOut

	case StateTimedOut:
		frame := l.pending.cmd.Frame()
		verbose.Printf("CAT resend %q", frame)
		if _, err := io.WriteString(l.w, frame); err != nil {
			l.resolve(Response{}, fmt.Errorf("cat: resend failed: %w", err))
			return
		}
		l.pending.sentAt = now
		l.pending.attempts++
		l.state = StateAwaitingResponse
	}
}
