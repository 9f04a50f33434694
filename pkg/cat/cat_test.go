package cat

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

type linkHarness struct {
	wire   *bytes.Buffer
	link   *Link
	events []error

	resp     Response
	err      error
	resolved int
}

func newLinkHarness(t *testing.T, timeout time.Duration, retries int) *linkHarness {
	t.Helper()
	h := &linkHarness{wire: &bytes.Buffer{}}
	h.link = NewLink(h.wire, timeout, retries, func(err error) {
		h.events = append(h.events, err)
	})
	return h
}

func (h *linkHarness) complete(resp Response, err error) {
	h.resp = resp
	h.err = err
	h.resolved++
}

func TestCommandFraming(t *testing.T) {
	t.Run("Set Frequency", func(t *testing.T) {
		got := SetFrequency(14074000).Frame()
		if got != "FA00014074000;" {
			t.Errorf("Expected FA00014074000; got %q", got)
		}
	})

	t.Run("Read Frequency", func(t *testing.T) {
		got := ReadFrequency().Frame()
		if got != "FA;" {
			t.Errorf("Expected FA; got %q", got)
		}
	})

	t.Run("Decode Frequency", func(t *testing.T) {
		resp := Response{Mnemonic: "FA", Param: "00007074000", Raw: "FA00007074000;"}
		hz, err := resp.Frequency()
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if hz != 7074000 {
			t.Errorf("Expected 7074000, got %d", hz)
		}
	})

	t.Run("Decode Wrong Width", func(t *testing.T) {
		resp := Response{Mnemonic: "FA", Param: "1234", Raw: "FA1234;"}
		if _, err := resp.Frequency(); err == nil {
			t.Error("Expected error for short parameter")
		}
	})
}

func TestSendRoundTrip(t *testing.T) {
	h := newLinkHarness(t, 500*time.Millisecond, 3)

	if err := h.link.Send(SetFrequency(7074000), h.complete); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if h.wire.String() != "FA00007074000;" {
		t.Errorf("Wire got %q", h.wire.String())
	}
	if h.link.State() != StateAwaitingResponse {
		t.Errorf("Expected AwaitingResponse, got %v", h.link.State())
	}

	h.link.OnBytesReceived([]byte("FA00007074000;"))

	if h.resolved != 1 {
		t.Fatalf("Expected 1 resolution, got %d", h.resolved)
	}
	if h.err != nil {
		t.Errorf("Unexpected error: %v", h.err)
	}
	hz, _ := h.resp.Frequency()
	if hz != 7074000 {
		t.Errorf("Expected 7074000, got %d", hz)
	}
	if h.link.State() != StateIdle {
		t.Errorf("Expected Idle after resolution, got %v", h.link.State())
	}
}

func TestSendWhileBusy(t *testing.T) {
	h := newLinkHarness(t, 500*time.Millisecond, 3)

	if err := h.link.Send(ReadFrequency(), h.complete); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	err := h.link.Send(SetFrequency(14074000), h.complete)
	if !errors.Is(err, ErrBusy) {
		t.Errorf("Expected ErrBusy, got %v", err)
	}
	// The rejected send must not touch the wire.
	if h.wire.String() != "FA;" {
		t.Errorf("Wire got %q", h.wire.String())
	}
}

func TestPartialFrames(t *testing.T) {
	h := newLinkHarness(t, 500*time.Millisecond, 3)

	if err := h.link.Send(ReadFrequency(), h.complete); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	h.link.OnBytesReceived([]byte("FA000"))
	h.link.OnBytesReceived([]byte("14074"))
	if h.resolved != 0 {
		t.Fatal("Resolved before frame complete")
	}
	h.link.OnBytesReceived([]byte("000;"))
	if h.resolved != 1 {
		t.Fatalf("Expected 1 resolution, got %d", h.resolved)
	}
	hz, _ := h.resp.Frequency()
	if hz != 14074000 {
		t.Errorf("Expected 14074000, got %d", hz)
	}
}

func TestMalformedFrame(t *testing.T) {
	t.Run("Garbage", func(t *testing.T) {
		h := newLinkHarness(t, 500*time.Millisecond, 3)
		if err := h.link.Send(ReadFrequency(), h.complete); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
		h.link.OnBytesReceived([]byte("F@xx;"))

		var perr *ProtocolError
		if !errors.As(h.err, &perr) {
			t.Fatalf("Expected ProtocolError, got %v", h.err)
		}
		if h.link.State() != StateIdle {
			t.Errorf("Expected Idle after protocol error, got %v", h.link.State())
		}
		// No automatic retry after a protocol error.
		h.link.Tick(time.Now().Add(time.Hour))
		if h.wire.String() != "FA;" {
			t.Errorf("Unexpected resend: wire %q", h.wire.String())
		}
	})

	t.Run("Mismatched Mnemonic", func(t *testing.T) {
		h := newLinkHarness(t, 500*time.Millisecond, 3)
		if err := h.link.Send(ReadFrequency(), h.complete); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
		h.link.OnBytesReceived([]byte("ID020;"))

		var perr *ProtocolError
		if !errors.As(h.err, &perr) {
			t.Fatalf("Expected ProtocolError, got %v", h.err)
		}
	})

	t.Run("Runaway Frame", func(t *testing.T) {
		h := newLinkHarness(t, 500*time.Millisecond, 3)
		if err := h.link.Send(ReadFrequency(), h.complete); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
		h.link.OnBytesReceived(bytes.Repeat([]byte("0"), 200))

		var perr *ProtocolError
		if !errors.As(h.err, &perr) {
			t.Fatalf("Expected ProtocolError, got %v", h.err)
		}
	})
}

func TestTimeoutAndRetry(t *testing.T) {
	h := newLinkHarness(t, 100*time.Millisecond, 2)
	start := time.Now()

	if err := h.link.Send(SetFrequency(7074000), h.complete); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	// First deadline expires: TimedOut, one timeout event, no wire traffic yet.
	h.link.Tick(start.Add(150 * time.Millisecond))
	if h.link.State() != StateTimedOut {
		t.Fatalf("Expected TimedOut, got %v", h.link.State())
	}
	if len(h.events) != 1 || !errors.Is(h.events[0], ErrTimeout) {
		t.Fatalf("Expected 1 timeout event, got %v", h.events)
	}
	if h.wire.String() != "FA00007074000;" {
		t.Errorf("Resend before next tick: wire %q", h.wire.String())
	}

	// Next tick re-sends.
	h.link.Tick(start.Add(200 * time.Millisecond))
	if h.link.State() != StateAwaitingResponse {
		t.Fatalf("Expected AwaitingResponse after resend, got %v", h.link.State())
	}
	if h.wire.String() != "FA00007074000;FA00007074000;" {
		t.Errorf("Expected resend on wire, got %q", h.wire.String())
	}

	// The resend succeeds.
	h.link.OnBytesReceived([]byte("FA00007074000;"))
	if h.resolved != 1 || h.err != nil {
		t.Fatalf("Expected clean resolution, got count=%d err=%v", h.resolved, h.err)
	}
}

func TestRetryBudgetExhausted(t *testing.T) {
	h := newLinkHarness(t, 100*time.Millisecond, 2)
	now := time.Now()

	if err := h.link.Send(ReadFrequency(), h.complete); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	// Initial send plus two resends, each attempt timing out.
	for i := 0; i < 3; i++ {
		now = now.Add(150 * time.Millisecond)
		h.link.Tick(now) // deadline expires
		now = now.Add(50 * time.Millisecond)
		h.link.Tick(now) // resend, or link lost on the final pass
	}

	if h.resolved != 1 {
		t.Fatalf("Expected 1 resolution, got %d", h.resolved)
	}
	if !errors.Is(h.err, ErrLinkLost) {
		t.Errorf("Expected ErrLinkLost, got %v", h.err)
	}
	if h.link.State() != StateIdle {
		t.Errorf("Expected Idle, got %v", h.link.State())
	}
	// Initial attempt + 2 retries on the wire, no more.
	if h.wire.String() != "FA;FA;FA;" {
		t.Errorf("Wire got %q", h.wire.String())
	}
}

func TestLateResponseIgnored(t *testing.T) {
	h := newLinkHarness(t, 100*time.Millisecond, 2)
	start := time.Now()

	if err := h.link.Send(SetFrequency(7074000), h.complete); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	h.link.Tick(start.Add(150 * time.Millisecond))
	if h.link.State() != StateTimedOut {
		t.Fatalf("Expected TimedOut, got %v", h.link.State())
	}

	// The stale reply lands after the deadline: discarded, not resolved.
	h.link.OnBytesReceived([]byte("FA00007074000;"))
	if h.resolved != 0 {
		t.Fatalf("Stale response resolved the request: count=%d", h.resolved)
	}

	// The resend's own reply resolves it exactly once.
	h.link.Tick(start.Add(200 * time.Millisecond))
	h.link.OnBytesReceived([]byte("FA00007074000;"))
	if h.resolved != 1 {
		t.Fatalf("Expected exactly 1 resolution, got %d", h.resolved)
	}
	if h.err != nil {
		t.Errorf("Unexpected error: %v", h.err)
	}
}

func TestUnsolicitedFrame(t *testing.T) {
	h := newLinkHarness(t, 500*time.Millisecond, 3)

	h.link.OnBytesReceived([]byte("FA00014074000;"))

	if h.resolved != 0 {
		t.Fatal("Unsolicited frame resolved a request")
	}
	if len(h.events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(h.events))
	}
	var perr *ProtocolError
	if !errors.As(h.events[0], &perr) {
		t.Errorf("Expected ProtocolError event, got %v", h.events[0])
	}
	if h.link.State() != StateIdle {
		t.Errorf("Expected Idle, got %v", h.link.State())
	}
}
