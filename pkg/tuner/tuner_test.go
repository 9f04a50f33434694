package tuner

import (
	"errors"
	"testing"

	"github.com/devzendo/qdx-receiver/pkg/cat"
)

// fakeSender records sent commands and lets the test resolve them.
type fakeSender struct {
	sent     []cat.Command
	complete cat.Completion
	sendErr  error
}

func (f *fakeSender) Send(cmd cat.Command, complete cat.Completion) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, cmd)
	f.complete = complete
	return nil
}

func (f *fakeSender) confirm(hz int64) {
	f.complete(cat.Response{
		Mnemonic: "FA",
		Param:    cat.SetFrequency(hz).Param,
		Raw:      cat.SetFrequency(hz).Frame(),
	}, nil)
}

func newTestTuner(t *testing.T) (*Tuner, *fakeSender, *[]error) {
	t.Helper()
	sender := &fakeSender{}
	var errs []error
	tn := NewTuner(sender, 100000, 99999999, 14074000, func(err error) {
		errs = append(errs, err)
	})
	return tn, sender, &errs
}

func TestRequestFrequency(t *testing.T) {
	t.Run("Optimistic Display", func(t *testing.T) {
		tn, sender, _ := newTestTuner(t)

		if err := tn.RequestFrequency(7074000); err != nil {
			t.Fatalf("RequestFrequency failed: %v", err)
		}
		if tn.Displayed() != 7074000 {
			t.Errorf("Expected displayed 7074000, got %d", tn.Displayed())
		}
		if tn.Confirmed() != 14074000 {
			t.Errorf("Confirmed changed before response: %d", tn.Confirmed())
		}
		if len(sender.sent) != 1 || sender.sent[0].Frame() != "FA00007074000;" {
			t.Errorf("Unexpected wire traffic: %v", sender.sent)
		}
	})

	t.Run("Confirmation", func(t *testing.T) {
		tn, sender, errs := newTestTuner(t)

		if err := tn.RequestFrequency(7074000); err != nil {
			t.Fatalf("RequestFrequency failed: %v", err)
		}
		sender.confirm(7074000)

		if tn.Confirmed() != 7074000 || tn.Displayed() != 7074000 {
			t.Errorf("Expected 7074000/7074000, got %d/%d", tn.Displayed(), tn.Confirmed())
		}
		if len(*errs) != 0 {
			t.Errorf("Unexpected errors: %v", *errs)
		}
	})

	t.Run("Out Of Range", func(t *testing.T) {
		tn, sender, _ := newTestTuner(t)

		err := tn.RequestFrequency(150000000)
		var rerr *RangeError
		if !errors.As(err, &rerr) {
			t.Fatalf("Expected RangeError, got %v", err)
		}
		if len(sender.sent) != 0 {
			t.Error("Rejected request reached the wire")
		}
		if tn.Displayed() != 14074000 {
			t.Errorf("Display changed on rejected request: %d", tn.Displayed())
		}
	})

	t.Run("Revert On Failure", func(t *testing.T) {
		tn, sender, errs := newTestTuner(t)

		if err := tn.RequestFrequency(7074000); err != nil {
			t.Fatalf("RequestFrequency failed: %v", err)
		}
		sender.complete(cat.Response{}, cat.ErrLinkLost)

		if tn.Displayed() != 14074000 {
			t.Errorf("Expected display reverted to 14074000, got %d", tn.Displayed())
		}
		if len(*errs) != 1 || !errors.Is((*errs)[0], cat.ErrLinkLost) {
			t.Errorf("Expected ErrLinkLost surfaced, got %v", *errs)
		}
	})

	t.Run("Busy Link", func(t *testing.T) {
		tn, sender, _ := newTestTuner(t)
		sender.sendErr = cat.ErrBusy

		err := tn.RequestFrequency(7074000)
		if !errors.Is(err, cat.ErrBusy) {
			t.Fatalf("Expected ErrBusy, got %v", err)
		}
		if tn.Displayed() != 14074000 {
			t.Errorf("Display changed on busy link: %d", tn.Displayed())
		}
	})
}

func TestAdjustDigit(t *testing.T) {
	t.Run("Kilohertz Up", func(t *testing.T) {
		tn, sender, _ := newTestTuner(t)

		if err := tn.AdjustDigit(3, 1); err != nil {
			t.Fatalf("AdjustDigit failed: %v", err)
		}
		if tn.Displayed() != 14075000 {
			t.Errorf("Expected 14075000, got %d", tn.Displayed())
		}
		if sender.sent[0].Frame() != "FA00014075000;" {
			t.Errorf("Unexpected frame %q", sender.sent[0].Frame())
		}
	})

	t.Run("Units Up", func(t *testing.T) {
		tn, _, _ := newTestTuner(t)

		if err := tn.AdjustDigit(0, 1); err != nil {
			t.Fatalf("AdjustDigit failed: %v", err)
		}
		if tn.Displayed() != 14074001 {
			t.Errorf("Expected 14074001, got %d", tn.Displayed())
		}
	})

	t.Run("Saturates At Maximum", func(t *testing.T) {
		tn, sender, _ := newTestTuner(t)

		if err := tn.RequestFrequency(99999999); err != nil {
			t.Fatalf("RequestFrequency failed: %v", err)
		}
		sender.confirm(99999999)

		// Already at the bound: no wrap, no error, no wire traffic.
		before := len(sender.sent)
		if err := tn.AdjustDigit(6, 1); err != nil {
			t.Fatalf("AdjustDigit at bound failed: %v", err)
		}
		if tn.Displayed() != 99999999 {
			t.Errorf("Expected saturation at 99999999, got %d", tn.Displayed())
		}
		if len(sender.sent) != before {
			t.Error("Saturated adjustment reached the wire")
		}
	})

	t.Run("Saturates At Minimum", func(t *testing.T) {
		tn, sender, _ := newTestTuner(t)

		// A 10 MHz step down from 14.074 MHz undershoots the range;
		// the candidate clamps to the minimum instead of erroring.
		if err := tn.AdjustDigit(7, -2); err != nil {
			t.Fatalf("AdjustDigit failed: %v", err)
		}
		if tn.Displayed() != 100000 {
			t.Errorf("Expected clamp to 100000, got %d", tn.Displayed())
		}
		if sender.sent[0].Frame() != "FA00000100000;" {
			t.Errorf("Unexpected frame %q", sender.sent[0].Frame())
		}
	})

	t.Run("Invalid Position", func(t *testing.T) {
		tn, _, _ := newTestTuner(t)
		if err := tn.AdjustDigit(11, 1); err == nil {
			t.Error("Expected error for invalid position")
		}
	})
}

func TestSelectPreset(t *testing.T) {
	t.Run("Known Bands", func(t *testing.T) {
		cases := map[int]int64{
			40: 7074000,
			20: 14074000,
			10: 28180000,
		}
		for band, want := range cases {
			tn, _, _ := newTestTuner(t)
			if err := tn.SelectPreset(band); err != nil {
				t.Fatalf("SelectPreset(%d) failed: %v", band, err)
			}
			if tn.Displayed() != want {
				t.Errorf("Band %dm: expected %d, got %d", band, want, tn.Displayed())
			}
		}
	})

	t.Run("Unknown Band", func(t *testing.T) {
		tn, _, _ := newTestTuner(t)
		if err := tn.SelectPreset(2); err == nil {
			t.Error("Expected error for unknown band")
		}
	})
}

func TestSyncFromRadio(t *testing.T) {
	tn, sender, _ := newTestTuner(t)

	if err := tn.SyncFromRadio(); err != nil {
		t.Fatalf("SyncFromRadio failed: %v", err)
	}
	if sender.sent[0].Frame() != "FA;" {
		t.Errorf("Expected FA; query, got %q", sender.sent[0].Frame())
	}

	sender.confirm(10136000)
	if tn.Displayed() != 10136000 || tn.Confirmed() != 10136000 {
		t.Errorf("Expected 10136000/10136000, got %d/%d", tn.Displayed(), tn.Confirmed())
	}
}

func TestBandTable(t *testing.T) {
	bands := Bands()
	if len(bands) != 10 {
		t.Fatalf("Expected 10 presets, got %d", len(bands))
	}
	if bands[0] != 80 || bands[len(bands)-1] != 10 {
		t.Errorf("Expected descending 80..10, got %v", bands)
	}
	if hz, ok := BandFrequency(30); !ok || hz != 10136000 {
		t.Errorf("Expected 30m -> 10136000, got %d %v", hz, ok)
	}
}
