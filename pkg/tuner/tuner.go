package tuner

import (
	"fmt"
	"sort"

	"github.com/devzendo/qdx-receiver/pkg/cat"
	"github.com/devzendo/qdx-receiver/pkg/logging"
)

// RangeError rejects a frequency outside the tunable range before any
// command reaches the radio.
type RangeError struct {
	Hz  int64
	Min int64
	Max int64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("tuner: %d Hz outside tunable range %d..%d", e.Hz, e.Min, e.Max)
}

// bandPresets maps amateur band (metres) to the usual FT8/digital dial
// frequency. US 11m is included for completeness.
var bandPresets = map[int]int64{
	80: 3573000,
	60: 5357000,
	40: 7074000,
	30: 10136000,
	20: 14074000,
	17: 18100000,
	15: 21074000,
	12: 24915000,
	11: 27255000,
	10: 28180000,
}

// Bands returns the preset band IDs in descending wavelength order.
func Bands() []int {
	bands := make([]int, 0, len(bandPresets))
	for b := range bandPresets {
		bands = append(bands, b)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(bands)))
	return bands
}

// BandFrequency looks up the preset frequency for a band.
func BandFrequency(band int) (int64, bool) {
	hz, ok := bandPresets[band]
	return hz, ok
}

// CommandSender is the slice of the CAT link the tuner drives.
type CommandSender interface {
	Send(cmd cat.Command, complete cat.Completion) error
}

// Tuner tracks two frequencies: displayed (what the operator asked for,
// shown optimistically) and confirmed (what the radio last acknowledged).
// When a request fails, displayed snaps back to confirmed so the UI shows
// the radio's true state.
//
// Owned by the control goroutine, like the link it drives.
type Tuner struct {
	link      CommandSender
	min, max  int64
	displayed int64
	confirmed int64

	// onError receives request failures after the displayed frequency
	// has been reconciled.
	onError func(error)
}

// NewTuner creates a tuner with both frequencies at initial. No command is
// sent until SyncFromRadio or a request.
func NewTuner(link CommandSender, min, max, initial int64, onError func(error)) *Tuner {
	if onError == nil {
		onError = func(error) {}
	}
	return &Tuner{
		link:      link,
		min:       min,
		max:       max,
		displayed: initial,
		confirmed: initial,
		onError:   onError,
	}
}

// Displayed returns the optimistically displayed frequency.
func (t *Tuner) Displayed() int64 {
	return t.displayed
}

// Confirmed returns the last frequency the radio acknowledged.
func (t *Tuner) Confirmed() int64 {
	return t.confirmed
}

// Frequencies returns (displayed, confirmed).
func (t *Tuner) Frequencies() (int64, int64) {
	return t.displayed, t.confirmed
}

// RequestFrequency validates hz and issues the set command, updating the
// display optimistically. The display reverts if the request fails.
func (t *Tuner) RequestFrequency(hz int64) error {
	if hz < t.min || hz > t.max {
		return &RangeError{Hz: hz, Min: t.min, Max: t.max}
	}
	err := t.link.Send(cat.SetFrequency(hz), t.onCatResponse)
	if err != nil {
		return err
	}
	t.displayed = hz
	logging.Debugf("tuner", "Requested %d Hz", hz)
	return nil
}

// AdjustDigit bumps the decimal digit at position (0 = 1 Hz, 3 = 1 kHz) of
// the displayed frequency by delta steps. The result saturates at the
// tunable range bounds instead of wrapping or carrying past them.
func (t *Tuner) AdjustDigit(position, delta int) error {
	if position < 0 || position > 10 {
		return fmt.Errorf("tuner: invalid digit position %d", position)
	}
	step := int64(1)
	for i := 0; i < position; i++ {
		step *= 10
	}
	candidate := t.displayed + int64(delta)*step
	if candidate > t.max {
		candidate = t.max
	}
	if candidate < t.min {
		candidate = t.min
	}
	if candidate == t.displayed {
		return nil
	}
	return t.RequestFrequency(candidate)
}

// SelectPreset tunes to a band's preset frequency.
func (t *Tuner) SelectPreset(band int) error {
	hz, ok := bandPresets[band]
	if !ok {
		return fmt.Errorf("tuner: unknown band %dm", band)
	}
	return t.RequestFrequency(hz)
}

// SyncFromRadio queries the radio's current VFO so displayed and confirmed
// start from reality rather than a configured guess.
func (t *Tuner) SyncFromRadio() error {
	return t.link.Send(cat.ReadFrequency(), t.onCatResponse)
}

// onCatResponse reconciles tuner state with the request outcome. Success
// confirms the radio's reported frequency; any failure reverts the display
// to the last confirmed value and surfaces the error.
func (t *Tuner) onCatResponse(resp cat.Response, err error) {
	if err != nil {
		t.displayed = t.confirmed
		t.onError(err)
		return
	}
	hz, err := resp.Frequency()
	if err != nil {
		t.displayed = t.confirmed
		t.onError(err)
		return
	}
	t.displayed = hz
	t.confirmed = hz
	logging.Infof("tuner", "Radio confirmed %d Hz", hz)
}
