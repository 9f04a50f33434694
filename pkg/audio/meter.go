package audio

import "time"

// Meter smoothing and scale constants. These are tunable; the defaults
// mimic a mechanical meter's ballistics (rise fast, fall back slowly).
const (
	// DefaultMeterAttack is the fraction of the distance to a louder
	// reading covered in a single update.
	DefaultMeterAttack = 0.5

	// DefaultMeterDecay is the fraction covered per update when the signal
	// falls, matching the 1/40 run-in the QDX receiver uses.
	DefaultMeterDecay = 1.0 / 40.0

	// DefaultMeterReference scales the raw QDX capture amplitude, which is
	// very quiet, up to a 0..1 needle drive.
	DefaultMeterReference = 90.0
)

// MeterReading is a single S-meter sample. Value is the bounded needle
// deflection in [0, 1]; Label is the meter-face reading at that deflection.
// Seq increases monotonically so a poller can detect a stale reading.
type MeterReading struct {
	Value     float32 `json:"value"`
	Label     string  `json:"label"`
	Seq       uint64  `json:"seq"`
	Timestamp int64   `json:"timestamp"`
}

// meterFace maps needle deflection to the printed scale: S-units over the
// lower two thirds of the arc, dB over S9 on the upper third. A fixed
// lookup, not derived from raw amplitude.
var meterFace = []struct {
	deflection float32
	label      string
}{
	{0.00, "S0"},
	{0.067, "S1"},
	{0.133, "S2"},
	{0.20, "S3"},
	{0.267, "S4"},
	{0.333, "S5"},
	{0.40, "S6"},
	{0.467, "S7"},
	{0.533, "S8"},
	{0.60, "S9"},
	{0.733, "S9+10"},
	{0.867, "S9+20"},
	{1.00, "S9+30"},
}

// faceLabel returns the highest scale marking at or below deflection.
func faceLabel(deflection float32) string {
	label := meterFace[0].label
	for _, p := range meterFace {
		if deflection >= p.deflection {
			label = p.label
		}
	}
	return label
}

// NextMeterValue computes the smoothed needle deflection from the previous
// deflection and the mean absolute amplitude of one capture block. Pure:
// all state is in the arguments.
func NextMeterValue(prev, blockMean, attack, decay float32) float32 {
	drive := blockMean * DefaultMeterReference
	if drive > 1.0 {
		drive = 1.0
	}
	if drive < 0.0 {
		drive = 0.0
	}
	coeff := decay
	if drive > prev {
		coeff = attack
	}
	next := prev + (drive-prev)*coeff
	if next > 1.0 {
		next = 1.0
	}
	if next < 0.0 {
		next = 0.0
	}
	return next
}

// LevelMeter reduces capture blocks to smoothed MeterReadings. The only
// state it keeps is the previous reading, threaded through each Update.
type LevelMeter struct {
	attack float32
	decay  float32
	prev   float32
	seq    uint64
}

// NewLevelMeter creates a meter with the given ballistics. Zero values
// select the defaults.
func NewLevelMeter(attack, decay float32) *LevelMeter {
	if attack == 0 {
		attack = DefaultMeterAttack
	}
	if decay == 0 {
		decay = DefaultMeterDecay
	}
	return &LevelMeter{attack: attack, decay: decay}
}

// Update folds one interleaved block of samples into the reading.
func (m *LevelMeter) Update(block []float32) MeterReading {
	var sum float32
	for _, s := range block {
		if s < 0 {
			s = -s
		}
		sum += s
	}
	var mean float32
	if n := len(block); n > 0 {
		mean = sum / float32(n)
	}
	m.prev = NextMeterValue(m.prev, mean, m.attack, m.decay)
	m.seq++
	return MeterReading{
		Value:     m.prev,
		Label:     faceLabel(m.prev),
		Seq:       m.seq,
		Timestamp: time.Now().UnixMilli(),
	}
}
