package audio

import "sync/atomic"

// Frame is one interleaved stereo sample pair, copied by value into the ring.
type Frame [2]float32

// SampleRing is a fixed-capacity single-producer/single-consumer ring of
// audio frames. The capture callback is the only pusher and the playback
// callback is the only popper; the two sides synchronise through the atomic
// read/write indices alone, so neither real-time callback can block on a
// mutex held by the other.
//
// Overflow policy is drop-newest: a Push into a full ring discards the
// incoming frame and keeps the already-buffered audio, which is closer to
// being played. Dropping the oldest instead would lower latency but tears a
// hole in audio that is about to reach the speaker.
type SampleRing struct {
	buf      []Frame
	capacity uint64
	write    atomic.Uint64 // total frames ever pushed
	read     atomic.Uint64 // total frames ever popped
}

// NewSampleRing creates a ring holding up to capacity frames. Capacity is
// fixed for the life of the ring; choose at least 4x the device block size
// so scheduling jitter between the capture and playback callbacks cannot
// starve the consumer.
func NewSampleRing(capacity int) *SampleRing {
	if capacity < 1 {
		capacity = 1
	}
	return &SampleRing{
		buf:      make([]Frame, capacity),
		capacity: uint64(capacity),
	}
}

// Push appends a frame. Returns false (and drops the frame) when the ring
// is full.
func (r *SampleRing) Push(f Frame) bool {
	w := r.write.Load()
	if w-r.read.Load() == r.capacity {
		return false
	}
	r.buf[w%r.capacity] = f
	r.write.Store(w + 1)
	return true
}

// Pop removes and returns the oldest frame. ok is false when the ring is
// empty; the playback path must then substitute silence rather than wait.
func (r *SampleRing) Pop() (f Frame, ok bool) {
	rd := r.read.Load()
	if rd == r.write.Load() {
		return Frame{}, false
	}
	f = r.buf[rd%r.capacity]
	r.read.Store(rd + 1)
	return f, true
}

// Len returns the number of buffered frames.
func (r *SampleRing) Len() int {
	return int(r.write.Load() - r.read.Load())
}

// Cap returns the fixed capacity in frames.
func (r *SampleRing) Cap() int {
	return int(r.capacity)
}
