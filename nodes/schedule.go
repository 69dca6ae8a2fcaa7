package nodes

import (
	"fmt"
	"math"

	"audiograph/block"
)

// schedule implements the start/stop timing state shared by every
// scheduled source node (§4.9). singleStart selects which of the two
// permitted second-start behaviors a node gets: true reports
// ErrAlreadyStarted, false silently ignores the call.
type schedule struct {
	startTime float64
	stopTime  float64 // NaN means unset

	started     bool
	ended       bool
	singleStart bool
}

func newSchedule(singleStart bool) *schedule {
	return &schedule{stopTime: math.NaN(), singleStart: singleStart}
}

// start records when to begin playback. when <= 0 means "immediately".
func (s *schedule) start(when float64) error {
	if s.started {
		if s.singleStart {
			return fmt.Errorf("%w", ErrAlreadyStarted)
		}
		return nil
	}
	if when <= 0 {
		when = 0
	}
	s.startTime = when
	s.started = true
	return nil
}

// stop records when to end playback. when <= 0 means "immediately".
func (s *schedule) stop(when float64) {
	if when <= 0 {
		when = 0
	}
	s.stopTime = when
}

// window reports whether the node plays during [t0, t1) and, if so, the
// start/end sample frame within the block that output must be clamped to
// (per §4.9's ceil/floor clamping formulas).
func (s *schedule) window(t0, t1, sampleRate float64) (playing bool, startFrame, endFrame int) {
	if !s.started {
		return false, 0, 0
	}
	if !(t1 > s.startTime && (math.IsNaN(s.stopTime) || t0 < s.stopTime)) {
		return false, 0, 0
	}

	startFrame = 0
	if t0 < s.startTime && s.startTime < t1 {
		startFrame = clampFrame(int(math.Ceil((s.startTime - t0) * sampleRate)))
	}
	endFrame = block.FramesPerBlock
	if t0 < s.stopTime && s.stopTime < t1 {
		endFrame = clampFrame(int(math.Floor((s.stopTime - t0) * sampleRate)))
	}
	return true, startFrame, endFrame
}

// shouldFireEnded reports whether this block's end time reaches stopTime
// for the first time.
func (s *schedule) shouldFireEnded(t1 float64) bool {
	if s.ended || math.IsNaN(s.stopTime) {
		return false
	}
	return t1 >= s.stopTime
}

// markEnded flags that the ended notification has fired.
func (s *schedule) markEnded() { s.ended = true }

func clampFrame(f int) int {
	if f < 0 {
		return 0
	}
	if f > block.FramesPerBlock {
		return block.FramesPerBlock
	}
	return f
}
