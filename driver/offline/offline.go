// Package offline implements the offline rendering driver: pull N frames
// from a context's destination into caller-owned planar buffers, carrying
// over any excess frames a short block produced to the next call.
package offline

import (
	"errors"
	"fmt"

	"audiograph/block"
	"audiograph/engine"
)

// ErrArgument marks an invalid render request: zero channels, a
// non-positive frame count, a negative start offset, a channel buffer
// shorter than start+frameCount, or a nil channel slice.
var ErrArgument = errors.New("offline: argument error")

// Driver pulls fixed-size blocks from a Context and serves them to callers
// a frame count at a time, caching a short block's surplus frames for the
// next call. Not safe for concurrent use — matches the single render
// thread the core assumes.
type Driver struct {
	ctx *engine.Context

	carry      [][]float32 // per channel, FIFO of frames not yet delivered
	carryCount int         // frames currently valid in each carry channel
}

// New constructs a Driver pulling blocks from ctx.
func New(ctx *engine.Context) *Driver {
	return &Driver{ctx: ctx}
}

// Render fills output[channel][start:start+frameCount] with frameCount
// frames, starting with any carried-over frames from a previous short
// render, then pulling fresh blocks as needed. output's outer length is
// the channel count; each inner slice must be at least start+frameCount
// long.
func (d *Driver) Render(output [][]float32, start, frameCount int) error {
	if len(output) == 0 {
		return fmt.Errorf("%w: zero channels", ErrArgument)
	}
	if frameCount <= 0 {
		return fmt.Errorf("%w: non-positive frame count %d", ErrArgument, frameCount)
	}
	if start < 0 {
		return fmt.Errorf("%w: negative start %d", ErrArgument, start)
	}
	for i, ch := range output {
		if ch == nil {
			return fmt.Errorf("%w: nil channel buffer at index %d", ErrArgument, i)
		}
		if len(ch) < start+frameCount {
			return fmt.Errorf("%w: channel %d buffer too small for start+frameCount", ErrArgument, i)
		}
	}

	channels := len(output)
	d.ensureCarryCapacity(channels)

	written := 0

	if d.carryCount > 0 {
		n := min(d.carryCount, frameCount)
		for ch := 0; ch < channels && ch < len(d.carry); ch++ {
			copy(output[ch][start:start+n], d.carry[ch][:n])
		}
		d.shiftCarry(n)
		written += n
	}

	for written < frameCount {
		buf, err := d.ctx.ProcessBlock()
		if err != nil {
			return err
		}
		remaining := frameCount - written
		n := min(remaining, block.FramesPerBlock)
		for ch := 0; ch < channels; ch++ {
			if ch < buf.Channels() {
				copy(output[ch][start+written:start+written+n], buf.Channel(ch)[:n])
			} else {
				clearRange(output[ch][start+written : start+written+n])
			}
		}
		if n < block.FramesPerBlock {
			d.storeCarry(buf, channels, n)
		}
		written += n
	}

	return nil
}

// ensureCarryCapacity grows the carry area to hold channels rows, each
// FramesPerBlock long, geometrically (double, never shrink).
func (d *Driver) ensureCarryCapacity(channels int) {
	if len(d.carry) >= channels {
		return
	}
	newCap := len(d.carry)
	if newCap == 0 {
		newCap = 1
	}
	for newCap < channels {
		newCap *= 2
	}
	grown := make([][]float32, newCap)
	copy(grown, d.carry)
	for i := len(d.carry); i < newCap; i++ {
		grown[i] = make([]float32, block.FramesPerBlock)
	}
	d.carry = grown
}

// storeCarry copies the surplus frames (from consumed to FramesPerBlock) of buf
// into the carry area.
func (d *Driver) storeCarry(buf *block.Block, channels, consumed int) {
	surplus := block.FramesPerBlock - consumed
	for ch := 0; ch < channels && ch < len(d.carry); ch++ {
		if ch < buf.Channels() {
			copy(d.carry[ch][:surplus], buf.Channel(ch)[consumed:])
		} else {
			clearRange(d.carry[ch][:surplus])
		}
	}
	d.carryCount = surplus
}

// shiftCarry drops the first n frames from the carry area, sliding the
// remainder down.
func (d *Driver) shiftCarry(n int) {
	for ch := range d.carry {
		copy(d.carry[ch], d.carry[ch][n:d.carryCount])
	}
	d.carryCount -= n
}

func clearRange(s []float32) {
	for i := range s {
		s[i] = 0
	}
}
