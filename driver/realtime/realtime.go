// Package realtime implements the realtime rendering driver: a dedicated
// render-thread loop that fills a lock-free ring buffer from a Context, and
// a device-facing loop that drains the ring into a PortAudio output stream,
// padding with silence on underflow so the device callback path never blocks
// on the render thread.
package realtime

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"

	"audiograph/block"
	"audiograph/engine"
	"audiograph/ring"
)

// RingPeriods is how many device periods of headroom the ring buffer holds,
// matching the "5x the device period is typical" sizing spec.md calls for.
const RingPeriods = 5

// ErrAlreadyRunning is returned by Start when the driver is already active.
var ErrAlreadyRunning = errors.New("realtime: already running")

// Device describes an available PortAudio device, mirroring the teacher's
// AudioDevice shape.
type Device struct {
	ID   int
	Name string
}

// paStream abstracts a PortAudio output stream so tests can substitute a
// fake without opening a real device.
type paStream interface {
	Start() error
	Stop() error
	Close() error
	Write() error
}

// Initialize wraps portaudio.Initialize. Call once at process startup
// before any Driver.Start.
func Initialize() error { return portaudio.Initialize() }

// Terminate wraps portaudio.Terminate. Call once at process shutdown.
func Terminate() error { return portaudio.Terminate() }

// ListOutputDevices returns every device with at least one output channel.
func ListOutputDevices() ([]Device, error) {
	return listDevices(func(d *portaudio.DeviceInfo) bool { return d.MaxOutputChannels > 0 })
}

func listDevices(match func(*portaudio.DeviceInfo) bool) ([]Device, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	var out []Device
	for i, d := range devices {
		if match(d) {
			out = append(out, Device{ID: i, Name: d.Name})
		}
	}
	return out, nil
}

// resolveDevice returns the device at idx if valid, otherwise falls back.
func resolveDevice(devices []*portaudio.DeviceInfo, idx int, fallback func() (*portaudio.DeviceInfo, error)) (*portaudio.DeviceInfo, error) {
	if idx >= 0 && idx < len(devices) {
		return devices[idx], nil
	}
	return fallback()
}

// Driver bridges a Context's block-synchronous render loop to a PortAudio
// output stream by way of a ring buffer, per spec.md §4.8: the render
// thread never touches the device directly, and the device-facing loop
// never touches the graph.
type Driver struct {
	ctx        *engine.Context
	channels   int
	sampleRate float64

	mu     sync.Mutex
	stream paStream
	rb     *ring.Buffer
	stopCh chan struct{}
	wg     sync.WaitGroup

	running atomic.Bool
}

// New returns a Driver that will render ctx's destination in channels-wide
// interleaved blocks.
func New(ctx *engine.Context, channels int) *Driver {
	return &Driver{ctx: ctx, channels: channels, sampleRate: ctx.SampleRate()}
}

// Running reports whether the driver currently owns an open device stream.
func (d *Driver) Running() bool { return d.running.Load() }

// Start opens outputDeviceID (or the system default if out of range) and
// launches the render and playback loops. Sequence matters here the same
// way it does in PortAudio's blocking API generally: the stream must be
// started before either loop touches it.
func (d *Driver) Start(outputDeviceID int) error {
	if !d.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	devices, err := portaudio.Devices()
	if err != nil {
		d.running.Store(false)
		return err
	}
	outDev, err := resolveDevice(devices, outputDeviceID, portaudio.DefaultOutputDevice)
	if err != nil {
		d.running.Store(false)
		return err
	}

	playbackBuf := make([]float32, block.FramesPerBlock*d.channels)
	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   outDev,
			Channels: d.channels,
			Latency:  outDev.DefaultLowOutputLatency,
		},
		SampleRate:      d.sampleRate,
		FramesPerBuffer: block.FramesPerBlock,
	}
	stream, err := portaudio.OpenStream(params, playbackBuf)
	if err != nil {
		d.running.Store(false)
		return err
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		d.running.Store(false)
		return err
	}

	d.mu.Lock()
	d.stream = stream
	d.rb = ring.NewBuffer(d.channels, block.FramesPerBlock*RingPeriods)
	d.stopCh = make(chan struct{})
	d.mu.Unlock()

	d.wg.Add(2)
	go func() { defer d.wg.Done(); d.renderLoop() }()
	go func() { defer d.wg.Done(); d.playbackLoop(stream, playbackBuf) }()

	return nil
}

// Stop halts both loops and closes the device stream. Stopping the stream
// first unblocks a Write() call in progress so playbackLoop can exit; we
// wait for both loops via wg before closing, so the native stream object is
// never freed while a goroutine may still be touching it.
func (d *Driver) Stop() {
	if !d.running.CompareAndSwap(true, false) {
		return
	}

	d.mu.Lock()
	stopCh := d.stopCh
	stream := d.stream
	d.mu.Unlock()

	close(stopCh)
	if stream != nil {
		stream.Stop()
	}

	d.wg.Wait()

	d.mu.Lock()
	if d.stream != nil {
		d.stream.Close()
		d.stream = nil
	}
	d.mu.Unlock()
}

// renderLoop is the dedicated render thread: while the ring has room for a
// full block, rent a scratch buffer, render into it, and write it to the
// ring; otherwise spin briefly rather than block, since process_block must
// never yield.
func (d *Driver) renderLoop() {
	for {
		select {
		case <-d.stopCh:
			return
		default:
		}

		if d.rb.AvailableWriteFrames() < block.FramesPerBlock {
			time.Sleep(time.Millisecond)
			continue
		}

		scratch := d.ctx.Pool().RentScratch(d.channels)
		err := d.ctx.ProcessBlockInterleaved(scratch, d.channels)
		if err == nil {
			d.rb.WriteFrames(scratch, block.FramesPerBlock)
		}
		d.ctx.Pool().ReturnScratch(d.channels, scratch)
		if err != nil {
			return
		}
	}
}

// playbackLoop is the device-facing loop: drain the ring into buf (padding
// with silence on underflow) and hand it to the blocking Write() call.
func (d *Driver) playbackLoop(stream paStream, buf []float32) {
	for {
		select {
		case <-d.stopCh:
			return
		default:
		}
		d.rb.DrainOrSilence(buf, block.FramesPerBlock)
		if err := stream.Write(); err != nil {
			return
		}
	}
}
