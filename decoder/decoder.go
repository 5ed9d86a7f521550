// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package decoder provides playback of animated PNG, WebP and GIF images.
//
// A Decoder parses its source into a frame list and renders the frames in
// sequence onto a canvas, notifying registered Sinks of each rendered frame.
// All parsing and rendering, and all changes to the playback session, are
// performed by a single worker goroutine owned by the Decoder in the order
// they were requested.
package decoder

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kortschak/frameseq/internal/animation"
	"github.com/kortschak/frameseq/internal/container"
	"github.com/kortschak/frameseq/internal/pool"
	"github.com/kortschak/frameseq/internal/slogext"
)

type (
	// Frame is a single animation frame.
	Frame = animation.Frame

	// Dispose is a frame disposal operation.
	Dispose = container.Dispose

	// Blend is a frame blend operation.
	Blend = container.Blend

	// FramePayloadDecodeError is logged when a frame's
	// image data cannot be decoded.
	FramePayloadDecodeError = animation.FramePayloadDecodeError
)

const (
	DisposeNone       = container.DisposeNone
	DisposeBackground = container.DisposeBackground
	DisposePrevious   = container.DisposePrevious

	BlendSource = container.BlendSource
	BlendOver   = container.BlendOver
)

var (
	// ErrMalformedContainer is the error for a structurally invalid
	// container. Sources with a valid header and a malformed body
	// are played as a single still frame.
	ErrMalformedContainer = container.ErrMalformedContainer

	// ErrMissingHeader is the error for a source without an image
	// header. A Decoder with such a source reports empty bounds and
	// ignores all playback operations.
	ErrMissingHeader = container.ErrMissingHeader

	// ErrNotIdle is returned by FrameImage when a playback session
	// is active.
	ErrNotIdle = errors.New("decoder not idle")

	// ErrClosed is returned when a Decoder has been closed.
	ErrClosed = errors.New("decoder closed")

	// ErrTaskPanic is wrapped by errors for operations that
	// panicked on the worker. The playback session is stopped
	// when this happens.
	ErrTaskPanic = errors.New("task panic")
)

// Sink receives playback notifications. Sink methods are called on the
// Decoder's worker goroutine. A Sink must be comparable.
type Sink interface {
	// OnStart is called when playback starts.
	OnStart()

	// OnRender is called with the canvas after each
	// frame is rendered. The canvas holds RGBA pixels
	// with premultiplied alpha and is only valid for
	// the duration of the call.
	OnRender(canvas []byte)

	// OnEnd is called when playback stops.
	OnEnd()
}

// State is a playback state.
type State int32

const (
	Idle State = iota
	Initializing
	Running
	Finishing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Initializing:
		return "initializing"
	case Running:
		return "running"
	case Finishing:
		return "finishing"
	default:
		return "invalid"
	}
}

// Options are Decoder options.
type Options struct {
	// Log is the decoder's logger. If nil,
	// logging is discarded.
	Log *slog.Logger

	// Sample is the initial sample factor. It is
	// rounded down to a power of two. Values less
	// than one are treated as one.
	Sample int

	// LoopLimit, if not nil, is the initial loop
	// limit. See Decoder.SetLoopLimit.
	LoopLimit *int
}

// Decoder plays an animated image.
type Decoder struct {
	src Source
	log *slog.Logger
	w   *worker

	state    atomic.Int32
	paused   atomic.Bool
	finished atomic.Bool

	// empty indicates the source has no header.
	empty atomic.Bool

	sample    atomic.Int32
	loopLimit atomic.Pointer[int]

	// bounds and loopCount hold the results of
	// the most recent successful parse.
	bounds    atomic.Pointer[image.Rectangle]
	loopCount atomic.Int64

	// info is the session's frame list. It is
	// nil when there is no session.
	info atomic.Pointer[animation.Info]

	pool *pool.Pool

	errMu sync.Mutex
	err   error

	closeOnce sync.Once

	// Worker owned state.
	stream     Stream
	comp       *animation.Compositor
	frameIndex int
	playCount  int
	sinks      []Sink
}

// New returns a new Decoder for the animation provided by src.
func New(src Source, opts *Options) *Decoder {
	if opts == nil {
		opts = &Options{}
	}
	log := opts.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	log = log.With(slog.String("component", "decoder"))
	d := &Decoder{
		src:        src,
		log:        log,
		w:          newWorker(log),
		pool:       pool.New(),
		frameIndex: -1,
	}
	d.sample.Store(int32(powerOfTwo(opts.Sample)))
	if opts.LoopLimit != nil {
		d.SetLoopLimit(*opts.LoopLimit)
	}
	return d
}

// powerOfTwo returns the largest power of two not greater than n, or one
// if n is less than one.
func powerOfTwo(n int) int {
	s := 1
	for s*2 <= n {
		s *= 2
	}
	return s
}

// Start starts playback. Start is a no-op if playback is already running,
// if the source has no header, or if the animation has finished all its
// plays and has not been reset.
func (d *Decoder) Start() {
	ctx := context.Background()
	if d.empty.Load() {
		return
	}
	if d.finished.Load() && d.numPlays() > 0 {
		d.log.LogAttrs(ctx, slog.LevelDebug, "start after finish")
		return
	}
	for {
		s := State(d.state.Load())
		switch s {
		case Running, Initializing:
			d.log.LogAttrs(ctx, slog.LevelDebug, "already started")
			return
		case Finishing:
			d.log.LogAttrs(ctx, slog.LevelWarn, "start while finishing")
		}
		if d.state.CompareAndSwap(int32(s), int32(Initializing)) {
			break
		}
	}
	if !d.w.post(func() { d.guard(d.start) }) {
		d.state.Store(int32(Idle))
	}
}

// guard runs fn on the worker, stopping the session if fn panics. It
// returns the panic's error.
func (d *Decoder) guard(fn func()) error {
	err := d.w.exec(fn)
	if err != nil {
		d.setErr(err)
		d.abort()
	}
	return err
}

// abort stops the session after a failure. The state is left idle even
// if a sink panics.
func (d *Decoder) abort() {
	defer d.state.Store(int32(Idle))
	d.w.exec(d.stop)
}

// start starts a playback session, parsing the source if needed.
func (d *Decoder) start() {
	ctx := context.Background()
	d.paused.Store(false)
	if d.comp == nil {
		start := time.Now()
		err := d.open()
		if err != nil {
			d.state.Store(int32(Idle))
			return
		}
		d.log.LogAttrs(ctx, slog.LevelDebug, "parsed", slog.Duration("cost", time.Since(start)))
	}
	d.state.Store(int32(Running))
	if d.numPlays() > 0 && d.finished.Load() {
		d.log.LogAttrs(ctx, slog.LevelDebug, "no plays remaining")
		return
	}
	d.frameIndex = -1
	for _, s := range d.sinks {
		s.OnStart()
	}
	d.render()
}

// open obtains a stream from the source if needed, parses it and prepares
// the compositor.
func (d *Decoder) open() error {
	ctx := context.Background()
	var err error
	if d.stream == nil {
		d.stream, err = d.src.Obtain()
	} else {
		err = d.stream.Reset()
	}
	if err != nil {
		d.log.LogAttrs(ctx, slog.LevelError, "obtain stream", slog.Any("error", err))
		d.setErr(err)
		d.closeStream()
		return err
	}
	r, size := d.stream, d.stream.Size()
	format, err := container.Sniff(r)
	var info *animation.Info
	if err == nil {
		info, err = animation.Assemble(format, format.Chunks(r, size))
	}
	if err != nil {
		d.log.LogAttrs(ctx, slog.LevelError, "parse", slog.Any("error", err))
		d.setErr(err)
		if errors.Is(err, ErrMissingHeader) {
			d.empty.Store(true)
			d.bounds.Store(&image.Rectangle{})
		}
		d.closeStream()
		return err
	}
	sample := int(d.sample.Load())
	d.comp, err = animation.NewCompositor(info, r, size, sample, d.pool)
	if err != nil {
		d.log.LogAttrs(ctx, slog.LevelError, "prepare canvas", slog.Any("error", err))
		d.setErr(err)
		d.closeStream()
		return err
	}
	bounds := info.Bounds()
	d.bounds.Store(&bounds)
	d.loopCount.Store(int64(info.LoopCount))
	d.info.Store(info)
	d.log.LogAttrs(ctx, slog.LevelInfo, "opened",
		slog.String("format", format.String()),
		slog.Any("bounds", slogext.Rect(bounds)),
		slog.Int("frames", len(info.Frames)),
		slog.Int("loops", info.LoopCount),
		slog.Int("sample", sample),
		slog.Bool("still", info.Still),
	)
	return nil
}

// Stop stops playback and releases the session's resources. Stop is a
// no-op if playback is not running.
func (d *Decoder) Stop() {
	if d.empty.Load() {
		return
	}
	for {
		s := State(d.state.Load())
		switch s {
		case Idle, Finishing:
			d.log.LogAttrs(context.Background(), slog.LevelDebug, "no need to stop", slog.Any("state", s))
			return
		case Initializing:
			d.log.LogAttrs(context.Background(), slog.LevelWarn, "stop while initializing")
		}
		if d.state.CompareAndSwap(int32(s), int32(Finishing)) {
			break
		}
	}
	d.w.post(d.stop)
}

// stop ends the playback session.
func (d *Decoder) stop() {
	d.release()
	d.state.Store(int32(Idle))
	for _, s := range d.sinks {
		s.OnEnd()
	}
}

// release cancels pending steps and releases session resources.
func (d *Decoder) release() {
	d.w.cancelDelayed()
	d.info.Store(nil)
	if d.comp != nil {
		d.comp.Release()
		d.comp = nil
	}
	d.pool.Clear()
	d.closeStream()
}

func (d *Decoder) closeStream() {
	if d.stream == nil {
		return
	}
	err := d.stream.Close()
	if err != nil {
		d.log.LogAttrs(context.Background(), slog.LevelWarn, "close stream", slog.Any("error", err))
	}
	d.stream = nil
}

// Pause pauses playback, retaining the current position.
func (d *Decoder) Pause() {
	d.paused.Store(true)
	d.w.post(d.w.cancelDelayed)
}

// Resume resumes paused playback. The frame after the frame that was
// current when playback was paused is rendered immediately.
func (d *Decoder) Resume() {
	d.paused.Store(false)
	d.w.post(func() {
		d.w.cancelDelayed()
		if State(d.state.Load()) == Running {
			d.guard(d.render)
		}
	})
}

// Reset returns playback to the first frame of the first play and allows
// a finished animation to be started again.
func (d *Decoder) Reset() {
	d.finished.Store(false)
	d.w.post(func() {
		d.playCount = 0
		d.frameIndex = -1
		d.finished.Store(false)
	})
}

// SetLoopLimit sets the number of plays, overriding the loop count held by
// the source. A limit less than or equal to zero plays forever.
func (d *Decoder) SetLoopLimit(n int) {
	d.loopLimit.Store(&n)
}

func (d *Decoder) numPlays() int {
	if n := d.loopLimit.Load(); n != nil {
		return *n
	}
	return int(d.loopCount.Load())
}

// SetDesiredSize sets the sample factor to the largest power of two that
// renders the animation at no smaller than w×h. If the sample factor is
// changed, the current session is stopped, the source is parsed again at
// the new size and playback is restarted if it was running. SetDesiredSize
// returns whether the sample factor changed.
func (d *Decoder) SetDesiredSize(w, h int) bool {
	sample := d.desiredSample(w, h)
	if sample == int(d.sample.Load()) {
		return false
	}
	running := d.IsRunning()
	d.w.post(func() {
		d.guard(func() {
			if running {
				d.stop()
			} else {
				d.release()
			}
			d.sample.Store(int32(sample))
			err := d.open()
			if err != nil {
				return
			}
			if running {
				d.state.Store(int32(Initializing))
				d.start()
			}
		})
	})
	return true
}

func (d *Decoder) desiredSample(w, h int) int {
	if w <= 0 || h <= 0 {
		return 1
	}
	b := d.Bounds()
	return powerOfTwo(min(b.Dx()/w, b.Dy()/h))
}

// Sample returns the current sample factor.
func (d *Decoder) Sample() int {
	return int(d.sample.Load())
}

// Bounds returns the full size bounds of the animation. If the source
// has not been parsed, Bounds parses it, blocking until parsing is
// complete. If the source has no header or cannot be read, the empty
// rectangle is returned.
func (d *Decoder) Bounds() image.Rectangle {
	if b := d.bounds.Load(); b != nil {
		return *b
	}
	if State(d.state.Load()) == Finishing {
		d.log.LogAttrs(context.Background(), slog.LevelWarn, "bounds requested while finishing")
	}
	d.w.call(func() {
		if d.bounds.Load() != nil {
			return
		}
		err := d.w.exec(func() { d.open() })
		if err != nil {
			d.setErr(err)
			d.release()
		}
	})
	if b := d.bounds.Load(); b != nil {
		return *b
	}
	return image.Rectangle{}
}

// FrameCount returns the number of frames in the current session.
func (d *Decoder) FrameCount() int {
	info := d.info.Load()
	if info == nil {
		return 0
	}
	return len(info.Frames)
}

// Frame returns the description of frame i in the current session.
func (d *Decoder) Frame(i int) (Frame, bool) {
	info := d.info.Load()
	if info == nil || i < 0 || i >= len(info.Frames) {
		return Frame{}, false
	}
	return info.Frames[i], true
}

// LoopCount returns the number of plays held by the source, with zero
// indicating forever. The source must have been parsed.
func (d *Decoder) LoopCount() int {
	return int(d.loopCount.Load())
}

// FrameImage returns the canvas after rendering frames up to frame i from
// the start of the animation. Negative indexes count back from the last
// frame. FrameImage may only be called when the Decoder is idle, and
// releases the session's resources before returning.
func (d *Decoder) FrameImage(i int) (*image.RGBA, error) {
	if d.empty.Load() {
		return nil, ErrMissingHeader
	}
	if !d.state.CompareAndSwap(int32(Idle), int32(Running)) {
		return nil, ErrNotIdle
	}
	var (
		m   *image.RGBA
		err error
	)
	cerr := d.w.call(func() {
		perr := d.guard(func() { m, err = d.frameImage(i) })
		if perr != nil {
			m, err = nil, perr
		}
	})
	if cerr != nil {
		d.state.Store(int32(Idle))
		return nil, cerr
	}
	return m, err
}

// frameImage renders frames up to i in a new session, returning a copy of
// the canvas.
func (d *Decoder) frameImage(i int) (*image.RGBA, error) {
	d.paused.Store(false)
	if d.comp == nil {
		err := d.open()
		if err != nil {
			d.state.Store(int32(Idle))
			return nil, err
		}
	}
	n := len(d.info.Load().Frames)
	if i < 0 {
		i += n
	}
	i = min(max(i, 0), n-1)
	d.frameIndex = -1
	d.playCount = 0
	for d.frameIndex < i && d.canStep() {
		d.step()
	}
	canvas := d.comp.Canvas()
	m := &image.RGBA{
		Pix:    slices.Clone(canvas.Pix),
		Stride: canvas.Stride,
		Rect:   canvas.Rect,
	}
	d.stop()
	return m, nil
}

// MemorySize returns the number of bytes held by the current session's
// canvas and buffer pool.
func (d *Decoder) MemorySize() int {
	return d.pool.MemorySize()
}

// AddSink adds s to the set of sinks notified by the Decoder.
func (d *Decoder) AddSink(s Sink) {
	d.w.post(func() {
		if !slices.Contains(d.sinks, s) {
			d.sinks = append(d.sinks, s)
		}
	})
}

// RemoveSink removes s from the set of sinks notified by the Decoder.
// Playback is stopped when the last sink is removed.
func (d *Decoder) RemoveSink(s Sink) {
	d.w.post(func() {
		n := len(d.sinks)
		d.sinks = slices.DeleteFunc(d.sinks, func(e Sink) bool { return e == s })
		if n != 0 && len(d.sinks) == 0 && d.IsRunning() {
			d.log.LogAttrs(context.Background(), slog.LevelDebug, "no sinks remaining")
			d.Stop()
		}
	})
}

// State returns the current playback state.
func (d *Decoder) State() State {
	return State(d.state.Load())
}

// IsRunning returns whether playback has been started and not stopped.
func (d *Decoder) IsRunning() bool {
	s := d.State()
	return s == Running || s == Initializing
}

// IsPaused returns whether playback is paused.
func (d *Decoder) IsPaused() bool {
	return d.paused.Load()
}

// Err returns the most recent error from obtaining or parsing the source.
func (d *Decoder) Err() error {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	return d.err
}

func (d *Decoder) setErr(err error) {
	d.errMu.Lock()
	d.err = err
	d.errMu.Unlock()
}

// Close stops playback, releases all resources and terminates the
// Decoder's worker. The Decoder must not be used after Close.
func (d *Decoder) Close() error {
	d.closeOnce.Do(func() {
		d.w.call(func() {
			if d.State() != Idle {
				d.stop()
				return
			}
			d.release()
		})
		d.w.close()
	})
	return nil
}

// render renders the next frame and schedules the following step.
func (d *Decoder) render() {
	if d.paused.Load() || d.comp == nil {
		return
	}
	if !d.canStep() {
		d.Stop()
		return
	}
	start := time.Now()
	delay := d.step()
	d.w.postDelayed(max(delay-time.Since(start), 0), func() { d.guard(d.render) })
	buf := d.comp.Buffer()
	for _, s := range d.sinks {
		s.OnRender(buf)
	}
}

// canStep returns whether another frame may be rendered in the session.
// It marks the session as finished when all plays are complete.
func (d *Decoder) canStep() bool {
	if !d.IsRunning() {
		return false
	}
	info := d.info.Load()
	if info == nil || len(info.Frames) == 0 {
		return false
	}
	n := d.numPlays()
	if n <= 0 {
		return true
	}
	last := len(info.Frames) - 1
	if d.playCount < n-1 || (d.playCount == n-1 && d.frameIndex < last) {
		return true
	}
	d.finished.Store(true)
	return false
}

// step advances to the next frame, renders it and returns its duration.
func (d *Decoder) step() time.Duration {
	info := d.info.Load()
	d.frameIndex++
	if d.frameIndex >= len(info.Frames) {
		d.frameIndex = 0
		d.playCount++
	}
	f := &info.Frames[d.frameIndex]
	err := d.comp.Render(d.frameIndex)
	if err != nil {
		d.log.LogAttrs(context.Background(), slog.LevelWarn, "render frame", slog.Any("frame", f), slog.Any("error", err))
	}
	return f.Duration
}
