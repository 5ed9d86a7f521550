// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/image/draw"

	"github.com/kortschak/frameseq/decoder"
	"github.com/kortschak/frameseq/internal/animation"
	"github.com/kortschak/frameseq/internal/slogext"
	"github.com/kortschak/frameseq/internal/text"
)

// sink writes rendered frames to the player's outputs. Its methods are
// called on the decoder's worker goroutine.
type sink struct {
	ctx context.Context
	p   *player
	dec *decoder.Decoder
	log *slog.Logger

	// size is the canvas size.
	size image.Point
	n    int
	rec  *animation.Recorder
	err  error

	started atomic.Bool
	once    sync.Once
	done    chan struct{}
}

func newSink(ctx context.Context, p *player, dec *decoder.Decoder) *sink {
	return &sink{
		ctx:  ctx,
		p:    p,
		dec:  dec,
		log:  p.log.With(slog.String("component", "sink")),
		done: make(chan struct{}),
	}
}

func (s *sink) OnStart() {
	b := s.dec.Bounds()
	sample := s.dec.Sample()
	s.size = image.Pt(b.Dx()/sample, b.Dy()/sample)
	s.n = 0
	plays := s.p.loops
	if plays < 0 {
		plays = max(s.dec.LoopCount(), 1)
	}
	s.rec = animation.NewRecorder(plays)
	s.started.Store(true)
	s.log.LogAttrs(s.ctx, slog.LevelInfo, "start",
		slog.Any("bounds", slogext.Rect(b)),
		slog.Int("sample", sample),
		slog.Any("memory", slogext.Bytes(s.dec.MemorySize())),
	)
}

func (s *sink) OnRender(canvas []byte) {
	if s.err != nil {
		return
	}
	idx := s.n
	if n := s.dec.FrameCount(); n > 0 {
		idx %= n
	}
	f, _ := s.dec.Frame(idx)
	view := &image.RGBA{
		Pix:    canvas[:4*s.size.X*s.size.Y],
		Stride: 4 * s.size.X,
		Rect:   image.Rectangle{Max: s.size},
	}
	// The canvas is only valid during the call.
	m := image.NewRGBA(view.Rect)
	draw.Copy(m, image.Point{}, view, view.Rect, draw.Src, nil)
	if s.p.annotate {
		s.p.label(m, f)
	}
	s.log.LogAttrs(s.ctx, slog.LevelDebug, "render", slog.Int("n", s.n), slog.Any("frame", f))
	if s.p.dir != "" {
		err := writePNG(s.p.path(s.n), m)
		if err != nil {
			s.err = err
			s.log.LogAttrs(s.ctx, slog.LevelError, "write frame", slog.Any("error", err))
			s.dec.Stop()
			return
		}
	}
	if s.p.gif != "" {
		s.rec.Add(m, f.Duration)
	}
	s.n++
}

func (s *sink) OnEnd() {
	s.log.LogAttrs(s.ctx, slog.LevelInfo, "end", slog.Int("renders", s.n))
	s.once.Do(func() { close(s.done) })
}

// label draws the frame index and duration onto m.
func (p *player) label(m draw.Image, f animation.Frame) {
	fg, stroke := p.fg, p.stroke
	if fg == nil {
		fg = color.White
	}
	if stroke == nil {
		stroke = color.Black
	}
	text.Label(m, fmt.Sprintf("%d %v", f.Index, f.Duration), fg, stroke)
}
