// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kortschak/frameseq/internal/apngtest"
	"github.com/kortschak/frameseq/internal/container"
)

var (
	transparent = color.RGBA{}
	red         = color.RGBA{R: 0xff, A: 0xff}
	green       = color.RGBA{G: 0xff, A: 0xff}
	blue        = color.RGBA{B: 0xff, A: 0xff}

	pal = color.Palette{transparent, red, green, blue}
)

const (
	idxTransparent = iota
	idxRed
	idxGreen
	idxBlue
)

func encode(t *testing.T, a apngtest.Animation) []byte {
	t.Helper()
	var buf bytes.Buffer
	err := apngtest.Encode(&buf, a)
	if err != nil {
		t.Fatalf("unexpected error encoding animation: %v", err)
	}
	return buf.Bytes()
}

func assemble(t *testing.T, data []byte) (*Info, error) {
	t.Helper()
	r := bytes.NewReader(data)
	f, err := container.Sniff(r)
	if err != nil {
		return nil, err
	}
	return Assemble(f, f.Chunks(r, int64(len(data))))
}

var frameDurationTests = []struct {
	num  uint32
	den  uint16
	want time.Duration
}{
	{num: 1, den: 10, want: 100 * time.Millisecond},
	{num: 5, den: 100, want: 50 * time.Millisecond},
	{num: 1, den: 100, want: 10 * time.Millisecond},
	{num: 9, den: 1000, want: 100 * time.Millisecond},
	{num: 0, den: 0, want: 100 * time.Millisecond},
	{num: 3, den: 0, want: 30 * time.Millisecond},
	{num: 2, den: 1, want: 2 * time.Second},
	{num: 0xffff, den: 1, want: 0xffff * time.Second},
}

func TestFrameDuration(t *testing.T) {
	for _, test := range frameDurationTests {
		got := FrameDuration(test.num, test.den)
		if got != test.want {
			t.Errorf("unexpected duration for %d/%d: got:%v want:%v", test.num, test.den, got, test.want)
		}
	}
}

func TestAssemble(t *testing.T) {
	data := encode(t, apngtest.Animation{
		Width: 8, Height: 8, NumPlays: 3,
		Frames: []apngtest.Frame{
			{Image: apngtest.Solid(8, 8, pal, idxRed), DelayNum: 1, DelayDen: 10, Dispose: 2},
			{Image: apngtest.Solid(4, 4, pal, idxGreen), X: 2, Y: 3, DelayNum: 5, DelayDen: 100, Dispose: 1, Blend: 1},
			{Image: apngtest.Solid(2, 2, pal, idxBlue), X: 6, Y: 6, Dispose: 2},
		},
	})
	info, err := assemble(t, data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	type frame struct {
		Index    int
		Bounds   image.Rectangle
		Duration time.Duration
		Dispose  container.Dispose
		Blend    container.Blend
		Prefix   []string
		Payload  []string
	}
	var got []frame
	for _, f := range info.Frames {
		g := frame{
			Index:    f.Index,
			Bounds:   f.Bounds,
			Duration: f.Duration,
			Dispose:  f.Dispose,
			Blend:    f.Blend,
		}
		for _, s := range f.Prefix {
			g.Prefix = append(g.Prefix, s.Type)
		}
		for _, s := range f.Payload {
			g.Payload = append(g.Payload, s.Type)
		}
		got = append(got, g)
	}
	want := []frame{
		{
			Index:    0,
			Bounds:   image.Rect(0, 0, 8, 8),
			Duration: 100 * time.Millisecond,
			Dispose:  container.DisposeBackground, // Converted from previous.
			Blend:    container.BlendSource,
			Prefix:   []string{"PLTE", "tRNS"},
			Payload:  []string{"IDAT"},
		},
		{
			Index:    1,
			Bounds:   image.Rect(2, 3, 6, 7),
			Duration: 50 * time.Millisecond,
			Dispose:  container.DisposeBackground,
			Blend:    container.BlendOver,
			Prefix:   []string{"PLTE", "tRNS"},
			Payload:  []string{"fdAT"},
		},
		{
			Index:    2,
			Bounds:   image.Rect(6, 6, 8, 8),
			Duration: 100 * time.Millisecond,
			Dispose:  container.DisposePrevious,
			Blend:    container.BlendSource,
			Prefix:   []string{"PLTE", "tRNS"},
			Payload:  []string{"fdAT"},
		},
	}
	if !cmp.Equal(want, got) {
		t.Errorf("unexpected frames:\n--- want:\n+++ got:\n%s", cmp.Diff(want, got))
	}
	if info.LoopCount != 3 {
		t.Errorf("unexpected loop count: got:%d want:3", info.LoopCount)
	}
	if info.Still {
		t.Error("unexpected still image")
	}
	if info.Bounds() != image.Rect(0, 0, 8, 8) {
		t.Errorf("unexpected bounds: %v", info.Bounds())
	}
}

func TestAssembleDefaultImage(t *testing.T) {
	data := encode(t, apngtest.Animation{
		Width: 4, Height: 4,
		Default: apngtest.Solid(4, 4, pal, idxBlue),
		Frames: []apngtest.Frame{
			{Image: apngtest.Solid(4, 4, pal, idxRed), DelayNum: 1, DelayDen: 100},
			{Image: apngtest.Solid(4, 4, pal, idxGreen), DelayNum: 1, DelayDen: 100},
		},
	})
	info, err := assemble(t, data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(info.Frames) != 2 {
		t.Fatalf("unexpected number of frames: got:%d want:2", len(info.Frames))
	}
	for i, f := range info.Frames {
		if len(f.Payload) != 1 || f.Payload[0].Type != "fdAT" {
			t.Errorf("unexpected payload for frame %d: %+v", i, f.Payload)
		}
	}
	if info.LoopCount != 0 {
		t.Errorf("unexpected loop count: got:%d want:0", info.LoopCount)
	}
}

func TestAssembleStill(t *testing.T) {
	data := encode(t, apngtest.Animation{
		Still:   true,
		Default: apngtest.Solid(5, 3, pal, idxRed),
	})
	info, err := assemble(t, data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := &Info{
		Format:    container.PNG,
		Width:     5,
		Height:    3,
		LoopCount: 1,
		Header:    container.Span{Type: "IHDR", Offset: 8, Length: 25},
		Still:     true,
		Frames: []Frame{{
			Bounds:   image.Rect(0, 0, 5, 3),
			Duration: 100 * time.Millisecond,
			Blend:    container.BlendSource,
		}},
	}
	if !cmp.Equal(want, info) {
		t.Errorf("unexpected info:\n--- want:\n+++ got:\n%s", cmp.Diff(want, info))
	}
}

func TestAssembleErrors(t *testing.T) {
	data := encode(t, apngtest.Animation{
		Width: 8, Height: 8,
		Frames: []apngtest.Frame{
			{Image: apngtest.Solid(8, 8, pal, idxRed), DelayNum: 1, DelayDen: 10},
			{Image: apngtest.Solid(8, 8, pal, idxGreen), DelayNum: 1, DelayDen: 10},
		},
	})

	t.Run("truncated_header", func(t *testing.T) {
		_, err := assemble(t, data[:20])
		if !errors.Is(err, container.ErrMissingHeader) {
			t.Errorf("unexpected error: got:%v want:%v", err, container.ErrMissingHeader)
		}
	})

	t.Run("truncated_body", func(t *testing.T) {
		info, err := assemble(t, data[:len(data)-30])
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !info.Still || len(info.Frames) != 1 {
			t.Errorf("expected still image fallback: still=%t frames=%d", info.Still, len(info.Frames))
		}
	})

	t.Run("no_header", func(t *testing.T) {
		// Signature followed directly by IEND.
		b := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\x00IEND\xae\x42\x60\x82")
		_, err := Assemble(container.PNG, container.PNGChunks(bytes.NewReader(b), int64(len(b))))
		if !errors.Is(err, container.ErrMissingHeader) {
			t.Errorf("unexpected error: got:%v want:%v", err, container.ErrMissingHeader)
		}
	})
}

func TestAssembleWebPBackground(t *testing.T) {
	chunks := func(alpha bool) func(func(container.Chunk, error) bool) {
		return func(yield func(container.Chunk, error) bool) {
			_ = yield(container.Header{Width: 2, Height: 2, Alpha: alpha}, nil) &&
				yield(container.AnimationControl{NumPlays: 1, Background: blue}, nil) &&
				yield(container.FrameControl{Width: 2, Height: 2, DelayNum: 50, DelayDen: 1000}, nil) &&
				yield(container.FrameData{Span: container.Span{Type: "ANMF"}}, nil) &&
				yield(container.End{}, nil)
		}
	}
	for _, test := range []struct {
		alpha bool
		want  color.RGBA
	}{
		{alpha: false, want: blue},
		{alpha: true, want: transparent},
	} {
		info, err := Assemble(container.WebP, chunks(test.alpha))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if info.Background != test.want {
			t.Errorf("unexpected background for alpha=%t: got:%v want:%v", test.alpha, info.Background, test.want)
		}
		if len(info.Frames) != 1 || info.Frames[0].Duration != 50*time.Millisecond {
			t.Errorf("unexpected frames: %+v", info.Frames)
		}
	}
}

func TestAssembleWebPDuration(t *testing.T) {
	delays := []uint32{70000, 5, 0}
	chunks := func(yield func(container.Chunk, error) bool) {
		if !yield(container.Header{Width: 2, Height: 2}, nil) {
			return
		}
		if !yield(container.AnimationControl{}, nil) {
			return
		}
		for _, d := range delays {
			if !yield(container.FrameControl{Width: 2, Height: 2, DelayNum: d, DelayDen: 1000}, nil) {
				return
			}
		}
	}
	info, err := Assemble(container.WebP, chunks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got []time.Duration
	for _, f := range info.Frames {
		got = append(got, f.Duration)
	}
	want := []time.Duration{70 * time.Second, 5 * time.Millisecond, 100 * time.Millisecond}
	if !cmp.Equal(want, got) {
		t.Errorf("unexpected durations:\n--- want:\n+++ got:\n%s", cmp.Diff(want, got))
	}
}
