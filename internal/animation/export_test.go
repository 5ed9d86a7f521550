// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/image/draw"
)

func TestRecorder(t *testing.T) {
	for _, test := range []struct {
		plays     int
		wantLoops int
	}{
		{plays: 0, wantLoops: 0},
		{plays: 1, wantLoops: -1},
		{plays: 3, wantLoops: 2},
	} {
		r := NewRecorder(test.plays)
		var buf bytes.Buffer
		if err := r.Encode(&buf); err == nil {
			t.Error("expected error encoding empty recording")
		}

		canvas := image.NewRGBA(image.Rect(0, 0, 4, 4))
		for i, col := range []color.RGBA{red, blue} {
			draw.Draw(canvas, canvas.Bounds(), &image.Uniform{col}, image.Point{}, draw.Src)
			canvas.SetRGBA(0, 0, transparent)
			r.Add(canvas, time.Duration(i+1)*100*time.Millisecond)
		}
		if r.Len() != 2 {
			t.Errorf("unexpected number of frames: got:%d want:2", r.Len())
		}
		err := r.Encode(&buf)
		if err != nil {
			t.Fatalf("unexpected error encoding gif: %v", err)
		}

		g, err := gif.DecodeAll(&buf)
		if err != nil {
			t.Fatalf("unexpected error decoding gif: %v", err)
		}
		if !cmp.Equal([]int{10, 20}, g.Delay) {
			t.Errorf("unexpected delays:\n--- want:\n+++ got:\n%s", cmp.Diff([]int{10, 20}, g.Delay))
		}
		if g.LoopCount != test.wantLoops {
			t.Errorf("unexpected loop count for %d plays: got:%d want:%d", test.plays, g.LoopCount, test.wantLoops)
		}
		for i, want := range []color.RGBA{red, blue} {
			m := g.Image[i]
			if got := color.RGBAModel.Convert(m.At(1, 1)); got != want {
				t.Errorf("unexpected color in frame %d: got:%v want:%v", i, got, want)
			}
			if _, _, _, a := m.At(0, 0).RGBA(); a != 0 {
				t.Errorf("unexpected opaque pixel in frame %d", i)
			}
		}
	}
}
