// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

import (
	"errors"
	"image"
	"image/color"
	"image/color/palette"
	"image/gif"
	"io"
	"time"

	"golang.org/x/image/draw"
)

// Recorder collects rendered canvases into an animated GIF.
type Recorder struct {
	g gif.GIF

	// Palette is the palette used to quantize frames.
	// Index zero is transparent.
	Palette color.Palette

	// Drawer is used to draw frames into the palette.
	Drawer draw.Drawer
}

// NewRecorder returns a Recorder for an animation played the given number of
// times, with zero indicating forever. Frames are quantized to the web safe
// palette with Floyd-Steinberg error diffusion.
func NewRecorder(plays int) *Recorder {
	r := &Recorder{
		Palette: append(color.Palette{color.RGBA{}}, palette.WebSafe...),
		Drawer:  draw.FloydSteinberg,
	}
	switch {
	case plays == 0:
		r.g.LoopCount = 0
	case plays == 1:
		r.g.LoopCount = -1
	default:
		r.g.LoopCount = plays - 1
	}
	return r
}

// Add adds a copy of m to the animation, displayed for d.
func (r *Recorder) Add(m image.Image, d time.Duration) {
	b := m.Bounds()
	dst := image.NewPaletted(image.Rectangle{Max: b.Size()}, r.Palette)
	r.Drawer.Draw(dst, dst.Bounds(), m, b.Min)
	if len(r.g.Image) == 0 {
		r.g.Config = image.Config{ColorModel: r.Palette, Width: b.Dx(), Height: b.Dy()}
	}
	r.g.Image = append(r.g.Image, dst)
	r.g.Delay = append(r.g.Delay, int((d+5*time.Millisecond)/(10*time.Millisecond)))
	r.g.Disposal = append(r.g.Disposal, gif.DisposalBackground)
}

// Len returns the number of frames added to the recorder.
func (r *Recorder) Len() int {
	return len(r.g.Image)
}

// Encode writes the recorded animation to w.
func (r *Recorder) Encode(w io.Writer) error {
	if len(r.g.Image) == 0 {
		return errors.New("no frames recorded")
	}
	return gif.EncodeAll(w, &r.g)
}
