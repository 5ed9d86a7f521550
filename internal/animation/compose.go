// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"math/bits"

	"golang.org/x/image/draw"

	"github.com/kortschak/frameseq/internal/container"
	"github.com/kortschak/frameseq/internal/pool"
)

// ErrCanvasTooLarge is returned when a canvas buffer size cannot be
// represented.
var ErrCanvasTooLarge = errors.New("canvas too large")

// CanvasBytes returns the size of the canvas buffer for a w×h image
// rendered with the given sample factor. It returns -1 if the arguments
// are invalid or the size overflows int.
func CanvasBytes(w, h, sample int) int {
	if w < 0 || h < 0 || sample < 1 || (h != 0 && w > math.MaxInt/h) {
		return -1
	}
	n := ceilDiv(ceilDiv(w*h, sample), sample)
	if n > math.MaxInt/4 {
		return -1
	}
	return n * 4
}

func ceilDiv(a, b int) int {
	q := a / b
	if a%b != 0 {
		q++
	}
	return q
}

// Compositor renders animation frames onto a canvas. The canvas and the
// snapshot used to restore the canvas for frames disposed to previous are
// obtained from the compositor's pool and held until Release is called.
//
// A Compositor is not safe for concurrent use.
type Compositor struct {
	info   *Info
	src    io.ReaderAt
	size   int64
	sample int
	pool   *pool.Pool

	buf    []byte
	canvas *image.RGBA

	// frame and payload are reused across
	// frames for scaling frame images and
	// building standalone payloads.
	frame   []byte
	payload []byte

	// snapshot holds the canvas state for
	// restoration and the disposal and
	// region of the last rendered frame.
	snapshot struct {
		dispose container.Dispose
		rect    image.Rectangle
		img     *image.RGBA
	}

	// views holds the image headers for
	// pool buffers keyed on their first
	// element.
	views map[*byte]*image.RGBA
}

// NewCompositor returns a Compositor for the animation described by info
// with data held in src. The canvas is reduced in each dimension by the
// sample factor, which must be positive. If the canvas size cannot be
// represented, an error wrapping ErrCanvasTooLarge is returned.
func NewCompositor(info *Info, src io.ReaderAt, size int64, sample int, p *pool.Pool) (*Compositor, error) {
	n := CanvasBytes(info.Width, info.Height, sample)
	if n < 0 {
		return nil, fmt.Errorf("%w: %dx%d/%d", ErrCanvasTooLarge, info.Width, info.Height, sample)
	}
	c := &Compositor{
		info:   info,
		src:    src,
		size:   size,
		sample: sample,
		pool:   p,
		views:  make(map[*byte]*image.RGBA),
	}
	w, h := info.Width/sample, info.Height/sample
	c.buf = p.Get(n)
	c.canvas = c.view(c.buf, w, h)
	c.snapshot.img = c.view(p.Get(n), w, h)
	return c, nil
}

// Canvas returns the canvas image. The returned image is valid until
// Release is called.
func (c *Compositor) Canvas() *image.RGBA {
	return c.canvas
}

// Buffer returns the canvas pixel buffer. Its length is given by
// CanvasBytes for the compositor's animation and sample factor. The
// returned buffer is valid until Release is called.
func (c *Compositor) Buffer() []byte {
	return c.buf
}

// Sample returns the compositor's sample factor.
func (c *Compositor) Sample() int {
	return c.sample
}

// Render renders frame i onto the canvas. If the frame's payload cannot be
// decoded, the disposal of the previous frame and the blend operation of
// frame i are still applied, and a *FramePayloadDecodeError is returned.
func (c *Compositor) Render(i int) error {
	f := &c.info.Frames[i]
	if i == 0 {
		c.fill(c.canvas.Bounds(), c.info.Background)
		// Start each loop with no snapshot.
		c.snapshot.dispose = container.DisposeNone
	} else {
		r := c.snapshot.rect
		switch c.snapshot.dispose {
		case container.DisposePrevious:
			draw.Copy(c.canvas, r.Min, c.snapshot.img, r, draw.Src, nil)
		case container.DisposeBackground:
			c.fill(r, c.info.Background)
		}
	}
	if f.Dispose == container.DisposePrevious && c.snapshot.dispose != container.DisposePrevious {
		copy(c.snapshot.img.Pix, c.canvas.Pix)
	}
	c.snapshot.dispose = f.Dispose

	dst := c.scaled(f.Bounds)
	if f.Blend == container.BlendSource {
		c.fill(dst, color.RGBA{})
	}
	c.snapshot.rect = dst

	m, err := f.Decode(c.src, c.size, c.info, c.scratch)
	if err != nil {
		return &FramePayloadDecodeError{Index: i, Err: err}
	}
	c.draw(dst, m)
	return nil
}

// Release returns the compositor's buffers to the pool and forgets all
// buffer views. The Compositor must not be used after Release.
func (c *Compositor) Release() {
	if c.canvas == nil {
		return
	}
	c.pool.Put(c.buf)
	c.pool.Put(c.snapshot.img.Pix)
	c.pool.Put(c.frame)
	c.pool.Put(c.payload)
	clear(c.views)
	c.buf = nil
	c.canvas = nil
	c.snapshot.img = nil
	c.frame = nil
	c.payload = nil
}

// scratch returns the compositor's payload buffer resized to n bytes.
func (c *Compositor) scratch(n int) []byte {
	c.payload = c.grow(c.payload, n)
	return c.payload[:n]
}

// grow returns buf if it holds at least n bytes, or otherwise returns buf
// to the pool and replaces it with a pooled buffer with a length of the
// next power of two. The contents of the returned buffer are undefined.
func (c *Compositor) grow(buf []byte, n int) []byte {
	if n <= len(buf) {
		return buf
	}
	c.pool.Put(buf)
	if buf != nil {
		delete(c.views, &buf[0])
	}
	return c.pool.Get(1 << bits.Len(uint(n-1)))
}

// scaled returns r reduced by the sample factor.
func (c *Compositor) scaled(r image.Rectangle) image.Rectangle {
	s := c.sample
	return image.Rect(r.Min.X/s, r.Min.Y/s, r.Max.X/s, r.Max.Y/s)
}

func (c *Compositor) fill(r image.Rectangle, col color.RGBA) {
	draw.Draw(c.canvas, r, &image.Uniform{col}, image.Point{}, draw.Src)
}

// draw draws m scaled to dst onto the canvas using the frame buffer.
func (c *Compositor) draw(dst image.Rectangle, m image.Image) {
	if dst.Empty() {
		return
	}
	c.frame = c.grow(c.frame, dst.Dx()*dst.Dy()*4)
	frame := c.view(c.frame, dst.Dx(), dst.Dy())
	if b := m.Bounds(); b.Size() == dst.Size() {
		draw.Copy(frame, image.Point{}, m, b, draw.Src, nil)
	} else {
		draw.ApproxBiLinear.Scale(frame, frame.Bounds(), m, b, draw.Src, nil)
	}
	draw.Copy(c.canvas, dst.Min, frame, frame.Bounds(), draw.Over, nil)
}

// view returns an image using buf as its pixel data.
func (c *Compositor) view(buf []byte, w, h int) *image.RGBA {
	r := image.Rect(0, 0, w, h)
	if len(buf) == 0 {
		return &image.RGBA{Rect: r}
	}
	if m, ok := c.views[&buf[0]]; ok && m.Rect == r {
		return m
	}
	m := &image.RGBA{Pix: buf[:4*w*h], Stride: 4 * w, Rect: r}
	c.views[&buf[0]] = m
	return m
}
