// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package apngtest provides an APNG encoder for building test animations.
package apngtest

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"io"
)

// Frame is an animation frame.
type Frame struct {
	// Image is the frame's image. Its bounds must
	// start at the origin.
	Image *image.Paletted

	X, Y               int
	DelayNum, DelayDen uint16

	// Dispose and Blend are the raw
	// fcTL dispose_op and blend_op values.
	Dispose, Blend byte
}

// Animation is an APNG animation. All images in the animation must share
// the same palette.
type Animation struct {
	Width, Height int
	NumPlays      int

	// Default is an image that is not part of the
	// animation. If it is nil, the first frame is
	// used as the default image.
	Default *image.Paletted

	Frames []Frame

	// Still omits the animation chunks, writing
	// only the default image, or the first frame's
	// image if Default is nil.
	Still bool
}

// Encode writes a to w.
func Encode(w io.Writer, a Animation) error {
	if len(a.Frames) == 0 && a.Default == nil {
		return errors.New("no image")
	}
	first := a.Default
	if first == nil {
		first = a.Frames[0].Image
	}
	if a.Still {
		return png.Encode(w, first)
	}

	hdr, ctx, _, err := split(first)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	ihdr := append([]byte(nil), hdr...)
	binary.BigEndian.PutUint32(ihdr[0:], uint32(a.Width))
	binary.BigEndian.PutUint32(ihdr[4:], uint32(a.Height))
	writeChunk(&buf, "IHDR", ihdr)

	actl := make([]byte, 8)
	binary.BigEndian.PutUint32(actl[0:], uint32(len(a.Frames)))
	binary.BigEndian.PutUint32(actl[4:], uint32(a.NumPlays))
	writeChunk(&buf, "acTL", actl)

	for _, c := range ctx {
		writeChunk(&buf, c.typ, c.data)
	}

	if a.Default != nil {
		_, _, data, err := split(a.Default)
		if err != nil {
			return err
		}
		writeChunk(&buf, "IDAT", data)
	}

	var seq uint32
	for i, f := range a.Frames {
		b := f.Image.Bounds()
		if b.Min != (image.Point{}) {
			return fmt.Errorf("frame %d not at origin: %v", i, b)
		}
		fctl := make([]byte, 26)
		binary.BigEndian.PutUint32(fctl[0:], seq)
		binary.BigEndian.PutUint32(fctl[4:], uint32(b.Dx()))
		binary.BigEndian.PutUint32(fctl[8:], uint32(b.Dy()))
		binary.BigEndian.PutUint32(fctl[12:], uint32(f.X))
		binary.BigEndian.PutUint32(fctl[16:], uint32(f.Y))
		binary.BigEndian.PutUint16(fctl[20:], f.DelayNum)
		binary.BigEndian.PutUint16(fctl[22:], f.DelayDen)
		fctl[24] = f.Dispose
		fctl[25] = f.Blend
		writeChunk(&buf, "fcTL", fctl)
		seq++

		_, _, data, err := split(f.Image)
		if err != nil {
			return err
		}
		if i == 0 && a.Default == nil {
			writeChunk(&buf, "IDAT", data)
			continue
		}
		fdat := make([]byte, 4+len(data))
		binary.BigEndian.PutUint32(fdat, seq)
		copy(fdat[4:], data)
		writeChunk(&buf, "fdAT", fdat)
		seq++
	}
	writeChunk(&buf, "IEND", nil)

	_, err = w.Write(buf.Bytes())
	return err
}

// Solid returns a w×h paletted image filled with pal[idx].
func Solid(w, h int, pal color.Palette, idx uint8) *image.Paletted {
	m := image.NewPaletted(image.Rect(0, 0, w, h), pal)
	for i := range m.Pix {
		m.Pix[i] = idx
	}
	return m
}

type chunk struct {
	typ  string
	data []byte
}

// split encodes m as a PNG and returns its IHDR data, the ancillary
// chunks between IHDR and IDAT, and the concatenated IDAT data.
func split(m image.Image) (ihdr []byte, ctx []chunk, data []byte, err error) {
	var buf bytes.Buffer
	err = png.Encode(&buf, m)
	if err != nil {
		return nil, nil, nil, err
	}
	b := buf.Bytes()[8:]
	for len(b) >= 12 {
		n := binary.BigEndian.Uint32(b)
		typ := string(b[4:8])
		d := b[8 : 8+n]
		switch typ {
		case "IHDR":
			ihdr = d
		case "IDAT":
			data = append(data, d...)
		case "IEND":
		default:
			ctx = append(ctx, chunk{typ: typ, data: d})
		}
		b = b[12+n:]
	}
	return ihdr, ctx, data, nil
}

func writeChunk(w *bytes.Buffer, typ string, data []byte) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(data)))
	w.Write(n[:])
	crc := crc32.NewIEEE()
	crc.Write([]byte(typ))
	crc.Write(data)
	w.WriteString(typ)
	w.Write(data)
	binary.BigEndian.PutUint32(n[:], crc.Sum32())
	w.Write(n[:])
}
