// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package container provides lazy chunk-level parsers for animated image
// containers.
//
// Each parser walks its container in file order and yields typed chunks
// that locate their bytes in the source by offset and length. Control chunks
// carry their decoded fields; image data chunks carry only their location
// so that payloads are read from the source when a frame is decoded.
package container

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"iter"
)

var (
	// ErrMalformedContainer is returned when the container structure
	// is invalid or truncated.
	ErrMalformedContainer = errors.New("malformed container")

	// ErrMissingHeader is returned when a container has no image header.
	ErrMissingHeader = errors.New("missing image header")
)

// Format is an animated image container format.
type Format int

const (
	Unknown Format = iota
	PNG
	WebP
	GIF
)

func (f Format) String() string {
	switch f {
	case PNG:
		return "png"
	case WebP:
		return "webp"
	case GIF:
		return "gif"
	default:
		return "unknown"
	}
}

// Chunks returns the chunk sequence for the container held in r.
func (f Format) Chunks(r io.ReaderAt, size int64) iter.Seq2[Chunk, error] {
	switch f {
	case PNG:
		return PNGChunks(r, size)
	case WebP:
		return WebPChunks(r, size)
	case GIF:
		return GIFChunks(r, size)
	default:
		return func(yield func(Chunk, error) bool) {
			yield(nil, fmt.Errorf("%w: unknown format", ErrMalformedContainer))
		}
	}
}

// Sniff returns the container format of the data held in r. Short data
// is reported as Unknown; other read errors are returned.
func Sniff(r io.ReaderAt) (Format, error) {
	var b [12]byte
	n, err := r.ReadAt(b[:], 0)
	if err != nil && err != io.EOF {
		return Unknown, fmt.Errorf("sniff format: %w", err)
	}
	switch m := b[:n]; {
	case len(m) >= len(pngSignature) && string(m[:len(pngSignature)]) == pngSignature:
		return PNG, nil
	case len(m) == 12 && string(m[:4]) == "RIFF" && string(m[8:12]) == "WEBP":
		return WebP, nil
	case len(m) >= 6 && (string(m[:6]) == "GIF87a" || string(m[:6]) == "GIF89a"):
		return GIF, nil
	default:
		return Unknown, nil
	}
}

// Span locates a chunk within its source.
type Span struct {
	// Type is the chunk's four character type.
	Type string
	// Offset is the offset of the first byte of the
	// chunk in the source.
	Offset int64
	// Length is the number of bytes in the chunk,
	// including any framing.
	Length int
}

// Location returns the receiver.
func (s Span) Location() Span { return s }

func (Span) chunk() {}

// Chunk is a container chunk. The concrete types of Chunk are Header,
// AnimationControl, FrameControl, FrameData, ImageData, End and Other.
type Chunk interface {
	Location() Span
	chunk()
}

// Header is the image header.
type Header struct {
	Span

	Width, Height int

	// Alpha indicates the image declares an alpha channel.
	Alpha bool
}

// AnimationControl marks the container as animated.
type AnimationControl struct {
	Span

	// NumFrames is the number of frames declared by
	// the container if it is known.
	NumFrames int

	// NumPlays is the number of times the animation
	// should be played. Zero indicates forever.
	NumPlays int

	// Background is the container's declared
	// background color.
	Background color.RGBA
}

// FrameControl opens a new frame.
type FrameControl struct {
	Span

	Sequence            uint32
	X, Y, Width, Height int

	// The frame display duration is
	// DelayNum/DelayDen seconds.
	DelayNum uint32
	DelayDen uint16

	Dispose Dispose
	Blend   Blend
}

// FrameData holds frame image data following a FrameControl.
type FrameData struct {
	Span

	Sequence uint32
}

// ImageData holds the default image data.
type ImageData struct {
	Span
}

// End is the logical end of the container.
type End struct {
	Span
}

// Other is any chunk without special meaning for animation. Other chunks
// form the context required to decode a frame payload.
type Other struct {
	Span
}

// Dispose is the operation applied to a frame's region after it has been
// displayed.
type Dispose uint8

const (
	DisposeNone       Dispose = 0
	DisposeBackground Dispose = 1
	DisposePrevious   Dispose = 2
)

func (d Dispose) String() string {
	switch d {
	case DisposeNone:
		return "none"
	case DisposeBackground:
		return "background"
	case DisposePrevious:
		return "previous"
	default:
		return fmt.Sprintf("Dispose(%d)", d)
	}
}

// Blend is the operation used to draw a frame onto the canvas.
type Blend uint8

const (
	BlendSource Blend = 0
	BlendOver   Blend = 1
)

func (b Blend) String() string {
	switch b {
	case BlendSource:
		return "source"
	case BlendOver:
		return "over"
	default:
		return fmt.Sprintf("Blend(%d)", b)
	}
}

// readAt reads len(b) bytes at off from r, returning an error wrapping
// ErrMalformedContainer if the source is short.
func readAt(r io.ReaderAt, b []byte, off int64) error {
	n, err := r.ReadAt(b, off)
	if n == len(b) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: short read at %d", ErrMalformedContainer, off)
	}
	return fmt.Errorf("read at %d: %w", off, err)
}

// MaxPixels is the largest image or frame area, in pixels, accepted from
// a container.
const MaxPixels = 1 << 28

// checkDimensions returns an error wrapping ErrMalformedContainer if a w×h
// image is empty or larger than MaxPixels.
func checkDimensions(what string, w, h int) error {
	if w <= 0 || h <= 0 {
		return fmt.Errorf("%w: invalid %s dimensions %dx%d", ErrMalformedContainer, what, w, h)
	}
	return checkArea(what, w, h)
}

// checkArea returns an error wrapping ErrMalformedContainer if a w×h image
// is larger than MaxPixels.
func checkArea(what string, w, h int) error {
	if int64(w)*int64(h) > MaxPixels {
		return fmt.Errorf("%w: %s dimensions %dx%d too large", ErrMalformedContainer, what, w, h)
	}
	return nil
}

func truncated(what string, off int64) error {
	return fmt.Errorf("%w: truncated %s at %d", ErrMalformedContainer, what, off)
}
