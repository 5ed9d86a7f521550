// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

import (
	"image"
	"image/color"
	"log/slog"
	"time"

	"github.com/kortschak/frameseq/internal/container"
)

// Frame is a single animation frame. A Frame holds the locations of its
// data in the source, not the data itself.
type Frame struct {
	// Index is the frame's position in the animation.
	Index int

	// Bounds is the frame's region on the canvas
	// at full size.
	Bounds image.Rectangle

	// Duration is the frame's display time.
	Duration time.Duration

	Dispose container.Dispose
	Blend   container.Blend

	// Control is the frame's control chunk.
	Control container.Span

	// Payload holds the frame's image data chunks.
	Payload []container.Span

	// Prefix holds the context chunks that
	// preceded the frame's control chunk.
	Prefix []container.Span
}

func (f Frame) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("index", f.Index),
		slog.String("bounds", f.Bounds.String()),
		slog.Duration("duration", f.Duration),
		slog.String("dispose", f.Dispose.String()),
		slog.String("blend", f.Blend.String()),
	)
}

// Info describes an animation.
type Info struct {
	Format container.Format

	Width, Height int

	// LoopCount is the number of times the animation
	// is played. Zero indicates forever.
	LoopCount int

	// Background is the color used to clear the canvas.
	Background color.RGBA

	// Header is the container's image header chunk.
	Header container.Span

	// Still indicates the source is decoded as a
	// single still image.
	Still bool

	Frames []Frame
}

// Bounds returns the full size canvas bounds.
func (i *Info) Bounds() image.Rectangle {
	return image.Rect(0, 0, i.Width, i.Height)
}

// FrameDuration returns the display duration for a frame with the given
// delay fraction in seconds. A zero denominator is treated as 100, and a
// duration of less than 10ms is treated as 100ms.
func FrameDuration(num uint32, den uint16) time.Duration {
	if den == 0 {
		den = 100
	}
	ms := int64(num) * 1000 / int64(den)
	if ms < 10 {
		ms = 100
	}
	return time.Duration(ms) * time.Millisecond
}

// webpFrameDuration returns the display duration for a WebP frame with the
// given duration in milliseconds. A zero duration is treated as 100ms.
func webpFrameDuration(ms uint32) time.Duration {
	if ms == 0 {
		ms = 100
	}
	return time.Duration(ms) * time.Millisecond
}
