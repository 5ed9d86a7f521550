// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

import (
	"errors"
	"fmt"
	"image"
	"iter"
	"slices"

	"github.com/kortschak/frameseq/internal/container"
)

// Assemble builds the frame list for the animation described by chunks.
//
// Each frame control chunk opens a new frame whose prefix is the set of
// context chunks seen so far, and frame and image data chunks are attached
// to the most recently opened frame. If image data is found before any
// animation control chunk, the source is treated as a still image: a single
// frame covering the canvas is returned and the rest of the sequence is not
// read. A malformed container after the header has been read also results in
// a still image.
//
// If no header is found, or the container is malformed before the header,
// Assemble returns an error wrapping container.ErrMissingHeader. Other
// errors from the chunk sequence are returned unaltered.
func Assemble(format container.Format, chunks iter.Seq2[container.Chunk, error]) (*Info, error) {
	info := &Info{Format: format}
	var (
		header   *container.Header
		animated bool
		others   []container.Span
	)
	for c, err := range chunks {
		if err != nil {
			if errors.Is(err, container.ErrMalformedContainer) {
				if header == nil {
					return nil, fmt.Errorf("%w: %w", container.ErrMissingHeader, err)
				}
				return info.still(), nil
			}
			return nil, err
		}
		if header == nil {
			h, ok := c.(container.Header)
			if !ok {
				// Leading non-header chunks.
				continue
			}
			header = &h
			info.Width = h.Width
			info.Height = h.Height
			info.Header = h.Span
			continue
		}

		switch c := c.(type) {
		case container.Header:
			// Only the first header is used.
		case container.AnimationControl:
			animated = true
			info.LoopCount = c.NumPlays
			if !header.Alpha {
				info.Background = c.Background
			}
		case container.FrameControl:
			d := FrameDuration(c.DelayNum, c.DelayDen)
			if format == container.WebP {
				// WebP frame durations are in milliseconds.
				d = webpFrameDuration(c.DelayNum)
			}
			f := Frame{
				Index:    len(info.Frames),
				Bounds:   image.Rect(c.X, c.Y, c.X+c.Width, c.Y+c.Height),
				Duration: d,
				Dispose:  c.Dispose,
				Blend:    c.Blend,
				Control:  c.Span,
				Prefix:   slices.Clip(others),
			}
			if f.Index == 0 && f.Dispose == container.DisposePrevious {
				// There is nothing to restore to.
				f.Dispose = container.DisposeBackground
			}
			info.Frames = append(info.Frames, f)
		case container.FrameData:
			if n := len(info.Frames); n != 0 {
				info.Frames[n-1].Payload = append(info.Frames[n-1].Payload, c.Span)
			}
		case container.ImageData:
			if !animated {
				return info.still(), nil
			}
			if n := len(info.Frames); n != 0 {
				info.Frames[n-1].Payload = append(info.Frames[n-1].Payload, c.Span)
			}
		case container.End:
		case container.Other:
			others = append(others, c.Span)
		}
	}
	if header == nil {
		return nil, container.ErrMissingHeader
	}
	if !animated {
		return info.still(), nil
	}
	return info, nil
}

// still converts the receiver to a single frame still image.
func (i *Info) still() *Info {
	i.Still = true
	i.LoopCount = 1
	i.Frames = []Frame{{
		Bounds:   i.Bounds(),
		Duration: FrameDuration(0, 0),
		Blend:    container.BlendSource,
	}}
	return i
}
