// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package container

import (
	"encoding/binary"
	"fmt"
	"io"
	"iter"
)

// GIF block introducers and extension labels.
const (
	gifExtension  = 0x21
	gifDescriptor = 0x2c
	gifTrailer    = 0x3b

	gifGraphicControl = 0xf9
	gifApplication    = 0xff
)

// GIF disposal methods.
const (
	restoreBackground = 2
	restorePrevious   = 3
)

const gifHeader = 13 // Signature and logical screen descriptor.

// GIFChunks returns the blocks of the GIF held in r as chunks.
//
// The logical screen descriptor is yielded as a Header and the global color
// table and extensions other than graphic control and NETSCAPE2.0 as Other
// chunks. A NETSCAPE2.0 loop count is yielded as an AnimationControl with
// NumPlays following the image/gif convention; if none is present before the
// first image an AnimationControl playing once is yielded. Each image yields
// a FrameControl spanning its graphic control extension, if any, and a
// FrameData spanning its descriptor, local color table and image data.
func GIFChunks(r io.ReaderAt, size int64) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		var b [gifHeader]byte
		err := readAt(r, b[:], 0)
		if err != nil {
			yield(nil, err)
			return
		}
		if string(b[:6]) != "GIF87a" && string(b[:6]) != "GIF89a" {
			yield(nil, fmt.Errorf("%w: invalid gif signature", ErrMalformedContainer))
			return
		}
		h := Header{
			Span:   Span{Type: "LSD ", Offset: 0, Length: gifHeader},
			Width:  int(binary.LittleEndian.Uint16(b[6:])),
			Height: int(binary.LittleEndian.Uint16(b[8:])),
			Alpha:  true,
		}
		err = checkArea("logical screen", h.Width, h.Height)
		if err != nil {
			yield(nil, err)
			return
		}
		if !yield(h, nil) {
			return
		}
		off := int64(gifHeader)
		if n := colorTableSize(b[10]); n != 0 {
			if off+n > size {
				yield(nil, truncated("global color table", off))
				return
			}
			if !yield(Other{Span: Span{Type: "GCT ", Offset: off, Length: int(n)}}, nil) {
				return
			}
			off += n
		}

		var (
			animated bool
			gce      *FrameControl
		)
		for {
			var intro [2]byte
			err := readAt(r, intro[:1], off)
			if err != nil {
				yield(nil, err)
				return
			}
			switch intro[0] {
			case gifExtension:
				err := readAt(r, intro[:], off)
				if err != nil {
					yield(nil, err)
					return
				}
				end, err := skipSubBlocks(r, off+2, size)
				if err != nil {
					yield(nil, err)
					return
				}
				s := Span{Offset: off, Length: int(end - off)}
				switch intro[1] {
				case gifGraphicControl:
					s.Type = "GCE "
					fc, err := gifGraphicControlExtension(r, s)
					if err != nil {
						yield(nil, err)
						return
					}
					gce = &fc
				case gifApplication:
					s.Type = "APP "
					plays, ok, err := netscapeLoopCount(r, s)
					if err != nil {
						yield(nil, err)
						return
					}
					if ok {
						animated = true
						if !yield(AnimationControl{Span: s, NumPlays: plays}, nil) {
							return
						}
						break
					}
					if !yield(Other{Span: s}, nil) {
						return
					}
				default:
					s.Type = "EXT "
					if !yield(Other{Span: s}, nil) {
						return
					}
				}
				off = end

			case gifDescriptor:
				var d [10]byte
				err := readAt(r, d[:], off)
				if err != nil {
					yield(nil, err)
					return
				}
				data := off + int64(len(d)) + colorTableSize(d[9])
				// Skip the LZW minimum code size.
				end, err := skipSubBlocks(r, data+1, size)
				if err != nil {
					yield(nil, err)
					return
				}
				if !animated {
					animated = true
					if !yield(AnimationControl{Span: Span{Type: "APP ", Offset: off}, NumPlays: 1}, nil) {
						return
					}
				}
				fc := FrameControl{
					Span:     Span{Type: "GCE ", Offset: off},
					DelayDen: 100,
					Blend:    BlendOver,
				}
				if gce != nil {
					fc = *gce
				}
				fc.X = int(binary.LittleEndian.Uint16(d[1:]))
				fc.Y = int(binary.LittleEndian.Uint16(d[3:]))
				fc.Width = int(binary.LittleEndian.Uint16(d[5:]))
				fc.Height = int(binary.LittleEndian.Uint16(d[7:]))
				gce = nil
				err = checkArea("image", fc.Width, fc.Height)
				if err != nil {
					yield(nil, err)
					return
				}
				if !yield(fc, nil) {
					return
				}
				if !yield(FrameData{Span: Span{Type: "IMG ", Offset: off, Length: int(end - off)}}, nil) {
					return
				}
				off = end

			case gifTrailer:
				yield(End{Span: Span{Type: "TRLR", Offset: off, Length: 1}}, nil)
				return

			default:
				yield(nil, fmt.Errorf("%w: unknown gif block %#x at %d", ErrMalformedContainer, intro[0], off))
				return
			}
		}
	}
}

// colorTableSize returns the size of the color table described by the
// packed fields of a logical screen or image descriptor.
func colorTableSize(flags byte) int64 {
	const hasTable = 0x80
	if flags&hasTable == 0 {
		return 0
	}
	return 3 << ((flags & 0x7) + 1)
}

// skipSubBlocks returns the offset following the data sub-block sequence
// starting at off.
func skipSubBlocks(r io.ReaderAt, off, size int64) (int64, error) {
	var n [1]byte
	for {
		if off >= size {
			return 0, truncated("gif sub-block", off)
		}
		err := readAt(r, n[:], off)
		if err != nil {
			return 0, err
		}
		off += 1 + int64(n[0])
		if n[0] == 0 {
			return off, nil
		}
	}
}

func gifGraphicControlExtension(r io.ReaderAt, s Span) (FrameControl, error) {
	var b [6]byte
	if s.Length < 2+len(b) {
		return FrameControl{}, fmt.Errorf("%w: short graphic control extension", ErrMalformedContainer)
	}
	err := readAt(r, b[:], s.Offset+2)
	if err != nil {
		return FrameControl{}, err
	}
	if b[0] != 4 {
		return FrameControl{}, fmt.Errorf("%w: invalid graphic control extension size %d", ErrMalformedContainer, b[0])
	}
	fc := FrameControl{
		Span:     s,
		DelayNum: uint32(binary.LittleEndian.Uint16(b[2:])),
		DelayDen: 100,
		Blend:    BlendOver,
	}
	switch (b[1] >> 2) & 0x7 {
	case restoreBackground:
		fc.Dispose = DisposeBackground
	case restorePrevious:
		fc.Dispose = DisposePrevious
	}
	return fc, nil
}

// netscapeLoopCount returns the number of plays described by a NETSCAPE2.0
// application extension. If the extension is not a loop extension, ok is
// false.
func netscapeLoopCount(r io.ReaderAt, s Span) (plays int, ok bool, err error) {
	var b [16]byte
	if s.Length < 2+len(b) {
		return 0, false, nil
	}
	err = readAt(r, b[:], s.Offset+2)
	if err != nil {
		return 0, false, err
	}
	if b[0] != 11 || string(b[1:12]) != "NETSCAPE2.0" || b[12] != 3 || b[13] != 1 {
		return 0, false, nil
	}
	n := int(binary.LittleEndian.Uint16(b[14:]))
	if n == 0 {
		return 0, true, nil
	}
	return n + 1, true, nil
}
