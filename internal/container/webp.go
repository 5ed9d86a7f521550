// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package container

import (
	"encoding/binary"
	"fmt"
	"image/color"
	"io"
	"iter"
)

// RIFF chunk header: fourcc and little-endian payload size.
const riffChunkHeader = 8

// Size of the ANMF frame header preceding the frame's sub-chunks.
const anmfHeader = 16

// WebPChunks returns the chunks of the WebP held in r. An ANMF chunk yields a
// FrameControl for the frame header followed by a FrameData spanning the
// frame's ALPH, VP8 and VP8L sub-chunks. A file without a VP8X chunk yields
// a Header derived from its VP8 or VP8L bitstream.
func WebPChunks(r io.ReaderAt, size int64) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		var riff [12]byte
		err := readAt(r, riff[:], 0)
		if err != nil {
			yield(nil, err)
			return
		}
		if string(riff[:4]) != "RIFF" || string(riff[8:]) != "WEBP" {
			yield(nil, fmt.Errorf("%w: invalid webp signature", ErrMalformedContainer))
			return
		}
		end := riffChunkHeader + int64(binary.LittleEndian.Uint32(riff[4:8]))
		if end > size {
			end = size
		}

		var (
			hdr        [riffChunkHeader]byte
			haveHeader bool
		)
		off := int64(len(riff))
		for off < end {
			if off+riffChunkHeader > end {
				yield(nil, truncated("chunk", off))
				return
			}
			err := readAt(r, hdr[:], off)
			if err != nil {
				yield(nil, err)
				return
			}
			n := int64(binary.LittleEndian.Uint32(hdr[4:]))
			total := riffChunkHeader + n
			if off+total > end {
				yield(nil, truncated(string(hdr[:4]), off))
				return
			}
			s := Span{Type: string(hdr[:4]), Offset: off, Length: int(total)}
			switch s.Type {
			case "VP8X":
				h, err := webpVP8X(r, s)
				if err != nil {
					yield(nil, err)
					return
				}
				haveHeader = true
				if !yield(h, nil) {
					return
				}
			case "ANIM":
				a, err := webpANIM(r, s)
				if err != nil {
					yield(nil, err)
					return
				}
				if !yield(a, nil) {
					return
				}
			case "ANMF":
				fc, err := webpANMF(r, s)
				if err != nil {
					yield(nil, err)
					return
				}
				if !yield(fc, nil) {
					return
				}
				fd := FrameData{Span: Span{
					Type:   s.Type,
					Offset: s.Offset + riffChunkHeader + anmfHeader,
					Length: s.Length - riffChunkHeader - anmfHeader,
				}}
				if !yield(fd, nil) {
					return
				}
			case "VP8 ", "VP8L", "ALPH":
				if !haveHeader {
					h, err := webpBitstreamHeader(r, s)
					if err != nil {
						yield(nil, err)
						return
					}
					haveHeader = true
					if !yield(h, nil) {
						return
					}
				}
				if !yield(ImageData{Span: s}, nil) {
					return
				}
			default:
				if !yield(Other{Span: s}, nil) {
					return
				}
			}
			// Chunk payloads are padded to even length.
			off += total + n&1
		}
		yield(End{Span: Span{Type: "RIFF", Offset: end}}, nil)
	}
}

func webpVP8X(r io.ReaderAt, s Span) (Header, error) {
	if s.Length-riffChunkHeader < 10 {
		return Header{}, fmt.Errorf("%w: invalid VP8X length %d", ErrMalformedContainer, s.Length-riffChunkHeader)
	}
	var b [10]byte
	err := readAt(r, b[:], s.Offset+riffChunkHeader)
	if err != nil {
		return Header{}, err
	}
	const alphaFlag = 0x10
	h := Header{
		Span:   s,
		Width:  int(uint24(b[4:])) + 1,
		Height: int(uint24(b[7:])) + 1,
		Alpha:  b[0]&alphaFlag != 0,
	}
	err = checkDimensions("VP8X", h.Width, h.Height)
	if err != nil {
		return Header{}, err
	}
	return h, nil
}

func webpANIM(r io.ReaderAt, s Span) (AnimationControl, error) {
	if s.Length-riffChunkHeader < 6 {
		return AnimationControl{}, fmt.Errorf("%w: invalid ANIM length %d", ErrMalformedContainer, s.Length-riffChunkHeader)
	}
	var b [6]byte
	err := readAt(r, b[:], s.Offset+riffChunkHeader)
	if err != nil {
		return AnimationControl{}, err
	}
	return AnimationControl{
		Span:       s,
		NumPlays:   int(binary.LittleEndian.Uint16(b[4:])),
		Background: color.RGBA{B: b[0], G: b[1], R: b[2], A: b[3]},
	}, nil
}

func webpANMF(r io.ReaderAt, s Span) (FrameControl, error) {
	if s.Length-riffChunkHeader < anmfHeader {
		return FrameControl{}, fmt.Errorf("%w: invalid ANMF length %d", ErrMalformedContainer, s.Length-riffChunkHeader)
	}
	var b [anmfHeader]byte
	err := readAt(r, b[:], s.Offset+riffChunkHeader)
	if err != nil {
		return FrameControl{}, err
	}
	const (
		disposeFlag = 0x01
		noBlendFlag = 0x02
	)
	fc := FrameControl{
		Span:     s,
		X:        int(uint24(b[0:])) * 2,
		Y:        int(uint24(b[3:])) * 2,
		Width:    int(uint24(b[6:])) + 1,
		Height:   int(uint24(b[9:])) + 1,
		DelayNum: uint24(b[12:]),
		DelayDen: 1000,
		Blend:    BlendOver,
	}
	if b[15]&noBlendFlag != 0 {
		fc.Blend = BlendSource
	}
	if b[15]&disposeFlag != 0 {
		fc.Dispose = DisposeBackground
	}
	err = checkDimensions("ANMF", fc.Width, fc.Height)
	if err != nil {
		return FrameControl{}, err
	}
	return fc, nil
}

// webpBitstreamHeader returns the image header described by a VP8, VP8L
// or ALPH chunk. An ALPH chunk has no dimensions, so the first VP8 chunk
// following it is used.
func webpBitstreamHeader(r io.ReaderAt, s Span) (Header, error) {
	var b [10]byte
	switch s.Type {
	case "VP8 ":
		if s.Length-riffChunkHeader < len(b) {
			return Header{}, fmt.Errorf("%w: short VP8 chunk", ErrMalformedContainer)
		}
		err := readAt(r, b[:], s.Offset+riffChunkHeader)
		if err != nil {
			return Header{}, err
		}
		if b[3] != 0x9d || b[4] != 0x01 || b[5] != 0x2a {
			return Header{}, fmt.Errorf("%w: invalid VP8 start code", ErrMalformedContainer)
		}
		return Header{
			Span:   s,
			Width:  int(binary.LittleEndian.Uint16(b[6:]) & 0x3fff),
			Height: int(binary.LittleEndian.Uint16(b[8:]) & 0x3fff),
		}, nil
	case "VP8L":
		if s.Length-riffChunkHeader < 5 {
			return Header{}, fmt.Errorf("%w: short VP8L chunk", ErrMalformedContainer)
		}
		err := readAt(r, b[:5], s.Offset+riffChunkHeader)
		if err != nil {
			return Header{}, err
		}
		if b[0] != 0x2f {
			return Header{}, fmt.Errorf("%w: invalid VP8L signature", ErrMalformedContainer)
		}
		bits := binary.LittleEndian.Uint32(b[1:])
		return Header{
			Span:   s,
			Width:  int(bits&0x3fff) + 1,
			Height: int(bits>>14&0x3fff) + 1,
			Alpha:  bits>>28&1 != 0,
		}, nil
	default:
		next := s.Offset + int64(s.Length) + int64(s.Length&1)
		var hdr [riffChunkHeader]byte
		err := readAt(r, hdr[:], next)
		if err != nil {
			return Header{}, err
		}
		if string(hdr[:4]) != "VP8 " {
			return Header{}, fmt.Errorf("%w: ALPH chunk not followed by VP8", ErrMalformedContainer)
		}
		h, err := webpBitstreamHeader(r, Span{
			Type:   "VP8 ",
			Offset: next,
			Length: riffChunkHeader + int(binary.LittleEndian.Uint32(hdr[4:])),
		})
		h.Alpha = true
		return h, err
	}
}

func uint24(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}
