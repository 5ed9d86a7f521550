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

const pngSignature = "\x89PNG\r\n\x1a\n"

// PNG chunk framing: length and type before the data, CRC after.
const (
	pngChunkHeader  = 8
	pngChunkTrailer = 4
)

// PNGChunks returns the chunks of the PNG or APNG held in r. Chunk CRCs are
// not verified. The sequence ends after the IEND chunk or at the end of the
// source, and may be ranged over more than once.
func PNGChunks(r io.ReaderAt, size int64) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		var sig [len(pngSignature)]byte
		err := readAt(r, sig[:], 0)
		if err != nil {
			yield(nil, err)
			return
		}
		if string(sig[:]) != pngSignature {
			yield(nil, fmt.Errorf("%w: invalid png signature", ErrMalformedContainer))
			return
		}

		off := int64(len(pngSignature))
		var hdr [pngChunkHeader]byte
		for off < size {
			if off+pngChunkHeader+pngChunkTrailer > size {
				yield(nil, truncated("chunk", off))
				return
			}
			err := readAt(r, hdr[:], off)
			if err != nil {
				yield(nil, err)
				return
			}
			n := int64(binary.BigEndian.Uint32(hdr[:4]))
			total := pngChunkHeader + n + pngChunkTrailer
			if off+total > size {
				yield(nil, truncated(string(hdr[4:]), off))
				return
			}
			c, err := pngChunk(r, Span{Type: string(hdr[4:]), Offset: off, Length: int(total)})
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(c, nil) {
				return
			}
			if _, ok := c.(End); ok {
				return
			}
			off += total
		}
	}
}

func pngChunk(r io.ReaderAt, s Span) (Chunk, error) {
	data := s.Offset + pngChunkHeader
	n := s.Length - pngChunkHeader - pngChunkTrailer
	switch s.Type {
	case "IHDR":
		if n != 13 {
			return nil, fmt.Errorf("%w: invalid IHDR length %d", ErrMalformedContainer, n)
		}
		var b [8]byte
		err := readAt(r, b[:], data)
		if err != nil {
			return nil, err
		}
		h := Header{
			Span:   s,
			Width:  int(binary.BigEndian.Uint32(b[:4])),
			Height: int(binary.BigEndian.Uint32(b[4:])),
		}
		err = checkDimensions("IHDR", h.Width, h.Height)
		if err != nil {
			return nil, err
		}
		return h, nil
	case "acTL":
		if n != 8 {
			return nil, fmt.Errorf("%w: invalid acTL length %d", ErrMalformedContainer, n)
		}
		var b [8]byte
		err := readAt(r, b[:], data)
		if err != nil {
			return nil, err
		}
		return AnimationControl{
			Span:      s,
			NumFrames: int(binary.BigEndian.Uint32(b[:4])),
			NumPlays:  int(binary.BigEndian.Uint32(b[4:])),
		}, nil
	case "fcTL":
		if n != 26 {
			return nil, fmt.Errorf("%w: invalid fcTL length %d", ErrMalformedContainer, n)
		}
		var b [26]byte
		err := readAt(r, b[:], data)
		if err != nil {
			return nil, err
		}
		fc := FrameControl{
			Span:     s,
			Sequence: binary.BigEndian.Uint32(b[0:]),
			Width:    int(binary.BigEndian.Uint32(b[4:])),
			Height:   int(binary.BigEndian.Uint32(b[8:])),
			X:        int(binary.BigEndian.Uint32(b[12:])),
			Y:        int(binary.BigEndian.Uint32(b[16:])),
			DelayNum: uint32(binary.BigEndian.Uint16(b[20:])),
			DelayDen: binary.BigEndian.Uint16(b[22:]),
			Dispose:  Dispose(b[24]),
			Blend:    Blend(b[25]),
		}
		err = checkDimensions("fcTL", fc.Width, fc.Height)
		if err != nil {
			return nil, err
		}
		return fc, nil
	case "fdAT":
		if n < 4 {
			return nil, fmt.Errorf("%w: invalid fdAT length %d", ErrMalformedContainer, n)
		}
		var b [4]byte
		err := readAt(r, b[:], data)
		if err != nil {
			return nil, err
		}
		return FrameData{Span: s, Sequence: binary.BigEndian.Uint32(b[:])}, nil
	case "IDAT":
		return ImageData{Span: s}, nil
	case "IEND":
		return End{Span: s}, nil
	default:
		return Other{Span: s}, nil
	}
}
