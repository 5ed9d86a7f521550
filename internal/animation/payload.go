// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"image"
	"image/gif"
	"image/png"
	"io"

	"golang.org/x/image/webp"

	"github.com/kortschak/frameseq/internal/container"
)

// FramePayloadDecodeError is returned when a frame's image data cannot
// be decoded.
type FramePayloadDecodeError struct {
	Index int
	Err   error
}

func (e *FramePayloadDecodeError) Error() string {
	return fmt.Sprintf("frame %d: payload decode: %v", e.Index, e.Err)
}

func (e *FramePayloadDecodeError) Unwrap() error {
	return e.Err
}

var errNoPayload = errors.New("no image data")

// Decode returns the image held by the frame's payload in src. Each frame
// is rewritten as a standalone still image in the source's format and
// decoded with the standard decoder for that format. Scratch space for the
// standalone image is obtained from scratch, which must return a buffer of
// length n. The buffer is not retained after Decode returns. If scratch is
// nil, the space is allocated.
func (f *Frame) Decode(src io.ReaderAt, size int64, info *Info, scratch func(n int) []byte) (image.Image, error) {
	if info.Still {
		m, _, err := image.Decode(io.NewSectionReader(src, 0, size))
		return m, err
	}
	if len(f.Payload) == 0 {
		return nil, errNoPayload
	}
	if scratch == nil {
		scratch = func(n int) []byte { return make([]byte, n) }
	}
	var (
		decode func(io.Reader) (image.Image, error)
		buf    []byte
		err    error
	)
	switch info.Format {
	case container.PNG:
		decode = png.Decode
		buf, err = f.standalonePNG(src, info, scratch)
	case container.GIF:
		decode = gif.Decode
		buf, err = f.standaloneGIF(src, info, scratch)
	case container.WebP:
		decode = webp.Decode
		buf, err = f.standaloneWebP(src, scratch)
	default:
		return nil, fmt.Errorf("unsupported format: %v", info.Format)
	}
	if err != nil {
		return nil, err
	}
	return decode(bytes.NewReader(buf))
}

const (
	pngSignature = "\x89PNG\r\n\x1a\n"
	pngIHDR      = 8 + 13 + 4
	pngIEND      = "\x00\x00\x00\x00IEND\xae\x42\x60\x82"
)

// standalonePNG returns a PNG holding the frame: the header resized to the
// frame, the context chunks, and the frame data as IDAT chunks.
func (f *Frame) standalonePNG(src io.ReaderAt, info *Info, scratch func(int) []byte) ([]byte, error) {
	n := len(pngSignature) + pngIHDR + len(pngIEND)
	for _, s := range f.Prefix {
		n += s.Length
	}
	for _, s := range f.Payload {
		if s.Type == "fdAT" {
			n -= 4
		}
		n += s.Length
	}
	buf := scratch(n)

	i := copy(buf, pngSignature)
	err := readFull(src, buf[i:i+pngIHDR], info.Header.Offset)
	if err != nil {
		return nil, err
	}
	binary.BigEndian.PutUint32(buf[i+8:], uint32(f.Bounds.Dx()))
	binary.BigEndian.PutUint32(buf[i+12:], uint32(f.Bounds.Dy()))
	binary.BigEndian.PutUint32(buf[i+21:], crc32.ChecksumIEEE(buf[i+4:i+21]))
	i += pngIHDR

	for _, s := range f.Prefix {
		err = readFull(src, buf[i:i+s.Length], s.Offset)
		if err != nil {
			return nil, err
		}
		i += s.Length
	}
	for _, s := range f.Payload {
		if s.Type != "fdAT" {
			err = readFull(src, buf[i:i+s.Length], s.Offset)
			if err != nil {
				return nil, err
			}
			i += s.Length
			continue
		}
		// Drop the sequence number and rename to IDAT.
		dl := s.Length - 16
		binary.BigEndian.PutUint32(buf[i:], uint32(dl))
		copy(buf[i+4:], "IDAT")
		err = readFull(src, buf[i+8:i+8+dl], s.Offset+12)
		if err != nil {
			return nil, err
		}
		binary.BigEndian.PutUint32(buf[i+8+dl:], crc32.ChecksumIEEE(buf[i+4:i+8+dl]))
		i += dl + 12
	}
	copy(buf[i:], pngIEND)
	return buf, nil
}

// standaloneGIF returns a single image GIF holding the frame with the
// logical screen resized to the frame and the image placed at the origin.
func (f *Frame) standaloneGIF(src io.ReaderAt, info *Info, scratch func(int) []byte) ([]byte, error) {
	const header = 13
	n := header + f.Control.Length + 1
	for _, s := range f.Prefix {
		n += s.Length
	}
	for _, s := range f.Payload {
		n += s.Length
	}
	buf := scratch(n)

	err := readFull(src, buf[:header], info.Header.Offset)
	if err != nil {
		return nil, err
	}
	copy(buf, "GIF89a")
	binary.LittleEndian.PutUint16(buf[6:], uint16(f.Bounds.Dx()))
	binary.LittleEndian.PutUint16(buf[8:], uint16(f.Bounds.Dy()))
	i := header

	for _, s := range append(f.Prefix, f.Control) {
		err = readFull(src, buf[i:i+s.Length], s.Offset)
		if err != nil {
			return nil, err
		}
		i += s.Length
	}
	for _, s := range f.Payload {
		err = readFull(src, buf[i:i+s.Length], s.Offset)
		if err != nil {
			return nil, err
		}
		// Zero the image position.
		clear(buf[i+1 : i+5])
		i += s.Length
	}
	buf[i] = 0x3b
	return buf, nil
}

// standaloneWebP returns a still WebP holding the frame's sub-chunks. A VP8X
// chunk is added when the frame has an alpha channel.
func (f *Frame) standaloneWebP(src io.ReaderAt, scratch func(int) []byte) ([]byte, error) {
	const (
		riffHeader = 12
		vp8x       = 8 + 10
	)
	s := f.Payload[0]
	buf := scratch(riffHeader + vp8x + s.Length)
	err := readFull(src, buf[riffHeader+vp8x:], s.Offset)
	if err != nil {
		return nil, err
	}
	alpha := hasChunk(buf[riffHeader+vp8x:], "ALPH")
	still := buf[vp8x:]
	if alpha {
		still = buf
	}
	copy(still, "RIFF")
	binary.LittleEndian.PutUint32(still[4:], uint32(len(still)-8))
	copy(still[8:], "WEBP")
	if alpha {
		const alphaFlag = 0x10
		b := still[riffHeader:]
		copy(b, "VP8X")
		binary.LittleEndian.PutUint32(b[4:], 10)
		clear(b[8:12])
		b[8] = alphaFlag
		put24(b[12:], f.Bounds.Dx()-1)
		put24(b[15:], f.Bounds.Dy()-1)
	}
	return still, nil
}

// hasChunk returns whether the RIFF chunk sequence in b holds a chunk
// with the given fourcc.
func hasChunk(b []byte, fourcc string) bool {
	for len(b) >= 8 {
		if string(b[:4]) == fourcc {
			return true
		}
		n := int(binary.LittleEndian.Uint32(b[4:]))
		n += 8 + n&1
		if n > len(b) || n < 8 {
			return false
		}
		b = b[n:]
	}
	return false
}

func put24(b []byte, v int) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
}

func readFull(r io.ReaderAt, b []byte, off int64) error {
	n, err := r.ReadAt(b, off)
	if n == len(b) {
		return nil
	}
	if err == nil || err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("read payload at %d: %w", off, err)
}
