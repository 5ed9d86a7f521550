// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package decoder

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// Source provides the byte streams for a Decoder. Obtain is called once
// for each playback session.
type Source interface {
	Obtain() (Stream, error)
}

// Stream is a random access byte stream holding an animated image.
type Stream interface {
	io.ReaderAt

	// Size returns the number of bytes in the stream.
	Size() int64

	// Reset prepares the stream to be read again
	// from the start.
	Reset() error

	Close() error
}

// SourceFunc is a function that implements Source.
type SourceFunc func() (Stream, error)

func (f SourceFunc) Obtain() (Stream, error) { return f() }

// FileSource returns a Source that opens the named file.
func FileSource(name string) Source {
	return SourceFunc(func() (Stream, error) {
		f, err := os.Open(name)
		if err != nil {
			return nil, err
		}
		fi, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, err
		}
		return fileStream{File: f, size: fi.Size()}, nil
	})
}

type fileStream struct {
	*os.File
	size int64
}

func (s fileStream) Size() int64  { return s.size }
func (s fileStream) Reset() error { return nil }

// BytesSource returns a Source holding b. The caller must not modify b
// while it is being used by a Decoder.
func BytesSource(b []byte) Source {
	return SourceFunc(func() (Stream, error) {
		return bytesStream{bytes.NewReader(b)}, nil
	})
}

type bytesStream struct {
	r *bytes.Reader
}

func (s bytesStream) ReadAt(p []byte, off int64) (int, error) { return s.r.ReadAt(p, off) }
func (s bytesStream) Size() int64                              { return s.r.Size() }
func (s bytesStream) Reset() error                             { return nil }
func (s bytesStream) Close() error                             { return nil }

// ReaderSource returns a Source that reads all the data from the reader
// returned by open when a stream is obtained.
func ReaderSource(open func() (io.ReadCloser, error)) Source {
	return SourceFunc(func() (Stream, error) {
		r, err := open()
		if err != nil {
			return nil, err
		}
		defer r.Close()
		b, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("read source: %w", err)
		}
		return bytesStream{bytes.NewReader(b)}, nil
	})
}
