// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package decoder

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestSources(t *testing.T) {
	data := []byte("animated image data")
	path := filepath.Join(t.TempDir(), "image.png")
	err := os.WriteFile(path, data, 0o644)
	if err != nil {
		t.Fatalf("unexpected error writing file: %v", err)
	}

	for _, test := range []struct {
		name string
		src  Source
	}{
		{name: "file", src: FileSource(path)},
		{name: "bytes", src: BytesSource(data)},
		{name: "reader", src: ReaderSource(func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		})},
	} {
		t.Run(test.name, func(t *testing.T) {
			s, err := test.src.Obtain()
			if err != nil {
				t.Fatalf("unexpected error obtaining stream: %v", err)
			}
			if s.Size() != int64(len(data)) {
				t.Errorf("unexpected size: got:%d want:%d", s.Size(), len(data))
			}
			for pass := 0; pass < 2; pass++ {
				got := make([]byte, 5)
				n, err := s.ReadAt(got, 9)
				if err != nil || n != 5 {
					t.Errorf("unexpected read result: n=%d err=%v", n, err)
				}
				if string(got) != "image" {
					t.Errorf("unexpected data: got:%q want:%q", got, "image")
				}
				err = s.Reset()
				if err != nil {
					t.Errorf("unexpected error resetting stream: %v", err)
				}
			}
			err = s.Close()
			if err != nil {
				t.Errorf("unexpected error closing stream: %v", err)
			}
		})
	}
}

func TestSourceErrors(t *testing.T) {
	_, err := FileSource(filepath.Join(t.TempDir(), "missing.png")).Obtain()
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("unexpected error for missing file: %v", err)
	}

	errOpen := errors.New("open failure")
	_, err = ReaderSource(func() (io.ReadCloser, error) { return nil, errOpen }).Obtain()
	if !errors.Is(err, errOpen) {
		t.Errorf("unexpected error for failed open: got:%v want:%v", err, errOpen)
	}
}
