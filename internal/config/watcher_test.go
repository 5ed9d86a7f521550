// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"bytes"
	"context"
	"crypto/sha1"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kortschak/frameseq/internal/locked"
	"github.com/kortschak/frameseq/internal/slogext"
)

func TestWatcher(t *testing.T) {
	dir := t.TempDir()
	image := filepath.Join(dir, "image.png")
	cfg := filepath.Join(dir, "frameseq.toml")
	other := filepath.Join(dir, "other.txt")
	for _, f := range []struct {
		path string
		data string
	}{
		{path: image, data: "image v1"},
		{path: cfg, data: "[playback]\n"},
		{path: other, data: "ignored"},
	} {
		err := os.WriteFile(f.path, []byte(f.data), 0o644)
		if err != nil {
			t.Fatalf("unexpected error writing %s: %v", f.path, err)
		}
	}

	var logBuf locked.BytesBuffer
	log := slog.New(slogext.NewJSONHandler(&logBuf, &slogext.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: slogext.NewAtomicBool(*lines),
	}))
	defer func() {
		if *verbose {
			t.Logf("log:\n%s\n", &logBuf)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := make(chan Change, 10)
	w, err := NewWatcher(ctx, []string{image, cfg}, changes, 50*time.Millisecond, log)
	if err != nil {
		t.Fatalf("unexpected error starting watcher: %v", err)
	}
	defer w.Close()

	sum, ok := w.Sum(image)
	if !ok || sum != Sum(sha1.Sum([]byte("image v1"))) {
		t.Errorf("unexpected initial sum: %x ok=%t", sum, ok)
	}

	// Untracked files and unchanged content are not reported.
	write(t, other, "changed")
	write(t, image, "image v1")
	expectNone(t, changes)

	write(t, image, "image v2")
	got := next(t, changes)
	if !sameFile(got.Event.Name, image) {
		t.Errorf("unexpected change file: got:%s want:%s", got.Event.Name, image)
	}
	want := Sum(sha1.Sum([]byte("image v2")))
	if got.Err != nil || got.Sum == nil || *got.Sum != want {
		t.Errorf("unexpected change: sum=%s err=%v want sum=%s", got.Sum, got.Err, &want)
	}
	drain(changes)

	// Replacement by rename is followed.
	tmp := filepath.Join(dir, "frameseq.toml.tmp")
	write(t, tmp, "[playback]\nwidth = 2\n")
	err = os.Rename(tmp, cfg)
	if err != nil {
		t.Fatalf("unexpected error renaming: %v", err)
	}
	got = next(t, changes)
	if !sameFile(got.Event.Name, cfg) {
		t.Errorf("unexpected change file: got:%s want:%s", got.Event.Name, cfg)
	}
	want = Sum(sha1.Sum([]byte("[playback]\nwidth = 2\n")))
	if got.Sum == nil || *got.Sum != want {
		t.Errorf("unexpected sum: got:%s want:%s", got.Sum, &want)
	}
}

func TestWatcherMissingFile(t *testing.T) {
	changes := make(chan Change)
	_, err := NewWatcher(context.Background(), []string{filepath.Join(t.TempDir(), "missing")}, changes, 0, slog.New(slog.DiscardHandler))
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func write(t *testing.T, path, data string) {
	t.Helper()
	err := os.WriteFile(path, []byte(data), 0o644)
	if err != nil {
		t.Fatalf("unexpected error writing %s: %v", path, err)
	}
}

func sameFile(a, b string) bool {
	a, _ = filepath.Abs(a)
	b, _ = filepath.Abs(b)
	return a == b
}

func next(t *testing.T, changes <-chan Change) Change {
	t.Helper()
	select {
	case c := <-changes:
		return c
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for change")
		return Change{}
	}
}

func expectNone(t *testing.T, changes <-chan Change) {
	t.Helper()
	select {
	case c := <-changes:
		var buf bytes.Buffer
		slog.New(slog.NewTextHandler(&buf, nil)).Info("change", "change", c)
		t.Errorf("unexpected change: %s", &buf)
	case <-time.After(200 * time.Millisecond):
	}
}

// drain removes any additional notifications from
// multiple events for a single write.
func drain(changes <-chan Change) {
	for {
		select {
		case <-changes:
		case <-time.After(200 * time.Millisecond):
			return
		}
	}
}
