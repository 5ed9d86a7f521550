// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package decoder

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kortschak/frameseq/internal/locked"
)

func TestWorkerOrder(t *testing.T) {
	w := newWorker(slog.New(slog.DiscardHandler))
	defer w.close()

	var got []int
	for i := 0; i < 100; i++ {
		w.post(func() { got = append(got, i) })
	}
	w.call(func() {})
	var want []int
	for i := 0; i < 100; i++ {
		want = append(want, i)
	}
	if !cmp.Equal(want, got) {
		t.Errorf("unexpected task order:\n--- want:\n+++ got:\n%s", cmp.Diff(want, got))
	}
}

func TestWorkerCallInline(t *testing.T) {
	w := newWorker(slog.New(slog.DiscardHandler))
	defer w.close()

	var inner bool
	done := make(chan struct{})
	w.post(func() {
		defer close(done)
		if !w.onWorker() {
			t.Error("expected task to run on worker")
		}
		// This would deadlock if not run inline.
		w.call(func() { inner = true })
	})
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for inline call")
	}
	if !inner {
		t.Error("inline call not run")
	}
	if w.onWorker() {
		t.Error("unexpected worker identity for test goroutine")
	}
}

func TestWorkerDelayed(t *testing.T) {
	w := newWorker(slog.New(slog.DiscardHandler))
	defer w.close()

	var (
		mu  sync.Mutex
		got []string
	)
	record := func(s string) func() {
		return func() {
			mu.Lock()
			got = append(got, s)
			mu.Unlock()
		}
	}
	w.postDelayed(time.Hour, record("cancelled"))
	w.postDelayed(0, record("stale"))
	// Block the worker until the zero delay task
	// has been queued, then cancel it.
	w.call(func() {
		time.Sleep(50 * time.Millisecond)
		w.cancelDelayed()
	})
	w.postDelayed(10*time.Millisecond, record("delayed"))
	w.post(record("immediate"))
	time.Sleep(100 * time.Millisecond)
	w.call(func() {})

	mu.Lock()
	defer mu.Unlock()
	want := []string{"immediate", "delayed"}
	if !cmp.Equal(want, got) {
		t.Errorf("unexpected tasks:\n--- want:\n+++ got:\n%s", cmp.Diff(want, got))
	}
}

func TestWorkerPanic(t *testing.T) {
	var logBuf locked.BytesBuffer
	w := newWorker(slog.New(slog.NewJSONHandler(&logBuf, nil)))
	defer w.close()

	w.post(func() { panic("task failure") })
	var ran bool
	err := w.call(func() { ran = true })
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !ran {
		t.Error("task after panic not run")
	}
	if !strings.Contains(logBuf.String(), "task failure") {
		t.Errorf("panic not logged:\n%s", &logBuf)
	}

	err = w.call(func() { panic("call failure") })
	if !errors.Is(err, ErrTaskPanic) {
		t.Errorf("unexpected error from panicking call: got:%v want:%v", err, ErrTaskPanic)
	}
	if err == nil || !strings.Contains(err.Error(), "call failure") {
		t.Errorf("panic value not reported: %v", err)
	}

	// Inline calls report panics to the calling task.
	var inner error
	err = w.call(func() {
		inner = w.call(func() { panic("inline failure") })
	})
	if err != nil {
		t.Errorf("unexpected error from outer call: %v", err)
	}
	if !errors.Is(inner, ErrTaskPanic) {
		t.Errorf("unexpected error from inline call: got:%v want:%v", inner, ErrTaskPanic)
	}
}

func TestWorkerClose(t *testing.T) {
	var buf bytes.Buffer
	w := newWorker(slog.New(slog.DiscardHandler))
	w.post(func() { buf.WriteString("queued") })
	w.postDelayed(0, func() { buf.WriteString("delayed") })
	w.close()
	if got := buf.String(); !strings.HasPrefix(got, "queued") {
		t.Errorf("queued task not run before close: %q", got)
	}
	if w.post(func() {}) {
		t.Error("unexpected successful post after close")
	}
	if err := w.call(func() {}); err != ErrClosed {
		t.Errorf("unexpected error from call after close: got:%v want:%v", err, ErrClosed)
	}
	w.close()
}
