// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package decoder

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/kortschak/goroutine"
)

// worker runs tasks on a single goroutine in the order they are posted.
type worker struct {
	log *slog.Logger
	id  int64

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []task
	closed bool

	// gen is the current delayed task generation.
	// Delayed tasks from an earlier generation are
	// dropped.
	gen    uint64
	timers map[*time.Timer]struct{}

	done chan struct{}
}

type task struct {
	fn      func()
	delayed bool
	gen     uint64
}

func newWorker(log *slog.Logger) *worker {
	w := &worker{
		log:    log,
		timers: make(map[*time.Timer]struct{}),
		done:   make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	ready := make(chan struct{})
	go w.run(ready)
	<-ready
	return w
}

func (w *worker) run(ready chan<- struct{}) {
	defer close(w.done)
	w.id = goroutine.ID()
	close(ready)
	for {
		w.mu.Lock()
		for len(w.queue) == 0 && !w.closed {
			w.cond.Wait()
		}
		if len(w.queue) == 0 {
			w.mu.Unlock()
			return
		}
		t := w.queue[0]
		w.queue[0] = task{}
		w.queue = w.queue[1:]
		stale := t.delayed && t.gen != w.gen
		w.mu.Unlock()

		if stale {
			continue
		}
		w.exec(t.fn)
	}
}

// exec runs fn, returning an error wrapping ErrTaskPanic if fn panics.
func (w *worker) exec(fn func()) (err error) {
	defer func() {
		r := recover()
		if r != nil {
			w.log.LogAttrs(context.Background(), slog.LevelError, "task panic", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("%w: %v", ErrTaskPanic, r)
		}
	}()
	fn()
	return nil
}

// onWorker returns whether the caller is running on the worker goroutine.
func (w *worker) onWorker() bool {
	return goroutine.ID() == w.id
}

// post adds fn to the end of the queue. It returns false if the worker
// has been closed.
func (w *worker) post(fn func()) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	w.queue = append(w.queue, task{fn: fn})
	w.cond.Signal()
	return true
}

// postDelayed adds fn to the end of the queue after d unless cancelDelayed
// is called before fn is run.
func (w *worker) postDelayed(d time.Duration, fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	gen := w.gen
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.timers, t)
		if w.closed || gen != w.gen {
			return
		}
		w.queue = append(w.queue, task{fn: fn, delayed: true, gen: gen})
		w.cond.Signal()
	})
	w.timers[t] = struct{}{}
}

// cancelDelayed cancels all pending delayed tasks, including those that
// have been queued but not yet run.
func (w *worker) cancelDelayed() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cancelDelayedLocked()
}

func (w *worker) cancelDelayedLocked() {
	w.gen++
	for t := range w.timers {
		t.Stop()
	}
	clear(w.timers)
}

// call runs fn on the worker and waits for it to complete. If call is made
// from the worker goroutine, fn is run immediately. It returns ErrClosed if
// the worker has been closed and fn was not run, and an error wrapping
// ErrTaskPanic if fn panicked.
func (w *worker) call(fn func()) error {
	if w.onWorker() {
		return w.exec(fn)
	}
	var err error
	done := make(chan struct{})
	ok := w.post(func() {
		defer close(done)
		err = w.exec(fn)
	})
	if !ok {
		return ErrClosed
	}
	<-done
	return err
}

// close stops the worker after all queued tasks have run. Delayed tasks
// are cancelled. If close is called from the worker goroutine, it returns
// without waiting.
func (w *worker) close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		w.cancelDelayedLocked()
		w.cond.Broadcast()
	}
	w.mu.Unlock()
	if !w.onWorker() {
		<-w.done
	}
}
