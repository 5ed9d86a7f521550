// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"context"
	"crypto/sha1"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileDebounce is the default duration we wait for the contents to have
// stabilised to work around some editors writing an empty file and then the
// buffer.
const FileDebounce = 10 * time.Millisecond

// Change is a content change to a watched file identified by a Watcher.
type Change struct {
	Event fsnotify.Event
	// Sum is the SHA-1 sum of the new file contents.
	// It is nil if the file could not be read.
	Sum *Sum
	Err error
}

func (c Change) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("name", c.Event.Name),
		slog.String("op", c.Event.Op.String()),
		slog.String("sum", c.Sum.String()),
	}
	if c.Err != nil {
		attrs = append(attrs, slog.Any("error", c.Err))
	}
	return slog.GroupValue(attrs...)
}

// Watcher collects raw fsnotify.Events for a set of files and filters
// them for changes in file content.
type Watcher struct {
	debounce time.Duration
	watcher  *fsnotify.Watcher
	changes  chan<- Change
	log      *slog.Logger

	mu     sync.Mutex
	hashes map[string]Sum

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWatcher starts an fsnotify.Watcher for the provided files, sending change
// events on the changes channel when the content of a file changes. The
// directories holding the files are watched so that files replaced by editors
// are followed. The debounce parameter specifies how long to wait after an
// fsnotify.Event before reading the file to ensure that writes will be
// reflected in the checksum. If it is less than zero, FileDebounce is used.
func NewWatcher(ctx context.Context, files []string, changes chan<- Change, debounce time.Duration, log *slog.Logger) (*Watcher, error) {
	if debounce < 0 {
		debounce = FileDebounce
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		debounce: debounce,
		watcher:  watcher,
		changes:  changes,
		log:      log.With(slog.String("component", "watcher")),
		hashes:   make(map[string]Sum),
		done:     make(chan struct{}),
	}
	var dirs []string
	for _, f := range files {
		path, err := filepath.Abs(f)
		if err != nil {
			watcher.Close()
			return nil, err
		}
		sum, err := fileSum(path)
		if err != nil {
			watcher.Close()
			return nil, err
		}
		w.hashes[path] = sum
		dirs = append(dirs, filepath.Dir(path))
	}
	slices.Sort(dirs)
	for _, d := range slices.Compact(dirs) {
		err = watcher.Add(d)
		if err != nil {
			watcher.Close()
			return nil, err
		}
	}
	ctx, w.cancel = context.WithCancel(ctx)
	go w.process(ctx)
	return w, nil
}

// Close stops the watcher and waits for its processing goroutine
// to terminate.
func (w *Watcher) Close() error {
	w.cancel()
	err := w.watcher.Close()
	<-w.done
	return err
}

// Sum returns the last seen sum for the named file.
func (w *Watcher) Sum(name string) (Sum, bool) {
	path, err := filepath.Abs(name)
	if err != nil {
		return Sum{}, false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	sum, ok := w.hashes[path]
	return sum, ok
}

func (w *Watcher) process(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.LogAttrs(ctx, slog.LevelError, "watcher error", slog.Any("error", err))
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.log.LogAttrs(ctx, slog.LevelDebug, "event", slog.String("name", ev.Name), slog.String("op", ev.Op.String()))
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			path, err := filepath.Abs(ev.Name)
			if err != nil {
				continue
			}
			w.mu.Lock()
			last, ok := w.hashes[path]
			w.mu.Unlock()
			if !ok {
				continue
			}
			change, ok := w.check(ctx, ev, path, last)
			if !ok {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case w.changes <- change:
			}
		}
	}
}

// check waits for the file to settle and returns a Change if the file's
// content differs from last.
func (w *Watcher) check(ctx context.Context, ev fsnotify.Event, path string, last Sum) (Change, bool) {
	select {
	case <-ctx.Done():
		return Change{}, false
	case <-time.After(w.debounce):
	}
	sum, err := fileSum(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// Removals and renames are reported when the file
			// is replaced, not when it is removed.
			w.log.LogAttrs(ctx, slog.LevelDebug, "file absent", slog.String("name", path))
			return Change{}, false
		}
		w.log.LogAttrs(ctx, slog.LevelError, "read file", slog.Any("error", err))
		return Change{Event: ev, Err: err}, true
	}
	if sum == last {
		w.log.LogAttrs(ctx, slog.LevelDebug, "no content change", slog.String("name", path))
		return Change{}, false
	}
	w.mu.Lock()
	w.hashes[path] = sum
	w.mu.Unlock()
	return Change{Event: ev, Sum: &sum}, true
}

func fileSum(path string) (Sum, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Sum{}, err
	}
	return sha1.Sum(b), nil
}
