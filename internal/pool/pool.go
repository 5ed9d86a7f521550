// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pool provides a generational pool of exact-size byte buffers.
package pool

import "sync"

// Pool is a set of reusable byte buffers keyed by their length. Buffers
// obtained from a Pool belong to the pool's current generation; Clear starts
// a new generation, after which buffers from earlier generations are ignored
// when returned.
//
// A Pool is safe for concurrent use.
type Pool struct {
	mu sync.Mutex
	// issued holds the lengths of buffers handed
	// out and not yet returned, keyed by their
	// first element.
	issued map[*byte]int
	free   map[int][][]byte
	// bytes is the total size of the buffers
	// allocated in the current generation.
	bytes int
}

// New returns a new empty Pool.
func New() *Pool {
	return &Pool{
		issued: make(map[*byte]int),
		free:   make(map[int][][]byte),
	}
}

// Get returns a zeroed buffer of length n. If n is not positive, Get
// returns nil.
func (p *Pool) Get(n int) []byte {
	if n <= 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var b []byte
	if bufs := p.free[n]; len(bufs) != 0 {
		b = bufs[len(bufs)-1]
		bufs[len(bufs)-1] = nil
		p.free[n] = bufs[:len(bufs)-1]
		clear(b)
	} else {
		b = make([]byte, n)
		p.bytes += n
	}
	p.issued[&b[0]] = n
	return b
}

// Put returns b to the pool. Buffers that were not obtained from the current
// generation of p, or that have already been returned, are ignored.
func (p *Pool) Put(b []byte) {
	if cap(b) == 0 {
		return
	}
	b = b[:1]
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.issued[&b[0]]
	if !ok || cap(b) < n {
		return
	}
	delete(p.issued, &b[0])
	p.free[n] = append(p.free[n], b[:n])
}

// Clear discards all buffers and starts a new generation.
func (p *Pool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.issued)
	clear(p.free)
	p.bytes = 0
}

// MemorySize returns the number of bytes allocated by the pool in the
// current generation, including buffers that are currently issued.
func (p *Pool) MemorySize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bytes
}
