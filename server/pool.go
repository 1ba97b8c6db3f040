package server

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mbocsi/robobus/proto"
)

var (
	ErrPoolExhausted = errors.New("message pool exhausted")
	ErrStaleEntry    = errors.New("stale or foreign pool entry")
)

const (
	chunkSize = 256
	maxChunks = 4096 // arena ceiling: ~1M entries

	nilIndex int32 = -1
)

// Ref names a pool entry. The generation makes a released or recycled entry
// detectable: a Ref is only good while its generation matches the entry's.
type Ref struct {
	index uint32
	gen   uint32
}

func (r Ref) Valid() bool {
	return r.gen != 0
}

type poolEntry struct {
	msg   proto.Message
	next  int32 // free list link while free, queue link while queued
	gen   uint32
	inUse bool
}

type poolChunk [chunkSize]poolEntry

// PoolStats is a snapshot of pool occupancy.
type PoolStats struct {
	Total     int    `json:"total"`
	Free      int    `json:"free"`
	InFlight  int    `json:"in_flight"`
	Limit     int    `json:"limit"`
	Grown     uint64 `json:"grown"`
	Exhausted uint64 `json:"exhausted"`
}

// Pool is a free list of queue entries shared by every queue in the process.
// Entries live in a chunked arena addressed by index, so queues link entries
// by index and the arena never moves. The pool grows by one entry whenever it
// is empty and never shrinks. A non-zero limit caps growth; past it Acquire
// fails and the caller drops the message.
type Pool struct {
	mu        sync.Mutex
	chunks    [maxChunks]atomic.Pointer[poolChunk]
	size      atomic.Int32
	free      int32
	freeCount int
	limit     int

	grown     atomic.Uint64
	exhausted atomic.Uint64
}

// NewPool creates a pool with prealloc free entries. limit <= 0 means the
// pool may grow up to the arena ceiling.
func NewPool(prealloc, limit int) *Pool {
	p := &Pool{free: nilIndex, limit: limit}
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < prealloc; i++ {
		if err := p.grow(); err != nil {
			slog.Warn("Pool preallocation stopped early", "requested", prealloc, "allocated", i, "error", err)
			break
		}
	}
	// preallocation is not exhaustion growth
	p.grown.Store(0)
	return p
}

func (p *Pool) entry(i int32) *poolEntry {
	return &p.chunks[i/chunkSize].Load()[i%chunkSize]
}

// grow adds one free entry. Called with mu held.
func (p *Pool) grow() error {
	size := int(p.size.Load())
	if (p.limit > 0 && size >= p.limit) || size >= maxChunks*chunkSize {
		return ErrPoolExhausted
	}
	ci := size / chunkSize
	if p.chunks[ci].Load() == nil {
		p.chunks[ci].Store(new(poolChunk))
	}
	idx := int32(size)
	e := p.entry(idx)
	e.next = p.free
	p.free = idx
	p.freeCount++
	p.size.Store(idx + 1)
	p.grown.Add(1)
	return nil
}

// Acquire takes an entry off the free list, growing the pool if it is empty.
// It never blocks on anything but the pool mutex.
func (p *Pool) Acquire() (Ref, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.free == nilIndex {
		if err := p.grow(); err != nil {
			p.exhausted.Add(1)
			return Ref{}, err
		}
	}
	idx := p.free
	e := p.entry(idx)
	p.free = e.next
	p.freeCount--

	e.next = nilIndex
	e.inUse = true
	e.gen++
	if e.gen == 0 {
		e.gen = 1
	}
	return Ref{index: uint32(idx), gen: e.gen}, nil
}

// Release returns an entry to the free list. Releasing an entry that is not
// currently held under ref's generation is refused and reported, leaving the
// free list intact.
func (p *Pool) Release(ref Ref) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := int32(ref.index)
	if !ref.Valid() || idx < 0 || idx >= p.size.Load() {
		slog.Error("Pool release of unknown entry", "index", ref.index, "gen", ref.gen)
		return ErrStaleEntry
	}
	e := p.entry(idx)
	if !e.inUse || e.gen != ref.gen {
		slog.Error("Pool release of stale entry", "index", ref.index, "gen", ref.gen, "current_gen", e.gen, "in_use", e.inUse)
		return ErrStaleEntry
	}
	e.inUse = false
	e.next = p.free
	p.free = idx
	p.freeCount++
	return nil
}

// Message returns the message slot of a held entry. Only the current holder
// may use it, and only until the entry is released.
func (p *Pool) Message(ref Ref) *proto.Message {
	idx := int32(ref.index)
	if !ref.Valid() || idx < 0 || idx >= p.size.Load() {
		return nil
	}
	return &p.entry(idx).msg
}

func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := int(p.size.Load())
	return PoolStats{
		Total:     total,
		Free:      p.freeCount,
		InFlight:  total - p.freeCount,
		Limit:     p.limit,
		Grown:     p.grown.Load(),
		Exhausted: p.exhausted.Load(),
	}
}
