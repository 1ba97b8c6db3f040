package server

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mbocsi/robobus/proto"
)

var ErrQueueClosed = errors.New("queue closed")

// Queue is a FIFO of pool entries. Any number of goroutines may enqueue; one
// consumer drains it. The queue mutex and the pool mutex are never held
// together.
type Queue struct {
	name string
	pool *Pool

	mu     sync.Mutex
	cond   *sync.Cond
	head   int32
	tail   int32
	length int
	closed bool

	enqueued atomic.Uint64
	dropped  atomic.Uint64
}

// QueueStats is a snapshot of one queue.
type QueueStats struct {
	Name     string `json:"name"`
	Length   int    `json:"length"`
	Enqueued uint64 `json:"enqueued"`
	Dropped  uint64 `json:"dropped"`
}

func NewQueue(name string, pool *Pool) *Queue {
	q := &Queue{name: name, pool: pool, head: nilIndex, tail: nilIndex}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *Queue) Name() string {
	return q.name
}

// Enqueue copies msg into a pool entry and appends it. The consumer is woken
// when the queue goes from empty to non-empty.
func (q *Queue) Enqueue(msg *proto.Message) error {
	ref, err := q.pool.Acquire()
	if err != nil {
		q.dropped.Add(1)
		slog.Error("Dropped message", "queue", q.name, "type", msg.Header.Type, "error", err)
		return err
	}
	idx := int32(ref.index)
	e := q.pool.entry(idx)
	e.msg = *msg

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.pool.Release(ref)
		q.dropped.Add(1)
		return ErrQueueClosed
	}
	wake := q.head == nilIndex
	if wake {
		q.head = idx
	} else {
		q.pool.entry(q.tail).next = idx
	}
	q.tail = idx
	q.length++
	q.mu.Unlock()

	q.enqueued.Add(1)
	if wake {
		q.cond.Signal()
	}
	return nil
}

// Delivery is a dequeued entry. The receiver owns it and must call Done
// exactly once.
type Delivery struct {
	ref  Ref
	pool *Pool
}

func (d Delivery) Message() *proto.Message {
	return d.pool.Message(d.ref)
}

// Done hands the entry back to the pool.
func (d Delivery) Done() {
	if err := d.pool.Release(d.ref); err != nil {
		slog.Error("Delivery released twice", "error", err)
	}
}

// Dequeue blocks while the queue is empty. It returns false only once the
// queue is closed and drained.
func (q *Queue) Dequeue() (Delivery, bool) {
	q.mu.Lock()
	for q.head == nilIndex && !q.closed {
		q.cond.Wait()
	}
	if q.head == nilIndex {
		q.mu.Unlock()
		return Delivery{}, false
	}
	idx := q.head
	e := q.pool.entry(idx)
	q.head = e.next
	if q.head == nilIndex {
		q.tail = nilIndex
	}
	q.length--
	ref := Ref{index: uint32(idx), gen: e.gen}
	e.next = nilIndex
	q.mu.Unlock()

	return Delivery{ref: ref, pool: q.pool}, true
}

// Close stops the queue accepting entries and wakes the consumer, which
// drains what is left before Dequeue reports false.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.length
}

func (q *Queue) Stats() QueueStats {
	return QueueStats{
		Name:     q.name,
		Length:   q.Len(),
		Enqueued: q.enqueued.Load(),
		Dropped:  q.dropped.Load(),
	}
}
