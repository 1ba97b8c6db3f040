package server

import (
	"sync"
	"time"

	"github.com/mbocsi/robobus/proto"
)

// Snapshot is the latest message of one type.
type Snapshot struct {
	Message  proto.Message
	Received time.Time
	Count    uint64
}

// Blackboard remembers the most recent message of every type it is routed.
type Blackboard struct {
	mu     sync.RWMutex
	latest [proto.TypeCount]Snapshot
	now    func() time.Time
}

func NewBlackboard() *Blackboard {
	return &Blackboard{now: time.Now}
}

func (b *Blackboard) Name() string {
	return "blackboard"
}

func (b *Blackboard) Process(msg *proto.Message) {
	if msg.Header.Type >= proto.TypeCount {
		return
	}
	received := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()
	s := &b.latest[msg.Header.Type]
	s.Message = *msg
	s.Received = received
	s.Count++
}

func (b *Blackboard) Latest(t proto.Type) (Snapshot, bool) {
	if t >= proto.TypeCount {
		return Snapshot{}, false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	s := b.latest[t]
	return s, s.Count > 0
}

// All returns every type seen so far, in type order.
func (b *Blackboard) All() []Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Snapshot, 0, proto.TypeCount)
	for _, s := range b.latest {
		if s.Count > 0 {
			out = append(out, s)
		}
	}
	return out
}
