package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/mbocsi/robobus/proto"
)

const trackerBuffer = 32

type waiter struct {
	match func(*proto.Message) bool
	ch    chan proto.Message
}

// ResponseTracker correlates replies from peers with the request that asked
// for them. It is a bus subscriber: Process only hands messages to waiting
// requests and never blocks.
type ResponseTracker struct {
	mu      sync.RWMutex
	waiters map[string]*waiter
}

func NewResponseTracker() *ResponseTracker {
	return &ResponseTracker{waiters: make(map[string]*waiter)}
}

func (rt *ResponseTracker) Name() string {
	return "responses"
}

func (rt *ResponseTracker) Process(msg *proto.Message) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	for id, w := range rt.waiters {
		if !w.match(msg) {
			continue
		}
		select {
		case w.ch <- *msg:
		default:
			slog.Debug("Reply buffer full, dropping", "request", id, "type", msg.Header.Type)
		}
	}
}

// Pending is the number of requests still waiting for replies.
func (rt *ResponseTracker) Pending() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return len(rt.waiters)
}

// Collect registers a waiter for messages accepted by match, calls send, and
// gathers replies until done returns true for one of them or ctx ends. A nil
// done collects until ctx ends. Collect fails with a timeout only when no
// reply arrived at all.
func (rt *ResponseTracker) Collect(ctx context.Context, match func(*proto.Message) bool, send func() error, done func(*proto.Message) bool) ([]proto.Message, error) {
	id := uuid.New().String()
	w := &waiter{match: match, ch: make(chan proto.Message, trackerBuffer)}

	rt.mu.Lock()
	rt.waiters[id] = w
	rt.mu.Unlock()

	defer func() {
		rt.mu.Lock()
		delete(rt.waiters, id)
		rt.mu.Unlock()
	}()

	if err := send(); err != nil {
		return nil, ServiceError{
			Code:    ErrCodeInternal,
			Message: "Failed to send request",
			Cause:   err,
		}
	}

	var replies []proto.Message
	for {
		select {
		case msg := <-w.ch:
			replies = append(replies, msg)
			if done != nil && done(&msg) {
				return replies, nil
			}
		case <-ctx.Done():
			if done == nil && len(replies) > 0 {
				return replies, nil
			}
			return replies, ServiceError{
				Code:    ErrCodeTimeout,
				Message: fmt.Sprintf("Request %s ended after %d replies", id, len(replies)),
				Cause:   ctx.Err(),
			}
		}
	}
}
