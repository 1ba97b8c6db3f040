package server

import (
	"log/slog"

	"github.com/mbocsi/robobus/proto"
)

// Consumer is a subscriber that owns a queue and drains it on its own
// goroutine, so routing only pays for the enqueue.
type Consumer struct {
	name   string
	queue  *Queue
	handle func(*proto.Message)
}

func NewConsumer(name string, pool *Pool, handle func(*proto.Message)) *Consumer {
	return &Consumer{name: name, queue: NewQueue(name, pool), handle: handle}
}

func (c *Consumer) Name() string {
	return c.name
}

func (c *Consumer) Process(msg *proto.Message) {
	if err := c.queue.Enqueue(msg); err != nil {
		slog.Warn("Consumer dropped message", "consumer", c.name, "type", msg.Header.Type, "error", err)
	}
}

// Run handles queued messages in order until Close, finishing what was
// queued before it.
func (c *Consumer) Run() {
	for {
		d, ok := c.queue.Dequeue()
		if !ok {
			return
		}
		c.handle(d.Message())
		d.Done()
	}
}

func (c *Consumer) Close() {
	c.queue.Close()
}

func (c *Consumer) Stats() QueueStats {
	return c.queue.Stats()
}
