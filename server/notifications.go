package server

import (
	"log/slog"
	"sync/atomic"

	"github.com/mbocsi/robobus/proto"
)

// Notifications keeps the mask of currently raised events. It subscribes to
// the notification topic and is read by polling.
type Notifications struct {
	registry *proto.Registry
	mask     atomic.Uint32
}

func NewNotifications(registry *proto.Registry) *Notifications {
	return &Notifications{registry: registry}
}

func (n *Notifications) Name() string {
	return "notifications"
}

func (n *Notifications) Process(msg *proto.Message) {
	if msg.Header.Type != proto.TypeNotification {
		return
	}
	var v proto.Int
	if err := n.registry.Decode(msg, &v); err != nil {
		slog.Warn("Bad notification payload", "source", msg.Header.Source, "error", err)
		return
	}
	e, raised, err := proto.EventFromValue(v.Value)
	if err != nil {
		slog.Warn("Ignoring notification", "source", msg.Header.Source, "error", err)
		return
	}

	for {
		old := proto.Mask(n.mask.Load())
		next := old.Without(e)
		if raised {
			next = old.With(e)
		}
		if next == old {
			return
		}
		if n.mask.CompareAndSwap(uint32(old), uint32(next)) {
			break
		}
	}
	if raised {
		slog.Info("Event raised", "event", e, "source", msg.Header.Source)
	} else {
		slog.Info("Event cleared", "event", e, "source", msg.Header.Source)
	}
}

func (n *Notifications) Active() proto.Mask {
	return proto.Mask(n.mask.Load())
}

func (n *Notifications) IsActive(e proto.Event) bool {
	return n.Active().Has(e)
}
