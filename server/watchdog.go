package server

import (
	"log/slog"
	"time"

	"github.com/mbocsi/robobus/proto"
)

// PeerWatchdog raises EventPeerSilent when nothing has been heard from the
// peer for longer than the timeout, and clears it when traffic resumes. It is
// driven by Ticker hooks.
type PeerWatchdog struct {
	broker   *Broker
	lastSeen func() time.Time
	timeout  time.Duration
	armed    time.Time
	raised   bool
}

func NewPeerWatchdog(broker *Broker, lastSeen func() time.Time, timeout time.Duration) *PeerWatchdog {
	return &PeerWatchdog{broker: broker, lastSeen: lastSeen, timeout: timeout, armed: time.Now()}
}

func (w *PeerWatchdog) Check(now time.Time) {
	last := w.lastSeen()
	if last.IsZero() {
		last = w.armed
	}
	silent := now.Sub(last) > w.timeout

	switch {
	case silent && !w.raised:
		slog.Warn("Peer is silent", "last_seen", last, "timeout", w.timeout)
		if err := w.broker.Notify(proto.EventPeerSilent); err != nil {
			slog.Error("Could not raise peer silent", "error", err)
			return
		}
		w.raised = true
	case !silent && w.raised:
		slog.Info("Peer is talking again", "last_seen", last)
		if err := w.broker.Cancel(proto.EventPeerSilent); err != nil {
			slog.Error("Could not clear peer silent", "error", err)
			return
		}
		w.raised = false
	}
}
