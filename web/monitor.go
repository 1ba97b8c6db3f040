package web

import (
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/mbocsi/robobus/proto"
	"github.com/mbocsi/robobus/services"
)

const (
	watcherBuffer = 64
	maxWatchers   = 16
)

type watcher struct {
	id      string
	types   [proto.TypeCount]bool
	all     bool
	ch      chan proto.Message
	dropped atomic.Uint64
}

func (w *watcher) wants(t proto.Type) bool {
	return w.all || (t < proto.TypeCount && w.types[t])
}

// Monitor serves the diagnostics API and streams routed messages to
// websocket watchers. It is a bus subscriber bound to every topic: Process
// copies the message to each watcher and drops it for watchers that are
// behind.
type Monitor struct {
	services  *services.ServiceContainer
	templates *Templates

	mu       sync.RWMutex
	watchers map[string]*watcher

	maxWatchers int
	seen        atomic.Uint64
	dropped     atomic.Uint64
}

func NewMonitor(serviceContainer *services.ServiceContainer) *Monitor {
	return &Monitor{
		services:    serviceContainer,
		templates:   NewTemplates(),
		watchers:    make(map[string]*watcher),
		maxWatchers: maxWatchers,
	}
}

func (m *Monitor) Name() string {
	return "monitor"
}

func (m *Monitor) Process(msg *proto.Message) {
	m.seen.Add(1)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, w := range m.watchers {
		if !w.wants(msg.Header.Type) {
			continue
		}
		select {
		case w.ch <- *msg:
		default:
			w.dropped.Add(1)
			m.dropped.Add(1)
		}
	}
}

// SetMaxWatchers bounds the number of concurrent websocket streams.
func (m *Monitor) SetMaxWatchers(n int) {
	m.maxWatchers = n
}

// MonitorStats is reported alongside the bus statistics.
type MonitorStats struct {
	Watchers int    `json:"watchers"`
	Seen     uint64 `json:"seen"`
	Dropped  uint64 `json:"dropped"`
}

func (m *Monitor) Stats() MonitorStats {
	m.mu.RLock()
	n := len(m.watchers)
	m.mu.RUnlock()
	return MonitorStats{Watchers: n, Seen: m.seen.Load(), Dropped: m.dropped.Load()}
}

func (m *Monitor) addWatcher(types []proto.Type) (*watcher, bool) {
	w := &watcher{
		id:  uuid.New().String(),
		all: len(types) == 0,
		ch:  make(chan proto.Message, watcherBuffer),
	}
	for _, t := range types {
		w.types[t] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.watchers) >= m.maxWatchers {
		return nil, false
	}
	m.watchers[w.id] = w
	return w, true
}

func (m *Monitor) removeWatcher(id string) {
	m.mu.Lock()
	w, ok := m.watchers[id]
	delete(m.watchers, id)
	m.mu.Unlock()
	if ok {
		slog.Debug("Watcher removed", "id", id, "dropped", w.dropped.Load())
	}
}

// Routes returns the HTTP routes for the monitor
func (m *Monitor) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/", m.HandleDashboard)
	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", m.HandleStats)
		r.Get("/types", m.HandleTypes)
		r.Get("/routes", m.HandleRoutes)
		r.Get("/notifications", m.HandleNotifications)
		r.Post("/notifications/{event}", m.HandleRaise)
		r.Delete("/notifications/{event}", m.HandleClear)
		r.Get("/latest", m.HandleLatestAll)
		r.Get("/latest/{type}", m.HandleLatest)
		r.Get("/transports", m.HandleTransports)
		r.Get("/transports/{i}", m.HandleTransportDetail)
		r.Post("/messages", m.HandleSendMessage)
		r.Post("/ping", m.HandlePing)
		r.Post("/config/{source}", m.HandleRequestConfig)
	})
	r.Get("/ws", m.HandleStream)
	return r
}
