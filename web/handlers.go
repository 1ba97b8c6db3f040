package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mbocsi/robobus/proto"
	"github.com/mbocsi/robobus/services"
)

const maxRequestWindow = 10 * time.Second

func (m *Monitor) HandleDashboard(wr http.ResponseWriter, r *http.Request) {
	stats, err := m.services.Bus.Stats()
	if err != nil {
		m.handleError(wr, err)
		return
	}
	latest, err := m.services.Bus.ListLatest()
	if err != nil {
		m.handleError(wr, err)
		return
	}
	notifications, err := m.services.Bus.ListNotifications()
	if err != nil {
		m.handleError(wr, err)
		return
	}
	routes, err := m.services.Bus.ListRoutes()
	if err != nil {
		m.handleError(wr, err)
		return
	}
	m.templates.RenderPage(wr, "dashboard", map[string]any{
		"Stats":         stats,
		"Monitor":       m.Stats(),
		"Latest":        latest,
		"Notifications": notifications,
		"Routes":        routes,
	})
}

func (m *Monitor) HandleStats(wr http.ResponseWriter, r *http.Request) {
	stats, err := m.services.Bus.Stats()
	if err != nil {
		m.handleError(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, map[string]any{
		"uptime":  stats.Uptime,
		"bus":     stats.Bus,
		"serial":  stats.Serial,
		"monitor": m.Stats(),
	})
}

func (m *Monitor) HandleTypes(wr http.ResponseWriter, r *http.Request) {
	types, err := m.services.Bus.ListMessageTypes()
	if err != nil {
		m.handleError(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, types)
}

func (m *Monitor) HandleRoutes(wr http.ResponseWriter, r *http.Request) {
	routes, err := m.services.Bus.ListRoutes()
	if err != nil {
		m.handleError(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, routes)
}

func (m *Monitor) HandleNotifications(wr http.ResponseWriter, r *http.Request) {
	notifications, err := m.services.Bus.ListNotifications()
	if err != nil {
		m.handleError(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, notifications)
}

func (m *Monitor) HandleRaise(wr http.ResponseWriter, r *http.Request) {
	if err := m.services.Messaging.Notify(chi.URLParam(r, "event")); err != nil {
		m.handleError(wr, err)
		return
	}
	wr.WriteHeader(http.StatusNoContent)
}

func (m *Monitor) HandleClear(wr http.ResponseWriter, r *http.Request) {
	if err := m.services.Messaging.Cancel(chi.URLParam(r, "event")); err != nil {
		m.handleError(wr, err)
		return
	}
	wr.WriteHeader(http.StatusNoContent)
}

func (m *Monitor) HandleLatestAll(wr http.ResponseWriter, r *http.Request) {
	latest, err := m.services.Bus.ListLatest()
	if err != nil {
		m.handleError(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, latest)
}

func (m *Monitor) HandleLatest(wr http.ResponseWriter, r *http.Request) {
	msg, err := m.services.Bus.LatestMessage(chi.URLParam(r, "type"))
	if err != nil {
		m.handleError(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, msg)
}

func (m *Monitor) HandleTransports(wr http.ResponseWriter, r *http.Request) {
	transports, err := m.services.Transport.ListTransports()
	if err != nil {
		m.handleError(wr, err)
		return
	}
	stats, err := m.services.Transport.GetTransportStats()
	if err != nil {
		m.handleError(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, map[string]any{
		"transports": transports,
		"stats":      stats,
	})
}

func (m *Monitor) HandleTransportDetail(wr http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "i"))
	if err != nil {
		http.Error(wr, "Transport index must be a number", http.StatusBadRequest)
		return
	}
	transport, err := m.services.Transport.GetTransport(index)
	if err != nil {
		m.handleError(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, transport)
}

func (m *Monitor) HandleSendMessage(wr http.ResponseWriter, r *http.Request) {
	var req services.PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(wr, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	msg, err := m.services.Messaging.Publish(req)
	if err != nil {
		m.handleError(wr, err)
		return
	}
	writeJSON(wr, http.StatusAccepted, msg)
}

func (m *Monitor) HandlePing(wr http.ResponseWriter, r *http.Request) {
	window, err := requestWindow(r)
	if err != nil {
		http.Error(wr, err.Error(), http.StatusBadRequest)
		return
	}
	replies, err := m.services.Messaging.Ping(r.Context(), window)
	if err != nil {
		m.handleError(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, replies)
}

func (m *Monitor) HandleRequestConfig(wr http.ResponseWriter, r *http.Request) {
	source, err := proto.ParseSource(chi.URLParam(r, "source"))
	if err != nil {
		http.Error(wr, err.Error(), http.StatusBadRequest)
		return
	}
	window, err := requestWindow(r)
	if err != nil {
		http.Error(wr, err.Error(), http.StatusBadRequest)
		return
	}
	config, err := m.services.Messaging.RequestConfig(r.Context(), source, window)
	if err != nil {
		m.handleError(wr, err)
		return
	}
	writeJSON(wr, http.StatusOK, config)
}

// requestWindow reads the optional ?window= duration, zero if absent.
func requestWindow(r *http.Request) (time.Duration, error) {
	raw := r.URL.Query().Get("window")
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 || d > maxRequestWindow {
		return 0, errors.New("window must be a duration up to " + maxRequestWindow.String())
	}
	return d, nil
}

func writeJSON(wr http.ResponseWriter, status int, v any) {
	wr.Header().Set("Content-Type", "application/json")
	wr.WriteHeader(status)
	if err := json.NewEncoder(wr).Encode(v); err != nil {
		slog.Warn("Failed to write response", "error", err)
	}
}

// handleError handles service errors with proper HTTP status codes
func (m *Monitor) handleError(wr http.ResponseWriter, err error) {
	var serviceErr services.ServiceError
	if errors.As(err, &serviceErr) {
		status := http.StatusInternalServerError
		switch serviceErr.Code {
		case services.ErrCodeNotFound:
			status = http.StatusNotFound
		case services.ErrCodeInvalidInput:
			status = http.StatusBadRequest
		case services.ErrCodeTimeout:
			status = http.StatusGatewayTimeout
		case services.ErrCodeUnavailable:
			status = http.StatusServiceUnavailable
		}
		if status >= http.StatusInternalServerError {
			slog.Error("Service error", "error", err)
		} else {
			slog.Debug("Rejected request", "error", err)
		}
		writeJSON(wr, status, serviceErr)
		return
	}

	slog.Error("Service error", "error", err)
	http.Error(wr, "Internal server error", http.StatusInternalServerError)
}
