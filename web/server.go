package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

const shutdownTimeout = 3 * time.Second

// Server serves a Monitor over HTTP until its context ends.
type Server struct {
	Addr    string
	monitor *Monitor
	server  *http.Server
}

func NewServer(addr string, monitor *Monitor) *Server {
	return &Server{Addr: addr, monitor: monitor}
}

func (s *Server) Start(ctx context.Context) error {
	slog.Info("Starting web monitor", "addr", s.Addr)

	s.server = &http.Server{
		Addr:              s.Addr,
		Handler:           s.monitor.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	slog.Info("Shutting down web monitor", "addr", s.Addr)
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return s.server.Close()
	}
	return nil
}
