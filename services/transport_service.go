package services

import (
	"github.com/mbocsi/robobus/server"
)

// TransportServiceImpl implements TransportService
type TransportServiceImpl struct {
	coordinator *server.Coordinator
}

// NewTransportService creates a new transport service
func NewTransportService(coordinator *server.Coordinator) *TransportServiceImpl {
	return &TransportServiceImpl{coordinator: coordinator}
}

// ListTransports returns all transport information
func (ts *TransportServiceImpl) ListTransports() ([]TransportInfo, error) {
	transports := ts.coordinator.Transports
	result := make([]TransportInfo, 0, len(transports))

	for i, transport := range transports {
		result = append(result, convertTransportMeta(i, transport))
	}

	return result, nil
}

// GetTransport returns a specific transport by index
func (ts *TransportServiceImpl) GetTransport(index int) (*TransportInfo, error) {
	transports := ts.coordinator.Transports
	if index < 0 || index >= len(transports) {
		return nil, ServiceError{
			Code:    ErrCodeNotFound,
			Message: "Transport index out of range",
		}
	}

	info := convertTransportMeta(index, transports[index])
	return &info, nil
}

// GetTransportStats returns aggregate transport statistics
func (ts *TransportServiceImpl) GetTransportStats() (map[string]any, error) {
	stats := make(map[string]any)

	transports := ts.coordinator.Transports
	connected := 0
	var received, transmitted, dropped uint64

	for _, transport := range transports {
		if transport.Meta().Connected {
			connected++
		}
		if s, ok := transport.(serialStatser); ok {
			st := s.Stats()
			received += st.Received
			transmitted += st.Transmitted
			dropped += st.EchoDrops + st.ForeignDrops + st.QuotaDrops
		}
	}

	stats["total_transports"] = len(transports)
	stats["connected_transports"] = connected
	stats["frames_received"] = received
	stats["frames_transmitted"] = transmitted
	stats["frames_dropped"] = dropped

	return stats, nil
}
