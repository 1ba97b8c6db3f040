package services

import (
	"context"
	"time"

	"github.com/mbocsi/robobus/proto"
)

// BusService exposes read-only views of the running bus
type BusService interface {
	Stats() (BusStatsInfo, error)
	ListMessageTypes() ([]MessageTypeInfo, error)
	ListRoutes() ([]RouteInfo, error)
	ListNotifications() ([]NotificationInfo, error)

	// Latest message of each type seen by the blackboard
	LatestMessage(key string) (*MessageInfo, error)
	ListLatest() ([]MessageInfo, error)

	// Describe decodes msg for display
	Describe(msg *proto.Message) MessageInfo
}

// MessagingService injects traffic into the bus
type MessagingService interface {
	Publish(req PublishRequest) (*MessageInfo, error)
	Notify(event string) error
	Cancel(event string) error

	// Request/response with peers across the links
	Ping(ctx context.Context, window time.Duration) ([]PingReply, error)
	RequestConfig(ctx context.Context, target proto.Source, timeout time.Duration) (*PeerConfig, error)
}

// TransportService handles transport information
type TransportService interface {
	ListTransports() ([]TransportInfo, error)
	GetTransport(index int) (*TransportInfo, error)
	GetTransportStats() (map[string]any, error)
}

// ServiceContainer holds all service implementations
type ServiceContainer struct {
	Bus       BusService
	Messaging MessagingService
	Transport TransportService
}
