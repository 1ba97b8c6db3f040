package services

import (
	"github.com/mbocsi/robobus/proto"
	"github.com/mbocsi/robobus/server"
)

// ServiceManagerImpl wires the services to one coordinator
type ServiceManagerImpl struct {
	coordinator *server.Coordinator
	tracker     *ResponseTracker

	services *ServiceContainer
}

// NewServiceManager registers the reply tracker with the coordinator, so it
// has to run before the bus starts.
func NewServiceManager(coordinator *server.Coordinator) (*ServiceManagerImpl, error) {
	tracker := NewResponseTracker()
	if err := coordinator.RegisterSubscriber(tracker, proto.TopicAnnouncements, proto.TopicConfig); err != nil {
		return nil, err
	}

	sm := &ServiceManagerImpl{
		coordinator: coordinator,
		tracker:     tracker,
	}
	sm.services = &ServiceContainer{
		Bus:       NewBusService(coordinator),
		Messaging: NewMessagingService(coordinator.Broker, tracker),
		Transport: NewTransportService(coordinator),
	}
	return sm, nil
}

// GetServices returns the service container
func (sm *ServiceManagerImpl) GetServices() *ServiceContainer {
	return sm.services
}

func (sm *ServiceManagerImpl) Tracker() *ResponseTracker {
	return sm.tracker
}
