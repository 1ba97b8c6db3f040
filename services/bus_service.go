package services

import (
	"strings"
	"time"

	"github.com/mbocsi/robobus/proto"
	"github.com/mbocsi/robobus/server"
)

// BusServiceImpl implements BusService
type BusServiceImpl struct {
	coordinator *server.Coordinator
	started     time.Time
}

func NewBusService(coordinator *server.Coordinator) *BusServiceImpl {
	return &BusServiceImpl{coordinator: coordinator, started: time.Now()}
}

func (bs *BusServiceImpl) Stats() (BusStatsInfo, error) {
	info := BusStatsInfo{
		Uptime: time.Since(bs.started).Truncate(time.Second).String(),
		Bus:    bs.coordinator.Stats(),
	}
	for _, t := range bs.coordinator.Transports {
		if s, ok := t.(serialStatser); ok {
			info.Serial = append(info.Serial, s.Stats())
		}
	}
	return info, nil
}

func (bs *BusServiceImpl) ListMessageTypes() ([]MessageTypeInfo, error) {
	entries := bs.coordinator.Registry.Entries()
	result := make([]MessageTypeInfo, 0, len(entries))
	for _, e := range entries {
		result = append(result, MessageTypeInfo{
			Type:   uint8(e.Type),
			Key:    e.Key,
			Name:   e.Name,
			Short:  e.Short,
			Topic:  e.Topic.String(),
			Format: e.Format.String(),
			Length: e.Length,
		})
	}
	return result, nil
}

func (bs *BusServiceImpl) ListRoutes() ([]RouteInfo, error) {
	routes := bs.coordinator.Routes.Routes()
	result := make([]RouteInfo, 0, len(routes))
	for _, r := range routes {
		result = append(result, RouteInfo{Topic: r.Topic, Subscribers: r.Subscribers})
	}
	return result, nil
}

func (bs *BusServiceImpl) ListNotifications() ([]NotificationInfo, error) {
	active := bs.coordinator.Notifications.Active()
	result := make([]NotificationInfo, 0, int(proto.EventCount)-1)
	for e := proto.EventNone + 1; e < proto.EventCount; e++ {
		result = append(result, NotificationInfo{Event: e.String(), ID: int(e), Active: active.Has(e)})
	}
	return result, nil
}

func (bs *BusServiceImpl) LatestMessage(key string) (*MessageInfo, error) {
	t, ok := bs.coordinator.Registry.TypeByKey(strings.ToUpper(strings.TrimSpace(key)))
	if !ok {
		return nil, ServiceError{
			Code:    ErrCodeNotFound,
			Message: "Unknown message type: " + key,
		}
	}
	snap, ok := bs.coordinator.Blackboard.Latest(t)
	if !ok {
		return nil, ServiceError{
			Code:    ErrCodeNotFound,
			Message: "No " + t.String() + " message seen yet",
		}
	}
	info := bs.fromSnapshot(snap)
	return &info, nil
}

func (bs *BusServiceImpl) ListLatest() ([]MessageInfo, error) {
	snaps := bs.coordinator.Blackboard.All()
	result := make([]MessageInfo, 0, len(snaps))
	for _, snap := range snaps {
		result = append(result, bs.fromSnapshot(snap))
	}
	return result, nil
}

func (bs *BusServiceImpl) Describe(msg *proto.Message) MessageInfo {
	return describeMessage(bs.coordinator.Registry, msg)
}

func (bs *BusServiceImpl) fromSnapshot(snap server.Snapshot) MessageInfo {
	info := describeMessage(bs.coordinator.Registry, &snap.Message)
	received := snap.Received
	info.Received = &received
	info.Count = snap.Count
	return info
}
