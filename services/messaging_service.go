package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mbocsi/robobus/proto"
	"github.com/mbocsi/robobus/server"
)

const defaultRequestTimeout = 2 * time.Second

// MessagingServiceImpl implements MessagingService
type MessagingServiceImpl struct {
	broker  *server.Broker
	tracker *ResponseTracker
}

func NewMessagingService(broker *server.Broker, tracker *ResponseTracker) *MessagingServiceImpl {
	return &MessagingServiceImpl{broker: broker, tracker: tracker}
}

// Publish queues a message on the broker's ingress, as if it had been produced
// by a task of this process.
func (ms *MessagingServiceImpl) Publish(req PublishRequest) (*MessageInfo, error) {
	registry := ms.broker.Registry()
	msg, err := buildMessage(registry, ms.broker.Source(), req)
	if err != nil {
		return nil, err
	}
	if err := ms.broker.Publish(&msg); err != nil {
		if errors.Is(err, server.ErrOwnSysLog) {
			return nil, ServiceError{Code: ErrCodeInvalidInput, Message: err.Error(), Cause: err}
		}
		return nil, ServiceError{
			Code:    ErrCodeUnavailable,
			Message: "Failed to publish message",
			Cause:   err,
		}
	}
	slog.Info("Published message", "type", msg.Header.Type, "length", msg.Header.Length)
	info := describeMessage(registry, &msg)
	return &info, nil
}

func (ms *MessagingServiceImpl) Notify(event string) error {
	e, err := parseEvent(event)
	if err != nil {
		return err
	}
	if err := ms.broker.Notify(e); err != nil {
		return ServiceError{Code: ErrCodeInternal, Message: "Failed to raise " + e.String(), Cause: err}
	}
	return nil
}

func (ms *MessagingServiceImpl) Cancel(event string) error {
	e, err := parseEvent(event)
	if err != nil {
		return err
	}
	if err := ms.broker.Cancel(e); err != nil {
		return ServiceError{Code: ErrCodeInternal, Message: "Failed to clear " + e.String(), Cause: err}
	}
	return nil
}

// Ping broadcasts a PING and gathers the responses of other sources that
// arrive within window.
func (ms *MessagingServiceImpl) Ping(ctx context.Context, window time.Duration) ([]PingReply, error) {
	if window <= 0 {
		window = defaultRequestTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	own := ms.broker.Source()
	match := func(m *proto.Message) bool {
		return m.Header.Type == proto.TypePingResponse && m.Header.Source != own
	}
	replies, err := ms.tracker.Collect(ctx, match, func() error { return ms.send(proto.TypePing, proto.Empty{}) }, nil)
	if err != nil {
		return nil, err
	}

	registry := ms.broker.Registry()
	result := make([]PingReply, 0, len(replies))
	for i := range replies {
		var p proto.PingResponse
		if err := registry.Decode(&replies[i], &p); err != nil {
			continue
		}
		result = append(result, PingReply{
			Source:    replies[i].Header.Source.String(),
			Subsystem: p.Subsystem,
			Name:      p.Name,
			Startup:   p.Startup,
		})
	}
	return result, nil
}

// RequestConfig asks target for its options and settings and waits for its
// CONFIG_DONE.
func (ms *MessagingServiceImpl) RequestConfig(ctx context.Context, target proto.Source, timeout time.Duration) (*PeerConfig, error) {
	if target == ms.broker.Source() || target == proto.SourceUnknown {
		return nil, ServiceError{Code: ErrCodeInvalidInput, Message: "Config must be requested from a peer, not " + target.String()}
	}
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	match := func(m *proto.Message) bool {
		if m.Header.Source != target {
			return false
		}
		switch m.Header.Type {
		case proto.TypeOption, proto.TypeSetting, proto.TypeConfigDone:
			return true
		}
		return false
	}
	done := func(m *proto.Message) bool { return m.Header.Type == proto.TypeConfigDone }
	send := func() error { return ms.send(proto.TypeConfig, proto.Byte{Value: uint8(target)}) }

	replies, err := ms.tracker.Collect(ctx, match, send, done)
	if err != nil {
		return nil, err
	}

	registry := ms.broker.Registry()
	config := &PeerConfig{Source: target.String()}
	for i := range replies {
		msg := &replies[i]
		switch msg.Header.Type {
		case proto.TypeOption:
			var p proto.Name3Int
			if registry.Decode(msg, &p) == nil {
				config.Options = append(config.Options, server.Option{Name: p.Name, Value: p.Value, Min: p.Min, Max: p.Max})
			}
		case proto.TypeSetting:
			var p proto.Name3Float
			if registry.Decode(msg, &p) == nil {
				config.Settings = append(config.Settings, server.Setting{Name: p.Name, Value: p.Value, Min: p.Min, Max: p.Max})
			}
		case proto.TypeConfigDone:
			var p proto.Byte
			if registry.Decode(msg, &p) == nil {
				config.Count = int(p.Value)
			}
		}
	}
	return config, nil
}

func (ms *MessagingServiceImpl) send(t proto.Type, p proto.Payload) error {
	msg, err := ms.broker.Registry().New(t, ms.broker.Source(), p)
	if err != nil {
		return err
	}
	return ms.broker.Publish(&msg)
}
