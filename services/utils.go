package services

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/mbocsi/robobus/proto"
	"github.com/mbocsi/robobus/server"
)

type serialStatser interface {
	Stats() server.SerialStats
}

// describeMessage decodes msg into its payload shape for display
func describeMessage(registry *proto.Registry, msg *proto.Message) MessageInfo {
	info := MessageInfo{
		Type:       msg.Header.Type.String(),
		Name:       registry.Name(msg.Header.Type),
		Topic:      registry.Topic(msg.Header.Type).String(),
		Source:     msg.Header.Source.String(),
		Length:     int(msg.Header.Length),
		PayloadHex: hex.EncodeToString(msg.Bytes()),
	}
	entry, ok := registry.Lookup(msg.Header.Type)
	if !ok || entry.Length == 0 {
		return info
	}
	p, ok := proto.NewPayload(entry.Format)
	if !ok {
		return info
	}
	if err := registry.Decode(msg, p); err == nil {
		info.Payload = p
	}
	return info
}

// buildMessage validates req against the registry and constructs the message
func buildMessage(registry *proto.Registry, source proto.Source, req PublishRequest) (proto.Message, error) {
	key := strings.ToUpper(strings.TrimSpace(req.Type))
	if key == "" {
		return proto.Message{}, ServiceError{
			Code:    ErrCodeInvalidInput,
			Message: "Message type cannot be empty",
		}
	}
	t, ok := registry.TypeByKey(key)
	if !ok {
		return proto.Message{}, ServiceError{
			Code:    ErrCodeNotFound,
			Message: "Unknown message type: " + req.Type,
		}
	}

	msg, err := registry.Construct(t, source)
	if err != nil {
		return proto.Message{}, ServiceError{Code: ErrCodeInternal, Message: "Failed to construct message", Cause: err}
	}

	payload, err := hex.DecodeString(strings.ReplaceAll(req.PayloadHex, " ", ""))
	if err != nil {
		return proto.Message{}, ServiceError{
			Code:    ErrCodeInvalidInput,
			Message: "Payload is not valid hex",
			Cause:   err,
		}
	}
	if len(payload) > 0 && len(payload) != int(msg.Header.Length) {
		return proto.Message{}, ServiceError{
			Code:    ErrCodeInvalidInput,
			Message: fmt.Sprintf("%s payload is %d bytes, got %d", key, msg.Header.Length, len(payload)),
		}
	}
	copy(msg.Payload[:], payload)
	return msg, nil
}

func parseEvent(name string) (proto.Event, error) {
	e, err := proto.ParseEvent(name)
	if err != nil {
		return 0, ServiceError{
			Code:    ErrCodeInvalidInput,
			Message: "Unknown event: " + name,
			Cause:   err,
		}
	}
	return e, nil
}

// convertTransportMeta converts transport metadata to TransportInfo
func convertTransportMeta(index int, transport server.Transport) TransportInfo {
	meta := transport.Meta()
	status := "disconnected"
	if meta.Connected {
		status = "connected"
	}

	return TransportInfo{
		Index:       index,
		ID:          meta.ID,
		Name:        meta.Name,
		Type:        meta.Protocol,
		Address:     meta.Address,
		Description: meta.Description,
		Session:     meta.Session,
		Status:      status,
	}
}
