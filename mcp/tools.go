package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mbocsi/robobus/proto"
	"github.com/mbocsi/robobus/services"
)

// Tools exposes the bus diagnostics as MCP tools.
type Tools struct {
	services *services.ServiceContainer
}

func NewTools(serviceContainer *services.ServiceContainer) *Tools {
	return &Tools{services: serviceContainer}
}

// Register adds every tool to s.
func (t *Tools) Register(s *MCPServer) {
	t.registerBusTools(s)
	t.registerMessagingTools(s)
}

func (t *Tools) registerBusTools(s *MCPServer) {
	s.AddTool(mcp.NewTool("list_message_types",
		mcp.WithDescription("List every message type the bus knows with its topic, payload format and length"),
	), t.handleListMessageTypes)

	s.AddTool(mcp.NewTool("get_bus_stats",
		mcp.WithDescription("Get pool, broker, queue and serial link statistics"),
		mcp.WithBoolean("include_transports",
			mcp.Description("Include transport information"),
		),
		mcp.WithBoolean("include_routes",
			mcp.Description("Include the static route table"),
		),
	), t.handleGetBusStats)

	s.AddTool(mcp.NewTool("get_active_notifications",
		mcp.WithDescription("List the notification events that are currently raised"),
	), t.handleGetActiveNotifications)

	s.AddTool(mcp.NewTool("get_latest_message",
		mcp.WithDescription("Get the most recent message of a type, decoded"),
		mcp.WithString("type",
			mcp.Required(),
			mcp.Description("Message type key, for example POSE or BATTERY"),
		),
	), t.handleGetLatestMessage)
}

func (t *Tools) registerMessagingTools(s *MCPServer) {
	s.AddTool(mcp.NewTool("publish_message",
		mcp.WithDescription("Publish a message on the bus under this process's source id"),
		mcp.WithString("type",
			mcp.Required(),
			mcp.Description("Message type key, for example MOT_ACTION"),
		),
		mcp.WithString("payload_hex",
			mcp.Description("Payload bytes as hex, exactly the registry length; empty publishes the zero payload"),
		),
	), t.handlePublishMessage)

	s.AddTool(mcp.NewTool("set_event",
		mcp.WithDescription("Raise or clear a notification event"),
		mcp.WithString("event",
			mcp.Required(),
			mcp.Description("Event name, for example obstacle_near"),
		),
		mcp.WithString("state",
			mcp.Required(),
			mcp.Description("Whether to raise or clear the event"),
			mcp.Enum("raise", "clear"),
		),
	), t.handleSetEvent)

	s.AddTool(mcp.NewTool("ping_peers",
		mcp.WithDescription("Broadcast a PING and list the peers that answer"),
		mcp.WithNumber("timeout",
			mcp.Description("Seconds to wait for answers"),
		),
	), t.handlePingPeers)

	s.AddTool(mcp.NewTool("request_peer_config",
		mcp.WithDescription("Ask a peer for its options and settings"),
		mcp.WithString("source",
			mcp.Required(),
			mcp.Description("Peer source name or id, for example mcu"),
		),
		mcp.WithNumber("timeout",
			mcp.Description("Seconds to wait for CONFIG_DONE"),
		),
	), t.handleRequestPeerConfig)
}

func (t *Tools) handleListMessageTypes(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	types, err := t.services.Bus.ListMessageTypes()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Error listing message types: %v", err)), nil
	}
	return jsonResult(map[string]any{"types": types, "count": len(types)})
}

func (t *Tools) handleGetBusStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := t.services.Bus.Stats()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Error reading bus stats: %v", err)), nil
	}
	result := map[string]any{
		"timestamp": time.Now().Unix(),
		"uptime":    stats.Uptime,
		"bus":       stats.Bus,
		"serial":    stats.Serial,
	}

	if request.GetBool("include_transports", true) {
		if transports, err := t.services.Transport.ListTransports(); err == nil {
			result["transports"] = transports
		}
	}
	if request.GetBool("include_routes", false) {
		if routes, err := t.services.Bus.ListRoutes(); err == nil {
			result["routes"] = routes
		}
	}
	return jsonResult(result)
}

func (t *Tools) handleGetActiveNotifications(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	all, err := t.services.Bus.ListNotifications()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Error reading notifications: %v", err)), nil
	}
	active := make([]string, 0, len(all))
	for _, n := range all {
		if n.Active {
			active = append(active, n.Event)
		}
	}
	return jsonResult(map[string]any{"active": active})
}

func (t *Tools) handleGetLatestMessage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := request.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError("type is required and must be a string"), nil
	}
	msg, err := t.services.Bus.LatestMessage(key)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(msg)
}

func (t *Tools) handlePublishMessage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := request.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError("type is required and must be a string"), nil
	}
	msg, err := t.services.Messaging.Publish(services.PublishRequest{
		Type:       key,
		PayloadHex: request.GetString("payload_hex", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to publish: %v", err)), nil
	}
	return jsonResult(msg)
}

func (t *Tools) handleSetEvent(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	event, err := request.RequireString("event")
	if err != nil {
		return mcp.NewToolResultError("event is required and must be a string"), nil
	}
	state, err := request.RequireString("state")
	if err != nil {
		return mcp.NewToolResultError("state is required and must be raise or clear"), nil
	}

	var done string
	switch state {
	case "raise":
		err, done = t.services.Messaging.Notify(event), "raised"
	case "clear":
		err, done = t.services.Messaging.Cancel(event), "cleared"
	default:
		return mcp.NewToolResultError("state must be raise or clear"), nil
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Event %s %s", event, done)), nil
}

func (t *Tools) handlePingPeers(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	timeout := seconds(request.GetFloat("timeout", 2))
	replies, err := t.services.Messaging.Ping(ctx, timeout)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("No answer: %v", err)), nil
	}
	return jsonResult(map[string]any{"replies": replies})
}

func (t *Tools) handleRequestPeerConfig(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("source")
	if err != nil {
		return mcp.NewToolResultError("source is required and must be a string"), nil
	}
	source, err := proto.ParseSource(name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	config, err := t.services.Messaging.RequestConfig(ctx, source, seconds(request.GetFloat("timeout", 2)))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Config request failed: %v", err)), nil
	}
	return jsonResult(config)
}

func seconds(f float64) time.Duration {
	if f <= 0 || f > 30 {
		f = 2
	}
	return time.Duration(f * float64(time.Second))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
