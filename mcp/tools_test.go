package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mbocsi/robobus/proto"
	"github.com/mbocsi/robobus/server"
	"github.com/mbocsi/robobus/services"
)

func newTestTools(t *testing.T) (*server.Coordinator, *Tools) {
	t.Helper()
	c := server.NewCoordinator(server.Options{
		Source:       proto.SourceBrain,
		PoolPrealloc: 16,
		SysLog:       server.SysLogConfig{MinSeverity: proto.SeverityInfo, ForwardSeverity: proto.SeverityError},
		Responder:    server.ResponderConfig{Subsystem: "OVM", Name: "test"},
	})
	sm, err := services.NewServiceManager(c)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if err := c.Freeze(); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	return c, NewTools(sm.GetServices())
}

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("Expected content in tool result")
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("Expected text content, got %T", res.Content[0])
	}
	return text.Text
}

func TestTools_ListMessageTypes(t *testing.T) {
	_, tools := newTestTools(t)
	res, err := tools.handleListMessageTypes(context.Background(), call(nil))
	if err != nil || res.IsError {
		t.Fatalf("Expected success, got %v %v", err, res)
	}
	var out struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), &out); err != nil {
		t.Fatalf("Expected JSON, got %v", err)
	}
	if out.Count != int(proto.TypeCount)-1 {
		t.Errorf("Expected %d types, got %d", proto.TypeCount-1, out.Count)
	}
}

func TestTools_GetBusStats(t *testing.T) {
	_, tools := newTestTools(t)
	res, _ := tools.handleGetBusStats(context.Background(), call(map[string]any{"include_routes": true}))
	if res.IsError {
		t.Fatalf("Expected success, got %s", resultText(t, res))
	}
	text := resultText(t, res)
	if !strings.Contains(text, `"routes"`) || !strings.Contains(text, `"pool"`) {
		t.Errorf("Expected pool stats and routes, got %s", text)
	}
}

func TestTools_Events(t *testing.T) {
	c, tools := newTestTools(t)

	res, _ := tools.handleSetEvent(context.Background(), call(map[string]any{"event": "motor_stall", "state": "raise"}))
	if res.IsError {
		t.Fatalf("Expected success, got %s", resultText(t, res))
	}
	if !c.Notifications.IsActive(proto.EventMotorStall) {
		t.Error("Expected motor_stall to be active")
	}

	res, _ = tools.handleGetActiveNotifications(context.Background(), call(nil))
	if !strings.Contains(resultText(t, res), "motor_stall") {
		t.Errorf("Expected motor_stall listed, got %s", resultText(t, res))
	}

	res, _ = tools.handleSetEvent(context.Background(), call(map[string]any{"event": "motor_stall", "state": "clear"}))
	if res.IsError || c.Notifications.IsActive(proto.EventMotorStall) {
		t.Error("Expected motor_stall to be cleared")
	}

	res, _ = tools.handleSetEvent(context.Background(), call(map[string]any{"event": "motor_stall", "state": "toggle"}))
	if !res.IsError {
		t.Error("Expected an error for an unknown state")
	}
}

func TestTools_PublishAndLatest(t *testing.T) {
	c, tools := newTestTools(t)

	res, _ := tools.handlePublishMessage(context.Background(), call(map[string]any{"type": "BATTERY", "payload_hex": "ff"}))
	if !res.IsError {
		t.Error("Expected an error for a short payload")
	}
	res, _ = tools.handlePublishMessage(context.Background(), call(map[string]any{"type": "BATTERY", "payload_hex": "e80300"}))
	if res.IsError {
		t.Fatalf("Expected success, got %s", resultText(t, res))
	}

	res, _ = tools.handleGetLatestMessage(context.Background(), call(map[string]any{"type": "BATTERY"}))
	if !res.IsError {
		t.Error("Expected no BATTERY before the broker drains its queue")
	}

	battery, _ := c.Registry.New(proto.TypeBattery, proto.SourceMCU, proto.Battery{Centivolts: 1000})
	c.Broker.Route(&battery)
	res, _ = tools.handleGetLatestMessage(context.Background(), call(map[string]any{"type": "battery"}))
	if res.IsError {
		t.Fatalf("Expected success, got %s", resultText(t, res))
	}
	if !strings.Contains(resultText(t, res), `"Centivolts":1000`) {
		t.Errorf("Expected decoded battery payload, got %s", resultText(t, res))
	}

	res, _ = tools.handleGetLatestMessage(context.Background(), call(nil))
	if !res.IsError {
		t.Error("Expected an error without a type")
	}
}

func TestTools_RequestPeerConfigBadSource(t *testing.T) {
	_, tools := newTestTools(t)
	res, _ := tools.handleRequestPeerConfig(context.Background(), call(map[string]any{"source": "toaster"}))
	if !res.IsError {
		t.Error("Expected an error for an unknown source")
	}
}

func TestNewMCPServer_RegistersTools(t *testing.T) {
	_, tools := newTestTools(t)
	s := NewMCPServer()
	tools.Register(s)
	if s.MCPServer == nil {
		t.Fatal("Expected an MCP server")
	}
}
