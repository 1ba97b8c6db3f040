package services

import (
	"time"

	"github.com/mbocsi/robobus/server"
)

// MessageTypeInfo describes one registry entry.
type MessageTypeInfo struct {
	Type   uint8  `json:"type"`
	Key    string `json:"key"`
	Name   string `json:"name"`
	Short  string `json:"short"`
	Topic  string `json:"topic"`
	Format string `json:"format"`
	Length int    `json:"length"`
}

// MessageInfo is a decoded message for the diagnostics surfaces.
type MessageInfo struct {
	Type       string     `json:"type"`
	Name       string     `json:"name"`
	Topic      string     `json:"topic"`
	Source     string     `json:"source"`
	Length     int        `json:"length"`
	PayloadHex string     `json:"payload_hex"`
	Payload    any        `json:"payload,omitempty"`
	Received   *time.Time `json:"received,omitempty"`
	Count      uint64     `json:"count,omitempty"`
}

// PublishRequest injects a message into the bus under the process's source.
// An empty payload publishes the zero payload of the type.
type PublishRequest struct {
	Type       string `json:"type"`
	PayloadHex string `json:"payload_hex"`
}

type RouteInfo struct {
	Topic       string   `json:"topic"`
	Subscribers []string `json:"subscribers"`
}

type NotificationInfo struct {
	Event  string `json:"event"`
	ID     int    `json:"id"`
	Active bool   `json:"active"`
}

// BusStatsInfo combines the bus statistics with those of every serial link.
type BusStatsInfo struct {
	Uptime string               `json:"uptime"`
	Bus    server.BusStats      `json:"bus"`
	Serial []server.SerialStats `json:"serial,omitempty"`
}

// PeerConfig is what a peer reported in answer to a CONFIG request.
type PeerConfig struct {
	Source   string           `json:"source"`
	Options  []server.Option  `json:"options"`
	Settings []server.Setting `json:"settings"`
	Count    int              `json:"count"`
}

type PingReply struct {
	Source    string `json:"source"`
	Subsystem string `json:"subsystem"`
	Name      string `json:"name"`
	Startup   bool   `json:"startup"`
}

// TransportInfo represents transport connection information
type TransportInfo struct {
	Index       int    `json:"index"`
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Address     string `json:"address"`
	Description string `json:"description,omitempty"`
	Session     string `json:"session,omitempty"`
	Status      string `json:"status"`
}

// ServiceError represents structured service layer errors
type ServiceError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e ServiceError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e ServiceError) Unwrap() error {
	return e.Cause
}

// Common error codes
const (
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeTimeout      = "TIMEOUT"
	ErrCodeInternal     = "INTERNAL_ERROR"
	ErrCodeUnavailable  = "UNAVAILABLE"
)
