package proto

import (
	"fmt"
	"strings"
)

// Event is a condition that can be raised and cleared through the
// notification channel. Ids start at 1 so that the sign of the carried value
// always tells raised from cleared.
type Event uint8

const (
	EventNone Event = iota
	EventBatteryLow
	EventBatteryCritical
	EventGPSFixObtained
	EventGPSFixLost
	EventObstacleNear
	EventPathBlocked
	EventMotorStall
	EventPeerSilent
	EventTilt
	EventCount
)

var eventNames = [EventCount]string{
	EventNone:            "none",
	EventBatteryLow:      "battery_low",
	EventBatteryCritical: "battery_critical",
	EventGPSFixObtained:  "gps_fix_obtained",
	EventGPSFixLost:      "gps_fix_lost",
	EventObstacleNear:    "obstacle_near",
	EventPathBlocked:     "path_blocked",
	EventMotorStall:      "motor_stall",
	EventPeerSilent:      "peer_silent",
	EventTilt:            "tilt",
}

func (e Event) String() string {
	if e < EventCount {
		return eventNames[e]
	}
	return fmt.Sprintf("event(%d)", uint8(e))
}

func (e Event) Valid() bool {
	return e > EventNone && e < EventCount
}

func ParseEvent(name string) (Event, error) {
	lower := strings.ToLower(strings.TrimSpace(name))
	for e := EventNone + 1; e < EventCount; e++ {
		if eventNames[e] == lower {
			return e, nil
		}
	}
	return EventNone, fmt.Errorf("unknown event %q", name)
}

// NotificationValue is the signed value carried by a NOTIFICATION message.
func NotificationValue(e Event, raised bool) int32 {
	if raised {
		return int32(e)
	}
	return -int32(e)
}

// EventFromValue reverses NotificationValue.
func EventFromValue(v int32) (Event, bool, error) {
	raised := v > 0
	if v < 0 {
		v = -v
	}
	if v > 255 || !Event(v).Valid() {
		return EventNone, false, fmt.Errorf("invalid notification value %d", v)
	}
	return Event(v), raised, nil
}

// Mask is a bit set of active events, bit n for event n.
type Mask uint32

func (m Mask) Has(e Event) bool {
	return m&(1<<e) != 0
}

func (m Mask) With(e Event) Mask {
	return m | 1<<e
}

func (m Mask) Without(e Event) Mask {
	return m &^ (1 << e)
}

func (m Mask) Events() []Event {
	var events []Event
	for e := EventNone + 1; e < EventCount; e++ {
		if m.Has(e) {
			events = append(events, e)
		}
	}
	return events
}
