package proto

import (
	"fmt"
	"strings"
)

// Type identifies a message kind. Zero is never a valid type.
type Type uint8

const (
	TypeInvalid Type = iota
	TypeSysLog
	TypeLocalLog
	TypePing
	TypePingResponse
	TypeConfig
	TypeConfigDone
	TypeOption
	TypeSetting
	TypeSetOption
	TypeNewSetting
	TypeStatus
	TypeNotification
	TypeTick
	TypeOdometry
	TypeProximity
	TypeMovement
	TypeOrient
	TypePose
	TypeAction
	TypeMotorAction
	TypeBattery
	TypeStats
	TypeCompass
	TypeCount
)

// Declaration is one line of the closed message list.
type Declaration struct {
	Key    string // canonical upper-case name, used by the diagnostics surfaces
	Topic  Topic
	Format Format
	Short  string // two letter tag for compact logs
	Name   string
}

var declarations = [TypeCount]Declaration{
	TypeSysLog:       {"SYSLOG", TopicLog, FormatLog, "SL", "System Log"},
	TypeLocalLog:     {"LOCAL_LOG", TopicLocalLog, FormatLog, "LG", "Local Log"},
	TypePing:         {"PING", TopicAnnouncements, FormatNone, "PG", "Ping"},
	TypePingResponse: {"PING_RESPONSE", TopicAnnouncements, FormatPingResponse, "PR", "Ping Response"},
	TypeConfig:       {"CONFIG", TopicAnnouncements, FormatByte, "CF", "Send Config"},
	TypeConfigDone:   {"CONFIG_DONE", TopicConfig, FormatByte, "CD", "Config Done"},
	TypeOption:       {"OPTION", TopicConfig, FormatName3Int, "OP", "Option"},
	TypeSetting:      {"SETTING", TopicConfig, FormatName3Float, "ST", "Setting"},
	TypeSetOption:    {"SET_OPTION", TopicAnnouncements, FormatNameInt, "SO", "Set Option"},
	TypeNewSetting:   {"NEW_SETTING", TopicAnnouncements, FormatNameFloat, "NS", "New Setting"},
	TypeStatus:       {"STATUS", TopicSysReport, FormatByte, "SS", "Status"},
	TypeNotification: {"NOTIFICATION", TopicNotification, FormatInt, "NT", "Notification"},
	TypeTick:         {"TICK_1S", TopicTick, FormatTick, "TK", "Tick 1S"},
	TypeOdometry:     {"ODOMETRY", TopicRawOdometry, FormatOdometry, "OD", "Odometry"},
	TypeProximity:    {"PROX_REPORT", TopicRawProximity, FormatProximity, "PX", "Proximity Report"},
	TypeMovement:     {"MOVEMENT", TopicNavAction, FormatMove, "MV", "Movement"},
	TypeOrient:       {"ORIENT", TopicNavAction, FormatOrient, "OR", "Orient"},
	TypePose:         {"POSE", TopicNavReport, FormatPose, "PS", "Pose"},
	TypeAction:       {"ACTION", TopicAction, FormatByte, "AC", "Action"},
	TypeMotorAction:  {"MOT_ACTION", TopicMotAction, FormatMove, "MA", "Motor Action"},
	TypeBattery:      {"BATTERY", TopicSysReport, FormatBattery, "BT", "Battery"},
	TypeStats:        {"STATS", TopicStats, FormatName3Int, "SX", "Statistics"},
	TypeCompass:      {"COMPASS", TopicRawNav, FormatInt, "CP", "Compass"},
}

func (t Type) String() string {
	if t > TypeInvalid && t < TypeCount {
		return declarations[t].Key
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// Entry is the registry's view of one message type.
type Entry struct {
	Type   Type
	Key    string
	Topic  Topic
	Format Format
	Length int
	Short  string
	Name   string
}

// Registry maps message types to topic, payload shape, length and name. It is
// built once and never written again, so readers need no locking.
type Registry struct {
	entries [TypeCount]Entry
	byKey   map[string]Type
}

// NewRegistry builds the registry from the compiled-in declaration list.
func NewRegistry() *Registry {
	r, err := buildRegistry(declarations[:])
	if err != nil {
		// the declaration list is fixed at build time
		panic(err)
	}
	return r
}

func buildRegistry(decls []Declaration) (*Registry, error) {
	if len(decls) != int(TypeCount) {
		return nil, fmt.Errorf("declaration list has %d slots, want %d", len(decls), TypeCount)
	}
	r := &Registry{byKey: make(map[string]Type, TypeCount)}
	for i := 1; i < len(decls); i++ {
		d := decls[i]
		t := Type(i)
		if d.Key == "" {
			return nil, fmt.Errorf("message type %d is not declared", i)
		}
		if !d.Topic.Valid() {
			return nil, fmt.Errorf("message %s has invalid topic %d", d.Key, d.Topic)
		}
		length := d.Format.Length()
		if length < 0 || length > MaxPayloadLength {
			return nil, fmt.Errorf("message %s has invalid format %s", d.Key, d.Format)
		}
		if _, dup := r.byKey[d.Key]; dup {
			return nil, fmt.Errorf("message key %s declared twice", d.Key)
		}
		r.byKey[d.Key] = t
		r.entries[t] = Entry{
			Type:   t,
			Key:    d.Key,
			Topic:  d.Topic,
			Format: d.Format,
			Length: length,
			Short:  d.Short,
			Name:   d.Name,
		}
	}
	return r, nil
}

func (r *Registry) Valid(t Type) bool {
	return t > TypeInvalid && t < TypeCount
}

func (r *Registry) Lookup(t Type) (Entry, bool) {
	if !r.Valid(t) {
		return Entry{}, false
	}
	return r.entries[t], true
}

// FormatLength is the fixed payload length for t, or -1 for an unknown type.
func (r *Registry) FormatLength(t Type) int {
	if !r.Valid(t) {
		return -1
	}
	return r.entries[t].Length
}

// Topic is the routing topic for t, or TopicNone for an unknown type.
func (r *Registry) Topic(t Type) Topic {
	if !r.Valid(t) {
		return TopicNone
	}
	return r.entries[t].Topic
}

func (r *Registry) Name(t Type) string {
	if !r.Valid(t) {
		return t.String()
	}
	return r.entries[t].Name
}

// TypeByKey resolves a canonical key such as "STATUS" (case-insensitive).
func (r *Registry) TypeByKey(key string) (Type, bool) {
	t, ok := r.byKey[strings.ToUpper(strings.TrimSpace(key))]
	return t, ok
}

func (r *Registry) Entries() []Entry {
	out := make([]Entry, 0, TypeCount-1)
	for t := TypeInvalid + 1; t < TypeCount; t++ {
		out = append(out, r.entries[t])
	}
	return out
}

// Construct returns a zeroed message of type t with its header filled in.
func (r *Registry) Construct(t Type, source Source) (Message, error) {
	if !r.Valid(t) {
		return Message{}, fmt.Errorf("%w: %d", ErrUnknownType, uint8(t))
	}
	var m Message
	m.Header = Header{Type: t, Source: source, Length: uint8(r.entries[t].Length)}
	return m, nil
}

// New constructs a message and encodes p into it. The payload shape must be
// the one declared for t.
func (r *Registry) New(t Type, source Source, p Payload) (Message, error) {
	m, err := r.Construct(t, source)
	if err != nil {
		return Message{}, err
	}
	if want := r.entries[t].Format; p.Format() != want {
		return Message{}, fmt.Errorf("%w: %s expects %s, got %s", ErrPayloadFormat, t, want, p.Format())
	}
	if err := m.Encode(p); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Decode reads m's payload into p after checking p is the declared shape.
func (r *Registry) Decode(m *Message, p PayloadReader) error {
	entry, ok := r.Lookup(m.Header.Type)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownType, uint8(m.Header.Type))
	}
	if p.Format() != entry.Format {
		return fmt.Errorf("%w: %s carries %s, got %s", ErrPayloadFormat, entry.Key, entry.Format, p.Format())
	}
	return m.Decode(p)
}

// Adjust re-derives the header length from the registry.
func (r *Registry) Adjust(m *Message) error {
	if !r.Valid(m.Header.Type) {
		return fmt.Errorf("%w: %d", ErrUnknownType, uint8(m.Header.Type))
	}
	m.Header.Length = uint8(r.entries[m.Header.Type].Length)
	return nil
}
