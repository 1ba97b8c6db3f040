package proto

import (
	"errors"
	"testing"
)

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()

	if len(r.Entries()) != int(TypeCount)-1 {
		t.Fatalf("Expected %d entries, got %d", TypeCount-1, len(r.Entries()))
	}

	for _, e := range r.Entries() {
		if e.Length != e.Format.Length() {
			t.Errorf("Expected %s length %d, got %d", e.Key, e.Format.Length(), e.Length)
		}
		if e.Length > MaxPayloadLength {
			t.Errorf("Expected %s to fit the payload buffer, got %d bytes", e.Key, e.Length)
		}
		if !e.Topic.Valid() {
			t.Errorf("Expected %s to have a valid topic, got %d", e.Key, e.Topic)
		}
	}
}

func TestRegistry_StatusEntry(t *testing.T) {
	r := NewRegistry()

	if TypeStatus != 11 {
		t.Fatalf("Expected STATUS to be type 11, got %d", TypeStatus)
	}
	entry, ok := r.Lookup(TypeStatus)
	if !ok {
		t.Fatal("Expected STATUS to be registered")
	}
	if entry.Topic != TopicSysReport {
		t.Errorf("Expected topic %s, got %s", TopicSysReport, entry.Topic)
	}
	if entry.Length != 1 {
		t.Errorf("Expected length 1, got %d", entry.Length)
	}
	if entry.Name != "Status" {
		t.Errorf("Expected name 'Status', got '%s'", entry.Name)
	}
}

func TestRegistry_InvalidType(t *testing.T) {
	r := NewRegistry()

	for _, typ := range []Type{TypeInvalid, TypeCount, 200} {
		if r.Valid(typ) {
			t.Errorf("Expected type %d to be invalid", typ)
		}
		if l := r.FormatLength(typ); l != -1 {
			t.Errorf("Expected length -1 for type %d, got %d", typ, l)
		}
		if topic := r.Topic(typ); topic != TopicNone {
			t.Errorf("Expected no topic for type %d, got %s", typ, topic)
		}
		if _, err := r.Construct(typ, SourceBrain); !errors.Is(err, ErrUnknownType) {
			t.Errorf("Expected ErrUnknownType for type %d, got %v", typ, err)
		}
	}
}

func TestRegistry_TypeByKey(t *testing.T) {
	r := NewRegistry()

	typ, ok := r.TypeByKey(" tick_1s ")
	if !ok || typ != TypeTick {
		t.Errorf("Expected TICK_1S, got %v (%v)", typ, ok)
	}
	if _, ok := r.TypeByKey("NOPE"); ok {
		t.Error("Expected unknown key to fail")
	}
}

func TestBuildRegistry_Rejects(t *testing.T) {
	decls := declarations
	decls[TypeCompass].Format = Format(250)
	if _, err := buildRegistry(decls[:]); err == nil {
		t.Error("Expected unknown format to be rejected")
	}

	decls = declarations
	decls[TypeCompass].Key = "STATUS"
	if _, err := buildRegistry(decls[:]); err == nil {
		t.Error("Expected duplicate key to be rejected")
	}

	decls = declarations
	decls[TypeCompass] = Declaration{}
	if _, err := buildRegistry(decls[:]); err == nil {
		t.Error("Expected missing declaration to be rejected")
	}

	if _, err := buildRegistry(declarations[:5]); err == nil {
		t.Error("Expected short list to be rejected")
	}
}

func TestRegistry_NewAndDecode(t *testing.T) {
	r := NewRegistry()

	msg, err := r.New(TypeSysLog, SourceBrain, Log{Severity: SeverityError, File: "NAVIGATION", Text: "lost fix"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if msg.Header.Length != 63 {
		t.Errorf("Expected length 63, got %d", msg.Header.Length)
	}

	var entry Log
	if err := r.Decode(&msg, &entry); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if entry.Severity != SeverityError || entry.File != "NAVI" || entry.Text != "lost fix" {
		t.Errorf("Expected truncated file tag and text, got %+v", entry)
	}

	if _, err := r.New(TypeSysLog, SourceBrain, Int{Value: 3}); !errors.Is(err, ErrPayloadFormat) {
		t.Errorf("Expected ErrPayloadFormat, got %v", err)
	}
	var wrong Int
	if err := r.Decode(&msg, &wrong); !errors.Is(err, ErrPayloadFormat) {
		t.Errorf("Expected ErrPayloadFormat, got %v", err)
	}
}

func TestRegistry_Adjust(t *testing.T) {
	r := NewRegistry()

	msg := Message{Header: Header{Type: TypePose, Length: 2}}
	if err := r.Adjust(&msg); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if msg.Header.Length != 6 {
		t.Errorf("Expected length 6, got %d", msg.Header.Length)
	}

	bad := Message{Header: Header{Type: 99}}
	if err := r.Adjust(&bad); !errors.Is(err, ErrUnknownType) {
		t.Errorf("Expected ErrUnknownType, got %v", err)
	}
}

func TestPayloadShapes(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		typ  Type
		in   Payload
		out  PayloadReader
		same func(PayloadReader) bool
	}{
		{TypeStatus, Byte{Value: 7}, &Byte{}, func(p PayloadReader) bool { return *p.(*Byte) == Byte{Value: 7} }},
		{TypeNotification, Int{Value: -3}, &Int{}, func(p PayloadReader) bool { return p.(*Int).Value == -3 }},
		{TypeOdometry, Odometry{X: -4, Y: 5, Rotation: -90}, &Odometry{}, func(p PayloadReader) bool {
			return *p.(*Odometry) == Odometry{X: -4, Y: 5, Rotation: -90}
		}},
		{TypeMovement, Move{Kind: MoveCompass, X: -300, Y: 1200}, &Move{}, func(p PayloadReader) bool {
			return *p.(*Move) == Move{Kind: MoveCompass, X: -300, Y: 1200}
		}},
		{TypeTick, Tick{Uptime: 86400, Active: Mask(0).With(EventTilt)}, &Tick{}, func(p PayloadReader) bool {
			tk := p.(*Tick)
			return tk.Uptime == 86400 && tk.Active.Has(EventTilt)
		}},
		{TypeSetting, Name3Float{Name: "max_speed", Value: 1.5, Min: 0, Max: 3}, &Name3Float{}, func(p PayloadReader) bool {
			return *p.(*Name3Float) == Name3Float{Name: "max_speed", Value: 1.5, Min: 0, Max: 3}
		}},
		{TypePingResponse, PingResponse{Subsystem: "BRN", Startup: true, Name: "robobus"}, &PingResponse{}, func(p PayloadReader) bool {
			return *p.(*PingResponse) == PingResponse{Subsystem: "BRN", Startup: true, Name: "robobus"}
		}},
		{TypeBattery, Battery{Centivolts: 1180, State: BatteryLow}, &Battery{}, func(p PayloadReader) bool {
			return *p.(*Battery) == Battery{Centivolts: 1180, State: BatteryLow}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			msg, err := r.New(tt.typ, SourceMCU, tt.in)
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if err := r.Decode(&msg, tt.out); err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if !tt.same(tt.out) {
				t.Errorf("Expected %+v, got %+v", tt.in, tt.out)
			}
		})
	}
}

func TestEventFromValue(t *testing.T) {
	e, raised, err := EventFromValue(NotificationValue(EventMotorStall, true))
	if err != nil || e != EventMotorStall || !raised {
		t.Errorf("Expected raised motor_stall, got %s %v %v", e, raised, err)
	}
	e, raised, err = EventFromValue(NotificationValue(EventMotorStall, false))
	if err != nil || e != EventMotorStall || raised {
		t.Errorf("Expected cleared motor_stall, got %s %v %v", e, raised, err)
	}
	for _, v := range []int32{0, int32(EventCount), -1000} {
		if _, _, err := EventFromValue(v); err == nil {
			t.Errorf("Expected value %d to be rejected", v)
		}
	}
}

func TestNewPayload_EveryFormat(t *testing.T) {
	for f := FormatNone; f < FormatCount; f++ {
		p, ok := NewPayload(f)
		if !ok {
			t.Fatalf("Expected a payload for format %v", f)
		}
		if p.Format() != f {
			t.Errorf("Expected format %v, got %v", f, p.Format())
		}
	}
	if _, ok := NewPayload(FormatCount); ok {
		t.Error("Expected no payload for an out of range format")
	}
}

func TestParseSource(t *testing.T) {
	cases := map[string]Source{"brain": SourceBrain, " MCU ": SourceMCU, "app": SourceApp, "7": Source(7)}
	for in, want := range cases {
		got, err := ParseSource(in)
		if err != nil || got != want {
			t.Errorf("ParseSource(%q): expected %v, got %v (%v)", in, want, got, err)
		}
	}
	for _, bad := range []string{"", "0", "robot", "300"} {
		if _, err := ParseSource(bad); err == nil {
			t.Errorf("ParseSource(%q): expected an error", bad)
		}
	}
}
