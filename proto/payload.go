package proto

import (
	"bytes"
	"encoding/binary"
	"math"
)

// Payload is one of the fixed payload shapes. Multi-byte fields are little
// endian on the wire.
type Payload interface {
	Format() Format
	// MarshalTo fills b, which is exactly Format().Length() bytes long.
	MarshalTo(b []byte)
}

// PayloadReader is implemented by pointers to the payload shapes.
type PayloadReader interface {
	Format() Format
	// UnmarshalFrom reads b, which is exactly Format().Length() bytes long.
	UnmarshalFrom(b []byte)
}

var le = binary.LittleEndian

func putString(b []byte, s string) {
	n := copy(b, s)
	clear(b[n:])
}

func getString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

type Empty struct{}

func (Empty) Format() Format        { return FormatNone }
func (Empty) MarshalTo([]byte)      {}
func (*Empty) UnmarshalFrom([]byte) {}

type Byte struct {
	Value uint8
}

func (Byte) Format() Format            { return FormatByte }
func (p Byte) MarshalTo(b []byte)      { b[0] = p.Value }
func (p *Byte) UnmarshalFrom(b []byte) { p.Value = b[0] }

type Int struct {
	Value int32
}

func (Int) Format() Format            { return FormatInt }
func (p Int) MarshalTo(b []byte)      { le.PutUint32(b, uint32(p.Value)) }
func (p *Int) UnmarshalFrom(b []byte) { p.Value = int32(le.Uint32(b)) }

type Float struct {
	Value float32
}

func (Float) Format() Format            { return FormatFloat }
func (p Float) MarshalTo(b []byte)      { le.PutUint32(b, math.Float32bits(p.Value)) }
func (p *Float) UnmarshalFrom(b []byte) { p.Value = math.Float32frombits(le.Uint32(b)) }

// Log is a diagnostic log entry. File is a short tag naming the producing
// subsystem; both strings are truncated to their fixed widths.
type Log struct {
	Severity Severity
	File     string
	Text     string
}

func (Log) Format() Format { return FormatLog }

func (p Log) MarshalTo(b []byte) {
	b[0] = uint8(p.Severity)
	putString(b[1:1+FileTagLength], p.File)
	putString(b[1+FileTagLength:], p.Text)
}

func (p *Log) UnmarshalFrom(b []byte) {
	p.Severity = Severity(b[0])
	p.File = getString(b[1 : 1+FileTagLength])
	p.Text = getString(b[1+FileTagLength:])
}

// Odometry is movement since the previous report: centimetres and degrees.
type Odometry struct {
	X        int8
	Y        int8
	Rotation int8
}

func (Odometry) Format() Format { return FormatOdometry }

func (p Odometry) MarshalTo(b []byte) {
	b[0], b[1], b[2] = uint8(p.X), uint8(p.Y), uint8(p.Rotation)
}

func (p *Odometry) UnmarshalFrom(b []byte) {
	p.X, p.Y, p.Rotation = int8(b[0]), int8(b[1]), int8(b[2])
}

type MoveKind uint8

const (
	MoveLocal MoveKind = iota
	MoveCompass
	MoveAbsolute
)

// Move asks for a displacement in centimetres. In the compass frame X is
// northing and Y is easting.
type Move struct {
	Kind MoveKind
	X    int16
	Y    int16
}

func (Move) Format() Format { return FormatMove }

func (p Move) MarshalTo(b []byte) {
	b[0] = uint8(p.Kind)
	le.PutUint16(b[1:], uint16(p.X))
	le.PutUint16(b[3:], uint16(p.Y))
}

func (p *Move) UnmarshalFrom(b []byte) {
	p.Kind = MoveKind(b[0])
	p.X = int16(le.Uint16(b[1:]))
	p.Y = int16(le.Uint16(b[3:]))
}

type OrientKind uint8

const (
	OrientRelative OrientKind = iota
	OrientCompass
)

type Orient struct {
	Heading int16 // degrees
	Kind    OrientKind
}

func (Orient) Format() Format { return FormatOrient }

func (p Orient) MarshalTo(b []byte) {
	le.PutUint16(b, uint16(p.Heading))
	b[2] = uint8(p.Kind)
}

func (p *Orient) UnmarshalFrom(b []byte) {
	p.Heading = int16(le.Uint16(b))
	p.Kind = OrientKind(b[2])
}

type Proximity struct {
	Sector     uint8
	Range      uint16 // cm
	Confidence uint8  // percent
}

func (Proximity) Format() Format { return FormatProximity }

func (p Proximity) MarshalTo(b []byte) {
	b[0] = p.Sector
	le.PutUint16(b[1:], p.Range)
	b[3] = p.Confidence
}

func (p *Proximity) UnmarshalFrom(b []byte) {
	p.Sector = b[0]
	p.Range = le.Uint16(b[1:])
	p.Confidence = b[3]
}

type Pose struct {
	Heading  int16 // degrees
	Northing int16 // cm
	Easting  int16 // cm
}

func (Pose) Format() Format { return FormatPose }

func (p Pose) MarshalTo(b []byte) {
	le.PutUint16(b, uint16(p.Heading))
	le.PutUint16(b[2:], uint16(p.Northing))
	le.PutUint16(b[4:], uint16(p.Easting))
}

func (p *Pose) UnmarshalFrom(b []byte) {
	p.Heading = int16(le.Uint16(b))
	p.Northing = int16(le.Uint16(b[2:]))
	p.Easting = int16(le.Uint16(b[4:]))
}

type Tick struct {
	Uptime uint32 // seconds
	Active Mask
}

func (Tick) Format() Format { return FormatTick }

func (p Tick) MarshalTo(b []byte) {
	le.PutUint32(b, p.Uptime)
	le.PutUint32(b[4:], uint32(p.Active))
}

func (p *Tick) UnmarshalFrom(b []byte) {
	p.Uptime = le.Uint32(b)
	p.Active = Mask(le.Uint32(b[4:]))
}

type NameInt struct {
	Name  string
	Value int32
}

func (NameInt) Format() Format { return FormatNameInt }

func (p NameInt) MarshalTo(b []byte) {
	putString(b[:NameLength], p.Name)
	le.PutUint32(b[NameLength:], uint32(p.Value))
}

func (p *NameInt) UnmarshalFrom(b []byte) {
	p.Name = getString(b[:NameLength])
	p.Value = int32(le.Uint32(b[NameLength:]))
}

type NameFloat struct {
	Name  string
	Value float32
}

func (NameFloat) Format() Format { return FormatNameFloat }

func (p NameFloat) MarshalTo(b []byte) {
	putString(b[:NameLength], p.Name)
	le.PutUint32(b[NameLength:], math.Float32bits(p.Value))
}

func (p *NameFloat) UnmarshalFrom(b []byte) {
	p.Name = getString(b[:NameLength])
	p.Value = math.Float32frombits(le.Uint32(b[NameLength:]))
}

// Name3Int describes an integer option with its bounds.
type Name3Int struct {
	Name  string
	Value int32
	Min   int32
	Max   int32
}

func (Name3Int) Format() Format { return FormatName3Int }

func (p Name3Int) MarshalTo(b []byte) {
	putString(b[:NameLength], p.Name)
	le.PutUint32(b[NameLength:], uint32(p.Value))
	le.PutUint32(b[NameLength+4:], uint32(p.Min))
	le.PutUint32(b[NameLength+8:], uint32(p.Max))
}

func (p *Name3Int) UnmarshalFrom(b []byte) {
	p.Name = getString(b[:NameLength])
	p.Value = int32(le.Uint32(b[NameLength:]))
	p.Min = int32(le.Uint32(b[NameLength+4:]))
	p.Max = int32(le.Uint32(b[NameLength+8:]))
}

// Name3Float describes a float setting with its bounds.
type Name3Float struct {
	Name  string
	Value float32
	Min   float32
	Max   float32
}

func (Name3Float) Format() Format { return FormatName3Float }

func (p Name3Float) MarshalTo(b []byte) {
	putString(b[:NameLength], p.Name)
	le.PutUint32(b[NameLength:], math.Float32bits(p.Value))
	le.PutUint32(b[NameLength+4:], math.Float32bits(p.Min))
	le.PutUint32(b[NameLength+8:], math.Float32bits(p.Max))
}

func (p *Name3Float) UnmarshalFrom(b []byte) {
	p.Name = getString(b[:NameLength])
	p.Value = math.Float32frombits(le.Uint32(b[NameLength:]))
	p.Min = math.Float32frombits(le.Uint32(b[NameLength+4:]))
	p.Max = math.Float32frombits(le.Uint32(b[NameLength+8:]))
}

type PingResponse struct {
	Subsystem string
	Startup   bool // set on the first reply after process start
	Name      string
}

func (PingResponse) Format() Format { return FormatPingResponse }

func (p PingResponse) MarshalTo(b []byte) {
	putString(b[:SubsystemLength], p.Subsystem)
	b[SubsystemLength] = 0
	if p.Startup {
		b[SubsystemLength] = 1
	}
	putString(b[SubsystemLength+1:], p.Name)
}

func (p *PingResponse) UnmarshalFrom(b []byte) {
	p.Subsystem = getString(b[:SubsystemLength])
	p.Startup = b[SubsystemLength] != 0
	p.Name = getString(b[SubsystemLength+1:])
}

type BatteryState uint8

const (
	BatteryNominal BatteryState = iota
	BatteryLow
	BatteryCritical
)

type Battery struct {
	Centivolts uint16
	State      BatteryState
}

func (Battery) Format() Format { return FormatBattery }

func (p Battery) MarshalTo(b []byte) {
	le.PutUint16(b, p.Centivolts)
	b[2] = uint8(p.State)
}

func (p *Battery) UnmarshalFrom(b []byte) {
	p.Centivolts = le.Uint16(b)
	p.State = BatteryState(b[2])
}

// NewPayload returns a zero value of the shape f, ready to be decoded into.
func NewPayload(f Format) (PayloadReader, bool) {
	switch f {
	case FormatNone:
		return &Empty{}, true
	case FormatByte:
		return &Byte{}, true
	case FormatInt:
		return &Int{}, true
	case FormatFloat:
		return &Float{}, true
	case FormatLog:
		return &Log{}, true
	case FormatOdometry:
		return &Odometry{}, true
	case FormatMove:
		return &Move{}, true
	case FormatOrient:
		return &Orient{}, true
	case FormatProximity:
		return &Proximity{}, true
	case FormatPose:
		return &Pose{}, true
	case FormatTick:
		return &Tick{}, true
	case FormatNameInt:
		return &NameInt{}, true
	case FormatNameFloat:
		return &NameFloat{}, true
	case FormatName3Int:
		return &Name3Int{}, true
	case FormatName3Float:
		return &Name3Float{}, true
	case FormatPingResponse:
		return &PingResponse{}, true
	case FormatBattery:
		return &Battery{}, true
	}
	return nil, false
}
