package proto

import "fmt"

// Format identifies a fixed payload shape.
type Format uint8

const (
	FormatNone Format = iota
	FormatByte
	FormatInt
	FormatFloat
	FormatLog
	FormatOdometry
	FormatMove
	FormatOrient
	FormatProximity
	FormatPose
	FormatTick
	FormatNameInt
	FormatNameFloat
	FormatName3Int
	FormatName3Float
	FormatPingResponse
	FormatBattery
	FormatCount
)

const (
	NameLength      = 16
	FileTagLength   = 4
	LogTextLength   = 58
	SubsystemLength = 4
)

var formatLengths = [FormatCount]int{
	FormatNone:         0,
	FormatByte:         1,
	FormatInt:          4,
	FormatFloat:        4,
	FormatLog:          1 + FileTagLength + LogTextLength,
	FormatOdometry:     3,
	FormatMove:         5,
	FormatOrient:       3,
	FormatProximity:    4,
	FormatPose:         6,
	FormatTick:         8,
	FormatNameInt:      NameLength + 4,
	FormatNameFloat:    NameLength + 4,
	FormatName3Int:     NameLength + 12,
	FormatName3Float:   NameLength + 12,
	FormatPingResponse: SubsystemLength + 1 + NameLength,
	FormatBattery:      3,
}

var formatNames = [FormatCount]string{
	"none", "byte", "int", "float", "log", "odometry", "move", "orient",
	"proximity", "pose", "tick", "name_int", "name_float", "name_3int",
	"name_3float", "ping_response", "battery",
}

// Length is the fixed payload byte length of the format, or -1 if the format
// is not known.
func (f Format) Length() int {
	if f < FormatCount {
		return formatLengths[f]
	}
	return -1
}

func (f Format) String() string {
	if f < FormatCount {
		return formatNames[f]
	}
	return fmt.Sprintf("format(%d)", uint8(f))
}
