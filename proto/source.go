package proto

import (
	"fmt"
	"strconv"
	"strings"
)

// Source identifies the process or device that produced a message.
type Source uint8

const (
	SourceUnknown Source = iota
	SourceBrain          // main control process (this side of the link)
	SourceMCU            // microcontroller peer
	SourceApp            // remote operator app, relayed by the peer
)

func (s Source) String() string {
	switch s {
	case SourceUnknown:
		return "unknown"
	case SourceBrain:
		return "brain"
	case SourceMCU:
		return "mcu"
	case SourceApp:
		return "app"
	}
	return fmt.Sprintf("source(%d)", uint8(s))
}

// ParseSource accepts a source name or its numeric id.
func ParseSource(name string) (Source, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, s := range []Source{SourceBrain, SourceMCU, SourceApp} {
		if s.String() == name {
			return s, nil
		}
	}
	n, err := strconv.ParseUint(name, 10, 8)
	if err != nil || n == 0 {
		return SourceUnknown, fmt.Errorf("unknown source %q", name)
	}
	return Source(n), nil
}
