package proto

import (
	"fmt"
	"strings"
)

// Severity orders diagnostic log messages. It drives both local log
// filtering and the serial forwarding quotas.
type Severity uint8

const (
	SeverityRoutine Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
	SeverityFailure
	SeverityCount
)

var severityNames = [SeverityCount]string{"ROUTINE", "INFO", "WARNING", "ERROR", "FAILURE"}

func (s Severity) String() string {
	if s < SeverityCount {
		return severityNames[s]
	}
	return fmt.Sprintf("SEVERITY(%d)", uint8(s))
}

func (s Severity) Valid() bool {
	return s < SeverityCount
}

func ParseSeverity(name string) (Severity, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for i, n := range severityNames {
		if n == upper {
			return Severity(i), nil
		}
	}
	return 0, fmt.Errorf("unknown severity %q", name)
}

func (s Severity) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid severity %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(text []byte) error {
	v, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
