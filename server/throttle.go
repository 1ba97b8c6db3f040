package server

import (
	"sync"

	"github.com/mbocsi/robobus/proto"
)

// LogQuota caps how many log messages of each severity may be waiting for
// transmission at once. A slot is taken when a message is queued for the link
// and given back when its transmission completes. A cap of zero keeps that
// severity off the link entirely.
type LogQuota struct {
	mu          sync.Mutex
	limits      [proto.SeverityCount]int
	outstanding [proto.SeverityCount]int
	admitted    [proto.SeverityCount]uint64
	dropped     [proto.SeverityCount]uint64
}

type SeverityQuota struct {
	Severity    string `json:"severity"`
	Limit       int    `json:"limit"`
	Outstanding int    `json:"outstanding"`
	Admitted    uint64 `json:"admitted"`
	Dropped     uint64 `json:"dropped"`
}

func NewLogQuota(limits [proto.SeverityCount]int) *LogQuota {
	return &LogQuota{limits: limits}
}

// quotaSeverity maps unknown severities onto the most severe level.
func quotaSeverity(sev proto.Severity) proto.Severity {
	if !sev.Valid() {
		return proto.SeverityFailure
	}
	return sev
}

// Admit takes a slot for sev if one is free.
func (q *LogQuota) Admit(sev proto.Severity) bool {
	sev = quotaSeverity(sev)
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.outstanding[sev] >= q.limits[sev] {
		q.dropped[sev]++
		return false
	}
	q.outstanding[sev]++
	q.admitted[sev]++
	return true
}

// Release gives back a slot taken by Admit.
func (q *LogQuota) Release(sev proto.Severity) {
	sev = quotaSeverity(sev)
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.outstanding[sev] > 0 {
		q.outstanding[sev]--
	}
}

func (q *LogQuota) Snapshot() []SeverityQuota {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]SeverityQuota, 0, proto.SeverityCount)
	for s := proto.SeverityRoutine; s < proto.SeverityCount; s++ {
		out = append(out, SeverityQuota{
			Severity:    s.String(),
			Limit:       q.limits[s],
			Outstanding: q.outstanding[s],
			Admitted:    q.admitted[s],
			Dropped:     q.dropped[s],
		})
	}
	return out
}
