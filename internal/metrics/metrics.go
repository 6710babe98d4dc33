// Package metrics tracks dispatch activity. A lightweight atomic snapshot
// backs the JSON stats endpoint; the Prometheus collectors in this package
// back the scrape endpoint.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics collects runtime counters for the local member.
type Metrics struct {
	TotalBroadcasts  atomic.Int64
	ResolvedResults  atomic.Int64
	AbsentResults    atomic.Int64
	FailedBroadcasts atomic.Int64

	MemberValues      atomic.Int64
	MemberFaults      atomic.Int64
	MemberUnreachable atomic.Int64
	MemberAbsent      atomic.Int64

	TotalLatencyMs atomic.Int64
	MaxLatencyMs   atomic.Int64

	actionMetrics sync.Map // action name -> *ActionMetrics

	startTime time.Time
}

// ActionMetrics tracks per-action dispatch counters.
type ActionMetrics struct {
	Broadcasts atomic.Int64
	Resolved   atomic.Int64
	Absent     atomic.Int64
	Failed     atomic.Int64
	TotalMs    atomic.Int64
}

var global = &Metrics{startTime: time.Now()}

// Global returns the process-wide metrics instance.
func Global() *Metrics {
	return global
}

// StartTime reports when this process started collecting.
func StartTime() time.Time {
	return global.startTime
}

// RecordBroadcast records one completed broadcast: how long it took and how
// it ended ("resolved", "absent", or "failed").
func (m *Metrics) RecordBroadcast(action, result string, durationMs int64) {
	m.TotalBroadcasts.Add(1)
	m.TotalLatencyMs.Add(durationMs)
	updateMax(&m.MaxLatencyMs, durationMs)

	am := m.forAction(action)
	am.Broadcasts.Add(1)
	am.TotalMs.Add(durationMs)

	switch result {
	case "resolved":
		m.ResolvedResults.Add(1)
		am.Resolved.Add(1)
	case "absent":
		m.AbsentResults.Add(1)
		am.Absent.Add(1)
	default:
		m.FailedBroadcasts.Add(1)
		am.Failed.Add(1)
	}
}

// RecordMemberRsp records one per-member outcome kind.
func (m *Metrics) RecordMemberRsp(kind string) {
	switch kind {
	case "value":
		m.MemberValues.Add(1)
	case "fault":
		m.MemberFaults.Add(1)
	case "unreachable":
		m.MemberUnreachable.Add(1)
	case "absent":
		m.MemberAbsent.Add(1)
	}
}

func (m *Metrics) forAction(action string) *ActionMetrics {
	if v, ok := m.actionMetrics.Load(action); ok {
		return v.(*ActionMetrics)
	}
	v, _ := m.actionMetrics.LoadOrStore(action, &ActionMetrics{})
	return v.(*ActionMetrics)
}

func updateMax(target *atomic.Int64, value int64) {
	for {
		current := target.Load()
		if value <= current || target.CompareAndSwap(current, value) {
			return
		}
	}
}

// Snapshot is the JSON shape served by the stats endpoint.
type Snapshot struct {
	UptimeSeconds    int64                     `json:"uptime_seconds"`
	TotalBroadcasts  int64                     `json:"total_broadcasts"`
	ResolvedResults  int64                     `json:"resolved_results"`
	AbsentResults    int64                     `json:"absent_results"`
	FailedBroadcasts int64                     `json:"failed_broadcasts"`
	MemberResponses  map[string]int64          `json:"member_responses"`
	AvgLatencyMs     int64                     `json:"avg_latency_ms"`
	MaxLatencyMs     int64                     `json:"max_latency_ms"`
	Actions          map[string]ActionSnapshot `json:"actions,omitempty"`
}

// ActionSnapshot is the per-action slice of a Snapshot.
type ActionSnapshot struct {
	Broadcasts   int64 `json:"broadcasts"`
	Resolved     int64 `json:"resolved"`
	Absent       int64 `json:"absent"`
	Failed       int64 `json:"failed"`
	AvgLatencyMs int64 `json:"avg_latency_ms"`
}

// Snapshot captures the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	total := m.TotalBroadcasts.Load()
	avg := int64(0)
	if total > 0 {
		avg = m.TotalLatencyMs.Load() / total
	}

	s := Snapshot{
		UptimeSeconds:    int64(time.Since(m.startTime).Seconds()),
		TotalBroadcasts:  total,
		ResolvedResults:  m.ResolvedResults.Load(),
		AbsentResults:    m.AbsentResults.Load(),
		FailedBroadcasts: m.FailedBroadcasts.Load(),
		MemberResponses: map[string]int64{
			"value":       m.MemberValues.Load(),
			"fault":       m.MemberFaults.Load(),
			"unreachable": m.MemberUnreachable.Load(),
			"absent":      m.MemberAbsent.Load(),
		},
		AvgLatencyMs: avg,
		MaxLatencyMs: m.MaxLatencyMs.Load(),
		Actions:      make(map[string]ActionSnapshot),
	}

	m.actionMetrics.Range(func(key, value any) bool {
		am := value.(*ActionMetrics)
		n := am.Broadcasts.Load()
		actionAvg := int64(0)
		if n > 0 {
			actionAvg = am.TotalMs.Load() / n
		}
		s.Actions[key.(string)] = ActionSnapshot{
			Broadcasts:   n,
			Resolved:     am.Resolved.Load(),
			Absent:       am.Absent.Load(),
			Failed:       am.Failed.Load(),
			AvgLatencyMs: actionAvg,
		}
		return true
	})
	return s
}

// StatsHandler serves the snapshot as JSON.
func StatsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(global.Snapshot())
	})
}
