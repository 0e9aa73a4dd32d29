// Package metrics provides operational counters for task progress streams.
// A single Metrics instance is shared by every connection of a watch context.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks stream, message and request counters.
// All fields are safe for concurrent access.
type Metrics struct {
	// Connection metrics
	ConnectionAttempts  atomic.Int64
	ConnectionSuccesses atomic.Int64
	ConnectionFailures  atomic.Int64
	Reconnections       atomic.Int64
	AuthFailures        atomic.Int64
	HeartbeatTimeouts   atomic.Int64

	// Message metrics
	MessagesSent      atomic.Int64
	MessagesQueued    atomic.Int64
	MessagesReceived  atomic.Int64
	BytesSent         atomic.Int64
	BytesReceived     atomic.Int64
	ProtocolErrors    atomic.Int64
	DuplicateMessages atomic.Int64
	UnknownMessages   atomic.Int64
	LateEvents        atomic.Int64

	// Request metrics
	RequestsResolved atomic.Int64
	RequestTimeouts  atomic.Int64

	// Timing metrics
	startTime     time.Time
	lastHeartbeat atomic.Value // time.Time
	avgLatencyNs  atomic.Int64
	latencyCount  atomic.Int64

	mu sync.RWMutex
}

// MetricsSnapshot is a point-in-time copy of all metrics.
type MetricsSnapshot struct {
	Timestamp           time.Time `json:"timestamp" yaml:"timestamp"`
	Uptime              string    `json:"uptime" yaml:"uptime"`
	ConnectionAttempts  int64     `json:"connection_attempts" yaml:"connection_attempts"`
	ConnectionSuccesses int64     `json:"connection_successes" yaml:"connection_successes"`
	ConnectionFailures  int64     `json:"connection_failures" yaml:"connection_failures"`
	Reconnections       int64     `json:"reconnections" yaml:"reconnections"`
	AuthFailures        int64     `json:"auth_failures" yaml:"auth_failures"`
	HeartbeatTimeouts   int64     `json:"heartbeat_timeouts" yaml:"heartbeat_timeouts"`
	MessagesSent        int64     `json:"messages_sent" yaml:"messages_sent"`
	MessagesQueued      int64     `json:"messages_queued" yaml:"messages_queued"`
	MessagesReceived    int64     `json:"messages_received" yaml:"messages_received"`
	BytesSent           int64     `json:"bytes_sent" yaml:"bytes_sent"`
	BytesReceived       int64     `json:"bytes_received" yaml:"bytes_received"`
	ProtocolErrors      int64     `json:"protocol_errors" yaml:"protocol_errors"`
	DuplicateMessages   int64     `json:"duplicate_messages" yaml:"duplicate_messages"`
	UnknownMessages     int64     `json:"unknown_messages" yaml:"unknown_messages"`
	LateEvents          int64     `json:"late_events" yaml:"late_events"`
	RequestsResolved    int64     `json:"requests_resolved" yaml:"requests_resolved"`
	RequestTimeouts     int64     `json:"request_timeouts" yaml:"request_timeouts"`
	AvgLatencyMs        float64   `json:"avg_latency_ms" yaml:"avg_latency_ms"`
	LastHeartbeat       string    `json:"last_heartbeat,omitempty" yaml:"last_heartbeat,omitempty"`
}

// NewMetrics creates a new Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// RecordLatency records a single request round-trip and updates the running average.
func (m *Metrics) RecordLatency(d time.Duration) {
	ns := d.Nanoseconds()
	count := m.latencyCount.Add(1)

	// Running average: newAvg = oldAvg + (newValue - oldAvg) / count
	for {
		oldAvg := m.avgLatencyNs.Load()
		newAvg := oldAvg + (ns-oldAvg)/count
		if m.avgLatencyNs.CompareAndSwap(oldAvg, newAvg) {
			break
		}
		count = m.latencyCount.Load()
		if count == 0 {
			count = 1
		}
	}
}

// RecordHeartbeat records the time of the last liveness signal.
func (m *Metrics) RecordHeartbeat() {
	m.lastHeartbeat.Store(time.Now())
}

// Uptime returns the duration since the metrics instance was created.
func (m *Metrics) Uptime() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Since(m.startTime)
}

// AvgLatency returns the average recorded request latency.
func (m *Metrics) AvgLatency() time.Duration {
	return time.Duration(m.avgLatencyNs.Load())
}

// Snapshot returns a point-in-time copy of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		Timestamp:           time.Now(),
		Uptime:              m.Uptime().Round(time.Millisecond).String(),
		ConnectionAttempts:  m.ConnectionAttempts.Load(),
		ConnectionSuccesses: m.ConnectionSuccesses.Load(),
		ConnectionFailures:  m.ConnectionFailures.Load(),
		Reconnections:       m.Reconnections.Load(),
		AuthFailures:        m.AuthFailures.Load(),
		HeartbeatTimeouts:   m.HeartbeatTimeouts.Load(),
		MessagesSent:        m.MessagesSent.Load(),
		MessagesQueued:      m.MessagesQueued.Load(),
		MessagesReceived:    m.MessagesReceived.Load(),
		BytesSent:           m.BytesSent.Load(),
		BytesReceived:       m.BytesReceived.Load(),
		ProtocolErrors:      m.ProtocolErrors.Load(),
		DuplicateMessages:   m.DuplicateMessages.Load(),
		UnknownMessages:     m.UnknownMessages.Load(),
		LateEvents:          m.LateEvents.Load(),
		RequestsResolved:    m.RequestsResolved.Load(),
		RequestTimeouts:     m.RequestTimeouts.Load(),
		AvgLatencyMs:        float64(m.avgLatencyNs.Load()) / float64(time.Millisecond),
	}

	if v := m.lastHeartbeat.Load(); v != nil {
		if t, ok := v.(time.Time); ok && !t.IsZero() {
			snap.LastHeartbeat = t.Format(time.RFC3339)
		}
	}

	return snap
}

// ToJSON returns a JSON-encoded representation of the current metrics snapshot.
func (m *Metrics) ToJSON() ([]byte, error) {
	return json.Marshal(m.Snapshot())
}

// Reset resets all metric counters to zero while preserving the start time.
func (m *Metrics) Reset() {
	for _, c := range m.counters() {
		c.v.Store(0)
	}
	m.avgLatencyNs.Store(0)
	m.latencyCount.Store(0)

	m.mu.Lock()
	m.startTime = time.Now()
	m.mu.Unlock()
}

// namedCounter pairs a counter with its exported name and help text.
type namedCounter struct {
	name string
	help string
	v    *atomic.Int64
}

// counters lists every monotonic counter. Used by Reset and the Prometheus collector.
func (m *Metrics) counters() []namedCounter {
	return []namedCounter{
		{"connection_attempts_total", "Transport dial attempts.", &m.ConnectionAttempts},
		{"connection_successes_total", "Successful stream connections.", &m.ConnectionSuccesses},
		{"connection_failures_total", "Transport failures and failed dials.", &m.ConnectionFailures},
		{"reconnections_total", "Scheduled reconnect attempts.", &m.Reconnections},
		{"auth_failures_total", "Connections rejected during authentication.", &m.AuthFailures},
		{"heartbeat_timeouts_total", "Connections declared stale by the watchdog.", &m.HeartbeatTimeouts},
		{"messages_sent_total", "Frames written to the transport.", &m.MessagesSent},
		{"messages_queued_total", "Messages buffered while disconnected.", &m.MessagesQueued},
		{"messages_received_total", "Frames read from the transport.", &m.MessagesReceived},
		{"bytes_sent_total", "Bytes written to the transport.", &m.BytesSent},
		{"bytes_received_total", "Bytes read from the transport.", &m.BytesReceived},
		{"protocol_errors_total", "Malformed frames dropped.", &m.ProtocolErrors},
		{"duplicate_messages_total", "Redelivered frames dropped by messageId.", &m.DuplicateMessages},
		{"unknown_messages_total", "Frames with an unrecognised type.", &m.UnknownMessages},
		{"late_events_total", "Events discarded for terminal tasks.", &m.LateEvents},
		{"requests_resolved_total", "Correlated requests that received a reply.", &m.RequestsResolved},
		{"request_timeouts_total", "Correlated requests that timed out.", &m.RequestTimeouts},
	}
}
