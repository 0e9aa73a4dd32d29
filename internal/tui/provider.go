package tui

import (
	"runtime"
	"time"

	"github.com/insajin/pvg-stream/internal/metrics"
	"github.com/insajin/pvg-stream/internal/watch"
)

// AggregatorProvider feeds the dashboard from a live Aggregator and its shared metrics.
type AggregatorProvider struct {
	agg       *watch.Aggregator
	metrics   *metrics.Metrics
	streamURL string
	startTime time.Time
	now       func() time.Time
}

// NewAggregatorProvider creates a DataProvider over agg. m may be nil.
func NewAggregatorProvider(agg *watch.Aggregator, m *metrics.Metrics, streamURL string) *AggregatorProvider {
	return &AggregatorProvider{
		agg:       agg,
		metrics:   m,
		streamURL: streamURL,
		startTime: time.Now(),
		now:       time.Now,
	}
}

// FetchData returns the current aggregate, one row per watched task, and stream counters.
func (p *AggregatorProvider) FetchData() DashboardData {
	now := p.now()
	data := DashboardData{
		StreamURL:      p.streamURL,
		StartTime:      p.startTime,
		Paused:         p.agg.Paused(),
		Stats:          p.agg.Stats(),
		GoroutineCount: runtime.NumGoroutine(),
	}

	for _, v := range p.agg.Tasks() {
		entry := TaskEntry{
			ID:         v.Snapshot.TaskID,
			Status:     v.Snapshot.Status,
			Progress:   v.Snapshot.Progress,
			Step:       v.Snapshot.CurrentStep,
			Connection: v.Connection.State,
			Attempt:    v.Connection.Attempt,
			Queued:     v.Connection.QueuedMessages,
			Duration:   v.Snapshot.Duration(now),
			Error:      v.Snapshot.ErrorMessage,
		}
		if entry.Error == "" && v.Connection.LastError != nil {
			entry.Error = v.Connection.LastError.Error()
		}
		data.Tasks = append(data.Tasks, entry)
	}

	if p.metrics != nil {
		snap := p.metrics.Snapshot()
		data.MessagesSent = snap.MessagesSent
		data.MessagesReceived = snap.MessagesReceived
		data.Reconnections = snap.Reconnections
		data.HeartbeatTimeouts = snap.HeartbeatTimeouts
		data.DuplicateMessages = snap.DuplicateMessages
		data.LateEvents = snap.LateEvents
		data.LastHeartbeat = snap.LastHeartbeat
	}
	return data
}
