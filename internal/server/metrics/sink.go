package metrics

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

// ErrMetricsUnavailable wraps every failure talking to a sink.
var ErrMetricsUnavailable = errors.New("metrics sink unavailable")

// Sink stores absolute counter values. Cumulative counters are built on
// top of it with a read-modify-write, see Aggregator.
type Sink interface {
	SetCounter(ctx context.Context, name string, value int64) error
	// GetCounter returns 0 for a counter that was never set.
	GetCounter(ctx context.Context, name string) (int64, error)
}

// Lister is implemented by sinks that can enumerate stored counters. The
// aggregator uses it once to find stale type buckets left by a previous
// process.
type Lister interface {
	ListCounters(ctx context.Context, prefix string) ([]string, error)
}

// NoopSink is the sink used when metrics are disabled.
type NoopSink struct{}

func (NoopSink) SetCounter(context.Context, string, int64) error { return nil }

func (NoopSink) GetCounter(context.Context, string) (int64, error) { return 0, nil }

// MemorySink keeps counters in process memory.
type MemorySink struct {
	mu     sync.RWMutex
	values map[string]int64
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{values: make(map[string]int64)}
}

func (m *MemorySink) SetCounter(_ context.Context, name string, value int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[name] = value
	return nil
}

func (m *MemorySink) GetCounter(_ context.Context, name string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.values[name], nil
}

func (m *MemorySink) ListCounters(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var names []string
	for name := range m.values {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Values returns a copy of all counters.
func (m *MemorySink) Values() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]int64, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}
