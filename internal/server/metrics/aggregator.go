package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"quickdrop/internal/core"
	"quickdrop/internal/server/storage"
)

// Counter names.
const (
	CounterFiles     = "files"
	CounterBytes     = "bytes"
	CounterDiskTotal = "disk_total_bytes"
	CounterDiskUsed  = "disk_used_bytes"

	CounterUploads   = "uploads"
	CounterDownloads = "downloads"
	CounterBytesIn   = "bytes_in"
	CounterBytesOut  = "bytes_out"
	CounterVisitors  = "visitors"

	TypeBucketPrefix = "bytes_type_"
)

const defaultQueueSize = 256

// Inventory lists live drops. *storage.FileSystemStore satisfies it.
type Inventory interface {
	Inventory() ([]storage.DropSummary, error)
	BasePath() string
}

// Snapshot is the result of the last recompute.
type Snapshot struct {
	Files       int64            `json:"files"`
	Bytes       int64            `json:"bytes"`
	BytesByType map[string]int64 `json:"bytes_by_type"`
	DiskTotal   uint64           `json:"disk_total_bytes"`
	DiskUsed    uint64           `json:"disk_used_bytes"`
	ComputedAt  time.Time        `json:"computed_at"`
}

type event struct {
	name  string
	delta int64
}

// Aggregator maintains aggregate counters over the live drops and
// cumulative event counters, pushing both to a Sink.
//
// All sink traffic happens on a single worker goroutine started by Start.
// RecordEvent and TriggerRecompute only enqueue and never block or fail.
// Cumulative counters are read-modify-write against the sink: the single
// worker keeps this process from losing its own updates, but two
// processes sharing a sink can still overwrite each other. Counters are
// observability data only and nothing reads them for decisions.
type Aggregator struct {
	sink     Sink
	inv      Inventory
	probe    DiskUsageProbe
	classify func(path string) string
	interval time.Duration
	enabled  bool

	events    chan event
	recompute chan struct{}
	done      chan struct{}

	mu       sync.RWMutex
	snapshot Snapshot

	// type counters possibly nonzero in the sink
	buckets      map[string]bool
	bucketsMu    sync.Mutex
	listedBucket bool
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithQueueSize sets the event buffer length.
func WithQueueSize(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.events = make(chan event, n)
		}
	}
}

// WithInterval enables a periodic recompute in addition to triggered ones.
func WithInterval(d time.Duration) Option {
	return func(a *Aggregator) {
		a.interval = d
	}
}

// WithClassifier overrides content classification of stored files.
func WithClassifier(fn func(path string) string) Option {
	return func(a *Aggregator) {
		a.classify = fn
	}
}

// NewAggregator creates an aggregator. A nil sink or a NoopSink disables
// all sink traffic; snapshots are still computed for local stats.
func NewAggregator(sink Sink, inv Inventory, probe DiskUsageProbe, opts ...Option) *Aggregator {
	enabled := sink != nil
	if _, ok := sink.(NoopSink); ok {
		enabled = false
	}
	if sink == nil {
		sink = NoopSink{}
	}
	if probe == nil {
		probe = StatfsProbe{}
	}

	a := &Aggregator{
		sink:      sink,
		inv:       inv,
		probe:     probe,
		classify:  core.Classify,
		enabled:   enabled,
		events:    make(chan event, defaultQueueSize),
		recompute: make(chan struct{}, 1),
		done:      make(chan struct{}),
		buckets:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Enabled reports whether a real sink is configured.
func (a *Aggregator) Enabled() bool {
	return a.enabled
}

// Start runs the worker until ctx is cancelled. An initial recompute is
// queued right away.
func (a *Aggregator) Start(ctx context.Context) {
	slog.Info("metrics aggregator started", "enabled", a.enabled, "interval", a.interval)
	a.TriggerRecompute()

	go func() {
		defer close(a.done)

		var tick <-chan time.Time
		if a.interval > 0 {
			ticker := time.NewTicker(a.interval)
			defer ticker.Stop()
			tick = ticker.C
		}

		for {
			select {
			case ev := <-a.events:
				if err := a.ApplyEvent(ctx, ev.name, ev.delta); err != nil {
					slog.Warn("failed to record metric event", "name", ev.name, "error", err)
				}
			case <-a.recompute:
				a.recomputeLogged(ctx)
			case <-tick:
				a.recomputeLogged(ctx)
			case <-ctx.Done():
				slog.Info("metrics aggregator stopping")
				return
			}
		}
	}()
}

// Wait blocks until the worker has stopped.
func (a *Aggregator) Wait() {
	<-a.done
}

func (a *Aggregator) recomputeLogged(ctx context.Context) {
	snap, err := a.Recompute(ctx)
	if err != nil {
		slog.Warn("metrics recompute incomplete", "error", err)
	}
	slog.Debug("metrics recomputed",
		"files", snap.Files,
		"bytes", humanize.Bytes(uint64(snap.Bytes)),
	)
}

// RecordEvent queues delta to be added to the cumulative counter name.
// It is a no-op without a sink and drops the event when the queue is full.
func (a *Aggregator) RecordEvent(name string, delta int64) {
	if !a.enabled || delta == 0 {
		return
	}
	select {
	case a.events <- event{name: name, delta: delta}:
	default:
		slog.Warn("metrics queue full, dropping event", "name", name)
	}
}

// TriggerRecompute queues a recompute. Triggers arriving while one is
// already pending are coalesced.
func (a *Aggregator) TriggerRecompute() {
	select {
	case a.recompute <- struct{}{}:
	default:
	}
}

// ApplyEvent performs the read-modify-write for one event synchronously.
func (a *Aggregator) ApplyEvent(ctx context.Context, name string, delta int64) error {
	if !a.enabled {
		return nil
	}
	current, err := a.sink.GetCounter(ctx, name)
	if err != nil {
		return wrapUnavailable(err)
	}
	if err := a.sink.SetCounter(ctx, name, current+delta); err != nil {
		return wrapUnavailable(err)
	}
	return nil
}

// Snapshot returns the result of the last recompute.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	snap := a.snapshot
	snap.BytesByType = make(map[string]int64, len(a.snapshot.BytesByType))
	for k, v := range a.snapshot.BytesByType {
		snap.BytesByType[k] = v
	}
	return snap
}

// Recompute scans the live drops and pushes the aggregate counters. The
// scan is not a point-in-time view: drops saved or reaped meanwhile may
// or may not be counted. Type buckets that were reported before and are
// now empty are explicitly set to zero.
func (a *Aggregator) Recompute(ctx context.Context) (Snapshot, error) {
	drops, err := a.inv.Inventory()
	if err != nil {
		return a.Snapshot(), fmt.Errorf("failed to scan drops: %w", err)
	}

	snap := Snapshot{BytesByType: make(map[string]int64), ComputedAt: time.Now()}
	for _, d := range drops {
		for _, f := range d.Files {
			snap.Files++
			snap.Bytes += f.Size
			snap.BytesByType[a.classify(f.Path)] += f.Size
		}
	}

	var errs []error
	total, free, err := a.probe.Usage(a.inv.BasePath())
	diskOK := err == nil
	if !diskOK {
		errs = append(errs, fmt.Errorf("disk usage: %w", err))
	} else {
		snap.DiskTotal = total
		if total > free {
			snap.DiskUsed = total - free
		}
	}

	a.mu.Lock()
	a.snapshot = snap
	a.mu.Unlock()

	if a.enabled {
		if err := a.push(ctx, snap, diskOK); err != nil {
			errs = append(errs, err)
		}
	}
	return snap, errors.Join(errs...)
}

func (a *Aggregator) push(ctx context.Context, snap Snapshot, withDisk bool) error {
	values := map[string]int64{
		CounterFiles: snap.Files,
		CounterBytes: snap.Bytes,
	}
	if withDisk {
		values[CounterDiskTotal] = int64(snap.DiskTotal)
		values[CounterDiskUsed] = int64(snap.DiskUsed)
	}

	current := make(map[string]bool, len(snap.BytesByType))
	for class, n := range snap.BytesByType {
		name := TypeBucketName(class)
		values[name] = n
		current[name] = true
	}

	a.bucketsMu.Lock()
	defer a.bucketsMu.Unlock()

	if !a.listedBucket {
		if lister, ok := a.sink.(Lister); ok {
			names, err := lister.ListCounters(ctx, TypeBucketPrefix)
			if err != nil {
				return wrapUnavailable(err)
			}
			for _, name := range names {
				a.buckets[name] = true
			}
		}
		a.listedBucket = true
	}
	for name := range a.buckets {
		if !current[name] {
			values[name] = 0
		}
	}
	// Until a push completes, every bucket it may have written counts as
	// reported, so a later round still zeroes it.
	for name := range current {
		a.buckets[name] = true
	}

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := a.sink.SetCounter(ctx, name, values[name]); err != nil {
			return wrapUnavailable(err)
		}
	}
	a.buckets = current
	return nil
}

// TypeBucketName is the counter holding the byte volume of a content class.
func TypeBucketName(class string) string {
	return TypeBucketPrefix + sanitizeName(class)
}

// VisitorCounter is the counter for one visitor dimension value, e.g.
// VisitorCounter("browser", "Firefox") is "visitors_browser_firefox".
func VisitorCounter(dimension, value string) string {
	if strings.TrimSpace(value) == "" {
		value = "unknown"
	}
	return CounterVisitors + "_" + sanitizeName(dimension) + "_" + sanitizeName(value)
}

func sanitizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
		if b.Len() >= 64 {
			break
		}
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}

func wrapUnavailable(err error) error {
	if errors.Is(err, ErrMetricsUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrMetricsUnavailable, err)
}
