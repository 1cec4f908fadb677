package storage

import (
	"context"
	"log/slog"
	"time"
)

// DefaultReapInterval is how often expired drops are swept.
const DefaultReapInterval = time.Minute

// PurgeListener is notified after a sweep that removed at least one drop.
type PurgeListener interface {
	TriggerRecompute()
}

// Reaper periodically removes drops whose expiration record has passed.
// It only reads expiration records, never file payloads.
//
// A drop with an open read handle is skipped and retried on the next
// sweep. Lookup refuses expired drops, so no new handle can appear on a
// drop once it qualifies for deletion; a stream that opened its handle
// before the deadline is allowed to finish.
type Reaper struct {
	store       *FileSystemStore
	interval    time.Duration
	orphanGrace time.Duration
	listener    PurgeListener
	done        chan struct{}
}

// NewReaper creates a reaper for store. A zero orphanGrace disables orphan
// cleanup. listener may be nil.
func NewReaper(store *FileSystemStore, interval, orphanGrace time.Duration, listener PurgeListener) *Reaper {
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	return &Reaper{
		store:       store,
		interval:    interval,
		orphanGrace: orphanGrace,
		listener:    listener,
		done:        make(chan struct{}),
	}
}

// Start begins the sweep loop in a background goroutine. The first sweep
// runs immediately to clear drops that expired while the process was down.
func (r *Reaper) Start(ctx context.Context) {
	slog.Info("reaper started", "interval", r.interval)

	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		r.sweep(ctx)

		for {
			select {
			case <-ticker.C:
				r.sweep(ctx)
			case <-ctx.Done():
				slog.Info("reaper stopping")
				close(r.done)
				return
			}
		}
	}()
}

// Wait blocks until the reaper has fully stopped.
func (r *Reaper) Wait() {
	<-r.done
}

func (r *Reaper) sweep(ctx context.Context) {
	if _, err := r.PurgeExpired(ctx); err != nil {
		slog.Error("reaper sweep failed", "error", err)
	}
}

// PurgeExpired deletes every drop whose deadline has passed and returns how
// many were removed. It is idempotent and does nothing when no drop has
// expired.
func (r *Reaper) PurgeExpired(ctx context.Context) (int, error) {
	records, err := r.store.Records()
	if err != nil {
		return 0, err
	}

	now := r.store.now()
	var purged, busy, failed int
	for _, rec := range records {
		if ctx.Err() != nil {
			break
		}
		if !rec.Expired(now) {
			continue
		}
		if r.store.InUse(rec.Code) {
			busy++
			continue
		}
		if err := r.store.Delete(rec.Code); err != nil {
			slog.Error("failed to delete expired drop", "code", rec.Code, "error", err)
			failed++
			continue
		}
		purged++
		slog.Info("purged expired drop", "code", rec.Code, "expired_at", rec.ExpiresAt)
	}

	purged += r.purgeOrphans()

	if purged > 0 || busy > 0 || failed > 0 {
		slog.Info("reaper sweep complete",
			"purged", purged,
			"busy", busy,
			"failed", failed,
		)
	}
	if purged > 0 && r.listener != nil {
		r.listener.TriggerRecompute()
	}
	return purged, ctx.Err()
}

func (r *Reaper) purgeOrphans() int {
	if r.orphanGrace <= 0 {
		return 0
	}

	orphans, err := r.store.Orphans(r.orphanGrace)
	if err != nil {
		slog.Error("failed to list orphaned entries", "error", err)
		return 0
	}

	var removed int
	for _, name := range orphans {
		if err := r.store.RemoveOrphan(name); err != nil {
			slog.Error("failed to remove orphaned entry", "name", name, "error", err)
			continue
		}
		removed++
		slog.Warn("removed orphaned entry", "name", name)
	}
	return removed
}
