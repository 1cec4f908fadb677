package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"quickdrop/internal/server/archive"
	"quickdrop/internal/server/config"
	"quickdrop/internal/server/metrics"
	"quickdrop/internal/server/storage"
)

// Sentinel errors for the service layer. NotFound and InvalidCode are the
// storage sentinels so callers can classify with either package.
var (
	ErrNotFound          = storage.ErrNotFound
	ErrInvalidCode       = storage.ErrInvalidCode
	ErrSizeLimitExceeded = errors.New("upload exceeds maximum allowed size")
)

// Metrics is the part of the metrics aggregator the service drives.
// *metrics.Aggregator satisfies it. None of its methods may block.
type Metrics interface {
	RecordEvent(name string, delta int64)
	TriggerRecompute()
	Snapshot() metrics.Snapshot
}

// UploadOptions selects the retention of a new drop.
type UploadOptions struct {
	// KeepLonger selects the extended retention.
	KeepLonger bool
	// TTLHours, when positive, overrides both and is capped at the
	// extended retention.
	TTLHours float64
}

// UploadResult is returned after a successful upload.
type UploadResult struct {
	Code        string    `json:"code"`
	DownloadURL string    `json:"download_url"`
	ExpiresAt   time.Time `json:"expires_at"`
	Files       int       `json:"files"`
	Size        int64     `json:"size"`
}

// FileInfo describes one file of a drop.
type FileInfo struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// DropInfo is returned for metadata queries.
type DropInfo struct {
	Code      string     `json:"code"`
	ExpiresAt time.Time  `json:"expires_at"`
	Files     []FileInfo `json:"files"`
	Size      int64      `json:"size"`
}

// DropService contains the business logic for creating and retrieving
// drops. It is the only place that turns storage outcomes into metric
// events.
type DropService struct {
	store   storage.Store
	metrics Metrics
	cfg     *config.Config
}

// NewDropService creates a new drop service.
func NewDropService(store storage.Store, m Metrics, cfg *config.Config) *DropService {
	return &DropService{
		store:   store,
		metrics: m,
		cfg:     cfg,
	}
}

// NormalizeCode uppercases and trims a user supplied code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// TTL returns the retention chosen by opts.
func (s *DropService) TTL(opts UploadOptions) time.Duration {
	hours := s.cfg.DefaultTTLHours
	if opts.KeepLonger {
		hours = s.cfg.ExtendedTTLHours
	}
	if opts.TTLHours > 0 {
		hours = min(opts.TTLHours, s.cfg.ExtendedTTLHours)
	}
	return time.Duration(hours * float64(time.Hour))
}

// ProcessUpload stores a batch of files as one drop.
func (s *DropService) ProcessUpload(ctx context.Context, files []storage.Upload, opts UploadOptions) (*UploadResult, error) {
	var total int64
	for _, f := range files {
		total += f.Size
	}
	if s.cfg.MaxUploadSize > 0 && total > s.cfg.MaxUploadSize {
		return nil, fmt.Errorf("%w: %s over %s", ErrSizeLimitExceeded,
			humanize.Bytes(uint64(total)), humanize.Bytes(uint64(s.cfg.MaxUploadSize)))
	}

	ttl := s.TTL(opts)
	code, expiresAt, err := s.store.Save(ctx, files, ttl)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordEvent(metrics.CounterUploads, 1)
	s.metrics.RecordEvent(metrics.CounterBytesIn, total)
	s.metrics.TriggerRecompute()

	slog.Info("upload processed",
		"code", code,
		"files", len(files),
		"size", humanize.Bytes(uint64(total)),
		"ttl", ttl,
	)

	return &UploadResult{
		Code:        code,
		DownloadURL: fmt.Sprintf("%s/d/%s", strings.TrimRight(s.cfg.BaseURL, "/"), code),
		ExpiresAt:   expiresAt.UTC(),
		Files:       len(files),
		Size:        total,
	}, nil
}

// Open resolves a code to a read handle. The caller must Close it.
func (s *DropService) Open(ctx context.Context, code string) (*storage.Drop, error) {
	return s.store.Lookup(ctx, NormalizeCode(code))
}

// Stream writes drop as a zip archive to w and records the download.
func (s *DropService) Stream(ctx context.Context, drop *storage.Drop, w io.Writer) (archive.Result, error) {
	res, err := archive.Write(ctx, w, drop)
	if err != nil {
		slog.Warn("download interrupted",
			"code", drop.Code,
			"files_written", res.Files,
			"error", err,
		)
		return res, err
	}

	s.metrics.RecordEvent(metrics.CounterDownloads, 1)
	s.metrics.RecordEvent(metrics.CounterBytesOut, res.Bytes)

	slog.Info("download served",
		"code", drop.Code,
		"files", res.Files,
		"bytes", humanize.Bytes(uint64(res.Bytes)),
	)
	return res, nil
}

// Download opens code and streams its archive to w.
func (s *DropService) Download(ctx context.Context, code string, w io.Writer) (archive.Result, error) {
	drop, err := s.Open(ctx, code)
	if err != nil {
		return archive.Result{}, err
	}
	defer drop.Close()
	return s.Stream(ctx, drop, w)
}

// GetInfo returns metadata about a drop without streaming it.
func (s *DropService) GetInfo(ctx context.Context, code string) (*DropInfo, error) {
	drop, err := s.Open(ctx, code)
	if err != nil {
		return nil, err
	}
	defer drop.Close()

	info := &DropInfo{
		Code:      drop.Code,
		ExpiresAt: drop.ExpiresAt.UTC(),
		Size:      drop.Size(),
	}
	for _, f := range drop.Files() {
		info.Files = append(info.Files, FileInfo{Name: f.Name, Size: f.Size})
	}
	return info, nil
}

// RecordVisit counts one page visit by client characteristics.
func (s *DropService) RecordVisit(browser, language, platform string) {
	s.metrics.RecordEvent(metrics.CounterVisitors, 1)
	s.metrics.RecordEvent(metrics.VisitorCounter("browser", browser), 1)
	s.metrics.RecordEvent(metrics.VisitorCounter("language", language), 1)
	s.metrics.RecordEvent(metrics.VisitorCounter("os", platform), 1)
}

// Stats returns the last computed aggregate snapshot.
func (s *DropService) Stats() metrics.Snapshot {
	return s.metrics.Snapshot()
}

// CheckStorage verifies the storage root is writable.
func (s *DropService) CheckStorage() error {
	if err := s.store.EnsureDir(); err != nil {
		return err
	}
	f, err := os.CreateTemp(s.cfg.StoragePath, ".health-*")
	if err != nil {
		return fmt.Errorf("storage not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
