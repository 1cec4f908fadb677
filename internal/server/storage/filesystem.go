package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"quickdrop/internal/core"
)

// Store defines the drop persistence operations the service layer needs.
type Store interface {
	Save(ctx context.Context, files []Upload, ttl time.Duration) (code string, expiresAt time.Time, err error)
	Lookup(ctx context.Context, code string) (*Drop, error)
	Delete(code string) error
	EnsureDir() error
}

// Upload is one file of a batch handed to Save.
type Upload struct {
	Name    string
	Size    int64
	ModTime time.Time
	Content io.Reader
}

// File describes a stored file of a drop.
type File struct {
	Name    string
	Size    int64
	ModTime time.Time
	Path    string
}

// Drop is a read handle on a live drop. Close must be called when the
// caller is done reading so the reaper may delete it again.
type Drop struct {
	Code      string
	ExpiresAt time.Time
	files     []File
	release   func()
	once      sync.Once
}

// Files returns the drop's files in name order.
func (d *Drop) Files() []File {
	return d.files
}

// Size is the total payload size of the drop.
func (d *Drop) Size() int64 {
	var total int64
	for _, f := range d.files {
		total += f.Size
	}
	return total
}

// Open opens one of the drop's files for reading. If the drop was removed
// after the handle was taken the error wraps ErrNotFound.
func (d *Drop) Open(f File) (io.ReadCloser, error) {
	fh, err := os.Open(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s in %s: %w", f.Name, d.Code, ErrNotFound)
	}
	if err != nil {
		return nil, ioErr("open", d.Code, err)
	}
	return fh, nil
}

// Close releases the handle.
func (d *Drop) Close() error {
	d.once.Do(func() {
		if d.release != nil {
			d.release()
		}
	})
	return nil
}

// DropSummary is the inventory view of a live drop used by metrics.
type DropSummary struct {
	Code      string
	ExpiresAt time.Time
	Files     []File
}

// FileSystemStore keeps drops on the local filesystem:
//
//	<base>/<CODE>/<file>...   payloads
//	<base>/<CODE>.meta        expiration record, epoch milliseconds
type FileSystemStore struct {
	basePath string
	alloc    *CodeAllocator
	now      func() time.Time

	mu      sync.Mutex
	readers map[string]int
	writing map[string]bool
}

// Option configures a FileSystemStore.
type Option func(*FileSystemStore)

// WithMaxAllocAttempts bounds how many random codes Save tries.
func WithMaxAllocAttempts(n int) Option {
	return func(fs *FileSystemStore) {
		fs.alloc = NewCodeAllocator(fs.basePath, n)
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(fs *FileSystemStore) {
		fs.now = now
	}
}

// NewFileSystemStore creates a new filesystem storage backend.
func NewFileSystemStore(basePath string, opts ...Option) *FileSystemStore {
	fs := &FileSystemStore{
		basePath: basePath,
		now:      time.Now,
		readers:  make(map[string]int),
		writing:  make(map[string]bool),
	}
	fs.alloc = NewCodeAllocator(basePath, DefaultMaxAllocAttempts)
	for _, opt := range opts {
		opt(fs)
	}
	return fs
}

// BasePath returns the storage root.
func (fs *FileSystemStore) BasePath() string {
	return fs.basePath
}

// EnsureDir creates the storage directory if it doesn't exist.
func (fs *FileSystemStore) EnsureDir() error {
	if err := os.MkdirAll(fs.basePath, 0o755); err != nil {
		return fmt.Errorf("failed to create storage directory %s: %w", fs.basePath, err)
	}
	return nil
}

// Save persists a batch of files as a new drop expiring ttl from now and
// returns its code and the deadline stored in its record. The expiration
// record is written last; if anything fails before that the directory is
// removed again, so a partially written drop is never visible to Lookup.
func (fs *FileSystemStore) Save(ctx context.Context, files []Upload, ttl time.Duration) (string, time.Time, error) {
	if len(files) == 0 {
		return "", time.Time{}, ErrNoFiles
	}

	names := make([]string, len(files))
	for i, f := range files {
		names[i] = core.SanitizeName(f.Name)
		if names[i] == "" {
			return "", time.Time{}, fmt.Errorf("%w: %q", ErrInvalidFileName, f.Name)
		}
	}
	names = core.UniqueNames(names)

	code, dir, err := fs.alloc.Allocate()
	if err != nil {
		return "", time.Time{}, err
	}
	fs.markWriting(code, true)
	defer fs.markWriting(code, false)

	now := fs.now()
	// Millisecond precision, matching what the record can hold.
	rec := ExpirationRecord{Code: code, ExpiresAt: time.UnixMilli(now.Add(ttl).UnixMilli())}

	if err := fs.populate(ctx, code, dir, names, files); err != nil {
		fs.rollback(code, dir)
		return "", time.Time{}, err
	}
	if err := writeRecord(fs.basePath, rec); err != nil {
		fs.rollback(code, dir)
		return "", time.Time{}, ioErr("write record", code, err)
	}

	slog.Info("drop saved",
		"code", code,
		"files", len(files),
		"expires_at", rec.ExpiresAt,
	)
	return code, rec.ExpiresAt, nil
}

func (fs *FileSystemStore) populate(ctx context.Context, code, dir string, names []string, files []Upload) error {
	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := writeFile(filepath.Join(dir, names[i]), f); err != nil {
			if errors.Is(err, ErrSizeMismatch) {
				return fmt.Errorf("%s: %w", names[i], err)
			}
			return ioErr("write", code, err)
		}
	}
	return nil
}

func writeFile(path string, f Upload) error {
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}

	n, err := io.Copy(out, f.Content)
	if err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	if n != f.Size {
		return fmt.Errorf("%w: declared %d, wrote %d", ErrSizeMismatch, f.Size, n)
	}

	if !f.ModTime.IsZero() {
		if err := os.Chtimes(path, f.ModTime, f.ModTime); err != nil {
			return err
		}
	}
	return nil
}

func (fs *FileSystemStore) rollback(code, dir string) {
	if err := os.RemoveAll(dir); err != nil {
		slog.Error("failed to roll back partial drop", "code", code, "error", err)
	}
	os.Remove(recordPath(fs.basePath, code))
}

// Lookup returns a read handle for a live drop. The code is validated
// before storage is touched. An expired drop the reaper has not removed yet
// is reported as ErrNotFound, exactly like a code that was never issued.
func (fs *FileSystemStore) Lookup(ctx context.Context, code string) (*Drop, error) {
	if !ValidCode(code) {
		return nil, ErrInvalidCode
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rec, err := readRecord(fs.basePath, code)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, ioErr("read record", code, err)
	}
	if rec.Expired(fs.now()) {
		return nil, ErrNotFound
	}

	fs.acquire(code)
	files, err := listFiles(filepath.Join(fs.basePath, code))
	if err != nil {
		fs.release(code)
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, ioErr("list", code, err)
	}

	return &Drop{
		Code:      code,
		ExpiresAt: rec.ExpiresAt,
		files:     files,
		release:   func() { fs.release(code) },
	}, nil
}

func listFiles(dir string) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	files := make([]File, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		files = append(files, File{
			Name:    e.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
			Path:    filepath.Join(dir, e.Name()),
		})
	}
	return files, nil
}

// Delete removes a drop and its expiration record. Deleting an absent
// code is not an error. The record goes first so concurrent lookups stop
// resolving the code before its files disappear.
func (fs *FileSystemStore) Delete(code string) error {
	if !ValidCode(code) {
		return ErrInvalidCode
	}
	if err := os.Remove(recordPath(fs.basePath, code)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return ioErr("delete record", code, err)
	}
	if err := os.RemoveAll(filepath.Join(fs.basePath, code)); err != nil {
		return ioErr("delete", code, err)
	}
	return nil
}

// InUse reports whether any read handle on code is still open.
func (fs *FileSystemStore) InUse(code string) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.readers[code] > 0
}

func (fs *FileSystemStore) markWriting(code string, on bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if on {
		fs.writing[code] = true
		return
	}
	delete(fs.writing, code)
}

func (fs *FileSystemStore) isWriting(code string) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.writing[code]
}

func (fs *FileSystemStore) acquire(code string) {
	fs.mu.Lock()
	fs.readers[code]++
	fs.mu.Unlock()
}

func (fs *FileSystemStore) release(code string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.readers[code] <= 1 {
		delete(fs.readers, code)
		return
	}
	fs.readers[code]--
}

// Records lists every expiration record under the storage root. Malformed
// records are logged and skipped.
func (fs *FileSystemStore) Records() ([]ExpirationRecord, error) {
	entries, err := os.ReadDir(fs.basePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, ioErr("list records", "", err)
	}

	var records []ExpirationRecord
	for _, e := range entries {
		code, ok := strings.CutSuffix(e.Name(), recordExt)
		if !ok || e.IsDir() || !ValidCode(code) {
			continue
		}
		rec, err := readRecord(fs.basePath, code)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			slog.Warn("skipping unreadable expiration record", "code", code, "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Inventory lists live drops with their files. Drops appearing or vanishing
// while the scan runs are tolerated; the result is eventually consistent.
func (fs *FileSystemStore) Inventory() ([]DropSummary, error) {
	records, err := fs.Records()
	if err != nil {
		return nil, err
	}

	now := fs.now()
	drops := make([]DropSummary, 0, len(records))
	for _, rec := range records {
		if rec.Expired(now) {
			continue
		}
		files, err := listFiles(filepath.Join(fs.basePath, rec.Code))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, ioErr("list", rec.Code, err)
		}
		drops = append(drops, DropSummary{Code: rec.Code, ExpiresAt: rec.ExpiresAt, Files: files})
	}
	return drops, nil
}

// Orphans returns entries of the storage root left behind by interrupted
// saves: drop directories without an expiration record and stray temp
// files, both older than grace. Drops this store is still writing are
// never reported, however long the save takes.
func (fs *FileSystemStore) Orphans(grace time.Duration) ([]string, error) {
	entries, err := os.ReadDir(fs.basePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, ioErr("list orphans", "", err)
	}

	cutoff := fs.now().Add(-grace)
	var orphans []string
	for _, e := range entries {
		name := e.Name()
		switch {
		case e.IsDir() && ValidCode(name):
			if fs.isWriting(name) {
				continue
			}
			if _, err := os.Lstat(recordPath(fs.basePath, name)); err == nil {
				continue
			}
		case !e.IsDir() && strings.HasSuffix(name, ".tmp"):
			code, _, _ := strings.Cut(name, ".")
			if fs.isWriting(code) {
				continue
			}
		default:
			continue
		}

		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		orphans = append(orphans, name)
	}
	return orphans, nil
}

// RemoveOrphan deletes an entry previously returned by Orphans.
func (fs *FileSystemStore) RemoveOrphan(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("refusing to remove %q", name)
	}
	if err := os.RemoveAll(filepath.Join(fs.basePath, name)); err != nil {
		return ioErr("remove orphan", name, err)
	}
	return nil
}
