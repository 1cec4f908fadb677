package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const recordExt = ".meta"

// ExpirationRecord is the side-car holding a drop's deadline. It lives next
// to the drop directory as <code>.meta containing epoch milliseconds in
// decimal, so expiry decisions never touch file payloads.
type ExpirationRecord struct {
	Code      string
	ExpiresAt time.Time
}

// Expired reports whether the deadline has passed at now.
func (r ExpirationRecord) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

func recordPath(basePath, code string) string {
	return filepath.Join(basePath, code+recordExt)
}

// writeRecord stores the record atomically: a temp file in the same
// directory is renamed over the final name, so readers either see the
// whole timestamp or no record at all.
func writeRecord(basePath string, rec ExpirationRecord) error {
	tmp, err := os.CreateTemp(basePath, rec.Code+recordExt+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	payload := strconv.FormatInt(rec.ExpiresAt.UnixMilli(), 10)
	if _, err := tmp.WriteString(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, recordPath(basePath, rec.Code)); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func readRecord(basePath, code string) (ExpirationRecord, error) {
	raw, err := os.ReadFile(recordPath(basePath, code))
	if err != nil {
		return ExpirationRecord{}, err
	}
	return parseRecord(code, raw)
}

func parseRecord(code string, raw []byte) (ExpirationRecord, error) {
	ms, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return ExpirationRecord{}, fmt.Errorf("malformed expiration record for %s: %w", code, err)
	}
	return ExpirationRecord{Code: code, ExpiresAt: time.UnixMilli(ms)}, nil
}
