package storage

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"regexp"
)

const (
	CodeLength  = 6
	codeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	DefaultMaxAllocAttempts = 16
)

var codePattern = regexp.MustCompile(`^[A-Z0-9]{6}$`)

// ValidCode reports whether code is syntactically a drop code.
func ValidCode(code string) bool {
	return codePattern.MatchString(code)
}

// GenerateCode draws CodeLength characters uniformly from [A-Z0-9].
func GenerateCode() (string, error) {
	max := big.NewInt(int64(len(codeCharset)))
	result := make([]byte, CodeLength)
	for i := range result {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("crypto/rand failure: %w", err)
		}
		result[i] = codeCharset[n.Int64()]
	}
	return string(result), nil
}

// CodeAllocator hands out codes by creating the drop directory with a
// single exclusive mkdir. The existence check and the creation are the
// same syscall, so two allocations can never end up owning one code.
type CodeAllocator struct {
	basePath    string
	maxAttempts int
	generate    func() (string, error)
}

// NewCodeAllocator creates an allocator rooted at basePath.
func NewCodeAllocator(basePath string, maxAttempts int) *CodeAllocator {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAllocAttempts
	}
	return &CodeAllocator{
		basePath:    basePath,
		maxAttempts: maxAttempts,
		generate:    GenerateCode,
	}
}

// Allocate reserves a fresh code and returns it together with the newly
// created, empty drop directory. The caller owns the directory and must
// remove it if it cannot finish populating the drop.
func (a *CodeAllocator) Allocate() (code, dir string, err error) {
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		code, err = a.generate()
		if err != nil {
			return "", "", err
		}
		dir = filepath.Join(a.basePath, code)

		err = os.Mkdir(dir, 0o755)
		if errors.Is(err, fs.ErrExist) {
			slog.Debug("drop code collision, retrying", "attempt", attempt)
			continue
		}
		if err != nil {
			return "", "", ioErr("allocate", code, err)
		}

		// A record without a directory is left over from an interrupted
		// delete. The code is still taken until the reaper clears it.
		if _, err := os.Lstat(recordPath(a.basePath, code)); err == nil {
			os.Remove(dir)
			continue
		}

		return code, dir, nil
	}

	return "", "", fmt.Errorf("%w after %d attempts", ErrCodeSpaceExhausted, a.maxAttempts)
}
