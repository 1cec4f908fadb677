package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type ValidationError struct {
	Arg   string
	Cause string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid argument %q: %s", e.Arg, e.Cause)
}

type PathKind int

const (
	PathFile PathKind = iota
	PathDir
)

type ParsedPath struct {
	FullPath string
	Kind     PathKind
}

// ParseArgs validates the command line paths of a send. Repeated paths are
// collapsed so a file is never uploaded twice.
func ParseArgs(args []string) ([]ParsedPath, error) {
	if len(args) == 0 {
		return nil, &ValidationError{Arg: "<files>", Cause: "no files provided"}
	}

	seen := make(map[string]bool, len(args))
	var out []ParsedPath

	for _, raw := range args {
		if strings.TrimSpace(raw) == "" {
			return nil, &ValidationError{Arg: raw, Cause: "empty path"}
		}

		p := filepath.Clean(raw)
		if seen[p] {
			continue
		}

		info, err := os.Stat(p)
		if err != nil {
			return nil, &ValidationError{Arg: raw, Cause: "not found or not accessible"}
		}

		kind := PathFile
		switch {
		case info.IsDir():
			kind = PathDir
		case !info.Mode().IsRegular():
			return nil, &ValidationError{Arg: raw, Cause: "not a regular file"}
		}

		seen[p] = true
		out = append(out, ParsedPath{FullPath: p, Kind: kind})
	}

	return out, nil
}
