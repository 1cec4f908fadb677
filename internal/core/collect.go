package core

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// LocalFile is a file on the sender's machine selected for upload.
type LocalFile struct {
	Path    string
	Name    string
	Size    int64
	ModTime time.Time
}

// CollectFiles flattens the parsed paths into a list of regular files.
// Directories are walked recursively; only base names survive since a drop
// is a flat listing. Name clashes are left for UniqueNames to resolve.
func CollectFiles(paths []ParsedPath) ([]LocalFile, error) {
	var out []LocalFile

	for _, p := range paths {
		if p.Kind == PathFile {
			lf, err := statLocal(p.FullPath)
			if err != nil {
				return nil, err
			}
			out = append(out, lf)
			continue
		}

		err := filepath.WalkDir(p.FullPath, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.Type().IsRegular() {
				return nil
			}
			lf, err := statLocal(path)
			if err != nil {
				return err
			}
			out = append(out, lf)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", p.FullPath, err)
		}
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("no regular files found")
	}
	return out, nil
}

func statLocal(path string) (LocalFile, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return LocalFile{}, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return LocalFile{}, fmt.Errorf("failed to stat %s: %w", abs, err)
	}
	return LocalFile{
		Path:    abs,
		Name:    filepath.Base(abs),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}
