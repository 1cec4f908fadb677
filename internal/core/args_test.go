package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestFiles(t *testing.T, files map[string]string) []string {
	t.Helper()
	tmpDir := t.TempDir()
	var paths []string

	for filename, content := range files {
		filePath := filepath.Join(tmpDir, filename)
		require.NoError(t, os.MkdirAll(filepath.Dir(filePath), 0755))
		require.NoError(t, os.WriteFile(filePath, []byte(content), 0644))
		paths = append(paths, filePath)
	}

	return paths
}

func TestParseArgs(t *testing.T) {
	t.Run("no arguments", func(t *testing.T) {
		_, err := ParseArgs(nil)

		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "<files>", verr.Arg)
		assert.Equal(t, "no files provided", verr.Cause)
	})

	t.Run("file and directory", func(t *testing.T) {
		paths := setupTestFiles(t, map[string]string{"test.txt": "content"})
		dir := t.TempDir()

		result, err := ParseArgs([]string{paths[0], dir})
		require.NoError(t, err)
		require.Len(t, result, 2)
		assert.Equal(t, ParsedPath{FullPath: paths[0], Kind: PathFile}, result[0])
		assert.Equal(t, ParsedPath{FullPath: dir, Kind: PathDir}, result[1])
	})

	t.Run("repeated paths collapse", func(t *testing.T) {
		paths := setupTestFiles(t, map[string]string{"test.txt": "content"})
		messy := filepath.Join(filepath.Dir(paths[0]), ".", "test.txt")

		result, err := ParseArgs([]string{paths[0], messy})
		require.NoError(t, err)
		assert.Len(t, result, 1)
	})

	t.Run("nonexistent path", func(t *testing.T) {
		result, err := ParseArgs([]string{"/nonexistent/path/file.txt"})

		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "not found or not accessible", verr.Cause)
		assert.Nil(t, result)
	})

	t.Run("blank path", func(t *testing.T) {
		_, err := ParseArgs([]string{"  "})
		assert.Error(t, err)
	})
}

func TestValidationError(t *testing.T) {
	err := &ValidationError{Arg: "test.txt", Cause: "file not found"}
	assert.Equal(t, `invalid argument "test.txt": file not found`, err.Error())
}

// --- Collection ---

func TestCollectFiles(t *testing.T) {
	t.Run("flattens nested directories", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(root, "a", "b"), 0755))
		require.NoError(t, os.WriteFile(filepath.Join(root, "top.txt"), []byte("1"), 0644))
		require.NoError(t, os.WriteFile(filepath.Join(root, "a", "mid.txt"), []byte("22"), 0644))
		require.NoError(t, os.WriteFile(filepath.Join(root, "a", "b", "deep.txt"), []byte("333"), 0644))

		files, err := CollectFiles([]ParsedPath{{FullPath: root, Kind: PathDir}})
		require.NoError(t, err)
		require.Len(t, files, 3)

		sizes := map[string]int64{}
		for _, f := range files {
			sizes[f.Name] = f.Size
			assert.True(t, filepath.IsAbs(f.Path))
		}
		assert.Equal(t, map[string]int64{"top.txt": 1, "mid.txt": 2, "deep.txt": 3}, sizes)
	})

	t.Run("single file", func(t *testing.T) {
		paths := setupTestFiles(t, map[string]string{"photo.jpg": "jpegish"})

		files, err := CollectFiles([]ParsedPath{{FullPath: paths[0], Kind: PathFile}})
		require.NoError(t, err)
		require.Len(t, files, 1)
		assert.Equal(t, "photo.jpg", files[0].Name)
		assert.Equal(t, int64(7), files[0].Size)
	})

	t.Run("empty directory", func(t *testing.T) {
		_, err := CollectFiles([]ParsedPath{{FullPath: t.TempDir(), Kind: PathDir}})
		assert.Error(t, err)
	})
}
