package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quickdrop/internal/server/storage"
)

// memSource is an in-memory Source.
type memSource struct {
	files   []storage.File
	content map[string][]byte
	openErr map[string]error
	opened  int
	closed  int
}

func newMemSource(files map[string]string) *memSource {
	src := &memSource{content: map[string][]byte{}, openErr: map[string]error{}}
	for name, body := range files {
		src.files = append(src.files, storage.File{
			Name:    name,
			Size:    int64(len(body)),
			ModTime: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		})
		src.content[name] = []byte(body)
	}
	return src
}

func (m *memSource) Files() []storage.File { return m.files }

func (m *memSource) Open(f storage.File) (io.ReadCloser, error) {
	if err := m.openErr[f.Name]; err != nil {
		return nil, err
	}
	m.opened++
	return &trackedReader{Reader: bytes.NewReader(m.content[f.Name]), onClose: func() { m.closed++ }}, nil
}

type trackedReader struct {
	io.Reader
	onClose func()
}

func (t *trackedReader) Close() error {
	t.onClose()
	return nil
}

func unzip(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	out := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		assert.Equal(t, uint64(len(b)), f.UncompressedSize64)
		out[f.Name] = string(b)
	}
	return out
}

func TestWrite(t *testing.T) {
	t.Run("archives every file byte for byte", func(t *testing.T) {
		files := map[string]string{
			"a.txt":   "hello",
			"b.bin":   strings.Repeat("\x00\xff", 4096),
			"empty":   "",
			"big.log": strings.Repeat("log line\n", 100000),
		}
		src := newMemSource(files)

		var buf bytes.Buffer
		res, err := Write(context.Background(), &buf, src)
		require.NoError(t, err)

		assert.Equal(t, 4, res.Files)
		assert.Equal(t, int64(buf.Len()), res.Bytes)
		assert.Equal(t, files, unzip(t, buf.Bytes()))
		assert.Equal(t, src.opened, src.closed)
	})

	t.Run("open failure aborts with a truncated archive", func(t *testing.T) {
		src := newMemSource(map[string]string{"a.txt": "one"})
		src.files = append(src.files, storage.File{Name: "gone.txt", Size: 3})
		src.openErr["gone.txt"] = storage.ErrNotFound

		var buf bytes.Buffer
		res, err := Write(context.Background(), &buf, src)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.Equal(t, 1, res.Files)

		_, zerr := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
		assert.Error(t, zerr, "truncated archive must not parse")
	})

	t.Run("size mismatch is an error", func(t *testing.T) {
		src := newMemSource(map[string]string{"a.txt": "abc"})
		src.files[0].Size = 99

		_, err := Write(context.Background(), io.Discard, src)
		assert.ErrorIs(t, err, storage.ErrSizeMismatch)
	})

	t.Run("cancelled context stops before reading", func(t *testing.T) {
		src := newMemSource(map[string]string{"a.txt": "abc"})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := Write(ctx, io.Discard, src)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, src.opened)
	})

	t.Run("writer failure surfaces", func(t *testing.T) {
		src := newMemSource(map[string]string{"a.txt": strings.Repeat("z", 1<<20)})
		boom := errors.New("connection reset")

		_, err := Write(context.Background(), failingWriter{err: boom}, src)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, src.opened, src.closed)
	})
}

type failingWriter struct{ err error }

func (f failingWriter) Write([]byte) (int, error) { return 0, f.err }

func TestNewReader(t *testing.T) {
	t.Run("streams the archive", func(t *testing.T) {
		files := map[string]string{"x.txt": "x", "y.txt": "yy"}
		rc, done := NewReader(context.Background(), newMemSource(files))

		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())

		res := <-done
		assert.Equal(t, 2, res.Files)
		assert.Equal(t, int64(len(data)), res.Bytes)
		assert.Equal(t, files, unzip(t, data))
	})

	t.Run("close abandons the stream and releases files", func(t *testing.T) {
		src := newMemSource(map[string]string{"big.bin": strings.Repeat("q", 4<<20)})
		rc, done := NewReader(context.Background(), src)

		buf := make([]byte, 512)
		_, err := rc.Read(buf)
		require.NoError(t, err)
		require.NoError(t, rc.Close())

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("producer did not stop after Close")
		}
		assert.Equal(t, src.opened, src.closed)
	})

	t.Run("producer error reaches the reader", func(t *testing.T) {
		src := newMemSource(map[string]string{})
		src.files = []storage.File{{Name: "gone", Size: 1}}
		src.openErr["gone"] = storage.ErrNotFound

		rc, done := NewReader(context.Background(), src)
		defer rc.Close()

		_, err := io.ReadAll(rc)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		<-done
	})
}
