package api

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quickdrop/internal/server/config"
	"quickdrop/internal/server/metrics"
	"quickdrop/internal/server/service"
	"quickdrop/internal/server/storage"
)

// --- Helpers ---

type fakeMetrics struct {
	mu     sync.Mutex
	events map[string]int64
}

func (m *fakeMetrics) RecordEvent(name string, delta int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[name] += delta
}

func (m *fakeMetrics) TriggerRecompute() {}

func (m *fakeMetrics) Snapshot() metrics.Snapshot {
	return metrics.Snapshot{
		Files:       2,
		Bytes:       2048,
		BytesByType: map[string]int64{"text": 2048},
		DiskTotal:   1 << 30,
		DiskUsed:    1 << 29,
	}
}

func (m *fakeMetrics) get(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events[name]
}

type testServer struct {
	e       *echo.Echo
	store   *storage.FileSystemStore
	metrics *fakeMetrics
}

func setupServer(t *testing.T, mutate func(*config.Config), checks ...HealthCheck) *testServer {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		StoragePath:      dir,
		BaseURL:          "http://drop.test",
		MaxUploadSize:    1 << 20,
		DefaultTTLHours:  2,
		ExtendedTTLHours: 168,
		RateLimitRPS:     100,
		RateLimitBurst:   100,
	}
	if mutate != nil {
		mutate(cfg)
	}

	store := storage.NewFileSystemStore(dir)
	m := &fakeMetrics{events: make(map[string]int64)}
	svc := service.NewDropService(store, m, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "quickdrop_counter 1\n")
	})
	e := SetupRouter(ctx, NewHandler(svc, cfg.MaxUploadSize, checks...), cfg, metricsHandler)
	return &testServer{e: e, store: store, metrics: m}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, files map[string]string, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for name, content := range files {
		part, err := w.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = io.WriteString(part, content)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	req.RemoteAddr = "192.0.2.1:1234"
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

// --- Upload & download ---

func TestUploadAndDownload(t *testing.T) {
	srv := setupServer(t, nil)

	rec := srv.do(uploadRequest(t, map[string]string{
		"notes.txt": "hello",
		"data.csv":  "a,b\n1,2\n",
	}, nil))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var result service.UploadResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, storage.ValidCode(result.Code))
	assert.Equal(t, "http://drop.test/d/"+result.Code, result.DownloadURL)
	assert.Equal(t, 2, result.Files)
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))

	rec = srv.do(httptest.NewRequest(http.MethodGet, "/d/"+strings.ToLower(result.Code), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/zip", rec.Header().Get(echo.HeaderContentType))
	assert.Equal(t, `attachment; filename="`+result.Code+`.zip"`, rec.Header().Get(echo.HeaderContentDisposition))

	body := rec.Body.Bytes()
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	require.NoError(t, err)
	got := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		got[f.Name] = string(b)
	}
	assert.Equal(t, map[string]string{"notes.txt": "hello", "data.csv": "a,b\n1,2\n"}, got)

	assert.Equal(t, int64(1), srv.metrics.get(metrics.CounterUploads))
	assert.Equal(t, int64(1), srv.metrics.get(metrics.CounterDownloads))
}

func TestUpload_Options(t *testing.T) {
	srv := setupServer(t, nil)

	rec := srv.do(uploadRequest(t, map[string]string{"a.txt": "a"}, map[string]string{"keep_longer": "true"}))
	require.Equal(t, http.StatusCreated, rec.Code)

	var result service.UploadResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))

	rec = srv.do(httptest.NewRequest(http.MethodGet, "/api/info/"+result.Code, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var info service.DropInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.WithinDuration(t, result.ExpiresAt, info.ExpiresAt, 5*time.Second)
	assert.Equal(t, []service.FileInfo{{Name: "a.txt", Size: 1}}, info.Files)

	rec = srv.do(uploadRequest(t, map[string]string{"a.txt": "a"}, map[string]string{"ttl_hours": "soon"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(uploadRequest(t, map[string]string{"a.txt": "a"}, map[string]string{"keep_longer": "maybe"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpload_Rejections(t *testing.T) {
	t.Run("no files", func(t *testing.T) {
		srv := setupServer(t, nil)
		rec := srv.do(uploadRequest(t, nil, map[string]string{"keep_longer": "true"}))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("not multipart", func(t *testing.T) {
		srv := setupServer(t, nil)
		req := httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader("{}"))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		assert.Equal(t, http.StatusBadRequest, srv.do(req).Code)
	})

	t.Run("over the size limit", func(t *testing.T) {
		srv := setupServer(t, func(cfg *config.Config) { cfg.MaxUploadSize = 4 })
		rec := srv.do(uploadRequest(t, map[string]string{"a.txt": "0123456789"}, nil))
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

		records, err := srv.store.Records()
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("rate limited", func(t *testing.T) {
		srv := setupServer(t, func(cfg *config.Config) {
			cfg.RateLimitRPS = 0.001
			cfg.RateLimitBurst = 2
		})
		for i := 0; i < 2; i++ {
			rec := srv.do(uploadRequest(t, map[string]string{"a.txt": "a"}, nil))
			require.Equal(t, http.StatusCreated, rec.Code)
		}
		rec := srv.do(uploadRequest(t, map[string]string{"a.txt": "a"}, nil))
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	})
}

func TestDownload_NotFound(t *testing.T) {
	srv := setupServer(t, nil)

	expired, _, err := srv.store.Save(context.Background(), []storage.Upload{{
		Name: "a.txt", Size: 1, Content: strings.NewReader("a"),
	}}, -1)
	require.NoError(t, err)

	var bodies []string
	for _, code := range []string{"ZZZZZZ", "abc", "TOOLONG1", expired} {
		rec := srv.do(httptest.NewRequest(http.MethodGet, "/d/"+code, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, code)
		bodies = append(bodies, rec.Body.String())
	}
	for _, b := range bodies[1:] {
		assert.Equal(t, bodies[0], b)
	}
	assert.Contains(t, bodies[0], "no files found for this code")
	assert.Zero(t, srv.metrics.get(metrics.CounterDownloads))
}

// --- Auxiliary endpoints ---

func TestVisit(t *testing.T) {
	srv := setupServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/visit",
		strings.NewReader(`{"browser":"Chrome","language":"fr","os":"Android"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := srv.do(req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	assert.Equal(t, int64(1), srv.metrics.get(metrics.CounterVisitors))
	assert.Equal(t, int64(1), srv.metrics.get("visitors_browser_chrome"))
	assert.Equal(t, int64(1), srv.metrics.get("visitors_language_fr"))
	assert.Equal(t, int64(1), srv.metrics.get("visitors_os_android"))
}

func TestStats(t *testing.T) {
	srv := setupServer(t, nil)

	rec := srv.do(httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, float64(2), body["files"])
	assert.Equal(t, "2.0 kB", body["bytes_human"])
	assert.Equal(t, map[string]any{"text": "2.0 kB"}, body["bytes_by_type_human"])
}

func TestHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		srv := setupServer(t, nil)
		rec := srv.do(httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "healthy", body["status"])
		assert.Equal(t, "writable", body["storage"])
	})

	t.Run("degraded sink", func(t *testing.T) {
		srv := setupServer(t, nil, HealthCheck{
			Name:  "metrics_sink",
			Check: func(context.Context) error { return errors.New("connection refused") },
		})
		rec := srv.do(httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "degraded", body["status"])
		assert.Equal(t, "error: connection refused", body["metrics_sink"])
	})
}

func TestMetricsEndpoint(t *testing.T) {
	srv := setupServer(t, nil)
	rec := srv.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "quickdrop_counter")
}
