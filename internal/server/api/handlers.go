package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"

	"quickdrop/internal/server/service"
	"quickdrop/internal/server/storage"
)

// multipartOverhead is allowed on top of the payload limit for form
// boundaries and headers.
const multipartOverhead = 1 << 20

// HealthCheck is an extra dependency reported by GET /health.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handler contains the HTTP handlers for the QuickDrop API.
type Handler struct {
	svc     *service.DropService
	maxBody int64
	checks  []HealthCheck
}

// NewHandler creates a new handler. maxUpload is the payload ceiling in
// bytes, zero for none.
func NewHandler(svc *service.DropService, maxUpload int64, checks ...HealthCheck) *Handler {
	h := &Handler{svc: svc, checks: checks}
	if maxUpload > 0 {
		h.maxBody = maxUpload + multipartOverhead
	}
	return h
}

// HandleUpload handles POST /api/upload.
// Accepts a multipart form with one or more "files" fields and the optional
// "keep_longer", "ttl_hours" and per-file "modified" (epoch ms) values.
func (h *Handler) HandleUpload(c echo.Context) error {
	req := c.Request()
	if h.maxBody > 0 {
		req.Body = http.MaxBytesReader(c.Response(), req.Body, h.maxBody)
	}

	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return mapServiceError(c, service.ErrSizeLimitExceeded)
		}
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "multipart form expected",
		})
	}
	defer form.RemoveAll()

	headers := form.File["files"]
	if len(headers) == 0 {
		headers = form.File["file"]
	}
	if len(headers) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "at least one file is required (use form field 'files')",
		})
	}

	opts, err := parseUploadOptions(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	modified := form.Value["modified"]
	uploads := make([]storage.Upload, 0, len(headers))
	for i, fh := range headers {
		src, err := fh.Open()
		if err != nil {
			closeAll(uploads)
			slog.Error("failed to open form file", "name", fh.Filename, "error", err)
			return c.JSON(http.StatusInternalServerError, echo.Map{
				"error": "failed to read uploaded file",
			})
		}
		uploads = append(uploads, storage.Upload{
			Name:    fh.Filename,
			Size:    fh.Size,
			ModTime: modTime(modified, i),
			Content: src,
		})
	}
	defer closeAll(uploads)

	result, err := h.svc.ProcessUpload(req.Context(), uploads, opts)
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusCreated, result)
}

// HandleDownload handles GET /d/:code.
// Streams every file of the drop as a single zip attachment.
func (h *Handler) HandleDownload(c echo.Context) error {
	ctx := c.Request().Context()

	drop, err := h.svc.Open(ctx, c.Param("code"))
	if err != nil {
		return mapServiceError(c, err)
	}
	defer drop.Close()

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "application/zip")
	res.Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", drop.Code+".zip"))
	res.WriteHeader(http.StatusOK)

	// Headers are gone; a failure now can only truncate the body.
	if _, err := h.svc.Stream(ctx, drop, res); err != nil {
		slog.Warn("archive stream aborted", "code", drop.Code, "error", err)
	}
	return nil
}

// HandleInfo handles GET /api/info/:code.
// Returns drop metadata without streaming it.
func (h *Handler) HandleInfo(c echo.Context) error {
	info, err := h.svc.GetInfo(c.Request().Context(), c.Param("code"))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, info)
}

type visitRequest struct {
	Browser  string `json:"browser"`
	Language string `json:"language"`
	OS       string `json:"os"`
}

// HandleVisit handles POST /api/visit.
func (h *Handler) HandleVisit(c echo.Context) error {
	var req visitRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid visit payload"})
	}
	h.svc.RecordVisit(req.Browser, req.Language, req.OS)
	return c.NoContent(http.StatusNoContent)
}

// HandleHealth handles GET /health.
// Reports storage writability and any extra dependency checks.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := "healthy"
	code := http.StatusOK
	result := echo.Map{}

	if err := h.svc.CheckStorage(); err != nil {
		slog.Error("storage health check failed", "error", err)
		status = "unhealthy"
		code = http.StatusServiceUnavailable
		result["storage"] = "not writable"
	} else {
		result["storage"] = "writable"
	}

	for _, hc := range h.checks {
		if err := hc.Check(c.Request().Context()); err != nil {
			if status == "healthy" {
				status = "degraded"
			}
			result[hc.Name] = fmt.Sprintf("error: %v", err)
			continue
		}
		result[hc.Name] = "connected"
	}

	result["status"] = status
	return c.JSON(code, result)
}

// HandleStats handles GET /api/stats.
// Returns the last aggregate snapshot.
func (h *Handler) HandleStats(c echo.Context) error {
	snap := h.svc.Stats()

	byType := make(map[string]string, len(snap.BytesByType))
	for class, n := range snap.BytesByType {
		byType[class] = humanize.Bytes(uint64(n))
	}

	return c.JSON(http.StatusOK, echo.Map{
		"files":               snap.Files,
		"bytes":               snap.Bytes,
		"bytes_human":         humanize.Bytes(uint64(snap.Bytes)),
		"bytes_by_type":       snap.BytesByType,
		"bytes_by_type_human": byType,
		"disk_total_bytes":    snap.DiskTotal,
		"disk_used_bytes":     snap.DiskUsed,
		"disk_used_human":     humanize.Bytes(snap.DiskUsed) + " / " + humanize.Bytes(snap.DiskTotal),
		"computed_at":         snap.ComputedAt,
	})
}

// mapServiceError translates service-layer errors into HTTP responses.
// Invalid and unknown codes are deliberately indistinguishable.
func mapServiceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrInvalidCode):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "no files found for this code"})
	case errors.Is(err, service.ErrSizeLimitExceeded):
		return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{
			"error": "upload exceeds maximum allowed size",
		})
	case errors.Is(err, storage.ErrNoFiles):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "at least one file is required"})
	case errors.Is(err, storage.ErrInvalidFileName):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid file name"})
	case errors.Is(err, storage.ErrSizeMismatch):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "upload was truncated"})
	default:
		slog.Error("request failed", "path", c.Path(), "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
}

func parseUploadOptions(c echo.Context) (service.UploadOptions, error) {
	var opts service.UploadOptions
	if v := c.FormValue("keep_longer"); v != "" {
		keep, err := strconv.ParseBool(v)
		if err != nil {
			return opts, fmt.Errorf("keep_longer must be a boolean")
		}
		opts.KeepLonger = keep
	}
	if v := c.FormValue("ttl_hours"); v != "" {
		hours, err := strconv.ParseFloat(v, 64)
		if err != nil || hours <= 0 {
			return opts, fmt.Errorf("ttl_hours must be a positive number")
		}
		opts.TTLHours = hours
	}
	return opts, nil
}

func modTime(values []string, i int) time.Time {
	if i < len(values) {
		if ms, err := strconv.ParseInt(values[i], 10, 64); err == nil && ms > 0 {
			return time.UnixMilli(ms)
		}
	}
	return time.Now()
}

func closeAll(uploads []storage.Upload) {
	for _, u := range uploads {
		if f, ok := u.Content.(multipart.File); ok {
			f.Close()
		}
	}
}
