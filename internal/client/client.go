package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"quickdrop/internal/core"
)

// APIError is a non-success response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// SendOptions mirrors the upload form options.
type SendOptions struct {
	KeepLonger bool
	TTLHours   float64
}

// UploadResponse is the server's answer to a successful upload.
type UploadResponse struct {
	Code        string    `json:"code"`
	DownloadURL string    `json:"download_url"`
	ExpiresAt   time.Time `json:"expires_at"`
	Files       int       `json:"files"`
	Size        int64     `json:"size"`
}

// Client talks to a quickdrop server.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the server at baseURL.
func New(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

// Send uploads files as one drop. The multipart body is streamed from
// disk, never buffered whole.
func (c *Client) Send(ctx context.Context, files []core.LocalFile, opts SendOptions) (*UploadResponse, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("nothing to send")
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeForm(mw, files, opts))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/upload", pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, apiError(resp)
	}

	var out UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode upload response: %w", err)
	}
	return &out, nil
}

func writeForm(mw *multipart.Writer, files []core.LocalFile, opts SendOptions) error {
	if opts.KeepLonger {
		if err := mw.WriteField("keep_longer", "true"); err != nil {
			return err
		}
	}
	if opts.TTLHours > 0 {
		if err := mw.WriteField("ttl_hours", strconv.FormatFloat(opts.TTLHours, 'f', -1, 64)); err != nil {
			return err
		}
	}
	for _, f := range files {
		if err := mw.WriteField("modified", strconv.FormatInt(f.ModTime.UnixMilli(), 10)); err != nil {
			return err
		}
	}
	for _, f := range files {
		if err := copyFile(mw, f); err != nil {
			return err
		}
	}
	return mw.Close()
}

func copyFile(mw *multipart.Writer, f core.LocalFile) error {
	src, err := os.Open(f.Path)
	if err != nil {
		return err
	}
	defer src.Close()

	part, err := mw.CreateFormFile("files", f.Name)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, src)
	return err
}

// Get downloads the archive of code into w and returns the bytes written.
func (c *Client) Get(ctx context.Context, code string, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/d/"+code, nil)
	if err != nil {
		return 0, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, apiError(resp)
	}
	return io.Copy(w, resp.Body)
}

func apiError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err := json.Unmarshal(raw, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(raw))
	}
	return &APIError{Status: resp.StatusCode, Message: body.Error}
}
