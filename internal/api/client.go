package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Error is a non-2xx API response.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("api: %s (HTTP %d)", e.Message, e.StatusCode)
}

// IsConflict reports whether err is a 409 busy response.
func IsConflict(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}

// Client talks to a running daemon.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// NewClient builds a client for bind (host:port or a full URL).
func NewClient(bind, token string) *Client {
	base := strings.TrimRight(strings.TrimSpace(bind), "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		base:  base,
		token: strings.TrimSpace(token),
		http:  &http.Client{},
	}
}

// Start begins a URL run.
func (c *Client) Start(ctx context.Context, sourceURL string) (string, error) {
	return c.command(ctx, "/api/start", StartRequest{URL: sourceURL})
}

// StartLocal begins a run from an uploaded video.
func (c *Client) StartLocal(ctx context.Context, file string) (string, error) {
	return c.command(ctx, "/api/start_local", StartLocalRequest{File: file})
}

// Stop cancels the active run.
func (c *Client) Stop(ctx context.Context) (string, error) {
	return c.command(ctx, "/api/stop", nil)
}

// Continue resumes the processing branch.
func (c *Client) Continue(ctx context.Context) (string, error) {
	return c.command(ctx, "/api/continue", nil)
}

// Burn starts burning the subtitle into the best video.
func (c *Client) Burn(ctx context.Context) (string, error) {
	return c.command(ctx, "/api/burn", nil)
}

// Reset restores the idle state.
func (c *Client) Reset(ctx context.Context) (string, error) {
	return c.command(ctx, "/api/reset", nil)
}

// Status fetches the workflow report.
func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var resp StatusResponse
	err := c.do(ctx, http.MethodGet, "/api/status", nil, "", &resp)
	return resp, err
}

// Logs fetches entries newer than since, long-polling up to wait.
func (c *Client) Logs(ctx context.Context, since uint64, limit int, wait time.Duration) (LogsResponse, error) {
	query := url.Values{}
	query.Set("since", strconv.FormatUint(since, 10))
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if wait > 0 {
		query.Set("wait", strconv.FormatFloat(wait.Seconds(), 'f', -1, 64))
	}
	var resp LogsResponse
	err := c.do(ctx, http.MethodGet, "/api/logs?"+query.Encode(), nil, "", &resp)
	return resp, err
}

// Files lists downloadable workspace files.
func (c *Client) Files(ctx context.Context) ([]FileInfo, error) {
	var resp FilesResponse
	if err := c.do(ctx, http.MethodGet, "/api/files", nil, "", &resp); err != nil {
		return nil, err
	}
	return resp.Files, nil
}

// Download streams a workspace file into w.
func (c *Client) Download(ctx context.Context, name string, w io.Writer) (int64, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/download/"+url.PathEscape(name), nil, "")
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return 0, decodeError(resp)
	}
	return io.Copy(w, resp.Body)
}

// UploadVideo sends a local video to the daemon's upload directory.
func (c *Client) UploadVideo(ctx context.Context, path string) (UploadResponse, error) {
	return c.upload(ctx, "/api/upload_video", path)
}

// UploadSubtitle replaces the workspace ASS subtitle.
func (c *Client) UploadSubtitle(ctx context.Context, path string) (UploadResponse, error) {
	return c.upload(ctx, "/api/upload_sub", path)
}

func (c *Client) upload(ctx context.Context, endpoint, path string) (UploadResponse, error) {
	file, err := os.Open(path)
	if err != nil {
		return UploadResponse{}, err
	}
	defer file.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile(uploadField, filepath.Base(path))
		if err == nil {
			_, err = io.Copy(part, file)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	var resp UploadResponse
	err = c.do(ctx, http.MethodPost, endpoint, pr, mw.FormDataContentType(), &resp)
	return resp, err
}

func (c *Client) command(ctx context.Context, endpoint string, body any) (string, error) {
	var payload io.Reader
	contentType := ""
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return "", err
		}
		payload = bytes.NewReader(data)
		contentType = "application/json"
	}
	var resp MessageResponse
	if err := c.do(ctx, http.MethodPost, endpoint, payload, contentType, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader, contentType string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+endpoint, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body io.Reader, contentType string, out any) error {
	req, err := c.newRequest(ctx, method, endpoint, body, contentType)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("contact daemon: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var msg MessageResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &msg); err != nil || msg.Message == "" {
		msg.Message = strings.TrimSpace(string(data))
	}
	return &Error{StatusCode: resp.StatusCode, Message: msg.Message}
}
