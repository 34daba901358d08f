// Package apiclient talks to a running colabsfm daemon over its HTTP API.
package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"colabsfm/internal/api"
)

// Error is a non-2xx daemon response.
type Error struct {
	StatusCode int
	Detail     string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("daemon returned %d", e.StatusCode)
	}
	return fmt.Sprintf("daemon returned %d: %s", e.StatusCode, e.Detail)
}

// Client issues region operations against one daemon.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

// New builds a client for addr, which may be host:port or a full URL.
func New(addr, token string) (*Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("daemon address is required")
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	base, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("parse daemon address: %w", err)
	}
	return &Client{
		base:  base,
		token: strings.TrimSpace(token),
		http:  &http.Client{},
	}, nil
}

// CreateRegion creates name on the daemon.
func (c *Client) CreateRegion(ctx context.Context, name string) (api.Ack, error) {
	var ack api.Ack
	query := url.Values{"region_name": {name}}
	err := c.do(ctx, http.MethodPost, "/create_region?"+query.Encode(), nil, "", &ack)
	return ack, err
}

// UploadImages sends the given image files to region.
func (c *Client) UploadImages(ctx context.Context, region, userID string, paths []string) (api.Ack, error) {
	return c.upload(ctx, "/upload_images/"+url.PathEscape(region), "files", userID, paths)
}

// UploadFolder sends every regular file under dir to region.
func (c *Client) UploadFolder(ctx context.Context, region, userID, dir string) (api.Ack, error) {
	paths, err := collectFiles(dir)
	if err != nil {
		return api.Ack{}, err
	}
	if len(paths) == 0 {
		return api.Ack{}, fmt.Errorf("no files found under %s", dir)
	}
	return c.upload(ctx, "/upload_folder/"+url.PathEscape(region), "files", userID, paths)
}

// UploadArchive sends one archive to region.
func (c *Client) UploadArchive(ctx context.Context, region, userID, path string) (api.Ack, error) {
	return c.upload(ctx, "/upload_zip/"+url.PathEscape(region), "zip_file", userID, []string{path})
}

// Reconstruct triggers matching and mapping for region.
func (c *Client) Reconstruct(ctx context.Context, region string) (api.Ack, error) {
	var ack api.Ack
	err := c.do(ctx, http.MethodPost, "/reconstruct/"+url.PathEscape(region), nil, "", &ack)
	return ack, err
}

// Uploads lists the ledger rows for region.
func (c *Client) Uploads(ctx context.Context, region string) ([]api.Upload, error) {
	var uploads []api.Upload
	err := c.do(ctx, http.MethodGet, "/uploads/"+url.PathEscape(region), nil, "", &uploads)
	return uploads, err
}

// Regions lists the regions known to the daemon.
func (c *Client) Regions(ctx context.Context) ([]api.RegionSummary, error) {
	var regions []api.RegionSummary
	err := c.do(ctx, http.MethodGet, "/regions", nil, "", &regions)
	return regions, err
}

// Status fetches daemon runtime status.
func (c *Client) Status(ctx context.Context) (api.DaemonStatus, error) {
	var status api.DaemonStatus
	err := c.do(ctx, http.MethodGet, "/api/status", nil, "", &status)
	return status, err
}

func (c *Client) upload(ctx context.Context, path, field, userID string, files []string) (api.Ack, error) {
	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil {
			return api.Ack{}, fmt.Errorf("inspect %s: %w", file, err)
		}
		if !info.Mode().IsRegular() {
			return api.Ack{}, fmt.Errorf("%s is not a regular file", file)
		}
	}

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeParts(writer, field, userID, files))
	}()

	var ack api.Ack
	err := c.do(ctx, http.MethodPost, path, pr, writer.FormDataContentType(), &ack)
	_ = pr.Close()
	return ack, err
}

func writeParts(writer *multipart.Writer, field, userID string, files []string) error {
	if userID != "" {
		if err := writer.WriteField("user_id", userID); err != nil {
			return err
		}
	}
	for _, file := range files {
		if err := copyPart(writer, field, file); err != nil {
			return err
		}
	}
	return writer.Close()
}

func copyPart(writer *multipart.Writer, field, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()
	part, err := writer.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, src)
	return err
}

func collectFiles(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	return paths, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	ref, err := url.Parse(path)
	if err != nil {
		return fmt.Errorf("build request url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.ResolveReference(ref).String(), body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("connect to daemon: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &Error{StatusCode: resp.StatusCode}
		var payload struct {
			Detail string `json:"detail"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, &payload) == nil {
			apiErr.Detail = payload.Detail
		} else {
			apiErr.Detail = strings.TrimSpace(string(data))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode daemon response: %w", err)
	}
	return nil
}
