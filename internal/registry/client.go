// Package registry is the HTTP client for the remote duplicate registry.
//
// The registry answers two calls: a fingerprint lookup, which is advisory
// and expected to be fast, and a multipart upload, whose answer is definitive.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ddasapp/ddas-agent/internal/fingerprint"
)

const (
	defaultCheckTimeout  = 10 * time.Second
	defaultUploadTimeout = 120 * time.Second

	// defaultMinThroughput is the slowest link an upload is expected to see,
	// in bytes per second. It stretches the upload timeout for large files.
	defaultMinThroughput = 1 << 20

	// maxErrorBody caps how much of a rejection body is kept.
	maxErrorBody = 4 << 10

	userAgent = "ddas-agent/1.0"
)

// Options configures a Client.
type Options struct {
	HTTPClient    *http.Client
	BaseURL       string
	CheckTimeout  time.Duration
	UploadTimeout time.Duration
	MinThroughput int64
}

// Client talks to the registry over HTTP.
type Client struct {
	http          *http.Client
	baseURL       *url.URL
	logger        *slog.Logger
	checkTimeout  time.Duration
	uploadTimeout time.Duration
	minThroughput int64
}

// New creates a registry client for the API rooted at opts.BaseURL.
func New(opts Options, logger *slog.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse registry url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("registry url %q: scheme must be http or https", opts.BaseURL)
	}

	c := &Client{
		http:          opts.HTTPClient,
		baseURL:       base,
		logger:        logger,
		checkTimeout:  opts.CheckTimeout,
		uploadTimeout: opts.UploadTimeout,
		minThroughput: opts.MinThroughput,
	}
	if c.http == nil {
		// Per-call contexts carry the deadlines.
		c.http = &http.Client{}
	}
	if c.checkTimeout <= 0 {
		c.checkTimeout = defaultCheckTimeout
	}
	if c.uploadTimeout <= 0 {
		c.uploadTimeout = defaultUploadTimeout
	}
	if c.minThroughput <= 0 {
		c.minThroughput = defaultMinThroughput
	}
	return c, nil
}

// BaseURL returns the registry API root.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// UploadTimeout returns the deadline applied to an upload of size bytes.
func (c *Client) UploadTimeout(size int64) time.Duration {
	if size <= 0 {
		return c.uploadTimeout
	}
	return c.uploadTimeout + time.Duration(size/c.minThroughput)*time.Second
}

// CheckFingerprint asks whether the registry already holds content with fp.
// Only a 200 with a well-formed body is a definitive answer; every other
// outcome is returned as an error for the caller to treat as advisory.
func (c *Client) CheckFingerprint(ctx context.Context, fp fingerprint.Fingerprint, credential string) (CheckResult, error) {
	if credential == "" {
		return CheckResult{}, ErrNoCredential
	}

	ctx, cancel := context.WithTimeout(ctx, c.checkTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("check-hash", fp.String()), nil)
	if err != nil {
		return CheckResult{}, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req, credential)
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("registry check", "fingerprint", fp.Short())

	resp, err := c.http.Do(req)
	if err != nil {
		return CheckResult{}, &Error{Op: "check", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return CheckResult{}, &StatusError{Op: "check", Status: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}

	var raw rawCheckResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return CheckResult{}, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}

	return CheckResult{
		Exists:           raw.Exists,
		OriginalFilename: raw.Filename,
	}, nil
}

// Upload streams the file at req.Path to the ingestion endpoint as a
// multipart form. The file is never held in memory as a whole.
func (c *Client) Upload(ctx context.Context, req UploadRequest) (UploadResult, error) {
	if req.Credential == "" {
		return UploadResult{}, ErrNoCredential
	}

	file, err := os.Open(req.Path) //#nosec G304 -- path was fingerprinted by the caller
	if err != nil {
		return UploadResult{}, err
	}
	defer file.Close()

	timeout := c.UploadTimeout(req.Size)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeFilePart(mw, file, req.Filename, req.ContentType))
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("upload"), pr)
	if err != nil {
		pr.Close()
		return UploadResult{}, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(httpReq, req.Credential)
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("Accept", "application/json")

	c.logger.Debug("registry upload",
		"filename", req.Filename,
		"size", humanize.IBytes(uint64(max(req.Size, 0))),
		"timeout", timeout,
	)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return UploadResult{}, &Error{Op: "upload", Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		raw := decodeUploadBody(resp.Body)
		return UploadResult{
			Outcome:     OutcomeCreated,
			Status:      resp.StatusCode,
			Message:     raw.Message,
			ExistingURL: raw.ExistingFileURL,
			RemoteHash:  raw.FileHash,
		}, nil
	case http.StatusConflict:
		raw := decodeUploadBody(resp.Body)
		return UploadResult{
			Outcome:          OutcomeDuplicate,
			Status:           resp.StatusCode,
			Message:          raw.Message,
			OriginalFilename: raw.FileName,
			ExistingURL:      raw.ExistingFileURL,
			RemoteHash:       raw.FileHash,
		}, nil
	default:
		return UploadResult{}, &StatusError{Op: "upload", Status: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}
}

// endpoint joins path segments onto the base URL, escaping each one.
func (c *Client) endpoint(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return c.baseURL.JoinPath(escaped...).String()
}

func (c *Client) setHeaders(req *http.Request, credential string) {
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("User-Agent", userAgent)
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// writeFilePart writes a single "file" form field and closes the form.
func writeFilePart(mw *multipart.Writer, r io.Reader, filename, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(filename)))
	h.Set("Content-Type", contentType)

	part, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create form part: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return fmt.Errorf("stream file: %w", err)
	}
	return mw.Close()
}

// decodeUploadBody reads an optional JSON body. Registries are not required
// to send one, so decode failures yield an empty value.
func decodeUploadBody(r io.Reader) rawUploadResponse {
	var raw rawUploadResponse
	_ = json.NewDecoder(io.LimitReader(r, maxErrorBody)).Decode(&raw)
	return raw
}

func readErrorBody(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(body))
}
