// Package api implements the HTTP client for the remote file store: session
// credentials, file metadata lookup, ranged content downloads, and the
// multipart upload endpoints (initiate, upload part, finalize).
//
// The client performs single attempts only; retry policy belongs to the
// transfer engine driving it.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Sentinel errors for non-retryable response classes.
var (
	ErrNotFound          = errors.New("api: resource not found")
	ErrUnauthorized      = errors.New("api: unauthorized")
	ErrForbidden         = errors.New("api: access forbidden")
	ErrRangeNotSupported = errors.New("api: server ignored range request")
)

// StatusError reports an unexpected HTTP status.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api: unexpected status %s", e.Status)
}

// Retryable reports whether err is worth another attempt: server-side 5xx
// responses, network timeouts, and connection-level failures.
func Retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var oe *net.OpError
	return errors.As(err, &oe)
}

// Client talks to the remote file store on behalf of one session.
type Client struct {
	session Session
	http    *http.Client
	log     *logrus.Entry
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client, e.g. for tests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithLogger attaches a logger; by default the client is silent.
func WithLogger(log *logrus.Entry) Option {
	return func(c *Client) { c.log = log }
}

// NewClient creates a client for the given session. The transport keeps a
// generous idle pool and disables compression so ranged reads return the raw
// byte spans they ask for.
func NewClient(session Session, opts ...Option) (*Client, error) {
	if err := session.Validate(); err != nil {
		return nil, err
	}

	transport := &http.Transport{
		MaxIdleConnsPerHost: 64,
		MaxIdleConns:        128,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  true,
	}

	c := &Client{
		session: session,
		http: &http.Client{
			Transport: transport,
			Timeout:   session.timeout(),
		},
		log: logrus.NewEntry(discardLogger()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// FileInfo fetches the metadata record for a remote file.
func (c *Client) FileInfo(ctx context.Context, fileID string) (*FileDescriptor, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "files/"+url.PathEscape(fileID), nil, nil)
	if err != nil {
		return nil, err
	}
	return c.doFile(req)
}

// InitiateMultipartUpload opens an upload session for a new remote file and
// returns its descriptor, whose ID identifies the session for part uploads
// and finalization.
func (c *Client) InitiateMultipartUpload(ctx context.Context, name, directory, contentType string) (*FileDescriptor, error) {
	q := url.Values{}
	q.Set("name", name)
	q.Set("directory", directory)
	q.Set("multipart", "true")

	req, err := c.newRequest(ctx, http.MethodPost, "files", q, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	return c.doFile(req)
}

// UploadPart sends one part's bytes to an open upload session. digest is the
// base64-encoded MD5 of the part body; the service verifies it and returns
// the part token (an ETag) required at finalization.
func (c *Client) UploadPart(ctx context.Context, fileID string, partNumber int, digest string, body io.Reader, length int64) (string, error) {
	path := fmt.Sprintf("files/%s/parts/%d", url.PathEscape(fileID), partNumber)
	req, err := c.newRequest(ctx, http.MethodPut, path, nil, body)
	if err != nil {
		return "", err
	}
	req.ContentLength = length
	req.Header.Set("Content-MD5", digest)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload part %d: %w", partNumber, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return "", err
	}

	var env envelope[partReceipt]
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return "", fmt.Errorf("decode part receipt: %w", err)
	}
	if env.Response.ETag == "" {
		return "", &StatusError{Code: resp.StatusCode, Status: "response missing part token"}
	}
	return cleanETag(env.Response.ETag), nil
}

// FinalizeUpload asks the service to assemble all received parts. The
// returned descriptor's UploadStatus may still be pending; poll FileInfo
// until it reports complete.
func (c *Client) FinalizeUpload(ctx context.Context, fileID string) (*FileDescriptor, error) {
	q := url.Values{}
	q.Set("uploadstatus", "complete")

	req, err := c.newRequest(ctx, http.MethodPost, "files/"+url.PathEscape(fileID), q, nil)
	if err != nil {
		return nil, err
	}
	return c.doFile(req)
}

// UploadFile performs a single-shot upload of an entire file body, bypassing
// the multipart session machinery.
func (c *Client) UploadFile(ctx context.Context, name, directory, contentType string, body io.Reader, size int64) (*FileDescriptor, error) {
	q := url.Values{}
	q.Set("name", name)
	q.Set("directory", directory)

	req, err := c.newRequest(ctx, http.MethodPost, "files", q, body)
	if err != nil {
		return nil, err
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", contentType)
	return c.doFile(req)
}

// Download opens the full content stream of a remote file.
func (c *Client) Download(ctx context.Context, fileID string) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "files/"+url.PathEscape(fileID)+"/content", nil, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", fileID, err)
	}
	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

// DownloadRange opens a content stream for the inclusive byte span
// [start, end]. A server that ignores the range (plain 200 with no
// Content-Range, or a span other than the one requested) is rejected with
// ErrRangeNotSupported rather than silently returning the wrong bytes.
func (c *Client) DownloadRange(ctx context.Context, fileID string, start, end int64) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "files/"+url.PathEscape(fileID)+"/content", nil, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download range %s: %w", fileID, err)
	}

	if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
		resp.Body.Close()
		return nil, ErrRangeNotSupported
	}
	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		err := checkStatus(resp)
		resp.Body.Close()
		return nil, err
	}

	gotStart, gotEnd, _, crErr := parseContentRange(resp.Header.Get("Content-Range"))
	if crErr != nil || gotStart != start || gotEnd != end {
		resp.Body.Close()
		return nil, ErrRangeNotSupported
	}
	return resp.Body, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	u := strings.TrimSuffix(c.session.Server, "/") + "/" + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("x-access-token", c.session.AccessToken)
	if c.session.AppSessionID != "" {
		req.Header.Set("x-appsession-id", c.session.AppSessionID)
	}
	ua := c.session.UserAgent
	if ua == "" {
		ua = "basespace-go"
	}
	req.Header.Set("User-Agent", ua)

	c.log.WithFields(logrus.Fields{"method": method, "path": path}).Debug("api request")
	return req, nil
}

func (c *Client) doFile(req *http.Request) (*FileDescriptor, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var env envelope[FileDescriptor]
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	env.Response.ETag = cleanETag(env.Response.ETag)
	return &env.Response, nil
}

func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusForbidden:
		return ErrForbidden
	default:
		return &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}
}

func cleanETag(etag string) string {
	etag = strings.TrimPrefix(etag, "W/")
	return strings.Trim(etag, `"`)
}

// parseContentRange parses "bytes start-end/total"; total is -1 for "*".
func parseContentRange(header string) (start, end, total int64, err error) {
	header = strings.TrimPrefix(header, "bytes ")
	spanTotal := strings.Split(header, "/")
	if len(spanTotal) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range: %q", header)
	}

	span := strings.Split(spanTotal[0], "-")
	if len(span) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range: %q", header)
	}

	if start, err = strconv.ParseInt(span[0], 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid range start: %w", err)
	}
	if end, err = strconv.ParseInt(span[1], 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid range end: %w", err)
	}

	if spanTotal[1] == "*" {
		total = -1
	} else if total, err = strconv.ParseInt(spanTotal[1], 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid range total: %w", err)
	}
	return start, end, total, nil
}
