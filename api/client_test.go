package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Session{
		Server:       server.URL,
		AccessToken:  "secret",
		AppSessionID: "as-1",
		UserAgent:    "basespace-go-test",
	}, WithHTTPClient(server.Client()))
	require.NoError(t, err)
	return client, server
}

func TestNewClientRequiresCredentials(t *testing.T) {
	_, err := NewClient(Session{Server: "https://example.com"})
	require.Error(t, err)

	_, err = NewClient(Session{AccessToken: "tok"})
	require.Error(t, err)
}

func TestRequestHeaders(t *testing.T) {
	var got http.Header
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		fmt.Fprint(w, `{"Response":{"Id":"f1"}}`)
	}))

	_, err := client.FileInfo(context.Background(), "f1")
	require.NoError(t, err)

	assert.Equal(t, "secret", got.Get("x-access-token"))
	assert.Equal(t, "as-1", got.Get("x-appsession-id"))
	assert.Equal(t, "basespace-go-test", got.Get("User-Agent"))
}

func TestFileInfoDecodesEnvelope(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/files/f1", r.URL.Path)
		fmt.Fprint(w, `{"Response":{"Id":"f1","Name":"a.bam","Size":42,"UploadStatus":"complete","ETag":"\"abcd\""}}`)
	}))

	file, err := client.FileInfo(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, "f1", file.ID)
	assert.Equal(t, "a.bam", file.Name)
	assert.Equal(t, int64(42), file.Size)
	assert.True(t, file.Complete())
	assert.Equal(t, "abcd", file.ETag, "ETag quoting must be stripped")
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{http.StatusNotFound, ErrNotFound},
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusForbidden, ErrForbidden},
	}

	for _, tt := range tests {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.code)
		}))
		_, err := client.FileInfo(context.Background(), "f1")
		assert.ErrorIs(t, err, tt.want, "status %d", tt.code)
	}

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	_, err := client.FileInfo(context.Background(), "f1")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.Code)
}

func TestInitiateMultipartUpload(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/files", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "a.bam", q.Get("name"))
		assert.Equal(t, "/runs", q.Get("directory"))
		assert.Equal(t, "true", q.Get("multipart"))
		assert.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))
		fmt.Fprint(w, `{"Response":{"Id":"f9","Name":"a.bam","UploadStatus":"pending"}}`)
	}))

	file, err := client.InitiateMultipartUpload(context.Background(), "a.bam", "/runs", "application/octet-stream")
	require.NoError(t, err)
	assert.Equal(t, "f9", file.ID)
	assert.False(t, file.Complete())
}

func TestUploadPart(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/files/f9/parts/3", r.URL.Path)
		assert.Equal(t, "XrY7u+Ae7tCTyyK7j1rNww==", r.Header.Get("Content-MD5"))
		assert.Equal(t, int64(11), r.ContentLength)

		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "hello world", string(body))
		fmt.Fprint(w, `{"Response":{"ETag":"\"5eb63bbbe01eeed093cb22bb8f5acdc3\"","Number":3}}`)
	}))

	token, err := client.UploadPart(context.Background(), "f9", 3, "XrY7u+Ae7tCTyyK7j1rNww==",
		strings.NewReader("hello world"), 11)
	require.NoError(t, err)
	assert.Equal(t, "5eb63bbbe01eeed093cb22bb8f5acdc3", token)
}

func TestUploadPartMissingToken(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"Response":{}}`)
	}))

	_, err := client.UploadPart(context.Background(), "f9", 1, "x", strings.NewReader("a"), 1)
	require.Error(t, err)
}

func TestFinalizeUpload(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/files/f9", r.URL.Path)
		assert.Equal(t, "complete", r.URL.Query().Get("uploadstatus"))
		fmt.Fprint(w, `{"Response":{"Id":"f9","UploadStatus":"pending"}}`)
	}))

	file, err := client.FinalizeUpload(context.Background(), "f9")
	require.NoError(t, err)
	assert.Equal(t, "f9", file.ID)
}

func TestDownloadRangeValidatesSpan(t *testing.T) {
	t.Run("exact span accepted", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "bytes=10-19", r.Header.Get("Range"))
			w.Header().Set("Content-Range", "bytes 10-19/100")
			w.WriteHeader(http.StatusPartialContent)
			w.Write([]byte("0123456789"))
		}))

		body, err := client.DownloadRange(context.Background(), "f1", 10, 19)
		require.NoError(t, err)
		defer body.Close()
		data, err := io.ReadAll(body)
		require.NoError(t, err)
		assert.Equal(t, "0123456789", string(data))
	})

	t.Run("ignored range rejected", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Plain 200 with the whole body and no Content-Range.
			w.Write([]byte("the whole file instead of a slice"))
		}))

		_, err := client.DownloadRange(context.Background(), "f1", 10, 19)
		assert.ErrorIs(t, err, ErrRangeNotSupported)
	})

	t.Run("wrong span rejected", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Range", "bytes 0-99/100")
			w.WriteHeader(http.StatusPartialContent)
		}))

		_, err := client.DownloadRange(context.Background(), "f1", 10, 19)
		assert.ErrorIs(t, err, ErrRangeNotSupported)
	})

	t.Run("unsatisfiable range", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		}))

		_, err := client.DownloadRange(context.Background(), "f1", 1000, 2000)
		assert.ErrorIs(t, err, ErrRangeNotSupported)
	})
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(&StatusError{Code: 500}))
	assert.True(t, Retryable(&StatusError{Code: 503}))
	assert.False(t, Retryable(&StatusError{Code: 400}))
	assert.False(t, Retryable(ErrForbidden))
	assert.False(t, Retryable(ErrNotFound))
	assert.True(t, Retryable(io.ErrUnexpectedEOF))
	assert.True(t, Retryable(&net.OpError{Op: "read", Err: errors.New("reset")}))
	assert.True(t, Retryable(fmt.Errorf("wrapped: %w", &StatusError{Code: 502})))
}

func TestParseContentRange(t *testing.T) {
	start, end, total, err := parseContentRange("bytes 5-9/100")
	require.NoError(t, err)
	assert.Equal(t, int64(5), start)
	assert.Equal(t, int64(9), end)
	assert.Equal(t, int64(100), total)

	_, _, total, err = parseContentRange("bytes 5-9/*")
	require.NoError(t, err)
	assert.Equal(t, int64(-1), total)

	_, _, _, err = parseContentRange("garbage")
	require.Error(t, err)
}

func TestCleanETag(t *testing.T) {
	assert.Equal(t, "abc", cleanETag(`"abc"`))
	assert.Equal(t, "abc", cleanETag(`W/"abc"`))
	assert.Equal(t, "abc", cleanETag("abc"))
}

func TestSessionTimeoutDefault(t *testing.T) {
	s := Session{}
	assert.Equal(t, DefaultTimeout, s.timeout())
	s.Timeout = 5 * time.Second
	assert.Equal(t, 5*time.Second, s.timeout())
}
