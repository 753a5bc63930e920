package engine

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"hash"
	"io"
	"os"
	"strings"
)

// The remote service verifies each part against an MD5 sent with the part
// upload, and records a whole-file MD5 as the file's ETag. MD5 is a protocol
// constraint here, not a choice.

// DigestWriter wraps an io.Writer and computes the MD5 of everything written.
type DigestWriter struct {
	w    io.Writer
	hash hash.Hash
	n    int64
}

// NewDigestWriter creates a DigestWriter over w.
func NewDigestWriter(w io.Writer) *DigestWriter {
	return &DigestWriter{w: w, hash: md5.New()}
}

// Write writes to the underlying writer and updates the digest.
func (dw *DigestWriter) Write(p []byte) (int, error) {
	n, err := dw.w.Write(p)
	if n > 0 {
		dw.n += int64(n)
		dw.hash.Write(p[:n])
	}
	return n, err
}

// Sum returns the hex-encoded digest of the bytes written so far.
func (dw *DigestWriter) Sum() string {
	return hex.EncodeToString(dw.hash.Sum(nil))
}

// SumBase64 returns the base64-encoded digest of the bytes written so far.
func (dw *DigestWriter) SumBase64() string {
	return base64.StdEncoding.EncodeToString(dw.hash.Sum(nil))
}

// BytesWritten returns the total number of bytes written.
func (dw *DigestWriter) BytesWritten() int64 { return dw.n }

// DigestReader wraps an io.Reader and computes the MD5 of everything read.
type DigestReader struct {
	r    io.Reader
	hash hash.Hash
	n    int64
}

// NewDigestReader creates a DigestReader over r.
func NewDigestReader(r io.Reader) *DigestReader {
	return &DigestReader{r: r, hash: md5.New()}
}

// Read reads from the underlying reader and updates the digest.
func (dr *DigestReader) Read(p []byte) (int, error) {
	n, err := dr.r.Read(p)
	if n > 0 {
		dr.n += int64(n)
		dr.hash.Write(p[:n])
	}
	return n, err
}

// Sum returns the hex-encoded digest of the bytes read so far.
func (dr *DigestReader) Sum() string {
	return hex.EncodeToString(dr.hash.Sum(nil))
}

// SumBase64 returns the base64-encoded digest, the form the part-upload
// endpoint expects in its Content-MD5 header.
func (dr *DigestReader) SumBase64() string {
	return base64.StdEncoding.EncodeToString(dr.hash.Sum(nil))
}

// BytesRead returns the total number of bytes read.
func (dr *DigestReader) BytesRead() int64 { return dr.n }

// DigestBytes returns the hex and base64 encodings of the MD5 of b.
func DigestBytes(b []byte) (hexSum, b64Sum string) {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:]), base64.StdEncoding.EncodeToString(sum[:])
}

// VerifyPart compares a part's recorded digest against the value the server
// acknowledged. A mismatch is an IntegrityError, treated as a permanent
// failure and never retried.
func VerifyPart(expected string, p *Part) error {
	if expected == "" || p.Digest == "" {
		return nil
	}
	if !strings.EqualFold(expected, p.Digest) {
		return &IntegrityError{PartNumber: p.Number, Expected: expected, Actual: p.Digest}
	}
	return nil
}

// VerifyFile digests the file at path and compares it with the expected
// hex-encoded value. An empty expected digest skips verification.
func VerifyFile(expected, path string) error {
	if expected == "" {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return &IOError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	dw := NewDigestWriter(io.Discard)
	if _, err := io.Copy(dw, f); err != nil {
		return &IOError{Op: "read", Path: path, Err: err}
	}

	actual := dw.Sum()
	if !strings.EqualFold(expected, actual) {
		return &IntegrityError{Expected: expected, Actual: actual}
	}
	return nil
}
