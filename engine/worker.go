package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/menis/basespace-go/api"
)

// RetryConfig bounds per-part retry behavior. Transient failures are retried
// with exponential backoff up to MaxAttempts total tries; permanent failures
// are never retried.
type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig is used when the coordinator is not given one.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:     5,
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     10 * time.Second,
}

// partWorker performs single-part transfers for one job. Upload reads go
// through a SectionReader over the shared source handle (positional reads,
// no shared file offset); download writes go through the assembler.
type partWorker struct {
	job    *TransferJob
	client *api.Client
	src    *os.File
	asm    *Assembler
	bufs   *BufferPool
	retry  RetryConfig
	log    *logrus.Entry
}

// transferPart drives one part to Complete or Failed. Only this worker
// touches the part's state while it holds it. Every attempt increments the
// attempt counter; only the final successful attempt records the digest.
func (w *partWorker) transferPart(ctx context.Context, p *Part) error {
	p.State = PartInFlight

	attempt := func() error {
		p.Attempts++

		var err error
		if w.job.Direction == Upload {
			err = w.uploadAttempt(ctx, p)
		} else {
			err = w.downloadAttempt(ctx, p)
		}
		if err == nil {
			return nil
		}
		if IsPermanent(err) || !api.Retryable(err) {
			return backoff.Permanent(&TransferError{Kind: Permanent, PartNumber: p.Number, Err: err})
		}

		w.log.WithFields(logrus.Fields{
			"part":    p.Number,
			"attempt": p.Attempts,
		}).WithError(err).Warn("part transfer attempt failed")
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = w.retry.InitialInterval
	bo.MaxInterval = w.retry.MaxInterval
	bo.MaxElapsedTime = 0

	err := backoff.Retry(attempt, backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(w.retry.MaxAttempts-1)), ctx))
	if err != nil {
		p.State = PartFailed
		var te *TransferError
		if errors.As(err, &te) {
			return te
		}
		// Client timeouts also satisfy errors.Is(err,
		// context.DeadlineExceeded); only ctx says whether the job stopped.
		if ctx.Err() != nil {
			return err
		}
		// Retries exhausted on a transient failure.
		return &TransferError{Kind: Transient, PartNumber: p.Number, Err: err}
	}

	p.State = PartComplete
	return nil
}

func (w *partWorker) uploadAttempt(ctx context.Context, p *Part) error {
	data := make([]byte, p.Length)
	if _, err := io.ReadFull(io.NewSectionReader(w.src, p.Offset, p.Length), data); err != nil {
		return &IOError{Op: "read", Path: w.job.LocalPath, Err: err}
	}

	hexSum, b64Sum := DigestBytes(data)
	token, err := w.client.UploadPart(ctx, w.job.RemoteFileID, p.Number, b64Sum, bytes.NewReader(data), p.Length)
	if err != nil {
		return err
	}

	p.Digest = hexSum
	p.Token = token

	// Part ETags are the MD5 of the part body when the server computed one;
	// a mismatch means the bytes were corrupted in flight or on disk.
	if isHexDigest(token) {
		if err := VerifyPart(token, p); err != nil {
			return err
		}
	}
	return nil
}

func (w *partWorker) downloadAttempt(ctx context.Context, p *Part) error {
	if p.Length == 0 {
		hexSum, _ := DigestBytes(nil)
		p.Digest = hexSum
		return nil
	}

	body, err := w.client.DownloadRange(ctx, w.job.RemoteFileID, p.Offset, p.Offset+p.Length-1)
	if err != nil {
		return err
	}
	defer body.Close()

	dr := NewDigestReader(body)
	buf := w.bufs.Get()
	defer w.bufs.Put(buf)

	// A retried attempt rewrites the same byte range, so a failure halfway
	// through leaves nothing to clean up.
	n, err := w.asm.WritePart(p.Number, p.Offset, io.LimitReader(dr, p.Length), *buf)
	if err != nil {
		return err
	}
	if n != p.Length {
		return fmt.Errorf("part %d: short body, got %d of %d bytes: %w", p.Number, n, p.Length, io.ErrUnexpectedEOF)
	}

	p.Digest = dr.Sum()
	return nil
}

func isHexDigest(s string) bool {
	if len(s) != 32 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
