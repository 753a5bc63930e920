package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cenkalti/backoff/v4"
	"github.com/gabriel-vasile/mimetype"
	"github.com/sirupsen/logrus"

	"github.com/menis/basespace-go/api"
)

// Progress is a point-in-time snapshot of a running transfer.
type Progress struct {
	JobID      string
	Direction  Direction
	FileName   string
	PartsDone  int
	PartsTotal int
	BytesDone  int64
	BytesTotal int64
}

// ProgressFunc receives progress snapshots as parts complete. It is called
// from worker goroutines and must be safe for concurrent use.
type ProgressFunc func(Progress)

// TransferOptions carries the caller-tunable knobs for one transfer. Zero
// values select the engine defaults.
type TransferOptions struct {
	PartSize    int64
	Concurrency int

	// ByteRange restricts a download to an inclusive [start, end] span.
	ByteRange []int64

	// TempDir switches download reassembly to per-part temp files placed
	// in this directory.
	TempDir string
}

// Coordinator drives whole-file transfers: it plans parts, runs a bounded
// worker pool over them, cancels outstanding work on the first part failure,
// and finalizes or verifies the result. A single Coordinator may run many
// jobs, one Run call per job.
type Coordinator struct {
	client     *api.Client
	tracker    *JobTracker
	retry      RetryConfig
	bufs       *BufferPool
	log        *logrus.Entry
	onProgress ProgressFunc
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithTracker persists job state and progress checkpoints through the tracker.
func WithTracker(t *JobTracker) CoordinatorOption {
	return func(c *Coordinator) { c.tracker = t }
}

// WithRetryConfig overrides the per-part retry policy.
func WithRetryConfig(r RetryConfig) CoordinatorOption {
	return func(c *Coordinator) { c.retry = r }
}

// WithLogger attaches a logger to the coordinator and its workers.
func WithLogger(log *logrus.Entry) CoordinatorOption {
	return func(c *Coordinator) { c.log = log }
}

// WithProgress registers a callback invoked as parts complete.
func WithProgress(fn ProgressFunc) CoordinatorOption {
	return func(c *Coordinator) { c.onProgress = fn }
}

// NewCoordinator creates a coordinator around an API client.
func NewCoordinator(client *api.Client, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		client: client,
		retry:  DefaultRetryConfig,
		bufs:   NewBufferPool(DefaultBufferSize),
		log:    logrus.NewEntry(silentLogger()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func silentLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// Upload transfers the file at localPath into remoteDir under fileName. An
// empty fileName defaults to the local base name; an empty contentType is
// detected from the file contents. Files spanning a single part skip the
// multipart session and go up in one request.
func (c *Coordinator) Upload(ctx context.Context, localPath, remoteDir, fileName, contentType string, opts TransferOptions) (*TransferResult, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return nil, &IOError{Op: "stat", Path: localPath, Err: err}
	}
	if info.IsDir() {
		return nil, &IOError{Op: "stat", Path: localPath, Err: errors.New("is a directory")}
	}
	if len(opts.ByteRange) != 0 {
		return nil, &ByteRangeError{Reason: "byte ranges apply to downloads only"}
	}
	if fileName == "" {
		fileName = filepath.Base(localPath)
	}

	job := NewUploadJob(localPath, remoteDir, fileName, contentType, info.Size())
	applyOptions(job, opts)
	return c.Run(ctx, job)
}

// Download fetches the remote file into localDir, named after the remote
// file. opts.ByteRange restricts the fetch to an inclusive byte span; ranged
// downloads skip whole-file digest verification since the digest covers the
// full content. The byte range is validated before any request is issued.
func (c *Coordinator) Download(ctx context.Context, fileID, localDir string, opts TransferOptions) (*TransferResult, error) {
	var br *ByteRange
	if len(opts.ByteRange) > 0 {
		r, err := NewByteRange(opts.ByteRange)
		if err != nil {
			return nil, err
		}
		br = &r
	}

	file, err := c.client.FileInfo(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if br != nil && br.End >= file.Size {
		return nil, &ByteRangeError{Start: br.Start, End: br.End, Reason: "range exceeds file size"}
	}

	job := NewDownloadJob(fileID, filepath.Join(localDir, file.Name), file.Size)
	job.Range = br
	job.remoteFile = file
	applyOptions(job, opts)
	return c.Run(ctx, job)
}

func applyOptions(job *TransferJob, opts TransferOptions) {
	if opts.PartSize > 0 {
		job.PartSize = opts.PartSize
	}
	if opts.Concurrency > 0 {
		job.Concurrency = opts.Concurrency
	}
	if opts.TempDir != "" {
		job.TempDir = opts.TempDir
	}
}

// Run executes one transfer job to a terminal state. The part plan is
// validated before any network traffic; planning errors return a nil result.
// A failed transfer returns a result in JobFailed state naming the parts that
// caused it, alongside the triggering error.
func (c *Coordinator) Run(ctx context.Context, job *TransferJob) (*TransferResult, error) {
	var (
		parts []Part
		err   error
	)
	if job.Range != nil {
		parts, err = PlanRange(*job.Range, job.PartSize)
	} else {
		parts, err = Plan(job.TotalSize, job.PartSize)
	}
	if err != nil {
		return nil, err
	}

	log := c.log.WithFields(logrus.Fields{
		"job":       job.ID,
		"direction": job.Direction,
		"parts":     len(parts),
	})

	if c.tracker != nil {
		if err := c.tracker.InitJob(job, len(parts)); err != nil {
			return nil, err
		}
		if err := c.tracker.MarkInProgress(job.ID); err != nil {
			return nil, err
		}
	}

	run := &jobRun{coord: c, job: job, log: log, partsTotal: len(parts)}

	var res *TransferResult
	if job.Direction == Upload {
		res, err = run.upload(ctx, parts)
	} else {
		res, err = run.download(ctx, parts)
	}

	if c.tracker != nil {
		if err != nil {
			_ = c.tracker.MarkFailed(job.ID, err)
		} else {
			_ = c.tracker.MarkCompleted(job.ID, int(run.partsDone.Load()), run.bytesDone.Load())
		}
	}
	return res, err
}

// jobRun holds the mutable state of one Run call so a Coordinator can serve
// concurrent jobs without sharing counters.
type jobRun struct {
	coord      *Coordinator
	job        *TransferJob
	log        *logrus.Entry
	partsTotal int

	partsDone atomic.Int64
	bytesDone atomic.Int64
}

// partDone records one completed part and fans progress out to the tracker
// and the caller's callback.
func (r *jobRun) partDone(p *Part) {
	done := int(r.partsDone.Add(1))
	bytes := r.bytesDone.Add(p.Length)

	if r.coord.tracker != nil {
		r.coord.tracker.PartCompleted(r.job.ID, done, bytes)
	}
	if r.coord.onProgress != nil {
		r.coord.onProgress(Progress{
			JobID:      r.job.ID,
			Direction:  r.job.Direction,
			FileName:   r.job.FileName,
			PartsDone:  done,
			PartsTotal: r.partsTotal,
			BytesDone:  bytes,
			BytesTotal: r.job.plannedSize(),
		})
	}
}

func (r *jobRun) upload(ctx context.Context, parts []Part) (*TransferResult, error) {
	job := r.job

	src, err := os.Open(job.LocalPath)
	if err != nil {
		return r.failed(nil, nil), &IOError{Op: "open", Path: job.LocalPath, Err: err}
	}
	defer src.Close()

	if job.ContentType == "" {
		job.ContentType = detectContentType(job.LocalPath)
	}

	if len(parts) == 1 {
		return r.singleUpload(ctx, src, &parts[0])
	}

	session := NewUploadSession(r.coord.client, job, r.log)
	if err := session.Initiate(ctx); err != nil {
		return r.failed(nil, nil), err
	}
	session.MarkPartsInFlight()

	worker := &partWorker{
		job:    job,
		client: r.coord.client,
		src:    src,
		bufs:   r.coord.bufs,
		retry:  r.coord.retry,
		log:    r.log,
	}

	failures, err := r.dispatch(ctx, parts, worker)
	if err != nil {
		session.MarkFailed()
		return r.failed(nil, failures), err
	}

	file, err := session.Finalize(ctx, parts)
	if err != nil {
		return r.failed(nil, nil), err
	}

	r.log.WithField("file_id", file.ID).Info("upload complete")
	return r.completed(file, ""), nil
}

// singleUpload sends the whole file in one request, bypassing the multipart
// session. Each retry attempt re-reads the file from the start.
func (r *jobRun) singleUpload(ctx context.Context, src *os.File, p *Part) (*TransferResult, error) {
	job := r.job

	var file *api.FileDescriptor
	var digest string
	err := r.coord.retrying(ctx, func() error {
		p.Attempts++

		dr := NewDigestReader(io.NewSectionReader(src, 0, job.TotalSize))
		f, err := r.coord.client.UploadFile(ctx, job.FileName, job.RemoteDir, job.ContentType, dr, job.TotalSize)
		if err != nil {
			return err
		}
		file, digest = f, dr.Sum()
		return nil
	})
	if err != nil {
		p.State = PartFailed
		te := asTransferError(ctx, err, p.Number)
		return r.failed(nil, []PartFailure{{Number: p.Number, Err: te}}), te
	}

	p.State = PartComplete
	p.Digest = digest
	job.RemoteFileID = file.ID

	if isHexDigest(file.ETag) && !strings.EqualFold(file.ETag, digest) {
		ie := &IntegrityError{Expected: file.ETag, Actual: digest}
		return r.failed(file, []PartFailure{{Number: p.Number, Err: ie}}), ie
	}

	r.partDone(p)
	r.log.WithField("file_id", file.ID).Info("upload complete")
	return r.completed(file, ""), nil
}

func (r *jobRun) download(ctx context.Context, parts []Part) (*TransferResult, error) {
	job := r.job

	file := job.remoteFile
	if file == nil {
		f, err := r.coord.client.FileInfo(ctx, job.RemoteFileID)
		if err != nil {
			return r.failed(nil, nil), err
		}
		file = f
	}

	var origin int64
	if job.Range != nil {
		origin = job.Range.Start
	}

	asm, err := NewAssembler(job.LocalPath, job.plannedSize(), origin, job.TempDir)
	if err != nil {
		return r.failed(file, nil), err
	}

	var failures []PartFailure
	if len(parts) == 1 && job.Range == nil {
		// Whole file fits in one part: plain GET, no range machinery.
		if serr := r.singleDownload(ctx, asm, &parts[0]); serr != nil {
			err = serr
			failures = []PartFailure{{Number: parts[0].Number, Err: serr}}
		}
	} else {
		worker := &partWorker{
			job:    job,
			client: r.coord.client,
			asm:    asm,
			bufs:   r.coord.bufs,
			retry:  r.coord.retry,
			log:    r.log,
		}
		failures, err = r.dispatch(ctx, parts, worker)
	}
	if err != nil {
		asm.Abort()
		return r.failed(file, failures), err
	}

	stage, err := asm.Assemble()
	if err != nil {
		asm.Abort()
		return r.failed(file, nil), err
	}

	// The whole assembled file is digested against the remote checksum
	// before it is exposed under the destination path. Ranged downloads
	// cover only a slice of the content, so the check does not apply.
	if job.Range == nil && isHexDigest(file.ETag) {
		if err := VerifyFile(file.ETag, stage); err != nil {
			asm.Abort()
			return r.failed(file, nil), err
		}
	}

	dest, err := asm.Finalize()
	if err != nil {
		asm.Abort()
		return r.failed(file, nil), err
	}

	r.log.WithField("path", dest).Info("download complete")
	return r.completed(file, dest), nil
}

// singleDownload streams the whole content in one request. Each retry attempt
// rewrites the part from the start.
func (r *jobRun) singleDownload(ctx context.Context, asm *Assembler, p *Part) error {
	err := r.coord.retrying(ctx, func() error {
		p.Attempts++

		body, err := r.coord.client.Download(ctx, r.job.RemoteFileID)
		if err != nil {
			return err
		}
		defer body.Close()

		dr := NewDigestReader(body)
		buf := r.coord.bufs.Get()
		defer r.coord.bufs.Put(buf)

		n, err := asm.WritePart(p.Number, p.Offset, io.LimitReader(dr, p.Length), *buf)
		if err != nil {
			return err
		}
		if n != p.Length {
			return fmt.Errorf("short body, got %d of %d bytes: %w", n, p.Length, io.ErrUnexpectedEOF)
		}
		p.Digest = dr.Sum()
		return nil
	})
	if err != nil {
		p.State = PartFailed
		return asTransferError(ctx, err, p.Number)
	}

	p.State = PartComplete
	r.partDone(p)
	return nil
}

// dispatch runs the part plan through a fixed pool of job.Concurrency
// workers. The first part failure cancels all outstanding work; parts already
// in flight finish their current attempt and stop.
func (r *jobRun) dispatch(parent context.Context, parts []Part, worker *partWorker) ([]PartFailure, error) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	workers := r.job.Concurrency
	if workers > len(parts) {
		workers = len(parts)
	}

	var (
		mu       sync.Mutex
		failures []PartFailure
	)
	partCh := make(chan *Part)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range partCh {
				select {
				case <-ctx.Done():
					continue
				default:
				}

				err := worker.transferPart(ctx, p)
				if err == nil {
					r.partDone(p)
					continue
				}
				// A live context means a real part failure. Matching on
				// context.DeadlineExceeded would misread exhausted client
				// timeouts as cancellations and drop the part silently.
				if ctx.Err() != nil {
					continue
				}
				mu.Lock()
				failures = append(failures, PartFailure{Number: p.Number, Err: err})
				mu.Unlock()
				cancel()
			}
		}()
	}

feed:
	for i := range parts {
		select {
		case partCh <- &parts[i]:
		case <-ctx.Done():
			break feed
		}
	}
	close(partCh)
	wg.Wait()

	if len(failures) > 0 {
		first := failures[0]
		r.log.WithField("failed_parts", len(failures)).WithError(first.Err).Error("transfer aborted")
		return failures, first.Err
	}
	if err := parent.Err(); err != nil {
		return nil, err
	}
	return nil, nil
}

func (r *jobRun) completed(file *api.FileDescriptor, localPath string) *TransferResult {
	return &TransferResult{
		JobID:            r.job.ID,
		State:            JobComplete,
		File:             file,
		LocalPath:        localPath,
		BytesTransferred: r.bytesDone.Load(),
	}
}

func (r *jobRun) failed(file *api.FileDescriptor, failures []PartFailure) *TransferResult {
	return &TransferResult{
		JobID:            r.job.ID,
		State:            JobFailed,
		File:             file,
		BytesTransferred: r.bytesDone.Load(),
		FailedParts:      failures,
	}
}

// retrying runs op with the coordinator's backoff policy, cutting retries
// short on permanent errors.
func (c *Coordinator) retrying(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retry.InitialInterval
	bo.MaxInterval = c.retry.MaxInterval
	bo.MaxElapsedTime = 0

	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if IsPermanent(err) || !api.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.retry.MaxAttempts-1)), ctx))
}

// asTransferError normalizes an arbitrary failure into a TransferError for
// the given part. Only errors seen after the job context ended pass through
// untouched: client timeouts also satisfy errors.Is(err,
// context.DeadlineExceeded), so the context alone decides.
func asTransferError(ctx context.Context, err error, partNumber int) error {
	var te *TransferError
	if errors.As(err, &te) {
		return te
	}
	if ctx.Err() != nil {
		return err
	}
	kind := Transient
	if IsPermanent(err) || !api.Retryable(err) {
		kind = Permanent
	}
	return &TransferError{Kind: kind, PartNumber: partNumber, Err: err}
}

// detectContentType sniffs the file contents; detection failures fall back to
// the generic binary type.
func detectContentType(path string) string {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "application/octet-stream"
	}
	return mt.String()
}
