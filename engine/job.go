package engine

import (
	"github.com/google/uuid"

	"github.com/menis/basespace-go/api"
)

// Direction says which way a job moves bytes.
type Direction string

const (
	Upload   Direction = "Upload"
	Download Direction = "Download"
)

// JobState is the terminal state of a whole transfer job.
type JobState string

const (
	JobComplete JobState = "Complete"
	JobFailed   JobState = "Failed"
)

// DefaultConcurrency is the worker pool size when the caller does not choose
// one. It is scaled down to the part count for small files.
const DefaultConcurrency = 4

// TransferJob describes one whole-file transfer. It is owned exclusively by
// the coordinator from creation until it reaches a terminal state.
type TransferJob struct {
	ID        string
	Direction Direction

	// LocalPath is the source file for uploads, the destination file for
	// downloads.
	LocalPath string

	// RemoteFileID identifies the remote file for downloads; for uploads
	// it is set once the upload session has been initiated.
	RemoteFileID string

	// FileName and RemoteDir name the file created by an upload.
	FileName  string
	RemoteDir string

	// ContentType of the uploaded file. Detected from the file when empty.
	ContentType string

	TotalSize   int64
	PartSize    int64
	Concurrency int

	// Range restricts a download to an inclusive byte span. Whole-file
	// digest verification is skipped for ranged downloads.
	Range *ByteRange

	// TempDir, when set, switches the reassembler to its per-part
	// temp-file strategy and places the part files there.
	TempDir string

	// remoteFile caches the descriptor fetched while planning a download so
	// the run does not repeat the metadata lookup.
	remoteFile *api.FileDescriptor
}

// NewUploadJob builds an upload job with defaults applied.
func NewUploadJob(localPath, remoteDir, fileName, contentType string, totalSize int64) *TransferJob {
	j := &TransferJob{
		ID:          uuid.NewString(),
		Direction:   Upload,
		LocalPath:   localPath,
		FileName:    fileName,
		RemoteDir:   remoteDir,
		ContentType: contentType,
		TotalSize:   totalSize,
	}
	j.applyDefaults()
	return j
}

// NewDownloadJob builds a download job with defaults applied.
func NewDownloadJob(remoteFileID, localPath string, totalSize int64) *TransferJob {
	j := &TransferJob{
		ID:           uuid.NewString(),
		Direction:    Download,
		LocalPath:    localPath,
		RemoteFileID: remoteFileID,
		TotalSize:    totalSize,
	}
	j.applyDefaults()
	return j
}

func (j *TransferJob) applyDefaults() {
	if j.PartSize == 0 {
		j.PartSize = DefaultPartSize
	}
	if j.Concurrency <= 0 {
		j.Concurrency = DefaultConcurrency
	}
}

// plannedSize returns the byte span this job covers.
func (j *TransferJob) plannedSize() int64 {
	if j.Range != nil {
		return j.Range.Length()
	}
	return j.TotalSize
}

// TransferResult is the terminal record returned to the caller: either a
// complete, verified transfer or an aggregated failure naming the parts that
// caused it.
type TransferResult struct {
	JobID string
	State JobState

	// File is the remote descriptor: the finalized file for uploads, the
	// source file for downloads.
	File *api.FileDescriptor

	// LocalPath is the local file written by a download.
	LocalPath string

	BytesTransferred int64

	// FailedParts lists the parts that triggered the failure, with cause.
	FailedParts []PartFailure
}
