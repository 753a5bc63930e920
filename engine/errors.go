package engine

import (
	"errors"
	"fmt"
)

// TransferErrorKind classifies a per-part transfer failure.
type TransferErrorKind int

const (
	// Transient failures (network timeouts, 5xx responses, connection
	// resets) are retried up to the configured attempt limit.
	Transient TransferErrorKind = iota
	// Permanent failures (auth/permission rejections, digest mismatches)
	// abort the part immediately and fail the whole job.
	Permanent
)

func (k TransferErrorKind) String() string {
	if k == Permanent {
		return "permanent"
	}
	return "transient"
}

// InvalidPartSizeError is returned when the requested part size falls outside
// the inclusive [MinPartSize, MaxPartSize] bounds, or is too small for the
// file to fit within MaxParts parts. It is raised before any network call.
type InvalidPartSizeError struct {
	PartSize int64
	Min      int64
	Max      int64
}

func (e *InvalidPartSizeError) Error() string {
	return fmt.Sprintf("part size %d outside allowed bounds [%d, %d]", e.PartSize, e.Min, e.Max)
}

// ByteRangeError is returned for a malformed, misordered, or oversized
// requested byte range. It is raised before any network call.
type ByteRangeError struct {
	Start  int64
	End    int64
	Reason string
}

func (e *ByteRangeError) Error() string {
	return fmt.Sprintf("invalid byte range [%d, %d]: %s", e.Start, e.End, e.Reason)
}

// TransferError is a per-part network or protocol failure. Kind tells the
// caller whether retrying the whole operation could help.
type TransferError struct {
	Kind       TransferErrorKind
	PartNumber int
	Err        error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("part %d: %s failure: %v", e.PartNumber, e.Kind, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// IntegrityError reports a checksum mismatch for a part or a whole file.
// Integrity failures are always permanent: retrying cannot fix corrupted data.
type IntegrityError struct {
	PartNumber int // 0 for whole-file verification
	Expected   string
	Actual     string
}

func (e *IntegrityError) Error() string {
	if e.PartNumber > 0 {
		return fmt.Sprintf("part %d digest mismatch: expected %s, got %s", e.PartNumber, e.Expected, e.Actual)
	}
	return fmt.Sprintf("file digest mismatch: expected %s, got %s", e.Expected, e.Actual)
}

// FinalizationError is returned when the remote service rejects session
// completion, or the finalized file never reaches a complete status.
type FinalizationError struct {
	FileID string
	Status string
	Err    error
}

func (e *FinalizationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("finalize file %s: %v", e.FileID, e.Err)
	}
	return fmt.Sprintf("finalize file %s: upload status %q", e.FileID, e.Status)
}

func (e *FinalizationError) Unwrap() error { return e.Err }

// IOError wraps a local filesystem failure during read, write, or reassembly.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// IsPermanent reports whether err carries a failure that retrying cannot fix:
// a permanent TransferError, any IntegrityError, or a planning error.
func IsPermanent(err error) bool {
	var te *TransferError
	if errors.As(err, &te) {
		return te.Kind == Permanent
	}
	var ie *IntegrityError
	return errors.As(err, &ie)
}
