package engine

// PartState tracks a part through its lifecycle. Only the worker holding the
// part performs its transitions.
type PartState string

const (
	PartPending  PartState = "Pending"
	PartInFlight PartState = "InFlight"
	PartComplete PartState = "Complete"
	PartFailed   PartState = "Failed"
)

// Part is one contiguous byte-range chunk of a transfer job. Numbers are
// 1-based and contiguous; the (Offset, Length) pairs of a job's parts tile
// the planned byte range exactly, with no gaps or overlaps.
type Part struct {
	// Number is the 1-based sequence index of the part.
	Number int

	// Offset is the absolute byte offset of the part in the file.
	Offset int64

	// Length is the number of bytes in the part. Every part but the last
	// has Length equal to the job's part size.
	Length int64

	State PartState

	// Attempts counts transfer attempts, including failed ones.
	Attempts int

	// Digest is the hex-encoded MD5 of the part's bytes, set by the final
	// successful attempt only.
	Digest string

	// Token is the server-issued handle (an ETag) returned when the part
	// was received. Required at upload finalization.
	Token string
}

// PartFailure records which part failed and why, for the terminal result.
type PartFailure struct {
	Number int
	Err    error
}
