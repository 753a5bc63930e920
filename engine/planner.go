package engine

// Transfer sizing limits. The lower part-size bound keeps any upload within
// MaxParts parts; the upper bound is the per-part ceiling the storage
// provider imposes. Values outside the inclusive bounds are rejected, never
// clamped.
const (
	MinPartSize = 6 * 1024 * 1024
	MaxPartSize = 25 * 1024 * 1024

	// DefaultPartSize is used when the caller does not request a part size.
	DefaultPartSize = 10 * 1024 * 1024

	// MaxParts is the maximum number of parts in one upload session.
	MaxParts = 10000

	// MaxRangeBytes is the maximum span of an explicit download byte range.
	MaxRangeBytes = 10_000_000
)

// ByteRange is an inclusive [Start, End] byte span for a restricted download.
type ByteRange struct {
	Start int64
	End   int64
}

// Length returns the number of bytes covered by the range.
func (r ByteRange) Length() int64 { return r.End - r.Start + 1 }

// NewByteRange validates a caller-supplied start/end pair. Exactly two
// endpoints must be given, ordered, non-negative, and spanning at most
// MaxRangeBytes.
func NewByteRange(vals []int64) (ByteRange, error) {
	if len(vals) != 2 {
		return ByteRange{}, &ByteRangeError{Reason: "exactly two endpoints required"}
	}
	r := ByteRange{Start: vals[0], End: vals[1]}
	if r.Start < 0 {
		return ByteRange{}, &ByteRangeError{Start: r.Start, End: r.End, Reason: "negative start"}
	}
	if r.Start > r.End {
		return ByteRange{}, &ByteRangeError{Start: r.Start, End: r.End, Reason: "start exceeds end"}
	}
	if r.Length() > MaxRangeBytes {
		return ByteRange{}, &ByteRangeError{Start: r.Start, End: r.End, Reason: "range exceeds maximum size"}
	}
	return r, nil
}

// Plan partitions [0, totalSize) into ordered, non-overlapping parts of
// partSize bytes, with only the last part allowed to be shorter. A zero
// totalSize yields a single zero-length part. The part size is validated
// before any network activity happens.
func Plan(totalSize, partSize int64) ([]Part, error) {
	if err := validatePartSize(totalSize, partSize); err != nil {
		return nil, err
	}
	return tile(0, totalSize, partSize), nil
}

// PlanRange partitions the inclusive byte range r into parts. The range must
// already be validated via NewByteRange; offsets in the returned parts are
// absolute file offsets.
func PlanRange(r ByteRange, partSize int64) ([]Part, error) {
	if err := validatePartSize(r.Length(), partSize); err != nil {
		return nil, err
	}
	return tile(r.Start, r.Length(), partSize), nil
}

func validatePartSize(totalSize, partSize int64) error {
	if partSize < MinPartSize || partSize > MaxPartSize {
		return &InvalidPartSizeError{PartSize: partSize, Min: MinPartSize, Max: MaxPartSize}
	}
	if count := ceilDiv(totalSize, partSize); count > MaxParts {
		return &InvalidPartSizeError{PartSize: partSize, Min: MinPartSize, Max: MaxPartSize}
	}
	return nil
}

func tile(base, length, partSize int64) []Part {
	count := ceilDiv(length, partSize)
	if count == 0 {
		// Zero-length transfer still gets one degenerate part.
		return []Part{{Number: 1, Offset: base, Length: 0, State: PartPending}}
	}

	parts := make([]Part, 0, count)
	for i := int64(0); i < count; i++ {
		offset := i * partSize
		size := partSize
		if offset+size > length {
			size = length - offset
		}
		parts = append(parts, Part{
			Number: int(i) + 1,
			Offset: base + offset,
			Length: size,
			State:  PartPending,
		})
	}
	return parts
}

func ceilDiv(n, d int64) int64 {
	return (n + d - 1) / d
}
