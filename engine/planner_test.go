package engine

import (
	"errors"
	"testing"
)

func TestPlanTiling(t *testing.T) {
	const totalSize = 57995799 // not a multiple of the part size

	parts, err := Plan(totalSize, DefaultPartSize)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if len(parts) != 6 {
		t.Fatalf("Expected 6 parts, got %d", len(parts))
	}

	var sum int64
	var next int64
	for i, p := range parts {
		if p.Number != i+1 {
			t.Errorf("Part %d has number %d", i, p.Number)
		}
		if p.Offset != next {
			t.Errorf("Part %d offset %d breaks contiguity, expected %d", p.Number, p.Offset, next)
		}
		if i < len(parts)-1 && p.Length != DefaultPartSize {
			t.Errorf("Part %d length %d, only the last part may be short", p.Number, p.Length)
		}
		if p.State != PartPending {
			t.Errorf("Part %d starts in state %s", p.Number, p.State)
		}
		next = p.Offset + p.Length
		sum += p.Length
	}
	if sum != totalSize {
		t.Errorf("Part lengths sum to %d, want %d", sum, totalSize)
	}

	last := parts[len(parts)-1]
	if last.Length != totalSize-5*DefaultPartSize {
		t.Errorf("Last part length %d, want %d", last.Length, totalSize-5*DefaultPartSize)
	}
}

func TestPlanSmallFile(t *testing.T) {
	parts, err := Plan(11, DefaultPartSize)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if len(parts) != 1 {
		t.Fatalf("Expected a single part, got %d", len(parts))
	}
	if parts[0].Offset != 0 || parts[0].Length != 11 {
		t.Errorf("Expected part [0,11), got offset %d length %d", parts[0].Offset, parts[0].Length)
	}
}

func TestPlanZeroSize(t *testing.T) {
	parts, err := Plan(0, DefaultPartSize)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if len(parts) != 1 {
		t.Fatalf("Expected one degenerate part, got %d", len(parts))
	}
	if parts[0].Length != 0 || parts[0].Number != 1 {
		t.Errorf("Expected zero-length part number 1, got length %d number %d", parts[0].Length, parts[0].Number)
	}
}

func TestPlanPartSizeBounds(t *testing.T) {
	tests := []struct {
		name     string
		partSize int64
		wantErr  bool
	}{
		{"below minimum", MinPartSize - 1, true},
		{"5MB", 5 * 1024 * 1024, true},
		{"at minimum", MinPartSize, false},
		{"default", DefaultPartSize, false},
		{"12MiB", 12 * 1024 * 1024, false},
		{"at maximum", MaxPartSize, false},
		{"above maximum", MaxPartSize + 1, true},
		{"26MiB", 26 * 1024 * 1024, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Plan(100*1024*1024, tt.partSize)
			var pse *InvalidPartSizeError
			if tt.wantErr {
				if !errors.As(err, &pse) {
					t.Errorf("Plan(partSize=%d) err = %v, want InvalidPartSizeError", tt.partSize, err)
				}
			} else if err != nil {
				t.Errorf("Plan(partSize=%d) unexpected error: %v", tt.partSize, err)
			}
		})
	}
}

func TestPlanTooManyParts(t *testing.T) {
	// MaxParts parts of MinPartSize each is the largest plannable file at
	// that part size; one more byte needs one more part.
	limit := int64(MaxParts) * MinPartSize

	if _, err := Plan(limit, MinPartSize); err != nil {
		t.Errorf("Plan at the part-count limit failed: %v", err)
	}

	_, err := Plan(limit+1, MinPartSize)
	var pse *InvalidPartSizeError
	if !errors.As(err, &pse) {
		t.Errorf("Expected InvalidPartSizeError past the part-count limit, got %v", err)
	}
}

func TestNewByteRange(t *testing.T) {
	tests := []struct {
		name    string
		vals    []int64
		wantErr bool
	}{
		{"valid", []int64{0, 999}, false},
		{"single byte", []int64{5, 5}, false},
		{"at max span", []int64{0, MaxRangeBytes - 1}, false},
		{"over max span", []int64{1, MaxRangeBytes + 1}, true},
		{"misordered", []int64{1000, 1}, true},
		{"one endpoint", []int64{1000}, true},
		{"three endpoints", []int64{1, 2, 3}, true},
		{"negative start", []int64{-1, 10}, true},
		{"empty", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewByteRange(tt.vals)
			var bre *ByteRangeError
			if tt.wantErr {
				if !errors.As(err, &bre) {
					t.Errorf("NewByteRange(%v) err = %v, want ByteRangeError", tt.vals, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewByteRange(%v) unexpected error: %v", tt.vals, err)
			}
			if r.Length() != tt.vals[1]-tt.vals[0]+1 {
				t.Errorf("Range length %d, want %d", r.Length(), tt.vals[1]-tt.vals[0]+1)
			}
		})
	}
}

func TestPlanRangeAbsoluteOffsets(t *testing.T) {
	r := ByteRange{Start: 1 << 20, End: 1<<20 + 9_999_999} // 10,000,000 bytes

	parts, err := PlanRange(r, MinPartSize)
	if err != nil {
		t.Fatalf("PlanRange failed: %v", err)
	}
	if len(parts) != 2 {
		t.Fatalf("Expected 2 parts, got %d", len(parts))
	}
	if parts[0].Offset != r.Start {
		t.Errorf("First part offset %d, want absolute range start %d", parts[0].Offset, r.Start)
	}
	if parts[0].Length != MinPartSize {
		t.Errorf("First part length %d, want %d", parts[0].Length, int64(MinPartSize))
	}
	if got := parts[1].Offset + parts[1].Length - 1; got != r.End {
		t.Errorf("Last covered byte %d, want range end %d", got, r.End)
	}
}
