package engine

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestAssemblerPositionedWrites(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "out.bin")
	content := []byte("the quick brown fox jumps over the lazy dog")

	asm, err := NewAssembler(dest, int64(len(content)), 0, "")
	if err != nil {
		t.Fatalf("NewAssembler failed: %v", err)
	}

	// Write the two halves out of order, as concurrent workers would.
	half := len(content) / 2
	buf := make([]byte, 8)
	if _, err := asm.WritePart(2, int64(half), bytes.NewReader(content[half:]), buf); err != nil {
		t.Fatalf("WritePart 2 failed: %v", err)
	}
	if _, err := asm.WritePart(1, 0, bytes.NewReader(content[:half]), buf); err != nil {
		t.Fatalf("WritePart 1 failed: %v", err)
	}

	// Nothing visible at the destination before Finalize.
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Errorf("Destination exists before Finalize: %v", err)
	}

	path, err := asm.Finalize()
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if path != dest {
		t.Errorf("Finalize returned %s, want %s", path, dest)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("Assembled content mismatch: got %q", got)
	}
}

func TestAssemblerConcurrentWrites(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "big.bin")

	const partSize = 1024
	const numParts = 16
	content := bytes.Repeat([]byte("0123456789abcdef"), partSize*numParts/16)

	asm, err := NewAssembler(dest, int64(len(content)), 0, "")
	if err != nil {
		t.Fatalf("NewAssembler failed: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, numParts)
	for i := 0; i < numParts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			offset := int64(n * partSize)
			buf := make([]byte, 64)
			_, errs[n] = asm.WritePart(n+1, offset, bytes.NewReader(content[offset:offset+partSize]), buf)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("WritePart %d failed: %v", i+1, err)
		}
	}

	if _, err := asm.Finalize(); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Error("Concurrently assembled content does not match the source")
	}
}

func TestAssemblerTempFileStrategy(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "out.txt")
	tempDir := filepath.Join(dir, "parts")

	asm, err := NewAssembler(dest, 10, 0, tempDir)
	if err != nil {
		t.Fatalf("NewAssembler failed: %v", err)
	}

	buf := make([]byte, 4)
	if _, err := asm.WritePart(2, 5, strings.NewReader("world"), buf); err != nil {
		t.Fatalf("WritePart 2 failed: %v", err)
	}
	if _, err := asm.WritePart(1, 0, strings.NewReader("hello"), buf); err != nil {
		t.Fatalf("WritePart 1 failed: %v", err)
	}

	stage, err := asm.Assemble()
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	staged, err := os.ReadFile(stage)
	if err != nil {
		t.Fatalf("Reading staging file failed: %v", err)
	}
	if string(staged) != "helloworld" {
		t.Errorf("Staging content %q, want helloworld", staged)
	}

	if _, err := asm.Finalize(); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	got, _ := os.ReadFile(dest)
	if string(got) != "helloworld" {
		t.Errorf("Assembled content %q, want helloworld", got)
	}

	// Part files are cleaned up after assembly.
	entries, err := os.ReadDir(tempDir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected temp dir cleaned up, found %d entries", len(entries))
	}
}

func TestAssemblerTempFileMissingPart(t *testing.T) {
	dir := t.TempDir()
	asm, err := NewAssembler(filepath.Join(dir, "out"), 10, 0, filepath.Join(dir, "tmp"))
	if err != nil {
		t.Fatalf("NewAssembler failed: %v", err)
	}

	buf := make([]byte, 4)
	if _, err := asm.WritePart(2, 5, strings.NewReader("world"), buf); err != nil {
		t.Fatalf("WritePart failed: %v", err)
	}

	if _, err := asm.Assemble(); err == nil {
		t.Error("Expected Assemble to fail with a part missing from the sequence")
	}
}

func TestAssemblerRangedOrigin(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "slice.bin")

	// Parts carry absolute offsets; the assembler places them relative to
	// the range origin.
	asm, err := NewAssembler(dest, 5, 100, "")
	if err != nil {
		t.Fatalf("NewAssembler failed: %v", err)
	}

	buf := make([]byte, 4)
	if _, err := asm.WritePart(1, 100, strings.NewReader("slice"), buf); err != nil {
		t.Fatalf("WritePart failed: %v", err)
	}
	if _, err := asm.Finalize(); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	got, _ := os.ReadFile(dest)
	if string(got) != "slice" {
		t.Errorf("Ranged content %q, want slice", got)
	}
}

func TestAssemblerAbort(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "never.bin")

	asm, err := NewAssembler(dest, 4, 0, "")
	if err != nil {
		t.Fatalf("NewAssembler failed: %v", err)
	}
	if _, err := asm.WritePart(1, 0, strings.NewReader("data"), make([]byte, 4)); err != nil {
		t.Fatalf("WritePart failed: %v", err)
	}

	asm.Abort()
	asm.Abort() // safe to repeat

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected no artifacts after Abort, found %d entries", len(entries))
	}
}

func TestAssemblerFinalizeIdempotent(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "once.bin")

	asm, err := NewAssembler(dest, 4, 0, "")
	if err != nil {
		t.Fatalf("NewAssembler failed: %v", err)
	}
	if _, err := asm.WritePart(1, 0, strings.NewReader("data"), make([]byte, 4)); err != nil {
		t.Fatalf("WritePart failed: %v", err)
	}

	if _, err := asm.Finalize(); err != nil {
		t.Fatalf("First Finalize failed: %v", err)
	}
	path, err := asm.Finalize()
	if err != nil {
		t.Fatalf("Second Finalize failed: %v", err)
	}
	if path != dest {
		t.Errorf("Second Finalize returned %s, want %s", path, dest)
	}

	// Abort after Finalize leaves the destination alone.
	asm.Abort()
	if _, err := os.Stat(dest); err != nil {
		t.Errorf("Destination missing after post-Finalize Abort: %v", err)
	}
}
