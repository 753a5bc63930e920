package engine

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Assembler writes downloaded byte ranges into a single destination file.
// Nothing is exposed under the destination path until Finalize succeeds; the
// bytes accumulate in a hidden staging file that is atomically renamed into
// place.
//
// Two strategies are supported. The default writes each part directly at its
// offset in a pre-sized staging file; every WritePart call opens its own file
// descriptor, so concurrent workers never share a file position. When a temp
// directory is configured, each part goes to its own temp file instead and
// Finalize concatenates them in sequence order - for destination media where
// positioned writes into a sparse file are not wanted.
type Assembler struct {
	destPath  string
	stagePath string
	tempDir   string
	origin    int64
	totalSize int64

	mu        sync.Mutex
	partFiles map[int]string
	finalized bool
}

// NewAssembler prepares a staging area for a download of totalSize bytes
// destined for destPath. origin is the absolute offset of the first planned
// byte (non-zero for ranged downloads). A non-empty tempDir selects the
// per-part temp-file strategy.
func NewAssembler(destPath string, totalSize, origin int64, tempDir string) (*Assembler, error) {
	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &IOError{Op: "mkdir", Path: dir, Err: err}
	}

	base := filepath.Base(destPath)
	stage := filepath.Join(dir, fmt.Sprintf(".%s.%s.partial", base, uuid.NewString()[:8]))

	a := &Assembler{
		destPath:  destPath,
		stagePath: stage,
		tempDir:   tempDir,
		origin:    origin,
		totalSize: totalSize,
		partFiles: make(map[int]string),
	}

	if tempDir != "" {
		if err := os.MkdirAll(tempDir, 0755); err != nil {
			return nil, &IOError{Op: "mkdir", Path: tempDir, Err: err}
		}
		return a, nil
	}

	// Pre-size the staging file so positioned writes land inside it.
	f, err := os.OpenFile(stage, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return nil, &IOError{Op: "create", Path: stage, Err: err}
	}
	if err := f.Truncate(totalSize); err != nil {
		f.Close()
		os.Remove(stage)
		return nil, &IOError{Op: "truncate", Path: stage, Err: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(stage)
		return nil, &IOError{Op: "close", Path: stage, Err: err}
	}
	return a, nil
}

// WritePart streams one part's bytes into place. offset is the part's
// absolute file offset; buf is the copy buffer to use. Parts never overlap,
// so calls for different parts may run concurrently.
func (a *Assembler) WritePart(number int, offset int64, r io.Reader, buf []byte) (int64, error) {
	if a.tempDir != "" {
		return a.writePartFile(number, r, buf)
	}

	f, err := os.OpenFile(a.stagePath, os.O_WRONLY, 0644)
	if err != nil {
		return 0, &IOError{Op: "open", Path: a.stagePath, Err: err}
	}

	n, err := io.CopyBuffer(io.NewOffsetWriter(f, offset-a.origin), r, buf)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, &IOError{Op: "write", Path: a.stagePath, Err: err}
	}
	return n, nil
}

func (a *Assembler) writePartFile(number int, r io.Reader, buf []byte) (int64, error) {
	name := filepath.Join(a.tempDir, fmt.Sprintf("%s.part-%06d", filepath.Base(a.destPath), number))

	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return 0, &IOError{Op: "create", Path: name, Err: err}
	}

	n, err := io.CopyBuffer(f, r, buf)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(name)
		return n, &IOError{Op: "write", Path: name, Err: err}
	}

	a.mu.Lock()
	a.partFiles[number] = name
	a.mu.Unlock()
	return n, nil
}

// Assemble merges part files into the staging file (a no-op for the
// positioned-write strategy) and returns the staging path so the caller can
// verify the assembled bytes before anything appears under the destination.
func (a *Assembler) Assemble() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.tempDir != "" && len(a.partFiles) > 0 {
		if err := a.concatParts(); err != nil {
			return "", err
		}
	}
	return a.stagePath, nil
}

// Finalize exposes the assembled file under the destination path and removes
// all temporary artifacts. Returns the destination path.
func (a *Assembler) Finalize() (string, error) {
	a.mu.Lock()
	if a.finalized {
		a.mu.Unlock()
		return a.destPath, nil
	}
	a.mu.Unlock()

	if _, err := a.Assemble(); err != nil {
		return "", err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := os.Rename(a.stagePath, a.destPath); err != nil {
		return "", &IOError{Op: "rename", Path: a.destPath, Err: err}
	}
	a.finalized = true
	return a.destPath, nil
}

// concatParts writes all recorded part files into the staging file in
// sequence order. Caller holds a.mu.
func (a *Assembler) concatParts() error {
	numbers := make([]int, 0, len(a.partFiles))
	for n := range a.partFiles {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	for i, n := range numbers {
		if n != i+1 {
			return &IOError{Op: "assemble", Path: a.destPath, Err: fmt.Errorf("missing part %d", i+1)}
		}
	}

	out, err := os.OpenFile(a.stagePath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return &IOError{Op: "create", Path: a.stagePath, Err: err}
	}

	for _, n := range numbers {
		src, err := os.Open(a.partFiles[n])
		if err != nil {
			out.Close()
			return &IOError{Op: "open", Path: a.partFiles[n], Err: err}
		}
		if _, err := io.Copy(out, src); err != nil {
			src.Close()
			out.Close()
			return &IOError{Op: "assemble", Path: a.stagePath, Err: err}
		}
		src.Close()
	}

	if err := out.Close(); err != nil {
		return &IOError{Op: "close", Path: a.stagePath, Err: err}
	}

	for _, n := range numbers {
		os.Remove(a.partFiles[n])
	}
	a.partFiles = make(map[int]string)
	return nil
}

// Abort removes all temporary artifacts. The destination path is untouched.
// Safe to call more than once, and after Finalize (then a no-op).
func (a *Assembler) Abort() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.finalized {
		return
	}
	os.Remove(a.stagePath)
	for _, name := range a.partFiles {
		os.Remove(name)
	}
	a.partFiles = make(map[int]string)
}
