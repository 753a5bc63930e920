package engine

import (
	"sync"
	"time"

	"github.com/menis/basespace-go/store"
)

// CheckpointConfig defines when part-level progress is flushed to the store.
type CheckpointConfig struct {
	// PartsInterval triggers a save after this many completed parts.
	PartsInterval int
	// TimeInterval triggers a save after this much time has passed.
	TimeInterval time.Duration
}

// DefaultCheckpointConfig provides reasonable defaults for checkpointing.
var DefaultCheckpointConfig = CheckpointConfig{
	PartsInterval: 4,
	TimeInterval:  5 * time.Second,
}

// JobTracker wraps a store to persist job state and part-completion progress.
type JobTracker struct {
	store  store.Store
	config CheckpointConfig

	mu              sync.Mutex
	partsSinceSave  int
	lastCheckpointT time.Time
}

// NewJobTracker creates a new JobTracker.
func NewJobTracker(st store.Store, config CheckpointConfig) *JobTracker {
	return &JobTracker{
		store:           st,
		config:          config,
		lastCheckpointT: time.Now(),
	}
}

// InitJob writes the initial record for a job.
func (jt *JobTracker) InitJob(job *TransferJob, partsTotal int) error {
	record := &store.JobRecord{
		ID:           job.ID,
		Direction:    string(job.Direction),
		LocalPath:    job.LocalPath,
		RemoteFileID: job.RemoteFileID,
		State:        store.StatePending,
		PartsTotal:   partsTotal,
		TotalBytes:   job.plannedSize(),
	}
	return jt.store.SaveJob(record)
}

// MarkInProgress updates a job's state to InProgress.
func (jt *JobTracker) MarkInProgress(jobID string) error {
	record, err := jt.store.GetJob(jobID)
	if err != nil {
		return err
	}
	record.State = store.StateInProgress
	return jt.store.SaveJob(record)
}

// PartCompleted records one more finished part. Writes are throttled by the
// checkpoint config; a lost checkpoint only under-reports progress, the
// terminal state is always written.
func (jt *JobTracker) PartCompleted(jobID string, partsDone int, bytesDone int64) {
	jt.mu.Lock()
	jt.partsSinceSave++
	due := jt.partsSinceSave >= jt.config.PartsInterval ||
		time.Since(jt.lastCheckpointT) >= jt.config.TimeInterval
	if due {
		jt.partsSinceSave = 0
		jt.lastCheckpointT = time.Now()
	}
	jt.mu.Unlock()

	if !due {
		return
	}

	record, err := jt.store.GetJob(jobID)
	if err != nil {
		return
	}
	record.PartsCompleted = partsDone
	record.BytesTransferred = bytesDone
	// Checkpoint write failures are not fatal.
	_ = jt.store.SaveJob(record)
}

// MarkCompleted updates a job's state to Completed.
func (jt *JobTracker) MarkCompleted(jobID string, partsDone int, bytesDone int64) error {
	record, err := jt.store.GetJob(jobID)
	if err != nil {
		return err
	}
	record.State = store.StateCompleted
	record.PartsCompleted = partsDone
	record.BytesTransferred = bytesDone
	return jt.store.SaveJob(record)
}

// MarkFailed updates a job's state to Failed with an error message.
func (jt *JobTracker) MarkFailed(jobID string, err error) error {
	record, getErr := jt.store.GetJob(jobID)
	if getErr != nil {
		return getErr
	}
	record.State = store.StateFailed
	if err != nil {
		record.Error = err.Error()
	}
	return jt.store.SaveJob(record)
}
