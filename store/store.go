// Package store persists transfer job records so progress and terminal
// states survive the process and can be inspected after a failure.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var (
	// ErrJobNotFound is returned when a job is not in the state store.
	ErrJobNotFound = errors.New("job not found")
)

var (
	transfersBucket = []byte("transfers")
)

// JobState represents the persisted state of a transfer job.
type JobState string

const (
	StatePending    JobState = "Pending"
	StateInProgress JobState = "InProgress"
	StateCompleted  JobState = "Completed"
	StateFailed     JobState = "Failed"
)

// JobRecord is the persisted view of one transfer job.
type JobRecord struct {
	ID               string    `json:"id"`
	Direction        string    `json:"direction"`
	LocalPath        string    `json:"local_path"`
	RemoteFileID     string    `json:"remote_file_id,omitempty"`
	State            JobState  `json:"state"`
	PartsTotal       int       `json:"parts_total"`
	PartsCompleted   int       `json:"parts_completed"`
	BytesTransferred int64     `json:"bytes_transferred"`
	TotalBytes       int64     `json:"total_bytes"`
	Error            string    `json:"error,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Store defines the interface for tracking transfer status.
type Store interface {
	SaveJob(job *JobRecord) error
	GetJob(id string) (*JobRecord, error)
	ListJobs() ([]*JobRecord, error)
	Close() error
}

// BoltStore is a Store implementation backed by bbolt.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore creates a new BoltStore at the given path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(transfersBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create transfers bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// SaveJob saves a job record, stamping its update time.
func (s *BoltStore) SaveJob(job *JobRecord) error {
	job.UpdatedAt = time.Now().UTC()

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(transfersBucket)

		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to marshal job: %w", err)
		}

		if err := b.Put([]byte(job.ID), data); err != nil {
			return fmt.Errorf("failed to put job: %w", err)
		}
		return nil
	})
}

// GetJob retrieves a job record by ID.
func (s *BoltStore) GetJob(id string) (*JobRecord, error) {
	var job JobRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(transfersBucket)
		data := b.Get([]byte(id))
		if data == nil {
			return ErrJobNotFound
		}

		if err := json.Unmarshal(data, &job); err != nil {
			return fmt.Errorf("failed to unmarshal job: %w", err)
		}
		return nil
	})

	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs returns all persisted job records.
func (s *BoltStore) ListJobs() ([]*JobRecord, error) {
	var jobs []*JobRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(transfersBucket)
		return b.ForEach(func(_, data []byte) error {
			var job JobRecord
			if err := json.Unmarshal(data, &job); err != nil {
				return fmt.Errorf("failed to unmarshal job: %w", err)
			}
			jobs = append(jobs, &job)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// Close closes the underlying store.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
