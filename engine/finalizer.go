package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/menis/basespace-go/api"
)

// SessionState tracks a server-side upload session.
type SessionState string

const (
	SessionInitiated         SessionState = "Initiated"
	SessionPartsInFlight     SessionState = "PartsInFlight"
	SessionPartsAcknowledged SessionState = "PartsAcknowledged"
	SessionFinalizing        SessionState = "Finalizing"
	SessionComplete          SessionState = "Complete"
	SessionFailed            SessionState = "Failed"
)

// statusPollInterval paces the wait for server-side assembly after finalize.
const (
	statusPollInterval = 500 * time.Millisecond
	statusPollAttempts = 60
)

// UploadSession owns the lifecycle of one multipart upload on the server:
// initiation, tracking part acknowledgement, finalization, and the poll for
// the assembled file's status.
type UploadSession struct {
	client *api.Client
	job    *TransferJob
	log    *logrus.Entry

	mu     sync.Mutex
	state  SessionState
	fileID string
	file   *api.FileDescriptor
}

// NewUploadSession creates a session for job; Initiate must be called before
// any part is sent.
func NewUploadSession(client *api.Client, job *TransferJob, log *logrus.Entry) *UploadSession {
	return &UploadSession{client: client, job: job, log: log}
}

// Initiate opens the upload session and stores the server-issued file ID on
// the job.
func (s *UploadSession) Initiate(ctx context.Context) error {
	file, err := s.client.InitiateMultipartUpload(ctx, s.job.FileName, s.job.RemoteDir, s.job.ContentType)
	if err != nil {
		s.setState(SessionFailed)
		return fmt.Errorf("initiate upload: %w", err)
	}

	s.mu.Lock()
	s.state = SessionInitiated
	s.fileID = file.ID
	s.file = file
	s.mu.Unlock()

	s.job.RemoteFileID = file.ID
	s.log.WithField("file_id", file.ID).Debug("upload session initiated")
	return nil
}

// FileID returns the server-issued identifier for the session's file.
func (s *UploadSession) FileID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fileID
}

// State returns the session's current state.
func (s *UploadSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// MarkPartsInFlight records that part dispatch has begun.
func (s *UploadSession) MarkPartsInFlight() { s.setState(SessionPartsInFlight) }

// MarkFailed moves the session to its failed state. The server-side session
// is left unfinalized; the service garbage-collects abandoned sessions.
func (s *UploadSession) MarkFailed() { s.setState(SessionFailed) }

func (s *UploadSession) setState(st SessionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Finalize checks that every part holds a server token, submits the
// completion request, and polls until the assembled file reports a complete
// upload status. Calling it again after success returns the same descriptor.
func (s *UploadSession) Finalize(ctx context.Context, parts []Part) (*api.FileDescriptor, error) {
	s.mu.Lock()
	if s.state == SessionComplete {
		file := s.file
		s.mu.Unlock()
		return file, nil
	}
	fileID := s.fileID
	s.state = SessionPartsAcknowledged
	s.mu.Unlock()

	for i := range parts {
		if parts[i].Number != i+1 {
			s.setState(SessionFailed)
			return nil, &FinalizationError{FileID: fileID, Err: fmt.Errorf("part sequence broken at index %d", i)}
		}
		if parts[i].Token == "" {
			s.setState(SessionFailed)
			return nil, &FinalizationError{FileID: fileID, Err: fmt.Errorf("part %d has no server token", parts[i].Number)}
		}
	}

	s.setState(SessionFinalizing)
	file, err := s.client.FinalizeUpload(ctx, fileID)
	if err != nil {
		s.setState(SessionFailed)
		return nil, &FinalizationError{FileID: fileID, Err: err}
	}

	file, err = s.awaitComplete(ctx, file)
	if err != nil {
		s.setState(SessionFailed)
		return nil, err
	}

	s.mu.Lock()
	s.state = SessionComplete
	s.file = file
	s.mu.Unlock()

	s.log.WithField("file_id", fileID).Debug("upload session finalized")
	return file, nil
}

// awaitComplete polls file metadata until the service reports server-side
// assembly has finished.
func (s *UploadSession) awaitComplete(ctx context.Context, file *api.FileDescriptor) (*api.FileDescriptor, error) {
	for attempt := 0; attempt < statusPollAttempts; attempt++ {
		if file.Complete() {
			return file, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(statusPollInterval):
		}

		var err error
		file, err = s.client.FileInfo(ctx, s.FileID())
		if err != nil {
			return nil, &FinalizationError{FileID: s.FileID(), Err: err}
		}
	}
	return nil, &FinalizationError{FileID: s.FileID(), Status: file.UploadStatus}
}
