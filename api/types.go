package api

// UploadStatusComplete is the terminal upload status the service reports once
// server-side assembly of a multipart session has finished.
const UploadStatusComplete = "complete"

// FileDescriptor is the service's metadata record for a remote file.
type FileDescriptor struct {
	ID           string `json:"Id"`
	Name         string `json:"Name"`
	Path         string `json:"Path,omitempty"`
	Size         int64  `json:"Size"`
	ContentType  string `json:"ContentType,omitempty"`
	UploadStatus string `json:"UploadStatus,omitempty"`

	// ETag carries the hex-encoded MD5 of the whole file when the service
	// has computed one.
	ETag string `json:"ETag,omitempty"`
}

// Complete reports whether the file has finished server-side assembly.
func (f *FileDescriptor) Complete() bool {
	return f.UploadStatus == UploadStatusComplete
}

// envelope is the JSON wrapper the service puts around every response body.
type envelope[T any] struct {
	Response       T              `json:"Response"`
	ResponseStatus map[string]any `json:"ResponseStatus,omitempty"`
	Notifications  []any          `json:"Notifications,omitempty"`
}

// partReceipt is the service's acknowledgement of one uploaded part.
type partReceipt struct {
	ETag   string `json:"ETag"`
	Number int    `json:"Number,omitempty"`
}
