package api

import (
	"errors"
	"strings"
	"time"
)

// DefaultTimeout bounds each network attempt unless the session overrides it.
const DefaultTimeout = 30 * time.Second

// Session carries the credentials and endpoint attached to every request.
// It is an explicit value handed to the client at construction time; nothing
// in this package keeps process-wide credential state.
type Session struct {
	// Server is the API base URL, e.g. https://api.example.com/v1pre3.
	Server string

	// AccessToken is sent with every request in the x-access-token header.
	AccessToken string

	// AppSessionID optionally scopes created resources to an app session.
	AppSessionID string

	// Timeout bounds each individual network attempt. Exceeding it counts
	// as a transient failure subject to retry.
	Timeout time.Duration

	// UserAgent overrides the default client identification string.
	UserAgent string
}

// Validate checks that the session can authenticate requests.
func (s Session) Validate() error {
	if strings.TrimSpace(s.Server) == "" {
		return errors.New("session: server URL required")
	}
	if strings.TrimSpace(s.AccessToken) == "" {
		return errors.New("session: access token required")
	}
	return nil
}

func (s Session) timeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return DefaultTimeout
}
