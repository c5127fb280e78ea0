package domain

import (
	"errors"
	"fmt"
)

var (
	ErrSessionInvalid = errors.New("soundcloud session invalid")
	ErrNotFound       = errors.New("not found")
)

// UpstreamError is a transient failure talking to the SoundCloud API.
// StatusCode is zero for transport errors.
type UpstreamError struct {
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("HTTPError: %d", e.StatusCode)
	}
	return fmt.Sprintf("ConnectionError: %v", e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// SessionError names the credential SoundCloud rejected.
type SessionError struct {
	Credential string
}

func (e *SessionError) Error() string {
	return "invalid " + e.Credential
}

func (e *SessionError) Unwrap() error {
	return ErrSessionInvalid
}

// Message is the text reported on the errors exchange.
func (e *SessionError) Message() string {
	return "Invalid " + e.Credential + "!"
}
