package suitecrm

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	// KindBadCredentials: the API answered with a non-recoverable >= 400.
	KindBadCredentials ErrorKind = iota
	// KindAuthExpired: the access token is expired and cannot be refreshed
	// (no refresh token stored). A refreshable 401 never surfaces this.
	KindAuthExpired
	// KindTransport: network-level failure, or a failed token refresh.
	KindTransport
	// KindMalformed: the response decoded but expected fields are absent.
	KindMalformed
)

func (k ErrorKind) String() string {
	switch k {
	case KindBadCredentials:
		return "bad_credentials"
	case KindAuthExpired:
		return "auth_expired"
	case KindTransport:
		return "transport_error"
	case KindMalformed:
		return "malformed_response"
	default:
		return "unknown"
	}
}

// APIError is the single error type crossing every remote-call boundary.
type APIError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("suitecrm: %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("suitecrm: %s: %s", e.Kind, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

func badCredentials(status int) *APIError {
	return &APIError{Kind: KindBadCredentials, Message: fmt.Sprintf("bad credentials (status %d)", status)}
}

func transportErr(msg string, err error) *APIError {
	return &APIError{Kind: KindTransport, Message: msg, Err: err}
}

func malformed(msg string) *APIError {
	return &APIError{Kind: KindMalformed, Message: msg}
}

// IsKind reports whether err is an APIError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}
