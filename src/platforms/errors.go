package platforms

import (
	"errors"
	"fmt"
)

// ErrUnsupported marks an operation a platform cannot perform, e.g.
// refreshing a token that never expires.
var ErrUnsupported = errors.New("operation not supported by platform")

// ValidationError is a pre-flight content/platform mismatch. It is never
// retried and must prevent the network call entirely.
type ValidationError struct {
	Platform string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Platform, e.Reason)
}

// AuthError is an expired or invalid token reported by the platform.
type AuthError struct {
	Platform string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: auth: %v", e.Platform, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// TransientError covers timeouts, 5xx and rate-limit responses. Adapters
// retry these internally with bounded backoff; the queue does not retry
// them again across ticks.
type TransientError struct {
	Platform   string
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient (%d): %v", e.Platform, e.StatusCode, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError is a 4xx content rejection. Recorded on the link, never
// retried automatically.
type PermanentError struct {
	Platform   string
	StatusCode int
	Detail     string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("%s: rejected (%d): %s", e.Platform, e.StatusCode, e.Detail)
}

func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

func IsAuth(err error) bool {
	var e *AuthError
	return errors.As(err, &e)
}

func IsTransient(err error) bool {
	var e *TransientError
	return errors.As(err, &e)
}

func IsPermanent(err error) bool {
	var e *PermanentError
	return errors.As(err, &e)
}

// classifyStatus maps an HTTP response code onto the taxonomy.
func classifyStatus(platform string, status int, body []byte) error {
	switch {
	case status == 401 || status == 403:
		return &AuthError{Platform: platform, Err: fmt.Errorf("status %d: %s", status, truncateBody(body))}
	case status == 429 || status >= 500:
		return &TransientError{Platform: platform, StatusCode: status, Err: fmt.Errorf("%s", truncateBody(body))}
	case status >= 400:
		return &PermanentError{Platform: platform, StatusCode: status, Detail: truncateBody(body)}
	}
	return nil
}

func truncateBody(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max])
	}
	return string(body)
}
