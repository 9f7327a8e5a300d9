package arcgis

import (
	"errors"
	"fmt"
	"net"
	"net/url"
)

// ErrorKind classifies a ServiceError.
type ErrorKind string

const (
	KindUnreachable ErrorKind = "unreachable"
	KindTimeout     ErrorKind = "timeout"
	KindHTTPError   ErrorKind = "http_error"
)

// ServiceError is the typed failure returned for any remote call. Raw
// transport errors never leave this package.
type ServiceError struct {
	Kind       ErrorKind
	StatusCode int
	Op         string
	URL        string
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Kind == KindHTTPError {
		return fmt.Sprintf("%s %s: HTTP %d", e.Op, e.URL, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Op, e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Op, e.URL, e.Kind)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// ParseError reports a malformed metadata or feature payload. It is recorded
// as an acquisition error and never crashes a rule.
type ParseError struct {
	Op  string
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s %s: malformed payload: %v", e.Op, e.URL, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// classifyTransport maps a transport-level error to an ErrorKind.
func classifyTransport(err error) ErrorKind {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	var ue *url.Error
	if errors.As(err, &ue) && ue.Timeout() {
		return KindTimeout
	}
	return KindUnreachable
}

// retryable is the transient-vs-fatal decision for one failed attempt:
// timeouts, connection failures, HTTP 429 and 5xx are transient; any other
// HTTP status is fatal.
func retryable(err error) bool {
	var se *ServiceError
	if !errors.As(err, &se) {
		return false
	}
	switch se.Kind {
	case KindTimeout, KindUnreachable:
		return true
	case KindHTTPError:
		return se.StatusCode == 429 || se.StatusCode >= 500
	}
	return false
}
