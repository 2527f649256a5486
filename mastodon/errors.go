package mastodon

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a failed fetch so callers can branch on the kind
// instead of inspecting nested error objects.
type ErrorKind int

const (
	// KindTransient covers timeouts, connection and proxy failures.
	KindTransient ErrorKind = iota
	// KindNotFound is an HTTP 404: deleted or never-federated content.
	KindNotFound
	// KindForbidden is an HTTP 403: unlisted or authenticated-only content.
	KindForbidden
	// KindOther is any other non-2xx response.
	KindOther
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	default:
		return "other"
	}
}

// APIError is returned for every failed fetch. StatusCode is zero for
// transport-level failures.
type APIError struct {
	Err        error
	URL        string
	Kind       ErrorKind
	StatusCode int
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.StatusCode)
}

func (e *APIError) Unwrap() error { return e.Err }

func kindForStatus(code int) ErrorKind {
	switch code {
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusForbidden:
		return KindForbidden
	default:
		return KindOther
	}
}

func hasKind(err error, kind ErrorKind) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}

// IsNotFound reports whether err is an HTTP 404 fetch failure.
func IsNotFound(err error) bool { return hasKind(err, KindNotFound) }

// IsForbidden reports whether err is an HTTP 403 fetch failure.
func IsForbidden(err error) bool { return hasKind(err, KindForbidden) }

// IsTransient reports whether err is a transport-level failure (timeout,
// connection or proxy error) rather than an HTTP status.
func IsTransient(err error) bool { return hasKind(err, KindTransient) }
