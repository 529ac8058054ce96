package common

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrInvalidConfig      = errors.New("invalid view config")
	ErrCapabilityPinned   = errors.New("capability is pinned for this view")
	ErrMissingKey         = errors.New("key values cannot be null")
	ErrNoKeys             = errors.New("view has no key fields")
	ErrNoPendingItem      = errors.New("no pending item")
	ErrNotEditing         = errors.New("no item is being edited")
	ErrPageOutOfRange     = errors.New("page index out of range")
	ErrMalformedResponse  = errors.New("malformed odata response")
	ErrUnsupportedFilter  = errors.New("unsupported filter")
	ErrUnsupportedVersion = errors.New("unsupported odata version")
	ErrViewClosed         = errors.New("view is closed")
)

// RequestError 描述一次失败的 HTTP 请求（非 2xx 或传输失败）
type RequestError struct {
	Method     string
	URL        string
	StatusCode int
	Status     string
	Err        error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("HttpRequest Error: %s %s: %v", e.Method, e.URL, e.Err)
	}
	return fmt.Sprintf("HttpRequest Error: %s %s: %s", e.Method, e.URL, e.Status)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying the request can help.
func (e *RequestError) Temporary() bool {
	if e.Err != nil {
		return true
	}
	return e.StatusCode >= 500 || e.StatusCode == 408 || e.StatusCode == 429
}
