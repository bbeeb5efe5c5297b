package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/aluiziolira/go-scrape-beauty/parser"
)

// Transport error types, used as log fields and metric labels.
const (
	TypeTimeout     = "timeout"
	TypeConnection  = "connection"
	TypeForbidden   = "forbidden"
	TypeNotFound    = "not_found"
	TypeRateLimited = "rate_limited"
	TypeServer      = "server"
	TypeParse       = "parse"
	TypeOther       = "other"
)

// FetchError is a classified failure of a single request.
type FetchError struct {
	Type   string
	Status int
	URL    string
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d) %s: %v", e.Type, e.Status, e.URL, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Type, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// classifyError wraps err into a FetchError using the error chain and the
// HTTP status of the failed response. It returns nil when there is nothing
// to classify.
func classifyError(err error, statusCode int, url string) *FetchError {
	if err == nil && statusCode == 0 {
		return nil
	}
	wrapped := err
	if wrapped == nil {
		wrapped = fmt.Errorf("http status %d", statusCode)
	}
	fe := &FetchError{Type: TypeOther, Status: statusCode, URL: url, Err: wrapped}

	var netErr net.Error
	var opErr *net.OpError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		fe.Type = TypeTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		fe.Type = TypeTimeout
	case errors.As(err, &opErr):
		fe.Type = TypeConnection
	case errors.Is(err, parser.ErrInvalidListing), errors.Is(err, parser.ErrInvalidDetail):
		fe.Type = TypeParse
	case statusCode == http.StatusForbidden:
		fe.Type = TypeForbidden
	case statusCode == http.StatusNotFound:
		fe.Type = TypeNotFound
	case statusCode == http.StatusTooManyRequests:
		fe.Type = TypeRateLimited
	case statusCode >= http.StatusInternalServerError:
		fe.Type = TypeServer
	}
	return fe
}

func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		if fe == nil {
			return "unknown"
		}
		return fe.Type
	}
	return TypeOther
}

// retryable reports whether the transport should try the request again.
func retryable(fe *FetchError) bool {
	if fe == nil {
		return false
	}
	switch fe.Type {
	case TypeTimeout, TypeConnection, TypeRateLimited, TypeServer:
		return true
	}
	return false
}
