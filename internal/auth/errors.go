package auth

import (
	"errors"
	"fmt"
)

// ErrConnection reports that a request could not reach the upstream on any
// available transport path.
var ErrConnection = errors.New("upstream connection failed")

// ErrAuth reports that the OAuth token refresh was rejected.
var ErrAuth = errors.New("token refresh rejected")

// UpstreamError carries a non-2xx status returned by the upstream. Transport
// succeeded; the backend refused the request.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	body := e.Body
	if len(body) > 500 {
		body = body[:500]
	}
	return fmt.Sprintf("upstream returned %d: %s", e.Status, body)
}
