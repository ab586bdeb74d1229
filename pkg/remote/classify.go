package remote

import (
	"net/http"

	"github.com/cockroachdb/errors"

	"github.com/juniormsyoka/med-assistant-front-sub000/pkg/syncerr"
)

// StatusError classifies an HTTP-style status. 408, 429 and 5xx are
// transient; every other 4xx is a permanent rejection. 2xx returns nil.
func StatusError(op string, status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	cause := errors.Newf("status %d: %s", status, truncate(body, 256))
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return syncerr.Transient(op, cause)
	case status >= 400:
		return syncerr.Rejected(op, cause)
	default:
		return syncerr.Transient(op, cause)
	}
}

// TransportError marks a network or deadline failure as transient, keeping
// a classification already made.
func TransportError(op string, err error) error {
	if err == nil {
		return nil
	}
	if syncerr.IsRemote(err) {
		return err
	}
	return syncerr.Transient(op, err)
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
