// Package syncerr classifies failures of the sync engine. Every error
// returned by the store, the remote adapters and the listener is marked with
// exactly one of the sentinel kinds below, so callers branch with errors.Is
// regardless of how deeply the cause was wrapped.
package syncerr

import (
	"github.com/cockroachdb/errors"
)

var (
	// ErrStorage marks local persistence failures. Fatal to the triggering
	// call and surfaced to the caller.
	ErrStorage = errors.New("storage error")
	// ErrRemoteTransient marks push or subscribe failures that may succeed
	// on a later attempt (network, timeout, 5xx).
	ErrRemoteTransient = errors.New("remote transient error")
	// ErrRemoteRejected marks writes the remote store refused permanently.
	ErrRemoteRejected = errors.New("remote rejected error")
	// ErrSubscription marks a dropped real-time channel.
	ErrSubscription = errors.New("subscription error")
)

func mark(kind error, op string, err error) error {
	if err == nil {
		err = kind
	}
	return errors.Mark(errors.Wrapf(err, "%s", op), kind)
}

// Storage wraps err as a local storage failure of op.
func Storage(op string, err error) error { return mark(ErrStorage, op, err) }

// Transient wraps err as a retryable remote failure of op.
func Transient(op string, err error) error { return mark(ErrRemoteTransient, op, err) }

// Rejected wraps err as a permanent remote refusal of op.
func Rejected(op string, err error) error { return mark(ErrRemoteRejected, op, err) }

// Subscription wraps err as a dropped subscription.
func Subscription(op string, err error) error { return mark(ErrSubscription, op, err) }

func IsStorage(err error) bool      { return errors.Is(err, ErrStorage) }
func IsTransient(err error) bool    { return errors.Is(err, ErrRemoteTransient) }
func IsRejected(err error) bool     { return errors.Is(err, ErrRemoteRejected) }
func IsSubscription(err error) bool { return errors.Is(err, ErrSubscription) }

// IsRemote reports whether err came from the remote store, whatever the kind.
func IsRemote(err error) bool {
	return IsTransient(err) || IsRejected(err) || IsSubscription(err)
}

// Kind names the classification of err for logs and metric labels.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case IsStorage(err):
		return "storage"
	case IsRejected(err):
		return "rejected"
	case IsTransient(err):
		return "transient"
	case IsSubscription(err):
		return "subscription"
	default:
		return "unknown"
	}
}
