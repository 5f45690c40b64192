package reconcile

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kinds of failure. Use errors.Is to test for them; the errors returned by
// the engine carry more detail.
var (
	// ErrMissingSource means the incoming directory does not exist.
	ErrMissingSource = errors.New("missing source directory")

	// ErrIndexUnavailable means the published index could not be fetched.
	ErrIndexUnavailable = errors.New("index unavailable")

	// ErrAssetTransfer means a blob or index asset could not be moved
	// between the cache and the remote.
	ErrAssetTransfer = errors.New("asset transfer failure")

	// ErrRemoteState means creating a bucket, deleting an asset, or
	// updating a description failed, which may leave the remote
	// inconsistent.
	ErrRemoteState = errors.New("remote state failure")
)

// An OpError records a failed operation on one asset.
type OpError struct {
	Kind  error  // one of the Err values above
	Op    string // e.g. "upload", "delete"
	Asset string // asset or path involved
	Err   error  // the underlying cause
}

func (e *OpError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Asset, e.Kind)
	}
	return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Asset, e.Kind, e.Err)
}

// Is matches the kind of the error.
func (e *OpError) Is(target error) bool {
	return target == e.Kind
}

// Unwrap returns the underlying cause.
func (e *OpError) Unwrap() error {
	return e.Err
}

func opError(kind error, op, asset string, err error) error {
	return &OpError{Kind: kind, Op: op, Asset: asset, Err: err}
}
