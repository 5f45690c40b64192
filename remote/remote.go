// Package remote implements the stores that published blobs and indexes are
// kept in. A remote is a set of buckets, one per hash algorithm, each holding
// named assets. Assets are either fully uploaded or partial, the latter
// being left over from an interrupted upload.
//
// The GitHub store keeps each bucket as a release of a repository. The S3
// store keeps buckets as key prefixes in an S3 bucket. The Dir store keeps
// them in a local directory tree, and Memory keeps them in memory for
// testing.
package remote

import (
	"errors"
	"io"
)

// State is the upload state of an asset.
type State int

const (
	Uploaded State = iota
	Partial
)

func (s State) String() string {
	if s == Partial {
		return "partial"
	}
	return "uploaded"
}

// An Asset is one named item inside a bucket.
type Asset struct {
	Name  string
	State State
	Size  int64
}

// Store is the interface the synchronization engine uses to reach a remote.
// Implementations are not required to be safe for concurrent use.
type Store interface {
	// ListAssets returns every asset in the bucket, including partial
	// ones. A bucket that does not exist has no assets.
	ListAssets(bucket string) ([]Asset, error)

	// Download copies the named asset into w. It returns ErrNotFound if
	// either the bucket or the asset does not exist.
	Download(bucket, name string, w io.Writer) error

	// Upload stores the file at localPath as an asset named after the
	// file's base name. The bucket must exist.
	Upload(bucket, localPath string) error

	// Delete removes an asset. Deleting a missing asset is not an error.
	Delete(bucket, name string) error

	// CreateBucket makes sure a published bucket exists.
	CreateBucket(bucket string) error

	// SetDescription replaces the descriptive text shown for a bucket.
	SetDescription(bucket, text string) error

	// AssetURL returns an address people can use to fetch an asset.
	AssetURL(bucket, name string) string
}

// Exported errors
var (
	ErrNotFound      = errors.New("not found on remote")
	ErrNotAuthorized = errors.New("access denied")
	ErrNoBucket      = errors.New("bucket does not exist")
)
