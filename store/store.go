// Package store provides a simple key-value interface for blobs. Instead of
// values being an opaque array of bytes, they are a stream, so large files
// can be stored without holding them in memory.
//
// Keys are normally content checksums, which makes a store a content
// addressed cache: a key, once written, always holds the same bytes.
//
// The FileSystem store is used for the local blob cache and for directory
// based remotes. Memory is useful for testing.
package store

import (
	"errors"
	"io"
)

// ReadAtCloser combines the io.ReaderAt and io.Closer interfaces.
type ReadAtCloser interface {
	io.ReaderAt
	io.Closer
}

// Store defines the basic stream based key-value store.
// Items are immutable once stored, but they may be deleted and then replaced
// with a new value.
//
// Since the FileSystem store uses the key as file names, keys should not
// contain forbidden filesystem characters, such as '/'.
type Store interface {
	ROStore

	// Create returns a writer for a new item. The item only becomes
	// visible once the writer is closed. Pass the writer to Abort to
	// discard it instead.
	Create(key string) (io.WriteCloser, error)

	// Delete removes an item. It is not an error if the key doesn't exist.
	Delete(key string) error
}

// ROStore is the read-only pieces of a Store. It allows one to list contents,
// and to retrieve data.
type ROStore interface {
	List() <-chan string
	Open(key string) (ReadAtCloser, int64, error)

	// Stat returns the size of an item, or ErrNotExist.
	Stat(key string) (int64, error)
}

// An Aborter is a writer whose content can be thrown away instead of being
// saved.
type Aborter interface {
	Abort() error
}

// ErrNotExist is returned when a key is not in a store.
var ErrNotExist = errors.New("Key does not exist")

// Abort discards an item being written by w. If w cannot be aborted it is
// closed, and the caller should Delete the key.
func Abort(w io.WriteCloser) error {
	if a, ok := w.(Aborter); ok {
		return a.Abort()
	}
	return w.Close()
}

// Contains returns true if the key is in the store.
func Contains(s ROStore, key string) bool {
	_, err := s.Stat(key)
	return err == nil
}

// Copy streams the item with the given key into w.
func Copy(w io.Writer, s ROStore, key string) (int64, error) {
	r, _, err := s.Open(key)
	if err != nil {
		return 0, err
	}
	defer r.Close()
	return io.Copy(w, NewReader(r))
}

// NewReader converts a ReaderAt into a io.Reader. It is here as a utility to
// help work with the ReadAtCloser returned by Open.
func NewReader(r io.ReaderAt) io.Reader {
	return &reader{r: r}
}

type reader struct {
	r   io.ReaderAt
	off int64
}

func (r *reader) Read(p []byte) (n int, err error) {
	n, err = r.r.ReadAt(p, r.off)
	r.off += int64(n)
	if err == io.EOF && n > 0 {
		// reading less than a full buffer is not an error for
		// an io.Reader
		err = nil
	}
	return
}
