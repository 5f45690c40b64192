// Package hashing provides the fixed set of checksum algorithms used to
// identify file content. An algorithm name doubles as the name of the remote
// bucket its blobs are stored under, so names are canonical upper case
// strings such as "MD5" or "SHA256".
//
// Digests are returned as lowercase hex strings. All functions are pure:
// the same bytes and algorithm always give the same digest.
package hashing

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"
)

// ErrUnsupportedAlgorithm is returned by Lookup for names not in the
// supported set.
var ErrUnsupportedAlgorithm = errors.New("unsupported hash algorithm")

// An Algorithm is one of the supported checksum schemes.
type Algorithm struct {
	// Name is the canonical identifier, e.g. "SHA256".
	Name string

	newfn func() hash.Hash
}

var algorithms = []Algorithm{
	{"MD5", md5.New},
	{"SHA1", sha1.New},
	{"SHA224", sha256.New224},
	{"SHA256", sha256.New},
	{"SHA384", sha512.New384},
	{"SHA512", sha512.New},
	{"BLAKE2B256", newBlake2b256},
	{"BLAKE3", func() hash.Hash { return blake3.New() }},
}

func newBlake2b256() hash.Hash {
	// only fails for keys longer than 64 bytes
	h, _ := blake2b.New256(nil)
	return h
}

// Lookup returns the algorithm with the given name. The match is case
// insensitive. An unknown name returns ErrUnsupportedAlgorithm.
func Lookup(name string) (Algorithm, error) {
	for _, a := range algorithms {
		if strings.EqualFold(a.Name, name) {
			return a, nil
		}
	}
	return Algorithm{}, errors.Wrapf(ErrUnsupportedAlgorithm, "%q", name)
}

// Names lists the identifiers of all supported algorithms.
func Names() []string {
	var result []string
	for _, a := range algorithms {
		result = append(result, a.Name)
	}
	return result
}

// New returns a fresh hash.Hash for this algorithm.
func (a Algorithm) New() hash.Hash {
	return a.newfn()
}

// String returns the algorithm name.
func (a Algorithm) String() string {
	return a.Name
}

// Sum reads r to the end and returns the hex digest of its contents.
func (a Algorithm) Sum(r io.Reader) (string, error) {
	w := NewPlainWriter(a)
	if _, err := io.Copy(w, r); err != nil {
		return "", err
	}
	return w.Hex(), nil
}

// SumFile returns the hex digest of the file at path.
func (a Algorithm) SumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return a.Sum(f)
}

// A Writer wraps an io.Writer and also calculates a checksum of the bytes
// written through it.
type Writer struct {
	io.Writer // our io.MultiWriter
	h         hash.Hash
	n         int64
}

// NewWriter returns a Writer wrapping w and computing a checksum with a.
func NewWriter(w io.Writer, a Algorithm) *Writer {
	hw := &Writer{h: a.New()}
	hw.Writer = io.MultiWriter(w, hw.h, counter{&hw.n})
	return hw
}

// NewPlainWriter returns a Writer that does not wrap an output stream. It
// will just compute the checksum of the data written to it.
func NewPlainWriter(a Algorithm) *Writer {
	hw := &Writer{h: a.New()}
	hw.Writer = io.MultiWriter(hw.h, counter{&hw.n})
	return hw
}

// Hex returns the lowercase hex digest of everything written so far.
func (hw *Writer) Hex() string {
	return hex.EncodeToString(hw.h.Sum(nil))
}

// Size returns the number of bytes written so far.
func (hw *Writer) Size() int64 {
	return hw.n
}

type counter struct{ n *int64 }

func (c counter) Write(p []byte) (int, error) {
	*c.n += int64(len(p))
	return len(p), nil
}
