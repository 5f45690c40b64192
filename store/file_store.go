package store

import (
	"errors"
	"io"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// FileSystem implements the simple file system based store.
// The keys are used as file names, and files are spread over two levels of
// subdirectories taken from the first four characters of the key, so a
// checksum "abcd1234..." is kept at "ab/cd/abcd1234...". Files in the root
// directory itself are not part of the store, which leaves room to keep an
// index or other bookkeeping files beside the blobs.
//
// Items are written into a scratch directory first and moved into place when
// closed. Anything left in the scratch directory is an interrupted write.
type FileSystem struct {
	root string
}

const (
	// the subdir to store files while they are being written to.
	scratchdir = "scratch"
)

var (
	// make sure it implements the Store interface
	_ Store = &FileSystem{}

	// ErrKeyExists indicates an attempt to create a key which already exists
	ErrKeyExists = errors.New("Key already exists")

	// ErrKeyContainsSlash means the key provided contains a forward slash '/'
	ErrKeyContainsSlash = errors.New("Key contains forward slash")

	// ErrKeyContainsNonUnicode means the key provided contains a Non Unicode Rune
	ErrKeyContainsNonUnicode = errors.New("Key contains Non-Unicode character")

	// ErrKeyContainsWhiteSpace  means the key provided contains WhiteSpace
	ErrKeyContainsWhiteSpace = errors.New("Key contains White Space")

	// ErrKeyContainsControlChar  means the key provided contains Control Characters
	ErrKeyContainsControlChar = errors.New("Key contains Control Characters")

	// ErrKeyTooShort means the key has fewer than the four characters
	// needed to place it in the directory tree
	ErrKeyTooShort = errors.New("Key is too short")
)

// NewFileSystem creates a new FileSystem store based at the given root path.
func NewFileSystem(root string) *FileSystem {
	return &FileSystem{root}
}

// Root returns the directory the store lives in.
func (s *FileSystem) Root() string {
	return s.root
}

// List returns a channel listing all the keys in this store.
func (s *FileSystem) List() <-chan string {
	c := make(chan string)
	go walkTree(c, s.root, 0)
	return c
}

// Perform depth first walk of file tree at root, emitting all the keys on
// channel out. Only files two directories down are keys; the scratch
// directory is skipped.
//
// If level is 0, the channel is closed when the function exits.
func walkTree(out chan<- string, root string, level int) {
	if level == 0 {
		defer close(out)
	}
	entries, err := ioutil.ReadDir(root)
	if err != nil {
		if !os.IsNotExist(err) {
			// we have no other way of passing this error back
			log.Println(err)
		}
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			if level == 0 && e.Name() == scratchdir {
				continue
			}
			if level < 2 {
				walkTree(out, filepath.Join(root, e.Name()), level+1)
			}
			continue
		}
		if level == 2 {
			out <- e.Name()
		}
	}
}

// Path returns the file name the given key is stored under. The file may
// not exist.
func (s *FileSystem) Path(key string) string {
	return filepath.Join(s.root, itemSubdir(key), key)
}

// Stat returns the size of the item with the given key.
func (s *FileSystem) Stat(key string) (int64, error) {
	if err := isKeyValid(key); err != nil {
		return 0, err
	}
	fi, err := os.Stat(s.Path(key))
	if os.IsNotExist(err) {
		return 0, ErrNotExist
	} else if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// Open returns a reader for the given object along with its size.
func (s *FileSystem) Open(key string) (ReadAtCloser, int64, error) {
	if err := isKeyValid(key); err != nil {
		return nil, 0, err
	}
	f, err := os.Open(s.Path(key))
	if os.IsNotExist(err) {
		return nil, 0, ErrNotExist
	} else if err != nil {
		return nil, 0, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, fi.Size(), nil
}

// Create creates a new item with the given key, and a writer to allow for
// saving data into the new item. The writer implements Aborter.
func (s *FileSystem) Create(key string) (io.WriteCloser, error) {
	err := isKeyValid(key)
	if err != nil {
		return nil, err
	}
	// first set up the eventual home dir of this file
	target, err := s.setupSubDir(itemSubdir(key), key)
	if err != nil {
		return nil, err
	}
	_, err = os.Stat(target)
	if !os.IsNotExist(err) {
		return nil, ErrKeyExists
	}
	// now set up the scratch location we will temporarily save the file to
	temp, err := s.setupSubDir(scratchdir, key)
	if err != nil {
		return nil, err
	}
	// pass the O_EXCL flag explicitly to prevent two writers racing on
	// the same scratch file
	w, err := os.OpenFile(temp, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0666)
	if err != nil {
		return nil, err
	}
	return &moveCloser{w, temp, target}, nil
}

// setupSubDir makes sure the given subdirectory exists under the root, and
// then returns the absolute path to the keyed file, and an optional error.
func (s *FileSystem) setupSubDir(subdir, key string) (string, error) {
	dir := filepath.Join(s.root, subdir)
	err := os.MkdirAll(dir, 0775)
	return filepath.Join(dir, key), err
}

// track the file so when it is closed, we can move it into the correct place
type moveCloser struct {
	*os.File
	source string
	target string
}

func (w *moveCloser) Close() error {
	err := w.File.Close()
	if err != nil {
		return err
	}
	_, err = os.Stat(w.target)
	if !os.IsNotExist(err) {
		os.Remove(w.source)
		return ErrKeyExists
	}
	return os.Rename(w.source, w.target)
}

// Abort closes the file and removes it from the scratch directory.
func (w *moveCloser) Abort() error {
	w.File.Close()
	return os.Remove(w.source)
}

// Delete the given key from the store. It is not an error if the key doesn't
// exist.
func (s *FileSystem) Delete(key string) error {
	if strings.Contains(key, "/") {
		return ErrKeyContainsSlash
	}
	err := os.Remove(s.Path(key))
	// don't report a missing file as an error
	if err != nil && os.IsNotExist(err) {
		err = nil
	}
	return err
}

// Scratch returns the keys of the items left half written in the scratch
// directory, sorted.
func (s *FileSystem) Scratch() ([]string, error) {
	entries, err := ioutil.ReadDir(filepath.Join(s.root, scratchdir))
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	var result []string
	for _, e := range entries {
		if !e.IsDir() {
			result = append(result, e.Name())
		}
	}
	sort.Strings(result)
	return result, nil
}

// DeleteScratch removes an interrupted write. It is not an error if there
// is none for the key.
func (s *FileSystem) DeleteScratch(key string) error {
	if strings.Contains(key, "/") {
		return ErrKeyContainsSlash
	}
	err := os.Remove(filepath.Join(s.root, scratchdir, key))
	if err != nil && os.IsNotExist(err) {
		err = nil
	}
	return err
}

// Given an item key, return the subdirectory the item's file are stored in
// e.g. "abcdd123" returns "ab/cd/"
func itemSubdir(key string) string {
	if len(key) < 4 {
		return "./"
	}
	return key[0:2] + "/" + key[2:4] + "/"
}

// Some Simple Item Key Validations
func isKeyValid(key string) error {
	if len(key) < 4 {
		return ErrKeyTooShort
	}

	if !utf8.ValidString(key) {
		return ErrKeyContainsNonUnicode
	}

	if strings.Contains(key, "/") {
		return ErrKeyContainsSlash
	}

	for _, r := range key {
		if unicode.IsSpace(r) {
			return ErrKeyContainsWhiteSpace
		}
		if unicode.IsControl(r) {
			return ErrKeyContainsControlChar
		}
	}
	return nil
}
