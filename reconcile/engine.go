// Package reconcile keeps a local content cache and a remote store in step
// with a published index.
//
// An upload pass merges the files of an incoming directory into the index
// of one hash algorithm, caches their content under its checksum, sends
// whatever the remote is missing, and republishes the index. A download
// pass reads the index and writes every indexed file into a destination
// directory, giving files that share a name but differ in content distinct
// local names.
//
// Each pass touches a single algorithm. Passes are independent and are
// meant to be run one after another; running two passes on the same
// algorithm directory at the same time is not supported.
package reconcile

import (
	"bytes"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/ndlib/hashsync/index"
	"github.com/ndlib/hashsync/remote"
	"github.com/ndlib/hashsync/store"
)

// DefaultDate is given to files whose index record has no date.
var DefaultDate = time.Date(2020, 1, 1, 12, 0, 0, 0, time.UTC)

// MaxDescription is the largest rendering, in characters, published as a
// bucket description. Longer ones are replaced by a pointer to the
// rendering asset.
const MaxDescription = 125000

// Engine runs reconciliation passes. The fields should not be changed
// while a pass is running.
type Engine struct {
	Remote remote.Store

	// Root is the working directory. The cache and local index of each
	// algorithm are kept in the subdirectory named after it.
	Root string

	// Repo is the repository identity shown in renderings.
	Repo string

	Layout index.Layout

	// Logger receives progress messages. If nil the standard logger is
	// used.
	Logger *log.Logger

	// Verbose adds a line for every file handled.
	Verbose bool
}

// UploadResult summarizes an upload pass.
type UploadResult struct {
	Records         int  // records in the new index
	Added           int  // records added by this pass
	Uploaded        int  // blobs sent to the remote
	Skipped         int  // blobs which were already on the remote
	PartialsRemoved int  // unfinished assets deleted from the remote
	Published       bool // false if the index was unchanged
}

// DownloadResult summarizes a download pass.
type DownloadResult struct {
	Records   int
	Fetched   int // blobs downloaded into the cache
	CacheHits int // blobs already in the cache
	Failed    int // records skipped because their blob could not be fetched
}

func (e *Engine) printf(format string, v ...interface{}) {
	if e.Logger != nil {
		e.Logger.Printf(format, v...)
		return
	}
	log.Printf(format, v...)
}

func (e *Engine) debugf(format string, v ...interface{}) {
	if e.Verbose {
		e.printf(format, v...)
	}
}

// openCache returns the blob cache for an algorithm, creating the directory
// if needed. Writes left over from an interrupted run are removed.
func (e *Engine) openCache(bucket string) (*store.FileSystem, error) {
	dir := filepath.Join(e.Root, bucket)
	err := os.MkdirAll(dir, 0775)
	if err != nil {
		return nil, err
	}
	cache := store.NewFileSystem(dir)
	scratch, err := cache.Scratch()
	if err != nil {
		return nil, err
	}
	for _, key := range scratch {
		e.printf("%s: removing unfinished cache entry %s", bucket, key)
		err = cache.DeleteScratch(key)
		if err != nil {
			return nil, err
		}
	}
	return cache, nil
}

// fetch downloads an asset into memory. The result is never nil when the
// error is nil, even for an empty asset.
func (e *Engine) fetch(bucket, name string) ([]byte, error) {
	buf := bytes.NewBuffer([]byte{})
	err := e.Remote.Download(bucket, name, buf)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *Engine) renderOptions(bucket string, localNames bool) index.RenderOptions {
	return index.RenderOptions{
		Repo:       e.Repo,
		Algorithm:  bucket,
		Layout:     e.Layout,
		LocalNames: localNames,
		AssetURL:   e.Remote.AssetURL,
	}
}

// writeIndex saves the index and its rendering into dir as <bucket>.csv and
// <bucket>.md. It returns the contents of both files.
func (e *Engine) writeIndex(dir, bucket string, records []index.Record, localNames bool) (csv, md []byte, err error) {
	var cbuf, mbuf bytes.Buffer
	err = index.Encode(&cbuf, records)
	if err != nil {
		return nil, nil, err
	}
	err = index.Render(&mbuf, records, e.renderOptions(bucket, localNames))
	if err != nil {
		return nil, nil, err
	}
	err = ioutil.WriteFile(filepath.Join(dir, bucket+".csv"), cbuf.Bytes(), 0664)
	if err != nil {
		return nil, nil, err
	}
	err = ioutil.WriteFile(filepath.Join(dir, bucket+".md"), mbuf.Bytes(), 0664)
	if err != nil {
		return nil, nil, err
	}
	return cbuf.Bytes(), mbuf.Bytes(), nil
}
