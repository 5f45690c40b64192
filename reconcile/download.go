package reconcile

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/ndlib/hashsync/hashing"
	"github.com/ndlib/hashsync/index"
	"github.com/ndlib/hashsync/store"
)

// Download writes every file in the published index of the given algorithm
// into dest. Files sharing a name with different content are written as
// "name.checksum". Each file gets the modification time recorded in the
// index, or DefaultDate when there is none.
//
// A blob that cannot be fetched is logged and skipped. The index itself
// must be available.
func (e *Engine) Download(algorithm, dest string) (DownloadResult, error) {
	var result DownloadResult

	algo, err := hashing.Lookup(algorithm)
	if err != nil {
		return result, err
	}
	bucket := algo.Name
	csvName := bucket + ".csv"

	published, err := e.fetch(bucket, csvName)
	if err != nil {
		return result, opError(ErrIndexUnavailable, "fetch", csvName, err)
	}
	records, err := index.Decode(bytes.NewReader(published))
	if err != nil {
		return result, errors.Wrap(err, csvName)
	}
	index.Sort(records)
	names := index.ResolveLocalNames(records)
	clash := collisions(names, csvName, bucket+".md")
	result.Records = len(records)

	cache, err := e.openCache(bucket)
	if err != nil {
		return result, err
	}
	err = os.MkdirAll(dest, 0775)
	if err != nil {
		return result, err
	}

	for i := range records {
		rec := &records[i]
		rec.LocalName = names[i]
		if !safeName(rec.LocalName) {
			e.printf("%s: refusing to write %q outside %s", bucket, rec.LocalName, dest)
			result.Failed++
			continue
		}
		if clash[rec.LocalName] {
			e.printf("%s: local name %q is not unique, skipping %s", bucket, rec.LocalName, rec.Checksum)
			result.Failed++
			continue
		}
		if store.Contains(cache, rec.Checksum) {
			result.CacheHits++
		} else {
			err = e.fetchBlob(cache, algo, rec.Checksum)
			if err != nil {
				e.printf("%s: could not fetch %s (%s): %s", bucket, rec.Name, rec.Checksum, err)
				result.Failed++
				continue
			}
			result.Fetched++
		}
		date := DefaultDate
		if rec.Date != nil {
			date = *rec.Date
		}
		err = copyOut(cache, rec.Checksum, filepath.Join(dest, rec.LocalName), date)
		if err != nil {
			return result, errors.Wrap(err, rec.LocalName)
		}
		e.debugf("%s: wrote %s", bucket, rec.LocalName)
	}

	// the local copy of the index always has dates
	for i := range records {
		if records[i].Date == nil {
			d := DefaultDate
			records[i].Date = &d
		}
	}
	_, _, err = e.writeIndex(dest, bucket, records, true)
	if err != nil {
		return result, err
	}

	e.printf("%s: %d records, %d fetched, %d cached, %d failed",
		bucket, result.Records, result.Fetched, result.CacheHits, result.Failed)
	return result, nil
}

// fetchBlob downloads a blob into the cache. The content must match its
// checksum; otherwise nothing is stored.
func (e *Engine) fetchBlob(cache *store.FileSystem, algo hashing.Algorithm, checksum string) error {
	w, err := cache.Create(checksum)
	if err != nil {
		return err
	}
	hw := hashing.NewWriter(w, algo)
	err = e.Remote.Download(algo.Name, checksum, hw)
	if err == nil && hw.Hex() != checksum {
		err = errors.Errorf("content has checksum %s", hw.Hex())
	}
	if err != nil {
		store.Abort(w)
		return opError(ErrAssetTransfer, "download", checksum, err)
	}
	e.debugf("%s: fetched %s (%s)", algo.Name, checksum, humanize.Bytes(uint64(hw.Size())))
	return w.Close()
}

// collisions returns the local names which more than one record would be
// written under, or which would be overwritten by one of the index files.
func collisions(names []string, reserved ...string) map[string]bool {
	count := make(map[string]int)
	for _, name := range names {
		count[name]++
	}
	result := make(map[string]bool)
	for name, n := range count {
		if n > 1 {
			result[name] = true
		}
		for _, r := range reserved {
			if strings.EqualFold(name, r) {
				result[name] = true
			}
		}
	}
	return result
}

// safeName is true if name is a plain file name.
func safeName(name string) bool {
	if name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "/\\")
}

// copyOut writes the cached blob to target, replacing anything there, and
// sets its modification time.
func copyOut(cache store.ROStore, key, target string, date time.Time) error {
	f, err := os.Create(target)
	if err != nil {
		return err
	}
	_, err = store.Copy(f, cache, key)
	err2 := f.Close()
	if err == nil {
		err = err2
	}
	if err != nil {
		os.Remove(target)
		return err
	}
	return os.Chtimes(target, date, date)
}
