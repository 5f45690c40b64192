package reconcile

import (
	"bytes"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	humanize "github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/ndlib/hashsync/hashing"
	"github.com/ndlib/hashsync/index"
	"github.com/ndlib/hashsync/remote"
	"github.com/ndlib/hashsync/store"
)

// Upload adds the files in the incoming directory to the index of the
// given algorithm and publishes everything the remote does not have yet.
//
// The published index is only replaced if its content changed, so running
// Upload a second time on the same input sends nothing. Any failure to talk
// to the remote stops the pass.
func (e *Engine) Upload(algorithm, incoming string) (UploadResult, error) {
	var result UploadResult

	algo, err := hashing.Lookup(algorithm)
	if err != nil {
		return result, err
	}
	sources, err := listSources(incoming)
	if err != nil {
		return result, err
	}
	bucket := algo.Name
	csvName := bucket + ".csv"
	mdName := bucket + ".md"

	cache, err := e.openCache(bucket)
	if err != nil {
		return result, err
	}

	// the current index. A missing one means we are starting a new bucket.
	published, err := e.fetch(bucket, csvName)
	if errors.Is(err, remote.ErrNotFound) {
		e.printf("%s: no published index, starting a new one", bucket)
		published = nil
	} else if err != nil {
		return result, opError(ErrIndexUnavailable, "fetch", csvName, err)
	}
	records, err := index.Decode(bytes.NewReader(published))
	if err != nil {
		return result, errors.Wrap(err, csvName)
	}

	// find out what is on the remote, and clear out unfinished uploads
	assets, err := e.Remote.ListAssets(bucket)
	if err != nil {
		return result, opError(ErrRemoteState, "list", bucket, err)
	}
	uploaded := make(map[string]bool)
	for _, a := range assets {
		if a.State == remote.Uploaded {
			uploaded[a.Name] = true
			continue
		}
		e.printf("%s: deleting partial asset %s", bucket, a.Name)
		err = e.Remote.Delete(bucket, a.Name)
		if err != nil {
			return result, opError(ErrRemoteState, "delete", a.Name, err)
		}
		result.PartialsRemoved++
	}

	// merge the incoming files
	for _, src := range sources {
		checksum, date, err := e.cacheSource(cache, algo, src)
		if err != nil {
			return result, errors.Wrap(err, src)
		}
		name := filepath.Base(src)
		i := index.Find(records, checksum, name)
		if i == -1 {
			e.debugf("%s: adding %s (%s)", bucket, name, checksum)
			records = append(records, index.Record{
				Checksum: checksum,
				Name:     name,
				Date:     &date,
			})
			result.Added++
		} else if records[i].Date == nil {
			e.debugf("%s: setting date of %s (%s)", bucket, name, checksum)
			records[i].Date = &date
		}
	}
	index.Sort(records)
	result.Records = len(records)

	// everything the remote lacks must be in the cache before anything is
	// published
	var pending []string
	seen := make(map[string]bool)
	for _, rec := range records {
		c := rec.Checksum
		if seen[c] {
			continue
		}
		seen[c] = true
		if uploaded[c] {
			result.Skipped++
			continue
		}
		if !store.Contains(cache, c) {
			return result, opError(ErrAssetTransfer, "verify", c, store.ErrNotExist)
		}
		pending = append(pending, c)
	}

	csv, md, err := e.writeIndex(cache.Root(), bucket, records, false)
	if err != nil {
		return result, err
	}
	unchanged := published != nil &&
		bytes.Equal(csv, published) &&
		uploaded[csvName] &&
		uploaded[mdName]
	if len(pending) == 0 && unchanged {
		e.printf("%s: %d records, nothing to upload", bucket, len(records))
		return result, nil
	}

	err = e.Remote.CreateBucket(bucket)
	if err != nil {
		return result, opError(ErrRemoteState, "create", bucket, err)
	}

	for _, c := range pending {
		size, _ := cache.Stat(c)
		e.debugf("%s: uploading %s (%s)", bucket, c, humanize.Bytes(uint64(size)))
		err = e.Remote.Upload(bucket, cache.Path(c))
		if err != nil {
			return result, opError(ErrAssetTransfer, "upload", c, err)
		}
		result.Uploaded++
	}

	if unchanged {
		e.printf("%s: uploaded %d blobs, index unchanged", bucket, result.Uploaded)
		return result, nil
	}

	// replace the index. This is not atomic; should we stop between the
	// delete and the upload, the next run will fail to find an index.
	for _, name := range []string{csvName, mdName} {
		err = e.Remote.Delete(bucket, name)
		if err != nil {
			return result, opError(ErrRemoteState, "delete", name, err)
		}
	}
	for _, name := range []string{csvName, mdName} {
		err = e.Remote.Upload(bucket, filepath.Join(cache.Root(), name))
		if err != nil {
			return result, opError(ErrAssetTransfer, "upload", name, err)
		}
	}

	text, fits := description(md, e.Remote.AssetURL(bucket, mdName), mdName)
	if !fits {
		e.printf("%s: index rendering is %d characters, publishing a pointer to %s instead",
			bucket, utf8.RuneCount(md), mdName)
	}
	err = e.Remote.SetDescription(bucket, text)
	if err != nil {
		return result, opError(ErrRemoteState, "describe", bucket, err)
	}
	result.Published = true

	e.printf("%s: %d records, %d added, %d blobs uploaded",
		bucket, result.Records, result.Added, result.Uploaded)
	return result, nil
}

// description returns the text to publish as the bucket description. That
// is the rendering itself if it has at most MaxDescription characters, and
// otherwise a notice pointing to the rendering asset at url.
func description(md []byte, url, name string) (string, bool) {
	if utf8.RuneCount(md) > MaxDescription {
		return pointerNotice(url, name), false
	}
	return string(md), true
}

func pointerNotice(url, name string) string {
	return fmt.Sprintf("The file index is too large to be shown here. See [%s](%s).\n", name, url)
}

// cacheSource computes the checksum of a file and copies it into the cache
// if the cache does not have that content. It returns the checksum and the
// modification time of the file.
func (e *Engine) cacheSource(cache *store.FileSystem, algo hashing.Algorithm, src string) (string, time.Time, error) {
	fi, err := os.Stat(src)
	if err != nil {
		return "", time.Time{}, err
	}
	date := fi.ModTime().UTC()
	checksum, err := algo.SumFile(src)
	if err != nil {
		return "", date, err
	}
	if store.Contains(cache, checksum) {
		return checksum, date, nil
	}
	f, err := os.Open(src)
	if err != nil {
		return "", date, err
	}
	defer f.Close()
	w, err := cache.Create(checksum)
	if err != nil {
		return "", date, err
	}
	hw := hashing.NewWriter(w, algo)
	_, err = io.Copy(hw, f)
	if err == nil && hw.Hex() != checksum {
		err = fmt.Errorf("file changed while being read")
	}
	if err != nil {
		store.Abort(w)
		return "", date, err
	}
	return checksum, date, w.Close()
}

// listSources returns the regular files directly inside dir, in name order.
// Files whose names begin with a period are ignored, as are directories.
func listSources(dir string) ([]string, error) {
	fi, err := os.Stat(dir)
	if err != nil {
		return nil, opError(ErrMissingSource, "read", dir, err)
	}
	if !fi.IsDir() {
		return nil, opError(ErrMissingSource, "read", dir, errors.New("not a directory"))
	}
	entries, err := ioutil.ReadDir(dir)
	if err != nil {
		return nil, opError(ErrMissingSource, "read", dir, err)
	}
	var result []string
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		p := filepath.Join(dir, entry.Name())
		// follow symbolic links
		fi, err := os.Stat(p)
		if err != nil || !fi.Mode().IsRegular() {
			continue
		}
		result = append(result, p)
	}
	sort.Strings(result)
	return result, nil
}
