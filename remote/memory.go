package remote

import (
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ndlib/hashsync/store"
)

// Memory is an in-process Store, intended for tests. All buckets share one
// store.Memory, each under its own key prefix.
type Memory struct {
	blobs *store.Memory

	m            sync.Mutex
	buckets      map[string]bool
	partials     map[string][]string // bucket -> names of partial assets
	descriptions map[string]string
}

var _ Store = &Memory{}

// NewMemory returns an empty memory remote.
func NewMemory() *Memory {
	return &Memory{
		blobs:        store.NewMemory(),
		buckets:      make(map[string]bool),
		partials:     make(map[string][]string),
		descriptions: make(map[string]string),
	}
}

func (mr *Memory) bucket(bucket string) store.Store {
	return store.NewWithPrefix(mr.blobs, bucket+"/")
}

// AssetURL returns a made-up address for the asset.
func (mr *Memory) AssetURL(bucket, name string) string {
	return "memory:/" + bucket + "/" + name
}

// ListAssets lists the uploaded assets in name order, then the partial
// ones.
func (mr *Memory) ListAssets(bucket string) ([]Asset, error) {
	s := mr.bucket(bucket)
	var result []Asset
	for key := range s.List() {
		size, _ := s.Stat(key)
		result = append(result, Asset{Name: key, State: Uploaded, Size: size})
	}
	mr.m.Lock()
	for _, name := range mr.partials[bucket] {
		result = append(result, Asset{Name: name, State: Partial})
	}
	mr.m.Unlock()
	return result, nil
}

// Download copies an uploaded asset into w. Partial assets cannot be
// downloaded.
func (mr *Memory) Download(bucket, name string, w io.Writer) error {
	_, err := store.Copy(w, mr.bucket(bucket), name)
	if err == store.ErrNotExist {
		err = ErrNotFound
	}
	return err
}

// Upload reads the file into memory.
func (mr *Memory) Upload(bucket, localPath string) error {
	data, err := ioutil.ReadFile(localPath)
	if err != nil {
		return err
	}
	return mr.Put(bucket, filepath.Base(localPath), data)
}

// Put stores data as an uploaded asset.
func (mr *Memory) Put(bucket, name string, data []byte) error {
	mr.m.Lock()
	ok := mr.buckets[bucket]
	mr.m.Unlock()
	if !ok {
		return ErrNoBucket
	}
	w, err := mr.bucket(bucket).Create(name)
	if err != nil {
		return err
	}
	w.Write(data)
	return w.Close()
}

// SetPartial adds a partial asset to the bucket, as if an upload of it had
// been interrupted. The bucket is created if needed.
func (mr *Memory) SetPartial(bucket, name string) {
	mr.m.Lock()
	mr.buckets[bucket] = true
	mr.partials[bucket] = append(mr.partials[bucket], name)
	sort.Strings(mr.partials[bucket])
	mr.m.Unlock()
}

// Delete removes an asset whatever its state.
func (mr *Memory) Delete(bucket, name string) error {
	mr.m.Lock()
	var keep []string
	for _, p := range mr.partials[bucket] {
		if p != name {
			keep = append(keep, p)
		}
	}
	mr.partials[bucket] = keep
	mr.m.Unlock()
	return mr.bucket(bucket).Delete(name)
}

// CreateBucket marks the bucket as existing.
func (mr *Memory) CreateBucket(bucket string) error {
	if strings.Contains(bucket, "/") {
		return os.ErrInvalid
	}
	mr.m.Lock()
	mr.buckets[bucket] = true
	mr.m.Unlock()
	return nil
}

// SetDescription remembers text for the bucket.
func (mr *Memory) SetDescription(bucket, text string) error {
	mr.m.Lock()
	defer mr.m.Unlock()
	if !mr.buckets[bucket] {
		return ErrNoBucket
	}
	mr.descriptions[bucket] = text
	return nil
}

// Description returns the text last given to SetDescription.
func (mr *Memory) Description(bucket string) (string, error) {
	mr.m.Lock()
	defer mr.m.Unlock()
	text, ok := mr.descriptions[bucket]
	if !ok {
		return "", ErrNotFound
	}
	return text, nil
}
