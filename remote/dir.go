package remote

import (
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"

	"github.com/ndlib/hashsync/store"
)

// Dir is a Store kept in a local directory, which is useful for mirrors on
// shared file systems. Each bucket is a subdirectory holding a
// store.FileSystem, so assets are spread over the same ab/cd tree the local
// cache uses. Writes that never finished are left in the scratch directory
// and are reported as partial assets.
type Dir struct {
	root string
}

var _ Store = &Dir{}

const descriptionFile = "description.md"

// NewDir returns a Store rooted at the given directory.
func NewDir(root string) *Dir {
	return &Dir{root: root}
}

func (d *Dir) bucket(bucket string) *store.FileSystem {
	return store.NewFileSystem(filepath.Join(d.root, bucket))
}

func (d *Dir) exists(bucket string) bool {
	fi, err := os.Stat(filepath.Join(d.root, bucket))
	return err == nil && fi.IsDir()
}

// AssetURL returns a file URL for the asset.
func (d *Dir) AssetURL(bucket, name string) string {
	p, err := filepath.Abs(d.bucket(bucket).Path(name))
	if err != nil {
		p = d.bucket(bucket).Path(name)
	}
	return "file://" + filepath.ToSlash(p)
}

// ListAssets returns the finished items in the bucket followed by the
// unfinished ones.
func (d *Dir) ListAssets(bucket string) ([]Asset, error) {
	if !d.exists(bucket) {
		return nil, nil
	}
	fs := d.bucket(bucket)
	var keys []string
	for key := range fs.List() {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var result []Asset
	for _, key := range keys {
		size, err := fs.Stat(key)
		if err != nil {
			return nil, err
		}
		result = append(result, Asset{Name: key, State: Uploaded, Size: size})
	}
	scratch, err := fs.Scratch()
	if err != nil {
		return nil, err
	}
	for _, key := range scratch {
		result = append(result, Asset{Name: key, State: Partial})
	}
	return result, nil
}

// Download copies an asset into w.
func (d *Dir) Download(bucket, name string, w io.Writer) error {
	_, err := store.Copy(w, d.bucket(bucket), name)
	if err == store.ErrNotExist {
		err = ErrNotFound
	}
	return err
}

// Upload copies the file into the bucket. An asset with the same name must
// be deleted first.
func (d *Dir) Upload(bucket, localPath string) error {
	if !d.exists(bucket) {
		return ErrNoBucket
	}
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	name := filepath.Base(localPath)
	w, err := d.bucket(bucket).Create(name)
	if err != nil {
		return errors.Wrap(err, name)
	}
	_, err = io.Copy(w, f)
	if err != nil {
		store.Abort(w)
		return err
	}
	return w.Close()
}

// Delete removes an asset, finished or not.
func (d *Dir) Delete(bucket, name string) error {
	fs := d.bucket(bucket)
	err := fs.Delete(name)
	if err != nil {
		return err
	}
	return fs.DeleteScratch(name)
}

// CreateBucket makes the bucket directory.
func (d *Dir) CreateBucket(bucket string) error {
	return os.MkdirAll(filepath.Join(d.root, bucket), 0775)
}

// SetDescription writes the text to a file in the bucket directory.
func (d *Dir) SetDescription(bucket, text string) error {
	if !d.exists(bucket) {
		return ErrNoBucket
	}
	return ioutil.WriteFile(filepath.Join(d.root, bucket, descriptionFile), []byte(text), 0664)
}

// Description returns the text last given to SetDescription.
func (d *Dir) Description(bucket string) (string, error) {
	b, err := ioutil.ReadFile(filepath.Join(d.root, bucket, descriptionFile))
	if os.IsNotExist(err) {
		return "", ErrNotFound
	}
	return string(b), err
}
