package remote

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/ndlib/hashsync/store"
)

// exercise is run against every transport that does not need a server.
func exercise(t *testing.T, r Store) {
	dir := tempDir(t)
	defer os.RemoveAll(dir)
	fname := writeFile(t, dir, "0123456789abcdef", "some content")

	assets, err := r.ListAssets("MD5")
	if err != nil || len(assets) != 0 {
		t.Errorf("Got (%v, %v), expected no assets", assets, err)
	}
	if err := r.Upload("MD5", fname); err != ErrNoBucket {
		t.Errorf("Got %v, expected ErrNoBucket", err)
	}
	if err := r.SetDescription("MD5", "text"); err != ErrNoBucket {
		t.Errorf("Got %v, expected ErrNoBucket", err)
	}
	if err := r.CreateBucket("MD5"); err != nil {
		t.Fatal(err)
	}
	if err := r.CreateBucket("MD5"); err != nil {
		t.Fatal(err)
	}
	if err := r.Upload("MD5", fname); err != nil {
		t.Fatal(err)
	}
	assets, err = r.ListAssets("MD5")
	expected := []Asset{{Name: "0123456789abcdef", State: Uploaded, Size: 12}}
	if err != nil || !equalAssets(assets, expected) {
		t.Errorf("Got (%v, %v), expected %v", assets, err, expected)
	}
	var buf bytes.Buffer
	if err := r.Download("MD5", "0123456789abcdef", &buf); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "some content" {
		t.Errorf("Got %q", buf.String())
	}
	if err := r.Download("MD5", "fedcba9876543210", &buf); err != ErrNotFound {
		t.Errorf("Got %v, expected ErrNotFound", err)
	}
	if err := r.Download("SHA1", "0123456789abcdef", &buf); err != ErrNotFound {
		t.Errorf("Got %v, expected ErrNotFound", err)
	}
	if err := r.SetDescription("MD5", "text"); err != nil {
		t.Error(err)
	}
	if err := r.Delete("MD5", "0123456789abcdef"); err != nil {
		t.Error(err)
	}
	if err := r.Delete("MD5", "0123456789abcdef"); err != nil {
		t.Errorf("Delete of missing asset: %v", err)
	}
	assets, _ = r.ListAssets("MD5")
	if len(assets) != 0 {
		t.Errorf("Got %v, expected no assets", assets)
	}
}

func TestDir(t *testing.T) {
	dir := tempDir(t)
	defer os.RemoveAll(dir)
	exercise(t, NewDir(dir))
}

func TestDirPartial(t *testing.T) {
	dir := tempDir(t)
	defer os.RemoveAll(dir)
	d := NewDir(dir)
	d.CreateBucket("SHA256")

	// an interrupted write
	fs := store.NewFileSystem(filepath.Join(dir, "SHA256"))
	w, err := fs.Create("aaaabbbbcccc")
	if err != nil {
		t.Fatal(err)
	}
	w.Write([]byte("half"))

	assets, err := d.ListAssets("SHA256")
	expected := []Asset{{Name: "aaaabbbbcccc", State: Partial}}
	if err != nil || !equalAssets(assets, expected) {
		t.Errorf("Got (%v, %v), expected %v", assets, err, expected)
	}
	if err := d.Delete("SHA256", "aaaabbbbcccc"); err != nil {
		t.Fatal(err)
	}
	assets, _ = d.ListAssets("SHA256")
	if len(assets) != 0 {
		t.Errorf("Got %v, expected no assets", assets)
	}
}

func TestDirDescription(t *testing.T) {
	dir := tempDir(t)
	defer os.RemoveAll(dir)
	d := NewDir(dir)
	d.CreateBucket("MD5")
	d.SetDescription("MD5", "# MD5\n")

	text, err := d.Description("MD5")
	if err != nil || text != "# MD5\n" {
		t.Errorf("Got (%q, %v)", text, err)
	}
	// the description is not an asset
	assets, _ := d.ListAssets("MD5")
	if len(assets) != 0 {
		t.Errorf("Got %v, expected no assets", assets)
	}
	b, _ := ioutil.ReadFile(filepath.Join(dir, "MD5", descriptionFile))
	if string(b) != "# MD5\n" {
		t.Errorf("Got %q", b)
	}
}

func TestMemory(t *testing.T) {
	exercise(t, NewMemory())
}

func TestMemoryPartial(t *testing.T) {
	m := NewMemory()
	m.CreateBucket("MD5")
	m.Put("MD5", "MD5.csv", []byte("x"))
	m.SetPartial("MD5", "ffff0000")

	assets, _ := m.ListAssets("MD5")
	expected := []Asset{
		{Name: "MD5.csv", State: Uploaded, Size: 1},
		{Name: "ffff0000", State: Partial},
	}
	if !equalAssets(assets, expected) {
		t.Errorf("Got %v, expected %v", assets, expected)
	}
	var buf bytes.Buffer
	if err := m.Download("MD5", "ffff0000", &buf); err != ErrNotFound {
		t.Errorf("Got %v, expected ErrNotFound", err)
	}
	m.Delete("MD5", "ffff0000")
	assets, _ = m.ListAssets("MD5")
	if len(assets) != 1 {
		t.Errorf("Got %v", assets)
	}
}
