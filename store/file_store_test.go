package store

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func TestItemSubdir(t *testing.T) {
	var table = []struct{ input, output string }{
		{"xyz", "./"},
		{"wxyz", "wx/yz/"},
		{"vwxyz", "vw/xy/"},
		{"b930agg8z", "b9/30/"},
	}
	for _, s := range table {
		result := itemSubdir(s.input)
		if result != s.output {
			t.Errorf("Got %s, expected %s", result, s.output)
		}
	}
}

func TestIsKeyValid(t *testing.T) {
	var table = []struct {
		key string
		err error
	}{
		{"d41d8cd98f00b204e9800998ecf8427e", nil},
		{"MD5.csv", nil},
		{"abc", ErrKeyTooShort},
		{"ab/cd", ErrKeyContainsSlash},
		{"ab cd", ErrKeyContainsWhiteSpace},
		{"abc\x01d", ErrKeyContainsControlChar},
		{"abc\xffd", ErrKeyContainsNonUnicode},
	}
	for _, tab := range table {
		err := isKeyValid(tab.key)
		if err != tab.err {
			t.Errorf("%q: Got %v, expected %v", tab.key, err, tab.err)
		}
	}
}

func TestFileSystemRoundTrip(t *testing.T) {
	dir := tempDir(t)
	defer os.RemoveAll(dir)
	s := NewFileSystem(dir)

	add(t, s, "abcdef0123", "hello world")
	add(t, s, "abce5678", "second")

	if _, err := os.Stat(filepath.Join(dir, "ab", "cd", "abcdef0123")); err != nil {
		t.Errorf("item not stored in subdirectory: %s", err)
	}
	size, err := s.Stat("abcdef0123")
	if err != nil || size != 11 {
		t.Errorf("Got (%d, %v), expected (11, nil)", size, err)
	}
	if !Contains(s, "abce5678") {
		t.Errorf("expected store to contain abce5678")
	}
	if _, err := s.Stat("ffff0000"); err != ErrNotExist {
		t.Errorf("Got %v, expected ErrNotExist", err)
	}
	if _, _, err := s.Open("ffff0000"); err != ErrNotExist {
		t.Errorf("Got %v, expected ErrNotExist", err)
	}

	var buf bytes.Buffer
	n, err := Copy(&buf, s, "abcdef0123")
	if err != nil || n != 11 || buf.String() != "hello world" {
		t.Errorf("Got (%d, %v, %q)", n, err, buf.String())
	}

	// keys are immutable
	if _, err := s.Create("abcdef0123"); err != ErrKeyExists {
		t.Errorf("Got %v, expected ErrKeyExists", err)
	}

	// files in the root directory are not part of the store
	ioutil.WriteFile(filepath.Join(dir, "MD5.csv"), []byte("x"), 0644)
	keys := collect(s.List())
	if !equal(keys, []string{"abcdef0123", "abce5678"}) {
		t.Errorf("Got keys %v", keys)
	}

	if err := s.Delete("abcdef0123"); err != nil {
		t.Errorf("Delete: %s", err)
	}
	if err := s.Delete("abcdef0123"); err != nil {
		t.Errorf("Delete of missing key: %s", err)
	}
	if Contains(s, "abcdef0123") {
		t.Errorf("item still present after delete")
	}
}

func TestFileSystemScratch(t *testing.T) {
	dir := tempDir(t)
	defer os.RemoveAll(dir)
	s := NewFileSystem(dir)

	// an unfinished write stays in the scratch directory
	w, err := s.Create("12345678")
	if err != nil {
		t.Fatal(err)
	}
	w.Write([]byte("partial"))

	scratch, err := s.Scratch()
	if err != nil {
		t.Fatal(err)
	}
	if !equal(scratch, []string{"12345678"}) {
		t.Errorf("Got scratch %v", scratch)
	}
	if Contains(s, "12345678") {
		t.Errorf("unfinished item should not be visible")
	}
	if keys := collect(s.List()); len(keys) != 0 {
		t.Errorf("Got keys %v, expected none", keys)
	}

	// a second writer for the same key is refused
	if _, err := s.Create("12345678"); err == nil {
		t.Errorf("expected error creating a key being written")
	}

	if err := Abort(w); err != nil {
		t.Errorf("Abort: %s", err)
	}
	scratch, _ = s.Scratch()
	if len(scratch) != 0 {
		t.Errorf("Got scratch %v after abort", scratch)
	}
	if Contains(s, "12345678") {
		t.Errorf("aborted item should not be visible")
	}

	// leftover scratch files can be removed directly
	w, _ = s.Create("87654321")
	w.Write([]byte("x"))
	if err := s.DeleteScratch("87654321"); err != nil {
		t.Errorf("DeleteScratch: %s", err)
	}
	if err := s.DeleteScratch("87654321"); err != nil {
		t.Errorf("DeleteScratch of missing key: %s", err)
	}
	scratch, _ = s.Scratch()
	if len(scratch) != 0 {
		t.Errorf("Got scratch %v", scratch)
	}
}

func TestMemory(t *testing.T) {
	m := NewMemory()
	add(t, m, "zzed", "text 2")
	add(t, m, "abcd", "text 1")

	w, _ := m.Create("pending")
	w.Write([]byte("not yet"))
	if Contains(m, "pending") {
		t.Errorf("item visible before close")
	}
	Abort(w)
	if Contains(m, "pending") {
		t.Errorf("item visible after abort")
	}

	keys := collect(m.List())
	if !equal(keys, []string{"abcd", "zzed"}) {
		t.Errorf("Got keys %v", keys)
	}
	var buf bytes.Buffer
	Copy(&buf, m, "abcd")
	if buf.String() != "text 1" {
		t.Errorf("Got %q", buf.String())
	}
	if _, err := m.Create("abcd"); err != ErrKeyExists {
		t.Errorf("Got %v, expected ErrKeyExists", err)
	}
	m.Delete("abcd")
	if _, _, err := m.Open("abcd"); err != ErrNotExist {
		t.Errorf("Got %v, expected ErrNotExist", err)
	}
}

func tempDir(t *testing.T) string {
	dir, err := ioutil.TempDir("", "store")
	if err != nil {
		t.Fatal(err)
	}
	return dir
}

func collect(c <-chan string) []string {
	var result []string
	for key := range c {
		result = append(result, key)
	}
	sort.Strings(result)
	return result
}

func add(t *testing.T, s Store, id string, data string) {
	t.Logf("add(%s,%.10s)", id, data)
	w, err := s.Create(id)
	if err != nil {
		t.Fatalf("Couldn't make %s, %s", id, err.Error())
	}
	_, err = w.Write([]byte(data))
	if err != nil {
		t.Fatalf("Couldn't make %s, %s", id, err.Error())
	}
	err = w.Close()
	if err != nil {
		t.Fatalf("Couldn't make %s, %s", id, err.Error())
	}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
