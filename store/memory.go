package store

import (
	"fmt"
	"io"
	"sort"
	"sync"
)

// Memory implements a simple in-memory version of a store. It is intended
// mainly for testing.
type Memory struct {
	m     sync.RWMutex
	store map[string][]byte
}

var (
	// ensure Memory satisfies the Store interface
	_ Store = &Memory{}
)

// NewMemory returns a new, empty memory store.
func NewMemory() *Memory {
	return &Memory{store: make(map[string][]byte)}
}

// List returns a channel giving the key for every item in the store, in
// sorted order. The list is a snapshot taken when List is called.
func (ms *Memory) List() <-chan string {
	ms.m.RLock()
	keys := make([]string, 0, len(ms.store))
	for k := range ms.store {
		keys = append(keys, k)
	}
	ms.m.RUnlock()
	sort.Strings(keys)

	c := make(chan string)
	go func() {
		for _, k := range keys {
			c <- k
		}
		close(c)
	}()
	return c
}

// Stat returns the size of the given item.
func (ms *Memory) Stat(key string) (int64, error) {
	ms.m.RLock()
	v, ok := ms.store[key]
	ms.m.RUnlock()
	if !ok {
		return 0, ErrNotExist
	}
	return int64(len(v)), nil
}

// Open returns a ReadAtCloser and the size of the given blob.
func (ms *Memory) Open(key string) (ReadAtCloser, int64, error) {
	ms.m.RLock()
	v, ok := ms.store[key]
	ms.m.RUnlock()
	if !ok {
		return nil, 0, ErrNotExist
	}
	// stored slices are never modified, so readers can share them
	return readbuf(v), int64(len(v)), nil
}

type readbuf []byte

func (r readbuf) Close() error { return nil }

func (r readbuf) ReadAt(p []byte, off int64) (int, error) {
	if int(off) >= len(r) {
		return 0, io.EOF
	}
	n := copy(p, r[off:])
	return n, nil
}

// writebuf collects an item until it is closed. The item is not visible in
// the store before then.
type writebuf struct {
	parent *Memory
	key    string
	b      []byte
	done   bool
}

func (w *writebuf) Write(p []byte) (int, error) {
	if w.done {
		return 0, fmt.Errorf("write to closed item %s", w.key)
	}
	w.b = append(w.b, p...)
	return len(p), nil
}

func (w *writebuf) Close() error {
	if w.done {
		return nil
	}
	w.done = true
	w.parent.m.Lock()
	defer w.parent.m.Unlock()
	if _, ok := w.parent.store[w.key]; ok {
		return ErrKeyExists
	}
	if w.b == nil {
		w.b = []byte{}
	}
	w.parent.store[w.key] = w.b
	return nil
}

func (w *writebuf) Abort() error {
	w.done = true
	w.b = nil
	return nil
}

// Create makes a new entry in the store, and returns a writer to save data
// into it.
func (ms *Memory) Create(key string) (io.WriteCloser, error) {
	ms.m.RLock()
	_, ok := ms.store[key]
	ms.m.RUnlock()
	if ok {
		return nil, ErrKeyExists
	}
	return &writebuf{parent: ms, key: key}, nil
}

// Delete the given key from the store. It is not an error if the item does
// not exist in the store.
func (ms *Memory) Delete(key string) error {
	ms.m.Lock()
	delete(ms.store, key)
	ms.m.Unlock()
	return nil
}

// Dump writes a listing of the contents of the store to the given writer.
// This is intended for testing and debugging.
func (ms *Memory) Dump(w io.Writer) {
	for k := range ms.List() {
		ms.m.RLock()
		s := ms.store[k]
		ms.m.RUnlock()
		if len(s) > 300 {
			s = s[:50]
		}
		fmt.Fprintf(w, "%s: %s\n", k, string(s))
	}
}
