package blobstore

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrInjected is the default error returned by FaultyStore rules.
var ErrInjected = errors.New("blobstore: injected fault")

// Op names a BlobStore operation for fault injection.
type Op uint8

const (
	OpOpen Op = iota
	OpCreate
	OpWrite
	OpPut
	OpDelete
	OpList
)

// Fault describes when an operation fails.
type Fault struct {
	Op Op
	// Pattern must be contained in the blob name (or list prefix). Empty matches all.
	Pattern string
	// After lets this many matching calls succeed before failing.
	After int
	// Times limits how often the fault fires. Zero means forever.
	Times int
	Err   error
}

// FaultyStore wraps a BlobStore and injects errors according to rules.
type FaultyStore struct {
	BlobStore

	mu     sync.Mutex
	rules  []*faultState
	counts map[Op]int
}

type faultState struct {
	Fault
	seen  int
	fired int
}

// NewFaultyStore wraps inner.
func NewFaultyStore(inner BlobStore) *FaultyStore {
	return &FaultyStore{BlobStore: inner, counts: make(map[Op]int)}
}

// AddFault registers a failure rule.
func (f *FaultyStore) AddFault(fault Fault) {
	if fault.Err == nil {
		fault.Err = ErrInjected
	}
	f.mu.Lock()
	f.rules = append(f.rules, &faultState{Fault: fault})
	f.mu.Unlock()
}

// Reset removes all rules.
func (f *FaultyStore) Reset() {
	f.mu.Lock()
	f.rules = nil
	f.mu.Unlock()
}

// Calls returns how many times op was attempted.
func (f *FaultyStore) Calls(op Op) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[op]
}

func (f *FaultyStore) check(op Op, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.counts[op]++
	for _, r := range f.rules {
		if r.Op != op || !strings.Contains(name, r.Pattern) {
			continue
		}
		r.seen++
		if r.seen <= r.After {
			continue
		}
		if r.Times > 0 && r.fired >= r.Times {
			continue
		}
		r.fired++
		return r.Err
	}
	return nil
}

func (f *FaultyStore) Open(ctx context.Context, name string) (Blob, error) {
	if err := f.check(OpOpen, name); err != nil {
		return nil, err
	}
	return f.BlobStore.Open(ctx, name)
}

func (f *FaultyStore) Create(ctx context.Context, name string) (WritableBlob, error) {
	if err := f.check(OpCreate, name); err != nil {
		return nil, err
	}
	w, err := f.BlobStore.Create(ctx, name)
	if err != nil {
		return nil, err
	}
	return &faultyWritableBlob{WritableBlob: w, store: f, name: name}, nil
}

func (f *FaultyStore) Put(ctx context.Context, name string, data []byte) error {
	if err := f.check(OpPut, name); err != nil {
		return err
	}
	return f.BlobStore.Put(ctx, name, data)
}

func (f *FaultyStore) Delete(ctx context.Context, name string) error {
	if err := f.check(OpDelete, name); err != nil {
		return err
	}
	return f.BlobStore.Delete(ctx, name)
}

func (f *FaultyStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := f.check(OpList, prefix); err != nil {
		return nil, err
	}
	return f.BlobStore.List(ctx, prefix)
}

func (f *FaultyStore) ListDirs(ctx context.Context, prefix string) ([]string, error) {
	if err := f.check(OpList, prefix); err != nil {
		return nil, err
	}
	return ListDirs(ctx, f.BlobStore, prefix)
}

type faultyWritableBlob struct {
	WritableBlob
	store *FaultyStore
	name  string
}

func (w *faultyWritableBlob) Write(p []byte) (int, error) {
	if err := w.store.check(OpWrite, w.name); err != nil {
		return 0, err
	}
	return w.WritableBlob.Write(p)
}
