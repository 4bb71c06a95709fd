package engine

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/vectable/blobstore"
	"github.com/hupe1980/vectable/internal/manifest"
)

// List returns the sorted names of all tables in store. A table is a top
// level directory with a committed CURRENT; half-created and half-dropped
// tables are not listed.
func List(ctx context.Context, store blobstore.BlobStore) ([]string, error) {
	dirs, err := blobstore.ListDirs(ctx, store, "")
	if err != nil {
		return nil, ioErr("list tables", err)
	}

	committed := make([]bool, len(dirs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cleanupConcurrency)
	for i, name := range dirs {
		g.Go(func() error {
			ok, err := Exists(gctx, store, name)
			committed[i] = ok
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []string
	for i, name := range dirs {
		if committed[i] {
			out = append(out, name)
		}
	}
	return out, nil
}

// Drop deletes every blob of a table and returns how many were removed.
// CURRENT goes first, so a failed drop leaves an invisible table whose
// remaining blobs a retry removes.
func Drop(ctx context.Context, store blobstore.BlobStore, name string) (int, error) {
	exists, err := Exists(ctx, store, name)
	if err != nil {
		return 0, err
	}
	names, err := store.List(ctx, name+"/")
	if err != nil {
		return 0, ioErr("list blobs", err)
	}
	if !exists && len(names) == 0 {
		return 0, fmt.Errorf("%w: table %q", ErrNotFound, name)
	}

	current := name + "/" + versionsDir + "/" + manifest.CurrentFileName
	deleted := 0
	if exists {
		if err := store.Delete(ctx, current); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
			return 0, ioErr("delete CURRENT", err)
		}
		deleted++
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cleanupConcurrency)
	for _, n := range names {
		if n == current {
			continue
		}
		deleted++
		g.Go(func() error {
			if err := store.Delete(gctx, n); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
				return ioErr("delete "+n, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return deleted, nil
}
