package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/vectable/blobstore"
	"github.com/hupe1980/vectable/internal/manifest"
)

const cleanupConcurrency = 8

// RetentionPolicy selects the versions Cleanup keeps besides the current
// version and versions pinned by open snapshots.
type RetentionPolicy struct {
	// KeepVersions keeps the newest n versions.
	KeepVersions int
	// KeepDuration keeps versions created within the duration.
	KeepDuration time.Duration
}

// CleanupStats reports what Cleanup removed.
type CleanupStats struct {
	VersionsDeleted int
	BlobsDeleted    int
	BytesReclaimed  int64
}

// ActiveSnapshots returns the number of snapshots pinned by queries and
// cursors of this table and its checkouts.
func (t *Table) ActiveSnapshots() int64 {
	return t.pins.acquired.Load()
}

// Cleanup deletes versions outside the retention policy and every data or
// index blob no kept version references.
func (t *Table) Cleanup(ctx context.Context, policy RetentionPolicy) (CleanupStats, error) {
	if err := t.checkWritable(); err != nil {
		return CleanupStats{}, err
	}
	start := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	st, err := t.cleanup(ctx, policy)
	t.opts.metrics.OnCleanup(t.name, st, time.Since(start), err)
	if err != nil {
		return st, err
	}
	t.logger.Info("cleanup finished", "versions", st.VersionsDeleted, "blobs", st.BlobsDeleted, "bytes", st.BytesReclaimed)
	return st, nil
}

func (t *Table) cleanup(ctx context.Context, policy RetentionPolicy) (CleanupStats, error) {
	var st CleanupStats
	current := t.snap.Load().manifest.ID
	pinned := t.pins.pinned()

	ids, err := t.versions.ListVersions(ctx)
	if err != nil {
		return st, ioErr("list versions", err)
	}
	newest := ids
	if policy.KeepVersions < len(ids) {
		newest = ids[len(ids)-max(policy.KeepVersions, 0):]
	}
	cutoff := time.Now().Add(-policy.KeepDuration)

	referenced := make(map[string]bool)
	var drop []uint64
	for _, id := range ids {
		m, err := t.versions.LoadVersion(ctx, id)
		if err != nil {
			if errors.Is(err, manifest.ErrNotFound) {
				continue
			}
			return st, ioErr(fmt.Sprintf("load version %d", id), err)
		}
		keep := id >= current || pinned[id] || slices.Contains(newest, id) ||
			(policy.KeepDuration > 0 && m.CreatedAt.After(cutoff))
		if !keep {
			drop = append(drop, id)
			continue
		}
		for _, p := range m.Blobs() {
			referenced[p] = true
		}
	}

	// Manifests above CURRENT belong to commits that never completed.
	leftovers, err := t.versions.Leftovers(ctx)
	if err != nil {
		return st, ioErr("list versions", err)
	}
	drop = append(drop, leftovers...)

	// Manifests go first: a crash afterwards leaves orphans, never a
	// version that points at deleted blobs.
	for _, id := range drop {
		if err := t.versions.DeleteVersion(ctx, id); err != nil {
			return st, ioErr(fmt.Sprintf("delete version %d", id), err)
		}
		st.VersionsDeleted++
	}

	var orphans []string
	for _, dir := range []string{dataDir, indexDir} {
		names, err := t.store.List(ctx, t.blobName(dir+"/"))
		if err != nil {
			return st, ioErr("list blobs", err)
		}
		for _, name := range names {
			rel := strings.TrimPrefix(name, t.name+"/")
			if referenced[rel] || t.isPending(rel) {
				continue
			}
			orphans = append(orphans, name)
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cleanupConcurrency)
	for _, name := range orphans {
		g.Go(func() error {
			var size int64
			if b, err := t.store.Open(gctx, name); err == nil {
				size = b.Size()
				_ = b.Close()
			} else if errors.Is(err, blobstore.ErrNotFound) {
				return nil
			}
			if err := t.store.Delete(gctx, name); err != nil {
				return ioErr("delete "+name, err)
			}
			mu.Lock()
			st.BlobsDeleted++
			st.BytesReclaimed += size
			mu.Unlock()
			return nil
		})
	}
	err = g.Wait()
	return st, err
}
