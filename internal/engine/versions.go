package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/vectable/internal/manifest"
)

// VersionInfo describes one stored version.
type VersionInfo struct {
	ID        uint64
	CreatedAt time.Time
	Operation string
	NumRows   uint64
}

// ListVersions returns all committed versions in ascending order.
func (t *Table) ListVersions(ctx context.Context) ([]VersionInfo, error) {
	ids, err := t.versions.ListVersions(ctx)
	if err != nil {
		return nil, ioErr("list versions", err)
	}
	out := make([]VersionInfo, 0, len(ids))
	for _, id := range ids {
		m, err := t.versions.LoadVersion(ctx, id)
		if err != nil {
			// Removed by a concurrent cleanup.
			if errors.Is(err, manifest.ErrNotFound) {
				continue
			}
			return nil, ioErr(fmt.Sprintf("load version %d", id), err)
		}
		out = append(out, VersionInfo{
			ID:        m.ID,
			CreatedAt: m.CreatedAt,
			Operation: m.Operation.String(),
			NumRows:   m.NumRows(),
		})
	}
	return out, nil
}

// Checkout returns a read-only table bound to version id. It shares
// fragments and pins with t, so Cleanup keeps the version while the
// checkout is open.
func (t *Table) Checkout(ctx context.Context, id uint64) (*Table, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}
	committed, err := t.versions.Committed(ctx, id)
	if err != nil {
		return nil, ioErr("read CURRENT", err)
	}
	if !committed {
		return nil, fmt.Errorf("%w: version %d of table %q", ErrNotFound, id, t.name)
	}
	m, err := t.versions.LoadVersion(ctx, id)
	if err != nil {
		if errors.Is(err, manifest.ErrNotFound) {
			return nil, fmt.Errorf("%w: version %d of table %q", ErrNotFound, id, t.name)
		}
		return nil, ioErr("load manifest", err)
	}

	c := &Table{
		name:     t.name,
		store:    t.store,
		data:     t.data,
		versions: t.versions,
		opts:     t.opts,
		logger:   t.logger.With("version", id),
		readOnly: true,
		pool:     t.pool,
		pins:     t.pins,
		pending:  make(map[string]struct{}),
	}
	c.bgCtx, c.bgCancel = context.WithCancel(context.Background())
	if err := c.init(ctx, m); err != nil {
		c.bgCancel()
		return nil, err
	}
	return c, nil
}

// ReadOnly reports whether t is a checkout.
func (t *Table) ReadOnly() bool { return t.readOnly }
