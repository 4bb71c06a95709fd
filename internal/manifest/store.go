package manifest

import (
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/hupe1980/vectable/blobstore"
)

const (
	ManifestFileName = "MANIFEST"
	CurrentFileName  = "CURRENT"
	manifestExt      = ".bin"
)

// FileName returns the blob name of version id, relative to the versions directory.
func FileName(id uint64) string {
	return fmt.Sprintf("%s-%06d%s", ManifestFileName, id, manifestExt)
}

// ParseFileName extracts the version id from a manifest blob name.
func ParseFileName(name string) (uint64, bool) {
	base := path.Base(name)
	if !strings.HasPrefix(base, ManifestFileName+"-") || !strings.HasSuffix(base, manifestExt) {
		return 0, false
	}
	id, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(base, ManifestFileName+"-"), manifestExt), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

// Store manages the manifests of one table and atomic CURRENT updates.
type Store struct {
	store blobstore.BlobStore
	dir   string
	mu    sync.Mutex
}

// NewStore creates a manifest store rooted at dir (normally "<table>/_versions").
func NewStore(store blobstore.BlobStore, dir string) *Store {
	return &Store{store: store, dir: strings.Trim(dir, "/")}
}

func (s *Store) name(base string) string {
	if s.dir == "" {
		return base
	}
	return s.dir + "/" + base
}

// Load loads the version CURRENT points to.
func (s *Store) Load(ctx context.Context) (*Manifest, error) {
	id, err := s.Current(ctx)
	if err != nil {
		return nil, err
	}
	return s.LoadVersion(ctx, id)
}

// Current returns the version id CURRENT points to.
func (s *Store) Current(ctx context.Context) (uint64, error) {
	content, err := blobstore.ReadAll(ctx, s.store, s.name(CurrentFileName))
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	id, ok := ParseFileName(strings.TrimSpace(string(content)))
	if !ok {
		return 0, fmt.Errorf("%w: CURRENT holds %q", ErrCorrupt, content)
	}
	return id, nil
}

// LoadVersion loads a specific version.
func (s *Store) LoadVersion(ctx context.Context, id uint64) (*Manifest, error) {
	data, err := blobstore.ReadAll(ctx, s.store, s.name(FileName(id)))
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: version %d", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to read manifest %d: %w", id, err)
	}
	m, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("manifest %d: %w", id, err)
	}
	if m.ID != id {
		return nil, fmt.Errorf("%w: %s holds version %d", ErrCorrupt, FileName(id), m.ID)
	}
	return m, nil
}

// ListVersions returns the ids of all committed manifests in ascending
// order. Manifests above CURRENT are leftovers of failed commits and are
// not listed; see Leftovers.
func (s *Store) ListVersions(ctx context.Context) ([]uint64, error) {
	ids, current, err := s.list(ctx)
	if err != nil {
		return nil, err
	}
	n, _ := slices.BinarySearch(ids, current+1)
	return ids[:n], nil
}

// Leftovers returns the ids of manifests above CURRENT in ascending order.
// They were written by commits whose CURRENT swap failed and are never
// visible to readers.
func (s *Store) Leftovers(ctx context.Context) ([]uint64, error) {
	ids, current, err := s.list(ctx)
	if err != nil {
		return nil, err
	}
	n, _ := slices.BinarySearch(ids, current+1)
	return ids[n:], nil
}

// list returns all manifest ids and the current id, 0 without CURRENT.
// Names that do not parse are skipped.
func (s *Store) list(ctx context.Context) ([]uint64, uint64, error) {
	current, err := s.Current(ctx)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, 0, err
	}
	names, err := s.store.List(ctx, s.name(ManifestFileName))
	if err != nil {
		return nil, 0, err
	}
	ids := make([]uint64, 0, len(names))
	for _, n := range names {
		if id, ok := ParseFileName(n); ok {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return slices.Compact(ids), current, nil
}

// Committed reports whether version id is at or below CURRENT.
func (s *Store) Committed(ctx context.Context, id uint64) (bool, error) {
	current, err := s.Current(ctx)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return id <= current, nil
}

// Save writes m as a new version and points CURRENT at it. It fails with
// ErrConflict if version m.ID is already committed. A manifest above
// CURRENT is the leftover of a failed swap and is overwritten.
func (s *Store) Save(ctx context.Context, m *Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == 0 {
		return fmt.Errorf("manifest: version id must be positive")
	}
	data, err := m.MarshalBinary()
	if err != nil {
		return err
	}

	filename := FileName(m.ID)
	exists, err := blobstore.Exists(ctx, s.store, s.name(filename))
	if err != nil {
		return err
	}
	if exists {
		committed, err := s.Committed(ctx, m.ID)
		if err != nil {
			return err
		}
		if committed {
			return fmt.Errorf("%w: %d", ErrConflict, m.ID)
		}
	}

	if err := s.store.Put(ctx, s.name(filename), data); err != nil {
		return err
	}
	return s.store.Put(ctx, s.name(CurrentFileName), []byte(filename))
}

// DeleteVersion deletes the manifest blob of version id. CURRENT is not
// touched; callers never delete the current version.
func (s *Store) DeleteVersion(ctx context.Context, id uint64) error {
	return s.store.Delete(ctx, s.name(FileName(id)))
}
