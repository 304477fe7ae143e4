package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrExists is returned by CreateExclusive when the name is already taken.
var ErrExists = errors.New("upload: blob already exists")

// Blob describes one stored upload.
type Blob struct {
	Name         string    `json:"name"`
	SizeBytes    int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
}

// Store is a directory of named blobs. Name uniqueness is enforced by the
// filesystem's create-if-absent primitive, not by a lock.
type Store struct {
	dir string
	log *logrus.Entry
}

// NewStore creates dir if needed and returns a store rooted there.
func NewStore(dir string, log *logrus.Entry) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("store directory is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Store{dir: abs, log: log.WithField("path", abs)}, nil
}

// Dir returns the absolute directory backing the store.
func (s *Store) Dir() string {
	return s.dir
}

// List returns metadata for every regular file in the store, in no particular order.
func (s *Store) List(ctx context.Context) ([]Blob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	blobs := make([]Blob, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, err
		}
		blobs = append(blobs, Blob{
			Name:         entry.Name(),
			SizeBytes:    info.Size(),
			LastModified: info.ModTime(),
		})
	}
	return blobs, nil
}

// Names returns the sorted names of all stored blobs.
func (s *Store) Names(ctx context.Context) ([]string, error) {
	blobs, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(blobs))
	for _, b := range blobs {
		names = append(names, b.Name)
	}
	sort.Strings(names)
	return names, nil
}

// Exists reports whether a blob with the given name is stored.
func (s *Store) Exists(name string) (bool, error) {
	_, err := os.Stat(s.path(name))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// EvictOptions narrows the choice of blob to evict.
type EvictOptions struct {
	// Skip reports blobs that must stay, such as uploads still being written.
	Skip func(name string) bool
	// Rank orders blobs whose modification times are equal; lower is older.
	// Equal ranks fall back to lexical name order.
	Rank func(name string) uint64
}

// EvictOldestIfOverCapacity makes room for one more blob: while the store
// holds maxCount or more blobs it deletes the oldest one that opts does not
// skip. A maxCount of zero disables the quota. The evicted names are returned.
func (s *Store) EvictOldestIfOverCapacity(ctx context.Context, maxCount int, opts EvictOptions) ([]string, error) {
	if maxCount <= 0 {
		return nil, nil
	}
	return s.evictDownTo(ctx, maxCount-1, opts)
}

// TrimToCapacity deletes the oldest blobs opts does not skip until at most
// maxCount remain.
func (s *Store) TrimToCapacity(ctx context.Context, maxCount int, opts EvictOptions) ([]string, error) {
	if maxCount <= 0 {
		return nil, nil
	}
	return s.evictDownTo(ctx, maxCount, opts)
}

func (s *Store) evictDownTo(ctx context.Context, limit int, opts EvictOptions) ([]string, error) {
	blobs, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	total := len(blobs)
	if total <= limit {
		return nil, nil
	}

	candidates := blobs[:0]
	for _, b := range blobs {
		if opts.Skip != nil && opts.Skip(b.Name) {
			continue
		}
		candidates = append(candidates, b)
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.LastModified.Equal(b.LastModified) {
			return a.LastModified.Before(b.LastModified)
		}
		if opts.Rank != nil {
			if ra, rb := opts.Rank(a.Name), opts.Rank(b.Name); ra != rb {
				return ra < rb
			}
		}
		return a.Name < b.Name
	})

	var evicted []string
	for _, b := range candidates {
		if total <= limit {
			break
		}
		if err := s.Delete(b.Name); err != nil {
			return evicted, err
		}
		total--
		evicted = append(evicted, b.Name)
		s.log.WithFields(logrus.Fields{
			"filename": b.Name,
			"count":    total,
		}).Info("Deleted oldest file")
	}
	return evicted, nil
}

// CreateExclusive opens a new blob for writing. It fails with ErrExists
// instead of overwriting.
func (s *Store) CreateExclusive(name string) (io.WriteCloser, error) {
	f, err := os.OpenFile(s.path(name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrExists, name)
		}
		return nil, err
	}
	return f, nil
}

// Delete removes a blob. A missing blob is not an error.
func (s *Store) Delete(name string) error {
	if err := os.Remove(s.path(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.WithError(err).WithField("filename", name).Error("Failed to delete file")
		return err
	}
	return nil
}

// Stat returns metadata for one blob.
func (s *Store) Stat(name string) (Blob, error) {
	info, err := os.Stat(s.path(name))
	if err != nil {
		return Blob{}, err
	}
	return Blob{Name: name, SizeBytes: info.Size(), LastModified: info.ModTime()}, nil
}

// path joins a sanitized key onto the store directory. Keys come from
// Sanitize and never contain separators.
func (s *Store) path(name string) string {
	return filepath.Join(s.dir, filepath.Base(name))
}
