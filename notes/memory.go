package notes

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrContentNotFound indicates a content key with no stored body.
var ErrContentNotFound = errors.New("notes: content not found")

// MemoryRepository is an in-memory Repository for tests and single-node
// deployments.
type MemoryRepository struct {
	mu    sync.RWMutex
	notes map[string]*Note
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{notes: make(map[string]*Note)}
}

// SaveNote implements Repository.
func (r *MemoryRepository) SaveNote(_ context.Context, n *Note) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *n
	r.notes[n.ID] = &cp

	return nil
}

// GetNote implements Repository.
func (r *MemoryRepository) GetNote(_ context.Context, noteID string) (*Note, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.notes[noteID]
	if !ok {
		return nil, nil
	}

	cp := *n

	return &cp, nil
}

// ListNotes implements Repository.
func (r *MemoryRepository) ListNotes(_ context.Context, userID string, opts ListOpts) ([]*Note, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Note
	for _, n := range r.notes {
		if n.UserID != userID || n.Deleted {
			continue
		}
		if opts.Archived != nil && n.Archived != *opts.Archived {
			continue
		}

		cp := *n
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}

	return out, nil
}

// MemoryContent is an in-memory ContentStore.
type MemoryContent struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryContent creates an empty in-memory content store.
func NewMemoryContent() *MemoryContent {
	return &MemoryContent{blobs: make(map[string][]byte)}
}

// Put implements ContentStore.
func (c *MemoryContent) Put(_ context.Context, key string, content []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cp := make([]byte, len(content))
	copy(cp, content)
	c.blobs[key] = cp

	return nil
}

// Get implements ContentStore.
func (c *MemoryContent) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	b, ok := c.blobs[key]
	if !ok {
		return nil, ErrContentNotFound
	}

	cp := make([]byte, len(b))
	copy(cp, b)

	return cp, nil
}

var (
	_ Repository   = (*MemoryRepository)(nil)
	_ ContentStore = (*MemoryContent)(nil)
)
