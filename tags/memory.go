package tags

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepository is an in-memory Repository for tests and single-node
// deployments.
type MemoryRepository struct {
	mu    sync.RWMutex
	tags  map[string]*Tag
	links map[string]*Link
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		tags:  make(map[string]*Tag),
		links: make(map[string]*Link),
	}
}

// SaveTag implements Repository.
func (r *MemoryRepository) SaveTag(_ context.Context, tag *Tag) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *tag
	r.tags[tag.ID] = &cp

	return nil
}

// GetTag implements Repository.
func (r *MemoryRepository) GetTag(_ context.Context, tagID string) (*Tag, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tag, ok := r.tags[tagID]
	if !ok {
		return nil, nil
	}

	cp := *tag

	return &cp, nil
}

// ListTags implements Repository.
func (r *MemoryRepository) ListTags(_ context.Context, userID string) ([]*Tag, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Tag
	for _, tag := range r.tags {
		if tag.UserID != userID || tag.Deleted {
			continue
		}

		cp := *tag
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})

	return out, nil
}

// SaveLink implements Repository.
func (r *MemoryRepository) SaveLink(_ context.Context, link *Link) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *link
	r.links[link.ID] = &cp

	return nil
}

// GetLink implements Repository.
func (r *MemoryRepository) GetLink(_ context.Context, linkID string) (*Link, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	link, ok := r.links[linkID]
	if !ok {
		return nil, nil
	}

	cp := *link

	return &cp, nil
}

// ListLinksByNote implements Repository.
func (r *MemoryRepository) ListLinksByNote(_ context.Context, userID, noteID string) ([]*Link, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Link
	for _, link := range r.links {
		if link.UserID != userID || link.NoteID != noteID || link.Removed {
			continue
		}

		cp := *link
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].TagID < out[j].TagID
	})

	return out, nil
}

var _ Repository = (*MemoryRepository)(nil)
