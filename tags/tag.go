// Package tags implements the fast-lane executor for tags and their
// attachments. Tag intents are pure projection writes with no external
// side effects, so they run at high concurrency with pass-through
// completion payloads.
package tags

import (
	"context"

	"github.com/lorekeep/spindle/internal/entity"
)

// Tag is the projection row for one tag aggregate.
type Tag struct {
	entity.Entity

	// ID is the aggregate ID.
	ID string `json:"id"`

	// UserID is the owning tenant.
	UserID string `json:"user_id"`

	// Name is the display name.
	Name string `json:"name"`

	// Color is an optional display color.
	Color string `json:"color,omitempty"`

	// Deleted marks the tag removed.
	Deleted bool `json:"deleted"`

	// Version is the aggregate version of the last folded event.
	Version int64 `json:"version"`
}

// Link is the projection row for one tag attachment, a relation
// aggregate between a note and a tag.
type Link struct {
	entity.Entity

	// ID is the aggregate ID of the relation.
	ID string `json:"id"`

	// UserID is the owning tenant.
	UserID string `json:"user_id"`

	// NoteID is the note side of the relation.
	NoteID string `json:"note_id"`

	// TagID is the tag side of the relation.
	TagID string `json:"tag_id"`

	// Removed marks the attachment detached.
	Removed bool `json:"removed"`

	// Version is the aggregate version of the last folded event.
	Version int64 `json:"version"`
}

// Repository is the projection storage for tags and links.
type Repository interface {
	// SaveTag upserts a tag row.
	SaveTag(ctx context.Context, tag *Tag) error

	// GetTag returns a tag by aggregate ID, nil when absent.
	GetTag(ctx context.Context, tagID string) (*Tag, error)

	// ListTags returns a user's tags sorted by name. Deleted tags are
	// excluded.
	ListTags(ctx context.Context, userID string) ([]*Tag, error)

	// SaveLink upserts a link row.
	SaveLink(ctx context.Context, link *Link) error

	// GetLink returns a link by aggregate ID, nil when absent.
	GetLink(ctx context.Context, linkID string) (*Link, error)

	// ListLinksByNote returns the attached links of a note. Removed
	// links are excluded.
	ListLinksByNote(ctx context.Context, userID, noteID string) ([]*Link, error)
}

// TagInput is the intent payload for tag.create and tag.rename.
type TagInput struct {
	Name  string `json:"name,omitempty"`
	Color string `json:"color,omitempty"`
}

// LinkInput is the intent payload for taglink.attach and
// taglink.detach.
type LinkInput struct {
	NoteID string `json:"noteId"`
	TagID  string `json:"tagId"`
}
