// Package notes implements the slow-lane executor for note content.
// Note bodies are heavy, so they live in a content store instead of the
// log: the executor uploads the body as a durable step, and the
// completed event carries only the content key and hash. The projection
// row is rebuilt from completed events alone.
package notes

import (
	"context"

	"github.com/lorekeep/spindle/internal/entity"
)

// Note is the projection row for one note aggregate.
type Note struct {
	entity.Entity

	// ID is the aggregate ID.
	ID string `json:"id"`

	// UserID is the owning tenant.
	UserID string `json:"user_id"`

	// Title is the display title.
	Title string `json:"title"`

	// ContentKey locates the body in the content store.
	ContentKey string `json:"content_key,omitempty"`

	// ContentHash is the SHA-256 of the body, hex encoded.
	ContentHash string `json:"content_hash,omitempty"`

	// Preview is the leading slice of the body kept inline for lists.
	Preview string `json:"preview,omitempty"`

	// Archived hides the note from default listings.
	Archived bool `json:"archived"`

	// Deleted marks the note removed. Rows are never hard deleted; the
	// log keeps the full history.
	Deleted bool `json:"deleted"`

	// Version is the aggregate version of the last folded event.
	Version int64 `json:"version"`
}

// ListOpts configures filtering and pagination for note listing.
type ListOpts struct {
	Offset   int
	Limit    int
	Archived *bool
}

// Repository is the projection storage for notes.
type Repository interface {
	// SaveNote upserts a projection row.
	SaveNote(ctx context.Context, n *Note) error

	// GetNote returns a note by aggregate ID, nil when absent.
	GetNote(ctx context.Context, noteID string) (*Note, error)

	// ListNotes returns a user's notes, most recently updated first.
	// Deleted notes are excluded.
	ListNotes(ctx context.Context, userID string, opts ListOpts) ([]*Note, error)
}

// ContentStore holds note bodies outside the log.
type ContentStore interface {
	// Put stores content under a key, overwriting any previous value.
	Put(ctx context.Context, key string, content []byte) error

	// Get returns the content stored under a key.
	Get(ctx context.Context, key string) ([]byte, error)
}

// Input is the intent payload for note.create and note.update. Empty
// fields on update keep the note's current value.
type Input struct {
	Title   string `json:"title,omitempty"`
	Content string `json:"content,omitempty"`
}

// Completion is the payload of note completed events. It records where
// the body landed, never the body itself.
type Completion struct {
	Title       string `json:"title,omitempty"`
	ContentKey  string `json:"contentKey,omitempty"`
	ContentHash string `json:"contentHash,omitempty"`
	Preview     string `json:"preview,omitempty"`
}
