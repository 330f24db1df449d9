package notes

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/lorekeep/spindle/authz"
	"github.com/lorekeep/spindle/dispatch"
	"github.com/lorekeep/spindle/eventlog"
	"github.com/lorekeep/spindle/registry"
)

// Subject is the registry subject notes claim.
const Subject = "note"

// StepUploadContent is the durable step marker around the body upload.
const StepUploadContent = "upload-content"

// previewRunes caps the inline preview length.
const previewRunes = 160

// Definition returns the registry entry for the note subject. Notes run
// on the slow lane: the content upload is external work that needs step
// markers and a per-job timeout.
func Definition() registry.Definition {
	return registry.Definition{
		Subject:       Subject,
		AggregateType: eventlog.AggregateEntity,
		Actions:       []string{"create", "update", "archive", "delete"},
		RequiredRole:  authz.RoleEditor,
		Lane:          registry.LaneSlow,
		Schema:        intentSchema,
	}
}

var intentSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"title": {"type": "string", "maxLength": 512},
		"content": {"type": "string"}
	}
}`)

// Executor executes note intents.
type Executor struct {
	repo    Repository
	content ContentStore
}

// New creates a note executor.
func New(repo Repository, content ContentStore) *Executor {
	return &Executor{repo: repo, content: content}
}

// Prepare uploads the note body for create and update intents and
// returns the completion payload pointing at it. The upload runs under a
// step marker, so a retried job does not re-upload. Actions without a
// body carry the intent data through unchanged.
func (e *Executor) Prepare(ctx context.Context, evt *eventlog.Event, typ eventlog.Type, task *dispatch.Task) (json.RawMessage, error) {
	switch typ.Action {
	case "create", "update":
	default:
		return nil, nil
	}

	var in Input
	if err := json.Unmarshal(evt.Data, &in); err != nil {
		return nil, dispatch.Permanent(fmt.Errorf("notes: decode input: %w", err))
	}

	comp := Completion{Title: in.Title}

	if in.Content != "" {
		key := contentKey(evt)
		sum := sha256.Sum256([]byte(in.Content))

		err := task.Step(ctx, StepUploadContent, func(ctx context.Context) error {
			return e.content.Put(ctx, key, []byte(in.Content))
		})
		if err != nil {
			return nil, err
		}

		comp.ContentKey = key
		comp.ContentHash = hex.EncodeToString(sum[:])
		comp.Preview = preview(in.Content)
	}

	return json.Marshal(comp)
}

// Apply folds a completion payload into the projection row. Every row
// value derives from the event and payload, and rows at or past the
// event's version are left untouched, so replaying history is safe.
func (e *Executor) Apply(ctx context.Context, evt *eventlog.Event, typ eventlog.Type, payload json.RawMessage) error {
	n, err := e.repo.GetNote(ctx, evt.AggregateID)
	if err != nil {
		return err
	}
	if n != nil && n.Version >= evt.Version {
		return nil
	}

	switch typ.Action {
	case "create", "update":
		var comp Completion
		if err := json.Unmarshal(payload, &comp); err != nil {
			return fmt.Errorf("notes: decode completion: %w", err)
		}

		if n == nil {
			n = &Note{ID: evt.AggregateID, UserID: evt.UserID}
			n.CreatedAt = evt.Timestamp
		}
		if comp.Title != "" {
			n.Title = comp.Title
		}
		if comp.ContentKey != "" {
			n.ContentKey = comp.ContentKey
			n.ContentHash = comp.ContentHash
			n.Preview = comp.Preview
		}
	case "archive":
		if n == nil {
			return nil
		}
		n.Archived = true
	case "delete":
		if n == nil {
			return nil
		}
		n.Deleted = true
	default:
		return fmt.Errorf("notes: unknown action %q", typ.Action)
	}

	n.UpdatedAt = evt.Timestamp
	n.Version = evt.Version

	return e.repo.SaveNote(ctx, n)
}

// contentKey derives the storage key for an event's body. Keying by
// event makes the upload idempotent per attempt and keeps every
// historical body addressable.
func contentKey(evt *eventlog.Event) string {
	return "notes/" + evt.UserID + "/" + evt.AggregateID + "/" + evt.ID.String()
}

// preview returns the leading runes of content for inline display.
func preview(content string) string {
	if utf8.RuneCountInString(content) <= previewRunes {
		return content
	}

	runes := []rune(content)

	return string(runes[:previewRunes])
}
