package tags

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lorekeep/spindle/authz"
	"github.com/lorekeep/spindle/dispatch"
	"github.com/lorekeep/spindle/eventlog"
	"github.com/lorekeep/spindle/registry"
)

// Registry subjects the tag executor claims. Tag records and their
// attachments are distinct aggregates, so they register separately and
// share one executor.
const (
	Subject     = "tag"
	LinkSubject = "taglink"
)

// Definitions returns the registry entries for both tag subjects.
func Definitions() []registry.Definition {
	return []registry.Definition{
		{
			Subject:       Subject,
			AggregateType: eventlog.AggregateEntity,
			Actions:       []string{"create", "rename", "delete"},
			RequiredRole:  authz.RoleEditor,
			Lane:          registry.LaneFast,
			Schema:        tagSchema,
		},
		{
			Subject:       LinkSubject,
			AggregateType: eventlog.AggregateRelation,
			Actions:       []string{"attach", "detach"},
			RequiredRole:  authz.RoleEditor,
			Lane:          registry.LaneFast,
			Schema:        linkSchema,
		},
	}
}

var tagSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"name": {"type": "string", "maxLength": 128},
		"color": {"type": "string", "maxLength": 32}
	}
}`)

var linkSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"noteId": {"type": "string"},
		"tagId": {"type": "string"}
	},
	"required": ["noteId", "tagId"]
}`)

// Executor executes tag and taglink intents.
type Executor struct {
	repo Repository
}

// New creates a tag executor.
func New(repo Repository) *Executor {
	return &Executor{repo: repo}
}

// Prepare carries the intent data through unchanged. Tag intents have no
// external side effects.
func (e *Executor) Prepare(_ context.Context, _ *eventlog.Event, _ eventlog.Type, _ *dispatch.Task) (json.RawMessage, error) {
	return nil, nil
}

// Apply folds a completion payload into the tag or link projection.
// Rows at or past the event's version are left untouched.
func (e *Executor) Apply(ctx context.Context, evt *eventlog.Event, typ eventlog.Type, payload json.RawMessage) error {
	switch typ.Subject {
	case Subject:
		return e.applyTag(ctx, evt, typ, payload)
	case LinkSubject:
		return e.applyLink(ctx, evt, typ, payload)
	default:
		return fmt.Errorf("tags: unknown subject %q", typ.Subject)
	}
}

func (e *Executor) applyTag(ctx context.Context, evt *eventlog.Event, typ eventlog.Type, payload json.RawMessage) error {
	tag, err := e.repo.GetTag(ctx, evt.AggregateID)
	if err != nil {
		return err
	}
	if tag != nil && tag.Version >= evt.Version {
		return nil
	}

	switch typ.Action {
	case "create", "rename":
		var in TagInput
		if err := json.Unmarshal(payload, &in); err != nil {
			return fmt.Errorf("tags: decode payload: %w", err)
		}

		if tag == nil {
			tag = &Tag{ID: evt.AggregateID, UserID: evt.UserID}
			tag.CreatedAt = evt.Timestamp
		}
		if in.Name != "" {
			tag.Name = in.Name
		}
		if in.Color != "" {
			tag.Color = in.Color
		}
	case "delete":
		if tag == nil {
			return nil
		}
		tag.Deleted = true
	default:
		return fmt.Errorf("tags: unknown action %q", typ.Action)
	}

	tag.UpdatedAt = evt.Timestamp
	tag.Version = evt.Version

	return e.repo.SaveTag(ctx, tag)
}

func (e *Executor) applyLink(ctx context.Context, evt *eventlog.Event, typ eventlog.Type, payload json.RawMessage) error {
	link, err := e.repo.GetLink(ctx, evt.AggregateID)
	if err != nil {
		return err
	}
	if link != nil && link.Version >= evt.Version {
		return nil
	}

	switch typ.Action {
	case "attach":
		var in LinkInput
		if err := json.Unmarshal(payload, &in); err != nil {
			return fmt.Errorf("tags: decode payload: %w", err)
		}

		if link == nil {
			link = &Link{ID: evt.AggregateID, UserID: evt.UserID}
			link.CreatedAt = evt.Timestamp
		}
		link.NoteID = in.NoteID
		link.TagID = in.TagID
		link.Removed = false
	case "detach":
		if link == nil {
			return nil
		}
		link.Removed = true
	default:
		return fmt.Errorf("tags: unknown action %q", typ.Action)
	}

	link.UpdatedAt = evt.Timestamp
	link.Version = evt.Version

	return e.repo.SaveLink(ctx, link)
}
