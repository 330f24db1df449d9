// Package registry holds the immutable event-type registry. Every
// subject the pipeline accepts is declared here at construction, with
// its aggregate type, permission floor, executor lane, and optional
// payload schema. There is no mutation after Build: an unknown subject
// is a publish-time error, never a silently dropped event.
package registry

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/lorekeep/spindle/authz"
	"github.com/lorekeep/spindle/eventlog"
	"github.com/lorekeep/spindle/executor"
)

// Lane selects the worker pool a subject's executor runs on.
type Lane string

const (
	// LaneFast is for executors that finish in one cheap projection
	// write. High concurrency, no per-job timeout.
	LaneFast Lane = "fast"

	// LaneSlow is for executors with multi-step external side effects.
	// Low concurrency, per-job timeout.
	LaneSlow Lane = "slow"
)

// Valid reports whether l is a known lane.
func (l Lane) Valid() bool {
	return l == LaneFast || l == LaneSlow
}

// Definition declares one subject the pipeline accepts.
type Definition struct {
	// Subject is the first segment of the event type, e.g. "note".
	Subject string

	// AggregateType every event of this subject must carry.
	AggregateType eventlog.AggregateType

	// Actions whitelists the permitted middle segments. Empty allows any.
	Actions []string

	// RequiredRole is the minimum role the validator demands.
	RequiredRole authz.Role

	// Lane selects the executor worker pool.
	Lane Lane

	// Schema is an optional JSON Schema (draft 2020-12) for intent
	// payloads. When set, Publish rejects requested events whose data
	// does not conform.
	Schema json.RawMessage
}

// ActionAllowed reports whether the definition permits an action.
func (d Definition) ActionAllowed(action string) bool {
	if len(d.Actions) == 0 {
		return true
	}

	for _, a := range d.Actions {
		if a == action {
			return true
		}
	}

	return false
}

type entry struct {
	def    Definition
	exec   executor.Executor
	schema *jsonschema.Schema
}

// Builder collects definitions before the registry is sealed.
type Builder struct {
	regs []struct {
		def  Definition
		exec executor.Executor
	}
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Register adds a definition and the executor claiming its subject. A
// nil executor registers a subject with no execution step; its validated
// events are not routed to an executor lane. Validation happens in Build.
func (b *Builder) Register(def Definition, exec executor.Executor) *Builder {
	b.regs = append(b.regs, struct {
		def  Definition
		exec executor.Executor
	}{def, exec})

	return b
}

// Build validates every registration, compiles the payload schemas, and
// seals the registry. Duplicate subjects, unknown lanes or aggregate
// types, and uncompilable schemas all fail here, before anything runs.
func (b *Builder) Build() (*Registry, error) {
	entries := make(map[string]entry, len(b.regs))

	for _, reg := range b.regs {
		def := reg.def

		if def.Subject == "" {
			return nil, fmt.Errorf("registry: definition with empty subject")
		}

		if _, dup := entries[def.Subject]; dup {
			return nil, fmt.Errorf("registry: subject %q registered twice", def.Subject)
		}

		if !def.AggregateType.Valid() {
			return nil, fmt.Errorf("registry: subject %q: unknown aggregate type %q", def.Subject, def.AggregateType)
		}

		if reg.exec != nil && !def.Lane.Valid() {
			return nil, fmt.Errorf("registry: subject %q: unknown lane %q", def.Subject, def.Lane)
		}

		if reg.exec == nil && def.Lane != "" {
			return nil, fmt.Errorf("registry: subject %q: lane %q declared without an executor", def.Subject, def.Lane)
		}

		e := entry{def: def, exec: reg.exec}

		if len(def.Schema) > 0 {
			compiled, err := compileSchema(def.Subject, def.Schema)
			if err != nil {
				return nil, fmt.Errorf("registry: subject %q: %w", def.Subject, err)
			}
			e.schema = compiled
		}

		entries[def.Subject] = e
	}

	return &Registry{entries: entries}, nil
}

// compileSchema compiles one payload schema under a subject-keyed URL.
func compileSchema(subject string, raw json.RawMessage) (*jsonschema.Schema, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	url := "spindle://schema/" + subject

	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	return compiled, nil
}

// Registry is the sealed subject table. Safe for concurrent use; it is
// never mutated after Build.
type Registry struct {
	entries map[string]entry
}

// Definition returns the definition for a subject.
func (r *Registry) Definition(subject string) (Definition, bool) {
	e, ok := r.entries[subject]
	return e.def, ok
}

// ExecutorFor returns the executor claiming a subject, when one was
// registered.
func (r *Registry) ExecutorFor(subject string) (executor.Executor, bool) {
	e, ok := r.entries[subject]
	if !ok || e.exec == nil {
		return nil, false
	}

	return e.exec, true
}

// ValidatePayload checks intent data against the subject's schema. It is
// a no-op for subjects without one.
func (r *Registry) ValidatePayload(subject string, data json.RawMessage) error {
	e, ok := r.entries[subject]
	if !ok || e.schema == nil {
		return nil
	}

	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("registry: payload is not valid JSON: %w", err)
	}

	if err := e.schema.Validate(v); err != nil {
		return fmt.Errorf("registry: payload schema: %w", err)
	}

	return nil
}

// Subjects returns the registered subjects in sorted order.
func (r *Registry) Subjects() []string {
	out := make([]string, 0, len(r.entries))
	for s := range r.entries {
		out = append(out, s)
	}
	sort.Strings(out)

	return out
}

var _ executor.Resolver = (*Registry)(nil)
