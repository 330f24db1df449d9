package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/lorekeep/spindle"
	"github.com/lorekeep/spindle/eventlog"
	"github.com/lorekeep/spindle/id"
)

type publishRequest struct {
	Type           string            `json:"eventType"`
	AggregateID    string            `json:"aggregateId"`
	AggregateType  string            `json:"aggregateType,omitempty"`
	UserID         string            `json:"userId"`
	Data           json.RawMessage   `json:"data,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Source         string            `json:"source,omitempty"`
	CorrelationID  id.ID             `json:"correlationId,omitzero"`
	CausationID    id.ID             `json:"causationId,omitzero"`
	IdempotencyKey string            `json:"idempotencyKey,omitempty"`
}

func publishStatus(err error) int {
	switch {
	case errors.Is(err, spindle.ErrInvalidEventType),
		errors.Is(err, spindle.ErrUnknownEventType):
		return http.StatusBadRequest
	case errors.Is(err, spindle.ErrSchemaViolation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, spindle.ErrConcurrencyConflict),
		errors.Is(err, spindle.ErrDuplicateIdempotencyKey):
		return http.StatusConflict
	case errors.Is(err, spindle.ErrPermissionDenied):
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

func (h *Handler) publishEvent(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Type == "" {
		writeError(w, http.StatusBadRequest, "eventType is required")
		return
	}
	if req.AggregateID == "" {
		writeError(w, http.StatusBadRequest, "aggregateId is required")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	evt, err := h.pipeline.Publish(r.Context(), eventlog.PublishInput{
		Type:           req.Type,
		AggregateID:    req.AggregateID,
		AggregateType:  eventlog.AggregateType(req.AggregateType),
		UserID:         req.UserID,
		Data:           req.Data,
		Metadata:       req.Metadata,
		Source:         eventlog.Source(req.Source),
		CorrelationID:  req.CorrelationID,
		CausationID:    req.CausationID,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeError(w, publishStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, evt)
}

func (h *Handler) getEvent(w http.ResponseWriter, r *http.Request) {
	evtID, err := id.ParseEventID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event ID")
		return
	}

	evt, getErr := h.pipeline.GetEvent(r.Context(), evtID)
	if getErr != nil {
		if errors.Is(getErr, spindle.ErrEventNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		writeError(w, http.StatusInternalServerError, getErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, evt)
}

func (h *Handler) aggregateStream(w http.ResponseWriter, r *http.Request) {
	opts := eventlog.StreamOpts{
		FromVersion: int64(queryInt(r, "from", 0)),
		ToVersion:   int64(queryInt(r, "to", 0)),
		Types:       splitTypes(queryParam(r, "types")),
	}

	events, err := h.pipeline.AggregateStream(r.Context(), r.PathValue("id"), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) aggregateVersion(w http.ResponseWriter, r *http.Request) {
	version, err := h.pipeline.AggregateVersion(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"version": version})
}

func (h *Handler) userStream(w http.ResponseWriter, r *http.Request) {
	opts := eventlog.UserStreamOpts{
		Days:   queryInt(r, "days", 0),
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", 50),
		Types:  splitTypes(queryParam(r, "types")),
	}
	for _, at := range splitTypes(queryParam(r, "aggregate_types")) {
		opts.AggregateTypes = append(opts.AggregateTypes, eventlog.AggregateType(at))
	}

	events, err := h.pipeline.UserStream(r.Context(), r.PathValue("id"), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) correlatedEvents(w http.ResponseWriter, r *http.Request) {
	corrID, err := id.ParseCorrelationID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid correlation ID")
		return
	}

	events, listErr := h.pipeline.CorrelatedEvents(r.Context(), corrID)
	if listErr != nil {
		writeError(w, http.StatusInternalServerError, listErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) intentStatus(w http.ResponseWriter, r *http.Request) {
	evtID, err := id.ParseEventID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event ID")
		return
	}

	st, stErr := h.pipeline.Intent(r.Context(), evtID)
	if stErr != nil {
		if errors.Is(stErr, spindle.ErrEventNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		writeError(w, http.StatusInternalServerError, stErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, st)
}

// splitTypes parses a comma-separated query value.
func splitTypes(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
