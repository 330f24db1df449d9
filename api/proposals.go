package api

import (
	"errors"
	"net/http"

	"github.com/lorekeep/spindle"
	"github.com/lorekeep/spindle/id"
	"github.com/lorekeep/spindle/proposal"
)

func (h *Handler) listProposals(w http.ResponseWriter, r *http.Request) {
	workspaceID := queryParam(r, "workspace")
	if workspaceID == "" {
		writeError(w, http.StatusBadRequest, "workspace is required")
		return
	}

	opts := proposal.ListOpts{
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", 50),
	}
	if s := queryParam(r, "status"); s != "" {
		status := proposal.Status(s)
		opts.Status = &status
	}

	proposals, err := h.pipeline.Proposals().List(r.Context(), workspaceID, opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, proposals)
}

func (h *Handler) getProposal(w http.ResponseWriter, r *http.Request) {
	prpID, err := id.ParseProposalID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid proposal ID")
		return
	}

	prp, getErr := h.pipeline.Proposals().Get(r.Context(), prpID)
	if getErr != nil {
		if errors.Is(getErr, spindle.ErrProposalNotFound) {
			writeError(w, http.StatusNotFound, "proposal not found")
			return
		}
		writeError(w, http.StatusInternalServerError, getErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, prp)
}

type reviewRequest struct {
	ReviewerID string `json:"reviewerId"`
	Comment    string `json:"comment,omitempty"`
}

func reviewStatus(err error) int {
	switch {
	case errors.Is(err, spindle.ErrProposalNotFound):
		return http.StatusNotFound
	case errors.Is(err, spindle.ErrProposalClosed):
		return http.StatusConflict
	case errors.Is(err, spindle.ErrPermissionDenied):
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

func (h *Handler) approveProposal(w http.ResponseWriter, r *http.Request) {
	prpID, err := id.ParseProposalID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid proposal ID")
		return
	}

	var req reviewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ReviewerID == "" {
		writeError(w, http.StatusBadRequest, "reviewerId is required")
		return
	}

	prp, appErr := h.pipeline.Approve(r.Context(), prpID, req.ReviewerID)
	if appErr != nil {
		writeError(w, reviewStatus(appErr), appErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, prp)
}

func (h *Handler) rejectProposal(w http.ResponseWriter, r *http.Request) {
	prpID, err := id.ParseProposalID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid proposal ID")
		return
	}

	var req reviewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ReviewerID == "" {
		writeError(w, http.StatusBadRequest, "reviewerId is required")
		return
	}
	if req.Comment == "" {
		writeError(w, http.StatusBadRequest, "comment is required")
		return
	}

	prp, rejErr := h.pipeline.Reject(r.Context(), prpID, req.ReviewerID, req.Comment)
	if rejErr != nil {
		writeError(w, reviewStatus(rejErr), rejErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, prp)
}
