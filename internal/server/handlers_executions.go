package server

import (
	"net/http"

	"github.com/plumelit/plume/internal/model"
)

// HandleExecuteWriter handles POST /v1/agents/execute/writer. The call
// blocks until the generation settles; the response carries the settled
// execution with the produced text's ID in result_id.
func (h *Handlers) HandleExecuteWriter(w http.ResponseWriter, r *http.Request) {
	p := principal(r)

	var req model.ExecuteWriterRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	exec, _, err := h.executionSvc.ExecuteWriter(r.Context(), p, req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, model.ExecutionResponseFrom(exec))
}

// HandleExecuteJudge handles POST /v1/agents/execute/judge: one voting
// session and one settled execution per requested model.
func (h *Handlers) HandleExecuteJudge(w http.ResponseWriter, r *http.Request) {
	p := principal(r)

	var req model.ExecuteJudgeRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	execs, err := h.executionSvc.ExecuteJudge(r.Context(), p, req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	responses := make([]model.ExecutionResponse, 0, len(execs))
	for _, e := range execs {
		responses = append(responses, model.ExecutionResponseFrom(e))
	}
	writeJSON(w, r, http.StatusOK, responses)
}

// HandleEstimate handles POST /v1/agents/estimate: a dry run of the
// pre-execution cost check, with no ledger effect.
func (h *Handlers) HandleEstimate(w http.ResponseWriter, r *http.Request) {
	var req model.EstimateRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if req.Model == "" {
		writeError(w, r, http.StatusBadRequest, model.KindInvalidInput, "model is required")
		return
	}

	estimate, err := h.executionSvc.EstimateCost(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, estimate)
}

// HandleGetExecution handles GET /v1/executions/{id}.
func (h *Handlers) HandleGetExecution(w http.ResponseWriter, r *http.Request) {
	p := principal(r)

	id, err := pathID(r, "id")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	exec, err := h.executionSvc.GetExecution(r.Context(), p, id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, model.ExecutionResponseFrom(exec))
}

// HandleListExecutions handles GET /v1/executions: the caller's
// execution history, newest first. Admins may pass ?all=true.
func (h *Handlers) HandleListExecutions(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	limit := queryLimit(r, 50)
	offset := queryOffset(r)
	all := r.URL.Query().Get("all") == "true"

	execs, err := h.executionSvc.ListExecutions(r.Context(), p, all, limit+1, offset)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	hasMore := len(execs) > limit
	if hasMore {
		execs = execs[:limit]
	}
	responses := make([]model.ExecutionResponse, 0, len(execs))
	for _, e := range execs {
		responses = append(responses, model.ExecutionResponseFrom(e))
	}
	writeList(w, r, responses, nil, hasMore, limit, offset)
}
