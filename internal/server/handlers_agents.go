package server

import (
	"errors"
	"net/http"

	"github.com/plumelit/plume/internal/authz"
	"github.com/plumelit/plume/internal/model"
	"github.com/plumelit/plume/internal/storage"
)

// HandleCreateAgent handles POST /v1/agents. is_public is silently
// demoted to false for non-admin callers.
func (h *Handlers) HandleCreateAgent(w http.ResponseWriter, r *http.Request) {
	p := principal(r)

	var req model.CreateAgentRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	agent, err := h.db.CreateAgent(r.Context(), model.Agent{
		OwnerID:     p.UserID,
		Type:        req.Type,
		Name:        req.Name,
		Description: req.Description,
		Prompt:      req.Prompt,
		IsPublic:    req.IsPublic && p.IsAdmin,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, agent)
}

// HandleListAgents handles GET /v1/agents: the caller's own agents plus
// public ones, optionally filtered by ?type=. Prompts are stripped from
// agents the caller does not own.
func (h *Handlers) HandleListAgents(w http.ResponseWriter, r *http.Request) {
	p := principal(r)

	var typeFilter *model.AgentType
	if v := r.URL.Query().Get("type"); v != "" {
		t := model.AgentType(v)
		if !t.Valid() {
			writeError(w, r, http.StatusBadRequest, model.KindInvalidInput, "type must be \"writer\" or \"judge\"")
			return
		}
		typeFilter = &t
	}

	agents, err := h.db.ListVisibleAgents(r.Context(), p.UserID, p.IsAdmin, typeFilter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	for i := range agents {
		if !authz.ViewAgentPrompt(p, agents[i]) {
			agents[i] = agents[i].Sanitized()
		}
	}

	writeJSON(w, r, http.StatusOK, agents)
}

// HandleGetAgent handles GET /v1/agents/{id}.
func (h *Handlers) HandleGetAgent(w http.ResponseWriter, r *http.Request) {
	p := principal(r)

	id, err := pathID(r, "id")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	agent, err := h.db.GetAgent(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		h.writeServiceError(w, r, model.E(model.KindNotFound, "agent %s not found", id))
		return
	}
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if err := authz.ReadAgent(p, agent); err != nil {
		// Private agents stay unenumerable.
		h.writeServiceError(w, r, model.E(model.KindNotFound, "agent %s not found", id))
		return
	}
	if !authz.ViewAgentPrompt(p, agent) {
		agent = agent.Sanitized()
	}

	writeJSON(w, r, http.StatusOK, agent)
}

// HandleUpdateAgent handles PATCH /v1/agents/{id}. Nil fields are left
// unchanged; toggling is_public requires admin.
func (h *Handlers) HandleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	p := principal(r)

	id, err := pathID(r, "id")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	agent, err := h.db.GetAgent(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		h.writeServiceError(w, r, model.E(model.KindNotFound, "agent %s not found", id))
		return
	}
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if err := authz.ManageAgent(p, agent); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	var req model.UpdateAgentRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	if req.Name != nil {
		if *req.Name == "" || len(*req.Name) > model.MaxAgentNameLen {
			h.writeServiceError(w, r, model.E(model.KindInvalidInput, "name must be 1-%d characters", model.MaxAgentNameLen))
			return
		}
		agent.Name = *req.Name
	}
	if req.Description != nil {
		if len(*req.Description) > model.MaxDescriptionLen {
			h.writeServiceError(w, r, model.E(model.KindInvalidInput, "description exceeds %d bytes", model.MaxDescriptionLen))
			return
		}
		agent.Description = *req.Description
	}
	if req.Prompt != nil {
		if len(*req.Prompt) > model.MaxPromptLen {
			h.writeServiceError(w, r, model.E(model.KindInvalidInput, "prompt exceeds %d bytes", model.MaxPromptLen))
			return
		}
		agent.Prompt = *req.Prompt
	}
	if req.Version != nil {
		agent.Version = *req.Version
	}
	if req.IsPublic != nil && *req.IsPublic != agent.IsPublic {
		if err := authz.PublishAgent(p); err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		agent.IsPublic = *req.IsPublic
	}

	updated, err := h.db.UpdateAgent(r.Context(), agent)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, updated)
}

// HandleDeleteAgent handles DELETE /v1/agents/{id}. Past executions
// survive with a null agent reference.
func (h *Handlers) HandleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	p := principal(r)

	id, err := pathID(r, "id")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	agent, err := h.db.GetAgent(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		h.writeServiceError(w, r, model.E(model.KindNotFound, "agent %s not found", id))
		return
	}
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if err := authz.ManageAgent(p, agent); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	if err := h.db.DeleteAgent(r.Context(), id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.logger.Info("agent deleted", "agent_id", id, "by", p.Username)
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "deleted"})
}
