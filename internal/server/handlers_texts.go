package server

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/plumelit/plume/internal/authz"
	"github.com/plumelit/plume/internal/model"
	"github.com/plumelit/plume/internal/storage"
)

// HandleCreateText handles POST /v1/texts. The author attribution is
// the caller's username; AI-written texts are created through the
// writer execution path instead.
func (h *Handlers) HandleCreateText(w http.ResponseWriter, r *http.Request) {
	p := principal(r)

	var req model.CreateTextRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	text, err := h.db.CreateText(r.Context(), model.Text{
		OwnerID: p.UserID,
		Title:   req.Title,
		Content: req.Content,
		Author:  p.Username,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, text)
}

// HandleListTexts handles GET /v1/texts: the caller's own texts,
// newest first.
func (h *Handlers) HandleListTexts(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	limit := queryLimit(r, 50)
	offset := queryOffset(r)

	texts, err := h.db.ListTextsByOwner(r.Context(), p.UserID, limit+1, offset)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	hasMore := len(texts) > limit
	if hasMore {
		texts = texts[:limit]
	}
	writeList(w, r, texts, nil, hasMore, limit, offset)
}

// getOwnedText loads a text the caller may manage. Non-owners get
// not-found so private drafts stay unenumerable.
func (h *Handlers) getOwnedText(r *http.Request, p authz.Principal, id uuid.UUID) (model.Text, error) {
	text, err := h.db.GetText(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Text{}, model.E(model.KindNotFound, "text %s not found", id)
	}
	if err != nil {
		return model.Text{}, err
	}
	if !p.IsAdmin && text.OwnerID != p.UserID {
		return model.Text{}, model.E(model.KindNotFound, "text %s not found", id)
	}
	return text, nil
}

// HandleGetText handles GET /v1/texts/{id}.
func (h *Handlers) HandleGetText(w http.ResponseWriter, r *http.Request) {
	p := principal(r)

	id, err := pathID(r, "id")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	text, err := h.getOwnedText(r, p, id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, text)
}

// HandleUpdateText handles PATCH /v1/texts/{id}.
func (h *Handlers) HandleUpdateText(w http.ResponseWriter, r *http.Request) {
	p := principal(r)

	id, err := pathID(r, "id")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	text, err := h.getOwnedText(r, p, id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	var req model.UpdateTextRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	if req.Title != nil {
		if *req.Title == "" || len(*req.Title) > model.MaxTitleLen {
			h.writeServiceError(w, r, model.E(model.KindInvalidInput, "title must be 1-%d characters", model.MaxTitleLen))
			return
		}
		text.Title = *req.Title
	}
	if req.Content != nil {
		if len(*req.Content) < model.MinContentLen {
			h.writeServiceError(w, r, model.E(model.KindInvalidInput, "content must be at least %d characters", model.MinContentLen))
			return
		}
		if len(*req.Content) > model.MaxContentLen {
			h.writeServiceError(w, r, model.E(model.KindInvalidInput, "content exceeds %d bytes", model.MaxContentLen))
			return
		}
		text.Content = *req.Content
	}

	updated, err := h.db.UpdateText(r.Context(), text)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, updated)
}

// HandleDeleteText handles DELETE /v1/texts/{id}.
func (h *Handlers) HandleDeleteText(w http.ResponseWriter, r *http.Request) {
	p := principal(r)

	id, err := pathID(r, "id")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	if _, err := h.getOwnedText(r, p, id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	if err := h.db.DeleteText(r.Context(), id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]string{"status": "deleted"})
}
