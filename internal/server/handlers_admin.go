package server

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/plumelit/plume/internal/model"
	"github.com/plumelit/plume/internal/storage"
)

// HandleCreditBalance handles GET /v1/credits/balance. Callers read
// their own balance; admins may pass ?user_id= for anyone's.
func (h *Handlers) HandleCreditBalance(w http.ResponseWriter, r *http.Request) {
	p := principal(r)

	target := p.UserID
	if v := r.URL.Query().Get("user_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.KindInvalidInput, "invalid user_id")
			return
		}
		target = id
	}

	balance, err := h.creditsSvc.Balance(r.Context(), p, target)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, balance)
}

// HandleMyTransactions handles GET /v1/credits/transactions: the
// caller's own ledger history, newest first.
func (h *Handlers) HandleMyTransactions(w http.ResponseWriter, r *http.Request) {
	p := principal(r)

	filter, err := ledgerFilter(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	filter.UserID = nil // non-admins are pinned to themselves by the service

	rows, total, err := h.creditsSvc.Transactions(r.Context(), p, filter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeList(w, r, rows, &total, filter.Offset+len(rows) < total, filter.Limit, filter.Offset)
}

// HandleListUsers handles GET /v1/admin/users.
func (h *Handlers) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 50)
	offset := queryOffset(r)

	users, err := h.db.ListUsers(r.Context(), limit, offset)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	total, err := h.db.CountUsers(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeList(w, r, users, &total, offset+len(users) < total, limit, offset)
}

// HandleDeleteUser handles DELETE /v1/admin/users/{id}. Ledger rows
// survive with a null user reference.
func (h *Handlers) HandleDeleteUser(w http.ResponseWriter, r *http.Request) {
	p := principal(r)

	id, err := pathID(r, "id")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if id == p.UserID {
		writeError(w, r, http.StatusBadRequest, model.KindInvalidInput, "cannot delete your own account")
		return
	}

	if err := h.db.DeleteUser(r.Context(), id); errors.Is(err, storage.ErrNotFound) {
		h.writeServiceError(w, r, model.E(model.KindNotFound, "user %s not found", id))
		return
	} else if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.logger.Info("user deleted", "user_id", id, "by", p.Username)
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "deleted"})
}

// HandleAdjustCredits handles PATCH /v1/admin/users/{id}/credits. The
// signed amount lands as an adjustment ledger row; the response carries
// the row and the resulting balance.
func (h *Handlers) HandleAdjustCredits(w http.ResponseWriter, r *http.Request) {
	p := principal(r)

	id, err := pathID(r, "id")
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	var req model.AdjustCreditsRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	row, balance, err := h.creditsSvc.Adjust(r.Context(), p, id, req.Amount, req.Description)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, struct {
		Transaction model.CreditTransaction `json:"transaction"`
		Balance     int64                   `json:"balance"`
	}{Transaction: row, Balance: balance})
}

// HandleListTransactions handles GET /v1/admin/credits/transactions
// with user_id, kind, model, from and to filters.
func (h *Handlers) HandleListTransactions(w http.ResponseWriter, r *http.Request) {
	p := principal(r)

	filter, err := ledgerFilter(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if v := r.URL.Query().Get("user_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.KindInvalidInput, "invalid user_id")
			return
		}
		filter.UserID = &id
	}

	rows, total, err := h.creditsSvc.Transactions(r.Context(), p, filter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeList(w, r, rows, &total, filter.Offset+len(rows) < total, filter.Limit, filter.Offset)
}

// HandleUsageSummary handles GET /v1/admin/credits/usage: the LLM
// consumption roll-up by model and by user, bounded by ?from&to.
func (h *Handlers) HandleUsageSummary(w http.ResponseWriter, r *http.Request) {
	p := principal(r)

	from, err := queryTime(r, "from")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.KindInvalidInput, err.Error())
		return
	}
	to, err := queryTime(r, "to")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.KindInvalidInput, err.Error())
		return
	}

	summary, err := h.creditsSvc.Usage(r.Context(), p, from, to)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, summary)
}

// ledgerFilter parses the shared ledger query params (kind, model,
// from, to, limit, offset). user_id is parsed by the admin handler.
func ledgerFilter(r *http.Request) (model.LedgerFilter, error) {
	f := model.LedgerFilter{
		Limit:  queryLimit(r, 50),
		Offset: queryOffset(r),
	}
	if v := r.URL.Query().Get("kind"); v != "" {
		k := model.TransactionKind(v)
		if !k.Valid() {
			return f, model.E(model.KindInvalidInput, "invalid kind %q", v)
		}
		f.Kind = &k
	}
	if v := r.URL.Query().Get("model"); v != "" {
		f.Model = &v
	}
	from, err := queryTime(r, "from")
	if err != nil {
		return f, model.E(model.KindInvalidInput, "%s", err)
	}
	f.From = from
	to, err := queryTime(r, "to")
	if err != nil {
		return f, model.E(model.KindInvalidInput, "%s", err)
	}
	f.To = to
	return f, nil
}
