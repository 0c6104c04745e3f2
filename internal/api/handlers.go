package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"questline/internal/model"
	logx "questline/pkg/logx"
)

type handlers struct {
	d Deps
}

type validateRequest struct {
	Start     *time.Time `json:"start"`
	End       *time.Time `json:"end"`
	ExcludeID string     `json:"exclude_id"`
}

// validateQuest handles POST /teams/{team}/quests/validate.
func (h *handlers) validateQuest(w http.ResponseWriter, r *http.Request) {
	team := chi.URLParam(r, "team")
	var req validateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Start == nil {
		writeError(w, http.StatusBadRequest, "start is required")
		return
	}
	win := model.Window{Start: *req.Start, End: req.End}
	if err := h.d.Quests.ValidateOverlap(r.Context(), team, win, strings.TrimSpace(req.ExcludeID)); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// reconcileQuests handles POST /teams/{team}/quests/reconcile.
func (h *handlers) reconcileQuests(w http.ResponseWriter, r *http.Request) {
	team := chi.URLParam(r, "team")
	res, err := h.d.Quests.Reconcile(r.Context(), team)
	if err != nil {
		h.d.Log.Warn("reconcile failed", logx.String("team", team), logx.Int("failed", res.Failed), logx.Err(err))
		// Partial results are still useful to the caller.
		writeJSON(w, statusOf(err), map[string]any{"result": res, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// expand handles POST /recurrence/expand. An optional ?now=RFC3339 backfills
// as of that instant.
func (h *handlers) expand(w http.ResponseWriter, r *http.Request) {
	now := h.d.Now()
	if raw := r.URL.Query().Get("now"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid now: "+err.Error())
			return
		}
		now = t
	}
	rep, err := h.d.Recurrence.ExpandDue(r.Context(), now)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// getTask handles GET /tasks/{id}.
func (h *handlers) getTask(w http.ResponseWriter, r *http.Request) {
	t, ok, err := h.d.Tasks.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, model.DataAccess("get task", err))
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// listInstances handles GET /tasks/{id}/instances.
func (h *handlers) listInstances(w http.ResponseWriter, r *http.Request) {
	items, err := h.d.Tasks.ListInstances(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, model.DataAccess("list instances", err))
		return
	}
	if items == nil {
		items = []model.Task{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"instances": items})
}

// runs handles GET /runs?limit=N.
func (h *handlers) runs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, 500)
	}
	items, err := h.d.Runs.RecentRuns(r.Context(), limit)
	if err != nil {
		writeDomainError(w, model.DataAccess("recent runs", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": items})
}

func (h *handlers) schedules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.d.Schedules.Snapshot())
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if h.d.Health != nil {
		detail, ok := h.d.Health()
		resp["detail"] = detail
		if !ok {
			resp["status"] = "degraded"
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
