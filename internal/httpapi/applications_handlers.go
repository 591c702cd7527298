package httpapi

import (
	"database/sql"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"postulamatic-engine/internal/config"
	"postulamatic-engine/internal/store"
)

type ApplicationsHandler struct {
	DB     *sql.DB
	CfgVal *atomic.Value // stores config.Config
}

func (h ApplicationsHandler) List(w http.ResponseWriter, r *http.Request) {
	cfg := h.CfgVal.Load().(config.Config)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	apps, err := store.ListApplications(r.Context(), h.DB, cfg.UserID(), limit)
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	writeJSON(w, map[string]any{"applications": apps})
}

// RequeueByPath resets one terminal application to QUEUED; expects
// /applications/{id}/requeue.
func (h ApplicationsHandler) RequeueByPath(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 || parts[2] != "requeue" {
		WriteError(w, r, http.StatusNotFound, "not_found", "unknown path")
		return
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, "bad_id", "application id must be numeric")
		return
	}

	if err := store.RequeueApplication(r.Context(), h.DB, id); err != nil {
		WriteError(w, r, http.StatusConflict, "requeue_rejected", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
