package httpapi

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"postulamatic-engine/internal/config"
	"postulamatic-engine/internal/domain"
	"postulamatic-engine/internal/store"
)

type RunsHandler struct {
	DB        *sql.DB
	CfgVal    *atomic.Value // stores config.Config
	RunStatus *atomic.Value // stores httpapi.RunStatus
	Run       func(ctx context.Context) (domain.RunLog, error)
}

func (h RunsHandler) List(w http.ResponseWriter, r *http.Request) {
	cfg := h.CfgVal.Load().(config.Config)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	logs, err := store.ListRunLogs(r.Context(), h.DB, cfg.UserID(), limit)
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	writeJSON(w, map[string]any{"runs": logs})
}

func (h RunsHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.RunStatus.Load().(RunStatus))
}

// Trigger starts a pipeline run in the background. Only one run may be in
// flight; a second trigger answers 409.
func (h RunsHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	cur := h.RunStatus.Load().(RunStatus)
	if cur.Running {
		WriteError(w, r, http.StatusConflict, "run_in_progress", "a run is already in progress")
		return
	}

	cur.Running = true
	cur.LastRunAt = time.Now().UTC().Format(time.RFC3339)
	cur.LastError = ""
	h.RunStatus.Store(cur)

	go func() {
		rl, err := h.Run(context.Background())

		st := h.RunStatus.Load().(RunStatus)
		st.Running = false
		st.LastRunID = rl.RunID
		st.LastSent = rl.Sent
		if err != nil {
			st.LastError = err.Error()
			log.Printf("[httpapi] triggered run failed: %v", err)
		} else {
			st.LastOkAt = time.Now().UTC().Format(time.RFC3339)
		}
		h.RunStatus.Store(st)
	}()

	WriteJSON(w, http.StatusAccepted, map[string]any{"started": true})
}
