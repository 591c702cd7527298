package httpapi

import (
	"database/sql"
	"net/http"
	"strconv"

	"postulamatic-engine/internal/store"
)

type PostingsHandler struct {
	DB *sql.DB
}

func (h PostingsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	postings, err := store.ListPostings(r.Context(), h.DB, limit)
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, "db_error", err.Error())
		return
	}
	writeJSON(w, map[string]any{"postings": postings})
}
