package api

import (
	"errors"
	"net/http"

	"github.com/askdb/askdb/internal/schema"
)

func handleListTables(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Schema == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema introspection is not configured", false, nil)
		return
	}

	tables, err := deps.Schema.ListTables(r.Context())
	if err != nil {
		if errors.Is(err, schema.ErrUnavailable) {
			writeError(r.Context(), w, http.StatusInternalServerError, "SCHEMA_UNAVAILABLE", "warehouse database is unreachable", true, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "SCHEMA_ERROR", "failed to list tables", true, nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"tables": tables})
}
