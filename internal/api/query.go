package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/askdb/askdb/internal/conversation"
	"github.com/askdb/askdb/internal/pipeline"
	"github.com/askdb/askdb/internal/query"
)

type queryRequest struct {
	Query  string `json:"query"`
	ChatID *int64 `json:"chat_id"`
}

type queryResponse struct {
	ChatID        int64          `json:"chat_id"`
	MessageID     int64          `json:"message_id"`
	GeneratedSQL  string         `json:"generated_sql"`
	Data          queryData      `json:"data"`
	Visualization string         `json:"visualization_type"`
	ChatTitle     string         `json:"chat_title"`
	Reasoning     string         `json:"ai_reasoning,omitempty"`
	Degraded      bool           `json:"degraded"`
	Stats         map[string]any `json:"stats"`
}

type queryData struct {
	Columns  []string `json:"columns"`
	Rows     [][]any  `json:"rows"`
	RowCount int      `json:"row_count"`
}

func handleQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query pipeline is not configured", false, nil)
		return
	}

	var request queryRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid query request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Query) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "query is required", false, nil)
		return
	}

	resp, err := deps.Pipeline.Ask(r.Context(), pipeline.AskRequest{
		Question: strings.TrimSpace(request.Query),
		ChatID:   request.ChatID,
	})
	if err != nil {
		writePipelineError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, queryResponse{
		ChatID:       resp.ChatID,
		MessageID:    resp.MessageID,
		GeneratedSQL: resp.GeneratedSQL,
		Data: queryData{
			Columns:  resp.Columns,
			Rows:     resp.Rows,
			RowCount: resp.RowCount,
		},
		Visualization: string(resp.Visualization),
		ChatTitle:     resp.ChatTitle,
		Reasoning:     resp.Reasoning,
		Degraded:      resp.Degraded,
		Stats: map[string]any{
			"row_count":   resp.RowCount,
			"duration_ms": resp.QueryDuration.Milliseconds(),
		},
	})
}

// writePipelineError maps a stage failure to the envelope. The branch is on
// the stage and the wrapped typed error, never on error text.
func writePipelineError(w http.ResponseWriter, r *http.Request, err error) {
	var stageErr *pipeline.StageError
	if !errors.As(err, &stageErr) {
		writeError(r.Context(), w, http.StatusInternalServerError, "INTERNAL_ERROR", "query pipeline failed", true, nil)
		return
	}

	extra := map[string]any{"stage": string(stageErr.Stage)}
	switch stageErr.Stage {
	case pipeline.StageSchemaLoad:
		writeError(r.Context(), w, http.StatusInternalServerError, "SCHEMA_UNAVAILABLE", "warehouse database is unreachable", true, extra)
	case pipeline.StageTranslate:
		writeError(r.Context(), w, http.StatusInternalServerError, "TRANSLATION_FAILED", "question could not be translated to SQL", true, extra)
	case pipeline.StageExecute:
		switch query.KindOf(err) {
		case query.KindInvalid:
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_QUERY", "generated SQL was rejected", false, extra)
		case query.KindUnavailable:
			writeError(r.Context(), w, http.StatusInternalServerError, "DATABASE_UNAVAILABLE", "warehouse database is unreachable", true, extra)
		default:
			writeError(r.Context(), w, http.StatusBadRequest, "QUERY_FAILED", "generated SQL failed to execute", false, extra)
		}
	case pipeline.StageRecord:
		if errors.Is(err, conversation.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "CHAT_NOT_FOUND", "chat was not found", false, extra)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "CHAT_STORE_ERROR", "failed to record the exchange", true, extra)
	default:
		writeError(r.Context(), w, http.StatusInternalServerError, "INTERNAL_ERROR", "query pipeline failed", true, extra)
	}
}
