package api

import (
	"net/http"
	"testing"

	"github.com/askdb/askdb/internal/conversation"
	"github.com/askdb/askdb/internal/nl2sql"
	"github.com/askdb/askdb/internal/pipeline"
	"github.com/askdb/askdb/internal/query"
)

func TestQuerySuccess(t *testing.T) {
	runner := &fakeAskRunner{resp: pipeline.AskResponse{
		ChatID:        7,
		MessageID:     11,
		GeneratedSQL:  "SELECT branch_name, balance FROM branches",
		Columns:       []string{"branch_name", "balance"},
		Rows:          [][]any{{"Downtown", 1250.75}},
		RowCount:      1,
		Visualization: nl2sql.VizBar,
		ChatTitle:     "Branch Balances",
		Reasoning:     "categories with numeric values",
	}}
	handler := newTestHandler(t, Dependencies{Pipeline: runner})

	recorder := doRequest(t, handler, http.MethodPost, "/query", `{"query": "Show branch balances"}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d (body %s)", recorder.Code, recorder.Body.String())
	}

	var body struct {
		ChatID        int64  `json:"chat_id"`
		MessageID     int64  `json:"message_id"`
		GeneratedSQL  string `json:"generated_sql"`
		Visualization string `json:"visualization_type"`
		ChatTitle     string `json:"chat_title"`
		Data          struct {
			Columns  []string `json:"columns"`
			RowCount int      `json:"row_count"`
		} `json:"data"`
	}
	decodeBody(t, recorder, &body)
	if body.ChatID != 7 || body.MessageID != 11 {
		t.Fatalf("chat_id = %d, message_id = %d", body.ChatID, body.MessageID)
	}
	if body.Visualization != "bar" {
		t.Fatalf("visualization_type = %q", body.Visualization)
	}
	if body.Data.RowCount != 1 || len(body.Data.Columns) != 2 {
		t.Fatalf("data = %+v", body.Data)
	}
	if runner.lastReq.Question != "Show branch balances" {
		t.Fatalf("question = %q", runner.lastReq.Question)
	}
}

func TestQueryPassesChatID(t *testing.T) {
	runner := &fakeAskRunner{resp: pipeline.AskResponse{ChatID: 3, MessageID: 4}}
	handler := newTestHandler(t, Dependencies{Pipeline: runner})

	recorder := doRequest(t, handler, http.MethodPost, "/query", `{"query": "and last month?", "chat_id": 3}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	if runner.lastReq.ChatID == nil || *runner.lastReq.ChatID != 3 {
		t.Fatalf("chat_id = %v", runner.lastReq.ChatID)
	}
}

func TestQueryRejectsMissingQuestion(t *testing.T) {
	handler := newTestHandler(t, Dependencies{Pipeline: &fakeAskRunner{}})
	recorder := doRequest(t, handler, http.MethodPost, "/query", `{"query": "  "}`)
	assertErrorCode(t, recorder, http.StatusBadRequest, "QUESTION_REQUIRED")
}

func TestQueryRejectsUnknownFields(t *testing.T) {
	handler := newTestHandler(t, Dependencies{Pipeline: &fakeAskRunner{}})
	recorder := doRequest(t, handler, http.MethodPost, "/query", `{"query": "q", "sql": "SELECT 1"}`)
	assertErrorCode(t, recorder, http.StatusBadRequest, "INVALID_JSON")
}

func TestQueryStageErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{
			name:   "schema load failure",
			err:    &pipeline.StageError{Stage: pipeline.StageSchemaLoad, Err: errConnRefused},
			status: http.StatusInternalServerError,
			code:   "SCHEMA_UNAVAILABLE",
		},
		{
			name:   "translation failure",
			err:    &pipeline.StageError{Stage: pipeline.StageTranslate, Err: errConnRefused},
			status: http.StatusInternalServerError,
			code:   "TRANSLATION_FAILED",
		},
		{
			name:   "invalid generated sql",
			err:    &pipeline.StageError{Stage: pipeline.StageExecute, Err: &query.Error{Kind: query.KindInvalid, Message: "bad sql"}},
			status: http.StatusBadRequest,
			code:   "INVALID_QUERY",
		},
		{
			name:   "execution failure",
			err:    &pipeline.StageError{Stage: pipeline.StageExecute, Err: &query.Error{Kind: query.KindExecutionFailed, Message: "division by zero"}},
			status: http.StatusBadRequest,
			code:   "QUERY_FAILED",
		},
		{
			name:   "warehouse down",
			err:    &pipeline.StageError{Stage: pipeline.StageExecute, Err: &query.Error{Kind: query.KindUnavailable, Message: "unreachable"}},
			status: http.StatusInternalServerError,
			code:   "DATABASE_UNAVAILABLE",
		},
		{
			name:   "record against missing chat",
			err:    &pipeline.StageError{Stage: pipeline.StageRecord, Err: conversation.ErrNotFound},
			status: http.StatusNotFound,
			code:   "CHAT_NOT_FOUND",
		},
		{
			name:   "record store failure",
			err:    &pipeline.StageError{Stage: pipeline.StageRecord, Err: errConnRefused},
			status: http.StatusInternalServerError,
			code:   "CHAT_STORE_ERROR",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := newTestHandler(t, Dependencies{Pipeline: &fakeAskRunner{err: tc.err}})
			recorder := doRequest(t, handler, http.MethodPost, "/query", `{"query": "anything"}`)
			assertErrorCode(t, recorder, tc.status, tc.code)
		})
	}
}
