// Package pipeline orchestrates a question turn: load the warehouse schema,
// translate the question to SQL, execute it read-only, and record the
// exchange in the conversation store. Each stage failure is typed so the API
// layer can map it to a status code without inspecting error text.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/askdb/askdb/internal/conversation"
	"github.com/askdb/askdb/internal/nl2sql"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/query"
)

type Stage string

const (
	StageSchemaLoad Stage = "schema_load"
	StageTranslate  Stage = "translate"
	StageExecute    Stage = "execute"
	StageRecord     Stage = "record"
)

// StageError wraps a stage failure so callers can branch on the stage and on
// the wrapped typed error, never on message text.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// SchemaSource provides the warehouse schema description fed to the
// translator.
type SchemaSource interface {
	Describe(ctx context.Context) (string, error)
}

type AskRequest struct {
	Question string
	// ChatID selects an existing chat for the turn. When nil a new chat is
	// created, titled by the translator.
	ChatID *int64
}

type AskResponse struct {
	ChatID        int64
	MessageID     int64
	GeneratedSQL  string
	Columns       []string
	Rows          [][]any
	RowCount      int
	Visualization nl2sql.VisualizationType
	ChatTitle     string
	Reasoning     string
	Degraded      bool
	QueryDuration time.Duration
}

type Service struct {
	Schema     SchemaSource
	Translator nl2sql.Translator
	Engine     query.Engine
	Store      conversation.Store
	RowLimit   int
	Logger     *slog.Logger
}

func NewService(schema SchemaSource, translator nl2sql.Translator, engine query.Engine, store conversation.Store, rowLimit int, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		Schema:     schema,
		Translator: translator,
		Engine:     engine,
		Store:      store,
		RowLimit:   rowLimit,
		Logger:     logger,
	}
}

// Ask runs one full question turn. A failure before the record stage leaves
// no trace in the conversation store.
func (s *Service) Ask(ctx context.Context, req AskRequest) (AskResponse, error) {
	if req.Question == "" {
		return AskResponse{}, &StageError{Stage: StageTranslate, Err: fmt.Errorf("question is required")}
	}

	schemaText, err := s.Schema.Describe(ctx)
	if err != nil {
		return AskResponse{}, s.fail(StageSchemaLoad, err)
	}

	translation, err := s.Translator.Translate(ctx, nl2sql.Request{Question: req.Question, Schema: schemaText})
	if err != nil {
		observability.ObserveTranslation("error")
		return AskResponse{}, s.fail(StageTranslate, err)
	}
	observability.ObserveTranslation("ok")
	if translation.Degraded {
		observability.IncrementTranslationFallback()
		s.Logger.WarnContext(ctx, "translator response degraded to raw sql",
			slog.String("trace_id", observability.TraceIDFromContext(ctx)))
	}

	result, err := s.Engine.Execute(ctx, query.Request{SQL: translation.SQL, RowLimit: s.RowLimit})
	if err != nil {
		// The turn is not recorded: a chat holding a question whose answer
		// never existed would surface broken history to the user.
		return AskResponse{}, s.fail(StageExecute, err)
	}

	recorded, err := s.record(ctx, req, translation, result)
	if err != nil {
		return AskResponse{}, s.fail(StageRecord, err)
	}

	s.Logger.InfoContext(ctx, "question answered",
		slog.Int64("chat_id", recorded.ChatID),
		slog.Int64("message_id", recorded.MessageID),
		slog.Int("row_count", result.RowCount),
		slog.String("visualization", string(translation.Visualization)),
		slog.Duration("query_duration", result.Duration))

	return AskResponse{
		ChatID:        recorded.ChatID,
		MessageID:     recorded.MessageID,
		GeneratedSQL:  translation.SQL,
		Columns:       result.Columns,
		Rows:          result.Rows,
		RowCount:      result.RowCount,
		Visualization: translation.Visualization,
		ChatTitle:     recorded.ChatTitle,
		Reasoning:     translation.Reasoning,
		Degraded:      translation.Degraded,
		QueryDuration: result.Duration,
	}, nil
}

type recordedTurn struct {
	ChatID    int64
	MessageID int64
	ChatTitle string
}

func (s *Service) record(ctx context.Context, req AskRequest, translation nl2sql.Result, result query.Result) (recordedTurn, error) {
	var chatID int64
	var chatTitle string

	if req.ChatID != nil {
		detail, err := s.Store.GetChat(ctx, *req.ChatID)
		if err != nil {
			return recordedTurn{}, fmt.Errorf("resolve chat %d: %w", *req.ChatID, err)
		}
		chatID = detail.ChatID
		chatTitle = detail.Title
	} else {
		title := translation.Title
		if title == "" || title == conversation.DefaultTitle {
			title = conversation.DeriveTitle(req.Question)
		}
		chat, err := s.Store.CreateChat(ctx, title)
		if err != nil {
			return recordedTurn{}, fmt.Errorf("create chat: %w", err)
		}
		chatID = chat.ChatID
		chatTitle = chat.Title
	}

	generatedSQL := translation.SQL
	message, err := s.Store.AddMessage(ctx, conversation.AddMessageInput{
		ChatID:       chatID,
		Text:         req.Question,
		GeneratedSQL: &generatedSQL,
	})
	if err != nil {
		return recordedTurn{}, fmt.Errorf("add message: %w", err)
	}

	payload, err := json.Marshal(map[string]any{
		"columns": result.Columns,
		"rows":    result.Rows,
	})
	if err != nil {
		return recordedTurn{}, fmt.Errorf("encode visualization payload: %w", err)
	}
	if _, err := s.Store.AddVisualization(ctx, conversation.AddVisualizationInput{
		MessageID: message.MessageID,
		Type:      string(translation.Visualization),
		DataJSON:  payload,
	}); err != nil {
		return recordedTurn{}, fmt.Errorf("add visualization: %w", err)
	}

	return recordedTurn{ChatID: chatID, MessageID: message.MessageID, ChatTitle: chatTitle}, nil
}

func (s *Service) fail(stage Stage, err error) *StageError {
	observability.IncrementPipelineStageFailure(string(stage))
	return &StageError{Stage: stage, Err: err}
}
