package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/askdb/askdb/internal/conversation"
	"github.com/askdb/askdb/internal/nl2sql"
	"github.com/askdb/askdb/internal/query"
	"github.com/askdb/askdb/internal/schema"
)

type fakeSchema struct {
	description string
	err         error
}

func (f *fakeSchema) Describe(ctx context.Context) (string, error) {
	return f.description, f.err
}

type fakeTranslator struct {
	result  nl2sql.Result
	err     error
	lastReq nl2sql.Request
}

func (f *fakeTranslator) Translate(ctx context.Context, req nl2sql.Request) (nl2sql.Result, error) {
	f.lastReq = req
	return f.result, f.err
}

type fakeEngine struct {
	result  query.Result
	err     error
	lastSQL string
}

func (f *fakeEngine) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	f.lastSQL = request.SQL
	return f.result, f.err
}

type fakeStore struct {
	conversation.Store

	chats          map[int64]conversation.ChatDetail
	nextChatID     int64
	nextMessageID  int64
	createdTitles  []string
	messages       []conversation.AddMessageInput
	visualizations []conversation.AddVisualizationInput
	createErr      error
	messageErr     error
	vizErr         error
}

func newFakeStore() *fakeStore {
	return &fakeStore{chats: map[int64]conversation.ChatDetail{}, nextChatID: 1, nextMessageID: 1}
}

func (f *fakeStore) CreateChat(ctx context.Context, title string) (conversation.Chat, error) {
	if f.createErr != nil {
		return conversation.Chat{}, f.createErr
	}
	f.createdTitles = append(f.createdTitles, title)
	chat := conversation.Chat{ChatID: f.nextChatID, Title: title, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	f.chats[chat.ChatID] = conversation.ChatDetail{Chat: chat}
	f.nextChatID++
	return chat, nil
}

func (f *fakeStore) GetChat(ctx context.Context, chatID int64) (conversation.ChatDetail, error) {
	detail, ok := f.chats[chatID]
	if !ok {
		return conversation.ChatDetail{}, conversation.ErrNotFound
	}
	return detail, nil
}

func (f *fakeStore) AddMessage(ctx context.Context, in conversation.AddMessageInput) (conversation.Message, error) {
	if f.messageErr != nil {
		return conversation.Message{}, f.messageErr
	}
	if _, ok := f.chats[in.ChatID]; !ok {
		return conversation.Message{}, conversation.ErrNotFound
	}
	f.messages = append(f.messages, in)
	message := conversation.Message{MessageID: f.nextMessageID, ChatID: in.ChatID, Text: in.Text, GeneratedSQL: in.GeneratedSQL, OrderIndex: len(f.messages)}
	f.nextMessageID++
	return message, nil
}

func (f *fakeStore) AddVisualization(ctx context.Context, in conversation.AddVisualizationInput) (conversation.Visualization, error) {
	if f.vizErr != nil {
		return conversation.Visualization{}, f.vizErr
	}
	f.visualizations = append(f.visualizations, in)
	return conversation.Visualization{VizID: int64(len(f.visualizations)), MessageID: in.MessageID, Type: in.Type, DataJSON: in.DataJSON}, nil
}

func newTestService(schemaSrc SchemaSource, translator nl2sql.Translator, engine query.Engine, store conversation.Store) *Service {
	return NewService(schemaSrc, translator, engine, store, 1000, nil)
}

func barTranslation() nl2sql.Result {
	return nl2sql.Result{
		SQL:           "SELECT branch_name, balance FROM branches",
		Visualization: nl2sql.VizBar,
		Title:         "Branch Balances",
		Reasoning:     "categories with numeric values",
	}
}

func branchResult() query.Result {
	return query.Result{
		Columns:  []string{"branch_name", "balance"},
		Rows:     [][]any{{"Downtown", 1250.75}, {"Airport", 310.00}},
		RowCount: 2,
		Duration: 12 * time.Millisecond,
	}
}

func TestAskCreatesChatAndRecordsTurn(t *testing.T) {
	store := newFakeStore()
	translator := &fakeTranslator{result: barTranslation()}
	engine := &fakeEngine{result: branchResult()}
	service := newTestService(&fakeSchema{description: "Table branches:\n"}, translator, engine, store)

	resp, err := service.Ask(context.Background(), AskRequest{Question: "Show branch balances"})
	if err != nil {
		t.Fatalf("Ask() error: %v", err)
	}
	if resp.ChatID != 1 || resp.MessageID != 1 {
		t.Fatalf("ChatID = %d, MessageID = %d", resp.ChatID, resp.MessageID)
	}
	if resp.Visualization != nl2sql.VizBar {
		t.Fatalf("Visualization = %q", resp.Visualization)
	}
	if resp.ChatTitle != "Branch Balances" {
		t.Fatalf("ChatTitle = %q", resp.ChatTitle)
	}
	if resp.RowCount != 2 {
		t.Fatalf("RowCount = %d", resp.RowCount)
	}
	if engine.lastSQL != "SELECT branch_name, balance FROM branches" {
		t.Fatalf("executed SQL = %q", engine.lastSQL)
	}
	if translator.lastReq.Schema != "Table branches:\n" {
		t.Fatalf("translator schema = %q", translator.lastReq.Schema)
	}

	if len(store.messages) != 1 {
		t.Fatalf("messages recorded = %d", len(store.messages))
	}
	if store.messages[0].GeneratedSQL == nil || *store.messages[0].GeneratedSQL != resp.GeneratedSQL {
		t.Fatal("generated SQL not stored on message")
	}
	if len(store.visualizations) != 1 {
		t.Fatalf("visualizations recorded = %d", len(store.visualizations))
	}
	var payload struct {
		Columns []string `json:"columns"`
		Rows    [][]any  `json:"rows"`
	}
	if err := json.Unmarshal(store.visualizations[0].DataJSON, &payload); err != nil {
		t.Fatalf("decode visualization payload: %v", err)
	}
	if len(payload.Columns) != 2 || len(payload.Rows) != 2 {
		t.Fatalf("payload columns = %v, rows = %v", payload.Columns, payload.Rows)
	}
}

func TestAskReusesExistingChat(t *testing.T) {
	store := newFakeStore()
	existing, _ := store.CreateChat(context.Background(), "Branch Balances")
	store.createdTitles = nil

	service := newTestService(&fakeSchema{}, &fakeTranslator{result: barTranslation()}, &fakeEngine{result: branchResult()}, store)

	resp, err := service.Ask(context.Background(), AskRequest{Question: "And for last month?", ChatID: &existing.ChatID})
	if err != nil {
		t.Fatalf("Ask() error: %v", err)
	}
	if resp.ChatID != existing.ChatID {
		t.Fatalf("ChatID = %d, want %d", resp.ChatID, existing.ChatID)
	}
	if len(store.createdTitles) != 0 {
		t.Fatalf("unexpected chat creation: %v", store.createdTitles)
	}
}

func TestAskUnknownChatFailsRecordStage(t *testing.T) {
	store := newFakeStore()
	missing := int64(99)
	service := newTestService(&fakeSchema{}, &fakeTranslator{result: barTranslation()}, &fakeEngine{result: branchResult()}, store)

	_, err := service.Ask(context.Background(), AskRequest{Question: "anything", ChatID: &missing})
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageRecord {
		t.Fatalf("err = %v, want record stage error", err)
	}
	if !errors.Is(err, conversation.ErrNotFound) {
		t.Fatalf("err = %v, want wrapped ErrNotFound", err)
	}
}

func TestAskDerivesTitleWhenTranslatorReturnsDefault(t *testing.T) {
	store := newFakeStore()
	translation := barTranslation()
	translation.Title = "New chat"
	service := newTestService(&fakeSchema{}, &fakeTranslator{result: translation}, &fakeEngine{result: branchResult()}, store)

	resp, err := service.Ask(context.Background(), AskRequest{Question: "Show branch balances for all regions"})
	if err != nil {
		t.Fatalf("Ask() error: %v", err)
	}
	if resp.ChatTitle != "Show branch balances for all regions" {
		t.Fatalf("ChatTitle = %q, want derived from question", resp.ChatTitle)
	}
}

func TestAskSchemaFailureIsTerminal(t *testing.T) {
	store := newFakeStore()
	service := newTestService(&fakeSchema{err: schema.ErrUnavailable}, &fakeTranslator{result: barTranslation()}, &fakeEngine{result: branchResult()}, store)

	_, err := service.Ask(context.Background(), AskRequest{Question: "anything"})
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageSchemaLoad {
		t.Fatalf("err = %v, want schema_load stage error", err)
	}
	if !errors.Is(err, schema.ErrUnavailable) {
		t.Fatalf("err = %v, want wrapped ErrUnavailable", err)
	}
	if len(store.createdTitles) != 0 || len(store.messages) != 0 {
		t.Fatal("failed turn must leave no chat side effects")
	}
}

func TestAskTranslationFailureLeavesNoSideEffects(t *testing.T) {
	store := newFakeStore()
	service := newTestService(&fakeSchema{}, &fakeTranslator{err: errors.New("upstream timeout")}, &fakeEngine{result: branchResult()}, store)

	_, err := service.Ask(context.Background(), AskRequest{Question: "anything"})
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageTranslate {
		t.Fatalf("err = %v, want translate stage error", err)
	}
	if len(store.createdTitles) != 0 || len(store.messages) != 0 {
		t.Fatal("failed turn must leave no chat side effects")
	}
}

func TestAskExecuteFailureIsNotRecorded(t *testing.T) {
	store := newFakeStore()
	engineErr := &query.Error{Kind: query.KindInvalid, Message: `relation "missing" does not exist`}
	service := newTestService(&fakeSchema{}, &fakeTranslator{result: barTranslation()}, &fakeEngine{err: engineErr}, store)

	_, err := service.Ask(context.Background(), AskRequest{Question: "anything"})
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageExecute {
		t.Fatalf("err = %v, want execute stage error", err)
	}
	if query.KindOf(err) != query.KindInvalid {
		t.Fatalf("kind = %q, want invalid through the stage wrapper", query.KindOf(err))
	}
	if len(store.createdTitles) != 0 || len(store.messages) != 0 || len(store.visualizations) != 0 {
		t.Fatal("execute failure must not be recorded")
	}
}

func TestAskDegradedTranslationStillExecutes(t *testing.T) {
	store := newFakeStore()
	translation := nl2sql.Result{
		SQL:           "SELECT count(*) FROM accounts",
		Visualization: nl2sql.VizTable,
		Title:         "New chat",
		Degraded:      true,
	}
	engine := &fakeEngine{result: query.Result{Columns: []string{"count"}, Rows: [][]any{{int64(7)}}, RowCount: 1}}
	service := newTestService(&fakeSchema{}, &fakeTranslator{result: translation}, engine, store)

	resp, err := service.Ask(context.Background(), AskRequest{Question: "How many accounts?"})
	if err != nil {
		t.Fatalf("Ask() error: %v", err)
	}
	if !resp.Degraded {
		t.Fatal("Degraded should propagate to the response")
	}
	if engine.lastSQL != "SELECT count(*) FROM accounts" {
		t.Fatalf("executed SQL = %q", engine.lastSQL)
	}
	if len(store.messages) != 1 {
		t.Fatal("degraded success must still be recorded")
	}
}

func TestAskRejectsEmptyQuestion(t *testing.T) {
	service := newTestService(&fakeSchema{}, &fakeTranslator{}, &fakeEngine{}, newFakeStore())
	_, err := service.Ask(context.Background(), AskRequest{})
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageTranslate {
		t.Fatalf("err = %v, want translate stage error", err)
	}
}
