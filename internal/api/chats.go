package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/askdb/askdb/internal/conversation"
)

type chatPayload struct {
	ChatID       int64     `json:"chat_id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int64     `json:"message_count"`
}

type messagePayload struct {
	MessageID      int64                  `json:"message_id"`
	ChatID         int64                  `json:"chat_id"`
	Text           string                 `json:"text"`
	GeneratedSQL   *string                `json:"generated_sql,omitempty"`
	OrderIndex     int                    `json:"order_index"`
	CreatedAt      time.Time              `json:"created_at"`
	Visualizations []visualizationPayload `json:"visualizations,omitempty"`
}

type visualizationPayload struct {
	VizID       int64           `json:"viz_id"`
	MessageID   int64           `json:"message_id"`
	Type        string          `json:"visualization_type"`
	Data        json.RawMessage `json:"data"`
	ChartConfig json.RawMessage `json:"chart_config,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

func chatToPayload(chat conversation.Chat) chatPayload {
	return chatPayload{
		ChatID:       chat.ChatID,
		Title:        chat.Title,
		CreatedAt:    chat.CreatedAt,
		UpdatedAt:    chat.UpdatedAt,
		MessageCount: chat.MessageCount,
	}
}

func messageToPayload(message conversation.Message) messagePayload {
	payload := messagePayload{
		MessageID:    message.MessageID,
		ChatID:       message.ChatID,
		Text:         message.Text,
		GeneratedSQL: message.GeneratedSQL,
		OrderIndex:   message.OrderIndex,
		CreatedAt:    message.CreatedAt,
	}
	for _, viz := range message.Visualizations {
		payload.Visualizations = append(payload.Visualizations, visualizationToPayload(viz))
	}
	return payload
}

func visualizationToPayload(viz conversation.Visualization) visualizationPayload {
	return visualizationPayload{
		VizID:       viz.VizID,
		MessageID:   viz.MessageID,
		Type:        viz.Type,
		Data:        json.RawMessage(viz.DataJSON),
		ChartConfig: json.RawMessage(viz.ChartConfig),
		CreatedAt:   viz.CreatedAt,
	}
}

func handleCreateChat(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Conversations == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CHATS_NOT_CONFIGURED", "conversation store is not configured", false, nil)
		return
	}

	var request struct {
		Title string `json:"title"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid chat request body", false, map[string]any{"details": err.Error()})
			return
		}
	}

	chat, err := deps.Conversations.CreateChat(r.Context(), strings.TrimSpace(request.Title))
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "CHAT_STORE_ERROR", "failed to create chat", true, nil)
		return
	}
	writeJSON(w, http.StatusCreated, chatToPayload(chat))
}

func handleListChats(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Conversations == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CHATS_NOT_CONFIGURED", "conversation store is not configured", false, nil)
		return
	}

	chats, err := deps.Conversations.ListChats(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "CHAT_STORE_ERROR", "failed to list chats", true, nil)
		return
	}

	payload := make([]chatPayload, 0, len(chats))
	for _, chat := range chats {
		payload = append(payload, chatToPayload(chat))
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": payload})
}

func handleGetChat(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Conversations == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CHATS_NOT_CONFIGURED", "conversation store is not configured", false, nil)
		return
	}
	chatID, ok := pathID(w, r)
	if !ok {
		return
	}

	detail, err := deps.Conversations.GetChat(r.Context(), chatID)
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "CHAT_NOT_FOUND", "chat was not found", false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "CHAT_STORE_ERROR", "failed to load chat", true, nil)
		return
	}

	messages := make([]messagePayload, 0, len(detail.Messages))
	for _, message := range detail.Messages {
		messages = append(messages, messageToPayload(message))
	}
	response := struct {
		chatPayload
		Messages []messagePayload `json:"messages"`
	}{chatToPayload(detail.Chat), messages}
	writeJSON(w, http.StatusOK, response)
}

func handleRenameChat(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Conversations == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CHATS_NOT_CONFIGURED", "conversation store is not configured", false, nil)
		return
	}
	chatID, ok := pathID(w, r)
	if !ok {
		return
	}

	var request struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid rename request body", false, map[string]any{"details": err.Error()})
		return
	}
	title := strings.TrimSpace(request.Title)
	if title == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "TITLE_REQUIRED", "title is required", false, nil)
		return
	}

	renamed, err := deps.Conversations.RenameChat(r.Context(), chatID, title)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "CHAT_STORE_ERROR", "failed to rename chat", true, nil)
		return
	}
	if !renamed {
		writeError(r.Context(), w, http.StatusNotFound, "CHAT_NOT_FOUND", "chat was not found", false, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chat_id": chatID, "title": title})
}

func handleDeleteChat(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Conversations == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CHATS_NOT_CONFIGURED", "conversation store is not configured", false, nil)
		return
	}
	chatID, ok := pathID(w, r)
	if !ok {
		return
	}

	deleted, err := deps.Conversations.DeleteChat(r.Context(), chatID)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "CHAT_STORE_ERROR", "failed to delete chat", true, nil)
		return
	}
	if !deleted {
		writeError(r.Context(), w, http.StatusNotFound, "CHAT_NOT_FOUND", "chat was not found", false, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func handleAddMessage(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Conversations == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CHATS_NOT_CONFIGURED", "conversation store is not configured", false, nil)
		return
	}
	chatID, ok := pathID(w, r)
	if !ok {
		return
	}

	var request struct {
		Text         string  `json:"text"`
		GeneratedSQL *string `json:"generated_sql"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid message request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Text) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "TEXT_REQUIRED", "text is required", false, nil)
		return
	}

	message, err := deps.Conversations.AddMessage(r.Context(), conversation.AddMessageInput{
		ChatID:       chatID,
		Text:         request.Text,
		GeneratedSQL: request.GeneratedSQL,
	})
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "CHAT_NOT_FOUND", "chat was not found", false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "CHAT_STORE_ERROR", "failed to add message", true, nil)
		return
	}
	writeJSON(w, http.StatusCreated, messageToPayload(message))
}

func handleAddVisualization(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Conversations == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CHATS_NOT_CONFIGURED", "conversation store is not configured", false, nil)
		return
	}
	messageID, ok := pathID(w, r)
	if !ok {
		return
	}

	var request struct {
		Type        string          `json:"visualization_type"`
		Data        json.RawMessage `json:"data"`
		ChartConfig json.RawMessage `json:"chart_config"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid visualization request body", false, map[string]any{"details": err.Error()})
		return
	}

	viz, err := deps.Conversations.AddVisualization(r.Context(), conversation.AddVisualizationInput{
		MessageID:   messageID,
		Type:        request.Type,
		DataJSON:    request.Data,
		ChartConfig: request.ChartConfig,
	})
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "MESSAGE_NOT_FOUND", "message was not found", false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "CHAT_STORE_ERROR", "failed to add visualization", true, nil)
		return
	}
	writeJSON(w, http.StatusCreated, visualizationToPayload(viz))
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_ID", "id must be a positive integer", false, nil)
		return 0, false
	}
	return id, true
}
