package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/askdb/askdb/internal/conversation"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping chat store db: %w", err)
	}
	return nil
}

func (s *Store) CreateChat(ctx context.Context, title string) (conversation.Chat, error) {
	if strings.TrimSpace(title) == "" {
		title = conversation.PlaceholderTitle(time.Now())
	}

	query := `
INSERT INTO chats (title)
VALUES ($1)
RETURNING chat_id, created_at, updated_at`

	var chat conversation.Chat
	chat.Title = title
	if err := s.db.QueryRowContext(ctx, query, title).Scan(
		&chat.ChatID,
		&chat.CreatedAt,
		&chat.UpdatedAt,
	); err != nil {
		return conversation.Chat{}, fmt.Errorf("create chat: %w", err)
	}
	return chat, nil
}

func (s *Store) ListChats(ctx context.Context) ([]conversation.Chat, error) {
	query := `
SELECT c.chat_id, c.title, c.created_at, c.updated_at, COUNT(m.message_id) AS message_count
FROM chats AS c
LEFT JOIN chat_messages AS m ON m.chat_id = c.chat_id
GROUP BY c.chat_id, c.title, c.created_at, c.updated_at
ORDER BY c.updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	chats := make([]conversation.Chat, 0)
	for rows.Next() {
		var chat conversation.Chat
		if err := rows.Scan(
			&chat.ChatID,
			&chat.Title,
			&chat.CreatedAt,
			&chat.UpdatedAt,
			&chat.MessageCount,
		); err != nil {
			return nil, fmt.Errorf("scan chat row: %w", err)
		}
		chats = append(chats, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat rows: %w", err)
	}
	return chats, nil
}

func (s *Store) GetChat(ctx context.Context, chatID int64) (conversation.ChatDetail, error) {
	var detail conversation.ChatDetail
	if err := s.db.QueryRowContext(ctx, `
SELECT chat_id, title, created_at, updated_at
FROM chats
WHERE chat_id = $1`, chatID).Scan(
		&detail.ChatID,
		&detail.Title,
		&detail.CreatedAt,
		&detail.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return conversation.ChatDetail{}, conversation.ErrNotFound
		}
		return conversation.ChatDetail{}, fmt.Errorf("get chat: %w", err)
	}

	messages, err := s.listMessages(ctx, chatID)
	if err != nil {
		return conversation.ChatDetail{}, err
	}
	if err := s.attachVisualizations(ctx, chatID, messages); err != nil {
		return conversation.ChatDetail{}, err
	}

	detail.Messages = messages
	detail.MessageCount = int64(len(messages))
	return detail, nil
}

func (s *Store) listMessages(ctx context.Context, chatID int64) ([]conversation.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT message_id, chat_id, message_text, generated_sql, message_order, created_at
FROM chat_messages
WHERE chat_id = $1
ORDER BY message_order ASC`, chatID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	messages := make([]conversation.Message, 0)
	for rows.Next() {
		var message conversation.Message
		if err := rows.Scan(
			&message.MessageID,
			&message.ChatID,
			&message.Text,
			&message.GeneratedSQL,
			&message.OrderIndex,
			&message.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		message.Visualizations = make([]conversation.Visualization, 0)
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return messages, nil
}

func (s *Store) attachVisualizations(ctx context.Context, chatID int64, messages []conversation.Message) error {
	if len(messages) == 0 {
		return nil
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT v.viz_id, v.message_id, v.visualization_type, v.data_json, v.chart_config, v.created_at
FROM chat_visualizations AS v
JOIN chat_messages AS m ON m.message_id = v.message_id
WHERE m.chat_id = $1
ORDER BY v.message_id ASC, v.created_at ASC, v.viz_id ASC`, chatID)
	if err != nil {
		return fmt.Errorf("list visualizations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	byMessage := make(map[int64]int, len(messages))
	for i, message := range messages {
		byMessage[message.MessageID] = i
	}

	for rows.Next() {
		var viz conversation.Visualization
		if err := rows.Scan(
			&viz.VizID,
			&viz.MessageID,
			&viz.Type,
			&viz.DataJSON,
			&viz.ChartConfig,
			&viz.CreatedAt,
		); err != nil {
			return fmt.Errorf("scan visualization row: %w", err)
		}
		if i, ok := byMessage[viz.MessageID]; ok {
			messages[i].Visualizations = append(messages[i].Visualizations, viz)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate visualization rows: %w", err)
	}
	return nil
}

// AddMessage assigns the next per-chat order index and bumps the parent
// chat's updated_at in one transaction. The parent row is locked first so
// concurrent callers on the same chat serialize instead of colliding on
// message_order.
func (s *Store) AddMessage(ctx context.Context, in conversation.AddMessageInput) (conversation.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return conversation.Message{}, fmt.Errorf("begin add message tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var lockedID int64
	if err := tx.QueryRowContext(ctx, `
SELECT chat_id
FROM chats
WHERE chat_id = $1
FOR UPDATE`, in.ChatID).Scan(&lockedID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return conversation.Message{}, conversation.ErrNotFound
		}
		return conversation.Message{}, fmt.Errorf("lock chat: %w", err)
	}

	var message conversation.Message
	message.ChatID = in.ChatID
	message.Text = in.Text
	message.GeneratedSQL = in.GeneratedSQL
	if err := tx.QueryRowContext(ctx, `
INSERT INTO chat_messages (chat_id, message_text, generated_sql, message_order)
SELECT $1, $2, $3, COALESCE(MAX(message_order), 0) + 1
FROM chat_messages
WHERE chat_id = $1
RETURNING message_id, message_order, created_at`, in.ChatID, in.Text, in.GeneratedSQL).Scan(
		&message.MessageID,
		&message.OrderIndex,
		&message.CreatedAt,
	); err != nil {
		return conversation.Message{}, fmt.Errorf("insert message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
UPDATE chats
SET updated_at = CURRENT_TIMESTAMP
WHERE chat_id = $1`, in.ChatID); err != nil {
		return conversation.Message{}, fmt.Errorf("bump chat updated_at: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return conversation.Message{}, fmt.Errorf("commit add message tx: %w", err)
	}
	message.Visualizations = make([]conversation.Visualization, 0)
	return message, nil
}

func (s *Store) AddVisualization(ctx context.Context, in conversation.AddVisualizationInput) (conversation.Visualization, error) {
	dataJSON := in.DataJSON
	if len(dataJSON) == 0 {
		dataJSON = []byte("{}")
	}

	query := `
INSERT INTO chat_visualizations (message_id, visualization_type, data_json, chart_config)
VALUES ($1, $2, $3::jsonb, $4::jsonb)
RETURNING viz_id, created_at`

	var viz conversation.Visualization
	viz.MessageID = in.MessageID
	viz.Type = in.Type
	viz.DataJSON = dataJSON
	viz.ChartConfig = in.ChartConfig

	var chartConfig any
	if len(in.ChartConfig) > 0 {
		chartConfig = string(in.ChartConfig)
	}
	if err := s.db.QueryRowContext(ctx, query, in.MessageID, in.Type, string(dataJSON), chartConfig).Scan(
		&viz.VizID,
		&viz.CreatedAt,
	); err != nil {
		if isForeignKeyViolation(err) {
			return conversation.Visualization{}, conversation.ErrNotFound
		}
		return conversation.Visualization{}, fmt.Errorf("add visualization: %w", err)
	}
	return viz, nil
}

func (s *Store) RenameChat(ctx context.Context, chatID int64, title string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
UPDATE chats
SET title = $2, updated_at = CURRENT_TIMESTAMP
WHERE chat_id = $1`, chatID, title)
	if err != nil {
		return false, fmt.Errorf("rename chat: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rename chat rows affected: %w", err)
	}
	return rows > 0, nil
}

func (s *Store) DeleteChat(ctx context.Context, chatID int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
DELETE FROM chats
WHERE chat_id = $1`, chatID)
	if err != nil {
		return false, fmt.Errorf("delete chat: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete chat rows affected: %w", err)
	}
	return rows > 0, nil
}

func (s *Store) DeleteEmptyChats(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
DELETE FROM chats
WHERE NOT EXISTS (
    SELECT 1 FROM chat_messages WHERE chat_messages.chat_id = chats.chat_id
)`)
	if err != nil {
		return 0, fmt.Errorf("delete empty chats: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete empty chats rows affected: %w", err)
	}
	return deleted, nil
}

func (s *Store) DeleteIncompleteChats(ctx context.Context) (int64, error) {
	patterns := make([]string, 0, len(conversation.PlaceholderTitlePrefixes))
	for _, prefix := range conversation.PlaceholderTitlePrefixes {
		patterns = append(patterns, prefix+"%")
	}

	result, err := s.db.ExecContext(ctx, `
DELETE FROM chats
WHERE title LIKE ANY($1)
AND NOT EXISTS (
    SELECT 1 FROM chat_messages WHERE chat_messages.chat_id = chats.chat_id
)`, pgTextArray(patterns))
	if err != nil {
		return 0, fmt.Errorf("delete incomplete chats: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete incomplete chats rows affected: %w", err)
	}
	return deleted, nil
}

func pgTextArray(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, value := range values {
		quoted = append(quoted, `"`+strings.ReplaceAll(value, `"`, `\"`)+`"`)
	}
	return "{" + strings.Join(quoted, ",") + "}"
}

func isForeignKeyViolation(err error) bool {
	type sqlState interface{ SQLState() string }
	var coded sqlState
	if errors.As(err, &coded) {
		return coded.SQLState() == "23503"
	}
	return false
}
