// Package conversation defines the durable chat thread model: a Chat owns
// ordered Messages, and each Message owns zero or more Visualizations.
package conversation

import (
	"context"
	"errors"
	"strings"
	"time"
)

var ErrNotFound = errors.New("conversation: not found")

// DefaultTitle is used when a title cannot be derived from message text.
const DefaultTitle = "New chat"

// Placeholder title prefixes assigned to chats created before translation
// finishes. Chats abandoned with one of these titles and no messages are
// removed by the incomplete-chat sweep.
var PlaceholderTitlePrefixes = []string{"Processing query", "New query"}

type Store interface {
	HealthCheck(ctx context.Context) error
	CreateChat(ctx context.Context, title string) (Chat, error)
	ListChats(ctx context.Context) ([]Chat, error)
	GetChat(ctx context.Context, chatID int64) (ChatDetail, error)
	AddMessage(ctx context.Context, in AddMessageInput) (Message, error)
	AddVisualization(ctx context.Context, in AddVisualizationInput) (Visualization, error)
	RenameChat(ctx context.Context, chatID int64, title string) (bool, error)
	DeleteChat(ctx context.Context, chatID int64) (bool, error)
	DeleteEmptyChats(ctx context.Context) (int64, error)
	DeleteIncompleteChats(ctx context.Context) (int64, error)
}

type Chat struct {
	ChatID       int64
	Title        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	MessageCount int64
}

type ChatDetail struct {
	Chat
	Messages []Message
}

type Message struct {
	MessageID      int64
	ChatID         int64
	Text           string
	GeneratedSQL   *string
	OrderIndex     int
	CreatedAt      time.Time
	Visualizations []Visualization
}

type Visualization struct {
	VizID       int64
	MessageID   int64
	Type        string
	DataJSON    []byte
	ChartConfig []byte
	CreatedAt   time.Time
}

type AddMessageInput struct {
	ChatID       int64
	Text         string
	GeneratedSQL *string
}

type AddVisualizationInput struct {
	MessageID   int64
	Type        string
	DataJSON    []byte
	ChartConfig []byte
}

const (
	titleTokenLimit = 8
	titleRuneLimit  = 50
)

// DeriveTitle builds a chat title from message text: the first eight
// whitespace-separated tokens, truncated to fifty runes with an ellipsis
// marker. Blank input yields DefaultTitle.
func DeriveTitle(text string) string {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return DefaultTitle
	}
	if len(tokens) > titleTokenLimit {
		tokens = tokens[:titleTokenLimit]
	}
	title := strings.Join(tokens, " ")
	if runes := []rune(title); len(runes) > titleRuneLimit {
		title = string(runes[:titleRuneLimit]) + "..."
	}
	return title
}

// PlaceholderTitle names a chat created before its first message exists.
func PlaceholderTitle(now time.Time) string {
	return DefaultTitle + " - " + now.Format("02.01.2006 15:04")
}
