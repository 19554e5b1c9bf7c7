//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/askdb/askdb/internal/conversation"
	"github.com/askdb/askdb/internal/migrations"
)

func TestStoreAgainstRealPostgres(t *testing.T) {
	adminDSN := strings.TrimSpace(os.Getenv("ASKDB_TEST_DSN"))
	if adminDSN == "" {
		t.Skip("ASKDB_TEST_DSN is not set")
	}

	testDSN, cleanup := createTemporaryDatabase(t, adminDSN)
	defer cleanup()

	db, err := sql.Open("pgx", testDSN)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if _, err := migrations.NewRunner().Up(ctx, db, 0); err != nil {
		t.Fatalf("migrations up error = %v", err)
	}

	store := NewStore(db)

	t.Run("cascade delete removes messages and visualizations", func(t *testing.T) {
		chat, err := store.CreateChat(ctx, "Branch Balances")
		if err != nil {
			t.Fatalf("CreateChat() error = %v", err)
		}
		sqlText := "SELECT branch_name, balance FROM branches"
		message, err := store.AddMessage(ctx, conversation.AddMessageInput{ChatID: chat.ChatID, Text: "Show branch balances", GeneratedSQL: &sqlText})
		if err != nil {
			t.Fatalf("AddMessage() error = %v", err)
		}
		if _, err := store.AddVisualization(ctx, conversation.AddVisualizationInput{
			MessageID: message.MessageID,
			Type:      "bar",
			DataJSON:  []byte(`{"columns":["branch_name","balance"],"rows":[["Downtown",1250.75]]}`),
		}); err != nil {
			t.Fatalf("AddVisualization() error = %v", err)
		}

		deleted, err := store.DeleteChat(ctx, chat.ChatID)
		if err != nil || !deleted {
			t.Fatalf("DeleteChat() = %v, %v", deleted, err)
		}

		assertCount(t, db, "chat_messages", 0)
		assertCount(t, db, "chat_visualizations", 0)
	})

	t.Run("concurrent AddMessage keeps message_order dense and unique", func(t *testing.T) {
		chat, err := store.CreateChat(ctx, "Concurrency")
		if err != nil {
			t.Fatalf("CreateChat() error = %v", err)
		}

		const writers = 8
		var wg sync.WaitGroup
		errs := make(chan error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				_, err := store.AddMessage(ctx, conversation.AddMessageInput{ChatID: chat.ChatID, Text: fmt.Sprintf("question %d", n)})
				errs <- err
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("AddMessage() error = %v", err)
			}
		}

		detail, err := store.GetChat(ctx, chat.ChatID)
		if err != nil {
			t.Fatalf("GetChat() error = %v", err)
		}
		if len(detail.Messages) != writers {
			t.Fatalf("messages = %d, want %d", len(detail.Messages), writers)
		}
		for i, message := range detail.Messages {
			if message.OrderIndex != i+1 {
				t.Fatalf("message %d order = %d, want %d", i, message.OrderIndex, i+1)
			}
		}

		if _, err := store.DeleteChat(ctx, chat.ChatID); err != nil {
			t.Fatalf("DeleteChat() error = %v", err)
		}
	})

	t.Run("sweeps are idempotent", func(t *testing.T) {
		if _, err := store.CreateChat(ctx, ""); err != nil {
			t.Fatalf("CreateChat() error = %v", err)
		}
		if _, err := store.CreateChat(ctx, "Processing query: balances"); err != nil {
			t.Fatalf("CreateChat() error = %v", err)
		}

		empty, err := store.DeleteEmptyChats(ctx)
		if err != nil {
			t.Fatalf("DeleteEmptyChats() error = %v", err)
		}
		if empty != 2 {
			t.Fatalf("DeleteEmptyChats() = %d, want 2", empty)
		}

		empty, err = store.DeleteEmptyChats(ctx)
		if err != nil || empty != 0 {
			t.Fatalf("second DeleteEmptyChats() = %d, %v", empty, err)
		}
		incomplete, err := store.DeleteIncompleteChats(ctx)
		if err != nil || incomplete != 0 {
			t.Fatalf("DeleteIncompleteChats() = %d, %v", incomplete, err)
		}
	})
}

func createTemporaryDatabase(t *testing.T, adminDSN string) (string, func()) {
	t.Helper()

	parsed, err := url.Parse(adminDSN)
	if err != nil {
		t.Fatalf("url.Parse(adminDSN) error = %v", err)
	}
	if strings.TrimPrefix(parsed.Path, "/") == "" {
		t.Fatal("admin DSN must include a database name")
	}

	adminDB, err := sql.Open("pgx", adminDSN)
	if err != nil {
		t.Fatalf("sql.Open(adminDSN) error = %v", err)
	}

	name := fmt.Sprintf("askdb_it_%d", time.Now().UnixNano())
	if _, err := adminDB.Exec(`CREATE DATABASE ` + name); err != nil {
		t.Fatalf("CREATE DATABASE failed: %v", err)
	}

	testURL := *parsed
	testURL.Path = "/" + name
	testDSN := testURL.String()

	cleanup := func() {
		defer func() { _ = adminDB.Close() }()
		if _, err := adminDB.Exec(`SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = $1`, name); err != nil {
			t.Fatalf("terminate test db sessions: %v", err)
		}
		if _, err := adminDB.Exec(`DROP DATABASE ` + name); err != nil {
			t.Fatalf("DROP DATABASE failed: %v", err)
		}
	}
	return testDSN, cleanup
}

func assertCount(t *testing.T, db *sql.DB, table string, expected int) {
	t.Helper()
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&count); err != nil {
		t.Fatalf("count %s failed: %v", table, err)
	}
	if count != expected {
		t.Fatalf("%s count = %d, want %d", table, count, expected)
	}
}
