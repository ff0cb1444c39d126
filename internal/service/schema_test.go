package service

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Схема из database/migrations, переведённая на sqlite: колонки и их имена
// те же, что создаёт миграция в Postgres. AutoMigrate здесь не используется
// намеренно, чтобы ловить расхождения между gorm-тегами и миграцией.
const migratedSchema = `
CREATE TABLE support_tickets (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id     VARCHAR(64)  NOT NULL,
    user_email  VARCHAR(255) NOT NULL,
    issue_type  VARCHAR(64)  NOT NULL,
    description TEXT         NOT NULL,
    status      VARCHAR(32)  NOT NULL DEFAULT 'open',
    priority    VARCHAR(32)  NOT NULL DEFAULT 'medium',
    assigned_to VARCHAR(64),
    created_at  DATETIME     NOT NULL,
    updated_at  DATETIME     NOT NULL
);
CREATE TABLE support_messages (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    ticket_id   INTEGER     NOT NULL REFERENCES support_tickets (id),
    sender_id   VARCHAR(64) NOT NULL,
    sender_type VARCHAR(16) NOT NULL,
    message     TEXT        NOT NULL,
    created_at  DATETIME    NOT NULL
);
`

func setupMigratedDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	for _, stmt := range strings.Split(migratedSchema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("exec schema: %v", err)
		}
	}
	return db
}

func TestServicesAgainstMigratedSchema(t *testing.T) {
	db := setupMigratedDB(t)
	users := testUsers()
	tickets := NewTicketService(db, users)
	messages := NewMessageService(db, users)
	ctx := context.Background()

	tk, err := tickets.Create(ctx, "u1", "payment", "seed text")
	if err != nil {
		t.Fatalf("Create against migrated schema: %v", err)
	}

	if _, err := messages.Append(ctx, tk.ID, "s1", "reply"); err != nil {
		t.Fatalf("Append against migrated schema: %v", err)
	}

	items, err := messages.ListByTicket(ctx, tk.ID)
	if err != nil {
		t.Fatalf("ListByTicket against migrated schema: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("messages = %d, want 2", len(items))
	}
	if items[0].Body != "seed text" || items[1].Body != "reply" {
		t.Errorf("bodies did not round-trip: %q, %q", items[0].Body, items[1].Body)
	}

	// тело пишется именно в колонку message, как в миграции
	var body string
	row := db.Raw("SELECT message FROM support_messages ORDER BY id LIMIT 1").Row()
	if err := row.Scan(&body); err != nil {
		t.Fatalf("scan message column: %v", err)
	}
	if body != "seed text" {
		t.Errorf("message column = %q, want %q", body, "seed text")
	}
}
