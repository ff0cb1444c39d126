package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/psds-microservice/support-chat-service/internal/errs"
	"github.com/psds-microservice/support-chat-service/internal/model"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// stubDirectory подменяет user-service в тестах.
type stubDirectory map[string]*model.User

func (d stubDirectory) GetUser(_ context.Context, id string) (*model.User, error) {
	u, ok := d[id]
	if !ok {
		return nil, errs.ErrUserNotFound
	}
	return u, nil
}

func testUsers() stubDirectory {
	return stubDirectory{
		"u1": {ID: "u1", Email: "owner@gallery.com", Role: model.RoleUser},
		"u2": {ID: "u2", Email: "stranger@gallery.com", Role: model.RoleUser},
		"s1": {ID: "s1", Email: "support@gallery.com", Role: model.RoleSupport},
		"a1": {ID: "a1", Email: "admin@gallery.com", Role: model.RoleAdmin},
	}
}

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&model.Ticket{}, &model.Message{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func setupServices(t *testing.T) (*TicketService, *MessageService, stubDirectory) {
	t.Helper()
	db := setupDB(t)
	users := testUsers()
	return NewTicketService(db, users), NewMessageService(db, users), users
}

// recordBroadcaster фиксирует рассылки для проверок порядка.
type recordBroadcaster struct {
	mu   sync.Mutex
	msgs []*model.Message
}

func (r *recordBroadcaster) BroadcastNewMessage(_ uint64, m *model.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
}

func (r *recordBroadcaster) recorded() []*model.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.Message, len(r.msgs))
	copy(out, r.msgs)
	return out
}

func TestCreateTicketSeedsFirstMessage(t *testing.T) {
	tickets, messages, _ := setupServices(t)
	ctx := context.Background()

	tk, err := tickets.Create(ctx, "u1", "upload", "cannot upload video")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if tk.Status != model.TicketStatusOpen {
		t.Errorf("status = %s, want open", tk.Status)
	}
	if tk.Priority != model.TicketPriorityMedium {
		t.Errorf("priority = %s, want medium", tk.Priority)
	}
	if tk.UserEmail != "owner@gallery.com" {
		t.Errorf("user_email = %s, want denormalized owner email", tk.UserEmail)
	}

	items, err := messages.ListByTicket(ctx, tk.ID)
	if err != nil {
		t.Fatalf("ListByTicket: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("seed messages = %d, want 1", len(items))
	}
	if items[0].Body != "cannot upload video" {
		t.Errorf("seed body = %q", items[0].Body)
	}
	if items[0].SenderType != model.SenderTypeUser {
		t.Errorf("seed sender_type = %s, want user", items[0].SenderType)
	}
}

func TestCreateTicketValidation(t *testing.T) {
	tickets, _, _ := setupServices(t)
	ctx := context.Background()

	if _, err := tickets.Create(ctx, "u1", "upload", "   "); !errors.Is(err, errs.ErrInvalidInput) {
		t.Errorf("blank description: err = %v, want ErrInvalidInput", err)
	}
	if _, err := tickets.Create(ctx, "ghost", "upload", "help"); !errors.Is(err, errs.ErrUserNotFound) {
		t.Errorf("unknown user: err = %v, want ErrUserNotFound", err)
	}
}

func TestAppendResolvesSenderType(t *testing.T) {
	tickets, messages, _ := setupServices(t)
	ctx := context.Background()

	tk, err := tickets.Create(ctx, "u1", "account", "locked out")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	cases := []struct {
		sender string
		want   model.SenderType
	}{
		{"u1", model.SenderTypeUser},
		{"s1", model.SenderTypeSupport},
		{"a1", model.SenderTypeSupport},
	}
	for _, c := range cases {
		m, err := messages.Append(ctx, tk.ID, c.sender, "hello from "+c.sender)
		if err != nil {
			t.Fatalf("Append(%s): %v", c.sender, err)
		}
		if m.SenderType != c.want {
			t.Errorf("sender %s: sender_type = %s, want %s", c.sender, m.SenderType, c.want)
		}
	}

	// тип зафиксирован при записи и читается как есть
	items, err := messages.ListByTicket(ctx, tk.ID)
	if err != nil {
		t.Fatalf("ListByTicket: %v", err)
	}
	if items[len(items)-1].SenderType != model.SenderTypeSupport {
		t.Errorf("stored sender_type = %s, want support", items[len(items)-1].SenderType)
	}
}

func TestAppendValidation(t *testing.T) {
	tickets, messages, _ := setupServices(t)
	ctx := context.Background()

	tk, err := tickets.Create(ctx, "u1", "other", "seed")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := messages.Append(ctx, tk.ID, "u1", "   \t  "); !errors.Is(err, errs.ErrInvalidInput) {
		t.Errorf("blank body: err = %v, want ErrInvalidInput", err)
	}
	if _, err := messages.Append(ctx, tk.ID, "ghost", "hi"); !errors.Is(err, errs.ErrUserNotFound) {
		t.Errorf("unknown sender: err = %v, want ErrUserNotFound", err)
	}
	if _, err := messages.Append(ctx, 9999, "u1", "hi"); !errors.Is(err, errs.ErrTicketNotFound) {
		t.Errorf("missing ticket: err = %v, want ErrTicketNotFound", err)
	}

	n, err := messages.CountByTicket(ctx, tk.ID)
	if err != nil {
		t.Fatalf("CountByTicket: %v", err)
	}
	if n != 1 {
		t.Errorf("count after failed appends = %d, want 1 (seed only)", n)
	}
}

func TestAppendBumpsTicketUpdatedAt(t *testing.T) {
	tickets, messages, _ := setupServices(t)
	ctx := context.Background()

	tk, err := tickets.Create(ctx, "u1", "billing", "seed")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	var last *model.Message
	for i := 0; i < 5; i++ {
		last, err = messages.Append(ctx, tk.ID, "u1", fmt.Sprintf("message %d", i))
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := tickets.GetByID(ctx, tk.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.UpdatedAt.Before(last.CreatedAt) {
		t.Errorf("updated_at = %v is older than last append %v", got.UpdatedAt, last.CreatedAt)
	}
	if got.UpdatedAt.Sub(last.CreatedAt) > time.Second {
		t.Errorf("updated_at = %v drifted from last append %v", got.UpdatedAt, last.CreatedAt)
	}
}

func TestListByTicketAscending(t *testing.T) {
	tickets, messages, _ := setupServices(t)
	db := messages.db
	ctx := context.Background()

	tk, err := tickets.Create(ctx, "u1", "other", "seed")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	// вставка в перемешанном порядке напрямую в журнал
	base := time.Now().UTC().Add(time.Minute)
	for _, off := range []time.Duration{3 * time.Second, time.Second, 2 * time.Second} {
		m := &model.Message{
			TicketID:   tk.ID,
			SenderID:   "u1",
			SenderType: model.SenderTypeUser,
			Body:       fmt.Sprintf("at +%s", off),
			CreatedAt:  base.Add(off),
		}
		if err := db.Create(m).Error; err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	items, err := messages.ListByTicket(ctx, tk.ID)
	if err != nil {
		t.Fatalf("ListByTicket: %v", err)
	}
	if len(items) != 4 {
		t.Fatalf("len = %d, want 4", len(items))
	}
	for i := 1; i < len(items); i++ {
		if items[i].CreatedAt.Before(items[i-1].CreatedAt) {
			t.Errorf("order violated at %d: %v before %v", i, items[i].CreatedAt, items[i-1].CreatedAt)
		}
	}
}

func TestListByTicketMissing(t *testing.T) {
	_, messages, _ := setupServices(t)
	if _, err := messages.ListByTicket(context.Background(), 777); !errors.Is(err, errs.ErrTicketNotFound) {
		t.Errorf("err = %v, want ErrTicketNotFound", err)
	}
}

func TestChatSendMessageAccessDenied(t *testing.T) {
	tickets, messages, users := setupServices(t)
	rec := &recordBroadcaster{}
	chat := NewChatService(tickets, messages, users, rec, nil)
	ctx := context.Background()

	tk, err := tickets.Create(ctx, "u1", "upload", "D1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	// саппорт отвечает
	if _, err := chat.SendMessage(ctx, tk.ID, "s1", "hello", ""); err != nil {
		t.Fatalf("support SendMessage: %v", err)
	}
	// посторонний получает отказ без следов в журнале
	if _, err := chat.SendMessage(ctx, tk.ID, "u2", "let me in", ""); !errors.Is(err, errs.ErrAccessDenied) {
		t.Fatalf("stranger err = %v, want ErrAccessDenied", err)
	}

	n, err := messages.CountByTicket(ctx, tk.ID)
	if err != nil {
		t.Fatalf("CountByTicket: %v", err)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2 (seed + support reply)", n)
	}
	if got := len(rec.recorded()); got != 1 {
		t.Errorf("broadcasts = %d, want 1", got)
	}
}

func TestChatSendMessageCarriesClientTag(t *testing.T) {
	tickets, messages, users := setupServices(t)
	rec := &recordBroadcaster{}
	chat := NewChatService(tickets, messages, users, rec, nil)
	ctx := context.Background()

	tk, err := tickets.Create(ctx, "u1", "upload", "seed")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	m, err := chat.SendMessage(ctx, tk.ID, "u1", "ping", "tag-123")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if m.ClientTag != "tag-123" {
		t.Errorf("returned client_tag = %q", m.ClientTag)
	}
	got := rec.recorded()
	if len(got) != 1 || got[0].ClientTag != "tag-123" {
		t.Fatalf("broadcast client_tag missing: %+v", got)
	}
	// метка не сохраняется
	items, err := messages.ListByTicket(ctx, tk.ID)
	if err != nil {
		t.Fatalf("ListByTicket: %v", err)
	}
	for _, it := range items {
		if it.ClientTag != "" {
			t.Errorf("persisted client_tag = %q, want empty", it.ClientTag)
		}
	}
}

func TestChatConcurrentSendsKeepOrder(t *testing.T) {
	tickets, messages, users := setupServices(t)
	rec := &recordBroadcaster{}
	chat := NewChatService(tickets, messages, users, rec, nil)
	ctx := context.Background()

	tk, err := tickets.Create(ctx, "u1", "upload", "seed")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := chat.SendMessage(ctx, tk.ID, "u1", fmt.Sprintf("concurrent %d", i), ""); err != nil {
				t.Errorf("SendMessage %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	items, err := messages.ListByTicket(ctx, tk.ID)
	if err != nil {
		t.Fatalf("ListByTicket: %v", err)
	}
	if len(items) != n+1 {
		t.Fatalf("stored = %d, want %d", len(items), n+1)
	}

	// порядок рассылки совпадает с порядком журнала
	got := rec.recorded()
	if len(got) != n {
		t.Fatalf("broadcasts = %d, want %d", len(got), n)
	}
	for i := 0; i < n; i++ {
		if got[i].ID != items[i+1].ID {
			t.Errorf("broadcast %d has id %d, log has %d", i, got[i].ID, items[i+1].ID)
		}
	}

	// финальный updated_at — от последнего завершившегося append
	final, err := tickets.GetByID(ctx, tk.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	lastCreated := items[len(items)-1].CreatedAt
	if final.UpdatedAt.Before(lastCreated) {
		t.Errorf("updated_at = %v older than last append %v", final.UpdatedAt, lastCreated)
	}
}

func TestDeleteCascades(t *testing.T) {
	tickets, messages, _ := setupServices(t)
	ctx := context.Background()

	tk, err := tickets.Create(ctx, "u1", "upload", "seed")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := messages.Append(ctx, tk.ID, "s1", "on it"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if err := tickets.Delete(ctx, tk.ID, "u1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := tickets.GetByID(ctx, tk.ID); !errors.Is(err, errs.ErrTicketNotFound) {
		t.Errorf("ticket after delete: err = %v, want ErrTicketNotFound", err)
	}
	n, err := messages.CountByTicket(ctx, tk.ID)
	if err != nil {
		t.Fatalf("CountByTicket: %v", err)
	}
	if n != 0 {
		t.Errorf("messages after delete = %d, want 0", n)
	}
}

func TestDeleteOwnerOnly(t *testing.T) {
	tickets, _, _ := setupServices(t)
	ctx := context.Background()

	tk, err := tickets.Create(ctx, "u1", "upload", "seed")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	// саппорт и админ могут вести тикет, но не удалять его за владельца
	for _, actor := range []string{"s1", "a1", "u2"} {
		if err := tickets.Delete(ctx, tk.ID, actor); !errors.Is(err, errs.ErrAccessDenied) {
			t.Errorf("Delete by %s: err = %v, want ErrAccessDenied", actor, err)
		}
	}
	if _, err := tickets.GetByID(ctx, tk.ID); err != nil {
		t.Errorf("ticket must survive denied deletes: %v", err)
	}
}

func TestUpdateTicket(t *testing.T) {
	tickets, _, _ := setupServices(t)
	ctx := context.Background()

	tk, err := tickets.Create(ctx, "u1", "upload", "seed")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := tickets.Update(ctx, tk.ID, "s1", map[string]interface{}{
		"status":      string(model.TicketStatusInProgress),
		"priority":    string(model.TicketPriorityHigh),
		"assigned_to": "s1",
	})
	if err != nil {
		t.Fatalf("Update by support: %v", err)
	}
	if got.Status != model.TicketStatusInProgress || got.Priority != model.TicketPriorityHigh || got.AssignedTo != "s1" {
		t.Errorf("update not applied: %+v", got)
	}

	if _, err := tickets.Update(ctx, tk.ID, "u2", map[string]interface{}{"status": "closed"}); !errors.Is(err, errs.ErrAccessDenied) {
		t.Errorf("stranger update: err = %v, want ErrAccessDenied", err)
	}
	if _, err := tickets.Update(ctx, tk.ID, "s1", map[string]interface{}{}); !errors.Is(err, errs.ErrInvalidInput) {
		t.Errorf("empty update: err = %v, want ErrInvalidInput", err)
	}
}

func TestListAllRequiresSupport(t *testing.T) {
	tickets, _, _ := setupServices(t)
	ctx := context.Background()

	if _, err := tickets.Create(ctx, "u1", "upload", "a"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := tickets.Create(ctx, "u2", "billing", "b"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	all, err := tickets.ListAll(ctx, "s1")
	if err != nil {
		t.Fatalf("ListAll by support: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("ListAll = %d tickets, want 2", len(all))
	}
	if _, err := tickets.ListAll(ctx, "u1"); !errors.Is(err, errs.ErrAccessDenied) {
		t.Errorf("ListAll by user: err = %v, want ErrAccessDenied", err)
	}
}

func TestListByUserNewestFirst(t *testing.T) {
	tickets, _, _ := setupServices(t)
	db := tickets.db
	ctx := context.Background()

	older := &model.Ticket{
		UserID: "u1", UserEmail: "owner@gallery.com", IssueType: "a", Description: "old",
		Status: model.TicketStatusOpen, CreatedAt: time.Now().UTC().Add(-time.Hour),
	}
	newer := &model.Ticket{
		UserID: "u1", UserEmail: "owner@gallery.com", IssueType: "b", Description: "new",
		Status: model.TicketStatusOpen, CreatedAt: time.Now().UTC(),
	}
	for _, tk := range []*model.Ticket{older, newer} {
		if err := db.Create(tk).Error; err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	items, err := tickets.ListByUser(ctx, "u1")
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("len = %d, want 2", len(items))
	}
	if items[0].Description != "new" {
		t.Errorf("first item = %q, want newest", items[0].Description)
	}
}

func TestAuthorize(t *testing.T) {
	tickets, messages, users := setupServices(t)
	chat := NewChatService(tickets, messages, users, &recordBroadcaster{}, nil)
	ctx := context.Background()

	tk, err := tickets.Create(ctx, "u1", "upload", "seed")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	for _, id := range []string{"u1", "s1", "a1"} {
		if _, _, err := chat.Authorize(ctx, tk.ID, id); err != nil {
			t.Errorf("Authorize(%s): %v", id, err)
		}
	}
	if _, _, err := chat.Authorize(ctx, tk.ID, "u2"); !errors.Is(err, errs.ErrAccessDenied) {
		t.Errorf("Authorize(stranger): err = %v, want ErrAccessDenied", err)
	}
	if _, _, err := chat.Authorize(ctx, 555, "u1"); !errors.Is(err, errs.ErrTicketNotFound) {
		t.Errorf("Authorize(missing ticket): err = %v, want ErrTicketNotFound", err)
	}
}
