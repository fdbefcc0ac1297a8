package store

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/matheus3301/wppdesk/internal/feed"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type recordedChange struct {
	Table string
	Type  feed.EventType
	Row   any
}

type recorder struct {
	mu      sync.Mutex
	changes []recordedChange
}

func (r *recorder) Publish(table string, t feed.EventType, row any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, recordedChange{table, t, row})
	return nil
}

func (r *recorder) tables() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, c := range r.changes {
		out = append(out, c.Table+"."+string(c.Type))
	}
	return out
}

func seedInstance(t *testing.T, db *DB, name, owner string) {
	t.Helper()
	if err := db.AddInstance(context.Background(), Instance{Name: name, OwnerID: owner}); err != nil {
		t.Fatal(err)
	}
}

func ingest(t *testing.T, db *DB, m Message) *Message {
	t.Helper()
	out, err := db.IngestMessage(context.Background(), &m)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := testDB(t)

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

func TestAddInstanceOwnership(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	seedInstance(t, db, "inst-1", "owner-a")
	// Re-adding for the same owner is fine.
	seedInstance(t, db, "inst-1", "owner-a")

	err := db.AddInstance(ctx, Instance{Name: "inst-1", OwnerID: "owner-b"})
	if !errors.Is(err, ErrInstanceTaken) {
		t.Errorf("err = %v, want ErrInstanceTaken", err)
	}

	seedInstance(t, db, "inst-2", "owner-a")
	names, err := db.InstanceNames(ctx, "owner-a")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 || names[0] != "inst-1" || names[1] != "inst-2" {
		t.Errorf("names = %v, want [inst-1 inst-2]", names)
	}
}

func TestIngestCreatesAndUpdatesConversation(t *testing.T) {
	db := testDB(t)
	rec := &recorder{}
	db.OnChange(rec)
	seedInstance(t, db, "inst-1", "owner-a")

	first := ingest(t, db, Message{InstanceName: "inst-1", ContactNumber: "5511", SenderName: "Ana",
		Body: "oi", Direction: Inbound, CreatedAt: 1000})
	ingest(t, db, Message{InstanceName: "inst-1", ContactNumber: "5511", SenderName: "Agent Bob",
		Body: "hello", Direction: Outbound, CreatedAt: 2000})
	// Older message arriving late must not rewind the preview.
	ingest(t, db, Message{InstanceName: "inst-1", ContactNumber: "5511", Body: "late",
		Direction: Inbound, CreatedAt: 500})

	c, err := db.GetConversation(context.Background(), first.ConversationID)
	if err != nil {
		t.Fatal(err)
	}
	if c == nil {
		t.Fatal("conversation not created")
	}
	if c.ContactName != "Ana" {
		t.Errorf("contact_name = %q, want Ana (outbound sender name is not trusted)", c.ContactName)
	}
	if c.LastMessage != "hello" || c.LastMessageAt != 2000 {
		t.Errorf("preview = %q@%d, want hello@2000", c.LastMessage, c.LastMessageAt)
	}
	if c.UnreadCount != 2 {
		t.Errorf("unread = %d, want 2", c.UnreadCount)
	}

	got := rec.tables()
	want := []string{
		"conversations.INSERT", "messages.INSERT",
		"conversations.UPDATE", "messages.INSERT",
		"conversations.UPDATE", "messages.INSERT",
	}
	if len(got) != len(want) {
		t.Fatalf("changes = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("change[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestIngestUnknownInstance(t *testing.T) {
	db := testDB(t)
	_, err := db.IngestMessage(context.Background(), &Message{
		InstanceName: "ghost", ContactNumber: "1", Body: "x", Direction: Inbound,
	})
	if !errors.Is(err, ErrUnknownInstance) {
		t.Errorf("err = %v, want ErrUnknownInstance", err)
	}
}

func TestIngestRejectsInvalidMessages(t *testing.T) {
	db := testDB(t)
	seedInstance(t, db, "inst-1", "owner-a")

	tests := []struct {
		name string
		msg  Message
	}{
		{"no contact", Message{InstanceName: "inst-1", Direction: Inbound}},
		{"bad direction", Message{InstanceName: "inst-1", ContactNumber: "1", Direction: "sideways"}},
		{"bad kind", Message{InstanceName: "inst-1", ContactNumber: "1", Direction: Inbound, Kind: "sticker"}},
		{"local id", Message{ID: "local-42", InstanceName: "inst-1", ContactNumber: "1", Direction: Outbound}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := db.IngestMessage(context.Background(), &tt.msg)
			if !errors.Is(err, ErrInvalidMessage) {
				t.Errorf("err = %v, want ErrInvalidMessage", err)
			}
		})
	}
}

func TestIngestIdempotentOnMessageID(t *testing.T) {
	db := testDB(t)
	rec := &recorder{}
	db.OnChange(rec)
	seedInstance(t, db, "inst-1", "owner-a")

	m := ingest(t, db, Message{ID: "m1", InstanceName: "inst-1", ContactNumber: "5511",
		Body: "v1", Direction: Inbound, CreatedAt: 1000})
	ingest(t, db, Message{ID: "m1", InstanceName: "inst-1", ContactNumber: "5511",
		Body: "v2", Direction: Inbound, CreatedAt: 1000})

	page, err := db.ListMessages(context.Background(), MessageQuery{ConversationID: m.ConversationID})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(page.Messages))
	}
	if page.Messages[0].Body != "v2" {
		t.Errorf("body = %q, want v2", page.Messages[0].Body)
	}

	c, err := db.GetConversation(context.Background(), m.ConversationID)
	if err != nil {
		t.Fatal(err)
	}
	if c.UnreadCount != 1 {
		t.Errorf("unread = %d, want 1 (same message counted twice)", c.UnreadCount)
	}
	if c.LastMessage != "v1" {
		t.Errorf("preview = %q, re-ingest should not advance it", c.LastMessage)
	}
	want := []string{"conversations.INSERT", "messages.INSERT", "messages.UPDATE"}
	if got := rec.tables(); !slices.Equal(got, want) {
		t.Errorf("changes = %v, want %v", got, want)
	}
}

func TestListConversationsScopeAndOrder(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	seedInstance(t, db, "inst-1", "owner-a")
	seedInstance(t, db, "inst-2", "owner-a")
	seedInstance(t, db, "other", "owner-b")

	ingest(t, db, Message{InstanceName: "inst-1", ContactNumber: "1", Body: "a", Direction: Inbound, CreatedAt: 1000})
	ingest(t, db, Message{InstanceName: "inst-2", ContactNumber: "2", Body: "b", Direction: Inbound, CreatedAt: 3000})
	ingest(t, db, Message{InstanceName: "inst-1", ContactNumber: "3", Body: "c", Direction: Inbound, CreatedAt: 2000})
	ingest(t, db, Message{InstanceName: "other", ContactNumber: "4", Body: "d", Direction: Inbound, CreatedAt: 4000})

	convs, err := db.ListConversations(ctx, ConversationQuery{OwnerID: "owner-a", Instances: []string{"inst-1"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 2 || convs[0].ContactNumber != "3" || convs[1].ContactNumber != "1" {
		t.Errorf("inst-1 conversations = %+v, want [3 1]", convs)
	}

	convs, err = db.ListConversations(ctx, ConversationQuery{
		OwnerID: "owner-a", Instances: []string{"inst-1", "inst-2", "other"}, Limit: 2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 2 || convs[0].ContactNumber != "2" || convs[1].ContactNumber != "3" {
		t.Errorf("limited conversations = %+v, want [2 3]", convs)
	}

	convs, err = db.ListConversations(ctx, ConversationQuery{OwnerID: "owner-a"})
	if err != nil || convs != nil {
		t.Errorf("no instances: got %v, %v; want nil, nil", convs, err)
	}
}

func TestListMessagesKeysetPagination(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	seedInstance(t, db, "inst-1", "owner-a")

	var convID string
	for i := 1; i <= 5; i++ {
		m := ingest(t, db, Message{InstanceName: "inst-1", ContactNumber: "1", Body: "m",
			Direction: Inbound, CreatedAt: int64(i * 1000)})
		convID = m.ConversationID
	}

	page, err := db.ListMessages(ctx, MessageQuery{ConversationID: convID, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Messages) != 2 || page.Messages[0].CreatedAt != 5000 || page.Messages[1].CreatedAt != 4000 {
		t.Fatalf("first page = %+v, want 5000,4000", page.Messages)
	}
	if page.Total != 5 {
		t.Errorf("total = %d, want 5", page.Total)
	}

	page, err = db.ListMessages(ctx, MessageQuery{ConversationID: convID, Before: 4000, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Messages) != 2 || page.Messages[0].CreatedAt != 3000 {
		t.Errorf("second page = %+v, want 3000,2000", page.Messages)
	}

	byContact, err := db.ListMessagesByContact(ctx, ContactMessageQuery{
		InstanceName: "inst-1", ContactNumber: "1", Before: 2000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(byContact.Messages) != 1 || byContact.Messages[0].CreatedAt != 1000 {
		t.Errorf("contact page = %+v, want [1000]", byContact.Messages)
	}
}

func TestUpdateConversationLastMessage(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	rec := &recorder{}
	seedInstance(t, db, "inst-1", "owner-a")
	m := ingest(t, db, Message{InstanceName: "inst-1", ContactNumber: "1", Body: "a", Direction: Inbound, CreatedAt: 1000})
	db.OnChange(rec)

	if err := db.UpdateConversationLastMessage(ctx, m.ConversationID, "hola", 9000); err != nil {
		t.Fatal(err)
	}
	c, _ := db.GetConversation(ctx, m.ConversationID)
	if c.LastMessage != "hola" || c.LastMessageAt != 9000 {
		t.Errorf("preview = %q@%d, want hola@9000", c.LastMessage, c.LastMessageAt)
	}
	if got := rec.tables(); len(got) != 1 || got[0] != "conversations.UPDATE" {
		t.Errorf("changes = %v, want [conversations.UPDATE]", got)
	}

	err := db.UpdateConversationLastMessage(ctx, "missing", "x", 1)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMarkConversationRead(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	seedInstance(t, db, "inst-1", "owner-a")
	m := ingest(t, db, Message{InstanceName: "inst-1", ContactNumber: "1", Body: "a", Direction: Inbound, CreatedAt: 1000})
	ingest(t, db, Message{InstanceName: "inst-1", ContactNumber: "1", Body: "b", Direction: Inbound, CreatedAt: 2000})

	if err := db.MarkConversationRead(ctx, m.ConversationID); err != nil {
		t.Fatal(err)
	}
	c, _ := db.GetConversation(ctx, m.ConversationID)
	if c.UnreadCount != 0 {
		t.Errorf("unread = %d, want 0", c.UnreadCount)
	}
	page, _ := db.ListMessages(ctx, MessageQuery{ConversationID: m.ConversationID})
	for _, msg := range page.Messages {
		if !msg.IsRead {
			t.Errorf("message %s still unread", msg.ID)
		}
	}
}

func TestBotToggle(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	rec := &recorder{}
	db.OnChange(rec)

	changed, err := db.SetBotEnabled(ctx, "inst-1", "5511", false)
	if err != nil || !changed {
		t.Fatalf("disable: changed=%v err=%v", changed, err)
	}
	// Disabling twice is a no-op and emits nothing.
	changed, err = db.SetBotEnabled(ctx, "inst-1", "5511", false)
	if err != nil || changed {
		t.Fatalf("second disable: changed=%v err=%v", changed, err)
	}
	enabled, err := db.BotEnabled(ctx, "inst-1", "5511")
	if err != nil || enabled {
		t.Errorf("BotEnabled = %v, %v; want false", enabled, err)
	}

	if _, err := db.SetBotEnabled(ctx, "inst-1", "5511", true); err != nil {
		t.Fatal(err)
	}
	enabled, _ = db.BotEnabled(ctx, "inst-1", "5511")
	if !enabled {
		t.Error("bot should be enabled after delete")
	}

	got := rec.tables()
	if len(got) != 2 || got[0] != "bot_pauses.INSERT" || got[1] != "bot_pauses.DELETE" {
		t.Errorf("changes = %v, want [bot_pauses.INSERT bot_pauses.DELETE]", got)
	}
}

func TestOutbox(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	seedInstance(t, db, "inst-1", "owner-a")
	m := ingest(t, db, Message{InstanceName: "inst-1", ContactNumber: "1", Body: "a", Direction: Inbound, CreatedAt: 1000})

	if err := db.QueueOutbox(ctx, "client1", m.ConversationID, "test msg"); err != nil {
		t.Fatal(err)
	}

	pending, err := db.PendingOutbox(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ClientMsgID != "client1" {
		t.Fatalf("pending = %+v, want [client1]", pending)
	}

	if err := db.MarkOutboxSending(ctx, "client1"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOutboxSent(ctx, "client1", "server1"); err != nil {
		t.Fatal(err)
	}

	pending, err = db.PendingOutbox(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("got %d pending after sent, want 0", len(pending))
	}
}
