package outbox

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/wppdesk/internal/bus"
	"github.com/matheus3301/wppdesk/internal/store"
	"go.uber.org/zap"
)

// mockCarrier records calls and returns configurable results.
type mockCarrier struct {
	mu    sync.Mutex
	calls []sendCall
	err   error
}

type sendCall struct {
	Contact string
	Text    string
}

func (m *mockCarrier) SendText(_ context.Context, _ string, contact, text string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, sendCall{Contact: contact, Text: text})
	if m.err != nil {
		return "", m.err
	}
	return fmt.Sprintf("server-%d", len(m.calls)), nil
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// seedConversation registers an instance and returns the id of a
// conversation created by one inbound message.
func seedConversation(t *testing.T, db *store.DB) string {
	t.Helper()
	ctx := context.Background()
	if err := db.AddInstance(ctx, store.Instance{Name: "instance-1", OwnerID: "owner-1"}); err != nil {
		t.Fatal(err)
	}
	m, err := db.IngestMessage(ctx, &store.Message{
		InstanceName: "instance-1", ContactNumber: "5511", Body: "oi", Direction: store.Inbound, CreatedAt: 1000,
	})
	if err != nil {
		t.Fatal(err)
	}
	return m.ConversationID
}

func TestSenderRecordsOutboundMessage(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	mock := &mockCarrier{}
	logger, _ := zap.NewDevelopment()
	s := NewSender(db, mock, b, Options{PollInterval: 20 * time.Millisecond}, logger)
	ctx := context.Background()

	ch, unsub := b.Subscribe(EventSendAck, 10)
	defer unsub()

	convID := seedConversation(t, db)
	if err := db.QueueOutbox(ctx, "client-1", convID, "hello"); err != nil {
		t.Fatal(err)
	}

	s.Start(ctx)
	defer s.Stop()

	select {
	case evt := <-ch:
		payload := evt.Payload.(map[string]string)
		if payload["client_msg_id"] != "client-1" || payload["server_msg_id"] != "server-1" {
			t.Errorf("payload = %v", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for send_ack")
	}

	if len(mock.calls) != 1 || mock.calls[0].Contact != "5511" || mock.calls[0].Text != "hello" {
		t.Errorf("carrier calls = %+v", mock.calls)
	}

	page, err := db.ListMessages(ctx, store.MessageQuery{ConversationID: convID})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(page.Messages))
	}
	out := page.Messages[0]
	if out.ID != "server-1" || out.Direction != store.Outbound || out.ExternalID != "client-1" || !out.IsRead {
		t.Errorf("outbound row = %+v", out)
	}

	pending, _ := db.PendingOutbox(ctx)
	if len(pending) != 0 {
		t.Errorf("got %d pending, want 0", len(pending))
	}
}

func TestSenderFailure(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	mock := &mockCarrier{err: fmt.Errorf("channel offline")}
	s := NewSender(db, mock, b, Options{}, nil)
	ctx := context.Background()

	ch, unsub := b.Subscribe(EventSendFailed, 10)
	defer unsub()

	convID := seedConversation(t, db)
	if err := db.QueueOutbox(ctx, "client-1", convID, "hello"); err != nil {
		t.Fatal(err)
	}

	s.Drain(ctx)

	select {
	case evt := <-ch:
		payload := evt.Payload.(map[string]string)
		if payload["error"] != "channel offline" {
			t.Errorf("error = %q", payload["error"])
		}
	default:
		t.Fatal("expected send_failed event")
	}

	page, _ := db.ListMessages(ctx, store.MessageQuery{ConversationID: convID})
	if len(page.Messages) != 1 {
		t.Errorf("failed send must not record a message, got %d rows", len(page.Messages))
	}
}

func TestSenderWithoutCarrierAutoPausesBot(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	s := NewSender(db, nil, b, Options{AutoPauseBot: true}, nil)
	ctx := context.Background()

	convID := seedConversation(t, db)
	if err := db.QueueOutbox(ctx, "client-1", convID, "hello"); err != nil {
		t.Fatal(err)
	}
	s.Drain(ctx)

	page, _ := db.ListMessages(ctx, store.MessageQuery{ConversationID: convID})
	if len(page.Messages) != 2 || page.Messages[0].ExternalID != "client-1" {
		t.Fatalf("messages = %+v", page.Messages)
	}
	enabled, err := db.BotEnabled(ctx, "instance-1", "5511")
	if err != nil {
		t.Fatal(err)
	}
	if enabled {
		t.Error("bot should be paused after an agent reply")
	}

	c, _ := db.GetConversation(ctx, convID)
	if c.LastMessage != "hello" {
		t.Errorf("last message = %q, want hello", c.LastMessage)
	}
}
