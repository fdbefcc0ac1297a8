package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/wppdesk/internal/feed"
	"github.com/matheus3301/wppdesk/internal/id"
)

const messageColumns = `id, conversation_id, instance_name, contact_number, sender_name, body, kind, direction,
	is_read, media_url, file_name, mime_type, external_id, reply_to_id, created_at`

// ListMessages returns one page of a conversation using keyset pagination
// on created_at, newest first.
func (db *DB) ListMessages(ctx context.Context, q MessageQuery) (MessagePage, error) {
	return db.queryPage(ctx, `
		SELECT `+messageColumns+`, COUNT(*) OVER ()
		FROM messages
		WHERE conversation_id = ? AND created_at < ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, q.ConversationID, before(q.Before), limit(q.Limit))
}

// ListMessagesByContact returns one page for a channel and contact number
// without going through the conversations table.
func (db *DB) ListMessagesByContact(ctx context.Context, q ContactMessageQuery) (MessagePage, error) {
	return db.queryPage(ctx, `
		SELECT `+messageColumns+`, COUNT(*) OVER ()
		FROM messages
		WHERE instance_name = ? AND contact_number = ? AND created_at < ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, q.InstanceName, q.ContactNumber, before(q.Before), limit(q.Limit))
}

func before(ts int64) int64 {
	if ts <= 0 {
		return math.MaxInt64
	}
	return ts
}

func limit(n int) int {
	if n <= 0 {
		return defaultLimit
	}
	return n
}

func (db *DB) queryPage(ctx context.Context, query string, args ...any) (MessagePage, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return MessagePage{}, err
	}
	defer func() { _ = rows.Close() }()

	var page MessagePage
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.InstanceName, &m.ContactNumber, &m.SenderName,
			&m.Body, &m.Kind, &m.Direction, &m.IsRead, &m.MediaURL, &m.FileName, &m.MimeType,
			&m.ExternalID, &m.ReplyToID, &m.CreatedAt, &page.Total); err != nil {
			return MessagePage{}, err
		}
		page.Messages = append(page.Messages, m)
	}
	return page, rows.Err()
}

// IngestMessage stores a message and folds it into its conversation in one
// transaction: the conversation is created on first contact, its preview
// advances when the message is newer, inbound messages bump the unread
// counter, and only inbound sender names update the contact name. Writing
// the same message id twice updates the row in place and leaves the
// conversation alone. Locally minted ids are rejected.
func (db *DB) IngestMessage(ctx context.Context, m *Message) (*Message, error) {
	if m.InstanceName == "" || m.ContactNumber == "" {
		return nil, fmt.Errorf("missing instance or contact: %w", ErrInvalidMessage)
	}
	if !m.Direction.Valid() {
		return nil, fmt.Errorf("direction %q: %w", m.Direction, ErrInvalidMessage)
	}
	if m.Kind == "" {
		m.Kind = KindText
	}
	if !m.Kind.Valid() {
		return nil, fmt.Errorf("kind %q: %w", m.Kind, ErrInvalidMessage)
	}
	if id.IsLocal(m.ID) {
		return nil, fmt.Errorf("local id %q: %w", m.ID, ErrInvalidMessage)
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt == 0 {
		m.CreatedAt = time.Now().UnixMilli()
	}
	if m.Direction == Outbound {
		m.IsRead = true
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	owner, err := db.instanceOwner(ctx, tx, m.InstanceName)
	if err != nil {
		return nil, err
	}

	// A known id only refreshes the row; its conversation already counted it.
	msgEvent := feed.Insert
	var convEvent feed.EventType
	err = tx.QueryRowContext(ctx, `SELECT conversation_id FROM messages WHERE id = ?`, m.ID).Scan(&m.ConversationID)
	switch {
	case err == nil:
		msgEvent = feed.Update
	case errors.Is(err, sql.ErrNoRows):
		convEvent, err = upsertConversationForMessage(ctx, tx, owner, m)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("lookup message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			body = excluded.body,
			is_read = excluded.is_read,
			media_url = excluded.media_url,
			file_name = excluded.file_name,
			mime_type = excluded.mime_type`,
		m.ID, m.ConversationID, m.InstanceName, m.ContactNumber, m.SenderName, m.Body, m.Kind, m.Direction,
		m.IsRead, m.MediaURL, m.FileName, m.MimeType, m.ExternalID, m.ReplyToID, m.CreatedAt); err != nil {
		return nil, fmt.Errorf("upsert message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	if convEvent != "" {
		db.publishConversation(ctx, m.ConversationID, convEvent)
	}
	db.publish(TableMessages, msgEvent, m)
	return m, nil
}

func upsertConversationForMessage(ctx context.Context, tx *sql.Tx, owner string, m *Message) (feed.EventType, error) {
	now := time.Now().UnixMilli()
	unread := 0
	name := ""
	if m.Direction == Inbound {
		unread = 1
		name = m.SenderName
	}

	err := tx.QueryRowContext(ctx,
		`SELECT id FROM conversations WHERE instance_name = ? AND contact_number = ?`,
		m.InstanceName, m.ContactNumber).Scan(&m.ConversationID)
	if errors.Is(err, sql.ErrNoRows) {
		m.ConversationID = uuid.NewString()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversations (id, owner_id, instance_name, contact_number, contact_name,
				last_message, last_message_at, unread_count, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ConversationID, owner, m.InstanceName, m.ContactNumber, name,
			m.Body, m.CreatedAt, unread, now); err != nil {
			return "", fmt.Errorf("insert conversation: %w", err)
		}
		return feed.Insert, nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup conversation: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE conversations SET
			last_message = CASE WHEN ? >= last_message_at THEN ? ELSE last_message END,
			last_message_at = MAX(last_message_at, ?),
			unread_count = unread_count + ?,
			contact_name = CASE WHEN ? != '' THEN ? ELSE contact_name END,
			updated_at = ?
		WHERE id = ?`,
		m.CreatedAt, m.Body, m.CreatedAt, unread, name, name, now, m.ConversationID); err != nil {
		return "", fmt.Errorf("update conversation: %w", err)
	}
	return feed.Update, nil
}
