package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/wppdesk/internal/feed"
)

const conversationColumns = `id, instance_name, contact_number, contact_name, last_message, last_message_at, unread_count`

func scanConversation(sc interface{ Scan(...any) error }) (Conversation, error) {
	var c Conversation
	err := sc.Scan(&c.ID, &c.InstanceName, &c.ContactNumber, &c.ContactName, &c.LastMessage, &c.LastMessageAt, &c.UnreadCount)
	return c, err
}

// ListConversations returns the owner's conversations on the given instances,
// most recent activity first.
func (db *DB) ListConversations(ctx context.Context, q ConversationQuery) ([]Conversation, error) {
	if len(q.Instances) == 0 {
		return nil, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(q.Instances)), ",")
	args := make([]any, 0, len(q.Instances)+2)
	args = append(args, q.OwnerID)
	for _, name := range q.Instances {
		args = append(args, name)
	}
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE owner_id = ? AND instance_name IN (`+placeholders+`)
		ORDER BY last_message_at DESC
		LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// GetConversation returns a single conversation, or nil if it does not exist.
func (db *DB) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	c, err := scanConversation(db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// UpdateConversationLastMessage overwrites the last-message preview fields.
func (db *DB) UpdateConversationLastMessage(ctx context.Context, id, text string, at int64) error {
	res, err := db.ExecContext(ctx, `
		UPDATE conversations
		SET last_message = ?, last_message_at = ?, updated_at = ?
		WHERE id = ?`, text, at, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation %q: %w", id, ErrNotFound)
	}
	db.publishConversation(ctx, id, feed.Update)
	return nil
}

// MarkConversationRead zeroes the unread counter and flags the
// conversation's inbound messages as read.
func (db *DB) MarkConversationRead(ctx context.Context, id string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE conversations SET unread_count = 0, updated_at = ? WHERE id = ?`,
		time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("reset unread: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation %q: %w", id, ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE messages SET is_read = 1
		WHERE conversation_id = ? AND direction = ? AND is_read = 0`, id, Inbound); err != nil {
		return fmt.Errorf("mark messages read: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	db.publishConversation(ctx, id, feed.Update)
	return nil
}

func (db *DB) publishConversation(ctx context.Context, id string, t feed.EventType) {
	if db.pub == nil {
		return
	}
	c, err := db.GetConversation(ctx, id)
	if err != nil || c == nil {
		return
	}
	db.publish(TableConversations, t, c)
}
