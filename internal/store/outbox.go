package store

import (
	"context"
	"time"
)

// QueueOutbox adds an outbound send to the queue.
func (db *DB) QueueOutbox(ctx context.Context, clientMsgID, conversationID, body string) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		INSERT INTO outbox (client_msg_id, conversation_id, body, status, created_at, updated_at)
		VALUES (?, ?, ?, 'queued', ?, ?)`,
		clientMsgID, conversationID, body, now, now)
	return err
}

// MarkOutboxSending claims a queued entry.
func (db *DB) MarkOutboxSending(ctx context.Context, clientMsgID string) error {
	return db.setOutboxStatus(ctx, clientMsgID, "sending", "", "")
}

// MarkOutboxSent records the store-side message id of a delivered entry.
func (db *DB) MarkOutboxSent(ctx context.Context, clientMsgID, serverMsgID string) error {
	return db.setOutboxStatus(ctx, clientMsgID, "sent", "", serverMsgID)
}

// MarkOutboxFailed records why delivery failed.
func (db *DB) MarkOutboxFailed(ctx context.Context, clientMsgID, errMsg string) error {
	return db.setOutboxStatus(ctx, clientMsgID, "failed", errMsg, "")
}

func (db *DB) setOutboxStatus(ctx context.Context, clientMsgID, status, errMsg, serverMsgID string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE outbox SET status = ?, error_message = ?, server_msg_id = ?, updated_at = ?
		WHERE client_msg_id = ?`,
		status, errMsg, serverMsgID, time.Now().UnixMilli(), clientMsgID)
	return err
}

// PendingOutbox returns queued entries, oldest first.
func (db *DB) PendingOutbox(ctx context.Context) ([]OutboxEntry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, client_msg_id, conversation_id, body, status, error_message, server_msg_id
		FROM outbox WHERE status = 'queued' ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.ClientMsgID, &e.ConversationID, &e.Body, &e.Status, &e.ErrorMessage, &e.ServerMsgID); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
