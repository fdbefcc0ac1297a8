package store

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/wppdesk/internal/feed"
)

// SetBotEnabled toggles the automated responder for one contact. A disabled
// bot is a row in bot_pauses: disabling inserts it, enabling deletes it.
// It reports whether anything changed.
func (db *DB) SetBotEnabled(ctx context.Context, instance, contact string, enabled bool) (bool, error) {
	row := BotPause{InstanceName: instance, ContactNumber: contact, CreatedAt: time.Now().UnixMilli()}

	var (
		query string
		args  []any
		event feed.EventType
	)
	if enabled {
		query = `DELETE FROM bot_pauses WHERE instance_name = ? AND contact_number = ?`
		args = []any{instance, contact}
		event = feed.Delete
	} else {
		query = `INSERT INTO bot_pauses (instance_name, contact_number, created_at) VALUES (?, ?, ?)
			ON CONFLICT(instance_name, contact_number) DO NOTHING`
		args = []any{instance, contact, row.CreatedAt}
		event = feed.Insert
	}

	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("set bot enabled: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	db.publish(TableBotPauses, event, row)
	return true, nil
}

// BotEnabled reports whether the bot is active for a contact.
func (db *DB) BotEnabled(ctx context.Context, instance, contact string) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bot_pauses WHERE instance_name = ? AND contact_number = ?`,
		instance, contact).Scan(&n)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}
