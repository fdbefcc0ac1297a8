package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AddInstance registers a channel for an owner. Re-adding an instance the
// owner already holds is a no-op.
func (db *DB) AddInstance(ctx context.Context, inst Instance) error {
	if _, err := db.ExecContext(ctx, `
		INSERT INTO instances (name, owner_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO NOTHING`,
		inst.Name, inst.OwnerID, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("insert instance: %w", err)
	}
	owner, err := db.instanceOwner(ctx, db.DB, inst.Name)
	if err != nil {
		return err
	}
	if owner != inst.OwnerID {
		return fmt.Errorf("instance %q: %w", inst.Name, ErrInstanceTaken)
	}
	return nil
}

// InstanceNames returns the names of every instance the owner holds.
func (db *DB) InstanceNames(ctx context.Context, ownerID string) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT name FROM instances WHERE owner_id = ? ORDER BY name`, ownerID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (db *DB) instanceOwner(ctx context.Context, q queryRower, name string) (string, error) {
	var owner string
	err := q.QueryRowContext(ctx, `SELECT owner_id FROM instances WHERE name = ?`, name).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("instance %q: %w", name, ErrUnknownInstance)
	}
	if err != nil {
		return "", err
	}
	return owner, nil
}
