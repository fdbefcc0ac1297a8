package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/matheus3301/wppdesk/internal/feed"
	_ "github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound is returned when an update targets a missing row.
	ErrNotFound = errors.New("store: not found")
	// ErrUnknownInstance is returned when a write names an unregistered instance.
	ErrUnknownInstance = errors.New("store: unknown instance")
	// ErrInstanceTaken is returned when an instance name belongs to another owner.
	ErrInstanceTaken = errors.New("store: instance owned by another tenant")
	// ErrInvalidMessage is returned when a message has an unknown kind or
	// direction, or lacks its channel and contact.
	ErrInvalidMessage = errors.New("store: invalid message")
)

const defaultLimit = 50

// Publisher receives committed row changes.
type Publisher interface {
	Publish(table string, t feed.EventType, row any) error
}

// DB wraps the SQLite database that backs conversations and messages.
type DB struct {
	*sql.DB
	pub Publisher
}

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{DB: db}, nil
}

// OnChange routes committed changes to p. Without a publisher, writes are
// silent.
func (db *DB) OnChange(p Publisher) {
	db.pub = p
}

func (db *DB) publish(table string, t feed.EventType, row any) {
	if db.pub == nil {
		return
	}
	// Feed delivery is best effort; the row is already committed.
	_ = db.pub.Publish(table, t, row)
}
