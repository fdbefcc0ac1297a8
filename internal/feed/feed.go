// Package feed models the realtime change feed: row-level notifications for
// store tables, delivered per logical stream.
package feed

import (
	"context"
	"encoding/json"
	"slices"
)

// EventType is the kind of row change.
type EventType string

const (
	Insert EventType = "INSERT"
	Update EventType = "UPDATE"
	Delete EventType = "DELETE"
)

// Change is a single row notification. Row holds the JSON encoding of the
// affected row (the old row for deletes).
type Change struct {
	ID          string          `json:"id"`
	Table       string          `json:"table"`
	Type        EventType       `json:"event_type"`
	Row         json.RawMessage `json:"row"`
	CommittedAt int64           `json:"committed_at"`
}

// Decode unmarshals the row into v.
func (c Change) Decode(v any) error {
	return json.Unmarshal(c.Row, v)
}

// Subscription is one established stream. Changes is closed after Close or
// when the underlying transport ends.
type Subscription interface {
	Changes() <-chan Change
	Close()
}

// Source establishes subscriptions. With no types, every event type on the
// table is delivered.
type Source interface {
	Subscribe(ctx context.Context, table string, types ...EventType) (Subscription, error)
}

// Matches reports whether t passes the filter.
func Matches(t EventType, filter []EventType) bool {
	return len(filter) == 0 || slices.Contains(filter, t)
}
