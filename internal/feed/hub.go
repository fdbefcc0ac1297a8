package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/wppdesk/internal/bus"
)

const topicPrefix = "change."

// Hub is an in-process change feed built on the event bus. The store
// publishes through it after each committed write.
type Hub struct {
	bus     *bus.Bus
	bufSize int
}

// NewHub creates a hub publishing on b.
func NewHub(b *bus.Bus) *Hub {
	return &Hub{bus: b, bufSize: 256}
}

// Publish encodes row and broadcasts it as a change on table.
func (h *Hub) Publish(table string, t EventType, row any) error {
	raw, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encode %s row: %w", table, err)
	}
	h.bus.Publish(bus.NewEvent(topicPrefix+table+"."+string(t), Change{
		ID:          uuid.NewString(),
		Table:       table,
		Type:        t,
		Row:         raw,
		CommittedAt: time.Now().UnixMilli(),
	}))
	return nil
}

// Subscribe implements Source.
func (h *Hub) Subscribe(ctx context.Context, table string, types ...EventType) (Subscription, error) {
	events, unsub := h.bus.Subscribe(topicPrefix+table+".", h.bufSize)
	ctx, cancel := context.WithCancel(ctx)
	s := &hubSubscription{
		out:    make(chan Change, h.bufSize),
		cancel: cancel,
	}
	go func() {
		defer close(s.out)
		defer unsub()
		for {
			select {
			case evt := <-events:
				c, ok := evt.Payload.(Change)
				if !ok || !Matches(c.Type, types) {
					continue
				}
				select {
				case s.out <- c:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return s, nil
}

type hubSubscription struct {
	out    chan Change
	cancel context.CancelFunc
	once   sync.Once
}

func (s *hubSubscription) Changes() <-chan Change { return s.out }

func (s *hubSubscription) Close() { s.once.Do(s.cancel) }
