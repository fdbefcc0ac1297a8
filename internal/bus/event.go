package bus

import "time"

// Event is a message published on the bus. Kind is a dot-separated topic
// (e.g. "view.messages", "bot.inst-1.5511999.changed").
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// NewEvent stamps an event with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
