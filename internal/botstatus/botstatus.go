// Package botstatus narrow-casts per-contact bot enable/disable changes to
// interested listeners without touching the cache or fetch path.
package botstatus

import (
	"strings"
	"sync"

	"github.com/matheus3301/wppdesk/internal/bus"
)

const topicPrefix = "bot."

// Status is the resulting bot state for one contact on one channel.
type Status struct {
	InstanceName  string
	ContactNumber string
	Enabled       bool
}

// Broadcaster publishes Status values keyed by (instance, contact).
type Broadcaster struct {
	bus *bus.Bus
}

// New creates a broadcaster on b.
func New(b *bus.Bus) *Broadcaster {
	return &Broadcaster{bus: b}
}

// keyEscaper keeps dots inside a name from reading as topic separators.
var keyEscaper = strings.NewReplacer("%", "%25", ".", "%2E")

func topic(instance, contact string) string {
	return topicPrefix + keyEscaper.Replace(instance) + "." + keyEscaper.Replace(contact) + "."
}

// Publish delivers s synchronously to current subscribers of its key.
func (b *Broadcaster) Publish(s Status) {
	b.bus.Publish(bus.NewEvent(topic(s.InstanceName, s.ContactNumber)+"changed", s))
}

// Subscribe returns changes for a single contact on a single channel.
func (b *Broadcaster) Subscribe(instance, contact string, bufSize int) (<-chan Status, func()) {
	return b.relay(topic(instance, contact), bufSize)
}

// SubscribeAll returns changes for every contact.
func (b *Broadcaster) SubscribeAll(bufSize int) (<-chan Status, func()) {
	return b.relay(topicPrefix, bufSize)
}

func (b *Broadcaster) relay(prefix string, bufSize int) (<-chan Status, func()) {
	events, unsub := b.bus.Subscribe(prefix, bufSize)
	out := make(chan Status, bufSize)
	done := make(chan struct{})
	go func() {
		defer close(out)
		for {
			select {
			case evt := <-events:
				s, ok := evt.Payload.(Status)
				if !ok {
					continue
				}
				select {
				case out <- s:
				case <-done:
					return
				}
			case <-done:
				return
			}
		}
	}()
	var once sync.Once
	return out, func() {
		once.Do(func() {
			unsub()
			close(done)
		})
	}
}
