package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/matheus3301/wppdesk/internal/bus"
	"github.com/matheus3301/wppdesk/internal/store"
	"go.uber.org/zap"
)

// DefaultPollInterval is how often the queue is drained.
const DefaultPollInterval = 500 * time.Millisecond

// Event kinds published per entry.
const (
	EventSendAck    = "message.send_ack"
	EventSendFailed = "message.send_failed"
)

var errNoConversation = errors.New("conversation not found")

// Carrier hands text to the messaging channel. Channel connectivity lives
// outside this process, so a nil Carrier records sends without relaying
// them.
type Carrier interface {
	SendText(ctx context.Context, instance, contact, text string) (serverMsgID string, err error)
}

// Options tunes a Sender.
type Options struct {
	PollInterval time.Duration
	// AutoPauseBot disables the bot for a contact once an agent has
	// replied to them.
	AutoPauseBot bool
}

// Sender drains the outbox into outbound message rows.
type Sender struct {
	db      *store.DB
	carrier Carrier
	bus     *bus.Bus
	opts    Options
	logger  *zap.Logger
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSender creates a new outbox sender.
func NewSender(db *store.DB, carrier Carrier, b *bus.Bus, opts Options, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	return &Sender{
		db:      db,
		carrier: carrier,
		bus:     b,
		opts:    opts,
		logger:  logger,
	}
}

// Start begins polling the outbox for pending messages.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx)
}

// Stop stops the sender loop and waits for the current drain to finish.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *Sender) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Drain(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Drain processes every queued entry once.
func (s *Sender) Drain(ctx context.Context) {
	pending, err := s.db.PendingOutbox(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("failed to read outbox", zap.Error(err))
		}
		return
	}

	for _, entry := range pending {
		if ctx.Err() != nil {
			return
		}
		s.process(ctx, entry)
	}
}

func (s *Sender) process(ctx context.Context, entry store.OutboxEntry) {
	log := s.logger.With(zap.String("client_msg_id", entry.ClientMsgID))
	if err := s.db.MarkOutboxSending(ctx, entry.ClientMsgID); err != nil {
		log.Error("failed to mark sending", zap.Error(err))
		return
	}

	conv, err := s.db.GetConversation(ctx, entry.ConversationID)
	if err == nil && conv == nil {
		err = errNoConversation
	}
	if err != nil {
		s.fail(ctx, log, entry, err)
		return
	}

	msg := &store.Message{
		InstanceName:  conv.InstanceName,
		ContactNumber: conv.ContactNumber,
		Body:          entry.Body,
		Kind:          store.KindText,
		Direction:     store.Outbound,
		ExternalID:    entry.ClientMsgID,
	}
	if s.carrier != nil {
		serverMsgID, err := s.carrier.SendText(ctx, conv.InstanceName, conv.ContactNumber, entry.Body)
		if err != nil {
			s.fail(ctx, log, entry, err)
			return
		}
		msg.ID = serverMsgID
	}

	recorded, err := s.db.IngestMessage(ctx, msg)
	if err != nil {
		s.fail(ctx, log, entry, err)
		return
	}

	if s.opts.AutoPauseBot {
		if _, err := s.db.SetBotEnabled(ctx, conv.InstanceName, conv.ContactNumber, false); err != nil {
			log.Warn("failed to pause bot", zap.Error(err))
		}
	}

	if err := s.db.MarkOutboxSent(ctx, entry.ClientMsgID, recorded.ID); err != nil {
		log.Error("failed to mark sent", zap.Error(err))
	}

	log.Info("message sent", zap.String("server_msg_id", recorded.ID))
	s.bus.Publish(bus.Event{
		Kind:      EventSendAck,
		Timestamp: time.Now(),
		Payload: map[string]string{
			"client_msg_id":   entry.ClientMsgID,
			"server_msg_id":   recorded.ID,
			"conversation_id": recorded.ConversationID,
		},
	})
}

func (s *Sender) fail(ctx context.Context, log *zap.Logger, entry store.OutboxEntry, err error) {
	log.Error("failed to send message", zap.Error(err))
	if merr := s.db.MarkOutboxFailed(ctx, entry.ClientMsgID, err.Error()); merr != nil {
		log.Error("failed to mark failed", zap.Error(merr))
	}
	s.bus.Publish(bus.Event{
		Kind:      EventSendFailed,
		Timestamp: time.Now(),
		Payload: map[string]string{
			"client_msg_id": entry.ClientMsgID,
			"error":         err.Error(),
		},
	})
}
