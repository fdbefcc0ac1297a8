// Package api exposes the store and its change feed over gRPC on the
// workspace socket. Messages are JSON encoded with the codec registered in
// this package.
package api

import (
	"context"
	"errors"
	"strings"

	"github.com/matheus3301/wppdesk/internal/feed"
	"github.com/matheus3301/wppdesk/internal/store"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// StoreService implements the StoreService RPCs.
type StoreService struct {
	db     *store.DB
	feed   feed.Source
	logger *zap.Logger
}

// NewStoreService creates a new StoreService.
func NewStoreService(db *store.DB, source feed.Source, logger *zap.Logger) *StoreService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreService{db: db, feed: source, logger: logger}
}

func (s *StoreService) ListConversations(ctx context.Context, req *store.ConversationQuery) (*ListConversationsResponse, error) {
	list, err := s.db.ListConversations(ctx, *req)
	if err != nil {
		return nil, toStatus(err)
	}
	if list == nil {
		list = []store.Conversation{}
	}
	return &ListConversationsResponse{Conversations: list}, nil
}

func (s *StoreService) InstanceNames(ctx context.Context, req *InstanceNamesRequest) (*InstanceNamesResponse, error) {
	names, err := s.db.InstanceNames(ctx, req.OwnerID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &InstanceNamesResponse{Names: names}, nil
}

func (s *StoreService) GetConversation(ctx context.Context, req *GetConversationRequest) (*store.Conversation, error) {
	c, err := s.db.GetConversation(ctx, req.ID)
	if err != nil {
		return nil, toStatus(err)
	}
	if c == nil {
		return nil, toStatus(store.ErrNotFound)
	}
	return c, nil
}

func (s *StoreService) UpdateConversationLastMessage(ctx context.Context, req *UpdateLastMessageRequest) (*Empty, error) {
	if err := s.db.UpdateConversationLastMessage(ctx, req.ConversationID, req.Text, req.At); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *StoreService) MarkConversationRead(ctx context.Context, req *MarkReadRequest) (*Empty, error) {
	if err := s.db.MarkConversationRead(ctx, req.ConversationID); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *StoreService) ListMessages(ctx context.Context, req *store.MessageQuery) (*store.MessagePage, error) {
	page, err := s.db.ListMessages(ctx, *req)
	if err != nil {
		return nil, toStatus(err)
	}
	return &page, nil
}

func (s *StoreService) ListMessagesByContact(ctx context.Context, req *store.ContactMessageQuery) (*store.MessagePage, error) {
	page, err := s.db.ListMessagesByContact(ctx, *req)
	if err != nil {
		return nil, toStatus(err)
	}
	return &page, nil
}

// IngestMessage records a message arriving from a channel and returns the
// stored row.
func (s *StoreService) IngestMessage(ctx context.Context, req *store.Message) (*store.Message, error) {
	m, err := s.db.IngestMessage(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}
	return m, nil
}

// SendText queues an outbound message. Delivery happens asynchronously in
// the outbox sender.
func (s *StoreService) SendText(ctx context.Context, req *SendTextRequest) (*SendTextResponse, error) {
	if req.ClientMsgID == "" || strings.TrimSpace(req.Text) == "" {
		return nil, status.Error(codes.InvalidArgument, "client_msg_id and text are required")
	}
	c, err := s.db.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, toStatus(err)
	}
	if c == nil {
		return nil, toStatus(store.ErrNotFound)
	}
	if err := s.db.QueueOutbox(ctx, req.ClientMsgID, req.ConversationID, req.Text); err != nil {
		return nil, toStatus(err)
	}
	s.logger.Debug("message queued",
		zap.String("client_msg_id", req.ClientMsgID),
		zap.String("conversation_id", req.ConversationID))
	return &SendTextResponse{Accepted: true, Message: "queued"}, nil
}

func (s *StoreService) SetBotEnabled(ctx context.Context, req *SetBotEnabledRequest) (*SetBotEnabledResponse, error) {
	changed, err := s.db.SetBotEnabled(ctx, req.InstanceName, req.ContactNumber, req.Enabled)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SetBotEnabledResponse{Changed: changed, Enabled: req.Enabled}, nil
}

func (s *StoreService) AddInstance(ctx context.Context, req *store.Instance) (*Empty, error) {
	if req.Name == "" || req.OwnerID == "" {
		return nil, status.Error(codes.InvalidArgument, "name and owner_id are required")
	}
	if err := s.db.AddInstance(ctx, *req); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

// WatchChanges streams committed changes for one table until the client
// goes away. Headers are sent once the subscription is live, so a client
// that waits for them cannot miss a change committed afterwards.
func (s *StoreService) WatchChanges(req *WatchChangesRequest, stream grpc.ServerStream) error {
	if req.Table == "" {
		return status.Error(codes.InvalidArgument, "table is required")
	}
	ctx := stream.Context()
	sub, err := s.feed.Subscribe(ctx, req.Table, req.Types...)
	if err != nil {
		return status.Error(codes.Unavailable, err.Error())
	}
	defer sub.Close()

	if err := stream.SendHeader(metadata.Pairs("table", req.Table)); err != nil {
		return err
	}
	s.logger.Debug("watch opened", zap.String("table", req.Table))
	defer s.logger.Debug("watch closed", zap.String("table", req.Table))

	for {
		select {
		case c, ok := <-sub.Changes():
			if !ok {
				return nil
			}
			if err := stream.SendMsg(&c); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

var sentinels = []struct {
	err  error
	code codes.Code
}{
	{store.ErrNotFound, codes.NotFound},
	{store.ErrUnknownInstance, codes.InvalidArgument},
	{store.ErrInvalidMessage, codes.InvalidArgument},
	{store.ErrInstanceTaken, codes.AlreadyExists},
}

func toStatus(err error) error {
	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return status.Error(s.code, err.Error())
		}
	}
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// FromStatus turns a status error back into the store sentinel it was made
// from, so callers on the client side can use errors.Is. Other errors are
// returned unchanged.
func FromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok || err == nil {
		return err
	}
	for _, s := range sentinels {
		if st.Code() == s.code && strings.Contains(st.Message(), s.err.Error()) {
			return &remoteError{msg: st.Message(), sentinel: s.err}
		}
	}
	switch st.Code() {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}
	return err
}

type remoteError struct {
	msg      string
	sentinel error
}

func (e *remoteError) Error() string { return e.msg }
func (e *remoteError) Unwrap() error { return e.sentinel }
