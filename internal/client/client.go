// Package client is the daemon's gRPC client. It satisfies the sync
// engine's Store, the reconciler's feed.Source and the inbox Sender, so a
// frontend process can run the engine against a remote daemon.
package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/matheus3301/wppdesk/internal/api"
	"github.com/matheus3301/wppdesk/internal/feed"
	"github.com/matheus3301/wppdesk/internal/store"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client wraps the gRPC connection to the daemon.
type Client struct {
	conn *grpc.ClientConn
}

// New dials the daemon's Unix domain socket.
func New(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(api.Codec)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	if err := c.conn.Invoke(ctx, api.MethodPath(method), req, resp); err != nil {
		return api.FromStatus(err)
	}
	return nil
}

func (c *Client) ListConversations(ctx context.Context, q store.ConversationQuery) ([]store.Conversation, error) {
	var resp api.ListConversationsResponse
	if err := c.invoke(ctx, api.MethodListConversations, &q, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

func (c *Client) InstanceNames(ctx context.Context, ownerID string) ([]string, error) {
	var resp api.InstanceNamesResponse
	if err := c.invoke(ctx, api.MethodInstanceNames, &api.InstanceNamesRequest{OwnerID: ownerID}, &resp); err != nil {
		return nil, err
	}
	return resp.Names, nil
}

// GetConversation returns store.ErrNotFound (wrapped) for unknown ids.
func (c *Client) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	var resp store.Conversation
	if err := c.invoke(ctx, api.MethodGetConversation, &api.GetConversationRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) UpdateConversationLastMessage(ctx context.Context, id, text string, at int64) error {
	req := &api.UpdateLastMessageRequest{ConversationID: id, Text: text, At: at}
	return c.invoke(ctx, api.MethodUpdateConversationLastMessage, req, &api.Empty{})
}

func (c *Client) MarkConversationRead(ctx context.Context, id string) error {
	return c.invoke(ctx, api.MethodMarkConversationRead, &api.MarkReadRequest{ConversationID: id}, &api.Empty{})
}

func (c *Client) ListMessages(ctx context.Context, q store.MessageQuery) (store.MessagePage, error) {
	var page store.MessagePage
	err := c.invoke(ctx, api.MethodListMessages, &q, &page)
	return page, err
}

func (c *Client) ListMessagesByContact(ctx context.Context, q store.ContactMessageQuery) (store.MessagePage, error) {
	var page store.MessagePage
	err := c.invoke(ctx, api.MethodListMessagesByContact, &q, &page)
	return page, err
}

func (c *Client) IngestMessage(ctx context.Context, m store.Message) (*store.Message, error) {
	var resp store.Message
	if err := c.invoke(ctx, api.MethodIngestMessage, &m, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SendText queues body for delivery on the conversation's channel.
func (c *Client) SendText(ctx context.Context, clientMsgID, conversationID, body string) error {
	var resp api.SendTextResponse
	req := &api.SendTextRequest{ClientMsgID: clientMsgID, ConversationID: conversationID, Text: body}
	if err := c.invoke(ctx, api.MethodSendText, req, &resp); err != nil {
		return err
	}
	if !resp.Accepted {
		return fmt.Errorf("send rejected: %s", resp.Message)
	}
	return nil
}

// SetBotEnabled reports whether the bot state changed.
func (c *Client) SetBotEnabled(ctx context.Context, instance, contact string, enabled bool) (bool, error) {
	var resp api.SetBotEnabledResponse
	req := &api.SetBotEnabledRequest{InstanceName: instance, ContactNumber: contact, Enabled: enabled}
	if err := c.invoke(ctx, api.MethodSetBotEnabled, req, &resp); err != nil {
		return false, err
	}
	return resp.Changed, nil
}

func (c *Client) AddInstance(ctx context.Context, inst store.Instance) error {
	return c.invoke(ctx, api.MethodAddInstance, &inst, &api.Empty{})
}

// Subscribe opens a WatchChanges stream. It returns once the daemon has
// confirmed the subscription.
func (c *Client) Subscribe(ctx context.Context, table string, types ...feed.EventType) (feed.Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	stream, err := c.conn.NewStream(ctx, api.WatchChangesStream, api.MethodPath(api.MethodWatchChanges))
	if err != nil {
		cancel()
		return nil, api.FromStatus(err)
	}
	if err := stream.SendMsg(&api.WatchChangesRequest{Table: table, Types: types}); err != nil {
		cancel()
		return nil, api.FromStatus(err)
	}
	if err := stream.CloseSend(); err != nil {
		cancel()
		return nil, api.FromStatus(err)
	}
	if _, err := stream.Header(); err != nil {
		cancel()
		return nil, api.FromStatus(err)
	}

	sub := &streamSubscription{out: make(chan feed.Change, 64), cancel: cancel}
	go sub.recv(ctx, stream)
	return sub, nil
}

type streamSubscription struct {
	out    chan feed.Change
	cancel context.CancelFunc
	once   sync.Once
}

func (s *streamSubscription) recv(ctx context.Context, stream grpc.ClientStream) {
	defer close(s.out)
	for {
		var c feed.Change
		if err := stream.RecvMsg(&c); err != nil {
			return
		}
		select {
		case s.out <- c:
		case <-ctx.Done():
			return
		}
	}
}

func (s *streamSubscription) Changes() <-chan feed.Change { return s.out }

func (s *streamSubscription) Close() { s.once.Do(s.cancel) }
