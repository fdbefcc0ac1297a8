package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/matheus3301/wppdesk/internal/botstatus"
	"github.com/matheus3301/wppdesk/internal/bus"
	"github.com/matheus3301/wppdesk/internal/inbox"
	"github.com/matheus3301/wppdesk/internal/store"
	syncer "github.com/matheus3301/wppdesk/internal/sync"
)

func (e *env) inbox(live bool) (*inbox.Orchestrator, *botstatus.Broadcaster, *bus.Bus) {
	b := bus.New()
	deps := inbox.Deps{Store: e.client, Sender: e.client, Bus: b, Logger: e.logger}
	if live {
		deps.Feed = e.client
	}
	o, bots := inbox.Build(deps, e.cfg)
	return o, bots, b
}

// open loads the scope and selects the conversation with the given id.
func (e *env) open(ctx context.Context, o *inbox.Orchestrator, id string) store.Conversation {
	if err := o.SetScope(ctx, e.scope); err != nil {
		fatalf("load conversations: %v", err)
	}
	var conv *store.Conversation
	for _, c := range o.Conversations() {
		if c.ID == id {
			conv = &c
			break
		}
	}
	if conv == nil {
		// Outside the first page of the list.
		c, err := e.client.GetConversation(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			fatalf("conversation %q not found", id)
		}
		if err != nil {
			fatalf("%v", err)
		}
		conv = c
	}
	if err := o.Select(ctx, conv); err != nil {
		fatalf("load messages: %v", err)
	}
	return *conv
}

func cmdInstances(ctx context.Context, e *env, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: deskctl instances <add <name>|list>")
		os.Exit(1)
	}
	if e.cfg.OwnerID == "" {
		fatalf("owner_id is not configured (set it in config.toml or WPPDESK_OWNER_ID)")
	}
	switch args[0] {
	case "add":
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "usage: deskctl instances add <name>")
			os.Exit(1)
		}
		if err := e.client.AddInstance(ctx, store.Instance{Name: args[1], OwnerID: e.cfg.OwnerID}); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("Instance %s registered for %s\n", args[1], e.cfg.OwnerID)
	case "list":
		names, err := e.client.InstanceNames(ctx, e.cfg.OwnerID)
		if err != nil {
			fatalf("%v", err)
		}
		if e.jsonOut {
			outputJSON(names)
			return
		}
		for _, n := range names {
			fmt.Println(n)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown instances subcommand: %s\n", args[0])
		os.Exit(1)
	}
}

func cmdConversations(ctx context.Context, e *env) {
	o, _, _ := e.inbox(false)
	defer o.Close()
	if err := o.SetScope(ctx, e.scope); err != nil {
		fatalf("%v", err)
	}
	printConversations(e, o.Conversations())
}

func cmdMessages(ctx context.Context, e *env, args []string) {
	fs := flag.NewFlagSet("messages", flag.ExitOnError)
	pages := fs.Int("pages", 1, "number of pages to load")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: deskctl messages [-pages n] <conversation-id>")
		os.Exit(1)
	}

	o, _, _ := e.inbox(false)
	defer o.Close()
	e.open(ctx, o, fs.Arg(0))
	for i := 1; i < *pages && o.Messages().HasMore; i++ {
		if err := o.LoadMore(ctx); err != nil {
			fatalf("load more: %v", err)
		}
	}
	printThread(e, o.Messages())
}

func cmdSend(ctx context.Context, e *env, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: deskctl send <conversation-id> <text>")
		os.Exit(1)
	}
	o, _, _ := e.inbox(false)
	defer o.Close()
	e.open(ctx, o, args[0])
	if err := o.SendMessage(ctx, strings.Join(args[1:], " ")); err != nil {
		fatalf("%v", err)
	}
	if e.jsonOut {
		outputJSON(o.Messages())
		return
	}
	fmt.Println("Message queued.")
}

func cmdIngest(ctx context.Context, e *env, args []string) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	sender := fs.String("name", "", "contact display name")
	outbound := fs.Bool("outbound", false, "record as sent by the business")
	_ = fs.Parse(args)
	if fs.NArg() < 3 {
		fmt.Fprintln(os.Stderr, "usage: deskctl ingest [-name n] [-outbound] <instance> <contact> <text>")
		os.Exit(1)
	}

	m := store.Message{
		InstanceName:  fs.Arg(0),
		ContactNumber: fs.Arg(1),
		SenderName:    *sender,
		Body:          strings.Join(fs.Args()[2:], " "),
		Direction:     store.Inbound,
	}
	if *outbound {
		m.Direction = store.Outbound
	}
	got, err := e.client.IngestMessage(ctx, m)
	if err != nil {
		fatalf("%v", err)
	}
	if e.jsonOut {
		outputJSON(got)
		return
	}
	fmt.Printf("Message %s recorded in conversation %s\n", got.ID, got.ConversationID)
}

func cmdBot(ctx context.Context, e *env, args []string) {
	if len(args) != 3 || (args[2] != "on" && args[2] != "off") {
		fmt.Fprintln(os.Stderr, "usage: deskctl bot <instance> <contact> <on|off>")
		os.Exit(1)
	}
	enabled := args[2] == "on"
	changed, err := e.client.SetBotEnabled(ctx, args[0], args[1], enabled)
	if err != nil {
		fatalf("%v", err)
	}
	if e.jsonOut {
		outputJSON(map[string]bool{"enabled": enabled, "changed": changed})
		return
	}
	fmt.Printf("Bot %s for %s on %s (changed: %v)\n", args[2], args[1], args[0], changed)
}

func cmdWatch(ctx context.Context, e *env, args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	convID := fs.String("conversation", "", "also follow this conversation's thread")
	_ = fs.Parse(args)

	o, bots, b := e.inbox(true)
	defer o.Close()

	views, unsub := b.Subscribe("view.", 64)
	defer unsub()
	statuses, unsubBots := bots.SubscribeAll(16)
	defer unsubBots()

	if *convID != "" {
		e.open(ctx, o, *convID)
	} else if err := o.SetScope(ctx, e.scope); err != nil {
		fatalf("%v", err)
	}
	fmt.Fprintf(os.Stderr, "watching scope %q, press Ctrl-C to stop\n", e.scope)

	for {
		select {
		case evt := <-views:
			switch v := evt.Payload.(type) {
			case syncer.ConversationsView:
				printConversations(e, v.Conversations)
			case syncer.MessagesView:
				printThread(e, v)
			}
		case s, ok := <-statuses:
			if !ok {
				return
			}
			if e.jsonOut {
				outputJSON(s)
				continue
			}
			state := "paused"
			if s.Enabled {
				state = "enabled"
			}
			fmt.Printf("bot %s for %s on %s\n", state, s.ContactNumber, s.InstanceName)
		case <-ctx.Done():
			return
		}
	}
}

func printConversations(e *env, list []store.Conversation) {
	if e.jsonOut {
		outputJSON(list)
		return
	}
	if len(list) == 0 {
		fmt.Println("No conversations.")
		return
	}
	for _, c := range list {
		unread := ""
		if c.UnreadCount > 0 {
			unread = fmt.Sprintf(" (%d)", c.UnreadCount)
		}
		fmt.Printf("%-36s %-12s %-20s %s%s\n", c.ID, c.InstanceName, c.DisplayName(), preview(c.LastMessage), unread)
	}
}

func printThread(e *env, v syncer.MessagesView) {
	if e.jsonOut {
		outputJSON(v)
		return
	}
	for _, m := range v.Messages {
		who := m.SenderName
		if m.Direction == store.Outbound {
			who = "you"
		} else if who == "" {
			who = m.ContactNumber
		}
		ts := time.UnixMilli(m.CreatedAt).Format("2006-01-02 15:04")
		fmt.Printf("%s  %-16s %s\n", ts, who, m.Body)
	}
	if v.HasMore {
		fmt.Println("(older messages available)")
	}
}

func preview(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if r := []rune(s); len(r) > 40 {
		return string(r[:39]) + "…"
	}
	return s
}
