package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matheus3301/wppdesk/internal/client"
	"github.com/matheus3301/wppdesk/internal/config"
	"github.com/matheus3301/wppdesk/internal/id"
	"github.com/matheus3301/wppdesk/internal/logging"
	"github.com/matheus3301/wppdesk/internal/workspace"
	"go.uber.org/zap"
)

type env struct {
	cfg     *config.Config
	client  *client.Client
	logger  *zap.Logger
	scope   string
	jsonOut bool
}

func main() {
	workspaceFlag := flag.String("workspace", "", "workspace name (overrides config default)")
	scopeFlag := flag.String("scope", "", "instance name, or \"all\" (overrides config default_scope)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	verboseFlag := flag.Bool("v", false, "log engine activity to stderr")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := workspace.LoadConfig()
	if err != nil {
		fatalf("load config: %v", err)
	}
	if err := id.Init(cfg.Sync.NodeID); err != nil {
		fatalf("config: %v", err)
	}
	name := workspace.Resolve(*workspaceFlag, cfg)
	if err := workspace.ValidateName(name); err != nil {
		fatalf("%v", err)
	}

	c, err := client.New(workspace.SocketPath(name))
	if err != nil {
		fatalf("cannot connect to daemon for workspace %q: %v", name, err)
	}
	defer func() { _ = c.Close() }()

	e := &env{
		cfg:     cfg,
		client:  c,
		logger:  logging.NewConsole(name, *verboseFlag),
		scope:   cfg.DefaultScope,
		jsonOut: *jsonFlag,
	}
	if *scopeFlag != "" {
		e.scope = *scopeFlag
	}

	if args[0] == "watch" {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		cmdWatch(ctx, e, args[1:])
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch args[0] {
	case "instances":
		cmdInstances(ctx, e, args[1:])
	case "conversations":
		cmdConversations(ctx, e)
	case "messages":
		cmdMessages(ctx, e, args[1:])
	case "send":
		cmdSend(ctx, e, args[1:])
	case "ingest":
		cmdIngest(ctx, e, args[1:])
	case "bot":
		cmdBot(ctx, e, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: deskctl [--workspace <name>] [--scope <instance|all>] [--json] [-v] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  instances add <name>                      Register an instance for the owner")
	fmt.Fprintln(os.Stderr, "  instances list                            List the owner's instances")
	fmt.Fprintln(os.Stderr, "  conversations                             List conversations in scope")
	fmt.Fprintln(os.Stderr, "  messages [-pages n] <conversation-id>     Show a thread, loading n pages")
	fmt.Fprintln(os.Stderr, "  send <conversation-id> <text>             Send a text message")
	fmt.Fprintln(os.Stderr, "  ingest [-name n] <instance> <contact> <text>  Record an inbound message")
	fmt.Fprintln(os.Stderr, "  bot <instance> <contact> <on|off>         Enable or pause the bot")
	fmt.Fprintln(os.Stderr, "  watch [-conversation id]                  Follow live updates")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
