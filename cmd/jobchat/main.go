// ABOUTME: Terminal chat client for owners and workers
// ABOUTME: Drives the chat view model over the gateway's gRPC or HTTP transport

package main

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/2389/jobchat/internal/chathttp"
	"github.com/2389/jobchat/internal/chatrpc"
	"github.com/2389/jobchat/internal/chatview"
	"github.com/2389/jobchat/internal/config"
	"github.com/2389/jobchat/internal/logging"
)

func main() {
	_ = godotenv.Load(".env")

	configPath := flag.String("config", getEnv("JOBCHAT_CLIENT_CONFIG", config.DefaultClientPath()), "client config file (TOML)")
	conversation := flag.String("conversation", "", "conversation to open on start")
	counterpart := flag.String("counterpart", "", "the other participant of -conversation")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath, *conversation, *counterpart, os.Stdin, os.Stdout); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func terminalWidth() int {
	if n, err := strconv.Atoi(os.Getenv("COLUMNS")); err == nil {
		return n
	}
	return 80
}

// transport bundles the store and channel of one gateway connection.
type transport struct {
	store   chatview.MessageStore
	channel chatview.Channel
	close   func() error
}

func newTransport(cfg *config.ClientConfig, logger *slog.Logger) (*transport, error) {
	switch cfg.Transport {
	case "http":
		c, err := chathttp.New(cfg.HTTPURL, cfg.Token, logger)
		if err != nil {
			return nil, err
		}
		return &transport{store: c, channel: c, close: func() error { return nil }}, nil
	default:
		var opts []grpc.DialOption
		if !cfg.Insecure {
			opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})))
		}
		c, err := chatrpc.Dial(cfg.GRPCAddr, cfg.Token, logger, opts...)
		if err != nil {
			return nil, err
		}
		return &transport{store: c, channel: c, close: c.Close}, nil
	}
}

func run(ctx context.Context, configPath, conversationID, counterpartID string, in io.Reader, out io.Writer) error {
	cfg, err := config.LoadClient(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	level := cfg.LogLevel
	if level == "" {
		level = "warn"
	}
	logger := logging.New(os.Stderr, level, "text")

	mode, err := chatview.ParseMatchMode(cfg.Match)
	if err != nil {
		return err
	}

	tr, err := newTransport(cfg, logger)
	if err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	defer tr.close()

	scr := newScreen(out, terminalWidth(), cfg.ParticipantID)
	view, err := chatview.New(chatview.Config{
		ViewerID:    cfg.ParticipantID,
		Role:        cfg.Role,
		Store:       tr.store,
		Channel:     tr.channel,
		Mode:        mode,
		SendTimeout: cfg.SendTimeout,
		OnChange:    scr.Update,
		Notifier:    scr,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer view.Close()

	if conversationID != "" {
		if err := openConversation(ctx, view, scr, conversationID, counterpartID); err != nil {
			return err
		}
	} else {
		scr.Redraw()
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := handleLine(ctx, view, scr, line)
			if err != nil {
				scr.Notify(chatview.Notice{Kind: chatview.NoticeTransient, Text: err.Error()})
			}
			if quit {
				return nil
			}
		}
	}
}

func openConversation(ctx context.Context, view *chatview.View, scr *screen, conversationID, counterpartID string) error {
	if counterpartID == "" {
		return errors.New("a counterpart is required to open a conversation")
	}
	scr.SetConversation(conversationID, counterpartID)
	return view.Open(ctx, conversationID, counterpartID)
}

// handleLine runs one line of input. It reports whether the client should exit.
func handleLine(ctx context.Context, view *chatview.View, scr *screen, line string) (bool, error) {
	// Enter dismisses a blocking alert without sending.
	if scr.Acknowledge() && strings.TrimSpace(line) == "" {
		scr.Redraw()
		return false, nil
	}

	fields := strings.Fields(line)
	if len(fields) > 0 && strings.HasPrefix(fields[0], "/") {
		switch fields[0] {
		case "/quit", "/q":
			return true, nil
		case "/open":
			if len(fields) != 3 {
				return false, errors.New("usage: /open <conversation> <counterpart>")
			}
			return false, openConversation(ctx, view, scr, fields[1], fields[2])
		case "/history":
			convID, counterpart := view.Conversation()
			if convID == "" {
				return false, chatview.ErrNoConversation
			}
			return false, view.Open(ctx, convID, counterpart)
		default:
			return false, fmt.Errorf("unknown command %s", fields[0])
		}
	}

	view.SetDraft(line)
	sent, err := view.Submit(ctx)
	switch {
	case errors.Is(err, chatview.ErrEmptyDraft):
		scr.Redraw()
		return false, nil
	case errors.Is(err, chatview.ErrSendFailed):
		// The view has raised the blocking alert.
		scr.MarkFailed(sent.CorrelationID)
		return false, nil
	case err != nil:
		return false, err
	}
	return false, nil
}
