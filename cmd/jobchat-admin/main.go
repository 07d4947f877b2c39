// ABOUTME: Admin CLI for jobchat-gateway: mint participant tokens, check status, dump history
// ABOUTME: Tokens are signed locally with the gateway's jwt_secret

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/2389/jobchat/internal/auth"
	"github.com/2389/jobchat/internal/chathttp"
	"github.com/2389/jobchat/internal/config"
	"github.com/2389/jobchat/internal/store"
)

func main() {
	_ = godotenv.Load(".env")

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "token":
		err = cmdToken(os.Args[2:])
	case "status":
		err = cmdStatus(ctx, os.Args[2:])
	case "history":
		err = cmdHistory(ctx, os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: jobchat-admin <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  token   -participant ID -role OWNER|WORKER [-ttl 720h]   Mint a participant token")
	fmt.Println("  status  [-gateway URL]                                   Check gateway health and readiness")
	fmt.Println("  history [-gateway URL] [-token T] CONVERSATION_ID         Print a conversation")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  JOBCHAT_JWT_SECRET   signing secret (default: auth.jwt_secret from the gateway config)")
	fmt.Println("  JOBCHAT_GATEWAY      gateway HTTP URL (default http://localhost:8080)")
	fmt.Println("  JOBCHAT_TOKEN        bearer token for history")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// signingSecret prefers JOBCHAT_JWT_SECRET, then the gateway config.
func signingSecret() (string, error) {
	if s := os.Getenv("JOBCHAT_JWT_SECRET"); s != "" {
		return s, nil
	}
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return "", fmt.Errorf("no JOBCHAT_JWT_SECRET and %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return "", fmt.Errorf("gateway config has no auth.jwt_secret")
	}
	return cfg.Auth.JWTSecret, nil
}

func cmdToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	participant := fs.String("participant", "", "participant id (token subject)")
	role := fs.String("role", "", "OWNER or WORKER")
	ttl := fs.Duration("ttl", 30*24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	r := store.Role(strings.ToUpper(*role))
	if *participant == "" || !r.Valid() {
		return fmt.Errorf("-participant and -role OWNER|WORKER are required")
	}

	secret, err := signingSecret()
	if err != nil {
		return err
	}
	verifier, err := auth.NewJWTVerifier([]byte(secret))
	if err != nil {
		return err
	}
	token, err := verifier.Generate(*participant, r, *ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	color.New(color.FgHiBlack).Fprintf(os.Stderr, "token for %s (%s), expires %s\n",
		*participant, r, time.Now().Add(*ttl).Format(time.RFC3339))
	fmt.Println(token)
	return nil
}

func cmdStatus(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	gateway := fs.String("gateway", getEnv("JOBCHAT_GATEWAY", "http://localhost:8080"), "gateway HTTP URL")
	if err := fs.Parse(args); err != nil {
		return err
	}
	baseURL := strings.TrimSuffix(*gateway, "/")

	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)

	healthy := true
	for _, probe := range []struct{ label, path string }{
		{"Gateway", "/health"},
		{"Ready", "/health/ready"},
	} {
		code, err := probeStatus(ctx, baseURL+probe.path)
		fmt.Printf("  %-8s ", probe.label+":")
		switch {
		case err != nil:
			red.Printf("UNREACHABLE (%v)\n", err)
			healthy = false
		case code != http.StatusOK:
			red.Printf("ERROR (status %d)\n", code)
			healthy = false
		default:
			green.Println("OK")
		}
	}
	if !healthy {
		return fmt.Errorf("gateway unhealthy")
	}
	return nil
}

func probeStatus(ctx context.Context, url string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

func cmdHistory(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	gateway := fs.String("gateway", getEnv("JOBCHAT_GATEWAY", "http://localhost:8080"), "gateway HTTP URL")
	token := fs.String("token", os.Getenv("JOBCHAT_TOKEN"), "bearer token")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: jobchat-admin history [flags] CONVERSATION_ID")
	}

	client, err := chathttp.New(*gateway, *token, nil)
	if err != nil {
		return err
	}
	msgs, err := client.FetchHistory(ctx, fs.Arg(0))
	if err != nil {
		return fmt.Errorf("fetching history: %w", err)
	}
	if len(msgs) == 0 {
		fmt.Println("No messages.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SENT\tSENDER\tROLE\tBODY")
	for _, m := range msgs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			m.SentAt.Local().Format("2006-01-02 15:04"), m.SenderID, m.SenderRole, truncate(m.Body, 60))
	}
	return w.Flush()
}

func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
