// ABOUTME: Tests for the TOML client configuration
// ABOUTME: Covers transport selection, defaults, send timeout parsing and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/2389/jobchat/internal/store"
)

func TestLoadClient_Valid(t *testing.T) {
	t.Setenv("TEST_JOBCHAT_TOKEN", "tok-123")
	path := filepath.Join(t.TempDir(), "client.toml")
	content := `
transport = "http"
http_url = "http://localhost:8080"
token = "${TEST_JOBCHAT_TOKEN}"
participant_id = "owner-1"
role = "OWNER"
match = "content"
send_timeout = "15s"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadClient(path)
	if err != nil {
		t.Fatalf("LoadClient() error = %v", err)
	}

	if cfg.Transport != "http" || cfg.HTTPURL != "http://localhost:8080" {
		t.Errorf("transport = %q %q", cfg.Transport, cfg.HTTPURL)
	}
	if cfg.Token != "tok-123" {
		t.Errorf("Token = %q", cfg.Token)
	}
	if cfg.Role != store.RoleOwner {
		t.Errorf("Role = %q", cfg.Role)
	}
	if cfg.Match != "content" {
		t.Errorf("Match = %q", cfg.Match)
	}
	if cfg.SendTimeout != 15*time.Second {
		t.Errorf("SendTimeout = %v", cfg.SendTimeout)
	}
}

func TestParseClient_Defaults(t *testing.T) {
	cfg, err := ParseClient([]byte(`
grpc_addr = "localhost:50051"
participant_id = "worker-1"
role = "WORKER"
`))
	if err != nil {
		t.Fatalf("ParseClient() error = %v", err)
	}
	if cfg.Transport != "grpc" {
		t.Errorf("Transport = %q, want grpc", cfg.Transport)
	}
	if cfg.Match != "correlation" {
		t.Errorf("Match = %q, want correlation", cfg.Match)
	}
	if cfg.SendTimeout != 0 {
		t.Errorf("SendTimeout = %v, want 0", cfg.SendTimeout)
	}
}

func TestParseClient_Validation(t *testing.T) {
	tests := []struct {
		name    string
		toml    string
		wantErr string
	}{
		{name: "grpc without addr", toml: "participant_id = \"a\"\nrole = \"OWNER\"\n", wantErr: "grpc_addr"},
		{name: "http without url", toml: "transport = \"http\"\nparticipant_id = \"a\"\nrole = \"OWNER\"\n", wantErr: "http_url"},
		{name: "unknown transport", toml: "transport = \"smtp\"\n", wantErr: "transport"},
		{name: "no participant", toml: "grpc_addr = \"x:1\"\nrole = \"OWNER\"\n", wantErr: "participant_id"},
		{name: "bad role", toml: "grpc_addr = \"x:1\"\nparticipant_id = \"a\"\nrole = \"BOSS\"\n", wantErr: "role"},
		{name: "bad match", toml: "grpc_addr = \"x:1\"\nparticipant_id = \"a\"\nrole = \"OWNER\"\nmatch = \"fuzzy\"\n", wantErr: "match"},
		{name: "bad timeout", toml: "grpc_addr = \"x:1\"\nparticipant_id = \"a\"\nrole = \"OWNER\"\nsend_timeout = \"later\"\n", wantErr: "send_timeout"},
		{name: "bad toml", toml: "grpc_addr = ", wantErr: "parsing client config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseClient([]byte(tt.toml))
			if err == nil {
				t.Fatal("ParseClient() should have failed")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}
