package config

import (
	"os"
	"testing"

	"github.com/BurntSushi/toml"
)

func TestDefaults(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Worker.Port != 8080 || cfg.Gateway.Port != 8081 {
		t.Fatalf("unexpected default ports: %d/%d", cfg.Worker.Port, cfg.Gateway.Port)
	}
	if cfg.Gateway.LongpollMs != 10_000 || cfg.Gateway.TailSize != 30 {
		t.Fatalf("unexpected longpoll defaults: %d/%d", cfg.Gateway.LongpollMs, cfg.Gateway.TailSize)
	}
}

func TestDecodeTokenTable(t *testing.T) {
	raw := `
[worker]
port = 9090
sandbox_root = "/tmp/spool-sandbox"

[gateway]
longpoll_ms = 2000

[[gateway.tokens]]
token = "tok_me"
user_id = "user_me"
workspace_id = "ws_me"
node_url = "http://127.0.0.1:9090"
`
	cfg := DefaultConfig()
	if _, err := toml.Decode(raw, cfg); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if cfg.Worker.Port != 9090 {
		t.Fatalf("worker port %d", cfg.Worker.Port)
	}
	if cfg.Gateway.LongpollMs != 2000 {
		t.Fatalf("longpoll %d", cfg.Gateway.LongpollMs)
	}

	entry, ok := cfg.ResolveToken("tok_me")
	if !ok {
		t.Fatal("token not resolved")
	}
	if entry.WorkspaceID != "ws_me" || entry.NodeURL != "http://127.0.0.1:9090" {
		t.Fatalf("bad entry: %+v", entry)
	}
	if _, ok := cfg.ResolveToken("tok_nope"); ok {
		t.Fatal("unknown token resolved")
	}
}

func TestEnvOverrides(t *testing.T) {
	os.Setenv("SPOOL_WORKER_PORT", "7001")
	os.Setenv("SPOOL_LONGPOLL_MS", "1234")
	defer os.Unsetenv("SPOOL_WORKER_PORT")
	defer os.Unsetenv("SPOOL_LONGPOLL_MS")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Worker.Port != 7001 {
		t.Fatalf("worker port %d", cfg.Worker.Port)
	}
	if cfg.Gateway.LongpollMs != 1234 {
		t.Fatalf("longpoll %d", cfg.Gateway.LongpollMs)
	}
}
