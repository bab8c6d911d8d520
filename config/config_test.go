package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"server": {"jwt_secret": "s3cret"},
		"llm": {"provider": "openai", "model": "gpt-4o", "api_key": "k"},
		"storage": {"postgres": {"url": "postgres://localhost/db"}}
	}`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Agent.MaxToolCalls != 24 {
		t.Fatalf("agent.max_tool_calls = %d, want default 24", cfg.Agent.MaxToolCalls)
	}
	if cfg.MCP.CallTimeout != 30*time.Second {
		t.Fatalf("mcp.call_timeout = %v, want 30s", cfg.MCP.CallTimeout)
	}
	if cfg.Tools.DB.MaxRows != 200 {
		t.Fatalf("tools.db.max_rows = %d, want default 200", cfg.Tools.DB.MaxRows)
	}
	if cfg.Tools.Webpage.Mode != "plain" {
		t.Fatalf("tools.webpage.mode = %q, want plain", cfg.Tools.Webpage.Mode)
	}
}

func TestLoadConfigRequiresJWTSecret(t *testing.T) {
	path := writeConfig(t, `{
		"llm": {"provider": "openai", "model": "gpt-4o"},
		"storage": {"postgres": {"url": "postgres://localhost/db"}}
	}`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error for missing jwt secret")
	}
}

func TestLoadConfigRequiresModel(t *testing.T) {
	path := writeConfig(t, `{
		"server": {"jwt_secret": "s"},
		"llm": {"provider": "openai"},
		"storage": {"postgres": {"url": "postgres://localhost/db"}}
	}`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error for missing model")
	}
}

func TestPostgresDSNFromParts(t *testing.T) {
	p := PostgresConfig{Host: "db", Port: "5432", User: "u", Password: "p", DBName: "app", SSLMode: "disable"}
	want := "postgres://u:p@db:5432/app?sslmode=disable"
	if got := p.DSN(); got != want {
		t.Fatalf("DSN = %q, want %q", got, want)
	}
}

func TestRedisValidation(t *testing.T) {
	r := RedisConfig{Enabled: true}
	if err := r.Validate(); err == nil {
		t.Fatal("expected error for enabled redis without host")
	}
	r = RedisConfig{Enabled: false}
	if err := r.Validate(); err != nil {
		t.Fatalf("disabled redis should validate: %v", err)
	}
}
