package runtime

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/mohammad-safakhou/spinloop/config"
	"github.com/mohammad-safakhou/spinloop/internal/vecstore"
)

func TestBuildPostgresDSN(t *testing.T) {
	p := config.PostgresConfig{Host: "db", User: "spin", Password: "p@ss/word", DBName: "spin", Timeout: 10 * time.Second}
	dsn, err := BuildPostgresDSN(p)
	if err != nil {
		t.Fatalf("BuildPostgresDSN: %v", err)
	}
	if dsn != "postgres://spin:p%40ss%2Fword@db:5432/spin?connect_timeout=10&sslmode=disable" {
		t.Fatalf("unexpected dsn %q", dsn)
	}

	p.URL = "postgres://x"
	if dsn, _ := BuildPostgresDSN(p); dsn != "postgres://x" {
		t.Fatalf("url should win, got %q", dsn)
	}
	if _, err := BuildPostgresDSN(config.PostgresConfig{}); !errors.Is(err, ErrPostgresNotConfigured) {
		t.Fatalf("expected ErrPostgresNotConfigured, got %v", err)
	}
	if _, err := BuildPostgresDSN(config.PostgresConfig{Host: "db"}); err == nil {
		t.Fatalf("expected dbname error")
	}
}

func TestNewProvidersSkipsMissingKeys(t *testing.T) {
	cfg := config.LLMConfig{Providers: map[string]config.LLMProvider{
		"groq":   {Type: "openai", APIKey: "k", BaseURL: "https://api.groq.com/openai/v1"},
		"gemini": {Type: "gemini"},
	}}
	ps, err := NewProviders(cfg)
	if err != nil {
		t.Fatalf("NewProviders: %v", err)
	}
	if len(ps) != 1 || ps["groq"] == nil || ps["groq"].Name() != "groq" {
		t.Fatalf("unexpected providers: %v", ps)
	}

	cfg.Providers["bad"] = config.LLMProvider{Type: "anthropic", APIKey: "k"}
	if _, err := NewProviders(cfg); err == nil {
		t.Fatalf("expected unknown type error")
	}
}

func TestNewEmbedder(t *testing.T) {
	cfg := config.LLMConfig{Providers: map[string]config.LLMProvider{
		"gemini": {Type: "gemini", APIKey: "k"},
		"groq":   {Type: "openai"},
	}}
	if e, err := NewEmbedder(cfg); err != nil || e != nil {
		t.Fatalf("expected no embedder, got %v %v", e, err)
	}
	cfg.Embedding = config.EmbeddingConfig{Provider: "gemini", Model: "text-embedding-004"}
	if e, err := NewEmbedder(cfg); err != nil || e == nil {
		t.Fatalf("expected gemini embedder, got %v %v", e, err)
	}
	cfg.Embedding.Provider = "groq"
	if _, err := NewEmbedder(cfg); err == nil {
		t.Fatalf("expected missing key error")
	}
}

func TestNewAppWithoutBackends(t *testing.T) {
	cfg := &config.Config{
		LLM: config.LLMConfig{DefaultProvider: "groq", Providers: map[string]config.LLMProvider{
			"groq": {Type: "openai", APIKey: "k"},
		}},
		Retrieval: config.RetrievalConfig{
			Actions: []string{"summary", "plot"}, Epsilon: 0.1,
			LearningRate: 0.01, Alpha: 0.0001, Seed: 7, DefaultResults: 5,
		},
		Policy:   config.PolicyConfig{Backend: "sqlite", Path: filepath.Join(t.TempDir(), "policy.db")},
		Workflow: config.WorkflowConfig{ThreadStore: "memory"},
	}
	app, err := NewApp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	defer app.Close()

	if app.Store != nil || app.Redis != nil {
		t.Fatalf("no external backends expected")
	}
	if _, ok := app.Collection.(*vecstore.Memory); !ok {
		t.Fatalf("expected memory collection, got %T", app.Collection)
	}
	if app.Workflow == nil || app.Retrieval == nil || app.Agent == nil {
		t.Fatalf("services not wired")
	}
	if err := app.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
