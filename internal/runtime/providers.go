package runtime

import (
	"fmt"
	"log"
	"sort"

	"github.com/mohammad-safakhou/spinloop/config"
	"github.com/mohammad-safakhou/spinloop/provider"
	"github.com/mohammad-safakhou/spinloop/provider/gemini"
	openai_provider "github.com/mohammad-safakhou/spinloop/provider/openai"
)

// ProviderOptions maps a configured provider onto client options.
func ProviderOptions(name string, p config.LLMProvider, embeddingModel string) provider.Options {
	return provider.Options{
		Name:           name,
		APIKey:         p.APIKey,
		BaseURL:        p.BaseURL,
		Model:          p.Model,
		EmbeddingModel: embeddingModel,
		Temperature:    p.Temperature,
		MaxTokens:      p.MaxTokens,
		Timeout:        p.Timeout,
	}
}

type client interface {
	provider.Provider
	provider.Embedder
}

func newClient(opts provider.Options, kind string) (client, error) {
	switch provider.Client(kind) {
	case provider.OpenAI:
		return openai_provider.NewOpenAIClient(opts), nil
	case provider.Gemini:
		return gemini.New(opts), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", kind)
	}
}

// NewProvider builds the client for one configured provider.
func NewProvider(name string, p config.LLMProvider) (provider.Provider, error) {
	return newClient(ProviderOptions(name, p, ""), p.Type)
}

// NewProviders builds every provider that has an API key. Providers
// without one are skipped and logged.
func NewProviders(cfg config.LLMConfig) (map[string]provider.Provider, error) {
	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]provider.Provider, len(names))
	for _, name := range names {
		p := cfg.Providers[name]
		if p.APIKey == "" {
			log.Printf("[RUNTIME] provider %s skipped: no api key", name)
			continue
		}
		c, err := NewProvider(name, p)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		out[name] = c
	}
	return out, nil
}

// NewEmbedder returns the embedding client, or nil when no embedding
// provider is configured.
func NewEmbedder(cfg config.LLMConfig) (provider.Embedder, error) {
	name := cfg.Embedding.Provider
	if name == "" {
		return nil, nil
	}
	p, ok := cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("embedding provider %q is not configured", name)
	}
	if p.APIKey == "" {
		return nil, fmt.Errorf("embedding provider %q has no api key", name)
	}
	return newClient(ProviderOptions(name, p, cfg.Embedding.Model), p.Type)
}
