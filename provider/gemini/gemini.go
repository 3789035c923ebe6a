// Package gemini streams completions from the Google Generative Language API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/mohammad-safakhou/spinloop/provider"
)

const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

type Client struct {
	name           string
	apiKey         string
	baseURL        string
	model          string
	embeddingModel string
	temperature    float64
	maxTokens      int
	httpClient     *http.Client
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type generateRequest struct {
	Contents          []content        `json:"contents"`
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func New(opts provider.Options) *Client {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	name := opts.Name
	if name == "" {
		name = string(provider.Gemini)
	}
	return &Client{
		name:           name,
		apiKey:         opts.APIKey,
		baseURL:        base,
		model:          opts.Model,
		embeddingModel: opts.EmbeddingModel,
		temperature:    opts.Temperature,
		maxTokens:      opts.MaxTokens,
		httpClient:     &http.Client{Timeout: opts.Timeout},
	}
}

func (c *Client) Name() string { return c.name }

// toContents maps chat roles onto Gemini's user/model turns; system
// messages become the system instruction.
func toContents(messages []provider.Message) ([]content, *content) {
	var (
		out    []content
		system []part
	)
	for _, m := range messages {
		switch m.Role {
		case "system":
			system = append(system, part{Text: m.Content})
		case "assistant", "model":
			out = append(out, content{Role: "model", Parts: []part{{Text: m.Content}}})
		default:
			out = append(out, content{Role: "user", Parts: []part{{Text: m.Content}}})
		}
	}
	if len(system) == 0 {
		return out, nil
	}
	return out, &content{Parts: system}
}

func (c *Client) endpoint(model, method string, query url.Values) string {
	query.Set("key", c.apiKey)
	return fmt.Sprintf("%s/models/%s:%s?%s", c.baseURL, url.PathEscape(model), method, query.Encode())
}

// Stream calls streamGenerateContent with SSE framing.
func (c *Client) Stream(ctx context.Context, messages []provider.Message, onChunk provider.ChunkFunc) error {
	contents, system := toContents(messages)
	jsonData, err := json.Marshal(generateRequest{
		Contents:          contents,
		SystemInstruction: system,
		GenerationConfig:  generationConfig{Temperature: c.temperature, MaxOutputTokens: c.maxTokens},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	u := c.endpoint(c.model, "streamGenerateContent", url.Values{"alt": []string{"sse"}})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return provider.StatusError(resp.StatusCode, resp.Body)
	}

	return provider.ReadSSE(resp.Body, func(data string) error {
		var chunk generateResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return fmt.Errorf("failed to parse stream chunk: %w", err)
		}
		if chunk.Error != nil {
			return fmt.Errorf("stream error: %s", chunk.Error.Message)
		}
		for _, cand := range chunk.Candidates {
			for _, p := range cand.Content.Parts {
				if p.Text == "" {
					continue
				}
				if err := onChunk(p.Text); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// CreateEmbedding uses batchEmbedContents.
func (c *Client) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	type embedRequest struct {
		Model   string  `json:"model"`
		Content content `json:"content"`
	}
	reqs := make([]embedRequest, len(texts))
	for i, t := range texts {
		reqs[i] = embedRequest{Model: "models/" + c.embeddingModel, Content: content{Parts: []part{{Text: t}}}}
	}
	jsonData, err := json.Marshal(map[string]interface{}{"requests": reqs})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(c.embeddingModel, "batchEmbedContents", url.Values{}), bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, provider.StatusError(resp.StatusCode, resp.Body)
	}
	var out struct {
		Embeddings []struct {
			Values []float32 `json:"values"`
		} `json:"embeddings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(out.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(out.Embeddings))
	}
	vecs := make([][]float32, len(out.Embeddings))
	for i, e := range out.Embeddings {
		vecs[i] = e.Values
	}
	return vecs, nil
}
