package provider

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Client names a provider implementation.
type Client string

const (
	OpenAI Client = "openai"
	Gemini Client = "gemini"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChunkFunc receives streamed text in order. Returning an error aborts the stream.
type ChunkFunc func(chunk string) error

// Provider is the interface every LLM implementation satisfies.
type Provider interface {
	Name() string
	Stream(ctx context.Context, messages []Message, onChunk ChunkFunc) error
}

// Embedder turns texts into dense vectors.
type Embedder interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// Options carries what every client needs.
type Options struct {
	Name           string
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	Temperature    float64
	MaxTokens      int
	Timeout        time.Duration
}

// ErrEmptyResponse is returned when a stream ends without any text.
var ErrEmptyResponse = errors.New("provider returned no content")

// ReadSSE calls fn with the payload of every "data:" line of a server-sent
// event stream. A "[DONE]" payload ends the stream.
func ReadSSE(r io.Reader, fn func(data string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			return nil
		}
		if err := fn(data); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// StatusError reads a short body excerpt for a non-2xx response.
func StatusError(status int, body io.Reader) error {
	b, _ := io.ReadAll(io.LimitReader(body, 512))
	msg := strings.TrimSpace(string(b))
	if msg == "" {
		return fmt.Errorf("API returned status: %d", status)
	}
	return fmt.Errorf("API returned status: %d: %s", status, msg)
}

// Collect runs a stream to completion and returns the concatenated text.
func Collect(ctx context.Context, p Provider, messages []Message) (string, error) {
	var sb strings.Builder
	err := p.Stream(ctx, messages, func(chunk string) error {
		sb.WriteString(chunk)
		return nil
	})
	if err != nil {
		return sb.String(), err
	}
	if sb.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return sb.String(), nil
}
