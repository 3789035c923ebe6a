// Package workflow drives the scrape, rewrite, review and approve loop for
// a single page.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/spinloop/internal/scraper"
	"github.com/mohammad-safakhou/spinloop/internal/store"
	"github.com/mohammad-safakhou/spinloop/provider"
)

// DefaultCollection receives approved rewrites.
const DefaultCollection = "approved_versions"

// markerEnd closes every generation in the stream.
const markerEnd = "\n[MODEL_END]\n"

func markerStart(name string) string { return fmt.Sprintf("[MODEL_START:%s]\n", name) }
func markerError(name string) string { return fmt.Sprintf("\n[ERROR] Failed from %s.\n", name) }

// PageCache is the scrape cache, usually *store.Store.
type PageCache interface {
	GetScrapedByURL(ctx context.Context, url string) (*store.ScrapedContent, error)
	InsertScraped(ctx context.Context, url, rawText string, screenshot []byte) (int64, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, url string) (scraper.Page, error)
}

// Archive stores approved text, usually a vecstore.Collection.
type Archive interface {
	Add(ctx context.Context, collection, docID, text string) error
}

type Options struct {
	// Cache is optional; without it every Start scrapes.
	Cache           PageCache
	Fetcher         Fetcher
	Threads         ThreadStore
	Providers       map[string]provider.Provider
	DefaultProvider string
	Archive         Archive
	Collection      string
	Logger          *log.Logger
}

type Workflow struct {
	cache           PageCache
	fetcher         Fetcher
	threads         ThreadStore
	providers       map[string]provider.Provider
	defaultProvider string
	archive         Archive
	collection      string
	logger          *log.Logger
}

func New(opts Options) (*Workflow, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("workflow: fetcher required")
	}
	if opts.Threads == nil {
		return nil, errors.New("workflow: thread store required")
	}
	if opts.Archive == nil {
		return nil, errors.New("workflow: archive required")
	}
	if opts.Collection == "" {
		opts.Collection = DefaultCollection
	}
	if opts.Logger == nil {
		opts.Logger = log.New(log.Writer(), "[WORKFLOW] ", log.LstdFlags)
	}
	return &Workflow{
		cache:           opts.Cache,
		fetcher:         opts.Fetcher,
		threads:         opts.Threads,
		providers:       opts.Providers,
		defaultProvider: opts.DefaultProvider,
		archive:         opts.Archive,
		collection:      opts.Collection,
		logger:          opts.Logger,
	}, nil
}

// Start opens a thread for url, reusing a cached scrape when one exists.
// The cache is keyed by the canonical form of url.
func (w *Workflow) Start(ctx context.Context, rawURL string) (*Thread, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, errors.New("url required")
	}
	url, err := scraper.CanonicalURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	text, err := w.pageText(ctx, url)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	t := &Thread{
		ID:        uuid.NewString(),
		URL:       url,
		Original:  text,
		State:     StateScraped,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := w.threads.Save(ctx, t); err != nil {
		return nil, fmt.Errorf("save thread: %w", err)
	}
	w.logger.Printf("thread %s started for %s (%d chars)", t.ID, url, len(text))
	return t, nil
}

func (w *Workflow) pageText(ctx context.Context, url string) (string, error) {
	if w.cache != nil {
		cached, err := w.cache.GetScrapedByURL(ctx, url)
		if err == nil {
			w.logger.Printf("cache hit for %s", url)
			return cached.RawText, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return "", err
		}
	}
	page, err := w.fetcher.Fetch(ctx, url)
	if err != nil {
		return "", fmt.Errorf("scrape failed: %w", err)
	}
	if w.cache != nil {
		if _, err := w.cache.InsertScraped(ctx, url, page.Text, page.Screenshot); err != nil {
			return "", err
		}
	}
	return page.Text, nil
}

// Thread returns a stored thread.
func (w *Workflow) Thread(ctx context.Context, id string) (*Thread, error) {
	return w.threads.Get(ctx, id)
}

func (w *Workflow) provider(name string) (provider.Provider, error) {
	if name == "" {
		name = w.defaultProvider
	}
	p, ok := w.providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown llm provider %q", name)
	}
	return p, nil
}

// Continue generates the next version of a thread, streaming it to emit
// between [MODEL_START:<provider>] and [MODEL_END] markers. Non-empty
// feedback is recorded first. When generation fails an [ERROR] marker is
// emitted, the thread keeps its previous version and state, and the error
// is returned.
func (w *Workflow) Continue(ctx context.Context, threadID, feedback, providerName string, emit func(string) error) (*Thread, error) {
	t, err := w.threads.Get(ctx, threadID)
	if err != nil {
		return nil, err
	}
	p, err := w.provider(providerName)
	if err != nil {
		return nil, err
	}
	prev := t.State
	if err := t.transition(StateGenerating); err != nil {
		return nil, err
	}
	if fb := strings.TrimSpace(feedback); fb != "" {
		t.Feedback = append(t.Feedback, fb)
	}

	name := p.Name()
	w.logger.Printf("thread %s: generating with %s", t.ID, name)
	var out strings.Builder
	err = emit(markerStart(name))
	if err == nil {
		err = p.Stream(ctx, EditorMessages(t.Original, t.Generated, t.Feedback), func(chunk string) error {
			out.WriteString(chunk)
			return emit(chunk)
		})
	}
	if err == nil && out.Len() == 0 {
		err = provider.ErrEmptyResponse
	}
	if err != nil {
		w.logger.Printf("thread %s: %s failed: %v", t.ID, name, err)
		_ = emit(markerError(name))
		_ = emit(markerEnd)
		if terr := t.transition(prev); terr != nil {
			return nil, terr
		}
		if serr := w.threads.Save(ctx, t); serr != nil {
			return nil, fmt.Errorf("save thread: %w", serr)
		}
		return t, fmt.Errorf("generate with %s: %w", name, err)
	}

	t.Generated = out.String()
	t.Provider = name
	if err := t.transition(StateAwaitingFeedback); err != nil {
		return nil, err
	}
	_ = emit(markerEnd)
	if err := w.threads.Save(ctx, t); err != nil {
		return nil, fmt.Errorf("save thread: %w", err)
	}
	return t, nil
}

// Approve archives content (the thread's latest version when empty) into
// collection and closes the thread. It returns the archived document id.
func (w *Workflow) Approve(ctx context.Context, threadID, content, collection string) (string, error) {
	t, err := w.threads.Get(ctx, threadID)
	if err != nil {
		return "", err
	}
	if t.State != StateAwaitingFeedback {
		return "", fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.State, StateApproved)
	}
	if strings.TrimSpace(content) == "" {
		content = t.Generated
	}
	if collection == "" {
		collection = w.collection
	}
	docID := "approved_" + uuid.NewString()
	if err := w.archive.Add(ctx, collection, docID, content); err != nil {
		return "", fmt.Errorf("archive: %w", err)
	}
	t.Generated = content
	t.DocID = docID
	if err := t.transition(StateApproved); err != nil {
		return "", err
	}
	if err := w.threads.Save(ctx, t); err != nil {
		return "", fmt.Errorf("save thread: %w", err)
	}
	w.logger.Printf("thread %s approved as %s in %s", t.ID, docID, collection)
	return docID, nil
}
