package vecstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/spinloop/internal/store"
	"github.com/mohammad-safakhou/spinloop/provider"
)

// archive is the part of store.Store that PG needs.
type archive interface {
	InsertApproved(ctx context.Context, doc store.ApprovedDocument) error
	SearchApproved(ctx context.Context, collection string, vector []float32, n int) ([]store.ApprovedMatch, error)
	Stats(ctx context.Context) (store.Stats, error)
}

// PG embeds documents with an Embedder and keeps them in pgvector.
type PG struct {
	archive  archive
	embedder provider.Embedder
}

func NewPG(st archive, embedder provider.Embedder) *PG {
	return &PG{archive: st, embedder: embedder}
}

func (p *PG) embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.embedder.CreateEmbedding(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("embed: empty embedding")
	}
	return vecs[0], nil
}

func (p *PG) Add(ctx context.Context, collection, docID, text string) error {
	if strings.TrimSpace(text) == "" {
		return errEmptyDoc
	}
	vec, err := p.embed(ctx, text)
	if err != nil {
		return err
	}
	return p.archive.InsertApproved(ctx, store.ApprovedDocument{
		DocID:      docID,
		Collection: collection,
		Content:    text,
		Vector:     vec,
	})
}

// Query ranks by cosine distance; Score is 1 - distance.
func (p *PG) Query(ctx context.Context, collection, text string, n int) ([]Hit, error) {
	vec, err := p.embed(ctx, text)
	if err != nil {
		return nil, err
	}
	matches, err := p.archive.SearchApproved(ctx, collection, vec, n)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(matches))
	for _, m := range matches {
		hits = append(hits, Hit{DocID: m.DocID, Content: m.Content, Score: 1 - m.Distance})
	}
	return hits, nil
}

func (p *PG) Stats(ctx context.Context) ([]CollectionStats, error) {
	st, err := p.archive.Stats(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]CollectionStats, 0, len(st.Collections))
	for _, c := range st.Collections {
		out = append(out, CollectionStats{Name: c.Name, Documents: c.Documents})
	}
	return out, nil
}
