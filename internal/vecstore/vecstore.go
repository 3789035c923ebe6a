// Package vecstore holds approved documents in named collections and answers
// similarity queries over them.
package vecstore

import (
	"context"
	"errors"
)

// Hit is one query result; higher Score is more similar.
type Hit struct {
	DocID   string  `json:"doc_id" yaml:"doc_id"`
	Content string  `json:"content" yaml:"content"`
	Score   float64 `json:"score" yaml:"score"`
}

// CollectionStats counts the documents of one collection.
type CollectionStats struct {
	Name      string `json:"name" yaml:"name"`
	Documents int    `json:"documents" yaml:"documents"`
}

// Collection stores and searches documents. Querying a collection that
// does not exist yet returns no hits.
type Collection interface {
	Add(ctx context.Context, collection, docID, text string) error
	Query(ctx context.Context, collection, text string, n int) ([]Hit, error)
	Stats(ctx context.Context) ([]CollectionStats, error)
}

var errEmptyDoc = errors.New("document text required")
