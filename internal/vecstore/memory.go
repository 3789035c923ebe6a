package vecstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve"
)

type memDoc struct {
	Content string `json:"content"`
}

type memCollection struct {
	index bleve.Index
	docs  map[string]string
}

// Memory keeps each collection in an in-memory bleve index and ranks by
// BM25 text relevance. It backs the CLI when Postgres is not configured.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
}

func NewMemory() *Memory {
	return &Memory{collections: make(map[string]*memCollection)}
}

func (m *Memory) Add(_ context.Context, collection, docID, text string) error {
	if strings.TrimSpace(text) == "" {
		return errEmptyDoc
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[collection]
	if !ok {
		index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
		if err != nil {
			return err
		}
		c = &memCollection{index: index, docs: make(map[string]string)}
		m.collections[collection] = c
	}
	c.docs[docID] = text
	return c.index.Index(docID, memDoc{Content: text})
}

func (m *Memory) Query(_ context.Context, collection, text string, n int) ([]Hit, error) {
	if n <= 0 {
		n = 5
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[collection]
	if !ok {
		return nil, nil
	}
	req := bleve.NewSearchRequestOptions(bleve.NewMatchQuery(text), n, 0, false)
	res, err := c.index.Search(req)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hits = append(hits, Hit{DocID: h.ID, Content: c.docs[h.ID], Score: h.Score})
	}
	return hits, nil
}

func (m *Memory) Stats(context.Context) ([]CollectionStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]CollectionStats, 0, len(m.collections))
	for name, c := range m.collections {
		out = append(out, CollectionStats{Name: name, Documents: len(c.docs)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
