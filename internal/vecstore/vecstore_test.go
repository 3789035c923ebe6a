package vecstore

import (
	"context"
	"errors"
	"testing"

	"github.com/mohammad-safakhou/spinloop/internal/store"
)

func TestMemoryQueryRanksRelevantFirst(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	docs := map[string]string{
		"approved_1": "The desert planet Arrakis hides the spice and the sandworms.",
		"approved_2": "A quiet village by the sea where fishermen mend their nets.",
		"approved_3": "Sandworms guard the spice fields of the desert.",
	}
	for id, text := range docs {
		if err := m.Add(ctx, "approved_versions", id, text); err != nil {
			t.Fatalf("Add %s: %v", id, err)
		}
	}
	if err := m.Add(ctx, "drafts", "draft_1", "desert draft"); err != nil {
		t.Fatalf("Add draft: %v", err)
	}

	hits, err := m.Query(ctx, "approved_versions", "sandworms spice desert", 2)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	for _, h := range hits {
		if h.DocID == "approved_2" || h.DocID == "draft_1" {
			t.Fatalf("irrelevant hit %s", h.DocID)
		}
		if h.Content != docs[h.DocID] {
			t.Fatalf("content mismatch for %s", h.DocID)
		}
	}

	none, err := m.Query(ctx, "missing", "desert", 3)
	if err != nil || len(none) != 0 {
		t.Fatalf("unknown collection should be empty: %v %v", none, err)
	}

	stats, _ := m.Stats(ctx)
	if len(stats) != 2 || stats[0].Name != "approved_versions" || stats[0].Documents != 3 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if err := m.Add(ctx, "drafts", "x", "  "); !errors.Is(err, errEmptyDoc) {
		t.Fatalf("expected empty doc error, got %v", err)
	}
}

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f fakeEmbedder) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

type fakeArchive struct {
	inserted []store.ApprovedDocument
	matches  []store.ApprovedMatch
	gotN     int
}

func (f *fakeArchive) InsertApproved(_ context.Context, doc store.ApprovedDocument) error {
	f.inserted = append(f.inserted, doc)
	return nil
}

func (f *fakeArchive) SearchApproved(_ context.Context, _ string, _ []float32, n int) ([]store.ApprovedMatch, error) {
	f.gotN = n
	return f.matches, nil
}

func (f *fakeArchive) Stats(context.Context) (store.Stats, error) {
	return store.Stats{Collections: []store.CollectionStats{{Name: "approved_versions", Documents: 2}}}, nil
}

func TestPGAddAndQuery(t *testing.T) {
	ctx := context.Background()
	arch := &fakeArchive{matches: []store.ApprovedMatch{{DocID: "approved_1", Content: "c", Distance: 0.25}}}
	p := NewPG(arch, fakeEmbedder{vec: []float32{0.1, 0.2}})

	if err := p.Add(ctx, "approved_versions", "approved_1", "text"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if len(arch.inserted) != 1 || len(arch.inserted[0].Vector) != 2 || arch.inserted[0].Collection != "approved_versions" {
		t.Fatalf("unexpected insert %+v", arch.inserted)
	}
	hits, err := p.Query(ctx, "approved_versions", "q", 3)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if arch.gotN != 3 || len(hits) != 1 || hits[0].Score != 0.75 {
		t.Fatalf("unexpected hits %+v (n=%d)", hits, arch.gotN)
	}
	stats, err := p.Stats(ctx)
	if err != nil || len(stats) != 1 || stats[0].Documents != 2 {
		t.Fatalf("unexpected stats %+v %v", stats, err)
	}
}

func TestPGEmbedError(t *testing.T) {
	p := NewPG(&fakeArchive{}, fakeEmbedder{err: errors.New("quota")})
	if err := p.Add(context.Background(), "c", "d", "text"); err == nil {
		t.Fatalf("expected embed error")
	}
	if _, err := p.Query(context.Background(), "c", "text", 1); err == nil {
		t.Fatalf("expected embed error")
	}
}
