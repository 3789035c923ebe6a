package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// MaxListLimit bounds ListScraped.
const MaxListLimit = 100

type Store struct {
	DB *sql.DB
}

// ScrapedContent is a cached page scrape keyed by URL.
type ScrapedContent struct {
	ID         int64
	URL        string
	RawText    string
	Screenshot []byte
	CreatedAt  time.Time
}

// ApprovedDocument is an archived, human-approved rewrite.
type ApprovedDocument struct {
	DocID      string
	Collection string
	Content    string
	Vector     []float32
	CreatedAt  time.Time
}

// ApprovedMatch is one nearest-neighbour hit from SearchApproved.
type ApprovedMatch struct {
	DocID    string
	Content  string
	Distance float64
}

// CollectionStats counts archived documents in a collection.
type CollectionStats struct {
	Name      string
	Documents int
}

// Stats summarises stored data.
type Stats struct {
	ScrapedPages int
	Collections  []CollectionStats
}

// NewWithDSN opens a Postgres connection and verifies it.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{DB: db}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.DB.Close() }

// GetScrapedByURL returns the cached scrape for url or ErrNotFound.
func (s *Store) GetScrapedByURL(ctx context.Context, url string) (*ScrapedContent, error) {
	var sc ScrapedContent
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, url, raw_text, screenshot, created_at FROM scraped_content WHERE url=$1`, url,
	).Scan(&sc.ID, &sc.URL, &sc.RawText, &sc.Screenshot, &sc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get scraped %s: %w", url, err)
	}
	return &sc, nil
}

// InsertScraped caches a scrape, replacing any earlier one for the same URL.
func (s *Store) InsertScraped(ctx context.Context, url, rawText string, screenshot []byte) (int64, error) {
	if url == "" {
		return 0, fmt.Errorf("url required")
	}
	var id int64
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO scraped_content (url, raw_text, screenshot, created_at)
VALUES ($1,$2,$3,NOW())
ON CONFLICT (url) DO UPDATE SET
  raw_text = EXCLUDED.raw_text,
  screenshot = EXCLUDED.screenshot,
  created_at = NOW()
RETURNING id;
`, url, rawText, screenshot).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert scraped %s: %w", url, err)
	}
	return id, nil
}

// ListScraped returns the most recent scrapes without their screenshots.
// limit must be within 1..MaxListLimit.
func (s *Store) ListScraped(ctx context.Context, limit int) ([]ScrapedContent, error) {
	if limit < 1 || limit > MaxListLimit {
		return nil, fmt.Errorf("limit must be between 1 and %d", MaxListLimit)
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, url, raw_text, created_at FROM scraped_content ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ScrapedContent
	for rows.Next() {
		var sc ScrapedContent
		if err := rows.Scan(&sc.ID, &sc.URL, &sc.RawText, &sc.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// InsertApproved archives an approved document with its embedding.
func (s *Store) InsertApproved(ctx context.Context, doc ApprovedDocument) error {
	if doc.DocID == "" {
		return fmt.Errorf("doc_id required")
	}
	if doc.Collection == "" {
		return fmt.Errorf("collection required")
	}
	vectorLiteral, err := encodeVectorLiteral(doc.Vector)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO approved_versions (doc_id, collection, content, embedding, created_at)
VALUES ($1,$2,$3,$4::vector,NOW())
ON CONFLICT (doc_id) DO UPDATE SET
  content = EXCLUDED.content,
  embedding = EXCLUDED.embedding;
`, doc.DocID, doc.Collection, doc.Content, vectorLiteral)
	return err
}

// SearchApproved returns the n documents of collection closest to vector by
// cosine distance.
func (s *Store) SearchApproved(ctx context.Context, collection string, vector []float32, n int) ([]ApprovedMatch, error) {
	if n <= 0 {
		n = 5
	}
	vecLiteral, err := encodeVectorLiteral(vector)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT doc_id, content, embedding <=> $1::vector AS distance
FROM approved_versions
WHERE collection = $2
ORDER BY embedding <=> $1::vector
LIMIT $3
`, vecLiteral, collection, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []ApprovedMatch
	for rows.Next() {
		var m ApprovedMatch
		if err := rows.Scan(&m.DocID, &m.Content, &m.Distance); err != nil {
			return nil, err
		}
		results = append(results, m)
	}
	return results, rows.Err()
}

// Stats counts cached scrapes and archived documents per collection.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM scraped_content`).Scan(&st.ScrapedPages); err != nil {
		return st, fmt.Errorf("count scraped: %w", err)
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT collection, COUNT(*) FROM approved_versions GROUP BY collection ORDER BY collection`)
	if err != nil {
		return st, fmt.Errorf("count approved: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c CollectionStats
		if err := rows.Scan(&c.Name, &c.Documents); err != nil {
			return st, err
		}
		st.Collections = append(st.Collections, c)
	}
	return st, rows.Err()
}

func encodeVectorLiteral(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "", fmt.Errorf("vector must not be empty")
	}
	var builder strings.Builder
	builder.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}
