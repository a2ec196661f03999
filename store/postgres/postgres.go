// Package postgres implements shelly.Archive and shelly.Recaller using
// PostgreSQL via pgx.
//
// The Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/XuanLee-HEALER/shelly"
)

// Store persists journal entries and long-term memories in PostgreSQL.
// Similarity search is a brute-force cosine scan over all stored
// embeddings, which is fine at journal scale.
type Store struct {
	pool *pgxpool.Pool
}

var _ shelly.Archive = (*Store)(nil)
var _ shelly.Recaller = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates the journal and memories tables and their indexes.
// Safe to call multiple times (all statements are idempotent).
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS journal (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS journal_created_idx ON journal(created_at)`,

		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			embedding TEXT,
			created_at BIGINT NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}
	return nil
}

// Save appends one journal entry. Each entry gets a fresh ID; the
// journal never updates rows in place.
func (s *Store) Save(ctx context.Context, e shelly.Entry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO journal (id, kind, content, created_at) VALUES ($1, $2, $3, $4)`,
		shelly.NewID(), string(e.Kind), e.String(), e.At.Unix())
	if err != nil {
		return fmt.Errorf("postgres: save entry: %w", err)
	}
	return nil
}

// RecentJournal returns the most recent journal records, ordered
// chronologically (oldest first).
func (s *Store) RecentJournal(ctx context.Context, limit int) ([]shelly.JournalRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, kind, content, created_at
		 FROM journal
		 ORDER BY created_at DESC, id DESC
		 LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent journal: %w", err)
	}
	defer rows.Close()

	var records []shelly.JournalRecord
	for rows.Next() {
		var r shelly.JournalRecord
		var kind string
		if err := rows.Scan(&r.ID, &kind, &r.Content, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan journal: %w", err)
		}
		r.Kind = shelly.EntryKind(kind)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate journal: %w", err)
	}

	// Reverse into chronological order.
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// StoreMemory inserts or replaces a memory.
func (s *Store) StoreMemory(ctx context.Context, m shelly.Memory) error {
	if m.ID == "" {
		m.ID = shelly.NewID()
	}
	if m.CreatedAt == 0 {
		m.CreatedAt = shelly.NowUnix()
	}
	var embJSON *string
	if len(m.Embedding) > 0 {
		v := serializeEmbedding(m.Embedding)
		embJSON = &v
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO memories (id, content, embedding, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET
		   content = EXCLUDED.content,
		   embedding = EXCLUDED.embedding,
		   created_at = EXCLUDED.created_at`,
		m.ID, m.Content, embJSON, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: store memory: %w", err)
	}
	return nil
}

// SearchSimilar scans all memories and ranks them by cosine similarity
// against the query embedding, returning the top K.
func (s *Store) SearchSimilar(ctx context.Context, embedding []float32, topK int) ([]shelly.ScoredMemory, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, content, embedding, created_at FROM memories WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("postgres: search memories: %w", err)
	}
	defer rows.Close()

	var scored []shelly.ScoredMemory
	for rows.Next() {
		var m shelly.Memory
		var embStr string
		if err := rows.Scan(&m.ID, &m.Content, &embStr, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan memory: %w", err)
		}
		emb, err := deserializeEmbedding(embStr)
		if err != nil {
			continue
		}
		m.Embedding = emb
		scored = append(scored, shelly.ScoredMemory{
			Memory: m,
			Score:  cosineSimilarity(embedding, emb),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate memories: %w", err)
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if topK > 0 && len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// cosineSimilarity computes the cosine similarity between two vectors.
// Returns 0 for mismatched dimensions or zero vectors.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return float32(dot / denom)
}

// serializeEmbedding encodes a vector as a JSON array string.
func serializeEmbedding(embedding []float32) string {
	data, _ := json.Marshal(embedding)
	return string(data)
}

// deserializeEmbedding parses a JSON array string back to []float32.
func deserializeEmbedding(s string) ([]float32, error) {
	var v []float32
	err := json.Unmarshal([]byte(s), &v)
	return v, err
}
