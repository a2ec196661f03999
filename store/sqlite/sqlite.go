// Package sqlite archives journal entries to a local SQLite file using the
// pure-Go driver. Zero CGO required. It also carries the semantic-recall
// scaffolding: memories with embeddings, searched in-process by brute-force
// cosine similarity.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/XuanLee-HEALER/shelly"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store. When set, the store
// emits debug logs for every operation including timing and row counts.
// If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements shelly.Archive and shelly.Recaller backed by a local
// SQLite file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ shelly.Archive = (*Store)(nil)
var _ shelly.Recaller = (*Store)(nil)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates all required tables.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("sqlite: init started")
	tables := []string{
		`CREATE TABLE IF NOT EXISTS journal (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			embedding TEXT,
			created_at INTEGER NOT NULL
		)`,
	}
	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_journal_created ON journal(created_at)`)

	s.logger.Info("sqlite: init completed", "duration", time.Since(start))
	return nil
}

// Save archives one journal entry in its rendered form.
func (s *Store) Save(ctx context.Context, e shelly.Entry) error {
	start := time.Now()
	id := shelly.NewID()
	s.logger.Debug("sqlite: save entry", "id", id, "kind", string(e.Kind))

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO journal (id, kind, content, created_at) VALUES (?, ?, ?, ?)`,
		id, string(e.Kind), e.String(), e.At.Unix(),
	)
	if err != nil {
		s.logger.Error("sqlite: save entry failed", "id", id, "error", err, "duration", time.Since(start))
		return fmt.Errorf("save entry: %w", err)
	}
	s.logger.Debug("sqlite: save entry ok", "id", id, "duration", time.Since(start))
	return nil
}

// RecentJournal returns the newest archived entries, oldest first.
func (s *Store) RecentJournal(ctx context.Context, limit int) ([]shelly.JournalRecord, error) {
	start := time.Now()
	s.logger.Debug("sqlite: recent journal", "limit", limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, content, created_at FROM journal
		 ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		s.logger.Error("sqlite: recent journal failed", "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("recent journal: %w", err)
	}
	defer rows.Close()

	var records []shelly.JournalRecord
	for rows.Next() {
		var r shelly.JournalRecord
		var kind string
		if err := rows.Scan(&r.ID, &kind, &r.Content, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan journal record: %w", err)
		}
		r.Kind = shelly.EntryKind(kind)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal: %w", err)
	}

	// Reverse to chronological order (oldest first).
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	s.logger.Debug("sqlite: recent journal ok", "count", len(records), "duration", time.Since(start))
	return records, nil
}

// StoreMemory inserts or replaces a semantic-recall record.
func (s *Store) StoreMemory(ctx context.Context, m shelly.Memory) error {
	start := time.Now()
	if m.ID == "" {
		m.ID = shelly.NewID()
	}
	if m.CreatedAt == 0 {
		m.CreatedAt = shelly.NowUnix()
	}
	s.logger.Debug("sqlite: store memory", "id", m.ID, "has_embedding", len(m.Embedding) > 0)

	var embJSON *string
	if len(m.Embedding) > 0 {
		v := serializeEmbedding(m.Embedding)
		embJSON = &v
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO memories (id, content, embedding, created_at) VALUES (?, ?, ?, ?)`,
		m.ID, m.Content, embJSON, m.CreatedAt,
	)
	if err != nil {
		s.logger.Error("sqlite: store memory failed", "id", m.ID, "error", err, "duration", time.Since(start))
		return fmt.Errorf("store memory: %w", err)
	}
	return nil
}

// SearchSimilar performs brute-force cosine similarity search over memories.
func (s *Store) SearchSimilar(ctx context.Context, embedding []float32, topK int) ([]shelly.ScoredMemory, error) {
	start := time.Now()
	s.logger.Debug("sqlite: search memories", "top_k", topK, "embedding_dim", len(embedding))

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, embedding, created_at FROM memories WHERE embedding IS NOT NULL`)
	if err != nil {
		s.logger.Error("sqlite: search memories failed", "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("search memories: %w", err)
	}
	defer rows.Close()

	var results []shelly.ScoredMemory
	scanned := 0
	for rows.Next() {
		var m shelly.Memory
		var embJSON string
		if err := rows.Scan(&m.ID, &m.Content, &embJSON, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		scanned++
		stored, err := deserializeEmbedding(embJSON)
		if err != nil {
			continue
		}
		m.Embedding = stored
		results = append(results, shelly.ScoredMemory{Memory: m, Score: cosineSimilarity(embedding, stored)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memories: %w", err)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	s.logger.Debug("sqlite: search memories ok", "scanned", scanned, "returned", len(results), "duration", time.Since(start))
	return results, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- Vector math ---

// cosineSimilarity computes the cosine similarity between two vectors.
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

// serializeEmbedding converts []float32 to a JSON array string.
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
