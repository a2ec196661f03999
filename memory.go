package shelly

import "context"

// JournalRecord is one archived journal entry as the store keeps it: the
// entry's kind plus its rendered single-line form.
type JournalRecord struct {
	ID        string
	Kind      EntryKind
	Content   string
	CreatedAt int64
}

// Memory is one semantic-recall record: free text plus its embedding.
// Nothing on the request path reads or writes these; the archives persist
// and search them so a recall pass can be added without a schema change.
type Memory struct {
	ID        string
	Content   string
	Embedding []float32
	CreatedAt int64
}

// ScoredMemory pairs a recalled memory with its similarity to the query
// embedding.
type ScoredMemory struct {
	Memory
	Score float32
}

// Recaller is implemented by archives that support similarity search over
// stored memories.
type Recaller interface {
	StoreMemory(ctx context.Context, m Memory) error
	// SearchSimilar returns the topK stored memories closest to the query
	// embedding, best first.
	SearchSimilar(ctx context.Context, embedding []float32, topK int) ([]ScoredMemory, error)
}
