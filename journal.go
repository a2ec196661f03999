package shelly

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// journalCap bounds the number of retained entries.
const journalCap = 100

// contextWindow is how many recent entries Context renders.
const contextWindow = 10

// EntryKind tags a journal entry variant.
type EntryKind string

const (
	EntrySystem      EntryKind = "system"
	EntryInteraction EntryKind = "interaction"
	EntryTool        EntryKind = "tool"
	EntryObservation EntryKind = "observation"
	EntryError       EntryKind = "error"
)

// Entry is one journal record. Only the fields of its kind are set.
type Entry struct {
	Kind     EntryKind
	Text     string // system, observation, error
	Query    string // interaction
	Response string // interaction
	Tool     string // tool
	Result   string // tool
	At       time.Time
}

// String renders the single-line form used in the context section and by
// the archives.
func (e Entry) String() string {
	switch e.Kind {
	case EntrySystem:
		return "[system] " + e.Text
	case EntryInteraction:
		return fmt.Sprintf("[user] %s -> [response] %s", e.Query, e.Response)
	case EntryTool:
		return fmt.Sprintf("[tool: %s] %s", e.Tool, e.Result)
	case EntryObservation:
		return "[observation] " + e.Text
	case EntryError:
		return "[error] " + e.Text
	}
	return ""
}

// Archive persists journal entries outside the process. Implementations
// must be safe for concurrent use.
type Archive interface {
	Save(ctx context.Context, e Entry) error
}

// Journal is the daemon's bounded, process-local memory. Insertions past
// capacity evict the oldest entry. When an Archive is attached, every entry
// is additionally persisted best-effort in the background; archive failures
// never reach the caller.
type Journal struct {
	mu       sync.Mutex
	identity string
	topology []string
	entries  []Entry

	archive Archive
	logger  *slog.Logger
}

// JournalOption configures a Journal.
type JournalOption func(*Journal)

// JournalIdentity sets the static identity line rendered into every context.
func JournalIdentity(identity string) JournalOption {
	return func(j *Journal) { j.identity = identity }
}

// JournalArchive attaches a persistent archive.
func JournalArchive(a Archive) JournalOption {
	return func(j *Journal) { j.archive = a }
}

// JournalLogger sets the structured logger. If not set, a no-op logger is
// used.
func JournalLogger(l *slog.Logger) JournalOption {
	return func(j *Journal) { j.logger = l }
}

// NewJournal creates an empty journal.
func NewJournal(opts ...JournalOption) *Journal {
	j := &Journal{}
	for _, opt := range opts {
		opt(j)
	}
	if j.logger == nil {
		j.logger = nopLogger
	}
	return j
}

// AddSystem records a system-level note.
func (j *Journal) AddSystem(text string) {
	j.add(Entry{Kind: EntrySystem, Text: text})
}

// AddInteraction records one completed user exchange.
func (j *Journal) AddInteraction(query, response string) {
	j.add(Entry{Kind: EntryInteraction, Query: query, Response: response})
}

// AddToolResult records one tool execution outcome.
func (j *Journal) AddToolResult(tool, result string) {
	j.add(Entry{Kind: EntryTool, Tool: tool, Result: result})
}

// AddObservation records something the model reported.
func (j *Journal) AddObservation(text string) {
	j.add(Entry{Kind: EntryObservation, Text: text})
}

// AddError records a failure.
func (j *Journal) AddError(text string) {
	j.add(Entry{Kind: EntryError, Text: text})
}

// AddTopology appends a line to the known-topology list. Topology is not
// bounded; it grows for the life of the process.
func (j *Journal) AddTopology(line string) {
	j.mu.Lock()
	j.topology = append(j.topology, line)
	j.mu.Unlock()
}

func (j *Journal) add(e Entry) {
	e.At = time.Now()
	j.mu.Lock()
	j.entries = append(j.entries, e)
	if len(j.entries) > journalCap {
		copy(j.entries, j.entries[len(j.entries)-journalCap:])
		j.entries = j.entries[:journalCap]
	}
	j.mu.Unlock()
	j.persist(e)
}

// persist hands the entry to the archive without blocking the caller.
func (j *Journal) persist(e Entry) {
	if j.archive == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := j.archive.Save(ctx, e); err != nil {
			j.logger.Warn("journal archive save failed", "kind", string(e.Kind), "error", err)
		}
	}()
}

// Len reports the current number of retained entries.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

// Entries returns a snapshot of the retained entries, oldest first.
func (j *Journal) Entries() []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]Entry(nil), j.entries...)
}

// Context renders the journal into the markdown section embedded in every
// system prompt: identity, known topology, and the most recent entries in
// original order. Sections without content are omitted.
func (j *Journal) Context() string {
	j.mu.Lock()
	defer j.mu.Unlock()

	var parts []string
	if j.identity != "" {
		parts = append(parts, "## Identity\n"+j.identity)
	}
	if len(j.topology) > 0 {
		parts = append(parts, "## Known Topology\n"+strings.Join(j.topology, "\n"))
	}
	if len(j.entries) > 0 {
		start := len(j.entries) - contextWindow
		if start < 0 {
			start = 0
		}
		lines := make([]string, 0, len(j.entries)-start)
		for _, e := range j.entries[start:] {
			lines = append(lines, "- "+e.String())
		}
		parts = append(parts, "## Recent History\n"+strings.Join(lines, "\n"))
	}
	return strings.Join(parts, "\n\n")
}
