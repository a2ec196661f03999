package shelly

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestJournalEviction(t *testing.T) {
	j := NewJournal()
	for i := 0; i < 150; i++ {
		j.AddObservation(fmt.Sprintf("obs %d", i))
	}
	if j.Len() != journalCap {
		t.Fatalf("Len() = %d, want %d", j.Len(), journalCap)
	}
	entries := j.Entries()
	if entries[0].Text != "obs 50" {
		t.Errorf("oldest retained = %q, want %q", entries[0].Text, "obs 50")
	}
	if entries[len(entries)-1].Text != "obs 149" {
		t.Errorf("newest retained = %q, want %q", entries[len(entries)-1].Text, "obs 149")
	}
}

func TestJournalBoundProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)
	properties.Property("retains at most 100 newest entries in order", prop.ForAll(
		func(count int) bool {
			j := NewJournal()
			for i := 0; i < count; i++ {
				j.AddObservation(fmt.Sprintf("obs %d", i))
			}
			want := count
			if want > journalCap {
				want = journalCap
			}
			entries := j.Entries()
			if len(entries) != want {
				return false
			}
			first := count - want
			for k, e := range entries {
				if e.Text != fmt.Sprintf("obs %d", first+k) {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 400),
	))
	properties.TestingRun(t)
}

func TestEntryString(t *testing.T) {
	tests := []struct {
		name  string
		entry Entry
		want  string
	}{
		{"system", Entry{Kind: EntrySystem, Text: "daemon started"}, "[system] daemon started"},
		{"interaction", Entry{Kind: EntryInteraction, Query: "uptime?", Response: "3 days"}, "[user] uptime? -> [response] 3 days"},
		{"tool", Entry{Kind: EntryTool, Tool: "bash", Result: "ok"}, "[tool: bash] ok"},
		{"observation", Entry{Kind: EntryObservation, Text: "kernel 6.8"}, "[observation] kernel 6.8"},
		{"error", Entry{Kind: EntryError, Text: "disk full"}, "[error] disk full"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.entry.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestContextFormat(t *testing.T) {
	j := NewJournal(JournalIdentity("Shelly"))
	j.AddTopology("host: web-1")
	j.AddTopology("kernel: 6.8.0")
	j.AddSystem("daemon started")
	j.AddToolResult("bash", "uptime 3d")
	j.AddError("disk full")

	want := "## Identity\nShelly\n\n" +
		"## Known Topology\nhost: web-1\nkernel: 6.8.0\n\n" +
		"## Recent History\n- [system] daemon started\n- [tool: bash] uptime 3d\n- [error] disk full"
	if got := j.Context(); got != want {
		t.Errorf("Context() = %q, want %q", got, want)
	}
}

func TestContextOmitsEmptySections(t *testing.T) {
	j := NewJournal()
	if got := j.Context(); got != "" {
		t.Errorf("Context() = %q, want empty", got)
	}

	j = NewJournal(JournalIdentity("Shelly"))
	if got := j.Context(); got != "## Identity\nShelly" {
		t.Errorf("Context() = %q, want identity only", got)
	}
}

func TestContextWindow(t *testing.T) {
	j := NewJournal()
	for i := 0; i < 15; i++ {
		j.AddObservation(fmt.Sprintf("obs %d", i))
	}
	lines := strings.Split(j.Context(), "\n")
	var rendered []string
	for _, l := range lines {
		if strings.HasPrefix(l, "- ") {
			rendered = append(rendered, l)
		}
	}
	if len(rendered) != contextWindow {
		t.Fatalf("rendered %d entries, want %d", len(rendered), contextWindow)
	}
	if rendered[0] != "- [observation] obs 5" {
		t.Errorf("first rendered = %q, want %q", rendered[0], "- [observation] obs 5")
	}
	if rendered[len(rendered)-1] != "- [observation] obs 14" {
		t.Errorf("last rendered = %q, want %q", rendered[len(rendered)-1], "- [observation] obs 14")
	}
}

func TestJournalArchive(t *testing.T) {
	archive := newCaptureArchive(4)
	j := NewJournal(JournalArchive(archive))
	j.AddToolResult("bash", "done")

	select {
	case <-archive.saved:
	case <-time.After(2 * time.Second):
		t.Fatal("archive save did not happen")
	}
	entries := archive.all()
	if len(entries) != 1 {
		t.Fatalf("archived %d entries, want 1", len(entries))
	}
	if entries[0].Kind != EntryTool || entries[0].Tool != "bash" || entries[0].Result != "done" {
		t.Errorf("archived entry = %+v", entries[0])
	}
	if entries[0].At.IsZero() {
		t.Error("archived entry has zero timestamp")
	}
}
