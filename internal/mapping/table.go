// Package mapping translates raw CRM account names into canonical names.
package mapping

import (
	"strings"

	"golang.org/x/text/cases"
)

// Entry is one from -> to translation.
type Entry struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Table is an ordered list of translations. A Table is immutable once built and
// safe for concurrent use.
type Table struct {
	entries []Entry
	folded  []string
}

// NewTable builds a table preserving the order of entries.
func NewTable(entries []Entry) *Table {
	t := &Table{
		entries: make([]Entry, len(entries)),
		folded:  make([]string, len(entries)),
	}
	caser := cases.Fold()
	for i, e := range entries {
		t.entries[i] = e
		t.folded[i] = caser.String(strings.TrimSpace(e.From))
	}
	return t
}

// Len reports the number of entries.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// Entries returns a copy of the table in order.
func (t *Table) Entries() []Entry {
	if t == nil {
		return nil
	}
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Resolve walks the table in order. Each entry whose From matches the current
// name (trimmed, case-insensitive) replaces the name with its trimmed To, so
// later entries see the replacement: A->B followed by B->C maps A to C.
// Names that match nothing are returned unchanged.
func (t *Table) Resolve(name string) string {
	if t == nil || len(t.entries) == 0 || strings.TrimSpace(name) == "" {
		return name
	}
	caser := cases.Fold()
	current := caser.String(strings.TrimSpace(name))
	for i, from := range t.folded {
		if from != current {
			continue
		}
		name = strings.TrimSpace(t.entries[i].To)
		current = caser.String(name)
	}
	return name
}
