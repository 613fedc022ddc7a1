package presentation

import (
	"time"

	"github.com/zjrosen/whiteboard/internal/declare"
	"github.com/zjrosen/whiteboard/internal/journal"
)

// ProviderDTO is a provider declaration as printed by providers:list.
type ProviderDTO struct {
	Name       string         `json:"name"`
	Kind       string         `json:"kind"`
	File       string         `json:"file"`
	Origin     string         `json:"origin"`
	Classes    []string       `json:"classes"`
	Properties map[string]any `json:"properties"`
}

// FromDeclaration converts a declaration, resolving the classes and
// properties it would be registered with.
func FromDeclaration(d declare.Declaration) ProviderDTO {
	_, classes, _ := d.Service()
	if classes == nil {
		classes = []string{}
	}
	return ProviderDTO{
		Name:       d.Name,
		Kind:       d.Kind,
		File:       d.File,
		Origin:     string(d.Origin()),
		Classes:    classes,
		Properties: d.RegistryProperties(),
	}
}

// FromDeclarations converts a list of declarations.
func FromDeclarations(decls []declare.Declaration) []ProviderDTO {
	out := make([]ProviderDTO, 0, len(decls))
	for _, d := range decls {
		out = append(out, FromDeclaration(d))
	}
	return out
}

// JournalRow is one printed journal line.
type JournalRow struct {
	At       string
	Run      string
	Kind     string
	Provider string
	Address  string
	Detail   string
}

// FromEntries converts journal entries to rows, shortening run ids to their
// first segment.
func FromEntries(entries []journal.Entry) []JournalRow {
	rows := make([]JournalRow, 0, len(entries))
	for _, e := range entries {
		row := JournalRow{
			At:      e.At.Local().Format(time.DateTime),
			Run:     shortRun(e.RunID),
			Kind:    string(e.Kind),
			Address: e.Address,
			Detail:  e.Detail,
		}
		if e.ProviderID != 0 {
			row.Provider = itoa(e.ProviderID)
		}
		rows = append(rows, row)
	}
	return rows
}

func shortRun(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
