package presentation

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Formatter handles output formatting
type Formatter struct {
	writer io.Writer
}

// NewFormatter creates a new formatter
func NewFormatter(writer io.Writer) *Formatter {
	return &Formatter{
		writer: writer,
	}
}

// FormatProviders formats provider declarations as JSON
func (f *Formatter) FormatProviders(providers []ProviderDTO) error {
	return f.FormatJSON(providers)
}

// FormatJSON writes v as indented JSON
func (f *Formatter) FormatJSON(v any) error {
	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF8787"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

// FormatJournal writes rows as an aligned table. Failure kinds are
// highlighted.
func (f *Formatter) FormatJournal(rows []JournalRow) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(f.writer, mutedStyle.Render("no journal entries"))
		return err
	}

	header := []string{"AT", "RUN", "KIND", "PROVIDER", "ADDRESS", "DETAIL"}
	cells := make([][]string, 0, len(rows))
	for _, r := range rows {
		cells = append(cells, []string{r.At, r.Run, r.Kind, r.Provider, r.Address, r.Detail})
	}

	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range cells {
		for i, c := range row {
			widths[i] = max(widths[i], lipgloss.Width(c))
		}
	}

	var b strings.Builder
	b.WriteString(renderRow(header, widths, headerStyle))
	for _, row := range cells {
		style := lipgloss.NewStyle()
		if strings.HasSuffix(row[2], ".failed") || strings.HasSuffix(row[2], ".error") {
			style = failStyle
		}
		b.WriteString(renderRow(row, widths, style))
	}
	_, err := io.WriteString(f.writer, b.String())
	return err
}

func renderRow(cells []string, widths []int, style lipgloss.Style) string {
	parts := make([]string, len(cells))
	for i, c := range cells {
		parts[i] = style.Width(widths[i]).Render(c)
	}
	return strings.TrimRight(strings.Join(parts, "  "), " ") + "\n"
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
