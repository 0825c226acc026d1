package waktu

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

var styles = struct {
	title   lipgloss.Style
	header  lipgloss.Style
	current lipgloss.Style
	next    lipgloss.Style
	dim     lipgloss.Style
}{
	title:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86")),
	header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("38")),
	current: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
	next:    lipgloss.NewStyle().Foreground(lipgloss.Color("226")),
	dim:     lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
}

// table renders left-aligned columns padded by display width, so zone names
// with wide characters stay aligned.
type table struct {
	headers []string
	rows    [][]string
	// styleRow optionally styles a whole rendered row.
	styleRow func(i int) *lipgloss.Style
}

func (t *table) add(cells ...string) { t.rows = append(t.rows, cells) }

func (t *table) render(w io.Writer) {
	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) {
				widths[i] = max(widths[i], runewidth.StringWidth(cell))
			}
		}
	}

	line := func(cells []string) string {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			if i == len(cells)-1 {
				parts[i] = cell
				continue
			}
			parts[i] = runewidth.FillRight(cell, widths[i])
		}
		return strings.Join(parts, "  ")
	}

	fmt.Fprintln(w, styles.header.Render(line(t.headers)))
	for i, row := range t.rows {
		out := line(row)
		if t.styleRow != nil {
			if st := t.styleRow(i); st != nil {
				out = st.Render(out)
			}
		}
		fmt.Fprintln(w, out)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
