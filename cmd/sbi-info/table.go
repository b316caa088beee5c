package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/x/ansi"
)

var headingStyle = ansi.Style{}.Bold()

type table struct {
	title  string
	header []string
	rows   [][]string
}

func (t *table) add(cols ...string) {
	t.rows = append(t.rows, cols)
}

// render writes t with columns padded to their widest cell. When width is
// positive, the last column is truncated so no line exceeds it. Cells may
// contain escape sequences; they do not count towards the width.
func (t *table) render(w io.Writer, width int, bold bool) {
	widths := make([]int, len(t.header))
	for i, h := range t.header {
		widths[i] = ansi.StringWidth(h)
	}
	for _, row := range t.rows {
		for i, c := range row {
			if i < len(widths) {
				widths[i] = max(widths[i], ansi.StringWidth(c))
			}
		}
	}

	title := t.title
	header := t.line(t.header, widths, width)
	if bold {
		title = headingStyle.Styled(title)
		header = headingStyle.Styled(header)
	}
	fmt.Fprintf(w, "%s\n%s\n", title, header)
	for _, row := range t.rows {
		fmt.Fprintln(w, t.line(row, widths, width))
	}
	fmt.Fprintln(w)
}

func (t *table) line(cols []string, widths []int, width int) string {
	var b strings.Builder
	for i, c := range cols {
		if i > 0 {
			b.WriteString("  ")
		}
		if i == len(cols)-1 {
			if width > 0 {
				c = ansi.Truncate(c, max(width-ansi.StringWidth(b.String()), 1), "…")
			}
			b.WriteString(c)
			break
		}
		b.WriteString(c)
		b.WriteString(strings.Repeat(" ", widths[i]-ansi.StringWidth(c)))
	}
	return b.String()
}
