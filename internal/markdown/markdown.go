// Package markdown holds the render-mode heuristics and text transforms used
// by the reply dispatcher.
package markdown

import (
	"regexp"
	"strings"

	"github.com/olekukonko/tablewriter"
)

var (
	fencePattern          = regexp.MustCompile("(?m)^\\s*```")
	tableSeparatorPattern = regexp.MustCompile(`^\s*\|?[\s:|-]+\|[\s:|-]*$`)
	headingPattern        = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)
)

// HasFencedCodeBlock reports whether text contains a fenced code block.
func HasFencedCodeBlock(text string) bool {
	return len(fencePattern.FindAllString(text, 2)) >= 2
}

// HasTable reports whether text contains a markdown pipe table: a header row
// and a separator row, both containing "|".
func HasTable(text string) bool {
	lines := strings.Split(text, "\n")
	for i := 0; i+1 < len(lines); i++ {
		if !strings.Contains(lines[i], "|") {
			continue
		}
		next := lines[i+1]
		if strings.Contains(next, "|") && strings.Contains(next, "-") && tableSeparatorPattern.MatchString(next) {
			return true
		}
	}
	return false
}

// ConvertTablesToASCII replaces every markdown pipe table with a plain ASCII
// rendering for channels that cannot display markdown natively. Non-table
// lines pass through unchanged.
func ConvertTablesToASCII(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for i := 0; i < len(lines); i++ {
		if !isTableStart(lines, i) {
			out = append(out, lines[i])
			continue
		}
		header := splitTableRow(lines[i])
		var rows [][]string
		j := i + 2
		for ; j < len(lines); j++ {
			if !strings.Contains(lines[j], "|") || strings.TrimSpace(lines[j]) == "" {
				break
			}
			rows = append(rows, padRow(splitTableRow(lines[j]), len(header)))
		}
		out = append(out, renderASCIITable(header, rows))
		i = j - 1
	}
	return strings.Join(out, "\n")
}

// HeadingsToBold rewrites ATX headings as bold text, which is what the card
// renderer's lark_md dialect expects.
func HeadingsToBold(text string) string {
	return headingPattern.ReplaceAllString(text, "**$2**")
}

func isTableStart(lines []string, i int) bool {
	if i+1 >= len(lines) || !strings.Contains(lines[i], "|") {
		return false
	}
	next := lines[i+1]
	return strings.Contains(next, "|") && strings.Contains(next, "-") && tableSeparatorPattern.MatchString(next)
}

func splitTableRow(line string) []string {
	trimmed := strings.TrimSpace(line)
	trimmed = strings.TrimPrefix(trimmed, "|")
	trimmed = strings.TrimSuffix(trimmed, "|")
	cells := strings.Split(trimmed, "|")
	for i := range cells {
		cells[i] = strings.TrimSpace(cells[i])
	}
	return cells
}

func padRow(row []string, width int) []string {
	for len(row) < width {
		row = append(row, "")
	}
	return row[:width]
}

func renderASCIITable(header []string, rows [][]string) string {
	var buf strings.Builder
	table := tablewriter.NewWriter(&buf)
	table.SetHeader(header)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	for _, row := range rows {
		table.Append(row)
	}
	table.Render()
	return strings.TrimRight(buf.String(), "\n")
}
