package generator

import (
	"regexp"
	"strings"

	"github.com/teranos/storytest/testcase"
)

var (
	splitBold     = regexp.MustCompile(`\*\s*\*(.*?)\*\*`)
	trailingStar  = regexp.MustCompile(`(\w)\*(\s)`)
	numberedItem  = regexp.MustCompile(`^(\d+\.)[ \t]*(.*)$`)
	headingRepair = strings.NewReplacer(
		"***Prerequisites and Test Data", "**Prerequisites and Test Data**",
		"Test Data:***", "**Test Data:**",
		"* *Prerequisites:**", "**Prerequisites:**",
		"* *Test Data:**", "**Test Data:**",
	)
)

// PrefixSummary makes summary start with the story title
func PrefixSummary(title, summary string) string {
	if title == "" || strings.HasPrefix(summary, title) {
		return summary
	}
	return title + ": " + summary
}

// PostProcess applies the summary prefix and description cleanup to every case
func PostProcess(title string, cases []testcase.TestCase) []testcase.TestCase {
	out := make([]testcase.TestCase, len(cases))
	for i, tc := range cases {
		tc.Summary = PrefixSummary(title, tc.Summary)
		tc.Description = FormatDescription(tc.Description)
		out[i] = tc
	}
	return out
}

// FormatDescription repairs the markdown models tend to emit: split bold
// markers, stray trailing asterisks, escaped newlines and pipe tables.
// Tables become "• key: value" bullets and list markers get one space.
func FormatDescription(text string) string {
	if text == "" {
		return text
	}
	text = splitBold.ReplaceAllString(text, "**$1**")
	text = trailingStar.ReplaceAllString(text, "$1$2")
	text = headingRepair.Replace(text)
	text = strings.ReplaceAll(text, `\n`, "\n")

	if strings.Contains(text, "|") && strings.Contains(text, "-|") {
		text = tablesToBullets(text)
	}
	return spaceListMarkers(text)
}

// tablesToBullets replaces each run of pipe lines holding a header, a
// separator and data rows with one bullet per data row
func tablesToBullets(text string) string {
	var out, table []string
	flush := func() {
		if len(table) < 3 {
			out = append(out, table...)
		} else {
			var b strings.Builder
			b.WriteString("\n")
			for _, row := range table[2:] {
				cells := tableCells(row)
				if len(cells) >= 2 {
					b.WriteString("• " + cells[0] + ": " + cells[1] + "\n")
				}
			}
			out = append(out, b.String())
		}
		table = nil
	}

	for _, line := range strings.Split(text, "\n") {
		if strings.Contains(line, "|") {
			table = append(table, line)
			continue
		}
		if table != nil {
			flush()
		}
		out = append(out, line)
	}
	if table != nil {
		flush()
	}
	return strings.Join(out, "\n")
}

func tableCells(row string) []string {
	var cells []string
	for _, cell := range strings.Split(row, "|") {
		if cell = strings.TrimSpace(cell); cell != "" {
			cells = append(cells, cell)
		}
	}
	return cells
}

// spaceListMarkers normalises "*item", "  -  item" and "1.item" to one space
// after the marker. Bold text and horizontal rules are left alone.
func spaceListMarkers(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		trimmed := strings.TrimLeft(line, " \t")
		if trimmed == "" {
			continue
		}
		if m := trimmed[0]; (m == '*' || m == '-') && len(trimmed) > 1 {
			if next := trimmed[1]; next == '*' || next == '-' {
				continue
			}
			rest := strings.TrimLeft(trimmed[1:], " \t")
			if rest != "" {
				lines[i] = string(m) + " " + rest
			}
			continue
		}
		if m := numberedItem.FindStringSubmatch(trimmed); m != nil && m[2] != "" {
			lines[i] = m[1] + " " + m[2]
		}
	}
	return strings.Join(lines, "\n")
}
