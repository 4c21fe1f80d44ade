package receipt

import (
	"strings"

	"github.com/rivo/uniseg"
)

// Width returns the printed width of s in columns, counting each grapheme
// cluster once so combining marks never add columns
func Width(s string) int {
	return uniseg.StringWidth(s)
}

// Wrap splits text into lines no wider than width, breaking on spaces and
// falling back to grapheme boundaries for words longer than a line
func Wrap(text string, width int) []string {
	if width <= 0 {
		return []string{text}
	}

	var lines []string
	for _, para := range strings.Split(text, "\n") {
		words := strings.Fields(para)
		if len(words) == 0 {
			continue
		}

		current := ""
		for _, word := range words {
			if Width(word) > width {
				if current != "" {
					lines = append(lines, current)
				}
				current = breakWord(word, width, &lines)
				continue
			}

			if current == "" {
				current = word
				continue
			}
			if Width(current)+1+Width(word) > width {
				lines = append(lines, current)
				current = word
			} else {
				current += " " + word
			}
		}
		if current != "" {
			lines = append(lines, current)
		}
	}
	return lines
}

// breakWord emits full-width pieces of word and returns the remainder
func breakWord(word string, width int, lines *[]string) string {
	var part strings.Builder
	partWidth := 0

	g := uniseg.NewGraphemes(word)
	for g.Next() {
		cluster := g.Str()
		w := g.Width()
		if partWidth+w > width && partWidth > 0 {
			*lines = append(*lines, part.String())
			part.Reset()
			partWidth = 0
		}
		part.WriteString(cluster)
		partWidth += w
	}
	return part.String()
}

// Center pads text on the left so it sits in the middle of width columns
func Center(text string, width int) []string {
	var out []string
	for _, line := range Wrap(text, width) {
		pad := (width - Width(line)) / 2
		out = append(out, strings.Repeat(" ", pad)+line)
	}
	return out
}

// Justify places label on the left and value on the right of one line.
// When both do not fit, the label wraps and the value is right aligned on
// the last line that has room for it.
func Justify(label, value string, width int) []string {
	lw, vw := Width(label), Width(value)
	if lw+1+vw <= width {
		return []string{label + strings.Repeat(" ", width-lw-vw) + value}
	}

	lines := Wrap(label, width)
	if vw >= width {
		return append(lines, Wrap(value, width)...)
	}
	if len(lines) > 0 {
		last := lines[len(lines)-1]
		if Width(last)+1+vw <= width {
			lines[len(lines)-1] = last + strings.Repeat(" ", width-Width(last)-vw) + value
			return lines
		}
	}
	return append(lines, strings.Repeat(" ", width-vw)+value)
}

// Rule is a full-width separator line
func Rule(ch string, width int) string {
	return strings.Repeat(ch, width)
}
