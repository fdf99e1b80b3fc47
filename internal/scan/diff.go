package scan

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// LineKind classifies one line of a conflict diff.
type LineKind int

const (
	// LineCommon is present in both documents.
	LineCommon LineKind = iota
	// LineRemoved is only in the stored document.
	LineRemoved
	// LineAdded is only in the newly observed document.
	LineAdded
	// LineHint is an intra-line change guide accompanying a removed/added pair.
	LineHint
)

// DiffLine is one line of a rendered conflict diff.
type DiffLine struct {
	Kind LineKind
	Text string
}

// hintRatio is the similarity above which a replaced line pair gets
// character-level change guides.
const hintRatio = 0.75

// diffLines compares two canonical line slices and renders an ndiff-style
// sequence: common lines, removed lines, added lines, and hint lines marking
// the changed characters of closely related pairs.
func diffLines(stored, observed []string) []DiffLine {
	var out []DiffLine
	m := difflib.NewMatcher(stored, observed)
	for _, op := range m.GetOpCodes() {
		switch op.Tag {
		case 'e':
			for _, l := range stored[op.I1:op.I2] {
				out = append(out, DiffLine{Kind: LineCommon, Text: l})
			}
		case 'd':
			for _, l := range stored[op.I1:op.I2] {
				out = append(out, DiffLine{Kind: LineRemoved, Text: l})
			}
		case 'i':
			for _, l := range observed[op.J1:op.J2] {
				out = append(out, DiffLine{Kind: LineAdded, Text: l})
			}
		case 'r':
			out = append(out, diffReplace(stored[op.I1:op.I2], observed[op.J1:op.J2])...)
		}
	}
	return out
}

// diffReplace renders a replaced block. Pairs of lines that are mostly equal
// get hint lines; the unpaired remainder is plain removed/added.
func diffReplace(stored, observed []string) []DiffLine {
	var out []DiffLine
	n := len(stored)
	if len(observed) < n {
		n = len(observed)
	}
	for i := 0; i < n; i++ {
		a, b := stored[i], observed[i]
		delHint, addHint, ratio := charHints(a, b)
		out = append(out, DiffLine{Kind: LineRemoved, Text: a})
		if ratio >= hintRatio && strings.TrimSpace(delHint) != "" {
			out = append(out, DiffLine{Kind: LineHint, Text: delHint})
		}
		out = append(out, DiffLine{Kind: LineAdded, Text: b})
		if ratio >= hintRatio && strings.TrimSpace(addHint) != "" {
			out = append(out, DiffLine{Kind: LineHint, Text: addHint})
		}
	}
	for _, l := range stored[n:] {
		out = append(out, DiffLine{Kind: LineRemoved, Text: l})
	}
	for _, l := range observed[n:] {
		out = append(out, DiffLine{Kind: LineAdded, Text: l})
	}
	return out
}

// charHints builds guide strings marking which characters of a and b changed,
// plus the similarity ratio of the pair.
func charHints(a, b string) (delHint, addHint string, ratio float64) {
	sa := strings.Split(a, "")
	sb := strings.Split(b, "")
	m := difflib.NewMatcher(sa, sb)
	ratio = m.Ratio()

	del := make([]byte, len(sa))
	add := make([]byte, len(sb))
	for i := range del {
		del[i] = ' '
	}
	for i := range add {
		add[i] = ' '
	}
	for _, op := range m.GetOpCodes() {
		switch op.Tag {
		case 'd':
			for i := op.I1; i < op.I2; i++ {
				del[i] = '-'
			}
		case 'i':
			for i := op.J1; i < op.J2; i++ {
				add[i] = '+'
			}
		case 'r':
			for i := op.I1; i < op.I2; i++ {
				del[i] = '^'
			}
			for i := op.J1; i < op.J2; i++ {
				add[i] = '^'
			}
		}
	}
	return strings.TrimRight(string(del), " "), strings.TrimRight(string(add), " "), ratio
}
