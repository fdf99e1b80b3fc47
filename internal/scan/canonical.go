package scan

import (
	"strings"

	"github.com/ohler55/ojg"
	"github.com/ohler55/ojg/oj"
)

// canonicalOptions fixes key order and indentation so that semantically equal
// documents always serialize to the same text.
var canonicalOptions = ojg.Options{Sort: true, Indent: 2}

// canonicalLines renders a JSON document in canonical form, split into lines
// for comparison and diffing.
func canonicalLines(doc any) []string {
	opts := canonicalOptions
	return strings.Split(oj.JSON(doc, &opts), "\n")
}

// sameDocument reports whether two JSON documents are semantically equal,
// ignoring key order.
func sameDocument(a, b any) bool {
	la, lb := canonicalLines(a), canonicalLines(b)
	if len(la) != len(lb) {
		return false
	}
	for i := range la {
		if la[i] != lb[i] {
			return false
		}
	}
	return true
}
