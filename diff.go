package main

import (
	"html"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Above this share of changed characters an inline diff is noise, the
// before/after blocks alone read better.
const maxInlineDiffRatio = 0.7

// inlineDiff renders an HTML inline highlight of the change: removals
// struck through, insertions bold. The second return is false when the
// texts differ too much for the inline form to help.
func inlineDiff(oldText, newText string) (string, bool) {
	if oldText == "" || newText == "" || oldText == newText {
		return "", false
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(oldText, newText, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	if changeRatio(oldText, newText, diffs) > maxInlineDiffRatio {
		return "", false
	}

	var b strings.Builder
	for _, d := range diffs {
		escaped := html.EscapeString(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			b.WriteString("<s>")
			b.WriteString(escaped)
			b.WriteString("</s>")
		case diffmatchpatch.DiffInsert:
			b.WriteString("<b>")
			b.WriteString(escaped)
			b.WriteString("</b>")
		default:
			b.WriteString(escaped)
		}
	}
	return b.String(), true
}

// changeRatio measures how much of the longer text was touched.
func changeRatio(oldText, newText string, diffs []diffmatchpatch.Diff) float64 {
	longest := len([]rune(oldText))
	if n := len([]rune(newText)); n > longest {
		longest = n
	}
	if longest == 0 {
		return 0
	}

	changed := 0
	for _, d := range diffs {
		if d.Type != diffmatchpatch.DiffEqual {
			changed += len([]rune(d.Text))
		}
	}
	return float64(changed) / float64(longest)
}
