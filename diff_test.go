package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInlineDiff_HighlightsSmallChange(t *testing.T) {
	highlight, ok := inlineDiff("we meet at noon today", "we meet at five today")
	require.True(t, ok)
	require.Contains(t, highlight, "<s>")
	require.Contains(t, highlight, "<b>")
	require.Contains(t, highlight, "we meet at ")
}

func TestInlineDiff_RefusesLargeRewrite(t *testing.T) {
	_, ok := inlineDiff("completely original sentence", "nothing in common whatsoever!!")
	require.False(t, ok)
}

func TestInlineDiff_RefusesEmptySides(t *testing.T) {
	_, ok := inlineDiff("", "new text")
	require.False(t, ok)

	_, ok = inlineDiff("old text", "")
	require.False(t, ok)

	_, ok = inlineDiff("same", "same")
	require.False(t, ok)
}

func TestInlineDiff_EscapesHTMLInContent(t *testing.T) {
	highlight, ok := inlineDiff("this is a <test> of escaping here", "this is a <test> of escaping now")
	require.True(t, ok)
	require.Contains(t, highlight, "&lt;test&gt;")
	require.NotContains(t, highlight, "<test>")
}

func TestChangeRatio_Bounds(t *testing.T) {
	require.Zero(t, changeRatio("", "", nil))

	// Identical strings produce only equal segments.
	highlightRatioInput := "unchanged"
	ratio := changeRatio(highlightRatioInput, highlightRatioInput, nil)
	require.Zero(t, ratio)
}

func TestInlineDiff_LongCommonPrefixStaysPlain(t *testing.T) {
	base := strings.Repeat("stable prefix ", 10)
	highlight, ok := inlineDiff(base+"one", base+"two")
	require.True(t, ok)
	require.Contains(t, highlight, "stable prefix")
	require.Contains(t, highlight, "<s>")
	require.Contains(t, highlight, "<b>")
}
