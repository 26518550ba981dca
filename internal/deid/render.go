package deid

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// RenderOptions parameterizes ApplyToHTML.
type RenderOptions struct {
	DisplayNames map[string]string // entity type -> localized display value
	Mode         Mode
}

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#39;",
)

// EscapeHTML escapes & < > " and ' for embedding in HTML text or attributes.
func EscapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}

// ResolveDisplayType maps an entity type to its display value, keeping the
// type itself when no display value is known.
func ResolveDisplayType(entityType string, names map[string]string) string {
	if entityType == "" || names == nil {
		return entityType
	}
	if v, ok := names[entityType]; ok {
		return v
	}
	return entityType
}

type located struct {
	pos   int // position in the active slice
	span  EntitySpan
	found string
	size  int
}

// ApplyToHTML re-annotates html for the active entities.
//
// Offsets do not survive into HTML, so each entity's text is cut from
// plainText (the exact text the service analysed) and every literal
// occurrence of it in html is replaced. Entities are processed longest
// text first, so a shorter entity that is a substring of a longer one
// cannot break the longer match; each later replacement runs on the output
// of the earlier ones.
//
// The replacement is global: the same literal text elsewhere in the
// document is replaced too, even outside the entity's offsets. Invalid
// spans are left untouched. The function never fails; without items it
// falls back to placeholders.
func ApplyToHTML(html, plainText string, items []Item, active []EntitySpan, opts RenderOptions) string {
	if len(active) == 0 {
		return html
	}

	ix := NewSpanIndex(active, items)
	text := []rune(plainText)

	queue := make([]located, 0, len(active))
	for i, e := range active {
		if !e.Valid() {
			continue
		}
		found := sliceRunes(text, e.Start.Value, e.End.Value)
		if found == "" {
			continue
		}
		queue = append(queue, located{pos: i, span: e, found: found, size: utf8.RuneCountInString(found)})
	}
	sort.SliceStable(queue, func(a, b int) bool {
		return queue[a].size > queue[b].size
	})

	out := html
	for _, l := range queue {
		out = strings.ReplaceAll(out, l.found, replacementFor(ix, l, opts))
	}
	return out
}

func replacementFor(ix *SpanIndex, l located, opts RenderOptions) string {
	switch opts.Mode {
	case ModeHighlight:
		return "<mark>" + EscapeHTML(l.found) + "</mark>"
	case ModeRedact:
		return ""
	}
	if it, ok := ix.Paired(l.pos); ok {
		if text, ok := it.Replacement(); ok && text != "" {
			return EscapeHTML(text)
		}
	}
	if it, ok := ix.Exact(l.span); ok {
		if text, ok := it.Replacement(); ok {
			return EscapeHTML(text)
		}
	}
	if name := ResolveDisplayType(l.span.EntityType, opts.DisplayNames); name != "" {
		return "&lt;" + EscapeHTML(name) + "&gt;"
	}
	return "&lt;REDACTED&gt;"
}

// RedactTextByEntities removes every valid entity span from text. Spans are
// cut in descending (start, end) order so earlier offsets stay correct; a
// span overlapping one already removed is skipped.
func RedactTextByEntities(text string, entities []EntitySpan) string {
	if text == "" {
		return ""
	}
	if len(entities) == 0 {
		return text
	}

	spans := make([]EntitySpan, 0, len(entities))
	for _, e := range entities {
		if e.Valid() {
			spans = append(spans, e)
		}
	}
	sort.SliceStable(spans, func(a, b int) bool {
		if spans[a].Start.Value != spans[b].Start.Value {
			return spans[a].Start.Value > spans[b].Start.Value
		}
		return spans[a].End.Value > spans[b].End.Value
	})

	out := []rune(text)
	lastStart := math.MaxInt
	for _, e := range spans {
		if e.End.Value > lastStart {
			continue
		}
		start, end := e.Start.Value, e.End.Value
		if start > len(out) {
			start = len(out)
		}
		if end > len(out) {
			end = len(out)
		}
		out = append(out[:start:start], out[end:]...)
		lastStart = e.Start.Value
	}
	return string(out)
}

var lineBreakRe = regexp.MustCompile(`\r\n|\r|\n`)

// PlainTextToHTML escapes text and turns its line breaks into <br />.
func PlainTextToHTML(text string) string {
	if text == "" {
		return ""
	}
	return lineBreakRe.ReplaceAllLiteralString(EscapeHTML(text), "<br />")
}

// LocalizePlaceholders rewrites <TYPE> and &lt;TYPE&gt; placeholders to the
// display value of TYPE. Types are visited in sorted order so the result
// does not depend on map iteration.
func LocalizePlaceholders(input string, names map[string]string) string {
	if input == "" || len(names) == 0 {
		return input
	}
	types := make([]string, 0, len(names))
	for t := range names {
		types = append(types, t)
	}
	sort.Strings(types)

	out := input
	for _, t := range types {
		display := names[t]
		if display == "" || display == t {
			continue
		}
		out = strings.ReplaceAll(out, "<"+t+">", "<"+display+">")
		out = strings.ReplaceAll(out, "&lt;"+t+"&gt;", "&lt;"+display+"&gt;")
	}
	return out
}
