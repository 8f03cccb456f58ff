// Package format turns chat text into the HTML fragments the widget appends.
//
// Bot replies go through Markdown, a small line tokenizer plus renderer for
// bold, italic, bullet and numbered lists. It does not escape anything: its
// output is only safe for replies from a trusted endpoint. User text goes
// through Escape and is never interpreted.
package format

import (
	"html"
	"regexp"
	"strings"
)

type lineKind int

const (
	lineText lineKind = iota
	lineBullet
	lineOrdered
)

type token struct {
	kind lineKind
	text string
}

var (
	bulletLine  = regexp.MustCompile(`^- (.+)$`)
	orderedLine = regexp.MustCompile(`^\d+\. (.+)$`)
	boldSpan    = regexp.MustCompile(`\*\*(.*?)\*\*`)
	italicSpan  = regexp.MustCompile(`\*(.*?)\*`)
)

// Escape HTML-escapes user-authored text.
func Escape(text string) string {
	return html.EscapeString(text)
}

// Markdown renders the supported markdown subset of a bot reply.
// Each contiguous run of list items becomes its own list block.
func Markdown(text string) string {
	return render(tokenize(text))
}

func tokenize(text string) []token {
	lines := strings.Split(text, "\n")
	tokens := make([]token, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSuffix(line, "\r")
		if m := bulletLine.FindStringSubmatch(line); m != nil {
			tokens = append(tokens, token{kind: lineBullet, text: m[1]})
			continue
		}
		if m := orderedLine.FindStringSubmatch(line); m != nil {
			tokens = append(tokens, token{kind: lineOrdered, text: m[1]})
			continue
		}
		tokens = append(tokens, token{kind: lineText, text: line})
	}
	return tokens
}

func render(tokens []token) string {
	var b strings.Builder
	for i := 0; i < len(tokens); {
		t := tokens[i]
		if t.kind == lineText {
			// Adjacent text lines form one paragraph so spans may cross
			// line breaks.
			lines := []string{t.text}
			for i++; i < len(tokens) && tokens[i].kind == lineText; i++ {
				lines = append(lines, tokens[i].text)
			}
			b.WriteString(inline(strings.Join(lines, "<br>")))
			continue
		}

		tag := "ul"
		if t.kind == lineOrdered {
			tag = "ol"
		}
		b.WriteString("<" + tag + ">")
		for i < len(tokens) && tokens[i].kind == t.kind {
			b.WriteString("<li>")
			b.WriteString(inline(tokens[i].text))
			b.WriteString("</li>")
			i++
		}
		b.WriteString("</" + tag + ">")
	}
	return b.String()
}

// inline applies bold before italic so "**x**" is not read as two empty
// italic spans.
func inline(s string) string {
	s = boldSpan.ReplaceAllString(s, "<strong>$1</strong>")
	return italicSpan.ReplaceAllString(s, "<em>$1</em>")
}
