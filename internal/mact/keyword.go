// Package mact implements the two-stage MACT text parser and writer: a
// tab-indentation, quote-aware tokenizer into a keyword tree (stage 1),
// a disambiguation lift from keyword tree into logic.LogicNode (stage 2), and
// the reverse rendering of a logic.LogicNode tree back to MACT text.
//
// The tokenizer is a hand-rolled character scanner; the format's mix of
// tab-significant indentation, brace scopes, and quote-aware word
// splitting doesn't map onto a grammar-generated parser cleanly.
package mact

import (
	"strings"

	"golang.org/x/xerrors"
)

// Keyword is one line of the stage-1 tree: a sequence of whitespace-split
// words (quotes preserved as a single word), with nested lines forming its
// Children.
type Keyword struct {
	Words    []string
	Children []*Keyword
	Line     int
}

// ParseKeywordTree tokenizes raw MACT text into a forest of top-level
// Keyword lines (conventionally exactly one: the root Bank line).
func ParseKeywordTree(text string) ([]*Keyword, error) {
	lines := splitLines(text)
	p := &kwParser{lines: lines}
	return p.parseScope(0)
}

type kwLine struct {
	indent int
	words  []string
	opens  bool // line is a bare "{"
	closes bool // line is a bare "}"
	lineNo int
}

type kwParser struct {
	lines []kwLine
	pos   int
}

func splitLines(text string) []kwLine {
	var out []kwLine
	for i, raw := range strings.Split(text, "\n") {
		raw = strings.ReplaceAll(raw, "\r", "")
		indent := 0
		for indent < len(raw) && raw[indent] == '\t' {
			indent++
		}
		words := tokenizeWords(raw[indent:])
		if len(words) == 0 {
			continue
		}
		line := kwLine{indent: indent, lineNo: i + 1}
		switch {
		case len(words) == 1 && words[0] == "{":
			line.opens = true
			// The opening brace belongs to the previous line; record it
			// as a zero-word marker so parseScope can recognize it.
			out = append(out, line)
			continue
		case len(words) == 1 && words[0] == "}":
			line.closes = true
			out = append(out, line)
			continue
		}
		line.words = words
		out = append(out, line)
	}
	return out
}

// tokenizeWords splits one line's content into whitespace-separated words,
// treating balanced quotes as a single word and stripping a trailing
// comment that starts with '#' outside quotes.
func tokenizeWords(s string) []string {
	var words []string
	var cur strings.Builder
	inQuote := byte(0)
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inQuote != 0:
			cur.WriteByte(c)
			if c == inQuote {
				inQuote = 0
			}
		case c == '"' || c == '\'':
			inQuote = c
			cur.WriteByte(c)
		case c == '#':
			i = len(s)
		case c == ' ' || c == '\t':
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return words
}

// parseScope consumes lines at the current nesting level until a bare "}"
// or end of input, recursing into "{"-opened children: "{" opens a child
// scope belonging to the immediately preceding keyword line, "}" closes
// it.
func (p *kwParser) parseScope(depth int) ([]*Keyword, error) {
	var out []*Keyword
	for p.pos < len(p.lines) {
		line := p.lines[p.pos]
		if line.closes {
			p.pos++
			return out, nil
		}
		if line.opens {
			return nil, xerrors.Errorf("line %d: '{' with no preceding keyword line", line.lineNo)
		}
		p.pos++
		kw := &Keyword{Words: line.words, Line: line.lineNo}
		if p.pos < len(p.lines) && p.lines[p.pos].opens {
			p.pos++
			children, err := p.parseScope(depth + 1)
			if err != nil {
				return nil, err
			}
			kw.Children = children
		}
		out = append(out, kw)
	}
	if depth > 0 {
		return nil, xerrors.Errorf("unterminated '{' scope at end of input")
	}
	return out, nil
}
