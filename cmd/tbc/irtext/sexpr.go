// Package irtext is the hand-written reader behind the tbc CLI
// (SPEC_FULL.md §A "cmd/tbc" entry): a tiny s-expression-like notation
// for ir.Function bodies, read from a file and driven straight through
// ir.Builder. It is not a language front end in the §1 Non-goals
// sense - there is no source-language type system or semantic
// analysis here, just a textual encoding of the node graph the builder
// already knows how to construct.
package irtext

import (
	"strings"

	"github.com/pkg/errors"
)

// expr is one node of the parsed s-expression tree: either an atom
// (a bare token) or a parenthesized list of further exprs.
type expr struct {
	atom   string
	list   []*expr
	isAtom bool
}

func tokenize(src string) []string {
	var toks []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			toks = append(toks, cur.String())
			cur.Reset()
		}
	}
	for _, r := range src {
		switch {
		case r == ';':
			// line comments run to the tokenizer's next newline, handled
			// by the caller stripping them before tokenize is reached.
		case r == '(' || r == ')':
			flush()
			toks = append(toks, string(r))
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return toks
}

func stripComments(src string) string {
	lines := strings.Split(src, "\n")
	for i, l := range lines {
		if idx := strings.IndexByte(l, ';'); idx >= 0 {
			lines[i] = l[:idx]
		}
	}
	return strings.Join(lines, "\n")
}

// parseAll reads every top-level form in src.
func parseAll(src string) ([]*expr, error) {
	toks := tokenize(stripComments(src))
	pos := 0
	var forms []*expr
	for pos < len(toks) {
		e, next, err := parseOne(toks, pos)
		if err != nil {
			return nil, err
		}
		forms = append(forms, e)
		pos = next
	}
	return forms, nil
}

func parseOne(toks []string, pos int) (*expr, int, error) {
	if pos >= len(toks) {
		return nil, pos, errors.New("irtext: unexpected end of input")
	}
	tok := toks[pos]
	switch tok {
	case "(":
		pos++
		var items []*expr
		for {
			if pos >= len(toks) {
				return nil, pos, errors.New("irtext: unterminated list")
			}
			if toks[pos] == ")" {
				return &expr{list: items}, pos + 1, nil
			}
			e, next, err := parseOne(toks, pos)
			if err != nil {
				return nil, pos, err
			}
			items = append(items, e)
			pos = next
		}
	case ")":
		return nil, pos, errors.New("irtext: unexpected ')'")
	default:
		return &expr{atom: tok, isAtom: true}, pos + 1, nil
	}
}

func (e *expr) head() (string, []*expr, error) {
	if e.isAtom || len(e.list) == 0 {
		return "", nil, errors.Errorf("irtext: expected a non-empty list, got %q", e.atom)
	}
	h := e.list[0]
	if !h.isAtom {
		return "", nil, errors.New("irtext: list head must be an atom")
	}
	return h.atom, e.list[1:], nil
}
