package rdf

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ParseTerm reads a term in the form produced by Term.String. Blank nodes
// must carry persisted labels ("_:b12") and are restored to the same
// handle in g.
func (g *Graph) ParseTerm(s string) (Term, error) {
	switch {
	case strings.HasPrefix(s, "<") && strings.HasSuffix(s, ">") && len(s) >= 2:
		v, err := unescapeNT(s[1 : len(s)-1])
		if err != nil {
			return Term{}, err
		}
		return IRI(v), nil
	case strings.HasPrefix(s, "_:b"):
		id, err := strconv.ParseUint(s[3:], 10, 64)
		if err != nil || id == 0 {
			return Term{}, fmt.Errorf("invalid blank node label %q", s)
		}
		return g.RestoreBlank(id), nil
	case strings.HasPrefix(s, `"`):
		return parseLiteral(s)
	default:
		return Term{}, fmt.Errorf("unrecognised term %q", s)
	}
}

// ParseTriple reads the three terms of a persisted statement.
func (g *Graph) ParseTriple(s, p, o string) (Triple, error) {
	var t Triple
	var err error
	if t.S, err = g.ParseTerm(s); err != nil {
		return t, err
	}
	if t.P, err = g.ParseTerm(p); err != nil {
		return t, err
	}
	if t.O, err = g.ParseTerm(o); err != nil {
		return t, err
	}
	if !t.Valid() {
		return t, fmt.Errorf("invalid statement %s", t)
	}
	return t, nil
}

func parseLiteral(s string) (Term, error) {
	end := -1
	for i := 1; i < len(s); i++ {
		if s[i] == '\\' {
			i++
			continue
		}
		if s[i] == '"' {
			end = i
			break
		}
	}
	if end < 0 {
		return Term{}, fmt.Errorf("unterminated literal %q", s)
	}
	lex, err := unescapeNT(s[1:end])
	if err != nil {
		return Term{}, err
	}
	rest := s[end+1:]
	switch {
	case rest == "":
		return Literal(lex), nil
	case strings.HasPrefix(rest, "@"):
		return LangLiteral(lex, rest[1:]), nil
	case strings.HasPrefix(rest, "^^<") && strings.HasSuffix(rest, ">"):
		dt, err := unescapeNT(rest[3 : len(rest)-1])
		if err != nil {
			return Term{}, err
		}
		return TypedLiteral(lex, dt), nil
	default:
		return Term{}, fmt.Errorf("malformed literal suffix %q", rest)
	}
}

func unescapeNT(s string) (string, error) {
	if !strings.Contains(s, `\`) {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		i++
		if i >= len(s) {
			return "", fmt.Errorf("truncated escape in %q", s)
		}
		switch s[i] {
		case 't':
			b.WriteByte('\t')
		case 'b':
			b.WriteByte('\b')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 'f':
			b.WriteByte('\f')
		case '"', '\'', '\\':
			b.WriteByte(s[i])
		case 'u', 'U':
			n := 4
			if s[i] == 'U' {
				n = 8
			}
			if i+1+n > len(s) {
				return "", fmt.Errorf("truncated escape in %q", s)
			}
			v, err := strconv.ParseUint(s[i+1:i+1+n], 16, 32)
			if err != nil || !utf8.ValidRune(rune(v)) {
				return "", fmt.Errorf("invalid escape in %q", s)
			}
			b.WriteRune(rune(v))
			i += n
		default:
			return "", fmt.Errorf("invalid escape in %q", s)
		}
	}
	return b.String(), nil
}
