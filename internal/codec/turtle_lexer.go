package codec

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokKind int

const (
	tokEOF tokKind = iota
	tokIRI
	tokPName
	tokBlank
	tokString
	tokLangTag
	tokDatatype
	tokInteger
	tokDecimal
	tokDouble
	tokBoolean
	tokA
	tokPrefix
	tokBase
	tokSPARQLPrefix
	tokSPARQLBase
	tokDot
	tokComma
	tokSemicolon
	tokLBracket
	tokRBracket
	tokLParen
	tokRParen
)

func (k tokKind) String() string {
	switch k {
	case tokEOF:
		return "end of input"
	case tokIRI:
		return "IRI"
	case tokPName:
		return "prefixed name"
	case tokBlank:
		return "blank node"
	case tokString:
		return "string"
	case tokLangTag:
		return "language tag"
	case tokDatatype:
		return "'^^'"
	case tokInteger, tokDecimal, tokDouble:
		return "number"
	case tokBoolean:
		return "boolean"
	case tokA:
		return "'a'"
	case tokPrefix, tokSPARQLPrefix:
		return "prefix directive"
	case tokBase, tokSPARQLBase:
		return "base directive"
	case tokDot:
		return "'.'"
	case tokComma:
		return "','"
	case tokSemicolon:
		return "';'"
	case tokLBracket:
		return "'['"
	case tokRBracket:
		return "']'"
	case tokLParen:
		return "'('"
	case tokRParen:
		return "')'"
	default:
		return "token"
	}
}

// token is one lexeme. For prefixed names text is the prefix and local the
// unescaped local part; for everything else text is the unescaped value.
type token struct {
	kind  tokKind
	text  string
	local string
	off   int
}

// turtleLexer tokenizes Turtle and N-Triples.
type turtleLexer struct {
	src []byte
	pos int
}

func (l *turtleLexer) errorf(off int, format string, args ...any) error {
	return syntaxErrorAt(l.src, off, format, args...)
}

func (l *turtleLexer) peekAt(n int) byte {
	if l.pos+n >= len(l.src) {
		return 0
	}
	return l.src[l.pos+n]
}

func (l *turtleLexer) next() (token, error) {
	l.skipSpace()
	start := l.pos
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, off: start}, nil
	}

	single := func(k tokKind) (token, error) {
		l.pos++
		return token{kind: k, off: start}, nil
	}

	c := l.src[l.pos]
	switch {
	case c == '<':
		return l.iri()
	case c == '"' || c == '\'':
		return l.str()
	case c == '_' && l.peekAt(1) == ':':
		return l.blank()
	case c == '@':
		return l.at()
	case c == '^':
		if l.peekAt(1) != '^' {
			return token{}, l.errorf(start, "expected '^^'")
		}
		l.pos += 2
		return token{kind: tokDatatype, off: start}, nil
	case c == '.':
		if isDigit(l.peekAt(1)) {
			return l.number()
		}
		return single(tokDot)
	case c == ',':
		return single(tokComma)
	case c == ';':
		return single(tokSemicolon)
	case c == '[':
		return single(tokLBracket)
	case c == ']':
		return single(tokRBracket)
	case c == '(':
		return single(tokLParen)
	case c == ')':
		return single(tokRParen)
	case c == '+' || c == '-' || isDigit(c):
		return l.number()
	default:
		return l.name()
	}
}

func (l *turtleLexer) skipSpace() {
	for l.pos < len(l.src) {
		switch l.src[l.pos] {
		case ' ', '\t', '\r', '\n':
			l.pos++
		case '#':
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.pos++
			}
		default:
			return
		}
	}
}

func (l *turtleLexer) iri() (token, error) {
	start := l.pos
	l.pos++
	var b strings.Builder
	for {
		if l.pos >= len(l.src) {
			return token{}, l.errorf(start, "unterminated IRI")
		}
		c := l.src[l.pos]
		switch {
		case c == '>':
			l.pos++
			return token{kind: tokIRI, text: b.String(), off: start}, nil
		case c == '\\':
			r, err := l.escape(false)
			if err != nil {
				return token{}, err
			}
			b.WriteRune(r)
		case c <= 0x20 || strings.IndexByte("<\"{}|^`", c) >= 0:
			return token{}, l.errorf(l.pos, "invalid character %q in IRI", c)
		default:
			b.WriteByte(c)
			l.pos++
		}
	}
}

func (l *turtleLexer) str() (token, error) {
	start := l.pos
	q := l.src[l.pos]
	long := l.peekAt(1) == q && l.peekAt(2) == q
	if long {
		l.pos += 3
	} else {
		l.pos++
	}

	var b strings.Builder
	for {
		if l.pos >= len(l.src) {
			return token{}, l.errorf(start, "unterminated string")
		}
		c := l.src[l.pos]
		switch {
		case c == q && !long:
			l.pos++
			return token{kind: tokString, text: b.String(), off: start}, nil
		case c == q && l.peekAt(1) == q && l.peekAt(2) == q:
			l.pos += 3
			// A long string may end with up to two extra quotes.
			for l.pos < len(l.src) && l.src[l.pos] == q {
				b.WriteByte(q)
				l.pos++
			}
			return token{kind: tokString, text: b.String(), off: start}, nil
		case c == '\\':
			r, err := l.escape(true)
			if err != nil {
				return token{}, err
			}
			b.WriteRune(r)
		case (c == '\n' || c == '\r') && !long:
			return token{}, l.errorf(l.pos, "line break in short string")
		default:
			b.WriteByte(c)
			l.pos++
		}
	}
}

// escape decodes the escape sequence at l.pos. Only \u and \U are allowed
// outside strings.
func (l *turtleLexer) escape(inString bool) (rune, error) {
	start := l.pos
	l.pos++
	if l.pos >= len(l.src) {
		return 0, l.errorf(start, "truncated escape")
	}
	c := l.src[l.pos]
	l.pos++
	switch c {
	case 'u', 'U':
		n := 4
		if c == 'U' {
			n = 8
		}
		if l.pos+n > len(l.src) {
			return 0, l.errorf(start, "truncated \\%c escape", c)
		}
		v, err := strconv.ParseUint(string(l.src[l.pos:l.pos+n]), 16, 32)
		if err != nil || !utf8.ValidRune(rune(v)) {
			return 0, l.errorf(start, "invalid \\%c escape", c)
		}
		l.pos += n
		return rune(v), nil
	}
	if inString {
		switch c {
		case 't':
			return '\t', nil
		case 'b':
			return '\b', nil
		case 'n':
			return '\n', nil
		case 'r':
			return '\r', nil
		case 'f':
			return '\f', nil
		case '"', '\'', '\\':
			return rune(c), nil
		}
	}
	return 0, l.errorf(start, "invalid escape \\%c", c)
}

func (l *turtleLexer) blank() (token, error) {
	start := l.pos
	l.pos += 2
	label := l.nameRun(false)
	if label == "" {
		return token{}, l.errorf(start, "empty blank node label")
	}
	return token{kind: tokBlank, text: label, off: start}, nil
}

func (l *turtleLexer) at() (token, error) {
	start := l.pos
	l.pos++
	word := l.letters()
	switch word {
	case "prefix":
		return token{kind: tokPrefix, off: start}, nil
	case "base":
		return token{kind: tokBase, off: start}, nil
	case "":
		return token{}, l.errorf(start, "empty language tag")
	}
	tag := word
	for l.pos < len(l.src) && l.src[l.pos] == '-' {
		l.pos++
		sub := l.alnum()
		if sub == "" {
			return token{}, l.errorf(start, "malformed language tag")
		}
		tag += "-" + sub
	}
	return token{kind: tokLangTag, text: tag, off: start}, nil
}

func (l *turtleLexer) letters() string {
	s := l.pos
	for l.pos < len(l.src) && isASCIILetter(l.src[l.pos]) {
		l.pos++
	}
	return string(l.src[s:l.pos])
}

func (l *turtleLexer) alnum() string {
	s := l.pos
	for l.pos < len(l.src) && (isASCIILetter(l.src[l.pos]) || isDigit(l.src[l.pos])) {
		l.pos++
	}
	return string(l.src[s:l.pos])
}

func (l *turtleLexer) number() (token, error) {
	start := l.pos
	if c := l.src[l.pos]; c == '+' || c == '-' {
		l.pos++
	}
	digits := l.digits()
	kind := tokInteger
	if l.pos < len(l.src) && l.src[l.pos] == '.' && isDigit(l.peekAt(1)) {
		l.pos++
		digits += l.digits()
		kind = tokDecimal
	}
	if digits == 0 {
		return token{}, l.errorf(start, "malformed number")
	}
	if l.pos < len(l.src) && (l.src[l.pos] == 'e' || l.src[l.pos] == 'E') {
		l.pos++
		if c := l.peekAt(0); c == '+' || c == '-' {
			l.pos++
		}
		if l.digits() == 0 {
			return token{}, l.errorf(start, "malformed exponent")
		}
		kind = tokDouble
	}
	return token{kind: kind, text: string(l.src[start:l.pos]), off: start}, nil
}

func (l *turtleLexer) digits() int {
	n := 0
	for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
		l.pos++
		n++
	}
	return n
}

// name lexes keywords and prefixed names.
func (l *turtleLexer) name() (token, error) {
	start := l.pos
	prefix := l.nameRun(false)
	if l.pos >= len(l.src) || l.src[l.pos] != ':' {
		switch {
		case prefix == "a":
			return token{kind: tokA, off: start}, nil
		case prefix == "true" || prefix == "false":
			return token{kind: tokBoolean, text: prefix, off: start}, nil
		case strings.EqualFold(prefix, "PREFIX"):
			return token{kind: tokSPARQLPrefix, off: start}, nil
		case strings.EqualFold(prefix, "BASE"):
			return token{kind: tokSPARQLBase, off: start}, nil
		case prefix == "":
			r, _ := utf8.DecodeRune(l.src[l.pos:])
			return token{}, l.errorf(start, "unexpected character %q", r)
		default:
			return token{}, l.errorf(start, "unexpected word %q", prefix)
		}
	}
	l.pos++
	local := l.nameRun(true)
	return token{kind: tokPName, text: prefix, local: local, off: start}, nil
}

// nameRun consumes a run of name characters. A trailing '.' is left for the
// statement terminator. In local names ':' and escapes are allowed too.
func (l *turtleLexer) nameRun(local bool) string {
	var b strings.Builder
	for l.pos < len(l.src) {
		r, size := utf8.DecodeRune(l.src[l.pos:])
		switch {
		case isNameRune(r):
		case r == '.':
			if !l.nameContinuesAfterDot() {
				return b.String()
			}
		case local && r == ':':
		case local && r == '%' && isHex(l.peekAt(1)) && isHex(l.peekAt(2)):
			b.WriteString(string(l.src[l.pos : l.pos+3]))
			l.pos += 3
			continue
		case local && r == '\\' && strings.IndexByte("_~.-!$&'()*+,;=/?#@%", l.peekAt(1)) >= 0:
			b.WriteByte(l.peekAt(1))
			l.pos += 2
			continue
		default:
			return b.String()
		}
		b.WriteRune(r)
		l.pos += size
	}
	return b.String()
}

func (l *turtleLexer) nameContinuesAfterDot() bool {
	i := l.pos
	for i < len(l.src) && l.src[i] == '.' {
		i++
	}
	if i >= len(l.src) {
		return false
	}
	r, _ := utf8.DecodeRune(l.src[i:])
	return isNameRune(r) || r == ':'
}

func isNameRune(r rune) bool {
	return r == '_' || r == '-' || r == 0xB7 ||
		unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isHex(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func isASCIILetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
