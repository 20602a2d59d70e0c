// Package lex tokenizes Fateful assembler source: identifiers, registers,
// directives, numeric and string/char literals, punctuation, and newlines
// (with trailing-backslash line splicing).
package lex

import (
	"fmt"
	"strings"

	"fateful/pkg/span"
	"fateful/pkg/token"
)

// Lexer converts one source buffer into a token stream.
type Lexer struct {
	src  *span.Source
	text string
	pos  int
	line int
}

// New creates a lexer over src.
func New(src *span.Source) *Lexer {
	return &Lexer{src: src, text: src.Text, line: 1}
}

// Lex runs the lexer to completion, returning tokens and any diagnostics
// (malformed literals, stray characters) accumulated in errs.
func (l *Lexer) Lex() ([]token.Token, []error) {
	var toks []token.Token
	var errs []error
	for {
		t, err := l.next()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		toks = append(toks, t)
		if t.Kind == token.EOF {
			break
		}
	}
	return toks, errs
}

func (l *Lexer) mk(kind token.Kind, text string, start int) token.Token {
	return token.Token{
		Kind: kind,
		Text: text,
		Span: span.Span{Source: l.src, Line: l.line, Range: span.ByteRange{Start: start, End: l.pos}},
	}
}

func (l *Lexer) peek() byte {
	if l.pos >= len(l.text) {
		return 0
	}
	return l.text[l.pos]
}

func (l *Lexer) peekAt(off int) byte {
	if l.pos+off >= len(l.text) {
		return 0
	}
	return l.text[l.pos+off]
}

func isIdentStart(b byte) bool {
	return b == '_' || b == '.' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func isIdentCont(b byte) bool {
	return isIdentStart(b) || (b >= '0' && b <= '9')
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// next scans and returns the next token, or an error for a malformed
// literal (scanning continues past it so the pass can accumulate more).
func (l *Lexer) next() (token.Token, error) {
	l.skipSpaceAndComments()
	start := l.pos
	if l.pos >= len(l.text) {
		return l.mk(token.EOF, "", start), nil
	}

	c := l.text[l.pos]
	switch {
	case c == '\n':
		l.pos++
		l.line++
		return l.mk(token.Newline, "\n", start), nil
	case c == '@':
		l.pos++
		for isIdentCont(l.peek()) {
			l.pos++
		}
		return l.mk(token.Directive, l.text[start:l.pos], start), nil
	case c == '%':
		l.pos++
		for isIdentCont(l.peek()) {
			l.pos++
		}
		return l.mk(token.MacroParam, l.text[start:l.pos], start), nil
	case c == '$':
		l.pos++
		if isIdentStart(l.peek()) {
			for isIdentCont(l.peek()) {
				l.pos++
			}
			return l.mk(token.Variable, l.text[start:l.pos], start), nil
		}
		return l.mk(token.Here, "$", start), nil
	case isIdentStart(c):
		l.pos++
		for isIdentCont(l.peek()) {
			l.pos++
		}
		text := l.text[start:l.pos]
		if token.RegisterIndex(strings.ToUpper(text)) >= 0 && len(text) == 1 {
			return l.mk(token.Register, text, start), nil
		}
		if token.MacroTypes[text] {
			return l.mk(token.TypeKeyword, text, start), nil
		}
		return l.mk(token.Ident, text, start), nil
	case isDigit(c):
		return l.lexNumber(start)
	case c == '\'':
		return l.lexChar(start)
	case c == '"':
		return l.lexString(start)
	case c == 'r' && l.peekAt(1) == '#' && l.peekAt(2) == '"':
		return l.lexRawString(start)
	case strings.ContainsRune("()[]{}", rune(c)):
		l.pos++
		return l.mk(token.Delim, string(c), start), nil
	case strings.ContainsRune(",:|!~*/+-&^<>=", rune(c)):
		return l.lexPunct(start)
	default:
		l.pos++
		return token.Token{}, fmt.Errorf("%s:%d: stray character %q", l.src.Name, l.line, c)
	}
}

func (l *Lexer) skipSpaceAndComments() {
	for l.pos < len(l.text) {
		c := l.text[l.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\r':
			l.pos++
		case c == '\\' && l.peekAt(1) == '\n':
			// A trailing backslash splices the next physical line onto this
			// one: no Newline token, but the line count still advances so
			// spans point at the physical source position.
			l.pos += 2
			l.line++
		case c == ';' || (c == '/' && l.peekAt(1) == '/') || c == '#':
			// A triple-slash doc comment is left for next() to lex through
			// lexPunct's '/' path; every other line comment, //* included,
			// runs to end of line.
			if c == '/' && l.peekAt(2) == '/' {
				return // triple-slash doc comment: stop, let next() handle it
			}
			for l.pos < len(l.text) && l.text[l.pos] != '\n' {
				l.pos++
			}
		case c == '/' && l.peekAt(1) == '*':
			l.skipBlockComment()
		default:
			return
		}
	}
}

func (l *Lexer) skipBlockComment() {
	l.pos += 2
	for l.pos < len(l.text) {
		if l.text[l.pos] == '*' && l.peekAt(1) == '/' {
			l.pos += 2
			return
		}
		if l.text[l.pos] == '\n' {
			l.line++
		}
		l.pos++
	}
}

func (l *Lexer) lexPunct(start int) (token.Token, error) {
	c := l.text[start]
	if c == '/' {
		if l.peekAt(1) == '/' && l.peekAt(2) == '/' {
			l.pos += 3
			for l.pos < len(l.text) && l.text[l.pos] != '\n' {
				l.pos++
			}
			return l.mk(token.DocComment, strings.TrimSpace(l.text[start+3:l.pos]), start), nil
		}
		// not a doc comment and not caught by skipSpaceAndComments: a
		// stray single slash is punctuation (division).
		l.pos++
		return l.mk(token.Punct, "/", start), nil
	}
	// Two-character operators.
	two := twoCharAt(l.text, l.pos)
	if two != "" {
		l.pos += 2
		return l.mk(token.Punct, two, start), nil
	}
	l.pos++
	return l.mk(token.Punct, string(c), start), nil
}

func twoCharAt(s string, pos int) string {
	if pos+1 >= len(s) {
		return ""
	}
	switch s[pos : pos+2] {
	case "<<", ">>", "==", "!=", "<=", ">=", "&&", "||":
		return s[pos : pos+2]
	}
	return ""
}

func (l *Lexer) lexNumber(start int) (token.Token, error) {
	base := 10
	if l.peek() == '0' {
		switch l.peekAt(1) {
		case 'b':
			base = 2
			l.pos += 2
		case 'o':
			base = 8
			l.pos += 2
		case 'x':
			base = 16
			l.pos += 2
		}
	}
	digitsStart := l.pos
	for isDigitForBase(l.peek(), base) {
		l.pos++
	}
	digits := l.text[digitsStart:l.pos]
	if digits == "" {
		return token.Token{}, fmt.Errorf("%s:%d: malformed numeric literal", l.src.Name, l.line)
	}
	v, err := parseIntBase(digits, base)
	if err != nil {
		return token.Token{}, fmt.Errorf("%s:%d: %w", l.src.Name, l.line, err)
	}
	t := l.mk(token.Int, l.text[start:l.pos], start)
	t.Value = v
	return t, nil
}

func isDigitForBase(b byte, base int) bool {
	switch base {
	case 2:
		return b == '0' || b == '1'
	case 8:
		return b >= '0' && b <= '7'
	case 16:
		return isDigit(b) || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
	default:
		return isDigit(b)
	}
}

func parseIntBase(s string, base int) (int64, error) {
	var v int64
	for i := 0; i < len(s); i++ {
		d := int64(hexVal(s[i]))
		v = v*int64(base) + d
	}
	return v, nil
}

func hexVal(b byte) int {
	switch {
	case b >= '0' && b <= '9':
		return int(b - '0')
	case b >= 'a' && b <= 'f':
		return int(b-'a') + 10
	default:
		return int(b-'A') + 10
	}
}

// escapes maps the recognized backslash escapes to their byte value.
var escapes = map[byte]byte{
	'n': '\n', 't': '\t', '\\': '\\', '0': 0, 'r': '\r',
	'a': '\a', 'b': '\b', 'f': '\f', 'v': '\v', '"': '"', '\'': '\'',
}

func (l *Lexer) readEscaped(quote byte) (string, error) {
	var b strings.Builder
	for {
		if l.pos >= len(l.text) {
			return "", fmt.Errorf("%s:%d: unterminated literal", l.src.Name, l.line)
		}
		c := l.text[l.pos]
		if c == quote {
			l.pos++
			return b.String(), nil
		}
		if c == '\\' {
			l.pos++
			e := l.peek()
			switch e {
			case 'x', 'o':
				base := 16
				n := 2
				if e == 'o' {
					base = 8
					n = 3
				}
				l.pos++
				start := l.pos
				for i := 0; i < n && isDigitForBase(l.peek(), base); i++ {
					l.pos++
				}
				v, _ := parseIntBase(l.text[start:l.pos], base)
				b.WriteByte(byte(v))
			default:
				r, ok := escapes[e]
				if !ok {
					return "", fmt.Errorf("%s:%d: unknown escape \\%c", l.src.Name, l.line, e)
				}
				l.pos++
				b.WriteByte(r)
			}
			continue
		}
		if c > 127 {
			return "", fmt.Errorf("%s:%d: non-ASCII byte in literal", l.src.Name, l.line)
		}
		if c == '\n' {
			l.line++
		}
		b.WriteByte(c)
		l.pos++
	}
}

func (l *Lexer) lexChar(start int) (token.Token, error) {
	l.pos++ // opening quote
	s, err := l.readEscaped('\'')
	if err != nil {
		return token.Token{}, err
	}
	if len(s) != 1 {
		return token.Token{}, fmt.Errorf("%s:%d: char literal must be exactly one byte", l.src.Name, l.line)
	}
	t := l.mk(token.Char, l.text[start:l.pos], start)
	t.Value = int64(s[0])
	return t, nil
}

func (l *Lexer) lexString(start int) (token.Token, error) {
	l.pos++ // opening quote
	s, err := l.readEscaped('"')
	if err != nil {
		return token.Token{}, err
	}
	t := l.mk(token.Str, s, start)
	return t, nil
}

func (l *Lexer) lexRawString(start int) (token.Token, error) {
	l.pos += 3 // r#"
	contentStart := l.pos
	for {
		if l.pos+1 >= len(l.text) {
			return token.Token{}, fmt.Errorf("%s:%d: unterminated raw string", l.src.Name, l.line)
		}
		if l.text[l.pos] == '"' && l.peekAt(1) == '#' {
			s := l.text[contentStart:l.pos]
			l.pos += 2
			return l.mk(token.Str, s, start), nil
		}
		if l.text[l.pos] == '\n' {
			l.line++
		}
		l.pos++
	}
}
