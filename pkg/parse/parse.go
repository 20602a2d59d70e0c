// Package parse turns a macro-expanded token stream into typed parse
// items grouped by code/data segment.
package parse

import (
	"strings"

	"fateful/pkg/diag"
	"fateful/pkg/expr"
	"fateful/pkg/span"
	"fateful/pkg/token"
)

// ArgKind classifies one instruction argument.
type ArgKind int

const (
	ArgReg ArgKind = iota
	ArgImmediate
	ArgExpr
	ArgAddr
	ArgIdent
	ArgStr
)

// Arg is one instruction argument.
type Arg struct {
	Kind   ArgKind
	Tokens []token.Token // expression tokens (ArgExpr/ArgAddr), as-is otherwise
	Reg    int           // register index, for ArgReg
	Str    string        // string literal text, for ArgStr
	Ident  string        // identifier text, for ArgIdent
	Span   span.Span
}

// Instruction is a parsed instruction with its argument list.
type Instruction struct {
	Mnemonic string
	Imm      bool // immediate-flag form, set when any argument is immediate/addr/expr
	Args     []Arg
	Span     span.Span
}

// ExpTokKind discriminates the three code-segment item variants.
type ExpTokKind int

const (
	TokInstruction ExpTokKind = iota
	TokLabel
	TokBytes
)

// ExpTok is one code-segment item.
type ExpTok struct {
	Kind  ExpTokKind
	Instr *Instruction
	Label string
	Bytes []byte
	Span  span.Span
}

// CSeg is one code segment: an optional explicit origin and its items.
type CSeg struct {
	Origin     *uint32
	OriginSpan span.Span
	Items      []ExpTok
}

// DVar is one data-segment variable declaration.
type DVar struct {
	Size int
	Span span.Span
}

// DSeg is one data segment: an optional explicit origin and its ordered
// variable declarations.
type DSeg struct {
	Origin     *uint32
	OriginSpan span.Span
	Names      []string
	Vars       map[string]DVar
}

// Program is the parsed segment IR: every code and data segment found in
// the token stream, in source order.
type Program struct {
	Code []CSeg
	Data []DSeg
}

type parser struct {
	toks []token.Token
	pos  int
	bag  *diag.Bag
}

// Parse splits toks (already preprocessed and macro-expanded) into code
// and data segments.
func Parse(toks []token.Token, bag *diag.Bag) *Program {
	p := &parser{toks: toks, bag: bag}
	prog := &Program{}
	for p.pos < len(p.toks) {
		t := p.cur()
		switch {
		case t.Kind == token.Newline || t.Kind == token.DocComment:
			p.pos++
		case t.Kind == token.Directive && t.Text == "@cseg":
			prog.Code = append(prog.Code, p.parseCSeg())
		case t.Kind == token.Directive && t.Text == "@dseg":
			prog.Data = append(prog.Data, p.parseDSeg())
		case t.Kind == token.EOF:
			p.pos++
		default:
			p.bag.Add(diag.New(diag.Error, "expected @cseg or @dseg, found %q", t.Text).At(t.Span))
			p.skipToNewline()
		}
	}
	return prog
}

func (p *parser) cur() token.Token {
	if p.pos >= len(p.toks) {
		return token.Token{Kind: token.EOF}
	}
	return p.toks[p.pos]
}

func (p *parser) skipToNewline() {
	for p.cur().Kind != token.Newline && p.cur().Kind != token.EOF {
		p.pos++
	}
}

func (p *parser) atSegmentMarker() bool {
	t := p.cur()
	return t.Kind == token.Directive && (t.Text == "@cseg" || t.Text == "@dseg")
}

func (p *parser) parseOrg() (*uint32, span.Span) {
	if !(p.cur().Kind == token.Directive && p.cur().Text == "@org") {
		return nil, span.Span{}
	}
	orgSpan := p.cur().Span
	p.pos++
	exprToks := p.collectExprToLineEnd()
	v, err := expr.Eval(exprToks, expr.Tables{})
	if err != nil {
		p.bag.Add(diag.New(diag.Error, "%s", err.Error()).At(orgSpan))
		return nil, orgSpan
	}
	origin := uint32(v)
	return &origin, orgSpan
}

func (p *parser) collectExprToLineEnd() []token.Token {
	start := p.pos
	for p.cur().Kind != token.Newline && p.cur().Kind != token.EOF {
		p.pos++
	}
	return p.toks[start:p.pos]
}

func (p *parser) parseCSeg() CSeg {
	cseg := CSeg{}
	p.pos++ // @cseg
	for p.cur().Kind == token.Newline {
		p.pos++
	}
	if origin, sp := p.parseOrg(); origin != nil {
		cseg.Origin = origin
		cseg.OriginSpan = sp
	}
	for p.cur().Kind != token.EOF && !p.atSegmentMarker() {
		if p.cur().Kind == token.Newline || p.cur().Kind == token.DocComment {
			p.pos++
			continue
		}
		item, ok := p.parseCSegLine()
		if ok {
			cseg.Items = append(cseg.Items, item)
		}
	}
	return cseg
}

func (p *parser) parseCSegLine() (ExpTok, bool) {
	t := p.cur()
	// Label definition: IDENT ':'
	if (t.Kind == token.Ident) && p.peekIsColon() {
		p.pos += 2
		return ExpTok{Kind: TokLabel, Label: t.Text, Span: t.Span}, true
	}
	if t.Kind == token.Directive {
		switch t.Text {
		case "@byte", "@double", "@quad":
			return p.parseRawInt(t)
		case "@str":
			return p.parseRawStr(t)
		}
	}
	if t.Kind == token.Ident {
		return p.parseInstruction(t)
	}
	p.bag.Add(diag.New(diag.Error, "unexpected token %q in code segment", t.Text).At(t.Span))
	p.skipToNewline()
	return ExpTok{}, false
}

func (p *parser) peekIsColon() bool {
	if p.pos+1 >= len(p.toks) {
		return false
	}
	n := p.toks[p.pos+1]
	return n.Kind == token.Punct && n.Text == ":"
}

func widthOf(directive string) int {
	switch directive {
	case "@byte":
		return 1
	case "@double":
		return 2
	default: // @quad
		return 4
	}
}

func (p *parser) parseRawInt(t token.Token) (ExpTok, bool) {
	p.pos++
	exprToks := p.collectExprToLineEnd()
	v, err := expr.Eval(exprToks, expr.Tables{})
	if err != nil {
		p.bag.Add(diag.New(diag.Error, "%s", err.Error()).At(t.Span))
		return ExpTok{}, false
	}
	n := widthOf(t.Text)
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[n-1-i] = byte(v >> (8 * i)) // big-endian
	}
	return ExpTok{Kind: TokBytes, Bytes: out, Span: t.Span}, true
}

func (p *parser) parseRawStr(t token.Token) (ExpTok, bool) {
	p.pos++
	if p.cur().Kind != token.Str {
		p.bag.Add(diag.New(diag.Error, "@str expects a string literal").At(t.Span))
		p.skipToNewline()
		return ExpTok{}, false
	}
	s := p.cur().Text
	p.pos++
	return ExpTok{Kind: TokBytes, Bytes: []byte(s), Span: t.Span}, true
}

func (p *parser) parseInstruction(t token.Token) (ExpTok, bool) {
	mnemonic := strings.ToUpper(t.Text)
	p.pos++
	instr := &Instruction{Mnemonic: mnemonic, Span: t.Span}
	for p.cur().Kind != token.Newline && p.cur().Kind != token.EOF {
		arg, ok := p.parseArg()
		if !ok {
			p.skipToNewline()
			return ExpTok{}, false
		}
		instr.Args = append(instr.Args, arg)
		if arg.Kind != ArgReg {
			instr.Imm = true
		}
		if p.cur().Kind == token.Punct && p.cur().Text == "," {
			p.pos++
			continue
		}
		break
	}
	return ExpTok{Kind: TokInstruction, Instr: instr, Span: t.Span}, true
}

func (p *parser) parseArg() (Arg, bool) {
	t := p.cur()
	switch {
	case t.Kind == token.Register:
		p.pos++
		return Arg{Kind: ArgReg, Reg: token.RegisterIndex(strings.ToUpper(t.Text)), Span: t.Span}, true
	case t.Kind == token.Str:
		p.pos++
		return Arg{Kind: ArgStr, Str: t.Text, Span: t.Span}, true
	case t.Kind == token.Delim && t.Text == "[":
		p.pos++
		inner := p.collectUntilDelim("]")
		if p.cur().Kind != token.Delim || p.cur().Text != "]" {
			p.bag.Add(diag.New(diag.Error, "unmatched '['").At(t.Span))
			return Arg{}, false
		}
		p.pos++
		sp := span.Join(t.Span, p.toks[p.pos-1].Span)
		return Arg{Kind: ArgAddr, Tokens: inner, Span: sp}, true
	case t.Kind == token.Ident && !p.peekIsColon():
		// A bare identifier operand is an instruction-scoped expression
		// (it may be a label reference for LDA/LPM), not necessarily an
		// `ident` macro-parameter: the generator decides label-vs-variable
		// meaning once symbol tables are populated.
		return p.parseExprArg(), true
	default:
		return p.parseExprArg(), true
	}
}

func (p *parser) collectUntilDelim(close string) []token.Token {
	start := p.pos
	depth := 0
	for p.pos < len(p.toks) {
		t := p.toks[p.pos]
		if t.Kind == token.Delim {
			if t.Text == "[" || t.Text == "(" {
				depth++
			} else if t.Text == close && depth == 0 {
				break
			} else if (t.Text == "]" || t.Text == ")") && depth > 0 {
				depth--
			}
		}
		if t.Kind == token.Newline {
			break
		}
		p.pos++
	}
	return p.toks[start:p.pos]
}

func (p *parser) parseExprArg() Arg {
	start := p.pos
	for p.pos < len(p.toks) {
		t := p.toks[p.pos]
		if t.Kind == token.Newline || t.Kind == token.EOF {
			break
		}
		if t.Kind == token.Punct && t.Text == "," && isAtTopLevel(p.toks[start:p.pos]) {
			break
		}
		p.pos++
	}
	toks := p.toks[start:p.pos]
	sp := t0Span(toks)
	if len(toks) == 1 && toks[0].Kind == token.Int {
		return Arg{Kind: ArgImmediate, Tokens: toks, Span: sp}
	}
	return Arg{Kind: ArgExpr, Tokens: toks, Span: sp}
}

func isAtTopLevel(toks []token.Token) bool {
	depth := 0
	for _, t := range toks {
		if t.Kind != token.Delim {
			continue
		}
		switch t.Text {
		case "(", "[":
			depth++
		case ")", "]":
			depth--
		}
	}
	return depth == 0
}

func t0Span(toks []token.Token) span.Span {
	if len(toks) == 0 {
		return span.Span{}
	}
	sp := toks[0].Span
	for _, t := range toks[1:] {
		sp = span.Join(sp, t.Span)
	}
	return sp
}

func (p *parser) parseDSeg() DSeg {
	dseg := DSeg{Vars: make(map[string]DVar)}
	p.pos++ // @dseg
	for p.cur().Kind == token.Newline {
		p.pos++
	}
	if origin, sp := p.parseOrg(); origin != nil {
		dseg.Origin = origin
		dseg.OriginSpan = sp
	}
	for p.cur().Kind != token.EOF && !p.atSegmentMarker() {
		if p.cur().Kind == token.Newline || p.cur().Kind == token.DocComment {
			p.pos++
			continue
		}
		p.parseDSegLine(&dseg)
	}
	return dseg
}

func (p *parser) parseDSegLine(dseg *DSeg) {
	t := p.cur()
	if t.Kind != token.Directive {
		p.bag.Add(diag.New(diag.Error, "expected a data declaration, found %q", t.Text).At(t.Span))
		p.skipToNewline()
		return
	}
	var size int
	switch t.Text {
	case "@byte":
		size = 1
	case "@double":
		size = 2
	case "@quad":
		size = 4
	case "@var":
		p.pos++
		exprToks := p.collectVarSize()
		v, err := expr.Eval(exprToks, expr.Tables{})
		if err != nil {
			p.bag.Add(diag.New(diag.Error, "%s", err.Error()).At(t.Span))
			p.skipToNewline()
			return
		}
		size = int(v)
	default:
		p.bag.Add(diag.New(diag.Error, "unknown data directive %q", t.Text).At(t.Span))
		p.skipToNewline()
		return
	}
	if t.Text != "@var" {
		p.pos++
	}
	if p.cur().Kind != token.Ident {
		p.bag.Add(diag.New(diag.Error, "expected variable name").At(t.Span))
		p.skipToNewline()
		return
	}
	name := p.cur().Text
	nameSpan := p.cur().Span
	p.pos++
	if _, dup := dseg.Vars[name]; dup {
		p.bag.Add(diag.New(diag.Error, "duplicate variable %q", name).At(nameSpan))
		return
	}
	dseg.Vars[name] = DVar{Size: size, Span: nameSpan}
	dseg.Names = append(dseg.Names, name)
}

// collectVarSize collects the size expression of an `@var IMM NAME` line,
// stopping before the trailing variable-name identifier.
func (p *parser) collectVarSize() []token.Token {
	start := p.pos
	// The size expression is exactly the tokens up to (but excluding) the
	// final identifier on the line.
	lineEnd := p.pos
	for lineEnd < len(p.toks) && p.toks[lineEnd].Kind != token.Newline && p.toks[lineEnd].Kind != token.EOF {
		lineEnd++
	}
	if lineEnd == start {
		return nil
	}
	nameIdx := lineEnd - 1
	p.pos = nameIdx
	return p.toks[start:nameIdx]
}

// Validate checks the duplicate-label invariant, which doesn't depend on
// address assignment (overlap checks that do are layout's job).
func Validate(prog *Program, bag *diag.Bag) {
	seen := map[string]span.Span{}
	for _, seg := range prog.Code {
		for _, item := range seg.Items {
			if item.Kind != TokLabel {
				continue
			}
			if prev, dup := seen[item.Label]; dup {
				bag.Add(diag.New(diag.Error, "duplicate label %q", item.Label).
					At(item.Span).Referencing(prev, "previously defined here"))
				continue
			}
			seen[item.Label] = item.Span
		}
	}
}
