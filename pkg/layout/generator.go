package layout

import (
	"fmt"
	"strings"

	"fateful/pkg/ctrl"
	"fateful/pkg/diag"
	"fateful/pkg/expr"
	"fateful/pkg/parse"
	"fateful/pkg/symtab"
	"fateful/pkg/token"
)

// Result is the outcome of a successful two-pass generation.
type Result struct {
	Image   [65536]byte
	Labels  *symtab.Table
	Vars    *symtab.Table
}

// DefineLookup resolves a preprocessor `@define` name to its substitution
// tokens, for expressions the preprocessor's own inline substitution
// pass didn't already rewrite.
type DefineLookup func(name string) ([]token.Token, bool)

// Generate runs both passes over prog, consulting vars (already planned
// by PlanData) for data addresses. Errors are accumulated in bag; the
// returned Result is only meaningful when bag has no errors afterward.
func Generate(prog *parse.Program, vars *symtab.Table, defines DefineLookup, bag *diag.Bag) *Result {
	labels := pass1(prog.Code, bag)
	if bag.HasErrors() {
		return &Result{Labels: labels, Vars: vars}
	}
	img := pass2(prog.Code, labels, vars, defines, bag)
	reportUnused(labels, vars, bag)
	return &Result{Image: img, Labels: labels, Vars: vars}
}

// pass1 assigns every label an address and checks segment overlap; it
// does not evaluate any expression (addresses aren't known until all
// labels exist, which is pass2's job for operands).
func pass1(segs []parse.CSeg, bag *diag.Bag) *symtab.Table {
	labels := symtab.New()
	order := sortSegments(len(segs), func(i int) *uint32 { return segs[i].Origin })

	var ranges []byteRange
	flow := uint32(0)
	for _, idx := range order {
		seg := segs[idx]
		pc := flow
		if seg.Origin != nil {
			pc = *seg.Origin
		}
		start := pc
		parent := ""
		for _, item := range seg.Items {
			switch item.Kind {
			case parse.TokLabel:
				name := item.Label
				full := name
				if strings.HasPrefix(name, ".") {
					full = parent + name
				} else {
					parent = name
				}
				if !labels.Define(full, pc, item.Span) {
					bag.Add(diag.New(diag.Error, "duplicate label %q", full).At(item.Span))
				}
			case parse.TokBytes:
				pc += uint32(len(item.Bytes))
			case parse.TokInstruction:
				n, err := instrSize(item.Instr)
				if err != nil {
					bag.Add(diag.New(diag.Error, "%s", err.Error()).At(item.Span))
					continue
				}
				pc += uint32(n)
			}
		}
		r := byteRange{start: start, end: pc, span: seg.OriginSpan}
		for _, prev := range ranges {
			if overlaps(r, prev) {
				bag.Add(diag.New(diag.Error, "code segment [0x%04X, 0x%04X) overlaps a previous segment", r.start, r.end).
					At(r.span).Referencing(prev.span, "previous segment here"))
			}
		}
		ranges = append(ranges, r)
		flow = pc
	}
	return labels
}

// instrSize computes an instruction's encoded length. Register-addressed
// LD/ST/LPM, HALT and register-only PUSH/POP/JNZ are 1 byte (the register
// index rides in the opcode byte's own reg field). Every two-operand
// ALU/MV form carries a second byte — the source register index or an
// immediate — whether or not that operand is an immediate. Any
// address-bearing operand form is 3 bytes.
func instrSize(in *parse.Instruction) (int, error) {
	mnemonic := in.Mnemonic
	if _, ok := ctrl.LookupOpcode(mnemonic); !ok {
		return 0, fmt.Errorf("unknown mnemonic %q", mnemonic)
	}
	hasAddr := false
	hasImm := false
	hasReg := false
	for _, a := range in.Args {
		switch a.Kind {
		case parse.ArgAddr:
			hasAddr = true
		case parse.ArgReg:
			hasReg = true
		default:
			hasImm = true
		}
	}
	switch mnemonic {
	case "HALT":
		return 1, nil
	case "JNZ":
		if len(in.Args) == 0 || (hasReg && !hasAddr && !hasImm) {
			return 1, nil
		}
		return 3, nil
	case "LDA":
		return 3, nil
	case "LD", "ST", "LPM":
		if hasAddr {
			return 3, nil
		}
		if hasReg && !hasImm {
			return 1, nil
		}
		return 0, fmt.Errorf("%s: expected a register or an address operand", mnemonic)
	case "PUSH", "POP":
		if hasReg {
			return 1, nil
		}
		return 2, nil
	default: // ADD SUB ADC SBB NAND OR CMP MV
		_ = hasReg
		return 2, nil
	}
}

// regField returns the 0..7 register index that goes into the opcode
// byte's low 3 bits: the first register-kind argument, or 0 when the
// instruction has none (HALT, bare JNZ).
func regField(in *parse.Instruction) int {
	for _, a := range in.Args {
		if a.Kind == parse.ArgReg {
			return a.Reg
		}
	}
	return 0
}

func pass2(segs []parse.CSeg, labels, vars *symtab.Table, defines DefineLookup, bag *diag.Bag) [65536]byte {
	var img [65536]byte
	order := sortSegments(len(segs), func(i int) *uint32 { return segs[i].Origin })
	flow := uint32(0)
	tables := func(parent string) expr.Tables {
		return expr.Tables{
			Defines: defines,
			Labels: func(name string) (uint32, bool) {
				return labels.Resolve(resolveDotted(name, parent))
			},
			Variables: vars.Resolve,
		}
	}

	for _, idx := range order {
		seg := segs[idx]
		pc := uint32(0)
		if seg.Origin != nil {
			pc = *seg.Origin
		} else {
			pc = flow
		}
		parent := ""
		for _, item := range seg.Items {
			switch item.Kind {
			case parse.TokLabel:
				if strings.HasPrefix(item.Label, ".") {
					// parent unchanged
				} else {
					parent = item.Label
				}
			case parse.TokBytes:
				copy(img[pc:], item.Bytes)
				pc += uint32(len(item.Bytes))
			case parse.TokInstruction:
				n := emitInstr(img[:], pc, item.Instr, tables(parent), labels, vars, bag)
				pc += uint32(n)
			}
		}
		flow = pc
	}
	return img
}

// resolveDotted prefixes a dotted identifier with parent, leaving plain
// identifiers untouched.
func resolveDotted(name, parent string) string {
	if strings.HasPrefix(name, ".") {
		return parent + name
	}
	return name
}

// rewriteHere replaces every `$` (Here) token in toks with an immediate
// Int token carrying pc, and every dotted Ident with its
// parent-qualified name — the two substitutions the generator applies
// before evaluating an instruction-scoped expression.
func rewriteHere(toks []token.Token, pc uint32, parent string) []token.Token {
	out := make([]token.Token, len(toks))
	for i, t := range toks {
		switch {
		case t.Kind == token.Here:
			out[i] = token.Token{Kind: token.Int, Text: t.Text, Value: int64(pc), Span: t.Span}
		case t.Kind == token.Ident && strings.HasPrefix(t.Text, "."):
			nt := t
			nt.Text = resolveDotted(t.Text, parent)
			out[i] = nt
		default:
			out[i] = t
		}
	}
	return out
}

func emitInstr(img []byte, pc uint32, in *parse.Instruction, tbl expr.Tables, labels, vars *symtab.Table, bag *diag.Bag) int {
	opcode, _ := ctrl.LookupOpcode(in.Mnemonic)
	immFlag := byte(0)
	if in.Imm {
		immFlag = 1
	}
	reg := byte(regField(in))
	head := (byte(opcode) << 4) | (immFlag << 3) | reg
	img[pc] = head

	switch in.Mnemonic {
	case "HALT":
		return 1
	case "JNZ":
		if len(in.Args) == 0 || in.Args[0].Kind == parse.ArgReg {
			return 1
		}
		return emitAddrOperand(img, pc, in.Args[0], tbl, labels, vars, "JNZ", bag)
	case "LDA":
		return emitLDA(img, pc, in.Args[0], tbl, labels, vars, bag)
	case "LD", "ST", "LPM":
		addrArg, ok := findArg(in.Args, parse.ArgAddr)
		if !ok {
			return 1 // register-addressed form: opcode byte only
		}
		wantLabel := in.Mnemonic == "LPM"
		if err := checkAddrKind(addrArg.Tokens, labels, vars, wantLabel); err != nil {
			bag.Add(diag.New(diag.Error, "%s", err.Error()).At(addrArg.Span))
		}
		return emitAddrOperand(img, pc, addrArg, tbl, labels, vars, in.Mnemonic, bag)
	case "PUSH", "POP":
		immArg, ok := findImmArg(in.Args)
		if !ok {
			return 1
		}
		v, err := evalClamped(immArg, tbl, pc, "", bag)
		if err == nil {
			img[pc+1] = v
		}
		return 2
	default: // ADD SUB ADC SBB NAND OR CMP MV
		immArg, ok := findImmArg(in.Args)
		if !ok {
			// register-register: second byte is the source register index
			if len(in.Args) >= 2 && in.Args[1].Kind == parse.ArgReg {
				img[pc+1] = byte(in.Args[1].Reg)
			}
			return 2
		}
		v, err := evalClamped(immArg, tbl, pc, "", bag)
		if err == nil {
			img[pc+1] = v
		}
		return 2
	}
}

func findArg(args []parse.Arg, kind parse.ArgKind) (parse.Arg, bool) {
	for _, a := range args {
		if a.Kind == kind {
			return a, true
		}
	}
	return parse.Arg{}, false
}

func findImmArg(args []parse.Arg) (parse.Arg, bool) {
	for _, a := range args {
		if a.Kind != parse.ArgReg {
			return a, true
		}
	}
	return parse.Arg{}, false
}

// evalClamped evaluates arg's expression, rewriting `$` and dotted
// idents against the current pc and parent, and keeps the low byte of the
// result (v & 0xFF). No value is rejected as out of range: 0x1FF encodes
// as 0xFF and -1 as 0xFF.
func evalClamped(arg parse.Arg, tbl expr.Tables, pc uint32, parent string, bag *diag.Bag) (byte, error) {
	toks := rewriteHere(arg.Tokens, pc, parent)
	v, err := expr.Eval(toks, tbl)
	if err != nil {
		bag.Add(diag.New(diag.Error, "%s", err.Error()).At(arg.Span))
		return 0, err
	}
	return byte(v & 0xFF), nil
}

func emitAddrOperand(img []byte, pc uint32, arg parse.Arg, tbl expr.Tables, labels, vars *symtab.Table, mnemonic string, bag *diag.Bag) int {
	toks := rewriteHere(arg.Tokens, pc, "")
	v, err := expr.Eval(toks, tbl)
	if err != nil {
		bag.Add(diag.New(diag.Error, "%s", err.Error()).At(arg.Span))
		return 3
	}
	addr := uint32(v) & 0xFFFF
	img[pc+1] = byte(addr >> 8)
	img[pc+2] = byte(addr)
	return 3
}

func emitLDA(img []byte, pc uint32, arg parse.Arg, tbl expr.Tables, labels, vars *symtab.Table, bag *diag.Bag) int {
	if err := checkLDAOperand(arg.Tokens, labels, vars); err != nil {
		bag.Add(diag.New(diag.Error, "%s", err.Error()).At(arg.Span))
	}
	return emitAddrOperand(img, pc, arg, tbl, labels, vars, "LDA", bag)
}

// checkAddrKind enforces the label/variable disambiguation rule for a
// standalone LD/ST (wantLabel=false, memory references only) or LPM
// (wantLabel=true, program-memory references only).
func checkAddrKind(toks []token.Token, labels, vars *symtab.Table, wantLabel bool) error {
	for _, t := range toks {
		switch t.Kind {
		case token.Ident:
			isLabel := labels.Has(t.Text)
			isVar := vars.Has(t.Text)
			if wantLabel && isVar && !isLabel {
				return fmt.Errorf("LPM operand %q is a variable, not a label", t.Text)
			}
			if !wantLabel && isLabel && !isVar {
				return fmt.Errorf("operand %q is a label, not a memory variable", t.Text)
			}
		case token.Variable:
			if wantLabel {
				return fmt.Errorf("LPM operand cannot reference variable $%s", t.Text[1:])
			}
		}
	}
	return nil
}

// checkLDAOperand enforces that an LDA operand names either a label or a
// variable, never both.
func checkLDAOperand(toks []token.Token, labels, vars *symtab.Table) error {
	sawLabel, sawVar := false, false
	for _, t := range toks {
		switch t.Kind {
		case token.Ident:
			if labels.Has(t.Text) {
				sawLabel = true
			}
			if vars.Has(t.Text) {
				sawVar = true
			}
		case token.Variable:
			sawVar = true
		}
	}
	if sawLabel && sawVar {
		return fmt.Errorf("LDA operand mixes a label and a variable reference")
	}
	return nil
}

func reportUnused(labels, vars *symtab.Table, bag *diag.Bag) {
	for _, s := range labels.Unused() {
		bag.Add(diag.New(diag.Warning, "label %q is never used", s.Name).At(s.Defined))
	}
	for _, s := range vars.Unused() {
		bag.Add(diag.New(diag.Warning, "variable %q is never used", s.Name).At(s.Defined))
	}
}
