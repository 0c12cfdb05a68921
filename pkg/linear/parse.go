package linear

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/raymyers/ralph-stack/pkg/ltl"
)

// Parse reads a Linear program in the textual form written by Printer.
func Parse(src string) (*Program, error) {
	prog := &Program{}
	var fn *Function

	sc := bufio.NewScanner(strings.NewReader(src))
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		if fn == nil {
			switch {
			case strings.HasPrefix(line, ";"):
				continue
			case strings.HasPrefix(line, "var "):
				g, err := parseGlobal(line)
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", lineNo, err)
				}
				prog.Globals = append(prog.Globals, g)
			default:
				f, err := parseHeader(line)
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", lineNo, err)
				}
				fn = f
			}
			continue
		}

		if line == "}" {
			if err := checkLabels(fn); err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			prog.Functions = append(prog.Functions, *fn)
			fn = nil
			continue
		}
		if strings.HasPrefix(line, ";") {
			rest := strings.TrimSpace(strings.TrimPrefix(line, ";"))
			if v, ok := strings.CutPrefix(rest, "stacksize ="); ok {
				n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
				if err != nil {
					return nil, fmt.Errorf("line %d: bad stacksize: %w", lineNo, err)
				}
				fn.Stacksize = n
			}
			continue
		}
		inst, err := parseInstruction(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		fn.Append(inst)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if fn != nil {
		return nil, fmt.Errorf("function %s: missing closing brace", fn.Name)
	}
	return prog, nil
}

// checkLabels rejects jumps to labels the function never defines
func checkLabels(fn *Function) error {
	defined := fn.LabelIndex()
	for _, lbl := range fn.ReferencedLabels() {
		if _, ok := defined[lbl]; !ok {
			return fmt.Errorf("function %s: jump to undefined label L%d", fn.Name, lbl)
		}
	}
	return nil
}

func parseGlobal(line string) (GlobVar, error) {
	s := &lineScanner{src: line}
	s.expectWord("var")
	name := s.quoted()
	s.expect("[")
	size := s.integer()
	s.expect("]")
	s.end()
	if s.err != nil {
		return GlobVar{}, s.err
	}
	return GlobVar{Name: name, Size: size}, nil
}

func parseHeader(line string) (*Function, error) {
	s := &lineScanner{src: line}
	name := s.ident()
	args := s.typeList()
	res := ltl.Tvoid
	if s.accept(":") {
		res = s.typ()
	}
	s.expect("{")
	s.end()
	if s.err != nil {
		return nil, s.err
	}
	return NewFunction(name, Sig{Args: args, Res: res}), nil
}

func parseInstruction(line string) (Instruction, error) {
	s := &lineScanner{src: line}
	inst := s.instruction()
	s.end()
	if s.err != nil {
		return nil, fmt.Errorf("%w in %q", s.err, line)
	}
	return inst, nil
}

// lineScanner is a cursor over one line of source. The first error sticks;
// later calls become no-ops returning zero values.
type lineScanner struct {
	src string
	pos int
	err error
}

func (s *lineScanner) fail(format string, args ...any) {
	if s.err == nil {
		s.err = fmt.Errorf(format, args...)
	}
}

func (s *lineScanner) skipSpace() {
	for s.pos < len(s.src) && (s.src[s.pos] == ' ' || s.src[s.pos] == '\t') {
		s.pos++
	}
}

func (s *lineScanner) rest() string {
	return s.src[s.pos:]
}

func (s *lineScanner) peek(tok string) bool {
	s.skipSpace()
	return strings.HasPrefix(s.rest(), tok)
}

func (s *lineScanner) accept(tok string) bool {
	if s.err != nil || !s.peek(tok) {
		return false
	}
	s.pos += len(tok)
	return true
}

func (s *lineScanner) expect(tok string) {
	if !s.accept(tok) {
		s.fail("expected %q at column %d", tok, s.pos+1)
	}
}

func (s *lineScanner) expectWord(word string) {
	if got := s.ident(); s.err == nil && got != word {
		s.fail("expected %q, got %q", word, got)
	}
}

func (s *lineScanner) end() {
	s.skipSpace()
	if s.err == nil && s.pos != len(s.src) {
		s.fail("unexpected %q", s.rest())
	}
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '.' || c == '$' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func (s *lineScanner) ident() string {
	if s.err != nil {
		return ""
	}
	s.skipSpace()
	start := s.pos
	for s.pos < len(s.src) && isIdentByte(s.src[s.pos]) {
		s.pos++
	}
	if start == s.pos {
		s.fail("expected identifier at column %d", start+1)
	}
	return s.src[start:s.pos]
}

func (s *lineScanner) integer() int64 {
	if s.err != nil {
		return 0
	}
	s.skipSpace()
	start := s.pos
	if s.pos < len(s.src) && s.src[s.pos] == '-' {
		s.pos++
	}
	for s.pos < len(s.src) && s.src[s.pos] >= '0' && s.src[s.pos] <= '9' {
		s.pos++
	}
	n, err := strconv.ParseInt(s.src[start:s.pos], 10, 64)
	if err != nil {
		s.fail("expected integer at column %d", start+1)
		return 0
	}
	return n
}

// long reads an integer with an optional L suffix
func (s *lineScanner) long() int64 {
	n := s.integer()
	if s.pos < len(s.src) && s.src[s.pos] == 'L' {
		s.pos++
	}
	return n
}

func (s *lineScanner) quoted() string {
	if s.err != nil {
		return ""
	}
	s.skipSpace()
	if !strings.HasPrefix(s.rest(), "\"") {
		s.fail("expected string at column %d", s.pos+1)
		return ""
	}
	end := strings.IndexByte(s.src[s.pos+1:], '"')
	if end < 0 {
		s.fail("unterminated string")
		return ""
	}
	str := s.src[s.pos+1 : s.pos+1+end]
	s.pos += end + 2
	return str
}

func (s *lineScanner) typ() ltl.Typ {
	name := s.ident()
	if s.err != nil {
		return 0
	}
	ty, err := ltl.ParseTyp(name)
	if err != nil {
		s.fail("%v", err)
	}
	return ty
}

func (s *lineScanner) typeList() []ltl.Typ {
	var tys []ltl.Typ
	s.expect("(")
	if s.accept(")") {
		return tys
	}
	for s.err == nil {
		tys = append(tys, s.typ())
		if s.accept(")") {
			break
		}
		s.expect(",")
	}
	return tys
}

func (s *lineScanner) reg() ltl.MReg {
	name := s.ident()
	if s.err != nil {
		return 0
	}
	r, err := ltl.ParseMReg(name)
	if err != nil {
		s.fail("%v", err)
	}
	return r
}

func (s *lineScanner) slot() (ltl.SlotKind, int64, ltl.Typ) {
	kindName := s.ident()
	kind, err := ltl.ParseSlotKind(kindName)
	if err != nil && s.err == nil {
		s.fail("%v", err)
	}
	s.expect(",")
	ofs := s.integer()
	s.expect(",")
	ty := s.typ()
	return kind, ofs, ty
}

func (s *lineScanner) loc() Loc {
	if s.peek("S(") {
		s.expect("S(")
		kind, ofs, ty := s.slot()
		s.expect(")")
		return S{Slot: kind, Ofs: ofs, Ty: ty}
	}
	return R{Reg: s.reg()}
}

func (s *lineScanner) locs() []Loc {
	var locs []Loc
	s.expect("(")
	if s.accept(")") {
		return locs
	}
	for s.err == nil {
		locs = append(locs, s.loc())
		if s.accept(")") {
			break
		}
		s.expect(",")
	}
	return locs
}

func (s *lineScanner) label() Label {
	s.expect("L")
	return Label(s.integer())
}

func (s *lineScanner) funRef() FunRef {
	if s.accept("*") {
		return FunReg{Loc: s.loc()}
	}
	return FunSymbol{Name: s.quoted()}
}

func (s *lineScanner) callSig() Sig {
	var sig Sig
	if !s.accept(":") {
		return sig
	}
	sig.Args = s.typeList()
	s.expect("->")
	sig.Res = s.typ()
	return sig
}

func (s *lineScanner) addressing() AddressingMode {
	s.expect("[")
	defer s.expect("]")
	switch {
	case s.accept("+reg"):
		return ltl.Aindexed2{}
	case s.accept("+"):
		return ltl.Aindexed{Ofs: s.integer()}
	default:
		sym := s.quoted()
		s.expect("+")
		return ltl.Aglobal{Symbol: sym, Ofs: s.integer()}
	}
}

func (s *lineScanner) chunk() ltl.Chunk {
	name := s.ident()
	if s.err != nil {
		return 0
	}
	c, err := ltl.ParseChunk(name)
	if err != nil {
		s.fail("%v", err)
	}
	return c
}

// condOp reads a comparison operator (longest match first)
func (s *lineScanner) condOp() ltl.Condition {
	s.skipSpace()
	for _, op := range []string{"==", "!=", "<=", ">=", "<", ">"} {
		if s.accept(op) {
			c, _ := ltl.ParseCondition(op)
			return c
		}
	}
	s.fail("expected comparison at column %d", s.pos+1)
	return 0
}

func (s *lineScanner) instruction() Instruction {
	switch {
	case s.peek("L") && strings.HasSuffix(s.src, ":"):
		lbl := s.label()
		s.expect(":")
		return Llabel{Lbl: lbl}
	case s.accept("return"):
		return Lreturn{}
	case s.accept("goto "):
		return Lgoto{Target: s.label()}
	case s.accept("jumptable "):
		arg := s.loc()
		s.expect("[")
		var targets []Label
		for s.err == nil && !s.accept("]") {
			if len(targets) > 0 {
				s.expect(",")
			}
			targets = append(targets, s.label())
		}
		return Ljumptable{Arg: arg, Targets: targets}
	case s.accept("if "):
		return s.condBranch()
	case s.accept("tailcall "):
		fn := s.funRef()
		return Ltailcall{Fn: fn, Sig: s.callSig()}
	case s.accept("call "):
		fn := s.funRef()
		return Lcall{Fn: fn, Sig: s.callSig()}
	case s.accept("builtin "):
		name := s.quoted()
		b := Lbuiltin{Builtin: name, Args: s.locs()}
		if s.accept("->") {
			dest := s.loc()
			b.Dest = &dest
		}
		return b
	case s.accept("store "):
		st := Lstore{Chunk: s.chunk(), Addr: s.addressing()}
		st.Args = s.locs()
		s.expect(",")
		st.Src = s.loc()
		return st
	case s.accept("setstack("):
		src := s.reg()
		s.expect(",")
		kind, ofs, ty := s.slot()
		s.expect(")")
		return Lsetstack{Src: src, Slot: kind, Ofs: ofs, Ty: ty}
	}

	// Remaining forms start with an optional destination
	save := s.pos
	var dest Loc
	if strings.Contains(s.src, "=") {
		d := s.loc()
		if s.accept("=") && !s.peek("=") {
			dest = d
		} else {
			s.pos, s.err = save, nil
		}
	}
	if dest == nil {
		s.pos = save
	}

	switch {
	case s.accept("getstack("):
		kind, ofs, ty := s.slot()
		s.expect(")")
		r, ok := dest.(R)
		if !ok {
			s.fail("getstack destination must be a register")
		}
		return Lgetstack{Slot: kind, Ofs: ofs, Ty: ty, Dest: r.Reg}
	case s.accept("load "):
		ld := Lload{Chunk: s.chunk(), Addr: s.addressing(), Dest: dest}
		ld.Args = s.locs()
		if dest == nil {
			s.fail("load requires a destination")
		}
		return ld
	}
	op := s.operation()
	return Lop{Op: op, Args: s.locs(), Dest: dest}
}

func (s *lineScanner) operation() Operation {
	name := s.ident()
	switch name {
	case "move":
		return ltl.Omove{}
	case "int":
		return ltl.Ointconst{Value: int32(s.integer())}
	case "long":
		return ltl.Olongconst{Value: s.long()}
	case "add":
		return ltl.Oadd{}
	case "addimm":
		return ltl.Oaddimm{N: int32(s.integer())}
	case "sub":
		return ltl.Osub{}
	case "mul":
		return ltl.Omul{}
	case "neg":
		return ltl.Oneg{}
	case "addl":
		return ltl.Oaddl{}
	case "addlimm":
		return ltl.Oaddlimm{N: s.long()}
	case "subl":
		return ltl.Osubl{}
	case "mull":
		return ltl.Omull{}
	case "cmp":
		return ltl.Ocmp{Cond: s.condOp()}
	case "addrsymbol":
		sym := s.quoted()
		s.expect("+")
		return ltl.Oaddrsymbol{Symbol: sym, Ofs: s.integer()}
	}
	s.fail("unknown operation %q", name)
	return nil
}

func (s *lineScanner) condBranch() Instruction {
	var args []Loc
	args = append(args, s.loc())
	cond := s.condOp()
	long := false
	if s.pos < len(s.src) && s.src[s.pos] == 'l' {
		long = true
		s.pos++
	}
	var cc ConditionCode
	s.skipSpace()
	if s.pos < len(s.src) && (s.src[s.pos] == '-' || (s.src[s.pos] >= '0' && s.src[s.pos] <= '9')) {
		n := s.long()
		if long {
			cc = ltl.Ccomplimm{Cond: cond, N: n}
		} else {
			cc = ltl.Ccompimm{Cond: cond, N: int32(n)}
		}
	} else {
		args = append(args, s.loc())
		if long {
			cc = ltl.Ccompl{Cond: cond}
		} else {
			cc = ltl.Ccomp{Cond: cond}
		}
	}
	s.expect("goto")
	return Lcond{Cond: cc, Args: args, IfSo: s.label()}
}
