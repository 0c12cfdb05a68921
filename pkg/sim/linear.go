package sim

import (
	"github.com/pkg/errors"
	"github.com/raymyers/ralph-stack/pkg/linear"
	"github.com/raymyers/ralph-stack/pkg/ltl"
	"github.com/raymyers/ralph-stack/pkg/memory"
)

// LinearFrame is one activation in the Linear machine
type LinearFrame struct {
	Fn       *linear.Function
	PC       int
	Local    SlotMap
	Outgoing SlotMap
	Incoming SlotMap // the caller's Outgoing area
	Entry    Regs    // registers at function entry
	EntryDef [ltl.NumRegs]bool
	labels   map[linear.Label]int
}

// Linear executes Linear code with abstract stack slots
type Linear struct {
	prog  *linear.Program
	cfg   Config
	Mem   *memory.Memory
	Sym   *Symbols
	Regs  Regs
	Def   [ltl.NumRegs]bool // false for registers holding an undefined value
	Stack []*LinearFrame

	steps  int
	halted bool
	entry  *linear.Function
}

// NewLinear prepares a machine for prog. Globals are allocated first.
func NewLinear(prog *linear.Program, cfg Config) (*Linear, error) {
	cfg = cfg.withDefaults()
	mem := memory.New()
	globals := make([]global, len(prog.Globals))
	for i, g := range prog.Globals {
		globals[i] = global{name: g.Name, size: g.Size, init: g.Init}
	}
	names := make([]string, len(prog.Functions))
	for i, fn := range prog.Functions {
		names[i] = fn.Name
	}
	sym, err := newSymbols(mem, globals, names)
	if err != nil {
		return nil, err
	}
	m := &Linear{prog: prog, cfg: cfg, Mem: mem, Sym: sym}
	m.Regs.seed(cfg.Target, cfg.InitRegs)
	for r := range m.Def {
		m.Def[r] = true
	}
	return m, nil
}

// Start calls name with args placed per the calling convention
func (m *Linear) Start(name string, args []int64) error {
	fn := m.prog.Lookup(name)
	if fn == nil {
		return errors.Errorf("undefined function %q", name)
	}
	boot, err := layoutArgs(m.cfg.Convention, fn.Sig, args)
	if err != nil {
		return errors.Wrapf(err, "calling %s", name)
	}
	for r, v := range boot.regs {
		m.Regs.set(m.cfg.Target, r, v)
		m.Def[r] = true
	}
	m.entry = fn
	m.enter(fn, SlotMap(boot.stack))
	return nil
}

func (m *Linear) enter(fn *linear.Function, incoming SlotMap) {
	f := &LinearFrame{
		Fn:       fn,
		Local:    make(SlotMap),
		Outgoing: make(SlotMap),
		Incoming: incoming,
		Entry:    m.Regs,
		EntryDef: m.Def,
		labels:   fn.LabelIndex(),
	}
	m.Stack = append(m.Stack, f)
}

// Top returns the running frame, or nil once halted
func (m *Linear) Top() *LinearFrame {
	if len(m.Stack) == 0 {
		return nil
	}
	return m.Stack[len(m.Stack)-1]
}

func (m *Linear) Halted() bool { return m.halted }

// Steps is the number of instructions executed so far
func (m *Linear) Steps() int { return m.steps }

// Result reads the entry function's result
func (m *Linear) Result() (int64, error) {
	loc := m.cfg.Convention.ResultLocation(m.entry.Sig)
	if loc == nil {
		return 0, nil
	}
	r := loc.(ltl.R).Reg
	if !m.Def[r] {
		return 0, errors.Wrapf(ErrUndefined, "result of %s", m.entry.Name)
	}
	return m.Regs[r], nil
}

// Run steps until the entry call returns
func (m *Linear) Run() (int64, error) {
	for !m.halted {
		if err := m.Step(); err != nil {
			return 0, err
		}
	}
	return m.Result()
}

func (m *Linear) area(f *LinearFrame, kind ltl.SlotKind) SlotMap {
	switch kind {
	case ltl.SlotIncoming:
		return f.Incoming
	case ltl.SlotOutgoing:
		return f.Outgoing
	default:
		return f.Local
	}
}

func (m *Linear) read(f *LinearFrame, loc ltl.Loc) (int64, bool) {
	switch l := loc.(type) {
	case ltl.R:
		return m.Regs[l.Reg], m.Def[l.Reg]
	case ltl.S:
		return m.area(f, l.Slot).Get(Slot{Ofs: l.Ofs, Ty: l.Ty})
	}
	return 0, false
}

// reads returns the argument values and whether all are defined
func (m *Linear) reads(f *LinearFrame, locs []ltl.Loc) ([]int64, bool) {
	vals := make([]int64, len(locs))
	all := true
	for i, loc := range locs {
		v, ok := m.read(f, loc)
		vals[i] = v
		all = all && ok
	}
	return vals, all
}

func (m *Linear) write(f *LinearFrame, loc ltl.Loc, v int64, def bool) {
	switch l := loc.(type) {
	case ltl.R:
		m.Regs.set(m.cfg.Target, l.Reg, v)
		m.Def[l.Reg] = def
	case ltl.S:
		area := m.area(f, l.Slot)
		s := Slot{Ofs: l.Ofs, Ty: l.Ty}
		if def {
			area.Set(s, v)
		} else {
			area.Set(s, 0)
			delete(area, s)
		}
	}
}

// restoreCalleeSave resets callee-save registers to their value at f's
// entry
func (m *Linear) restoreCalleeSave(f *LinearFrame) {
	for _, cs := range m.cfg.Target.CalleeSave {
		m.Regs[cs.Reg] = f.Entry[cs.Reg]
		m.Def[cs.Reg] = f.EntryDef[cs.Reg]
	}
}

func (m *Linear) callee(f *LinearFrame, ref linear.FunRef) (*linear.Function, error) {
	name := ""
	switch r := ref.(type) {
	case linear.FunSymbol:
		name = r.Name
	case linear.FunReg:
		v, ok := m.read(f, r.Loc)
		if !ok {
			return nil, errors.Wrap(ErrUndefined, "call target")
		}
		var err error
		if name, err = m.Sym.FuncAt(uint64(v)); err != nil {
			return nil, err
		}
	}
	fn := m.prog.Lookup(name)
	if fn == nil {
		return nil, errors.Errorf("undefined function %q", name)
	}
	return fn, nil
}

// Step executes one instruction
func (m *Linear) Step() error {
	if m.halted {
		return ErrHalted
	}
	f := m.Top()
	if f == nil {
		return errors.New("machine not started")
	}
	if m.steps >= m.cfg.StepLimit {
		return ErrStepLimit
	}
	m.steps++
	if f.PC >= len(f.Fn.Code) {
		return errors.Errorf("%s: fell off the end of the code", f.Fn.Name)
	}
	err := m.exec(f, f.Fn.Code[f.PC])
	return errors.Wrapf(err, "%s: instruction %d", f.Fn.Name, f.PC)
}

func (m *Linear) exec(f *LinearFrame, inst linear.Instruction) error {
	switch i := inst.(type) {
	case linear.Lgetstack:
		v, ok := m.read(f, ltl.S{Slot: i.Slot, Ofs: i.Ofs, Ty: i.Ty})
		m.write(f, ltl.R{Reg: i.Dest}, v, ok)

	case linear.Lsetstack:
		m.write(f, ltl.S{Slot: i.Slot, Ofs: i.Ofs, Ty: i.Ty}, m.Regs[i.Src], m.Def[i.Src])

	case linear.Lop:
		args, ok := m.reads(f, i.Args)
		if i.Dest == nil {
			break
		}
		if !ok {
			m.write(f, i.Dest, 0, false)
			break
		}
		v, err := EvalOp(i.Op, args, m.Sym)
		if err != nil {
			return err
		}
		m.write(f, i.Dest, v, true)

	case linear.Lload:
		args, ok := m.reads(f, i.Args)
		if !ok {
			return errors.Wrap(ErrUndefined, "load address")
		}
		addr, err := EvalAddr(i.Addr, args, m.Sym)
		if err != nil {
			return err
		}
		v, err := m.Mem.LoadChunk(addr, i.Chunk)
		if err != nil {
			return err
		}
		m.write(f, i.Dest, v, true)

	case linear.Lstore:
		args, ok := m.reads(f, i.Args)
		v, vok := m.read(f, i.Src)
		if !ok || !vok {
			return errors.Wrap(ErrUndefined, "store")
		}
		addr, err := EvalAddr(i.Addr, args, m.Sym)
		if err != nil {
			return err
		}
		if err := m.Mem.StoreChunk(addr, i.Chunk, v); err != nil {
			return err
		}

	case linear.Lcall:
		fn, err := m.callee(f, i.Fn)
		if err != nil {
			return err
		}
		f.PC++
		m.enter(fn, f.Outgoing)
		return nil

	case linear.Ltailcall:
		fn, err := m.callee(f, i.Fn)
		if err != nil {
			return err
		}
		m.restoreCalleeSave(f)
		m.Stack = m.Stack[:len(m.Stack)-1]
		m.enter(fn, f.Incoming)
		return nil

	case linear.Lbuiltin:
		args, ok := m.reads(f, i.Args)
		if !ok {
			return errors.Wrapf(ErrUndefined, "builtin %s", i.Builtin)
		}
		v, err := EvalBuiltin(i.Builtin, args)
		if err != nil {
			return err
		}
		if i.Dest != nil {
			m.write(f, *i.Dest, v, true)
		}

	case linear.Llabel:

	case linear.Lgoto:
		return m.jump(f, i.Target)

	case linear.Lcond:
		args, ok := m.reads(f, i.Args)
		if !ok {
			return errors.Wrap(ErrUndefined, "branch condition")
		}
		taken, err := EvalCond(i.Cond, args)
		if err != nil {
			return err
		}
		if taken {
			return m.jump(f, i.IfSo)
		}

	case linear.Ljumptable:
		v, ok := m.read(f, i.Arg)
		if !ok {
			return errors.Wrap(ErrUndefined, "jumptable index")
		}
		if v < 0 || v >= int64(len(i.Targets)) {
			return errors.Errorf("jumptable index %d out of range", v)
		}
		return m.jump(f, i.Targets[v])

	case linear.Lreturn:
		m.restoreCalleeSave(f)
		m.Stack = m.Stack[:len(m.Stack)-1]
		if len(m.Stack) == 0 {
			m.halted = true
		}
		return nil

	default:
		return errors.Errorf("unknown instruction %T", inst)
	}
	f.PC++
	return nil
}

func (m *Linear) jump(f *LinearFrame, lbl linear.Label) error {
	pc, ok := f.labels[lbl]
	if !ok {
		return errors.Errorf("undefined label L%d", lbl)
	}
	f.PC = pc
	return nil
}
