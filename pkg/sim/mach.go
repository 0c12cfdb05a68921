package sim

import (
	"github.com/pkg/errors"
	"github.com/raymyers/ralph-stack/pkg/linkage"
	"github.com/raymyers/ralph-stack/pkg/ltl"
	"github.com/raymyers/ralph-stack/pkg/mach"
	"github.com/raymyers/ralph-stack/pkg/memory"
)

// MachFrame is the control state of one Mach activation. Its memory lives
// in the matching linkage.ActivationRecord once the prologue has run.
type MachFrame struct {
	Fn     *mach.Function
	PC     int
	labels map[mach.Label]int
}

// returnPoint is what a return-address token stands for
type returnPoint struct {
	depth int // control index of the returning function
	pc    int
}

// raBase keeps return-address tokens clear of data and function addresses
const raBase uint64 = 0x6000_0000

// Mach executes Mach code against byte-addressed memory
type Mach struct {
	prog    *mach.Program
	cfg     Config
	Mem     *memory.Memory
	Sym     *Symbols
	Regs    Regs
	Calls   linkage.CallStack // memory side: one record per allocated frame
	Control []*MachFrame      // code side: one entry per active function

	// Link holds the caller's base (the pending backlink) and Retaddr the
	// return address, as the link/return registers of a real machine do
	Link    uint64
	Retaddr uint64
	Base    uint64 // current frame base, valid after Mallocframe

	returns []returnPoint
	bootTop int // Calls depth below the entry function
	steps   int
	halted  bool
	entry   *mach.Function
}

// NewMach prepares a machine for prog. Globals are allocated first, in the
// same order as NewLinear, so symbol addresses match.
func NewMach(prog *mach.Program, cfg Config) (*Mach, error) {
	cfg = cfg.withDefaults()
	mem := memory.New()
	globals := make([]global, len(prog.Globals))
	for i, g := range prog.Globals {
		globals[i] = global{name: g.Name, size: g.Size, init: g.Init}
	}
	names := make([]string, len(prog.Functions))
	for i := range prog.Functions {
		fn := &prog.Functions[i]
		names[i] = fn.Name
		defined := fn.LabelIndex()
		for _, lbl := range fn.ReferencedLabels() {
			if _, ok := defined[lbl]; !ok {
				return nil, errors.Errorf("%s: jump to undefined label L%d", fn.Name, lbl)
			}
		}
	}
	sym, err := newSymbols(mem, globals, names)
	if err != nil {
		return nil, err
	}
	m := &Mach{prog: prog, cfg: cfg, Mem: mem, Sym: sym}
	m.Regs.seed(cfg.Target, cfg.InitRegs)
	return m, nil
}

// Start calls name with args placed per the calling convention. Stack
// arguments go in an entry frame that plays the outermost caller.
func (m *Mach) Start(name string, args []int64) error {
	fn := m.prog.Lookup(name)
	if fn == nil {
		return errors.Errorf("undefined function %q", name)
	}
	boot, err := layoutArgs(m.cfg.Convention, fn.Sig, args)
	if err != nil {
		return errors.Wrapf(err, "calling %s", name)
	}
	size := ltl.SlotUnit * boot.outWords
	base, err := m.Mem.Alloc(size)
	if err != nil {
		return err
	}
	rec := linkage.ActivationRecord{
		Func:     "<entry>",
		Base:     base,
		Frame:    mach.Frame{Size: size},
		Backlink: linkage.Sentinel,
	}
	if err := m.Calls.Push(rec); err != nil {
		return err
	}
	// The entry frame plays the caller, so its Outgoing slots are the
	// callee's Incoming slots
	for s, v := range boot.stack {
		if err := m.Mem.Store(linkage.IncomingAddr(base, s.Ofs), s.Ty, v); err != nil {
			return errors.Wrap(err, "entry arguments")
		}
	}
	for r, v := range boot.regs {
		m.Regs.set(m.cfg.Target, r, v)
	}
	m.bootTop = m.Calls.Len()
	m.entry = fn
	m.Link = base
	m.Base = base
	m.Retaddr = m.token(returnPoint{depth: 0})
	m.Control = append(m.Control, m.frame(fn))
	return nil
}

func (m *Mach) frame(fn *mach.Function) *MachFrame {
	return &MachFrame{Fn: fn, labels: fn.LabelIndex()}
}

func (m *Mach) token(rp returnPoint) uint64 {
	m.returns = append(m.returns, rp)
	return raBase + uint64(len(m.returns)-1)
}

// Top returns the running function's control state
func (m *Mach) Top() *MachFrame {
	if len(m.Control) == 0 {
		return nil
	}
	return m.Control[len(m.Control)-1]
}

func (m *Mach) Halted() bool { return m.halted }

// Steps is the number of instructions executed so far
func (m *Mach) Steps() int { return m.steps }

// Result reads the entry function's result
func (m *Mach) Result() (int64, error) {
	loc := m.cfg.Convention.ResultLocation(m.entry.Sig)
	if loc == nil {
		return 0, nil
	}
	return m.Regs[loc.(ltl.R).Reg], nil
}

// Run steps until the entry call returns. A trap unwinds every frame.
func (m *Mach) Run() (int64, error) {
	for !m.halted {
		if err := m.Step(); err != nil {
			if errors.Is(err, ErrTrap) {
				if uerr := m.Abort(); uerr != nil {
					return 0, uerr
				}
			}
			return 0, err
		}
	}
	return m.Result()
}

// Abort frees every frame, innermost first, as a non-local exit does
func (m *Mach) Abort() error {
	m.halted = true
	return m.Calls.Unwind(0, m.Mem)
}

func (m *Mach) ptrType() ltl.Typ {
	if m.cfg.Target.PointerSize == 4 {
		return ltl.Tany32
	}
	return ltl.Tany64
}

// LoadPtr reads a pointer-sized value
func (m *Mach) LoadPtr(addr uint64) (uint64, error) {
	v, err := m.Mem.Load(addr, m.ptrType())
	if m.ptrType() == ltl.Tany32 {
		return uint64(uint32(v)), err
	}
	return uint64(v), err
}

func (m *Mach) storePtr(addr, v uint64) error {
	return m.Mem.Store(addr, m.ptrType(), int64(v))
}

func (m *Mach) regs(rs []ltl.MReg) []int64 {
	vals := make([]int64, len(rs))
	for i, r := range rs {
		vals[i] = m.Regs[r]
	}
	return vals
}

func (m *Mach) callee(ref mach.FunRef) (*mach.Function, error) {
	name := ""
	switch r := ref.(type) {
	case mach.FunSymbol:
		name = r.Name
	case mach.FunReg:
		var err error
		if name, err = m.Sym.FuncAt(uint64(m.Regs[r.Reg])); err != nil {
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
func (m *Mach) Step() error {
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

func (m *Mach) exec(f *MachFrame, inst mach.Instruction) error {
	switch i := inst.(type) {
	case mach.Mallocframe:
		base, err := m.Mem.Alloc(i.Size)
		if err != nil {
			return err
		}
		rec := linkage.ActivationRecord{
			Func:     f.Fn.Name,
			Base:     base,
			Frame:    f.Fn.Frame,
			Backlink: m.Link,
			Retaddr:  m.Retaddr,
		}
		if err := m.Calls.Push(rec); err != nil {
			return err
		}
		m.Base = base

	case mach.Mfreeframe:
		rec, err := m.Calls.Pop(m.Base)
		if err != nil {
			return err
		}
		if rec.Backlink != m.Link {
			return errors.Errorf("backlink reloaded as %#x, frame was entered from %#x", m.Link, rec.Backlink)
		}
		if err := m.Mem.Free(m.Base, i.Size); err != nil {
			return err
		}
		m.Base = m.Link

	case mach.Msetlink:
		if err := m.storePtr(m.Base+uint64(i.Ofs), m.Link); err != nil {
			return err
		}

	case mach.Mgetlink:
		v, err := m.LoadPtr(m.Base + uint64(i.Ofs))
		if err != nil {
			return err
		}
		m.Link = v

	case mach.Msetretaddr:
		if err := m.storePtr(m.Base+uint64(i.Ofs), m.Retaddr); err != nil {
			return err
		}

	case mach.Mgetretaddr:
		v, err := m.LoadPtr(m.Base + uint64(i.Ofs))
		if err != nil {
			return err
		}
		m.Retaddr = v

	case mach.Mgetstack:
		v, err := m.Mem.Load(m.Base+uint64(i.Ofs), i.Ty)
		if err != nil {
			return err
		}
		m.Regs.set(m.cfg.Target, i.Dest, v)

	case mach.Msetstack:
		if err := m.Mem.Store(m.Base+uint64(i.Ofs), i.Ty, m.Regs[i.Src]); err != nil {
			return err
		}

	case mach.Mgetparam:
		link, err := m.LoadPtr(m.Base + uint64(i.LinkOfs))
		if err != nil {
			return err
		}
		m.Regs.set(m.cfg.Target, i.Dest, int64(link))
		v, err := m.Mem.Load(link+uint64(i.Ofs), i.Ty)
		if err != nil {
			return err
		}
		m.Regs.set(m.cfg.Target, i.Dest, v)

	case mach.Mop:
		v, err := EvalOp(i.Op, m.regs(i.Args), m.Sym)
		if err != nil {
			return err
		}
		m.Regs.set(m.cfg.Target, i.Dest, v)

	case mach.Mload:
		addr, err := EvalAddr(i.Addr, m.regs(i.Args), m.Sym)
		if err != nil {
			return err
		}
		v, err := m.Mem.LoadChunk(addr, i.Chunk)
		if err != nil {
			return err
		}
		m.Regs.set(m.cfg.Target, i.Dest, v)

	case mach.Mstore:
		addr, err := EvalAddr(i.Addr, m.regs(i.Args), m.Sym)
		if err != nil {
			return err
		}
		if err := m.Mem.StoreChunk(addr, i.Chunk, m.Regs[i.Src]); err != nil {
			return err
		}

	case mach.Mcall:
		fn, err := m.callee(i.Fn)
		if err != nil {
			return err
		}
		f.PC++
		m.Link = m.Base
		m.Retaddr = m.token(returnPoint{depth: len(m.Control), pc: f.PC})
		m.Control = append(m.Control, m.frame(fn))
		return nil

	case mach.Mtailcall:
		fn, err := m.callee(i.Fn)
		if err != nil {
			return err
		}
		m.Control[len(m.Control)-1] = m.frame(fn)
		return nil

	case mach.Mbuiltin:
		v, err := EvalBuiltin(i.Builtin, m.regs(i.Args))
		if err != nil {
			return err
		}
		if i.Dest != nil {
			m.Regs.set(m.cfg.Target, *i.Dest, v)
		}

	case mach.Mlabel:

	case mach.Mgoto:
		return m.jump(f, i.Target)

	case mach.Mcond:
		taken, err := EvalCond(i.Cond, m.regs(i.Args))
		if err != nil {
			return err
		}
		if taken {
			return m.jump(f, i.IfSo)
		}

	case mach.Mjumptable:
		v := m.Regs[i.Arg]
		if v < 0 || v >= int64(len(i.Targets)) {
			return errors.Errorf("jumptable index %d out of range", v)
		}
		return m.jump(f, i.Targets[v])

	case mach.Mreturn:
		return m.ret()

	default:
		return errors.Errorf("unknown instruction %T", inst)
	}
	f.PC++
	return nil
}

// ret transfers to the point named by the return-address register
func (m *Mach) ret() error {
	if m.Retaddr < raBase || m.Retaddr-raBase >= uint64(len(m.returns)) {
		return errors.Errorf("return to invalid address %#x", m.Retaddr)
	}
	rp := m.returns[m.Retaddr-raBase]
	if rp.depth != len(m.Control)-1 {
		return errors.Errorf("return address %#x belongs to depth %d, returning from depth %d",
			m.Retaddr, rp.depth, len(m.Control)-1)
	}
	m.Control = m.Control[:len(m.Control)-1]
	if len(m.Control) == 0 {
		return m.halt()
	}
	m.Top().PC = rp.pc
	return nil
}

// halt checks that only the entry frame remains and releases it
func (m *Mach) halt() error {
	if m.Calls.Len() != m.bootTop {
		return errors.Errorf("%d frames still allocated at exit", m.Calls.Len()-m.bootTop)
	}
	m.halted = true
	return m.Calls.Unwind(0, m.Mem)
}

func (m *Mach) jump(f *MachFrame, lbl mach.Label) error {
	pc, ok := f.labels[lbl]
	if !ok {
		return errors.Errorf("undefined label L%d", lbl)
	}
	f.PC = pc
	return nil
}
