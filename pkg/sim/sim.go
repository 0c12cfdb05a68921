// Package sim runs Linear and Mach programs. The Linear machine keeps stack
// slots abstract (per-frame maps); the Mach machine keeps them in memory
// reached through the frame base and the backlink chain. Running a program
// and its lowering side by side is how the lowering is checked.
package sim

import (
	"github.com/pkg/errors"
	"github.com/raymyers/ralph-stack/pkg/abi"
	"github.com/raymyers/ralph-stack/pkg/linkage"
	"github.com/raymyers/ralph-stack/pkg/ltl"
	"github.com/raymyers/ralph-stack/pkg/memory"
	"github.com/raymyers/ralph-stack/pkg/target"
)

var (
	ErrStepLimit = errors.New("step limit exceeded")
	ErrTrap      = errors.New("trap")
	ErrUndefined = errors.New("use of undefined value")
	ErrHalted    = errors.New("machine has halted")
)

// DefaultStepLimit bounds a run when Config.StepLimit is zero
const DefaultStepLimit = 1_000_000

// Config controls a run
type Config struct {
	Target     *target.Target
	Convention *abi.Convention
	StepLimit  int
	InitRegs   map[ltl.MReg]int64 // register values before the entry call
}

func (c Config) withDefaults() Config {
	if c.Target == nil {
		c.Target = target.AArch64()
	}
	if c.Convention == nil {
		c.Convention = abi.Default()
	}
	if c.StepLimit == 0 {
		c.StepLimit = DefaultStepLimit
	}
	return c
}

// Regs is a register file indexed by ltl.MReg
type Regs [ltl.NumRegs]int64

func (r *Regs) seed(tgt *target.Target, init map[ltl.MReg]int64) {
	for reg, v := range init {
		if reg.Valid() {
			r.set(tgt, reg, v)
		}
	}
}

// set writes v to reg. A register the target saves in 4 bytes only holds
// its sign-extended low word.
func (r *Regs) set(tgt *target.Target, reg ltl.MReg, v int64) {
	if tgt.CalleeSaveWidth(reg) == 4 {
		v = ltl.Tany32.Normalize(v)
	}
	r[reg] = v
}

// Slot identifies a stack slot within one area
type Slot struct {
	Ofs int64
	Ty  ltl.Typ
}

func (s Slot) overlaps(o Slot) bool {
	return s.Ofs < o.Ofs+o.Ty.Words() && o.Ofs < s.Ofs+s.Ty.Words()
}

// SlotMap is one abstract slot area. Writing a slot forgets every other
// slot it overlaps, so a read with a different type is undefined.
type SlotMap map[Slot]int64

func (m SlotMap) Get(s Slot) (int64, bool) {
	v, ok := m[s]
	return v, ok
}

func (m SlotMap) Set(s Slot, v int64) {
	for o := range m {
		if o != s && o.overlaps(s) {
			delete(m, o)
		}
	}
	m[s] = s.Ty.Normalize(v)
}

// Symbols assigns addresses to globals and functions. Both machines build
// it the same way, so addresses agree between them.
type Symbols struct {
	globals map[string]uint64
	funcs   []string
	funcIdx map[string]int
}

// funcBase places function addresses above data. Code addresses stay below
// 2^31 so they survive a round trip through a 32-bit slot.
const funcBase uint64 = 0x4000_0000

// global is the part of a global variable the simulator needs
type global struct {
	name string
	size int64
	init []byte
}

func newSymbols(mem *memory.Memory, globals []global, funcs []string) (*Symbols, error) {
	s := &Symbols{
		globals: make(map[string]uint64),
		funcs:   funcs,
		funcIdx: make(map[string]int),
	}
	for _, g := range globals {
		addr, err := mem.Alloc(g.size)
		if err != nil {
			return nil, errors.Wrapf(err, "global %s", g.name)
		}
		if len(g.init) > 0 {
			if err := mem.Write(addr, g.init[:min(len(g.init), int(g.size))]); err != nil {
				return nil, errors.Wrapf(err, "global %s", g.name)
			}
		}
		s.globals[g.name] = addr
	}
	for i, name := range funcs {
		s.funcIdx[name] = i
	}
	return s, nil
}

// Addr returns the address of a global or function symbol
func (s *Symbols) Addr(name string) (uint64, error) {
	if addr, ok := s.globals[name]; ok {
		return addr, nil
	}
	if i, ok := s.funcIdx[name]; ok {
		return funcBase + 16*uint64(i), nil
	}
	return 0, errors.Errorf("undefined symbol %q", name)
}

// FuncAt returns the function whose address is addr
func (s *Symbols) FuncAt(addr uint64) (string, error) {
	if addr >= funcBase && (addr-funcBase)%16 == 0 {
		if i := (addr - funcBase) / 16; i < uint64(len(s.funcs)) {
			return s.funcs[i], nil
		}
	}
	return "", errors.Errorf("call to %#x, which is not a function", addr)
}

// bootArgs lays out the entry call's arguments the way a caller would:
// registers directly, stack arguments in an Outgoing area
type bootArgs struct {
	regs     map[ltl.MReg]int64
	stack    map[Slot]int64
	outWords int64
}

// layoutArgs places args through the call site of sig, so the entry call
// obeys the same Outgoing/Incoming pairing as calls inside the program
func layoutArgs(conv *abi.Convention, sig ltl.Sig, args []int64) (*bootArgs, error) {
	if len(args) != len(sig.Args) {
		return nil, errors.Errorf("%d arguments for a signature of %d", len(args), len(sig.Args))
	}
	site, err := linkage.CallSite(sig, conv)
	if err != nil {
		return nil, errors.Wrap(err, "entry call")
	}
	b := &bootArgs{regs: make(map[ltl.MReg]int64), stack: make(map[Slot]int64), outWords: conv.OutgoingWords(sig)}
	for i, pair := range site.Args {
		v := sig.Args[i].Normalize(args[i])
		switch l := pair.Callee.(type) {
		case ltl.R:
			b.regs[l.Reg] = v
		case ltl.S:
			b.stack[Slot{Ofs: l.Ofs, Ty: l.Ty}] = l.Ty.Normalize(v)
		}
	}
	return b, nil
}
