package stacking

import (
	"runtime"

	"github.com/raymyers/ralph-stack/pkg/linear"
	"github.com/raymyers/ralph-stack/pkg/ltl"
	"github.com/raymyers/ralph-stack/pkg/mach"
	"github.com/raymyers/ralph-stack/pkg/target"
	"golang.org/x/sync/errgroup"
)

// Result is everything computed while lowering one function
type Result struct {
	Bounds *FunctionBounds
	Layout *FrameLayout
	Mach   *mach.Function
}

// Lower runs bounds collection, layout and translation on one function.
// On error nothing is emitted.
func Lower(fn *linear.Function, tgt *target.Target) (*Result, error) {
	bounds, err := CollectBounds(fn, tgt)
	if err != nil {
		return nil, err
	}
	layout, err := ComputeLayout(bounds, tgt)
	if err != nil {
		return nil, err
	}
	t := &transformer{
		linearFn:  fn,
		tgt:       tgt,
		layout:    layout,
		slotTrans: NewSlotTranslator(layout),
	}
	return &Result{Bounds: bounds, Layout: layout, Mach: t.transform()}, nil
}

// Transform converts a Linear function to Mach code
// This is the main stacking transformation
func Transform(fn *linear.Function, tgt *target.Target) (*mach.Function, error) {
	res, err := Lower(fn, tgt)
	if err != nil {
		return nil, err
	}
	return res.Mach, nil
}

// LowerProgram lowers every function of prog concurrently. Results are in
// function order; the error returned is that of the first failing function.
func LowerProgram(prog *linear.Program, tgt *target.Target) ([]*Result, error) {
	results := make([]*Result, len(prog.Functions))
	errs := make([]error, len(prog.Functions))

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for idx := range prog.Functions {
		idx := idx
		g.Go(func() error {
			results[idx], errs[idx] = Lower(&prog.Functions[idx], tgt)
			return errs[idx]
		})
	}
	_ = g.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

// TransformProgram transforms a complete Linear program to Mach
func TransformProgram(prog *linear.Program, tgt *target.Target) (*mach.Program, error) {
	results, err := LowerProgram(prog, tgt)
	if err != nil {
		return nil, err
	}
	return AssembleProgram(prog, results), nil
}

// AssembleProgram collects lowered functions into a Mach program carrying
// prog's globals
func AssembleProgram(prog *linear.Program, results []*Result) *mach.Program {
	machProg := &mach.Program{
		Globals:   make([]mach.GlobVar, len(prog.Globals)),
		Functions: make([]mach.Function, 0, len(results)),
	}

	// Copy globals
	for i, g := range prog.Globals {
		machProg.Globals[i] = mach.GlobVar{
			Name:     g.Name,
			Size:     g.Size,
			Init:     g.Init,
			ReadOnly: g.ReadOnly,
		}
	}

	for _, res := range results {
		machProg.Functions = append(machProg.Functions, *res.Mach)
	}
	return machProg
}

// transformer holds state during Linear -> Mach transformation
type transformer struct {
	linearFn  *linear.Function
	tgt       *target.Target
	layout    *FrameLayout
	slotTrans *SlotTranslator
	machFn    *mach.Function
}

func (t *transformer) transform() *mach.Function {
	t.machFn = mach.NewFunction(t.linearFn.Name, t.linearFn.Sig)
	t.machFn.Stacksize = t.layout.FrameSize
	t.machFn.Frame = t.layout.Frame()
	t.machFn.CalleeSaveRegs = append(t.machFn.CalleeSaveRegs, t.layout.CalleeSaveRegs...)

	for _, inst := range GeneratePrologue(t.layout, t.tgt) {
		t.machFn.Append(inst)
	}

	for idx, inst := range t.linearFn.Code {
		t.machFn.Emit(idx, t.transformInst(inst)...)
	}
	return t.machFn
}

// stager routes slot operands of one instruction through scratch registers
type stager struct {
	t    *transformer
	next int
	pre  []mach.Instruction // loads that run before the instruction
	post []mach.Instruction // stores that run after it
}

func (t *transformer) stager() *stager {
	return &stager{t: t}
}

// use returns the register holding loc, loading a slot into the next scratch
func (s *stager) use(loc ltl.Loc) ltl.MReg {
	switch l := loc.(type) {
	case ltl.R:
		return l.Reg
	case ltl.S:
		reg := s.t.tgt.Scratch[s.next]
		s.next++
		s.pre = append(s.pre, s.t.slotTrans.Load(l, reg))
		return reg
	default:
		panic("unknown location type")
	}
}

func (s *stager) uses(locs []ltl.Loc) []ltl.MReg {
	regs := make([]ltl.MReg, len(locs))
	for i, loc := range locs {
		regs[i] = s.use(loc)
	}
	return regs
}

// def returns the register an instruction should write for loc. A slot
// destination goes through the first scratch register and is stored back.
func (s *stager) def(loc ltl.Loc) ltl.MReg {
	switch l := loc.(type) {
	case ltl.R:
		return l.Reg
	case ltl.S:
		reg := s.t.tgt.Scratch[0]
		s.post = append(s.post, s.t.slotTrans.Store(reg, l))
		return reg
	default:
		panic("unknown location type")
	}
}

// wrap surrounds inst with the staged loads and stores
func (s *stager) wrap(inst mach.Instruction) []mach.Instruction {
	out := make([]mach.Instruction, 0, len(s.pre)+1+len(s.post))
	out = append(out, s.pre...)
	out = append(out, inst)
	return append(out, s.post...)
}

// transformInst transforms a single Linear instruction to Mach
// Returns a slice because some instructions expand to multiple
func (t *transformer) transformInst(inst linear.Instruction) []mach.Instruction {
	switch i := inst.(type) {
	case linear.Lgetstack:
		return []mach.Instruction{t.slotTrans.TranslateGetstack(i)}

	case linear.Lsetstack:
		return []mach.Instruction{t.slotTrans.TranslateSetstack(i)}

	case linear.Lop:
		if i.Dest == nil {
			return nil
		}
		s := t.stager()
		args := s.uses(i.Args)
		return s.wrap(mach.Mop{Op: i.Op, Args: args, Dest: s.def(i.Dest)})

	case linear.Lload:
		s := t.stager()
		args := s.uses(i.Args)
		return s.wrap(mach.Mload{
			Chunk: i.Chunk,
			Addr:  i.Addr,
			Args:  args,
			Dest:  s.def(i.Dest),
		})

	case linear.Lstore:
		s := t.stager()
		args := s.uses(i.Args)
		return s.wrap(mach.Mstore{
			Chunk: i.Chunk,
			Addr:  i.Addr,
			Args:  args,
			Src:   s.use(i.Src),
		})

	case linear.Lcall:
		s := t.stager()
		return s.wrap(mach.Mcall{Sig: i.Sig, Fn: s.funRef(i.Fn)})

	case linear.Ltailcall:
		return t.transformTailcall(i)

	case linear.Lbuiltin:
		s := t.stager()
		args := s.uses(i.Args)
		var dest *ltl.MReg
		if i.Dest != nil {
			r := s.def(*i.Dest)
			dest = &r
		}
		return s.wrap(mach.Mbuiltin{Builtin: i.Builtin, Args: args, Dest: dest})

	case linear.Llabel:
		return []mach.Instruction{mach.Mlabel{Lbl: mach.Label(i.Lbl)}}

	case linear.Lgoto:
		return []mach.Instruction{mach.Mgoto{Target: mach.Label(i.Target)}}

	case linear.Lcond:
		s := t.stager()
		return s.wrap(mach.Mcond{
			Cond: i.Cond,
			Args: s.uses(i.Args),
			IfSo: mach.Label(i.IfSo),
		})

	case linear.Ljumptable:
		targets := make([]mach.Label, len(i.Targets))
		for j, lbl := range i.Targets {
			targets[j] = mach.Label(lbl)
		}
		s := t.stager()
		return s.wrap(mach.Mjumptable{Arg: s.use(i.Arg), Targets: targets})

	case linear.Lreturn:
		return GenerateEpilogue(t.layout, t.tgt)

	default:
		panic("unknown instruction type")
	}
}

// funRef converts a Linear function reference, staging a slot target
func (s *stager) funRef(fn linear.FunRef) mach.FunRef {
	switch f := fn.(type) {
	case linear.FunReg:
		return mach.FunReg{Reg: s.use(f.Loc)}
	case linear.FunSymbol:
		return mach.FunSymbol{Name: f.Name}
	default:
		panic("unknown function reference type")
	}
}

// transformTailcall frees the frame before jumping. A register target is
// first copied to scratch since the epilogue may restore the register it
// lives in, and a slot target must be read while the frame is still live.
func (t *transformer) transformTailcall(i linear.Ltailcall) []mach.Instruction {
	var result []mach.Instruction
	var fn mach.FunRef = mach.FunSymbol{}
	switch f := i.Fn.(type) {
	case linear.FunSymbol:
		fn = mach.FunSymbol{Name: f.Name}
	case linear.FunReg:
		scratch := t.tgt.Scratch[0]
		switch l := f.Loc.(type) {
		case ltl.R:
			result = append(result, mach.Mop{Op: ltl.Omove{}, Args: []ltl.MReg{l.Reg}, Dest: scratch})
		case ltl.S:
			result = append(result, t.slotTrans.Load(l, scratch))
		}
		fn = mach.FunReg{Reg: scratch}
	}
	result = append(result, GenerateTailEpilogue(t.layout, t.tgt)...)
	return append(result, mach.Mtailcall{Sig: i.Sig, Fn: fn})
}
