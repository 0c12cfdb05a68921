package agreement

import (
	"github.com/pkg/errors"
	"github.com/raymyers/ralph-stack/pkg/linear"
	"github.com/raymyers/ralph-stack/pkg/ltl"
	"github.com/raymyers/ralph-stack/pkg/mach"
	"github.com/raymyers/ralph-stack/pkg/sim"
	"github.com/raymyers/ralph-stack/pkg/target"
)

// Report summarizes a lockstep run
type Report struct {
	Result      int64
	Defined     bool // false when the Linear result was undefined
	LinearSteps int
	MachSteps   int
	Checks      int // number of points where Agrees held
	Trapped     bool
}

// lockstep drives a Linear program and its lowering side by side
type lockstep struct {
	cfg    sim.Config
	lin    *sim.Linear
	mach   *sim.Mach
	starts map[string]map[int]int // function -> Linear index -> first Mach pc
	refs   map[string]map[ltl.MReg]bool
}

// Lockstep runs entry(args) in both programs. After every Linear
// instruction it advances the Mach program to the start of the matching
// lowered code and checks Agrees on the running activation.
func Lockstep(lprog *linear.Program, mprog *mach.Program, entry string, args []int64, cfg sim.Config) (*Report, error) {
	lin, err := sim.NewLinear(lprog, cfg)
	if err != nil {
		return nil, err
	}
	mm, err := sim.NewMach(mprog, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Target == nil {
		cfg.Target = target.AArch64()
	}
	ls := &lockstep{
		cfg:    cfg,
		lin:    lin,
		mach:   mm,
		starts: make(map[string]map[int]int),
		refs:   make(map[string]map[ltl.MReg]bool),
	}
	for i := range mprog.Functions {
		fn := &mprog.Functions[i]
		starts := make(map[int]int)
		for pc, origin := range fn.Origin {
			if _, seen := starts[origin]; !seen && origin >= 0 {
				starts[origin] = pc
			}
		}
		ls.starts[fn.Name] = starts
	}
	if err := lin.Start(entry, args); err != nil {
		return nil, err
	}
	if err := mm.Start(entry, args); err != nil {
		return nil, err
	}
	return ls.run()
}

func (ls *lockstep) run() (*Report, error) {
	rep := &Report{}
	for {
		if err := ls.skipEmpty(); err != nil {
			return ls.trapped(rep, err)
		}
		if ls.lin.Halted() {
			break
		}
		if err := ls.sync(); err != nil {
			return nil, err
		}
		if err := ls.check(); err != nil {
			return nil, err
		}
		rep.Checks++
		if err := ls.lin.Step(); err != nil {
			return ls.trapped(rep, err)
		}
	}

	for !ls.mach.Halted() {
		if err := ls.mach.Step(); err != nil {
			return nil, errors.Wrap(err, "lowered program after the source returned")
		}
	}
	rep.LinearSteps, rep.MachSteps = ls.lin.Steps(), ls.mach.Steps()

	want, err := ls.lin.Result()
	if errors.Is(err, sim.ErrUndefined) {
		return rep, nil
	}
	if err != nil {
		return nil, err
	}
	got, _ := ls.mach.Result()
	if got != want {
		return nil, errors.Wrapf(ErrDisagree, "result %d, source result %d", got, want)
	}
	rep.Result, rep.Defined = got, true
	return rep, nil
}

// trapped handles a Linear error: a trap must also trap the lowered program
// and unwind every frame; anything else is reported as is
func (ls *lockstep) trapped(rep *Report, err error) (*Report, error) {
	if !errors.Is(err, sim.ErrTrap) {
		return nil, err
	}
	for {
		merr := ls.mach.Step()
		if merr == nil {
			continue
		}
		if !errors.Is(merr, sim.ErrTrap) {
			return nil, errors.Wrap(merr, "lowered program did not trap")
		}
		if err := ls.mach.Abort(); err != nil {
			return nil, err
		}
		break
	}
	rep.Trapped = true
	rep.LinearSteps, rep.MachSteps = ls.lin.Steps(), ls.mach.Steps()
	return rep, nil
}

// skipEmpty steps Linear past instructions that lower to no code
func (ls *lockstep) skipEmpty() error {
	for !ls.lin.Halted() {
		f := ls.lin.Top()
		if _, ok := ls.starts[f.Fn.Name][f.PC]; ok {
			return nil
		}
		if err := ls.lin.Step(); err != nil {
			return err
		}
	}
	return nil
}

func (ls *lockstep) synced() bool {
	lf, mf := ls.lin.Top(), ls.mach.Top()
	if mf == nil || len(ls.mach.Control) != len(ls.lin.Stack) || mf.Fn.Name != lf.Fn.Name {
		return false
	}
	start, ok := ls.starts[mf.Fn.Name][lf.PC]
	return ok && mf.PC == start
}

// sync steps the lowered program to the code of the next Linear instruction
func (ls *lockstep) sync() error {
	for !ls.synced() {
		if ls.mach.Halted() {
			f := ls.lin.Top()
			return errors.Errorf("lowered program halted before %s instruction %d", f.Fn.Name, f.PC)
		}
		if err := ls.mach.Step(); err != nil {
			return err
		}
	}
	return nil
}

func (ls *lockstep) check() error {
	lf := ls.lin.Top()
	rec, err := ls.mach.Calls.Top()
	if err != nil {
		return err
	}
	if rec.Func != lf.Fn.Name {
		return errors.Errorf("top frame belongs to %s, running %s", rec.Func, lf.Fn.Name)
	}
	caller, err := ls.mach.Calls.Caller()
	if err != nil {
		return err
	}
	refs, ok := ls.refs[lf.Fn.Name]
	if !ok {
		refs = Referenced(lf.Fn)
		ls.refs[lf.Fn.Name] = refs
	}
	err = Agrees(
		ConcreteView{
			Machine: ls.mach,
			Record:  *rec,
			Caller:  caller.Base,
			Saved:   ls.mach.Top().Fn.CalleeSaveRegs,
			Target:  ls.cfg.Target,
		},
		AbstractView{
			Regs:       &ls.lin.Regs,
			Def:        &ls.lin.Def,
			Frame:      lf,
			Referenced: refs,
		},
	)
	return errors.Wrapf(err, "%s before instruction %d", lf.Fn.Name, lf.PC)
}
