// Package agreement checks that a lowered function's concrete state (frame
// memory and registers) reflects the abstract state of the Linear function
// it came from. It is a test oracle; the compiler itself never calls it.
package agreement

import (
	"github.com/pkg/errors"
	"github.com/raymyers/ralph-stack/pkg/linear"
	"github.com/raymyers/ralph-stack/pkg/linkage"
	"github.com/raymyers/ralph-stack/pkg/ltl"
	"github.com/raymyers/ralph-stack/pkg/sim"
	"github.com/raymyers/ralph-stack/pkg/stacking"
	"github.com/raymyers/ralph-stack/pkg/target"
	"github.com/samber/lo"
)

// ErrDisagree marks every agreement failure
var ErrDisagree = errors.New("abstract and concrete states disagree")

// ConcreteView is the Mach side of one function activation
type ConcreteView struct {
	Machine *sim.Mach
	Record  linkage.ActivationRecord
	Caller  uint64 // base of the frame below Record
	Saved   []ltl.MReg
	Target  *target.Target
}

// AbstractView is the Linear side: the current locset and the locset at
// function entry (ls0)
type AbstractView struct {
	Regs       *sim.Regs
	Def        *[ltl.NumRegs]bool
	Frame      *sim.LinearFrame
	Referenced map[ltl.MReg]bool
}

func disagree(format string, args ...any) error {
	return errors.Wrapf(ErrDisagree, format, args...)
}

// Agrees checks the agreement predicate for one activation:
//   - the Local, Outgoing and Incoming areas hold every defined abstract slot
//   - the link slot holds the caller's base and the retaddr slot the return address
//   - the callee-save area holds the entry value of each saved register
//   - unreferenced callee-save registers still hold their entry value
//   - every defined abstract register other than scratch matches
func Agrees(c ConcreteView, a AbstractView) error {
	m, frame := c.Machine, c.Record.Frame
	base := c.Record.Base

	slotAddr := func(kind ltl.SlotKind, ofs int64) uint64 {
		switch kind {
		case ltl.SlotIncoming:
			return linkage.IncomingAddr(c.Record.Backlink, ofs)
		case ltl.SlotOutgoing:
			return base + uint64(frame.OfsOutgoing+ltl.SlotUnit*ofs)
		default:
			return base + uint64(frame.OfsLocal+ltl.SlotUnit*ofs)
		}
	}
	areas := []struct {
		kind ltl.SlotKind
		m    sim.SlotMap
	}{
		{ltl.SlotLocal, a.Frame.Local},
		{ltl.SlotOutgoing, a.Frame.Outgoing},
		{ltl.SlotIncoming, a.Frame.Incoming},
	}
	for _, area := range areas {
		for s, want := range area.m {
			got, err := m.Mem.Load(slotAddr(area.kind, s.Ofs), s.Ty)
			if err != nil {
				return disagree("%s slot %d (%s): %v", area.kind, s.Ofs, s.Ty, err)
			}
			if got != want {
				return disagree("%s slot %d (%s) = %d in memory, want %d", area.kind, s.Ofs, s.Ty, got, want)
			}
		}
	}

	if c.Record.Backlink != c.Caller {
		return disagree("backlink %#x, caller base %#x", c.Record.Backlink, c.Caller)
	}
	link, err := m.LoadPtr(base + uint64(frame.OfsLink))
	if err != nil || link != c.Caller {
		return disagree("link slot holds %#x (%v), want %#x", link, err, c.Caller)
	}
	ra, err := m.LoadPtr(base + uint64(frame.OfsRetaddr))
	if err != nil || ra != c.Record.Retaddr {
		return disagree("retaddr slot holds %#x (%v), want %#x", ra, err, c.Record.Retaddr)
	}

	var saveErr error
	stacking.FoldCalleeSave(c.Target, c.Saved, frame.OfsCalleeSave, func(s stacking.CalleeSaveSlot) {
		if saveErr != nil || !a.Frame.EntryDef[s.Reg] {
			return
		}
		got, err := m.Mem.Load(base+uint64(s.Ofs), s.Ty)
		if want := s.Ty.Normalize(a.Frame.Entry[s.Reg]); err != nil || got != want {
			saveErr = disagree("saved %s at %d = %d (%v), want %d", s.Reg, s.Ofs, got, err, want)
		}
	})
	if saveErr != nil {
		return saveErr
	}

	for _, cs := range c.Target.CalleeSave {
		r := cs.Reg
		if a.Referenced[r] || !a.Frame.EntryDef[r] {
			continue
		}
		if m.Regs[r] != a.Frame.Entry[r] {
			return disagree("untouched callee-save %s = %d, entry value %d", r, m.Regs[r], a.Frame.Entry[r])
		}
	}

	for r := ltl.X0; r < ltl.NumRegs; r++ {
		if c.Target.IsScratch(r) || !a.Def[r] {
			continue
		}
		if m.Regs[r] != a.Regs[r] {
			return disagree("register %s = %d, abstract value %d", r, m.Regs[r], a.Regs[r])
		}
	}
	return nil
}

// Referenced returns the registers a Linear function body mentions
func Referenced(fn *linear.Function) map[ltl.MReg]bool {
	regs := make(map[ltl.MReg]bool)
	for _, inst := range fn.Code {
		locs := append(linear.Defs(inst), linear.Uses(inst)...)
		for _, r := range lo.FilterMap(locs, asReg) {
			regs[r] = true
		}
	}
	return regs
}

func asReg(loc ltl.Loc, _ int) (ltl.MReg, bool) {
	r, ok := loc.(ltl.R)
	return r.Reg, ok
}
