package stacking

import (
	"sort"

	"github.com/raymyers/ralph-stack/pkg/linear"
	"github.com/raymyers/ralph-stack/pkg/ltl"
	"github.com/raymyers/ralph-stack/pkg/target"
	"github.com/samber/lo"
)

// FunctionBounds holds the per-function sizing facts the layout is built from.
// This mirrors CompCert's backend/Bounds.v
type FunctionBounds struct {
	Name             string
	MaxLocalWords    int64      // highest Local slot end, in slot units
	MaxOutgoingWords int64      // highest Outgoing slot end, in slot units
	UsedCalleeSave   []ltl.MReg // referenced callee-save registers, target enumeration order
	StackDataBytes   int64      // declared stack data
}

// CollectBounds scans a Linear function for stack slot and register usage.
// The result depends only on the set of instructions, not their order.
func CollectBounds(fn *linear.Function, tgt *target.Target) (*FunctionBounds, error) {
	b := &FunctionBounds{
		Name:           fn.Name,
		StackDataBytes: fn.Stacksize,
	}
	if fn.Stacksize < 0 {
		return nil, &IllFormedSlotError{Func: fn.Name, Index: -1, Loc: ltl.S{Slot: ltl.SlotLocal}, Reason: "negative stack data size"}
	}

	used := make(map[ltl.MReg]bool)
	for idx, inst := range fn.Code {
		uses, defs := linear.Uses(inst), linear.Defs(inst)

		for _, loc := range uses {
			if err := b.visit(fn.Name, idx, loc, false, used, tgt); err != nil {
				return nil, err
			}
		}
		for _, loc := range defs {
			if err := b.visit(fn.Name, idx, loc, true, used, tgt); err != nil {
				return nil, err
			}
		}

		if need := scratchNeeded(inst); need > len(tgt.Scratch) {
			return nil, &IllFormedSlotError{
				Func:   fn.Name,
				Index:  idx,
				Loc:    append(lo.Filter(uses, isSlot), lo.Filter(defs, isSlot)...)[0],
				Reason: "too many stack slot operands for the available scratch registers",
			}
		}
	}

	b.UsedCalleeSave = lo.Keys(used)
	sort.Slice(b.UsedCalleeSave, func(i, j int) bool {
		return tgt.CalleeSaveOrder(b.UsedCalleeSave[i]) < tgt.CalleeSaveOrder(b.UsedCalleeSave[j])
	})
	return b, nil
}

// visit checks one location and folds it into the bounds
func (b *FunctionBounds) visit(name string, idx int, loc ltl.Loc, write bool,
	used map[ltl.MReg]bool, tgt *target.Target) error {
	switch l := loc.(type) {
	case ltl.R:
		if tgt.IsScratch(l.Reg) {
			return &IllFormedSlotError{Func: name, Index: idx, Loc: l, Reason: "register is reserved for stack slot access"}
		}
		if tgt.IsCalleeSaved(l.Reg) {
			used[l.Reg] = true
		}
	case ltl.S:
		if reason := slotProblem(l, write); reason != "" {
			return &IllFormedSlotError{Func: name, Index: idx, Loc: l, Reason: reason}
		}
		end := l.Ofs + l.Ty.Words()
		switch l.Slot {
		case ltl.SlotLocal:
			b.MaxLocalWords = max(b.MaxLocalWords, end)
		case ltl.SlotOutgoing:
			b.MaxOutgoingWords = max(b.MaxOutgoingWords, end)
		}
	}
	return nil
}

// maxSlotOfs keeps 4*ofs well inside int64; anything this large can never
// fit a frame anyway.
const maxSlotOfs = 1 << 40

// slotProblem returns why a slot reference is ill-formed, or ""
func slotProblem(s ltl.S, write bool) string {
	switch s.Slot {
	case ltl.SlotLocal, ltl.SlotIncoming, ltl.SlotOutgoing:
	default:
		return "unknown slot kind"
	}
	words := s.Ty.Words()
	switch {
	case words == 0:
		return "slot has no storable type"
	case s.Ofs < 0:
		return "negative slot offset"
	case s.Ofs > maxSlotOfs:
		return "slot offset out of range"
	case s.Ofs%words != 0:
		return "slot offset is not aligned for its type"
	case write && s.Slot == ltl.SlotIncoming:
		return "incoming slots are read-only"
	}
	return ""
}

func isSlot(loc ltl.Loc, _ int) bool {
	_, ok := loc.(ltl.S)
	return ok
}

// scratchNeeded counts the scratch registers an instruction's lowering uses.
// getstack/setstack address their slot directly. Every other slot operand is
// staged through its own scratch register; a slot destination reuses the first.
func scratchNeeded(inst linear.Instruction) int {
	switch inst.(type) {
	case linear.Lgetstack, linear.Lsetstack:
		return 0
	}
	n := len(lo.Filter(linear.Uses(inst), isSlot))
	if n == 0 && len(lo.Filter(linear.Defs(inst), isSlot)) > 0 {
		n = 1
	}
	return n
}
