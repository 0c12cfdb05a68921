package stacking

import (
	"github.com/raymyers/ralph-stack/pkg/ltl"
	"github.com/raymyers/ralph-stack/pkg/target"
)

// CalleeSaveSlot is the placement of one saved register
type CalleeSaveSlot struct {
	Reg ltl.MReg
	Ofs int64 // byte offset from the frame base
	Ty  ltl.Typ
}

// FoldCalleeSave places regs, in order, starting at offset start: each
// register's offset is the running offset aligned up to its save width, and
// the running offset then advances by that width. visit (may be nil) sees
// every placement; the final running offset is returned.
//
// Both the layout sizer and the prologue/epilogue generator go through this
// function, so the save area they compute cannot disagree.
func FoldCalleeSave(tgt *target.Target, regs []ltl.MReg, start int64, visit func(CalleeSaveSlot)) int64 {
	ofs := start
	for _, r := range regs {
		width := tgt.CalleeSaveWidth(r)
		ofs = alignUp(ofs, width)
		if visit != nil {
			visit(CalleeSaveSlot{Reg: r, Ofs: ofs, Ty: saveType(width)})
		}
		ofs += width
	}
	return ofs
}

// CalleeSaveSlots returns every placement made by FoldCalleeSave
func CalleeSaveSlots(tgt *target.Target, regs []ltl.MReg, start int64) []CalleeSaveSlot {
	slots := make([]CalleeSaveSlot, 0, len(regs))
	FoldCalleeSave(tgt, regs, start, func(s CalleeSaveSlot) {
		slots = append(slots, s)
	})
	return slots
}

// saveType is the memory type used to spill a register of the given width
func saveType(width int64) ltl.Typ {
	if width == 4 {
		return ltl.Tany32
	}
	return ltl.Tany64
}
