package stacking

import (
	"github.com/raymyers/ralph-stack/pkg/ltl"
	"github.com/raymyers/ralph-stack/pkg/mach"
	"github.com/raymyers/ralph-stack/pkg/target"
)

// GeneratePrologue generates the function prologue instructions:
//  1. Allocate the frame
//  2. Save the backlink and return address
//  3. Save the used callee-saved registers
func GeneratePrologue(layout *FrameLayout, tgt *target.Target) []mach.Instruction {
	prologue := []mach.Instruction{
		mach.Mallocframe{Size: layout.FrameSize},
		mach.Msetlink{Ofs: layout.OfsLink},
		mach.Msetretaddr{Ofs: layout.OfsRetaddr},
	}
	FoldCalleeSave(tgt, layout.CalleeSaveRegs, layout.OfsCalleeSave, func(s CalleeSaveSlot) {
		prologue = append(prologue, mach.Msetstack{Src: s.Reg, Ofs: s.Ofs, Ty: s.Ty})
	})
	return prologue
}

// GenerateTailEpilogue generates the epilogue without its final transfer:
//  1. Restore callee-saved registers (same order and offsets as the saves)
//  2. Reload the backlink and return address
//  3. Free the frame
func GenerateTailEpilogue(layout *FrameLayout, tgt *target.Target) []mach.Instruction {
	var epilogue []mach.Instruction
	FoldCalleeSave(tgt, layout.CalleeSaveRegs, layout.OfsCalleeSave, func(s CalleeSaveSlot) {
		epilogue = append(epilogue, mach.Mgetstack{Ofs: s.Ofs, Ty: s.Ty, Dest: s.Reg})
	})
	return append(epilogue,
		mach.Mgetlink{Ofs: layout.OfsLink},
		mach.Mgetretaddr{Ofs: layout.OfsRetaddr},
		mach.Mfreeframe{Size: layout.FrameSize},
	)
}

// GenerateEpilogue generates the epilogue of a normal return
func GenerateEpilogue(layout *FrameLayout, tgt *target.Target) []mach.Instruction {
	return append(GenerateTailEpilogue(layout, tgt), mach.Mreturn{})
}

// IsLeafFunction returns true if the function doesn't call other functions
func IsLeafFunction(code []mach.Instruction) bool {
	for _, inst := range code {
		switch inst.(type) {
		case mach.Mcall, mach.Mtailcall:
			return false
		}
	}
	return true
}

// SavedRegisters returns the registers a prologue saves, in order
func SavedRegisters(prologue []mach.Instruction) []ltl.MReg {
	var regs []ltl.MReg
	for _, inst := range prologue {
		if s, ok := inst.(mach.Msetstack); ok {
			regs = append(regs, s.Src)
		}
	}
	return regs
}
