package stacking

import (
	"github.com/raymyers/ralph-stack/pkg/linear"
	"github.com/raymyers/ralph-stack/pkg/ltl"
	"github.com/raymyers/ralph-stack/pkg/mach"
)

// SlotTranslator rewrites abstract stack slots into frame-relative accesses
type SlotTranslator struct {
	layout *FrameLayout
}

// NewSlotTranslator creates a translator for one function's frame
func NewSlotTranslator(layout *FrameLayout) *SlotTranslator {
	return &SlotTranslator{layout: layout}
}

// SlotOffset returns the byte offset of a Local or Outgoing slot in the
// current frame
func (st *SlotTranslator) SlotOffset(kind ltl.SlotKind, ofs int64) int64 {
	if kind == ltl.SlotOutgoing {
		return st.layout.OutgoingSlotOffset(ofs)
	}
	return st.layout.LocalSlotOffset(ofs)
}

// TranslateGetstack lowers a slot read. Incoming slots go through the backlink.
func (st *SlotTranslator) TranslateGetstack(i linear.Lgetstack) mach.Instruction {
	if i.Slot == ltl.SlotIncoming {
		return mach.Mgetparam{
			LinkOfs: st.layout.OfsLink,
			Ofs:     st.layout.IncomingSlotOffset(i.Ofs),
			Ty:      i.Ty,
			Dest:    i.Dest,
		}
	}
	return mach.Mgetstack{
		Ofs:  st.SlotOffset(i.Slot, i.Ofs),
		Ty:   i.Ty,
		Dest: i.Dest,
	}
}

// TranslateSetstack lowers a slot write. Incoming slots are rejected by
// CollectBounds before translation.
func (st *SlotTranslator) TranslateSetstack(i linear.Lsetstack) mach.Instruction {
	return mach.Msetstack{
		Src: i.Src,
		Ofs: st.SlotOffset(i.Slot, i.Ofs),
		Ty:  i.Ty,
	}
}

// Load returns the instruction reading slot s into reg
func (st *SlotTranslator) Load(s ltl.S, reg ltl.MReg) mach.Instruction {
	return st.TranslateGetstack(linear.Lgetstack{Slot: s.Slot, Ofs: s.Ofs, Ty: s.Ty, Dest: reg})
}

// Store returns the instruction writing reg into slot s
func (st *SlotTranslator) Store(reg ltl.MReg, s ltl.S) mach.Instruction {
	return st.TranslateSetstack(linear.Lsetstack{Src: reg, Slot: s.Slot, Ofs: s.Ofs, Ty: s.Ty})
}
