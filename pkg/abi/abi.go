// Package abi is the argument-location convention the lowering consumes:
// which register or stack slot carries each argument and the result of a
// signature.
package abi

import "github.com/raymyers/ralph-stack/pkg/ltl"

// Convention is an AAPCS64-like convention. Integer arguments go in
// IntArgs, floats in FloatArgs, the rest in consecutive 8-byte stack slots.
type Convention struct {
	IntArgs   []ltl.MReg
	FloatArgs []ltl.MReg
	IntRes    ltl.MReg
	FloatRes  ltl.MReg
}

// Default is the aarch64 convention: X0-X7, D0-D7, results in X0/D0
func Default() *Convention {
	return &Convention{
		IntArgs:   []ltl.MReg{ltl.X0, ltl.X1, ltl.X2, ltl.X3, ltl.X4, ltl.X5, ltl.X6, ltl.X7},
		FloatArgs: []ltl.MReg{ltl.D0, ltl.D1, ltl.D2, ltl.D3, ltl.D4, ltl.D5, ltl.D6, ltl.D7},
		IntRes:    ltl.X0,
		FloatRes:  ltl.D0,
	}
}

// stackArgWords is the slot stride of a stack argument (8 bytes)
const stackArgWords = 2

func (c *Convention) locations(sig ltl.Sig, kind ltl.SlotKind) []ltl.Loc {
	locs := make([]ltl.Loc, 0, len(sig.Args))
	nextInt, nextFloat := 0, 0
	var ofs int64
	for _, ty := range sig.Args {
		switch {
		case ty.IsFloat() && nextFloat < len(c.FloatArgs):
			locs = append(locs, ltl.R{Reg: c.FloatArgs[nextFloat]})
			nextFloat++
		case !ty.IsFloat() && nextInt < len(c.IntArgs):
			locs = append(locs, ltl.R{Reg: c.IntArgs[nextInt]})
			nextInt++
		default:
			locs = append(locs, ltl.S{Slot: kind, Ofs: ofs, Ty: ty})
			ofs += stackArgWords
		}
	}
	return locs
}

// ArgLocations returns where a caller places each argument
func (c *Convention) ArgLocations(sig ltl.Sig) []ltl.Loc {
	return c.locations(sig, ltl.SlotOutgoing)
}

// ParamLocations returns where the callee finds each parameter
func (c *Convention) ParamLocations(sig ltl.Sig) []ltl.Loc {
	return c.locations(sig, ltl.SlotIncoming)
}

// ResultLocation returns the result register, or nil for void
func (c *Convention) ResultLocation(sig ltl.Sig) ltl.Loc {
	switch {
	case sig.Res == ltl.Tvoid:
		return nil
	case sig.Res.IsFloat():
		return ltl.R{Reg: c.FloatRes}
	default:
		return ltl.R{Reg: c.IntRes}
	}
}

// OutgoingWords is the size of the Outgoing area a call with sig needs
func (c *Convention) OutgoingWords(sig ltl.Sig) int64 {
	var words int64
	for _, loc := range c.ArgLocations(sig) {
		if s, ok := loc.(ltl.S); ok {
			words = max(words, s.Ofs+s.Ty.Words())
		}
	}
	return words
}

// Acceptable reports whether loc may carry an argument: any register, or
// a naturally aligned Outgoing slot
func (c *Convention) Acceptable(loc ltl.Loc) bool {
	switch l := loc.(type) {
	case ltl.R:
		return l.Reg.Valid()
	case ltl.S:
		w := l.Ty.Words()
		return l.Slot == ltl.SlotOutgoing && w > 0 && l.Ofs >= 0 && l.Ofs%w == 0
	}
	return false
}
