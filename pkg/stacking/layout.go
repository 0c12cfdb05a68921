// Package stacking transforms Linear to Mach by laying out activation records.
// This involves computing concrete stack offsets and generating prologue/epilogue.
// This mirrors CompCert's backend/Stacking.v and backend/Stacklayout.v
package stacking

import (
	"fmt"
	"math"

	"github.com/raymyers/ralph-stack/pkg/linkage"
	"github.com/raymyers/ralph-stack/pkg/ltl"
	"github.com/raymyers/ralph-stack/pkg/mach"
	"github.com/raymyers/ralph-stack/pkg/target"
)

const regionAlignment = 8

// Frame layout (offsets grow upward from the frame base):
//
//	+---------------------------+  <- base + FrameSize
//	| Stack data                |  StackDataOffset
//	| Callee-saved registers    |  OfsCalleeSave
//	| Local slots               |  OfsLocal
//	| Return address            |  OfsRetaddr
//	| Backlink                  |  OfsLink
//	| Outgoing arguments        |  OfsOutgoing (always 0)
//	+---------------------------+  <- base
//
// Outgoing sits at the base so that every caller exposes its arguments at the
// same offset; the callee reaches them through the backlink.

// FrameLayout describes the concrete stack frame layout
type FrameLayout struct {
	FrameSize int64

	// Region offsets from the frame base
	OfsOutgoing     int64
	OfsLink         int64
	OfsRetaddr      int64
	OfsLocal        int64
	OfsCalleeSave   int64
	StackDataOffset int64

	// Region sizes in bytes
	OutgoingSize   int64
	LocalSize      int64
	CalleeSaveSize int64
	StackDataSize  int64
	PointerSize    int64

	// Registers saved by the prologue, in save order
	CalleeSaveRegs []ltl.MReg
}

// Region is a named byte range [Start, End) of the frame
type Region struct {
	Name       string
	Start, End int64
}

// packer advances a running offset, refusing to go past limit
type packer struct {
	ofs   int64
	limit int64
	err   bool
}

func (p *packer) align(n int64) int64 {
	if p.err {
		return p.ofs
	}
	if p.ofs > math.MaxInt64-n {
		p.err = true
		return p.ofs
	}
	p.ofs = alignUp(p.ofs, n)
	if p.ofs > p.limit {
		p.err = true
	}
	return p.ofs
}

func (p *packer) advance(size int64) {
	if p.err {
		return
	}
	if size > p.limit-p.ofs {
		p.err = true
		p.ofs = p.limit
		return
	}
	p.ofs += size
}

// ComputeLayout packs the regions described by b into one frame
func ComputeLayout(b *FunctionBounds, tgt *target.Target) (*FrameLayout, error) {
	ptr := tgt.PointerSize
	l := &FrameLayout{
		PointerSize:    ptr,
		CalleeSaveRegs: b.UsedCalleeSave,
	}
	tooLarge := func(size int64) error {
		return &FrameTooLargeError{Func: b.Name, Size: size, Max: tgt.MaxFrameSize}
	}
	if b.MaxOutgoingWords > math.MaxInt64/ltl.SlotUnit || b.MaxLocalWords > math.MaxInt64/ltl.SlotUnit {
		return nil, tooLarge(tgt.MaxFrameSize + 1)
	}
	l.OutgoingSize = ltl.SlotUnit * b.MaxOutgoingWords
	l.LocalSize = ltl.SlotUnit * b.MaxLocalWords
	l.StackDataSize = b.StackDataBytes

	p := &packer{limit: tgt.MaxFrameSize}

	l.OfsOutgoing = p.align(regionAlignment)
	p.advance(l.OutgoingSize)

	l.OfsLink = p.align(ptr)
	p.advance(ptr)

	l.OfsRetaddr = p.align(ptr)
	p.advance(ptr)

	l.OfsLocal = p.align(regionAlignment)
	p.advance(l.LocalSize)

	l.OfsCalleeSave = p.align(regionAlignment)
	if !p.err {
		end := FoldCalleeSave(tgt, b.UsedCalleeSave, l.OfsCalleeSave, nil)
		l.CalleeSaveSize = end - l.OfsCalleeSave
	}
	p.advance(l.CalleeSaveSize)

	l.StackDataOffset = p.align(regionAlignment)
	p.advance(l.StackDataSize)

	l.FrameSize = p.align(regionAlignment)
	if p.err || l.FrameSize > tgt.MaxFrameSize {
		return nil, tooLarge(max(p.ofs, tgt.MaxFrameSize+1))
	}
	return l, nil
}

// LocalSlotOffset returns the concrete offset from the base for a local slot
func (l *FrameLayout) LocalSlotOffset(slotOfs int64) int64 {
	return l.OfsLocal + ltl.SlotUnit*slotOfs
}

// OutgoingSlotOffset returns the concrete offset from the base for an outgoing arg slot
func (l *FrameLayout) OutgoingSlotOffset(slotOfs int64) int64 {
	return l.OfsOutgoing + ltl.SlotUnit*slotOfs
}

// IncomingSlotOffset returns the offset of an incoming slot from the caller's
// base. It does not depend on this frame's layout.
func (l *FrameLayout) IncomingSlotOffset(slotOfs int64) int64 {
	return linkage.IncomingOffset(slotOfs)
}

// Regions lists the frame regions in packing order
func (l *FrameLayout) Regions() []Region {
	return []Region{
		{"outgoing", l.OfsOutgoing, l.OfsOutgoing + l.OutgoingSize},
		{"link", l.OfsLink, l.OfsLink + l.PointerSize},
		{"retaddr", l.OfsRetaddr, l.OfsRetaddr + l.PointerSize},
		{"local", l.OfsLocal, l.OfsLocal + l.LocalSize},
		{"callee-save", l.OfsCalleeSave, l.OfsCalleeSave + l.CalleeSaveSize},
		{"stack data", l.StackDataOffset, l.StackDataOffset + l.StackDataSize},
	}
}

// CheckInvariants verifies alignment, containment and disjointness of the regions
func (l *FrameLayout) CheckInvariants() error {
	if l.FrameSize%regionAlignment != 0 {
		return fmt.Errorf("frame size %d is not a multiple of %d", l.FrameSize, regionAlignment)
	}
	if l.OfsLink%l.PointerSize != 0 || l.OfsRetaddr%l.PointerSize != 0 {
		return fmt.Errorf("link/retaddr at %d/%d not pointer aligned", l.OfsLink, l.OfsRetaddr)
	}
	for _, ofs := range []int64{l.OfsOutgoing, l.OfsLocal, l.OfsCalleeSave, l.StackDataOffset} {
		if ofs%regionAlignment != 0 {
			return fmt.Errorf("region offset %d is not %d-byte aligned", ofs, regionAlignment)
		}
	}
	regions := l.Regions()
	for i, r := range regions {
		if r.Start < 0 || r.End < r.Start || r.End > l.FrameSize {
			return fmt.Errorf("%s region [%d, %d) outside frame of %d bytes", r.Name, r.Start, r.End, l.FrameSize)
		}
		for _, o := range regions[i+1:] {
			if r.Start < o.End && o.Start < r.End {
				return fmt.Errorf("%s region [%d, %d) overlaps %s region [%d, %d)",
					r.Name, r.Start, r.End, o.Name, o.Start, o.End)
			}
		}
	}
	return nil
}

// Frame returns the offsets recorded on the Mach function
func (l *FrameLayout) Frame() mach.Frame {
	return mach.Frame{
		Size:            l.FrameSize,
		OfsOutgoing:     l.OfsOutgoing,
		OfsLink:         l.OfsLink,
		OfsRetaddr:      l.OfsRetaddr,
		OfsLocal:        l.OfsLocal,
		OfsCalleeSave:   l.OfsCalleeSave,
		StackDataOffset: l.StackDataOffset,
	}
}

// alignUp rounds n up to the nearest multiple of align
func alignUp(n, align int64) int64 {
	if align == 0 {
		return n
	}
	return ((n + align - 1) / align) * align
}
