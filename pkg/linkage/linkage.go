// Package linkage models the chain of activation records at run time and the
// static correspondence between a caller's Outgoing slots and its callee's
// Incoming slots.
package linkage

import (
	"github.com/pkg/errors"
	"github.com/raymyers/ralph-stack/pkg/ltl"
	"github.com/raymyers/ralph-stack/pkg/mach"
)

// CallerOutgoingBase is the offset of the Outgoing region from any frame's
// base. Every frame packs Outgoing first, so Incoming slot ofs of a callee
// lives at backlink + CallerOutgoingBase + 4*ofs.
const CallerOutgoingBase = 0

// IncomingOffset is the byte offset of a callee's Incoming slot ofs from its
// caller's base
func IncomingOffset(ofs int64) int64 {
	return CallerOutgoingBase + ltl.SlotUnit*ofs
}

// IncomingAddr is the address of Incoming slot ofs in a frame whose
// backlink is given
func IncomingAddr(backlink uint64, ofs int64) uint64 {
	return backlink + uint64(IncomingOffset(ofs))
}

// Sentinel is the backlink of the outermost frame
const Sentinel uint64 = 0

var ErrEmptyStack = errors.New("call stack is empty")

// ActivationRecord is one live frame
type ActivationRecord struct {
	Func     string
	Base     uint64
	Frame    mach.Frame
	Backlink uint64
	Retaddr  uint64
}

// Freer releases frame memory during Unwind
type Freer interface {
	Free(base uint64, size int64) error
}

// CallStack is an arena of activation records indexed by depth. The
// backlink of each record is the base of the record below it.
type CallStack struct {
	records []ActivationRecord
}

func (s *CallStack) Len() int {
	return len(s.records)
}

func (s *CallStack) Empty() bool {
	return s.Len() == 0
}

// Link is the backlink a new frame receives: the current top's base, or
// Sentinel when the stack is empty
func (s *CallStack) Link() uint64 {
	if s.Empty() {
		return Sentinel
	}
	return s.records[len(s.records)-1].Base
}

// Push records a new frame. Its backlink must be the current top's base.
func (s *CallStack) Push(rec ActivationRecord) error {
	if rec.Backlink != s.Link() {
		return errors.Errorf("frame %s at %#x: backlink %#x does not match caller base %#x",
			rec.Func, rec.Base, rec.Backlink, s.Link())
	}
	s.records = append(s.records, rec)
	return nil
}

// Top returns the most recent frame
func (s *CallStack) Top() (*ActivationRecord, error) {
	if s.Empty() {
		return nil, ErrEmptyStack
	}
	return &s.records[len(s.records)-1], nil
}

// Pop removes the most recent frame. base must be that frame's base.
func (s *CallStack) Pop(base uint64) (ActivationRecord, error) {
	top, err := s.Top()
	if err != nil {
		return ActivationRecord{}, err
	}
	if top.Base != base {
		return ActivationRecord{}, errors.Errorf("pop of frame %#x but top is %s at %#x", base, top.Func, top.Base)
	}
	rec := *top
	s.records = s.records[:len(s.records)-1]
	return rec, nil
}

// Frames returns the records most recent first
func (s *CallStack) Frames() []ActivationRecord {
	out := make([]ActivationRecord, len(s.records))
	for i, rec := range s.records {
		out[len(s.records)-1-i] = rec
	}
	return out
}

// Caller returns the record whose base is the top's backlink
func (s *CallStack) Caller() (*ActivationRecord, error) {
	if s.Len() < 2 {
		return nil, errors.New("outermost frame has no caller")
	}
	return &s.records[len(s.records)-2], nil
}

// ResolveIncoming returns the address of Incoming slot ofs of the top frame
func (s *CallStack) ResolveIncoming(ofs int64) (uint64, error) {
	top, err := s.Top()
	if err != nil {
		return 0, err
	}
	if top.Backlink == Sentinel {
		return 0, errors.Errorf("%s: incoming slot %d read in the outermost frame", top.Func, ofs)
	}
	return IncomingAddr(top.Backlink, ofs), nil
}

// Unwind frees every frame above depth, callee first
func (s *CallStack) Unwind(depth int, mem Freer) error {
	for s.Len() > depth {
		top, _ := s.Top()
		if err := mem.Free(top.Base, top.Frame.Size); err != nil {
			return errors.Wrapf(err, "unwinding %s", top.Func)
		}
		s.records = s.records[:len(s.records)-1]
	}
	return nil
}

// Convention enumerates argument and result locations of a signature
type Convention interface {
	ArgLocations(sig ltl.Sig) []ltl.Loc
	ParamLocations(sig ltl.Sig) []ltl.Loc
	ResultLocation(sig ltl.Sig) ltl.Loc
}

// ArgPair is one argument as the caller writes it and the callee reads it
type ArgPair struct {
	Caller ltl.Loc // register or Outgoing slot
	Callee ltl.Loc // same register or the matching Incoming slot
}

// Site is the static linkage of one call signature
type Site struct {
	Args   []ArgPair
	Result ltl.Loc // nil for a void result
}

// CallSite pairs the caller's argument locations with the callee's parameter
// locations, checking that every stack argument is an Outgoing slot whose
// Incoming twin has the same offset and type.
func CallSite(sig ltl.Sig, conv Convention) (*Site, error) {
	args, params := conv.ArgLocations(sig), conv.ParamLocations(sig)
	if len(args) != len(params) || len(args) != len(sig.Args) {
		return nil, errors.Errorf("convention gives %d arguments and %d parameters for %d types",
			len(args), len(params), len(sig.Args))
	}
	site := &Site{Result: conv.ResultLocation(sig)}
	for i := range args {
		switch a := args[i].(type) {
		case ltl.R:
			if p, ok := params[i].(ltl.R); !ok || p != a {
				return nil, errors.Errorf("argument %d: caller %v, callee %v", i, args[i], params[i])
			}
		case ltl.S:
			p, ok := params[i].(ltl.S)
			if !ok || a.Slot != ltl.SlotOutgoing || p.Slot != ltl.SlotIncoming || a.Ofs != p.Ofs || a.Ty != p.Ty {
				return nil, errors.Errorf("argument %d: caller %v, callee %v", i, args[i], params[i])
			}
		default:
			return nil, errors.Errorf("argument %d: unknown location %v", i, args[i])
		}
		site.Args = append(site.Args, ArgPair{Caller: args[i], Callee: params[i]})
	}
	return site, nil
}
