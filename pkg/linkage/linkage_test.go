package linkage

import (
	"errors"
	"testing"

	"github.com/raymyers/ralph-stack/pkg/ltl"
	"github.com/raymyers/ralph-stack/pkg/mach"
)

type recordingFreer struct {
	freed []uint64
	fail  uint64
}

func (f *recordingFreer) Free(base uint64, size int64) error {
	if base == f.fail {
		return errors.New("bad free")
	}
	f.freed = append(f.freed, base)
	return nil
}

func TestCallStackPushPop(t *testing.T) {
	var s CallStack
	if !s.Empty() || s.Link() != Sentinel {
		t.Fatalf("new stack: Empty() = %v, Link() = %#x", s.Empty(), s.Link())
	}
	if _, err := s.Top(); !errors.Is(err, ErrEmptyStack) {
		t.Errorf("Top() on empty stack: error = %v, want ErrEmptyStack", err)
	}

	if err := s.Push(ActivationRecord{Func: "main", Base: 0x1000, Backlink: Sentinel}); err != nil {
		t.Fatalf("Push(main) failed: %v", err)
	}
	if err := s.Push(ActivationRecord{Func: "f", Base: 0x2000, Backlink: 0x1234}); err == nil {
		t.Error("Push with a wrong backlink should fail")
	}
	if err := s.Push(ActivationRecord{Func: "f", Base: 0x2000, Backlink: s.Link()}); err != nil {
		t.Fatalf("Push(f) failed: %v", err)
	}
	if s.Len() != 2 || s.Link() != 0x2000 {
		t.Errorf("Len() = %d, Link() = %#x, want 2, 0x2000", s.Len(), s.Link())
	}

	caller, err := s.Caller()
	if err != nil || caller.Func != "main" {
		t.Errorf("Caller() = %v, %v, want main", caller, err)
	}
	frames := s.Frames()
	if frames[0].Func != "f" || frames[1].Func != "main" {
		t.Errorf("Frames() = %v, want f then main", frames)
	}

	if _, err := s.Pop(0x1000); err == nil {
		t.Error("Pop of a frame that is not on top should fail")
	}
	rec, err := s.Pop(0x2000)
	if err != nil || rec.Func != "f" {
		t.Errorf("Pop(0x2000) = %v, %v, want f", rec, err)
	}
	if _, err := s.Caller(); err == nil {
		t.Error("Caller() of the outermost frame should fail")
	}
}

func TestResolveIncoming(t *testing.T) {
	var s CallStack
	if _, err := s.ResolveIncoming(0); err == nil {
		t.Error("ResolveIncoming on an empty stack should fail")
	}
	_ = s.Push(ActivationRecord{Func: "main", Base: 0x1000, Backlink: Sentinel})
	if _, err := s.ResolveIncoming(0); err == nil {
		t.Error("ResolveIncoming in the outermost frame should fail")
	}
	_ = s.Push(ActivationRecord{Func: "f", Base: 0x2000, Backlink: 0x1000})

	tests := []struct {
		ofs  int64
		want uint64
	}{
		{0, 0x1000},
		{2, 0x1008},
		{5, 0x1014},
	}
	for _, tt := range tests {
		got, err := s.ResolveIncoming(tt.ofs)
		if err != nil {
			t.Fatalf("ResolveIncoming(%d) failed: %v", tt.ofs, err)
		}
		if got != tt.want {
			t.Errorf("ResolveIncoming(%d) = %#x, want %#x", tt.ofs, got, tt.want)
		}
	}
}

func TestIncomingAddr(t *testing.T) {
	tests := []struct {
		backlink uint64
		ofs      int64
		want     uint64
	}{
		{0x1000, 0, 0x1000},
		{0x1000, 3, 0x100c},
		{0x2040, 8, 0x2060},
	}
	for _, tt := range tests {
		if got := IncomingAddr(tt.backlink, tt.ofs); got != tt.want {
			t.Errorf("IncomingAddr(%#x, %d) = %#x, want %#x", tt.backlink, tt.ofs, got, tt.want)
		}
		if got := IncomingOffset(tt.ofs); tt.backlink+uint64(got) != tt.want {
			t.Errorf("IncomingOffset(%d) = %d, want %d", tt.ofs, got, tt.want-tt.backlink)
		}
	}
}

func TestUnwind(t *testing.T) {
	var s CallStack
	bases := []uint64{0x1000, 0x2000, 0x3000}
	for _, base := range bases {
		_ = s.Push(ActivationRecord{Func: "f", Base: base, Backlink: s.Link(), Frame: mach.Frame{Size: 16}})
	}

	freer := &recordingFreer{}
	if err := s.Unwind(1, freer); err != nil {
		t.Fatalf("Unwind failed: %v", err)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d after Unwind(1), want 1", s.Len())
	}
	if len(freer.freed) != 2 || freer.freed[0] != 0x3000 || freer.freed[1] != 0x2000 {
		t.Errorf("freed %#x, want callee first [0x3000 0x2000]", freer.freed)
	}

	if err := s.Unwind(0, &recordingFreer{fail: 0x1000}); err == nil {
		t.Error("Unwind should report a failed free")
	}
}

// fixedConvention returns canned locations
type fixedConvention struct {
	args, params []ltl.Loc
	res          ltl.Loc
}

func (c fixedConvention) ArgLocations(ltl.Sig) []ltl.Loc   { return c.args }
func (c fixedConvention) ParamLocations(ltl.Sig) []ltl.Loc { return c.params }
func (c fixedConvention) ResultLocation(ltl.Sig) ltl.Loc   { return c.res }

func TestCallSite(t *testing.T) {
	sig := ltl.Sig{Args: []ltl.Typ{ltl.Tint, ltl.Tlong}, Res: ltl.Tint}
	good := fixedConvention{
		args:   []ltl.Loc{ltl.R{Reg: ltl.X0}, ltl.S{Slot: ltl.SlotOutgoing, Ofs: 0, Ty: ltl.Tlong}},
		params: []ltl.Loc{ltl.R{Reg: ltl.X0}, ltl.S{Slot: ltl.SlotIncoming, Ofs: 0, Ty: ltl.Tlong}},
		res:    ltl.R{Reg: ltl.X0},
	}
	site, err := CallSite(sig, good)
	if err != nil {
		t.Fatalf("CallSite failed: %v", err)
	}
	if len(site.Args) != 2 || site.Result != (ltl.R{Reg: ltl.X0}) {
		t.Errorf("site = %+v", site)
	}

	tests := []struct {
		name   string
		params []ltl.Loc
	}{
		{"register mismatch", []ltl.Loc{ltl.R{Reg: ltl.X1}, good.params[1]}},
		{"offset mismatch", []ltl.Loc{good.params[0], ltl.S{Slot: ltl.SlotIncoming, Ofs: 2, Ty: ltl.Tlong}}},
		{"type mismatch", []ltl.Loc{good.params[0], ltl.S{Slot: ltl.SlotIncoming, Ofs: 0, Ty: ltl.Tint}}},
		{"callee reads a local", []ltl.Loc{good.params[0], ltl.S{Slot: ltl.SlotLocal, Ofs: 0, Ty: ltl.Tlong}}},
		{"count mismatch", good.params[:1]},
	}
	for _, tt := range tests {
		bad := good
		bad.params = tt.params
		if _, err := CallSite(sig, bad); err == nil {
			t.Errorf("%s: CallSite should fail", tt.name)
		}
	}
}
