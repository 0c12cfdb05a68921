package abi

import (
	"testing"

	"github.com/raymyers/ralph-stack/pkg/linkage"
	"github.com/raymyers/ralph-stack/pkg/ltl"
)

func TestArgLocations(t *testing.T) {
	c := Default()
	sig := ltl.Sig{Args: []ltl.Typ{ltl.Tint, ltl.Tfloat, ltl.Tlong}}
	want := []ltl.Loc{ltl.R{Reg: ltl.X0}, ltl.R{Reg: ltl.D0}, ltl.R{Reg: ltl.X1}}
	got := c.ArgLocations(sig)
	if len(got) != len(want) {
		t.Fatalf("ArgLocations = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ArgLocations[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestStackArguments(t *testing.T) {
	c := Default()
	var args []ltl.Typ
	for i := 0; i < 10; i++ {
		args = append(args, ltl.Tlong)
	}
	args = append(args, ltl.Tint)
	sig := ltl.Sig{Args: args}

	out := c.ArgLocations(sig)
	in := c.ParamLocations(sig)
	tests := []struct {
		idx int
		ofs int64
		ty  ltl.Typ
	}{
		{8, 0, ltl.Tlong},
		{9, 2, ltl.Tlong},
		{10, 4, ltl.Tint},
	}
	for _, tt := range tests {
		o, ok := out[tt.idx].(ltl.S)
		if !ok || o != (ltl.S{Slot: ltl.SlotOutgoing, Ofs: tt.ofs, Ty: tt.ty}) {
			t.Errorf("argument %d = %v, want outgoing %d %s", tt.idx, out[tt.idx], tt.ofs, tt.ty)
		}
		i, ok := in[tt.idx].(ltl.S)
		if !ok || i != (ltl.S{Slot: ltl.SlotIncoming, Ofs: tt.ofs, Ty: tt.ty}) {
			t.Errorf("parameter %d = %v, want incoming %d %s", tt.idx, in[tt.idx], tt.ofs, tt.ty)
		}
	}
	if w := c.OutgoingWords(sig); w != 5 {
		t.Errorf("OutgoingWords = %d, want 5", w)
	}

	// Every stack argument pairs with its incoming twin
	site, err := linkage.CallSite(sig, c)
	if err != nil {
		t.Fatalf("CallSite failed: %v", err)
	}
	if len(site.Args) != len(args) {
		t.Errorf("site has %d arguments, want %d", len(site.Args), len(args))
	}
}

func TestResultLocation(t *testing.T) {
	c := Default()
	tests := []struct {
		res  ltl.Typ
		want ltl.Loc
	}{
		{ltl.Tvoid, nil},
		{ltl.Tint, ltl.R{Reg: ltl.X0}},
		{ltl.Tlong, ltl.R{Reg: ltl.X0}},
		{ltl.Tfloat, ltl.R{Reg: ltl.D0}},
		{ltl.Tsingle, ltl.R{Reg: ltl.D0}},
	}
	for _, tt := range tests {
		if got := c.ResultLocation(ltl.Sig{Res: tt.res}); got != tt.want {
			t.Errorf("ResultLocation(%s) = %v, want %v", tt.res, got, tt.want)
		}
	}
}

func TestAcceptable(t *testing.T) {
	c := Default()
	tests := []struct {
		loc  ltl.Loc
		want bool
	}{
		{ltl.R{Reg: ltl.X3}, true},
		{ltl.S{Slot: ltl.SlotOutgoing, Ofs: 2, Ty: ltl.Tlong}, true},
		{ltl.S{Slot: ltl.SlotOutgoing, Ofs: 1, Ty: ltl.Tlong}, false},
		{ltl.S{Slot: ltl.SlotLocal, Ofs: 0, Ty: ltl.Tint}, false},
		{ltl.S{Slot: ltl.SlotOutgoing, Ofs: 0, Ty: ltl.Tvoid}, false},
		{ltl.S{Slot: ltl.SlotOutgoing, Ofs: -2, Ty: ltl.Tlong}, false},
	}
	for _, tt := range tests {
		if got := c.Acceptable(tt.loc); got != tt.want {
			t.Errorf("Acceptable(%v) = %v, want %v", tt.loc, got, tt.want)
		}
	}
}
