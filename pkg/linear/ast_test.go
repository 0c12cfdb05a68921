package linear

import (
	"reflect"
	"strings"
	"testing"

	"github.com/raymyers/ralph-stack/pkg/ltl"
)

func TestLabelValid(t *testing.T) {
	for _, tt := range []struct {
		lbl  Label
		want bool
	}{{0, false}, {-2, false}, {1, true}, {40, true}} {
		if got := tt.lbl.Valid(); got != tt.want {
			t.Errorf("Label(%d).Valid() = %v, want %v", tt.lbl, got, tt.want)
		}
	}
}

func TestProgramLookup(t *testing.T) {
	prog := &Program{Functions: []Function{*NewFunction("f", Sig{}), *NewFunction("g", Sig{Res: Tlong})}}
	g := prog.Lookup("g")
	if g == nil || g.Sig.Res != Tlong {
		t.Fatalf("Lookup(g) = %+v", g)
	}
	// The result aliases the program's function
	g.Stacksize = 8
	if prog.Functions[1].Stacksize != 8 {
		t.Error("Lookup returned a copy")
	}
	if prog.Lookup("h") != nil {
		t.Error("Lookup(h) should be nil")
	}
}

func TestLabelIndex(t *testing.T) {
	fn := NewFunction("f", Sig{})
	fn.Append(Lreturn{})
	fn.Append(Llabel{Lbl: 2})
	fn.Append(Lgoto{Target: 2})
	fn.Append(Llabel{Lbl: 5})
	fn.Append(Llabel{Lbl: 2})

	want := map[Label]int{2: 1, 5: 3}
	if got := fn.LabelIndex(); !reflect.DeepEqual(got, want) {
		t.Errorf("LabelIndex() = %v, want %v", got, want)
	}
}

func TestReferencedLabels(t *testing.T) {
	fn := NewFunction("f", Sig{})
	fn.Append(Lgoto{Target: 3})
	fn.Append(Lcond{Cond: ltl.Ccompimm{Cond: ltl.Ceq, N: 0}, Args: []Loc{R{Reg: ltl.X0}}, IfSo: 1})
	fn.Append(Ljumptable{Arg: R{Reg: ltl.X0}, Targets: []Label{1, 2, 4, 2}})
	fn.Append(Llabel{Lbl: 9})

	want := []Label{3, 1, 2, 4}
	if got := fn.ReferencedLabels(); !reflect.DeepEqual(got, want) {
		t.Errorf("ReferencedLabels() = %v, want %v", got, want)
	}
}

func TestParseRejectsUndefinedLabel(t *testing.T) {
	_, err := Parse("f() {\nL1:\n  jumptable X0 [L1, L7]\n}\n")
	if err == nil || !strings.Contains(err.Error(), "undefined label L7") {
		t.Errorf("error = %v, want an undefined label L7 error", err)
	}
}

func TestUsesDefs(t *testing.T) {
	x0, x1, x2 := R{Reg: ltl.X0}, R{Reg: ltl.X1}, R{Reg: ltl.X2}
	local := S{Slot: SlotLocal, Ofs: 2, Ty: Tlong}
	dest := Loc(x2)

	tests := []struct {
		name string
		inst Instruction
		uses []Loc
		defs []Loc
	}{
		{"getstack", Lgetstack{Slot: SlotLocal, Ofs: 2, Ty: Tlong, Dest: ltl.X1}, []Loc{local}, []Loc{x1}},
		{"setstack", Lsetstack{Src: ltl.X1, Slot: SlotLocal, Ofs: 2, Ty: Tlong}, []Loc{x1}, []Loc{local}},
		{"op", Lop{Op: ltl.Oadd{}, Args: []Loc{x0, local}, Dest: x2}, []Loc{x0, local}, []Loc{x2}},
		{"op without result", Lop{Op: ltl.Omove{}, Args: []Loc{x0}}, []Loc{x0}, nil},
		{"load", Lload{Chunk: ltl.Mint32, Addr: ltl.Aindexed{}, Args: []Loc{x0}, Dest: local}, []Loc{x0}, []Loc{local}},
		{"store", Lstore{Chunk: ltl.Mint32, Addr: ltl.Aindexed{}, Args: []Loc{x0}, Src: x1}, []Loc{x0, x1}, nil},
		{"call symbol", Lcall{Fn: FunSymbol{Name: "g"}}, nil, nil},
		{"call through slot", Lcall{Fn: FunReg{Loc: local}}, []Loc{local}, nil},
		{"tailcall", Ltailcall{Fn: FunReg{Loc: x1}}, []Loc{x1}, nil},
		{"builtin", Lbuiltin{Builtin: "sum", Args: []Loc{x0, x1}, Dest: &dest}, []Loc{x0, x1}, []Loc{x2}},
		{"cond", Lcond{Cond: ltl.Ccomp{Cond: ltl.Clt}, Args: []Loc{x0, x1}, IfSo: 1}, []Loc{x0, x1}, nil},
		{"jumptable", Ljumptable{Arg: local, Targets: []Label{1}}, []Loc{local}, nil},
		{"label", Llabel{Lbl: 1}, nil, nil},
		{"return", Lreturn{}, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Uses(tt.inst); !reflect.DeepEqual(got, tt.uses) {
				t.Errorf("Uses = %v, want %v", got, tt.uses)
			}
			if got := Defs(tt.inst); !reflect.DeepEqual(got, tt.defs) {
				t.Errorf("Defs = %v, want %v", got, tt.defs)
			}
		})
	}
}
