package linear

import (
	"bytes"
	"strings"
	"testing"

	"github.com/raymyers/ralph-stack/pkg/ltl"
)

func printInstruction(inst Instruction) string {
	var buf bytes.Buffer
	NewPrinter(&buf).printInstruction(inst)
	return buf.String()
}

func TestPrintInstruction(t *testing.T) {
	x0, x1 := R{Reg: ltl.X0}, R{Reg: ltl.X1}
	slot := S{Slot: SlotOutgoing, Ofs: 4, Ty: Tany64}
	dest := Loc(slot)

	tests := []struct {
		name string
		inst Instruction
		want string
	}{
		{"label", Llabel{Lbl: 3}, "L3:\n"},
		{"getstack", Lgetstack{Slot: SlotIncoming, Ofs: 2, Ty: Tlong, Dest: ltl.X3}, "  X3 = getstack(incoming, 2, long)\n"},
		{"setstack", Lsetstack{Src: ltl.D8, Slot: SlotLocal, Ofs: 0, Ty: Tfloat}, "  setstack(D8, local, 0, float)\n"},
		{"op", Lop{Op: ltl.Oaddimm{N: -4}, Args: []Loc{x0}, Dest: slot}, "  S(outgoing, 4, any64) = addimm -4(X0)\n"},
		{"op without result", Lop{Op: ltl.Omove{}, Args: []Loc{x0}}, "  move(X0)\n"},
		{"constant", Lop{Op: ltl.Olongconst{Value: 9}, Dest: x1}, "  X1 = long 9L()\n"},
		{"load", Lload{Chunk: ltl.Mint64, Addr: ltl.Aglobal{Symbol: "g", Ofs: 8}, Dest: x0}, "  X0 = load int64 [\"g\"+8]()\n"},
		{"store", Lstore{Chunk: ltl.Mint32, Addr: ltl.Aindexed{Ofs: 4}, Args: []Loc{x1}, Src: slot}, "  store int32 [+4](X1), S(outgoing, 4, any64)\n"},
		{"call", Lcall{Sig: Sig{Args: []Typ{Tint}, Res: Tint}, Fn: FunSymbol{Name: "g"}}, "  call \"g\" : (int) -> int\n"},
		{"void call", Lcall{Fn: FunSymbol{Name: "g"}}, "  call \"g\"\n"},
		{"tailcall", Ltailcall{Sig: Sig{Res: Tlong}, Fn: FunReg{Loc: slot}}, "  tailcall *S(outgoing, 4, any64) : () -> long\n"},
		{"builtin", Lbuiltin{Builtin: "sum", Args: []Loc{x0, x1}, Dest: &dest}, "  builtin \"sum\"(X0, X1) -> S(outgoing, 4, any64)\n"},
		{"builtin without result", Lbuiltin{Builtin: "nop"}, "  builtin \"nop\"()\n"},
		{"goto", Lgoto{Target: 7}, "  goto L7\n"},
		{"cond", Lcond{Cond: ltl.Ccomp{Cond: ltl.Cge}, Args: []Loc{x0, x1}, IfSo: 2}, "  if X0 >= X1 goto L2\n"},
		{"long cond", Lcond{Cond: ltl.Ccomplimm{Cond: ltl.Cne, N: -3}, Args: []Loc{x0}, IfSo: 2}, "  if X0 !=l -3L goto L2\n"},
		{"jumptable", Ljumptable{Arg: x0, Targets: []Label{1, 2}}, "  jumptable X0 [L1, L2]\n"},
		{"return", Lreturn{}, "  return\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := printInstruction(tt.inst); got != tt.want {
				t.Errorf("printed %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPrintFunctionHeader(t *testing.T) {
	tests := []struct {
		name      string
		sig       Sig
		stacksize int64
		want      string
	}{
		{"void", Sig{}, 0, "f() {\n}\n"},
		{"args and result", Sig{Args: []Typ{Tint, Tlong}, Res: Tint}, 0, "f(int, long): int {\n}\n"},
		{"stack data", Sig{}, 24, "f() {\n  ; stacksize = 24\n}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn := NewFunction("f", tt.sig)
			fn.Stacksize = tt.stacksize
			var buf bytes.Buffer
			NewPrinter(&buf).PrintFunction(fn)
			if buf.String() != tt.want {
				t.Errorf("printed %q, want %q", buf.String(), tt.want)
			}
		})
	}
}

func TestPrintProgramLayout(t *testing.T) {
	prog := &Program{
		Globals:   []GlobVar{{Name: "a", Size: 4}, {Name: "b", Size: 16}},
		Functions: []Function{*NewFunction("f", Sig{}), *NewFunction("g", Sig{})},
	}
	want := strings.Join([]string{
		`var "a"[4]`,
		`var "b"[16]`,
		``,
		`f() {`,
		`}`,
		``,
		`g() {`,
		`}`,
		``,
	}, "\n")
	if got := printProgram(prog); got != want {
		t.Errorf("printed:\n%s\nwant:\n%s", got, want)
	}
}
