package stacking

import (
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/raymyers/ralph-stack/pkg/linear"
	"github.com/raymyers/ralph-stack/pkg/ltl"
	"github.com/raymyers/ralph-stack/pkg/target"
)

func reg(r ltl.MReg) linear.Loc { return linear.R{Reg: r} }

func slot(kind ltl.SlotKind, ofs int64, ty ltl.Typ) linear.Loc {
	return linear.S{Slot: kind, Ofs: ofs, Ty: ty}
}

func move(dst, src linear.Loc) linear.Instruction {
	return linear.Lop{Op: ltl.Omove{}, Args: []linear.Loc{src}, Dest: dst}
}

func TestCollectBoundsEmpty(t *testing.T) {
	fn := linear.NewFunction("empty", linear.Sig{})
	b, err := CollectBounds(fn, target.AArch64())
	if err != nil {
		t.Fatalf("CollectBounds failed: %v", err)
	}
	if b.MaxLocalWords != 0 || b.MaxOutgoingWords != 0 || len(b.UsedCalleeSave) != 0 || b.StackDataBytes != 0 {
		t.Errorf("bounds = %+v, want all zero", b)
	}
}

func TestCollectBoundsSlots(t *testing.T) {
	fn := linear.NewFunction("slots", linear.Sig{})
	fn.Stacksize = 24
	fn.Append(linear.Lgetstack{Slot: ltl.SlotLocal, Ofs: 4, Ty: ltl.Tlong, Dest: ltl.X0})
	fn.Append(linear.Lsetstack{Src: ltl.X0, Slot: ltl.SlotLocal, Ofs: 1, Ty: ltl.Tint})
	fn.Append(linear.Lsetstack{Src: ltl.X0, Slot: ltl.SlotOutgoing, Ofs: 2, Ty: ltl.Tint})
	fn.Append(linear.Lgetstack{Slot: ltl.SlotIncoming, Ofs: 40, Ty: ltl.Tlong, Dest: ltl.X1})
	fn.Append(move(slot(ltl.SlotOutgoing, 6, ltl.Tany64), reg(ltl.X1)))

	b, err := CollectBounds(fn, target.AArch64())
	if err != nil {
		t.Fatalf("CollectBounds failed: %v", err)
	}
	// Local: (4, long) ends at word 6
	if b.MaxLocalWords != 6 {
		t.Errorf("MaxLocalWords = %d, want 6", b.MaxLocalWords)
	}
	// Outgoing: (6, any64) ends at word 8; Incoming slots do not count
	if b.MaxOutgoingWords != 8 {
		t.Errorf("MaxOutgoingWords = %d, want 8", b.MaxOutgoingWords)
	}
	if b.StackDataBytes != 24 {
		t.Errorf("StackDataBytes = %d, want 24", b.StackDataBytes)
	}
}

func TestCollectBoundsCalleeSaveOrder(t *testing.T) {
	fn := linear.NewFunction("regs", linear.Sig{})
	fn.Append(move(reg(ltl.D9), reg(ltl.X0)))
	fn.Append(move(reg(ltl.X0), reg(ltl.X21)))
	fn.Append(linear.Lgetstack{Slot: ltl.SlotLocal, Ofs: 0, Ty: ltl.Tint, Dest: ltl.X19})
	fn.Append(move(reg(ltl.X2), reg(ltl.X3)))
	fn.Append(linear.Lcall{Fn: linear.FunReg{Loc: reg(ltl.X20)}})

	b, err := CollectBounds(fn, target.AArch64())
	if err != nil {
		t.Fatalf("CollectBounds failed: %v", err)
	}
	want := []ltl.MReg{ltl.X19, ltl.X20, ltl.X21, ltl.D9}
	if len(b.UsedCalleeSave) != len(want) {
		t.Fatalf("UsedCalleeSave = %v, want %v", b.UsedCalleeSave, want)
	}
	for i, r := range want {
		if b.UsedCalleeSave[i] != r {
			t.Errorf("UsedCalleeSave[%d] = %s, want %s", i, b.UsedCalleeSave[i], r)
		}
	}
}

func TestCollectBoundsPermutation(t *testing.T) {
	code := []linear.Instruction{
		linear.Lgetstack{Slot: ltl.SlotLocal, Ofs: 2, Ty: ltl.Tlong, Dest: ltl.X0},
		linear.Lsetstack{Src: ltl.X22, Slot: ltl.SlotOutgoing, Ofs: 4, Ty: ltl.Tint},
		move(reg(ltl.D12), reg(ltl.X0)),
		move(reg(ltl.X19), slot(ltl.SlotLocal, 8, ltl.Tint)),
		linear.Lgetstack{Slot: ltl.SlotIncoming, Ofs: 0, Ty: ltl.Tint, Dest: ltl.X27},
		linear.Lstore{Chunk: ltl.Mint64, Addr: ltl.Aindexed{Ofs: 0}, Args: []linear.Loc{reg(ltl.X1)}, Src: reg(ltl.D8)},
		linear.Lreturn{},
	}
	tgt := target.AArch64()

	build := func(insts []linear.Instruction) (*FunctionBounds, *FrameLayout) {
		fn := linear.NewFunction("perm", linear.Sig{})
		fn.Code = insts
		b, err := CollectBounds(fn, tgt)
		if err != nil {
			t.Fatalf("CollectBounds failed: %v", err)
		}
		l, err := ComputeLayout(b, tgt)
		if err != nil {
			t.Fatalf("ComputeLayout failed: %v", err)
		}
		return b, l
	}
	wantB, wantL := build(code)

	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 20; trial++ {
		shuffled := append([]linear.Instruction(nil), code...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		b, l := build(shuffled)

		if b.MaxLocalWords != wantB.MaxLocalWords || b.MaxOutgoingWords != wantB.MaxOutgoingWords {
			t.Errorf("trial %d: bounds = %+v, want %+v", trial, b, wantB)
		}
		if len(b.UsedCalleeSave) != len(wantB.UsedCalleeSave) {
			t.Fatalf("trial %d: UsedCalleeSave = %v, want %v", trial, b.UsedCalleeSave, wantB.UsedCalleeSave)
		}
		for i := range b.UsedCalleeSave {
			if b.UsedCalleeSave[i] != wantB.UsedCalleeSave[i] {
				t.Errorf("trial %d: UsedCalleeSave = %v, want %v", trial, b.UsedCalleeSave, wantB.UsedCalleeSave)
				break
			}
		}
		if l.Frame() != wantL.Frame() {
			t.Errorf("trial %d: frame = %+v, want %+v", trial, l.Frame(), wantL.Frame())
		}
	}
}

func TestCollectBoundsIllFormed(t *testing.T) {
	tests := []struct {
		name   string
		inst   linear.Instruction
		reason string
	}{
		{"negative offset", linear.Lgetstack{Slot: ltl.SlotLocal, Ofs: -1, Ty: ltl.Tint, Dest: ltl.X0}, "negative slot offset"},
		{"misaligned long", linear.Lgetstack{Slot: ltl.SlotLocal, Ofs: 3, Ty: ltl.Tlong, Dest: ltl.X0}, "not aligned"},
		{"void slot", linear.Lsetstack{Src: ltl.X0, Slot: ltl.SlotLocal, Ofs: 0, Ty: ltl.Tvoid}, "no storable type"},
		{"unknown kind", linear.Lgetstack{Slot: ltl.SlotKind(9), Ofs: 0, Ty: ltl.Tint, Dest: ltl.X0}, "unknown slot kind"},
		{"write incoming", linear.Lsetstack{Src: ltl.X0, Slot: ltl.SlotIncoming, Ofs: 0, Ty: ltl.Tint}, "read-only"},
		{"op writes incoming", move(slot(ltl.SlotIncoming, 0, ltl.Tint), reg(ltl.X0)), "read-only"},
		{"huge offset", linear.Lgetstack{Slot: ltl.SlotOutgoing, Ofs: 1 << 50, Ty: ltl.Tint, Dest: ltl.X0}, "out of range"},
		{"scratch register", move(reg(ltl.X16), reg(ltl.X0)), "reserved"},
		{"too many slot operands", linear.Lop{
			Op: ltl.Oadd{},
			Args: []linear.Loc{
				slot(ltl.SlotLocal, 0, ltl.Tint),
				slot(ltl.SlotLocal, 1, ltl.Tint),
			},
			Dest: reg(ltl.X0),
		}, "scratch"},
	}
	oneScratch := target.AArch64()
	oneScratch.Scratch = oneScratch.Scratch[:1]

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn := linear.NewFunction("bad", linear.Sig{})
			fn.Append(linear.Llabel{Lbl: 1})
			fn.Append(tt.inst)
			_, err := CollectBounds(fn, oneScratch)
			if !errors.Is(err, ErrIllFormedSlot) {
				t.Fatalf("error = %v, want ErrIllFormedSlot", err)
			}
			var ill *IllFormedSlotError
			if !errors.As(err, &ill) {
				t.Fatalf("error %v is not an *IllFormedSlotError", err)
			}
			if ill.Index != 1 || ill.Func != "bad" {
				t.Errorf("error at %s[%d], want bad[1]", ill.Func, ill.Index)
			}
			if !strings.Contains(ill.Reason, tt.reason) {
				t.Errorf("Reason = %q, want it to mention %q", ill.Reason, tt.reason)
			}
		})
	}
}

func TestCollectBoundsNegativeStackData(t *testing.T) {
	fn := linear.NewFunction("neg", linear.Sig{})
	fn.Stacksize = -8
	if _, err := CollectBounds(fn, target.AArch64()); !errors.Is(err, ErrIllFormedSlot) {
		t.Errorf("error = %v, want ErrIllFormedSlot", err)
	}
}

func TestCollectBoundsTwoSlotsWithTwoScratch(t *testing.T) {
	fn := linear.NewFunction("two", linear.Sig{})
	fn.Append(linear.Lop{
		Op:   ltl.Oadd{},
		Args: []linear.Loc{slot(ltl.SlotLocal, 0, ltl.Tint), slot(ltl.SlotIncoming, 0, ltl.Tint)},
		Dest: slot(ltl.SlotLocal, 1, ltl.Tint),
	})
	if _, err := CollectBounds(fn, target.AArch64()); err != nil {
		t.Errorf("two slot operands with two scratch registers: %v", err)
	}
}

func TestScratchNeeded(t *testing.T) {
	tests := []struct {
		name string
		inst linear.Instruction
		want int
	}{
		{"getstack", linear.Lgetstack{Slot: ltl.SlotLocal, Ty: ltl.Tint, Dest: ltl.X0}, 0},
		{"register op", move(reg(ltl.X1), reg(ltl.X0)), 0},
		{"slot dest only", move(slot(ltl.SlotLocal, 0, ltl.Tint), reg(ltl.X0)), 1},
		{"slot source and dest", move(slot(ltl.SlotLocal, 0, ltl.Tint), slot(ltl.SlotLocal, 1, ltl.Tint)), 1},
		{"store slot value", linear.Lstore{
			Chunk: ltl.Mint32, Addr: ltl.Aindexed{},
			Args: []linear.Loc{slot(ltl.SlotLocal, 0, ltl.Tlong)},
			Src:  slot(ltl.SlotLocal, 2, ltl.Tint),
		}, 2},
		{"indirect call through slot", linear.Lcall{Fn: linear.FunReg{Loc: slot(ltl.SlotLocal, 0, ltl.Tlong)}}, 1},
	}
	for _, tt := range tests {
		if got := scratchNeeded(tt.inst); got != tt.want {
			t.Errorf("scratchNeeded(%s) = %d, want %d", tt.name, got, tt.want)
		}
	}
}
