// Package mach defines the Mach intermediate representation.
// Mach is a near-assembly representation with a concrete activation record:
// stack slots are replaced with byte offsets from the frame base pointer, and
// frame allocation, linkage and callee-save handling are explicit instructions.
// This mirrors CompCert's backend/Mach.v
package mach

import "github.com/raymyers/ralph-stack/pkg/ltl"

// Re-export types from ltl that are used in Mach
type (
	Chunk          = ltl.Chunk
	AddressingMode = ltl.AddressingMode
	Sig            = ltl.Sig
	Operation      = ltl.Operation
	Condition      = ltl.Condition
	ConditionCode  = ltl.ConditionCode
	MReg           = ltl.MReg
	Typ            = ltl.Typ
)

// Re-export register constants
const (
	X0  = ltl.X0
	X1  = ltl.X1
	X2  = ltl.X2
	X16 = ltl.X16
	X17 = ltl.X17
	X19 = ltl.X19
	X20 = ltl.X20
	D0  = ltl.D0
	D8  = ltl.D8
)

// Re-export typ constants
const (
	Tint    = ltl.Tint
	Tfloat  = ltl.Tfloat
	Tlong   = ltl.Tlong
	Tsingle = ltl.Tsingle
	Tany32  = ltl.Tany32
	Tany64  = ltl.Tany64
)

// Label represents a branch target in Mach code.
// Labels are positive integers, with 0 indicating no label.
type Label int

// Valid returns true if this is a valid label (positive)
func (l Label) Valid() bool {
	return l > 0
}

// --- Mach Instructions ---
// Stack operations reference concrete byte offsets from the frame base.

// Instruction is the interface for Mach instructions
type Instruction interface {
	implMachInstruction()
}

// Mgetstack loads from the current frame: dest = Mem[base + Ofs]
type Mgetstack struct {
	Ofs  int64 // byte offset from frame base
	Ty   Typ   // type of value
	Dest MReg  // destination register
}

// Msetstack stores to the current frame: Mem[base + Ofs] = src
type Msetstack struct {
	Src MReg  // source register
	Ofs int64 // byte offset from frame base
	Ty  Typ   // type of value
}

// Mgetparam loads a parameter from the caller's frame:
// link = Mem[base + LinkOfs]; dest = Mem[link + Ofs].
// Dest doubles as the register holding the link between the two loads.
type Mgetparam struct {
	LinkOfs int64 // offset of the backlink in the current frame
	Ofs     int64 // offset from the caller's frame base
	Ty      Typ   // type of value
	Dest    MReg  // destination register
}

// Mop performs an operation: dest = op(args...)
type Mop struct {
	Op   Operation // the operation
	Args []MReg    // source registers
	Dest MReg      // destination register
}

// Mload loads from memory: dest = Mem[addr(args...)]
type Mload struct {
	Chunk Chunk          // memory access size/type
	Addr  AddressingMode // addressing mode
	Args  []MReg         // registers for addressing
	Dest  MReg           // destination register
}

// Mstore stores to memory: Mem[addr(args...)] = src
type Mstore struct {
	Chunk Chunk          // memory access size/type
	Addr  AddressingMode // addressing mode
	Args  []MReg         // registers for addressing
	Src   MReg           // source register (value to store)
}

// Mcall performs a function call
type Mcall struct {
	Sig Sig    // function signature
	Fn  FunRef // function to call (reg or symbol)
}

// Mtailcall performs a tail call (no return to caller)
type Mtailcall struct {
	Sig Sig    // function signature
	Fn  FunRef // function to call
}

// Mbuiltin calls a builtin function
type Mbuiltin struct {
	Builtin string // builtin function name
	Args    []MReg // argument registers
	Dest    *MReg  // destination register (nil if no result)
}

// Mlabel marks a branch target
type Mlabel struct {
	Lbl Label // the label
}

// Mgoto is an unconditional jump
type Mgoto struct {
	Target Label // jump target
}

// Mcond is a conditional branch
type Mcond struct {
	Cond ConditionCode // condition to evaluate
	Args []MReg        // argument registers
	IfSo Label         // branch target if condition is true
}

// Mjumptable is an indexed jump (switch)
type Mjumptable struct {
	Arg     MReg    // register containing index
	Targets []Label // jump targets
}

// Mreturn returns from the function
type Mreturn struct{}

// --- Frame management ---

// Mallocframe allocates a fresh frame of Size bytes and makes it current.
// The previous base pointer is kept as the pending backlink.
type Mallocframe struct {
	Size int64
}

// Mfreeframe frees the current frame of Size bytes and makes the
// pending backlink the current base again.
type Mfreeframe struct {
	Size int64
}

// Msetlink stores the pending backlink at base + Ofs
type Msetlink struct {
	Ofs int64
}

// Mgetlink reloads the backlink from base + Ofs
type Mgetlink struct {
	Ofs int64
}

// Msetretaddr stores the return address at base + Ofs
type Msetretaddr struct {
	Ofs int64
}

// Mgetretaddr reloads the return address from base + Ofs
type Mgetretaddr struct {
	Ofs int64
}

// Marker methods for Instruction interface
func (Mgetstack) implMachInstruction()   {}
func (Msetstack) implMachInstruction()   {}
func (Mgetparam) implMachInstruction()   {}
func (Mop) implMachInstruction()         {}
func (Mload) implMachInstruction()       {}
func (Mstore) implMachInstruction()      {}
func (Mcall) implMachInstruction()       {}
func (Mtailcall) implMachInstruction()   {}
func (Mbuiltin) implMachInstruction()    {}
func (Mlabel) implMachInstruction()      {}
func (Mgoto) implMachInstruction()       {}
func (Mcond) implMachInstruction()       {}
func (Mjumptable) implMachInstruction()  {}
func (Mreturn) implMachInstruction()     {}
func (Mallocframe) implMachInstruction() {}
func (Mfreeframe) implMachInstruction()  {}
func (Msetlink) implMachInstruction()    {}
func (Mgetlink) implMachInstruction()    {}
func (Msetretaddr) implMachInstruction() {}
func (Mgetretaddr) implMachInstruction() {}

// --- Function Reference ---

// FunRef represents a function reference (either register or symbol)
type FunRef interface {
	implFunRef()
}

// FunReg is a function pointer in a register
type FunReg struct {
	Reg MReg
}

// FunSymbol is a named function symbol
type FunSymbol struct {
	Name string
}

func (FunReg) implFunRef()    {}
func (FunSymbol) implFunRef() {}

// --- Function and Program ---

// Frame records the byte offsets chosen for a function's activation record
type Frame struct {
	Size            int64
	OfsOutgoing     int64
	OfsLink         int64
	OfsRetaddr      int64
	OfsLocal        int64
	OfsCalleeSave   int64
	StackDataOffset int64
}

// Function represents a Mach function with concrete stack layout
type Function struct {
	Name           string        // function name
	Sig            Sig           // function signature
	Code           []Instruction // mach instruction sequence
	Origin         []int         // Origin[i]: source instruction index of Code[i], -1 for prologue
	Stacksize      int64         // total stack frame size
	Frame          Frame         // frame offsets
	CalleeSaveRegs []MReg        // callee-saved registers saved by the prologue
}

// GlobVar represents a global variable
type GlobVar struct {
	Name     string
	Size     int64
	Init     []byte
	ReadOnly bool
}

// Program represents a complete Mach program
type Program struct {
	Globals   []GlobVar
	Functions []Function
}

// Lookup returns the function with the given name, or nil
func (p *Program) Lookup(name string) *Function {
	for i := range p.Functions {
		if p.Functions[i].Name == name {
			return &p.Functions[i]
		}
	}
	return nil
}

// NewFunction creates a new Mach function
func NewFunction(name string, sig Sig) *Function {
	return &Function{
		Name:           name,
		Sig:            sig,
		Code:           make([]Instruction, 0),
		CalleeSaveRegs: make([]MReg, 0),
	}
}

// Append adds a prologue instruction to the function's code
func (f *Function) Append(inst Instruction) {
	f.Emit(-1, inst)
}

// Emit appends instructions produced from source instruction origin
func (f *Function) Emit(origin int, insts ...Instruction) {
	for _, inst := range insts {
		f.Code = append(f.Code, inst)
		f.Origin = append(f.Origin, origin)
	}
}

// LabelIndex returns the instruction index of each label definition
func (f *Function) LabelIndex() map[Label]int {
	index := make(map[Label]int)
	for pc, inst := range f.Code {
		if lbl, ok := inst.(Mlabel); ok {
			if _, dup := index[lbl.Lbl]; !dup {
				index[lbl.Lbl] = pc
			}
		}
	}
	return index
}

// ReferencedLabels returns all labels that are targets of jumps
func (f *Function) ReferencedLabels() []Label {
	seen := make(map[Label]bool)
	var labels []Label
	for _, inst := range f.Code {
		switch i := inst.(type) {
		case Mgoto:
			if !seen[i.Target] {
				seen[i.Target] = true
				labels = append(labels, i.Target)
			}
		case Mcond:
			if !seen[i.IfSo] {
				seen[i.IfSo] = true
				labels = append(labels, i.IfSo)
			}
		case Mjumptable:
			for _, lbl := range i.Targets {
				if !seen[lbl] {
					seen[lbl] = true
					labels = append(labels, lbl)
				}
			}
		}
	}
	return labels
}
