// Package ltl defines the location vocabulary shared by the Linear and Mach
// representations: machine registers, value types, abstract stack slots and
// the operations/conditions carried by instructions.
// This mirrors CompCert's backend/Locations.v and the operator subset of Op.v.
package ltl

import "fmt"

// SlotUnit is the number of bytes covered by one unit of slot offset.
// Slot offsets are word-granular: byte offset = SlotUnit * Ofs.
const SlotUnit = 4

// MReg is a machine register (ARM64 naming).
type MReg int

// Integer registers X0-X30 followed by float registers D0-D31.
const (
	X0 MReg = iota
	X1
	X2
	X3
	X4
	X5
	X6
	X7
	X8
	X9
	X10
	X11
	X12
	X13
	X14
	X15
	X16
	X17
	X18
	X19
	X20
	X21
	X22
	X23
	X24
	X25
	X26
	X27
	X28
	X29
	X30
	D0
	D1
	D2
	D3
	D4
	D5
	D6
	D7
	D8
	D9
	D10
	D11
	D12
	D13
	D14
	D15
	D16
	D17
	D18
	D19
	D20
	D21
	D22
	D23
	D24
	D25
	D26
	D27
	D28
	D29
	D30
	D31

	NumRegs
)

// IsFloat reports whether r is a floating-point register
func (r MReg) IsFloat() bool {
	return r >= D0 && r <= D31
}

// Valid reports whether r names a real register
func (r MReg) Valid() bool {
	return r >= X0 && r < NumRegs
}

func (r MReg) String() string {
	switch {
	case r >= X0 && r <= X30:
		return fmt.Sprintf("X%d", int(r-X0))
	case r.IsFloat():
		return fmt.Sprintf("D%d", int(r-D0))
	default:
		return fmt.Sprintf("?reg%d", int(r))
	}
}

// ParseMReg parses a register name such as "X19" or "D8"
func ParseMReg(s string) (MReg, error) {
	var n int
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid register %q", s)
	}
	if _, err := fmt.Sscanf(s[1:], "%d", &n); err != nil || fmt.Sprint(n) != s[1:] {
		return 0, fmt.Errorf("invalid register %q", s)
	}
	switch s[0] {
	case 'X', 'x':
		if n <= 30 {
			return X0 + MReg(n), nil
		}
	case 'D', 'd':
		if n <= 31 {
			return D0 + MReg(n), nil
		}
	}
	return 0, fmt.Errorf("invalid register %q", s)
}

// MarshalText implements encoding.TextMarshaler (used by YAML target files)
func (r MReg) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (r *MReg) UnmarshalText(text []byte) error {
	reg, err := ParseMReg(string(text))
	if err != nil {
		return err
	}
	*r = reg
	return nil
}

// Typ is the type of a value held in a register or stack slot.
// Tvoid is only meaningful as a signature result.
type Typ int

const (
	Tvoid Typ = iota
	Tint
	Tfloat
	Tlong
	Tsingle
	Tany32
	Tany64
)

var typNames = map[Typ]string{
	Tvoid:   "void",
	Tint:    "int",
	Tfloat:  "float",
	Tlong:   "long",
	Tsingle: "single",
	Tany32:  "any32",
	Tany64:  "any64",
}

func (t Typ) String() string {
	if name, ok := typNames[t]; ok {
		return name
	}
	return fmt.Sprintf("?typ%d", int(t))
}

// ParseTyp parses the name printed by Typ.String
func ParseTyp(s string) (Typ, error) {
	for t, name := range typNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("invalid type %q", s)
}

// Size returns the size of a value of type t in bytes
func (t Typ) Size() int64 {
	switch t {
	case Tint, Tsingle, Tany32:
		return 4
	case Tfloat, Tlong, Tany64:
		return 8
	default:
		return 0
	}
}

// Words returns the number of slot units occupied by t
func (t Typ) Words() int64 {
	return t.Size() / SlotUnit
}

// Normalize truncates v to what a slot of type t can hold.
// 32-bit types keep the sign-extended low word.
func (t Typ) Normalize(v int64) int64 {
	if t.Size() == 4 {
		return int64(int32(v))
	}
	return v
}

// IsFloat reports whether t is carried in a float register
func (t Typ) IsFloat() bool {
	return t == Tfloat || t == Tsingle
}

// SlotKind distinguishes the three classes of abstract stack locations
type SlotKind int

const (
	SlotLocal    SlotKind = iota // private to the current function
	SlotIncoming                 // parameters, in the caller's Outgoing area
	SlotOutgoing                 // arguments for callees
)

func (k SlotKind) String() string {
	switch k {
	case SlotLocal:
		return "local"
	case SlotIncoming:
		return "incoming"
	case SlotOutgoing:
		return "outgoing"
	default:
		return fmt.Sprintf("?slot%d", int(k))
	}
}

// ParseSlotKind parses the name printed by SlotKind.String
func ParseSlotKind(s string) (SlotKind, error) {
	switch s {
	case "local":
		return SlotLocal, nil
	case "incoming":
		return SlotIncoming, nil
	case "outgoing":
		return SlotOutgoing, nil
	}
	return 0, fmt.Errorf("invalid slot kind %q", s)
}

// Loc is an abstract location: a register or a stack slot
type Loc interface {
	implLoc()
}

// R is a register location
type R struct {
	Reg MReg
}

// S is a stack slot location
type S struct {
	Slot SlotKind
	Ofs  int64 // in slot units
	Ty   Typ
}

func (R) implLoc() {}
func (S) implLoc() {}

func (r R) String() string { return r.Reg.String() }
func (s S) String() string { return fmt.Sprintf("S(%s, %d, %s)", s.Slot, s.Ofs, s.Ty) }

// Sig is a function signature
type Sig struct {
	Args []Typ
	Res  Typ // Tvoid when there is no result
}

// Chunk describes the size and signedness of a memory access
type Chunk int

const (
	Mint8signed Chunk = iota
	Mint8unsigned
	Mint16signed
	Mint16unsigned
	Mint32
	Mint64
	Mfloat32
	Mfloat64
)

var chunkNames = map[Chunk]string{
	Mint8signed:    "int8s",
	Mint8unsigned:  "int8u",
	Mint16signed:   "int16s",
	Mint16unsigned: "int16u",
	Mint32:         "int32",
	Mint64:         "int64",
	Mfloat32:       "float32",
	Mfloat64:       "float64",
}

func (c Chunk) String() string {
	if name, ok := chunkNames[c]; ok {
		return name
	}
	return fmt.Sprintf("?chunk%d", int(c))
}

// ParseChunk parses the name printed by Chunk.String
func ParseChunk(s string) (Chunk, error) {
	for c, name := range chunkNames {
		if name == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("invalid chunk %q", s)
}

// Size returns the access size in bytes
func (c Chunk) Size() int64 {
	switch c {
	case Mint8signed, Mint8unsigned:
		return 1
	case Mint16signed, Mint16unsigned:
		return 2
	case Mint32, Mfloat32:
		return 4
	default:
		return 8
	}
}

// Normalize returns v as it reads back after a store with chunk c
func (c Chunk) Normalize(v int64) int64 {
	switch c {
	case Mint8signed:
		return int64(int8(v))
	case Mint8unsigned:
		return int64(uint8(v))
	case Mint16signed:
		return int64(int16(v))
	case Mint16unsigned:
		return int64(uint16(v))
	case Mint32, Mfloat32:
		return int64(int32(v))
	default:
		return v
	}
}

// AddressingMode describes how a memory address is computed from arguments
type AddressingMode interface {
	implAddressingMode()
}

// Aindexed is [r1 + Ofs]
type Aindexed struct{ Ofs int64 }

// Aindexed2 is [r1 + r2]
type Aindexed2 struct{}

// Aglobal is [Symbol + Ofs]
type Aglobal struct {
	Symbol string
	Ofs    int64
}

func (Aindexed) implAddressingMode()  {}
func (Aindexed2) implAddressingMode() {}
func (Aglobal) implAddressingMode()   {}

// ModeArgs returns the number of register arguments the mode consumes
func ModeArgs(m AddressingMode) int {
	switch m.(type) {
	case Aindexed:
		return 1
	case Aindexed2:
		return 2
	default:
		return 0
	}
}
