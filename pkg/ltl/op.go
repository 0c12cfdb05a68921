package ltl

import "fmt"

// --- Operations ---
// The subset of the target operator set that the backend passes below
// register allocation need to carry.

// Operation is an arithmetic or move operation
type Operation interface {
	implOperation()
}

type Omove struct{}                   // rd = rs
type Ointconst struct{ Value int32 }  // rd = n
type Olongconst struct{ Value int64 } // rd = n (long)
type Oadd struct{}                    // rd = rs1 + rs2
type Oaddimm struct{ N int32 }        // rd = rs + n
type Osub struct{}                    // rd = rs1 - rs2
type Omul struct{}                    // rd = rs1 * rs2
type Oneg struct{}                    // rd = -rs
type Oaddl struct{}                   // rd = rs1 + rs2 (long)
type Oaddlimm struct{ N int64 }       // rd = rs + n (long)
type Osubl struct{}                   // rd = rs1 - rs2 (long)
type Omull struct{}                   // rd = rs1 * rs2 (long)
type Ocmp struct{ Cond Condition }    // rd = (rs1 cond rs2) ? 1 : 0

// Oaddrsymbol is rd = &Symbol + Ofs (a global or a function)
type Oaddrsymbol struct {
	Symbol string
	Ofs    int64
}

func (Omove) implOperation()       {}
func (Ointconst) implOperation()   {}
func (Olongconst) implOperation()  {}
func (Oadd) implOperation()        {}
func (Oaddimm) implOperation()     {}
func (Osub) implOperation()        {}
func (Omul) implOperation()        {}
func (Oneg) implOperation()        {}
func (Oaddl) implOperation()       {}
func (Oaddlimm) implOperation()    {}
func (Osubl) implOperation()       {}
func (Omull) implOperation()       {}
func (Ocmp) implOperation()        {}
func (Oaddrsymbol) implOperation() {}

// OpArity returns the number of arguments op consumes
func OpArity(op Operation) int {
	switch op.(type) {
	case Ointconst, Olongconst, Oaddrsymbol:
		return 0
	case Omove, Oaddimm, Oneg, Oaddlimm:
		return 1
	default:
		return 2
	}
}

// --- Conditions ---

// Condition is a comparison relation
type Condition int

const (
	Ceq Condition = iota // equal
	Cne                  // not equal
	Clt                  // less than
	Cle                  // less or equal
	Cgt                  // greater than
	Cge                  // greater or equal
)

var condNames = []string{"==", "!=", "<", "<=", ">", ">="}

func (c Condition) String() string {
	if int(c) >= 0 && int(c) < len(condNames) {
		return condNames[c]
	}
	return fmt.Sprintf("?cond%d", int(c))
}

// ParseCondition parses the operator printed by Condition.String
func ParseCondition(s string) (Condition, error) {
	for i, name := range condNames {
		if name == s {
			return Condition(i), nil
		}
	}
	return 0, fmt.Errorf("invalid condition %q", s)
}

// Holds evaluates the relation on two signed integers
func (c Condition) Holds(a, b int64) bool {
	switch c {
	case Ceq:
		return a == b
	case Cne:
		return a != b
	case Clt:
		return a < b
	case Cle:
		return a <= b
	case Cgt:
		return a > b
	case Cge:
		return a >= b
	}
	return false
}

// ConditionCode is the condition tested by a conditional branch
type ConditionCode interface {
	implConditionCode()
}

// Ccomp compares two int arguments
type Ccomp struct {
	Cond Condition
}

// Ccompimm compares an int argument with an immediate
type Ccompimm struct {
	Cond Condition
	N    int32
}

// Ccompl compares two long arguments
type Ccompl struct {
	Cond Condition
}

// Ccomplimm compares a long argument with an immediate
type Ccomplimm struct {
	Cond Condition
	N    int64
}

func (Ccomp) implConditionCode()     {}
func (Ccompimm) implConditionCode()  {}
func (Ccompl) implConditionCode()    {}
func (Ccomplimm) implConditionCode() {}

// CondArity returns the number of arguments cc consumes
func CondArity(cc ConditionCode) int {
	switch cc.(type) {
	case Ccompimm, Ccomplimm:
		return 1
	default:
		return 2
	}
}
