package ltl

import "fmt"

// OperationString renders an operation mnemonic with its immediates
func OperationString(op Operation) string {
	switch o := op.(type) {
	case Omove:
		return "move"
	case Ointconst:
		return fmt.Sprintf("int %d", o.Value)
	case Olongconst:
		return fmt.Sprintf("long %dL", o.Value)
	case Oadd:
		return "add"
	case Oaddimm:
		return fmt.Sprintf("addimm %d", o.N)
	case Osub:
		return "sub"
	case Omul:
		return "mul"
	case Oneg:
		return "neg"
	case Oaddl:
		return "addl"
	case Oaddlimm:
		return fmt.Sprintf("addlimm %dL", o.N)
	case Osubl:
		return "subl"
	case Omull:
		return "mull"
	case Ocmp:
		return fmt.Sprintf("cmp %s", o.Cond)
	case Oaddrsymbol:
		return fmt.Sprintf("addrsymbol \"%s\"+%d", o.Symbol, o.Ofs)
	default:
		return fmt.Sprintf("op?(%T)", op)
	}
}

// AddressingString renders an addressing mode
func AddressingString(addr AddressingMode) string {
	switch a := addr.(type) {
	case Aindexed:
		return fmt.Sprintf("[+%d]", a.Ofs)
	case Aindexed2:
		return "[+reg]"
	case Aglobal:
		return fmt.Sprintf("[\"%s\"+%d]", a.Symbol, a.Ofs)
	default:
		return "[addr?]"
	}
}
