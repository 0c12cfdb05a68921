package linear

// Uses returns the locations an instruction reads, in operand order.
// Register-indirect call targets count as uses.
func Uses(inst Instruction) []Loc {
	switch i := inst.(type) {
	case Lgetstack:
		return []Loc{S{Slot: i.Slot, Ofs: i.Ofs, Ty: i.Ty}}
	case Lsetstack:
		return []Loc{R{Reg: i.Src}}
	case Lop:
		return i.Args
	case Lload:
		return i.Args
	case Lstore:
		uses := make([]Loc, 0, len(i.Args)+1)
		uses = append(uses, i.Args...)
		return append(uses, i.Src)
	case Lcall:
		return funRefUses(i.Fn)
	case Ltailcall:
		return funRefUses(i.Fn)
	case Lbuiltin:
		return i.Args
	case Lcond:
		return i.Args
	case Ljumptable:
		return []Loc{i.Arg}
	}
	return nil
}

// Defs returns the locations an instruction writes
func Defs(inst Instruction) []Loc {
	switch i := inst.(type) {
	case Lgetstack:
		return []Loc{R{Reg: i.Dest}}
	case Lsetstack:
		return []Loc{S{Slot: i.Slot, Ofs: i.Ofs, Ty: i.Ty}}
	case Lop:
		if i.Dest != nil {
			return []Loc{i.Dest}
		}
	case Lload:
		return []Loc{i.Dest}
	case Lbuiltin:
		if i.Dest != nil {
			return []Loc{*i.Dest}
		}
	}
	return nil
}

func funRefUses(fn FunRef) []Loc {
	if r, ok := fn.(FunReg); ok {
		return []Loc{r.Loc}
	}
	return nil
}
