package sim

import (
	"github.com/pkg/errors"
	"github.com/raymyers/ralph-stack/pkg/ltl"
)

func int32Of(v int64) int64 { return int64(int32(v)) }

// EvalOp computes op on already-read argument values. Int operations wrap at
// 32 bits and yield the sign-extended result.
func EvalOp(op ltl.Operation, args []int64, sym *Symbols) (int64, error) {
	if n := ltl.OpArity(op); len(args) != n {
		return 0, errors.Errorf("%s: %d arguments, want %d", ltl.OperationString(op), len(args), n)
	}
	switch o := op.(type) {
	case ltl.Omove:
		return args[0], nil
	case ltl.Ointconst:
		return int64(o.Value), nil
	case ltl.Olongconst:
		return o.Value, nil
	case ltl.Oadd:
		return int32Of(args[0] + args[1]), nil
	case ltl.Oaddimm:
		return int32Of(args[0] + int64(o.N)), nil
	case ltl.Osub:
		return int32Of(args[0] - args[1]), nil
	case ltl.Omul:
		return int32Of(args[0] * args[1]), nil
	case ltl.Oneg:
		return int32Of(-args[0]), nil
	case ltl.Oaddl:
		return args[0] + args[1], nil
	case ltl.Oaddlimm:
		return args[0] + o.N, nil
	case ltl.Osubl:
		return args[0] - args[1], nil
	case ltl.Omull:
		return args[0] * args[1], nil
	case ltl.Ocmp:
		if o.Cond.Holds(int32Of(args[0]), int32Of(args[1])) {
			return 1, nil
		}
		return 0, nil
	case ltl.Oaddrsymbol:
		addr, err := sym.Addr(o.Symbol)
		if err != nil {
			return 0, err
		}
		return int64(addr) + o.Ofs, nil
	}
	return 0, errors.Errorf("unsupported operation %T", op)
}

// EvalCond evaluates a branch condition
func EvalCond(cc ltl.ConditionCode, args []int64) (bool, error) {
	if n := ltl.CondArity(cc); len(args) != n {
		return false, errors.Errorf("condition with %d arguments, want %d", len(args), n)
	}
	switch c := cc.(type) {
	case ltl.Ccomp:
		return c.Cond.Holds(int32Of(args[0]), int32Of(args[1])), nil
	case ltl.Ccompimm:
		return c.Cond.Holds(int32Of(args[0]), int64(c.N)), nil
	case ltl.Ccompl:
		return c.Cond.Holds(args[0], args[1]), nil
	case ltl.Ccomplimm:
		return c.Cond.Holds(args[0], c.N), nil
	}
	return false, errors.Errorf("unsupported condition %T", cc)
}

// EvalAddr computes the address of a load or store
func EvalAddr(mode ltl.AddressingMode, args []int64, sym *Symbols) (uint64, error) {
	if n := ltl.ModeArgs(mode); len(args) != n {
		return 0, errors.Errorf("%s: %d arguments, want %d", ltl.AddressingString(mode), len(args), n)
	}
	switch a := mode.(type) {
	case ltl.Aindexed:
		return uint64(args[0] + a.Ofs), nil
	case ltl.Aindexed2:
		return uint64(args[0] + args[1]), nil
	case ltl.Aglobal:
		addr, err := sym.Addr(a.Symbol)
		if err != nil {
			return 0, err
		}
		return addr + uint64(a.Ofs), nil
	}
	return 0, errors.Errorf("unsupported addressing mode %T", mode)
}

// Builtins are the builtin functions both machines understand
var Builtins = map[string]func(args []int64) (int64, error){
	"nop": func([]int64) (int64, error) { return 0, nil },
	"sum": func(args []int64) (int64, error) {
		var s int64
		for _, a := range args {
			s += a
		}
		return s, nil
	},
	"trap": func([]int64) (int64, error) { return 0, ErrTrap },
}

// EvalBuiltin runs a builtin by name
func EvalBuiltin(name string, args []int64) (int64, error) {
	fn, ok := Builtins[name]
	if !ok {
		return 0, errors.Errorf("unknown builtin %q", name)
	}
	return fn(args)
}
