// Package linear provides AST printing functionality for Linear IR.
// The output is the textual form read back by Parse.
package linear

import (
	"fmt"
	"io"

	"github.com/raymyers/ralph-stack/pkg/ltl"
)

// Printer outputs the Linear AST in a readable format
type Printer struct {
	w io.Writer
}

// NewPrinter creates a new Linear AST printer
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// PrintProgram prints a complete Linear program
func (p *Printer) PrintProgram(prog *Program) {
	// Print global variables
	for _, g := range prog.Globals {
		fmt.Fprintf(p.w, "var \"%s\"[%d]\n", g.Name, g.Size)
	}
	if len(prog.Globals) > 0 {
		fmt.Fprintln(p.w)
	}

	// Print functions
	for i := range prog.Functions {
		p.PrintFunction(&prog.Functions[i])
		if i < len(prog.Functions)-1 {
			fmt.Fprintln(p.w)
		}
	}
}

// PrintFunction prints a function in Linear format
func (p *Printer) PrintFunction(fn *Function) {
	// Function header
	fmt.Fprintf(p.w, "%s(", fn.Name)
	for i, ty := range fn.Sig.Args {
		if i > 0 {
			fmt.Fprint(p.w, ", ")
		}
		fmt.Fprint(p.w, ty)
	}
	fmt.Fprint(p.w, ")")
	if fn.Sig.Res != ltl.Tvoid {
		fmt.Fprintf(p.w, ": %s", fn.Sig.Res)
	}
	fmt.Fprintln(p.w, " {")

	// Stack size info
	if fn.Stacksize > 0 {
		fmt.Fprintf(p.w, "  ; stacksize = %d\n", fn.Stacksize)
	}

	// Print instructions sequentially
	for _, inst := range fn.Code {
		p.printInstruction(inst)
	}

	fmt.Fprintln(p.w, "}")
}

func (p *Printer) printInstruction(inst Instruction) {
	switch i := inst.(type) {
	case Llabel:
		// Labels are printed without indentation
		fmt.Fprintf(p.w, "L%d:\n", i.Lbl)
	case Lgetstack:
		fmt.Fprintf(p.w, "  %s = getstack(%s, %d, %s)\n",
			i.Dest.String(), i.Slot, i.Ofs, i.Ty)
	case Lsetstack:
		fmt.Fprintf(p.w, "  setstack(%s, %s, %d, %s)\n",
			i.Src.String(), i.Slot, i.Ofs, i.Ty)
	case Lop:
		fmt.Fprint(p.w, "  ")
		if i.Dest != nil {
			p.printLoc(i.Dest)
			fmt.Fprint(p.w, " = ")
		}
		fmt.Fprint(p.w, ltl.OperationString(i.Op))
		p.printLocs(i.Args)
		fmt.Fprintln(p.w)
	case Lload:
		fmt.Fprint(p.w, "  ")
		p.printLoc(i.Dest)
		fmt.Fprintf(p.w, " = load %s %s", i.Chunk, ltl.AddressingString(i.Addr))
		p.printLocs(i.Args)
		fmt.Fprintln(p.w)
	case Lstore:
		fmt.Fprintf(p.w, "  store %s %s", i.Chunk, ltl.AddressingString(i.Addr))
		p.printLocs(i.Args)
		fmt.Fprint(p.w, ", ")
		p.printLoc(i.Src)
		fmt.Fprintln(p.w)
	case Lcall:
		fmt.Fprint(p.w, "  call ")
		p.printFunRef(i.Fn)
		p.printSig(i.Sig)
		fmt.Fprintln(p.w)
	case Ltailcall:
		fmt.Fprint(p.w, "  tailcall ")
		p.printFunRef(i.Fn)
		p.printSig(i.Sig)
		fmt.Fprintln(p.w)
	case Lbuiltin:
		fmt.Fprintf(p.w, "  builtin %q", i.Builtin)
		p.printLocs(i.Args)
		if i.Dest != nil {
			fmt.Fprint(p.w, " -> ")
			p.printLoc(*i.Dest)
		}
		fmt.Fprintln(p.w)
	case Lgoto:
		fmt.Fprintf(p.w, "  goto L%d\n", i.Target)
	case Lcond:
		fmt.Fprint(p.w, "  if ")
		p.printConditionCode(i.Cond, i.Args)
		fmt.Fprintf(p.w, " goto L%d\n", i.IfSo)
	case Ljumptable:
		fmt.Fprint(p.w, "  jumptable ")
		p.printLoc(i.Arg)
		fmt.Fprint(p.w, " [")
		for j, target := range i.Targets {
			if j > 0 {
				fmt.Fprint(p.w, ", ")
			}
			fmt.Fprintf(p.w, "L%d", target)
		}
		fmt.Fprintln(p.w, "]")
	case Lreturn:
		fmt.Fprintln(p.w, "  return")
	default:
		fmt.Fprintf(p.w, "  ??? (%T)\n", inst)
	}
}

func (p *Printer) printLocs(locs []Loc) {
	fmt.Fprint(p.w, "(")
	for j, loc := range locs {
		if j > 0 {
			fmt.Fprint(p.w, ", ")
		}
		p.printLoc(loc)
	}
	fmt.Fprint(p.w, ")")
}

func (p *Printer) printLoc(loc Loc) {
	switch l := loc.(type) {
	case R:
		fmt.Fprint(p.w, l.Reg.String())
	case S:
		fmt.Fprint(p.w, l.String())
	default:
		fmt.Fprint(p.w, "?loc")
	}
}

func (p *Printer) printSig(sig Sig) {
	if len(sig.Args) == 0 && sig.Res == ltl.Tvoid {
		return
	}
	fmt.Fprint(p.w, " : (")
	for i, ty := range sig.Args {
		if i > 0 {
			fmt.Fprint(p.w, ", ")
		}
		fmt.Fprint(p.w, ty)
	}
	fmt.Fprintf(p.w, ") -> %s", sig.Res)
}

func (p *Printer) printFunRef(fn FunRef) {
	switch f := fn.(type) {
	case FunSymbol:
		fmt.Fprintf(p.w, "\"%s\"", f.Name)
	case FunReg:
		fmt.Fprint(p.w, "*")
		p.printLoc(f.Loc)
	}
}

func (p *Printer) printConditionCode(cc ConditionCode, args []Loc) {
	// Print args first
	if len(args) > 0 {
		p.printLoc(args[0])
	}

	switch c := cc.(type) {
	case ltl.Ccomp:
		fmt.Fprintf(p.w, " %s ", c.Cond)
		if len(args) > 1 {
			p.printLoc(args[1])
		}
	case ltl.Ccompimm:
		fmt.Fprintf(p.w, " %s %d", c.Cond, c.N)
	case ltl.Ccompl:
		fmt.Fprintf(p.w, " %sl ", c.Cond)
		if len(args) > 1 {
			p.printLoc(args[1])
		}
	case ltl.Ccomplimm:
		fmt.Fprintf(p.w, " %sl %dL", c.Cond, c.N)
	default:
		fmt.Fprint(p.w, " ??? ")
	}
}
