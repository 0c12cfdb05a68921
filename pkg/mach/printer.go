package mach

import (
	"fmt"
	"io"
	"strings"

	"github.com/raymyers/ralph-stack/pkg/ltl"
)

// Printer outputs Mach code in a readable format
type Printer struct {
	w io.Writer
}

// NewPrinter creates a new Mach printer
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// PrintProgram prints a complete Mach program
func (p *Printer) PrintProgram(prog *Program) {
	for _, g := range prog.Globals {
		fmt.Fprintf(p.w, "var \"%s\"[%d]\n", g.Name, g.Size)
	}
	if len(prog.Globals) > 0 {
		fmt.Fprintln(p.w)
	}
	for i := range prog.Functions {
		p.PrintFunction(&prog.Functions[i])
		if i < len(prog.Functions)-1 {
			fmt.Fprintln(p.w)
		}
	}
}

// PrintFunction prints a function with its frame layout as a comment header
func (p *Printer) PrintFunction(fn *Function) {
	fmt.Fprintf(p.w, "%s() {\n", fn.Name)
	fr := fn.Frame
	fmt.Fprintf(p.w, "  ; framesize = %d\n", fn.Stacksize)
	fmt.Fprintf(p.w, "  ; outgoing @%d, link @%d, retaddr @%d, local @%d, callee-save @%d, data @%d\n",
		fr.OfsOutgoing, fr.OfsLink, fr.OfsRetaddr, fr.OfsLocal, fr.OfsCalleeSave, fr.StackDataOffset)
	if len(fn.CalleeSaveRegs) > 0 {
		names := make([]string, len(fn.CalleeSaveRegs))
		for i, r := range fn.CalleeSaveRegs {
			names[i] = r.String()
		}
		fmt.Fprintf(p.w, "  ; callee-save: %s\n", strings.Join(names, ", "))
	}
	for _, inst := range fn.Code {
		p.printInstruction(inst)
	}
	fmt.Fprintln(p.w, "}")
}

func (p *Printer) printInstruction(inst Instruction) {
	switch i := inst.(type) {
	case Mlabel:
		fmt.Fprintf(p.w, "L%d:\n", i.Lbl)
	case Mgetstack:
		fmt.Fprintf(p.w, "  %s = getstack(%d, %s)\n", i.Dest, i.Ofs, i.Ty)
	case Msetstack:
		fmt.Fprintf(p.w, "  setstack(%s, %d, %s)\n", i.Src, i.Ofs, i.Ty)
	case Mgetparam:
		fmt.Fprintf(p.w, "  %s = getparam(link@%d, %d, %s)\n", i.Dest, i.LinkOfs, i.Ofs, i.Ty)
	case Mop:
		fmt.Fprintf(p.w, "  %s = %s%s\n", i.Dest, ltl.OperationString(i.Op), regList(i.Args))
	case Mload:
		fmt.Fprintf(p.w, "  %s = load %s %s%s\n", i.Dest, i.Chunk, ltl.AddressingString(i.Addr), regList(i.Args))
	case Mstore:
		fmt.Fprintf(p.w, "  store %s %s%s, %s\n", i.Chunk, ltl.AddressingString(i.Addr), regList(i.Args), i.Src)
	case Mcall:
		fmt.Fprintf(p.w, "  call %s\n", funRefString(i.Fn))
	case Mtailcall:
		fmt.Fprintf(p.w, "  tailcall %s\n", funRefString(i.Fn))
	case Mbuiltin:
		fmt.Fprintf(p.w, "  builtin %q%s", i.Builtin, regList(i.Args))
		if i.Dest != nil {
			fmt.Fprintf(p.w, " -> %s", *i.Dest)
		}
		fmt.Fprintln(p.w)
	case Mgoto:
		fmt.Fprintf(p.w, "  goto L%d\n", i.Target)
	case Mcond:
		fmt.Fprintf(p.w, "  if %s goto L%d\n", condString(i.Cond, i.Args), i.IfSo)
	case Mjumptable:
		targets := make([]string, len(i.Targets))
		for j, t := range i.Targets {
			targets[j] = fmt.Sprintf("L%d", t)
		}
		fmt.Fprintf(p.w, "  jumptable %s [%s]\n", i.Arg, strings.Join(targets, ", "))
	case Mreturn:
		fmt.Fprintln(p.w, "  return")
	case Mallocframe:
		fmt.Fprintf(p.w, "  allocframe %d\n", i.Size)
	case Mfreeframe:
		fmt.Fprintf(p.w, "  freeframe %d\n", i.Size)
	case Msetlink:
		fmt.Fprintf(p.w, "  setlink %d\n", i.Ofs)
	case Mgetlink:
		fmt.Fprintf(p.w, "  getlink %d\n", i.Ofs)
	case Msetretaddr:
		fmt.Fprintf(p.w, "  setretaddr %d\n", i.Ofs)
	case Mgetretaddr:
		fmt.Fprintf(p.w, "  getretaddr %d\n", i.Ofs)
	default:
		fmt.Fprintf(p.w, "  ??? (%T)\n", inst)
	}
}

func regList(regs []MReg) string {
	names := make([]string, len(regs))
	for i, r := range regs {
		names[i] = r.String()
	}
	return "(" + strings.Join(names, ", ") + ")"
}

func funRefString(fn FunRef) string {
	switch f := fn.(type) {
	case FunSymbol:
		return fmt.Sprintf("%q", f.Name)
	case FunReg:
		return "*" + f.Reg.String()
	}
	return "?fn"
}

func condString(cc ConditionCode, args []MReg) string {
	arg := func(i int) string {
		if i < len(args) {
			return args[i].String()
		}
		return "?"
	}
	switch c := cc.(type) {
	case ltl.Ccomp:
		return fmt.Sprintf("%s %s %s", arg(0), c.Cond, arg(1))
	case ltl.Ccompimm:
		return fmt.Sprintf("%s %s %d", arg(0), c.Cond, c.N)
	case ltl.Ccompl:
		return fmt.Sprintf("%s %sl %s", arg(0), c.Cond, arg(1))
	case ltl.Ccomplimm:
		return fmt.Sprintf("%s %sl %dL", arg(0), c.Cond, c.N)
	}
	return "???"
}
