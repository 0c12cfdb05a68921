package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/raymyers/ralph-stack/pkg/agreement"
	"github.com/raymyers/ralph-stack/pkg/linear"
	"github.com/raymyers/ralph-stack/pkg/mach"
	"github.com/raymyers/ralph-stack/pkg/sim"
	"github.com/raymyers/ralph-stack/pkg/stacking"
	"github.com/raymyers/ralph-stack/pkg/target"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var version = "0.1.0"

// Debug flags for dumping intermediate representations
var (
	dLinear bool
	dLayout bool
	dMach   bool
)

// Target and run options
var (
	targetName string
	targetFile string
	runEntry   string
	runArgs    []int64
	verbose    bool
)

func main() {
	os.Exit(run())
}

func run() int {
	rootCmd := newRootCmd(os.Stdout, os.Stderr)
	// Normalize CompCert-style single-dash flags to double-dash for pflag compatibility
	rootCmd.SetArgs(normalizeFlags(os.Args[1:]))
	if err := rootCmd.Execute(); err != nil {
		return 1
	}
	return 0
}

// debugFlagNames lists the debug flags that also accept single-dash style
var debugFlagNames = []string{"dlinear", "dlayout", "dmach"}

// normalizeFlags converts CompCert-style single-dash flags like -dmach to --dmach
func normalizeFlags(args []string) []string {
	result := make([]string, len(args))
	for i, arg := range args {
		for _, flagName := range debugFlagNames {
			if arg == "-"+flagName {
				result[i] = "--" + flagName
				break
			}
		}
		if result[i] == "" {
			result[i] = arg
		}
	}
	return result
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ralph-stack [file]",
		Short: "ralph-stack lowers Linear code to Mach by laying out stack frames",
		Long: `ralph-stack reads a Linear program, computes a concrete activation
record for every function and emits the Mach program with explicit
frame offsets, prologues and epilogues. With --run it executes the
source and the lowered program side by side and checks that they agree.`,
		Version:       version,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				cmd.Help()
				return nil
			}
			tgt, err := selectTarget(cmd.Flags(), errOut)
			if err != nil {
				return err
			}
			return doLower(args[0], tgt, out, errOut)
		},
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)

	// Add debug flags
	rootCmd.Flags().BoolVarP(&dLinear, "dlinear", "", false, "Dump the parsed Linear program")
	rootCmd.Flags().BoolVarP(&dLayout, "dlayout", "", false, "Dump the frame layout of every function")
	rootCmd.Flags().BoolVarP(&dMach, "dmach", "", false, "Dump Mach")

	// Target and run flags
	rootCmd.Flags().StringVarP(&targetName, "target", "t", target.DefaultName,
		fmt.Sprintf("Target preset (%s)", strings.Join(target.Presets(), ", ")))
	rootCmd.Flags().StringVar(&targetFile, "target-file", "", "Load the target description from a YAML file")
	rootCmd.Flags().StringVar(&runEntry, "run", "", "Run the named function in both programs and check agreement")
	rootCmd.Flags().Int64SliceVar(&runArgs, "args", nil, "Integer arguments for --run")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print a layout summary per function")

	return rootCmd
}

// selectTarget picks the target: --target-file, then an explicit --target,
// then RALPH_TARGET/RALPH_MAX_FRAME.
func selectTarget(flags *pflag.FlagSet, errOut io.Writer) (*target.Target, error) {
	var (
		tgt *target.Target
		err error
	)
	switch {
	case targetFile != "":
		tgt, err = target.Load(targetFile)
	case flags.Changed("target"):
		tgt, err = target.Lookup(targetName)
	default:
		tgt, err = target.FromEnv()
	}
	if err != nil {
		fmt.Fprintf(errOut, "ralph-stack: bad target: %v\n", err)
		return nil, err
	}
	return tgt, nil
}

// parseFile reads and parses a Linear file
func parseFile(filename string, errOut io.Writer) (*linear.Program, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		fmt.Fprintf(errOut, "ralph-stack: error reading %s: %v\n", filename, err)
		return nil, err
	}
	prog, err := linear.Parse(string(content))
	if err != nil {
		fmt.Fprintf(errOut, "ralph-stack: %s: %v\n", filename, err)
		return nil, err
	}
	return prog, nil
}

// doLower parses filename, lowers every function and handles the dump and run flags
func doLower(filename string, tgt *target.Target, out, errOut io.Writer) error {
	linearProg, err := parseFile(filename, errOut)
	if err != nil {
		return err
	}

	if dLinear {
		linear.NewPrinter(out).PrintProgram(linearProg)
	}

	results, err := stacking.LowerProgram(linearProg, tgt)
	if err != nil {
		fmt.Fprintf(errOut, "ralph-stack: %s: %v\n", filename, err)
		return err
	}

	if dLayout {
		for _, res := range results {
			printLayout(out, res.Bounds.Name, res.Layout)
		}
	}
	if verbose {
		for _, res := range results {
			l := res.Layout
			fmt.Fprintf(errOut, "ralph-stack: %s: frame %d bytes, %d callee-save, leaf=%v\n",
				res.Bounds.Name, l.FrameSize, len(l.CalleeSaveRegs), stacking.IsLeafFunction(res.Mach.Code))
		}
	}

	machProg := stacking.AssembleProgram(linearProg, results)

	if dMach {
		if err := writeMach(filename, machProg, out, errOut); err != nil {
			return err
		}
	}

	if runEntry != "" {
		return doRun(linearProg, machProg, tgt, out, errOut)
	}
	if !dLinear && !dLayout && !dMach {
		fmt.Fprintf(errOut, "ralph-stack: lowered %d functions from %s\n", len(results), filename)
	}
	return nil
}

// writeMach writes input.mach next to the input and echoes it to out
func writeMach(filename string, machProg *mach.Program, out, errOut io.Writer) error {
	// Compute output filename: input.linear -> input.mach
	outputFilename := machOutputFilename(filename)

	// Create output file
	outFile, err := os.Create(outputFilename)
	if err != nil {
		fmt.Fprintf(errOut, "ralph-stack: error creating %s: %v\n", outputFilename, err)
		return err
	}
	defer outFile.Close()

	// Print the Mach AST to the file
	mach.NewPrinter(outFile).PrintProgram(machProg)

	// Also print to stdout for convenience
	mach.NewPrinter(out).PrintProgram(machProg)
	return nil
}

// doRun executes --run in lockstep and prints the result
func doRun(linearProg *linear.Program, machProg *mach.Program, tgt *target.Target, out, errOut io.Writer) error {
	rep, err := agreement.Lockstep(linearProg, machProg, runEntry, runArgs, sim.Config{Target: tgt})
	if err != nil {
		fmt.Fprintf(errOut, "ralph-stack: run %s: %v\n", runEntry, err)
		return err
	}
	switch {
	case rep.Trapped:
		fmt.Fprintf(out, "%s: trapped after %d steps\n", runEntry, rep.LinearSteps)
	case rep.Defined:
		fmt.Fprintf(out, "%s = %d\n", runEntry, rep.Result)
	default:
		fmt.Fprintf(out, "%s = undefined\n", runEntry)
	}
	if verbose {
		fmt.Fprintf(errOut, "ralph-stack: %d agreement checks, %d linear steps, %d mach steps\n",
			rep.Checks, rep.LinearSteps, rep.MachSteps)
	}
	return nil
}

func printLayout(w io.Writer, name string, l *stacking.FrameLayout) {
	fmt.Fprintf(w, "%s: framesize %d\n", name, l.FrameSize)
	for _, r := range l.Regions() {
		if r.End == r.Start {
			continue
		}
		fmt.Fprintf(w, "  %-12s [%d, %d)\n", r.Name, r.Start, r.End)
	}
}

// machOutputFilename returns the output filename for the lowered program
func machOutputFilename(filename string) string {
	ext := ".linear"
	if strings.HasSuffix(filename, ext) {
		return filename[:len(filename)-len(ext)] + ".mach"
	}
	return filename + ".mach"
}
