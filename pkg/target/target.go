// Package target describes the machine parameters the frame lowering pass
// depends on: pointer width, the largest representable frame offset, and the
// callee-save register enumeration (with each register's save width).
//
// A Target is loaded once before any function is compiled and is treated as
// read-only afterwards.
package target

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"

	"github.com/raymyers/ralph-stack/pkg/ltl"
	"github.com/xyproto/env/v2"
	"gopkg.in/yaml.v3"
)

// Environment variables consulted by FromEnv
const (
	EnvTarget   = "RALPH_TARGET"
	EnvMaxFrame = "RALPH_MAX_FRAME"
)

// maxFrameLimit bounds MaxFrameSize so offset arithmetic stays in int64
const maxFrameLimit = 1 << 48

// DefaultName is the preset used when nothing else is selected
const DefaultName = "aarch64"

// CalleeSaveReg is one entry of the callee-save enumeration
type CalleeSaveReg struct {
	Reg   ltl.MReg `yaml:"reg"`
	Width int64    `yaml:"width"` // natural save width in bytes (also its alignment)
}

// Target holds the machine parameters for frame layout
type Target struct {
	Name         string          `yaml:"name"`
	PointerSize  int64           `yaml:"pointer_size"`
	MaxFrameSize int64           `yaml:"max_frame_size"`
	CalleeSave   []CalleeSaveReg `yaml:"callee_save"` // fixed enumeration order
	Scratch      []ltl.MReg      `yaml:"scratch"`     // reserved for slot operands
}

func calleeSaveRange(from, to ltl.MReg, width int64) []CalleeSaveReg {
	var regs []CalleeSaveReg
	for r := from; r <= to; r++ {
		regs = append(regs, CalleeSaveReg{Reg: r, Width: width})
	}
	return regs
}

// AArch64 is the default 64-bit target: X19-X28 then D8-D15, all 8 bytes wide.
// X16/X17 (IP0/IP1) are the intra-procedure scratch registers.
func AArch64() *Target {
	return &Target{
		Name:         "aarch64",
		PointerSize:  8,
		MaxFrameSize: math.MaxInt32,
		CalleeSave: append(calleeSaveRange(ltl.X19, ltl.X28, 8),
			calleeSaveRange(ltl.D8, ltl.D15, 8)...),
		Scratch: []ltl.MReg{ltl.X16, ltl.X17},
	}
}

// ILP32 is AArch64 with 32-bit pointers. X registers stay 64 bits wide, so
// their saves keep 8 bytes.
func ILP32() *Target {
	return &Target{
		Name:         "ilp32",
		PointerSize:  4,
		MaxFrameSize: math.MaxInt32,
		CalleeSave: append(calleeSaveRange(ltl.X19, ltl.X28, 8),
			calleeSaveRange(ltl.D8, ltl.D15, 8)...),
		Scratch: []ltl.MReg{ltl.X16, ltl.X17},
	}
}

var presets = map[string]func() *Target{
	"aarch64": AArch64,
	"ilp32":   ILP32,
}

// Presets returns the names of the built-in targets, sorted
func Presets() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns a fresh copy of the named preset
func Lookup(name string) (*Target, error) {
	mk, ok := presets[name]
	if !ok {
		return nil, fmt.Errorf("unknown target %q", name)
	}
	return mk(), nil
}

// FromEnv selects a preset from RALPH_TARGET (default aarch64) and applies
// RALPH_MAX_FRAME when set. A malformed or non-positive limit is an error.
func FromEnv() (*Target, error) {
	var maxFrame int64
	if s := env.Str(EnvMaxFrame, ""); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%s=%q is not a valid frame size", EnvMaxFrame, s)
		}
		maxFrame = n
	}
	return fromSettings(env.Str(EnvTarget, DefaultName), maxFrame)
}

func fromSettings(name string, maxFrame int64) (*Target, error) {
	t, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	if maxFrame > 0 {
		t.MaxFrameSize = maxFrame
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Load reads a target description from a YAML file
func Load(path string) (*Target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a YAML target description. Missing fields fall back to the
// preset named by the "base" key (default aarch64).
func Parse(data []byte) (*Target, error) {
	var header struct {
		Base string `yaml:"base"`
	}
	if err := yaml.Unmarshal(data, &header); err != nil {
		return nil, fmt.Errorf("parsing target: %w", err)
	}
	if header.Base == "" {
		header.Base = DefaultName
	}
	t, err := Lookup(header.Base)
	if err != nil {
		return nil, err
	}
	// Lists given in the file replace the preset's lists
	var lists struct {
		CalleeSave []CalleeSaveReg `yaml:"callee_save"`
		Scratch    []ltl.MReg      `yaml:"scratch"`
	}
	if err := yaml.Unmarshal(data, &lists); err != nil {
		return nil, fmt.Errorf("parsing target: %w", err)
	}
	if err := yaml.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("parsing target: %w", err)
	}
	if lists.CalleeSave != nil {
		t.CalleeSave = lists.CalleeSave
	}
	if lists.Scratch != nil {
		t.Scratch = lists.Scratch
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate checks internal consistency of the target parameters
func (t *Target) Validate() error {
	switch t.PointerSize {
	case 4, 8:
	default:
		return fmt.Errorf("target %s: pointer size %d not supported", t.Name, t.PointerSize)
	}
	if t.MaxFrameSize <= 0 || t.MaxFrameSize > maxFrameLimit {
		return fmt.Errorf("target %s: max frame size %d out of range", t.Name, t.MaxFrameSize)
	}
	seen := make(map[ltl.MReg]bool)
	for _, cs := range t.CalleeSave {
		if !cs.Reg.Valid() {
			return fmt.Errorf("target %s: invalid callee-save register %d", t.Name, cs.Reg)
		}
		if seen[cs.Reg] {
			return fmt.Errorf("target %s: callee-save register %s listed twice", t.Name, cs.Reg)
		}
		seen[cs.Reg] = true
		switch cs.Width {
		case 4, 8:
		default:
			return fmt.Errorf("target %s: callee-save register %s has width %d", t.Name, cs.Reg, cs.Width)
		}
	}
	if len(t.Scratch) == 0 {
		return fmt.Errorf("target %s: at least one scratch register is required", t.Name)
	}
	scratch := make(map[ltl.MReg]bool)
	for _, r := range t.Scratch {
		if !r.Valid() {
			return fmt.Errorf("target %s: invalid scratch register %d", t.Name, r)
		}
		if scratch[r] {
			return fmt.Errorf("target %s: scratch register %s listed twice", t.Name, r)
		}
		scratch[r] = true
		if seen[r] {
			return fmt.Errorf("target %s: scratch register %s is callee-save", t.Name, r)
		}
	}
	return nil
}

// IsCalleeSaved returns true if the register is callee-saved on this target
func (t *Target) IsCalleeSaved(reg ltl.MReg) bool {
	return t.calleeSaveIndex(reg) >= 0
}

// CalleeSaveWidth returns the save width of a callee-save register (0 if not callee-save)
func (t *Target) CalleeSaveWidth(reg ltl.MReg) int64 {
	if i := t.calleeSaveIndex(reg); i >= 0 {
		return t.CalleeSave[i].Width
	}
	return 0
}

// CalleeSaveOrder returns the position of reg in the fixed enumeration (-1 if absent)
func (t *Target) CalleeSaveOrder(reg ltl.MReg) int {
	return t.calleeSaveIndex(reg)
}

func (t *Target) calleeSaveIndex(reg ltl.MReg) int {
	for i, cs := range t.CalleeSave {
		if cs.Reg == reg {
			return i
		}
	}
	return -1
}

// IsScratch reports whether reg is reserved for the lowering pass
func (t *Target) IsScratch(reg ltl.MReg) bool {
	for _, r := range t.Scratch {
		if r == reg {
			return true
		}
	}
	return false
}
