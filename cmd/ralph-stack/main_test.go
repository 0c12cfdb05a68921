package main

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/raymyers/ralph-stack/pkg/target"
)

const sevenSrc = `seven(): int {
  X0 = int 7()
  return
}

twice(int): int {
  X19 = move(X0)
  call "seven"
  X0 = add(X0, X19)
  return
}
`

func resetFlags(t *testing.T) {
	t.Helper()
	dLinear = false
	dLayout = false
	dMach = false
	targetName = target.DefaultName
	targetFile = ""
	runEntry = ""
	runArgs = nil
	verbose = false
	t.Setenv(target.EnvTarget, target.DefaultName)
	t.Setenv(target.EnvMaxFrame, "")
}

func writeInput(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs(normalizeFlags(args))
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestVersion(t *testing.T) {
	if version == "" {
		t.Error("version should not be empty")
	}
}

func TestFlagsExist(t *testing.T) {
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)

	expectedFlags := []string{"dlinear", "dlayout", "dmach", "target", "target-file", "run", "args", "verbose"}
	for _, flagName := range expectedFlags {
		if cmd.Flags().Lookup(flagName) == nil {
			t.Errorf("expected flag --%s to exist", flagName)
		}
	}
}

func TestNormalizeFlags(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{
			name:     "single-dash dmach",
			input:    []string{"-dmach", "test.linear"},
			expected: []string{"--dmach", "test.linear"},
		},
		{
			name:     "double-dash dmach unchanged",
			input:    []string{"--dmach", "test.linear"},
			expected: []string{"--dmach", "test.linear"},
		},
		{
			name:     "mixed flags",
			input:    []string{"test.linear", "-dlinear", "-dlayout"},
			expected: []string{"test.linear", "--dlinear", "--dlayout"},
		},
		{
			name:     "other flags untouched",
			input:    []string{"-t", "ilp32", "-v"},
			expected: []string{"-t", "ilp32", "-v"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeFlags(tt.input)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("normalizeFlags(%v) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestNoFileShowsHelp(t *testing.T) {
	resetFlags(t)
	out, _, err := execute(t)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(out, "ralph-stack") {
		t.Errorf("expected help output, got %q", out)
	}
}

func TestLowerSummary(t *testing.T) {
	resetFlags(t)
	file := writeInput(t, "prog.linear", sevenSrc)
	out, errOut, err := execute(t, file)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != "" {
		t.Errorf("expected no stdout, got %q", out)
	}
	if !strings.Contains(errOut, "lowered 2 functions") {
		t.Errorf("expected summary on stderr, got %q", errOut)
	}
}

func TestDMachFlag(t *testing.T) {
	resetFlags(t)
	file := writeInput(t, "prog.linear", sevenSrc)
	out, _, err := execute(t, "-dmach", file)
	if err != nil {
		t.Fatalf("expected no error for -dmach, got %v", err)
	}
	for _, want := range []string{"allocframe 16", "allocframe 24", "setstack(X19, 16, any64)", `call "seven"`, "freeframe"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, out)
		}
	}

	machFile := strings.TrimSuffix(file, ".linear") + ".mach"
	written, err := os.ReadFile(machFile)
	if err != nil {
		t.Fatalf("expected %s to be written: %v", machFile, err)
	}
	if string(written) != out {
		t.Errorf("%s differs from stdout:\n%s", machFile, written)
	}
}

func TestNoMachFileWithoutFlag(t *testing.T) {
	resetFlags(t)
	file := writeInput(t, "prog.linear", sevenSrc)
	if _, _, err := execute(t, file); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, err := os.Stat(strings.TrimSuffix(file, ".linear") + ".mach"); !os.IsNotExist(err) {
		t.Errorf("expected no .mach file without -dmach, stat error %v", err)
	}
}

func TestDLayoutFlag(t *testing.T) {
	tests := []struct {
		target string
		want   []string
	}{
		{"aarch64", []string{"seven: framesize 16", "twice: framesize 24", "callee-save  [16, 24)"}},
		{"ilp32", []string{"seven: framesize 8", "twice: framesize 16", "callee-save  [8, 16)"}},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			resetFlags(t)
			file := writeInput(t, "prog.linear", sevenSrc)
			out, _, err := execute(t, "-dlayout", "--target", tt.target, file)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			for _, want := range tt.want {
				if !strings.Contains(out, want) {
					t.Errorf("expected output to contain %q, got:\n%s", want, out)
				}
			}
		})
	}
}

func TestDLinearFlag(t *testing.T) {
	resetFlags(t)
	file := writeInput(t, "prog.linear", sevenSrc)
	out, _, err := execute(t, "-dlinear", file)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(out, "seven(): int") || !strings.Contains(out, `call "seven"`) {
		t.Errorf("expected the Linear program, got:\n%s", out)
	}
}

func TestRunFlag(t *testing.T) {
	for _, name := range target.Presets() {
		t.Run(name, func(t *testing.T) {
			resetFlags(t)
			file := writeInput(t, "prog.linear", sevenSrc)
			out, errOut, err := execute(t, "--target", name, "--run", "twice", "--args", "5", "-v", file)
			if err != nil {
				t.Fatalf("expected no error, got %v (stderr %q)", err, errOut)
			}
			if strings.TrimSpace(out) != "twice = 12" {
				t.Errorf("output = %q, want %q", out, "twice = 12")
			}
			if !strings.Contains(errOut, "agreement checks") {
				t.Errorf("expected verbose run statistics, got %q", errOut)
			}
		})
	}
}

func TestRunUnknownEntry(t *testing.T) {
	resetFlags(t)
	file := writeInput(t, "prog.linear", sevenSrc)
	_, errOut, err := execute(t, "--run", "missing", file)
	if err == nil {
		t.Fatal("expected an error for an unknown entry point")
	}
	if !strings.Contains(errOut, "run missing") {
		t.Errorf("expected the error on stderr, got %q", errOut)
	}
}

func TestTargetSelection(t *testing.T) {
	resetFlags(t)
	file := writeInput(t, "prog.linear", sevenSrc)

	_, errOut, err := execute(t, "--target", "pdp11", file)
	if err == nil || !strings.Contains(errOut, "bad target") {
		t.Errorf("unknown preset: err = %v, stderr %q", err, errOut)
	}

	resetFlags(t)
	t.Setenv(target.EnvTarget, "ilp32")
	out, _, err := execute(t, "-dlayout", file)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(out, "seven: framesize 8") {
		t.Errorf("expected %s to select ilp32, got:\n%s", target.EnvTarget, out)
	}

	resetFlags(t)
	t.Setenv(target.EnvMaxFrame, "16")
	_, errOut, err = execute(t, file)
	if err == nil || !strings.Contains(errOut, "frame") {
		t.Errorf("expected twice to exceed a 16 byte limit, err = %v, stderr %q", err, errOut)
	}

	resetFlags(t)
	t.Setenv(target.EnvMaxFrame, "lots")
	_, errOut, err = execute(t, file)
	if err == nil || !strings.Contains(errOut, "bad target") {
		t.Errorf("malformed %s: err = %v, stderr %q", target.EnvMaxFrame, err, errOut)
	}
}

func TestTargetFile(t *testing.T) {
	resetFlags(t)
	file := writeInput(t, "prog.linear", sevenSrc)
	tgtFile := writeInput(t, "tiny.yaml", "base: aarch64\nmax_frame_size: 16\n")
	_, errOut, err := execute(t, "--target-file", tgtFile, file)
	if err == nil {
		t.Fatal("expected a frame size error with a 16 byte limit")
	}
	if !strings.Contains(errOut, "twice") {
		t.Errorf("expected the error to name twice, got %q", errOut)
	}
}

func TestMissingFile(t *testing.T) {
	resetFlags(t)
	_, errOut, err := execute(t, filepath.Join(t.TempDir(), "nope.linear"))
	if err == nil {
		t.Fatal("expected an error for a missing file")
	}
	if !strings.Contains(errOut, "error reading") {
		t.Errorf("expected a read error, got %q", errOut)
	}
}

func TestParseError(t *testing.T) {
	resetFlags(t)
	file := writeInput(t, "bad.linear", "f(): int {\n  X0 = frobnicate(\n}\n")
	if _, _, err := execute(t, file); err == nil {
		t.Error("expected a parse error")
	}
}

func TestMachOutputFilename(t *testing.T) {
	tests := []struct{ in, want string }{
		{"prog.linear", "prog.mach"},
		{"dir/prog.linear", "dir/prog.mach"},
		{"prog.txt", "prog.txt.mach"},
	}
	for _, tt := range tests {
		if got := machOutputFilename(tt.in); got != tt.want {
			t.Errorf("machOutputFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
