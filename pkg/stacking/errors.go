package stacking

import (
	"errors"
	"fmt"

	"github.com/raymyers/ralph-stack/pkg/ltl"
)

var (
	// ErrFrameTooLarge indicates the packed frame exceeds the target's
	// maximum representable offset
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrIllFormedSlot indicates the input violates the slot discipline the
	// register allocator guarantees (an internal consistency error)
	ErrIllFormedSlot = errors.New("ill-formed slot")
)

// FrameTooLargeError reports a frame whose size exceeds Max.
// Size is a lower bound when the packing overflowed part way.
type FrameTooLargeError struct {
	Func string
	Size int64
	Max  int64
}

func (e *FrameTooLargeError) Error() string {
	return fmt.Sprintf("%s: frame size %d exceeds maximum %d", e.Func, e.Size, e.Max)
}

func (e *FrameTooLargeError) Unwrap() error { return ErrFrameTooLarge }

// IllFormedSlotError reports the offending location and instruction index
type IllFormedSlotError struct {
	Func   string
	Index  int // instruction index in the Linear code
	Loc    ltl.Loc
	Reason string
}

func (e *IllFormedSlotError) Error() string {
	return fmt.Sprintf("internal error: %s: instruction %d: %v: %s", e.Func, e.Index, e.Loc, e.Reason)
}

func (e *IllFormedSlotError) Unwrap() error { return ErrIllFormedSlot }
