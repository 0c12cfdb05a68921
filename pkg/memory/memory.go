// Package memory is a small block-based memory model used to run lowered
// code: frames and globals are separate blocks, accesses must stay inside one
// live block and be naturally aligned.
package memory

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/raymyers/ralph-stack/pkg/ltl"
)

var (
	ErrUnmapped   = errors.New("access outside any live block")
	ErrMisaligned = errors.New("misaligned access")
	ErrBadFree    = errors.New("free does not match a live block")
)

// Base is the address of the first allocated block
const Base uint64 = 0x1000

// blockAlign keeps block bases aligned for any access size
const blockAlign = 16

type Block struct {
	Addr uint64
	Size uint64
	Data []byte
	Live bool
}

func (b *Block) Contains(addr, size uint64) bool {
	return addr >= b.Addr && size <= b.Size && addr-b.Addr <= b.Size-size
}

// Memory hands out blocks with a bump allocator. Addresses are never reused,
// so a stale pointer into a freed frame faults instead of aliasing.
type Memory struct {
	blocks []*Block
	next   uint64
}

func New() *Memory {
	return &Memory{next: Base}
}

// Alloc returns the base of a fresh zeroed block of size bytes
func (m *Memory) Alloc(size int64) (uint64, error) {
	if size < 0 {
		return 0, errors.Errorf("alloc of negative size %d", size)
	}
	addr := m.next
	span := (uint64(size) + blockAlign) &^ (blockAlign - 1) // at least one guard byte
	if addr+span < addr {
		return 0, errors.Errorf("alloc of %d bytes exhausts the address space", size)
	}
	m.next = addr + span
	m.blocks = append(m.blocks, &Block{Addr: addr, Size: uint64(size), Data: make([]byte, size), Live: true})
	return addr, nil
}

// Free releases the block at addr, which must be live and exactly size bytes
func (m *Memory) Free(addr uint64, size int64) error {
	b := m.block(addr)
	if b == nil || b.Addr != addr || !b.Live {
		return errors.Wrapf(ErrBadFree, "free(%#x, %d)", addr, size)
	}
	if b.Size != uint64(size) {
		return errors.Wrapf(ErrBadFree, "free(%#x, %d) of a %d byte block", addr, size, b.Size)
	}
	b.Live = false
	b.Data = nil
	return nil
}

// block returns the block whose span covers addr, live or not
func (m *Memory) block(addr uint64) *Block {
	for _, b := range m.blocks {
		if addr >= b.Addr && addr-b.Addr <= b.Size {
			return b
		}
	}
	return nil
}

// Find returns the live block holding [addr, addr+size), or nil
func (m *Memory) Find(addr, size uint64) *Block {
	b := m.block(addr)
	if b == nil || !b.Live || !b.Contains(addr, size) {
		return nil
	}
	return b
}

// LiveBlocks counts blocks that have not been freed
func (m *Memory) LiveBlocks() int {
	n := 0
	for _, b := range m.blocks {
		if b.Live {
			n++
		}
	}
	return n
}

func (m *Memory) Read(addr uint64, p []byte) error {
	b := m.Find(addr, uint64(len(p)))
	if b == nil {
		return errors.Wrapf(ErrUnmapped, "read of %d bytes at %#x", len(p), addr)
	}
	copy(p, b.Data[addr-b.Addr:])
	return nil
}

func (m *Memory) Write(addr uint64, p []byte) error {
	b := m.Find(addr, uint64(len(p)))
	if b == nil {
		return errors.Wrapf(ErrUnmapped, "write of %d bytes at %#x", len(p), addr)
	}
	copy(b.Data[addr-b.Addr:], p)
	return nil
}

func (m *Memory) loadN(addr uint64, n int64) (uint64, error) {
	if n <= 0 {
		return 0, errors.Errorf("load of %d bytes", n)
	}
	if addr%uint64(n) != 0 {
		return 0, errors.Wrapf(ErrMisaligned, "load of %d bytes at %#x", n, addr)
	}
	var buf [8]byte
	if err := m.Read(addr, buf[:n]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func (m *Memory) storeN(addr uint64, n int64, v int64) error {
	if n <= 0 {
		return errors.Errorf("store of %d bytes", n)
	}
	if addr%uint64(n) != 0 {
		return errors.Wrapf(ErrMisaligned, "store of %d bytes at %#x", n, addr)
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	return m.Write(addr, buf[:n])
}

// Load reads a value of type ty
func (m *Memory) Load(addr uint64, ty ltl.Typ) (int64, error) {
	raw, err := m.loadN(addr, ty.Size())
	if err != nil {
		return 0, errors.Wrapf(err, "load %s", ty)
	}
	return ty.Normalize(int64(raw)), nil
}

// Store writes v with type ty
func (m *Memory) Store(addr uint64, ty ltl.Typ, v int64) error {
	return errors.Wrapf(m.storeN(addr, ty.Size(), v), "store %s", ty)
}

// LoadChunk reads with the size and extension of chunk
func (m *Memory) LoadChunk(addr uint64, chunk ltl.Chunk) (int64, error) {
	raw, err := m.loadN(addr, chunk.Size())
	if err != nil {
		return 0, errors.Wrapf(err, "load %s", chunk)
	}
	return chunk.Normalize(int64(raw)), nil
}

// StoreChunk writes the low bytes of v selected by chunk
func (m *Memory) StoreChunk(addr uint64, chunk ltl.Chunk, v int64) error {
	return errors.Wrapf(m.storeN(addr, chunk.Size(), v), "store %s", chunk)
}
