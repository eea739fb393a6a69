package vm

import (
	"encoding/binary"
	"fmt"
)

// Handle is an opaque reference to a block allocated by a script. Zero is
// the null handle; handles are never reused within one VM.
type Handle uint32

// Heap is the arena behind the allocate/deallocate opcodes. Scripts only
// ever see handles, so a double free or a use after free is a script
// error rather than memory corruption.
//
// Heap is owned by the VM and is only touched from inside a tick (or a
// Worker request), so it carries no lock of its own.
type Heap struct {
	blocks map[Handle][]byte
	next   Handle
}

// NewHeap creates an empty arena.
func NewHeap() *Heap {
	return &Heap{
		blocks: make(map[Handle][]byte),
		next:   1,
	}
}

// Alloc reserves a zeroed block of size bytes.
func (h *Heap) Alloc(size int) (Handle, error) {
	if size < 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	if h.next == 0 {
		return 0, fmt.Errorf("%w: handle space exhausted", ErrInvalidSize)
	}
	handle := h.next
	h.next++
	h.blocks[handle] = make([]byte, size)
	return handle, nil
}

// Free releases a block. size must match the allocation.
func (h *Heap) Free(handle Handle, size int) error {
	block, err := h.lookup(handle)
	if err != nil {
		return err
	}
	if size != len(block) {
		return fmt.Errorf("%w: handle %d has size %d, freed with %d", ErrInvalidHandle, handle, len(block), size)
	}
	delete(h.blocks, handle)
	return nil
}

// Bytes returns the live block for handle.
func (h *Heap) Bytes(handle Handle) ([]byte, error) {
	return h.lookup(handle)
}

// Live returns the number of allocated blocks.
func (h *Heap) Live() int {
	return len(h.blocks)
}

func (h *Heap) lookup(handle Handle) ([]byte, error) {
	if block, ok := h.blocks[handle]; ok {
		return block, nil
	}
	// Handles are handed out in order, so an issued handle with no block
	// has been freed.
	if handle != 0 && handle < h.next {
		return nil, fmt.Errorf("%w: handle %d already freed", ErrInvalidHandle, handle)
	}
	return nil, fmt.Errorf("%w: handle %d", ErrInvalidHandle, handle)
}

// span validates an access of size bytes at off and returns the slice.
func (h *Heap) span(handle Handle, off, size int) ([]byte, error) {
	block, err := h.lookup(handle)
	if err != nil {
		return nil, err
	}
	switch size {
	case 1, 2, 4:
	default:
		return nil, fmt.Errorf("%w: access width %d", ErrInvalidSize, size)
	}
	if off < 0 || off+size > len(block) {
		return nil, fmt.Errorf("%w: access [%d:%d] outside block of %d bytes", ErrInvalidSize, off, off+size, len(block))
	}
	return block[off : off+size], nil
}

// ReadUint reads a little-endian value of 1, 2 or 4 bytes.
func (h *Heap) ReadUint(handle Handle, off, size int) (uint32, error) {
	b, err := h.span(handle, off, size)
	if err != nil {
		return 0, err
	}
	switch size {
	case 1:
		return uint32(b[0]), nil
	case 2:
		return uint32(binary.LittleEndian.Uint16(b)), nil
	default:
		return binary.LittleEndian.Uint32(b), nil
	}
}

// WriteUint writes the low size bytes of v, little-endian.
func (h *Heap) WriteUint(handle Handle, off, size int, v uint32) error {
	b, err := h.span(handle, off, size)
	if err != nil {
		return err
	}
	switch size {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	default:
		binary.LittleEndian.PutUint32(b, v)
	}
	return nil
}
