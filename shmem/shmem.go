package shmem

import (
	"github.com/ardnew/softrpmi/pkg"
)

// Ops performs raw access to a shared-memory window on behalf of a
// [Shmem] region. Offsets passed to an Ops implementation have already
// been bounds-checked against the region size.
//
// Platform vendors implement this interface to access device-backed
// windows (MMIO apertures, reserved DMA carveouts). The stock
// [MemOps] and [NonCoherentOps] implementations cover byte-addressable
// memory with and without cache coherence.
type Ops interface {
	// Read copies len(dst) bytes from the window at offset into dst.
	Read(offset uint32, dst []byte) error

	// Write copies src into the window at offset.
	Write(offset uint32, src []byte) error

	// Fill sets count bytes of the window at offset to b.
	Fill(offset uint32, b byte, count uint32) error
}

// Shmem is a named shared-memory region with a physical base address,
// a size, and an operation table performing the actual access.
type Shmem struct {
	name string
	base uint64
	size uint32
	ops  Ops
}

// New creates a shared-memory region handle. The base address is the
// physical address advertised to the application processor; all
// operations address the region by offset.
func New(name string, base uint64, size uint32, ops Ops) (*Shmem, error) {
	if name == "" || size == 0 || ops == nil {
		return nil, pkg.ErrInvalidParam
	}
	return &Shmem{
		name: name,
		base: base,
		size: size,
		ops:  ops,
	}, nil
}

// Name returns the region name.
func (s *Shmem) Name() string {
	return s.name
}

// Base returns the physical base address of the region.
func (s *Shmem) Base() uint64 {
	return s.base
}

// Size returns the region size in bytes.
func (s *Shmem) Size() uint32 {
	return s.size
}

// Read copies len(dst) bytes at offset into dst.
// Returns [pkg.ErrBadRange] if the access exceeds the region.
func (s *Shmem) Read(offset uint32, dst []byte) error {
	if s == nil || dst == nil {
		return pkg.ErrInvalidParam
	}
	if uint64(offset)+uint64(len(dst)) > uint64(s.size) {
		return pkg.ErrBadRange
	}
	return s.ops.Read(offset, dst)
}

// Write copies src into the region at offset.
// Returns [pkg.ErrBadRange] if the access exceeds the region.
func (s *Shmem) Write(offset uint32, src []byte) error {
	if s == nil || src == nil {
		return pkg.ErrInvalidParam
	}
	if uint64(offset)+uint64(len(src)) > uint64(s.size) {
		return pkg.ErrBadRange
	}
	return s.ops.Write(offset, src)
}

// Fill sets count bytes at offset to b.
// Returns [pkg.ErrBadRange] if the access exceeds the region.
func (s *Shmem) Fill(offset uint32, b byte, count uint32) error {
	if s == nil {
		return pkg.ErrInvalidParam
	}
	if uint64(offset)+uint64(count) > uint64(s.size) {
		return pkg.ErrBadRange
	}
	return s.ops.Fill(offset, b, count)
}
