package shmem

// CacheMaintenance provides the cache hooks required to access a
// shared-memory window that is not coherent with the other executor.
// Clean writes dirty lines back; Invalidate discards stale lines.
type CacheMaintenance interface {
	Clean(offset, count uint32)
	Invalidate(offset, count uint32)
}

// MemOps is the stock operation table for a cache-coherent window
// backed by ordinary memory. It delegates directly to byte copies.
type MemOps struct {
	mem []byte
}

// NewMemOps creates a coherent operation table over mem.
func NewMemOps(mem []byte) *MemOps {
	return &MemOps{mem: mem}
}

// Bytes returns the backing slice. Intended for tests and simulated
// A-side peers that share the window in-process.
func (o *MemOps) Bytes() []byte {
	return o.mem
}

// Read copies from the backing memory.
func (o *MemOps) Read(offset uint32, dst []byte) error {
	copy(dst, o.mem[offset:])
	return nil
}

// Write copies into the backing memory.
func (o *MemOps) Write(offset uint32, src []byte) error {
	copy(o.mem[offset:], src)
	return nil
}

// Fill sets count bytes of the backing memory to b.
func (o *MemOps) Fill(offset uint32, b byte, count uint32) error {
	region := o.mem[offset : uint64(offset)+uint64(count)]
	for i := range region {
		region[i] = b
	}
	return nil
}

// NonCoherentOps is the stock operation table for a window that is not
// cache-coherent between executors. It cleans after every write and
// fill, and invalidates before every read, using the platform's
// cache-maintenance hooks.
type NonCoherentOps struct {
	mem   []byte
	cache CacheMaintenance
}

// NewNonCoherentOps creates a non-coherent operation table over mem
// with the given cache-maintenance hooks.
func NewNonCoherentOps(mem []byte, cache CacheMaintenance) *NonCoherentOps {
	return &NonCoherentOps{mem: mem, cache: cache}
}

// Read invalidates the accessed lines, then copies from memory.
func (o *NonCoherentOps) Read(offset uint32, dst []byte) error {
	o.cache.Invalidate(offset, uint32(len(dst)))
	copy(dst, o.mem[offset:])
	return nil
}

// Write copies into memory, then cleans the accessed lines.
func (o *NonCoherentOps) Write(offset uint32, src []byte) error {
	copy(o.mem[offset:], src)
	o.cache.Clean(offset, uint32(len(src)))
	return nil
}

// Fill sets the accessed bytes, then cleans the accessed lines.
func (o *NonCoherentOps) Fill(offset uint32, b byte, count uint32) error {
	region := o.mem[offset : uint64(offset)+uint64(count)]
	for i := range region {
		region[i] = b
	}
	o.cache.Clean(offset, count)
	return nil
}
