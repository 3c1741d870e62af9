package transport

import (
	"encoding/binary"
	"sync"

	"github.com/ardnew/softrpmi/pkg"
	"github.com/ardnew/softrpmi/shmem"
)

// queueDesc locates one ring queue inside the shared-memory window.
type queueDesc struct {
	base      uint32 // byte offset of the queue
	size      uint32 // queue size in bytes
	dataSlots uint32 // number of data slots (slot count - 2)
}

// SharedMemory is the shared-memory ring transport. Each queue is a
// ring of fixed-size slots: slot 0 holds the head index, slot 1 the
// tail index, and slots 2..N-1 carry messages. Head and tail indices
// are maintained little-endian in shared memory regardless of the
// transport byte order; the reader advances head, the writer advances
// tail.
type SharedMemory struct {
	name     string
	mem      *shmem.Shmem
	slotSize uint32
	order    binary.ByteOrder
	p2a      bool
	queues   [QueueMax]queueDesc

	// mutex serializes ring access; slotBuf is the scratch slot
	// guarded by it.
	mutex   sync.Mutex
	slotBuf []byte
}

// SharedMemoryConfig holds the enumerated options recognized by
// [NewSharedMemory].
type SharedMemoryConfig struct {
	// Name labels the transport in logs.
	Name string

	// SlotSize is the fixed slot size in bytes: a power of two, at
	// least [SlotSizeMin].
	SlotSize uint32

	// A2PRequestQueueSize is the size in bytes of the A2P request
	// queue and, equally, of the P2A acknowledgement queue. Must be a
	// multiple of SlotSize and at least 4 slots.
	A2PRequestQueueSize uint32

	// P2ARequestQueueSize is the size in bytes of the P2A request
	// queue and of the A2P acknowledgement queue. Zero disables the
	// P2A pair entirely.
	P2ARequestQueueSize uint32

	// BigEndian selects big-endian wire encoding for message header
	// fields and payload words. Ring indices stay little-endian.
	BigEndian bool

	// Mem is the backing shared-memory region. The queues are placed
	// contiguously from offset 0 in the order A2P-REQ, P2A-ACK,
	// P2A-REQ, A2P-ACK. The region is zero-filled at construction.
	Mem *shmem.Shmem
}

// NewSharedMemory creates a shared-memory transport over the given
// region.
func NewSharedMemory(cfg SharedMemoryConfig) (*SharedMemory, error) {
	if cfg.Name == "" || cfg.Mem == nil {
		return nil, pkg.ErrInvalidParam
	}
	slot := cfg.SlotSize
	if slot < SlotSizeMin || slot&(slot-1) != 0 {
		return nil, pkg.ErrInvalidParam
	}
	if err := checkQueueSize(cfg.A2PRequestQueueSize, slot); err != nil {
		return nil, err
	}
	p2a := cfg.P2ARequestQueueSize != 0
	if p2a {
		if err := checkQueueSize(cfg.P2ARequestQueueSize, slot); err != nil {
			return nil, err
		}
	}

	total := uint64(cfg.A2PRequestQueueSize)*2 + uint64(cfg.P2ARequestQueueSize)*2
	if total > uint64(cfg.Mem.Size()) {
		return nil, pkg.ErrInvalidParam
	}

	if err := cfg.Mem.Fill(0, 0, cfg.Mem.Size()); err != nil {
		return nil, err
	}

	t := &SharedMemory{
		name:     cfg.Name,
		mem:      cfg.Mem,
		slotSize: slot,
		order:    binary.LittleEndian,
		p2a:      p2a,
		slotBuf:  make([]byte, slot),
	}
	if cfg.BigEndian {
		t.order = binary.BigEndian
	}

	a2pSize := cfg.A2PRequestQueueSize
	p2aSize := cfg.P2ARequestQueueSize
	t.queues[QueueA2PRequest] = newQueueDesc(0, a2pSize, slot)
	t.queues[QueueP2AAck] = newQueueDesc(a2pSize, a2pSize, slot)
	if p2a {
		t.queues[QueueP2ARequest] = newQueueDesc(2*a2pSize, p2aSize, slot)
		t.queues[QueueA2PAck] = newQueueDesc(2*a2pSize+p2aSize, p2aSize, slot)
	}

	pkg.LogDebug(pkg.ComponentTransport, "shared-memory transport created",
		"name", cfg.Name,
		"slot_size", slot,
		"a2p_queue_size", a2pSize,
		"p2a_queue_size", p2aSize)

	return t, nil
}

// checkQueueSize validates one queue size against the slot size.
func checkQueueSize(size, slot uint32) error {
	if size%slot != 0 || size < 4*slot {
		return pkg.ErrInvalidParam
	}
	return nil
}

func newQueueDesc(base, size, slot uint32) queueDesc {
	return queueDesc{
		base:      base,
		size:      size,
		dataSlots: size/slot - 2,
	}
}

// Name returns the transport name.
func (t *SharedMemory) Name() string {
	return t.name
}

// SlotSize returns the fixed slot size in bytes.
func (t *SharedMemory) SlotSize() uint32 {
	return t.slotSize
}

// ByteOrder returns the wire byte order.
func (t *SharedMemory) ByteOrder() binary.ByteOrder {
	return t.order
}

// IsP2AChannel reports whether the P2A queue pair exists.
func (t *SharedMemory) IsP2AChannel() bool {
	return t.p2a
}

// validQueue reports whether q names a usable queue on this channel.
func (t *SharedMemory) validQueue(q QueueType) bool {
	if q >= QueueMax {
		return false
	}
	if !t.p2a && q >= QueueP2ARequest {
		return false
	}
	return true
}

// headOffset returns the byte offset of the queue's head index slot.
func (t *SharedMemory) headOffset(q QueueType) uint32 {
	return t.queues[q].base
}

// tailOffset returns the byte offset of the queue's tail index slot.
func (t *SharedMemory) tailOffset(q QueueType) uint32 {
	return t.queues[q].base + t.slotSize
}

// readIndex reads a little-endian ring index from the window.
func (t *SharedMemory) readIndex(offset uint32) (uint32, error) {
	var buf [4]byte
	if err := t.mem.Read(offset, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// writeIndex writes a little-endian ring index into the window.
func (t *SharedMemory) writeIndex(offset, idx uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], idx)
	return t.mem.Write(offset, buf[:])
}

// isEmpty reports head == tail. Call with the mutex held.
func (t *SharedMemory) isEmpty(q QueueType) bool {
	head, err := t.readIndex(t.headOffset(q))
	if err != nil {
		pkg.LogWarn(pkg.ComponentTransport, "failed to read head index",
			"name", t.name, "queue", q.String(), "error", err)
		return false
	}
	tail, err := t.readIndex(t.tailOffset(q))
	if err != nil {
		pkg.LogWarn(pkg.ComponentTransport, "failed to read tail index",
			"name", t.name, "queue", q.String(), "error", err)
		return false
	}
	return head == tail
}

// isFull reports (tail+1) mod dataSlots == head. Call with the mutex
// held.
func (t *SharedMemory) isFull(q QueueType) bool {
	head, err := t.readIndex(t.headOffset(q))
	if err != nil {
		pkg.LogWarn(pkg.ComponentTransport, "failed to read head index",
			"name", t.name, "queue", q.String(), "error", err)
		return true
	}
	tail, err := t.readIndex(t.tailOffset(q))
	if err != nil {
		pkg.LogWarn(pkg.ComponentTransport, "failed to read tail index",
			"name", t.name, "queue", q.String(), "error", err)
		return true
	}
	return (tail+1)%t.queues[q].dataSlots == head
}

// IsEmpty reports whether the queue has no pending messages.
// Invalid queues report empty.
func (t *SharedMemory) IsEmpty(q QueueType) bool {
	if !t.validQueue(q) {
		return true
	}
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.isEmpty(q)
}

// IsFull reports whether the queue cannot accept another message.
// Invalid queues report full.
func (t *SharedMemory) IsFull(q QueueType) bool {
	if !t.validQueue(q) {
		return true
	}
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.isFull(q)
}

// Enqueue appends msg to the queue. The header DataLen field is
// derived from len(msg.Data). Returns [pkg.ErrIO] when the queue is
// full so the caller can spin-wait.
func (t *SharedMemory) Enqueue(q QueueType, msg *Message) error {
	if msg == nil || !t.validQueue(q) {
		return pkg.ErrInvalidParam
	}
	if uint32(len(msg.Data)) > t.slotSize-HeaderSize {
		return pkg.ErrInvalidParam
	}
	msg.Header.DataLen = uint16(len(msg.Data))

	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.isFull(q) {
		return pkg.ErrIO
	}

	tail, err := t.readIndex(t.tailOffset(q))
	if err != nil {
		return err
	}

	msg.Header.EncodeTo(t.order, t.slotBuf)
	copy(t.slotBuf[HeaderSize:], msg.Data)

	desc := &t.queues[q]
	if err := t.mem.Write(desc.base+(tail+2)*t.slotSize, t.slotBuf); err != nil {
		pkg.LogWarn(pkg.ComponentTransport, "failed to write message slot",
			"name", t.name, "queue", q.String(), "tail", tail, "error", err)
		return err
	}

	return t.writeIndex(t.tailOffset(q), (tail+1)%desc.dataSlots)
}

// Dequeue removes the oldest message from the queue into msg. The
// payload is copied into msg.Data, which must have capacity for
// SlotSize - HeaderSize bytes. Returns [pkg.ErrIO] when the queue is
// empty.
func (t *SharedMemory) Dequeue(q QueueType, msg *Message) error {
	if msg == nil || !t.validQueue(q) {
		return pkg.ErrInvalidParam
	}

	t.mutex.Lock()

	if t.isEmpty(q) {
		t.mutex.Unlock()
		return pkg.ErrIO
	}

	head, err := t.readIndex(t.headOffset(q))
	if err != nil {
		t.mutex.Unlock()
		return err
	}

	desc := &t.queues[q]
	if err := t.mem.Read(desc.base+(head+2)*t.slotSize, t.slotBuf); err != nil {
		t.mutex.Unlock()
		pkg.LogWarn(pkg.ComponentTransport, "failed to read message slot",
			"name", t.name, "queue", q.String(), "head", head, "error", err)
		return err
	}

	if err := t.writeIndex(t.headOffset(q), (head+1)%desc.dataSlots); err != nil {
		t.mutex.Unlock()
		return err
	}

	msg.Header.DecodeFrom(t.order, t.slotBuf)
	n := int(msg.Header.DataLen)
	if n > msg.MaxDataLen() {
		pkg.LogWarn(pkg.ComponentTransport, "truncating oversized payload",
			"name", t.name, "queue", q.String(), "datalen", n)
		n = msg.MaxDataLen()
		msg.Header.DataLen = uint16(n)
	}
	msg.Data = msg.Data[:n]
	copy(msg.Data, t.slotBuf[HeaderSize:HeaderSize+n])

	t.mutex.Unlock()
	return nil
}
