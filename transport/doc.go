// Package transport implements the RPMI message transport between the
// platform microcontroller (P-side) and application processors
// (A-side).
//
// # Message Framing
//
// Every message is an 8-byte [Header] followed by a payload of up to
// SlotSize - [HeaderSize] bytes. Multi-byte header fields and payload
// words follow the transport byte order; a [Header] in memory is
// always native, with conversion happening at the enqueue/dequeue
// boundary.
//
// # Queues
//
// A transport carries up to four queues ([QueueType]): the A2P
// request/P2A acknowledgement pair, and optionally the P2A request/A2P
// acknowledgement pair for P-side initiated messages. Within one queue
// FIFO order is preserved; across queues there is no ordering, and the
// 16-bit token is the only request/acknowledgement correlation.
//
// # Shared-Memory Rings
//
// [SharedMemory] is the concrete transport: each queue is a ring of
// fixed-size slots in a [shmem.Shmem] window, with the head index in
// slot 0, the tail index in slot 1 (both always little-endian), and
// data in the remaining slots. A queue is empty when head == tail and
// full when (tail+1) mod dataSlots == head. Enqueue and Dequeue return
// [pkg.ErrIO] on full and empty queues as a back-pressure signal.
package transport
