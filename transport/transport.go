package transport

import (
	"encoding/binary"
)

// Transport moves RPMI messages between the platform microcontroller
// and the application processors over four queues.
//
// Enqueue and Dequeue return [pkg.ErrIO] when the target queue is full
// or empty respectively; callers treat this as back-pressure and decide
// whether to retry. Implementations serialize queue access internally.
type Transport interface {
	// Name returns the transport name.
	Name() string

	// SlotSize returns the fixed queue slot size in bytes. The maximum
	// message payload is SlotSize() - HeaderSize.
	SlotSize() uint32

	// ByteOrder returns the wire byte order for message header fields
	// and payload words.
	ByteOrder() binary.ByteOrder

	// IsP2AChannel reports whether the P2A request/acknowledgement
	// queue pair exists. When false only the A2P pair is usable.
	IsP2AChannel() bool

	// IsEmpty reports whether the queue has no pending messages.
	IsEmpty(q QueueType) bool

	// IsFull reports whether the queue cannot accept another message.
	IsFull(q QueueType) bool

	// Enqueue appends msg to the queue.
	Enqueue(q QueueType, msg *Message) error

	// Dequeue removes the oldest message from the queue into msg.
	Dequeue(q QueueType, msg *Message) error
}
