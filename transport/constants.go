package transport

// QueueType identifies one of the four transport queues.
type QueueType uint8

// Transport queue types, in shared-memory layout order.
const (
	QueueA2PRequest QueueType = iota // A-side requests to P-side
	QueueP2AAck                      // P-side acknowledgements to A-side
	QueueP2ARequest                  // P-side requests to A-side
	QueueA2PAck                      // A-side acknowledgements to P-side
	QueueMax
)

// String returns a human-readable queue name.
func (q QueueType) String() string {
	switch q {
	case QueueA2PRequest:
		return "a2p-req"
	case QueueP2AAck:
		return "p2a-ack"
	case QueueP2ARequest:
		return "p2a-req"
	case QueueA2PAck:
		return "a2p-ack"
	default:
		return "unknown"
	}
}

// MessageType is the request type encoded in the header flags.
type MessageType uint8

// RPMI message types.
const (
	// MessageNormalRequest is a request answered with an acknowledgement.
	MessageNormalRequest MessageType = 0x0
	// MessagePostedRequest is a request without any acknowledgement.
	MessagePostedRequest MessageType = 0x1
	// MessageAcknowledgement acknowledges a normal request.
	MessageAcknowledgement MessageType = 0x2
	// MessageNotification is an unsolicited notification.
	MessageNotification MessageType = 0x3
)

// Header flags field layout.
const (
	// FlagsTypeMask selects the message type bits.
	FlagsTypeMask = 0x7

	// FlagDoorbell requests a P2A MSI injection once the request is
	// handled; for a normal request, after the acknowledgement is
	// enqueued.
	FlagDoorbell = 1 << 3
)

// Framing constants.
const (
	// HeaderSize is the fixed message header size in bytes.
	HeaderSize = 8

	// SlotSizeMin is the minimum queue slot size in bytes. Slot sizes
	// are powers of two.
	SlotSizeMin = 64
)
