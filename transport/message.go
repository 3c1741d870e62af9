package transport

import (
	"encoding/binary"
)

// Header is the fixed 8-byte RPMI message header. Fields are kept in
// native byte order in memory; the transport converts multi-byte
// fields at the enqueue/dequeue boundary.
type Header struct {
	ServiceGroupID uint16
	ServiceID      uint8
	Flags          uint8
	DataLen        uint16
	Token          uint16
}

// Type returns the message type encoded in the flags.
func (h *Header) Type() MessageType {
	return MessageType(h.Flags & FlagsTypeMask)
}

// Doorbell reports whether the doorbell flag is set.
func (h *Header) Doorbell() bool {
	return h.Flags&FlagDoorbell != 0
}

// EncodeTo writes the header into the first [HeaderSize] bytes of buf
// using bo for multi-byte fields. Returns false if buf is too short.
func (h *Header) EncodeTo(bo binary.ByteOrder, buf []byte) bool {
	if len(buf) < HeaderSize {
		return false
	}
	bo.PutUint16(buf[0:2], h.ServiceGroupID)
	buf[2] = h.ServiceID
	buf[3] = h.Flags
	bo.PutUint16(buf[4:6], h.DataLen)
	bo.PutUint16(buf[6:8], h.Token)
	return true
}

// DecodeFrom reads the header from the first [HeaderSize] bytes of buf
// using bo for multi-byte fields. Returns false if buf is too short.
func (h *Header) DecodeFrom(bo binary.ByteOrder, buf []byte) bool {
	if len(buf) < HeaderSize {
		return false
	}
	h.ServiceGroupID = bo.Uint16(buf[0:2])
	h.ServiceID = buf[2]
	h.Flags = buf[3]
	h.DataLen = bo.Uint16(buf[4:6])
	h.Token = bo.Uint16(buf[6:8])
	return true
}

// Message is an RPMI message: a header plus a payload. Data holds the
// payload with len(Data) == int(Header.DataLen); its capacity bounds
// the largest payload the message can receive on dequeue.
type Message struct {
	Header Header
	Data   []byte
}

// NewMessage allocates a message whose payload capacity matches the
// given transport slot size.
func NewMessage(slotSize uint32) *Message {
	return &Message{
		Data: make([]byte, 0, slotSize-HeaderSize),
	}
}

// MaxDataLen returns the payload capacity of the message.
func (m *Message) MaxDataLen() int {
	return cap(m.Data)
}

// PutU32 stores v at 32-bit word index in b using bo. Message payloads
// are sequences of little- or big-endian 32-bit words per the
// transport byte order.
func PutU32(bo binary.ByteOrder, b []byte, word int, v uint32) {
	bo.PutUint32(b[word*4:word*4+4], v)
}

// U32 loads the 32-bit word at index from b using bo.
func U32(bo binary.ByteOrder, b []byte, word int) uint32 {
	return bo.Uint32(b[word*4 : word*4+4])
}

// PutU64 stores v as two consecutive 32-bit words (low word first)
// starting at word index.
func PutU64(bo binary.ByteOrder, b []byte, word int, v uint64) {
	PutU32(bo, b, word, uint32(v))
	PutU32(bo, b, word+1, uint32(v>>32))
}

// U64 loads two consecutive 32-bit words (low word first) starting at
// word index.
func U64(bo binary.ByteOrder, b []byte, word int) uint64 {
	return uint64(U32(bo, b, word)) | uint64(U32(bo, b, word+1))<<32
}
