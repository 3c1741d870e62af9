package transport

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderEncodeDecodeIdentity(t *testing.T) {
	orders := []binary.ByteOrder{binary.LittleEndian, binary.BigEndian}

	for _, bo := range orders {
		h := Header{
			ServiceGroupID: 0x0102,
			ServiceID:      0x03,
			Flags:          uint8(MessageNormalRequest) | FlagDoorbell,
			DataLen:        0x0405,
			Token:          0x0607,
		}

		var buf [HeaderSize]byte
		require.True(t, h.EncodeTo(bo, buf[:]))

		var got Header
		require.True(t, got.DecodeFrom(bo, buf[:]))
		assert.Equal(t, h, got)
	}
}

func TestHeaderWireLayout(t *testing.T) {
	h := Header{
		ServiceGroupID: 0x0001,
		ServiceID:      0x04,
		Flags:          uint8(MessageAcknowledgement),
		DataLen:        8,
		Token:          0xBEEF,
	}

	var buf [HeaderSize]byte
	require.True(t, h.EncodeTo(binary.LittleEndian, buf[:]))

	assert.Equal(t, []byte{0x01, 0x00}, buf[0:2], "servicegroup id")
	assert.Equal(t, byte(0x04), buf[2], "service id")
	assert.Equal(t, byte(0x02), buf[3], "flags")
	assert.Equal(t, []byte{0x08, 0x00}, buf[4:6], "datalen")
	assert.Equal(t, []byte{0xEF, 0xBE}, buf[6:8], "token")
}

func TestHeaderShortBuffer(t *testing.T) {
	var h Header
	short := make([]byte, HeaderSize-1)
	assert.False(t, h.EncodeTo(binary.LittleEndian, short))
	assert.False(t, h.DecodeFrom(binary.LittleEndian, short))
}

func TestHeaderTypeAndDoorbell(t *testing.T) {
	h := Header{Flags: uint8(MessagePostedRequest)}
	assert.Equal(t, MessagePostedRequest, h.Type())
	assert.False(t, h.Doorbell())

	h.Flags |= FlagDoorbell
	assert.Equal(t, MessagePostedRequest, h.Type())
	assert.True(t, h.Doorbell())
}

func TestPayloadWordHelpers(t *testing.T) {
	buf := make([]byte, 16)

	PutU32(binary.LittleEndian, buf, 0, 0x11223344)
	assert.Equal(t, uint32(0x11223344), U32(binary.LittleEndian, buf, 0))

	PutU64(binary.BigEndian, buf, 1, 0xAABBCCDD_00112233)
	assert.Equal(t, uint64(0xAABBCCDD_00112233), U64(binary.BigEndian, buf, 1))

	// 64-bit values are split low word first.
	assert.Equal(t, uint32(0x00112233), U32(binary.BigEndian, buf, 1))
	assert.Equal(t, uint32(0xAABBCCDD), U32(binary.BigEndian, buf, 2))
}

func TestNewMessageCapacity(t *testing.T) {
	m := NewMessage(64)
	assert.Equal(t, 64-HeaderSize, m.MaxDataLen())
	assert.Len(t, m.Data, 0)
}
