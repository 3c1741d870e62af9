package transport

import (
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/softrpmi/pkg"
	"github.com/ardnew/softrpmi/shmem"
)

// newTestTransport builds a shared-memory transport over an in-memory
// window sized to hold the requested queues.
func newTestTransport(t *testing.T, slotSize, a2pSize, p2aSize uint32, bigEndian bool) (*SharedMemory, *shmem.MemOps) {
	t.Helper()

	total := 2*a2pSize + 2*p2aSize
	ops := shmem.NewMemOps(make([]byte, total))
	mem, err := shmem.New("test-shm", 0x9000_0000, total, ops)
	require.NoError(t, err)

	trans, err := NewSharedMemory(SharedMemoryConfig{
		Name:                "test",
		SlotSize:            slotSize,
		A2PRequestQueueSize: a2pSize,
		P2ARequestQueueSize: p2aSize,
		BigEndian:           bigEndian,
		Mem:                 mem,
	})
	require.NoError(t, err)
	return trans, ops
}

func TestConstructionValidation(t *testing.T) {
	mem := func(size uint32) *shmem.Shmem {
		s, err := shmem.New("shm", 0, size, shmem.NewMemOps(make([]byte, size)))
		require.NoError(t, err)
		return s
	}

	cases := []struct {
		name string
		cfg  SharedMemoryConfig
	}{
		{"missing name", SharedMemoryConfig{SlotSize: 64, A2PRequestQueueSize: 256, Mem: mem(512)}},
		{"missing mem", SharedMemoryConfig{Name: "t", SlotSize: 64, A2PRequestQueueSize: 256}},
		{"slot too small", SharedMemoryConfig{Name: "t", SlotSize: 32, A2PRequestQueueSize: 256, Mem: mem(512)}},
		{"slot not power of two", SharedMemoryConfig{Name: "t", SlotSize: 96, A2PRequestQueueSize: 384, Mem: mem(768)}},
		{"queue not slot multiple", SharedMemoryConfig{Name: "t", SlotSize: 64, A2PRequestQueueSize: 250, Mem: mem(512)}},
		{"queue below minimum", SharedMemoryConfig{Name: "t", SlotSize: 64, A2PRequestQueueSize: 128, Mem: mem(512)}},
		{"p2a queue below minimum", SharedMemoryConfig{Name: "t", SlotSize: 64, A2PRequestQueueSize: 256, P2ARequestQueueSize: 64, Mem: mem(1024)}},
		{"window too small", SharedMemoryConfig{Name: "t", SlotSize: 64, A2PRequestQueueSize: 256, Mem: mem(256)}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewSharedMemory(tc.cfg)
			assert.Error(t, err)
		})
	}
}

func TestWindowZeroFilled(t *testing.T) {
	size := uint32(512)
	backing := make([]byte, size)
	for i := range backing {
		backing[i] = 0xFF
	}
	mem, err := shmem.New("shm", 0, size, shmem.NewMemOps(backing))
	require.NoError(t, err)

	_, err = NewSharedMemory(SharedMemoryConfig{
		Name:                "t",
		SlotSize:            64,
		A2PRequestQueueSize: 256,
		Mem:                 mem,
	})
	require.NoError(t, err)

	for i, b := range backing {
		require.Zero(t, b, "byte %d", i)
	}
}

func TestEnqueueDequeueRoundtrip(t *testing.T) {
	for _, bigEndian := range []bool{false, true} {
		trans, _ := newTestTransport(t, 64, 4096, 0, bigEndian)

		out := NewMessage(64)
		out.Header = Header{
			ServiceGroupID: 0x0008,
			ServiceID:      0x07,
			Flags:          uint8(MessageNormalRequest) | FlagDoorbell,
			Token:          0x1234,
		}
		out.Data = out.Data[:12]
		for i := range out.Data {
			out.Data[i] = byte(i + 1)
		}

		require.NoError(t, trans.Enqueue(QueueA2PRequest, out))

		in := NewMessage(64)
		require.NoError(t, trans.Dequeue(QueueA2PRequest, in))

		assert.Equal(t, out.Header, in.Header)
		assert.Equal(t, out.Data, in.Data)
	}
}

func TestRingIndicesAlwaysLittleEndian(t *testing.T) {
	trans, ops := newTestTransport(t, 64, 4096, 0, true)

	msg := NewMessage(64)
	msg.Header.ServiceGroupID = 0x0102
	require.NoError(t, trans.Enqueue(QueueA2PRequest, msg))

	// Tail index lives in the second slot of the queue, little-endian
	// even on a big-endian transport.
	tail := binary.LittleEndian.Uint32(ops.Bytes()[64:68])
	assert.Equal(t, uint32(1), tail)

	// The header's group ID is big-endian on the wire.
	assert.Equal(t, []byte{0x01, 0x02}, ops.Bytes()[128:130])
}

func TestFIFOProperty(t *testing.T) {
	for _, slotSize := range []uint32{64, 128, 256, 512, 1024} {
		trans, _ := newTestTransport(t, slotSize, 8*slotSize, 0, false)
		rng := rand.New(rand.NewSource(int64(slotSize)))

		var expect []uint16
		next := uint16(0)
		received := 0

		in := NewMessage(slotSize)
		for op := 0; op < 1000; op++ {
			if rng.Intn(2) == 0 {
				out := NewMessage(slotSize)
				out.Header.Token = next
				out.Data = out.Data[:4]
				binary.LittleEndian.PutUint32(out.Data, uint32(next))

				err := trans.Enqueue(QueueA2PRequest, out)
				if err == nil {
					expect = append(expect, next)
					next++
				} else {
					require.ErrorIs(t, err, pkg.ErrIO)
					require.True(t, trans.IsFull(QueueA2PRequest))
				}
			} else {
				err := trans.Dequeue(QueueA2PRequest, in)
				if err == nil {
					require.NotEmpty(t, expect)
					require.Equal(t, expect[0], in.Header.Token,
						"messages must dequeue in FIFO order")
					expect = expect[1:]
					received++
				} else {
					require.ErrorIs(t, err, pkg.ErrIO)
					require.Empty(t, expect)
					require.True(t, trans.IsEmpty(QueueA2PRequest))
				}
			}
		}
		require.Greater(t, received, 0)
	}
}

func TestEmptyFullInvariants(t *testing.T) {
	// 4-slot queue: 2 index slots + 2 data slots, capacity 1 message.
	trans, _ := newTestTransport(t, 64, 256, 0, false)

	assert.True(t, trans.IsEmpty(QueueA2PRequest))
	assert.False(t, trans.IsFull(QueueA2PRequest))

	msg := NewMessage(64)
	require.NoError(t, trans.Enqueue(QueueA2PRequest, msg))
	assert.False(t, trans.IsEmpty(QueueA2PRequest))
	assert.True(t, trans.IsFull(QueueA2PRequest))

	assert.ErrorIs(t, trans.Enqueue(QueueA2PRequest, msg), pkg.ErrIO)

	in := NewMessage(64)
	require.NoError(t, trans.Dequeue(QueueA2PRequest, in))
	assert.True(t, trans.IsEmpty(QueueA2PRequest))
	assert.ErrorIs(t, trans.Dequeue(QueueA2PRequest, in), pkg.ErrIO)
}

func TestQueueCapacity(t *testing.T) {
	// 8 slots per queue: 6 data slots, capacity 5 messages.
	trans, _ := newTestTransport(t, 64, 512, 0, false)

	msg := NewMessage(64)
	for i := 0; i < 5; i++ {
		require.NoError(t, trans.Enqueue(QueueA2PRequest, msg), "message %d", i)
	}
	assert.True(t, trans.IsFull(QueueA2PRequest))
	assert.ErrorIs(t, trans.Enqueue(QueueA2PRequest, msg), pkg.ErrIO)
}

func TestP2AChannelAbsent(t *testing.T) {
	trans, _ := newTestTransport(t, 64, 4096, 0, false)

	assert.False(t, trans.IsP2AChannel())

	msg := NewMessage(64)
	assert.ErrorIs(t, trans.Enqueue(QueueP2ARequest, msg), pkg.ErrInvalidParam)
	assert.ErrorIs(t, trans.Enqueue(QueueA2PAck, msg), pkg.ErrInvalidParam)
	assert.ErrorIs(t, trans.Dequeue(QueueP2ARequest, msg), pkg.ErrInvalidParam)

	// A2P request and P2A acknowledgement still work.
	require.NoError(t, trans.Enqueue(QueueP2AAck, msg))
}

func TestP2AChannelPresent(t *testing.T) {
	trans, _ := newTestTransport(t, 64, 1024, 512, false)

	assert.True(t, trans.IsP2AChannel())

	msg := NewMessage(64)
	msg.Header.Token = 77
	require.NoError(t, trans.Enqueue(QueueP2ARequest, msg))
	require.NoError(t, trans.Enqueue(QueueA2PAck, msg))

	in := NewMessage(64)
	require.NoError(t, trans.Dequeue(QueueP2ARequest, in))
	assert.Equal(t, uint16(77), in.Header.Token)
}

func TestOversizedPayloadRejected(t *testing.T) {
	trans, _ := newTestTransport(t, 64, 4096, 0, false)

	msg := &Message{Data: make([]byte, 64-HeaderSize+1)}
	assert.ErrorIs(t, trans.Enqueue(QueueA2PRequest, msg), pkg.ErrInvalidParam)
}
