package sysmsi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/softrpmi/pkg"
	"github.com/ardnew/softrpmi/platform"
	"github.com/ardnew/softrpmi/shmem"
	"github.com/ardnew/softrpmi/transport"
)

func testTransport(t *testing.T) transport.Transport {
	t.Helper()
	mem, err := shmem.New("q", 0, 4096, shmem.NewMemOps(make([]byte, 4096)))
	require.NoError(t, err)
	tr, err := transport.NewSharedMemory(transport.SharedMemoryConfig{
		Name: "t", SlotSize: 64, A2PRequestQueueSize: 1024, Mem: mem,
	})
	require.NoError(t, err)
	return tr
}

func call(t *testing.T, tr transport.Transport, g *platform.ServiceGroup, id uint8, req []uint32) []uint32 {
	t.Helper()

	reqBuf := make([]byte, 4*len(req))
	for i, w := range req {
		transport.PutU32(tr.ByteOrder(), reqBuf, i, w)
	}
	resp := make([]byte, tr.SlotSize()-transport.HeaderSize)

	svc := &g.Services[id]
	require.NotNil(t, svc.Handler)
	n, st := svc.Handler(g, svc, tr, reqBuf, resp)
	require.Equal(t, pkg.StatusSuccess, st)

	out := make([]uint32, n/4)
	for i := range out {
		out[i] = transport.U32(tr.ByteOrder(), resp, i)
	}
	return out
}

type msiRecorder struct {
	writes []struct {
		addr uint64
		data uint32
	}
	rejectAddr uint64
}

func (r *msiRecorder) ops() *PlatformOps {
	return &PlatformOps{
		ValidateAddr: func(addr uint64) bool { return addr != r.rejectAddr },
		Write: func(addr uint64, data uint32) {
			r.writes = append(r.writes, struct {
				addr uint64
				data uint32
			}{addr, data})
		},
		PreferredPrivilege: func(index uint32) bool { return index == 0 },
		Name: func(index uint32) string {
			if index == 0 {
				return "ras-low-prio"
			}
			return ""
		},
	}
}

func newGroup(t *testing.T, rec *msiRecorder, p2aIndex uint32) *platform.ServiceGroup {
	t.Helper()
	g, err := New(Config{NumMSI: 3, P2ADoorbellIndex: p2aIndex, Ops: rec.ops()})
	require.NoError(t, err)
	return g
}

func TestNewValidation(t *testing.T) {
	rec := &msiRecorder{}

	_, err := New(Config{NumMSI: 0, Ops: rec.ops()})
	assert.ErrorIs(t, err, pkg.ErrInvalidParam)

	_, err = New(Config{NumMSI: 1})
	assert.ErrorIs(t, err, pkg.ErrInvalidParam)

	_, err = New(Config{NumMSI: 1, Ops: &PlatformOps{}})
	assert.ErrorIs(t, err, pkg.ErrInvalidParam)
}

func TestGetAttributes(t *testing.T) {
	tr := testTransport(t)
	g := newGroup(t, &msiRecorder{}, NoP2ADoorbell)

	w := call(t, tr, g, ServiceGetAttributes, nil)
	assert.Equal(t, []uint32{pkg.StatusSuccess.Uint32(), 3, 0, 0}, w)
}

func TestGetMSIAttributes(t *testing.T) {
	tr := testTransport(t)
	g := newGroup(t, &msiRecorder{}, NoP2ADoorbell)

	w := call(t, tr, g, ServiceGetMSIAttributes, []uint32{0})
	require.Len(t, w, 11)
	assert.Equal(t, pkg.StatusSuccess.Uint32(), w[0])
	assert.Equal(t, AttrFlagPreferMMode, w[1])

	// Name occupies the last 16 bytes.
	name := make([]byte, 16)
	for i := 0; i < 4; i++ {
		b := w[7+i]
		name[4*i+0] = byte(b)
		name[4*i+1] = byte(b >> 8)
		name[4*i+2] = byte(b >> 16)
		name[4*i+3] = byte(b >> 24)
	}
	assert.Equal(t, "ras-low-prio", string(name[:12]))

	w = call(t, tr, g, ServiceGetMSIAttributes, []uint32{1})
	assert.Equal(t, uint32(0), w[1], "msi 1 has no m-mode preference")

	w = call(t, tr, g, ServiceGetMSIAttributes, []uint32{3})
	assert.Equal(t, []uint32{pkg.StatusInvalidParam.Uint32()}, w)
}

func TestTargetAndState(t *testing.T) {
	tr := testTransport(t)
	rec := &msiRecorder{rejectAddr: 0xBAD0}
	g := newGroup(t, rec, NoP2ADoorbell)

	// Rejected target address.
	w := call(t, tr, g, ServiceSetMSITarget, []uint32{0, 0xBAD0, 0, 1})
	assert.Equal(t, []uint32{pkg.StatusInvalidAddr.Uint32()}, w)

	// Valid 64-bit target.
	w = call(t, tr, g, ServiceSetMSITarget, []uint32{0, 0x2000, 0x1, 0xCAFE})
	assert.Equal(t, []uint32{pkg.StatusSuccess.Uint32()}, w)

	w = call(t, tr, g, ServiceGetMSITarget, []uint32{0})
	assert.Equal(t, []uint32{pkg.StatusSuccess.Uint32(), 0x2000, 0x1, 0xCAFE}, w)

	// Enable, then read back state.
	w = call(t, tr, g, ServiceSetMSIState, []uint32{0, StateEnable})
	assert.Equal(t, []uint32{pkg.StatusSuccess.Uint32()}, w)

	w = call(t, tr, g, ServiceGetMSIState, []uint32{0})
	assert.Equal(t, []uint32{pkg.StatusSuccess.Uint32(), StateEnable}, w)

	// Out-of-range index.
	w = call(t, tr, g, ServiceSetMSIState, []uint32{5, 1})
	assert.Equal(t, []uint32{pkg.StatusInvalidParam.Uint32()}, w)
}

func TestInjectDeliversWhenArmed(t *testing.T) {
	tr := testTransport(t)
	rec := &msiRecorder{}
	g := newGroup(t, rec, NoP2ADoorbell)
	sgmsi, ok := From(g)
	require.True(t, ok)

	// Pending without enable or target: nothing delivered.
	require.Equal(t, pkg.StatusSuccess, sgmsi.Inject(1))
	assert.Empty(t, rec.writes)

	// Pending state is visible to the A-side.
	w := call(t, tr, g, ServiceGetMSIState, []uint32{1})
	assert.Equal(t, []uint32{pkg.StatusSuccess.Uint32(), StatePending}, w)

	// Arm the MSI; the next event tick delivers the stale pending.
	call(t, tr, g, ServiceSetMSITarget, []uint32{1, 0x6000, 0, 0x11})
	call(t, tr, g, ServiceSetMSIState, []uint32{1, StateEnable})
	require.Equal(t, pkg.StatusSuccess, g.ProcessEvents(g))

	require.Len(t, rec.writes, 1)
	assert.Equal(t, uint64(0x6000), rec.writes[0].addr)
	assert.Equal(t, uint32(0x11), rec.writes[0].data)

	// Pending cleared after delivery.
	w = call(t, tr, g, ServiceGetMSIState, []uint32{1})
	assert.Equal(t, []uint32{pkg.StatusSuccess.Uint32(), StateEnable}, w)

	// A fully armed inject delivers immediately.
	require.Equal(t, pkg.StatusSuccess, sgmsi.Inject(1))
	assert.Len(t, rec.writes, 2)

	assert.Equal(t, pkg.StatusInvalidParam, sgmsi.Inject(9))
}

func TestInjectP2A(t *testing.T) {
	tr := testTransport(t)
	rec := &msiRecorder{}

	// Without a doorbell index the injection is unsupported.
	g := newGroup(t, rec, NoP2ADoorbell)
	sgmsi, _ := From(g)
	assert.Equal(t, pkg.StatusNotSupported, sgmsi.InjectP2A())

	// With a doorbell index it delivers when armed.
	g = newGroup(t, rec, 2)
	sgmsi, _ = From(g)
	call(t, tr, g, ServiceSetMSITarget, []uint32{2, 0x7000, 0, 0x22})
	call(t, tr, g, ServiceSetMSIState, []uint32{2, StateEnable})

	require.Equal(t, pkg.StatusSuccess, sgmsi.InjectP2A())
	require.Len(t, rec.writes, 1)
	assert.Equal(t, uint64(0x7000), rec.writes[0].addr)
}
