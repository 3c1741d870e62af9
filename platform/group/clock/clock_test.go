package clock

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

// fakeClockHW simulates the platform clock controller for a small
// tree and records recalc order.
type fakeClockHW struct {
	state       []State
	rate        []uint64
	recalcOrder []uint32
	setStates   []uint32
}

func (f *fakeClockHW) ops() *PlatformOps {
	return &PlatformOps{
		SetState: func(id uint32, state State) pkg.Status {
			f.state[id] = state
			f.setStates = append(f.setStates, id)
			return pkg.StatusSuccess
		},
		GetStateAndRate: func(id uint32) (State, uint64, pkg.Status) {
			return f.state[id], f.rate[id], pkg.StatusSuccess
		},
		RateChangeMatch: func(id uint32, rate uint64) bool {
			return f.rate[id] != rate
		},
		SetRate: func(id uint32, _ RateMatch, rate uint64) (uint64, pkg.Status) {
			f.rate[id] = rate
			return rate, pkg.StatusSuccess
		},
		SetRateRecalc: func(id uint32, parentRate uint64) (uint64, pkg.Status) {
			f.recalcOrder = append(f.recalcOrder, id)
			f.rate[id] = parentRate / 2
			return f.rate[id], pkg.StatusSuccess
		},
	}
}

// testTree builds this hierarchy:
//
//	0 (pll, root)
//	├── 1 (cpu)
//	│   ├── 3 (l2)
//	│   └── 4 (trace)
//	└── 2 (periph)
var testTree = []Data{
	{ParentID: ParentNone, Name: "pll", Format: FormatDiscrete,
		TransitionLatencyMs: 5,
		Rates:               []uint64{100e6, 200e6, 400e6, 800e6}},
	{ParentID: 0, Name: "cpu", Format: FormatLinear,
		Rates: []uint64{50e6, 400e6, 25e6}},
	{ParentID: 0, Name: "periph", Format: FormatDiscrete,
		Rates: []uint64{25e6, 50e6}},
	{ParentID: 1, Name: "l2", Format: FormatDiscrete, Rates: []uint64{200e6}},
	{ParentID: 1, Name: "trace", Format: FormatDiscrete, Rates: []uint64{100e6}},
}

func newTestGroup(t *testing.T) (*fakeClockHW, *platform.ServiceGroup) {
	t.Helper()

	hw := &fakeClockHW{
		state: make([]State, len(testTree)),
		rate:  []uint64{800e6, 400e6, 50e6, 200e6, 100e6},
	}
	g, err := New(testTree, hw.ops())
	require.NoError(t, err)
	return hw, g
}

func TestNewValidation(t *testing.T) {
	hw := &fakeClockHW{state: make([]State, 1), rate: make([]uint64, 1)}

	_, err := New(nil, hw.ops())
	assert.ErrorIs(t, err, pkg.ErrInvalidParam)

	_, err = New(testTree, nil)
	assert.ErrorIs(t, err, pkg.ErrInvalidParam)

	// Parent reference out of range.
	bad := []Data{{ParentID: 7, Name: "x"}}
	hw = &fakeClockHW{state: make([]State, 1), rate: make([]uint64, 1)}
	_, err = New(bad, hw.ops())
	assert.ErrorIs(t, err, pkg.ErrInvalidParam)
}

func TestGetNumClocksAndAttributes(t *testing.T) {
	tr := testTransport(t)
	_, g := newTestGroup(t)

	w := call(t, tr, g, ServiceGetNumClocks, nil)
	assert.Equal(t, []uint32{pkg.StatusSuccess.Uint32(), 5}, w)

	w = call(t, tr, g, ServiceGetAttributes, []uint32{0})
	require.Equal(t, pkg.StatusSuccess.Uint32(), w[0])
	assert.Equal(t, uint32(0), w[1], "discrete format flag clear")
	assert.Equal(t, uint32(4), w[2], "rate count")
	assert.Equal(t, uint32(5), w[3], "transition latency")

	// Linear clock reports the format capability bit.
	w = call(t, tr, g, ServiceGetAttributes, []uint32{1})
	assert.Equal(t, AttrFlagLinearFormat, w[1])

	w = call(t, tr, g, ServiceGetAttributes, []uint32{9})
	assert.Equal(t, []uint32{pkg.StatusInvalidParam.Uint32()}, w)
}

func TestAttributesCarryName(t *testing.T) {
	tr := testTransport(t)
	_, g := newTestGroup(t)

	reqBuf := make([]byte, 4)
	resp := make([]byte, tr.SlotSize()-transport.HeaderSize)
	svc := &g.Services[ServiceGetAttributes]
	n, st := svc.Handler(g, svc, tr, reqBuf, resp)
	require.Equal(t, pkg.StatusSuccess, st)
	require.Equal(t, 32, n)
	assert.Equal(t, "pll", string(resp[16:19]))
	assert.Zero(t, resp[19])
}

func TestEnableRecursesToParents(t *testing.T) {
	_, g := newTestGroup(t)
	clk := g.Priv.(*Group)

	// Everything starts disabled; enabling the leaf walks up through
	// cpu and pll.
	st := clk.setState(3, StateEnabled)
	require.Equal(t, pkg.StatusSuccess, st)

	assert.Equal(t, StateEnabled, clk.nodes[3].state)
	assert.Equal(t, StateEnabled, clk.nodes[1].state)
	assert.Equal(t, StateEnabled, clk.nodes[0].state)
	assert.Equal(t, StateDisabled, clk.nodes[2].state, "sibling untouched")

	// Re-enabling reports already.
	assert.Equal(t, pkg.StatusAlready, clk.setState(3, StateEnabled))

	// Enabling the sibling succeeds without touching the leaf, and
	// tolerates the already enabled root.
	require.Equal(t, pkg.StatusSuccess, clk.setState(2, StateEnabled))
}

func TestDisableDeniedWithEnabledChild(t *testing.T) {
	_, g := newTestGroup(t)
	clk := g.Priv.(*Group)

	require.Equal(t, pkg.StatusSuccess, clk.setState(3, StateEnabled))

	// cpu has the enabled child l2.
	assert.Equal(t, pkg.StatusDenied, clk.setState(1, StateDisabled))

	// Disabling the leaf first unblocks the parent.
	require.Equal(t, pkg.StatusSuccess, clk.setState(3, StateDisabled))
	require.Equal(t, pkg.StatusSuccess, clk.setState(1, StateDisabled))

	// Disabling a disabled clock reports already.
	assert.Equal(t, pkg.StatusAlready, clk.setState(1, StateDisabled))
}

func TestSetRatePropagatesPreOrder(t *testing.T) {
	tr := testTransport(t)
	hw, g := newTestGroup(t)
	clk := g.Priv.(*Group)

	// Enable the whole tree so rate changes are allowed.
	require.Equal(t, pkg.StatusSuccess, clk.setState(3, StateEnabled))
	require.Equal(t, pkg.StatusSuccess, clk.setState(4, StateEnabled))
	require.Equal(t, pkg.StatusSuccess, clk.setState(2, StateEnabled))

	w := call(t, tr, g, ServiceSetRate, []uint32{0, uint32(MatchRoundDown), 400_000_000, 0})
	require.Equal(t, []uint32{pkg.StatusSuccess.Uint32()}, w)

	// Every descendant of the root recalculated exactly once, in
	// pre-order: cpu, then cpu's children, then periph.
	assert.Equal(t, []uint32{1, 3, 4, 2}, hw.recalcOrder)
	assert.Equal(t, uint64(400e6), hw.rate[0])
	assert.Equal(t, uint64(200e6), hw.rate[1])
	assert.Equal(t, uint64(100e6), hw.rate[3])
	assert.Equal(t, uint64(100e6), hw.rate[4])
	assert.Equal(t, uint64(200e6), hw.rate[2])
}

func TestSetRateValidation(t *testing.T) {
	tr := testTransport(t)
	hw, g := newTestGroup(t)
	clk := g.Priv.(*Group)

	// Disabled clock: denied.
	w := call(t, tr, g, ServiceSetRate, []uint32{0, 0, 1000, 0})
	assert.Equal(t, []uint32{pkg.StatusDenied.Uint32()}, w)

	require.Equal(t, pkg.StatusSuccess, clk.setState(0, StateEnabled))

	// Rate already matches: already.
	hw.rate[0] = 1000
	w = call(t, tr, g, ServiceSetRate, []uint32{0, 0, 1000, 0})
	assert.Equal(t, []uint32{pkg.StatusAlready.Uint32()}, w)

	// Zero and all-ones rates are invalid.
	w = call(t, tr, g, ServiceSetRate, []uint32{0, 0, 0, 0})
	assert.Equal(t, []uint32{pkg.StatusInvalidParam.Uint32()}, w)
	w = call(t, tr, g, ServiceSetRate, []uint32{0, 0, 0xFFFFFFFF, 0xFFFFFFFF})
	assert.Equal(t, []uint32{pkg.StatusInvalidParam.Uint32()}, w)

	// Reserved rate-match value.
	w = call(t, tr, g, ServiceSetRate, []uint32{0, 3, 1000, 0})
	assert.Equal(t, []uint32{pkg.StatusInvalidParam.Uint32()}, w)

	// Unknown clock.
	w = call(t, tr, g, ServiceSetRate, []uint32{9, 0, 1000, 0})
	assert.Equal(t, []uint32{pkg.StatusInvalidParam.Uint32()}, w)
}

func TestConfigServices(t *testing.T) {
	tr := testTransport(t)
	hw, g := newTestGroup(t)

	// Enable clock 0 through SET_CONFIG bit 0.
	w := call(t, tr, g, ServiceSetConfig, []uint32{0, 1})
	assert.Equal(t, []uint32{pkg.StatusSuccess.Uint32()}, w)
	assert.Equal(t, []uint32{0}, hw.setStates)

	w = call(t, tr, g, ServiceGetConfig, []uint32{0})
	assert.Equal(t, []uint32{pkg.StatusSuccess.Uint32(), 1}, w)

	w = call(t, tr, g, ServiceSetConfig, []uint32{0, 0})
	assert.Equal(t, []uint32{pkg.StatusSuccess.Uint32()}, w)

	w = call(t, tr, g, ServiceGetConfig, []uint32{0})
	assert.Equal(t, []uint32{pkg.StatusSuccess.Uint32(), 0}, w)
}

func TestGetRate(t *testing.T) {
	tr := testTransport(t)
	hw, g := newTestGroup(t)

	hw.rate[2] = 0x1_0000_0032
	w := call(t, tr, g, ServiceGetRate, []uint32{2})
	assert.Equal(t, []uint32{pkg.StatusSuccess.Uint32(), 0x32, 0x1}, w)
}

func TestGetSupportedRates(t *testing.T) {
	tr := testTransport(t)
	_, g := newTestGroup(t)

	// Discrete clock: all four rates fit one slot.
	w := call(t, tr, g, ServiceGetSupportedRates, []uint32{0, 0})
	require.Equal(t, pkg.StatusSuccess.Uint32(), w[0])
	assert.Equal(t, uint32(0), w[2], "remaining")
	assert.Equal(t, uint32(4), w[3], "returned")
	assert.Equal(t, uint32(100e6), w[4])
	assert.Equal(t, uint32(0), w[5])

	// Linear clock: exactly min, max, step.
	w = call(t, tr, g, ServiceGetSupportedRates, []uint32{1, 0})
	require.Equal(t, pkg.StatusSuccess.Uint32(), w[0])
	assert.Equal(t, uint32(0), w[2])
	assert.Equal(t, uint32(3), w[3])
	assert.Equal(t, uint32(50e6), w[4], "min lo")
	assert.Equal(t, uint32(400e6), w[6], "max lo")
	assert.Equal(t, uint32(25e6), w[8], "step lo")

	// Start index past the end of a discrete rate array.
	w = call(t, tr, g, ServiceGetSupportedRates, []uint32{0, 5})
	assert.Equal(t, []uint32{pkg.StatusInvalidParam.Uint32()}, w)
}

func TestGetSupportedRatesPagination(t *testing.T) {
	tr := testTransport(t)

	// 64-byte slot: (56 - 16) / 8 = 5 rate pairs per reply.
	rates := make([]uint64, 8)
	for i := range rates {
		rates[i] = uint64(i+1) * 1000
	}
	data := []Data{{ParentID: ParentNone, Name: "many", Format: FormatDiscrete, Rates: rates}}
	hw := &fakeClockHW{state: make([]State, 1), rate: make([]uint64, 1)}
	g, err := New(data, hw.ops())
	require.NoError(t, err)

	w := call(t, tr, g, ServiceGetSupportedRates, []uint32{0, 0})
	require.Equal(t, pkg.StatusSuccess.Uint32(), w[0])
	assert.Equal(t, uint32(3), w[2], "remaining")
	assert.Equal(t, uint32(5), w[3], "returned")

	w = call(t, tr, g, ServiceGetSupportedRates, []uint32{0, 5})
	require.Equal(t, pkg.StatusSuccess.Uint32(), w[0])
	assert.Equal(t, uint32(0), w[2])
	assert.Equal(t, uint32(3), w[3])
	assert.Equal(t, uint32(6000), w[4])
}
