package hsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/softrpmi/pkg"
)

// fakeHW simulates hart hardware: lifecycle preparations take effect
// on the next reconciliation.
type fakeHW struct {
	state     []HWState
	prepared  []string
	finalized []string
}

func (f *fakeHW) ops() *PlatformOps {
	return &PlatformOps{
		HartGetHWState: func(index uint32) HWState {
			return f.state[index]
		},
		HartStartPrepare: func(index uint32, addr uint64) pkg.Status {
			f.prepared = append(f.prepared, "start")
			f.state[index] = HWStateStarted
			return pkg.StatusSuccess
		},
		HartStartFinalize: func(index uint32, addr uint64) {
			f.finalized = append(f.finalized, "start")
		},
		HartStopPrepare: func(index uint32) pkg.Status {
			f.prepared = append(f.prepared, "stop")
			f.state[index] = HWStateStopped
			return pkg.StatusSuccess
		},
		HartStopFinalize: func(index uint32) {
			f.finalized = append(f.finalized, "stop")
		},
		HartSuspendPrepare: func(index uint32, st *SuspendType, addr uint64) pkg.Status {
			f.prepared = append(f.prepared, "suspend")
			f.state[index] = HWStateSuspended
			return pkg.StatusSuccess
		},
		HartSuspendFinalize: func(index uint32, st *SuspendType, addr uint64) {
			f.finalized = append(f.finalized, "suspend")
		},
	}
}

// slowHW reports a fixed hardware state and never advances on its
// own, keeping pending states pending.
type slowHW struct {
	state []HWState
}

func (f *slowHW) ops() *PlatformOps {
	return &PlatformOps{
		HartGetHWState: func(index uint32) HWState {
			return f.state[index]
		},
		HartStartPrepare:    func(uint32, uint64) pkg.Status { return pkg.StatusSuccess },
		HartStartFinalize:   func(uint32, uint64) {},
		HartStopPrepare:     func(uint32) pkg.Status { return pkg.StatusSuccess },
		HartStopFinalize:    func(uint32) {},
		HartSuspendPrepare:  func(uint32, *SuspendType, uint64) pkg.Status { return pkg.StatusSuccess },
		HartSuspendFinalize: func(uint32, *SuspendType, uint64) {},
	}
}

var testSuspendTypes = []SuspendType{
	{Type: 0, Flags: SuspendInfoFlagTimerStop, EntryLatencyUs: 10, ExitLatencyUs: 20, WakeupLatencyUs: 30, MinResidencyUs: 100},
	{Type: 0x80000000, EntryLatencyUs: 50, ExitLatencyUs: 60, WakeupLatencyUs: 70, MinResidencyUs: 500},
}

func newTestLeaf(t *testing.T, hw *fakeHW) *Leaf {
	t.Helper()
	l, err := NewLeaf(LeafConfig{
		HartIDs:      []uint32{10, 11, 12, 13},
		SuspendTypes: testSuspendTypes,
		Ops:          hw.ops(),
	})
	require.NoError(t, err)
	return l
}

func TestNewLeafValidation(t *testing.T) {
	hw := &fakeHW{state: make([]HWState, 1)}

	_, err := NewLeaf(LeafConfig{Ops: hw.ops()})
	assert.ErrorIs(t, err, pkg.ErrInvalidParam)

	_, err = NewLeaf(LeafConfig{HartIDs: []uint32{0}})
	assert.ErrorIs(t, err, pkg.ErrInvalidParam)

	_, err = NewLeaf(LeafConfig{HartIDs: []uint32{0}, Ops: &PlatformOps{}})
	assert.ErrorIs(t, err, pkg.ErrInvalidParam)
}

func TestInitialClassification(t *testing.T) {
	hw := &fakeHW{state: []HWState{HWStateStarted, HWStateStopped, HWStateSuspended, HWStateStopped}}
	l := newTestLeaf(t, hw)

	expect := []HartState{HartStateStarted, HartStateStopped, HartStateSuspended, HartStateStopped}
	for i, want := range expect {
		state, st := l.State(uint32(10 + i))
		require.Equal(t, pkg.StatusSuccess, st)
		assert.Equal(t, want, state, "hart %d", 10+i)
	}
}

func TestHartIndexMapping(t *testing.T) {
	hw := &fakeHW{state: make([]HWState, 4)}
	l := newTestLeaf(t, hw)

	assert.Equal(t, uint32(4), l.HartCount())

	id, ok := l.HartIndexToID(2)
	require.True(t, ok)
	assert.Equal(t, uint32(12), id)

	index, ok := l.HartIDToIndex(13)
	require.True(t, ok)
	assert.Equal(t, uint32(3), index)

	_, ok = l.HartIndexToID(4)
	assert.False(t, ok)
	_, ok = l.HartIDToIndex(99)
	assert.False(t, ok)
}

func TestSuspendTypeLookup(t *testing.T) {
	hw := &fakeHW{state: make([]HWState, 4)}
	l := newTestLeaf(t, hw)

	assert.Equal(t, uint32(2), l.SuspendTypeCount())
	assert.Equal(t, uint32(0x80000000), l.SuspendTypeAt(1).Type)
	assert.Nil(t, l.SuspendTypeAt(2))
	assert.NotNil(t, l.FindSuspendType(0))
	assert.Nil(t, l.FindSuspendType(42))
}

func TestHartStartLifecycle(t *testing.T) {
	hw := &fakeHW{state: make([]HWState, 4)} // all stopped
	l := newTestLeaf(t, hw)

	require.Equal(t, pkg.StatusSuccess, l.HartStart(10, 0x8020_0000))

	// Prepare flipped the hardware state, so the embedded
	// reconciliation completed the transition.
	state, _ := l.State(10)
	assert.Equal(t, HartStateStarted, state)
	assert.Equal(t, []string{"start"}, hw.prepared)
	assert.Equal(t, []string{"start"}, hw.finalized)

	// Idempotence: starting a started hart reports already.
	assert.Equal(t, pkg.StatusAlready, l.HartStart(10, 0x8020_0000))

	assert.Equal(t, pkg.StatusInvalidParam, l.HartStart(99, 0))
}

func TestHartStopRequiresStarted(t *testing.T) {
	hw := &fakeHW{state: make([]HWState, 4)}
	l := newTestLeaf(t, hw)

	// Stopping a stopped hart reports already.
	assert.Equal(t, pkg.StatusAlready, l.HartStop(10))

	require.Equal(t, pkg.StatusSuccess, l.HartStart(10, 0))
	require.Equal(t, pkg.StatusSuccess, l.HartStop(10))
	state, _ := l.State(10)
	assert.Equal(t, HartStateStopped, state)
}

func TestHartSuspendRequiresStarted(t *testing.T) {
	hw := &fakeHW{state: make([]HWState, 4)}
	l := newTestLeaf(t, hw)

	st := l.FindSuspendType(0)
	require.NotNil(t, st)

	// Suspending a stopped hart is denied.
	assert.Equal(t, pkg.StatusDenied, l.HartSuspend(10, st, 0))

	require.Equal(t, pkg.StatusSuccess, l.HartStart(10, 0))
	require.Equal(t, pkg.StatusSuccess, l.HartSuspend(10, st, 0x8000_1000))
	state, _ := l.State(10)
	assert.Equal(t, HartStateSuspended, state)

	assert.Equal(t, pkg.StatusAlready, l.HartSuspend(10, st, 0))
}

func TestReconciliationMonotonic(t *testing.T) {
	hw := &slowHW{state: []HWState{HWStateStopped, HWStateStopped, HWStateStopped, HWStateStopped}}
	l, err := NewLeaf(LeafConfig{
		HartIDs:      []uint32{10, 11, 12, 13},
		SuspendTypes: testSuspendTypes,
		Ops:          hw.ops(),
	})
	require.NoError(t, err)

	require.Equal(t, pkg.StatusSuccess, l.HartStart(10, 0))
	state, _ := l.State(10)
	require.Equal(t, HartStateStartPending, state)

	// Hardware still reports stopped and suspended: start-pending
	// must not advance.
	for _, hwState := range []HWState{HWStateStopped, HWStateSuspended} {
		hw.state[0] = hwState
		l.ProcessStateChanges()
		state, _ = l.State(10)
		assert.Equal(t, HartStateStartPending, state)
	}

	// Only the started hardware state completes the transition.
	hw.state[0] = HWStateStarted
	l.ProcessStateChanges()
	state, _ = l.State(10)
	assert.Equal(t, HartStateStarted, state)

	// A second stop while pending reports already.
	require.Equal(t, pkg.StatusSuccess, l.HartStop(10))
	state, _ = l.State(10)
	require.Equal(t, HartStateStopPending, state)
	assert.Equal(t, pkg.StatusAlready, l.HartStop(10))
}

func TestSuspendedHartWakesItself(t *testing.T) {
	hw := &slowHW{state: []HWState{HWStateSuspended}}
	l, err := NewLeaf(LeafConfig{
		HartIDs: []uint32{5},
		Ops:     hw.ops(),
	})
	require.NoError(t, err)

	state, _ := l.State(5)
	require.Equal(t, HartStateSuspended, state)

	hw.state[0] = HWStateStarted
	l.ProcessStateChanges()
	state, _ = l.State(5)
	assert.Equal(t, HartStateStarted, state)
}

func TestLifecycleNotSupportedWithoutOps(t *testing.T) {
	hw := &slowHW{state: []HWState{HWStateStopped}}
	ops := &PlatformOps{HartGetHWState: hw.ops().HartGetHWState}

	l, err := NewLeaf(LeafConfig{HartIDs: []uint32{0}, Ops: ops})
	require.NoError(t, err)

	assert.Equal(t, pkg.StatusNotSupported, l.HartStart(0, 0))
	assert.Equal(t, pkg.StatusNotSupported, l.HartStop(0))
	assert.Equal(t, pkg.StatusNotSupported, l.HartSuspend(0, &SuspendType{}, 0))
}
