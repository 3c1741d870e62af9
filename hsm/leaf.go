package hsm

import (
	"sync"

	"github.com/ardnew/softrpmi/pkg"
)

// hart is the per-hart record of a leaf engine.
type hart struct {
	// mutex protects the record and spans the platform callbacks
	// pertaining to this hart.
	mutex sync.Mutex

	state       HartState
	startAddr   uint64
	suspendType *SuspendType
	resumeAddr  uint64
}

// Leaf is an HSM engine driving hardware directly through a
// [PlatformOps] table. It holds one state-machine record per hart;
// lifecycle operations record a pending state and the engine
// reconciles against the observed hardware state on every
// [Leaf.ProcessStateChanges] tick.
type Leaf struct {
	hartIDs      []uint32
	harts        []hart
	suspendTypes []SuspendType
	ops          *PlatformOps
}

// LeafConfig holds the enumerated options recognized by [NewLeaf].
// The hart-ID and suspend-type slices remain owned by the caller.
type LeafConfig struct {
	// HartIDs lists the managed harts; the slice position is the hart
	// index.
	HartIDs []uint32

	// SuspendTypes lists the suspend states offered by the platform.
	// May be empty.
	SuspendTypes []SuspendType

	// Ops is the platform callback table. HartGetHWState is
	// mandatory.
	Ops *PlatformOps
}

// NewLeaf creates a leaf HSM engine and runs an initial
// reconciliation to classify every hart from its hardware state.
func NewLeaf(cfg LeafConfig) (*Leaf, error) {
	if len(cfg.HartIDs) == 0 || cfg.Ops == nil || cfg.Ops.HartGetHWState == nil {
		return nil, pkg.ErrInvalidParam
	}

	l := &Leaf{
		hartIDs:      cfg.HartIDs,
		harts:        make([]hart, len(cfg.HartIDs)),
		suspendTypes: cfg.SuspendTypes,
		ops:          cfg.Ops,
	}
	for i := range l.harts {
		l.harts[i].state = hartStateUnknown
	}

	l.ProcessStateChanges()
	return l, nil
}

// HartCount returns the number of managed harts.
func (l *Leaf) HartCount() uint32 {
	return uint32(len(l.hartIDs))
}

// HartIndexToID maps a hart index to its hart ID.
func (l *Leaf) HartIndexToID(index uint32) (uint32, bool) {
	if index >= uint32(len(l.hartIDs)) {
		return 0, false
	}
	return l.hartIDs[index], true
}

// HartIDToIndex maps a hart ID to its hart index.
func (l *Leaf) HartIDToIndex(id uint32) (uint32, bool) {
	for i, hid := range l.hartIDs {
		if hid == id {
			return uint32(i), true
		}
	}
	return 0, false
}

// SuspendTypeCount returns the number of suspend types offered.
func (l *Leaf) SuspendTypeCount() uint32 {
	return uint32(len(l.suspendTypes))
}

// SuspendTypeAt returns the suspend type at index, or nil.
func (l *Leaf) SuspendTypeAt(index uint32) *SuspendType {
	if index >= uint32(len(l.suspendTypes)) {
		return nil
	}
	return &l.suspendTypes[index]
}

// FindSuspendType returns the suspend type with the given wire value,
// or nil.
func (l *Leaf) FindSuspendType(value uint32) *SuspendType {
	for i := range l.suspendTypes {
		if l.suspendTypes[i].Type == value {
			return &l.suspendTypes[i]
		}
	}
	return nil
}

// reconcile completes any pending transition of a hart against the
// observed hardware state. Call with the hart's mutex held.
func (l *Leaf) reconcile(h *hart, index uint32) {
	hwState := l.ops.HartGetHWState(index)

	if h.state < 0 {
		switch hwState {
		case HWStateStarted:
			h.state = HartStateStarted
		case HWStateSuspended:
			h.state = HartStateSuspended
		default:
			h.state = HartStateStopped
		}
		return
	}

	switch h.state {
	case HartStateStartPending:
		if hwState == HWStateStarted {
			if l.ops.HartStartFinalize != nil {
				l.ops.HartStartFinalize(index, h.startAddr)
			}
			h.state = HartStateStarted
		}
	case HartStateStopPending:
		if hwState == HWStateSuspended || hwState == HWStateStopped {
			if l.ops.HartStopFinalize != nil {
				l.ops.HartStopFinalize(index)
			}
			h.state = HartStateStopped
		}
	case HartStateSuspendPending:
		if hwState == HWStateSuspended {
			if l.ops.HartSuspendFinalize != nil {
				l.ops.HartSuspendFinalize(index, h.suspendType, h.resumeAddr)
			}
			h.state = HartStateSuspended
		}
	case HartStateSuspended:
		// The hart woke itself.
		if hwState == HWStateStarted {
			h.state = HartStateStarted
		}
	}
}

// HartStart initiates starting the hart at startAddr. Returns
// [pkg.StatusAlready] if the hart is started or starting, and
// [pkg.StatusDenied] if it is not stopped.
func (l *Leaf) HartStart(hartID uint32, startAddr uint64) pkg.Status {
	if l.ops.HartStartPrepare == nil || l.ops.HartStartFinalize == nil {
		return pkg.StatusNotSupported
	}
	index, ok := l.HartIDToIndex(hartID)
	if !ok {
		pkg.LogDebug(pkg.ComponentHSM, "start of unknown hart", "hart_id", hartID)
		return pkg.StatusInvalidParam
	}

	h := &l.harts[index]
	h.mutex.Lock()
	defer h.mutex.Unlock()

	switch h.state {
	case HartStateStarted, HartStateStartPending:
		return pkg.StatusAlready
	case HartStateStopped:
	default:
		return pkg.StatusDenied
	}

	if st := l.ops.HartStartPrepare(index, startAddr); st != pkg.StatusSuccess {
		pkg.LogWarn(pkg.ComponentHSM, "hart start prepare failed",
			"hart_id", hartID, "status", st.String())
		return st
	}

	h.startAddr = startAddr
	h.state = HartStateStartPending
	l.reconcile(h, index)
	return pkg.StatusSuccess
}

// HartStop initiates stopping the hart. Returns [pkg.StatusAlready] if
// the hart is stopped or stopping, and [pkg.StatusDenied] if it is not
// started.
func (l *Leaf) HartStop(hartID uint32) pkg.Status {
	if l.ops.HartStopPrepare == nil || l.ops.HartStopFinalize == nil {
		return pkg.StatusNotSupported
	}
	index, ok := l.HartIDToIndex(hartID)
	if !ok {
		pkg.LogDebug(pkg.ComponentHSM, "stop of unknown hart", "hart_id", hartID)
		return pkg.StatusInvalidParam
	}

	h := &l.harts[index]
	h.mutex.Lock()
	defer h.mutex.Unlock()

	switch h.state {
	case HartStateStopped, HartStateStopPending:
		return pkg.StatusAlready
	case HartStateStarted:
	default:
		return pkg.StatusDenied
	}

	if st := l.ops.HartStopPrepare(index); st != pkg.StatusSuccess {
		pkg.LogWarn(pkg.ComponentHSM, "hart stop prepare failed",
			"hart_id", hartID, "status", st.String())
		return st
	}

	h.state = HartStateStopPending
	l.reconcile(h, index)
	return pkg.StatusSuccess
}

// HartSuspend initiates suspending the hart. Returns
// [pkg.StatusAlready] if the hart is suspended or suspending, and
// [pkg.StatusDenied] if it is not started.
func (l *Leaf) HartSuspend(hartID uint32, suspendType *SuspendType, resumeAddr uint64) pkg.Status {
	if suspendType == nil {
		return pkg.StatusInvalidParam
	}
	if l.ops.HartSuspendPrepare == nil || l.ops.HartSuspendFinalize == nil {
		return pkg.StatusNotSupported
	}
	index, ok := l.HartIDToIndex(hartID)
	if !ok {
		pkg.LogDebug(pkg.ComponentHSM, "suspend of unknown hart", "hart_id", hartID)
		return pkg.StatusInvalidParam
	}

	h := &l.harts[index]
	h.mutex.Lock()
	defer h.mutex.Unlock()

	switch h.state {
	case HartStateSuspended, HartStateSuspendPending:
		return pkg.StatusAlready
	case HartStateStarted:
	default:
		return pkg.StatusDenied
	}

	if st := l.ops.HartSuspendPrepare(index, suspendType, resumeAddr); st != pkg.StatusSuccess {
		pkg.LogWarn(pkg.ComponentHSM, "hart suspend prepare failed",
			"hart_id", hartID, "status", st.String())
		return st
	}

	h.suspendType = suspendType
	h.resumeAddr = resumeAddr
	h.state = HartStateSuspendPending
	l.reconcile(h, index)
	return pkg.StatusSuccess
}

// State returns the cached lifecycle state of the hart.
func (l *Leaf) State(hartID uint32) (HartState, pkg.Status) {
	index, ok := l.HartIDToIndex(hartID)
	if !ok {
		return 0, pkg.StatusInvalidParam
	}

	h := &l.harts[index]
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.state, pkg.StatusSuccess
}

// ProcessStateChanges reconciles every hart against hardware.
func (l *Leaf) ProcessStateChanges() {
	for i := range l.harts {
		h := &l.harts[i]
		h.mutex.Lock()
		l.reconcile(h, uint32(i))
		h.mutex.Unlock()
	}
}
