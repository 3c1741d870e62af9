package hsm

import (
	"github.com/ardnew/softrpmi/pkg"
)

// HartState is the RPMI hart lifecycle state (based on the SBI HSM
// states). The zero value is HartStateStarted, matching the wire
// encoding; a freshly created engine holds an internal unknown state
// until the first reconciliation against hardware.
type HartState int32

// Hart lifecycle states.
const (
	HartStateStarted        HartState = 0
	HartStateStopped        HartState = 1
	HartStateStartPending   HartState = 2
	HartStateStopPending    HartState = 3
	HartStateSuspended      HartState = 4
	HartStateSuspendPending HartState = 5
	HartStateResumePending  HartState = 6

	// hartStateUnknown is held before the first hardware
	// reconciliation classifies the hart.
	hartStateUnknown HartState = -1
)

// String returns a human-readable state name.
func (s HartState) String() string {
	switch s {
	case HartStateStarted:
		return "started"
	case HartStateStopped:
		return "stopped"
	case HartStateStartPending:
		return "start-pending"
	case HartStateStopPending:
		return "stop-pending"
	case HartStateSuspended:
		return "suspended"
	case HartStateSuspendPending:
		return "suspend-pending"
	case HartStateResumePending:
		return "resume-pending"
	default:
		return "unknown"
	}
}

// HWState is the hart state as observed by the platform hardware.
type HWState uint8

// Hardware hart states.
const (
	// HWStateStopped means the hart is not executing instructions.
	HWStateStopped HWState = 0
	// HWStateStarted means the hart is executing instructions.
	HWStateStarted HWState = 1
	// HWStateSuspended means the hart is idle in WFI or equivalent.
	HWStateSuspended HWState = 2
)

// SuspendInfoFlagTimerStop indicates the hart timer stops during the
// suspend state.
const SuspendInfoFlagTimerStop = 1

// SuspendType describes one hart suspend state offered by the
// platform.
type SuspendType struct {
	// Type is the suspend type value on the wire.
	Type uint32

	// Flags carries SuspendInfoFlag bits.
	Flags uint32

	// Latency and residency characteristics in microseconds.
	EntryLatencyUs  uint32
	ExitLatencyUs   uint32
	WakeupLatencyUs uint32
	MinResidencyUs  uint32
}

// PlatformOps is the table of platform callbacks backing a leaf
// engine. HartGetHWState is mandatory; the prepare/finalize pairs are
// optional, and a lifecycle operation whose pair is absent reports not
// supported. All callbacks are invoked with the target hart's lock
// held and must be synchronous.
type PlatformOps struct {
	// HartGetHWState returns the hardware state of a hart.
	HartGetHWState func(hartIndex uint32) HWState

	// HartStartPrepare initiates a hart start; HartStartFinalize runs
	// once hardware reports the hart started.
	HartStartPrepare  func(hartIndex uint32, startAddr uint64) pkg.Status
	HartStartFinalize func(hartIndex uint32, startAddr uint64)

	// HartStopPrepare initiates a hart stop; HartStopFinalize runs
	// once hardware reports the hart stopped or suspended.
	HartStopPrepare  func(hartIndex uint32) pkg.Status
	HartStopFinalize func(hartIndex uint32)

	// HartSuspendPrepare initiates a hart suspend; HartSuspendFinalize
	// runs once hardware reports the hart suspended.
	HartSuspendPrepare  func(hartIndex uint32, suspendType *SuspendType, resumeAddr uint64) pkg.Status
	HartSuspendFinalize func(hartIndex uint32, suspendType *SuspendType, resumeAddr uint64)
}

// HSM manages the lifecycle of a set of RISC-V harts. A [Leaf]
// instance drives hardware directly through [PlatformOps]; a
// [Composite] aggregates child instances into one hart-index space.
//
// Hart indices are dense positions in [0, HartCount()); hart IDs are
// the sparse platform identifiers carried on the wire.
type HSM interface {
	// HartCount returns the number of managed harts.
	HartCount() uint32

	// HartIndexToID maps a hart index to its hart ID.
	HartIndexToID(index uint32) (uint32, bool)

	// HartIDToIndex maps a hart ID to its hart index.
	HartIDToIndex(id uint32) (uint32, bool)

	// SuspendTypeCount returns the number of suspend types offered.
	SuspendTypeCount() uint32

	// SuspendTypeAt returns the suspend type at index, or nil.
	SuspendTypeAt(index uint32) *SuspendType

	// FindSuspendType returns the suspend type with the given wire
	// value, or nil.
	FindSuspendType(value uint32) *SuspendType

	// HartStart initiates starting the hart at startAddr.
	HartStart(hartID uint32, startAddr uint64) pkg.Status

	// HartStop initiates stopping the hart.
	HartStop(hartID uint32) pkg.Status

	// HartSuspend initiates suspending the hart into suspendType with
	// the given resume address.
	HartSuspend(hartID uint32, suspendType *SuspendType, resumeAddr uint64) pkg.Status

	// State returns the cached lifecycle state of the hart.
	State(hartID uint32) (HartState, pkg.Status)

	// ProcessStateChanges reconciles every hart against hardware,
	// completing pending transitions.
	ProcessStateChanges()
}

// equalSuspendTypes reports whether two suspend-type lists are
// identical entry for entry.
func equalSuspendTypes(a, b HSM) bool {
	if a.SuspendTypeCount() != b.SuspendTypeCount() {
		return false
	}
	for i := uint32(0); i < a.SuspendTypeCount(); i++ {
		x, y := a.SuspendTypeAt(i), b.SuspendTypeAt(i)
		if x == nil || y == nil || *x != *y {
			return false
		}
	}
	return true
}
