// Package syssusp implements the System-Suspend service group.
//
// A SYSTEM_SUSPEND request is accepted from the last running hart
// once every other hart is stopped, then a small state machine driven
// by the event tick walks the platform through prepare, finalize, and
// resume.
package syssusp

import (
	"github.com/ardnew/softrpmi/hsm"
	"github.com/ardnew/softrpmi/pkg"
	"github.com/ardnew/softrpmi/platform"
	"github.com/ardnew/softrpmi/transport"
)

// System-Suspend service IDs.
const (
	ServiceEnableNotification uint8 = 0x01
	ServiceGetAttributes      uint8 = 0x02
	ServiceSystemSuspend      uint8 = 0x03
	serviceCount                    = 0x04
)

// TypeSuspendToRAM is the standard suspend-to-RAM suspend type.
const TypeSuspendToRAM uint32 = 0x0

// GET_ATTRIBUTES flag bits.
const (
	// AttrFlagSuspendType reports the queried suspend type is known.
	AttrFlagSuspendType uint32 = 1 << 0
	// AttrFlagResumeAddr reports the suspend type honors a custom
	// resume address.
	AttrFlagResumeAddr uint32 = 1 << 1
)

// SuspendType describes one system suspend type offered by the
// platform.
type SuspendType struct {
	// Type is the suspend type value on the wire.
	Type uint32

	// Attr carries AttrFlag bits forwarded by GET_ATTRIBUTES.
	Attr uint32
}

// state is the suspend orchestration state.
type state int

const (
	stateRunning state = iota
	stateSuspendPending
	stateSuspended
)

// PlatformOps is the platform callback table for system suspend.
// Prepare, Ready, Finalize, CanResume, and Resume are all mandatory.
type PlatformOps struct {
	// SystemSuspendPrepare starts taking the system down.
	SystemSuspendPrepare func(hartIndex uint32, suspendType *SuspendType, resumeAddr uint64) pkg.Status

	// SystemSuspendReady reports whether the platform is ready to be
	// finalized into the suspend state.
	SystemSuspendReady func(hartIndex uint32) bool

	// SystemSuspendFinalize completes entry into the suspend state.
	SystemSuspendFinalize func(hartIndex uint32, suspendType *SuspendType, resumeAddr uint64)

	// SystemSuspendCanResume reports whether a wakeup source fired.
	SystemSuspendCanResume func(hartIndex uint32) bool

	// SystemSuspendResume brings the system back up.
	SystemSuspendResume func(hartIndex uint32, suspendType *SuspendType, resumeAddr uint64) pkg.Status
}

// Group is the private state of a System-Suspend service group.
type Group struct {
	hsm   hsm.HSM
	types []SuspendType
	ops   *PlatformOps

	current      state
	hartIndex    uint32
	suspendType  *SuspendType
	resumeAddr   uint64

	group platform.ServiceGroup
}

// New creates a System-Suspend service group over the given HSM.
func New(h hsm.HSM, types []SuspendType, ops *PlatformOps) (*platform.ServiceGroup, error) {
	if h == nil || len(types) == 0 || ops == nil {
		return nil, pkg.ErrInvalidParam
	}
	if ops.SystemSuspendPrepare == nil || ops.SystemSuspendReady == nil ||
		ops.SystemSuspendFinalize == nil || ops.SystemSuspendCanResume == nil ||
		ops.SystemSuspendResume == nil {
		return nil, pkg.ErrInvalidParam
	}

	susp := &Group{
		hsm:     h,
		types:   types,
		ops:     ops,
		current: stateRunning,
	}

	g := &susp.group
	g.Name = "syssusp"
	g.ID = platform.GroupIDSystemSuspend
	g.Version = platform.Version(platform.SpecVersionMajor, platform.SpecVersionMinor)
	g.PrivilegeMask = platform.PrivilegeMaskMMode
	g.Priv = susp
	g.ProcessEvents = processEvents
	g.Services = make([]platform.Service, serviceCount)
	g.Services[ServiceEnableNotification] = platform.Service{
		ID:            ServiceEnableNotification,
		MinRequestLen: 4,
	}
	g.Services[ServiceGetAttributes] = platform.Service{
		ID:            ServiceGetAttributes,
		MinRequestLen: 4,
		Handler:       getAttributes,
	}
	g.Services[ServiceSystemSuspend] = platform.Service{
		ID:            ServiceSystemSuspend,
		MinRequestLen: 16,
		Handler:       systemSuspend,
	}

	return g, nil
}

// findType returns the suspend type with the given wire value, or
// nil.
func (s *Group) findType(value uint32) *SuspendType {
	for i := range s.types {
		if s.types[i].Type == value {
			return &s.types[i]
		}
	}
	return nil
}

func getAttributes(g *platform.ServiceGroup, _ *platform.Service, t transport.Transport, req, resp []byte) (int, pkg.Status) {
	susp := g.Priv.(*Group)
	bo := t.ByteOrder()

	var attr uint32
	if st := susp.findType(transport.U32(bo, req, 0)); st != nil {
		attr |= AttrFlagSuspendType
		attr |= st.Attr & AttrFlagResumeAddr
	}

	transport.PutU32(bo, resp, 0, pkg.StatusSuccess.Uint32())
	transport.PutU32(bo, resp, 1, attr)
	return 8, pkg.StatusSuccess
}

func systemSuspend(g *platform.ServiceGroup, _ *platform.Service, t transport.Transport, req, resp []byte) (int, pkg.Status) {
	susp := g.Priv.(*Group)
	bo := t.ByteOrder()

	hartID := transport.U32(bo, req, 0)
	typeValue := transport.U32(bo, req, 1)
	resumeAddr := transport.U64(bo, req, 2)

	status := susp.suspend(hartID, typeValue, resumeAddr)
	transport.PutU32(bo, resp, 0, uint32(status))
	return 4, pkg.StatusSuccess
}

// suspend validates and initiates a system suspend on behalf of the
// requesting hart.
func (s *Group) suspend(hartID, typeValue uint32, resumeAddr uint64) pkg.Status {
	hartIndex, ok := s.hsm.HartIDToIndex(hartID)
	if !ok {
		return pkg.StatusInvalidParam
	}

	suspendType := s.findType(typeValue)
	if suspendType == nil {
		return pkg.StatusInvalidParam
	}

	if s.current != stateRunning {
		return pkg.StatusAlready
	}

	// Every hart other than the requester must already be stopped.
	for i := uint32(0); i < s.hsm.HartCount(); i++ {
		if i == hartIndex {
			continue
		}
		id, _ := s.hsm.HartIndexToID(i)
		state, st := s.hsm.State(id)
		if st != pkg.StatusSuccess {
			return st
		}
		if state != hsm.HartStateStopped {
			return pkg.StatusDenied
		}
	}

	if st := s.ops.SystemSuspendPrepare(hartIndex, suspendType, resumeAddr); st != pkg.StatusSuccess {
		return st
	}

	s.hartIndex = hartIndex
	s.suspendType = suspendType
	s.resumeAddr = resumeAddr
	s.current = stateSuspendPending

	pkg.LogDebug(pkg.ComponentGroup, "system suspend pending",
		"hart_index", hartIndex, "suspend_type", typeValue)
	return pkg.StatusSuccess
}

// processEvents advances the suspend state machine one step.
func processEvents(g *platform.ServiceGroup) pkg.Status {
	susp := g.Priv.(*Group)

	switch susp.current {
	case stateSuspendPending:
		if !susp.ops.SystemSuspendReady(susp.hartIndex) {
			return pkg.StatusBusy
		}
		susp.ops.SystemSuspendFinalize(susp.hartIndex, susp.suspendType, susp.resumeAddr)
		susp.current = stateSuspended
		pkg.LogDebug(pkg.ComponentGroup, "system suspended",
			"hart_index", susp.hartIndex)

	case stateSuspended:
		if !susp.ops.SystemSuspendCanResume(susp.hartIndex) {
			return pkg.StatusBusy
		}
		if st := susp.ops.SystemSuspendResume(susp.hartIndex, susp.suspendType, susp.resumeAddr); st != pkg.StatusSuccess {
			return st
		}
		susp.current = stateRunning
		pkg.LogDebug(pkg.ComponentGroup, "system resumed",
			"hart_index", susp.hartIndex)
	}

	return pkg.StatusSuccess
}
