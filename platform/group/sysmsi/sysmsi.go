// Package sysmsi implements the System-MSI service group.
//
// Each MSI is a level-style record with enable, pending, and
// target-valid bits plus a target address and data word. The event
// tick converts pending records into edges by writing the data word
// to the target address through the platform MMIO hook and clearing
// pending. One MSI index may be designated as the P2A doorbell raised
// by the context for requests that carry the doorbell flag.
package sysmsi

import (
	"github.com/ardnew/softrpmi/pkg"
	"github.com/ardnew/softrpmi/platform"
	"github.com/ardnew/softrpmi/transport"
)

// System-MSI service IDs.
const (
	ServiceEnableNotification uint8 = 0x01
	ServiceGetAttributes      uint8 = 0x02
	ServiceGetMSIAttributes   uint8 = 0x03
	ServiceSetMSIState        uint8 = 0x04
	ServiceGetMSIState        uint8 = 0x05
	ServiceSetMSITarget       uint8 = 0x06
	ServiceGetMSITarget       uint8 = 0x07
	serviceCount                    = 0x08
)

// MSI state word bits.
const (
	StateEnable  uint32 = 1 << 0
	StatePending uint32 = 1 << 1
)

// AttrFlagPreferMMode is the per-MSI attribute flag reporting the MSI
// is preferred to be handled at M-mode.
const AttrFlagPreferMMode uint32 = 1 << 0

// msiNameLen is the fixed name field length of GET_MSI_ATTRIBUTES.
const msiNameLen = 16

// NoP2ADoorbell disables the P2A doorbell MSI.
const NoP2ADoorbell = ^uint32(0)

// PlatformOps is the platform callback table for system MSI.
type PlatformOps struct {
	// ValidateAddr accepts or rejects an MSI target address. The
	// platform must reject addresses outside the MSI window.
	ValidateAddr func(addr uint64) bool

	// Write performs the MMIO word write that injects the MSI.
	Write func(addr uint64, data uint32)

	// PreferredPrivilege, when non-nil, reports whether the MSI is
	// preferred to be handled at M-mode.
	PreferredPrivilege func(msiIndex uint32) bool

	// Name, when non-nil, returns a short descriptive name for the
	// MSI. Longer names are truncated to 16 bytes.
	Name func(msiIndex uint32) string
}

// msi is one system MSI record.
type msi struct {
	enable     bool
	pending    bool
	valid      bool
	targetAddr uint64
	targetData uint32
}

// Group is the private state of a System-MSI service group.
type Group struct {
	msis     []msi
	p2aIndex uint32
	ops      *PlatformOps
	group    platform.ServiceGroup
}

// Config holds the enumerated options recognized by [New].
type Config struct {
	// NumMSI is the number of system MSIs.
	NumMSI uint32

	// P2ADoorbellIndex selects the MSI used as the P2A doorbell, or
	// [NoP2ADoorbell] (any value >= NumMSI) for none.
	P2ADoorbellIndex uint32

	// Ops is the platform callback table. ValidateAddr and Write are
	// mandatory.
	Ops *PlatformOps
}

// New creates a System-MSI service group.
func New(cfg Config) (*platform.ServiceGroup, error) {
	if cfg.NumMSI == 0 || cfg.Ops == nil ||
		cfg.Ops.ValidateAddr == nil || cfg.Ops.Write == nil {
		return nil, pkg.ErrInvalidParam
	}

	sgmsi := &Group{
		msis:     make([]msi, cfg.NumMSI),
		p2aIndex: cfg.P2ADoorbellIndex,
		ops:      cfg.Ops,
	}
	if sgmsi.p2aIndex > cfg.NumMSI {
		sgmsi.p2aIndex = cfg.NumMSI
	}

	g := &sgmsi.group
	g.Name = "sysmsi"
	g.ID = platform.GroupIDSystemMSI
	g.Version = platform.Version(platform.SpecVersionMajor, platform.SpecVersionMinor)
	g.PrivilegeMask = platform.PrivilegeMaskMMode | platform.PrivilegeMaskSMode
	g.Priv = sgmsi
	g.ProcessEvents = processEvents
	g.Services = make([]platform.Service, serviceCount)
	g.Services[ServiceEnableNotification] = platform.Service{
		ID:            ServiceEnableNotification,
		MinRequestLen: 4,
	}
	g.Services[ServiceGetAttributes] = platform.Service{
		ID:      ServiceGetAttributes,
		Handler: getAttributes,
	}
	g.Services[ServiceGetMSIAttributes] = platform.Service{
		ID:            ServiceGetMSIAttributes,
		MinRequestLen: 4,
		Handler:       getMSIAttributes,
	}
	g.Services[ServiceSetMSIState] = platform.Service{
		ID:            ServiceSetMSIState,
		MinRequestLen: 8,
		Handler:       setMSIState,
	}
	g.Services[ServiceGetMSIState] = platform.Service{
		ID:            ServiceGetMSIState,
		MinRequestLen: 4,
		Handler:       getMSIState,
	}
	g.Services[ServiceSetMSITarget] = platform.Service{
		ID:            ServiceSetMSITarget,
		MinRequestLen: 16,
		Handler:       setMSITarget,
	}
	g.Services[ServiceGetMSITarget] = platform.Service{
		ID:            ServiceGetMSITarget,
		MinRequestLen: 4,
		Handler:       getMSITarget,
	}

	return g, nil
}

// From returns the System-MSI state behind a service group created
// by [New].
func From(g *platform.ServiceGroup) (*Group, bool) {
	sgmsi, ok := g.Priv.(*Group)
	return sgmsi, ok
}

// deliver writes out every enabled, pending MSI with a valid target
// and clears its pending bit. Call with the group lock held.
func (s *Group) deliver() {
	for i := range s.msis {
		m := &s.msis[i]
		if m.enable && m.pending && m.valid {
			s.ops.Write(m.targetAddr, m.targetData)
			m.pending = false
		}
	}
}

func processEvents(g *platform.ServiceGroup) pkg.Status {
	g.Priv.(*Group).deliver()
	return pkg.StatusSuccess
}

// Inject marks the MSI pending and delivers immediately.
func (s *Group) Inject(msiIndex uint32) pkg.Status {
	if msiIndex >= uint32(len(s.msis)) {
		return pkg.StatusInvalidParam
	}

	s.group.Lock()
	s.msis[msiIndex].pending = true
	s.deliver()
	s.group.Unlock()

	return pkg.StatusSuccess
}

// InjectP2A injects the configured P2A doorbell MSI. Returns
// [pkg.StatusNotSupported] when no doorbell index is configured.
func (s *Group) InjectP2A() pkg.Status {
	if s.p2aIndex >= uint32(len(s.msis)) {
		return pkg.StatusNotSupported
	}
	return s.Inject(s.p2aIndex)
}

func getAttributes(g *platform.ServiceGroup, _ *platform.Service, t transport.Transport, _, resp []byte) (int, pkg.Status) {
	sgmsi := g.Priv.(*Group)
	bo := t.ByteOrder()

	transport.PutU32(bo, resp, 0, pkg.StatusSuccess.Uint32())
	transport.PutU32(bo, resp, 1, uint32(len(sgmsi.msis)))
	transport.PutU32(bo, resp, 2, 0)
	transport.PutU32(bo, resp, 3, 0)
	return 16, pkg.StatusSuccess
}

func getMSIAttributes(g *platform.ServiceGroup, _ *platform.Service, t transport.Transport, req, resp []byte) (int, pkg.Status) {
	sgmsi := g.Priv.(*Group)
	bo := t.ByteOrder()

	index := transport.U32(bo, req, 0)
	if index >= uint32(len(sgmsi.msis)) {
		transport.PutU32(bo, resp, 0, pkg.StatusInvalidParam.Uint32())
		return 4, pkg.StatusSuccess
	}

	var flags uint32
	if sgmsi.ops.PreferredPrivilege != nil && sgmsi.ops.PreferredPrivilege(index) {
		flags |= AttrFlagPreferMMode
	}

	transport.PutU32(bo, resp, 0, pkg.StatusSuccess.Uint32())
	transport.PutU32(bo, resp, 1, flags)
	for i := 2; i < 7; i++ {
		transport.PutU32(bo, resp, i, 0)
	}

	name := resp[28 : 28+msiNameLen]
	for i := range name {
		name[i] = 0
	}
	if sgmsi.ops.Name != nil {
		copy(name, sgmsi.ops.Name(index))
	}

	return 28 + msiNameLen, pkg.StatusSuccess
}

func setMSIState(g *platform.ServiceGroup, _ *platform.Service, t transport.Transport, req, resp []byte) (int, pkg.Status) {
	sgmsi := g.Priv.(*Group)
	bo := t.ByteOrder()

	index := transport.U32(bo, req, 0)
	if index >= uint32(len(sgmsi.msis)) {
		transport.PutU32(bo, resp, 0, pkg.StatusInvalidParam.Uint32())
		return 4, pkg.StatusSuccess
	}

	state := transport.U32(bo, req, 1)
	sgmsi.msis[index].enable = state&StateEnable != 0

	transport.PutU32(bo, resp, 0, pkg.StatusSuccess.Uint32())
	return 4, pkg.StatusSuccess
}

func getMSIState(g *platform.ServiceGroup, _ *platform.Service, t transport.Transport, req, resp []byte) (int, pkg.Status) {
	sgmsi := g.Priv.(*Group)
	bo := t.ByteOrder()

	index := transport.U32(bo, req, 0)
	if index >= uint32(len(sgmsi.msis)) {
		transport.PutU32(bo, resp, 0, pkg.StatusInvalidParam.Uint32())
		return 4, pkg.StatusSuccess
	}

	var state uint32
	if sgmsi.msis[index].enable {
		state |= StateEnable
	}
	if sgmsi.msis[index].pending {
		state |= StatePending
	}

	transport.PutU32(bo, resp, 0, pkg.StatusSuccess.Uint32())
	transport.PutU32(bo, resp, 1, state)
	return 8, pkg.StatusSuccess
}

func setMSITarget(g *platform.ServiceGroup, _ *platform.Service, t transport.Transport, req, resp []byte) (int, pkg.Status) {
	sgmsi := g.Priv.(*Group)
	bo := t.ByteOrder()

	index := transport.U32(bo, req, 0)
	if index >= uint32(len(sgmsi.msis)) {
		transport.PutU32(bo, resp, 0, pkg.StatusInvalidParam.Uint32())
		return 4, pkg.StatusSuccess
	}

	addr := transport.U64(bo, req, 1)
	data := transport.U32(bo, req, 3)

	if !sgmsi.ops.ValidateAddr(addr) {
		pkg.LogDebug(pkg.ComponentMSI, "msi target address rejected",
			"msi_index", index, "addr", addr)
		transport.PutU32(bo, resp, 0, pkg.StatusInvalidAddr.Uint32())
		return 4, pkg.StatusSuccess
	}

	m := &sgmsi.msis[index]
	m.targetAddr = addr
	m.targetData = data
	m.valid = true

	transport.PutU32(bo, resp, 0, pkg.StatusSuccess.Uint32())
	return 4, pkg.StatusSuccess
}

func getMSITarget(g *platform.ServiceGroup, _ *platform.Service, t transport.Transport, req, resp []byte) (int, pkg.Status) {
	sgmsi := g.Priv.(*Group)
	bo := t.ByteOrder()

	index := transport.U32(bo, req, 0)
	if index >= uint32(len(sgmsi.msis)) {
		transport.PutU32(bo, resp, 0, pkg.StatusInvalidParam.Uint32())
		return 4, pkg.StatusSuccess
	}

	m := &sgmsi.msis[index]
	transport.PutU32(bo, resp, 0, pkg.StatusSuccess.Uint32())
	transport.PutU64(bo, resp, 1, m.targetAddr)
	transport.PutU32(bo, resp, 3, m.targetData)
	return 16, pkg.StatusSuccess
}
