// Package devpower implements the Device-Power service group:
// on/off state control for device power domains.
package devpower

import (
	"github.com/ardnew/softrpmi/pkg"
	"github.com/ardnew/softrpmi/platform"
	"github.com/ardnew/softrpmi/transport"
)

// Device-Power service IDs.
const (
	ServiceEnableNotification uint8 = 0x01
	ServiceGetNumDomains      uint8 = 0x02
	ServiceGetAttributes      uint8 = 0x03
	ServiceSetState           uint8 = 0x04
	ServiceGetState           uint8 = 0x05
	serviceCount                    = 0x06
)

// Device power domain states.
const (
	StateOn  uint32 = 0
	StateOff uint32 = 1
)

// nameLen is the fixed name field length of GET_ATTRIBUTES.
const nameLen = 16

// Data is the static description of one device power domain. Domain
// IDs are the positions in the array handed to [New].
type Data struct {
	// Name is the domain name, truncated to 15 bytes on the wire so
	// the 16-byte name field keeps a terminating NUL.
	Name string

	// TransLatencyUs is the worst-case state transition latency.
	TransLatencyUs uint32
}

// PlatformOps is the platform callback table for device power.
// Both callbacks are mandatory.
type PlatformOps struct {
	// GetState returns the domain's current power state.
	GetState func(domainID uint32) (uint32, pkg.Status)

	// SetState applies a new power state.
	SetState func(domainID uint32, state uint32) pkg.Status
}

// Group is the private state of a Device-Power service group.
type Group struct {
	domains []Data
	ops     *PlatformOps
	group   platform.ServiceGroup
}

// New creates a Device-Power service group over the given static
// domain data.
func New(domainData []Data, ops *PlatformOps) (*platform.ServiceGroup, error) {
	if len(domainData) == 0 || ops == nil ||
		ops.GetState == nil || ops.SetState == nil {
		return nil, pkg.ErrInvalidParam
	}

	dg := &Group{
		domains: domainData,
		ops:     ops,
	}

	g := &dg.group
	g.Name = "devpower"
	g.ID = platform.GroupIDDevicePower
	g.Version = platform.Version(platform.SpecVersionMajor, platform.SpecVersionMinor)
	g.PrivilegeMask = platform.PrivilegeMaskMMode | platform.PrivilegeMaskSMode
	g.Priv = dg
	g.Services = make([]platform.Service, serviceCount)
	g.Services[ServiceEnableNotification] = platform.Service{
		ID:            ServiceEnableNotification,
		MinRequestLen: 4,
	}
	g.Services[ServiceGetNumDomains] = platform.Service{
		ID:      ServiceGetNumDomains,
		Handler: getNumDomains,
	}
	g.Services[ServiceGetAttributes] = platform.Service{
		ID:            ServiceGetAttributes,
		MinRequestLen: 4,
		Handler:       getAttributes,
	}
	g.Services[ServiceSetState] = platform.Service{
		ID:            ServiceSetState,
		MinRequestLen: 8,
		Handler:       setState,
	}
	g.Services[ServiceGetState] = platform.Service{
		ID:            ServiceGetState,
		MinRequestLen: 4,
		Handler:       getState,
	}

	return g, nil
}

func getNumDomains(g *platform.ServiceGroup, _ *platform.Service, t transport.Transport, _, resp []byte) (int, pkg.Status) {
	dg := g.Priv.(*Group)
	bo := t.ByteOrder()

	transport.PutU32(bo, resp, 0, pkg.StatusSuccess.Uint32())
	transport.PutU32(bo, resp, 1, uint32(len(dg.domains)))
	return 8, pkg.StatusSuccess
}

func getAttributes(g *platform.ServiceGroup, _ *platform.Service, t transport.Transport, req, resp []byte) (int, pkg.Status) {
	dg := g.Priv.(*Group)
	bo := t.ByteOrder()

	domainID := transport.U32(bo, req, 0)
	if domainID >= uint32(len(dg.domains)) {
		transport.PutU32(bo, resp, 0, pkg.StatusInvalidParam.Uint32())
		return 4, pkg.StatusSuccess
	}
	data := &dg.domains[domainID]

	transport.PutU32(bo, resp, 0, pkg.StatusSuccess.Uint32())
	transport.PutU32(bo, resp, 1, 0)
	transport.PutU32(bo, resp, 2, data.TransLatencyUs)

	name := resp[12 : 12+nameLen]
	for i := range name {
		name[i] = 0
	}
	copy(name[:nameLen-1], data.Name)

	return 12 + nameLen, pkg.StatusSuccess
}

func setState(g *platform.ServiceGroup, _ *platform.Service, t transport.Transport, req, resp []byte) (int, pkg.Status) {
	dg := g.Priv.(*Group)
	bo := t.ByteOrder()

	domainID := transport.U32(bo, req, 0)
	state := transport.U32(bo, req, 1)

	status := func() pkg.Status {
		if domainID >= uint32(len(dg.domains)) {
			return pkg.StatusInvalidParam
		}
		if state != StateOn && state != StateOff {
			return pkg.StatusInvalidParam
		}
		current, st := dg.ops.GetState(domainID)
		if st != pkg.StatusSuccess {
			return st
		}
		if current == state {
			return pkg.StatusSuccess
		}
		return dg.ops.SetState(domainID, state)
	}()

	transport.PutU32(bo, resp, 0, uint32(status))
	return 4, pkg.StatusSuccess
}

func getState(g *platform.ServiceGroup, _ *platform.Service, t transport.Transport, req, resp []byte) (int, pkg.Status) {
	dg := g.Priv.(*Group)
	bo := t.ByteOrder()

	domainID := transport.U32(bo, req, 0)
	if domainID >= uint32(len(dg.domains)) {
		transport.PutU32(bo, resp, 0, pkg.StatusInvalidParam.Uint32())
		return 4, pkg.StatusSuccess
	}

	state, st := dg.ops.GetState(domainID)
	if st != pkg.StatusSuccess {
		transport.PutU32(bo, resp, 0, uint32(st))
		return 4, pkg.StatusSuccess
	}
	if state != StateOn && state != StateOff {
		transport.PutU32(bo, resp, 0, pkg.StatusInvalidState.Uint32())
		return 4, pkg.StatusSuccess
	}

	transport.PutU32(bo, resp, 0, pkg.StatusSuccess.Uint32())
	transport.PutU32(bo, resp, 1, state)
	return 8, pkg.StatusSuccess
}
