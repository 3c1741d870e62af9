// Package sysreset implements the System-Reset service group.
//
// The group advertises which reset types the platform supports and
// hands SYSTEM_RESET requests to the platform reset callback, which
// does not return. SYSTEM_RESET is typically issued as a posted
// request since there is no one left to read an acknowledgement.
package sysreset

import (
	"github.com/ardnew/softrpmi/pkg"
	"github.com/ardnew/softrpmi/platform"
	"github.com/ardnew/softrpmi/transport"
)

// System-Reset service IDs.
const (
	ServiceEnableNotification uint8 = 0x01
	ServiceGetAttributes      uint8 = 0x02
	ServiceSystemReset        uint8 = 0x03
	serviceCount                    = 0x04
)

// System reset types.
const (
	TypeShutdown   uint32 = 0x0
	TypeColdReboot uint32 = 0x1
	TypeWarmReboot uint32 = 0x2
)

// AttrFlagResetType is the GET_ATTRIBUTES flag bit reporting that the
// queried reset type is supported.
const AttrFlagResetType uint32 = 1

// PlatformOps is the platform callback table for system reset.
type PlatformOps struct {
	// DoSystemReset performs the reset. It must not return.
	DoSystemReset func(resetType uint32)
}

// Group is the private state of a System-Reset service group.
type Group struct {
	types []uint32
	ops   *PlatformOps
	group platform.ServiceGroup
}

// New creates a System-Reset service group supporting the given reset
// types.
func New(supportedTypes []uint32, ops *PlatformOps) (*platform.ServiceGroup, error) {
	if len(supportedTypes) == 0 || ops == nil || ops.DoSystemReset == nil {
		return nil, pkg.ErrInvalidParam
	}

	rst := &Group{
		types: supportedTypes,
		ops:   ops,
	}

	g := &rst.group
	g.Name = "sysreset"
	g.ID = platform.GroupIDSystemReset
	g.Version = platform.Version(platform.SpecVersionMajor, platform.SpecVersionMinor)
	g.PrivilegeMask = platform.PrivilegeMaskMMode | platform.PrivilegeMaskSMode
	g.Priv = rst
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
	g.Services[ServiceSystemReset] = platform.Service{
		ID:            ServiceSystemReset,
		MinRequestLen: 4,
		Handler:       systemReset,
	}

	return g, nil
}

// supported reports whether the reset type is in the supported list.
func (r *Group) supported(resetType uint32) bool {
	for _, t := range r.types {
		if t == resetType {
			return true
		}
	}
	return false
}

func getAttributes(g *platform.ServiceGroup, _ *platform.Service, t transport.Transport, req, resp []byte) (int, pkg.Status) {
	rst := g.Priv.(*Group)
	bo := t.ByteOrder()

	var attr uint32
	if rst.supported(transport.U32(bo, req, 0)) {
		attr = AttrFlagResetType
	}

	transport.PutU32(bo, resp, 0, pkg.StatusSuccess.Uint32())
	transport.PutU32(bo, resp, 1, attr)
	return 8, pkg.StatusSuccess
}

func systemReset(g *platform.ServiceGroup, _ *platform.Service, t transport.Transport, req, resp []byte) (int, pkg.Status) {
	rst := g.Priv.(*Group)
	bo := t.ByteOrder()

	resetType := transport.U32(bo, req, 0)
	if rst.supported(resetType) {
		pkg.LogInfo(pkg.ComponentGroup, "entering platform system reset",
			"reset_type", resetType)
		// Does not return.
		rst.ops.DoSystemReset(resetType)
	}

	transport.PutU32(bo, resp, 0, pkg.StatusInvalidParam.Uint32())
	return 4, pkg.StatusSuccess
}
