package platform

import (
	"github.com/ardnew/softrpmi/pkg"
	"github.com/ardnew/softrpmi/transport"
)

// baseGroup is the private state of the built-in Base service group.
type baseGroup struct {
	cntx  *Context
	group ServiceGroup
}

// newBaseGroup wires the built-in Base group for a context.
func newBaseGroup(c *Context) *ServiceGroup {
	base := &baseGroup{cntx: c}

	g := &base.group
	g.Name = "base"
	g.ID = GroupIDBase
	g.Version = Version(SpecVersionMajor, SpecVersionMinor)
	g.PrivilegeMask = PrivilegeMaskSMode | PrivilegeMaskMMode
	g.Services = make([]Service, baseServiceCount)
	g.Priv = base

	g.Services[BaseServiceEnableNotification] = Service{
		ID:            BaseServiceEnableNotification,
		MinRequestLen: 4,
		// Notifications are not supported; the nil handler answers
		// with the not-supported status word.
	}
	g.Services[BaseServiceGetImplementationVersion] = Service{
		ID:      BaseServiceGetImplementationVersion,
		Handler: baseGetImplVersion,
	}
	g.Services[BaseServiceGetImplementationIDN] = Service{
		ID:      BaseServiceGetImplementationIDN,
		Handler: baseGetImplIDN,
	}
	g.Services[BaseServiceGetSpecVersion] = Service{
		ID:      BaseServiceGetSpecVersion,
		Handler: baseGetSpecVersion,
	}
	g.Services[BaseServiceGetPlatformInfo] = Service{
		ID:      BaseServiceGetPlatformInfo,
		Handler: baseGetPlatformInfo,
	}
	g.Services[BaseServiceProbeServiceGroup] = Service{
		ID:            BaseServiceProbeServiceGroup,
		MinRequestLen: 4,
		Handler:       baseProbeGroup,
	}
	g.Services[BaseServiceGetAttributes] = Service{
		ID:      BaseServiceGetAttributes,
		Handler: baseGetAttributes,
	}

	return g
}

func baseGetImplVersion(g *ServiceGroup, _ *Service, t transport.Transport, _, resp []byte) (int, pkg.Status) {
	bo := t.ByteOrder()
	transport.PutU32(bo, resp, 0, pkg.StatusSuccess.Uint32())
	transport.PutU32(bo, resp, 1, Version(ImplVersionMajor, ImplVersionMinor))
	return 8, pkg.StatusSuccess
}

func baseGetImplIDN(g *ServiceGroup, _ *Service, t transport.Transport, _, resp []byte) (int, pkg.Status) {
	bo := t.ByteOrder()
	transport.PutU32(bo, resp, 0, pkg.StatusSuccess.Uint32())
	transport.PutU32(bo, resp, 1, ImplementationID)
	return 8, pkg.StatusSuccess
}

func baseGetSpecVersion(g *ServiceGroup, _ *Service, t transport.Transport, _, resp []byte) (int, pkg.Status) {
	bo := t.ByteOrder()
	transport.PutU32(bo, resp, 0, pkg.StatusSuccess.Uint32())
	transport.PutU32(bo, resp, 1, Version(SpecVersionMajor, SpecVersionMinor))
	return 8, pkg.StatusSuccess
}

func baseGetPlatformInfo(g *ServiceGroup, _ *Service, t transport.Transport, _, resp []byte) (int, pkg.Status) {
	base := g.Priv.(*baseGroup)
	bo := t.ByteOrder()

	info := base.cntx.platInfo
	transport.PutU32(bo, resp, 0, pkg.StatusSuccess.Uint32())
	transport.PutU32(bo, resp, 1, uint32(len(info)))
	copy(resp[8:], info)
	return 8 + len(info), pkg.StatusSuccess
}

func baseProbeGroup(g *ServiceGroup, _ *Service, t transport.Transport, req, resp []byte) (int, pkg.Status) {
	base := g.Priv.(*baseGroup)
	bo := t.ByteOrder()

	probeID := transport.U32(bo, req, 0)

	var version uint32
	if probeID <= 0xffff {
		if probed := base.cntx.FindGroup(uint16(probeID)); probed != nil {
			version = probed.Version
		}
	}

	transport.PutU32(bo, resp, 0, pkg.StatusSuccess.Uint32())
	transport.PutU32(bo, resp, 1, version)
	return 8, pkg.StatusSuccess
}

func baseGetAttributes(g *ServiceGroup, _ *Service, t transport.Transport, _, resp []byte) (int, pkg.Status) {
	base := g.Priv.(*baseGroup)
	bo := t.ByteOrder()

	var flags uint32
	if base.cntx.privilege == PrivilegeMMode {
		flags |= BaseAttributesFlagMMode
	}

	transport.PutU32(bo, resp, 0, pkg.StatusSuccess.Uint32())
	transport.PutU32(bo, resp, 1, flags)
	transport.PutU32(bo, resp, 2, 0)
	transport.PutU32(bo, resp, 3, 0)
	transport.PutU32(bo, resp, 4, 0)
	return 20, pkg.StatusSuccess
}
