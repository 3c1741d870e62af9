// Package perf implements the Performance service group: per-domain
// performance level and limit control.
//
// Fast channels for performance requests are not exposed through this
// group; the CPPC service group owns the per-hart fast channels. The
// fast-channel services answer not-supported.
package perf

import (
	"github.com/ardnew/softrpmi/pkg"
	"github.com/ardnew/softrpmi/platform"
	"github.com/ardnew/softrpmi/transport"
)

// Performance service IDs.
const (
	ServiceEnableNotification      uint8 = 0x01
	ServiceGetNumDomains           uint8 = 0x02
	ServiceGetAttributes           uint8 = 0x03
	ServiceGetSupportedLevels      uint8 = 0x04
	ServiceGetPerfLevel            uint8 = 0x05
	ServiceSetPerfLevel            uint8 = 0x06
	ServiceGetPerfLimit            uint8 = 0x07
	ServiceSetPerfLimit            uint8 = 0x08
	ServiceGetFastChannelRegion    uint8 = 0x09
	ServiceGetFastChannelAttrs     uint8 = 0x0A
	serviceCount                         = 0x0B
)

// GET_ATTRIBUTES capability bits.
const (
	// CapabilityLevelChange reports the domain accepts level
	// requests.
	CapabilityLevelChange uint32 = 1 << 0
	// CapabilityLimitChange reports the domain accepts limit
	// requests.
	CapabilityLimitChange uint32 = 1 << 1
)

// nameLen is the fixed name field length of GET_ATTRIBUTES.
const nameLen = 16

// Level describes one performance operating point of a domain.
type Level struct {
	// Value is the abstract performance level.
	Value uint32

	// PowerCostUw is the power cost in microwatts.
	PowerCostUw uint32

	// TransLatencyUs is the transition latency into this level.
	TransLatencyUs uint32
}

// Data is the static description of one performance domain. Domain
// IDs are the positions in the array handed to [New].
type Data struct {
	// Name is the domain name, truncated to 15 bytes on the wire so
	// the 16-byte name field keeps a terminating NUL.
	Name string

	// Capability carries Capability bits.
	Capability uint32

	// Levels enumerates the supported operating points.
	Levels []Level
}

// PlatformOps is the platform callback table for the performance
// group. All callbacks are mandatory.
type PlatformOps struct {
	// GetLevel returns the domain's current performance level.
	GetLevel func(domainID uint32) (uint32, pkg.Status)

	// SetLevel applies a new performance level.
	SetLevel func(domainID uint32, level uint32) pkg.Status

	// GetLimit returns the domain's current level limit.
	GetLimit func(domainID uint32) (uint32, pkg.Status)

	// SetLimit applies a new level limit.
	SetLimit func(domainID uint32, limit uint32) pkg.Status
}

// Group is the private state of a Performance service group.
type Group struct {
	domains []Data
	ops     *PlatformOps
	group   platform.ServiceGroup
}

// New creates a Performance service group over the given static
// domain data.
func New(domainData []Data, ops *PlatformOps) (*platform.ServiceGroup, error) {
	if len(domainData) == 0 || ops == nil {
		return nil, pkg.ErrInvalidParam
	}
	if ops.GetLevel == nil || ops.SetLevel == nil ||
		ops.GetLimit == nil || ops.SetLimit == nil {
		return nil, pkg.ErrInvalidParam
	}

	pg := &Group{
		domains: domainData,
		ops:     ops,
	}

	g := &pg.group
	g.Name = "perf"
	g.ID = platform.GroupIDPerformance
	g.Version = platform.Version(platform.SpecVersionMajor, platform.SpecVersionMinor)
	g.PrivilegeMask = platform.PrivilegeMaskMMode | platform.PrivilegeMaskSMode
	g.Priv = pg
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
	g.Services[ServiceGetSupportedLevels] = platform.Service{
		ID:            ServiceGetSupportedLevels,
		MinRequestLen: 8,
		Handler:       getSupportedLevels,
	}
	g.Services[ServiceGetPerfLevel] = platform.Service{
		ID:            ServiceGetPerfLevel,
		MinRequestLen: 4,
		Handler:       getPerfLevel,
	}
	g.Services[ServiceSetPerfLevel] = platform.Service{
		ID:            ServiceSetPerfLevel,
		MinRequestLen: 8,
		Handler:       setPerfLevel,
	}
	g.Services[ServiceGetPerfLimit] = platform.Service{
		ID:            ServiceGetPerfLimit,
		MinRequestLen: 4,
		Handler:       getPerfLimit,
	}
	g.Services[ServiceSetPerfLimit] = platform.Service{
		ID:            ServiceSetPerfLimit,
		MinRequestLen: 8,
		Handler:       setPerfLimit,
	}
	// Fast channel services are deliberately left without handlers;
	// CPPC owns the per-hart fast channels.
	g.Services[ServiceGetFastChannelRegion] = platform.Service{
		ID: ServiceGetFastChannelRegion,
	}
	g.Services[ServiceGetFastChannelAttrs] = platform.Service{
		ID: ServiceGetFastChannelAttrs,
	}

	return g, nil
}

// hasLevel reports whether the domain supports the given level
// value.
func (p *Group) hasLevel(domainID, level uint32) bool {
	for _, l := range p.domains[domainID].Levels {
		if l.Value == level {
			return true
		}
	}
	return false
}

func getNumDomains(g *platform.ServiceGroup, _ *platform.Service, t transport.Transport, _, resp []byte) (int, pkg.Status) {
	pg := g.Priv.(*Group)
	bo := t.ByteOrder()

	transport.PutU32(bo, resp, 0, pkg.StatusSuccess.Uint32())
	transport.PutU32(bo, resp, 1, uint32(len(pg.domains)))
	return 8, pkg.StatusSuccess
}

func getAttributes(g *platform.ServiceGroup, _ *platform.Service, t transport.Transport, req, resp []byte) (int, pkg.Status) {
	pg := g.Priv.(*Group)
	bo := t.ByteOrder()

	domainID := transport.U32(bo, req, 0)
	if domainID >= uint32(len(pg.domains)) {
		transport.PutU32(bo, resp, 0, pkg.StatusInvalidParam.Uint32())
		return 4, pkg.StatusSuccess
	}
	data := &pg.domains[domainID]

	transport.PutU32(bo, resp, 0, pkg.StatusSuccess.Uint32())
	transport.PutU32(bo, resp, 1, data.Capability)
	transport.PutU32(bo, resp, 2, uint32(len(data.Levels)))

	name := resp[12 : 12+nameLen]
	for i := range name {
		name[i] = 0
	}
	copy(name[:nameLen-1], data.Name)

	return 12 + nameLen, pkg.StatusSuccess
}

func getSupportedLevels(g *platform.ServiceGroup, _ *platform.Service, t transport.Transport, req, resp []byte) (int, pkg.Status) {
	pg := g.Priv.(*Group)
	bo := t.ByteOrder()

	domainID := transport.U32(bo, req, 0)
	if domainID >= uint32(len(pg.domains)) {
		transport.PutU32(bo, resp, 0, pkg.StatusInvalidParam.Uint32())
		return 4, pkg.StatusSuccess
	}
	levels := pg.domains[domainID].Levels

	startIndex := transport.U32(bo, req, 1)
	levelCount := uint32(len(levels))
	if startIndex > levelCount {
		transport.PutU32(bo, resp, 0, pkg.StatusInvalidParam.Uint32())
		return 4, pkg.StatusSuccess
	}

	// Each level entry is three words: value, power cost, latency.
	maxLevels := (t.SlotSize() - transport.HeaderSize - 4*4) / 12
	returned := levelCount - startIndex
	if returned > maxLevels {
		returned = maxLevels
	}
	for i := uint32(0); i < returned; i++ {
		l := &levels[startIndex+i]
		transport.PutU32(bo, resp, int(4+3*i), l.Value)
		transport.PutU32(bo, resp, int(5+3*i), l.PowerCostUw)
		transport.PutU32(bo, resp, int(6+3*i), l.TransLatencyUs)
	}

	transport.PutU32(bo, resp, 0, pkg.StatusSuccess.Uint32())
	transport.PutU32(bo, resp, 1, 0)
	transport.PutU32(bo, resp, 2, levelCount-(startIndex+returned))
	transport.PutU32(bo, resp, 3, returned)
	return int(16 + returned*12), pkg.StatusSuccess
}

func getPerfLevel(g *platform.ServiceGroup, _ *platform.Service, t transport.Transport, req, resp []byte) (int, pkg.Status) {
	pg := g.Priv.(*Group)
	bo := t.ByteOrder()

	domainID := transport.U32(bo, req, 0)
	if domainID >= uint32(len(pg.domains)) {
		transport.PutU32(bo, resp, 0, pkg.StatusInvalidParam.Uint32())
		return 4, pkg.StatusSuccess
	}

	level, st := pg.ops.GetLevel(domainID)
	if st != pkg.StatusSuccess {
		transport.PutU32(bo, resp, 0, uint32(st))
		return 4, pkg.StatusSuccess
	}

	transport.PutU32(bo, resp, 0, pkg.StatusSuccess.Uint32())
	transport.PutU32(bo, resp, 1, level)
	return 8, pkg.StatusSuccess
}

func setPerfLevel(g *platform.ServiceGroup, _ *platform.Service, t transport.Transport, req, resp []byte) (int, pkg.Status) {
	pg := g.Priv.(*Group)
	bo := t.ByteOrder()

	domainID := transport.U32(bo, req, 0)
	level := transport.U32(bo, req, 1)

	status := func() pkg.Status {
		if domainID >= uint32(len(pg.domains)) {
			return pkg.StatusInvalidParam
		}
		if pg.domains[domainID].Capability&CapabilityLevelChange == 0 {
			return pkg.StatusDenied
		}
		if !pg.hasLevel(domainID, level) {
			return pkg.StatusInvalidParam
		}
		return pg.ops.SetLevel(domainID, level)
	}()

	transport.PutU32(bo, resp, 0, uint32(status))
	return 4, pkg.StatusSuccess
}

func getPerfLimit(g *platform.ServiceGroup, _ *platform.Service, t transport.Transport, req, resp []byte) (int, pkg.Status) {
	pg := g.Priv.(*Group)
	bo := t.ByteOrder()

	domainID := transport.U32(bo, req, 0)
	if domainID >= uint32(len(pg.domains)) {
		transport.PutU32(bo, resp, 0, pkg.StatusInvalidParam.Uint32())
		return 4, pkg.StatusSuccess
	}

	limit, st := pg.ops.GetLimit(domainID)
	if st != pkg.StatusSuccess {
		transport.PutU32(bo, resp, 0, uint32(st))
		return 4, pkg.StatusSuccess
	}

	transport.PutU32(bo, resp, 0, pkg.StatusSuccess.Uint32())
	transport.PutU32(bo, resp, 1, limit)
	return 8, pkg.StatusSuccess
}

func setPerfLimit(g *platform.ServiceGroup, _ *platform.Service, t transport.Transport, req, resp []byte) (int, pkg.Status) {
	pg := g.Priv.(*Group)
	bo := t.ByteOrder()

	domainID := transport.U32(bo, req, 0)
	limit := transport.U32(bo, req, 1)

	status := func() pkg.Status {
		if domainID >= uint32(len(pg.domains)) {
			return pkg.StatusInvalidParam
		}
		if pg.domains[domainID].Capability&CapabilityLimitChange == 0 {
			return pkg.StatusDenied
		}
		if !pg.hasLevel(domainID, limit) {
			return pkg.StatusInvalidParam
		}
		return pg.ops.SetLimit(domainID, limit)
	}()

	transport.PutU32(bo, resp, 0, uint32(status))
	return 4, pkg.StatusSuccess
}
