// Package voltage implements the Voltage service group: per-domain
// regulator control with discrete or linear level ranges.
package voltage

import (
	"github.com/ardnew/softrpmi/pkg"
	"github.com/ardnew/softrpmi/platform"
	"github.com/ardnew/softrpmi/transport"
)

// Voltage service IDs.
const (
	ServiceEnableNotification uint8 = 0x01
	ServiceGetNumDomains      uint8 = 0x02
	ServiceGetAttributes      uint8 = 0x03
	ServiceGetSupportedLevels uint8 = 0x04
	ServiceSetConfig          uint8 = 0x05
	ServiceGetConfig          uint8 = 0x06
	ServiceSetVoltLevel       uint8 = 0x07
	ServiceGetVoltLevel       uint8 = 0x08
	serviceCount                    = 0x09
)

// Format is the level format of a voltage domain.
type Format uint8

// Voltage level formats.
const (
	// FormatDiscrete levels enumerate every supported microvolt
	// value.
	FormatDiscrete Format = 0
	// FormatLinear levels are described by (min, max, step).
	FormatLinear Format = 1
)

// Domain config values.
const (
	ConfigDisabled uint32 = 0
	ConfigEnabled  uint32 = 1
)

// CapabilityLinearFormat is the GET_ATTRIBUTES capability bit for
// linear-format domains.
const CapabilityLinearFormat uint32 = 1

// nameLen is the fixed name field length of GET_ATTRIBUTES.
const nameLen = 16

// Data is the static description of one voltage domain. Domain IDs
// are the positions in the array handed to [New].
type Data struct {
	// Name is the domain name, truncated to 15 bytes on the wire so
	// the 16-byte name field keeps a terminating NUL.
	Name string

	// Format selects how Levels is interpreted.
	Format Format

	// TransLatencyUs is the worst-case level transition latency.
	TransLatencyUs uint32

	// Levels holds supported levels in microvolts for
	// [FormatDiscrete], or exactly {min, max, step} for
	// [FormatLinear].
	Levels []int32
}

// PlatformOps is the platform callback table for the voltage group.
// All callbacks are mandatory and invoked with the service group's
// lock held.
type PlatformOps struct {
	// GetConfig returns the domain's enable config.
	GetConfig func(domainID uint32) (uint32, pkg.Status)

	// SetConfig applies a new enable config.
	SetConfig func(domainID uint32, config uint32) pkg.Status

	// GetLevel returns the current level in microvolts.
	GetLevel func(domainID uint32) (int32, pkg.Status)

	// SetLevel applies a new level in microvolts.
	SetLevel func(domainID uint32, level int32) pkg.Status
}

// domain is one voltage domain instance.
type domain struct {
	id   uint32
	data *Data
}

// Group is the private state of a Voltage service group.
type Group struct {
	domains []domain
	ops     *PlatformOps
	group   platform.ServiceGroup
}

// New creates a Voltage service group over the given static domain
// data.
func New(domainData []Data, ops *PlatformOps) (*platform.ServiceGroup, error) {
	if len(domainData) == 0 || ops == nil {
		return nil, pkg.ErrInvalidParam
	}
	if ops.GetConfig == nil || ops.SetConfig == nil ||
		ops.GetLevel == nil || ops.SetLevel == nil {
		return nil, pkg.ErrInvalidParam
	}

	vg := &Group{
		domains: make([]domain, len(domainData)),
		ops:     ops,
	}
	for i := range vg.domains {
		vg.domains[i] = domain{id: uint32(i), data: &domainData[i]}
	}

	g := &vg.group
	g.Name = "voltage"
	g.ID = platform.GroupIDVoltage
	g.Version = platform.Version(platform.SpecVersionMajor, platform.SpecVersionMinor)
	g.PrivilegeMask = platform.PrivilegeMaskMMode | platform.PrivilegeMaskSMode
	g.Priv = vg
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
	g.Services[ServiceSetConfig] = platform.Service{
		ID:            ServiceSetConfig,
		MinRequestLen: 8,
		Handler:       setConfig,
	}
	g.Services[ServiceGetConfig] = platform.Service{
		ID:            ServiceGetConfig,
		MinRequestLen: 4,
		Handler:       getConfig,
	}
	g.Services[ServiceSetVoltLevel] = platform.Service{
		ID:            ServiceSetVoltLevel,
		MinRequestLen: 8,
		Handler:       setVoltLevel,
	}
	g.Services[ServiceGetVoltLevel] = platform.Service{
		ID:            ServiceGetVoltLevel,
		MinRequestLen: 4,
		Handler:       getVoltLevel,
	}

	return g, nil
}

func getNumDomains(g *platform.ServiceGroup, _ *platform.Service, t transport.Transport, _, resp []byte) (int, pkg.Status) {
	vg := g.Priv.(*Group)
	bo := t.ByteOrder()

	transport.PutU32(bo, resp, 0, pkg.StatusSuccess.Uint32())
	transport.PutU32(bo, resp, 1, uint32(len(vg.domains)))
	return 8, pkg.StatusSuccess
}

func getAttributes(g *platform.ServiceGroup, _ *platform.Service, t transport.Transport, req, resp []byte) (int, pkg.Status) {
	vg := g.Priv.(*Group)
	bo := t.ByteOrder()

	domainID := transport.U32(bo, req, 0)
	if domainID >= uint32(len(vg.domains)) {
		transport.PutU32(bo, resp, 0, pkg.StatusInvalidParam.Uint32())
		return 4, pkg.StatusSuccess
	}
	data := vg.domains[domainID].data

	var capability uint32
	if data.Format == FormatLinear {
		capability |= CapabilityLinearFormat
	}

	transport.PutU32(bo, resp, 0, pkg.StatusSuccess.Uint32())
	transport.PutU32(bo, resp, 1, capability)
	transport.PutU32(bo, resp, 2, uint32(len(data.Levels)))
	transport.PutU32(bo, resp, 3, data.TransLatencyUs)

	name := resp[16 : 16+nameLen]
	for i := range name {
		name[i] = 0
	}
	copy(name[:nameLen-1], data.Name)

	return 16 + nameLen, pkg.StatusSuccess
}

func getSupportedLevels(g *platform.ServiceGroup, _ *platform.Service, t transport.Transport, req, resp []byte) (int, pkg.Status) {
	vg := g.Priv.(*Group)
	bo := t.ByteOrder()

	domainID := transport.U32(bo, req, 0)
	if domainID >= uint32(len(vg.domains)) {
		transport.PutU32(bo, resp, 0, pkg.StatusInvalidParam.Uint32())
		return 4, pkg.StatusSuccess
	}
	data := vg.domains[domainID].data

	if len(data.Levels) == 0 {
		transport.PutU32(bo, resp, 0, pkg.StatusNotSupported.Uint32())
		return 4, pkg.StatusSuccess
	}

	startIndex := transport.U32(bo, req, 1)

	var remaining, returned uint32
	switch data.Format {
	case FormatLinear:
		for i := 0; i < 3; i++ {
			transport.PutU32(bo, resp, 4+i, uint32(data.Levels[i]))
		}
		returned = 3

	default:
		levelCount := uint32(len(data.Levels))
		if startIndex > levelCount {
			transport.PutU32(bo, resp, 0, pkg.StatusInvalidParam.Uint32())
			return 4, pkg.StatusSuccess
		}

		maxLevels := (t.SlotSize() - transport.HeaderSize - 4*4) / 4
		returned = levelCount - startIndex
		if returned > maxLevels {
			returned = maxLevels
		}
		for i := uint32(0); i < returned; i++ {
			transport.PutU32(bo, resp, int(4+i), uint32(data.Levels[startIndex+i]))
		}
		remaining = levelCount - (startIndex + returned)
	}

	transport.PutU32(bo, resp, 0, pkg.StatusSuccess.Uint32())
	transport.PutU32(bo, resp, 1, 0)
	transport.PutU32(bo, resp, 2, remaining)
	transport.PutU32(bo, resp, 3, returned)
	return int(16 + returned*4), pkg.StatusSuccess
}

func setConfig(g *platform.ServiceGroup, _ *platform.Service, t transport.Transport, req, resp []byte) (int, pkg.Status) {
	vg := g.Priv.(*Group)
	bo := t.ByteOrder()

	domainID := transport.U32(bo, req, 0)
	if domainID >= uint32(len(vg.domains)) {
		transport.PutU32(bo, resp, 0, pkg.StatusInvalidParam.Uint32())
		return 4, pkg.StatusSuccess
	}
	config := transport.U32(bo, req, 1)

	status := func() pkg.Status {
		current, st := vg.ops.GetConfig(domainID)
		if st != pkg.StatusSuccess {
			return st
		}
		if current == config {
			return pkg.StatusSuccess
		}
		return vg.ops.SetConfig(domainID, config)
	}()

	transport.PutU32(bo, resp, 0, uint32(status))
	return 4, pkg.StatusSuccess
}

func getConfig(g *platform.ServiceGroup, _ *platform.Service, t transport.Transport, req, resp []byte) (int, pkg.Status) {
	vg := g.Priv.(*Group)
	bo := t.ByteOrder()

	domainID := transport.U32(bo, req, 0)
	if domainID >= uint32(len(vg.domains)) {
		transport.PutU32(bo, resp, 0, pkg.StatusInvalidParam.Uint32())
		return 4, pkg.StatusSuccess
	}

	config, st := vg.ops.GetConfig(domainID)
	if st != pkg.StatusSuccess {
		transport.PutU32(bo, resp, 0, uint32(st))
		return 4, pkg.StatusSuccess
	}

	transport.PutU32(bo, resp, 0, pkg.StatusSuccess.Uint32())
	transport.PutU32(bo, resp, 1, config)
	return 8, pkg.StatusSuccess
}

func setVoltLevel(g *platform.ServiceGroup, _ *platform.Service, t transport.Transport, req, resp []byte) (int, pkg.Status) {
	vg := g.Priv.(*Group)
	bo := t.ByteOrder()

	domainID := transport.U32(bo, req, 0)
	if domainID >= uint32(len(vg.domains)) {
		transport.PutU32(bo, resp, 0, pkg.StatusInvalidParam.Uint32())
		return 4, pkg.StatusSuccess
	}
	level := int32(transport.U32(bo, req, 1))

	status := vg.ops.SetLevel(domainID, level)
	transport.PutU32(bo, resp, 0, uint32(status))
	return 4, pkg.StatusSuccess
}

func getVoltLevel(g *platform.ServiceGroup, _ *platform.Service, t transport.Transport, req, resp []byte) (int, pkg.Status) {
	vg := g.Priv.(*Group)
	bo := t.ByteOrder()

	domainID := transport.U32(bo, req, 0)
	if domainID >= uint32(len(vg.domains)) {
		transport.PutU32(bo, resp, 0, pkg.StatusInvalidParam.Uint32())
		return 4, pkg.StatusSuccess
	}

	level, st := vg.ops.GetLevel(domainID)
	if st != pkg.StatusSuccess {
		transport.PutU32(bo, resp, 0, uint32(st))
		return 4, pkg.StatusSuccess
	}

	transport.PutU32(bo, resp, 0, pkg.StatusSuccess.Uint32())
	transport.PutU32(bo, resp, 1, uint32(level))
	return 8, pkg.StatusSuccess
}
