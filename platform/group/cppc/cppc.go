// Package cppc implements the CPPC (collaborative processor
// performance control) service group with per-hart fast channels.
//
// Only passive mode is supported: the A-side posts desired
// performance levels through its per-hart perf-request fast channel,
// and the event tick picks up changes by comparing against an
// in-memory shadow, forwards them to the platform, and publishes the
// resulting frequency through the perf-feedback fast channel.
package cppc

import (
	"github.com/ardnew/softrpmi/hsm"
	"github.com/ardnew/softrpmi/pkg"
	"github.com/ardnew/softrpmi/platform"
	"github.com/ardnew/softrpmi/shmem"
	"github.com/ardnew/softrpmi/transport"
)

// CPPC service IDs.
const (
	ServiceEnableNotification   uint8 = 0x01
	ServiceProbeReg             uint8 = 0x02
	ServiceReadReg              uint8 = 0x03
	ServiceWriteReg             uint8 = 0x04
	ServiceGetFastChannelRegion uint8 = 0x05
	ServiceGetFastChannelOffset uint8 = 0x06
	ServiceGetHartList          uint8 = 0x07
	serviceCount                      = 0x08
)

// ACPI CPPC register IDs, plus the non-ACPI transition latency
// register in the implementation-defined namespace.
const (
	RegHighestPerf             uint32 = 0x00000000
	RegNominalPerf             uint32 = 0x00000001
	RegLowestNonLinearPerf     uint32 = 0x00000002
	RegLowestPerf              uint32 = 0x00000003
	RegGuaranteedPerf          uint32 = 0x00000004
	RegDesiredPerf             uint32 = 0x00000005
	RegMinPerf                 uint32 = 0x00000006
	RegMaxPerf                 uint32 = 0x00000007
	RegPerfReductionTolerance  uint32 = 0x00000008
	RegTimeWindow              uint32 = 0x00000009
	RegCounterWraparoundTime   uint32 = 0x0000000A
	RegReferencePerfCounter    uint32 = 0x0000000B
	RegDeliveredPerfCounter    uint32 = 0x0000000C
	RegPerfLimited             uint32 = 0x0000000D
	RegCPPCEnable              uint32 = 0x0000000E
	RegAutonomousSelection     uint32 = 0x0000000F
	RegAutonomousActivityWin   uint32 = 0x00000010
	RegEnergyPerfPreference    uint32 = 0x00000011
	RegReferencePerf           uint32 = 0x00000012
	RegLowestFreq              uint32 = 0x00000013
	RegNominalFreq             uint32 = 0x00000014
	regACPIMax                 uint32 = 0x00000015
	RegTransitionLatency       uint32 = 0x80000000
	regNonACPIMax              uint32 = 0x80000001
)

// Mode is the CPPC mode of operation.
type Mode uint8

// CPPC modes. Autonomous mode is reserved and rejected.
const (
	ModePassive Mode = 0
	ModeAuto    Mode = 1
)

// FastChannelSize is the fixed per-hart fast channel entry size in
// bytes, for both the perf-request and perf-feedback sub-arrays.
const FastChannelSize = 8

// Regs holds the static CPPC capability register values shared by
// all harts managed by the group.
type Regs struct {
	HighestPerf          uint32
	NominalPerf          uint32
	LowestNonLinearPerf  uint32
	LowestPerf           uint32
	ReferencePerf        uint32
	LowestFreq           uint32
	NominalFreq          uint32
	TransitionLatency    uint32
}

// PlatformOps is the platform callback table for CPPC.
type PlatformOps struct {
	// GetReg reads a hardware-backed register (the perf counters, the
	// perf-limited register, and desired-perf when there is no fast
	// channel) for a hart.
	GetReg func(regID, hartIndex uint32) (uint64, pkg.Status)

	// SetReg writes the desired-perf register for a hart. It is used
	// only when the group has no fast channel, and is mandatory in
	// that case.
	SetReg func(regID, hartIndex uint32, value uint64) pkg.Status

	// UpdatePerf applies a new desired performance level for a hart.
	UpdatePerf func(hartIndex, desiredPerf uint32) pkg.Status

	// CurrentFreq returns the hart's current frequency in hertz.
	CurrentFreq func(hartIndex uint32) (uint64, pkg.Status)
}

// Group is the private state of a CPPC service group.
type Group struct {
	hsm       hsm.HSM
	hartCount uint32
	mode      Mode
	regs      *Regs
	ops       *PlatformOps

	fastchan     *shmem.Shmem
	reqOffset    uint64
	fbOffset     uint64

	// shadow mirrors each hart's last observed desired-perf value so
	// the event tick can edge-detect changes without racing the
	// A-side writer.
	shadow []uint32

	group platform.ServiceGroup
}

// Config holds the enumerated options recognized by [New].
type Config struct {
	// HSM supplies the managed hart set.
	HSM hsm.HSM

	// Regs is the static capability register data.
	Regs *Regs

	// Mode is the CPPC mode; only [ModePassive] is accepted.
	Mode Mode

	// FastChannel is the shared-memory region backing the fast
	// channels, or nil when the platform has none. Its base must be
	// aligned to [FastChannelSize].
	FastChannel *shmem.Shmem

	// PerfRequestOffset and PerfFeedbackOffset locate the per-hart
	// sub-arrays inside FastChannel. Both must be aligned to
	// [FastChannelSize] and the sub-arrays must not overlap.
	PerfRequestOffset  uint64
	PerfFeedbackOffset uint64

	// Ops is the platform callback table.
	Ops *PlatformOps
}

// New creates a CPPC service group.
func New(cfg Config) (*platform.ServiceGroup, error) {
	if cfg.HSM == nil || cfg.Regs == nil || cfg.Ops == nil {
		return nil, pkg.ErrInvalidParam
	}
	if cfg.Ops.GetReg == nil || cfg.Ops.UpdatePerf == nil || cfg.Ops.CurrentFreq == nil {
		return nil, pkg.ErrInvalidParam
	}
	if cfg.Mode != ModePassive {
		return nil, pkg.ErrNotSupported
	}

	hartCount := cfg.HSM.HartCount()
	if hartCount == 0 {
		return nil, pkg.ErrInvalidParam
	}

	if cfg.FastChannel != nil {
		if cfg.FastChannel.Base()%FastChannelSize != 0 ||
			cfg.PerfRequestOffset%FastChannelSize != 0 ||
			cfg.PerfFeedbackOffset%FastChannelSize != 0 {
			return nil, pkg.ErrInvalidParam
		}

		subSize := uint64(hartCount) * FastChannelSize
		if overlaps(cfg.PerfRequestOffset, cfg.PerfFeedbackOffset, subSize) {
			return nil, pkg.ErrInvalidParam
		}
		size := uint64(cfg.FastChannel.Size())
		if cfg.PerfRequestOffset+subSize > size || cfg.PerfFeedbackOffset+subSize > size {
			return nil, pkg.ErrInvalidParam
		}

		if err := cfg.FastChannel.Fill(0, 0, cfg.FastChannel.Size()); err != nil {
			return nil, err
		}
	} else if cfg.Ops.SetReg == nil {
		// Without fast channels, desired-perf writes land on the
		// platform register directly.
		return nil, pkg.ErrInvalidParam
	}

	cg := &Group{
		hsm:       cfg.HSM,
		hartCount: hartCount,
		mode:      cfg.Mode,
		regs:      cfg.Regs,
		ops:       cfg.Ops,
		fastchan:  cfg.FastChannel,
		reqOffset: cfg.PerfRequestOffset,
		fbOffset:  cfg.PerfFeedbackOffset,
		shadow:    make([]uint32, hartCount),
	}

	g := &cg.group
	g.Name = "cppc"
	g.ID = platform.GroupIDCPPC
	g.Version = platform.Version(platform.SpecVersionMajor, platform.SpecVersionMinor)
	g.PrivilegeMask = platform.PrivilegeMaskMMode | platform.PrivilegeMaskSMode
	g.Priv = cg
	g.ProcessEvents = processEvents
	g.Services = make([]platform.Service, serviceCount)
	g.Services[ServiceEnableNotification] = platform.Service{
		ID:            ServiceEnableNotification,
		MinRequestLen: 4,
	}
	g.Services[ServiceProbeReg] = platform.Service{
		ID:            ServiceProbeReg,
		MinRequestLen: 8,
		Handler:       probeReg,
	}
	g.Services[ServiceReadReg] = platform.Service{
		ID:            ServiceReadReg,
		MinRequestLen: 8,
		Handler:       readReg,
	}
	g.Services[ServiceWriteReg] = platform.Service{
		ID:            ServiceWriteReg,
		MinRequestLen: 16,
		Handler:       writeReg,
	}
	g.Services[ServiceGetFastChannelRegion] = platform.Service{
		ID:      ServiceGetFastChannelRegion,
		Handler: getFastChannelRegion,
	}
	g.Services[ServiceGetFastChannelOffset] = platform.Service{
		ID:            ServiceGetFastChannelOffset,
		MinRequestLen: 4,
		Handler:       getFastChannelOffset,
	}
	g.Services[ServiceGetHartList] = platform.Service{
		ID:            ServiceGetHartList,
		MinRequestLen: 4,
		Handler:       getHartList,
	}

	return g, nil
}

// overlaps reports whether two equally sized ranges intersect.
func overlaps(a, b, size uint64) bool {
	if a < b {
		return a+size > b
	}
	return b+size > a
}

// validReg reports whether the register ID names a register in the
// CPPC namespace, implemented or not.
func validReg(regID uint32) bool {
	return regID < regACPIMax ||
		(regID >= RegTransitionLatency && regID < regNonACPIMax)
}

// probeWidth returns the bit width of an implemented register, or a
// not-supported status for registers that are defined but not
// implemented.
func probeWidth(regID uint32) (uint32, pkg.Status) {
	switch regID {
	case RegHighestPerf, RegNominalPerf, RegLowestNonLinearPerf,
		RegLowestPerf, RegDesiredPerf, RegPerfLimited,
		RegReferencePerf, RegLowestFreq, RegNominalFreq,
		RegTransitionLatency:
		return 32, pkg.StatusSuccess
	case RegReferencePerfCounter, RegDeliveredPerfCounter:
		return 64, pkg.StatusSuccess
	default:
		return 0, pkg.StatusNotSupported
	}
}

// fastChannelDesiredPerf reads a hart's desired-perf value from its
// perf-request fast channel.
func (c *Group) fastChannelDesiredPerf(hartIndex uint32) uint32 {
	var buf [4]byte
	offset := uint32(c.reqOffset) + hartIndex*FastChannelSize
	if err := c.fastchan.Read(offset, buf[:]); err != nil {
		pkg.LogWarn(pkg.ComponentCPPC, "fast channel read failed",
			"hart_index", hartIndex, "error", err)
		return 0
	}
	// Fast channel values are little-endian words.
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
}

// publishFeedback writes a hart's current frequency into its
// perf-feedback fast channel.
func (c *Group) publishFeedback(hartIndex uint32, freqHz uint64) {
	var buf [FastChannelSize]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(freqHz >> (8 * i))
	}
	offset := uint32(c.fbOffset) + hartIndex*FastChannelSize
	if err := c.fastchan.Write(offset, buf[:]); err != nil {
		pkg.LogWarn(pkg.ComponentCPPC, "fast channel write failed",
			"hart_index", hartIndex, "error", err)
	}
}

// readRegValue resolves a register read for a hart.
func (c *Group) readRegValue(regID, hartIndex uint32) (uint64, pkg.Status) {
	switch regID {
	case RegDeliveredPerfCounter, RegReferencePerfCounter, RegPerfLimited:
		return c.ops.GetReg(regID, hartIndex)
	case RegHighestPerf:
		return uint64(c.regs.HighestPerf), pkg.StatusSuccess
	case RegNominalPerf:
		return uint64(c.regs.NominalPerf), pkg.StatusSuccess
	case RegLowestNonLinearPerf:
		return uint64(c.regs.LowestNonLinearPerf), pkg.StatusSuccess
	case RegLowestPerf:
		return uint64(c.regs.LowestPerf), pkg.StatusSuccess
	case RegReferencePerf:
		return uint64(c.regs.ReferencePerf), pkg.StatusSuccess
	case RegDesiredPerf:
		if c.fastchan == nil {
			return c.ops.GetReg(regID, hartIndex)
		}
		return uint64(c.fastChannelDesiredPerf(hartIndex)), pkg.StatusSuccess
	case RegLowestFreq:
		return uint64(c.regs.LowestFreq), pkg.StatusSuccess
	case RegNominalFreq:
		return uint64(c.regs.NominalFreq), pkg.StatusSuccess
	case RegTransitionLatency:
		return uint64(c.regs.TransitionLatency), pkg.StatusSuccess
	default:
		return 0, pkg.StatusDenied
	}
}

// writeRegValue resolves a register write for a hart. With fast
// channels present the desired-perf register must be written through
// the fast channel, so direct writes are denied; every other register
// is read-only.
func (c *Group) writeRegValue(regID, hartIndex uint32, value uint64) pkg.Status {
	if regID == RegDesiredPerf && c.fastchan == nil {
		return c.ops.SetReg(regID, hartIndex, value)
	}
	return pkg.StatusDenied
}

func processEvents(g *platform.ServiceGroup) pkg.Status {
	cg := g.Priv.(*Group)
	if cg.fastchan == nil {
		return pkg.StatusSuccess
	}
	status := pkg.StatusSuccess

	for hartIndex := uint32(0); hartIndex < cg.hartCount; hartIndex++ {
		desired := cg.fastChannelDesiredPerf(hartIndex)
		if cg.shadow[hartIndex] == desired {
			continue
		}
		cg.shadow[hartIndex] = desired

		if st := cg.ops.UpdatePerf(hartIndex, desired); st != pkg.StatusSuccess {
			pkg.LogWarn(pkg.ComponentCPPC, "perf update failed",
				"hart_index", hartIndex, "status", st.String())
			status = st
			continue
		}

		freq, st := cg.ops.CurrentFreq(hartIndex)
		if st != pkg.StatusSuccess {
			pkg.LogWarn(pkg.ComponentCPPC, "frequency query failed",
				"hart_index", hartIndex, "status", st.String())
			status = st
			continue
		}
		cg.publishFeedback(hartIndex, freq)
	}

	return status
}

func probeReg(g *platform.ServiceGroup, _ *platform.Service, t transport.Transport, req, resp []byte) (int, pkg.Status) {
	cg := g.Priv.(*Group)
	bo := t.ByteOrder()

	hartID := transport.U32(bo, req, 0)
	regID := transport.U32(bo, req, 1)

	if !validReg(regID) {
		transport.PutU32(bo, resp, 0, pkg.StatusInvalidParam.Uint32())
		return 4, pkg.StatusSuccess
	}
	if _, ok := cg.hsm.HartIDToIndex(hartID); !ok {
		transport.PutU32(bo, resp, 0, pkg.StatusInvalidParam.Uint32())
		return 4, pkg.StatusSuccess
	}

	width, status := probeWidth(regID)
	transport.PutU32(bo, resp, 0, uint32(status))
	transport.PutU32(bo, resp, 1, width)
	return 8, pkg.StatusSuccess
}

func readReg(g *platform.ServiceGroup, _ *platform.Service, t transport.Transport, req, resp []byte) (int, pkg.Status) {
	cg := g.Priv.(*Group)
	bo := t.ByteOrder()

	hartID := transport.U32(bo, req, 0)
	regID := transport.U32(bo, req, 1)

	if !validReg(regID) {
		transport.PutU32(bo, resp, 0, pkg.StatusInvalidParam.Uint32())
		return 4, pkg.StatusSuccess
	}
	hartIndex, ok := cg.hsm.HartIDToIndex(hartID)
	if !ok {
		transport.PutU32(bo, resp, 0, pkg.StatusInvalidParam.Uint32())
		return 4, pkg.StatusSuccess
	}
	if _, st := probeWidth(regID); st != pkg.StatusSuccess {
		transport.PutU32(bo, resp, 0, uint32(st))
		return 4, pkg.StatusSuccess
	}

	value, st := cg.readRegValue(regID, hartIndex)
	if st != pkg.StatusSuccess {
		transport.PutU32(bo, resp, 0, uint32(st))
		return 4, pkg.StatusSuccess
	}

	transport.PutU32(bo, resp, 0, pkg.StatusSuccess.Uint32())
	transport.PutU64(bo, resp, 1, value)
	return 12, pkg.StatusSuccess
}

func writeReg(g *platform.ServiceGroup, _ *platform.Service, t transport.Transport, req, resp []byte) (int, pkg.Status) {
	cg := g.Priv.(*Group)
	bo := t.ByteOrder()

	hartID := transport.U32(bo, req, 0)
	regID := transport.U32(bo, req, 1)
	value := transport.U64(bo, req, 2)

	if !validReg(regID) {
		transport.PutU32(bo, resp, 0, pkg.StatusInvalidParam.Uint32())
		return 4, pkg.StatusSuccess
	}
	hartIndex, ok := cg.hsm.HartIDToIndex(hartID)
	if !ok {
		transport.PutU32(bo, resp, 0, pkg.StatusInvalidParam.Uint32())
		return 4, pkg.StatusSuccess
	}
	if _, st := probeWidth(regID); st != pkg.StatusSuccess {
		transport.PutU32(bo, resp, 0, uint32(st))
		return 4, pkg.StatusSuccess
	}

	status := cg.writeRegValue(regID, hartIndex, value)
	transport.PutU32(bo, resp, 0, uint32(status))
	return 4, pkg.StatusSuccess
}

func getFastChannelRegion(g *platform.ServiceGroup, _ *platform.Service, t transport.Transport, _, resp []byte) (int, pkg.Status) {
	cg := g.Priv.(*Group)
	bo := t.ByteOrder()

	if cg.fastchan == nil {
		transport.PutU32(bo, resp, 0, pkg.StatusNotSupported.Uint32())
		return 4, pkg.StatusSuccess
	}

	transport.PutU32(bo, resp, 0, pkg.StatusSuccess.Uint32())
	// Flags zero: no doorbell, passive mode.
	transport.PutU32(bo, resp, 1, 0)
	transport.PutU64(bo, resp, 2, cg.fastchan.Base())
	transport.PutU64(bo, resp, 4, uint64(cg.fastchan.Size()))
	// Doorbell address, set mask, and preserve mask are all zero.
	for i := 6; i < 12; i++ {
		transport.PutU32(bo, resp, i, 0)
	}
	return 48, pkg.StatusSuccess
}

func getFastChannelOffset(g *platform.ServiceGroup, _ *platform.Service, t transport.Transport, req, resp []byte) (int, pkg.Status) {
	cg := g.Priv.(*Group)
	bo := t.ByteOrder()

	if cg.fastchan == nil {
		transport.PutU32(bo, resp, 0, pkg.StatusNotSupported.Uint32())
		return 4, pkg.StatusSuccess
	}

	hartID := transport.U32(bo, req, 0)
	hartIndex, ok := cg.hsm.HartIDToIndex(hartID)
	if !ok {
		transport.PutU32(bo, resp, 0, pkg.StatusInvalidParam.Uint32())
		return 4, pkg.StatusSuccess
	}

	entry := uint64(hartIndex) * FastChannelSize
	transport.PutU32(bo, resp, 0, pkg.StatusSuccess.Uint32())
	transport.PutU64(bo, resp, 1, cg.reqOffset+entry)
	transport.PutU64(bo, resp, 3, cg.fbOffset+entry)
	return 20, pkg.StatusSuccess
}

func getHartList(g *platform.ServiceGroup, _ *platform.Service, t transport.Transport, req, resp []byte) (int, pkg.Status) {
	cg := g.Priv.(*Group)
	bo := t.ByteOrder()

	start := transport.U32(bo, req, 0)
	total := cg.hsm.HartCount()
	maxEntries := (t.SlotSize() - transport.HeaderSize - 3*4) / 4

	if start > total {
		transport.PutU32(bo, resp, 0, pkg.StatusInvalidParam.Uint32())
		transport.PutU32(bo, resp, 1, total)
		transport.PutU32(bo, resp, 2, 0)
		return 12, pkg.StatusSuccess
	}

	returned := total - start
	if returned > maxEntries {
		returned = maxEntries
	}
	for i := uint32(0); i < returned; i++ {
		id, _ := cg.hsm.HartIndexToID(start + i)
		transport.PutU32(bo, resp, int(3+i), id)
	}

	transport.PutU32(bo, resp, 0, pkg.StatusSuccess.Uint32())
	transport.PutU32(bo, resp, 1, total-(start+returned))
	transport.PutU32(bo, resp, 2, returned)
	return int(12 + returned*4), pkg.StatusSuccess
}
