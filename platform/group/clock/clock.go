// Package clock implements the Clock service group over a
// hierarchical clock tree.
//
// Clocks are declared by static data with parent links; the
// constructor queries the platform for every clock's initial state
// and rate and wires the hierarchy. Enabling a clock recursively
// enables its ancestors; disabling a clock with an enabled child is
// denied; changing a rate propagates through the subtree in a
// pre-order walk, asking the platform to recalculate each child from
// its parent's new rate.
package clock

import (
	"sync"

	"github.com/ardnew/softrpmi/pkg"
	"github.com/ardnew/softrpmi/platform"
	"github.com/ardnew/softrpmi/transport"
)

// Clock service IDs.
const (
	ServiceEnableNotification uint8 = 0x01
	ServiceGetNumClocks       uint8 = 0x02
	ServiceGetAttributes      uint8 = 0x03
	ServiceGetSupportedRates  uint8 = 0x04
	ServiceSetConfig          uint8 = 0x05
	ServiceGetConfig          uint8 = 0x06
	ServiceSetRate            uint8 = 0x07
	ServiceGetRate            uint8 = 0x08
	serviceCount                    = 0x09
)

// Format is the rate format of a clock.
type Format uint8

// Clock rate formats.
const (
	// FormatDiscrete rates enumerate every supported value.
	FormatDiscrete Format = 0
	// FormatLinear rates are described by (min, max, step).
	FormatLinear Format = 1
)

// State is the cached clock gate state.
type State uint8

// Clock states.
const (
	StateDisabled State = 0
	StateEnabled  State = 1
)

// RateMatch selects how the platform resolves a requested rate.
type RateMatch uint8

// Rate match modes. MatchPlatform leaves the tie-break entirely to
// the platform set-rate callback.
const (
	MatchPlatform  RateMatch = 0
	MatchRoundDown RateMatch = 1
	MatchRoundUp   RateMatch = 2
	matchMax       RateMatch = 3
)

// ParentNone marks a root clock in [Data.ParentID].
const ParentNone = ^uint32(0)

// nameLen is the fixed name field length of GET_ATTRIBUTES.
const nameLen = 16

// rateInvalid is the all-ones rate rejected by SET_RATE.
const rateInvalid = ^uint64(0)

// AttrFlagLinearFormat is the GET_ATTRIBUTES capability bit for
// linear-format clocks.
const AttrFlagLinearFormat uint32 = 1

// Data is the static description of one clock. Clock IDs are the
// positions in the array handed to [New].
type Data struct {
	// ParentID names the parent clock, or [ParentNone] for a root.
	ParentID uint32

	// TransitionLatencyMs is the worst-case rate transition latency.
	TransitionLatencyMs uint32

	// Format selects how Rates is interpreted.
	Format Format

	// Name is the clock name, truncated to 15 bytes on the wire so the
	// 16-byte name field keeps a terminating NUL.
	Name string

	// Rates enumerates supported rates for [FormatDiscrete], or
	// holds exactly {min, max, step} for [FormatLinear].
	Rates []uint64
}

// PlatformOps is the platform callback table for the clock group.
// All callbacks are mandatory. SetState, RateChangeMatch, SetRate and
// SetRateRecalc run under the lock of the clock being changed, except
// SetState for ancestors enabled on a child's behalf, which runs under
// the child's lock only. GetStateAndRate is called without a clock
// lock.
type PlatformOps struct {
	// SetState gates a clock on or off.
	SetState func(clockID uint32, state State) pkg.Status

	// GetStateAndRate returns the current gate state and rate.
	GetStateAndRate func(clockID uint32) (State, uint64, pkg.Status)

	// RateChangeMatch reports whether setting the given rate is an
	// actual change for the clock.
	RateChangeMatch func(clockID uint32, rate uint64) bool

	// SetRate applies a rate with the given match mode and returns
	// the rate actually programmed.
	SetRate func(clockID uint32, match RateMatch, rate uint64) (uint64, pkg.Status)

	// SetRateRecalc recalculates a child clock after its parent
	// changed to parentRate, returning the child's new rate.
	SetRateRecalc func(clockID uint32, parentRate uint64) (uint64, pkg.Status)
}

// node is one clock instance in the tree.
type node struct {
	// mutex is held across state and rate mutations of this node and
	// the platform calls performing them.
	mutex sync.Mutex

	id          uint32
	data        *Data
	parent      *node
	children    []*node
	enableCount uint32
	state       State
}

// Group is the private state of a Clock service group.
type Group struct {
	nodes []node
	ops   *PlatformOps
	group platform.ServiceGroup
}

// New creates a Clock service group over the given static clock data.
// The platform is queried for every clock's initial state and rate;
// every query must succeed, and parent references must be in range.
func New(clockData []Data, ops *PlatformOps) (*platform.ServiceGroup, error) {
	if len(clockData) == 0 || ops == nil {
		return nil, pkg.ErrInvalidParam
	}
	if ops.SetState == nil || ops.GetStateAndRate == nil ||
		ops.RateChangeMatch == nil || ops.SetRate == nil ||
		ops.SetRateRecalc == nil {
		return nil, pkg.ErrInvalidParam
	}

	clk := &Group{
		nodes: make([]node, len(clockData)),
		ops:   ops,
	}

	for i := range clk.nodes {
		n := &clk.nodes[i]
		n.id = uint32(i)
		n.data = &clockData[i]

		state, _, st := ops.GetStateAndRate(n.id)
		if st != pkg.StatusSuccess {
			pkg.LogWarn(pkg.ComponentClock, "initial state query failed",
				"clock_id", n.id, "status", st.String())
			return nil, st.Err()
		}
		n.state = state
		if state == StateEnabled {
			n.enableCount = 1
		}
	}

	for i := range clk.nodes {
		n := &clk.nodes[i]
		parentID := n.data.ParentID
		if parentID == ParentNone {
			continue
		}
		if parentID >= uint32(len(clk.nodes)) || parentID == n.id {
			return nil, pkg.ErrInvalidParam
		}
		n.parent = &clk.nodes[parentID]
		n.parent.children = append(n.parent.children, n)
	}

	g := &clk.group
	g.Name = "clk"
	g.ID = platform.GroupIDClock
	g.Version = platform.Version(platform.SpecVersionMajor, platform.SpecVersionMinor)
	g.PrivilegeMask = platform.PrivilegeMaskMMode | platform.PrivilegeMaskSMode
	g.Priv = clk
	g.Services = make([]platform.Service, serviceCount)
	g.Services[ServiceEnableNotification] = platform.Service{
		ID:            ServiceEnableNotification,
		MinRequestLen: 4,
	}
	g.Services[ServiceGetNumClocks] = platform.Service{
		ID:      ServiceGetNumClocks,
		Handler: getNumClocks,
	}
	g.Services[ServiceGetAttributes] = platform.Service{
		ID:            ServiceGetAttributes,
		MinRequestLen: 4,
		Handler:       getAttributes,
	}
	g.Services[ServiceGetSupportedRates] = platform.Service{
		ID:            ServiceGetSupportedRates,
		MinRequestLen: 8,
		Handler:       getSupportedRates,
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
	g.Services[ServiceSetRate] = platform.Service{
		ID:            ServiceSetRate,
		MinRequestLen: 16,
		Handler:       setRate,
	}
	g.Services[ServiceGetRate] = platform.Service{
		ID:            ServiceGetRate,
		MinRequestLen: 4,
		Handler:       getRate,
	}

	return g, nil
}

// setStateLocked changes the gate state of n. Call with n's mutex
// held; parent recursion during enable runs without taking ancestor
// locks, matching the single-top-level-caller locking model.
func (c *Group) setStateLocked(n *node, state State) pkg.Status {
	switch state {
	case StateDisabled:
		if n.state == StateDisabled {
			return pkg.StatusAlready
		}

		// A clock with an enabled child stays on; a leaf has no
		// children and gates off directly.
		for _, child := range n.children {
			if child.state == StateEnabled {
				return pkg.StatusDenied
			}
		}

		if st := c.ops.SetState(n.id, state); st != pkg.StatusSuccess {
			return st
		}
		n.state = state
		n.enableCount--

		// Parent refcounts are deliberately not released here; the
		// upward walk is an open protocol question.
		return pkg.StatusSuccess

	case StateEnabled:
		if n.state == StateEnabled {
			return pkg.StatusAlready
		}

		if n.parent != nil {
			if st := c.setStateLocked(n.parent, state); st != pkg.StatusSuccess && st != pkg.StatusAlready {
				return st
			}
		}

		if st := c.ops.SetState(n.id, state); st != pkg.StatusSuccess {
			return st
		}
		n.state = state
		n.enableCount++
		return pkg.StatusSuccess

	default:
		return pkg.StatusInvalidParam
	}
}

// setState changes the gate state of the clock with the given ID.
func (c *Group) setState(clockID uint32, state State) pkg.Status {
	if clockID >= uint32(len(c.nodes)) {
		return pkg.StatusInvalidParam
	}
	n := &c.nodes[clockID]

	n.mutex.Lock()
	defer n.mutex.Unlock()
	return c.setStateLocked(n, state)
}

// updateRateTree recalculates every descendant of parent after its
// rate changed, in a pre-order walk. Child locks are taken in walk
// order under the origin node's lock.
func (c *Group) updateRateTree(parent *node, parentRate uint64) pkg.Status {
	for _, child := range parent.children {
		child.mutex.Lock()
		newRate, st := c.ops.SetRateRecalc(child.id, parentRate)
		if st != pkg.StatusSuccess {
			child.mutex.Unlock()
			pkg.LogWarn(pkg.ComponentClock, "rate recalculation failed",
				"clock_id", child.id, "status", st.String())
			return st
		}
		st = c.updateRateTree(child, newRate)
		child.mutex.Unlock()
		if st != pkg.StatusSuccess {
			return st
		}
	}
	return pkg.StatusSuccess
}

// setRateOn applies a rate change to the clock and propagates it
// through the subtree.
func (c *Group) setRateOn(clockID uint32, match RateMatch, rate uint64) pkg.Status {
	if clockID >= uint32(len(c.nodes)) {
		return pkg.StatusInvalidParam
	}
	n := &c.nodes[clockID]

	n.mutex.Lock()
	defer n.mutex.Unlock()

	if n.state == StateDisabled {
		return pkg.StatusDenied
	}
	if !c.ops.RateChangeMatch(n.id, rate) {
		return pkg.StatusAlready
	}

	actual, st := c.ops.SetRate(n.id, match, rate)
	if st != pkg.StatusSuccess {
		return st
	}

	if len(n.children) > 0 {
		if st := c.updateRateTree(n, actual); st != pkg.StatusSuccess {
			return st
		}
	}
	return pkg.StatusSuccess
}

func getNumClocks(g *platform.ServiceGroup, _ *platform.Service, t transport.Transport, _, resp []byte) (int, pkg.Status) {
	clk := g.Priv.(*Group)
	bo := t.ByteOrder()

	transport.PutU32(bo, resp, 0, pkg.StatusSuccess.Uint32())
	transport.PutU32(bo, resp, 1, uint32(len(clk.nodes)))
	return 8, pkg.StatusSuccess
}

func getAttributes(g *platform.ServiceGroup, _ *platform.Service, t transport.Transport, req, resp []byte) (int, pkg.Status) {
	clk := g.Priv.(*Group)
	bo := t.ByteOrder()

	clockID := transport.U32(bo, req, 0)
	if clockID >= uint32(len(clk.nodes)) {
		transport.PutU32(bo, resp, 0, pkg.StatusInvalidParam.Uint32())
		return 4, pkg.StatusSuccess
	}
	data := clk.nodes[clockID].data

	var flags uint32
	if data.Format == FormatLinear {
		flags |= AttrFlagLinearFormat
	}

	transport.PutU32(bo, resp, 0, pkg.StatusSuccess.Uint32())
	transport.PutU32(bo, resp, 1, flags)
	transport.PutU32(bo, resp, 2, uint32(len(data.Rates)))
	transport.PutU32(bo, resp, 3, data.TransitionLatencyMs)

	name := resp[16 : 16+nameLen]
	for i := range name {
		name[i] = 0
	}
	copy(name[:nameLen-1], data.Name)

	return 16 + nameLen, pkg.StatusSuccess
}

func getSupportedRates(g *platform.ServiceGroup, _ *platform.Service, t transport.Transport, req, resp []byte) (int, pkg.Status) {
	clk := g.Priv.(*Group)
	bo := t.ByteOrder()

	clockID := transport.U32(bo, req, 0)
	if clockID >= uint32(len(clk.nodes)) {
		transport.PutU32(bo, resp, 0, pkg.StatusInvalidParam.Uint32())
		return 4, pkg.StatusSuccess
	}
	data := clk.nodes[clockID].data

	if len(data.Rates) == 0 {
		transport.PutU32(bo, resp, 0, pkg.StatusNotSupported.Uint32())
		return 4, pkg.StatusSuccess
	}

	startIndex := transport.U32(bo, req, 1)

	var remaining, returned uint32
	switch data.Format {
	case FormatLinear:
		// min, max, and step as (lo, hi) pairs.
		for i := 0; i < 3; i++ {
			transport.PutU64(bo, resp, 4+2*i, data.Rates[i])
		}
		returned = 3

	case FormatDiscrete:
		rateCount := uint32(len(data.Rates))
		if startIndex > rateCount {
			transport.PutU32(bo, resp, 0, pkg.StatusInvalidParam.Uint32())
			return 4, pkg.StatusSuccess
		}

		maxRates := (t.SlotSize() - transport.HeaderSize - 4*4) / 8
		returned = rateCount - startIndex
		if returned > maxRates {
			returned = maxRates
		}
		for i := uint32(0); i < returned; i++ {
			transport.PutU64(bo, resp, int(4+2*i), data.Rates[startIndex+i])
		}
		remaining = rateCount - (startIndex + returned)

	default:
		transport.PutU32(bo, resp, 0, pkg.StatusFailed.Uint32())
		return 4, pkg.StatusSuccess
	}

	transport.PutU32(bo, resp, 0, pkg.StatusSuccess.Uint32())
	transport.PutU32(bo, resp, 1, 0)
	transport.PutU32(bo, resp, 2, remaining)
	transport.PutU32(bo, resp, 3, returned)
	return int(16 + returned*8), pkg.StatusSuccess
}

func setConfig(g *platform.ServiceGroup, _ *platform.Service, t transport.Transport, req, resp []byte) (int, pkg.Status) {
	clk := g.Priv.(*Group)
	bo := t.ByteOrder()

	clockID := transport.U32(bo, req, 0)
	config := transport.U32(bo, req, 1)

	state := StateDisabled
	if config&1 != 0 {
		state = StateEnabled
	}

	status := clk.setState(clockID, state)
	transport.PutU32(bo, resp, 0, uint32(status))
	return 4, pkg.StatusSuccess
}

func getConfig(g *platform.ServiceGroup, _ *platform.Service, t transport.Transport, req, resp []byte) (int, pkg.Status) {
	clk := g.Priv.(*Group)
	bo := t.ByteOrder()

	clockID := transport.U32(bo, req, 0)
	if clockID >= uint32(len(clk.nodes)) {
		transport.PutU32(bo, resp, 0, pkg.StatusInvalidParam.Uint32())
		return 4, pkg.StatusSuccess
	}

	state, _, st := clk.ops.GetStateAndRate(clockID)
	if st != pkg.StatusSuccess {
		transport.PutU32(bo, resp, 0, uint32(st))
		return 4, pkg.StatusSuccess
	}

	var config uint32
	if state == StateEnabled {
		config = 1
	}

	transport.PutU32(bo, resp, 0, pkg.StatusSuccess.Uint32())
	transport.PutU32(bo, resp, 1, config)
	return 8, pkg.StatusSuccess
}

func setRate(g *platform.ServiceGroup, _ *platform.Service, t transport.Transport, req, resp []byte) (int, pkg.Status) {
	clk := g.Priv.(*Group)
	bo := t.ByteOrder()

	clockID := transport.U32(bo, req, 0)
	flags := transport.U32(bo, req, 1)
	rate := transport.U64(bo, req, 2)

	match := RateMatch(flags & 0b11)
	if match >= matchMax {
		transport.PutU32(bo, resp, 0, pkg.StatusInvalidParam.Uint32())
		return 4, pkg.StatusSuccess
	}
	if rate == 0 || rate == rateInvalid {
		transport.PutU32(bo, resp, 0, pkg.StatusInvalidParam.Uint32())
		return 4, pkg.StatusSuccess
	}

	status := clk.setRateOn(clockID, match, rate)
	transport.PutU32(bo, resp, 0, uint32(status))
	return 4, pkg.StatusSuccess
}

func getRate(g *platform.ServiceGroup, _ *platform.Service, t transport.Transport, req, resp []byte) (int, pkg.Status) {
	clk := g.Priv.(*Group)
	bo := t.ByteOrder()

	clockID := transport.U32(bo, req, 0)
	if clockID >= uint32(len(clk.nodes)) {
		transport.PutU32(bo, resp, 0, pkg.StatusInvalidParam.Uint32())
		return 4, pkg.StatusSuccess
	}

	_, rate, st := clk.ops.GetStateAndRate(clockID)
	if st != pkg.StatusSuccess {
		transport.PutU32(bo, resp, 0, uint32(st))
		return 4, pkg.StatusSuccess
	}

	transport.PutU32(bo, resp, 0, pkg.StatusSuccess.Uint32())
	transport.PutU64(bo, resp, 1, rate)
	return 12, pkg.StatusSuccess
}
