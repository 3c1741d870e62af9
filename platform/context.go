package platform

import (
	"errors"
	"sync"

	"github.com/ardnew/softrpmi/pkg"
	"github.com/ardnew/softrpmi/transport"
)

// doorbellInjector is implemented by the System-MSI group state so the
// context can inject the P2A doorbell without depending on the group
// package.
type doorbellInjector interface {
	InjectP2A() pkg.Status
}

// Context binds a transport to a set of service groups and drives the
// request-processing and event loops of the platform microcontroller.
type Context struct {
	name      string
	trans     transport.Transport
	maxGroups int
	privilege Privilege
	platInfo  []byte

	// groupsMutex guards groups membership. It is released across
	// calls into group event hooks to avoid inversion with group
	// locks.
	groupsMutex sync.Mutex
	groups      []*ServiceGroup

	// Scratch request and acknowledgement messages, sized to the
	// transport slot. ProcessA2PRequest must not be re-entered.
	reqMsg *transport.Message
	ackMsg *transport.Message

	base *ServiceGroup

	// msiGroup caches the System-MSI group for doorbell injection;
	// set when a group with GroupIDSystemMSI is added, cleared when
	// it is removed.
	msiGroup *ServiceGroup
}

// ContextConfig holds the enumerated options recognized by
// [NewContext].
type ContextConfig struct {
	// Name labels the context in logs.
	Name string

	// Transport carries the context's messages.
	Transport transport.Transport

	// MaxGroups caps the number of service groups, including the
	// built-in Base group.
	MaxGroups uint32

	// Privilege is the RISC-V privilege level of the A-side software
	// served by this context.
	Privilege Privilege

	// PlatformInfo is the ASCII description string served by
	// Base.GET_PLATFORM_INFO. It is copied, and truncated so the
	// response fits one message slot.
	PlatformInfo string
}

// NewContext creates a context with its built-in Base group already
// added.
func NewContext(cfg ContextConfig) (*Context, error) {
	if cfg.Name == "" || cfg.Transport == nil || cfg.MaxGroups == 0 {
		return nil, pkg.ErrInvalidParam
	}
	if cfg.Privilege > PrivilegeMMode {
		return nil, pkg.ErrInvalidParam
	}

	c := &Context{
		name:      cfg.Name,
		trans:     cfg.Transport,
		maxGroups: int(cfg.MaxGroups),
		privilege: cfg.Privilege,
		groups:    make([]*ServiceGroup, 0, cfg.MaxGroups),
		reqMsg:    transport.NewMessage(cfg.Transport.SlotSize()),
		ackMsg:    transport.NewMessage(cfg.Transport.SlotSize()),
	}

	// Bound the platform-info string so GET_PLATFORM_INFO always fits
	// one slot alongside its status and length words.
	maxInfo := int(cfg.Transport.SlotSize()) - transport.HeaderSize - 8
	info := cfg.PlatformInfo
	if len(info) > maxInfo {
		info = info[:maxInfo]
	}
	c.platInfo = []byte(info)

	c.base = newBaseGroup(c)
	if err := c.AddGroup(c.base); err != nil {
		return nil, err
	}

	pkg.LogDebug(pkg.ComponentContext, "context created",
		"name", cfg.Name,
		"privilege", cfg.Privilege.String(),
		"max_groups", cfg.MaxGroups)

	return c, nil
}

// Name returns the context name.
func (c *Context) Name() string {
	return c.name
}

// Transport returns the underlying transport.
func (c *Context) Transport() transport.Transport {
	return c.trans
}

// Privilege returns the context privilege level.
func (c *Context) Privilege() Privilege {
	return c.privilege
}

// AddGroup adds a service group to the context. It returns
// [pkg.ErrIO] when the group cap is reached, [pkg.ErrAlready] when the
// group is already present, and [pkg.ErrDenied] when the group's
// privilege bitmap does not admit the context's privilege level.
func (c *Context) AddGroup(g *ServiceGroup) error {
	if g == nil {
		return pkg.ErrInvalidParam
	}

	c.groupsMutex.Lock()
	defer c.groupsMutex.Unlock()

	if len(c.groups) >= c.maxGroups {
		pkg.LogWarn(pkg.ComponentContext, "no space to add group",
			"context", c.name, "group", g.Name)
		return pkg.ErrIO
	}
	for _, have := range c.groups {
		if have == g {
			return pkg.ErrAlready
		}
	}
	if g.PrivilegeMask&c.privilege.Mask() == 0 {
		pkg.LogWarn(pkg.ComponentContext, "group privilege mismatch",
			"context", c.name, "group", g.Name,
			"privilege", c.privilege.String())
		return pkg.ErrDenied
	}

	c.groups = append(c.groups, g)
	if g.ID == GroupIDSystemMSI {
		c.msiGroup = g
	}

	pkg.LogDebug(pkg.ComponentContext, "group added",
		"context", c.name, "group", g.Name, "group_id", g.ID)
	return nil
}

// RemoveGroup removes a service group from the context.
func (c *Context) RemoveGroup(g *ServiceGroup) {
	if g == nil {
		return
	}

	c.groupsMutex.Lock()
	defer c.groupsMutex.Unlock()

	for i, have := range c.groups {
		if have != g {
			continue
		}
		c.groups = append(c.groups[:i], c.groups[i+1:]...)
		if c.msiGroup == g {
			c.msiGroup = nil
		}
		return
	}
}

// FindGroup returns the group with the given service-group ID, or
// nil.
func (c *Context) FindGroup(id uint16) *ServiceGroup {
	c.groupsMutex.Lock()
	defer c.groupsMutex.Unlock()

	for _, g := range c.groups {
		if g.ID == id {
			return g
		}
	}
	return nil
}

// NumGroups returns the current number of groups, including Base.
func (c *Context) NumGroups() int {
	c.groupsMutex.Lock()
	defer c.groupsMutex.Unlock()
	return len(c.groups)
}

// Close destroys the context. It fails with [pkg.ErrBusy] unless all
// groups except the built-in Base group have been removed.
func (c *Context) Close() error {
	c.groupsMutex.Lock()
	n := len(c.groups)
	c.groupsMutex.Unlock()

	if n > 1 {
		return pkg.ErrBusy
	}
	c.RemoveGroup(c.base)
	return nil
}

// ProcessA2PRequest drains the A2P request queue, dispatching each
// request to its service group and acknowledging normal requests.
// It returns when the queue is empty. Must not be re-entered.
func (c *Context) ProcessA2PRequest() {
	for {
		if err := c.trans.Dequeue(transport.QueueA2PRequest, c.reqMsg); err != nil {
			if !errors.Is(err, pkg.ErrIO) {
				pkg.LogWarn(pkg.ComponentContext, "request dequeue failed",
					"context", c.name, "error", err)
			}
			return
		}
		c.dispatch(c.reqMsg)
	}
}

// dispatch routes one request message.
func (c *Context) dispatch(req *transport.Message) {
	group := c.FindGroup(req.Header.ServiceGroupID)
	if group == nil {
		pkg.LogDebug(pkg.ComponentContext, "service group not found",
			"context", c.name, "group_id", req.Header.ServiceGroupID)
		return
	}

	var service *Service
	if req.Header.ServiceID < group.MaxServiceID() {
		service = &group.Services[req.Header.ServiceID]
	}

	ack := c.ackMsg
	ack.Header.ServiceGroupID = req.Header.ServiceGroupID
	ack.Header.ServiceID = req.Header.ServiceID
	ack.Header.Flags = uint8(transport.MessageAcknowledgement)
	ack.Header.Token = req.Header.Token
	ack.Data = ack.Data[:0]

	var doProcess, doAcknowledge bool
	switch req.Header.Type() {
	case transport.MessageNormalRequest:
		doProcess, doAcknowledge = true, true
	case transport.MessagePostedRequest:
		doProcess = true
	case transport.MessageAcknowledgement:
		pkg.LogDebug(pkg.ComponentContext, "ignoring acknowledgement on a2p queue",
			"context", c.name, "group", group.Name)
	case transport.MessageNotification:
		pkg.LogDebug(pkg.ComponentContext, "ignoring notification on a2p queue",
			"context", c.name, "group", group.Name)
	}
	if !doProcess {
		return
	}

	respBuf := ack.Data[:cap(ack.Data)]

	group.mutex.Lock()
	var n int
	var st pkg.Status
	if service != nil && service.Handler != nil &&
		req.Header.DataLen >= service.MinRequestLen {
		n, st = service.Handler(group, service, c.trans, req.Data, respBuf)
	} else {
		n, st = NotSupported(c.trans, respBuf)
	}
	group.mutex.Unlock()

	if st != pkg.StatusSuccess {
		pkg.LogWarn(pkg.ComponentContext, "request handler failed",
			"context", c.name,
			"group", group.Name,
			"service", req.Header.ServiceID,
			"token", req.Header.Token,
			"status", st.String())
		return
	}

	if !doAcknowledge {
		if req.Header.Doorbell() {
			c.injectDoorbell()
		}
		return
	}

	ack.Data = respBuf[:n]
	for {
		err := c.trans.Enqueue(transport.QueueP2AAck, ack)
		if err == nil {
			break
		}
		if !errors.Is(err, pkg.ErrIO) {
			pkg.LogWarn(pkg.ComponentContext, "acknowledgement enqueue failed",
				"context", c.name, "group", group.Name, "error", err)
			return
		}
		// Queue full; the A-side is expected to drain it.
	}

	if req.Header.Doorbell() {
		c.injectDoorbell()
	}
}

// injectDoorbell raises the P2A doorbell MSI if a System-MSI group is
// present and configured.
func (c *Context) injectDoorbell() {
	c.groupsMutex.Lock()
	g := c.msiGroup
	c.groupsMutex.Unlock()
	if g == nil {
		return
	}

	inj, ok := g.Priv.(doorbellInjector)
	if !ok {
		return
	}
	if st := inj.InjectP2A(); st != pkg.StatusSuccess && st != pkg.StatusNotSupported {
		pkg.LogWarn(pkg.ComponentContext, "p2a doorbell injection failed",
			"context", c.name, "status", st.String())
	}
}

// tickGroup invokes one group's event hook under the group lock.
func (c *Context) tickGroup(g *ServiceGroup) {
	g.mutex.Lock()
	st := g.ProcessEvents(g)
	g.mutex.Unlock()

	// Busy is the normal "nothing to advance yet" answer.
	if st != pkg.StatusSuccess && st != pkg.StatusBusy {
		pkg.LogWarn(pkg.ComponentContext, "group event processing failed",
			"context", c.name, "group", g.Name, "status", st.String())
	}
}

// ProcessGroupEvents invokes the event hook of the group with the
// given service-group ID.
func (c *Context) ProcessGroupEvents(id uint16) {
	g := c.FindGroup(id)
	if g == nil {
		pkg.LogDebug(pkg.ComponentContext, "group not found for events",
			"context", c.name, "group_id", id)
		return
	}
	if g.ProcessEvents == nil {
		return
	}
	c.tickGroup(g)
}

// ProcessAllEvents invokes the event hook of every group that has
// one. The groups lock is released across each hook call.
func (c *Context) ProcessAllEvents() {
	c.groupsMutex.Lock()
	for i := 0; i < len(c.groups); i++ {
		g := c.groups[i]
		if g.ProcessEvents == nil {
			continue
		}
		c.groupsMutex.Unlock()
		c.tickGroup(g)
		c.groupsMutex.Lock()
	}
	c.groupsMutex.Unlock()
}
