// Package hsm implements the hart-state-management service group,
// exposing a [hsm.HSM] engine to the A-side.
//
// The list services paginate: replies carry (status, remaining,
// returned, values...) with as many values as fit one message slot.
// The group's event tick reconciles every hart against hardware.
// This group is admitted only to M-mode contexts.
package hsm

import (
	enginehsm "github.com/ardnew/softrpmi/hsm"
	"github.com/ardnew/softrpmi/pkg"
	"github.com/ardnew/softrpmi/platform"
	"github.com/ardnew/softrpmi/transport"
)

// HSM service IDs.
const (
	ServiceEnableNotification uint8 = 0x01
	ServiceGetHartStatus      uint8 = 0x02
	ServiceGetHartList        uint8 = 0x03
	ServiceGetSuspendTypes    uint8 = 0x04
	ServiceGetSuspendInfo     uint8 = 0x05
	ServiceHartStart          uint8 = 0x06
	ServiceHartStop           uint8 = 0x07
	ServiceHartSuspend        uint8 = 0x08
	serviceCount                    = 0x09
)

// Group is the private state of an HSM service group.
type Group struct {
	hsm   enginehsm.HSM
	group platform.ServiceGroup
}

// New creates an HSM service group over the given engine.
func New(h enginehsm.HSM) (*platform.ServiceGroup, error) {
	if h == nil {
		return nil, pkg.ErrInvalidParam
	}

	sg := &Group{hsm: h}

	g := &sg.group
	g.Name = "hsm"
	g.ID = platform.GroupIDHSM
	g.Version = platform.Version(platform.SpecVersionMajor, platform.SpecVersionMinor)
	g.PrivilegeMask = platform.PrivilegeMaskMMode
	g.Priv = sg
	g.ProcessEvents = processEvents
	g.Services = make([]platform.Service, serviceCount)
	g.Services[ServiceEnableNotification] = platform.Service{
		ID:            ServiceEnableNotification,
		MinRequestLen: 4,
	}
	g.Services[ServiceGetHartStatus] = platform.Service{
		ID:            ServiceGetHartStatus,
		MinRequestLen: 4,
		Handler:       getHartStatus,
	}
	g.Services[ServiceGetHartList] = platform.Service{
		ID:            ServiceGetHartList,
		MinRequestLen: 4,
		Handler:       getHartList,
	}
	g.Services[ServiceGetSuspendTypes] = platform.Service{
		ID:            ServiceGetSuspendTypes,
		MinRequestLen: 4,
		Handler:       getSuspendTypes,
	}
	g.Services[ServiceGetSuspendInfo] = platform.Service{
		ID:            ServiceGetSuspendInfo,
		MinRequestLen: 4,
		Handler:       getSuspendInfo,
	}
	g.Services[ServiceHartStart] = platform.Service{
		ID:            ServiceHartStart,
		MinRequestLen: 12,
		Handler:       hartStart,
	}
	g.Services[ServiceHartStop] = platform.Service{
		ID:            ServiceHartStop,
		MinRequestLen: 4,
		Handler:       hartStop,
	}
	g.Services[ServiceHartSuspend] = platform.Service{
		ID:            ServiceHartSuspend,
		MinRequestLen: 16,
		Handler:       hartSuspend,
	}

	return g, nil
}

func processEvents(g *platform.ServiceGroup) pkg.Status {
	sg := g.Priv.(*Group)
	sg.hsm.ProcessStateChanges()
	return pkg.StatusSuccess
}

func hartStart(g *platform.ServiceGroup, _ *platform.Service, t transport.Transport, req, resp []byte) (int, pkg.Status) {
	sg := g.Priv.(*Group)
	bo := t.ByteOrder()

	hartID := transport.U32(bo, req, 0)
	startAddr := transport.U64(bo, req, 1)

	status := sg.hsm.HartStart(hartID, startAddr)
	transport.PutU32(bo, resp, 0, uint32(status))
	return 4, pkg.StatusSuccess
}

func hartStop(g *platform.ServiceGroup, _ *platform.Service, t transport.Transport, req, resp []byte) (int, pkg.Status) {
	sg := g.Priv.(*Group)
	bo := t.ByteOrder()

	status := sg.hsm.HartStop(transport.U32(bo, req, 0))
	transport.PutU32(bo, resp, 0, uint32(status))
	return 4, pkg.StatusSuccess
}

func hartSuspend(g *platform.ServiceGroup, _ *platform.Service, t transport.Transport, req, resp []byte) (int, pkg.Status) {
	sg := g.Priv.(*Group)
	bo := t.ByteOrder()

	hartID := transport.U32(bo, req, 0)
	typeValue := transport.U32(bo, req, 1)
	resumeAddr := transport.U64(bo, req, 2)

	var status pkg.Status
	if suspendType := sg.hsm.FindSuspendType(typeValue); suspendType != nil {
		status = sg.hsm.HartSuspend(hartID, suspendType, resumeAddr)
	} else {
		status = pkg.StatusInvalidParam
	}

	transport.PutU32(bo, resp, 0, uint32(status))
	return 4, pkg.StatusSuccess
}

func getHartStatus(g *platform.ServiceGroup, _ *platform.Service, t transport.Transport, req, resp []byte) (int, pkg.Status) {
	sg := g.Priv.(*Group)
	bo := t.ByteOrder()

	state, status := sg.hsm.State(transport.U32(bo, req, 0))
	if status != pkg.StatusSuccess {
		transport.PutU32(bo, resp, 0, uint32(status))
		transport.PutU32(bo, resp, 1, 0)
		return 8, pkg.StatusSuccess
	}

	transport.PutU32(bo, resp, 0, pkg.StatusSuccess.Uint32())
	transport.PutU32(bo, resp, 1, uint32(state))
	return 8, pkg.StatusSuccess
}

// paginate writes a (status, remaining, returned, values...) reply
// listing up to the slot budget of 32-bit values produced by fetch.
func paginate(t transport.Transport, resp []byte, start, total uint32,
	fetch func(index uint32) uint32) (int, pkg.Status) {
	bo := t.ByteOrder()

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
		transport.PutU32(bo, resp, int(3+i), fetch(start+i))
	}

	transport.PutU32(bo, resp, 0, pkg.StatusSuccess.Uint32())
	transport.PutU32(bo, resp, 1, total-(start+returned))
	transport.PutU32(bo, resp, 2, returned)
	return int(12 + returned*4), pkg.StatusSuccess
}

func getHartList(g *platform.ServiceGroup, _ *platform.Service, t transport.Transport, req, resp []byte) (int, pkg.Status) {
	sg := g.Priv.(*Group)
	start := transport.U32(t.ByteOrder(), req, 0)

	return paginate(t, resp, start, sg.hsm.HartCount(), func(index uint32) uint32 {
		id, _ := sg.hsm.HartIndexToID(index)
		return id
	})
}

func getSuspendTypes(g *platform.ServiceGroup, _ *platform.Service, t transport.Transport, req, resp []byte) (int, pkg.Status) {
	sg := g.Priv.(*Group)
	start := transport.U32(t.ByteOrder(), req, 0)

	return paginate(t, resp, start, sg.hsm.SuspendTypeCount(), func(index uint32) uint32 {
		st := sg.hsm.SuspendTypeAt(index)
		return st.Type
	})
}

func getSuspendInfo(g *platform.ServiceGroup, _ *platform.Service, t transport.Transport, req, resp []byte) (int, pkg.Status) {
	sg := g.Priv.(*Group)
	bo := t.ByteOrder()

	suspendType := sg.hsm.FindSuspendType(transport.U32(bo, req, 0))
	if suspendType == nil {
		for i := 0; i < 6; i++ {
			transport.PutU32(bo, resp, i, 0)
		}
		transport.PutU32(bo, resp, 0, pkg.StatusInvalidParam.Uint32())
		return 24, pkg.StatusSuccess
	}

	transport.PutU32(bo, resp, 0, pkg.StatusSuccess.Uint32())
	transport.PutU32(bo, resp, 1, suspendType.Flags)
	transport.PutU32(bo, resp, 2, suspendType.EntryLatencyUs)
	transport.PutU32(bo, resp, 3, suspendType.ExitLatencyUs)
	transport.PutU32(bo, resp, 4, suspendType.WakeupLatencyUs)
	transport.PutU32(bo, resp, 5, suspendType.MinResidencyUs)
	return 24, pkg.StatusSuccess
}
