// Package mm implements the management-mode tunnel service group.
//
// The tunnel exposes a shared-memory window to the A-side. A
// COMMUNICATE request carries the input and output offsets of a
// message frame inside the window; the frame starts with a 16-byte
// GUID selecting a registered handler, which reads and writes its
// variable-length payload directly through the window. This group is
// admitted only to M-mode contexts.
package mm

import (
	"github.com/ardnew/softrpmi/pkg"
	"github.com/ardnew/softrpmi/platform"
	"github.com/ardnew/softrpmi/shmem"
	"github.com/ardnew/softrpmi/transport"
)

// Management-mode service IDs.
const (
	ServiceEnableNotification uint8 = 0x01
	ServiceGetAttributes      uint8 = 0x02
	ServiceCommunicate        uint8 = 0x03
	serviceCount                    = 0x04
)

// Management-mode interface version.
const (
	VersionMajor = 1
	VersionMinor = 0
)

// GUIDLength is the length of a handler GUID in bytes.
const GUIDLength = 16

// GUID identifies a management-mode handler. The byte layout matches
// the EFI GUID wire format.
type GUID [GUIDLength]byte

// Service is one GUID-keyed management-mode handler.
type Service struct {
	// GUID selects this handler.
	GUID GUID

	// Handle processes a COMMUNICATE request whose frame lives in
	// the tunnel window at idataOff; the response frame is written
	// at odataOff. Returns the response data length reported to the
	// A-side.
	Handle func(shm *shmem.Shmem, idataOff, odataOff uint32) (uint32, pkg.Status)

	// Delete, when non-nil, releases handler resources when the
	// group is closed.
	Delete func()
}

// Group is the private state of a management-mode service group.
type Group struct {
	version uint32
	shm     *shmem.Shmem

	// lists holds every registered handler list; GUIDs are unique
	// across all of them.
	lists [][]Service

	group platform.ServiceGroup
}

// New creates a management-mode service group over the given tunnel
// window.
func New(shm *shmem.Shmem) (*platform.ServiceGroup, error) {
	if shm == nil {
		return nil, pkg.ErrInvalidParam
	}

	sgmm := &Group{
		version: platform.Version(VersionMajor, VersionMinor),
		shm:     shm,
	}

	g := &sgmm.group
	g.Name = "mm"
	g.ID = platform.GroupIDManagementMode
	g.Version = platform.Version(platform.SpecVersionMajor, platform.SpecVersionMinor)
	g.PrivilegeMask = platform.PrivilegeMaskMMode
	g.Priv = sgmm
	g.Services = make([]platform.Service, serviceCount)
	g.Services[ServiceEnableNotification] = platform.Service{
		ID: ServiceEnableNotification,
	}
	g.Services[ServiceGetAttributes] = platform.Service{
		ID:      ServiceGetAttributes,
		Handler: getAttributes,
	}
	g.Services[ServiceCommunicate] = platform.Service{
		ID:            ServiceCommunicate,
		MinRequestLen: 8,
		Handler:       communicate,
	}

	return g, nil
}

// From returns the management-mode state behind a service group
// created by [New].
func From(g *platform.ServiceGroup) (*Group, bool) {
	sgmm, ok := g.Priv.(*Group)
	return sgmm, ok
}

// Shmem returns the tunnel shared-memory window.
func (m *Group) Shmem() *shmem.Shmem {
	return m.shm
}

// find returns the handler registered for the GUID, or nil.
func (m *Group) find(guid GUID) *Service {
	for _, list := range m.lists {
		for i := range list {
			if list[i].GUID == guid {
				return &list[i]
			}
		}
	}
	return nil
}

// Registered returns every currently registered handler.
func (m *Group) Registered() []*Service {
	var out []*Service
	for _, list := range m.lists {
		for i := range list {
			out = append(out, &list[i])
		}
	}
	return out
}

// Register adds a list of GUID-keyed handlers. Duplicate GUIDs within
// the list or against previously registered lists are rejected.
func (m *Group) Register(services []Service) error {
	if len(services) == 0 {
		return pkg.ErrInvalidParam
	}

	for i := range services {
		if services[i].Handle == nil {
			return pkg.ErrInvalidParam
		}
		for j := range services[:i] {
			if services[i].GUID == services[j].GUID {
				pkg.LogWarn(pkg.ComponentMM, "duplicate GUID within list")
				return pkg.ErrInvalidParam
			}
		}
		if m.find(services[i].GUID) != nil {
			pkg.LogWarn(pkg.ComponentMM, "GUID conflicts with registered list")
			return pkg.ErrInvalidParam
		}
	}

	owned := make([]Service, len(services))
	copy(owned, services)
	m.lists = append(m.lists, owned)

	pkg.LogDebug(pkg.ComponentMM, "handler list registered",
		"entries", len(services))
	return nil
}

// Close walks every registered handler and invokes its delete
// callback.
func (m *Group) Close() {
	for _, list := range m.lists {
		for i := range list {
			if list[i].Delete != nil {
				list[i].Delete()
			}
		}
	}
	m.lists = nil
}

func getAttributes(g *platform.ServiceGroup, _ *platform.Service, t transport.Transport, _, resp []byte) (int, pkg.Status) {
	sgmm := g.Priv.(*Group)
	bo := t.ByteOrder()

	transport.PutU32(bo, resp, 0, pkg.StatusSuccess.Uint32())
	transport.PutU32(bo, resp, 1, sgmm.version)
	transport.PutU64(bo, resp, 2, sgmm.shm.Base())
	transport.PutU32(bo, resp, 4, sgmm.shm.Size())
	return 20, pkg.StatusSuccess
}

func communicate(g *platform.ServiceGroup, _ *platform.Service, t transport.Transport, req, resp []byte) (int, pkg.Status) {
	sgmm := g.Priv.(*Group)
	bo := t.ByteOrder()

	idataOff := transport.U32(bo, req, 0)
	odataOff := transport.U32(bo, req, 1)

	var guid GUID
	if err := sgmm.shm.Read(idataOff, guid[:]); err != nil {
		pkg.LogWarn(pkg.ComponentMM, "failed to read frame GUID",
			"offset", idataOff, "error", err)
		return 0, pkg.StatusNoData
	}

	service := sgmm.find(guid)
	if service == nil {
		pkg.LogDebug(pkg.ComponentMM, "no handler for frame GUID")
		return 0, pkg.StatusNoData
	}

	respLen, status := service.Handle(sgmm.shm, idataOff, odataOff)

	transport.PutU32(bo, resp, 0, uint32(status))
	transport.PutU32(bo, resp, 1, respLen)
	return 8, status
}
