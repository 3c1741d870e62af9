package platform

import (
	"sync"

	"github.com/ardnew/softrpmi/pkg"
	"github.com/ardnew/softrpmi/transport"
)

// Handler processes one A2P request for a service. The request
// payload is req; the handler writes its response payload into resp
// (sized to the transport slot) and returns the number of bytes
// written. A non-success status aborts the acknowledgement; handlers
// normally report request-level failures as a status word inside the
// response payload instead.
//
// Handlers run with the owning group's lock held.
type Handler func(g *ServiceGroup, s *Service, t transport.Transport, req, resp []byte) (int, pkg.Status)

// Service describes one request handler of a service group.
type Service struct {
	// ID is the service ID within the group.
	ID uint8

	// MinRequestLen is the minimum request payload length; shorter
	// requests are answered with a not-supported status word.
	MinRequestLen uint16

	// Handler processes the request. A nil handler answers with a
	// not-supported status word.
	Handler Handler
}

// ServiceGroup is a namespaced collection of request handlers sharing
// a version, a privilege policy, and a lock. Concrete groups embed
// their state behind Priv and register a services table indexed by
// service ID.
type ServiceGroup struct {
	// Name labels the group in logs.
	Name string

	// ID is the service-group ID on the wire.
	ID uint16

	// Version is the group version in major<<16|minor encoding.
	Version uint32

	// PrivilegeMask is the bitmap of context privilege levels the
	// group admits.
	PrivilegeMask uint32

	// Services is the contiguous services table indexed by service
	// ID; index 0 is unused.
	Services []Service

	// ProcessEvents, when non-nil, is the event-tick hook invoked
	// under the group lock by the context event loops.
	ProcessEvents func(g *ServiceGroup) pkg.Status

	// Priv points at the concrete group state.
	Priv any

	// mutex is the per-group lock held across handler calls and
	// event ticks.
	mutex sync.Mutex
}

// MaxServiceID returns one past the largest service ID in the group.
func (g *ServiceGroup) MaxServiceID() uint8 {
	return uint8(len(g.Services))
}

// Lock acquires the group lock. Exposed for group entry points that
// mutate state outside the dispatch loop.
func (g *ServiceGroup) Lock() {
	g.mutex.Lock()
}

// Unlock releases the group lock.
func (g *ServiceGroup) Unlock() {
	g.mutex.Unlock()
}

// NotSupported writes the canonical single-word not-supported response
// into resp. It serves missing services, nil handlers, and short
// requests.
func NotSupported(t transport.Transport, resp []byte) (int, pkg.Status) {
	transport.PutU32(t.ByteOrder(), resp, 0, pkg.StatusNotSupported.Uint32())
	return 4, pkg.StatusSuccess
}
