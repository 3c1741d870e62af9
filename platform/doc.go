// Package platform implements the P-side RPMI stack core: the
// [Context] that binds a transport to a set of service groups and
// drives request dispatch and event processing.
//
// # Request Dispatch
//
// [Context.ProcessA2PRequest] drains the A2P request queue. For each
// message it looks up the service group by ID, then the service by
// ID, and dispatches under the group lock. Normal requests are
// acknowledged on the P2A acknowledgement queue with the request
// token echoed; posted requests are processed without an
// acknowledgement. A request naming a missing service, carrying a
// short payload, or hitting a service without a handler is answered
// with a single not-supported status word. A request with the
// doorbell flag additionally triggers a P2A MSI injection through the
// System-MSI group, when one is registered.
//
// # Service Groups
//
// A [ServiceGroup] carries static metadata (ID, version, privilege
// bitmap), a services table, an optional event-tick hook, and a lock
// held across all handler and hook invocations. Groups are admitted
// to a context subject to its group cap and privilege level. The
// built-in Base group answers implementation, specification, and
// platform-information queries and lets the A-side probe for other
// groups.
//
// # Event Processing
//
// [Context.ProcessAllEvents] and [Context.ProcessGroupEvents] invoke
// group event hooks under the group lock, releasing the context's
// groups lock across each call. Hooks report [pkg.StatusBusy] when a
// state machine cannot advance yet; that is expected and not logged
// as a failure.
package platform
