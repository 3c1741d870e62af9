// Package pkg provides shared infrastructure for the RPMI stack:
// protocol status codes, sentinel errors, and structured logging.
//
// # Status Codes
//
// [Status] is the integer status carried in RPMI message payloads.
// [StatusSuccess] is zero and all errors are negative, matching the wire
// encoding. [Status.Err] maps a status to a sentinel error and
// [StatusOf] maps back, so library code can move between Go error
// handling and wire status words at the protocol boundary.
//
// # Logging
//
// Logging is built on log/slog with component tags. Level gating
// lives in this package, globally and per component, so a single
// subsystem can be traced without opening the whole stack:
//
//	pkg.SetComponentLogLevel(pkg.ComponentTransport, slog.LevelDebug)
//	pkg.LogDebug(pkg.ComponentContext, "request dispatched",
//	    "group", groupID, "service", serviceID)
//
// The default sink writes text to os.Stderr; the global gate starts
// at Warn.
package pkg
