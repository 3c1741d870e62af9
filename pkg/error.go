package pkg

import "errors"

// RPMI protocol errors.
var (
	// ErrFailed indicates a general failure.
	ErrFailed = errors.New("operation failed")

	// ErrNotSupported indicates an unsupported service or feature.
	ErrNotSupported = errors.New("not supported")

	// ErrInvalidParam indicates an invalid parameter.
	ErrInvalidParam = errors.New("invalid parameter")

	// ErrDenied indicates insufficient permissions or an unmet prerequisite.
	ErrDenied = errors.New("denied")

	// ErrInvalidAddr indicates an invalid address or offset.
	ErrInvalidAddr = errors.New("invalid address")

	// ErrAlready indicates the operation was already in progress or the
	// state had already changed.
	ErrAlready = errors.New("already done or in progress")

	// ErrExtension indicates an implementation error that violates the
	// specification version.
	ErrExtension = errors.New("specification violation")

	// ErrHWFault indicates a hardware failure.
	ErrHWFault = errors.New("hardware fault")

	// ErrBusy indicates the system, device, or resource is busy.
	ErrBusy = errors.New("resource busy")

	// ErrInvalidState indicates the system, device, or resource is in an
	// invalid state for the operation.
	ErrInvalidState = errors.New("invalid state")

	// ErrBadRange indicates an index, offset, or address out of range.
	ErrBadRange = errors.New("out of range")

	// ErrTimeout indicates the operation timed out.
	ErrTimeout = errors.New("operation timed out")

	// ErrIO indicates an error sending or receiving data through the
	// communication medium, including full and empty queue conditions.
	ErrIO = errors.New("i/o error")

	// ErrNoData indicates no data is available.
	ErrNoData = errors.New("no data available")
)

// Status is an RPMI status code as carried in message payloads.
// Success is zero and all errors are negative, matching the wire encoding.
type Status int32

// Uint32 returns the status code as it appears in the wire encoding
// (two's complement), for use where a payload word is an unsigned
// 32-bit integer.
func (s Status) Uint32() uint32 {
	return uint32(int32(s))
}

// RPMI status values.
const (
	StatusSuccess      Status = 0
	StatusFailed       Status = -1
	StatusNotSupported Status = -2
	StatusInvalidParam Status = -3
	StatusDenied       Status = -4
	StatusInvalidAddr  Status = -5
	StatusAlready      Status = -6
	StatusExtension    Status = -7
	StatusHWFault      Status = -8
	StatusBusy         Status = -9
	StatusInvalidState Status = -10
	StatusBadRange     Status = -11
	StatusTimeout      Status = -12
	StatusIO           Status = -13
	StatusNoData       Status = -14

	// StatusReservedStart..StatusReservedEnd are reserved for future
	// specification use; StatusVendorStart and below are vendor-defined.
	StatusReservedStart Status = -15
	StatusReservedEnd   Status = -127
	StatusVendorStart   Status = -128
)

// String returns a string representation of the status code.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailed:
		return "failed"
	case StatusNotSupported:
		return "not supported"
	case StatusInvalidParam:
		return "invalid parameter"
	case StatusDenied:
		return "denied"
	case StatusInvalidAddr:
		return "invalid address"
	case StatusAlready:
		return "already"
	case StatusExtension:
		return "extension violation"
	case StatusHWFault:
		return "hardware fault"
	case StatusBusy:
		return "busy"
	case StatusInvalidState:
		return "invalid state"
	case StatusBadRange:
		return "bad range"
	case StatusTimeout:
		return "timeout"
	case StatusIO:
		return "i/o"
	case StatusNoData:
		return "no data"
	default:
		return "unknown"
	}
}

// Err returns the corresponding error for the status code, or nil for
// [StatusSuccess].
func (s Status) Err() error {
	switch s {
	case StatusSuccess:
		return nil
	case StatusNotSupported:
		return ErrNotSupported
	case StatusInvalidParam:
		return ErrInvalidParam
	case StatusDenied:
		return ErrDenied
	case StatusInvalidAddr:
		return ErrInvalidAddr
	case StatusAlready:
		return ErrAlready
	case StatusExtension:
		return ErrExtension
	case StatusHWFault:
		return ErrHWFault
	case StatusBusy:
		return ErrBusy
	case StatusInvalidState:
		return ErrInvalidState
	case StatusBadRange:
		return ErrBadRange
	case StatusTimeout:
		return ErrTimeout
	case StatusIO:
		return ErrIO
	case StatusNoData:
		return ErrNoData
	default:
		return ErrFailed
	}
}

// StatusOf returns the status code corresponding to err, or
// [StatusSuccess] when err is nil. Unrecognized errors map to
// [StatusFailed].
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, ErrNotSupported):
		return StatusNotSupported
	case errors.Is(err, ErrInvalidParam):
		return StatusInvalidParam
	case errors.Is(err, ErrDenied):
		return StatusDenied
	case errors.Is(err, ErrInvalidAddr):
		return StatusInvalidAddr
	case errors.Is(err, ErrAlready):
		return StatusAlready
	case errors.Is(err, ErrExtension):
		return StatusExtension
	case errors.Is(err, ErrHWFault):
		return StatusHWFault
	case errors.Is(err, ErrBusy):
		return StatusBusy
	case errors.Is(err, ErrInvalidState):
		return StatusInvalidState
	case errors.Is(err, ErrBadRange):
		return StatusBadRange
	case errors.Is(err, ErrTimeout):
		return StatusTimeout
	case errors.Is(err, ErrIO):
		return StatusIO
	case errors.Is(err, ErrNoData):
		return StatusNoData
	default:
		return StatusFailed
	}
}
