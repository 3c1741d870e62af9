// Package efi plugs UEFI management-mode handlers into the
// management-mode tunnel service group.
//
// It registers handlers for the well-known EFI GUIDs: the variable
// protocol (GetVariable, GetNextVariableName, SetVariable,
// GetPayloadSize), the variable policy protocol, and the
// end-of-DXE, ready-to-boot, and exit-boot-services events. Message
// frames follow the MM communication header layout: a 16-byte GUID,
// a 64-bit message length, and the message data.
package efi

import (
	"encoding/binary"

	"github.com/ardnew/softrpmi/pkg"
	"github.com/ardnew/softrpmi/platform/group/mm"
	"github.com/ardnew/softrpmi/shmem"
)

// Well-known management-mode EFI GUIDs.
var (
	// GUIDVarProtocol selects the EFI variable protocol handler.
	GUIDVarProtocol = mm.GUID{
		0x33, 0xd5, 0x32, 0xed, 0xe6, 0x99, 0x09, 0x42,
		0x9c, 0xc0, 0x2d, 0x72, 0xcd, 0xd9, 0x98, 0xa7,
	}

	// GUIDVarPolicy selects the EFI variable policy handler.
	GUIDVarPolicy = mm.GUID{
		0x11, 0x0d, 0x1b, 0xda, 0xa7, 0xd1, 0xc4, 0x46,
		0x9d, 0xc9, 0xf3, 0x71, 0x48, 0x75, 0xc6, 0xeb,
	}

	// GUIDEndOfDXE is the end-of-DXE event.
	GUIDEndOfDXE = mm.GUID{
		0x7a, 0x96, 0xce, 0x02, 0x7e, 0xdd, 0xfc, 0x4f,
		0x9e, 0xe7, 0x81, 0x0c, 0xf0, 0x47, 0x08, 0x80,
	}

	// GUIDReadyToBoot is the ready-to-boot event.
	GUIDReadyToBoot = mm.GUID{
		0xb3, 0x8f, 0xe8, 0x7c, 0xd7, 0x4b, 0x79, 0x46,
		0x87, 0xa8, 0xa8, 0xd8, 0xde, 0xe5, 0x0d, 0x2b,
	}

	// GUIDExitBootServices is the exit-boot-services event.
	GUIDExitBootServices = mm.GUID{
		0x55, 0xf0, 0xab, 0x27, 0xb8, 0xb1, 0x26, 0x4c,
		0x80, 0x48, 0x74, 0x8f, 0x37, 0xba, 0xa2, 0xdf,
	}
)

// EFI status codes. Errors carry the high bit.
const (
	EfiSuccess          uint64 = 0
	efiErrorBit         uint64 = 1 << 63
	EfiInvalidParameter uint64 = efiErrorBit | 2
	EfiUnsupported      uint64 = efiErrorBit | 3
	EfiBufferTooSmall   uint64 = efiErrorBit | 5
	EfiOutOfResources   uint64 = efiErrorBit | 9
	EfiNotFound         uint64 = efiErrorBit | 14
	EfiAccessDenied     uint64 = efiErrorBit | 15
)

// EFI variable protocol function codes.
const (
	FnGetVariable         uint64 = 1
	FnGetNextVariableName uint64 = 2
	FnSetVariable         uint64 = 3
	FnQueryVariableInfo   uint64 = 4
	FnReadyToBoot         uint64 = 5
	FnExitBootService     uint64 = 6
	FnGetPayloadSize      uint64 = 11
)

// Frame layout constants.
const (
	// commHeaderSize is the MM communication header: a GUID and a
	// 64-bit message length.
	commHeaderSize = mm.GUIDLength + 8

	// varCommHeaderSize is the variable protocol header: a function
	// code and a return status.
	varCommHeaderSize = 16

	// accessVarNameOffset is the offset of the name field inside an
	// access-variable payload: GUID, data size, name size, and
	// attributes.
	accessVarNameOffset = mm.GUIDLength + 8 + 8 + 4

	// nextVarNameOffset is the offset of the name field inside a
	// get-next-variable-name payload: GUID and name size.
	nextVarNameOffset = mm.GUIDLength + 8

	// MaxVarInfoSize bounds a full variable frame including headers.
	MaxVarInfoSize = 1024

	// MaxPayloadSize bounds the variable payload carried in one
	// frame.
	MaxPayloadSize = MaxVarInfoSize - varCommHeaderSize
)

// PlatformOps is the platform callback table backing the EFI
// variable protocol. Each callback receives the validated variable
// payload (the bytes after the variable protocol header) and returns
// an EFI status. All three are mandatory.
type PlatformOps struct {
	GetVariable         func(payload []byte) uint64
	GetNextVariableName func(payload []byte) uint64
	SetVariable         func(payload []byte) uint64
}

// Register wires the EFI handlers into a management-mode service
// group created by [mm.New].
func Register(g *mm.Group, ops *PlatformOps) error {
	if g == nil || ops == nil || ops.GetVariable == nil ||
		ops.GetNextVariableName == nil || ops.SetVariable == nil {
		return pkg.ErrInvalidParam
	}

	state := &efiState{ops: ops}

	return g.Register([]mm.Service{
		{
			GUID:   GUIDVarProtocol,
			Handle: state.varProtocol,
			Delete: state.cleanup,
		},
		{
			GUID:   GUIDVarPolicy,
			Handle: varPolicy,
		},
		{
			GUID:   GUIDEndOfDXE,
			Handle: dummyEvent,
		},
		{
			GUID:   GUIDReadyToBoot,
			Handle: dummyEvent,
		},
		{
			GUID:   GUIDExitBootServices,
			Handle: dummyEvent,
		},
	})
}

// efiState carries the platform ops for the variable protocol
// handler.
type efiState struct {
	ops *PlatformOps
}

// cleanup drops the platform ops reference at group destruction.
func (s *efiState) cleanup() {
	s.ops = nil
}

// readFrame reads a full MM communication frame at offset, bounded by
// [MaxVarInfoSize]. Returns the frame and the message length.
func readFrame(shm *shmem.Shmem, offset uint32) ([]byte, uint64, pkg.Status) {
	var hdr [commHeaderSize]byte
	if err := shm.Read(offset, hdr[:]); err != nil {
		return nil, 0, pkg.StatusNoData
	}

	msgLen := binary.LittleEndian.Uint64(hdr[mm.GUIDLength:])
	frameLen := commHeaderSize + msgLen
	if frameLen > MaxVarInfoSize {
		return nil, 0, pkg.StatusBadRange
	}

	frame := make([]byte, frameLen)
	if err := shm.Read(offset, frame); err != nil {
		return nil, 0, pkg.StatusNoData
	}
	return frame, msgLen, pkg.StatusSuccess
}

// varProtocol handles the EFI variable protocol frame.
func (s *efiState) varProtocol(shm *shmem.Shmem, idataOff, odataOff uint32) (uint32, pkg.Status) {
	frame, msgLen, st := readFrame(shm, idataOff)
	if st != pkg.StatusSuccess {
		return 0, st
	}

	s.handleVarFunction(frame[commHeaderSize:], msgLen)

	if err := shm.Write(odataOff, frame); err != nil {
		return 0, pkg.StatusNoData
	}
	return uint32(len(frame)), pkg.StatusSuccess
}

// handleVarFunction dispatches one variable protocol message and
// stores the EFI return status back into the message header.
func (s *efiState) handleVarFunction(msg []byte, msgLen uint64) {
	if uint64(len(msg)) < varCommHeaderSize || msgLen < varCommHeaderSize {
		return
	}

	function := binary.LittleEndian.Uint64(msg[0:8])
	payload := msg[varCommHeaderSize:]
	if uint64(len(payload)) > MaxPayloadSize {
		return
	}

	var status uint64
	switch function {
	case FnGetVariable:
		status = validateAccessVariable(payload, true)
		if status == EfiSuccess {
			status = s.ops.GetVariable(payload)
		}
	case FnGetNextVariableName:
		status = validateNextVariableName(payload)
		if status == EfiSuccess {
			status = s.ops.GetNextVariableName(payload)
		}
	case FnSetVariable:
		status = validateAccessVariable(payload, false)
		if status == EfiSuccess {
			status = s.ops.SetVariable(payload)
		}
	case FnGetPayloadSize:
		if len(payload) < 8 {
			status = EfiInvalidParameter
		} else {
			binary.LittleEndian.PutUint64(payload[0:8], MaxPayloadSize)
			status = EfiSuccess
		}
	case FnReadyToBoot, FnExitBootService:
		status = EfiSuccess
	default:
		status = EfiUnsupported
	}

	binary.LittleEndian.PutUint64(msg[8:16], status)
}

// validateAccessVariable checks an access-variable payload: bounded
// sizes and a null-terminated UTF-16 variable name. Get requests
// additionally reject an empty name.
func validateAccessVariable(payload []byte, isGet bool) uint64 {
	if len(payload) < accessVarNameOffset {
		return EfiInvalidParameter
	}

	dataSize := binary.LittleEndian.Uint64(payload[mm.GUIDLength:])
	nameSize := binary.LittleEndian.Uint64(payload[mm.GUIDLength+8:])

	if ^uint64(0)-dataSize < accessVarNameOffset ||
		^uint64(0)-nameSize < accessVarNameOffset+dataSize {
		return EfiAccessDenied
	}
	infoSize := accessVarNameOffset + dataSize + nameSize
	if infoSize > uint64(len(payload)) {
		return EfiAccessDenied
	}

	if nameSize < 2 {
		return EfiAccessDenied
	}
	name := payload[accessVarNameOffset : uint64(accessVarNameOffset)+nameSize]
	if binary.LittleEndian.Uint16(name[nameSize-2:]) != 0 {
		return EfiAccessDenied
	}

	if isGet && binary.LittleEndian.Uint16(name[0:2]) == 0 {
		return EfiInvalidParameter
	}
	return EfiSuccess
}

// validateNextVariableName checks a get-next-variable-name payload:
// the name buffer must contain a UTF-16 null terminator within its
// declared size.
func validateNextVariableName(payload []byte) uint64 {
	if len(payload) < nextVarNameOffset {
		return EfiInvalidParameter
	}

	nameSize := binary.LittleEndian.Uint64(payload[mm.GUIDLength:])
	maxLen := nameSize / 2
	if maxLen == 0 {
		return EfiInvalidParameter
	}

	if ^uint64(0)-nameSize < nextVarNameOffset+nameSize {
		return EfiAccessDenied
	}
	if uint64(nextVarNameOffset)+nameSize > uint64(len(payload)) {
		return EfiAccessDenied
	}

	name := payload[nextVarNameOffset:]
	terminated := false
	for i := uint64(0); i < maxLen; i++ {
		if binary.LittleEndian.Uint16(name[2*i:2*i+2]) == 0 {
			terminated = true
			break
		}
	}
	if !terminated {
		return EfiInvalidParameter
	}
	return EfiSuccess
}

// varPolicy handles the variable policy frame: the policy result is
// zeroed and the frame echoed back, padded to a GUID-length multiple.
func varPolicy(shm *shmem.Shmem, idataOff, odataOff uint32) (uint32, pkg.Status) {
	frame := make([]byte, commHeaderSize+varPolicyHeaderSize)
	if err := shm.Read(idataOff, frame); err != nil {
		return 0, pkg.StatusNoData
	}

	// Policy header: signature, revision, command, then the 64-bit
	// result, which reports success.
	binary.LittleEndian.PutUint64(frame[commHeaderSize+varPolicyResultOffset:], 0)

	msgLen := uint32(len(frame))
	msgLen = (msgLen + mm.GUIDLength - 1) / mm.GUIDLength * mm.GUIDLength

	padded := make([]byte, msgLen)
	copy(padded, frame)
	if err := shm.Write(odataOff, padded); err != nil {
		return 0, pkg.StatusNoData
	}
	return msgLen, pkg.StatusSuccess
}

// Variable policy header layout.
const (
	varPolicyResultOffset = 16
	varPolicyHeaderSize   = 24
)

// dummyEvent acknowledges an event GUID with no payload.
func dummyEvent(_ *shmem.Shmem, _, _ uint32) (uint32, pkg.Status) {
	return 0, pkg.StatusSuccess
}
