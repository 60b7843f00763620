// Package protocol defines the wire layout of autofs v4 kernel
// packets (mirroring linux/auto_fs4.h's union autofs_packet_union)
// and a bounded pool of fixed-size read buffers for them (C5),
// following the layout style raw/types.go uses for the FUSE wire
// structs: plain fixed-width fields, no padding surprises.
package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/fpl/autodird/internal/sanitize"
)

// Packet types, from linux/auto_fs4.h's autofs_packet_type enum.
const (
	TypeMissing     = int32(1)
	TypeExpireMulti = int32(2)
)

// ProtoVersion4 is the only autofs protocol version this daemon
// supports.
const ProtoVersion4 = int32(4)

// NameMax mirrors sanitize.NameMax; re-exported so packet-sizing code
// doesn't need to import sanitize just for the constant.
const NameMax = sanitize.NameMax

// headerSize, missingSize and packetSize describe the wire layout:
// two int32s for the header, an int32 token, an int32 length, and a
// NameMax+1 byte name buffer (NUL-terminated, like the original's
// char name[NAME_MAX+1]).
const (
	headerSize = 4 + 4
	bodySize   = 4 + 4 + (NameMax + 1)
	PacketSize = headerSize + bodySize
)

// Header is the common prefix of every autofs kernel packet.
type Header struct {
	ProtoVersion int32
	Type         int32
}

// Missing is a decoded autofs_packet_missing: the kernel is asking
// the daemon to materialize a directory.
type Missing struct {
	Header
	WaitQueueToken uint32
	Len            int32
	Name           [NameMax + 1]byte
}

// ExpireMulti is a decoded autofs_packet_expire_multi: the kernel is
// asking the daemon to expire an idle mount.
type ExpireMulti struct {
	Header
	WaitQueueToken uint32
	Len            int32
	Name           [NameMax + 1]byte
}

// DecodeHeader reads just the type/version prefix, enough to decide
// which body type to decode next.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < headerSize {
		return Header{}, fmt.Errorf("protocol: short packet header (%d bytes)", len(buf))
	}
	return Header{
		ProtoVersion: int32(binary.LittleEndian.Uint32(buf[0:4])),
		Type:         int32(binary.LittleEndian.Uint32(buf[4:8])),
	}, nil
}

// DecodeMissing decodes a full autofs_packet_missing from buf, which
// must be PacketSize bytes (the kernel always sends fixed-size
// records regardless of actual name length).
func DecodeMissing(buf []byte) (Missing, error) {
	var m Missing
	if len(buf) < PacketSize {
		return m, fmt.Errorf("protocol: short missing packet (%d bytes)", len(buf))
	}
	m.ProtoVersion = int32(binary.LittleEndian.Uint32(buf[0:4]))
	m.Type = int32(binary.LittleEndian.Uint32(buf[4:8]))
	m.WaitQueueToken = binary.LittleEndian.Uint32(buf[8:12])
	m.Len = int32(binary.LittleEndian.Uint32(buf[12:16]))
	copy(m.Name[:], buf[16:16+NameMax+1])
	return m, nil
}

// DecodeExpireMulti decodes a full autofs_packet_expire_multi.
func DecodeExpireMulti(buf []byte) (ExpireMulti, error) {
	var e ExpireMulti
	if len(buf) < PacketSize {
		return e, fmt.Errorf("protocol: short expire packet (%d bytes)", len(buf))
	}
	e.ProtoVersion = int32(binary.LittleEndian.Uint32(buf[0:4]))
	e.Type = int32(binary.LittleEndian.Uint32(buf[4:8]))
	e.WaitQueueToken = binary.LittleEndian.Uint32(buf[8:12])
	e.Len = int32(binary.LittleEndian.Uint32(buf[12:16]))
	copy(e.Name[:], buf[16:16+NameMax+1])
	return e, nil
}

// Valid reports whether len/name satisfy the packet-integrity check
// from spec.md §4.11 step 1: len in [1, NAME_MAX] and name NUL
// terminated at exactly len.
func Valid(length int32, name [NameMax + 1]byte) bool {
	if length < 1 || length > NameMax {
		return false
	}
	return name[length] == 0
}

// NameString returns the NUL-terminated prefix of name as a string.
func NameString(length int32, name [NameMax + 1]byte) string {
	return string(name[:length])
}

// EncodeMissing serializes a Missing back into a PacketSize buffer.
// Used only by tests that fake a kernel pipe.
func EncodeMissing(m Missing) []byte {
	buf := make([]byte, PacketSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(m.ProtoVersion))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(m.Type))
	binary.LittleEndian.PutUint32(buf[8:12], m.WaitQueueToken)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(m.Len))
	copy(buf[16:16+NameMax+1], m.Name[:])
	return buf
}

// EncodeExpireMulti serializes an ExpireMulti back into a PacketSize
// buffer. Used only by tests that fake a kernel pipe.
func EncodeExpireMulti(e ExpireMulti) []byte {
	buf := make([]byte, PacketSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(e.ProtoVersion))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(e.Type))
	binary.LittleEndian.PutUint32(buf[8:12], e.WaitQueueToken)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(e.Len))
	copy(buf[16:16+NameMax+1], e.Name[:])
	return buf
}

// NewMissing builds a Missing packet from a name, for tests.
func NewMissing(token uint32, name string) Missing {
	var m Missing
	m.ProtoVersion = ProtoVersion4
	m.Type = TypeMissing
	m.WaitQueueToken = token
	m.Len = int32(len(name))
	copy(m.Name[:], name)
	return m
}

// NewExpireMulti builds an ExpireMulti packet from a name, for tests.
func NewExpireMulti(token uint32, name string) ExpireMulti {
	var e ExpireMulti
	e.ProtoVersion = ProtoVersion4
	e.Type = TypeExpireMulti
	e.WaitQueueToken = token
	e.Len = int32(len(name))
	copy(e.Name[:], name)
	return e
}
