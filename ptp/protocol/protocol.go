/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package protocol

// Table/section references throughout this package are to IEEE 1588-2019.

import (
	"bytes"
	"encoding"
	"encoding/binary"
	"fmt"
)

// Protocol version this codec speaks.
const (
	MajorVersion     uint8 = 2
	MinorVersion     uint8 = 1
	Version          uint8 = MinorVersion<<4 | MajorVersion
	MajorVersionMask uint8 = 0x0f
)

// Well-known UDP ports: event messages always go to 319, general messages
// to 320 (or to the sender's own ephemeral source port, when replying to
// a management request from a non-PTP-port manager).
var (
	PortEvent   = 319
	PortGeneral = 320
)

// TrailingBytes is the two-octet pad PTP-over-UDPv6 appends so the UDP
// checksum stays correct under in-flight field rewrites; always appended
// even over UDPv4, where it's simply unused filler.
const TrailingBytes = 2

var trailingPad = []byte{0, 0}

// MgmtLogMessageInterval is the logMessageInterval value Management
// packets carry, Table 42.
const MgmtLogMessageInterval LogInterval = 0x7f

// DefaultTargetPortIdentity addresses every port on a clock.
var DefaultTargetPortIdentity = PortIdentity{
	ClockIdentity: 0xffffffffffffffff,
	PortNumber:    0xffff,
}

// Header is the 34-byte common PTP message header, Table 35.
type Header struct {
	SdoIDAndMsgType     SdoIDAndMsgType
	Version             uint8
	MessageLength       uint16
	DomainNumber        uint8
	MinorSdoID          uint8
	FlagField           uint16
	CorrectionField     Correction
	MessageTypeSpecific uint32
	SourcePortIdentity  PortIdentity
	SequenceID          uint16
	ControlField        uint8 // obsolete field, kept for IPv4-profile compatibility
	LogMessageInterval  LogInterval
}

const headerSize = 34

// unmarshalHeader is a free function rather than Header.UnmarshalBinary,
// so that embedding Header doesn't give every message type a partial
// UnmarshalBinary for free.
func unmarshalHeader(h *Header, b []byte) {
	h.SdoIDAndMsgType = SdoIDAndMsgType(b[0])
	h.Version = b[1]
	h.MessageLength = binary.BigEndian.Uint16(b[2:])
	h.DomainNumber = b[4]
	h.MinorSdoID = b[5]
	h.FlagField = binary.BigEndian.Uint16(b[6:])
	h.CorrectionField = Correction(binary.BigEndian.Uint64(b[8:]))
	h.MessageTypeSpecific = binary.BigEndian.Uint32(b[16:])
	h.SourcePortIdentity.ClockIdentity = ClockIdentity(binary.BigEndian.Uint64(b[20:]))
	h.SourcePortIdentity.PortNumber = binary.BigEndian.Uint16(b[28:])
	h.SequenceID = binary.BigEndian.Uint16(b[30:])
	h.ControlField = b[32]
	h.LogMessageInterval = LogInterval(b[33])
}

// MessageType reports the message's type from the embedded header.
func (h *Header) MessageType() MessageType {
	return h.SdoIDAndMsgType.MsgType()
}

// SetSequence sets the header's sequence number.
func (h *Header) SetSequence(sequence uint16) {
	h.SequenceID = sequence
}

func checkPacketLength(h *Header, haveBytes int) error {
	if int(h.MessageLength) > haveBytes {
		return fmt.Errorf("cannot decode message of length %d from %d bytes", h.MessageLength, haveBytes)
	}
	return nil
}

// headerMarshalBinaryTo mirrors unmarshalHeader on the write side, for
// the same embedding reason.
func headerMarshalBinaryTo(h *Header, b []byte) int {
	b[0] = byte(h.SdoIDAndMsgType)
	b[1] = h.Version
	binary.BigEndian.PutUint16(b[2:], h.MessageLength)
	b[4] = h.DomainNumber
	b[5] = h.MinorSdoID
	binary.BigEndian.PutUint16(b[6:], h.FlagField)
	binary.BigEndian.PutUint64(b[8:], uint64(h.CorrectionField))
	binary.BigEndian.PutUint32(b[16:], h.MessageTypeSpecific)
	binary.BigEndian.PutUint64(b[20:], uint64(h.SourcePortIdentity.ClockIdentity))
	binary.BigEndian.PutUint16(b[28:], h.SourcePortIdentity.PortNumber)
	binary.BigEndian.PutUint16(b[30:], h.SequenceID)
	b[32] = h.ControlField
	b[33] = byte(h.LogMessageInterval)
	return headerSize
}

// FlagField bits, Table 37.
const (
	// first octet
	FlagAlternateMaster  uint16 = 1 << (8 + 0)
	FlagTwoStep          uint16 = 1 << (8 + 1)
	FlagUnicast          uint16 = 1 << (8 + 2)
	FlagProfileSpecific1 uint16 = 1 << (8 + 5)
	FlagProfileSpecific2 uint16 = 1 << (8 + 6)
	// second octet
	FlagLeap61                   uint16 = 1 << 0
	FlagLeap59                   uint16 = 1 << 1
	FlagCurrentUtcOffsetValid    uint16 = 1 << 2
	FlagPTPTimescale             uint16 = 1 << 3
	FlagTimeTraceable            uint16 = 1 << 4
	FlagFrequencyTraceable       uint16 = 1 << 5
	FlagSynchronizationUncertain uint16 = 1 << 6
)

// Every message on the wire is Header + a body unique to that message
// type + zero or more trailing TLVs.

// AnnounceBody is the Announce-specific fields, Table 43.
type AnnounceBody struct {
	OriginTimestamp         Timestamp
	CurrentUTCOffset        int16
	Reserved                uint8
	GrandmasterPriority1    uint8
	GrandmasterClockQuality ClockQuality
	GrandmasterPriority2    uint8
	GrandmasterIdentity     ClockIdentity
	StepsRemoved            uint16
	TimeSource              TimeSource
}

// Announce is a complete Announce message.
type Announce struct {
	Header
	AnnounceBody
	TLVs []TLV
}

const announceBodySize = 30

// MarshalBinaryTo encodes the packet into b, returning the bytes written.
func (p *Announce) MarshalBinaryTo(b []byte) (int, error) {
	if len(b) < headerSize+announceBodySize {
		return 0, fmt.Errorf("not enough buffer to write Announce")
	}
	n := headerMarshalBinaryTo(&p.Header, b)
	copy(b[n:], p.OriginTimestamp.Seconds[:])
	binary.BigEndian.PutUint32(b[n+6:], p.OriginTimestamp.Nanoseconds)
	binary.BigEndian.PutUint16(b[n+10:], uint16(p.CurrentUTCOffset))
	b[n+12] = p.Reserved
	b[n+13] = p.GrandmasterPriority1
	b[n+14] = byte(p.GrandmasterClockQuality.ClockClass)
	b[n+15] = byte(p.GrandmasterClockQuality.ClockAccuracy)
	binary.BigEndian.PutUint16(b[n+16:], p.GrandmasterClockQuality.OffsetScaledLogVariance)
	b[n+18] = p.GrandmasterPriority2
	binary.BigEndian.PutUint64(b[n+19:], uint64(p.GrandmasterIdentity))
	binary.BigEndian.PutUint16(b[n+27:], p.StepsRemoved)
	b[n+29] = byte(p.TimeSource)
	pos := n + announceBodySize
	tlvLen, err := writeTLVs(p.TLVs, b[pos:])
	return pos + tlvLen, err
}

// UnmarshalBinary decodes an Announce from its wire form.
func (p *Announce) UnmarshalBinary(b []byte) error {
	if len(b) < headerSize+announceBodySize {
		return fmt.Errorf("not enough data to decode Announce")
	}
	unmarshalHeader(&p.Header, b)
	if err := checkPacketLength(&p.Header, len(b)); err != nil {
		return err
	}
	n := headerSize
	copy(p.OriginTimestamp.Seconds[:], b[n:])
	p.OriginTimestamp.Nanoseconds = binary.BigEndian.Uint32(b[n+6:])
	p.CurrentUTCOffset = int16(binary.BigEndian.Uint16(b[n+10:]))
	p.Reserved = b[n+12]
	p.GrandmasterPriority1 = b[n+13]
	p.GrandmasterClockQuality.ClockClass = ClockClass(b[n+14])
	p.GrandmasterClockQuality.ClockAccuracy = ClockAccuracy(b[n+15])
	p.GrandmasterClockQuality.OffsetScaledLogVariance = binary.BigEndian.Uint16(b[n+16:])
	p.GrandmasterPriority2 = b[n+18]
	p.GrandmasterIdentity = ClockIdentity(binary.BigEndian.Uint64(b[n+19:]))
	p.StepsRemoved = binary.BigEndian.Uint16(b[n+27:])
	p.TimeSource = TimeSource(b[n+29])
	pos := n + announceBodySize
	var err error
	p.TLVs, err = readTLVs(p.TLVs, int(p.MessageLength)-pos, b[pos:])
	return err
}

// MarshalBinary encodes the packet to a freshly allocated []byte.
func (p *Announce) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 508)
	n, err := p.MarshalBinaryTo(buf)
	return buf[:n], err
}

// SyncDelayReqBody is the shared Sync/Delay_Req fields, Table 44.
type SyncDelayReqBody struct {
	OriginTimestamp Timestamp
}

// SyncDelayReq is a complete Sync or Delay_Req message - the two share a
// wire layout and differ only in Header.MessageType.
type SyncDelayReq struct {
	Header
	SyncDelayReqBody
	TLVs []TLV
}

const syncDelayReqBodySize = 10

// MarshalBinaryTo encodes the packet into b, returning the bytes written.
func (p *SyncDelayReq) MarshalBinaryTo(b []byte) (int, error) {
	if len(b) < headerSize+syncDelayReqBodySize {
		return 0, fmt.Errorf("not enough buffer to write SyncDelayReq")
	}
	n := headerMarshalBinaryTo(&p.Header, b)
	copy(b[n:], p.OriginTimestamp.Seconds[:])
	binary.BigEndian.PutUint32(b[n+6:], p.OriginTimestamp.Nanoseconds)
	pos := n + syncDelayReqBodySize
	tlvLen, err := writeTLVs(p.TLVs, b[pos:])
	return pos + tlvLen, err
}

// MarshalBinary encodes the packet to a freshly allocated []byte.
func (p *SyncDelayReq) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 50)
	n, err := p.MarshalBinaryTo(buf)
	return buf[:n], err
}

// UnmarshalBinary decodes a SyncDelayReq from its wire form.
func (p *SyncDelayReq) UnmarshalBinary(b []byte) error {
	if len(b) < headerSize+syncDelayReqBodySize {
		return fmt.Errorf("not enough data to decode SyncDelayReq")
	}
	unmarshalHeader(&p.Header, b)
	if err := checkPacketLength(&p.Header, len(b)); err != nil {
		return err
	}
	copy(p.OriginTimestamp.Seconds[:], b[headerSize:])
	p.OriginTimestamp.Nanoseconds = binary.BigEndian.Uint32(b[headerSize+6:])
	pos := headerSize + syncDelayReqBodySize
	var err error
	p.TLVs, err = readTLVs(p.TLVs, int(p.MessageLength)-pos, b[pos:])
	return err
}

// FollowUpBody is the Follow_Up-specific field, Table 45.
type FollowUpBody struct {
	PreciseOriginTimestamp Timestamp
}

// FollowUp is a complete Follow_Up message.
type FollowUp struct {
	Header
	FollowUpBody
}

const followUpBodySize = 10

// MarshalBinaryTo encodes the packet into b, returning the bytes written.
func (p *FollowUp) MarshalBinaryTo(b []byte) (int, error) {
	if len(b) < headerSize+followUpBodySize {
		return 0, fmt.Errorf("not enough buffer to write FollowUp")
	}
	n := headerMarshalBinaryTo(&p.Header, b)
	copy(b[n:], p.PreciseOriginTimestamp.Seconds[:])
	binary.BigEndian.PutUint32(b[n+6:], p.PreciseOriginTimestamp.Nanoseconds)
	return n + followUpBodySize, nil
}

// MarshalBinary encodes the packet to a freshly allocated []byte.
func (p *FollowUp) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 44)
	n, err := p.MarshalBinaryTo(buf)
	return buf[:n], err
}

// UnmarshalBinary decodes a FollowUp from its wire form.
func (p *FollowUp) UnmarshalBinary(b []byte) error {
	if len(b) < headerSize+followUpBodySize {
		return fmt.Errorf("not enough data to decode FollowUp")
	}
	unmarshalHeader(&p.Header, b)
	if err := checkPacketLength(&p.Header, len(b)); err != nil {
		return err
	}
	copy(p.PreciseOriginTimestamp.Seconds[:], b[headerSize:])
	p.PreciseOriginTimestamp.Nanoseconds = binary.BigEndian.Uint32(b[headerSize+6:])
	return nil
}

// DelayRespBody is the Delay_Resp-specific fields, Table 46.
type DelayRespBody struct {
	ReceiveTimestamp       Timestamp
	RequestingPortIdentity PortIdentity
}

// DelayResp is a complete Delay_Resp message.
type DelayResp struct {
	Header
	DelayRespBody
}

const delayRespBodySize = 20

// MarshalBinaryTo encodes the packet into b, returning the bytes written.
func (p *DelayResp) MarshalBinaryTo(b []byte) (int, error) {
	if len(b) < headerSize+delayRespBodySize {
		return 0, fmt.Errorf("not enough buffer to write DelayResp")
	}
	n := headerMarshalBinaryTo(&p.Header, b)
	copy(b[n:], p.ReceiveTimestamp.Seconds[:])
	binary.BigEndian.PutUint32(b[n+6:], p.ReceiveTimestamp.Nanoseconds)
	binary.BigEndian.PutUint64(b[n+10:], uint64(p.RequestingPortIdentity.ClockIdentity))
	binary.BigEndian.PutUint16(b[n+18:], p.RequestingPortIdentity.PortNumber)
	return n + delayRespBodySize, nil
}

// MarshalBinary encodes the packet to a freshly allocated []byte.
func (p *DelayResp) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 54)
	n, err := p.MarshalBinaryTo(buf)
	return buf[:n], err
}

// UnmarshalBinary decodes a DelayResp from its wire form.
func (p *DelayResp) UnmarshalBinary(b []byte) error {
	if len(b) < headerSize+delayRespBodySize {
		return fmt.Errorf("not enough data to decode DelayResp")
	}
	unmarshalHeader(&p.Header, b)
	if err := checkPacketLength(&p.Header, len(b)); err != nil {
		return err
	}
	copy(p.ReceiveTimestamp.Seconds[:], b[headerSize:])
	p.ReceiveTimestamp.Nanoseconds = binary.BigEndian.Uint32(b[headerSize+6:])
	p.RequestingPortIdentity.ClockIdentity = ClockIdentity(binary.BigEndian.Uint64(b[headerSize+10:]))
	p.RequestingPortIdentity.PortNumber = binary.BigEndian.Uint16(b[headerSize+18:])
	return nil
}

// PDelayReqBody is the Pdelay_Req-specific fields, Table 47.
type PDelayReqBody struct {
	OriginTimestamp Timestamp
	Reserved        [10]uint8
}

// PDelayReq is a complete Pdelay_Req message.
type PDelayReq struct {
	Header
	PDelayReqBody
}

// PDelayRespBody is the Pdelay_Resp-specific fields, Table 48.
type PDelayRespBody struct {
	RequestReceiptTimestamp Timestamp
	RequestingPortIdentity  PortIdentity
}

// PDelayResp is a complete Pdelay_Resp message.
type PDelayResp struct {
	Header
	PDelayRespBody
}

// PDelayRespFollowUpBody is the Pdelay_Resp_Follow_Up-specific fields, Table 49.
type PDelayRespFollowUpBody struct {
	ResponseOriginTimestamp Timestamp
	RequestingPortIdentity  PortIdentity
}

// PDelayRespFollowUp is a complete Pdelay_Resp_Follow_Up message.
type PDelayRespFollowUp struct {
	Header
	PDelayRespFollowUpBody
}

// Packet is the common interface every decoded message satisfies.
type Packet interface {
	MessageType() MessageType
	SetSequence(uint16)
}

// BinaryMarshalerTo is satisfied by a packet that can marshal itself into
// a caller-supplied buffer, avoiding an allocation per send.
type BinaryMarshalerTo interface {
	MarshalBinaryTo([]byte) (int, error)
}

// BytesTo writes p into buf via its optimized MarshalBinaryTo and appends
// the two trailing pad bytes PTP-over-UDP always carries.
func BytesTo(p BinaryMarshalerTo, buf []byte) (int, error) {
	n, err := p.MarshalBinaryTo(buf)
	if err != nil {
		return 0, err
	}
	buf[n] = 0x0
	buf[n+1] = 0x0
	return n + 2, nil
}

// Bytes marshals any Packet to a freshly allocated []byte, using the
// packet's own MarshalBinary when available and falling back to a
// generic big-endian struct encode otherwise.
func Bytes(p Packet) ([]byte, error) {
	if marshaler, ok := p.(encoding.BinaryMarshaler); ok {
		b, err := marshaler.MarshalBinary()
		return append(b, trailingPad...), err
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, p); err != nil {
		return nil, err
	}
	err := binary.Write(&buf, binary.BigEndian, trailingPad)
	return buf.Bytes(), err
}

// FromBytes decodes rawBytes into p, using p's own UnmarshalBinary when
// available and falling back to a generic big-endian struct decode.
func FromBytes(rawBytes []byte, p Packet) error {
	if unmarshaler, ok := p.(encoding.BinaryUnmarshaler); ok {
		return unmarshaler.UnmarshalBinary(rawBytes)
	}
	r := bytes.NewReader(rawBytes)
	return binary.Read(r, binary.BigEndian, p)
}

// DecodePacket is the single entry point for turning a raw UDP payload
// into a typed Packet. Callers can then type-switch on the result, or
// just call MessageType().
func DecodePacket(b []byte) (Packet, error) {
	r := bytes.NewReader(b)
	head := &Header{}
	if err := binary.Read(r, binary.BigEndian, head); err != nil {
		return nil, err
	}
	var p Packet
	switch msgType := head.MessageType(); msgType {
	case MessageSync, MessageDelayReq:
		p = &SyncDelayReq{}
	case MessagePDelayReq:
		p = &PDelayReq{}
	case MessagePDelayResp:
		p = &PDelayResp{}
	case MessageFollowUp:
		p = &FollowUp{}
	case MessageDelayResp:
		p = &DelayResp{}
	case MessagePDelayRespFollowUp:
		p = &PDelayRespFollowUp{}
	case MessageAnnounce:
		p = &Announce{}
	case MessageSignaling:
		p = &Signaling{}
	case MessageManagement:
		return decodeMgmtPacket(b)
	default:
		return nil, fmt.Errorf("unsupported type %s", msgType)
	}

	if err := FromBytes(b, p); err != nil {
		return nil, err
	}
	return p, nil
}
