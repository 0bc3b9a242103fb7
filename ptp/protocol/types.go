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

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"net"
	"time"
)

// scaleFactor is 2**16, the fixed-point scale every fractional-nanosecond
// wire field (TimeInterval, Correction) is multiplied by.
const scaleFactor = 65536

// MessageType identifies one of the ten PTP message kinds carried in the
// low nibble of the header's first octet.
type MessageType uint8

// Message type values, Table 36.
const (
	MessageSync               MessageType = 0x0
	MessageDelayReq           MessageType = 0x1
	MessagePDelayReq          MessageType = 0x2
	MessagePDelayResp         MessageType = 0x3
	MessageFollowUp           MessageType = 0x8
	MessageDelayResp          MessageType = 0x9
	MessagePDelayRespFollowUp MessageType = 0xA
	MessageAnnounce           MessageType = 0xB
	MessageSignaling          MessageType = 0xC
	MessageManagement         MessageType = 0xD
)

var messageTypeNames = map[MessageType]string{
	MessageSync:               "SYNC",
	MessageDelayReq:           "DELAY_REQ",
	MessagePDelayReq:          "PDELAY_REQ",
	MessagePDelayResp:         "PDELAY_RES",
	MessageFollowUp:           "FOLLOW_UP",
	MessageDelayResp:          "DELAY_RESP",
	MessagePDelayRespFollowUp: "PDELAY_RESP_FOLLOW_UP",
	MessageAnnounce:           "ANNOUNCE",
	MessageSignaling:          "SIGNALING",
	MessageManagement:         "MANAGEMENT",
}

func (m MessageType) String() string { return messageTypeNames[m] }

// SdoIDAndMsgType packs the header octet that carries both the 4-bit
// sdoId (formerly "transportSpecific") and the 4-bit messageType.
type SdoIDAndMsgType uint8

// MsgType extracts the MessageType from the low nibble.
func (m SdoIDAndMsgType) MsgType() MessageType {
	return MessageType(m & 0xf)
}

// NewSdoIDAndMsgType packs a MessageType and sdoId into one octet.
func NewSdoIDAndMsgType(msgType MessageType, sdoID uint8) SdoIDAndMsgType {
	return SdoIDAndMsgType(sdoID<<4 | uint8(msgType))
}

// ProbeMsgType peeks at the first octet of a wire buffer and returns the
// MessageType without decoding the rest of the packet.
func ProbeMsgType(data []byte) (MessageType, error) {
	if len(data) < 1 {
		return 0, fmt.Errorf("not enough data to probe MsgType")
	}
	return SdoIDAndMsgType(data[0]).MsgType(), nil
}

// TLVType identifies the kind of one Type-Length-Value block.
type TLVType uint16

// TLV type values this codec understands, Table 52. The remaining
// registered values are either deprecated or not needed by this daemon.
const (
	TLVManagement                           TLVType = 0x0001
	TLVManagementErrorStatus                TLVType = 0x0002
	TLVOrganizationExtension                TLVType = 0x0003
	TLVRequestUnicastTransmission           TLVType = 0x0004
	TLVGrantUnicastTransmission             TLVType = 0x0005
	TLVCancelUnicastTransmission            TLVType = 0x0006
	TLVAcknowledgeCancelUnicastTransmission TLVType = 0x0007
	TLVPathTrace                            TLVType = 0x0008
	TLVAlternateTimeOffsetIndicator         TLVType = 0x0009
)

var tlvTypeNames = map[TLVType]string{
	TLVManagement:                           "MANAGEMENT",
	TLVManagementErrorStatus:                "MANAGEMENT_ERROR_STATUS",
	TLVOrganizationExtension:                "ORGANIZATION_EXTENSION",
	TLVRequestUnicastTransmission:           "REQUEST_UNICAST_TRANSMISSION",
	TLVGrantUnicastTransmission:             "GRANT_UNICAST_TRANSMISSION",
	TLVCancelUnicastTransmission:            "CANCEL_UNICAST_TRANSMISSION",
	TLVAcknowledgeCancelUnicastTransmission: "ACKNOWLEDGE_CANCEL_UNICAST_TRANSMISSION",
	TLVPathTrace:                            "PATH_TRACE",
	TLVAlternateTimeOffsetIndicator:         "ALTERNATE_TIME_OFFSET_INDICATOR",
}

func (t TLVType) String() string { return tlvTypeNames[t] }

// IntFloat holds a float64 as a fixed-point int64, scaled by scaleFactor.
type IntFloat int64

// Value decodes the fixed-point value back to a float64.
func (t IntFloat) Value() float64 {
	return float64(t) / scaleFactor
}

// TimeInterval is a signed time interval in nanoseconds, scaled by 2**16;
// e.g. 2.5ns is wire-encoded as 0x0000000000028000. NewTimeInterval does
// not range-check, so unlike Correction it has no saturated value.
type TimeInterval IntFloat

// Nanoseconds returns the interval as a float64 count of nanoseconds.
func (t TimeInterval) Nanoseconds() float64 { return IntFloat(t).Value() }

func (t TimeInterval) String() string {
	return fmt.Sprintf("TimeInterval(%.3fns)", t.Nanoseconds())
}

// NewTimeInterval builds a TimeInterval from a nanosecond count.
func NewTimeInterval(ns float64) TimeInterval {
	return TimeInterval(ns * scaleFactor)
}

// correctionSaturated is the largest representable Correction: every bit
// set except the sign bit, meaning "too big to represent".
const correctionSaturated Correction = 0x7fffffffffffffff

// Correction is the correctionField: an accumulated residence/path-delay
// correction in nanoseconds, scaled by 2**16, saturating at
// correctionSaturated when the true value overflows the field.
type Correction IntFloat

// Nanoseconds decodes the correction to nanoseconds, or +Inf if saturated.
func (t Correction) Nanoseconds() float64 {
	if t.TooBig() {
		return math.Inf(1)
	}
	return IntFloat(t).Value()
}

// Duration converts the correction to a time.Duration, truncating any
// sub-nanosecond fraction and treating a saturated value as zero.
func (t Correction) Duration() time.Duration {
	if t.TooBig() {
		return 0
	}
	return time.Duration(t.Nanoseconds())
}

func (t Correction) String() string {
	if t.TooBig() {
		return "Correction(Too big)"
	}
	return fmt.Sprintf("Correction(%.3fns)", t.Nanoseconds())
}

// TooBig reports whether t is the saturated "too big to represent" value.
func (t Correction) TooBig() bool { return t == correctionSaturated }

// NewCorrection builds a Correction from a nanosecond count, saturating
// rather than overflowing when ns is out of range.
func NewCorrection(ns float64) Correction {
	if ns*scaleFactor > float64(correctionSaturated) {
		return correctionSaturated
	}
	return Correction(ns * scaleFactor)
}

// ClockIdentity uniquely names a PTP Instance (or an entity of a common
// service) across the whole network.
type ClockIdentity uint64

// String renders the identity the way the ptp4l pmc client does:
// three dot-separated groups of hex octets.
func (c ClockIdentity) String() string {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(c))
	return fmt.Sprintf("%02x%02x%02x.%02x%02x.%02x%02x%02x",
		b[0], b[1], b[2], b[3], b[4], b[5], b[6], b[7])
}

// MAC recovers the EUI-48 MAC address a ClockIdentity was derived from,
// undoing the EUI-64 conversion NewClockIdentity performs.
func (c ClockIdentity) MAC() net.HardwareAddr {
	return net.HardwareAddr{
		byte(c >> 56), byte(c >> 48), byte(c >> 40),
		byte(c >> 16), byte(c >> 8), byte(c),
	}
}

// NewClockIdentity derives a ClockIdentity from a MAC address, accepting
// either an EUI-48 (converted via the FF:FE insertion) or an EUI-64 MAC.
func NewClockIdentity(mac net.HardwareAddr) (ClockIdentity, error) {
	var b [8]byte
	switch len(mac) {
	case 6:
		copy(b[:3], mac[:3])
		b[3], b[4] = 0xFF, 0xFE
		copy(b[5:], mac[3:])
	case 8:
		copy(b[:], mac)
	default:
		return 0, fmt.Errorf("unsupported MAC %v, must be either EUI48 or EUI64", mac)
	}
	return ClockIdentity(binary.BigEndian.Uint64(b[:])), nil
}

// PortIdentity names a PTP Port or Link Port: its clock's identity plus a
// 1-based port number local to that clock.
type PortIdentity struct {
	ClockIdentity ClockIdentity
	PortNumber    uint16
}

// String renders the identity the way the ptp4l pmc client does.
func (p PortIdentity) String() string {
	return fmt.Sprintf("%s-%d", p.ClockIdentity, p.PortNumber)
}

// Compare orders two port identities: first by clock identity, then by
// port number. It returns -1, 0 or 1 as p is less than, equal to, or
// greater than q.
func (p PortIdentity) Compare(q PortIdentity) int {
	if p.ClockIdentity != q.ClockIdentity {
		if p.ClockIdentity < q.ClockIdentity {
			return -1
		}
		return 1
	}
	switch {
	case p.PortNumber < q.PortNumber:
		return -1
	case p.PortNumber > q.PortNumber:
		return 1
	default:
		return 0
	}
}

// Less reports whether p sorts before q under Compare.
func (p PortIdentity) Less(q PortIdentity) bool { return p.Compare(q) == -1 }

// PTPSeconds is the 48-bit big-endian seconds field shared by every
// Timestamp on the wire.
type PTPSeconds [6]uint8

// Empty reports whether every byte of s is zero.
func (s PTPSeconds) Empty() bool { return s == PTPSeconds{} }

// Seconds decodes the 48-bit field to a uint64 count of seconds.
func (s PTPSeconds) Seconds() uint64 {
	var v uint64
	for _, b := range s {
		v = v<<8 | uint64(b)
	}
	return v
}

// Time converts s to a time.Time at whole-second resolution, or the zero
// time when s is empty.
func (s PTPSeconds) Time() time.Time {
	if s.Empty() {
		return time.Time{}
	}
	return time.Unix(int64(s.Seconds()), 0)
}

func (s PTPSeconds) String() string {
	if s.Empty() {
		return "PTPSeconds(empty)"
	}
	return fmt.Sprintf("PTPSeconds(%s)", s.Time())
}

// NewPTPSeconds packs the whole-second part of t into a PTPSeconds field.
func NewPTPSeconds(t time.Time) PTPSeconds {
	if t.IsZero() {
		return PTPSeconds{}
	}
	var s PTPSeconds
	v := uint64(t.Unix())
	for i := len(s) - 1; i >= 0; i-- {
		s[i] = byte(v)
		v >>= 8
	}
	return s
}

// Timestamp represents a positive instant relative to the PTP epoch: a
// 48-bit whole-seconds field plus a nanosecond remainder always less
// than 10**9. E.g. +2.000000001s wire-encodes as seconds=2, nanoseconds=1.
type Timestamp struct {
	Seconds     PTPSeconds
	Nanoseconds uint32
}

// Time converts the Timestamp to a time.Time, or the zero time when empty.
func (t Timestamp) Time() time.Time {
	if t.Empty() {
		return time.Time{}
	}
	return time.Unix(int64(t.Seconds.Seconds()), int64(t.Nanoseconds))
}

// Empty reports whether both fields of t are zero.
func (t Timestamp) Empty() bool {
	return t.Nanoseconds == 0 && t.Seconds.Empty()
}

func (t Timestamp) String() string {
	if t.Empty() {
		return "Timestamp(empty)"
	}
	return fmt.Sprintf("Timestamp(%s)", t.Time())
}

// NewTimestamp builds a Timestamp from a time.Time.
func NewTimestamp(t time.Time) Timestamp {
	if t.IsZero() {
		return Timestamp{}
	}
	return Timestamp{
		Seconds:     NewPTPSeconds(t),
		Nanoseconds: uint32(t.Nanosecond()),
	}
}

// ClockClass expresses the grandmaster-suitability of a clock's time
// source, per https://datatracker.ietf.org/doc/html/rfc8173#section-7.6.2.4.
type ClockClass uint8

// Clock classes this implementation produces or recognizes.
const (
	ClockClass6         ClockClass = 6
	ClockClass7         ClockClass = 7
	ClockClass13        ClockClass = 13
	ClockClass14        ClockClass = 14
	ClockClass52        ClockClass = 52
	ClockClass58        ClockClass = 58
	ClockClassSlaveOnly ClockClass = 255
)

// ClockAccuracy expresses the estimated accuracy of a clock's time,
// per https://datatracker.ietf.org/doc/html/rfc8173#section-7.6.2.5.
type ClockAccuracy uint8

// Clock accuracy values.
const (
	ClockAccuracyNanosecond25       ClockAccuracy = 0x20
	ClockAccuracyNanosecond100      ClockAccuracy = 0x21
	ClockAccuracyNanosecond250      ClockAccuracy = 0x22
	ClockAccuracyMicrosecond1       ClockAccuracy = 0x23
	ClockAccuracyMicrosecond2point5 ClockAccuracy = 0x24
	ClockAccuracyMicrosecond10      ClockAccuracy = 0x25
	ClockAccuracyMicrosecond25      ClockAccuracy = 0x26
	ClockAccuracyMicrosecond100     ClockAccuracy = 0x27
	ClockAccuracyMicrosecond250     ClockAccuracy = 0x28
	ClockAccuracyMillisecond1       ClockAccuracy = 0x29
	ClockAccuracyMillisecond2point5 ClockAccuracy = 0x2A
	ClockAccuracyMillisecond10      ClockAccuracy = 0x2B
	ClockAccuracyMillisecond25      ClockAccuracy = 0x2C
	ClockAccuracyMillisecond100     ClockAccuracy = 0x2D
	ClockAccuracyMillisecond250     ClockAccuracy = 0x2E
	ClockAccuracySecond1            ClockAccuracy = 0x2F
	ClockAccuracySecond10           ClockAccuracy = 0x30
	ClockAccuracySecondGreater10    ClockAccuracy = 0x31
	ClockAccuracyUnknown            ClockAccuracy = 0xFE
)

// accuracyBounds lists every defined ClockAccuracy together with the
// upper bound (absolute offset) it covers, in ascending order. Both
// ClockAccuracyFromOffset and Duration are built from this single table
// so the two stay in lockstep.
var accuracyBounds = []struct {
	accuracy ClockAccuracy
	bound    time.Duration
}{
	{ClockAccuracyNanosecond25, 25 * time.Nanosecond},
	{ClockAccuracyNanosecond100, 100 * time.Nanosecond},
	{ClockAccuracyNanosecond250, 250 * time.Nanosecond},
	{ClockAccuracyMicrosecond1, time.Microsecond},
	{ClockAccuracyMicrosecond2point5, 2500 * time.Nanosecond},
	{ClockAccuracyMicrosecond10, 10 * time.Microsecond},
	{ClockAccuracyMicrosecond25, 25 * time.Microsecond},
	{ClockAccuracyMicrosecond100, 100 * time.Microsecond},
	{ClockAccuracyMicrosecond250, 250 * time.Microsecond},
	{ClockAccuracyMillisecond1, time.Millisecond},
	{ClockAccuracyMillisecond2point5, 2500 * time.Microsecond},
	{ClockAccuracyMillisecond10, 10 * time.Millisecond},
	{ClockAccuracyMillisecond25, 25 * time.Millisecond},
	{ClockAccuracyMillisecond100, 100 * time.Millisecond},
	{ClockAccuracyMillisecond250, 250 * time.Millisecond},
	{ClockAccuracySecond1, time.Second},
	{ClockAccuracySecond10, 10 * time.Second},
}

// ClockAccuracyFromOffset returns the smallest defined ClockAccuracy bound
// that covers offset.
func ClockAccuracyFromOffset(offset time.Duration) ClockAccuracy {
	if offset < 0 {
		offset = -offset
	}
	for _, e := range accuracyBounds {
		if offset <= e.bound {
			return e.accuracy
		}
	}
	return ClockAccuracySecondGreater10
}

// Duration returns the upper bound time.Duration for a ClockAccuracy,
// 25 seconds for anything looser than ClockAccuracySecond10.
func (c ClockAccuracy) Duration() time.Duration {
	for _, e := range accuracyBounds {
		if e.accuracy == c {
			return e.bound
		}
	}
	return 25 * time.Second
}

// ClockQuality summarizes a clock's class, accuracy and frequency
// stability, the fields every Announce carries about its grandmaster.
type ClockQuality struct {
	ClockClass              ClockClass    `json:"clock_class"`
	ClockAccuracy           ClockAccuracy `json:"clock_accuracy"`
	OffsetScaledLogVariance uint16        `json:"offset_scaled_log_variance"`
}

// TimeSource identifies the immediate source of time used by the
// grandmaster PTP Instance, Table 6.
type TimeSource uint8

// Time source values.
const (
	TimeSourceAtomicClock        TimeSource = 0x10
	TimeSourceGNSS               TimeSource = 0x20
	TimeSourceTerrestrialRadio   TimeSource = 0x30
	TimeSourceSerialTimeCode     TimeSource = 0x39
	TimeSourcePTP                TimeSource = 0x40
	TimeSourceNTP                TimeSource = 0x50
	TimeSourceHandSet            TimeSource = 0x60
	TimeSourceOther              TimeSource = 0x90
	TimeSourceInternalOscillator TimeSource = 0xa0
)

var timeSourceNames = map[TimeSource]string{
	TimeSourceAtomicClock:        "ATOMIC_CLOCK",
	TimeSourceGNSS:               "GNSS",
	TimeSourceTerrestrialRadio:   "TERRESTRIAL_RADIO",
	TimeSourceSerialTimeCode:     "SERIAL_TIME_CODE",
	TimeSourcePTP:                "PTP",
	TimeSourceNTP:                "NTP",
	TimeSourceHandSet:            "HAND_SET",
	TimeSourceOther:              "OTHER",
	TimeSourceInternalOscillator: "INTERNAL_OSCILLATOR",
}

func (t TimeSource) String() string { return timeSourceNames[t] }

// LogInterval is the base-2 logarithm of a period expressed in seconds -
// PTP's way of naming message intervals as powers of two.
type LogInterval int8

// Duration converts a LogInterval to the time.Duration it names.
func (i LogInterval) Duration() time.Duration {
	return time.Duration(math.Pow(2, float64(i)) * float64(time.Second))
}

// NewLogInterval converts d to a LogInterval, truncating its base-2
// logarithm toward zero (3s gives 1, not 2). Valid values span
// -128 to 127; a profile may further restrict the usable range.
func NewLogInterval(d time.Duration) (LogInterval, error) {
	li := int(math.Log2(d.Seconds()))
	if li > 127 {
		return 0, fmt.Errorf("logInterval %d is too big", li)
	}
	if li < -128 {
		return 0, fmt.Errorf("logInterval %d is too small", li)
	}
	return LogInterval(li), nil
}

// PTPText carries textual material in PTP messages, wire-encoded as a
// one-byte UTF-8 length followed by that many bytes of UTF-8 text:
//
//	type PTPText struct {
//		LengthField uint8
//		TextField   []byte
//	}
type PTPText string

// UnmarshalBinary decodes a PTPText from its wire form.
func (p *PTPText) UnmarshalBinary(rawBytes []byte) error {
	var length uint8
	r := bytes.NewReader(rawBytes)
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return fmt.Errorf("reading PTPText LengthField: %w", err)
	}
	if length == 0 {
		return nil
	}
	if len(rawBytes) < int(length)+1 {
		return fmt.Errorf("text field is too short, need %d got %d", length+1, len(rawBytes))
	}
	text := make([]byte, length)
	if err := binary.Read(r, binary.BigEndian, text); err != nil {
		return fmt.Errorf("reading PTPText TextField of len=%d: %w", length, err)
	}
	*p = PTPText(text)
	return nil
}

// MarshalBinary encodes p to its wire form, padding with a trailing zero
// byte when needed to keep the overall packet length even.
func (p *PTPText) MarshalBinary() ([]byte, error) {
	raw := []byte(*p)
	if len(raw) > 255 {
		return nil, fmt.Errorf("text is too long")
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, uint8(len(raw))); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, raw); err != nil {
		return nil, err
	}
	if len(raw)%2 != 0 {
		if err := buf.WriteByte(0); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// PortState names one state of the port state machine.
type PortState uint8

// Port state values, Table 20, plus the non-standard GrandMaster marker
// this codec uses for display purposes only (it never appears on the wire).
const (
	PortStateInitializing PortState = iota + 1
	PortStateFaulty
	PortStateDisabled
	PortStateListening
	PortStatePreMaster
	PortStateMaster
	PortStatePassive
	PortStateUncalibrated
	PortStateSlave
	PortStateGrandMaster
)

var portStateNames = map[PortState]string{
	PortStateInitializing: "INITIALIZING",
	PortStateFaulty:       "FAULTY",
	PortStateDisabled:     "DISABLED",
	PortStateListening:    "LISTENING",
	PortStatePreMaster:    "PRE_MASTER",
	PortStateMaster:       "MASTER",
	PortStatePassive:      "PASSIVE",
	PortStateUncalibrated: "UNCALIBRATED",
	PortStateSlave:        "SLAVE",
	PortStateGrandMaster:  "GRAND_MASTER",
}

func (ps PortState) String() string { return portStateNames[ps] }

// TransportType names a network transport protocol, Table 3.
type TransportType uint16

// Transport type values. 0 is reserved by the standard; this codec uses
// it for the Unix Domain Socket management transport.
const (
	TransportTypeUDS TransportType = iota
	TransportTypeUDPIPV4
	TransportTypeUDPIPV6
	TransportTypeIEEE8023
	TransportTypeDeviceNet
	TransportTypeControlNet
	TransportTypePROFINET
)

var transportTypeNames = map[TransportType]string{
	TransportTypeUDS:        "UDS",
	TransportTypeUDPIPV4:    "UDP_IPV4",
	TransportTypeUDPIPV6:    "UDP_IPV6",
	TransportTypeIEEE8023:   "IEEE_802_3",
	TransportTypeDeviceNet:  "DEVICENET",
	TransportTypeControlNet: "CONTROLNET",
	TransportTypePROFINET:   "PROFINET",
}

func (t TransportType) String() string { return transportTypeNames[t] }

// PortAddress names a port by protocol and a protocol-specific address,
// §5.3.6.
type PortAddress struct {
	NetworkProtocol TransportType
	AddressLength   uint16
	AddressField    []byte
}

// UnmarshalBinary decodes a PortAddress from its wire form.
func (p *PortAddress) UnmarshalBinary(b []byte) error {
	if len(b) < 8 {
		return fmt.Errorf("not enough data to decode PortAddress")
	}
	p.NetworkProtocol = TransportType(binary.BigEndian.Uint16(b[0:]))
	p.AddressLength = binary.BigEndian.Uint16(b[2:])
	if len(b) < 4+int(p.AddressLength) {
		return fmt.Errorf("not enough data to decode PortAddress address")
	}
	p.AddressField = make([]byte, p.AddressLength)
	copy(p.AddressField, b[4:4+p.AddressLength])
	return nil
}

// IP returns the PortAddress as a net.IP, when its protocol is one of the
// two UDP/IP transports.
func (p *PortAddress) IP() (net.IP, error) {
	switch p.NetworkProtocol {
	case TransportTypeUDPIPV4:
		if p.AddressLength != 4 || len(p.AddressField) != 4 {
			return nil, fmt.Errorf("unexpected length of IPv4: %d", len(p.AddressField))
		}
	case TransportTypeUDPIPV6:
		if p.AddressLength != 16 || len(p.AddressField) != 16 {
			return nil, fmt.Errorf("unexpected length of IPv6: %d", len(p.AddressField))
		}
	default:
		return nil, fmt.Errorf("unsupported network protocol %s (%d)", p.NetworkProtocol, p.NetworkProtocol)
	}
	return net.IP(p.AddressField), nil
}

// MarshalBinary encodes p to its wire form.
func (p *PortAddress) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, p.NetworkProtocol); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, p.AddressLength); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, p.AddressField); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
