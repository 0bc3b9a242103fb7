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
)

// TLV is satisfied by every Type-Length-Value block this codec knows how
// to marshal, whether it's appended to Announce, Signaling or Management.
type TLV interface {
	Type() TLVType
}

const tlvHeadSize = 4

// TLVHead is the 4-byte type+length prefix shared by every TLV.
type TLVHead struct {
	TLVType     TLVType
	LengthField uint16 // always an even number of octets
}

// Type implements TLV.
func (t TLVHead) Type() TLVType { return t.TLVType }

func tlvHeadMarshalBinaryTo(t *TLVHead, b []byte) {
	binary.BigEndian.PutUint16(b, uint16(t.TLVType))
	binary.BigEndian.PutUint16(b[2:], t.LengthField)
}

func unmarshalTLVHeader(t *TLVHead, b []byte) error {
	if len(b) < tlvHeadSize {
		return fmt.Errorf("not enough data to decode PTP header")
	}
	t.TLVType = TLVType(binary.BigEndian.Uint16(b[0:]))
	t.LengthField = binary.BigEndian.Uint16(b[2:])
	return nil
}

// checkTLVLength validates a decoded TLVHead's LengthField against the
// body size want: strict requires an exact match (fixed-size TLVs),
// otherwise want is only a lower bound (variable-size TLVs).
func checkTLVLength(t *TLVHead, haveBytes, want int, strict bool) error {
	if strict && int(t.LengthField) != want {
		return fmt.Errorf("expected TLV of type %s (%d) to have length of %d, got %d in the header", t.TLVType, t.TLVType, want, t.LengthField)
	}
	if int(t.LengthField) < want {
		return fmt.Errorf("expected TLV of type %s (%d) to have length of at least %d, got %d in the header", t.TLVType, t.TLVType, want, t.LengthField)
	}
	if tlvHeadSize+int(t.LengthField) > haveBytes {
		return fmt.Errorf("cannot decode TLV of length %d from %d bytes", tlvHeadSize+int(t.LengthField), haveBytes)
	}
	return nil
}

// writeTLVs marshals tlvs back-to-back into b, preferring each TLV's own
// MarshalBinaryTo and falling back to a generic struct encode for any
// fixed-size TLV that doesn't implement it.
func writeTLVs(tlvs []TLV, b []byte) (int, error) {
	pos := 0
	for _, tlv := range tlvs {
		if sized, ok := tlv.(BinaryMarshalerTo); ok {
			n, err := sized.MarshalBinaryTo(b[pos:])
			if err != nil {
				return 0, err
			}
			pos += n
			continue
		}
		var buf bytes.Buffer
		if err := binary.Write(&buf, binary.BigEndian, tlv); err != nil {
			return 0, err
		}
		copy(b[pos:], buf.Bytes())
		pos += buf.Len()
	}
	return pos, nil
}

// readTLVs decodes a run of TLVs from b, stopping once maxLength bytes
// have been consumed (trailing pad bytes are never mistaken for a TLV
// header since they can't satisfy pos+tlvHeadSize <= maxLength along
// with a recognized type).
func readTLVs(tlvs []TLV, maxLength int, b []byte) ([]TLV, error) {
	pos := 0
	for pos+tlvHeadSize <= maxLength {
		tlvType := TLVType(binary.BigEndian.Uint16(b[pos:]))
		tlvLen := binary.BigEndian.Uint16(b[pos+2:])
		tlv, err := decodeOneTLV(tlvType, b[pos:])
		if err != nil {
			return tlvs, err
		}
		tlvs = append(tlvs, tlv)
		pos += tlvHeadSize + int(tlvLen)
	}
	return tlvs, nil
}

// decodeOneTLV decodes a single TLV of tlvType from b, which starts at
// the TLV's own header.
func decodeOneTLV(tlvType TLVType, b []byte) (TLV, error) {
	switch tlvType {
	case TLVAcknowledgeCancelUnicastTransmission:
		tlv := &AcknowledgeCancelUnicastTransmissionTLV{}
		return tlv, tlv.UnmarshalBinary(b)
	case TLVGrantUnicastTransmission:
		tlv := &GrantUnicastTransmissionTLV{}
		return tlv, tlv.UnmarshalBinary(b)
	case TLVRequestUnicastTransmission:
		tlv := &RequestUnicastTransmissionTLV{}
		return tlv, tlv.UnmarshalBinary(b)
	case TLVCancelUnicastTransmission:
		tlv := &CancelUnicastTransmissionTLV{}
		return tlv, tlv.UnmarshalBinary(b)
	case TLVPathTrace:
		tlv := &PathTraceTLV{}
		return tlv, tlv.UnmarshalBinary(b)
	case TLVAlternateTimeOffsetIndicator:
		tlv := &AlternateTimeOffsetIndicatorTLV{}
		return tlv, tlv.UnmarshalBinary(b)
	default:
		return nil, fmt.Errorf("reading TLV %s (%d) is not yet implemented", tlvType, tlvType)
	}
}

// Unicast negotiation TLVs, §16.1.

// RequestUnicastTransmissionTLV is the REQUEST_UNICAST_TRANSMISSION TLV, Table 110.
type RequestUnicastTransmissionTLV struct {
	TLVHead
	MsgTypeAndReserved    UnicastMsgTypeAndFlags // top nibble only; same enum as the ordinary message type
	LogInterMessagePeriod LogInterval
	DurationField         uint32
}

// MarshalBinaryTo encodes the TLV into b, returning the bytes written.
func (t *RequestUnicastTransmissionTLV) MarshalBinaryTo(b []byte) (int, error) {
	tlvHeadMarshalBinaryTo(&t.TLVHead, b)
	b[tlvHeadSize] = byte(t.MsgTypeAndReserved)
	b[tlvHeadSize+1] = byte(t.LogInterMessagePeriod)
	binary.BigEndian.PutUint32(b[tlvHeadSize+2:], t.DurationField)
	return tlvHeadSize + 6, nil
}

// UnmarshalBinary decodes the TLV from its wire form.
func (t *RequestUnicastTransmissionTLV) UnmarshalBinary(b []byte) error {
	if err := unmarshalTLVHeader(&t.TLVHead, b); err != nil {
		return err
	}
	if err := checkTLVLength(&t.TLVHead, len(b), 6, true); err != nil {
		return err
	}
	t.MsgTypeAndReserved = UnicastMsgTypeAndFlags(b[4])
	t.LogInterMessagePeriod = LogInterval(b[5])
	t.DurationField = binary.BigEndian.Uint32(b[6:])
	return nil
}

// GrantUnicastTransmissionTLV is the GRANT_UNICAST_TRANSMISSION TLV, Table 111.
type GrantUnicastTransmissionTLV struct {
	TLVHead
	MsgTypeAndReserved    UnicastMsgTypeAndFlags
	LogInterMessagePeriod LogInterval
	DurationField         uint32
	Reserved              uint8
	Renewal               uint8
}

// MarshalBinaryTo encodes the TLV into b, returning the bytes written.
func (t *GrantUnicastTransmissionTLV) MarshalBinaryTo(b []byte) (int, error) {
	tlvHeadMarshalBinaryTo(&t.TLVHead, b)
	b[tlvHeadSize] = byte(t.MsgTypeAndReserved)
	b[tlvHeadSize+1] = byte(t.LogInterMessagePeriod)
	binary.BigEndian.PutUint32(b[tlvHeadSize+2:], t.DurationField)
	b[tlvHeadSize+6] = t.Reserved
	b[tlvHeadSize+7] = t.Renewal
	return tlvHeadSize + 8, nil
}

// UnmarshalBinary decodes the TLV from its wire form.
func (t *GrantUnicastTransmissionTLV) UnmarshalBinary(b []byte) error {
	if err := unmarshalTLVHeader(&t.TLVHead, b); err != nil {
		return err
	}
	if err := checkTLVLength(&t.TLVHead, len(b), 8, true); err != nil {
		return err
	}
	t.MsgTypeAndReserved = UnicastMsgTypeAndFlags(b[4])
	t.LogInterMessagePeriod = LogInterval(b[5])
	t.DurationField = binary.BigEndian.Uint32(b[6:])
	t.Reserved = b[10]
	t.Renewal = b[11]
	return nil
}

// CancelUnicastTransmissionTLV is the CANCEL_UNICAST_TRANSMISSION TLV, Table 112.
type CancelUnicastTransmissionTLV struct {
	TLVHead
	MsgTypeAndFlags UnicastMsgTypeAndFlags // top nibble is msg type, low nibble carries flags R/G
	Reserved        uint8
}

// MarshalBinaryTo encodes the TLV into b, returning the bytes written.
func (t *CancelUnicastTransmissionTLV) MarshalBinaryTo(b []byte) (int, error) {
	tlvHeadMarshalBinaryTo(&t.TLVHead, b)
	b[tlvHeadSize] = byte(t.MsgTypeAndFlags)
	b[tlvHeadSize+1] = t.Reserved
	return tlvHeadSize + 2, nil
}

// UnmarshalBinary decodes the TLV from its wire form.
func (t *CancelUnicastTransmissionTLV) UnmarshalBinary(b []byte) error {
	if err := unmarshalTLVHeader(&t.TLVHead, b); err != nil {
		return err
	}
	if err := checkTLVLength(&t.TLVHead, len(b), 2, true); err != nil {
		return err
	}
	t.MsgTypeAndFlags = UnicastMsgTypeAndFlags(b[4])
	t.Reserved = b[5]
	return nil
}

// AcknowledgeCancelUnicastTransmissionTLV is the
// ACKNOWLEDGE_CANCEL_UNICAST_TRANSMISSION TLV, Table 113.
type AcknowledgeCancelUnicastTransmissionTLV struct {
	TLVHead
	MsgTypeAndFlags UnicastMsgTypeAndFlags
	Reserved        uint8
}

// MarshalBinaryTo encodes the TLV into b, returning the bytes written.
func (t *AcknowledgeCancelUnicastTransmissionTLV) MarshalBinaryTo(b []byte) (int, error) {
	tlvHeadMarshalBinaryTo(&t.TLVHead, b)
	b[tlvHeadSize] = byte(t.MsgTypeAndFlags)
	b[tlvHeadSize+1] = t.Reserved
	return tlvHeadSize + 2, nil
}

// UnmarshalBinary decodes the TLV from its wire form.
func (t *AcknowledgeCancelUnicastTransmissionTLV) UnmarshalBinary(b []byte) error {
	if err := unmarshalTLVHeader(&t.TLVHead, b); err != nil {
		return err
	}
	if err := checkTLVLength(&t.TLVHead, len(b), 2, true); err != nil {
		return err
	}
	t.MsgTypeAndFlags = UnicastMsgTypeAndFlags(b[4])
	t.Reserved = b[5]
	return nil
}

// Other general-purpose TLVs.

// PathTraceTLV is the PATH_TRACE TLV, Table 115: a variable-length run
// of ClockIdentity values, one appended by each relay along the path.
type PathTraceTLV struct {
	TLVHead
	PathSequence []ClockIdentity // LengthField is always 8*len(PathSequence)
}

// MarshalBinaryTo encodes the TLV into b, returning the bytes written.
func (t *PathTraceTLV) MarshalBinaryTo(b []byte) (int, error) {
	tlvHeadMarshalBinaryTo(&t.TLVHead, b)
	pos := tlvHeadSize
	for _, id := range t.PathSequence {
		binary.BigEndian.PutUint64(b[pos:pos+8], uint64(id))
		pos += 8
	}
	return pos, nil
}

// UnmarshalBinary decodes the TLV from its wire form.
func (t *PathTraceTLV) UnmarshalBinary(b []byte) error {
	if err := unmarshalTLVHeader(&t.TLVHead, b); err != nil {
		return err
	}
	if err := checkTLVLength(&t.TLVHead, len(b), 8, false); err != nil {
		return err
	}
	t.PathSequence = nil
	for i := 0; i*8 <= int(t.TLVHead.LengthField); i++ {
		pos := tlvHeadSize + i*8
		if pos+8 >= len(b) {
			break
		}
		t.PathSequence = append(t.PathSequence, ClockIdentity(binary.BigEndian.Uint64(b[pos:])))
	}
	return nil
}

// AlternateTimeOffsetIndicatorTLV is the ALTERNATE_TIME_OFFSET_INDICATOR
// TLV, Table 116.
type AlternateTimeOffsetIndicatorTLV struct {
	TLVHead
	KeyField       uint8
	CurrentOffset  int32
	JumpSeconds    int32
	TimeOfNextJump PTPSeconds
	DisplayName    PTPText
}

// MarshalBinaryTo encodes the TLV into b, returning the bytes written.
func (t *AlternateTimeOffsetIndicatorTLV) MarshalBinaryTo(b []byte) (int, error) {
	tlvHeadMarshalBinaryTo(&t.TLVHead, b)
	b[tlvHeadSize] = t.KeyField
	binary.BigEndian.PutUint32(b[tlvHeadSize+1:], uint32(t.CurrentOffset))
	binary.BigEndian.PutUint32(b[tlvHeadSize+5:], uint32(t.JumpSeconds))
	copy(b[tlvHeadSize+9:], t.TimeOfNextJump[:])
	size := tlvHeadSize + 15
	if t.DisplayName != "" {
		name, err := t.DisplayName.MarshalBinary()
		if err != nil {
			return 0, fmt.Errorf("writing AlternateTimeOffsetIndicatorTLV DisplayName: %w", err)
		}
		copy(b[tlvHeadSize+15:], name)
		size += len(name)
	}
	return size, nil
}

// UnmarshalBinary decodes the TLV from its wire form.
func (t *AlternateTimeOffsetIndicatorTLV) UnmarshalBinary(b []byte) error {
	if err := unmarshalTLVHeader(&t.TLVHead, b); err != nil {
		return err
	}
	if err := checkTLVLength(&t.TLVHead, len(b), 20, false); err != nil {
		return err
	}
	t.KeyField = b[tlvHeadSize]
	t.CurrentOffset = int32(binary.BigEndian.Uint32(b[tlvHeadSize+1:]))
	t.JumpSeconds = int32(binary.BigEndian.Uint32(b[tlvHeadSize+5:]))
	copy(t.TimeOfNextJump[:], b[tlvHeadSize+9:])
	if err := t.DisplayName.UnmarshalBinary(b[tlvHeadSize+15:]); err != nil {
		return fmt.Errorf("reading AlternateTimeOffsetIndicatorTLV DisplayName: %w", err)
	}
	return nil
}
