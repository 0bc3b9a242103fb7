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

const signalingTargetSize = 10 // PortIdentity: 8-byte ClockIdentity + 2-byte PortNumber

// UnicastMsgTypeAndFlags packs a MessageType into the top nibble of a
// byte, leaving the bottom nibble for per-TLV flags (R/G and friends).
type UnicastMsgTypeAndFlags uint8

// MsgType extracts the MessageType from the top nibble.
func (m UnicastMsgTypeAndFlags) MsgType() MessageType {
	return MessageType(m >> 4)
}

// NewUnicastMsgTypeAndFlags packs msgType and flags into one byte.
func NewUnicastMsgTypeAndFlags(msgType MessageType, flags uint8) UnicastMsgTypeAndFlags {
	return UnicastMsgTypeAndFlags(uint8(msgType)<<4 | (flags & 0x0f))
}

// Signaling carries one or more unicast negotiation TLVs to a single
// target port. It's variable-length, so unlike the fixed-body messages
// it can't be decoded with a single binary.Read.
type Signaling struct {
	Header
	TargetPortIdentity PortIdentity
	TLVs               []TLV
}

// MarshalBinaryTo encodes the message into b, returning the bytes written.
func (s *Signaling) MarshalBinaryTo(b []byte) (int, error) {
	if len(s.TLVs) == 0 {
		return 0, fmt.Errorf("no TLVs in Signaling message, at least one required")
	}
	n := headerMarshalBinaryTo(&s.Header, b)
	binary.BigEndian.PutUint64(b[n:], uint64(s.TargetPortIdentity.ClockIdentity))
	binary.BigEndian.PutUint16(b[n+8:], s.TargetPortIdentity.PortNumber)
	pos := n + signalingTargetSize
	for _, tlv := range s.TLVs {
		if sized, ok := tlv.(BinaryMarshalerTo); ok {
			written, err := sized.MarshalBinaryTo(b[pos:])
			if err != nil {
				return 0, err
			}
			pos += written
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

// MarshalBinary encodes the message into a freshly allocated buffer.
func (s *Signaling) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 200)
	n, err := s.MarshalBinaryTo(buf)
	return buf[:n], err
}

// UnmarshalBinary decodes the message from its wire form.
func (s *Signaling) UnmarshalBinary(b []byte) error {
	if len(b) < headerSize+signalingTargetSize+tlvHeadSize {
		return fmt.Errorf("not enough data to decode Signaling")
	}
	unmarshalHeader(&s.Header, b)
	if s.SdoIDAndMsgType.MsgType() != MessageSignaling {
		return fmt.Errorf("not a signaling message %v", b)
	}
	s.TargetPortIdentity.ClockIdentity = ClockIdentity(binary.BigEndian.Uint64(b[headerSize:]))
	s.TargetPortIdentity.PortNumber = binary.BigEndian.Uint16(b[headerSize+8:])

	pos := headerSize + signalingTargetSize
	for pos+tlvHeadSize <= int(s.MessageLength) {
		tlvType := TLVType(binary.BigEndian.Uint16(b[pos:]))
		if !tlvType.isUnicastNegotiation() {
			return fmt.Errorf("reading TLV %s (%d) is not yet implemented", tlvType, tlvType)
		}
		tlv, err := decodeOneTLV(tlvType, b[pos:])
		if err != nil {
			return err
		}
		tlvLen := binary.BigEndian.Uint16(b[pos+2:])
		s.TLVs = append(s.TLVs, tlv)
		pos += tlvHeadSize + int(tlvLen)
	}
	if len(s.TLVs) == 0 {
		return fmt.Errorf("no TLVs read for Signaling message, at least one required")
	}
	return nil
}

// isUnicastNegotiation reports whether t can legally appear inside a
// Signaling message; PathTrace and AlternateTimeOffsetIndicator never do.
func (t TLVType) isUnicastNegotiation() bool {
	switch t {
	case TLVAcknowledgeCancelUnicastTransmission, TLVGrantUnicastTransmission,
		TLVRequestUnicastTransmission, TLVCancelUnicastTransmission:
		return true
	default:
		return false
	}
}
