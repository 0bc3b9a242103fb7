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
	"encoding"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

var identity PortIdentity

func init() {
	// store our PID as identity that we use to talk to the daemon's management socket
	identity.PortNumber = uint16(os.Getpid())
}

// ManagementTLVHead Spec Table 58 - Management TLV fields. On its own (with no
// trailing data) it also serves as the empty-body TLV of a GET request.
type ManagementTLVHead struct {
	TLVHead

	ManagementID ManagementID
}

// MgmtID returns ManagementID
func (p *ManagementTLVHead) MgmtID() ManagementID {
	return p.ManagementID
}

// MarshalBinary converts the bare TLV head (no body) to []bytes, used for GET requests
func (p *ManagementTLVHead) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ManagementMsgHead Spec Table 56 - Management message fields
type ManagementMsgHead struct {
	Header

	TargetPortIdentity   PortIdentity
	StartingBoundaryHops uint8
	BoundaryHops         uint8
	ActionField          Action
	Reserved             uint8
}

// Action returns ActionField
func (p *ManagementMsgHead) Action() Action {
	return p.ActionField
}

// ManagementPacket is an interface to abstract all different management TLV bodies
type ManagementPacket interface {
	MgmtID() ManagementID
	MarshalBinary() ([]byte, error)
}

// Management is a generic Management message: a head plus a single, polymorphic TLV.
// Every supported managementId is represented by its own concrete TLV type assigned
// to TLV; decoding an unsupported one fails with an error, and a MANAGEMENT_ERROR_STATUS
// reply decodes to ManagementMsgErrorStatus instead.
type Management struct {
	ManagementMsgHead

	TLV ManagementPacket
}

// MessageType returns MessageManagement
func (p *Management) MessageType() MessageType {
	return MessageManagement
}

// MarshalBinary converts packet to []bytes
func (p *Management) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, &p.ManagementMsgHead); err != nil {
		return nil, fmt.Errorf("writing Management ManagementMsgHead: %w", err)
	}
	tlvBytes, err := p.TLV.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("writing Management TLV: %w", err)
	}
	buf.Write(tlvBytes)
	return buf.Bytes(), nil
}

// MarshalBinaryToBuf writes the packet into an io.Writer, surfacing short-buffer errors
func (p *Management) MarshalBinaryToBuf(w io.Writer) error {
	b, err := p.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// UnmarshalBinary parses []byte and populates struct fields
func (p *Management) UnmarshalBinary(rawBytes []byte) error {
	decoded, err := decodeMgmtPacket(rawBytes)
	if err != nil {
		return err
	}
	m, ok := decoded.(*Management)
	if !ok {
		return fmt.Errorf("got non-GET/RESPONSE management packet %T", decoded)
	}
	*p = *m
	return nil
}

// Action indicate the action to be taken on receipt of the PTP message as defined in Table 57
type Action uint8

// actions as in Table 57 Values of the actionField
const (
	GET Action = iota
	SET
	RESPONSE
	COMMAND
	ACKNOWLEDGE
)

// ManagementID is type for Management IDs
type ManagementID uint16

// Management IDs, from Table 59 managementId values
const (
	IDNullPTPManagement        ManagementID = 0x0000
	IDClockDescription         ManagementID = 0x0001
	IDUserDescription          ManagementID = 0x0002
	IDSaveInNonVolatileStorage ManagementID = 0x0003
	IDResetNonVolatileStorage  ManagementID = 0x0004
	IDInitialize               ManagementID = 0x0005
	IDFaultLog                 ManagementID = 0x0006
	IDFaultLogReset            ManagementID = 0x0007

	IDDefaultDataSet            ManagementID = 0x2000
	IDCurrentDataSet            ManagementID = 0x2001
	IDParentDataSet             ManagementID = 0x2002
	IDTimePropertiesDataSet     ManagementID = 0x2003
	IDPortDataSet               ManagementID = 0x2004
	IDPriority1                 ManagementID = 0x2005
	IDPriority2                 ManagementID = 0x2006
	IDDomain                    ManagementID = 0x2007
	IDSlaveOnly                 ManagementID = 0x2008
	IDLogAnnounceInterval       ManagementID = 0x2009
	IDAnnounceReceiptTimeout    ManagementID = 0x200A
	IDLogSyncInterval           ManagementID = 0x200B
	IDVersionNumber             ManagementID = 0x200C
	IDEnablePort                ManagementID = 0x200D
	IDDisablePort               ManagementID = 0x200E
	IDTime                      ManagementID = 0x200F
	IDClockAccuracy             ManagementID = 0x2010
	IDUtcProperties             ManagementID = 0x2011
	IDTraceabilityProperties    ManagementID = 0x2012
	IDTimescaleProperties       ManagementID = 0x2013
	IDUnicastNegotiationEnable  ManagementID = 0x2014
	IDDelayMechanism            ManagementID = 0x6000
	IDLogMinPdelayReqInterval   ManagementID = 0x6001
)

// ManagementErrorID is an enum for possible management errors
type ManagementErrorID uint16

// Table 109 ManagementErrorID enumeration
const (
	ErrorResponseTooBig ManagementErrorID = 0x0001 // The requested operation could not fit in a single response message
	ErrorNoSuchID       ManagementErrorID = 0x0002 // The managementId is not recognized
	ErrorWrongLength    ManagementErrorID = 0x0003 // The managementId was identified but the length of the data was wrong
	ErrorWrongValue     ManagementErrorID = 0x0004 // The managementId and length were correct but one or more values were wrong
	ErrorNotSetable     ManagementErrorID = 0x0005 // Some of the variables in the SET command were not updated because they are not configurable
	ErrorNotSupported   ManagementErrorID = 0x0006 // The requested operation is not supported in this PTP Instance
	ErrorUnpopulated    ManagementErrorID = 0x0007 // The targetPortIdentity refers to an entity not present at the time of the request
	ErrorGeneralError   ManagementErrorID = 0xFFFE // An error occurred that is not covered by other ManagementErrorID values
)

// ManagementErrorIDToString is a map from ManagementErrorID to string
var ManagementErrorIDToString = map[ManagementErrorID]string{
	ErrorResponseTooBig: "RESPONSE_TOO_BIG",
	ErrorNoSuchID:       "NO_SUCH_ID",
	ErrorWrongLength:    "WRONG_LENGTH",
	ErrorWrongValue:     "WRONG_VALUE",
	ErrorNotSetable:     "NOT_SETABLE",
	ErrorNotSupported:   "NOT_SUPPORTED",
	ErrorUnpopulated:    "UNPOPULATED",
	ErrorGeneralError:   "GENERAL_ERROR",
}

func (t ManagementErrorID) String() string {
	s := ManagementErrorIDToString[t]
	if s == "" {
		return fmt.Sprintf("UNKNOWN_ERROR_ID=%d", t)
	}
	return s
}

func (t ManagementErrorID) Error() string {
	return t.String()
}

// CurrentDataSetTLV Spec Table 84 - CURRENT_DATA_SET management TLV data field
type CurrentDataSetTLV struct {
	ManagementTLVHead

	StepsRemoved     uint16
	OffsetFromMaster TimeInterval
	MeanPathDelay    TimeInterval
}

// MarshalBinary converts packet to []bytes
func (p *CurrentDataSetTLV) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DefaultDataSetTLV Spec Table 69 - DEFAULT_DATA_SET management TLV data field
type DefaultDataSetTLV struct {
	ManagementTLVHead

	SoTSC         uint8
	Reserved0     uint8
	NumberPorts   uint16
	Priority1     uint8
	ClockQuality  ClockQuality
	Priority2     uint8
	ClockIdentity ClockIdentity
	DomainNumber  uint8
	Reserved1     uint8
}

// MarshalBinary converts packet to []bytes
func (p *DefaultDataSetTLV) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ParentDataSetTLV Spec Table 85 - PARENT_DATA_SET management TLV data field
type ParentDataSetTLV struct {
	ManagementTLVHead

	ParentPortIdentity                    PortIdentity
	PS                                    uint8
	Reserved                              uint8
	ObservedParentOffsetScaledLogVariance uint16
	ObservedParentClockPhaseChangeRate    uint32
	GrandmasterPriority1                  uint8
	GrandmasterClockQuality               ClockQuality
	GrandmasterPriority2                  uint8
	GrandmasterIdentity                   ClockIdentity
}

// MarshalBinary converts packet to []bytes
func (p *ParentDataSetTLV) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// TimePropertiesDataSetTLV Spec Table 86 - TIME_PROPERTIES_DATA_SET management TLV data field
type TimePropertiesDataSetTLV struct {
	ManagementTLVHead

	CurrentUtcOffset int16
	Flags            uint8
	TimeSource       uint8
}

// MarshalBinary converts packet to []bytes
func (p *TimePropertiesDataSetTLV) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// PortDataSetTLV Spec Table 87 - PORT_DATA_SET management TLV data field
type PortDataSetTLV struct {
	ManagementTLVHead

	PortIdentity            PortIdentity
	PortState               PortState
	LogMinDelayReqInterval  int8
	PeerMeanPathDelay       TimeInterval
	LogAnnounceInterval     int8
	AnnounceReceiptTimeout  uint8
	LogSyncInterval         int8
	DelayMechanism          uint8
	LogMinPdelayReqInterval int8
	VersionNumber           uint8
}

// MarshalBinary converts packet to []bytes
func (p *PortDataSetTLV) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ClockAccuracyTLV Spec Table 102 - CLOCK_ACCURACY management TLV data field
type ClockAccuracyTLV struct {
	ManagementTLVHead

	ClockAccuracy ClockAccuracy
	Reserved      uint8
}

// MarshalBinary converts packet to []bytes
func (p *ClockAccuracyTLV) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// one-scalar-field TLVs (PRIORITY1, PRIORITY2, DOMAIN, SLAVE_ONLY, boolean/byte enable TLVs,
// and the various log-interval/timeout TLVs) all share the same two-byte-padded layout: a
// management TLV head, one value byte, and a reserved pad byte.

// Priority1TLV Spec Table 88 - PRIORITY1 management TLV data field
type Priority1TLV struct {
	ManagementTLVHead

	Priority1 uint8
	Reserved  uint8
}

// MarshalBinary converts packet to []bytes
func (p *Priority1TLV) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Priority2TLV Spec Table 89 - PRIORITY2 management TLV data field
type Priority2TLV struct {
	ManagementTLVHead

	Priority2 uint8
	Reserved  uint8
}

// MarshalBinary converts packet to []bytes
func (p *Priority2TLV) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DomainTLV Spec Table 90 - DOMAIN management TLV data field
type DomainTLV struct {
	ManagementTLVHead

	DomainNumber uint8
	Reserved     uint8
}

// MarshalBinary converts packet to []bytes
func (p *DomainTLV) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SlaveOnlyTLV Spec Table 91 - SLAVE_ONLY management TLV data field
type SlaveOnlyTLV struct {
	ManagementTLVHead

	SO       uint8
	Reserved uint8
}

// MarshalBinary converts packet to []bytes
func (p *SlaveOnlyTLV) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ManagementErrorStatusTLV spec Table 108 MANAGEMENT_ERROR_STATUS TLV format
type ManagementErrorStatusTLV struct {
	TLVHead

	ManagementErrorID ManagementErrorID
	ManagementID      ManagementID
	Reserved          int32
	DisplayData       PTPText
}

// MgmtID returns the ManagementID this error pertains to, so ManagementErrorStatusTLV also
// satisfies ManagementPacket
func (p *ManagementErrorStatusTLV) MgmtID() ManagementID {
	return p.ManagementID
}

// ManagementMsgErrorStatus is header + ManagementErrorStatusTLV
type ManagementMsgErrorStatus struct {
	ManagementMsgHead
	ManagementErrorStatusTLV
}

// MessageType returns MessageManagement
func (p *ManagementMsgErrorStatus) MessageType() MessageType {
	return MessageManagement
}

// UnmarshalBinary parses []byte and populates struct fields
func (p *ManagementMsgErrorStatus) UnmarshalBinary(rawBytes []byte) error {
	reader := bytes.NewReader(rawBytes)
	be := binary.BigEndian
	if err := binary.Read(reader, be, &p.ManagementMsgHead); err != nil {
		return fmt.Errorf("reading ManagementMsgErrorStatus ManagementMsgHead: %w", err)
	}
	if err := binary.Read(reader, be, &p.ManagementErrorStatusTLV.TLVHead); err != nil {
		return fmt.Errorf("reading ManagementMsgErrorStatus TLVHead: %w", err)
	}
	if err := binary.Read(reader, be, &p.ManagementErrorStatusTLV.ManagementErrorID); err != nil {
		return fmt.Errorf("reading ManagementMsgErrorStatus ManagementErrorID: %w", err)
	}
	if err := binary.Read(reader, be, &p.ManagementErrorStatusTLV.ManagementID); err != nil {
		return fmt.Errorf("reading ManagementMsgErrorStatus ManagementID: %w", err)
	}
	if err := binary.Read(reader, be, &p.ManagementErrorStatusTLV.Reserved); err != nil {
		return fmt.Errorf("reading ManagementMsgErrorStatus Reserved: %w", err)
	}
	// packet can have trailing bytes, let's make sure we don't try to read past given length
	toRead := int(p.ManagementMsgHead.Header.MessageLength)
	toRead -= binary.Size(p.ManagementMsgHead)
	toRead -= binary.Size(p.ManagementErrorStatusTLV.TLVHead)
	toRead -= binary.Size(p.ManagementErrorStatusTLV.ManagementErrorID)
	toRead -= binary.Size(p.ManagementErrorStatusTLV.ManagementID)
	toRead -= binary.Size(p.ManagementErrorStatusTLV.Reserved)

	if reader.Len() == 0 || toRead <= 0 {
		// DisplayData is completely optional
		return nil
	}
	data := make([]byte, reader.Len())
	if _, err := io.ReadFull(reader, data); err != nil {
		return err
	}
	if err := p.DisplayData.UnmarshalBinary(data); err != nil {
		return fmt.Errorf("reading ManagementMsgErrorStatus DisplayData: %w", err)
	}
	return nil
}

// MarshalBinary converts packet to []bytes
func (p *ManagementMsgErrorStatus) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	be := binary.BigEndian
	if err := binary.Write(&buf, be, &p.ManagementMsgHead); err != nil {
		return nil, fmt.Errorf("writing ManagementMsgErrorStatus ManagementMsgHead: %w", err)
	}
	if err := binary.Write(&buf, be, &p.ManagementErrorStatusTLV.TLVHead); err != nil {
		return nil, fmt.Errorf("writing ManagementMsgErrorStatus TLVHead: %w", err)
	}
	if err := binary.Write(&buf, be, &p.ManagementErrorStatusTLV.ManagementErrorID); err != nil {
		return nil, fmt.Errorf("writing ManagementMsgErrorStatus ManagementErrorID: %w", err)
	}
	if err := binary.Write(&buf, be, &p.ManagementErrorStatusTLV.ManagementID); err != nil {
		return nil, fmt.Errorf("writing ManagementMsgErrorStatus ManagementID: %w", err)
	}
	if err := binary.Write(&buf, be, &p.ManagementErrorStatusTLV.Reserved); err != nil {
		return nil, fmt.Errorf("writing ManagementMsgErrorStatus Reserved: %w", err)
	}
	if p.DisplayData != "" {
		dd, err := p.DisplayData.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("writing ManagementMsgErrorStatus DisplayData: %w", err)
		}
		buf.Write(dd)
	}
	return buf.Bytes(), nil
}

// MarshalBinaryToBuf writes the packet into an io.Writer, surfacing short-buffer errors
func (p *ManagementMsgErrorStatus) MarshalBinaryToBuf(w io.Writer) error {
	b, err := p.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

func managementGetRequest(id ManagementID, size uint16) *Management {
	headSize := uint16(binary.Size(ManagementMsgHead{}))
	tlvHeadSize := uint16(binary.Size(TLVHead{}))
	return &Management{
		ManagementMsgHead: ManagementMsgHead{
			Header: Header{
				SdoIDAndMsgType:    NewSdoIDAndMsgType(MessageManagement, 0),
				Version:            Version,
				MessageLength:      headSize + tlvHeadSize + 2,
				SourcePortIdentity: identity,
				LogMessageInterval: MgmtLogMessageInterval,
			},
			TargetPortIdentity:   DefaultTargetPortIdentity,
			StartingBoundaryHops: 0,
			BoundaryHops:         0,
			ActionField:          GET,
		},
		TLV: &ManagementTLVHead{
			TLVHead: TLVHead{
				TLVType:     TLVManagement,
				LengthField: 2,
			},
			ManagementID: id,
		},
	}
}

// CurrentDataSetRequest prepares request packet for CURRENT_DATA_SET request
func CurrentDataSetRequest() *Management {
	return managementGetRequest(IDCurrentDataSet, uint16(binary.Size(CurrentDataSetTLV{})))
}

// DefaultDataSetRequest prepares request packet for DEFAULT_DATA_SET request
func DefaultDataSetRequest() *Management {
	return managementGetRequest(IDDefaultDataSet, uint16(binary.Size(DefaultDataSetTLV{})))
}

// ParentDataSetRequest prepares request packet for PARENT_DATA_SET request
func ParentDataSetRequest() *Management {
	return managementGetRequest(IDParentDataSet, uint16(binary.Size(ParentDataSetTLV{})))
}

// TimePropertiesDataSetRequest prepares request packet for TIME_PROPERTIES_DATA_SET request
func TimePropertiesDataSetRequest() *Management {
	return managementGetRequest(IDTimePropertiesDataSet, uint16(binary.Size(TimePropertiesDataSetTLV{})))
}

// PortDataSetRequest prepares request packet for PORT_DATA_SET request
func PortDataSetRequest() *Management {
	return managementGetRequest(IDPortDataSet, uint16(binary.Size(PortDataSetTLV{})))
}

// ClockAccuracyRequest prepares request packet for CLOCK_ACCURACY request
func ClockAccuracyRequest() *Management {
	return managementGetRequest(IDClockAccuracy, uint16(binary.Size(ClockAccuracyTLV{})))
}

// Priority1Request prepares request packet for PRIORITY1 request
func Priority1Request() *Management {
	return managementGetRequest(IDPriority1, uint16(binary.Size(Priority1TLV{})))
}

// Priority2Request prepares request packet for PRIORITY2 request
func Priority2Request() *Management {
	return managementGetRequest(IDPriority2, uint16(binary.Size(Priority2TLV{})))
}

// DomainRequest prepares request packet for DOMAIN request
func DomainRequest() *Management {
	return managementGetRequest(IDDomain, uint16(binary.Size(DomainTLV{})))
}

// SlaveOnlyRequest prepares request packet for SLAVE_ONLY request
func SlaveOnlyRequest() *Management {
	return managementGetRequest(IDSlaveOnly, uint16(binary.Size(SlaveOnlyTLV{})))
}

func decodeMgmtPacket(data []byte) (Packet, error) {
	var err error
	head := ManagementMsgHead{}
	tlvHead := ManagementTLVHead{}
	r := bytes.NewReader(data)
	if err = binary.Read(r, binary.BigEndian, &head); err != nil {
		return nil, err
	}
	if err = binary.Read(r, binary.BigEndian, &tlvHead.TLVHead); err != nil {
		return nil, err
	}
	if tlvHead.TLVType == TLVManagementErrorStatus {
		errorPacket := new(ManagementMsgErrorStatus)
		if err := errorPacket.UnmarshalBinary(data); err != nil {
			return nil, fmt.Errorf("got Management Error in response but failed to decode it: %w", err)
		}
		return errorPacket, nil
	}

	if tlvHead.TLVType != TLVManagement {
		return nil, fmt.Errorf("got TLV type %q (0x%02x) instead of %q (0x%02x)", tlvHead.TLVType, uint16(tlvHead.TLVType), TLVManagement, uint16(TLVManagement))
	}

	if err = binary.Read(r, binary.BigEndian, &tlvHead.ManagementID); err != nil {
		return nil, err
	}

	switch tlvHead.ManagementID {
	case IDDefaultDataSet:
		tlv := &DefaultDataSetTLV{ManagementTLVHead: tlvHead}
		if err := binary.Read(r, binary.BigEndian, &tlv.SoTSC); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.BigEndian, &tlv.Reserved0); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.BigEndian, &tlv.NumberPorts); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.BigEndian, &tlv.Priority1); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.BigEndian, &tlv.ClockQuality); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.BigEndian, &tlv.Priority2); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.BigEndian, &tlv.ClockIdentity); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.BigEndian, &tlv.DomainNumber); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.BigEndian, &tlv.Reserved1); err != nil {
			return nil, err
		}
		return &Management{ManagementMsgHead: head, TLV: tlv}, nil
	case IDCurrentDataSet:
		tlv := &CurrentDataSetTLV{ManagementTLVHead: tlvHead}
		if err := binary.Read(r, binary.BigEndian, &tlv.StepsRemoved); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.BigEndian, &tlv.OffsetFromMaster); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.BigEndian, &tlv.MeanPathDelay); err != nil {
			return nil, err
		}
		return &Management{ManagementMsgHead: head, TLV: tlv}, nil
	case IDParentDataSet:
		tlv := &ParentDataSetTLV{ManagementTLVHead: tlvHead}
		if err := binary.Read(r, binary.BigEndian, &tlv.ParentPortIdentity); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.BigEndian, &tlv.PS); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.BigEndian, &tlv.Reserved); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.BigEndian, &tlv.ObservedParentOffsetScaledLogVariance); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.BigEndian, &tlv.ObservedParentClockPhaseChangeRate); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.BigEndian, &tlv.GrandmasterPriority1); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.BigEndian, &tlv.GrandmasterClockQuality); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.BigEndian, &tlv.GrandmasterPriority2); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.BigEndian, &tlv.GrandmasterIdentity); err != nil {
			return nil, err
		}
		return &Management{ManagementMsgHead: head, TLV: tlv}, nil
	case IDTimePropertiesDataSet:
		tlv := &TimePropertiesDataSetTLV{ManagementTLVHead: tlvHead}
		if err := binary.Read(r, binary.BigEndian, &tlv.CurrentUtcOffset); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.BigEndian, &tlv.Flags); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.BigEndian, &tlv.TimeSource); err != nil {
			return nil, err
		}
		return &Management{ManagementMsgHead: head, TLV: tlv}, nil
	case IDPortDataSet:
		tlv := &PortDataSetTLV{ManagementTLVHead: tlvHead}
		if err := binary.Read(r, binary.BigEndian, &tlv.PortIdentity); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.BigEndian, &tlv.PortState); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.BigEndian, &tlv.LogMinDelayReqInterval); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.BigEndian, &tlv.PeerMeanPathDelay); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.BigEndian, &tlv.LogAnnounceInterval); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.BigEndian, &tlv.AnnounceReceiptTimeout); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.BigEndian, &tlv.LogSyncInterval); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.BigEndian, &tlv.DelayMechanism); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.BigEndian, &tlv.LogMinPdelayReqInterval); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.BigEndian, &tlv.VersionNumber); err != nil {
			return nil, err
		}
		return &Management{ManagementMsgHead: head, TLV: tlv}, nil
	case IDClockAccuracy:
		tlv := &ClockAccuracyTLV{ManagementTLVHead: tlvHead}
		if err := binary.Read(r, binary.BigEndian, &tlv.ClockAccuracy); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.BigEndian, &tlv.Reserved); err != nil {
			return nil, err
		}
		return &Management{ManagementMsgHead: head, TLV: tlv}, nil
	case IDPriority1:
		tlv := &Priority1TLV{ManagementTLVHead: tlvHead}
		if err := binary.Read(r, binary.BigEndian, &tlv.Priority1); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.BigEndian, &tlv.Reserved); err != nil {
			return nil, err
		}
		return &Management{ManagementMsgHead: head, TLV: tlv}, nil
	case IDPriority2:
		tlv := &Priority2TLV{ManagementTLVHead: tlvHead}
		if err := binary.Read(r, binary.BigEndian, &tlv.Priority2); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.BigEndian, &tlv.Reserved); err != nil {
			return nil, err
		}
		return &Management{ManagementMsgHead: head, TLV: tlv}, nil
	case IDDomain:
		tlv := &DomainTLV{ManagementTLVHead: tlvHead}
		if err := binary.Read(r, binary.BigEndian, &tlv.DomainNumber); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.BigEndian, &tlv.Reserved); err != nil {
			return nil, err
		}
		return &Management{ManagementMsgHead: head, TLV: tlv}, nil
	case IDSlaveOnly:
		tlv := &SlaveOnlyTLV{ManagementTLVHead: tlvHead}
		if err := binary.Read(r, binary.BigEndian, &tlv.SO); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.BigEndian, &tlv.Reserved); err != nil {
			return nil, err
		}
		return &Management{ManagementMsgHead: head, TLV: tlv}, nil
	default:
		return nil, fmt.Errorf("unsupported management TLV 0x%x", tlvHead.ManagementID)
	}
}

// MgmtClient talks to a PTP instance's management port over a connection (e.g. a unix
// socket to ptp4l, or a transport-layer association carrying signaling-free management)
type MgmtClient struct {
	Connection io.ReadWriter
	Sequence   uint16
}

// SendPacket sends packet, incrementing sequence counter
func (c *MgmtClient) SendPacket(packet Packet) error {
	c.Sequence++
	packet.SetSequence(c.Sequence)
	marshaler, ok := packet.(encoding.BinaryMarshaler)
	if !ok {
		return fmt.Errorf("packet %T does not support binary marshaling", packet)
	}
	b, err := marshaler.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = c.Connection.Write(b)
	return err
}

// Communicate sends the management packet, parses the response, and turns a
// ManagementMsgErrorStatus response into an error
func (c *MgmtClient) Communicate(packet Packet) (*Management, error) {
	if err := c.SendPacket(packet); err != nil {
		return nil, err
	}
	response := make([]uint8, 1024)
	n, err := c.Connection.Read(response)
	if err != nil {
		return nil, err
	}
	p, err := decodeMgmtPacket(response[:n])
	if err != nil {
		return nil, err
	}
	if errorPacket, ok := p.(*ManagementMsgErrorStatus); ok {
		return nil, fmt.Errorf("got Management Error in response: %s", errorPacket.ManagementErrorID)
	}
	m, ok := p.(*Management)
	if !ok {
		return nil, fmt.Errorf("got unexpected management packet %T", p)
	}
	return m, nil
}

// CurrentDataSet sends CURRENT_DATA_SET request and returns response
func (c *MgmtClient) CurrentDataSet() (*CurrentDataSetTLV, error) {
	p, err := c.Communicate(CurrentDataSetRequest())
	if err != nil {
		return nil, err
	}
	tlv, ok := p.TLV.(*CurrentDataSetTLV)
	if !ok {
		return nil, fmt.Errorf("got unexpected management TLV %T, wanted %T", p.TLV, tlv)
	}
	return tlv, nil
}

// ParentDataSet sends PARENT_DATA_SET request and returns response
func (c *MgmtClient) ParentDataSet() (*ParentDataSetTLV, error) {
	p, err := c.Communicate(ParentDataSetRequest())
	if err != nil {
		return nil, err
	}
	tlv, ok := p.TLV.(*ParentDataSetTLV)
	if !ok {
		return nil, fmt.Errorf("got unexpected management TLV %T, wanted %T", p.TLV, tlv)
	}
	return tlv, nil
}

// DefaultDataSet sends DEFAULT_DATA_SET request and returns response
func (c *MgmtClient) DefaultDataSet() (*DefaultDataSetTLV, error) {
	p, err := c.Communicate(DefaultDataSetRequest())
	if err != nil {
		return nil, err
	}
	tlv, ok := p.TLV.(*DefaultDataSetTLV)
	if !ok {
		return nil, fmt.Errorf("got unexpected management TLV %T, wanted %T", p.TLV, tlv)
	}
	return tlv, nil
}

// ClockAccuracy sends CLOCK_ACCURACY request and returns response
func (c *MgmtClient) ClockAccuracy() (*ClockAccuracyTLV, error) {
	p, err := c.Communicate(ClockAccuracyRequest())
	if err != nil {
		return nil, err
	}
	tlv, ok := p.TLV.(*ClockAccuracyTLV)
	if !ok {
		return nil, fmt.Errorf("got unexpected management TLV %T, wanted %T", p.TLV, tlv)
	}
	return tlv, nil
}
