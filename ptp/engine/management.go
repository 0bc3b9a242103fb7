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

package engine

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"net"

	"github.com/ptpdaemon/ptpd/ptp/datasets"
	ptp "github.com/ptpdaemon/ptpd/ptp/protocol"
)

// handleManagementRequest answers a GET/SET/COMMAND management request
// with the matching data-set TLV, a state change, or a
// MANAGEMENT_ERROR_STATUS if the managementId isn't one this build
// understands or isn't setable.
func (p *Port) handleManagementRequest(data []byte, src net.IP) {
	req, tlvHead, body, err := decodeManagementRequest(data)
	if err != nil {
		p.Counters.MessageFormatErrors++
		return
	}

	var tlv ptp.ManagementPacket
	var mgmtErr error
	switch req.ActionField {
	case ptp.GET:
		tlv, mgmtErr = p.managementGet(tlvHead.ManagementID)
	case ptp.SET:
		tlv, mgmtErr = p.managementSet(tlvHead.ManagementID, body)
	case ptp.COMMAND:
		tlv, mgmtErr = p.managementCommand(tlvHead.ManagementID)
	default:
		mgmtErr = ErrUnsupportedManagementID
	}

	if mgmtErr != nil {
		p.sendManagementError(req, tlvHead.ManagementID, mgmtErr, src)
		return
	}
	p.sendManagementResponse(req, tlv, src)
}

// decodeManagementRequest parses the envelope common to every inbound
// management message - ManagementMsgHead, then the bare TLV head and its
// managementId - and returns whatever follows as the (possibly empty)
// SET body. A GET or COMMAND carries no body; readTLVs/decodeMgmtPacket
// in ptp/protocol aren't reusable here since those decode a known
// RESPONSE's data fields, not a request's bare managementId.
func decodeManagementRequest(data []byte) (ptp.ManagementMsgHead, ptp.ManagementTLVHead, []byte, error) {
	r := bytes.NewReader(data)
	var head ptp.ManagementMsgHead
	if err := binary.Read(r, binary.BigEndian, &head); err != nil {
		return head, ptp.ManagementTLVHead{}, nil, err
	}
	var tlvHead ptp.ManagementTLVHead
	if err := binary.Read(r, binary.BigEndian, &tlvHead); err != nil {
		return head, tlvHead, nil, err
	}
	body := make([]byte, r.Len())
	if _, err := io.ReadFull(r, body); err != nil && !errors.Is(err, io.EOF) {
		return head, tlvHead, nil, err
	}
	return head, tlvHead, body, nil
}

// emptyManagementTLV is the bare managementId-only TLV used to
// acknowledge a SET or COMMAND with no data of its own to return.
func emptyManagementTLV(id ptp.ManagementID) *ptp.ManagementTLVHead {
	return &ptp.ManagementTLVHead{
		TLVHead:      ptp.TLVHead{TLVType: ptp.TLVManagement, LengthField: 2},
		ManagementID: id,
	}
}

// mgmtLength computes a dataset TLV's LengthField: the wire size of the
// whole struct (ManagementTLVHead included) minus the 4-byte TLVHead
// that LengthField itself doesn't count.
func mgmtLength(v any) uint16 {
	return uint16(binary.Size(v) - 4)
}

func defaultDataSetSoTSC(d datasets.DataSets) uint8 {
	var v uint8
	if d.Default.TwoStepFlag {
		v |= 1 << 0
	}
	if d.Default.SlaveOnly {
		v |= 1 << 1
	}
	return v
}

// managementGet builds the response TLV for every managementId this
// build has a concrete data-set TLV for; anything else comes back
// NO_SUCH_ID.
func (p *Port) managementGet(id ptp.ManagementID) (ptp.ManagementPacket, error) {
	d := p.DS.Snapshot()
	switch id {
	case ptp.IDNullPTPManagement:
		return emptyManagementTLV(id), nil
	case ptp.IDDefaultDataSet:
		tlv := &ptp.DefaultDataSetTLV{
			ManagementTLVHead: ptp.ManagementTLVHead{ManagementID: id},
			SoTSC:             defaultDataSetSoTSC(d),
			NumberPorts:       d.Default.NumberPorts,
			Priority1:         d.Default.Priority1,
			ClockQuality:      d.Default.ClockQuality,
			Priority2:         d.Default.Priority2,
			ClockIdentity:     d.Default.ClockIdentity,
			DomainNumber:      d.Default.DomainNumber,
		}
		tlv.LengthField = mgmtLength(*tlv)
		return tlv, nil
	case ptp.IDCurrentDataSet:
		tlv := &ptp.CurrentDataSetTLV{
			ManagementTLVHead: ptp.ManagementTLVHead{ManagementID: id},
			StepsRemoved:      d.Current.StepsRemoved,
			OffsetFromMaster:  ptp.NewTimeInterval(d.Current.OffsetFromMaster.Duration()),
			MeanPathDelay:     ptp.NewTimeInterval(d.Current.MeanPathDelay.Duration()),
		}
		tlv.LengthField = mgmtLength(*tlv)
		return tlv, nil
	case ptp.IDParentDataSet:
		tlv := &ptp.ParentDataSetTLV{
			ManagementTLVHead:                     ptp.ManagementTLVHead{ManagementID: id},
			ParentPortIdentity:                    d.Parent.ParentPortIdentity,
			ObservedParentOffsetScaledLogVariance: d.Parent.ObservedParentOffsetScaledLogVariance,
			ObservedParentClockPhaseChangeRate:    d.Parent.ObservedParentClockPhaseChangeRate,
			GrandmasterPriority1:                  d.Parent.GrandmasterPriority1,
			GrandmasterClockQuality:                d.Parent.GrandmasterClockQuality,
			GrandmasterPriority2:                   d.Parent.GrandmasterPriority2,
			GrandmasterIdentity:                    d.Parent.GrandmasterIdentity,
		}
		if d.Parent.ParentStats {
			tlv.PS = 1
		}
		tlv.LengthField = mgmtLength(*tlv)
		return tlv, nil
	case ptp.IDTimePropertiesDataSet:
		tlv := &ptp.TimePropertiesDataSetTLV{
			ManagementTLVHead: ptp.ManagementTLVHead{ManagementID: id},
			CurrentUtcOffset:  d.TimeProperties.CurrentUTCOffset,
			Flags:             timePropertiesFlags(d.TimeProperties),
			TimeSource:        uint8(d.TimeProperties.TimeSource),
		}
		tlv.LengthField = mgmtLength(*tlv)
		return tlv, nil
	case ptp.IDPortDataSet:
		tlv := &ptp.PortDataSetTLV{
			ManagementTLVHead:       ptp.ManagementTLVHead{ManagementID: id},
			PortIdentity:            d.Port.PortIdentity,
			PortState:               d.Port.PortState,
			LogMinDelayReqInterval:  int8(d.Port.LogMinDelayReqInterval),
			PeerMeanPathDelay:       ptp.NewTimeInterval(d.Port.PeerMeanPathDelay.Duration()),
			LogAnnounceInterval:     int8(d.Port.LogAnnounceInterval),
			AnnounceReceiptTimeout:  d.Port.AnnounceReceiptTimeout,
			LogSyncInterval:         int8(d.Port.LogSyncInterval),
			DelayMechanism:          uint8(d.Port.DelayMechanism),
			LogMinPdelayReqInterval: int8(d.Port.LogMinPdelayReqInterval),
			VersionNumber:           d.Port.VersionNumber,
		}
		tlv.LengthField = mgmtLength(*tlv)
		return tlv, nil
	case ptp.IDClockAccuracy:
		tlv := &ptp.ClockAccuracyTLV{
			ManagementTLVHead: ptp.ManagementTLVHead{ManagementID: id},
			ClockAccuracy:     d.Default.ClockQuality.ClockAccuracy,
		}
		tlv.LengthField = mgmtLength(*tlv)
		return tlv, nil
	case ptp.IDPriority1:
		tlv := &ptp.Priority1TLV{ManagementTLVHead: ptp.ManagementTLVHead{ManagementID: id}, Priority1: d.Default.Priority1}
		tlv.LengthField = mgmtLength(*tlv)
		return tlv, nil
	case ptp.IDPriority2:
		tlv := &ptp.Priority2TLV{ManagementTLVHead: ptp.ManagementTLVHead{ManagementID: id}, Priority2: d.Default.Priority2}
		tlv.LengthField = mgmtLength(*tlv)
		return tlv, nil
	case ptp.IDDomain:
		tlv := &ptp.DomainTLV{ManagementTLVHead: ptp.ManagementTLVHead{ManagementID: id}, DomainNumber: d.Default.DomainNumber}
		tlv.LengthField = mgmtLength(*tlv)
		return tlv, nil
	case ptp.IDSlaveOnly:
		tlv := &ptp.SlaveOnlyTLV{ManagementTLVHead: ptp.ManagementTLVHead{ManagementID: id}}
		if d.Default.SlaveOnly {
			tlv.SO = 1
		}
		tlv.LengthField = mgmtLength(*tlv)
		return tlv, nil
	default:
		return nil, ErrUnsupportedManagementID
	}
}

// managementSet applies a SET against the handful of single-scalar
// managementIds that are writable over the wire; the composite data-set
// TLVs are read-only as whole records, matching Table 57.
func (p *Port) managementSet(id ptp.ManagementID, body []byte) (ptp.ManagementPacket, error) {
	switch id {
	case ptp.IDDefaultDataSet, ptp.IDCurrentDataSet, ptp.IDParentDataSet, ptp.IDPortDataSet, ptp.IDTimePropertiesDataSet:
		return nil, ErrNotSetable
	case ptp.IDPriority1:
		if len(body) < 1 {
			return nil, ErrUnsupportedManagementID
		}
		v := body[0]
		p.DS.Update(func(ds *datasets.DataSets) { ds.Default.Priority1 = v })
		return emptyManagementTLV(id), nil
	case ptp.IDPriority2:
		if len(body) < 1 {
			return nil, ErrUnsupportedManagementID
		}
		v := body[0]
		p.DS.Update(func(ds *datasets.DataSets) { ds.Default.Priority2 = v })
		return emptyManagementTLV(id), nil
	case ptp.IDDomain:
		if len(body) < 1 {
			return nil, ErrUnsupportedManagementID
		}
		v := body[0]
		p.DS.Update(func(ds *datasets.DataSets) { ds.Default.DomainNumber = v })
		return emptyManagementTLV(id), nil
	case ptp.IDSlaveOnly:
		if len(body) < 1 {
			return nil, ErrUnsupportedManagementID
		}
		v := body[0]&1 != 0
		p.DS.Update(func(ds *datasets.DataSets) { ds.Default.SlaveOnly = v })
		return emptyManagementTLV(id), nil
	default:
		return nil, ErrUnsupportedManagementID
	}
}

// managementCommand executes the supported operator commands: port
// enable/disable and a full re-initialize (drop foreign masters, return
// to LISTENING).
func (p *Port) managementCommand(id ptp.ManagementID) (ptp.ManagementPacket, error) {
	switch id {
	case ptp.IDEnablePort:
		if p.DS.Snapshot().Port.PortState == ptp.PortStateDisabled {
			p.transitionTo(ptp.PortStateListening)
		}
		return emptyManagementTLV(id), nil
	case ptp.IDDisablePort:
		p.transitionTo(ptp.PortStateDisabled)
		return emptyManagementTLV(id), nil
	case ptp.IDInitialize:
		p.Foreign.Clear()
		p.transitionTo(ptp.PortStateListening)
		return emptyManagementTLV(id), nil
	default:
		return nil, ErrUnsupportedManagementID
	}
}

// sendManagementResponse replies to req with tlv as a RESPONSE action,
// addressed back to the requester's own source port identity per Table
// 56 (targetPortIdentity in a response names who sent the request).
func (p *Port) sendManagementResponse(req ptp.ManagementMsgHead, tlv ptp.ManagementPacket, src net.IP) {
	tlvBytes, err := tlv.MarshalBinary()
	if err != nil {
		return
	}
	d := p.DS.Snapshot()
	resp := &ptp.Management{
		ManagementMsgHead: ptp.ManagementMsgHead{
			Header: ptp.Header{
				SdoIDAndMsgType:    ptp.NewSdoIDAndMsgType(ptp.MessageManagement, 0),
				Version:            ptp.Version,
				MessageLength:      uint16(binary.Size(ptp.ManagementMsgHead{}) + len(tlvBytes)),
				DomainNumber:       d.Default.DomainNumber,
				SourcePortIdentity: d.Port.PortIdentity,
				SequenceID:         req.Header.SequenceID,
				LogMessageInterval: ptp.MgmtLogMessageInterval,
			},
			TargetPortIdentity: req.Header.SourcePortIdentity,
			ActionField:        ptp.RESPONSE,
		},
		TLV: tlv,
	}
	b, err := ptp.Bytes(resp)
	if err != nil {
		return
	}
	_ = p.xport.SendGeneralTo(src, b)
}

// sendManagementError replies with a MANAGEMENT_ERROR_STATUS TLV,
// translating the engine's own sentinel errors to the matching
// ManagementErrorID.
func (p *Port) sendManagementError(req ptp.ManagementMsgHead, id ptp.ManagementID, cause error, src net.IP) {
	errID := ptp.ErrorNotSupported
	switch {
	case errors.Is(cause, ErrNotSetable):
		errID = ptp.ErrorNotSetable
	case errors.Is(cause, ErrUnsupportedManagementID):
		errID = ptp.ErrorNoSuchID
	}

	d := p.DS.Snapshot()
	resp := &ptp.ManagementMsgErrorStatus{
		ManagementMsgHead: ptp.ManagementMsgHead{
			Header: ptp.Header{
				SdoIDAndMsgType:    ptp.NewSdoIDAndMsgType(ptp.MessageManagement, 0),
				Version:            ptp.Version,
				DomainNumber:       d.Default.DomainNumber,
				SourcePortIdentity: d.Port.PortIdentity,
				SequenceID:         req.Header.SequenceID,
				LogMessageInterval: ptp.MgmtLogMessageInterval,
			},
			TargetPortIdentity: req.Header.SourcePortIdentity,
			ActionField:        ptp.RESPONSE,
		},
		ManagementErrorStatusTLV: ptp.ManagementErrorStatusTLV{
			TLVHead:           ptp.TLVHead{TLVType: ptp.TLVManagementErrorStatus, LengthField: 8},
			ManagementErrorID: errID,
			ManagementID:      id,
		},
	}
	resp.Header.MessageLength = uint16(binary.Size(resp.ManagementMsgHead)) + resp.ManagementErrorStatusTLV.TLVHead.LengthField + 4
	b, err := ptp.Bytes(resp)
	if err != nil {
		return
	}
	_ = p.xport.SendGeneralTo(src, b)
}
