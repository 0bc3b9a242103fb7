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
	"net"

	"github.com/ptpdaemon/ptpd/ptp/datasets"
	"github.com/ptpdaemon/ptpd/ptp/grant"
	ptp "github.com/ptpdaemon/ptpd/ptp/protocol"
)

// defaultUnicastGrantDuration is the duration, in seconds, requested on
// every REQUEST_UNICAST_TRANSMISSION this port sends.
const defaultUnicastGrantDuration uint32 = 300

// unicastRequestBackoffMax caps the log-interval doubling a denied
// request backs off to before wrapping back to the configured floor.
const unicastRequestBackoffMax = ptp.LogInterval(5)

// tlvHeadWireSize is the fixed TLVType+lengthField prefix common to
// every TLV on the wire.
const tlvHeadWireSize = 4

// targetPortIdentityWireSize is target port identity's wire size, appended
// to the common header in both Signaling and Management messages.
const targetPortIdentityWireSize = 10

// startUnicastNegotiation issues a REQUEST_UNICAST_TRANSMISSION for
// every message type a slave-role port needs from each configured
// unicast master: ANNOUNCE always, plus SYNC and the port's delay
// mechanism's request (DELAY_REQ for E2E, PDELAY_REQ for P2P). The
// grant table tracks state from here; tickGrants (1Hz) resends/renews.
func (p *Port) startUnicastNegotiation() {
	d := p.DS.Snapshot()
	for _, peer := range p.cfg.UnicastMasters {
		p.requestGrant(peer, ptp.MessageAnnounce, p.cfg.LogAnnounceInterval)
		p.requestGrant(peer, ptp.MessageSync, p.cfg.LogSyncInterval)
		if d.Port.DelayMechanism == datasets.DelayMechanismP2P {
			p.requestGrant(peer, ptp.MessagePDelayReq, p.cfg.LogMinPdelayReqInterval)
		} else {
			p.requestGrant(peer, ptp.MessageDelayReq, p.cfg.LogMinDelayReqInterval)
		}
	}
}

func (p *Port) requestGrant(peer UnicastPeer, mt ptp.MessageType, logInterval ptp.LogInterval) {
	gd := p.requested.Get(peer.Port, peer.Address, mt)
	gd.Requested(logInterval, defaultUnicastGrantDuration)

	tlv := &ptp.RequestUnicastTransmissionTLV{
		TLVHead:               ptp.TLVHead{TLVType: ptp.TLVRequestUnicastTransmission, LengthField: 6},
		MsgTypeAndReserved:    ptp.NewUnicastMsgTypeAndFlags(mt, 0),
		LogInterMessagePeriod: logInterval,
		DurationField:         defaultUnicastGrantDuration,
	}
	seq := p.nextSeq(ptp.MessageSignaling)
	gd.SentSeqID = seq
	p.sendSignaling(net.ParseIP(peer.Address), peer.Port, seq, tlv)
}

// tickGrants drives the unicast grant lifecycle once a second: it ages
// every tracked grant, both this port's outstanding requests (slave
// role) and the grants it has issued (master role), and re-requests or
// lapses them as grant.Data's state machine calls for.
func (p *Port) tickGrants() {
	p.requested.ForEach(func(port ptp.PortIdentity, addr string, gd *grant.Data) {
		gd.Tick()
		if gd.NeedsRenewal() {
			p.requestGrant(UnicastPeer{Address: addr, Port: port}, gd.MessageType, gd.LogInterval)
		}
	})
	p.granted.ForEach(func(_ ptp.PortIdentity, _ string, gd *grant.Data) {
		gd.Tick()
		if gd.State == grant.StateExpiring && gd.TimeLeft <= 0 {
			gd.State = grant.StateNone
		}
	})
}

// handleSignaling dispatches an inbound Signaling message's TLVs to the
// unicast negotiation handler matching their type.
func (p *Port) handleSignaling(m *ptp.Signaling, src net.IP) {
	for _, t := range m.TLVs {
		switch tlv := t.(type) {
		case *ptp.RequestUnicastTransmissionTLV:
			p.handleUnicastRequest(m, src, tlv)
		case *ptp.GrantUnicastTransmissionTLV:
			p.handleUnicastGrant(m, src, tlv)
		case *ptp.CancelUnicastTransmissionTLV:
			p.handleUnicastCancel(m, src, tlv)
		case *ptp.AcknowledgeCancelUnicastTransmissionTLV:
			p.handleUnicastCancelAck(m, src, tlv)
		}
	}
}

// handleUnicastRequest answers a REQUEST_UNICAST_TRANSMISSION in the
// master role: every request is granted for the duration asked, a
// simplification noted in the grounding ledger in lieu of an admission
// policy.
func (p *Port) handleUnicastRequest(m *ptp.Signaling, src net.IP, tlv *ptp.RequestUnicastTransmissionTLV) {
	peer := m.Header.SourcePortIdentity
	addr := src.String()
	mt := tlv.MsgTypeAndReserved.MsgType()

	gd := p.granted.Get(peer, addr, mt)
	gd.Granted(tlv.LogInterMessagePeriod, tlv.DurationField)
	gd.LocalPreference = p.localPreference(peer.ClockIdentity)

	resp := &ptp.GrantUnicastTransmissionTLV{
		TLVHead:               ptp.TLVHead{TLVType: ptp.TLVGrantUnicastTransmission, LengthField: 8},
		MsgTypeAndReserved:    tlv.MsgTypeAndReserved,
		LogInterMessagePeriod: tlv.LogInterMessagePeriod,
		DurationField:         tlv.DurationField,
		Renewal:               1,
	}
	p.sendSignaling(src, peer, m.Header.SequenceID, resp)
}

// handleUnicastGrant processes a GRANT_UNICAST_TRANSMISSION in the
// slave role: a zero duration is a denial, backed off per Denied; a
// positive duration records the grant in the requested table and marks
// it receiving.
func (p *Port) handleUnicastGrant(m *ptp.Signaling, src net.IP, tlv *ptp.GrantUnicastTransmissionTLV) {
	peer := m.Header.SourcePortIdentity
	addr := src.String()
	mt := tlv.MsgTypeAndReserved.MsgType()

	gd, ok := p.requested.Lookup(peer, addr, mt)
	if !ok {
		return
	}
	if tlv.DurationField == 0 {
		gd.Denied(p.logIntervalFor(mt), unicastRequestBackoffMax)
		return
	}
	gd.Granted(tlv.LogInterMessagePeriod, tlv.DurationField)
	gd.Receiving = true
}

// handleUnicastCancel answers a CANCEL_UNICAST_TRANSMISSION from either
// role by clearing any matching grant state and acknowledging.
func (p *Port) handleUnicastCancel(m *ptp.Signaling, src net.IP, tlv *ptp.CancelUnicastTransmissionTLV) {
	peer := m.Header.SourcePortIdentity
	addr := src.String()
	mt := tlv.MsgTypeAndFlags.MsgType()

	if gd, ok := p.granted.Lookup(peer, addr, mt); ok {
		gd.State = grant.StateNone
	}
	if gd, ok := p.requested.Lookup(peer, addr, mt); ok {
		gd.State = grant.StateNone
	}

	ack := &ptp.AcknowledgeCancelUnicastTransmissionTLV{
		TLVHead:         ptp.TLVHead{TLVType: ptp.TLVAcknowledgeCancelUnicastTransmission, LengthField: 2},
		MsgTypeAndFlags: tlv.MsgTypeAndFlags,
	}
	p.sendSignaling(src, peer, m.Header.SequenceID, ack)
}

// handleUnicastCancelAck completes a cancel this port initiated.
func (p *Port) handleUnicastCancelAck(m *ptp.Signaling, src net.IP, tlv *ptp.AcknowledgeCancelUnicastTransmissionTLV) {
	peer := m.Header.SourcePortIdentity
	addr := src.String()
	mt := tlv.MsgTypeAndFlags.MsgType()
	if gd, ok := p.requested.Lookup(peer, addr, mt); ok {
		gd.Acknowledged()
	}
	if gd, ok := p.granted.Lookup(peer, addr, mt); ok {
		gd.Acknowledged()
	}
}

// sendSignaling wraps tlvs in a Signaling message addressed to target
// and sends it over the general socket.
func (p *Port) sendSignaling(dst net.IP, target ptp.PortIdentity, seq uint16, tlvs ...ptp.TLV) {
	d := p.DS.Snapshot()
	msg := &ptp.Signaling{
		Header:             p.header(ptp.MessageSignaling, seq, p.commonFlags(d), targetPortIdentityWireSize+tlvsWireLen(tlvs)),
		TargetPortIdentity: target,
		TLVs:               tlvs,
	}
	b, err := ptp.Bytes(msg)
	if err != nil {
		p.log.Warnf("signaling: marshal failed: %v", err)
		return
	}
	if err := p.xport.SendGeneralTo(dst, b); err != nil {
		p.log.Warnf("signaling: send to %s failed: %v", dst, err)
	}
}

// tlvsWireLen sums the on-wire byte length (head included) of the given
// unicast-negotiation TLVs.
func tlvsWireLen(tlvs []ptp.TLV) int {
	n := 0
	for _, t := range tlvs {
		switch v := t.(type) {
		case *ptp.RequestUnicastTransmissionTLV:
			n += tlvHeadWireSize + int(v.LengthField)
		case *ptp.GrantUnicastTransmissionTLV:
			n += tlvHeadWireSize + int(v.LengthField)
		case *ptp.CancelUnicastTransmissionTLV:
			n += tlvHeadWireSize + int(v.LengthField)
		case *ptp.AcknowledgeCancelUnicastTransmissionTLV:
			n += tlvHeadWireSize + int(v.LengthField)
		}
	}
	return n
}
