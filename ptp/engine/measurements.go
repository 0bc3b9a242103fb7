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
	"time"

	"github.com/ptpdaemon/ptpd/ptp/datasets"
	ptp "github.com/ptpdaemon/ptpd/ptp/protocol"
	"github.com/ptpdaemon/ptpd/ptp/timer"
	"github.com/ptpdaemon/ptpd/servo"
)

// pendingSync tracks one in-flight two-step Sync waiting for its
// Follow_Up (or a one-step Sync that already carries everything it
// needs), keyed by sequenceId in Port.pending.
type pendingSync struct {
	rx         ptp.TimeInternal // local receive time of the Sync (t2)
	origin     ptp.TimeInternal // preciseOriginTimestamp, from Sync or Follow_Up (t1)
	correction ptp.Correction
	haveSync   bool
	haveFollow bool
}

func (p *Port) pendingFor(seq uint16) *pendingSync {
	if e, ok := p.pending[seq]; ok {
		return e
	}
	e := &pendingSync{}
	p.pending[seq] = e
	p.pendingOrder = append(p.pendingOrder, seq)
	p.evictStalePending()
	return e
}

// evictStalePending drops the oldest unresolved Sync once more than
// MaxFollowUpGap are outstanding - a Follow_Up that never shows up must
// not pin memory forever.
func (p *Port) evictStalePending() {
	for len(p.pendingOrder) > MaxFollowUpGap {
		oldest := p.pendingOrder[0]
		p.pendingOrder = p.pendingOrder[1:]
		if _, ok := p.pending[oldest]; ok {
			delete(p.pending, oldest)
			p.Counters.FollowUpGapErrors++
		}
	}
}

func (p *Port) removeFromOrder(seq uint16) {
	for i, s := range p.pendingOrder {
		if s == seq {
			p.pendingOrder = append(p.pendingOrder[:i], p.pendingOrder[i+1:]...)
			return
		}
	}
}

func correctionToInternal(c ptp.Correction) ptp.TimeInternal {
	return ptp.NewTimeInternal(c.Duration())
}

func (p *Port) handleSync(s *ptp.SyncDelayReq, rx time.Time) {
	switch p.DS.Snapshot().Port.PortState {
	case ptp.PortStateSlave, ptp.PortStateUncalibrated:
	default:
		return
	}
	e := p.pendingFor(s.SequenceID)
	e.rx = toInternal(rx)
	e.haveSync = true
	if s.Header.FlagField&ptp.FlagTwoStep == 0 {
		e.origin = ptp.FromTimestamp(s.OriginTimestamp)
		e.correction = s.Header.CorrectionField
		e.haveFollow = true
	}
	p.maybeCompleteSync(s.SequenceID, e)
}

func (p *Port) handleFollowUp(f *ptp.FollowUp) {
	switch p.DS.Snapshot().Port.PortState {
	case ptp.PortStateSlave, ptp.PortStateUncalibrated:
	default:
		return
	}
	e := p.pendingFor(f.SequenceID)
	e.origin = ptp.FromTimestamp(f.PreciseOriginTimestamp)
	e.correction = f.Header.CorrectionField
	e.haveFollow = true
	p.maybeCompleteSync(f.SequenceID, e)
}

func (p *Port) maybeCompleteSync(seq uint16, e *pendingSync) {
	if !e.haveSync || !e.haveFollow {
		return
	}
	delete(p.pending, seq)
	p.removeFromOrder(seq)

	p.lastSyncT1 = e.origin
	p.lastSyncT2 = e.rx
	p.lastSyncCorrection = e.correction
	p.haveSyncSample = true

	p.timers.Get(timer.SyncReceipt).Start(syncReceiptTimeoutMultiplier * p.cfg.LogSyncInterval.Duration())
	p.computeOffsetIfReady()
}

// sendDelayReq issues the E2E delay request (or hands off to the P2P
// path when the port's delay mechanism is peer-to-peer).
func (p *Port) sendDelayReq() {
	switch p.DS.Snapshot().Port.PortState {
	case ptp.PortStateSlave, ptp.PortStateUncalibrated:
	default:
		return
	}
	if p.DS.Snapshot().Port.DelayMechanism != datasets.DelayMechanismE2E {
		p.sendPDelayReq()
		return
	}

	seq := p.nextSeq(ptp.MessageDelayReq)
	msg := &ptp.SyncDelayReq{Header: p.header(ptp.MessageDelayReq, seq, 0, 10)}
	b, err := ptp.Bytes(msg)
	if err != nil {
		return
	}
	txts, err := p.xport.SendEventTo(p.destForParent(), b)
	if err != nil {
		p.timers.Get(timer.DelayReq).Start(p.cfg.LogMinDelayReqInterval.Duration())
		return
	}
	p.delayReqPending = true
	p.delayReqSeq = seq
	p.delayReqTx = toInternal(txts)
	p.timers.Get(timer.DelayReq).Start(p.cfg.LogMinDelayReqInterval.Duration())
}

func (p *Port) handleDelayReqFromPeer(req *ptp.SyncDelayReq, rx time.Time, src net.IP) {
	if p.DS.Snapshot().Port.PortState != ptp.PortStateMaster {
		return
	}
	resp := &ptp.DelayResp{
		Header: p.header(ptp.MessageDelayResp, req.SequenceID, 0, 20),
		DelayRespBody: ptp.DelayRespBody{
			ReceiveTimestamp:       toInternal(rx).ToTimestamp(),
			RequestingPortIdentity: req.Header.SourcePortIdentity,
		},
	}
	b, err := ptp.Bytes(resp)
	if err != nil {
		return
	}
	_ = p.xport.SendGeneralTo(src, b)
}

func (p *Port) handleDelayResp(d *ptp.DelayResp) {
	switch p.DS.Snapshot().Port.PortState {
	case ptp.PortStateSlave, ptp.PortStateUncalibrated:
	default:
		return
	}
	if !p.delayReqPending || d.SequenceID != p.delayReqSeq ||
		d.RequestingPortIdentity != p.DS.Snapshot().Port.PortIdentity {
		p.Counters.SequenceMismatchErrors++
		return
	}
	p.delayReqPending = false
	p.lastDelayT3 = p.delayReqTx
	p.lastDelayT4 = ptp.FromTimestamp(d.ReceiveTimestamp)
	p.lastDelayCorrection = d.Header.CorrectionField
	p.haveDelaySample = true
	p.timers.Get(timer.DelayReceipt).Start(syncReceiptTimeoutMultiplier * p.cfg.LogMinDelayReqInterval.Duration())
	p.computeOffsetIfReady()
}

// sendPDelayReq issues a P2P Pdelay_Req; unlike E2E Delay_Req it's always
// sent directly to the peer on the wire, never through a negotiated
// master/slave relationship.
func (p *Port) sendPDelayReq() {
	seq := p.nextSeq(ptp.MessagePDelayReq)
	msg := &ptp.PDelayReq{Header: p.header(ptp.MessagePDelayReq, seq, 0, 20)}
	b, err := ptp.Bytes(msg)
	if err != nil {
		return
	}
	txts, err := p.xport.SendEventTo(p.destForParent(), b)
	if err != nil {
		p.timers.Get(timer.PDelayReq).Start(p.cfg.LogMinPdelayReqInterval.Duration())
		return
	}
	p.pdelayReqPending = true
	p.pdelaySeq = seq
	p.pdelayT1 = toInternal(txts)
	p.havePdelayResp = false
	p.havePdelayFollow = false
}

func (p *Port) handlePDelayReq(req *ptp.PDelayReq, rx time.Time, src net.IP) {
	resp := &ptp.PDelayResp{
		Header: p.header(ptp.MessagePDelayResp, req.SequenceID, 0, 20),
		PDelayRespBody: ptp.PDelayRespBody{
			RequestReceiptTimestamp: toInternal(rx).ToTimestamp(),
			RequestingPortIdentity:  req.Header.SourcePortIdentity,
		},
	}
	b, err := ptp.Bytes(resp)
	if err != nil {
		return
	}
	txts, err := p.xport.SendEventTo(src, b)
	if err != nil {
		return
	}
	fup := &ptp.PDelayRespFollowUp{
		Header: p.header(ptp.MessagePDelayRespFollowUp, req.SequenceID, 0, 20),
		PDelayRespFollowUpBody: ptp.PDelayRespFollowUpBody{
			ResponseOriginTimestamp: toInternal(txts).ToTimestamp(),
			RequestingPortIdentity:  req.Header.SourcePortIdentity,
		},
	}
	fb, err := ptp.Bytes(fup)
	if err != nil {
		return
	}
	_ = p.xport.SendGeneralTo(src, fb)
}

func (p *Port) handlePDelayResp(resp *ptp.PDelayResp, rx time.Time) {
	if !p.pdelayReqPending || resp.SequenceID != p.pdelaySeq {
		p.Counters.SequenceMismatchErrors++
		return
	}
	p.pdelayT4 = toInternal(rx)
	p.pdelayT2 = ptp.FromTimestamp(resp.RequestReceiptTimestamp)
	p.havePdelayResp = true
	p.maybeCompletePDelay(resp.Header.CorrectionField)
}

func (p *Port) handlePDelayRespFollowUp(fup *ptp.PDelayRespFollowUp) {
	if !p.pdelayReqPending || fup.SequenceID != p.pdelaySeq {
		p.Counters.SequenceMismatchErrors++
		return
	}
	p.pdelayT3 = ptp.FromTimestamp(fup.ResponseOriginTimestamp)
	p.havePdelayFollow = true
	p.maybeCompletePDelay(fup.Header.CorrectionField)
}

// maybeCompletePDelay applies the P2P mean-path-delay formula once both
// the response and its follow-up are in hand:
// peerMeanPathDelay = ((t4-t1) - (t3-t2) - correctionField) / 2.
func (p *Port) maybeCompletePDelay(correction ptp.Correction) {
	if !p.havePdelayResp || !p.havePdelayFollow {
		return
	}
	p.pdelayReqPending = false

	rtt := p.pdelayT4.Sub(p.pdelayT1)
	residence := p.pdelayT3.Sub(p.pdelayT2)
	delay := rtt.Sub(residence).Sub(correctionToInternal(correction)).Half()
	if delay.IsNegative() {
		delay = ptp.TimeInternal{}
	}

	p.DS.Update(func(d *datasets.DataSets) {
		d.Port.PeerMeanPathDelay = delay
	})

	if p.DS.Snapshot().Port.DelayMechanism == datasets.DelayMechanismP2P {
		p.computeOffsetIfReady()
	}
}

// computeOffsetIfReady applies the offset/mean-path-delay formulas once a
// Sync sample (and, for E2E, a matching Delay_Req/Delay_Resp sample) are
// both in hand, then feeds the result to the servo.
func (p *Port) computeOffsetIfReady() {
	if !p.haveSyncSample {
		return
	}
	d := p.DS.Snapshot()

	var meanDelay ptp.TimeInternal
	if d.Port.DelayMechanism == datasets.DelayMechanismP2P {
		meanDelay = d.Port.PeerMeanPathDelay
	} else {
		if !p.haveDelaySample {
			return
		}
		corr := correctionToInternal(p.lastSyncCorrection).Add(correctionToInternal(p.lastDelayCorrection))
		sum := p.lastSyncT2.Sub(p.lastSyncT1).Add(p.lastDelayT4.Sub(p.lastDelayT3)).Sub(corr)
		meanDelay = sum.Half()
		if meanDelay.IsNegative() {
			meanDelay = ptp.TimeInternal{}
		}
	}

	offset := p.lastSyncT2.Sub(p.lastSyncT1).Sub(meanDelay)
	offset = offset.
		Sub(ptp.NewTimeInternal(p.cfg.IngressLatency)).
		Add(ptp.NewTimeInternal(p.cfg.EgressLatency)).
		Add(ptp.NewTimeInternal(p.cfg.OfmCorrection))

	p.DS.Update(func(ds *datasets.DataSets) {
		ds.Current.MeanPathDelay = meanDelay
		ds.Current.OffsetFromMaster = offset
	})

	p.applyServo(offset)
	p.haveSyncSample = false
	p.haveDelaySample = false
}

// applyServo runs one offset sample through the step policy, outlier
// filter and PI servo, then hands the result to the clock driver.
func (p *Port) applyServo(offset ptp.TimeInternal) {
	now := time.Now()
	if now.Before(p.calibrationUntil) || now.Before(p.leapPauseUntil) {
		return
	}

	offsetNs := offset.Duration().Nanoseconds()

	switch p.step.Decide(now, offset.Duration()) {
	case servo.ActionSuspend, servo.ActionPanic:
		return
	case servo.ActionStep:
		if !p.clock.ReadOnly() && p.clock.StepSupported() {
			if cur, err := p.clock.GetTime(); err == nil {
				_ = p.clock.SetTime(cur.Sub(offset))
			}
		}
		p.pi = servo.NewPiServo(servo.DefaultServoConfig(), p.cfg.ServoCfg, 0)
		if p.cfg.MaxFreqPPB > 0 {
			p.pi.SetMaxFreq(p.cfg.MaxFreqPPB)
		}
		p.filter = servo.NewPiServoFilter(p.pi, p.cfg.FilterCfg)
		p.outlier = servo.NewOutlierFilter(p.cfg.OutlierCfg)
	case servo.ActionSlew:
		out, blocked := p.outlier.Sample(float64(offsetNs))
		if blocked {
			return
		}
		ppb, state := p.pi.Sample(int64(out), uint64(now.UnixNano()))
		if state == servo.StateInit {
			return
		}
		if !p.clock.ReadOnly() {
			_ = p.clock.AdjustFrequency(ppb)
		}
		p.stability.Update(now, ppb)
	}

	p.timers.Get(timer.ClockUpdate).Start(time.Second)
}
