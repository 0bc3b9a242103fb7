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
	"context"
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ptpdaemon/ptpd/ptp/bmca"
	"github.com/ptpdaemon/ptpd/ptp/clockdriver"
	"github.com/ptpdaemon/ptpd/ptp/datasets"
	"github.com/ptpdaemon/ptpd/ptp/foreignmaster"
	"github.com/ptpdaemon/ptpd/ptp/grant"
	"github.com/ptpdaemon/ptpd/ptp/netmon"
	ptp "github.com/ptpdaemon/ptpd/ptp/protocol"
	"github.com/ptpdaemon/ptpd/ptp/timer"
	"github.com/ptpdaemon/ptpd/ptp/transport"
	"github.com/ptpdaemon/ptpd/servo"
)

// defaultNetRefreshInterval is how often MASTER_NETREFRESH polls link
// state when a NetMonitor is attached but the config left the interval
// unset.
const defaultNetRefreshInterval = 5 * time.Second

// NetMonitor is the subset of *netmon.Watcher the engine depends on,
// kept as an interface so Port can be driven by a fake in tests.
type NetMonitor interface {
	Poll() (netmon.State, error)
}

// defaultQualificationTimeout is, in announce intervals, how long a port
// stays PRE_MASTER before declaring itself MASTER, IEEE 1588-2008's
// DEFAULT_QUALIFICATION_TIMEOUT.
const defaultQualificationTimeout = 2

// syncReceiptTimeoutMultiplier bounds how many sync/delay-req intervals
// may elapse with no traffic before SYNC_RECEIPT/DELAY_RECEIPT fires.
const syncReceiptTimeoutMultiplier = 20

// calibrationDuration is how long a freshly UNCALIBRATED port withholds
// clock updates while it collects its first stable measurements.
const calibrationDuration = 2 * time.Second

// Transport is the subset of *transport.Transport the engine depends on,
// kept as an interface so Port can be driven by a fake in tests.
type Transport interface {
	SendEventTo(ip net.IP, b []byte) (time.Time, error)
	SendGeneralTo(ip net.IP, b []byte) error
	RecvEvent(buf, oob []byte) (*transport.Inbound, error)
	RecvGeneral(buf []byte) (*transport.Inbound, error)
	Refresh() error
	Close() error
}

// Counters tallies per-type message counts and protocol errors, exposed
// through management GET requests and metrics snapshots.
type Counters struct {
	RxAnnounce, RxSync, RxFollowUp                    uint64
	RxDelayReq, RxDelayResp                           uint64
	RxPDelayReq, RxPDelayResp, RxPDelayRespFollowUp   uint64
	RxSignaling, RxManagement                         uint64

	SequenceMismatchErrors uint64
	FollowUpGapErrors      uint64
	MessageFormatErrors    uint64
	MasterChanges          uint64
	StateTransitions       uint64
}

// Port is one PTP port: the state machine and protocol engine driving it.
// One Port owns its own data sets, foreign-master table, grant tables,
// servo, and timers - there is no sharing between ports; the daemon runs
// one goroutine per configured port.
type Port struct {
	cfg Config
	log *log.Entry

	DS      *datasets.DataSets
	Foreign *foreignmaster.Table

	timers *timer.Set
	clock  clockdriver.ClockDriver
	xport  Transport

	// requested is this port's outstanding unicast requests to remote
	// masters (slave role); granted is grants this port has issued to
	// remote slaves (master role).
	requested *grant.Table
	granted   *grant.Table

	pi        *servo.PiServo
	filter    *servo.PiServoFilter
	outlier   *servo.OutlierFilter
	stability *servo.StabilityMonitor
	step      *servo.StepPolicy

	seq map[ptp.MessageType]uint16

	pending      map[uint16]*pendingSync
	pendingOrder []uint16

	haveSyncSample     bool
	lastSyncT1         ptp.TimeInternal
	lastSyncT2         ptp.TimeInternal
	lastSyncCorrection ptp.Correction

	delayReqPending     bool
	delayReqSeq         uint16
	delayReqTx          ptp.TimeInternal
	haveDelaySample     bool
	lastDelayT3         ptp.TimeInternal
	lastDelayT4         ptp.TimeInternal
	lastDelayCorrection ptp.Correction

	pdelayReqPending bool
	pdelaySeq        uint16
	pdelayT1         ptp.TimeInternal
	pdelayT2         ptp.TimeInternal
	pdelayT3         ptp.TimeInternal
	pdelayT4         ptp.TimeInternal
	havePdelayResp   bool
	havePdelayFollow bool

	calibrationUntil time.Time
	leapPauseUntil   time.Time
	pendingLeapAt    time.Time

	netMonitor   NetMonitor
	lastNetState netmon.State
	haveNetState bool

	Counters Counters
}

// SetNetMonitor attaches a link-state watcher this port will poll on
// its MASTER_NETREFRESH timer, refreshing the transport (or dropping
// back to LISTENING) when the underlying interface changes.
func (p *Port) SetNetMonitor(m NetMonitor) {
	p.netMonitor = m
}

// New builds a Port from cfg, ready to Run.
func New(cfg Config, clock clockdriver.ClockDriver, xport Transport) *Port {
	ds := datasets.New(cfg.ClockIdentity, cfg.Priority1, cfg.Priority2, cfg.Domain, cfg.SlaveOnly)
	ds.Update(func(d *datasets.DataSets) {
		d.Default.TwoStepFlag = true
		d.Port.LogMinDelayReqInterval = cfg.LogMinDelayReqInterval
		d.Port.LogAnnounceInterval = cfg.LogAnnounceInterval
		d.Port.AnnounceReceiptTimeout = cfg.AnnounceReceiptTimeout
		d.Port.LogSyncInterval = cfg.LogSyncInterval
		d.Port.DelayMechanism = cfg.DelayMechanism
		d.Port.LogMinPdelayReqInterval = cfg.LogMinPdelayReqInterval
		d.Port.UnicastNegotiation = cfg.UnicastNegotiation
	})

	fm := foreignmaster.New(cfg.ForeignMasterCapacity, cfg.ForeignMasterThreshold, cfg.announceQualificationWindow())

	pi := servo.NewPiServo(servo.DefaultServoConfig(), cfg.ServoCfg, 0)
	if cfg.MaxFreqPPB > 0 {
		pi.SetMaxFreq(cfg.MaxFreqPPB)
	}

	gSize := cfg.GrantTableSize
	if gSize <= 0 {
		gSize = 64
	}

	return &Port{
		cfg:       cfg,
		log:       log.WithField("port", cfg.ClockIdentity.String()),
		DS:        ds,
		Foreign:   fm,
		timers:    timer.NewSet(),
		clock:     clock,
		xport:     xport,
		requested: grant.NewTable(gSize),
		granted:   grant.NewTable(gSize),
		pi:        pi,
		filter:    servo.NewPiServoFilter(pi, cfg.FilterCfg),
		outlier:   servo.NewOutlierFilter(cfg.OutlierCfg),
		stability: servo.NewStabilityMonitor(cfg.StabilityCfg),
		step:      servo.NewStepPolicy(cfg.StepPolicyCfg),
		seq:       make(map[ptp.MessageType]uint16),
		pending:   make(map[uint16]*pendingSync),
	}
}

func (p *Port) initialize() error {
	if err := p.clock.UpdateStatus(); err != nil {
		return fmt.Errorf("engine: clock driver status: %w", err)
	}
	if p.cfg.TransportMode != transport.ModeUnicast {
		if err := p.xport.Refresh(); err != nil {
			return fmt.Errorf("engine: transport refresh: %w", err)
		}
	}
	if p.cfg.UnicastNegotiation {
		p.startUnicastNegotiation()
	}
	if p.netMonitor != nil {
		interval := p.cfg.NetRefreshInterval
		if interval <= 0 {
			interval = defaultNetRefreshInterval
		}
		p.timers.Get(timer.MasterNetRefresh).StartPeriodic(interval)
	}
	return nil
}

type inboundMsg struct {
	data []byte
	ts   time.Time
	src  net.IP
}

// Run drives the port's select loop until ctx is canceled. It starts two
// thin reader goroutines (event/general sockets) that only copy bytes and
// capture timestamps, and does all protocol work itself, mirroring the
// teacher's simpleclient main loop shape.
func (p *Port) Run(ctx context.Context) error {
	if err := p.initialize(); err != nil {
		p.DS.SetPortState(ptp.PortStateFaulty)
		return err
	}

	inCh := make(chan inboundMsg, 64)

	go func() {
		buf := make([]byte, 1500)
		oob := make([]byte, 256)
		for {
			in, err := p.xport.RecvEvent(buf, oob)
			if err != nil {
				return
			}
			if in == nil {
				continue
			}
			cp := append([]byte(nil), in.Data...)
			select {
			case inCh <- inboundMsg{data: cp, ts: in.Timestamp, src: net.IP(in.Src.AsSlice())}:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		buf := make([]byte, 1500)
		for {
			in, err := p.xport.RecvGeneral(buf)
			if err != nil {
				return
			}
			if in == nil {
				continue
			}
			cp := append([]byte(nil), in.Data...)
			select {
			case inCh <- inboundMsg{data: cp, src: net.IP(in.Src.AsSlice())}:
			case <-ctx.Done():
				return
			}
		}
	}()

	p.transitionTo(ptp.PortStateListening)

	for {
		select {
		case <-ctx.Done():
			p.timers.StopAll()
			return ctx.Err()
		case m := <-inCh:
			p.handleInbound(m.data, m.ts, m.src)
		case <-p.timers.Get(timer.AnnounceReceipt).C():
			p.timers.Get(timer.AnnounceReceipt).Fire()
			p.onAnnounceReceiptTimeout()
		case <-p.timers.Get(timer.AnnounceInterval).C():
			p.timers.Get(timer.AnnounceInterval).Fire()
			p.onAnnounceIntervalTimer()
		case <-p.timers.Get(timer.Sync).C():
			p.timers.Get(timer.Sync).Fire()
			p.sendSync()
		case <-p.timers.Get(timer.DelayReq).C():
			p.timers.Get(timer.DelayReq).Fire()
			p.sendDelayReq()
		case <-p.timers.Get(timer.PDelayReq).C():
			p.timers.Get(timer.PDelayReq).Fire()
			p.sendPDelayReq()
		case <-p.timers.Get(timer.UnicastGrant).C():
			p.timers.Get(timer.UnicastGrant).Fire()
			p.tickGrants()
		case <-p.timers.Get(timer.SyncReceipt).C():
			p.timers.Get(timer.SyncReceipt).Fire()
			p.onSyncReceiptTimeout()
		case <-p.timers.Get(timer.DelayReceipt).C():
			p.timers.Get(timer.DelayReceipt).Fire()
			// stale delay exchange; the next DELAYREQ tick re-requests.
		case <-p.timers.Get(timer.CalibrationDelay).C():
			p.timers.Get(timer.CalibrationDelay).Fire()
			// calibrationUntil has already elapsed by construction.
		case <-p.timers.Get(timer.LeapSecondPause).C():
			p.timers.Get(timer.LeapSecondPause).Fire()
			p.onLeapSecondPauseTimer()
		case <-p.timers.Get(timer.MasterNetRefresh).C():
			p.timers.Get(timer.MasterNetRefresh).Fire()
			p.onNetRefresh()
		}
		p.runBMCA(time.Now())
	}
}

func (p *Port) handleInbound(data []byte, rx time.Time, src net.IP) {
	if len(data) < 1 {
		p.Counters.MessageFormatErrors++
		return
	}

	// Management requests can't go through DecodePacket: its mgmt decoder
	// is built for the client side (full RESPONSE bodies), and a bare GET
	// has no data field to read.
	if ptp.SdoIDAndMsgType(data[0]).MsgType() == ptp.MessageManagement {
		p.Counters.RxManagement++
		p.handleManagementRequest(data, src)
		return
	}

	pkt, err := ptp.DecodePacket(data)
	if err != nil {
		p.Counters.MessageFormatErrors++
		return
	}

	switch m := pkt.(type) {
	case *ptp.Announce:
		p.Counters.RxAnnounce++
		p.handleAnnounce(m)
	case *ptp.SyncDelayReq:
		switch m.MessageType() {
		case ptp.MessageSync:
			p.Counters.RxSync++
			p.handleSync(m, rx)
		case ptp.MessageDelayReq:
			p.Counters.RxDelayReq++
			p.handleDelayReqFromPeer(m, rx, src)
		}
	case *ptp.FollowUp:
		p.Counters.RxFollowUp++
		p.handleFollowUp(m)
	case *ptp.DelayResp:
		p.Counters.RxDelayResp++
		p.handleDelayResp(m)
	case *ptp.PDelayReq:
		p.Counters.RxPDelayReq++
		p.handlePDelayReq(m, rx, src)
	case *ptp.PDelayResp:
		p.Counters.RxPDelayResp++
		p.handlePDelayResp(m, rx)
	case *ptp.PDelayRespFollowUp:
		p.Counters.RxPDelayRespFollowUp++
		p.handlePDelayRespFollowUp(m)
	case *ptp.Signaling:
		p.Counters.RxSignaling++
		p.handleSignaling(m, src)
	}
}

func (p *Port) handleAnnounce(a *ptp.Announce) {
	d := p.DS.Snapshot()
	if a.Header.DomainNumber != d.Default.DomainNumber {
		return
	}
	switch d.Port.PortState {
	case ptp.PortStateMaster, ptp.PortStateDisabled, ptp.PortStateFaulty:
		return
	}
	p.Foreign.Insert(time.Now(), a.Header, a.AnnounceBody, p.localPreference(a.GrandmasterIdentity))

	switch d.Port.PortState {
	case ptp.PortStateSlave, ptp.PortStateUncalibrated, ptp.PortStatePassive:
		if a.Header.SourcePortIdentity == d.Parent.ParentPortIdentity {
			p.timers.Get(timer.AnnounceReceipt).Start(p.announceReceiptTimeout())
		}
	}

	if d.Port.PortState == ptp.PortStateSlave || d.Port.PortState == ptp.PortStateUncalibrated {
		p.armLeapSecond(a.Header.FlagField)
	}
}

func (p *Port) localPreference(id ptp.ClockIdentity) uint8 {
	if p.cfg.LocalPreferences == nil {
		return 0
	}
	return uint8(p.cfg.LocalPreferences[id])
}

// transitionTo moves the port to state, (re)arming the timers that belong
// to it. Unrelated timers from the previous state are left alone unless
// the new state explicitly stops them - STOP-ALL only happens entering
// FAULTY/DISABLED/LISTENING.
func (p *Port) transitionTo(state ptp.PortState) {
	cur := p.DS.Snapshot().Port.PortState
	if cur == state {
		return
	}
	p.log.Infof("port state %s -> %s", cur, state)
	p.DS.SetPortState(state)
	p.Counters.StateTransitions++

	switch state {
	case ptp.PortStateListening:
		p.timers.StopAll()
		p.timers.Get(timer.AnnounceReceipt).Start(p.announceReceiptTimeout())
		if p.cfg.UnicastNegotiation {
			p.timers.Get(timer.UnicastGrant).StartPeriodic(time.Second)
		}
	case ptp.PortStatePreMaster:
		p.timers.Get(timer.AnnounceInterval).Start(defaultQualificationTimeout * p.cfg.LogAnnounceInterval.Duration())
	case ptp.PortStateMaster:
		p.timers.Get(timer.AnnounceReceipt).Stop()
		p.timers.Get(timer.AnnounceInterval).StartPeriodic(p.cfg.LogAnnounceInterval.Duration())
		p.timers.Get(timer.Sync).StartPeriodic(p.cfg.LogSyncInterval.Duration())
		if p.DS.Snapshot().Port.DelayMechanism == datasets.DelayMechanismP2P {
			p.timers.Get(timer.PDelayReq).StartPeriodic(p.cfg.LogMinPdelayReqInterval.Duration())
		}
	case ptp.PortStateUncalibrated, ptp.PortStateSlave:
		p.timers.Get(timer.AnnounceInterval).Stop()
		p.timers.Get(timer.Sync).Stop()
		p.timers.Get(timer.AnnounceReceipt).Start(p.announceReceiptTimeout())
		p.timers.Get(timer.SyncReceipt).Start(syncReceiptTimeoutMultiplier * p.cfg.LogSyncInterval.Duration())
		switch {
		case p.DS.Snapshot().Port.DelayMechanism == datasets.DelayMechanismP2P:
			p.timers.Get(timer.PDelayReq).StartPeriodic(p.cfg.LogMinPdelayReqInterval.Duration())
		case !p.cfg.UnicastNegotiation:
			p.timers.Get(timer.DelayReq).Start(p.cfg.LogMinDelayReqInterval.Duration())
		}
		if state == ptp.PortStateUncalibrated {
			p.calibrationUntil = time.Now().Add(calibrationDuration)
			p.timers.Get(timer.CalibrationDelay).Start(calibrationDuration)
		}
	case ptp.PortStatePassive:
		p.timers.Get(timer.AnnounceReceipt).Start(p.announceReceiptTimeout())
		p.timers.Get(timer.AnnounceInterval).Stop()
		p.timers.Get(timer.Sync).Stop()
	case ptp.PortStateFaulty, ptp.PortStateDisabled:
		p.timers.StopAll()
	}
}

// onNetRefresh polls the attached NetMonitor and reacts to a changed
// link: a carrier drop or loss of the bound address drops the port
// back to LISTENING (where it will rejoin once AnnounceReceipt finds
// the network alive again); any other change just rebinds the
// transport.
func (p *Port) onNetRefresh() {
	if p.netMonitor == nil {
		return
	}
	cur, err := p.netMonitor.Poll()
	if err != nil {
		p.log.Warnf("netmon: poll failed: %v", err)
		return
	}
	if p.haveNetState && !cur.Changed(p.lastNetState) {
		return
	}
	p.haveNetState = true
	p.lastNetState = cur

	if !cur.Up || !cur.Running {
		p.log.Warnf("netmon: interface down, returning to LISTENING")
		p.transitionTo(ptp.PortStateListening)
		return
	}
	if err := p.xport.Refresh(); err != nil {
		p.log.Warnf("netmon: transport refresh failed: %v", err)
	}
}

func (p *Port) announceReceiptTimeout() time.Duration {
	return time.Duration(p.cfg.AnnounceReceiptTimeout) * p.cfg.LogAnnounceInterval.Duration()
}

func (p *Port) onAnnounceReceiptTimeout() {
	d := p.DS.Snapshot()
	switch d.Port.PortState {
	case ptp.PortStateListening:
		if d.Default.ClockQuality.ClockClass < 128 {
			p.transitionTo(ptp.PortStatePreMaster)
			return
		}
		p.timers.Get(timer.AnnounceReceipt).Start(p.announceReceiptTimeout())
	case ptp.PortStateSlave, ptp.PortStateUncalibrated, ptp.PortStatePassive:
		p.Foreign.Clear()
		p.transitionTo(ptp.PortStateListening)
	}
}

func (p *Port) onAnnounceIntervalTimer() {
	switch p.DS.Snapshot().Port.PortState {
	case ptp.PortStatePreMaster:
		p.transitionTo(ptp.PortStateMaster)
	case ptp.PortStateMaster:
		p.sendAnnounce()
	}
}

func (p *Port) onSyncReceiptTimeout() {
	switch p.DS.Snapshot().Port.PortState {
	case ptp.PortStateSlave, ptp.PortStateUncalibrated:
		p.Foreign.Clear()
		p.transitionTo(ptp.PortStateListening)
	}
}

// runBMCA re-evaluates the best master clock algorithm at most once per
// main-loop turn, per IEEE 1588-2008 §9.3's state decision algorithm.
func (p *Port) runBMCA(now time.Time) {
	d := p.DS.Snapshot()
	switch d.Port.PortState {
	case ptp.PortStateFaulty, ptp.PortStateDisabled, ptp.PortStateInitializing:
		return
	}

	p.Foreign.Expire(now, p.announceReceiptTimeout())

	decision := bmca.Run(now, p.Foreign, p.DS, p.cfg.LocalPreferences, d.Parent.ParentPortIdentity)

	if decision.ParentChanged && decision.Best != nil {
		p.onParentChanged(decision.Best)
	}

	cur := p.DS.Snapshot().Port.PortState
	if decision.RecommendedState == cur {
		return
	}
	// A still-announcing PRE_MASTER shouldn't be yanked back to LISTENING
	// by a transient re-evaluation with no foreign records; the
	// ANNOUNCE_RECEIPT/qualification timers own that transition.
	if cur == ptp.PortStatePreMaster && decision.RecommendedState == ptp.PortStateListening {
		return
	}
	p.transitionTo(decision.RecommendedState)
}

func (p *Port) onParentChanged(best *foreignmaster.Record) {
	p.Counters.MasterChanges++
	p.pending = make(map[uint16]*pendingSync)
	p.pendingOrder = nil
	p.haveSyncSample = false
	p.haveDelaySample = false

	p.DS.Update(func(d *datasets.DataSets) {
		d.Parent.ParentPortIdentity = best.SourcePortIdentity
		d.Parent.GrandmasterIdentity = best.Announce.GrandmasterIdentity
		d.Parent.GrandmasterClockQuality = best.Announce.GrandmasterClockQuality
		d.Parent.GrandmasterPriority1 = best.Announce.GrandmasterPriority1
		d.Parent.GrandmasterPriority2 = best.Announce.GrandmasterPriority2
		d.Current.StepsRemoved = best.Announce.StepsRemoved + 1
		d.TimeProperties.CurrentUTCOffset = best.Announce.CurrentUTCOffset
		d.TimeProperties.TimeSource = best.Announce.TimeSource
	})
}

// destForParent returns where to address unicast messages bound for the
// current parent: the configured peer address in unicast/hybrid mode, or
// the PTP multicast group otherwise.
func (p *Port) destForParent() net.IP {
	if p.cfg.TransportMode != transport.ModeMulticast {
		parent := p.DS.Snapshot().Parent.ParentPortIdentity
		for _, peer := range p.cfg.UnicastMasters {
			if peer.Port == parent {
				return net.ParseIP(peer.Address)
			}
		}
	}
	return net.ParseIP(transport.DefaultMulticastIPv4)
}

func (p *Port) nextSeq(mt ptp.MessageType) uint16 {
	s := p.seq[mt]
	p.seq[mt] = s + 1
	return s
}

func (p *Port) logIntervalFor(mt ptp.MessageType) ptp.LogInterval {
	switch mt {
	case ptp.MessageAnnounce:
		return p.cfg.LogAnnounceInterval
	case ptp.MessageSync, ptp.MessageFollowUp:
		return p.cfg.LogSyncInterval
	case ptp.MessageDelayReq:
		return p.cfg.LogMinDelayReqInterval
	case ptp.MessagePDelayReq, ptp.MessagePDelayResp, ptp.MessagePDelayRespFollowUp:
		return p.cfg.LogMinPdelayReqInterval
	default:
		return ptp.MgmtLogMessageInterval
	}
}

func (p *Port) header(msgType ptp.MessageType, seq uint16, flags uint16, bodyLen int) ptp.Header {
	d := p.DS.Snapshot()
	return ptp.Header{
		SdoIDAndMsgType:    ptp.NewSdoIDAndMsgType(msgType, 0),
		Version:            ptp.Version,
		MessageLength:      uint16(34 + bodyLen),
		DomainNumber:       d.Default.DomainNumber,
		FlagField:          flags,
		SourcePortIdentity: d.Port.PortIdentity,
		SequenceID:         seq,
		LogMessageInterval: p.logIntervalFor(msgType),
	}
}

func (p *Port) commonFlags(d datasets.DataSets) uint16 {
	flags := uint16(timePropertiesFlags(d.TimeProperties))
	if d.Default.TwoStepFlag {
		flags |= ptp.FlagTwoStep
	}
	if p.cfg.TransportMode != transport.ModeMulticast {
		flags |= ptp.FlagUnicast
	}
	return flags
}

func toInternal(t time.Time) ptp.TimeInternal {
	ti := ptp.TimeInternal{Seconds: t.Unix(), Nanoseconds: int32(t.Nanosecond())}
	ti.Normalize()
	return ti
}

func (p *Port) sendAnnounce() {
	d := p.DS.Snapshot()
	if d.Port.PortState != ptp.PortStateMaster {
		return
	}
	seq := p.nextSeq(ptp.MessageAnnounce)
	msg := &ptp.Announce{
		Header: p.header(ptp.MessageAnnounce, seq, p.commonFlags(d), 30),
		AnnounceBody: ptp.AnnounceBody{
			OriginTimestamp:         ptp.NewTimestamp(time.Now()),
			CurrentUTCOffset:        d.TimeProperties.CurrentUTCOffset,
			GrandmasterPriority1:    d.Default.Priority1,
			GrandmasterClockQuality: d.Default.ClockQuality,
			GrandmasterPriority2:    d.Default.Priority2,
			GrandmasterIdentity:     d.Default.ClockIdentity,
			TimeSource:              d.TimeProperties.TimeSource,
		},
	}
	b, err := ptp.Bytes(msg)
	if err != nil {
		return
	}
	p.sendGeneral(b)
}

func (p *Port) sendSync() {
	d := p.DS.Snapshot()
	if d.Port.PortState != ptp.PortStateMaster {
		return
	}
	seq := p.nextSeq(ptp.MessageSync)
	msg := &ptp.SyncDelayReq{Header: p.header(ptp.MessageSync, seq, p.commonFlags(d), 10)}
	b, err := ptp.Bytes(msg)
	if err != nil {
		return
	}
	txts, err := p.sendEvent(b)
	if err != nil || !d.Default.TwoStepFlag {
		return
	}
	fup := &ptp.FollowUp{
		Header:       p.header(ptp.MessageFollowUp, seq, 0, 10),
		FollowUpBody: ptp.FollowUpBody{PreciseOriginTimestamp: toInternal(txts).ToTimestamp()},
	}
	fb, err := ptp.Bytes(fup)
	if err != nil {
		return
	}
	p.sendGeneral(fb)
}

// sendGeneral delivers a general-port message to every master-mode
// destination: the multicast group, a static unicast slave list, or the
// table of currently granted unicast slaves, depending on transport mode.
func (p *Port) sendGeneral(b []byte) {
	if p.cfg.TransportMode == transport.ModeMulticast {
		_ = p.xport.SendGeneralTo(net.ParseIP(transport.DefaultMulticastIPv4), b)
		return
	}
	if p.cfg.UnicastNegotiation {
		p.granted.ForEach(func(_ ptp.PortIdentity, addr string, gd *grant.Data) {
			if gd.State == grant.StateGranted || gd.State == grant.StateExpiring {
				_ = p.xport.SendGeneralTo(net.ParseIP(addr), b)
			}
		})
		return
	}
	for _, peer := range p.cfg.UnicastSlaves {
		_ = p.xport.SendGeneralTo(net.ParseIP(peer.Address), b)
	}
}

// sendEvent is sendGeneral's event-socket counterpart, returning the last
// successful tx timestamp. Two-step ports share one Follow_Up origin
// timestamp across every destination rather than timestamping each
// unicast send separately.
func (p *Port) sendEvent(b []byte) (time.Time, error) {
	if p.cfg.TransportMode == transport.ModeMulticast {
		return p.xport.SendEventTo(net.ParseIP(transport.DefaultMulticastIPv4), b)
	}
	var last time.Time
	var lastErr error
	send := func(ip net.IP) {
		ts, err := p.xport.SendEventTo(ip, b)
		if err != nil {
			lastErr = err
			return
		}
		last = ts
	}
	if p.cfg.UnicastNegotiation {
		p.granted.ForEach(func(_ ptp.PortIdentity, addr string, gd *grant.Data) {
			if gd.State == grant.StateGranted || gd.State == grant.StateExpiring {
				send(net.ParseIP(addr))
			}
		})
		return last, lastErr
	}
	for _, peer := range p.cfg.UnicastSlaves {
		send(net.ParseIP(peer.Address))
	}
	return last, lastErr
}
