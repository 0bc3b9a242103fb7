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

// Package engine is the port state machine and protocol engine: one
// goroutine per port runs a select loop (Run) over an inbound message
// channel and the port's named timers, driving the data sets, the
// BMCA, the unicast grant table and the clock servo.
package engine

import (
	"time"

	"github.com/ptpdaemon/ptpd/ptp/bmca"
	"github.com/ptpdaemon/ptpd/ptp/datasets"
	ptp "github.com/ptpdaemon/ptpd/ptp/protocol"
	"github.com/ptpdaemon/ptpd/ptp/transport"
	"github.com/ptpdaemon/ptpd/servo"
)

// UnicastPeer is one statically configured unicast destination: a
// master a slave-mode port requests time from, or a slave a
// master-mode port is willing to serve.
type UnicastPeer struct {
	Address string
	Port    ptp.PortIdentity
}

// Config is everything a Port needs to run that isn't runtime state:
// the operator-chosen knobs from the daemon config file.
type Config struct {
	ClockIdentity ptp.ClockIdentity
	Domain        uint8
	Priority1     uint8
	Priority2     uint8
	SlaveOnly     bool

	DelayMechanism datasets.DelayMechanism

	LogAnnounceInterval     ptp.LogInterval
	AnnounceReceiptTimeout  uint8
	LogSyncInterval         ptp.LogInterval
	LogMinDelayReqInterval  ptp.LogInterval
	LogMinPdelayReqInterval ptp.LogInterval

	ForeignMasterCapacity  int
	ForeignMasterThreshold int

	// IngressLatency and EgressLatency are fixed cable/NIC delay
	// corrections applied to the offset-from-master computation, mirroring
	// ptpd's inboundLatency/outboundLatency options.
	IngressLatency time.Duration
	EgressLatency  time.Duration

	// OfmCorrection is a fixed operator-supplied adjustment added to every
	// offset-from-master sample, e.g. to compensate for a known asymmetry
	// the path delay measurement can't see.
	OfmCorrection time.Duration

	// LeapSecondPausePeriod is how long the clock is held at its stepped
	// value around a leap second before resuming normal servo operation.
	LeapSecondPausePeriod time.Duration

	TransportMode      transport.Mode
	UnicastNegotiation bool
	UnicastMasters     []UnicastPeer // used when SlaveOnly or hybrid
	UnicastSlaves      []UnicastPeer // static grant-free unicast targets on the master side

	LocalPreferences bmca.LocalPreferences

	MaxFreqPPB float64

	ServoCfg       *servo.PiServoCfg
	FilterCfg      *servo.PiServoFilterCfg
	OutlierCfg     servo.OutlierFilterConfig
	StabilityCfg   servo.StabilityConfig
	StepPolicyCfg  servo.StepPolicyConfig

	// GrantTableSize is the number of hash buckets the unicast grant
	// table is allocated with.
	GrantTableSize int

	// NetRefreshInterval governs how often MASTER_NETREFRESH polls link
	// state, when a NetMonitor is attached via Port.SetNetMonitor.
	NetRefreshInterval time.Duration
}

// announceQualificationWindow is the qualification window handed to the
// foreign-master table, 4x the announce interval per IEEE 1588-2008
// §9.3.2.5. The table does not age Announce counts by it (see
// foreignmaster.Record.Qualified).
func (c Config) announceQualificationWindow() time.Duration {
	return 4 * c.LogAnnounceInterval.Duration()
}

// DefaultConfig returns a Config with the daemon's stock defaults -
// a two-step ordinary clock, E2E delay mechanism, unicast negotiation
// off.
func DefaultConfig(id ptp.ClockIdentity) Config {
	return Config{
		ClockIdentity:           id,
		Domain:                  0,
		Priority1:               128,
		Priority2:               128,
		DelayMechanism:          datasets.DelayMechanismE2E,
		LogAnnounceInterval:     1,
		AnnounceReceiptTimeout:  3,
		LogSyncInterval:         0,
		LogMinDelayReqInterval:  0,
		LogMinPdelayReqInterval: 0,
		ForeignMasterCapacity:   foreignMasterCapacityDefault,
		ForeignMasterThreshold:  foreignMasterThresholdDefault,
		TransportMode:           transport.ModeMulticast,
		MaxFreqPPB:              500000,
		ServoCfg:                servo.DefaultPiServoCfg(),
		FilterCfg:               servo.DefaultPiServoFilterCfg(),
		OutlierCfg:              servo.DefaultOutlierFilterConfig(),
		StabilityCfg:            servo.DefaultStabilityConfig(),
		StepPolicyCfg:           servo.DefaultStepPolicyConfig(),
		GrantTableSize:          64,
		LeapSecondPausePeriod:   defaultLeapSecondPausePeriod,
	}
}

// defaultLeapSecondPausePeriod mirrors ptpd's default leapSecondPausePeriod
// of one second either side of the leap event.
const defaultLeapSecondPausePeriod = time.Second

const (
	foreignMasterCapacityDefault  = 5
	foreignMasterThresholdDefault = 2
)
