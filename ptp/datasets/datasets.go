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

// Package datasets holds the PTP data sets (IEEE 1588-2008 §8): the
// DefaultDS/CurrentDS/ParentDS/TimePropertiesDS/PortDS structures the
// engine owns and mutates as it runs the protocol.
package datasets

import (
	"fmt"
	"sync"

	ptp "github.com/ptpdaemon/ptpd/ptp/protocol"
)

// DefaultDS is the per-instance (ordinary/boundary clock) dataset, §8.2.1.
type DefaultDS struct {
	TwoStepFlag     bool
	ClockIdentity   ptp.ClockIdentity
	NumberPorts     uint16
	ClockQuality    ptp.ClockQuality
	Priority1       uint8
	Priority2       uint8
	DomainNumber    uint8
	SlaveOnly       bool
}

// CurrentDS holds the observed performance of the local clock relative to
// the grandmaster, §8.2.2.
type CurrentDS struct {
	StepsRemoved     uint16
	OffsetFromMaster ptp.TimeInternal
	MeanPathDelay    ptp.TimeInternal
}

// ParentDS identifies the clock's current master and tracks the
// grandmaster's advertised quality, §8.2.3.
type ParentDS struct {
	ParentPortIdentity                   ptp.PortIdentity
	ParentStats                          bool
	ObservedParentOffsetScaledLogVariance uint16
	ObservedParentClockPhaseChangeRate    uint32
	GrandmasterIdentity                  ptp.ClockIdentity
	GrandmasterClockQuality              ptp.ClockQuality
	GrandmasterPriority1                 uint8
	GrandmasterPriority2                 uint8
}

// TimePropertiesDS carries the timescale/leap-second properties
// advertised in Announce messages, §8.2.4. leap59 and leap61 are mutually
// exclusive by construction - SetLeap59/SetLeap61 enforce that.
type TimePropertiesDS struct {
	CurrentUTCOffset      int16
	CurrentUTCOffsetValid bool
	Leap59                bool
	Leap61                bool
	TimeTraceable         bool
	FrequencyTraceable    bool
	PTPTimescale          bool
	TimeSource            ptp.TimeSource
}

// SetLeap59 arms a negative leap second, clearing Leap61.
func (t *TimePropertiesDS) SetLeap59(v bool) {
	t.Leap59 = v
	if v {
		t.Leap61 = false
	}
}

// SetLeap61 arms a positive leap second, clearing Leap59.
func (t *TimePropertiesDS) SetLeap61(v bool) {
	t.Leap61 = v
	if v {
		t.Leap59 = false
	}
}

// DelayMechanism selects how a port measures path delay.
type DelayMechanism uint8

// Delay mechanisms, Table 56.
const (
	DelayMechanismE2E  DelayMechanism = 1
	DelayMechanismP2P  DelayMechanism = 2
	DelayMechanismDisabled DelayMechanism = 0xFE
)

// PortDS is the per-port dataset, §8.2.5.
type PortDS struct {
	PortIdentity            ptp.PortIdentity
	PortState               ptp.PortState
	LogMinDelayReqInterval  ptp.LogInterval
	PeerMeanPathDelay       ptp.TimeInternal
	LogAnnounceInterval     ptp.LogInterval
	AnnounceReceiptTimeout  uint8
	LogSyncInterval         ptp.LogInterval
	DelayMechanism          DelayMechanism
	LogMinPdelayReqInterval ptp.LogInterval
	VersionNumber           uint8
	UnicastNegotiation      bool
}

// DataSets bundles the full set of PTP data sets for one port/instance
// behind a mutex, since the management/stats snapshot path (§5) is the one
// place state is read from outside the engine goroutine.
type DataSets struct {
	mu sync.RWMutex

	Default        DefaultDS
	Current        CurrentDS
	Parent         ParentDS
	TimeProperties TimePropertiesDS
	Port           PortDS
}

// New builds a DataSets with IEEE-1588 defaults for an ordinary clock with
// the given identity.
func New(clockID ptp.ClockIdentity, priority1, priority2 uint8, domain uint8, slaveOnly bool) *DataSets {
	d := &DataSets{
		Default: DefaultDS{
			ClockIdentity: clockID,
			NumberPorts:   1,
			Priority1:     priority1,
			Priority2:     priority2,
			DomainNumber:  domain,
			SlaveOnly:     slaveOnly,
			ClockQuality: ptp.ClockQuality{
				ClockClass:              defaultClockClass(slaveOnly),
				ClockAccuracy:           ptp.ClockAccuracyUnknown,
				OffsetScaledLogVariance: 0xFFFF,
			},
		},
		Parent: ParentDS{
			GrandmasterIdentity: clockID,
		},
		TimeProperties: TimePropertiesDS{
			PTPTimescale: true,
			TimeSource:   ptp.TimeSourceInternalOscillator,
		},
		Port: PortDS{
			PortIdentity:           ptp.PortIdentity{ClockIdentity: clockID, PortNumber: 1},
			PortState:              ptp.PortStateInitializing,
			AnnounceReceiptTimeout: 3,
			DelayMechanism:         DelayMechanismE2E,
			VersionNumber:          2,
		},
	}
	return d
}

func defaultClockClass(slaveOnly bool) ptp.ClockClass {
	if slaveOnly {
		return 255
	}
	return 248
}

// Snapshot returns a copy of all datasets, safe for concurrent read by the
// stats/management collaborators outside the engine goroutine.
func (d *DataSets) Snapshot() DataSets {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return DataSets{
		Default:        d.Default,
		Current:        d.Current,
		Parent:         d.Parent,
		TimeProperties: d.TimeProperties,
		Port:           d.Port,
	}
}

// Lock acquires exclusive access for the engine to mutate the data sets
// in-loop. Unlock must be called when done; callers should prefer the
// Update helper for straight-line mutation.
func (d *DataSets) Lock()   { d.mu.Lock() }
func (d *DataSets) Unlock() { d.mu.Unlock() }

// Update runs fn with the write lock held.
func (d *DataSets) Update(fn func(*DataSets)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(d)
}

// SetPortState sets the port state under the write lock. It does not
// validate the transition.
func (d *DataSets) SetPortState(s ptp.PortState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Port.PortState = s
}

// String renders a short one-line summary of the data sets.
func (d *DataSets) String() string {
	s := d.Snapshot()
	return fmt.Sprintf("clockIdentity=%s state=%s gm=%s stepsRemoved=%d offset=%s delay=%s",
		s.Default.ClockIdentity, s.Port.PortState, s.Parent.GrandmasterIdentity,
		s.Current.StepsRemoved, s.Current.OffsetFromMaster.Duration(), s.Current.MeanPathDelay.Duration())
}
