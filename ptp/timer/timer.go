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

// Package timer provides the engine's named timer set. Each timer wraps a
// time.Timer (one-shot) or time.Ticker (periodic) behind a small interface
// so the single engine goroutine can select over all of them uniformly.
package timer

import (
	"fmt"
	"time"
)

// ID names one of the engine's timers. The set is closed: every timer the
// protocol engine arms is named here, matching ptpd's event timer indices.
type ID int

// Timer IDs.
const (
	PDelayReq ID = iota
	DelayReq
	Sync
	AnnounceReceipt
	AnnounceInterval
	SyncReceipt
	DelayReceipt
	UnicastGrant
	OperatorMessages
	LeapSecondPause
	StatusFileUpdate
	PanicMode
	PeriodicInfo
	StatisticsUpdate
	AlarmUpdate
	MasterNetRefresh
	CalibrationDelay
	ClockUpdate
	TimingDomainUpdate

	numTimers
)

var idNames = map[ID]string{
	PDelayReq:          "PDELAYREQ",
	DelayReq:           "DELAYREQ",
	Sync:               "SYNC",
	AnnounceReceipt:    "ANNOUNCE_RECEIPT",
	AnnounceInterval:   "ANNOUNCE_INTERVAL",
	SyncReceipt:        "SYNC_RECEIPT",
	DelayReceipt:       "DELAY_RECEIPT",
	UnicastGrant:       "UNICAST_GRANT",
	OperatorMessages:   "OPERATOR_MESSAGES",
	LeapSecondPause:    "LEAP_SECOND_PAUSE",
	StatusFileUpdate:   "STATUSFILE_UPDATE",
	PanicMode:          "PANIC_MODE",
	PeriodicInfo:       "PERIODIC_INFO",
	StatisticsUpdate:   "STATISTICS_UPDATE",
	AlarmUpdate:        "ALARM_UPDATE",
	MasterNetRefresh:   "MASTER_NETREFRESH",
	CalibrationDelay:   "CALIBRATION_DELAY",
	ClockUpdate:        "CLOCK_UPDATE",
	TimingDomainUpdate: "TIMINGDOMAIN_UPDATE",
}

func (id ID) String() string {
	if n, ok := idNames[id]; ok {
		return n
	}
	return fmt.Sprintf("ID(%d)", int(id))
}

// floor and ceiling on any arm interval, bounding it to a sane range (a
// malicious/buggy unicast grant must not be able to arm an
// effectively-infinite timer).
const (
	floor   = 250 * time.Microsecond
	ceiling = 24 * time.Hour
)

func clamp(d time.Duration) time.Duration {
	if d < floor {
		return floor
	}
	if d > ceiling {
		return ceiling
	}
	return d
}

// Timer is one named, edge-triggered timer. Expired() consumes the edge:
// once it returns true, it returns false until the timer fires again.
type Timer struct {
	id       ID
	periodic bool
	t        *time.Timer
	tk       *time.Ticker
	running  bool
	expired  bool
}

// New creates an unarmed timer for id.
func New(id ID) *Timer {
	return &Timer{id: id}
}

// ID returns the timer's identity.
func (t *Timer) ID() ID { return t.id }

// Start arms the timer as one-shot, firing once after interval.
func (t *Timer) Start(interval time.Duration) {
	t.stopLocked()
	t.periodic = false
	t.t = time.NewTimer(clamp(interval))
	t.running = true
	t.expired = false
}

// StartPeriodic arms the timer to fire repeatedly every interval.
func (t *Timer) StartPeriodic(interval time.Duration) {
	t.stopLocked()
	t.periodic = true
	t.tk = time.NewTicker(clamp(interval))
	t.running = true
	t.expired = false
}

// Stop disarms the timer.
func (t *Timer) Stop() {
	t.stopLocked()
	t.running = false
	t.expired = false
}

func (t *Timer) stopLocked() {
	if t.t != nil {
		t.t.Stop()
		t.t = nil
	}
	if t.tk != nil {
		t.tk.Stop()
		t.tk = nil
	}
}

// Running reports whether the timer is currently armed.
func (t *Timer) Running() bool { return t.running }

// C returns the underlying channel to select on, or nil if unarmed. The
// engine's select loop treats a nil channel as "never ready", which is
// exactly what Go's select does with a nil case.
func (t *Timer) C() <-chan time.Time {
	if t.t != nil {
		return t.t.C
	}
	if t.tk != nil {
		return t.tk.C
	}
	return nil
}

// Fire marks the edge consumed by the select loop after receiving from C().
// For one-shot timers this also disarms.
func (t *Timer) Fire() {
	t.expired = true
	if !t.periodic {
		t.running = false
		t.t = nil
	}
}

// Expired consumes and returns the fired edge.
func (t *Timer) Expired() bool {
	e := t.expired
	t.expired = false
	return e
}

// Set is the full collection of named timers for one port.
type Set struct {
	timers [numTimers]*Timer
}

// NewSet allocates a Set with every ID present but unarmed.
func NewSet() *Set {
	s := &Set{}
	for id := ID(0); id < numTimers; id++ {
		s.timers[id] = New(id)
	}
	return s
}

// Get returns the named timer.
func (s *Set) Get(id ID) *Timer { return s.timers[id] }

// StopAll disarms every timer, used on shutdown and FAULTY/DISABLED entry.
func (s *Set) StopAll() {
	for _, t := range s.timers {
		t.Stop()
	}
}
