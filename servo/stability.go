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

package servo

import (
	"math"
	"time"

	"github.com/eclesh/welford"
)

// StabilityState classifies how well-disciplined the local clock
// currently is.
type StabilityState uint8

// Stability states.
const (
	StabilityFreerun StabilityState = iota
	StabilityTracking
	StabilityLocked
	StabilityHoldover
)

func (s StabilityState) String() string {
	switch s {
	case StabilityFreerun:
		return "FREERUN"
	case StabilityTracking:
		return "TRACKING"
	case StabilityLocked:
		return "LOCKED"
	case StabilityHoldover:
		return "HOLDOVER"
	}
	return "UNKNOWN"
}

// StabilityConfig tunes the Allan-deviation-style stability monitor.
type StabilityConfig struct {
	// AdevPeriod is the window over which the Allan deviation estimate is
	// accumulated before a state transition is considered.
	AdevPeriod time.Duration
	// StableAdev/UnstableAdev bound the hysteresis band between TRACKING
	// and LOCKED.
	StableAdev   float64
	UnstableAdev float64
	// LockedAge is how long without an update before LOCKED/TRACKING
	// degrades to HOLDOVER.
	LockedAge time.Duration
	// HoldoverAge is how long in HOLDOVER before giving up and declaring
	// FREERUN.
	HoldoverAge time.Duration
	// CalibrationDelay must elapse (since entering TRACKING) before LOCKED
	// can be reached.
	CalibrationDelay time.Duration
}

// DefaultStabilityConfig returns reasonable defaults in line with ptpd's
// clock stability detection.
func DefaultStabilityConfig() StabilityConfig {
	return StabilityConfig{
		AdevPeriod:       10 * time.Second,
		StableAdev:       50.0,
		UnstableAdev:     200.0,
		LockedAge:        30 * time.Second,
		HoldoverAge:      60 * time.Second,
		CalibrationDelay: 30 * time.Second,
	}
}

// StabilityMonitor tracks frequency-adjustment samples and classifies the
// clock's stability using a two-sample (Allan) variance estimator: the
// variance of successive differences of the adjustment series, which for
// a stationary frequency signal is proportional to the classic Allan
// deviation.
type StabilityMonitor struct {
	cfg StabilityConfig

	state       StabilityState
	windowStart time.Time
	diffs       *welford.Stats
	lastFreq    float64
	haveLast    bool

	lastUpdate    time.Time
	trackingSince time.Time
}

// NewStabilityMonitor creates a monitor in FREERUN.
func NewStabilityMonitor(cfg StabilityConfig) *StabilityMonitor {
	return &StabilityMonitor{
		cfg:   cfg,
		state: StabilityFreerun,
		diffs: welford.New(),
	}
}

// State returns the current classification.
func (m *StabilityMonitor) State() StabilityState { return m.state }

// Update feeds a new frequency adjustment (ppb) applied at time now.
func (m *StabilityMonitor) Update(now time.Time, freqPPB float64) StabilityState {
	m.lastUpdate = now

	if m.state == StabilityFreerun {
		m.state = StabilityTracking
		m.trackingSince = now
		m.windowStart = now
		m.diffs = welford.New()
		m.haveLast = false
	}
	if m.state == StabilityHoldover {
		m.state = StabilityTracking
		m.trackingSince = now
		m.windowStart = now
		m.diffs = welford.New()
		m.haveLast = false
	}

	if m.haveLast {
		m.diffs.Add(freqPPB - m.lastFreq)
	}
	m.lastFreq = freqPPB
	m.haveLast = true

	if now.Sub(m.windowStart) >= m.cfg.AdevPeriod {
		adev := allanFromDiffVariance(m.diffs.Variance())
		switch m.state {
		case StabilityTracking:
			if adev < m.cfg.StableAdev && now.Sub(m.trackingSince) >= m.cfg.CalibrationDelay {
				m.state = StabilityLocked
			}
		case StabilityLocked:
			if adev > m.cfg.UnstableAdev {
				m.state = StabilityTracking
				m.trackingSince = now
			}
		}
		m.windowStart = now
		m.diffs = welford.New()
	}

	return m.state
}

// Tick advances the monitor with no new sample, used to detect holdover
// purely from elapsed wall-clock time (e.g. the servo stalled).
func (m *StabilityMonitor) Tick(now time.Time) StabilityState {
	if m.state == StabilityFreerun {
		return m.state
	}
	age := now.Sub(m.lastUpdate)
	switch m.state {
	case StabilityTracking, StabilityLocked:
		if age >= m.cfg.LockedAge {
			m.state = StabilityHoldover
		}
	case StabilityHoldover:
		if age >= m.cfg.LockedAge+m.cfg.HoldoverAge {
			m.state = StabilityFreerun
		}
	}
	return m.state
}

// allanFromDiffVariance converts the variance of successive differences
// into an Allan-deviation-like scalar: sigma = sqrt(var/2).
func allanFromDiffVariance(variance float64) float64 {
	return math.Sqrt(variance / 2.0)
}
