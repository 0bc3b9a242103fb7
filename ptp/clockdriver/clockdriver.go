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

// Package clockdriver generalizes the clock-control abstraction the
// engine disciplines (IEEE 1588-2008 clock servo target): get/set time,
// saturating frequency adjustment, and a read-only, free-running
// variant for dry-run deployments.
package clockdriver

import (
	"fmt"
	"time"

	"github.com/ptpdaemon/ptpd/clock"
	"github.com/ptpdaemon/ptpd/phc"
	ptp "github.com/ptpdaemon/ptpd/ptp/protocol"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// ClockDriver is the full capability set the engine's servo consumes.
type ClockDriver interface {
	// GetTime returns the clock's current reading.
	GetTime() (ptp.TimeInternal, error)
	// SetTime steps the clock to an absolute time.
	SetTime(t ptp.TimeInternal) error
	// AdjustFrequency saturates at +-MaxAdjustmentPPB.
	AdjustFrequency(ppb float64) error
	// MaxAdjustmentPPB returns the usable adjustment range.
	MaxAdjustmentPPB() (float64, error)
	// UpdateStatus refreshes any cached driver-side status (link state,
	// PHC capabilities); a no-op for drivers that need none.
	UpdateStatus() error
	// StepSupported reports whether SetTime is meaningful for this
	// driver.
	StepSupported() bool
	// ReadOnly reports whether Set/AdjustFrequency must never be called;
	// the driver is monitored only.
	ReadOnly() bool
}

// saturate clamps ppb to the driver's usable range.
func saturate(ppb, max float64) float64 {
	if max <= 0 {
		return ppb
	}
	if ppb > max {
		return max
	}
	if ppb < -max {
		return -max
	}
	return ppb
}

// PHCDriver disciplines a PTP Hardware Clock device.
type PHCDriver struct {
	devicePath string
	iface      string
	readOnly   bool
}

// NewPHCDriver builds a PHCDriver for the PHC backing iface.
func NewPHCDriver(iface string, readOnly bool) (*PHCDriver, error) {
	device, err := phc.IfaceToPHCDevice(iface)
	if err != nil {
		return nil, fmt.Errorf("failed to map iface to PHC device: %w", err)
	}
	return &PHCDriver{devicePath: device, iface: iface, readOnly: readOnly}, nil
}

// GetTime reads the PHC's current time.
func (p *PHCDriver) GetTime() (ptp.TimeInternal, error) {
	t, err := phc.Time(p.iface, phc.MethodIoctlSysOffsetExtended)
	if err != nil {
		return ptp.TimeInternal{}, err
	}
	return ptp.NewTimeInternal(time.Duration(t.UnixNano())), nil
}

// SetTime steps the PHC to t.
func (p *PHCDriver) SetTime(t ptp.TimeInternal) error {
	if p.readOnly {
		return fmt.Errorf("clockdriver: PHC %s is read-only", p.devicePath)
	}
	now, err := p.GetTime()
	if err != nil {
		return err
	}
	return phc.ClockStep(p.devicePath, t.Sub(now).Duration())
}

// AdjustFrequency applies a saturating frequency adjustment.
func (p *PHCDriver) AdjustFrequency(ppb float64) error {
	if p.readOnly {
		return nil
	}
	max, err := p.MaxAdjustmentPPB()
	if err != nil {
		max = 0
	}
	return phc.ClockAdjFreq(p.devicePath, saturate(ppb, max))
}

// MaxAdjustmentPPB returns the PHC's maximum supported adjustment.
func (p *PHCDriver) MaxAdjustmentPPB() (float64, error) {
	return phc.MaxFreqAdjPPBFromDevice(p.devicePath)
}

// UpdateStatus is a no-op for PHC devices; capability refresh happens on
// construction.
func (p *PHCDriver) UpdateStatus() error { return nil }

// StepSupported is always true for a PHC.
func (p *PHCDriver) StepSupported() bool { return true }

// ReadOnly reports the configured read-only flag.
func (p *PHCDriver) ReadOnly() bool { return p.readOnly }

// SysDriver disciplines CLOCK_REALTIME via adjtimex.
type SysDriver struct {
	readOnly bool
}

// NewSysDriver builds a SysDriver.
func NewSysDriver(readOnly bool) *SysDriver {
	return &SysDriver{readOnly: readOnly}
}

// GetTime reads CLOCK_REALTIME.
func (s *SysDriver) GetTime() (ptp.TimeInternal, error) {
	return ptp.NewTimeInternal(time.Duration(time.Now().UnixNano())), nil
}

// SetTime steps CLOCK_REALTIME to t.
func (s *SysDriver) SetTime(t ptp.TimeInternal) error {
	if s.readOnly {
		return fmt.Errorf("clockdriver: system clock is read-only")
	}
	now, err := s.GetTime()
	if err != nil {
		return err
	}
	state, err := clock.Step(unix.CLOCK_REALTIME, t.Sub(now).Duration())
	if err == nil && state != unix.TIME_OK {
		log.Warningf("clock state %d is not TIME_OK after stepping", state)
	}
	return err
}

// AdjustFrequency applies a saturating frequency adjustment.
func (s *SysDriver) AdjustFrequency(ppb float64) error {
	if s.readOnly {
		return nil
	}
	max, err := s.MaxAdjustmentPPB()
	if err != nil {
		max = 0
	}
	state, err := clock.AdjFreqPPB(unix.CLOCK_REALTIME, saturate(ppb, max))
	if err == nil && state != unix.TIME_OK {
		log.Warningf("clock state %d is not TIME_OK after adjusting frequency", state)
	}
	return err
}

// MaxAdjustmentPPB returns the kernel-advertised maximum adjustment.
func (s *SysDriver) MaxAdjustmentPPB() (float64, error) {
	freqPPB, state, err := clock.MaxFreqPPB(unix.CLOCK_REALTIME)
	if err == nil && state != unix.TIME_OK {
		log.Warningf("clock state %d is not TIME_OK after getting max frequency adjustment", state)
	}
	return freqPPB, err
}

// UpdateStatus marks the kernel clock as synchronized (TIME_OK).
func (s *SysDriver) UpdateStatus() error {
	if s.readOnly {
		return nil
	}
	return clock.SetSync()
}

// StepSupported is always true for the system clock.
func (s *SysDriver) StepSupported() bool { return true }

// ReadOnly reports the configured read-only flag.
func (s *SysDriver) ReadOnly() bool { return s.readOnly }

// FreeRunningDriver is a dry-run/observation-only driver: reads return
// wall-clock time, all writes are no-ops.
type FreeRunningDriver struct{}

// GetTime returns the wall clock.
func (f *FreeRunningDriver) GetTime() (ptp.TimeInternal, error) {
	return ptp.NewTimeInternal(time.Duration(time.Now().UnixNano())), nil
}

// SetTime is a no-op.
func (f *FreeRunningDriver) SetTime(ptp.TimeInternal) error { return nil }

// AdjustFrequency is a no-op.
func (f *FreeRunningDriver) AdjustFrequency(float64) error { return nil }

// MaxAdjustmentPPB reports no limit.
func (f *FreeRunningDriver) MaxAdjustmentPPB() (float64, error) { return 0, nil }

// UpdateStatus is a no-op.
func (f *FreeRunningDriver) UpdateStatus() error { return nil }

// StepSupported is always false: stepping would defeat the point of a
// free-running observation-only clock.
func (f *FreeRunningDriver) StepSupported() bool { return false }

// ReadOnly is always true.
func (f *FreeRunningDriver) ReadOnly() bool { return true }
