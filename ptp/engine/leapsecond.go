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
	"time"

	"github.com/ptpdaemon/ptpd/ptp/datasets"
	ptp "github.com/ptpdaemon/ptpd/ptp/protocol"
	"github.com/ptpdaemon/ptpd/ptp/timer"
)

// timePropertiesFlags builds the leap/UTC-offset octet of an outgoing
// message's FlagField from the local time properties data set.
func timePropertiesFlags(tp datasets.TimePropertiesDS) uint8 {
	var f uint8
	if tp.Leap61 {
		f |= uint8(ptp.FlagLeap61)
	}
	if tp.Leap59 {
		f |= uint8(ptp.FlagLeap59)
	}
	if tp.CurrentUTCOffsetValid {
		f |= uint8(ptp.FlagCurrentUtcOffsetValid)
	}
	if tp.PTPTimescale {
		f |= uint8(ptp.FlagPTPTimescale)
	}
	if tp.TimeTraceable {
		f |= uint8(ptp.FlagTimeTraceable)
	}
	if tp.FrequencyTraceable {
		f |= uint8(ptp.FlagFrequencyTraceable)
	}
	return f
}

// nextUTCMidnight returns the next UTC midnight strictly after now - the
// instant ptpd's secondsToMidnight() counts down to and the point at
// which a pending leap second is actually inserted or deleted.
func nextUTCMidnight(now time.Time) time.Time {
	u := now.UTC()
	midnight := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	return midnight.AddDate(0, 0, 1)
}

// leapSecondPausePeriod is how long the clock holds its stepped value
// around a leap event before the servo resumes, falling back to a
// one-second default if unconfigured.
func (p *Port) leapSecondPausePeriod() time.Duration {
	if p.cfg.LeapSecondPausePeriod > 0 {
		return p.cfg.LeapSecondPausePeriod
	}
	return defaultLeapSecondPausePeriod
}

// armLeapSecond mirrors an Announce's leap59/leap61 flags into the local
// time properties data set and, on a fresh arming, schedules the
// LEAP_SECOND_PAUSE timer for the next UTC midnight. A slave-mode port
// takes its leap indication from the master exactly as bmc.c's m1() does
// for a master entering the MASTER state from its own clockStatus.
func (p *Port) armLeapSecond(masterFlags uint16) {
	leap59 := masterFlags&uint16(ptp.FlagLeap59) != 0
	leap61 := masterFlags&uint16(ptp.FlagLeap61) != 0

	var wasArmed bool
	p.DS.Update(func(d *datasets.DataSets) {
		wasArmed = d.TimeProperties.Leap59 || d.TimeProperties.Leap61
		if leap61 {
			d.TimeProperties.SetLeap61(true)
		} else if leap59 {
			d.TimeProperties.SetLeap59(true)
		} else {
			d.TimeProperties.SetLeap59(false)
			d.TimeProperties.SetLeap61(false)
		}
	})

	if !leap59 && !leap61 {
		p.timers.Get(timer.LeapSecondPause).Stop()
		return
	}
	if wasArmed {
		return
	}

	p.pendingLeapAt = nextUTCMidnight(time.Now())
	if d := time.Until(p.pendingLeapAt); d > 0 {
		p.timers.Get(timer.LeapSecondPause).Start(d)
	}
}

// onLeapSecondPauseTimer fires at the scheduled leap instant: it steps
// the clock by the indicated +/-1s, suspends the servo for
// leapSecondPausePeriod while the step settles, updates currentUtcOffset
// and clears the leap59/leap61 flags now that the event has occurred.
func (p *Port) onLeapSecondPauseTimer() {
	d := p.DS.Snapshot()
	if !d.TimeProperties.Leap59 && !d.TimeProperties.Leap61 {
		return
	}

	step := time.Second
	if d.TimeProperties.Leap59 {
		step = -time.Second
	}

	if !p.clock.ReadOnly() && p.clock.StepSupported() {
		if cur, err := p.clock.GetTime(); err == nil {
			_ = p.clock.SetTime(cur.Add(ptp.NewTimeInternal(step)))
		}
	}

	p.leapPauseUntil = time.Now().Add(p.leapSecondPausePeriod())

	p.DS.Update(func(d *datasets.DataSets) {
		if d.TimeProperties.Leap61 {
			d.TimeProperties.CurrentUTCOffset++
		} else if d.TimeProperties.Leap59 {
			d.TimeProperties.CurrentUTCOffset--
		}
		d.TimeProperties.SetLeap59(false)
		d.TimeProperties.SetLeap61(false)
	})
}
