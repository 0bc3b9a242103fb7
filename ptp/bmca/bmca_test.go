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

package bmca

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ptpdaemon/ptpd/ptp/datasets"
	"github.com/ptpdaemon/ptpd/ptp/foreignmaster"
	ptp "github.com/ptpdaemon/ptpd/ptp/protocol"
)

func announceBody(gm uint64, prio1 uint8, class ptp.ClockClass, stepsRemoved uint16) ptp.AnnounceBody {
	return ptp.AnnounceBody{
		GrandmasterIdentity:     ptp.ClockIdentity(gm),
		GrandmasterPriority1:    prio1,
		GrandmasterPriority2:    128,
		GrandmasterClockQuality: ptp.ClockQuality{ClockClass: class, ClockAccuracy: ptp.ClockAccuracyUnknown},
		StepsRemoved:            stepsRemoved,
	}
}

// TestBMCAMasterSelection covers two Announces differing only in GM
// identity and priority1, where the lower priority1 wins.
func TestBMCAMasterSelection(t *testing.T) {
	tab := foreignmaster.New(5, 1, 4*time.Second)
	now := time.Unix(100, 0)

	spiA := ptp.PortIdentity{ClockIdentity: 0xAA00000000000001, PortNumber: 1}
	spiB := ptp.PortIdentity{ClockIdentity: 0xAA00000000000002, PortNumber: 1}

	tab.Insert(now, ptp.Header{SourcePortIdentity: spiA}, announceBody(0xAA01, 128, 248, 1), 0)
	tab.Insert(now, ptp.Header{SourcePortIdentity: spiB}, announceBody(0xAA02, 127, 248, 1), 0)

	ds := datasets.New(ptp.ClockIdentity(0xFF), 128, 128, 0, true)
	decision := Run(now, tab, ds, nil, ptp.PortIdentity{})

	require.NotNil(t, decision.Best)
	require.Equal(t, spiB, decision.Best.SourcePortIdentity)
}

func TestSlaveOnlyAlwaysSlaveOrUncalibrated(t *testing.T) {
	tab := foreignmaster.New(5, 1, 4*time.Second)
	now := time.Unix(100, 0)
	spi := ptp.PortIdentity{ClockIdentity: 1, PortNumber: 1}
	tab.Insert(now, ptp.Header{SourcePortIdentity: spi}, announceBody(1, 128, 248, 0), 0)

	ds := datasets.New(ptp.ClockIdentity(2), 128, 128, 0, true)
	ds.SetPortState(ptp.PortStateListening)
	decision := Run(now, tab, ds, nil, ptp.PortIdentity{})
	require.Equal(t, ptp.PortStateUncalibrated, decision.RecommendedState)

	ds.SetPortState(ptp.PortStateSlave)
	decision = Run(now, tab, ds, nil, spi)
	require.Equal(t, ptp.PortStateSlave, decision.RecommendedState)
	require.False(t, decision.ParentChanged)
}

func TestNoQualifiedRecordsWhileListeningStaysListening(t *testing.T) {
	tab := foreignmaster.New(5, 2, 4*time.Second)
	ds := datasets.New(ptp.ClockIdentity(1), 128, 128, 0, false)
	ds.SetPortState(ptp.PortStateListening)

	decision := Run(time.Unix(0, 0), tab, ds, nil, ptp.PortIdentity{})
	require.Equal(t, ptp.PortStateListening, decision.RecommendedState)
	require.Nil(t, decision.Best)
}

func TestMasterCapableBecomesMasterWhenItBeatsForeign(t *testing.T) {
	tab := foreignmaster.New(5, 1, 4*time.Second)
	now := time.Unix(100, 0)
	spi := ptp.PortIdentity{ClockIdentity: 1, PortNumber: 1}
	// worse foreign clock: higher (worse) priority1
	tab.Insert(now, ptp.Header{SourcePortIdentity: spi}, announceBody(1, 200, 248, 0), 0)

	ds := datasets.New(ptp.ClockIdentity(2), 100, 128, 0, false)
	ds.Update(func(d *datasets.DataSets) { d.Default.ClockQuality.ClockClass = 6 })
	decision := Run(now, tab, ds, nil, ptp.PortIdentity{})
	require.Equal(t, ptp.PortStateMaster, decision.RecommendedState)
}

func TestMasterOnlyClockGoesPassiveWhenBeaten(t *testing.T) {
	tab := foreignmaster.New(5, 1, 4*time.Second)
	now := time.Unix(100, 0)
	spi := ptp.PortIdentity{ClockIdentity: 1, PortNumber: 1}
	// better foreign clock: lower (better) priority1
	tab.Insert(now, ptp.Header{SourcePortIdentity: spi}, announceBody(1, 10, 6, 0), 0)

	ds := datasets.New(ptp.ClockIdentity(2), 200, 128, 0, false)
	ds.Update(func(d *datasets.DataSets) { d.Default.ClockQuality.ClockClass = 6 })
	decision := Run(now, tab, ds, nil, ptp.PortIdentity{})
	require.Equal(t, ptp.PortStatePassive, decision.RecommendedState)
}

func TestParentChangedWhenBestSourceDiffersFromCurrent(t *testing.T) {
	tab := foreignmaster.New(5, 1, 4*time.Second)
	now := time.Unix(100, 0)
	spi := ptp.PortIdentity{ClockIdentity: 1, PortNumber: 1}
	tab.Insert(now, ptp.Header{SourcePortIdentity: spi}, announceBody(1, 100, 248, 0), 0)

	ds := datasets.New(ptp.ClockIdentity(2), 128, 128, 0, true)
	decision := Run(now, tab, ds, nil, ptp.PortIdentity{ClockIdentity: 99})
	require.True(t, decision.ParentChanged)
}

func TestLocalPreferenceOverridesPriority1(t *testing.T) {
	tab := foreignmaster.New(5, 1, 4*time.Second)
	now := time.Unix(100, 0)
	spiA := ptp.PortIdentity{ClockIdentity: 0xA, PortNumber: 1}
	spiB := ptp.PortIdentity{ClockIdentity: 0xB, PortNumber: 1}

	// A has the better priority1, but B has the better (lower) local preference.
	tab.Insert(now, ptp.Header{SourcePortIdentity: spiA}, announceBody(0xA, 50, 248, 0), 0)
	tab.Insert(now, ptp.Header{SourcePortIdentity: spiB}, announceBody(0xB, 200, 248, 0), 0)

	prios := LocalPreferences{ptp.ClockIdentity(0xA): 5, ptp.ClockIdentity(0xB): 1}
	ds := datasets.New(ptp.ClockIdentity(0xFF), 128, 128, 0, true)
	decision := Run(now, tab, ds, prios, ptp.PortIdentity{})
	require.Equal(t, spiB, decision.Best.SourcePortIdentity)
}
