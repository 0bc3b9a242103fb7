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

package grant

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	ptp "github.com/ptpdaemon/ptpd/ptp/protocol"
)

func peerID(n uint64) ptp.PortIdentity {
	return ptp.PortIdentity{ClockIdentity: ptp.ClockIdentity(n), PortNumber: 1}
}

func TestGetCreatesInStateNone(t *testing.T) {
	tab := NewTable(16)
	d := tab.Get(peerID(1), "10.0.0.1", ptp.MessageSync)
	require.Equal(t, StateNone, d.State)
	require.Equal(t, ptp.MessageSync, d.MessageType)
}

func TestGetIsIdempotentAcrossLookups(t *testing.T) {
	tab := NewTable(16)
	d1 := tab.Get(peerID(1), "10.0.0.1", ptp.MessageSync)
	d1.Requested(0, 30)
	d2 := tab.Get(peerID(1), "10.0.0.1", ptp.MessageSync)
	require.Same(t, d1, d2)
	require.Equal(t, StateRequested, d2.State)
}

func TestGrantedSetsTimeLeftWithGraceMargin(t *testing.T) {
	d := &Data{}
	d.Granted(0, 60)
	require.Equal(t, StateGranted, d.State)
	require.Equal(t, float64(60+GraceMarginSeconds), d.TimeLeft)
}

func TestTickMarksExpiringAtThreshold(t *testing.T) {
	d := &Data{}
	d.Granted(0, 1)
	require.Equal(t, StateGranted, d.State)
	for i := 0; i < int(1+GraceMarginSeconds-ExpiringThresholdSeconds); i++ {
		d.Tick()
	}
	require.Equal(t, StateExpiring, d.State)
	require.False(t, d.NeedsRenewal())

	for d.TimeLeft > 0 {
		d.Tick()
	}
	require.True(t, d.NeedsRenewal())
}

func TestDeniedDoublesIntervalUpToMaxThenWraps(t *testing.T) {
	d := &Data{LogInterval: 0}
	d.Requested(0, 30)
	d.Denied(0, 2)
	require.Equal(t, ptp.LogInterval(1), d.LogInterval)
	require.Equal(t, StateNone, d.State)

	d.LogInterval = 2
	d.Denied(0, 2)
	require.Equal(t, ptp.LogInterval(0), d.LogInterval)
}

func TestCancelAckTimeoutGivesUpAfterMaxRetries(t *testing.T) {
	d := &Data{}
	d.Cancel()
	require.Equal(t, StateCanceled, d.State)
	for i := 0; i < GrantCancelAckTimeout; i++ {
		require.False(t, d.CancelRetry())
	}
	require.True(t, d.CancelRetry())
}

func TestAcknowledgedClearsToNone(t *testing.T) {
	d := &Data{}
	d.Cancel()
	d.Acknowledged()
	require.Equal(t, StateNone, d.State)
}

func TestTableHandlesHashCollisionsViaLinearScan(t *testing.T) {
	tab := NewTable(1) // single bucket: every peer collides
	var ids []ptp.PortIdentity
	for i := uint64(1); i <= 8; i++ {
		id := peerID(i)
		ids = append(ids, id)
		tab.Get(id, fmt.Sprintf("10.0.0.%d", i), ptp.MessageAnnounce)
	}
	for _, id := range ids {
		d, ok := tab.Lookup(id, fmt.Sprintf("10.0.0.%d", id.ClockIdentity), ptp.MessageAnnounce)
		require.True(t, ok)
		require.NotNil(t, d)
	}
	require.Len(t, tab.Peers(), 8)
}

func TestRemoveDeletesPeer(t *testing.T) {
	tab := NewTable(16)
	tab.Get(peerID(1), "10.0.0.1", ptp.MessageSync)
	tab.Remove(peerID(1), "10.0.0.1")
	_, ok := tab.Lookup(peerID(1), "10.0.0.1", ptp.MessageSync)
	require.False(t, ok)
	require.Empty(t, tab.Peers())
}

func TestForEachVisitsEveryGrant(t *testing.T) {
	tab := NewTable(16)
	tab.Get(peerID(1), "10.0.0.1", ptp.MessageSync)
	tab.Get(peerID(1), "10.0.0.1", ptp.MessageAnnounce)
	tab.Get(peerID(2), "10.0.0.2", ptp.MessageSync)

	count := 0
	tab.ForEach(func(_ ptp.PortIdentity, _ string, _ *Data) { count++ })
	require.Equal(t, 3, count)
}
