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

package foreignmaster

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	ptp "github.com/ptpdaemon/ptpd/ptp/protocol"
)

func spi(n uint16) ptp.PortIdentity {
	return ptp.PortIdentity{ClockIdentity: ptp.ClockIdentity(0xAABBCCFFFE000000 | uint64(n)), PortNumber: 1}
}

func header(spi ptp.PortIdentity) ptp.Header {
	return ptp.Header{SourcePortIdentity: spi}
}

func TestInsertRefreshesExistingRecord(t *testing.T) {
	tab := New(5, 2, 4*time.Second)
	now := time.Unix(100, 0)

	r1 := tab.Insert(now, header(spi(1)), ptp.AnnounceBody{}, 0)
	require.NotNil(t, r1)
	require.Equal(t, 1, tab.Len())

	r2 := tab.Insert(now.Add(time.Second), header(spi(1)), ptp.AnnounceBody{}, 0)
	require.Same(t, r1, r2)
	require.Equal(t, 1, tab.Len())
}

func TestQualificationThresholdAndWindow(t *testing.T) {
	tab := New(5, DefaultThreshold, 4*time.Second)
	now := time.Unix(100, 0)

	tab.Insert(now, header(spi(1)), ptp.AnnounceBody{}, 0)
	require.Empty(t, tab.Qualified(now))

	tab.Insert(now.Add(time.Second), header(spi(1)), ptp.AnnounceBody{}, 0)
	require.Len(t, tab.Qualified(now.Add(time.Second)), 1)
}

func TestOverflowEvictsOldestUnqualified(t *testing.T) {
	tab := New(2, 2, 4*time.Second)
	now := time.Unix(100, 0)

	tab.Insert(now, header(spi(1)), ptp.AnnounceBody{}, 0)
	tab.Insert(now.Add(time.Millisecond), header(spi(2)), ptp.AnnounceBody{}, 0)
	require.Equal(t, 2, tab.Len())

	tab.Insert(now.Add(2*time.Second), header(spi(3)), ptp.AnnounceBody{}, 0)
	require.Equal(t, 2, tab.Len())

	found := map[ptp.PortIdentity]bool{}
	for _, r := range tab.Records() {
		found[r.SourcePortIdentity] = true
	}
	require.True(t, found[spi(3)])
	require.False(t, found[spi(1)])
}

func TestOverflowDropsWhenAllQualified(t *testing.T) {
	tab := New(1, 1, 4*time.Second)
	now := time.Unix(100, 0)

	r1 := tab.Insert(now, header(spi(1)), ptp.AnnounceBody{}, 0)
	require.NotNil(t, r1)
	require.True(t, r1.Qualified(1, 4*time.Second, now))

	r2 := tab.Insert(now, header(spi(2)), ptp.AnnounceBody{}, 0)
	require.Nil(t, r2)
	require.Equal(t, 1, tab.Len())
}

func TestExpireDropsStaleRecords(t *testing.T) {
	tab := New(5, 2, 4*time.Second)
	now := time.Unix(100, 0)
	tab.Insert(now, header(spi(1)), ptp.AnnounceBody{}, 0)

	removed := tab.Expire(now.Add(10*time.Second), 4*time.Second)
	require.Equal(t, 1, removed)
	require.Equal(t, 0, tab.Len())
}

func TestClear(t *testing.T) {
	tab := New(5, 2, 4*time.Second)
	tab.Insert(time.Unix(100, 0), header(spi(1)), ptp.AnnounceBody{}, 0)
	tab.Clear()
	require.Equal(t, 0, tab.Len())
}
