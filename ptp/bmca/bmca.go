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

// Package bmca runs the Best Master Clock Algorithm over a port's
// foreign-master table and decides the resulting port state (IEEE
// 1588-2008 §9.3), building on the dataset comparator in ptp/sptp/bmc.
package bmca

import (
	"time"

	"github.com/ptpdaemon/ptpd/ptp/datasets"
	"github.com/ptpdaemon/ptpd/ptp/foreignmaster"
	ptp "github.com/ptpdaemon/ptpd/ptp/protocol"
	"github.com/ptpdaemon/ptpd/ptp/sptp/bmc"
)

// Decision is the outcome of one BMCA evaluation.
type Decision struct {
	// RecommendedState is the state the port should transition to.
	RecommendedState ptp.PortState
	// Best is the winning foreign-master record, nil if none qualify.
	Best *foreignmaster.Record
	// ParentChanged reports whether Best's source differs from the
	// previously selected parent, i.e. a new grandmaster was chosen.
	ParentChanged bool
}

// LocalPreferences maps a grandmaster's clock identity to an
// operator-assigned preference used by the telecom-profile comparison
// (lower wins). A clock absent from the map compares as preference 0.
type LocalPreferences map[ptp.ClockIdentity]int

// best returns the best-qualified foreign record as of now. Two records
// naming the same grandmaster are ordered by Dscmp2; otherwise the
// telecom-profile comparator is used when prios is non-nil, else the
// standard comparator.
func best(recs []*foreignmaster.Record, prios LocalPreferences) *foreignmaster.Record {
	var bestRec *foreignmaster.Record
	var bestAnnounce *ptp.Announce
	for _, r := range recs {
		a := &ptp.Announce{Header: r.Header, AnnounceBody: r.Announce}
		if bestRec == nil {
			bestRec, bestAnnounce = r, a
			continue
		}
		var result bmc.Result
		switch {
		case a.GrandmasterIdentity == bestAnnounce.GrandmasterIdentity:
			result = bmc.Dscmp2(bestAnnounce, a)
		case prios != nil:
			result = bmc.TelcoDscmp(bestAnnounce, a, prios[bestAnnounce.GrandmasterIdentity], prios[a.GrandmasterIdentity])
		default:
			result = bmc.Dscmp(bestAnnounce, a)
		}
		if result == bmc.BBetter || result == bmc.BBetterTopo {
			bestRec, bestAnnounce = r, a
		}
	}
	return bestRec
}

// Run evaluates the BMCA for one port: pick the best qualified foreign
// master (if any) and decide the resulting state, per IEEE 1588-2008
// §9.3's state decision algorithm.
func Run(now time.Time, table *foreignmaster.Table, ds *datasets.DataSets, prios LocalPreferences, currentParent ptp.PortIdentity) Decision {
	qualified := table.Qualified(now)
	b := best(qualified, prios)

	d := ds.Snapshot()

	if b == nil {
		if d.Port.PortState == ptp.PortStateListening {
			return Decision{RecommendedState: ptp.PortStateListening}
		}
		if d.Default.SlaveOnly {
			return Decision{RecommendedState: ptp.PortStateListening}
		}
		return Decision{RecommendedState: ptp.PortStatePreMaster}
	}

	bestAnnounce := ptp.Announce{Header: b.Header, AnnounceBody: b.Announce}
	parentChanged := b.SourcePortIdentity != currentParent

	if d.Default.SlaveOnly {
		state := ptp.PortStateSlave
		if d.Port.PortState == ptp.PortStateListening || d.Port.PortState == ptp.PortStateInitializing {
			state = ptp.PortStateUncalibrated
		}
		return Decision{RecommendedState: state, Best: b, ParentChanged: parentChanged}
	}

	localAnnounce := ptp.Announce{AnnounceBody: ptp.AnnounceBody{
		GrandmasterIdentity:     d.Default.ClockIdentity,
		GrandmasterPriority1:    d.Default.Priority1,
		GrandmasterPriority2:    d.Default.Priority2,
		GrandmasterClockQuality: d.Default.ClockQuality,
	}}
	localBeatsForeign := localBeatsForeignAnnounce(localAnnounce, bestAnnounce, prios)

	if d.Default.ClockQuality.ClockClass < 128 {
		if localBeatsForeign {
			return Decision{RecommendedState: ptp.PortStateMaster, Best: b, ParentChanged: parentChanged}
		}
		return Decision{RecommendedState: ptp.PortStatePassive, Best: b, ParentChanged: parentChanged}
	}

	if localBeatsForeign {
		return Decision{RecommendedState: ptp.PortStateMaster, Best: b, ParentChanged: parentChanged}
	}
	state := ptp.PortStateSlave
	if d.Port.PortState == ptp.PortStateListening || d.Port.PortState == ptp.PortStateInitializing {
		state = ptp.PortStateUncalibrated
	}
	return Decision{RecommendedState: state, Best: b, ParentChanged: parentChanged}
}

// localBeatsForeignAnnounce compares D0 (this clock, presented as if it
// were its own grandmaster announce) against the best foreign record.
func localBeatsForeignAnnounce(d ptp.Announce, b ptp.Announce, prios LocalPreferences) bool {
	var result bmc.Result
	if prios != nil {
		result = bmc.TelcoDscmp(&d, &b, prios[d.GrandmasterIdentity], prios[b.GrandmasterIdentity])
	} else {
		result = bmc.Dscmp(&d, &b)
	}
	return result == bmc.ABetter || result == bmc.ABetterTopo
}
