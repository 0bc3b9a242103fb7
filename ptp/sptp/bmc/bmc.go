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

// Package bmc implements the dataset comparison algorithm (IEEE 1588-2008
// §9.3.4) used by the Best Master Clock Algorithm to order two Announce
// messages.
package bmc

import (
	ptp "github.com/ptpdaemon/ptpd/ptp/protocol"
)

// Result is the outcome of comparing two Announce messages.
type Result int

// Possible comparison results. ABetterTopo/BBetterTopo are returned when
// both announces describe the same grandmaster (the "same topology" path);
// ABetter/BBetter cover the general "different grandmaster" path.
const (
	Unknown Result = iota
	ABetter
	ABetterTopo
	BBetter
	BBetterTopo
)

func sign(v int) Result {
	switch {
	case v < 0:
		return ABetter
	case v > 0:
		return BBetter
	default:
		return Unknown
	}
}

// Dscmp2 compares two Announce messages known to originate from the same
// grandmaster (same GrandmasterIdentity), the "same topology" branch of the
// dataset comparison algorithm. When the number of hops differs by more
// than one, the fewer-hops announce wins outright. Otherwise the sender
// port identities break the tie (the 1588 text compares against the
// receiver's own parent port identity first; lacking that context here,
// sender identities alone give a consistent total order).
func Dscmp2(a, b *ptp.Announce) Result {
	if int(a.StepsRemoved)-int(b.StepsRemoved) > 1 {
		return BBetter
	}
	if int(b.StepsRemoved)-int(a.StepsRemoved) > 1 {
		return ABetter
	}
	switch a.SourcePortIdentity.Compare(b.SourcePortIdentity) {
	case -1:
		return ABetterTopo
	case 1:
		return BBetterTopo
	default:
		return Unknown
	}
}

// Dscmp implements the "different grandmaster" branch of the dataset
// comparison algorithm (IEEE 1588-2008 Figure 27): grandmasterPriority1,
// then clockClass, clockAccuracy, offsetScaledLogVariance,
// grandmasterPriority2, finally grandmasterIdentity as a deterministic
// tiebreak. Use Dscmp2 separately for the same-grandmaster/topology branch.
func Dscmp(a, b *ptp.Announce) Result {
	if r := sign(int(a.GrandmasterPriority1) - int(b.GrandmasterPriority1)); r != Unknown {
		return r
	}
	if r := sign(int(a.GrandmasterClockQuality.ClockClass) - int(b.GrandmasterClockQuality.ClockClass)); r != Unknown {
		return r
	}
	if r := sign(int(a.GrandmasterClockQuality.ClockAccuracy) - int(b.GrandmasterClockQuality.ClockAccuracy)); r != Unknown {
		return r
	}
	if r := sign(int(a.GrandmasterClockQuality.OffsetScaledLogVariance) - int(b.GrandmasterClockQuality.OffsetScaledLogVariance)); r != Unknown {
		return r
	}
	if r := sign(int(a.GrandmasterPriority2) - int(b.GrandmasterPriority2)); r != Unknown {
		return r
	}
	if a.GrandmasterIdentity < b.GrandmasterIdentity {
		return ABetter
	}
	if a.GrandmasterIdentity > b.GrandmasterIdentity {
		return BBetter
	}
	return Unknown
}

// TelcoDscmp is the telecom-profile variant of Dscmp: it inserts an
// operator-assigned local preference (lower wins) ahead of priority1, and
// otherwise falls back to the standard comparison.
func TelcoDscmp(a, b *ptp.Announce, localPrioA, localPrioB int) Result {
	if r := sign(localPrioA - localPrioB); r != Unknown {
		return r
	}
	return Dscmp(a, b)
}
