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

import "errors"

// Sentinel errors the engine returns or wraps, meant to be compared
// with errors.Is by callers (management responses, tests, metrics).
var (
	// ErrNoMeasurement is returned when an offset/delay computation is
	// requested before a complete Sync/Follow_Up and Delay_Req/Delay_Resp
	// (or Pdelay equivalent) exchange has completed.
	ErrNoMeasurement = errors.New("engine: no complete measurement yet")

	// ErrFollowUpGap is returned when a Follow_Up arrives too many Syncs
	// after its matching Sync, per the MAX_FOLLOWUP_GAP bound.
	ErrFollowUpGap = errors.New("engine: follow-up arrived too late, dropping pending sync")

	// ErrSequenceMismatch is returned when a Delay_Resp/Pdelay_Resp does
	// not match the outstanding request's sequenceId or requesting port
	// identity.
	ErrSequenceMismatch = errors.New("engine: response sequence/port identity mismatch")

	// ErrPortFaulty is returned by operations attempted while the port
	// is in the FAULTY state.
	ErrPortFaulty = errors.New("engine: port is faulty")

	// ErrUnsupportedManagementID is returned for a management GET/SET
	// whose managementId this build does not implement.
	ErrUnsupportedManagementID = errors.New("engine: unsupported managementId")

	// ErrNotSetable is returned for a management SET against a
	// managementId that is read-only over the wire.
	ErrNotSetable = errors.New("engine: managementId is not setable")
)

// MaxFollowUpGap bounds how many Syncs may arrive, still unmatched, before
// the oldest pending one is discarded (IEEE 1588-2008 allows an
// implementation-defined bound; ptpd uses a small fixed window).
const MaxFollowUpGap = 3
