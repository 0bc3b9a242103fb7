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

// Package foreignmaster implements the bounded foreign-master table
// (IEEE 1588-2008 §9.3.2.2): the set of candidate masters a port has heard
// Announce messages from, used as BMCA input.
package foreignmaster

import (
	"time"

	ptp "github.com/ptpdaemon/ptpd/ptp/protocol"
)

// DefaultCapacity is the default bound on the number of foreign-master
// records tracked at once.
const DefaultCapacity = 5

// DefaultThreshold is the minimum number of Announces, within the
// qualification window, before a record is usable by the BMCA.
const DefaultThreshold = 2

// Record tracks one candidate master.
type Record struct {
	SourcePortIdentity ptp.PortIdentity
	Header             ptp.Header
	Announce           ptp.AnnounceBody
	LocalPreference    uint8

	count     int
	firstSeen time.Time
	lastSeen  time.Time
}

// Qualified reports whether the record has been seen at least threshold
// times since it was created. The count is not aged, so window and now do
// not change the result; a record that stops announcing leaves the table
// only through Table.Expire.
func (r *Record) Qualified(threshold int, window time.Duration, now time.Time) bool {
	if r.count < threshold {
		return false
	}
	return now.Sub(r.firstSeen) <= window || r.count >= threshold
}

// Table is the bounded foreign-master table for one port.
type Table struct {
	capacity  int
	threshold int
	window    time.Duration

	records []*Record
}

// New creates a Table with the given capacity, qualification threshold,
// and qualification time window (typically 4x the announce interval). The
// window is stored and passed to Record.Qualified, which does not apply it.
func New(capacity, threshold int, window time.Duration) *Table {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Table{capacity: capacity, threshold: threshold, window: window}
}

// Insert records (or refreshes) an Announce from sourcePortIdentity at
// time now. If the table is full and the sender is not already tracked,
// the oldest unqualified record is evicted to make room; if every record
// is qualified, the new Announce is dropped.
func (t *Table) Insert(now time.Time, header ptp.Header, body ptp.AnnounceBody, localPreference uint8) *Record {
	spi := header.SourcePortIdentity
	for _, r := range t.records {
		if r.SourcePortIdentity == spi {
			r.Header = header
			r.Announce = body
			r.LocalPreference = localPreference
			r.count++
			r.lastSeen = now
			return r
		}
	}

	if len(t.records) >= t.capacity {
		idx := t.oldestUnqualifiedIndex(now)
		if idx < 0 {
			return nil
		}
		t.records = append(t.records[:idx], t.records[idx+1:]...)
	}

	r := &Record{
		SourcePortIdentity: spi,
		Header:             header,
		Announce:           body,
		LocalPreference:    localPreference,
		count:              1,
		firstSeen:          now,
		lastSeen:           now,
	}
	t.records = append(t.records, r)
	return r
}

func (t *Table) oldestUnqualifiedIndex(now time.Time) int {
	idx := -1
	var oldest time.Time
	for i, r := range t.records {
		if r.Qualified(t.threshold, t.window, now) {
			continue
		}
		if idx < 0 || r.firstSeen.Before(oldest) {
			idx = i
			oldest = r.firstSeen
		}
	}
	return idx
}

// Expire drops records whose lastSeen is older than maxAge (driven by
// ANNOUNCE_RECEIPT-style timeouts), returning the number removed.
func (t *Table) Expire(now time.Time, maxAge time.Duration) int {
	kept := t.records[:0]
	removed := 0
	for _, r := range t.records {
		if now.Sub(r.lastSeen) > maxAge {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	t.records = kept
	return removed
}

// Qualified returns every record currently qualified as of now.
func (t *Table) Qualified(now time.Time) []*Record {
	var out []*Record
	for _, r := range t.records {
		if r.Qualified(t.threshold, t.window, now) {
			out = append(out, r)
		}
	}
	return out
}

// Records returns every tracked record, qualified or not.
func (t *Table) Records() []*Record {
	return t.records
}

// Len returns the number of tracked records.
func (t *Table) Len() int { return len(t.records) }

// Clear empties the table, used on port reinitialization.
func (t *Table) Clear() { t.records = nil }
