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

// Package grant implements the unicast negotiation grant table (IEEE
// 1588-2008 Annex K): per-peer, per-message-type grant bookkeeping for
// REQUEST/GRANT/CANCEL/ACKNOWLEDGE_CANCEL signaling.
package grant

import (
	"hash/fnv"
	"encoding/binary"

	ptp "github.com/ptpdaemon/ptpd/ptp/protocol"
)

// State is the lifecycle state of one (peer, messageType) grant.
type State uint8

// Grant lifecycle states for one (peer, messageType) entry.
const (
	StateNone State = iota
	StateRequested
	StateGranted
	StateExpiring
	StateCanceled
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "NONE"
	case StateRequested:
		return "REQUESTED"
	case StateGranted:
		return "GRANTED"
	case StateExpiring:
		return "EXPIRING"
	case StateCanceled:
		return "CANCELED"
	}
	return "UNKNOWN"
}

// ExpiringThresholdSeconds marks a grant EXPIRING once remaining time
// drops at or below this many seconds.
const ExpiringThresholdSeconds = 5

// GraceMarginSeconds is added to a granted duration when computing
// TimeLeft, giving the requester slack before the master actually stops
// sending.
const GraceMarginSeconds = 10

// GrantKeepaliveInterval is, in UNICAST_GRANT ticks (1 Hz), how often the
// receiving-activity counters are checked. Nothing in this module reads
// it: grants are not checked for inbound activity.
const GrantKeepaliveInterval = 5

// GrantMaxMissed is how many multiples of the message's own interval may
// elapse with no inbound traffic before the grant is considered dead and
// re-requested. Nothing in this module reads it: a silent peer does not
// by itself make a grant need renewal.
const GrantMaxMissed = 3

// GrantCancelAckTimeout bounds how many times an unacknowledged CANCEL is
// retried before the local side clears state unilaterally.
const GrantCancelAckTimeout = 3

// Data is the per-message-type grant record.
type Data struct {
	MessageType     ptp.MessageType
	State           State
	LogInterval     ptp.LogInterval
	Duration        uint32 // seconds, as negotiated
	TimeLeft        float64
	SentSeqID       uint16
	IntervalCounter int
	Receiving       bool
	LocalPreference uint8

	cancelRetries int
}

// Requested marks a request just sent for logInterval/duration.
func (d *Data) Requested(logInterval ptp.LogInterval, duration uint32) {
	d.State = StateRequested
	d.LogInterval = logInterval
	d.Duration = duration
}

// Granted records a grant response. A zero duration is a denial: the
// caller should back off (Denied) rather than call Granted.
func (d *Data) Granted(logInterval ptp.LogInterval, duration uint32) {
	d.State = StateGranted
	d.LogInterval = logInterval
	d.Duration = duration
	d.TimeLeft = float64(duration) + GraceMarginSeconds
	d.Receiving = false
}

// Denied doubles the log interval (the requester's retry backoff) up to
// logMaxInterval, wrapping back to the floor past it.
func (d *Data) Denied(logMinInterval, logMaxInterval ptp.LogInterval) {
	d.State = StateNone
	if d.LogInterval >= logMaxInterval {
		d.LogInterval = logMinInterval
		return
	}
	d.LogInterval++
}

// Tick decrements TimeLeft by one second (driven by the UNICAST_GRANT
// timer) and applies the EXPIRING transition.
func (d *Data) Tick() {
	if d.State != StateGranted && d.State != StateExpiring {
		return
	}
	d.TimeLeft--
	if d.TimeLeft <= ExpiringThresholdSeconds {
		d.State = StateExpiring
	}
}

// NeedsRenewal reports whether the grant should be re-requested: it has
// expired (EXPIRING with no time left), or it is in state NONE (never
// granted, denied, or canceled and acknowledged). Inbound activity is not
// considered.
func (d *Data) NeedsRenewal() bool {
	if d.State == StateExpiring && d.TimeLeft <= 0 {
		return true
	}
	return d.State == StateNone
}

// Cancel marks the grant canceled, awaiting acknowledgement.
func (d *Data) Cancel() {
	d.State = StateCanceled
	d.cancelRetries = 0
}

// CancelRetry increments the cancel retry counter and reports whether the
// caller should give up (exceeded GrantCancelAckTimeout) and clear state
// unilaterally.
func (d *Data) CancelRetry() (giveUp bool) {
	d.cancelRetries++
	return d.cancelRetries > GrantCancelAckTimeout
}

// Acknowledged clears a canceled grant back to NONE.
func (d *Data) Acknowledged() {
	d.State = StateNone
	d.cancelRetries = 0
}

// peer is one tracked remote port, with independent grants per message
// type and an optional secondary transport-address key.
type peer struct {
	port   ptp.PortIdentity
	addr   string
	grants map[ptp.MessageType]*Data
}

// Table is the unicast grant table, hash-indexed by FNV-1 over the
// PortIdentity with linear-scan fallback on collision.
type Table struct {
	buckets []*peer // hash-indexed primary slot, may be nil or collide
	peers   []*peer // full registry, for linear scan and iteration
	mask    uint32
}

// NewTable allocates a Table with size buckets (rounded up to a power of
// two).
func NewTable(size int) *Table {
	n := 1
	for n < size {
		n <<= 1
	}
	if n == 0 {
		n = 256
	}
	return &Table{buckets: make([]*peer, n), mask: uint32(n - 1)}
}

func hashPortIdentity(p ptp.PortIdentity) uint32 {
	h := fnv.New32()
	var b [10]byte
	binary.BigEndian.PutUint64(b[:8], uint64(p.ClockIdentity))
	binary.BigEndian.PutUint16(b[8:], p.PortNumber)
	_, _ = h.Write(b[:])
	return h.Sum32()
}

// get finds (or, if create, creates) the peer entry for port/addr.
func (t *Table) get(port ptp.PortIdentity, addr string, create bool) *peer {
	idx := hashPortIdentity(port) & t.mask
	if p := t.buckets[idx]; p != nil && p.port == port && p.addr == addr {
		return p
	}
	for _, p := range t.peers {
		if p.port == port && p.addr == addr {
			return p
		}
	}
	if !create {
		return nil
	}
	p := &peer{port: port, addr: addr, grants: make(map[ptp.MessageType]*Data)}
	t.peers = append(t.peers, p)
	if t.buckets[idx] == nil {
		t.buckets[idx] = p
	}
	return p
}

// Get returns the grant Data for (port, addr, msgType), creating it (in
// StateNone) if it doesn't exist yet.
func (t *Table) Get(port ptp.PortIdentity, addr string, msgType ptp.MessageType) *Data {
	p := t.get(port, addr, true)
	d, ok := p.grants[msgType]
	if !ok {
		d = &Data{MessageType: msgType}
		p.grants[msgType] = d
	}
	return d
}

// Lookup returns the grant Data for (port, addr, msgType) without
// creating it, and whether it was found.
func (t *Table) Lookup(port ptp.PortIdentity, addr string, msgType ptp.MessageType) (*Data, bool) {
	p := t.get(port, addr, false)
	if p == nil {
		return nil, false
	}
	d, ok := p.grants[msgType]
	return d, ok
}

// Remove deletes all grant state for a peer, used when its grants are all
// canceled/acknowledged or the peer is no longer configured.
func (t *Table) Remove(port ptp.PortIdentity, addr string) {
	for i, p := range t.peers {
		if p.port == port && p.addr == addr {
			t.peers = append(t.peers[:i], t.peers[i+1:]...)
			break
		}
	}
	idx := hashPortIdentity(port) & t.mask
	if p := t.buckets[idx]; p != nil && p.port == port && p.addr == addr {
		t.buckets[idx] = nil
	}
}

// Peers returns every tracked peer's port identity.
func (t *Table) Peers() []ptp.PortIdentity {
	out := make([]ptp.PortIdentity, len(t.peers))
	for i, p := range t.peers {
		out[i] = p.port
	}
	return out
}

// Grants returns every grant Data tracked for one peer.
func (t *Table) Grants(port ptp.PortIdentity, addr string) []*Data {
	p := t.get(port, addr, false)
	if p == nil {
		return nil
	}
	out := make([]*Data, 0, len(p.grants))
	for _, d := range p.grants {
		out = append(out, d)
	}
	return out
}

// ForEach calls fn for every grant record in the table, used by the
// UNICAST_GRANT 1Hz timer to tick every active grant.
func (t *Table) ForEach(fn func(port ptp.PortIdentity, addr string, d *Data)) {
	for _, p := range t.peers {
		for _, d := range p.grants {
			fn(p.port, p.addr, d)
		}
	}
}
