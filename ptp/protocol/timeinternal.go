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

package protocol

import "time"

const nsPerSecond = int64(time.Second)

// TimeInternal is a normalized signed time interval, seconds and
// nanoseconds always carry the same sign (or are zero). It mirrors
// ptpd's internalTime_t and is the type all servo/offset arithmetic
// is done in, instead of raw time.Duration, so that seconds-only and
// sub-second components can be reasoned about (and logged) separately.
type TimeInternal struct {
	Seconds     int64
	Nanoseconds int32
}

// NewTimeInternal builds a normalized TimeInternal from a duration.
func NewTimeInternal(d time.Duration) TimeInternal {
	t := TimeInternal{
		Seconds:     int64(d) / nsPerSecond,
		Nanoseconds: int32(int64(d) % nsPerSecond),
	}
	t.Normalize()
	return t
}

// Duration converts TimeInternal back to a time.Duration.
func (t TimeInternal) Duration() time.Duration {
	return time.Duration(t.Seconds*nsPerSecond + int64(t.Nanoseconds))
}

// Normalize enforces the same-sign invariant: Seconds and Nanoseconds
// must agree in sign (or one/both be zero). Ported from normalizeTime().
func (t *TimeInternal) Normalize() {
	t.Seconds += int64(t.Nanoseconds / int32(nsPerSecond))
	t.Nanoseconds = t.Nanoseconds % int32(nsPerSecond)

	if t.Seconds > 0 && t.Nanoseconds < 0 {
		t.Seconds--
		t.Nanoseconds += int32(nsPerSecond)
	} else if t.Seconds < 0 && t.Nanoseconds > 0 {
		t.Seconds++
		t.Nanoseconds -= int32(nsPerSecond)
	}
}

// Add returns t+o, normalized.
func (t TimeInternal) Add(o TimeInternal) TimeInternal {
	r := TimeInternal{
		Seconds:     t.Seconds + o.Seconds,
		Nanoseconds: t.Nanoseconds + o.Nanoseconds,
	}
	r.Normalize()
	return r
}

// Sub returns t-o, normalized.
func (t TimeInternal) Sub(o TimeInternal) TimeInternal {
	r := TimeInternal{
		Seconds:     t.Seconds - o.Seconds,
		Nanoseconds: t.Nanoseconds - o.Nanoseconds,
	}
	r.Normalize()
	return r
}

// Half divides t by two. This is the only division TimeInternal
// supports - general divTime() was never built out upstream either,
// and the servo only ever needs halving (e.g. mean path delay).
func (t TimeInternal) Half() TimeInternal {
	scaled := t.Seconds*nsPerSecond + int64(t.Nanoseconds)
	scaled /= 2
	r := TimeInternal{
		Seconds:     scaled / nsPerSecond,
		Nanoseconds: int32(scaled % nsPerSecond),
	}
	r.Normalize()
	return r
}

// IsNegative reports whether the interval is negative.
func (t TimeInternal) IsNegative() bool {
	return t.Seconds < 0 || (t.Seconds == 0 && t.Nanoseconds < 0)
}

// Negate returns -t.
func (t TimeInternal) Negate() TimeInternal {
	return TimeInternal{Seconds: -t.Seconds, Nanoseconds: -t.Nanoseconds}
}

// ScaledNanoseconds returns t as nanoseconds scaled by 2^16, the unit
// used by correctionField and offsetScaledLogVariance on the wire.
func (t TimeInternal) ScaledNanoseconds() int64 {
	ns := t.Seconds*nsPerSecond + int64(t.Nanoseconds)
	return ns << 16
}

// TimeInternalFromScaledNanoseconds converts a correctionField-style
// 2^16-scaled nanosecond count back into a TimeInternal.
func TimeInternalFromScaledNanoseconds(scaled int64) TimeInternal {
	ns := scaled >> 16
	t := TimeInternal{
		Seconds:     ns / nsPerSecond,
		Nanoseconds: int32(ns % nsPerSecond),
	}
	t.Normalize()
	return t
}

// FromTimestamp converts a wire Timestamp into a TimeInternal.
func FromTimestamp(ts Timestamp) TimeInternal {
	return TimeInternal{
		Seconds:     int64(ts.Seconds.Seconds()),
		Nanoseconds: int32(ts.Nanoseconds),
	}
}

// ToTimestamp converts a TimeInternal into a wire Timestamp. The
// caller must ensure t is non-negative; PTP timestamps have no sign.
func (t TimeInternal) ToTimestamp() Timestamp {
	return Timestamp{
		Seconds:     NewPTPSeconds(time.Unix(t.Seconds, 0)),
		Nanoseconds: uint32(t.Nanoseconds),
	}
}
