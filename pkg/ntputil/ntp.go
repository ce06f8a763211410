// Copyright 2024 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ntputil provides compact NTP arithmetic for RTCP round trip time
// estimation. Compact NTP is the middle 32 bits of a 64 bit NTP timestamp,
// one unit is 1/65536 second. All subtractions on compact NTP values are
// unsigned 32 bit and therefore wrap safe.
package ntputil

import (
	"time"

	"github.com/livekit/mediatransportutil"
)

const compactNtpInSecond = 1 << 16

// CompactNtp returns the middle 32 bits of an NTP timestamp.
func CompactNtp(t mediatransportutil.NtpTime) uint32 {
	return uint32(uint64(t) >> 16)
}

// CompactNtpNow returns the compact NTP representation of t.
func CompactNtpNow(t time.Time) uint32 {
	return CompactNtp(mediatransportutil.ToNtpTime(t))
}

// CompactNtpToMs converts a compact NTP interval to milliseconds with
// round-to-nearest.
func CompactNtpToMs(interval uint32) int64 {
	return divideRoundToNearest(int64(interval)*1000, compactNtpInSecond)
}

// MsToCompactNtp converts a millisecond interval to compact NTP units with
// round-to-nearest.
func MsToCompactNtp(ms int64) uint32 {
	return uint32(divideRoundToNearest(ms*compactNtpInSecond, 1000))
}

// CompactNtpRttToMs converts a compact NTP interval obtained by subtracting
// report timestamps to a round trip time in milliseconds.
//
// The interval can be derived from a non-monotonic NTP clock and may come out
// negative, which is indistinguishable from a very large value. Very large
// RTTs are less likely than a clock step backwards, so such values collapse
// to the minimum of 1ms. A zero result is also reported as 1ms so that a
// valid measurement is never mistaken for "no estimate".
func CompactNtpRttToMs(rttNtp uint32) int64 {
	if rttNtp > 0x80000000 {
		return 1
	}
	ms := divideRoundToNearest(int64(rttNtp)*1000, compactNtpInSecond)
	if ms < 1 {
		return 1
	}
	return ms
}

func divideRoundToNearest(dividend int64, divisor int64) int64 {
	return (dividend + divisor/2) / divisor
}
