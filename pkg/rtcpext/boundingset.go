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

package rtcpext

import (
	"math"
	"sort"
)

// FindBoundingSet computes the TMMB bounding set of RFC 5104 section
// 3.5.4.2: the minimal subset of candidate tuples such that every candidate
// is dominated by some member for at least one packet rate. Each tuple is a
// line bitrate(f) = netrate + 8*overhead*f over the packet rate f; the
// bounding set is the lower envelope of those lines.
//
// Candidates with zero bitrate are ignored. The input slice is not modified.
func FindBoundingSet(candidates []TmmbItem) []TmmbItem {
	working := make([]TmmbItem, 0, len(candidates))
	for _, c := range candidates {
		if c.BitrateBps != 0 {
			working = append(working, c)
		}
	}
	if len(working) <= 1 {
		return working
	}

	// Sort by increasing packet overhead.
	sort.SliceStable(working, func(i, j int) bool {
		return working[i].PacketOverhead < working[j].PacketOverhead
	})

	numCandidates := len(working)
	remove := func(it *TmmbItem) {
		it.BitrateBps = 0
		numCandidates--
	}

	// For tuples with the same overhead keep only the lowest bitrate.
	for i := 0; i < len(working); {
		curMin := &working[i]
		j := i + 1
		for ; j < len(working) && working[j].PacketOverhead == curMin.PacketOverhead; j++ {
			if working[j].BitrateBps < curMin.BitrateBps {
				remove(curMin)
				curMin = &working[j]
			} else {
				remove(&working[j])
			}
		}
		i = j
	}

	// Select the tuple with the lowest bitrate, on ties the one with the
	// highest overhead. It is always part of the bounding set.
	var minBitrate *TmmbItem
	for i := range working {
		if working[i].BitrateBps == 0 {
			continue
		}
		if minBitrate == nil || working[i].BitrateBps <= minBitrate.BitrateBps {
			minBitrate = &working[i]
		}
	}

	boundingSet := make([]TmmbItem, 0, numCandidates)
	intersection := make([]float64, 0, numCandidates)
	maxPacketRate := make([]float64, 0, numCandidates)

	push := func(item TmmbItem, isect float64) {
		boundingSet = append(boundingSet, item)
		intersection = append(intersection, isect)
		if item.PacketOverhead == 0 {
			maxPacketRate = append(maxPacketRate, math.MaxFloat64)
		} else {
			maxPacketRate = append(maxPacketRate,
				float64(item.BitrateBps)/(float64(item.PacketOverhead)*8))
		}
	}

	push(*minBitrate, 0)
	remove(minBitrate)

	// Tuples with lower overhead than the first member can never bound:
	// their line lies above it for every packet rate.
	for i := range working {
		if working[i].BitrateBps != 0 &&
			working[i].PacketOverhead < boundingSet[0].PacketOverhead {
			remove(&working[i])
		}
	}

	getNewCandidate := true
	var current TmmbItem
	for numCandidates > 0 {
		if getNewCandidate {
			for i := range working {
				if working[i].BitrateBps != 0 {
					current = working[i]
					working[i].BitrateBps = 0
					break
				}
			}
		}

		// Packet rate where the current line crosses the last selected one.
		last := len(boundingSet) - 1
		packetRate := (float64(current.BitrateBps) - float64(boundingSet[last].BitrateBps)) /
			(8 * (float64(current.PacketOverhead) - float64(boundingSet[last].PacketOverhead)))

		if packetRate <= intersection[last] {
			// The last selected tuple is dominated, drop it and retry the
			// same candidate against the new tail.
			boundingSet = boundingSet[:last]
			intersection = intersection[:last]
			maxPacketRate = maxPacketRate[:last]
			getNewCandidate = false
			continue
		}

		if packetRate < maxPacketRate[last] {
			push(current, packetRate)
		}
		numCandidates--
		getNewCandidate = true
	}

	return boundingSet
}

// CalcMinBitrate returns the lowest bitrate of the set.
func CalcMinBitrate(items []TmmbItem) uint64 {
	minBitrate := uint64(math.MaxUint64)
	for _, item := range items {
		if item.BitrateBps < minBitrate {
			minBitrate = item.BitrateBps
		}
	}
	return minBitrate
}

// IsOwner reports whether ssrc contributed an item to the set.
func IsOwner(items []TmmbItem, ssrc uint32) bool {
	for _, item := range items {
		if item.SSRC == ssrc {
			return true
		}
	}
	return false
}
