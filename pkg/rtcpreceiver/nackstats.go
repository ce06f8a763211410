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

package rtcpreceiver

// nackStats distinguishes retransmitted NACKs from first requests: a request
// is unique when its sequence number is newer than every one seen so far.
type nackStats struct {
	maxSequenceNumber uint16
	requests          uint32
	uniqueRequests    uint32
}

func (n *nackStats) reportRequest(sequenceNumber uint16) {
	if n.requests == 0 || isNewerSequenceNumber(sequenceNumber, n.maxSequenceNumber) {
		n.maxSequenceNumber = sequenceNumber
		n.uniqueRequests++
	}
	n.requests++
}

func isNewerSequenceNumber(sequenceNumber, prevSequenceNumber uint16) bool {
	return sequenceNumber != prevSequenceNumber &&
		sequenceNumber-prevSequenceNumber < 0x8000
}
