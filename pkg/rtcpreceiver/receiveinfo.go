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

import (
	"time"

	"github.com/livekit/rtcp-receiver/pkg/rtcpext"
)

type timedTmmbrItem struct {
	item        rtcpext.TmmbItem
	lastUpdated time.Time
}

// receiveInformation is the per-remote-SSRC session state. All access is
// guarded by the receiver's session lock.
type receiveInformation struct {
	// wall clock of the last RTCP from this party, zero when the timer
	// sweep has already expired it
	lastTimeReceived time.Time

	// TMMBR requests keyed by the SSRC of the requesting party
	tmmbr map[uint32]*timedTmmbrItem
	// bounding set as last received in a TMMBN from this party
	tmmbn []rtcpext.TmmbItem

	lastFirSequenceNumber uint8
	lastFirRequest        time.Time

	// set on BYE, collected by the first timer sweep that finds
	// lastTimeReceived already zeroed
	readyForDelete bool
}

func newReceiveInformation() *receiveInformation {
	return &receiveInformation{
		tmmbr: make(map[uint32]*timedTmmbrItem),
	}
}

func (ri *receiveInformation) insertTmmbrItem(senderSSRC uint32, item rtcpext.TmmbItem, now time.Time) {
	ri.tmmbr[senderSSRC] = &timedTmmbrItem{
		item: rtcpext.TmmbItem{
			SSRC:           senderSSRC,
			BitrateBps:     item.BitrateBps,
			PacketOverhead: item.PacketOverhead,
		},
		lastUpdated: now,
	}
}

// getTmmbrSet returns the live TMMBR requests, pruning entries that have not
// been refreshed within five regular reporting intervals. The audio interval
// is used since the remote party's actual interval is unknown.
func (ri *receiveInformation) getTmmbrSet(now time.Time) []rtcpext.TmmbItem {
	cutoff := now.Add(-5 * rtcpIntervalAudio)
	var candidates []rtcpext.TmmbItem
	for ssrc, timed := range ri.tmmbr {
		if timed.lastUpdated.Before(cutoff) {
			delete(ri.tmmbr, ssrc)
		} else {
			candidates = append(candidates, timed.item)
		}
	}
	return candidates
}

func (ri *receiveInformation) clearTmmbr() {
	ri.tmmbr = make(map[uint32]*timedTmmbrItem)
}

// reportBlockInformation accumulates per-(source, remote) report block state
// and the RTT estimate derived from it.
type reportBlockInformation struct {
	remoteReceiveBlock ReportBlock
	remoteMaxJitter    uint32

	// milliseconds
	rttMs    int64
	avgRttMs int64
	minRttMs int64
	maxRttMs int64

	numAverageCalcs uint32
}
