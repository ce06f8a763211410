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

	"github.com/pion/rtcp"

	"github.com/livekit/rtcp-receiver/pkg/rtcpext"
)

// Owner is the RTP/RTCP module the receiver belongs to. All methods are
// invoked without the receiver's session lock held; implementations may call
// back into the receiver.
type Owner interface {
	SetTmmbn(boundingSet []rtcpext.TmmbItem)
	OnRequestSendReport()
	OnReceivedNack(nackSequenceNumbers []uint16)
	OnReceivedRtcpReportBlocks(reportBlocks []ReportBlock)
}

// BandwidthObserver consumes bandwidth related feedback: REMB and TMMB
// estimates, and incoming report blocks with the current RTT.
type BandwidthObserver interface {
	OnReceivedEstimatedBitrate(bitrateBps uint32)
	OnReceivedRtcpReceiverReport(reportBlocks []ReportBlock, rttMs int64, now time.Time)
}

// IntraFrameObserver consumes key frame related feedback.
type IntraFrameObserver interface {
	OnReceivedIntraFrameRequest(ssrc uint32)
	OnReceivedSLI(ssrc uint32, pictureID uint8)
	OnReceivedRPSI(ssrc uint32, pictureID uint64)
	OnLocalSsrcChanged(oldSSRC, newSSRC uint32)
}

// TransportFeedbackObserver consumes transport-wide congestion control
// feedback addressed to one of our streams.
type TransportFeedbackObserver interface {
	OnTransportFeedback(feedback *rtcp.TransportLayerCC)
}

// PacketTypeCounterObserver is notified after every parsed compound packet
// with the updated counter.
type PacketTypeCounterObserver interface {
	RtcpPacketTypesCounterUpdated(ssrc uint32, counter PacketTypeCounter)
}

// StatisticsCallback receives per-source reception statistics and CNAME
// changes. It can be swapped at runtime via RegisterRtcpStatisticsCallback.
type StatisticsCallback interface {
	StatisticsUpdated(stats RtcpStatistics, ssrc uint32)
	CNameChanged(cname string, ssrc uint32)
}
