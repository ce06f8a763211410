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
	"math"

	"github.com/livekit/rtcp-receiver/pkg/rtcpext"
)

// triggerCallbacks fans one parsed compound packet out to the observers.
// It runs without the session lock; routing identifiers are snapshotted
// under the lock first.
func (r *Receiver) triggerCallbacks(pi *packetInformation) {
	// TMMBR first, ahead of the REMB and report block callbacks below; a
	// packet that carries both TMMBR and REMB yields two estimate updates
	if pi.packetTypeFlags&flagTmmbr != 0 {
		r.UpdateTmmbr()
	}

	r.lock.Lock()
	localSSRC := r.mainSSRC
	registeredSsrcs := make(map[uint32]struct{}, len(r.registeredSsrcs))
	for ssrc := range r.registeredSsrcs {
		registeredSsrcs[ssrc] = struct{}{}
	}
	r.lock.Unlock()

	receiverOnly := r.params.ReceiverOnly

	if !receiverOnly && pi.packetTypeFlags&flagSrReq != 0 {
		r.params.Owner.OnRequestSendReport()
	}
	if !receiverOnly && pi.packetTypeFlags&flagNack != 0 && len(pi.nackSequenceNumbers) > 0 {
		r.params.Logger.Debugw("incoming NACK", "length", len(pi.nackSequenceNumbers))
		r.params.Owner.OnReceivedNack(pi.nackSequenceNumbers)
	}

	if observer := r.params.IntraFrameObserver; observer != nil {
		if pi.packetTypeFlags&(flagPli|flagFir) != 0 {
			if pi.packetTypeFlags&flagPli != 0 {
				r.params.Logger.Debugw("incoming PLI", "remoteSSRC", pi.remoteSSRC)
			} else {
				r.params.Logger.Debugw("incoming FIR", "remoteSSRC", pi.remoteSSRC)
			}
			observer.OnReceivedIntraFrameRequest(localSSRC)
		}
		if pi.packetTypeFlags&flagSli != 0 {
			observer.OnReceivedSLI(localSSRC, pi.sliPictureID)
		}
		if pi.packetTypeFlags&flagRpsi != 0 {
			observer.OnReceivedRPSI(localSSRC, pi.rpsiPictureID)
		}
	}

	if observer := r.params.BandwidthObserver; observer != nil {
		if pi.packetTypeFlags&flagRemb != 0 {
			r.params.Logger.Debugw("incoming REMB", "bitrateBps", pi.receiverEstimatedMaxBitrate)
			observer.OnReceivedEstimatedBitrate(pi.receiverEstimatedMaxBitrate)
		}
		if pi.packetTypeFlags&(flagSr|flagRr) != 0 {
			observer.OnReceivedRtcpReceiverReport(pi.reportBlocks, pi.rttMs, r.params.Clock.Now())
		}
	}

	if pi.packetTypeFlags&(flagSr|flagRr) != 0 {
		// one received report can fan out to several RTCP packets in a
		// relay scenario, the owner decides
		r.params.Owner.OnReceivedRtcpReportBlocks(pi.reportBlocks)
	}

	if observer := r.params.TransportFeedbackObserver; observer != nil &&
		pi.packetTypeFlags&flagTransportFeedback != 0 {
		mediaSSRC := pi.transportFeedback.MediaSSRC
		_, registered := registeredSsrcs[mediaSSRC]
		if mediaSSRC == localSSRC || registered {
			observer.OnTransportFeedback(pi.transportFeedback)
		}
	}

	if !receiverOnly {
		r.feedbackLock.Lock()
		if r.statsCallback != nil {
			for _, block := range pi.reportBlocks {
				r.statsCallback.StatisticsUpdated(RtcpStatistics{
					FractionLost:                  block.FractionLost,
					CumulativeLost:                block.CumulativeLost,
					ExtendedHighestSequenceNumber: block.ExtendedHighSeqNum,
					Jitter:                        block.Jitter,
				}, block.SourceSSRC)
			}
		}
		r.feedbackLock.Unlock()
	}
}

// UpdateTmmbr recomputes the bounding set over all live TMMBR requests,
// reports the resulting minimum bitrate and pushes the set to the owner.
func (r *Receiver) UpdateTmmbr() {
	boundingSet := rtcpext.FindBoundingSet(r.TmmbrReceived())

	if len(boundingSet) > 0 && r.params.BandwidthObserver != nil {
		// a new bandwidth estimate for this session
		if bitrateBps := rtcpext.CalcMinBitrate(boundingSet); bitrateBps <= math.MaxUint32 {
			r.params.BandwidthObserver.OnReceivedEstimatedBitrate(uint32(bitrateBps))
		}
	}

	// inform remote parties about the new bounding set
	r.params.Owner.SetTmmbn(boundingSet)
}
