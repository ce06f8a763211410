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

	"github.com/livekit/mediatransportutil"

	"github.com/livekit/rtcp-receiver/pkg/ntputil"
	"github.com/livekit/rtcp-receiver/pkg/rtcpext"
)

// SetSsrcs installs the local sender SSRC and the set of SSRCs inbound
// report blocks are accepted for.
func (r *Receiver) SetSsrcs(mainSSRC uint32, registeredSsrcs []uint32) {
	r.lock.Lock()
	oldSSRC := r.mainSSRC
	r.mainSSRC = mainSSRC
	r.registeredSsrcs = make(map[uint32]struct{}, len(registeredSsrcs))
	for _, ssrc := range registeredSsrcs {
		r.registeredSsrcs[ssrc] = struct{}{}
	}
	r.lock.Unlock()

	if r.params.IntraFrameObserver != nil && oldSSRC != mainSSRC {
		r.params.IntraFrameObserver.OnLocalSsrcChanged(oldSSRC, mainSSRC)
	}
}

// SetRemoteSSRC designates the party whose sender report is authoritative.
func (r *Receiver) SetRemoteSSRC(ssrc uint32) {
	r.lock.Lock()
	defer r.lock.Unlock()

	// a new remote resets the old sender report
	r.remoteSenderInfo = SenderInfo{}
	r.lastReceivedSRNtp = 0

	r.remoteSSRC = ssrc
}

func (r *Receiver) RemoteSSRC() uint32 {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.remoteSSRC
}

// LastReceivedReceiverReport returns the most recent time any remote party
// was heard from, zero when none has been.
func (r *Receiver) LastReceivedReceiverReport() time.Time {
	r.lock.Lock()
	defer r.lock.Unlock()

	var last time.Time
	for _, info := range r.receivedInfoMap {
		if info.lastTimeReceived.After(last) {
			last = info.lastTimeReceived
		}
	}
	return last
}

// CNAME returns the canonical name last received for ssrc. The returned
// string is at most 255 bytes of content.
func (r *Receiver) CNAME(ssrc uint32) (string, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	cname, ok := r.receivedCnameMap[ssrc]
	if !ok {
		return "", ErrCnameNotFound
	}
	return cname, nil
}

// NTP returns the NTP and RTP timestamps of the last authoritative sender
// report along with the local NTP time of its arrival. ok is false until
// such a report has been received.
func (r *Receiver) NTP() (receivedNtp, arrivalNtp mediatransportutil.NtpTime, rtpTimestamp uint32, ok bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.lastReceivedSRNtp == 0 {
		return 0, 0, 0, false
	}
	return r.remoteSenderInfo.NTPTimestamp, r.lastReceivedSRNtp, r.remoteSenderInfo.RTPTimestamp, true
}

// SenderInfoReceived returns the sender block of the last authoritative SR.
func (r *Receiver) SenderInfoReceived() (SenderInfo, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.lastReceivedSRNtp == 0 {
		return SenderInfo{}, false
	}
	return r.remoteSenderInfo, true
}

// LastReceivedXrReferenceTimeInfo returns the RRTR state to be echoed in an
// outgoing DLRR: the compact NTP time of the last RRTR and the delay since
// it was received (RFC 3611).
func (r *Receiver) LastReceivedXrReferenceTimeInfo() (ReceiveTimeInfo, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.lastReceivedXRNtp == 0 {
		return ReceiveTimeInfo{}, false
	}

	info := r.remoteXRReceiveTimeInfo
	receiveTime := ntputil.CompactNtp(r.lastReceivedXRNtp)
	now := ntputil.CompactNtpNow(r.params.Clock.Now())
	info.DelaySinceLastRR = now - receiveTime
	return info, true
}

// RTT returns the round trip time estimate derived from report blocks sent
// by remoteSSRC about our main stream.
func (r *Receiver) RTT(remoteSSRC uint32) (RttStats, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	info := r.getReportBlockInformation(remoteSSRC, r.mainSSRC)
	if info == nil {
		return RttStats{}, ErrReportBlockNotFound
	}
	return RttStats{
		LastMs: info.rttMs,
		AvgMs:  info.avgRttMs,
		MinMs:  info.minRttMs,
		MaxMs:  info.maxRttMs,
	}, nil
}

// StatisticsReceived returns every report block currently held, across all
// reported-on sources and reporting parties.
func (r *Receiver) StatisticsReceived() []ReportBlock {
	r.lock.Lock()
	defer r.lock.Unlock()

	var blocks []ReportBlock
	for _, infoMap := range r.receivedReportBlockMap {
		for _, info := range infoMap {
			blocks = append(blocks, info.remoteReceiveBlock)
		}
	}
	return blocks
}

// SetRtcpXrRrtrStatus enables RTT computation from DLRR sub-blocks.
func (r *Receiver) SetRtcpXrRrtrStatus(enable bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.xrRrtrStatus = enable
}

// GetAndResetXrRrRtt is a destructive read of the last DLRR derived RTT in
// milliseconds; ok is false when there is no estimate.
func (r *Receiver) GetAndResetXrRrRtt() (int64, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.xrRrRttMs == 0 {
		return 0, false
	}
	rtt := r.xrRrRttMs
	r.xrRrRttMs = 0
	return rtt, true
}

// RtcpRrTimeout reports whether no RR has been received for three reporting
// intervals. It returns true at most once per lapse; a new RR rearms it.
func (r *Receiver) RtcpRrTimeout(rtcpInterval time.Duration) bool {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.lastReceivedRr.IsZero() {
		return false
	}
	if r.params.Clock.Now().After(r.lastReceivedRr.Add(rrTimeoutIntervals * rtcpInterval)) {
		r.lastReceivedRr = time.Time{}
		return true
	}
	return false
}

// RtcpRrSequenceNumberTimeout reports whether the remote side has not seen
// new RTP packets from us for three reporting intervals, i.e. the extended
// highest sequence number stopped advancing. True at most once per lapse.
func (r *Receiver) RtcpRrSequenceNumberTimeout(rtcpInterval time.Duration) bool {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.lastIncreasedSequenceNumber.IsZero() {
		return false
	}
	if r.params.Clock.Now().After(r.lastIncreasedSequenceNumber.Add(rrTimeoutIntervals * rtcpInterval)) {
		r.lastIncreasedSequenceNumber = time.Time{}
		return true
	}
	return false
}

// TmmbrReceived aggregates the live TMMBR requests of all remote parties,
// dropping entries staler than five reporting intervals.
func (r *Receiver) TmmbrReceived() []rtcpext.TmmbItem {
	r.lock.Lock()
	defer r.lock.Unlock()

	now := r.params.Clock.Now()
	var candidates []rtcpext.TmmbItem
	for _, info := range r.receivedInfoMap {
		candidates = append(candidates, info.getTmmbrSet(now)...)
	}
	return candidates
}

// UpdateReceiveInformationTimers expires idle remote parties and collects
// those that said BYE. It returns true when at least one remote party fell
// silent and had its TMMBR requests cleared, so the bounding set should be
// recomputed.
func (r *Receiver) UpdateReceiveInformationTimers() bool {
	r.lock.Lock()
	defer r.lock.Unlock()

	updateBoundingSet := false
	now := r.params.Clock.Now()

	for ssrc, info := range r.receivedInfoMap {
		if !info.lastTimeReceived.IsZero() {
			if now.Sub(info.lastTimeReceived) > 5*rtcpIntervalAudio {
				// no RTCP for five regular intervals, lift the
				// party's bitrate limitations exactly once
				info.clearTmmbr()
				info.lastTimeReceived = time.Time{}
				updateBoundingSet = true
			}
		} else if info.readyForDelete {
			delete(r.receivedInfoMap, ssrc)
		}
	}
	return updateBoundingSet
}

// BoundingSet returns the bounding set last notified by the authoritative
// remote party and whether our main SSRC owns an entry in it.
func (r *Receiver) BoundingSet() ([]rtcpext.TmmbItem, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	info := r.getReceiveInformation(r.remoteSSRC)
	if info == nil {
		return nil, false
	}
	boundingSet := make([]rtcpext.TmmbItem, len(info.tmmbn))
	copy(boundingSet, info.tmmbn)
	return boundingSet, rtcpext.IsOwner(info.tmmbn, r.mainSSRC)
}

// RegisterRtcpStatisticsCallback swaps the statistics sink; nil disables it.
func (r *Receiver) RegisterRtcpStatisticsCallback(callback StatisticsCallback) {
	r.feedbackLock.Lock()
	defer r.feedbackLock.Unlock()
	r.statsCallback = callback
}

func (r *Receiver) GetRtcpStatisticsCallback() StatisticsCallback {
	r.feedbackLock.Lock()
	defer r.feedbackLock.Unlock()
	return r.statsCallback
}
