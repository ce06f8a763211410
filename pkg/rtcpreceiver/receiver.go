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

// Package rtcpreceiver ingests compound RTCP datagrams, maintains per-remote
// session state, derives round trip time estimates from SR/DLRR exchanges and
// fans typed notifications out to the surrounding media stack.
package rtcpreceiver

import (
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/livekit/mediatransportutil"
	"github.com/livekit/protocol/logger"
	"github.com/pion/rtcp"

	"github.com/livekit/rtcp-receiver/pkg/ntputil"
	"github.com/livekit/rtcp-receiver/pkg/rtcpext"
)

const (
	// number of reporting intervals without an RR before a timeout fires
	rrTimeoutIntervals = 3

	skipWarnInterval = 10 * time.Second

	// regular reporting interval of an audio session, also used as the
	// aging base for TMMBR entries and receive info
	rtcpIntervalAudio = 5 * time.Second

	// minimum spacing between honored FIRs from the same party
	rtcpMinFrameLength = 17 * time.Millisecond

	// longest CNAME content kept, without terminator (RFC 3550 limits the
	// SDES item to 255 octets)
	cnameMaxLength = 255
)

type ReceiverParams struct {
	// ReceiverOnly suppresses RTT computation from inbound report blocks
	// and all sender-side callbacks.
	ReceiverOnly bool
	Clock        clock.Clock
	Logger       logger.Logger

	// Owner is required, the remaining observers may be nil.
	Owner                     Owner
	BandwidthObserver         BandwidthObserver
	IntraFrameObserver        IntraFrameObserver
	TransportFeedbackObserver TransportFeedbackObserver
	PacketTypeCounterObserver PacketTypeCounterObserver
}

// Receiver is safe for concurrent use: packets arrive on a network goroutine
// while accessors are polled from timer and sender goroutines. The session
// lock guards all session state; observer callbacks are invoked with the lock
// released, except StatisticsCallback.CNameChanged, which is invoked while an
// SDES block is parsed, with the session lock held.
type Receiver struct {
	params ReceiverParams

	lock            sync.Mutex
	mainSSRC        uint32
	remoteSSRC      uint32
	registeredSsrcs map[uint32]struct{}

	remoteSenderInfo  SenderInfo
	lastReceivedSRNtp mediatransportutil.NtpTime

	remoteXRReceiveTimeInfo ReceiveTimeInfo
	lastReceivedXRNtp       mediatransportutil.NtpTime
	xrRrtrStatus            bool
	// last DLRR derived RTT, zero when there is no estimate
	xrRrRttMs int64

	receivedInfoMap map[uint32]*receiveInformation
	// report block info keyed by source SSRC, then by reporting SSRC
	receivedReportBlockMap map[uint32]map[uint32]*reportBlockInformation
	receivedCnameMap       map[uint32]string

	lastReceivedRr              time.Time
	lastIncreasedSequenceNumber time.Time

	packetTypeCounter PacketTypeCounter
	nackStats         nackStats

	numSkippedPackets         uint32
	lastSkippedPacketsWarning time.Time

	feedbackLock  sync.Mutex
	statsCallback StatisticsCallback
}

func NewReceiver(params ReceiverParams) *Receiver {
	if params.Clock == nil {
		params.Clock = clock.New()
	}
	if params.Logger == nil {
		params.Logger = logger.GetLogger()
	}
	return &Receiver{
		params:                    params,
		registeredSsrcs:           make(map[uint32]struct{}),
		receivedInfoMap:           make(map[uint32]*receiveInformation),
		receivedReportBlockMap:    make(map[uint32]map[uint32]*reportBlockInformation),
		receivedCnameMap:          make(map[uint32]string),
		lastSkippedPacketsWarning: params.Clock.Now(),
	}
}

// IncomingPacket parses one compound RTCP datagram, updates session state and
// dispatches observer callbacks. The whole datagram is processed atomically
// with respect to other datagrams before any callback fires, apart from
// StatisticsCallback.CNameChanged, which fires during that processing.
func (r *Receiver) IncomingPacket(data []byte) error {
	if len(data) == 0 {
		r.params.Logger.Warnw("incoming empty RTCP packet", nil)
		return ErrEmptyPacket
	}

	pi := &packetInformation{}
	mainSSRC, counter, err := r.parseCompoundPacket(data, pi)
	if err != nil {
		return err
	}
	if r.params.PacketTypeCounterObserver != nil {
		r.params.PacketTypeCounterObserver.RtcpPacketTypesCounterUpdated(mainSSRC, counter)
	}
	r.triggerCallbacks(pi)
	return nil
}

// nextBlock validates the common header of the block starting at the head of
// data and returns it along with the full block length in bytes.
func nextBlock(data []byte) (rtcp.Header, int, bool) {
	var h rtcp.Header
	if err := h.Unmarshal(data); err != nil {
		return h, 0, false
	}
	blockLen := (int(h.Length) + 1) * 4
	if blockLen > len(data) {
		return h, 0, false
	}
	return h, blockLen, true
}

func (r *Receiver) parseCompoundPacket(data []byte, pi *packetInformation) (uint32, PacketTypeCounter, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	promCompoundPackets.Inc()

	for offset := 0; offset < len(data); {
		h, blockLen, ok := nextBlock(data[offset:])
		if !ok {
			if offset == 0 {
				// nothing was extracted from this datagram
				r.params.Logger.Warnw("incoming invalid RTCP packet", nil)
				return 0, PacketTypeCounter{}, ErrInvalidPacket
			}
			r.skipPacket()
			break
		}

		if r.packetTypeCounter.FirstPacketTime.IsZero() {
			r.packetTypeCounter.FirstPacketTime = r.params.Clock.Now()
		}

		raw := data[offset : offset+blockLen]
		promBlocks.WithLabelValues(h.Type.String()).Inc()
		switch h.Type {
		case rtcp.TypeSenderReport:
			r.handleSenderReport(raw, pi)
		case rtcp.TypeReceiverReport:
			r.handleReceiverReport(raw, pi)
		case rtcp.TypeSourceDescription:
			r.handleSDES(raw, pi)
		case rtcp.TypeGoodbye:
			r.handleBYE(raw, pi)
		case rtcp.TypeExtendedReport:
			r.handleXR(raw, pi)
		case rtcp.TypeTransportSpecificFeedback:
			switch h.Count {
			case rtcp.FormatTLN:
				r.handleNACK(raw, pi)
			case rtcpext.FormatTMMBR:
				r.handleTMMBR(raw, pi)
			case rtcpext.FormatTMMBN:
				r.handleTMMBN(raw, pi)
			case rtcp.FormatRRR:
				r.handleRapidResyncRequest(raw, pi)
			case rtcp.FormatTCC:
				r.handleTransportFeedback(raw, pi)
			default:
				r.skipPacket()
			}
		case rtcp.TypePayloadSpecificFeedback:
			switch h.Count {
			case rtcp.FormatPLI:
				r.handlePLI(raw, pi)
			case rtcp.FormatSLI:
				r.handleSLI(raw, pi)
			case rtcpext.FormatRPSI:
				r.handleRPSI(raw, pi)
			case rtcp.FormatFIR:
				r.handleFIR(raw, pi)
			case rtcp.FormatREMB:
				r.handleREMB(raw, pi)
			default:
				r.skipPacket()
			}
		default:
			r.skipPacket()
		}
		offset += blockLen
	}

	now := r.params.Clock.Now()
	if now.Sub(r.lastSkippedPacketsWarning) >= skipWarnInterval && r.numSkippedPackets > 0 {
		r.lastSkippedPacketsWarning = now
		r.params.Logger.Warnw("skipped malformed or unsupported RTCP blocks", nil,
			"count", r.numSkippedPackets,
			"periodSeconds", int(skipWarnInterval/time.Second))
		r.numSkippedPackets = 0
	}

	return r.mainSSRC, r.packetTypeCounter, nil
}

func (r *Receiver) skipPacket() {
	r.numSkippedPackets++
	promBlocksSkipped.Inc()
}

func (r *Receiver) createReceiveInformation(remoteSSRC uint32) *receiveInformation {
	if info, ok := r.receivedInfoMap[remoteSSRC]; ok {
		return info
	}
	info := newReceiveInformation()
	r.receivedInfoMap[remoteSSRC] = info
	return info
}

func (r *Receiver) getReceiveInformation(remoteSSRC uint32) *receiveInformation {
	return r.receivedInfoMap[remoteSSRC]
}

func (r *Receiver) createOrGetReportBlockInformation(remoteSSRC, sourceSSRC uint32) *reportBlockInformation {
	if info := r.getReportBlockInformation(remoteSSRC, sourceSSRC); info != nil {
		return info
	}
	infoMap, ok := r.receivedReportBlockMap[sourceSSRC]
	if !ok {
		infoMap = make(map[uint32]*reportBlockInformation)
		r.receivedReportBlockMap[sourceSSRC] = infoMap
	}
	info := &reportBlockInformation{}
	infoMap[remoteSSRC] = info
	return info
}

func (r *Receiver) getReportBlockInformation(remoteSSRC, sourceSSRC uint32) *reportBlockInformation {
	return r.receivedReportBlockMap[sourceSSRC][remoteSSRC]
}

func (r *Receiver) handleSenderReport(raw []byte, pi *packetInformation) {
	var sr rtcp.SenderReport
	if err := sr.Unmarshal(raw); err != nil {
		r.skipPacket()
		return
	}

	remoteSSRC := sr.SSRC
	pi.remoteSSRC = remoteSSRC
	info := r.createReceiveInformation(remoteSSRC)

	if r.remoteSSRC == remoteSSRC {
		// only signal an SR when it comes from the party whose sender
		// report is authoritative
		pi.packetTypeFlags |= flagSr
		pi.ntpTimestamp = mediatransportutil.NtpTime(sr.NTPTime)
		pi.rtpTimestamp = sr.RTPTime

		r.remoteSenderInfo = SenderInfo{
			NTPTimestamp: mediatransportutil.NtpTime(sr.NTPTime),
			RTPTimestamp: sr.RTPTime,
			PacketCount:  sr.PacketCount,
			OctetCount:   sr.OctetCount,
		}
		r.lastReceivedSRNtp = mediatransportutil.ToNtpTime(r.params.Clock.Now())
	} else {
		// the sender report of any other party only contributes its
		// report blocks
		pi.packetTypeFlags |= flagRr
	}
	info.lastTimeReceived = r.params.Clock.Now()

	for _, rb := range sr.Reports {
		r.handleReportBlock(rb, pi, remoteSSRC)
	}
}

func (r *Receiver) handleReceiverReport(raw []byte, pi *packetInformation) {
	var rr rtcp.ReceiverReport
	if err := rr.Unmarshal(raw); err != nil {
		r.skipPacket()
		return
	}

	remoteSSRC := rr.SSRC
	pi.remoteSSRC = remoteSSRC
	info := r.createReceiveInformation(remoteSSRC)

	pi.packetTypeFlags |= flagRr
	info.lastTimeReceived = r.params.Clock.Now()

	for _, rb := range rr.Reports {
		r.handleReportBlock(rb, pi, remoteSSRC)
	}
}

func (r *Receiver) handleReportBlock(rb rtcp.ReceptionReport, pi *packetInformation, remoteSSRC uint32) {
	// drop report blocks that do not pertain to one of our streams
	if _, ok := r.registeredSsrcs[rb.SSRC]; !ok {
		return
	}

	info := r.createOrGetReportBlockInformation(remoteSSRC, rb.SSRC)

	now := r.params.Clock.Now()
	r.lastReceivedRr = now

	block := &info.remoteReceiveBlock
	block.RemoteSSRC = remoteSSRC
	block.SourceSSRC = rb.SSRC
	block.FractionLost = rb.FractionLost
	block.CumulativeLost = rb.TotalLost
	if rb.LastSequenceNumber > block.ExtendedHighSeqNum {
		// new RTP packets were delivered to the remote side since its
		// previous report
		r.lastIncreasedSequenceNumber = now
	}
	block.ExtendedHighSeqNum = rb.LastSequenceNumber
	block.Jitter = rb.Jitter
	block.DelaySinceLastSR = rb.Delay
	block.LastSR = rb.LastSenderReport

	if rb.Jitter > info.remoteMaxJitter {
		info.remoteMaxJitter = rb.Jitter
	}

	// RFC 3550 6.4.1: LSR is zero until the reporter has seen an SR, and a
	// receive-only endpoint is not expected to compute RTT at all.
	if !r.params.ReceiverOnly && rb.LastSenderReport != 0 {
		receiveTime := ntputil.CompactNtpNow(now)
		rttNtp := receiveTime - rb.Delay - rb.LastSenderReport
		rtt := ntputil.CompactNtpRttToMs(rttNtp)

		if rtt > info.maxRttMs {
			info.maxRttMs = rtt
		}
		if info.minRttMs == 0 || rtt < info.minRttMs {
			info.minRttMs = rtt
		}
		info.rttMs = rtt

		if info.numAverageCalcs != 0 {
			ac := float64(info.numAverageCalcs)
			info.avgRttMs = int64((ac/(ac+1))*float64(info.avgRttMs) + (1/(ac+1))*float64(rtt) + 0.5)
		} else {
			info.avgRttMs = rtt
		}
		info.numAverageCalcs++
	}

	pi.addReportBlock(info)
}

func (r *Receiver) handleSDES(raw []byte, pi *packetInformation) {
	var sdes rtcp.SourceDescription
	if err := sdes.Unmarshal(raw); err != nil {
		r.skipPacket()
		return
	}

	for _, chunk := range sdes.Chunks {
		for _, item := range chunk.Items {
			if item.Type != rtcp.SDESCNAME {
				continue
			}
			cname := item.Text
			if len(cname) > cnameMaxLength {
				cname = cname[:cnameMaxLength]
			}
			r.receivedCnameMap[chunk.Source] = cname

			r.feedbackLock.Lock()
			if r.statsCallback != nil {
				r.statsCallback.CNameChanged(cname, chunk.Source)
			}
			r.feedbackLock.Unlock()
		}
	}
	pi.packetTypeFlags |= flagSdes
}

func (r *Receiver) handleBYE(raw []byte, pi *packetInformation) {
	var bye rtcp.Goodbye
	if err := bye.Unmarshal(raw); err != nil {
		r.skipPacket()
		return
	}
	if len(bye.Sources) == 0 {
		return
	}
	senderSSRC := bye.Sources[0]

	// purge report blocks the departing party reported on our streams
	for _, infoMap := range r.receivedReportBlockMap {
		delete(infoMap, senderSSRC)
	}

	// receive info cannot be removed immediately, TMMBN state may still be
	// needed; the timer sweep collects it
	if info := r.getReceiveInformation(senderSSRC); info != nil {
		info.readyForDelete = true
	}

	delete(r.receivedCnameMap, senderSSRC)
	r.xrRrRttMs = 0
	pi.packetTypeFlags |= flagBye
}

func (r *Receiver) handleXR(raw []byte, pi *packetInformation) {
	var xr rtcp.ExtendedReport
	if err := xr.Unmarshal(raw); err != nil {
		r.skipPacket()
		return
	}

	pi.xrOriginatorSSRC = xr.SenderSSRC
	for _, report := range xr.Reports {
		switch block := report.(type) {
		case *rtcp.ReceiverReferenceTimeReportBlock:
			r.handleXrReceiveReferenceTime(block, pi)
		case *rtcp.DLRRReportBlock:
			for _, timeInfo := range block.Reports {
				r.handleXrDlrrReportBlock(timeInfo, pi)
			}
		}
	}
}

func (r *Receiver) handleXrReceiveReferenceTime(block *rtcp.ReceiverReferenceTimeReportBlock, pi *packetInformation) {
	r.remoteXRReceiveTimeInfo.SourceSSRC = pi.xrOriginatorSSRC
	r.remoteXRReceiveTimeInfo.LastRR = ntputil.CompactNtp(mediatransportutil.NtpTime(block.NTPTimestamp))
	r.lastReceivedXRNtp = mediatransportutil.ToNtpTime(r.params.Clock.Now())
	pi.packetTypeFlags |= flagXrReceiverReferenceTime
}

func (r *Receiver) handleXrDlrrReportBlock(timeInfo rtcp.DLRRReport, pi *packetInformation) {
	if _, ok := r.registeredSsrcs[timeInfo.SSRC]; !ok { // not to us
		return
	}
	pi.xrDlrrItem = true

	// RTT over extended reports must be explicitly enabled
	if !r.xrRrtrStatus {
		return
	}
	// RFC 3611 4.5: LRR is zero until an RRTR from us was seen
	if timeInfo.LastRR == 0 {
		return
	}

	now := ntputil.CompactNtpNow(r.params.Clock.Now())
	rttNtp := now - timeInfo.DLRR - timeInfo.LastRR
	r.xrRrRttMs = ntputil.CompactNtpRttToMs(rttNtp)
	pi.packetTypeFlags |= flagXrDlrrReportBlock
}

func (r *Receiver) handleNACK(raw []byte, pi *packetInformation) {
	var nack rtcp.TransportLayerNack
	if err := nack.Unmarshal(raw); err != nil {
		r.skipPacket()
		return
	}

	if r.params.ReceiverOnly || r.mainSSRC != nack.MediaSSRC { // not to us
		return
	}

	for _, pair := range nack.Nacks {
		for _, sn := range pair.PacketList() {
			pi.nackSequenceNumbers = append(pi.nackSequenceNumbers, sn)
			r.nackStats.reportRequest(sn)
		}
	}

	if len(pi.nackSequenceNumbers) > 0 {
		pi.packetTypeFlags |= flagNack
		r.packetTypeCounter.NackPackets++
		r.packetTypeCounter.NackRequests = r.nackStats.requests
		r.packetTypeCounter.UniqueNackRequests = r.nackStats.uniqueRequests
	}
}

func (r *Receiver) handleTMMBR(raw []byte, pi *packetInformation) {
	var tmmbr rtcpext.TemporaryMaximumBitrateRequest
	if err := tmmbr.Unmarshal(raw); err != nil {
		r.skipPacket()
		return
	}

	info := r.getReceiveInformation(tmmbr.SenderSSRC)
	if info == nil { // this remote must be known already
		return
	}

	senderSSRC := tmmbr.SenderSSRC
	if tmmbr.MediaSSRC != 0 {
		// media SSRC SHOULD be zero when it matches the sender, a
		// non-zero value identifies the requester in relay mode
		senderSSRC = tmmbr.MediaSSRC
	}

	now := r.params.Clock.Now()
	for _, request := range tmmbr.Requests {
		if r.mainSSRC == request.SSRC && request.BitrateBps != 0 {
			info.insertTmmbrItem(senderSSRC, request, now)
			pi.packetTypeFlags |= flagTmmbr
		}
	}
}

func (r *Receiver) handleTMMBN(raw []byte, pi *packetInformation) {
	var tmmbn rtcpext.TemporaryMaximumBitrateNotification
	if err := tmmbn.Unmarshal(raw); err != nil {
		r.skipPacket()
		return
	}

	info := r.getReceiveInformation(tmmbn.SenderSSRC)
	if info == nil { // this remote must be known already
		return
	}

	pi.packetTypeFlags |= flagTmmbn
	info.tmmbn = append([]rtcpext.TmmbItem(nil), tmmbn.Items...)
}

func (r *Receiver) handleRapidResyncRequest(raw []byte, pi *packetInformation) {
	var req rtcp.RapidResynchronizationRequest
	if err := req.Unmarshal(raw); err != nil {
		r.skipPacket()
		return
	}
	pi.packetTypeFlags |= flagSrReq
}

func (r *Receiver) handleTransportFeedback(raw []byte, pi *packetInformation) {
	feedback := &rtcp.TransportLayerCC{}
	if err := feedback.Unmarshal(raw); err != nil {
		r.skipPacket()
		return
	}
	pi.packetTypeFlags |= flagTransportFeedback
	pi.transportFeedback = feedback
}

func (r *Receiver) handlePLI(raw []byte, pi *packetInformation) {
	var pli rtcp.PictureLossIndication
	if err := pli.Unmarshal(raw); err != nil {
		r.skipPacket()
		return
	}

	if r.mainSSRC == pli.MediaSSRC {
		r.packetTypeCounter.PliPackets++
		// the remote side needs a new key frame from us
		pi.packetTypeFlags |= flagPli
	}
}

func (r *Receiver) handleSLI(raw []byte, pi *packetInformation) {
	// pion/rtcp only parses an SLI under the RTPFB packet type, while
	// RFC 4585 6.3.2 sends it as PSFB
	normalized := append([]byte(nil), raw...)
	normalized[1] = uint8(rtcp.TypeTransportSpecificFeedback)

	var sli rtcp.SliceLossIndication
	if err := sli.Unmarshal(normalized); err != nil {
		r.skipPacket()
		return
	}

	for _, entry := range sli.SLI {
		// multiple slices may be lost, the last picture id wins
		pi.packetTypeFlags |= flagSli
		pi.sliPictureID = entry.Picture
	}
}

func (r *Receiver) handleRPSI(raw []byte, pi *packetInformation) {
	var rpsi rtcpext.ReferencePictureSelectionIndication
	if err := rpsi.Unmarshal(raw); err != nil {
		r.skipPacket()
		return
	}

	// the remote side confirmed a reference picture
	pi.packetTypeFlags |= flagRpsi
	pi.rpsiPictureID = rpsi.PictureID
}

func (r *Receiver) handleREMB(raw []byte, pi *packetInformation) {
	var remb rtcp.ReceiverEstimatedMaximumBitrate
	if err := remb.Unmarshal(raw); err != nil {
		r.skipPacket()
		return
	}

	pi.packetTypeFlags |= flagRemb
	if remb.Bitrate >= float32(math.MaxUint32) {
		pi.receiverEstimatedMaxBitrate = math.MaxUint32
	} else {
		pi.receiverEstimatedMaxBitrate = uint32(remb.Bitrate)
	}
}

func (r *Receiver) handleFIR(raw []byte, pi *packetInformation) {
	var fir rtcp.FullIntraRequest
	if err := fir.Unmarshal(raw); err != nil {
		r.skipPacket()
		return
	}

	info := r.getReceiveInformation(fir.SenderSSRC)

	for _, request := range fir.FIR {
		// is it our sender that is asked for a key frame
		if r.mainSSRC != request.SSRC {
			continue
		}

		r.packetTypeCounter.FirPackets++

		if info != nil {
			// ignore FIRs with the sequence number we already acted
			// on, and rate limit the rest
			if request.SequenceNumber == info.lastFirSequenceNumber {
				continue
			}
			now := r.params.Clock.Now()
			if now.Sub(info.lastFirRequest) >= rtcpMinFrameLength {
				info.lastFirRequest = now
				info.lastFirSequenceNumber = request.SequenceNumber
				pi.packetTypeFlags |= flagFir
			}
		} else {
			// originator unknown, honor the request unconditionally
			pi.packetTypeFlags |= flagFir
		}
	}
}
