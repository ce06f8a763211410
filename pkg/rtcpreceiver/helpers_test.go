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
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/rtcp"
	"github.com/stretchr/testify/require"

	"github.com/livekit/rtcp-receiver/pkg/rtcpext"
)

const (
	testMainSSRC   = uint32(0xCAFE)
	testRemoteSSRC = uint32(0xBEEF)
)

type testOwner struct {
	mu                sync.Mutex
	tmmbn             [][]rtcpext.TmmbItem
	sendReportRequest int
	nacks             [][]uint16
	reportBlockCalls  int
	reportBlocks      [][]ReportBlock
}

func (o *testOwner) SetTmmbn(boundingSet []rtcpext.TmmbItem) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tmmbn = append(o.tmmbn, boundingSet)
}

func (o *testOwner) OnRequestSendReport() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sendReportRequest++
}

func (o *testOwner) OnReceivedNack(nackSequenceNumbers []uint16) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nacks = append(o.nacks, nackSequenceNumbers)
}

func (o *testOwner) OnReceivedRtcpReportBlocks(reportBlocks []ReportBlock) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reportBlockCalls++
	o.reportBlocks = append(o.reportBlocks, reportBlocks)
}

type receivedReport struct {
	blocks []ReportBlock
	rttMs  int64
}

type testBandwidthObserver struct {
	mu        sync.Mutex
	estimates []uint32
	reports   []receivedReport
}

func (o *testBandwidthObserver) OnReceivedEstimatedBitrate(bitrateBps uint32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.estimates = append(o.estimates, bitrateBps)
}

func (o *testBandwidthObserver) OnReceivedRtcpReceiverReport(reportBlocks []ReportBlock, rttMs int64, _ time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reports = append(o.reports, receivedReport{blocks: reportBlocks, rttMs: rttMs})
}

type testIntraFrameObserver struct {
	mu            sync.Mutex
	intraRequests []uint32
	slis          []uint8
	rpsis         []uint64
	ssrcChanges   [][2]uint32
}

func (o *testIntraFrameObserver) OnReceivedIntraFrameRequest(ssrc uint32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.intraRequests = append(o.intraRequests, ssrc)
}

func (o *testIntraFrameObserver) OnReceivedSLI(_ uint32, pictureID uint8) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.slis = append(o.slis, pictureID)
}

func (o *testIntraFrameObserver) OnReceivedRPSI(_ uint32, pictureID uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rpsis = append(o.rpsis, pictureID)
}

func (o *testIntraFrameObserver) OnLocalSsrcChanged(oldSSRC, newSSRC uint32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ssrcChanges = append(o.ssrcChanges, [2]uint32{oldSSRC, newSSRC})
}

type testTransportFeedbackObserver struct {
	mu        sync.Mutex
	feedbacks []*rtcp.TransportLayerCC
}

func (o *testTransportFeedbackObserver) OnTransportFeedback(feedback *rtcp.TransportLayerCC) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.feedbacks = append(o.feedbacks, feedback)
}

type testStatisticsCallback struct {
	mu     sync.Mutex
	stats  []RtcpStatistics
	cnames map[uint32]string
}

func (o *testStatisticsCallback) StatisticsUpdated(stats RtcpStatistics, _ uint32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stats = append(o.stats, stats)
}

func (o *testStatisticsCallback) CNameChanged(cname string, ssrc uint32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cnames == nil {
		o.cnames = make(map[uint32]string)
	}
	o.cnames[ssrc] = cname
}

type testObservers struct {
	owner      *testOwner
	bandwidth  *testBandwidthObserver
	intraFrame *testIntraFrameObserver
	transport  *testTransportFeedbackObserver
	stats      *testStatisticsCallback
}

func newTestReceiver(t *testing.T, receiverOnly bool) (*Receiver, *clock.Mock, *testObservers) {
	t.Helper()

	observers := &testObservers{
		owner:      &testOwner{},
		bandwidth:  &testBandwidthObserver{},
		intraFrame: &testIntraFrameObserver{},
		transport:  &testTransportFeedbackObserver{},
		stats:      &testStatisticsCallback{},
	}
	mock := clock.NewMock()
	r := NewReceiver(ReceiverParams{
		ReceiverOnly:              receiverOnly,
		Clock:                     mock,
		Owner:                     observers.owner,
		BandwidthObserver:         observers.bandwidth,
		IntraFrameObserver:        observers.intraFrame,
		TransportFeedbackObserver: observers.transport,
	})
	r.SetSsrcs(testMainSSRC, []uint32{testMainSSRC})
	r.SetRemoteSSRC(testRemoteSSRC)
	return r, mock, observers
}

func marshalPackets(t *testing.T, packets ...rtcp.Packet) []byte {
	t.Helper()

	var compound []byte
	for _, packet := range packets {
		raw, err := packet.Marshal()
		require.NoError(t, err)
		compound = append(compound, raw...)
	}
	return compound
}

func injectSenderReport(t *testing.T, r *Receiver, senderSSRC uint32) {
	t.Helper()

	require.NoError(t, r.IncomingPacket(marshalPackets(t, &rtcp.SenderReport{
		SSRC:    senderSSRC,
		NTPTime: 0x0001020304050607,
		RTPTime: 0x10203040,
	})))
}

func (r *Receiver) numSkipped() uint32 {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.numSkippedPackets
}
