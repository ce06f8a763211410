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
	"encoding/binary"
	"testing"
	"time"

	"github.com/pion/rtcp"
	"github.com/stretchr/testify/require"

	"github.com/livekit/mediatransportutil"
	"github.com/livekit/rtcp-receiver/pkg/ntputil"
	"github.com/livekit/rtcp-receiver/pkg/rtcpext"
)

func TestNack(t *testing.T) {
	r, _, observers := newTestReceiver(t, false)

	nack := marshalPackets(t, &rtcp.TransportLayerNack{
		SenderSSRC: testRemoteSSRC,
		MediaSSRC:  testMainSSRC,
		Nacks:      []rtcp.NackPair{{PacketID: 100, LostPackets: 0b111}},
	})
	require.NoError(t, r.IncomingPacket(nack))

	require.Equal(t, [][]uint16{{100, 101, 102, 103}}, observers.owner.nacks)

	r.lock.Lock()
	counter := r.packetTypeCounter
	r.lock.Unlock()
	require.Equal(t, uint32(1), counter.NackPackets)
	require.Equal(t, uint32(4), counter.NackRequests)
	require.Equal(t, uint32(4), counter.UniqueNackRequests)

	// the identical NACK again doubles requests, unique count is unchanged
	require.NoError(t, r.IncomingPacket(nack))
	r.lock.Lock()
	counter = r.packetTypeCounter
	r.lock.Unlock()
	require.Equal(t, uint32(2), counter.NackPackets)
	require.Equal(t, uint32(8), counter.NackRequests)
	require.Equal(t, uint32(4), counter.UniqueNackRequests)
}

func TestNackIgnoredWhenNotForUs(t *testing.T) {
	r, _, observers := newTestReceiver(t, false)

	require.NoError(t, r.IncomingPacket(marshalPackets(t, &rtcp.TransportLayerNack{
		SenderSSRC: testRemoteSSRC,
		MediaSSRC:  0x7777,
		Nacks:      []rtcp.NackPair{{PacketID: 100, LostPackets: 1}},
	})))
	require.Empty(t, observers.owner.nacks)
}

func TestNackIgnoredWhenReceiverOnly(t *testing.T) {
	r, _, observers := newTestReceiver(t, true)

	require.NoError(t, r.IncomingPacket(marshalPackets(t, &rtcp.TransportLayerNack{
		SenderSSRC: testRemoteSSRC,
		MediaSSRC:  testMainSSRC,
		Nacks:      []rtcp.NackPair{{PacketID: 100, LostPackets: 1}},
	})))
	require.Empty(t, observers.owner.nacks)
}

func TestPli(t *testing.T) {
	r, _, observers := newTestReceiver(t, false)

	require.NoError(t, r.IncomingPacket(marshalPackets(t, &rtcp.PictureLossIndication{
		SenderSSRC: testRemoteSSRC,
		MediaSSRC:  testMainSSRC,
	})))
	require.Equal(t, []uint32{testMainSSRC}, observers.intraFrame.intraRequests)

	// PLI for another stream is ignored
	require.NoError(t, r.IncomingPacket(marshalPackets(t, &rtcp.PictureLossIndication{
		SenderSSRC: testRemoteSSRC,
		MediaSSRC:  0x7777,
	})))
	require.Len(t, observers.intraFrame.intraRequests, 1)
}

func TestFirDeduplication(t *testing.T) {
	r, mock, observers := newTestReceiver(t, false)

	injectSenderReport(t, r, testRemoteSSRC)

	sendFIR := func(seq uint8) {
		require.NoError(t, r.IncomingPacket(marshalPackets(t, &rtcp.FullIntraRequest{
			SenderSSRC: testRemoteSSRC,
			FIR:        []rtcp.FIREntry{{SSRC: testMainSSRC, SequenceNumber: seq}},
		})))
	}

	sendFIR(1)
	require.Len(t, observers.intraFrame.intraRequests, 1)

	// same sequence number again is a retransmission
	sendFIR(1)
	require.Len(t, observers.intraFrame.intraRequests, 1)

	// new sequence number but below the minimum spacing
	mock.Add(rtcpMinFrameLength - time.Millisecond)
	sendFIR(2)
	require.Len(t, observers.intraFrame.intraRequests, 1)

	mock.Add(rtcpMinFrameLength + time.Millisecond)
	sendFIR(2)
	require.Len(t, observers.intraFrame.intraRequests, 2)

	r.lock.Lock()
	firPackets := r.packetTypeCounter.FirPackets
	r.lock.Unlock()
	require.Equal(t, uint32(4), firPackets)
}

func TestFirFromUnknownOriginator(t *testing.T) {
	r, _, observers := newTestReceiver(t, false)

	// no receive info for the originator, honored unconditionally
	for i := 0; i < 2; i++ {
		require.NoError(t, r.IncomingPacket(marshalPackets(t, &rtcp.FullIntraRequest{
			SenderSSRC: 0x5555,
			FIR:        []rtcp.FIREntry{{SSRC: testMainSSRC, SequenceNumber: 1}},
		})))
	}
	require.Len(t, observers.intraFrame.intraRequests, 2)
}

func TestSliAndRpsi(t *testing.T) {
	r, _, observers := newTestReceiver(t, false)

	sli := marshalPackets(t, &rtcp.SliceLossIndication{
		SenderSSRC: testRemoteSSRC,
		MediaSSRC:  testMainSSRC,
		SLI:        []rtcp.SLIEntry{{First: 0, Number: 5, Picture: 9}},
	})
	// pion/rtcp marshals an SLI under the RTPFB packet type, RFC 4585 sends
	// it as PSFB
	sli[1] = uint8(rtcp.TypePayloadSpecificFeedback)
	require.NoError(t, r.IncomingPacket(sli))
	require.Equal(t, []uint8{9}, observers.intraFrame.slis)

	require.NoError(t, r.IncomingPacket(marshalPackets(t, &rtcpext.ReferencePictureSelectionIndication{
		SenderSSRC:  testRemoteSSRC,
		MediaSSRC:   testMainSSRC,
		PayloadType: 96,
		PictureID:   0x1234,
	})))
	require.Equal(t, []uint64{0x1234}, observers.intraFrame.rpsis)
}

func TestRemb(t *testing.T) {
	r, _, observers := newTestReceiver(t, false)

	require.NoError(t, r.IncomingPacket(marshalPackets(t, &rtcp.ReceiverEstimatedMaximumBitrate{
		SenderSSRC: testRemoteSSRC,
		Bitrate:    2_000_000,
		SSRCs:      []uint32{testMainSSRC},
	})))
	require.Len(t, observers.bandwidth.estimates, 1)
	require.InDelta(t, 2_000_000, observers.bandwidth.estimates[0], 1)
}

func TestRapidResyncRequest(t *testing.T) {
	r, _, observers := newTestReceiver(t, false)

	req := marshalPackets(t, &rtcp.RapidResynchronizationRequest{
		SenderSSRC: testRemoteSSRC,
		MediaSSRC:  testMainSSRC,
	})
	require.NoError(t, r.IncomingPacket(req))
	require.Equal(t, 1, observers.owner.sendReportRequest)
}

func TestRapidResyncIgnoredWhenReceiverOnly(t *testing.T) {
	r, _, observers := newTestReceiver(t, true)

	require.NoError(t, r.IncomingPacket(marshalPackets(t, &rtcp.RapidResynchronizationRequest{
		SenderSSRC: testRemoteSSRC,
		MediaSSRC:  testMainSSRC,
	})))
	require.Zero(t, observers.owner.sendReportRequest)
}

func TestTmmbrFanOut(t *testing.T) {
	r, _, observers := newTestReceiver(t, false)

	requesters := []uint32{0x100, 0x200, 0x300}
	bitrates := []uint64{500_000, 800_000, 1_200_000}
	for i, ssrc := range requesters {
		// TMMBR requires the remote to be known already
		require.NoError(t, r.IncomingPacket(marshalPackets(t, &rtcp.ReceiverReport{SSRC: ssrc})))
		require.NoError(t, r.IncomingPacket(marshalPackets(t, &rtcpext.TemporaryMaximumBitrateRequest{
			SenderSSRC: ssrc,
			Requests: []rtcpext.TmmbItem{{
				SSRC:           testMainSSRC,
				BitrateBps:     bitrates[i],
				PacketOverhead: 40,
			}},
		})))
	}

	candidates := r.TmmbrReceived()
	require.Len(t, candidates, 3)

	received := make(map[uint32]uint64)
	for _, item := range candidates {
		received[item.SSRC] = item.BitrateBps
	}
	require.Equal(t, map[uint32]uint64{
		0x100: 500_000,
		0x200: 800_000,
		0x300: 1_200_000,
	}, received)

	observers.bandwidth.mu.Lock()
	estimates := append([]uint32(nil), observers.bandwidth.estimates...)
	observers.bandwidth.mu.Unlock()
	require.NotEmpty(t, estimates)
	require.Equal(t, uint32(500_000), estimates[len(estimates)-1])

	r.UpdateTmmbr()
	observers.owner.mu.Lock()
	lastTmmbn := observers.owner.tmmbn[len(observers.owner.tmmbn)-1]
	observers.owner.mu.Unlock()
	require.Len(t, lastTmmbn, 1)
	require.Equal(t, uint64(500_000), lastTmmbn[0].BitrateBps)
}

func TestTmmbrRequiresKnownRemote(t *testing.T) {
	r, _, _ := newTestReceiver(t, false)

	require.NoError(t, r.IncomingPacket(marshalPackets(t, &rtcpext.TemporaryMaximumBitrateRequest{
		SenderSSRC: 0x100,
		Requests: []rtcpext.TmmbItem{{
			SSRC:           testMainSSRC,
			BitrateBps:     500_000,
			PacketOverhead: 40,
		}},
	})))
	require.Empty(t, r.TmmbrReceived())
}

func TestTmmbrEntriesExpire(t *testing.T) {
	r, mock, _ := newTestReceiver(t, false)

	require.NoError(t, r.IncomingPacket(marshalPackets(t, &rtcp.ReceiverReport{SSRC: 0x100})))
	require.NoError(t, r.IncomingPacket(marshalPackets(t, &rtcpext.TemporaryMaximumBitrateRequest{
		SenderSSRC: 0x100,
		Requests: []rtcpext.TmmbItem{{
			SSRC:           testMainSSRC,
			BitrateBps:     500_000,
			PacketOverhead: 40,
		}},
	})))
	require.Len(t, r.TmmbrReceived(), 1)

	mock.Add(5*rtcpIntervalAudio + time.Second)
	require.Empty(t, r.TmmbrReceived())
}

func TestTmmbnAndBoundingSet(t *testing.T) {
	r, _, _ := newTestReceiver(t, false)

	_, owner := r.BoundingSet()
	require.False(t, owner)

	require.NoError(t, r.IncomingPacket(marshalPackets(t, &rtcp.ReceiverReport{SSRC: testRemoteSSRC})))
	require.NoError(t, r.IncomingPacket(marshalPackets(t, &rtcpext.TemporaryMaximumBitrateNotification{
		SenderSSRC: testRemoteSSRC,
		Items: []rtcpext.TmmbItem{
			{SSRC: testMainSSRC, BitrateBps: 500_000, PacketOverhead: 40},
			{SSRC: 0x9999, BitrateBps: 800_000, PacketOverhead: 28},
		},
	})))

	boundingSet, owner := r.BoundingSet()
	require.True(t, owner)
	require.Len(t, boundingSet, 2)

	// a later TMMBN replaces the stored set
	require.NoError(t, r.IncomingPacket(marshalPackets(t, &rtcpext.TemporaryMaximumBitrateNotification{
		SenderSSRC: testRemoteSSRC,
		Items: []rtcpext.TmmbItem{
			{SSRC: 0x9999, BitrateBps: 800_000, PacketOverhead: 28},
		},
	})))
	boundingSet, owner = r.BoundingSet()
	require.False(t, owner)
	require.Len(t, boundingSet, 1)
}

func buildTransportFeedback(t *testing.T, mediaSSRC uint32) []byte {
	t.Helper()

	raw := []byte{
		0x8f, 0xcd, 0x00, 0x05,
		0x00, 0x00, 0x00, 0x00, // sender ssrc
		0x00, 0x00, 0x00, 0x00, // media ssrc
		0x00, 0x01, // base sequence number
		0x00, 0x02, // packet status count
		0x00, 0x00, 0x01, // reference time
		0x00,       // feedback packet count
		0x20, 0x02, // run length chunk, small delta, run 2
		0x04, 0x04, // receive deltas
	}
	binary.BigEndian.PutUint32(raw[4:], testRemoteSSRC)
	binary.BigEndian.PutUint32(raw[8:], mediaSSRC)
	return raw
}

func TestTransportFeedback(t *testing.T) {
	r, _, observers := newTestReceiver(t, false)

	require.NoError(t, r.IncomingPacket(buildTransportFeedback(t, testMainSSRC)))
	require.Len(t, observers.transport.feedbacks, 1)
	require.Equal(t, testMainSSRC, observers.transport.feedbacks[0].MediaSSRC)
}

func TestTransportFeedbackFilteredBySsrc(t *testing.T) {
	r, _, observers := newTestReceiver(t, false)

	require.NoError(t, r.IncomingPacket(buildTransportFeedback(t, 0x9999)))
	require.Empty(t, observers.transport.feedbacks)
}

func TestSdesCname(t *testing.T) {
	r, _, observers := newTestReceiver(t, false)
	r.RegisterRtcpStatisticsCallback(observers.stats)

	require.NoError(t, r.IncomingPacket(marshalPackets(t, &rtcp.SourceDescription{
		Chunks: []rtcp.SourceDescriptionChunk{{
			Source: testRemoteSSRC,
			Items: []rtcp.SourceDescriptionItem{{
				Type: rtcp.SDESCNAME,
				Text: "remote@example.com",
			}},
		}},
	})))

	cname, err := r.CNAME(testRemoteSSRC)
	require.NoError(t, err)
	require.Equal(t, "remote@example.com", cname)
	require.LessOrEqual(t, len(cname), cnameMaxLength)
	require.Equal(t, "remote@example.com", observers.stats.cnames[testRemoteSSRC])

	_, err = r.CNAME(0x4242)
	require.ErrorIs(t, err, ErrCnameNotFound)
}

func TestStatisticsCallbackPerReportBlock(t *testing.T) {
	r, _, observers := newTestReceiver(t, false)
	r.RegisterRtcpStatisticsCallback(observers.stats)
	require.Equal(t, StatisticsCallback(observers.stats), r.GetRtcpStatisticsCallback())

	require.NoError(t, r.IncomingPacket(marshalPackets(t, &rtcp.ReceiverReport{
		SSRC: testRemoteSSRC,
		Reports: []rtcp.ReceptionReport{{
			SSRC:               testMainSSRC,
			FractionLost:       7,
			TotalLost:          9,
			LastSequenceNumber: 1000,
			Jitter:             11,
		}},
	})))

	require.Equal(t, []RtcpStatistics{{
		FractionLost:                  7,
		CumulativeLost:                9,
		ExtendedHighestSequenceNumber: 1000,
		Jitter:                        11,
	}}, observers.stats.stats)
}

func TestXrRrtrAndDlrrRtt(t *testing.T) {
	r, mock, _ := newTestReceiver(t, false)
	r.SetRtcpXrRrtrStatus(true)

	t0 := mock.Now()
	require.NoError(t, r.IncomingPacket(marshalPackets(t, &rtcp.ExtendedReport{
		SenderSSRC: testRemoteSSRC,
		Reports: []rtcp.ReportBlock{&rtcp.ReceiverReferenceTimeReportBlock{
			NTPTimestamp: uint64(mediatransportutil.ToNtpTime(t0)),
		}},
	})))

	info, ok := r.LastReceivedXrReferenceTimeInfo()
	require.True(t, ok)
	require.Equal(t, testRemoteSSRC, info.SourceSSRC)
	require.Equal(t, ntputil.CompactNtpNow(t0), info.LastRR)

	mock.Add(150 * time.Millisecond)
	require.NoError(t, r.IncomingPacket(marshalPackets(t, &rtcp.ExtendedReport{
		SenderSSRC: testRemoteSSRC,
		Reports: []rtcp.ReportBlock{&rtcp.DLRRReportBlock{
			Reports: []rtcp.DLRRReport{{
				SSRC:   testMainSSRC,
				LastRR: ntputil.CompactNtpNow(t0),
				DLRR:   ntputil.MsToCompactNtp(50),
			}},
		}},
	})))

	rtt, ok := r.GetAndResetXrRrRtt()
	require.True(t, ok)
	require.InDelta(t, 100, rtt, 1)

	// destructive read
	_, ok = r.GetAndResetXrRrRtt()
	require.False(t, ok)
}

func TestXrReferenceTimeDelay(t *testing.T) {
	r, mock, _ := newTestReceiver(t, false)

	_, ok := r.LastReceivedXrReferenceTimeInfo()
	require.False(t, ok)

	t0 := mock.Now()
	require.NoError(t, r.IncomingPacket(marshalPackets(t, &rtcp.ExtendedReport{
		SenderSSRC: testRemoteSSRC,
		Reports: []rtcp.ReportBlock{&rtcp.ReceiverReferenceTimeReportBlock{
			NTPTimestamp: uint64(mediatransportutil.ToNtpTime(t0)),
		}},
	})))

	mock.Add(150 * time.Millisecond)
	info, ok := r.LastReceivedXrReferenceTimeInfo()
	require.True(t, ok)
	require.InDelta(t, 150, ntputil.CompactNtpToMs(info.DelaySinceLastRR), 1)
}

func TestXrDlrrWithoutRrtrStatus(t *testing.T) {
	r, mock, _ := newTestReceiver(t, false)
	t0 := mock.Now()

	mock.Add(150 * time.Millisecond)
	require.NoError(t, r.IncomingPacket(marshalPackets(t, &rtcp.ExtendedReport{
		SenderSSRC: testRemoteSSRC,
		Reports: []rtcp.ReportBlock{&rtcp.DLRRReportBlock{
			Reports: []rtcp.DLRRReport{{
				SSRC:   testMainSSRC,
				LastRR: ntputil.CompactNtpNow(t0),
				DLRR:   ntputil.MsToCompactNtp(50),
			}},
		}},
	})))

	_, ok := r.GetAndResetXrRrRtt()
	require.False(t, ok)
}

func TestXrDlrrUnregisteredTargetSkipped(t *testing.T) {
	r, mock, _ := newTestReceiver(t, false)
	r.SetRtcpXrRrtrStatus(true)

	require.NoError(t, r.IncomingPacket(marshalPackets(t, &rtcp.ExtendedReport{
		SenderSSRC: testRemoteSSRC,
		Reports: []rtcp.ReportBlock{&rtcp.DLRRReportBlock{
			Reports: []rtcp.DLRRReport{{
				SSRC:   0x7777, // not ours
				LastRR: ntputil.CompactNtpNow(mock.Now()),
				DLRR:   ntputil.MsToCompactNtp(50),
			}},
		}},
	})))

	_, ok := r.GetAndResetXrRrRtt()
	require.False(t, ok)
}

func TestByeResetsXrRrRtt(t *testing.T) {
	r, mock, _ := newTestReceiver(t, false)
	r.SetRtcpXrRrtrStatus(true)

	t0 := mock.Now()
	mock.Add(100 * time.Millisecond)
	require.NoError(t, r.IncomingPacket(marshalPackets(t, &rtcp.ExtendedReport{
		SenderSSRC: testRemoteSSRC,
		Reports: []rtcp.ReportBlock{&rtcp.DLRRReportBlock{
			Reports: []rtcp.DLRRReport{{
				SSRC:   testMainSSRC,
				LastRR: ntputil.CompactNtpNow(t0),
				DLRR:   ntputil.MsToCompactNtp(10),
			}},
		}},
	})))

	require.NoError(t, r.IncomingPacket(marshalPackets(t, &rtcp.Goodbye{
		Sources: []uint32{testRemoteSSRC},
	})))

	_, ok := r.GetAndResetXrRrRtt()
	require.False(t, ok)
}
