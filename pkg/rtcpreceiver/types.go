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
)

// ReportBlock is one reception report block as received in an SR or RR,
// annotated with the SSRC of the reporting party.
type ReportBlock struct {
	// SSRC of the party the report came from.
	RemoteSSRC uint32
	// SSRC of the local stream the report pertains to.
	SourceSSRC         uint32
	FractionLost       uint8
	CumulativeLost     uint32
	ExtendedHighSeqNum uint32
	Jitter             uint32
	// Compact NTP timestamp of the last SR from us, zero if none was seen.
	LastSR uint32
	// Delay between receiving that SR and sending this report, in 1/65536s.
	DelaySinceLastSR uint32
}

// SenderInfo is the sender block of the most recent SR from the remote party.
type SenderInfo struct {
	NTPTimestamp mediatransportutil.NtpTime
	RTPTimestamp uint32
	PacketCount  uint32
	OctetCount   uint32
}

// ReceiveTimeInfo mirrors the RFC 3611 receiver reference time report: the
// compact NTP time of the last RRTR received and the delay since then.
type ReceiveTimeInfo struct {
	SourceSSRC       uint32
	LastRR           uint32
	DelaySinceLastRR uint32
}

// RttStats is the round trip time estimate derived from report blocks
// matching one remote party, all values in milliseconds.
type RttStats struct {
	LastMs int64
	AvgMs  int64
	MinMs  int64
	MaxMs  int64
}

// RtcpStatistics is the per-source slice of a report block handed to the
// statistics callback.
type RtcpStatistics struct {
	FractionLost                  uint8
	CumulativeLost                uint32
	ExtendedHighestSequenceNumber uint32
	Jitter                        uint32
}

// PacketTypeCounter tallies feedback packets seen on this session.
type PacketTypeCounter struct {
	FirstPacketTime    time.Time
	NackPackets        uint32
	FirPackets         uint32
	PliPackets         uint32
	NackRequests       uint32
	UniqueNackRequests uint32
}
