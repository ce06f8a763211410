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
	"github.com/livekit/mediatransportutil"
	"github.com/pion/rtcp"
)

// packet type flags accumulated while parsing one compound packet
const (
	flagSr uint32 = 1 << iota
	flagRr
	flagSdes
	flagBye
	flagPli
	flagNack
	flagFir
	flagTmmbr
	flagTmmbn
	flagSrReq
	flagSli
	flagRpsi
	flagRemb
	flagXrReceiverReferenceTime
	flagXrDlrrReportBlock
	flagTransportFeedback
)

// packetInformation collects everything extracted from one compound packet
// under the session lock, to be fanned out to observers after the lock is
// released.
type packetInformation struct {
	packetTypeFlags uint32
	remoteSSRC      uint32

	nackSequenceNumbers []uint16
	reportBlocks        []ReportBlock
	// last RTT computed from the report blocks above
	rttMs int64

	ntpTimestamp mediatransportutil.NtpTime
	rtpTimestamp uint32

	sliPictureID  uint8
	rpsiPictureID uint64

	receiverEstimatedMaxBitrate uint32

	xrOriginatorSSRC uint32
	xrDlrrItem       bool

	transportFeedback *rtcp.TransportLayerCC
}

func (pi *packetInformation) addReportBlock(info *reportBlockInformation) {
	pi.rttMs = info.rttMs
	pi.reportBlocks = append(pi.reportBlocks, info.remoteReceiveBlock)
}
