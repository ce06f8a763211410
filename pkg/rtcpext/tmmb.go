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

// Package rtcpext implements the RTCP feedback packets that pion/rtcp does
// not ship: TMMBR and TMMBN (RFC 5104) and RPSI (RFC 4585), along with the
// TMMB bounding set computation of RFC 5104 section 3.5.4.2.
package rtcpext

import "encoding/binary"

// RTPFB and PSFB message types handled by this package.
const (
	// FormatTMMBR is the RTPFB format of a Temporary Maximum Media Stream
	// Bit Rate Request.
	FormatTMMBR uint8 = 3
	// FormatTMMBN is the RTPFB format of a Temporary Maximum Media Stream
	// Bit Rate Notification.
	FormatTMMBN uint8 = 4
	// FormatRPSI is the PSFB format of a Reference Picture Selection
	// Indication.
	FormatRPSI uint8 = 3
)

const (
	headerLength = 4
	ssrcLength   = 4

	tmmbItemLength = 8

	mantissaMax = 0x1ffff // 17 bits
	overheadMax = 0x1ff   // 9 bits
)

// A TmmbItem is one FCI entry of a TMMBR or TMMBN packet: a maximum total
// media bit rate request or notification for a single media stream.
//
//	 0                   1                   2                   3
//	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|                              SSRC                             |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	| MxTBR Exp |  MxTBR Mantissa                 |Measured Overhead|
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
type TmmbItem struct {
	// SSRC the request applies to. In session state this is rewritten to
	// the SSRC of the requesting party.
	SSRC uint32
	// Maximum total media bit rate in bits per second.
	BitrateBps uint64
	// Measured per-packet overhead in bytes.
	PacketOverhead uint16
}

func (t *TmmbItem) unmarshalFrom(data []byte) error {
	if len(data) < tmmbItemLength {
		return errPacketTooShort
	}
	t.SSRC = binary.BigEndian.Uint32(data)
	word := binary.BigEndian.Uint32(data[4:])
	exponent := word >> 26
	mantissa := uint64((word >> 9) & mantissaMax)
	t.PacketOverhead = uint16(word & overheadMax)
	if exponent > 0 && mantissa != (mantissa<<exponent)>>exponent {
		return errBitrateOverflow
	}
	t.BitrateBps = mantissa << exponent
	return nil
}

func (t TmmbItem) marshalTo(data []byte) {
	mantissa := t.BitrateBps
	exponent := uint32(0)
	for mantissa > mantissaMax {
		mantissa >>= 1
		exponent++
	}
	binary.BigEndian.PutUint32(data, t.SSRC)
	word := exponent<<26 | uint32(mantissa)<<9 | uint32(t.PacketOverhead&overheadMax)
	binary.BigEndian.PutUint32(data[4:], word)
}
