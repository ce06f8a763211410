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

package rtcpext

import (
	"encoding/binary"

	"github.com/pion/rtcp"
)

// A TemporaryMaximumBitrateRequest (TMMBR, RFC 5104 section 4.2.1) asks the
// media sender to cap its total bit rate for one or more streams.
//
//	 0                   1                   2                   3
//	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|V=2|P|  FMT=3  |    PT=205     |             length            |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|                  SSRC of packet sender                        |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|                  SSRC of media source                         |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	:            Feedback Control Information (FCI)                 :
type TemporaryMaximumBitrateRequest struct {
	SenderSSRC uint32
	MediaSSRC  uint32
	Requests   []TmmbItem
}

// Marshal encodes the TemporaryMaximumBitrateRequest in binary
func (p TemporaryMaximumBitrateRequest) Marshal() ([]byte, error) {
	rawPacket := make([]byte, p.MarshalSize())
	h := rtcp.Header{
		Count:  FormatTMMBR,
		Type:   rtcp.TypeTransportSpecificFeedback,
		Length: uint16(p.MarshalSize()/4 - 1),
	}
	hData, err := h.Marshal()
	if err != nil {
		return nil, err
	}
	copy(rawPacket, hData)
	binary.BigEndian.PutUint32(rawPacket[headerLength:], p.SenderSSRC)
	binary.BigEndian.PutUint32(rawPacket[headerLength+ssrcLength:], p.MediaSSRC)
	for i, req := range p.Requests {
		req.marshalTo(rawPacket[headerLength+2*ssrcLength+i*tmmbItemLength:])
	}
	return rawPacket, nil
}

// Unmarshal decodes the TemporaryMaximumBitrateRequest from binary
func (p *TemporaryMaximumBitrateRequest) Unmarshal(rawPacket []byte) error {
	var h rtcp.Header
	if err := h.Unmarshal(rawPacket); err != nil {
		return err
	}
	if h.Type != rtcp.TypeTransportSpecificFeedback || h.Count != FormatTMMBR {
		return errWrongType
	}

	packetLen := (int(h.Length) + 1) * 4
	if packetLen > len(rawPacket) {
		return errPacketTooShort
	}
	fciLen := packetLen - headerLength - 2*ssrcLength
	if fciLen < 0 || fciLen%tmmbItemLength != 0 {
		return errBadLength
	}

	p.SenderSSRC = binary.BigEndian.Uint32(rawPacket[headerLength:])
	p.MediaSSRC = binary.BigEndian.Uint32(rawPacket[headerLength+ssrcLength:])
	p.Requests = make([]TmmbItem, 0, fciLen/tmmbItemLength)
	for offset := headerLength + 2*ssrcLength; offset < packetLen; offset += tmmbItemLength {
		var item TmmbItem
		if err := item.unmarshalFrom(rawPacket[offset:]); err != nil {
			return err
		}
		p.Requests = append(p.Requests, item)
	}
	return nil
}

// MarshalSize returns the size of the packet once marshaled
func (p TemporaryMaximumBitrateRequest) MarshalSize() int {
	return headerLength + 2*ssrcLength + len(p.Requests)*tmmbItemLength
}

// DestinationSSRC returns the SSRC the FCI entries of this packet refer to
func (p TemporaryMaximumBitrateRequest) DestinationSSRC() []uint32 {
	ssrcs := make([]uint32, 0, len(p.Requests))
	for _, req := range p.Requests {
		ssrcs = append(ssrcs, req.SSRC)
	}
	return ssrcs
}
