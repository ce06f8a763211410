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

// A TemporaryMaximumBitrateNotification (TMMBN, RFC 5104 section 4.2.2)
// carries the bounding set the media sender currently honors. The FCI layout
// is identical to TMMBR; an empty item list is valid and clears the
// notification.
type TemporaryMaximumBitrateNotification struct {
	SenderSSRC uint32
	MediaSSRC  uint32
	Items      []TmmbItem
}

// Marshal encodes the TemporaryMaximumBitrateNotification in binary
func (p TemporaryMaximumBitrateNotification) Marshal() ([]byte, error) {
	rawPacket := make([]byte, p.MarshalSize())
	h := rtcp.Header{
		Count:  FormatTMMBN,
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
	for i, item := range p.Items {
		item.marshalTo(rawPacket[headerLength+2*ssrcLength+i*tmmbItemLength:])
	}
	return rawPacket, nil
}

// Unmarshal decodes the TemporaryMaximumBitrateNotification from binary
func (p *TemporaryMaximumBitrateNotification) Unmarshal(rawPacket []byte) error {
	var h rtcp.Header
	if err := h.Unmarshal(rawPacket); err != nil {
		return err
	}
	if h.Type != rtcp.TypeTransportSpecificFeedback || h.Count != FormatTMMBN {
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
	p.Items = make([]TmmbItem, 0, fciLen/tmmbItemLength)
	for offset := headerLength + 2*ssrcLength; offset < packetLen; offset += tmmbItemLength {
		var item TmmbItem
		if err := item.unmarshalFrom(rawPacket[offset:]); err != nil {
			return err
		}
		p.Items = append(p.Items, item)
	}
	return nil
}

// MarshalSize returns the size of the packet once marshaled
func (p TemporaryMaximumBitrateNotification) MarshalSize() int {
	return headerLength + 2*ssrcLength + len(p.Items)*tmmbItemLength
}

// DestinationSSRC returns the SSRCs of the bounding set items
func (p TemporaryMaximumBitrateNotification) DestinationSSRC() []uint32 {
	ssrcs := make([]uint32, 0, len(p.Items))
	for _, item := range p.Items {
		ssrcs = append(ssrcs, item.SSRC)
	}
	return ssrcs
}
