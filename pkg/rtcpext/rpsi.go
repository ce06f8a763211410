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

// A ReferencePictureSelectionIndication (RPSI, RFC 4585 section 6.3.3)
// confirms a reference picture to the encoder. The native bit string holds
// the picture id in groups of 7 bits, most significant group first, with a
// continuation bit on every group but the last.
//
//	 0                   1                   2                   3
//	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|      PB       |0| Payload Type|    Native RPSI bit string     |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|   defined per codec          ...                | Padding (0) |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
type ReferencePictureSelectionIndication struct {
	SenderSSRC  uint32
	MediaSSRC   uint32
	PayloadType uint8
	PictureID   uint64
}

const pidBitsPerByte = 7

// Marshal encodes the ReferencePictureSelectionIndication in binary
func (p ReferencePictureSelectionIndication) Marshal() ([]byte, error) {
	rawPacket := make([]byte, p.MarshalSize())
	h := rtcp.Header{
		Count:  FormatRPSI,
		Type:   rtcp.TypePayloadSpecificFeedback,
		Length: uint16(p.MarshalSize()/4 - 1),
	}
	hData, err := h.Marshal()
	if err != nil {
		return nil, err
	}
	copy(rawPacket, hData)
	binary.BigEndian.PutUint32(rawPacket[headerLength:], p.SenderSSRC)
	binary.BigEndian.PutUint32(rawPacket[headerLength+ssrcLength:], p.MediaSSRC)

	pidBytes := p.pictureIDBytes()
	padBytes := p.MarshalSize() - headerLength - 2*ssrcLength - 2 - pidBytes
	rawPacket[headerLength+2*ssrcLength] = uint8(padBytes * 8)
	rawPacket[headerLength+2*ssrcLength+1] = p.PayloadType & 0x7f
	pos := headerLength + 2*ssrcLength + 2
	for i := pidBytes; i > 0; i-- {
		b := uint8(p.PictureID>>(uint(i-1)*pidBitsPerByte)) & 0x7f
		if i > 1 {
			b |= 0x80
		}
		rawPacket[pos] = b
		pos++
	}
	return rawPacket, nil
}

// Unmarshal decodes the ReferencePictureSelectionIndication from binary
func (p *ReferencePictureSelectionIndication) Unmarshal(rawPacket []byte) error {
	var h rtcp.Header
	if err := h.Unmarshal(rawPacket); err != nil {
		return err
	}
	if h.Type != rtcp.TypePayloadSpecificFeedback || h.Count != FormatRPSI {
		return errWrongType
	}

	packetLen := (int(h.Length) + 1) * 4
	if packetLen > len(rawPacket) || packetLen < headerLength+2*ssrcLength+2 {
		return errPacketTooShort
	}

	p.SenderSSRC = binary.BigEndian.Uint32(rawPacket[headerLength:])
	p.MediaSSRC = binary.BigEndian.Uint32(rawPacket[headerLength+ssrcLength:])

	paddingBits := int(rawPacket[headerLength+2*ssrcLength])
	if paddingBits%8 != 0 {
		return errBadPadding
	}
	p.PayloadType = rawPacket[headerLength+2*ssrcLength+1] & 0x7f

	pidBytes := packetLen - headerLength - 2*ssrcLength - 2 - paddingBits/8
	if pidBytes < 1 {
		return errPacketTooShort
	}
	p.PictureID = 0
	for _, b := range rawPacket[headerLength+2*ssrcLength+2 : headerLength+2*ssrcLength+2+pidBytes] {
		p.PictureID = p.PictureID<<pidBitsPerByte | uint64(b&0x7f)
	}
	return nil
}

// MarshalSize returns the size of the packet once marshaled
func (p ReferencePictureSelectionIndication) MarshalSize() int {
	unpadded := headerLength + 2*ssrcLength + 2 + p.pictureIDBytes()
	return (unpadded + 3) &^ 3
}

// DestinationSSRC returns the SSRC of the media source
func (p ReferencePictureSelectionIndication) DestinationSSRC() []uint32 {
	return []uint32{p.MediaSSRC}
}

func (p ReferencePictureSelectionIndication) pictureIDBytes() int {
	n := 1
	for p.PictureID>>(uint(n)*pidBitsPerByte) != 0 {
		n++
	}
	return n
}
