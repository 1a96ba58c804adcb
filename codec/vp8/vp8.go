package vp8

import (
	"fmt"

	"github.com/opd-ai/mediartp/header"
	"github.com/opd-ai/mediartp/rtperr"
	"github.com/opd-ai/mediartp/sequencer"
	"github.com/sirupsen/logrus"
)

const (
	headerSize = 1

	xBit   = 0x80
	nBit   = 0x20
	sBit   = 0x10
	pidLow = 0x07

	iBit = 0x80
	lBit = 0x40
	tBit = 0x20
	kBit = 0x10
	mBit = 0x80

	pictureIDMask = 0x7F
)

// Packetizer fragments VP8 frames, optionally stamping a rolling
// PictureID on each fragment.
type Packetizer struct {
	MTU             uint16
	SSRC            uint32
	PayloadType     uint8
	Timestamp       uint32
	Seq             sequencer.Sequencer
	EnablePictureID bool

	pictureID uint16
}

// NewPacketizer returns a Packetizer ready to pack frames up to mtu
// octets.
func NewPacketizer(mtu uint16) *Packetizer {
	return &Packetizer{MTU: mtu, Seq: sequencer.NewRandom()}
}

// Packetize fragments frame into VP8-descriptored transport packets.
func (p *Packetizer) Packetize(frame []byte) ([][]byte, error) {
	log := logrus.WithFields(logrus.Fields{"function": "Packetize", "codec": "vp8", "frameLen": len(frame)})

	descSize := headerSize
	if p.EnablePictureID {
		if p.pictureID < 128 {
			descSize = headerSize + 2
		} else {
			descSize = headerSize + 3
		}
	}

	maxFragment := int(p.MTU) - descSize
	if maxFragment <= 0 || len(frame) == 0 {
		return nil, rtperr.ErrFrameTooLarge
	}

	var packets [][]byte
	remaining := len(frame)
	index := 0
	first := true

	for remaining > 0 {
		fragSize := maxFragment
		if fragSize > remaining {
			fragSize = remaining
		}

		payload := make([]byte, descSize+fragSize)
		if first {
			payload[0] = sBit
			first = false
		}

		if p.EnablePictureID {
			payload[0] |= xBit
			payload[1] |= iBit
			switch descSize {
			case headerSize + 2:
				payload[2] = byte(p.pictureID & pictureIDMask)
			case headerSize + 3:
				payload[2] = mBit | byte((p.pictureID>>8)&pictureIDMask)
				payload[3] = byte(p.pictureID & 0xFF)
			}
		}

		copy(payload[descSize:], frame[index:index+fragSize])

		pkt := header.Packet{
			Header: header.Header{
				Version:        2,
				Marker:         remaining == fragSize,
				PayloadType:    p.PayloadType,
				SequenceNumber: p.Seq.Next(),
				Timestamp:      p.Timestamp,
				SSRC:           p.SSRC,
			},
			Payload: payload,
		}

		buf, err := pkt.Marshal()
		if err != nil {
			log.WithError(err).Error("failed to marshal packet")
			return nil, fmt.Errorf("vp8: marshal packet: %w", err)
		}
		packets = append(packets, buf)

		remaining -= fragSize
		index += fragSize
	}

	if p.EnablePictureID {
		p.pictureID = (p.pictureID + 1) & 0x7FFF
	}

	log.WithField("packets", len(packets)).Debug("packetized vp8 frame")
	return packets, nil
}

// Descriptor is the parsed VP8 payload descriptor.
type Descriptor struct {
	X, N, S, PID uint8
	I, L, T, K   uint8
	PictureID    uint16
	TL0PICIDX    uint8
	TID          uint8
	Y            uint8
	KEYIDX       uint8
}

// Depacketizer parses the VP8 descriptor from each transport packet's
// payload.
type Depacketizer struct{}

// Depacketize parses rtpPacket's VP8 descriptor and returns the
// remaining frame bytes.
func (d *Depacketizer) Depacketize(rtpPacket []byte) ([]byte, error) {
	var pkt header.Packet
	if err := pkt.Unmarshal(rtpPacket); err != nil {
		return nil, fmt.Errorf("vp8: unmarshal packet: %w", err)
	}

	_, payload, err := parseDescriptor(pkt.Payload)
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func parseDescriptor(buf []byte) (Descriptor, []byte, error) {
	var desc Descriptor
	if len(buf) == 0 {
		return desc, nil, rtperr.ErrShortBuffer
	}

	i := 0
	desc.X = buf[i] >> 7 & 0x1
	desc.N = buf[i] >> 5 & 0x1
	desc.S = buf[i] >> 4 & 0x1
	desc.PID = buf[i] & pidLow
	i++

	if desc.X == 1 {
		if i >= len(buf) {
			return desc, nil, rtperr.ErrShortBuffer
		}
		desc.I = buf[i] >> 7 & 0x1
		desc.L = buf[i] >> 6 & 0x1
		desc.T = buf[i] >> 5 & 0x1
		desc.K = buf[i] >> 4 & 0x1
		i++
	}

	if desc.I == 1 {
		if i >= len(buf) {
			return desc, nil, rtperr.ErrShortBuffer
		}
		if buf[i]&mBit != 0 {
			if i+1 >= len(buf) {
				return desc, nil, rtperr.ErrShortBuffer
			}
			desc.PictureID = uint16(buf[i]&pictureIDMask)<<8 | uint16(buf[i+1])
			i += 2
		} else {
			desc.PictureID = uint16(buf[i])
			i++
		}
	}

	if desc.L == 1 {
		if i >= len(buf) {
			return desc, nil, rtperr.ErrShortBuffer
		}
		desc.TL0PICIDX = buf[i]
		i++
	}

	if desc.T == 1 || desc.K == 1 {
		if i >= len(buf) {
			return desc, nil, rtperr.ErrShortBuffer
		}
		if desc.T == 1 {
			desc.TID = buf[i] >> 6
			desc.Y = buf[i] >> 5 & 0x1
		}
		if desc.K == 1 {
			desc.KEYIDX = buf[i] & 0x1F
		}
		i++
	}

	return desc, buf[i:], nil
}

// IsPartitionHead reports the S bit of payload's leading descriptor
// octet.
func (d *Depacketizer) IsPartitionHead(payload []byte) bool {
	if len(payload) < 1 {
		return false
	}
	return payload[0]&sBit != 0
}

// IsPartitionTail reports the RTP marker bit.
func (d *Depacketizer) IsPartitionTail(marker bool, payload []byte) bool {
	return marker
}

// SetSSRC sets the SSRC stamped on every packet this Packetizer emits.
func (p *Packetizer) SetSSRC(ssrc uint32) { p.SSRC = ssrc }

// SetPayloadType sets the RTP payload type stamped on every packet
// this Packetizer emits.
func (p *Packetizer) SetPayloadType(pt uint8) { p.PayloadType = pt }

// SetTimestamp sets the RTP timestamp stamped on every packet this
// Packetizer emits.
func (p *Packetizer) SetTimestamp(ts uint32) { p.Timestamp = ts }
