package vp9

import (
	"fmt"

	"github.com/opd-ai/mediartp/header"
	"github.com/opd-ai/mediartp/rtperr"
	"github.com/opd-ai/mediartp/sequencer"
	"github.com/pion/randutil"
	"github.com/sirupsen/logrus"
)

const (
	iBit = 0x80
	pBit = 0x40
	lBit = 0x20
	fBit = 0x10
	bBit = 0x08
	eBit = 0x04
	vBit = 0x02
	zBit = 0x01

	mBit = 0x80

	maxSpatialLayers = 5
	maxVP9RefPics    = 3
)

// Descriptor is the parsed VP9 payload descriptor.
type Descriptor struct {
	I, P, L, F, B, E, V, Z bool

	PictureID uint16

	TID uint8
	U   bool
	SID uint8
	D   bool

	PDiff []uint8

	TL0PICIDX uint8

	NS  uint8
	Y   bool
	G   bool
	NG  uint8
}

var randGen = randutil.NewMathRandomGenerator()

// Packetizer builds VP9 payload descriptors in either flexible
// (reference-index) or non-flexible (layer-index) mode.
type Packetizer struct {
	MTU             uint16
	SSRC            uint32
	PayloadType     uint8
	Timestamp       uint32
	Seq             sequencer.Sequencer
	FlexibleMode    bool

	pictureID     uint16
	initialized   bool
	tl0picidx     uint8
}

// NewPacketizer returns a Packetizer ready to pack frames up to mtu
// octets, with its initial PictureID seeded from a random source.
func NewPacketizer(mtu uint16) *Packetizer {
	return &Packetizer{
		MTU:       mtu,
		Seq:       sequencer.NewRandom(),
		pictureID: uint16(randGen.Intn(1 << 15)),
	}
}

// SetInitialPictureID overrides the random seed used for the first
// frame's PictureID.
func (p *Packetizer) SetInitialPictureID(id uint16) {
	p.pictureID = id & 0x7FFF
}

// Packetize fragments frame into VP9-descriptored transport packets.
func (p *Packetizer) Packetize(frame []byte) ([][]byte, error) {
	log := logrus.WithFields(logrus.Fields{"function": "Packetize", "codec": "vp9", "frameLen": len(frame)})

	keyFrame := isKeyFrame(frame)

	var descHeader []byte
	if p.FlexibleMode {
		descHeader = p.flexibleDescriptor()
	} else {
		descHeader = p.nonFlexibleDescriptor(keyFrame)
	}

	maxFragment := int(p.MTU) - len(descHeader)
	if maxFragment <= 0 || len(frame) == 0 {
		return nil, rtperr.ErrFrameTooLarge
	}

	var packets [][]byte
	remaining := len(frame)
	index := 0

	for remaining > 0 {
		fragSize := maxFragment
		if fragSize > remaining {
			fragSize = remaining
		}

		desc := make([]byte, len(descHeader))
		copy(desc, descHeader)
		if index == 0 {
			desc[0] |= bBit
		}
		last := remaining == fragSize
		if last {
			desc[0] |= eBit
		}

		payload := append(desc, frame[index:index+fragSize]...)

		pkt := header.Packet{
			Header: header.Header{
				Version:        2,
				Marker:         last,
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
			return nil, fmt.Errorf("vp9: marshal packet: %w", err)
		}
		packets = append(packets, buf)

		remaining -= fragSize
		index += fragSize
	}

	if !p.FlexibleMode && keyFrame {
		p.tl0picidx++
	}
	p.pictureID = (p.pictureID + 1) & 0x7FFF

	log.WithField("packets", len(packets)).Debug("packetized vp9 frame")
	return packets, nil
}

func (p *Packetizer) flexibleDescriptor() []byte {
	// I=1, F=1; B/E set per-fragment by the caller.
	b := make([]byte, 3)
	b[0] = iBit | fBit
	b[1] = mBit | byte(p.pictureID>>8)
	b[2] = byte(p.pictureID & 0xFF)
	return b
}

func (p *Packetizer) nonFlexibleDescriptor(keyFrame bool) []byte {
	b := make([]byte, 5)
	b[0] = iBit | lBit
	if !keyFrame {
		b[0] |= pBit
	}
	b[1] = mBit | byte(p.pictureID>>8)
	b[2] = byte(p.pictureID & 0xFF)
	b[3] = 0 // temporal id 0, spatial id 0, no layer sync
	b[4] = p.tl0picidx
	return b
}

// Depacketizer parses the VP9 descriptor from each transport packet's
// payload.
type Depacketizer struct{}

// Depacketize parses rtpPacket's VP9 descriptor and returns the
// remaining frame bytes.
func (d *Depacketizer) Depacketize(rtpPacket []byte) ([]byte, error) {
	var pkt header.Packet
	if err := pkt.Unmarshal(rtpPacket); err != nil {
		return nil, fmt.Errorf("vp9: unmarshal packet: %w", err)
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
	desc.I = buf[i]&iBit != 0
	desc.P = buf[i]&pBit != 0
	desc.L = buf[i]&lBit != 0
	desc.F = buf[i]&fBit != 0
	desc.B = buf[i]&bBit != 0
	desc.E = buf[i]&eBit != 0
	desc.V = buf[i]&vBit != 0
	desc.Z = buf[i]&zBit != 0
	i++

	if desc.I {
		if i >= len(buf) {
			return desc, nil, rtperr.ErrShortBuffer
		}
		if buf[i]&mBit != 0 {
			if i+1 >= len(buf) {
				return desc, nil, rtperr.ErrShortBuffer
			}
			desc.PictureID = uint16(buf[i]&0x7F)<<8 | uint16(buf[i+1])
			i += 2
		} else {
			desc.PictureID = uint16(buf[i] & 0x7F)
			i++
		}
	}

	if desc.L {
		if i >= len(buf) {
			return desc, nil, rtperr.ErrShortBuffer
		}
		desc.TID = buf[i] >> 5
		desc.U = buf[i]&0x10 != 0
		desc.SID = (buf[i] >> 1) & 0x7
		desc.D = buf[i]&0x1 != 0
		i++

		if desc.SID >= maxSpatialLayers {
			return desc, nil, rtperr.ErrTooManySpatialLayers
		}

		if !desc.F {
			if i >= len(buf) {
				return desc, nil, rtperr.ErrShortBuffer
			}
			desc.TL0PICIDX = buf[i]
			i++
		}
	}

	if desc.F && desc.P {
		for {
			if i >= len(buf) {
				return desc, nil, rtperr.ErrShortBuffer
			}
			if len(desc.PDiff) >= maxVP9RefPics {
				return desc, nil, rtperr.ErrTooManyReferences
			}
			desc.PDiff = append(desc.PDiff, buf[i]>>1)
			more := buf[i]&0x1 != 0
			i++
			if !more {
				break
			}
		}
	}

	if desc.V {
		if i >= len(buf) {
			return desc, nil, rtperr.ErrShortBuffer
		}
		desc.NS = buf[i] >> 5
		desc.Y = buf[i]&0x10 != 0
		desc.G = buf[i]&0x08 != 0
		i++

		numSpatial := int(desc.NS) + 1

		if desc.Y {
			for s := 0; s < numSpatial; s++ {
				if i+3 >= len(buf) {
					return desc, nil, rtperr.ErrShortBuffer
				}
				i += 4 // width (2 octets) + height (2 octets)
			}
		}

		if desc.G {
			if i >= len(buf) {
				return desc, nil, rtperr.ErrShortBuffer
			}
			desc.NG = buf[i]
			i++

			for g := 0; g < int(desc.NG); g++ {
				if i >= len(buf) {
					return desc, nil, rtperr.ErrShortBuffer
				}
				referenceCount := int(buf[i]>>4) & 0x3
				i++
				for r := 0; r < referenceCount; r++ {
					if i >= len(buf) {
						return desc, nil, rtperr.ErrShortBuffer
					}
					i++
				}
			}
		}
	}

	return desc, buf[i:], nil
}

// IsPartitionHead reports the B bit of payload's leading descriptor
// octet.
func (d *Depacketizer) IsPartitionHead(payload []byte) bool {
	if len(payload) < 1 {
		return false
	}
	return payload[0]&bBit != 0
}

// IsPartitionTail reports the E bit or the RTP marker bit.
func (d *Depacketizer) IsPartitionTail(marker bool, payload []byte) bool {
	if marker {
		return true
	}
	if len(payload) < 1 {
		return false
	}
	return payload[0]&eBit != 0
}

// FrameHeader is the minimal VP9 uncompressed frame header parse,
// sufficient to classify a frame as a keyframe.
type FrameHeader struct {
	Profile           uint8
	ShowExistingFrame bool
	FrameToShowMapIdx uint8
	NonKeyFrame       bool
	ShowFrame         bool
	ErrorResilientMode bool
}

// isKeyFrame reports whether frame's uncompressed header indicates a
// VP9 keyframe. A malformed header is treated as a non-keyframe.
func isKeyFrame(frame []byte) bool {
	hdr, err := parseFrameHeader(frame)
	if err != nil {
		return false
	}
	return !hdr.NonKeyFrame
}

func parseFrameHeader(frame []byte) (FrameHeader, error) {
	var hdr FrameHeader
	r := &bitReader{buf: frame}

	marker, err := r.readBits(2)
	if err != nil {
		return hdr, err
	}
	if marker != 2 {
		return hdr, rtperr.ErrCorrupted
	}

	profileLow, err := r.readBits(1)
	if err != nil {
		return hdr, err
	}
	profileHigh, err := r.readBits(1)
	if err != nil {
		return hdr, err
	}
	hdr.Profile = uint8(profileHigh<<1 | profileLow)
	if hdr.Profile == 3 {
		if _, err := r.readBits(1); err != nil { // reserved zero
			return hdr, err
		}
	}

	showExisting, err := r.readFlag()
	if err != nil {
		return hdr, err
	}
	hdr.ShowExistingFrame = showExisting
	if showExisting {
		idx, err := r.readBits(3)
		if err != nil {
			return hdr, err
		}
		hdr.FrameToShowMapIdx = uint8(idx)
		return hdr, nil
	}

	nonKey, err := r.readFlag()
	if err != nil {
		return hdr, err
	}
	hdr.NonKeyFrame = nonKey

	showFrame, err := r.readFlag()
	if err != nil {
		return hdr, err
	}
	hdr.ShowFrame = showFrame

	errorResilient, err := r.readFlag()
	if err != nil {
		return hdr, err
	}
	hdr.ErrorResilientMode = errorResilient

	if !nonKey {
		sync, err := r.readBits(24)
		if err != nil {
			return hdr, err
		}
		if sync != 0x498342 {
			return hdr, rtperr.ErrCorrupted
		}
	}

	return hdr, nil
}

// SetSSRC sets the SSRC stamped on every packet this Packetizer emits.
func (p *Packetizer) SetSSRC(ssrc uint32) { p.SSRC = ssrc }

// SetPayloadType sets the RTP payload type stamped on every packet
// this Packetizer emits.
func (p *Packetizer) SetPayloadType(pt uint8) { p.PayloadType = pt }

// SetTimestamp sets the RTP timestamp stamped on every packet this
// Packetizer emits.
func (p *Packetizer) SetTimestamp(ts uint32) { p.Timestamp = ts }
