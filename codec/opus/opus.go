package opus

import (
	"fmt"

	"github.com/opd-ai/mediartp/header"
	"github.com/opd-ai/mediartp/rtperr"
	"github.com/opd-ai/mediartp/sequencer"
	"github.com/sirupsen/logrus"
)

// Packetizer turns one Opus frame into exactly one transport packet.
type Packetizer struct {
	MTU         uint16
	SSRC        uint32
	PayloadType uint8
	Timestamp   uint32
	Seq         sequencer.Sequencer
}

// NewPacketizer returns a Packetizer with a random-seeded sequence
// number, ready to pack frames up to mtu octets.
func NewPacketizer(mtu uint16) *Packetizer {
	return &Packetizer{MTU: mtu, Seq: sequencer.NewRandom()}
}

// Packetize serializes frame as a single marker-set transport packet. It
// fails with rtperr.ErrFrameTooLarge if the serialized packet would
// exceed the configured MTU.
func (p *Packetizer) Packetize(frame []byte) ([][]byte, error) {
	log := logrus.WithFields(logrus.Fields{"function": "Packetize", "codec": "opus", "frameLen": len(frame)})

	pkt := header.Packet{
		Header: header.Header{
			Version:        2,
			Marker:         true,
			PayloadType:    p.PayloadType,
			SequenceNumber: p.Seq.Next(),
			Timestamp:      p.Timestamp,
			SSRC:           p.SSRC,
		},
		Payload: frame,
	}

	buf, err := pkt.Marshal()
	if err != nil {
		log.WithError(err).Error("failed to marshal packet")
		return nil, fmt.Errorf("opus: marshal packet: %w", err)
	}
	if len(buf) > int(p.MTU) {
		log.Warn("serialized packet exceeds MTU")
		return nil, rtperr.ErrFrameTooLarge
	}

	log.Debug("packetized opus frame")
	return [][]byte{buf}, nil
}

// Depacketizer extracts the Opus payload carried verbatim in each
// transport packet.
type Depacketizer struct{}

// Depacketize returns the payload bytes of rtpPacket unchanged.
func (d *Depacketizer) Depacketize(rtpPacket []byte) ([]byte, error) {
	var pkt header.Packet
	if err := pkt.Unmarshal(rtpPacket); err != nil {
		return nil, fmt.Errorf("opus: unmarshal packet: %w", err)
	}
	return pkt.Payload, nil
}

// IsPartitionHead is always true: every Opus packet starts a new frame.
func (d *Depacketizer) IsPartitionHead(payload []byte) bool {
	return true
}

// IsPartitionTail reports whether marker is set, since every Opus
// packet is self-contained.
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
