package mediartp

import (
	"github.com/opd-ai/mediartp/codec/av1"
	"github.com/opd-ai/mediartp/codec/h264"
	"github.com/opd-ai/mediartp/codec/h265"
	"github.com/opd-ai/mediartp/codec/opus"
	"github.com/opd-ai/mediartp/codec/vp8"
	"github.com/opd-ai/mediartp/codec/vp9"
	"github.com/opd-ai/mediartp/header"
)

// Codec identifies a supported RTP payload format.
type Codec int

// Supported payload formats.
const (
	CodecAV1 Codec = iota
	CodecH264
	CodecH265
	CodecOPUS
	CodecVP8
	CodecVP9
)

// Version reports the module's semantic version.
type Version struct {
	Major, Minor, Patch uint8
}

// GetVersion returns the module's current version.
func GetVersion() Version {
	return Version{Major: 1, Minor: 0, Patch: 0}
}

type packetizerImpl interface {
	Packetize(frame []byte) ([][]byte, error)
	SetSSRC(ssrc uint32)
	SetPayloadType(pt uint8)
	SetTimestamp(ts uint32)
}

// Packetizer dispatches frame packetization to the payload codec
// selected at construction time.
type Packetizer struct {
	codec Codec
	impl  packetizerImpl
}

// NewPacketizer returns a Packetizer for codec, packing frames up to
// mtu octets.
func NewPacketizer(codec Codec, mtu uint16) *Packetizer {
	p := &Packetizer{codec: codec}
	switch codec {
	case CodecAV1:
		p.impl = av1.NewPacketizer(mtu)
	case CodecH264:
		p.impl = h264.NewPacketizer(mtu)
	case CodecH265:
		p.impl = h265.NewPacketizer(mtu)
	case CodecOPUS:
		p.impl = opus.NewPacketizer(mtu)
	case CodecVP8:
		p.impl = vp8.NewPacketizer(mtu)
	case CodecVP9:
		p.impl = vp9.NewPacketizer(mtu)
	}
	return p
}

// Packetize fragments frame into transport packets using the
// underlying codec.
func (p *Packetizer) Packetize(frame []byte) ([][]byte, error) {
	return p.impl.Packetize(frame)
}

// SetSSRC sets the SSRC stamped on every packet this Packetizer emits.
func (p *Packetizer) SetSSRC(ssrc uint32) {
	p.impl.SetSSRC(ssrc)
}

// SetPayloadType sets the RTP payload type stamped on every packet
// this Packetizer emits.
func (p *Packetizer) SetPayloadType(pt uint8) {
	p.impl.SetPayloadType(pt)
}

// SetTimestamp sets the RTP timestamp stamped on every packet this
// Packetizer emits.
func (p *Packetizer) SetTimestamp(ts uint32) {
	p.impl.SetTimestamp(ts)
}

// EnableStapA toggles STAP-A aggregation of parameter sets. Returns
// false when this Packetizer was not built for CodecH264.
func (p *Packetizer) EnableStapA(enable bool) bool {
	h264Impl, ok := p.impl.(*h264.Packetizer)
	if !ok {
		return false
	}
	h264Impl.EnableStapA = enable
	return true
}

// SetDONL toggles DONL-carrying aggregation for H.265. Returns false
// when this Packetizer was not built for CodecH265.
func (p *Packetizer) SetDONL(enable bool) bool {
	h265Impl, ok := p.impl.(*h265.Packetizer)
	if !ok {
		return false
	}
	h265Impl.DONL = enable
	return true
}

// SetSkipAggregation toggles H.265 aggregation packets. When enable is
// true, every NAL unit is flushed on its own instead of being packed
// into an aggregation packet with its neighbors. Returns false when
// this Packetizer was not built for CodecH265.
func (p *Packetizer) SetSkipAggregation(enable bool) bool {
	h265Impl, ok := p.impl.(*h265.Packetizer)
	if !ok {
		return false
	}
	h265Impl.EnableAggregation = !enable
	return true
}

// EnablePictureID toggles VP8 PictureID stamping. Returns false when
// this Packetizer was not built for CodecVP8.
func (p *Packetizer) EnablePictureID(enable bool) bool {
	vp8Impl, ok := p.impl.(*vp8.Packetizer)
	if !ok {
		return false
	}
	vp8Impl.EnablePictureID = enable
	return true
}

// SetInitialPictureID overrides the initial VP9 PictureID. Returns
// false when this Packetizer was not built for CodecVP9.
func (p *Packetizer) SetInitialPictureID(id uint16) bool {
	vp9Impl, ok := p.impl.(*vp9.Packetizer)
	if !ok {
		return false
	}
	vp9Impl.SetInitialPictureID(id)
	return true
}

// SetFlexibleMode toggles VP9 flexible-mode descriptors. Returns
// false when this Packetizer was not built for CodecVP9.
func (p *Packetizer) SetFlexibleMode(enable bool) bool {
	vp9Impl, ok := p.impl.(*vp9.Packetizer)
	if !ok {
		return false
	}
	vp9Impl.FlexibleMode = enable
	return true
}

type depacketizerImpl interface {
	Depacketize(rtpPacket []byte) ([]byte, error)
	IsPartitionHead(payload []byte) bool
	IsPartitionTail(marker bool, payload []byte) bool
}

// Depacketizer dispatches reassembly to the payload codec selected at
// construction time.
type Depacketizer struct {
	codec Codec
	impl  depacketizerImpl
}

// NewDepacketizer returns a Depacketizer for codec.
func NewDepacketizer(codec Codec) *Depacketizer {
	d := &Depacketizer{codec: codec}
	switch codec {
	case CodecAV1:
		d.impl = &av1.Depacketizer{}
	case CodecH264:
		d.impl = &h264.Depacketizer{}
	case CodecH265:
		d.impl = h265.NewDepacketizer()
	case CodecOPUS:
		d.impl = &opus.Depacketizer{}
	case CodecVP8:
		d.impl = &vp8.Depacketizer{}
	case CodecVP9:
		d.impl = &vp9.Depacketizer{}
	}
	return d
}

// Depacketize parses rtpPacket and returns the frame bytes it
// contributes.
func (d *Depacketizer) Depacketize(rtpPacket []byte) ([]byte, error) {
	return d.impl.Depacketize(rtpPacket)
}

// IsFrameStart reports whether rtpPacket begins a new frame.
func (d *Depacketizer) IsFrameStart(rtpPacket []byte) bool {
	var pkt header.Packet
	if err := pkt.Unmarshal(rtpPacket); err != nil {
		return false
	}
	return d.impl.IsPartitionHead(pkt.Payload)
}

// IsFrameEnd reports whether rtpPacket ends a frame.
func (d *Depacketizer) IsFrameEnd(rtpPacket []byte, marker bool) bool {
	var pkt header.Packet
	if err := pkt.Unmarshal(rtpPacket); err != nil {
		return false
	}
	return d.impl.IsPartitionTail(marker, pkt.Payload)
}

// SetDONL toggles DONL-aware reassembly for H.265. Returns false when
// this Depacketizer was not built for CodecH265.
func (d *Depacketizer) SetDONL(enable bool) bool {
	h265Impl, ok := d.impl.(*h265.Depacketizer)
	if !ok {
		return false
	}
	h265Impl.DONL = enable
	return true
}
