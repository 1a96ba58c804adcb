// Package mediartp provides a codec-agnostic facade over this module's
// RTP transport header codec and per-codec payload packetizers.
//
// # Architecture Overview
//
// The facade mirrors the shape of the underlying packages instead of
// hiding them: Packetizer and Depacketizer each wrap exactly one of
// the six payload codecs (codec/opus, codec/vp8, codec/vp9,
// codec/h264, codec/h265, codec/av1) selected by a Codec value, so
// callers that need a single codec can use that codec's package
// directly and callers that need to switch codecs at runtime can go
// through the facade.
//
//	p := mediartp.NewPacketizer(mediartp.CodecVP8, 1200)
//	p.SetSSRC(0x1234)
//	packets, err := p.Packetize(frame)
//
//	d := mediartp.NewDepacketizer(mediartp.CodecVP8)
//	frame, err := d.Depacketize(packets[0])
//
// Setters that only apply to some codecs (EnableStapA, SetDONL,
// EnablePictureID, SetInitialPictureID, SetFlexibleMode) are no-ops
// when called against a Packetizer or Depacketizer built for a codec
// that does not support them; each setter's boolean return reports
// whether it actually applied.
package mediartp
