package av1

import (
	"fmt"

	"github.com/opd-ai/mediartp/header"
	"github.com/opd-ai/mediartp/leb128"
	"github.com/opd-ai/mediartp/rtperr"
	"github.com/opd-ai/mediartp/sequencer"
	"github.com/sirupsen/logrus"
)

const (
	obuTypeTemporalDelimiter = 2
	obuTypeTileList          = 8

	obuExtensionFlagBit = 0x04
	obuHasSizeFieldBit  = 0x02
	obuTypeShift        = 3
	obuTypeMask         = 0x0F

	aggZBit   = 0x80
	aggYBit   = 0x40
	aggWShift = 4
	aggWMask  = 0x03
	aggNBit   = 0x08

	maxElementsPerPacket = 3
)

// splitOBUs walks a length-delimited OBU stream and returns each OBU
// with its obu_has_size_field bit cleared, ready for RTP aggregation.
// Temporal delimiter and tile list OBUs are dropped; the aggregation
// header's N bit signals a new coded video sequence instead.
func splitOBUs(frame []byte) ([][]byte, error) {
	var obus [][]byte
	i := 0
	for i < len(frame) {
		headerByte := frame[i]
		obuType := (headerByte >> obuTypeShift) & obuTypeMask
		extFlag := headerByte&obuExtensionFlagBit != 0
		hasSize := headerByte&obuHasSizeFieldBit != 0

		headerLen := 1
		if extFlag {
			headerLen = 2
		}
		if i+headerLen > len(frame) {
			return nil, rtperr.ErrShortBuffer
		}

		bodyStart := i + headerLen
		var bodyLen int
		if hasSize {
			size, consumed, err := leb128.Read(frame, bodyStart)
			if err != nil {
				return nil, err
			}
			bodyStart += consumed
			bodyLen = int(size)
		} else {
			bodyLen = len(frame) - bodyStart
		}
		if bodyStart+bodyLen > len(frame) {
			return nil, rtperr.ErrShortBuffer
		}

		if obuType != obuTypeTemporalDelimiter && obuType != obuTypeTileList {
			stripped := headerByte &^ obuHasSizeFieldBit
			obu := make([]byte, 0, headerLen+bodyLen)
			obu = append(obu, stripped)
			if extFlag {
				obu = append(obu, frame[i+1])
			}
			obu = append(obu, frame[bodyStart:bodyStart+bodyLen]...)
			obus = append(obus, obu)
		}

		i = bodyStart + bodyLen
	}
	return obus, nil
}

type element struct {
	data      []byte
	continued bool // Z: this element continues from the previous packet
	continues bool // Y: this element continues into the next packet
}

// Packetizer packs and fragments AV1 OBUs into transport packets using
// the AV1 RTP aggregation header.
type Packetizer struct {
	MTU         uint16
	SSRC        uint32
	PayloadType uint8
	Timestamp   uint32
	Seq         sequencer.Sequencer

	markNewSequence bool
}

// NewPacketizer returns a Packetizer ready to pack OBU streams up to
// mtu octets. The first packet it emits carries the N bit.
func NewPacketizer(mtu uint16) *Packetizer {
	return &Packetizer{MTU: mtu, Seq: sequencer.NewRandom(), markNewSequence: true}
}

// MarkNewSequence arranges for the next emitted packet to carry the N
// bit, signalling the start of a new coded video sequence.
func (p *Packetizer) MarkNewSequence() {
	p.markNewSequence = true
}

// Packetize splits frame into OBUs and emits transport packets,
// fragmenting any OBU that exceeds the MTU and aggregating small OBUs
// together when they fit.
func (p *Packetizer) Packetize(frame []byte) ([][]byte, error) {
	log := logrus.WithFields(logrus.Fields{"function": "Packetize", "codec": "av1", "frameLen": len(frame)})

	obus, err := splitOBUs(frame)
	if err != nil {
		return nil, err
	}
	if len(obus) == 0 {
		return nil, rtperr.ErrFrameTooLarge
	}

	avail := int(p.MTU) - 1
	if avail <= 0 {
		return nil, rtperr.ErrFrameTooLarge
	}

	var payloads [][]byte
	var current []element
	currentSize := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		n := p.markNewSequence
		z := current[0].continued
		y := current[len(current)-1].continues
		w := len(current)
		if w > maxElementsPerPacket {
			w = 0
		}

		agg := make([]byte, 1)
		if z {
			agg[0] |= aggZBit
		}
		if y {
			agg[0] |= aggYBit
		}
		agg[0] |= byte(w&aggWMask) << aggWShift
		if n {
			agg[0] |= aggNBit
		}

		for i, e := range current {
			if i < len(current)-1 {
				agg = append(agg, leb128.Write(uint32(len(e.data)))...)
			}
			agg = append(agg, e.data...)
		}

		payloads = append(payloads, agg)
		current = nil
		currentSize = 0
		p.markNewSequence = false
	}

	pushWithPrefix := func(e element) bool {
		cost, _ := leb128.Size(uint32(len(e.data)))
		cost += len(e.data)
		if len(current) >= maxElementsPerPacket || currentSize+cost > avail {
			return false
		}
		current = append(current, e)
		currentSize += cost
		return true
	}

	for _, obu := range obus {
		if pushWithPrefix(element{data: obu}) {
			continue
		}

		flush()

		if len(obu) <= avail {
			if !pushWithPrefix(element{data: obu}) {
				// No room for a length field, but the OBU fits as the
				// packet's only element, which carries none.
				current = append(current, element{data: obu})
				currentSize = avail
			}
			continue
		}

		remaining := obu
		first := true
		for len(remaining) > 0 {
			size := avail
			if size > len(remaining) {
				size = len(remaining)
			}
			last := size == len(remaining)
			current = append(current, element{data: remaining[:size], continued: !first, continues: !last})
			currentSize = size
			flush()
			remaining = remaining[size:]
			first = false
		}
	}
	flush()

	if len(payloads) == 0 {
		return nil, rtperr.ErrFrameTooLarge
	}

	var packets [][]byte
	for i, payload := range payloads {
		pkt := header.Packet{
			Header: header.Header{
				Version:        2,
				Marker:         i == len(payloads)-1,
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
			return nil, fmt.Errorf("av1: marshal packet: %w", err)
		}
		packets = append(packets, buf)
	}

	log.WithField("packets", len(packets)).Debug("packetized av1 frame")
	return packets, nil
}

// Depacketizer reassembles OBUs from AV1 transport packets.
type Depacketizer struct {
	fragBuf []byte
	hasFrag bool
}

// Depacketize parses rtpPacket's aggregation header and returns the
// concatenated OBU bytes carried in this packet, including any
// fragment continuation completed by this packet.
func (d *Depacketizer) Depacketize(rtpPacket []byte) ([]byte, error) {
	var pkt header.Packet
	if err := pkt.Unmarshal(rtpPacket); err != nil {
		return nil, fmt.Errorf("av1: unmarshal packet: %w", err)
	}
	payload := pkt.Payload
	if len(payload) < 1 {
		return nil, rtperr.ErrShortBuffer
	}

	z := payload[0]&aggZBit != 0
	y := payload[0]&aggYBit != 0
	n := payload[0]&aggNBit != 0
	w := int(payload[0] >> aggWShift & aggWMask)

	if n || !z {
		d.fragBuf = nil
		d.hasFrag = false
	}

	buf := payload[1:]
	var out []byte

	// W>0 counts the elements and only the last one omits its length
	// field. W=0 gives every element a length field; the element whose
	// length reaches the end of the payload is taken as the last one.
	for elementIndex := 0; len(buf) > 0 && (w == 0 || elementIndex < w); elementIndex++ {
		implicitLen := w != 0 && elementIndex == w-1

		var elemLen int
		if implicitLen {
			elemLen = len(buf)
		} else {
			size, consumed, err := leb128.Read(buf, 0)
			if err != nil {
				return nil, err
			}
			buf = buf[consumed:]
			elemLen = int(size)
			if elemLen > len(buf) {
				return nil, rtperr.ErrShortBuffer
			}
		}
		isLast := implicitLen || (w == 0 && elemLen == len(buf))

		elem := buf[:elemLen]
		buf = buf[elemLen:]

		continuesFromPrev := elementIndex == 0 && z
		continuesToNext := isLast && y

		switch {
		case continuesFromPrev:
			if !d.hasFrag {
				// No buffered fragment to continue: the element is
				// dropped rather than emitted as a truncated OBU.
				continue
			}
			d.fragBuf = append(d.fragBuf, elem...)
			if !continuesToNext {
				framed, drop, err := reframeOBU(d.fragBuf)
				if err != nil {
					return nil, err
				}
				if !drop {
					out = append(out, framed...)
				}
				d.fragBuf = nil
				d.hasFrag = false
			}
		case continuesToNext:
			d.fragBuf = append([]byte{}, elem...)
			d.hasFrag = true
		default:
			framed, drop, err := reframeOBU(elem)
			if err != nil {
				return nil, err
			}
			if !drop {
				out = append(out, framed...)
			}
		}
	}

	return out, nil
}

// reframeOBU parses a wire-form OBU (its obu_has_size_field bit
// cleared by splitOBUs) and returns it with the size field restored:
// header, leb128(len(payload)), payload. Temporal delimiter and tile
// list OBUs are reported via drop rather than framed.
func reframeOBU(obu []byte) (framed []byte, drop bool, err error) {
	if len(obu) < 1 {
		return nil, false, rtperr.ErrShortBuffer
	}
	headerByte := obu[0]
	obuType := (headerByte >> obuTypeShift) & obuTypeMask
	extFlag := headerByte&obuExtensionFlagBit != 0

	headerLen := 1
	if extFlag {
		headerLen = 2
	}
	if len(obu) < headerLen {
		return nil, false, rtperr.ErrShortBuffer
	}

	if obuType == obuTypeTemporalDelimiter || obuType == obuTypeTileList {
		return nil, true, nil
	}

	body := obu[headerLen:]
	out := make([]byte, 0, headerLen+len(body)+2)
	out = append(out, headerByte|obuHasSizeFieldBit)
	if extFlag {
		out = append(out, obu[1])
	}
	out = append(out, leb128.Write(uint32(len(body)))...)
	out = append(out, body...)
	return out, false, nil
}

// IsPartitionHead reports whether payload begins a new OBU (the Z bit
// is clear).
func (d *Depacketizer) IsPartitionHead(payload []byte) bool {
	if len(payload) < 1 {
		return false
	}
	return payload[0]&aggZBit == 0
}

// IsPartitionTail reports whether payload ends the frame: the Y bit
// clear, or the RTP marker bit.
func (d *Depacketizer) IsPartitionTail(marker bool, payload []byte) bool {
	if marker {
		return true
	}
	if len(payload) < 1 {
		return false
	}
	return payload[0]&aggYBit == 0
}

// SetSSRC sets the SSRC stamped on every packet this Packetizer emits.
func (p *Packetizer) SetSSRC(ssrc uint32) { p.SSRC = ssrc }

// SetPayloadType sets the RTP payload type stamped on every packet
// this Packetizer emits.
func (p *Packetizer) SetPayloadType(pt uint8) { p.PayloadType = pt }

// SetTimestamp sets the RTP timestamp stamped on every packet this
// Packetizer emits.
func (p *Packetizer) SetTimestamp(ts uint32) { p.Timestamp = ts }
