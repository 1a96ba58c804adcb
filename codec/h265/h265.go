package h265

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/looplab/fsm"
	"github.com/opd-ai/mediartp/header"
	"github.com/opd-ai/mediartp/rtperr"
	"github.com/opd-ai/mediartp/sequencer"
	"github.com/sirupsen/logrus"
)

const (
	fuStateIdle        = "idle"
	fuStateFragmenting = "fragmenting"

	fuEventStart = "start"
	fuEventEnd   = "end"
)

const (
	nalHeaderSize = 2

	typeAggregation  = 48
	typeFragmentation = 49
	typePACI          = 50

	fuHeaderSize = 1
)

// NALHeader is the two-octet H.265 NAL unit header.
type NALHeader struct {
	F       bool
	Type    uint8
	LayerID uint8
	TID     uint8
}

func parseNALHeader(buf []byte) (NALHeader, error) {
	var h NALHeader
	if len(buf) < nalHeaderSize {
		return h, rtperr.ErrShortBuffer
	}
	h.F = buf[0]&0x80 != 0
	h.Type = (buf[0] >> 1) & 0x3F
	h.LayerID = (buf[0]&0x1)<<5 | buf[1]>>3
	h.TID = buf[1] & 0x7
	return h, nil
}

func (h NALHeader) marshal() [2]byte {
	var b [2]byte
	if h.F {
		b[0] |= 0x80
	}
	b[0] |= (h.Type & 0x3F) << 1
	b[0] |= (h.LayerID >> 5) & 0x1
	b[1] = (h.LayerID&0x1F)<<3 | h.TID&0x7
	return b
}

// Packetizer fragments Annex-B framed H.265 access units into
// transport packets, aggregating consecutive small NAL units into
// Aggregation Packets when EnableAggregation is set.
type Packetizer struct {
	MTU              uint16
	SSRC             uint32
	PayloadType      uint8
	Timestamp        uint32
	Seq              sequencer.Sequencer
	EnableAggregation bool
	DONL             bool
}

// NewPacketizer returns a Packetizer ready to pack access units up to
// mtu octets, with aggregation enabled.
func NewPacketizer(mtu uint16) *Packetizer {
	return &Packetizer{MTU: mtu, Seq: sequencer.NewRandom(), EnableAggregation: true}
}

// Packetize scans frame for NAL units and emits transport packets for
// the access unit, setting the marker bit on the last packet.
func (p *Packetizer) Packetize(frame []byte) ([][]byte, error) {
	log := logrus.WithFields(logrus.Fields{"function": "Packetize", "codec": "h265", "frameLen": len(frame)})

	nalus := scanNALUs(frame)
	if len(nalus) == 0 {
		return nil, rtperr.ErrFrameTooLarge
	}

	var payloads [][]byte
	var aggBuf [][]byte
	aggSize := 0

	flushAgg := func() {
		if len(aggBuf) == 0 {
			return
		}
		if len(aggBuf) == 1 {
			payloads = append(payloads, aggBuf[0])
			aggBuf, aggSize = nil, 0
			return
		}
		first, _ := parseNALHeader(aggBuf[0])
		layerID, tid := first.LayerID, first.TID
		for _, n := range aggBuf[1:] {
			h, _ := parseNALHeader(n)
			if h.LayerID < layerID {
				layerID = h.LayerID
			}
			if h.TID < tid {
				tid = h.TID
			}
		}
		apHeader := NALHeader{Type: typeAggregation, LayerID: layerID, TID: tid}.marshal()
		agg := append([]byte{}, apHeader[:]...)
		if p.DONL {
			agg = append(agg, 0, 0) // DONL of the first aggregation unit
		}
		for idx, n := range aggBuf {
			if p.DONL && idx > 0 {
				agg = append(agg, 0) // DOND
			}
			var lenBuf [2]byte
			binary.BigEndian.PutUint16(lenBuf[:], uint16(len(n)))
			agg = append(agg, lenBuf[:]...)
			agg = append(agg, n...)
		}
		payloads = append(payloads, agg)
		aggBuf, aggSize = nil, 0
	}

	for _, nalu := range nalus {
		if len(nalu) < nalHeaderSize {
			continue
		}

		if len(nalu) <= int(p.MTU) {
			if p.EnableAggregation {
				marginalFor := func(first bool) int {
					m := 2 + len(nalu)
					if p.DONL {
						if first {
							m += 2 // DONL of the first aggregation unit
						} else {
							m += 1 // DOND of each subsequent unit
						}
					}
					return m
				}

				marginal := marginalFor(len(aggBuf) == 0)
				if aggSize+marginal+nalHeaderSize <= int(p.MTU) || len(aggBuf) == 0 {
					aggBuf = append(aggBuf, nalu)
					aggSize += marginal
					continue
				}
				flushAgg()
				marginal = marginalFor(true)
				aggBuf = append(aggBuf, nalu)
				aggSize = marginal
				continue
			}
			payloads = append(payloads, nalu)
			continue
		}

		flushAgg()
		payloads = append(payloads, fragmentFU(nalu, int(p.MTU), p.DONL)...)
	}
	flushAgg()

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
			return nil, fmt.Errorf("h265: marshal packet: %w", err)
		}
		packets = append(packets, buf)
	}

	log.WithField("packets", len(packets)).Debug("packetized h265 access unit")
	return packets, nil
}

func fragmentFU(nalu []byte, mtu int, donl bool) [][]byte {
	hdr, _ := parseNALHeader(nalu)
	payload := nalu[nalHeaderSize:]

	fuNALHeader := NALHeader{F: hdr.F, Type: typeFragmentation, LayerID: hdr.LayerID, TID: hdr.TID}.marshal()

	maxFragment := mtu - nalHeaderSize - fuHeaderSize
	if donl {
		maxFragment -= 2
	}
	if maxFragment <= 0 {
		maxFragment = 1
	}

	var fragments [][]byte
	remaining := len(payload)
	index := 0
	first := true
	for remaining > 0 {
		size := maxFragment
		if size > remaining {
			size = remaining
		}
		last := remaining == size

		fuHeader := hdr.Type & 0x3F
		if first {
			fuHeader |= 0x80
		}
		if last {
			fuHeader |= 0x40
		}

		frag := make([]byte, 0, nalHeaderSize+fuHeaderSize+2+size)
		frag = append(frag, fuNALHeader[:]...)
		frag = append(frag, fuHeader)
		if donl && first {
			frag = append(frag, 0, 0) // DONL
		}
		frag = append(frag, payload[index:index+size]...)
		fragments = append(fragments, frag)

		remaining -= size
		index += size
		first = false
	}
	return fragments
}

func scanNALUs(frame []byte) [][]byte {
	var nalus [][]byte

	start, _ := findStartCode(frame, 0)
	if start < 0 {
		return nalus
	}
	cur := start + 3

	for {
		next, _ := findStartCode(frame, cur)
		var end int
		if next < 0 {
			end = len(frame)
		} else {
			end = next
			if next > 0 && frame[next-1] == 0 {
				end = next - 1
			}
		}
		if end > cur {
			nalus = append(nalus, frame[cur:end])
		}
		if next < 0 {
			break
		}
		cur = next + 3
	}
	return nalus
}

func findStartCode(buf []byte, from int) (int, int) {
	for i := from; i+2 < len(buf); i++ {
		if buf[i] == 0 && buf[i+1] == 0 && buf[i+2] == 1 {
			return i, 3
		}
	}
	return -1, 0
}

// Depacketizer reassembles NAL units from H.265 transport packets.
type Depacketizer struct {
	OutputAVC bool
	DONL      bool

	fuBuf []byte
	fu    *fsm.FSM
}

// NewDepacketizer returns a Depacketizer with its fragmentation-unit
// reassembly state machine initialized.
func NewDepacketizer() *Depacketizer {
	return &Depacketizer{
		fu: fsm.NewFSM(fuStateIdle, fsm.Events{
			{Name: fuEventStart, Src: []string{fuStateIdle, fuStateFragmenting}, Dst: fuStateFragmenting},
			{Name: fuEventEnd, Src: []string{fuStateFragmenting}, Dst: fuStateIdle},
		}, nil),
	}
}

// Depacketize parses rtpPacket and returns the NAL unit(s) it carries.
// Aggregation packets yield only their first aggregation unit; the
// remaining units are discarded.
func (d *Depacketizer) Depacketize(rtpPacket []byte) ([]byte, error) {
	var pkt header.Packet
	if err := pkt.Unmarshal(rtpPacket); err != nil {
		return nil, fmt.Errorf("h265: unmarshal packet: %w", err)
	}
	payload := pkt.Payload
	hdr, err := parseNALHeader(payload)
	if err != nil {
		return nil, err
	}
	if hdr.F {
		return nil, rtperr.ErrCorrupted
	}

	switch hdr.Type {
	case typeAggregation:
		buf := payload[nalHeaderSize:]
		if d.DONL {
			if len(buf) < 2 {
				return nil, rtperr.ErrShortBuffer
			}
			buf = buf[2:] // DONL of the first aggregation unit
		}
		return d.depacketizeAggregation(buf)
	case typeFragmentation:
		return d.depacketizeFU(payload)
	case typePACI:
		return d.depacketizePACI(payload)
	default:
		return d.frame(payload), nil
	}
}

func (d *Depacketizer) depacketizeAggregation(buf []byte) ([]byte, error) {
	if len(buf) < 2 {
		return nil, rtperr.ErrShortBuffer
	}
	n := int(binary.BigEndian.Uint16(buf))
	buf = buf[2:]
	if len(buf) < n {
		return nil, rtperr.ErrShortBuffer
	}
	return d.frame(buf[:n]), nil
}

func (d *Depacketizer) ensureFSM() {
	if d.fu == nil {
		d.fu = fsm.NewFSM(fuStateIdle, fsm.Events{
			{Name: fuEventStart, Src: []string{fuStateIdle, fuStateFragmenting}, Dst: fuStateFragmenting},
			{Name: fuEventEnd, Src: []string{fuStateFragmenting}, Dst: fuStateIdle},
		}, nil)
	}
}

func (d *Depacketizer) depacketizeFU(payload []byte) ([]byte, error) {
	d.ensureFSM()
	if len(payload) < nalHeaderSize+fuHeaderSize {
		return nil, rtperr.ErrShortBuffer
	}
	outer, _ := parseNALHeader(payload)
	fuHeader := payload[nalHeaderSize]
	start := fuHeader&0x80 != 0
	end := fuHeader&0x40 != 0
	fuType := fuHeader & 0x3F

	reconstructed := NALHeader{F: outer.F, Type: fuType, LayerID: outer.LayerID, TID: outer.TID}.marshal()
	body := payload[nalHeaderSize+fuHeaderSize:]
	if start && d.DONL {
		if len(body) < 2 {
			return nil, rtperr.ErrShortBuffer
		}
		body = body[2:] // DONL
	}

	if start {
		d.fuBuf = append(append([]byte{}, reconstructed[:]...), body...)
		if err := d.fu.Event(context.Background(), fuEventStart); err != nil {
			return nil, fmt.Errorf("h265: fu state: %w", err)
		}
		if end {
			out := d.frame(d.fuBuf)
			d.fuBuf = nil
			_ = d.fu.Event(context.Background(), fuEventEnd)
			return out, nil
		}
		return nil, nil
	}

	if d.fu.Current() != fuStateFragmenting {
		return nil, rtperr.ErrCorrupted
	}
	d.fuBuf = append(d.fuBuf, body...)
	if end {
		out := d.frame(d.fuBuf)
		d.fuBuf = nil
		_ = d.fu.Event(context.Background(), fuEventEnd)
		return out, nil
	}
	return nil, nil
}

// depacketizePACI parses a PACI packet's 2-octet fields word (A, CType,
// PHSsize, F0, F1, F2, Y packed per RFC 7798 section 4.4.6) and
// reconstructs the NAL unit it carries, dropping the PACI header
// extension (PHES/TSCI) named by PHSsize.
func (d *Depacketizer) depacketizePACI(payload []byte) ([]byte, error) {
	if len(payload) < nalHeaderSize+2 {
		return nil, rtperr.ErrShortBuffer
	}
	fields := uint16(payload[nalHeaderSize])<<8 | uint16(payload[nalHeaderSize+1])
	a := fields&0x8000 != 0
	cType := uint8((fields & 0x7E00) >> 9)
	phs := int((fields & 0x01F0) >> 4)

	reconstructed := NALHeader{F: a, Type: cType}.marshal()

	bodyStart := nalHeaderSize + 2 + phs
	if bodyStart >= len(payload) {
		return nil, rtperr.ErrShortBuffer
	}
	return d.frame(append(append([]byte{}, reconstructed[:]...), payload[bodyStart:]...)), nil
}

func (d *Depacketizer) frame(nalu []byte) []byte {
	if d.OutputAVC {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(nalu)))
		out := make([]byte, 0, 4+len(nalu))
		out = append(out, lenBuf[:]...)
		return append(out, nalu...)
	}
	out := make([]byte, 0, 4+len(nalu))
	out = append(out, 0, 0, 0, 1)
	return append(out, nalu...)
}

// IsPartitionHead reports whether payload begins a new access unit
// fragment chain.
func (d *Depacketizer) IsPartitionHead(payload []byte) bool {
	hdr, err := parseNALHeader(payload)
	if err != nil {
		return false
	}
	if hdr.Type == typeFragmentation {
		if len(payload) < nalHeaderSize+fuHeaderSize {
			return false
		}
		return payload[nalHeaderSize]&0x80 != 0
	}
	return true
}

// IsPartitionTail reports the FU end bit, or the RTP marker bit for
// every other packet type.
func (d *Depacketizer) IsPartitionTail(marker bool, payload []byte) bool {
	hdr, err := parseNALHeader(payload)
	if err != nil {
		return marker
	}
	if hdr.Type == typeFragmentation {
		if len(payload) < nalHeaderSize+fuHeaderSize {
			return false
		}
		return payload[nalHeaderSize]&0x40 != 0
	}
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
