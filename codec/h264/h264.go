package h264

import (
	"encoding/binary"
	"fmt"

	"github.com/opd-ai/mediartp/header"
	"github.com/opd-ai/mediartp/rtperr"
	"github.com/opd-ai/mediartp/sequencer"
	"github.com/sirupsen/logrus"
)

const (
	naluTypeMask = 0x1F
	refIdcShift  = 5
	refIdcMask   = 0x60
	forbiddenBit = 0x80

	naluAUD    = 9
	naluFiller = 12
	naluSPS    = 7
	naluPPS    = 8

	naluSTAPA = 24
	naluFUA   = 28

	fuHeaderSize  = 1
	stapAHeaderSz = 1
)

// Packetizer fragments an Annex-B encoded H.264 access unit into
// transport packets, aggregating SPS/PPS into a single STAP-A packet
// when EnableStapA is set.
type Packetizer struct {
	MTU           uint16
	SSRC          uint32
	PayloadType   uint8
	Timestamp     uint32
	Seq           sequencer.Sequencer
	EnableStapA   bool
}

// NewPacketizer returns a Packetizer ready to pack access units up to
// mtu octets, with STAP-A aggregation of parameter sets enabled.
func NewPacketizer(mtu uint16) *Packetizer {
	return &Packetizer{MTU: mtu, Seq: sequencer.NewRandom(), EnableStapA: true}
}

// Packetize scans frame (Annex-B framed) for NAL units and emits
// transport packets for the access unit, setting the marker bit on
// the last packet.
func (p *Packetizer) Packetize(frame []byte) ([][]byte, error) {
	log := logrus.WithFields(logrus.Fields{"function": "Packetize", "codec": "h264", "frameLen": len(frame)})

	nalus := scanNALUs(frame)
	if len(nalus) == 0 {
		return nil, rtperr.ErrFrameTooLarge
	}

	var payloads [][]byte
	var stapBuf [][]byte

	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		naluType := nalu[0] & naluTypeMask
		if naluType == naluAUD || naluType == naluFiller {
			continue
		}

		if p.EnableStapA && (naluType == naluSPS || naluType == naluPPS) {
			stapBuf = append(stapBuf, nalu)
			continue
		}

		if len(stapBuf) > 0 {
			agg := buildStapA(append(stapBuf, nalu))
			stapBuf = nil
			if len(agg) <= int(p.MTU) {
				payloads = append(payloads, agg)
				continue
			}
		}

		if len(nalu) <= int(p.MTU) {
			payloads = append(payloads, nalu)
			continue
		}

		payloads = append(payloads, fragmentFUA(nalu, int(p.MTU))...)
	}
	// Buffered SPS/PPS with no triggering NAL to aggregate with are
	// never emitted.

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
			return nil, fmt.Errorf("h264: marshal packet: %w", err)
		}
		packets = append(packets, buf)
	}

	log.WithField("packets", len(packets)).Debug("packetized h264 access unit")
	return packets, nil
}

// buildStapA aggregates nalus into a single STAP-A payload, each
// prefixed with its 16-bit length.
func buildStapA(nalus [][]byte) []byte {
	nri := uint8(0)
	for _, n := range nalus {
		if r := n[0] & refIdcMask; r > nri {
			nri = r
		}
	}
	agg := []byte{naluSTAPA | nri}
	for _, n := range nalus {
		var lenBuf [2]byte
		binary.BigEndian.PutUint16(lenBuf[:], uint16(len(n)))
		agg = append(agg, lenBuf[:]...)
		agg = append(agg, n...)
	}
	return agg
}

func fragmentFUA(nalu []byte, mtu int) [][]byte {
	indicator := (nalu[0] & (forbiddenBit | refIdcMask))
	naluType := nalu[0] & naluTypeMask
	payload := nalu[1:]

	maxFragment := mtu - fuHeaderSize - 1
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

		fuHeader := naluType
		if first {
			fuHeader |= 0x80
		}
		if last {
			fuHeader |= 0x40
		}

		frag := make([]byte, 0, 2+size)
		frag = append(frag, naluFUA|indicator, fuHeader)
		frag = append(frag, payload[index:index+size]...)
		fragments = append(fragments, frag)

		remaining -= size
		index += size
		first = false
	}
	return fragments
}

// scanNALUs extracts NAL units from Annex-B framed data, tolerating
// both 3-byte and 4-byte start codes.
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

// Depacketizer reassembles NAL units from H.264 transport packets,
// emitting Annex-B framed output unless OutputAVC is set.
type Depacketizer struct {
	OutputAVC bool

	fuBuf      []byte
	fuStarted  bool
}

// Depacketize parses rtpPacket and returns the NAL unit(s) it carries,
// framed according to OutputAVC.
func (d *Depacketizer) Depacketize(rtpPacket []byte) ([]byte, error) {
	var pkt header.Packet
	if err := pkt.Unmarshal(rtpPacket); err != nil {
		return nil, fmt.Errorf("h264: unmarshal packet: %w", err)
	}
	payload := pkt.Payload
	if len(payload) == 0 {
		return nil, rtperr.ErrShortBuffer
	}

	naluType := payload[0] & naluTypeMask

	switch {
	case naluType == naluSTAPA:
		return d.depacketizeSTAPA(payload[1:])
	case naluType == naluFUA:
		return d.depacketizeFUA(payload)
	case naluType >= 1 && naluType <= 23:
		return d.frame(payload), nil
	default:
		return nil, rtperr.ErrUnhandledNaluType
	}
}

func (d *Depacketizer) depacketizeSTAPA(buf []byte) ([]byte, error) {
	var out []byte
	for len(buf) > 0 {
		if len(buf) < 2 {
			return nil, rtperr.ErrShortBuffer
		}
		n := int(binary.BigEndian.Uint16(buf))
		buf = buf[2:]
		if len(buf) < n {
			return nil, rtperr.ErrShortBuffer
		}
		out = append(out, d.frame(buf[:n])...)
		buf = buf[n:]
	}
	return out, nil
}

func (d *Depacketizer) depacketizeFUA(payload []byte) ([]byte, error) {
	if len(payload) < 2 {
		return nil, rtperr.ErrShortBuffer
	}
	indicator := payload[0] & (forbiddenBit | refIdcMask)
	fuHeader := payload[1]
	start := fuHeader&0x80 != 0
	end := fuHeader&0x40 != 0
	naluType := fuHeader & naluTypeMask

	if start {
		d.fuBuf = append([]byte{indicator | naluType}, payload[2:]...)
		d.fuStarted = true
		if end {
			out := d.frame(d.fuBuf)
			d.fuBuf = nil
			d.fuStarted = false
			return out, nil
		}
		return nil, nil
	}

	if !d.fuStarted {
		return nil, rtperr.ErrCorrupted
	}
	d.fuBuf = append(d.fuBuf, payload[2:]...)
	if end {
		out := d.frame(d.fuBuf)
		d.fuBuf = nil
		d.fuStarted = false
		return out, nil
	}
	return nil, nil
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

// IsPartitionHead reports whether payload begins a new NAL unit
// (any type other than a non-starting FU-A continuation).
func (d *Depacketizer) IsPartitionHead(payload []byte) bool {
	if len(payload) < 1 {
		return false
	}
	naluType := payload[0] & naluTypeMask
	if naluType == naluFUA {
		if len(payload) < 2 {
			return false
		}
		return payload[1]&0x80 != 0
	}
	return true
}

// IsPartitionTail reports whether payload ends a NAL unit: FU-A
// fragments signal via their E bit, everything else via the RTP
// marker bit.
func (d *Depacketizer) IsPartitionTail(marker bool, payload []byte) bool {
	if len(payload) < 1 {
		return marker
	}
	naluType := payload[0] & naluTypeMask
	if naluType == naluFUA {
		if len(payload) < 2 {
			return false
		}
		return payload[1]&0x40 != 0
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
