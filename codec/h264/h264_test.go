package h264

import (
	"testing"

	"github.com/opd-ai/mediartp/header"
	"github.com/opd-ai/mediartp/rtperr"
	"github.com/opd-ai/mediartp/sequencer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func annexB(nalus ...[]byte) []byte {
	var out []byte
	for _, n := range nalus {
		out = append(out, 0, 0, 0, 1)
		out = append(out, n...)
	}
	return out
}

func TestScanNALUs(t *testing.T) {
	sps := []byte{0x67, 0x01, 0x02}
	pps := []byte{0x68, 0x03}
	idr := []byte{0x65, 0x04, 0x05}
	frame := annexB(sps, pps, idr)

	nalus := scanNALUs(frame)
	require.Len(t, nalus, 3)
	assert.Equal(t, sps, nalus[0])
	assert.Equal(t, pps, nalus[1])
	assert.Equal(t, idr, nalus[2])
}

func TestPacketizeAggregatesParameterSetsIntoStapA(t *testing.T) {
	sps := []byte{0x67, 0x01, 0x02}
	pps := []byte{0x68, 0x03}
	idr := []byte{0x65, 0x04, 0x05, 0x06}
	frame := annexB(sps, pps, idr)

	p := NewPacketizer(1200)
	p.Seq = sequencer.NewFixed(1)

	packets, err := p.Packetize(frame)
	require.NoError(t, err)
	require.Len(t, packets, 1) // single STAP-A(sps+pps+idr)

	var pkt header.Packet
	require.NoError(t, pkt.Unmarshal(packets[0]))
	assert.Equal(t, uint8(naluSTAPA), pkt.Payload[0]&naluTypeMask)
	assert.True(t, pkt.Header.Marker)

	d := &Depacketizer{}
	out, err := d.Depacketize(packets[0])
	require.NoError(t, err)
	expected := append(append([]byte{0, 0, 0, 1}, sps...), append(append([]byte{0, 0, 0, 1}, pps...), append([]byte{0, 0, 0, 1}, idr...)...)...)
	assert.Equal(t, expected, out)
}

func TestPacketizeDiscardsParameterSetsWhenStapADoesNotFitMTU(t *testing.T) {
	sps := []byte{0x67, 0x01, 0x02}
	pps := []byte{0x68, 0x03}
	idr := []byte{0x65, 0x04, 0x05, 0x06}
	frame := annexB(sps, pps, idr)

	// MTU fits the triggering NAL alone but not sps+pps+idr aggregated.
	p := NewPacketizer(uint16(len(idr)))
	p.Seq = sequencer.NewFixed(1)

	packets, err := p.Packetize(frame)
	require.NoError(t, err)
	require.Len(t, packets, 1) // sps/pps discarded, only idr emitted

	var pkt header.Packet
	require.NoError(t, pkt.Unmarshal(packets[0]))
	assert.Equal(t, idr, pkt.Payload)
}

func TestPacketizeFragmentsLargeNALIntoFUA(t *testing.T) {
	idr := make([]byte, 50)
	idr[0] = 0x65
	for i := 1; i < len(idr); i++ {
		idr[i] = byte(i)
	}
	frame := annexB(idr)

	p := NewPacketizer(10)
	p.Seq = sequencer.NewFixed(1)
	p.EnableStapA = false

	packets, err := p.Packetize(frame)
	require.NoError(t, err)
	require.True(t, len(packets) > 1)

	d := &Depacketizer{}
	var reassembled []byte
	for i, pk := range packets {
		out, err := d.Depacketize(pk)
		require.NoError(t, err)
		if i < len(packets)-1 {
			assert.Nil(t, out)
		} else {
			require.NotNil(t, out)
			reassembled = out
		}
	}
	// Annex-B framed single NAL: start code + original nalu bytes.
	assert.Equal(t, append([]byte{0, 0, 0, 1}, idr...), reassembled)
}

func TestDepacketizeSkipsAUDAndFiller(t *testing.T) {
	aud := []byte{0x09, 0xF0}
	filler := []byte{0x0C, 0xFF}
	idr := []byte{0x65, 0x01}
	frame := annexB(aud, filler, idr)

	p := NewPacketizer(1200)
	p.Seq = sequencer.NewFixed(1)
	p.EnableStapA = false

	packets, err := p.Packetize(frame)
	require.NoError(t, err)
	require.Len(t, packets, 1)

	d := &Depacketizer{}
	out, err := d.Depacketize(packets[0])
	require.NoError(t, err)
	assert.Equal(t, append([]byte{0, 0, 0, 1}, idr...), out)
}

func TestDepacketizeUnhandledNaluType(t *testing.T) {
	d := &Depacketizer{}
	pkt := header.Packet{
		Header:  header.Header{Version: 2, PayloadType: 96},
		Payload: []byte{31}, // reserved type
	}
	buf, err := pkt.Marshal()
	require.NoError(t, err)

	_, err = d.Depacketize(buf)
	assert.ErrorIs(t, err, rtperr.ErrUnhandledNaluType)
}

func TestIsPartitionHeadAndTailForFUA(t *testing.T) {
	d := &Depacketizer{}
	startFrag := []byte{naluFUA, 0x80 | 5}
	midFrag := []byte{naluFUA, 5}
	endFrag := []byte{naluFUA, 0x40 | 5}

	assert.True(t, d.IsPartitionHead(startFrag))
	assert.False(t, d.IsPartitionHead(midFrag))
	assert.False(t, d.IsPartitionTail(false, midFrag))
	assert.True(t, d.IsPartitionTail(false, endFrag))
}
