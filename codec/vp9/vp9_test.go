package vp9

import (
	"testing"

	"github.com/opd-ai/mediartp/header"
	"github.com/opd-ai/mediartp/rtperr"
	"github.com/opd-ai/mediartp/sequencer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keyFrameBytes() []byte {
	// frame_marker=10, profile bits=00, show_existing_frame=0,
	// non_key_frame=0, show_frame=1, error_resilient_mode=0,
	// sync bytes 0x49 0x83 0x42.
	return []byte{0b10000010, 0x49, 0x83, 0x42, 0x00}
}

func interFrameBytes() []byte {
	// frame_marker=10, profile bits=00, show_existing_frame=0,
	// non_key_frame=1, show_frame=1, error_resilient_mode=0.
	return []byte{0b10000110, 0x00, 0x00}
}

func TestPacketizeDepacketizeRoundTripFlexible(t *testing.T) {
	p := NewPacketizer(10)
	p.Seq = sequencer.NewFixed(1)
	p.FlexibleMode = true
	p.SetInitialPictureID(5)

	frame := make([]byte, 25)
	for i := range frame {
		frame[i] = byte(i)
	}

	packets, err := p.Packetize(frame)
	require.NoError(t, err)
	require.True(t, len(packets) > 1)

	d := &Depacketizer{}
	var reassembled []byte
	for i, pk := range packets {
		out, err := d.Depacketize(pk)
		require.NoError(t, err)
		reassembled = append(reassembled, out...)

		var hp header.Packet
		require.NoError(t, hp.Unmarshal(pk))
		assert.Equal(t, i == len(packets)-1, hp.Header.Marker)
		assert.Equal(t, i == 0, d.IsPartitionHead(hp.Payload))
		assert.Equal(t, i == len(packets)-1, d.IsPartitionTail(hp.Header.Marker, hp.Payload))
	}

	assert.Equal(t, frame, reassembled)
}

func TestPacketizeNonFlexibleKeyFrame(t *testing.T) {
	p := NewPacketizer(1200)
	p.Seq = sequencer.NewFixed(1)

	packets, err := p.Packetize(keyFrameBytes())
	require.NoError(t, err)
	require.Len(t, packets, 1)

	var pkt header.Packet
	require.NoError(t, pkt.Unmarshal(packets[0]))
	desc, _, err := parseDescriptor(pkt.Payload)
	require.NoError(t, err)
	assert.True(t, desc.I)
	assert.True(t, desc.L)
	assert.False(t, desc.P)
}

func TestPacketizeNonFlexibleInterFrameSetsP(t *testing.T) {
	p := NewPacketizer(1200)
	p.Seq = sequencer.NewFixed(1)

	packets, err := p.Packetize(interFrameBytes())
	require.NoError(t, err)
	require.Len(t, packets, 1)

	var pkt header.Packet
	require.NoError(t, pkt.Unmarshal(packets[0]))
	desc, _, err := parseDescriptor(pkt.Payload)
	require.NoError(t, err)
	assert.True(t, desc.P)
}

func TestParseDescriptorFlexiblePictureID15Bit(t *testing.T) {
	buf := []byte{iBit | fBit | bBit, mBit | 0x01, 0xFF, 0xAA}
	desc, rest, err := parseDescriptor(buf)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x01FF), desc.PictureID)
	assert.Equal(t, []byte{0xAA}, rest)
}

func TestParseDescriptorTooManySpatialLayers(t *testing.T) {
	buf := []byte{iBit | lBit, 5, (maxSpatialLayers << 1), 0}
	_, _, err := parseDescriptor(buf)
	assert.ErrorIs(t, err, rtperr.ErrTooManySpatialLayers)
}

func TestParseDescriptorShortBuffer(t *testing.T) {
	_, _, err := parseDescriptor(nil)
	assert.Error(t, err)
}

func TestIsKeyFrame(t *testing.T) {
	assert.True(t, isKeyFrame(keyFrameBytes()))
	assert.False(t, isKeyFrame(interFrameBytes()))
	assert.False(t, isKeyFrame([]byte{0x00}))
}
