package opus

import (
	"testing"

	"github.com/opd-ai/mediartp/header"
	"github.com/opd-ai/mediartp/rtperr"
	"github.com/opd-ai/mediartp/sequencer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketizeDepacketizeRoundTrip(t *testing.T) {
	p := NewPacketizer(1200)
	p.Seq = sequencer.NewFixed(1)
	frame := []byte{0x01, 0x02, 0x03, 0x04}

	packets, err := p.Packetize(frame)
	require.NoError(t, err)
	require.Len(t, packets, 1)

	var pkt header.Packet
	require.NoError(t, pkt.Unmarshal(packets[0]))
	assert.True(t, pkt.Header.Marker)

	d := &Depacketizer{}
	out, err := d.Depacketize(packets[0])
	require.NoError(t, err)
	assert.Equal(t, frame, out)
}

func TestPacketizeFrameTooLarge(t *testing.T) {
	p := NewPacketizer(10)
	p.Seq = sequencer.NewFixed(1)
	_, err := p.Packetize(make([]byte, 100))
	assert.ErrorIs(t, err, rtperr.ErrFrameTooLarge)
}

func TestPartitionHeadAlwaysTrue(t *testing.T) {
	d := &Depacketizer{}
	assert.True(t, d.IsPartitionHead(nil))
}

func TestPartitionTailFollowsMarker(t *testing.T) {
	d := &Depacketizer{}
	assert.True(t, d.IsPartitionTail(true, nil))
	assert.False(t, d.IsPartitionTail(false, nil))
}
