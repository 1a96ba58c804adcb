package mediartp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestFacadeOpusRoundTrip(t *testing.T) {
	p := NewPacketizer(CodecOPUS, 1200)
	p.SetSSRC(42)
	p.SetPayloadType(111)

	frame := []byte{1, 2, 3, 4}
	packets, err := p.Packetize(frame)
	require.NoError(t, err)
	require.Len(t, packets, 1)

	d := NewDepacketizer(CodecOPUS)
	out, err := d.Depacketize(packets[0])
	require.NoError(t, err)
	assert.Equal(t, frame, out)
	assert.True(t, d.IsFrameStart(packets[0]))
}

func TestFacadeVP8RoundTrip(t *testing.T) {
	p := NewPacketizer(CodecVP8, 1200)
	applied := p.EnablePictureID(true)
	assert.True(t, applied)

	frame := []byte{1, 2, 3}
	packets, err := p.Packetize(frame)
	require.NoError(t, err)
	require.Len(t, packets, 1)

	d := NewDepacketizer(CodecVP8)
	out, err := d.Depacketize(packets[0])
	require.NoError(t, err)
	assert.Equal(t, frame, out)
}

func TestFacadeSettersReportApplicability(t *testing.T) {
	opusP := NewPacketizer(CodecOPUS, 1200)
	assert.False(t, opusP.EnableStapA(true))
	assert.False(t, opusP.SetDONL(true))
	assert.False(t, opusP.SetSkipAggregation(true))
	assert.False(t, opusP.EnablePictureID(true))
	assert.False(t, opusP.SetFlexibleMode(true))
	assert.False(t, opusP.SetInitialPictureID(5))

	h264P := NewPacketizer(CodecH264, 1200)
	assert.True(t, h264P.EnableStapA(false))
	assert.False(t, h264P.SetDONL(true))
	assert.False(t, h264P.SetSkipAggregation(true))

	h265P := NewPacketizer(CodecH265, 1200)
	assert.True(t, h265P.SetSkipAggregation(true))

	h265D := NewDepacketizer(CodecH265)
	assert.True(t, h265D.SetDONL(true))

	opusD := NewDepacketizer(CodecOPUS)
	assert.False(t, opusD.SetDONL(true))
}

func TestFacadeConcurrentPacketizersAreIndependent(t *testing.T) {
	var g errgroup.Group
	results := make([][][]byte, 8)
	for i := 0; i < len(results); i++ {
		i := i
		g.Go(func() error {
			p := NewPacketizer(CodecOPUS, 1200)
			p.SetSSRC(uint32(i))
			packets, err := p.Packetize([]byte{byte(i), byte(i + 1)})
			results[i] = packets
			return err
		})
	}
	require.NoError(t, g.Wait())
	for i, packets := range results {
		require.Len(t, packets, 1)
		d := NewDepacketizer(CodecOPUS)
		out, err := d.Depacketize(packets[0])
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(i), byte(i + 1)}, out)
	}
}

func TestGetVersion(t *testing.T) {
	v := GetVersion()
	assert.Equal(t, Version{Major: 1, Minor: 0, Patch: 0}, v)
}
