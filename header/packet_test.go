package header

import (
	"testing"

	"github.com/opd-ai/mediartp/rtperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketRoundTripS1(t *testing.T) {
	p := Packet{
		Header: Header{
			Version:        2,
			Marker:         true,
			PayloadType:    0x60,
			SequenceNumber: 0x1234,
			Timestamp:      0x11223344,
			SSRC:           0xDEADBEEF,
		},
		Payload: []byte{0xAA, 0xBB, 0xCC},
	}

	buf, err := p.Marshal()
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0x80, 0xE0, 0x12, 0x34, 0x11, 0x22, 0x33, 0x44, 0xDE, 0xAD, 0xBE, 0xEF,
		0xAA, 0xBB, 0xCC,
	}, buf)

	var parsed Packet
	require.NoError(t, parsed.Unmarshal(buf))
	assert.Equal(t, p.Payload, parsed.Payload)
	assert.Equal(t, p.Header.SequenceNumber, parsed.Header.SequenceNumber)
}

func TestPacketPaddingRoundTrip(t *testing.T) {
	p := Packet{
		Header:      Header{Version: 2, Padding: true},
		Payload:     []byte{1, 2, 3},
		PaddingSize: 4,
	}

	buf, err := p.Marshal()
	require.NoError(t, err)
	assert.Equal(t, byte(4), buf[len(buf)-1])

	var parsed Packet
	require.NoError(t, parsed.Unmarshal(buf))
	assert.Equal(t, []byte{1, 2, 3}, parsed.Payload)
	assert.Equal(t, uint8(4), parsed.PaddingSize)
}

func TestPacketPaddingRequiresNonZeroSize(t *testing.T) {
	p := Packet{Header: Header{Version: 2, Padding: true}, Payload: []byte{1}}
	_, err := p.Marshal()
	assert.Error(t, err)
}

func TestPacketPaddingZeroCountIsCorrupted(t *testing.T) {
	var parsed Packet
	buf := []byte{
		0xA0, 0x60, 0x00, 0x01, 0, 0, 0, 0, 0, 0, 0, 0,
		1, 2, 0,
	}
	err := parsed.Unmarshal(buf)
	assert.ErrorIs(t, err, rtperr.ErrCorrupted)
}
