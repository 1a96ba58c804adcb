package leb128

import (
	"testing"

	"github.com/opd-ai/mediartp/rtperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	values := []uint32{0, 1, 127, 128, 16383, 16384, 2097151, 2097152, 268435455, 268435456, 0xFFFFFFFF}
	for _, v := range values {
		buf := Write(v)
		got, n, err := Read(buf, 0)
		require.NoError(t, err)
		assert.Equal(t, v, got)
		assert.Equal(t, len(buf), n)
	}
}

func TestWriteIsMinimalLength(t *testing.T) {
	assert.Len(t, Write(0), 1)
	assert.Len(t, Write(127), 1)
	assert.Len(t, Write(128), 2)
	assert.Len(t, Write(16383), 2)
	assert.Len(t, Write(16384), 3)
}

func TestReadShortBufferMidValue(t *testing.T) {
	_, _, err := Read([]byte{0x80}, 0)
	assert.ErrorIs(t, err, rtperr.ErrShortBuffer)
}

func TestReadOverflowPastShiftBudget(t *testing.T) {
	buf := []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01}
	_, _, err := Read(buf, 0)
	assert.ErrorIs(t, err, rtperr.ErrShortBuffer)
}

func TestReadAtOffset(t *testing.T) {
	buf := append([]byte{0xFF, 0xFF}, Write(300)...)
	v, n, err := Read(buf, 2)
	require.NoError(t, err)
	assert.Equal(t, uint32(300), v)
	assert.Equal(t, 2, n)
}

func TestSizeAndEdge(t *testing.T) {
	size, edge := Size(127)
	assert.Equal(t, 1, size)
	assert.False(t, edge)

	size, edge = Size(128)
	assert.Equal(t, 2, size)
	assert.True(t, edge)

	size, edge = Size(129)
	assert.Equal(t, 2, size)
	assert.False(t, edge)
}
