package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderSize(t *testing.T) {
	var h Header
	assert.Len(t, h.Bytes(), HeaderSize)
	assert.Equal(t, 166, HeaderSize)
}

func TestPacketNumberRoundTrip(t *testing.T) {
	var h Header
	for _, n := range []uint16{0, 1, 7, 65535, 32768} {
		h.SetPacketNumber(n)
		assert.Equal(t, n, h.PacketNumber())
	}
}

func TestDataLengthRoundTrip(t *testing.T) {
	var h Header
	h.SetDataLength(56)
	assert.Equal(t, uint16(56), h.DataLength())
}

func TestVersionRoundTrip(t *testing.T) {
	var h Header
	h.SetVersion(5)
	assert.Equal(t, uint8(5), h.Version())
}

func TestMessageTypeRoundTrip(t *testing.T) {
	var h Header
	h.SetMessageType(TypeMessage)
	assert.Equal(t, TypeMessage, h.MessageType())
}

func TestUsernameRoundTrip(t *testing.T) {
	var h Header
	require.NoError(t, h.SetSourceUsername("meow"))
	require.NoError(t, h.SetDestUsername("brown"))

	src, err := h.SourceUsername()
	require.NoError(t, err)
	assert.Equal(t, "meow", src)

	dst, err := h.DestUsername()
	require.NoError(t, err)
	assert.Equal(t, "brown", dst)
}

func TestUsernameExactly32BytesHasNoTerminator(t *testing.T) {
	var h Header
	name := strings.Repeat("a", 32)
	require.NoError(t, h.SetSourceUsername(name))
	assert.NotContains(t, h.Bytes()[offSourceUsername:offSourceUsername+usernameLen], byte(0))
	got, err := h.SourceUsername()
	require.NoError(t, err)
	assert.Equal(t, name, got)
}

func TestUsernameTooLongFails(t *testing.T) {
	var h Header
	err := h.SetSourceUsername(strings.Repeat("a", 33))
	assert.ErrorIs(t, err, ErrUsernameTooLong)
}

func TestHeaderChecksum(t *testing.T) {
	var h Header
	h.SetPacketNumber(5)
	h.SetVersion(3)
	h.ComputeHeaderChecksum()
	assert.True(t, h.VerifyHeaderChecksum())

	h.SetPacketNumber(16)
	assert.False(t, h.VerifyHeaderChecksum())
}

func TestDataChecksum(t *testing.T) {
	var h Header
	garbage := []byte{0, 1, 2, 3}
	other := []byte{3, 2, 1, 0}
	h.ComputeDataChecksum(garbage)
	assert.True(t, h.VerifyDataChecksum(garbage))
	assert.False(t, h.VerifyDataChecksum(other))
}

func TestClearZeroesEverything(t *testing.T) {
	var h Header
	h.SetPacketNumber(9)
	_ = h.SetSourceUsername("someone")
	h.SetMessageType(TypeMessage)
	h.Clear()
	for _, b := range h.Bytes() {
		assert.Equal(t, byte(0), b)
	}
}
