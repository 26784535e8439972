package protocol

import (
	"bytes"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildFrame(t *testing.T, srcU, dstU string, mt MessageType, body []byte, packetNum uint16) Frame {
	t.Helper()
	var h Header
	h.SetPacketNumber(packetNum)
	h.SetVersion(Version)
	require.NoError(t, h.SetSourceUsername(srcU))
	require.NoError(t, h.SetDestUsername(dstU))
	h.SetMessageType(mt)
	h.SetDataLength(uint16(len(body)))
	if len(body) > 0 {
		h.ComputeDataChecksum(body)
	}
	h.ComputeHeaderChecksum()
	return Frame{Header: h, Body: body}
}

func TestWriteReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	layer := NewLayer(&buf)

	frame := buildFrame(t, "alice", "bob", TypeMessage, []byte("hello"), 7)
	_, err := layer.WriteFrame(&frame.Header, frame.Body)
	require.NoError(t, err)

	got, err := layer.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, frame.Header.Bytes(), got.Header.Bytes())
	assert.Equal(t, frame.Body, got.Body)
}

func TestReadFrameWithNoBody(t *testing.T) {
	var buf bytes.Buffer
	layer := NewLayer(&buf)

	frame := buildFrame(t, "alice", "server", TypeDisconnect, nil, 0)
	_, err := layer.WriteFrame(&frame.Header, nil)
	require.NoError(t, err)

	got, err := layer.ReadFrame()
	require.NoError(t, err)
	assert.Nil(t, got.Body)
}

func TestConcatenatedFramesDecodeInOrder(t *testing.T) {
	var buf bytes.Buffer
	layer := NewLayer(&buf)

	frames := []Frame{
		buildFrame(t, "a", "all", TypeMessage, []byte("one"), 1),
		buildFrame(t, "a", "all", TypeMessage, []byte("two"), 2),
		buildFrame(t, "a", "all", TypeMessage, []byte("three"), 3),
	}
	for _, f := range frames {
		_, err := layer.WriteFrame(&f.Header, f.Body)
		require.NoError(t, err)
	}

	for i, want := range frames {
		got, err := layer.ReadFrame()
		require.NoError(t, err, "frame %d", i)
		assert.Equal(t, want.Body, got.Body, "frame %d", i)
	}
}

func TestTruncatedHeaderYieldsConnectionClosedOrUnexpectedEOF(t *testing.T) {
	var buf bytes.Buffer
	frame := buildFrame(t, "a", "b", TypeMessage, []byte("x"), 1)
	buf.Write(frame.Header.Bytes()[:100])

	layer := NewLayer(&buf)
	_, err := layer.ReadFrame()
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestTruncatedBodyYieldsUnexpectedEOF(t *testing.T) {
	var buf bytes.Buffer
	frame := buildFrame(t, "a", "b", TypeMessage, []byte("hello world"), 1)
	buf.Write(frame.Header.Bytes())
	buf.Write(frame.Body[:3])

	layer := NewLayer(&buf)
	_, err := layer.ReadFrame()
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestFlippedHeaderBitYieldsBadChecksum(t *testing.T) {
	var buf bytes.Buffer
	frame := buildFrame(t, "a", "b", TypeMessage, []byte("hi"), 1)
	h := frame.Header
	h.Bytes()[0] ^= 0xFF
	buf.Write(h.Bytes())
	buf.Write(frame.Body)

	layer := NewLayer(&buf)
	_, err := layer.ReadFrame()
	assert.ErrorIs(t, err, ErrBadHeaderChecksum)
}

func TestReadWriteOverNetPipe(t *testing.T) {
	client, srv := net.Pipe()
	defer client.Close()
	defer srv.Close()

	frame := buildFrame(t, "alice", "bob", TypeMessage, []byte("over the wire"), 42)

	go func() {
		l := NewLayer(client)
		_, _ = l.WriteFrame(&frame.Header, frame.Body)
	}()

	l := NewLayer(srv)
	got, err := l.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, frame.Body, got.Body)
	assert.Equal(t, frame.Header.Bytes(), got.Header.Bytes())
}
