package ipc

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte(`{"type":"ping"}`)))
	require.NoError(t, WriteFrame(&buf, nil))
	require.Equal(t, []byte{15, 0, 0, 0}, buf.Bytes()[:4])

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, `{"type":"ping"}`, string(got))
	got, err = ReadFrame(&buf)
	require.NoError(t, err)
	require.Empty(t, got)

	_, err = ReadFrame(&buf)
	require.ErrorIs(t, err, io.EOF)
}

func TestReadFrameRejectsOversize(t *testing.T) {
	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], MaxFrameSize+1)
	_, err := ReadFrame(bytes.NewReader(header[:]))
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestReadFrameShortPayload(t *testing.T) {
	data := []byte{10, 0, 0, 0, 'a', 'b'}
	_, err := ReadFrame(bytes.NewReader(data))
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
