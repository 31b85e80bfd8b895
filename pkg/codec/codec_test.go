package codec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompressRoundTrip(t *testing.T) {
	payload := []byte(`{"metadata":{"timestamp":1},"data":[]}`)
	gz, err := Compress(payload)
	require.NoError(t, err)
	require.True(t, IsGzip(gz))

	out, err := Decompress(gz)
	require.NoError(t, err)
	require.Equal(t, payload, out)
}

func TestBase64LargeInput(t *testing.T) {
	// Several MB so any single-shot conversion path would show up.
	text := strings.Repeat("bookmark-title-and-url-", 400_000)
	encoded, err := CompressToBase64(text)
	require.NoError(t, err)

	decoded, err := DecompressBase64(encoded)
	require.NoError(t, err)
	require.Equal(t, len(text), len(decoded))
	require.Equal(t, text, decoded)

	raw, err := Decompress([]byte(encoded))
	require.NoError(t, err, "Decompress must accept base64 text")
	require.Equal(t, text, string(raw))
}

func TestDecompressRejectsGarbage(t *testing.T) {
	_, err := Decompress(nil)
	require.ErrorIs(t, err, ErrEmptyInput)

	_, err = Decompress([]byte("not gzip at all"))
	require.Error(t, err)

	_, err = DecompressBase64("   ")
	require.ErrorIs(t, err, ErrEmptyInput)
}
