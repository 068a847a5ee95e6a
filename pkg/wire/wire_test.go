package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBytesMarshalsAsNumberArray(t *testing.T) {
	out, err := json.Marshal(Bytes{170, 187, 0, 255})
	require.NoError(t, err)
	assert.Equal(t, "[170,187,0,255]", string(out))
}

func TestBytesMarshalNil(t *testing.T) {
	out, err := json.Marshal(Bytes(nil))
	require.NoError(t, err)
	assert.Equal(t, "null", string(out))

	out, err = json.Marshal(Bytes{})
	require.NoError(t, err)
	assert.Equal(t, "[]", string(out))
}

func TestBytesUnmarshalNumberArray(t *testing.T) {
	var b Bytes
	require.NoError(t, json.Unmarshal([]byte("[1,2,3,255]"), &b))
	assert.Equal(t, Bytes{1, 2, 3, 255}, b)
}

func TestBytesUnmarshalBase64(t *testing.T) {
	// "qrs=" is base64 for 0xAA 0xBB.
	var b Bytes
	require.NoError(t, json.Unmarshal([]byte(`"qrs="`), &b))
	assert.Equal(t, Bytes{0xAA, 0xBB}, b)
}

func TestBytesUnmarshalRejectsOutOfRange(t *testing.T) {
	var b Bytes
	assert.Error(t, json.Unmarshal([]byte("[0,256]"), &b))
	assert.Error(t, json.Unmarshal([]byte("[-1]"), &b))
}

func TestBytesRoundTripPreservesPayload(t *testing.T) {
	payload := make(Bytes, EncryptedChunkSize)
	for i := range payload {
		payload[i] = byte(i * 7)
	}

	out, err := json.Marshal(payload)
	require.NoError(t, err)

	var decoded Bytes
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, payload, decoded)
}

func TestFramingConstants(t *testing.T) {
	// Two full framed chunks make up the documented download size.
	assert.Equal(t, 131128, 2*(IVSize+EncryptedChunkSize))
}
