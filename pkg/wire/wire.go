// Package wire defines the framing constants and JSON byte encoding shared
// by the socket plane and the HTTP download path.
//
// Clients slice plaintext into fixed-size chunks and encrypt each chunk
// independently with its own IV. The server never decrypts; it preserves the
// per-chunk framing so downloads can be decrypted chunk by chunk.
package wire

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

const (
	// ChunkSize is the plaintext slice size clients use when chunking.
	ChunkSize = 65536

	// EncryptedChunkSize is the maximum ciphertext size per chunk
	// (plaintext slice plus the AEAD tag). The last chunk of a content
	// item may be shorter.
	EncryptedChunkSize = 65552

	// IVSize is the nonce size prepended to each chunk on the download wire.
	IVSize = 12

	// MaxIVSize is the largest IV accepted on ingress. Some client cipher
	// modes use 16-byte IVs; the server stores them as-is.
	MaxIVSize = 16
)

// Bytes is a byte slice that marshals to and from JSON number arrays.
//
// Browser clients serialize Uint8Array values as plain arrays of numbers
// ([170, 187, ...]) rather than base64 strings. Bytes accepts both forms on
// input and always emits the number-array form, so payloads echo back to
// peers byte-identical to what the sender produced.
type Bytes []byte

// MarshalJSON emits the number-array form.
func (b Bytes) MarshalJSON() ([]byte, error) {
	if b == nil {
		return []byte("null"), nil
	}
	nums := make([]uint16, len(b))
	for i, v := range b {
		nums[i] = uint16(v)
	}
	return json.Marshal(nums)
}

// UnmarshalJSON accepts either a number array or a base64 string.
func (b *Bytes) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*b = nil
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return fmt.Errorf("invalid base64 byte string: %w", err)
		}
		*b = decoded
		return nil
	}

	var nums []int
	if err := json.Unmarshal(data, &nums); err != nil {
		return fmt.Errorf("invalid byte array: %w", err)
	}
	out := make([]byte, len(nums))
	for i, n := range nums {
		if n < 0 || n > 255 {
			return fmt.Errorf("byte array element %d out of range: %d", i, n)
		}
		out[i] = byte(n)
	}
	*b = out
	return nil
}
