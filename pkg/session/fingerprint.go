package session

import (
	"crypto/subtle"

	"github.com/jsbattig/share-things-sub004/pkg/wire"
)

// Fingerprint sizes. The fingerprint is a deterministic, non-reversible
// derivative of the passphrase computed client-side; the server only ever
// sees and compares these bytes.
const (
	FingerprintIVSize   = 12
	FingerprintDataSize = 16
)

// Fingerprint is a passphrase fingerprint as received on the wire.
//
// Fingerprints gate session admission: the first joiner's fingerprint is
// adopted by the session and every later joiner must present an equal one.
// Fingerprints are never logged, never persisted outside memory, and never
// echoed back to clients.
type Fingerprint struct {
	IV   wire.Bytes `json:"iv"`
	Data wire.Bytes `json:"data"`
}

// Valid reports whether both components have their expected sizes.
func (f Fingerprint) Valid() bool {
	return len(f.IV) == FingerprintIVSize && len(f.Data) == FingerprintDataSize
}

// FingerprintsEqual compares two fingerprints in time independent of their
// contents.
//
// Both components are copied into fixed-size buffers before comparison so a
// length mismatch does not short-circuit; the length checks themselves leak
// only sizes, which are public protocol constants.
func FingerprintsEqual(a, b Fingerprint) bool {
	var aIV, bIV [FingerprintIVSize]byte
	var aData, bData [FingerprintDataSize]byte

	lenOK := 1
	if len(a.IV) != FingerprintIVSize || len(b.IV) != FingerprintIVSize {
		lenOK = 0
	}
	if len(a.Data) != FingerprintDataSize || len(b.Data) != FingerprintDataSize {
		lenOK = 0
	}

	copy(aIV[:], a.IV)
	copy(bIV[:], b.IV)
	copy(aData[:], a.Data)
	copy(bData[:], b.Data)

	ivEq := subtle.ConstantTimeCompare(aIV[:], bIV[:])
	dataEq := subtle.ConstantTimeCompare(aData[:], bData[:])

	return lenOK&ivEq&dataEq == 1
}
