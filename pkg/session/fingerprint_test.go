package session

import (
	"encoding/json"
	"testing"
)

func TestFingerprintsEqual(t *testing.T) {
	a := testFingerprint(1)
	b := testFingerprint(1)
	c := testFingerprint(2)

	if !FingerprintsEqual(a, b) {
		t.Error("equal fingerprints reported unequal")
	}
	if FingerprintsEqual(a, c) {
		t.Error("different fingerprints reported equal")
	}

	// One flipped bit in either component must break equality.
	flipped := testFingerprint(1)
	flipped.IV[0] ^= 0x01
	if FingerprintsEqual(a, flipped) {
		t.Error("fingerprint with flipped IV bit reported equal")
	}

	flipped = testFingerprint(1)
	flipped.Data[FingerprintDataSize-1] ^= 0x80
	if FingerprintsEqual(a, flipped) {
		t.Error("fingerprint with flipped data bit reported equal")
	}
}

func TestFingerprintsEqualWrongSizes(t *testing.T) {
	a := testFingerprint(1)

	short := Fingerprint{IV: a.IV[:4], Data: a.Data}
	if FingerprintsEqual(a, short) {
		t.Error("truncated IV reported equal")
	}

	empty := Fingerprint{}
	if FingerprintsEqual(a, empty) {
		t.Error("empty fingerprint reported equal")
	}
	// Two malformed fingerprints are never equal either.
	if FingerprintsEqual(empty, empty) {
		t.Error("two empty fingerprints reported equal")
	}
}

func TestFingerprintJSONNumberArrays(t *testing.T) {
	// Browser clients serialize byte buffers as JSON number arrays.
	raw := []byte(`{"iv":[1,2,3,4,5,6,7,8,9,10,11,12],"data":[0,1,2,3,4,5,6,7,8,9,10,11,12,13,14,15]}`)

	var fp Fingerprint
	if err := json.Unmarshal(raw, &fp); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if !fp.Valid() {
		t.Fatalf("decoded fingerprint invalid: iv=%d data=%d", len(fp.IV), len(fp.Data))
	}
	if fp.IV[0] != 1 || fp.Data[15] != 15 {
		t.Errorf("decoded bytes wrong: iv[0]=%d data[15]=%d", fp.IV[0], fp.Data[15])
	}

	// Round-trips back to number arrays, not base64.
	out, err := json.Marshal(fp)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var decoded Fingerprint
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("re-unmarshal failed: %v", err)
	}
	if !FingerprintsEqual(fp, decoded) {
		t.Error("fingerprint changed across JSON round trip")
	}
}

func TestTokenIssueAndValidate(t *testing.T) {
	svc, err := NewTokenService(TokenConfig{})
	if err != nil {
		t.Fatalf("NewTokenService failed: %v", err)
	}

	token, tokenID, err := svc.Issue("quiet-meadow", "client-a")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if tokenID == "" {
		t.Fatal("expected a token ID")
	}

	claims, err := svc.Validate(token)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if claims.SessionID != "quiet-meadow" || claims.ClientID != "client-a" || claims.ID != tokenID {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestTokenRejectedAcrossServices(t *testing.T) {
	// Distinct services get distinct random secrets.
	a, _ := NewTokenService(TokenConfig{})
	b, _ := NewTokenService(TokenConfig{})

	token, _, err := a.Issue("s", "c")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if _, err := b.Validate(token); err == nil {
		t.Error("token signed by another service validated")
	}
}

func TestTokenShortSecretRejected(t *testing.T) {
	if _, err := NewTokenService(TokenConfig{Secret: "too-short"}); err != ErrInvalidSecretLength {
		t.Fatalf("expected ErrInvalidSecretLength, got %v", err)
	}
}

func TestTokenGarbageRejected(t *testing.T) {
	svc, _ := NewTokenService(TokenConfig{})
	if _, err := svc.Validate("not-a-token"); err == nil {
		t.Error("garbage token validated")
	}
}
