package messaging

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func randomBlob(t *testing.T, n int) Blob {
	t.Helper()
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		t.Fatal(err)
	}
	return b
}

func TestBlobRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 31, 32, 33, 1024, 16 * 1024} {
		in := randomBlob(t, n)
		raw, err := json.Marshal(in)
		if err != nil {
			t.Fatalf("marshal %d bytes: %v", n, err)
		}
		var out Blob
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("unmarshal %d bytes: %v", n, err)
		}
		if !bytes.Equal(in, out) {
			t.Fatalf("round trip of %d bytes not byte-identical", n)
		}
	}
}

func TestBlobNil(t *testing.T) {
	var in Blob
	raw, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != "null" {
		t.Fatalf("nil blob serialized as %s", raw)
	}
	var out Blob
	if err := json.Unmarshal([]byte("null"), &out); err != nil {
		t.Fatal(err)
	}
	if out != nil {
		t.Fatal("null did not decode to nil")
	}
}

func TestBlobRejectsUnknownKind(t *testing.T) {
	var out Blob
	err := json.Unmarshal([]byte(`{"kind":"hex","bytes":"deadbeef"}`), &out)
	if err == nil {
		t.Fatal("unknown kind accepted")
	}
}

func TestBlobNeverInfersFromShape(t *testing.T) {
	// A bare string that happens to be valid base64 must not decode.
	var out Blob
	if err := json.Unmarshal([]byte(`"aGVsbG8="`), &out); err == nil {
		t.Fatal("untagged base64-looking string accepted")
	}
}

func TestCredentialRecordRoundTrip(t *testing.T) {
	rec, ks, err := GenerateCredentials()
	if err != nil {
		t.Fatal(err)
	}
	rec.PhoneNumber = "221771234567"

	encoded, err := EncodeCredentials(rec)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := DecodeCredentials(encoded)
	if err != nil {
		t.Fatal(err)
	}

	pairs := []struct {
		name string
		a, b Blob
	}{
		{"noise.private", rec.NoiseKey.Private, decoded.NoiseKey.Private},
		{"noise.public", rec.NoiseKey.Public, decoded.NoiseKey.Public},
		{"identity.private", rec.IdentityKey.Private, decoded.IdentityKey.Private},
		{"identity.public", rec.IdentityKey.Public, decoded.IdentityKey.Public},
		{"signing.private", rec.SigningKey.Private, decoded.SigningKey.Private},
		{"prekey.signature", rec.SignedPreKey.Signature, decoded.SignedPreKey.Signature},
		{"adv_secret", rec.AdvSecret, decoded.AdvSecret},
	}
	for _, p := range pairs {
		if !bytes.Equal(p.a, p.b) {
			t.Fatalf("%s not byte-identical after round trip", p.name)
		}
	}
	if decoded.RegistrationID != rec.RegistrationID {
		t.Fatal("registration id changed")
	}
	if decoded.PhoneNumber != rec.PhoneNumber {
		t.Fatal("phone number changed")
	}

	ksEncoded, err := EncodeKeyStore(ks)
	if err != nil {
		t.Fatal(err)
	}
	ksDecoded, err := DecodeKeyStore(ksEncoded)
	if err != nil {
		t.Fatal(err)
	}
	if len(ksDecoded) != len(ks) {
		t.Fatalf("key store size changed: %d != %d", len(ksDecoded), len(ks))
	}
	for ref, kr := range ks {
		got, ok := ksDecoded[ref]
		if !ok {
			t.Fatalf("key %s lost", ref)
		}
		if !bytes.Equal(kr.Key, got.Key) {
			t.Fatalf("key %s not byte-identical", ref)
		}
	}
}

func TestKeyStoreLargeValues(t *testing.T) {
	ks := KeyStore{
		KeyRef("session", 7): {Private: randomBlob(t, 12*1024), Public: randomBlob(t, 0)},
	}
	encoded, err := EncodeKeyStore(ks)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := DecodeKeyStore(encoded)
	if err != nil {
		t.Fatal(err)
	}
	got := decoded[KeyRef("session", 7)]
	if !bytes.Equal(got.Private, ks[KeyRef("session", 7)].Private) {
		t.Fatal("large private key not byte-identical")
	}
	if !bytes.Equal(got.Public, ks[KeyRef("session", 7)].Public) {
		t.Fatal("empty public key not byte-identical")
	}
}
