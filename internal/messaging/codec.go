package messaging

import (
	"encoding/base64"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

// Binary key material crosses a text-oriented persistence layer, so every
// binary value is wrapped in an explicit tagged union at serialization time:
//
//	{"kind":"binary","bytes":"<std base64>"}
//
// Decoding consults the tag only. Nothing is ever inferred from field names
// or from whether a string happens to look like base64.

const binaryKind = "binary"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Blob is a byte slice that round-trips through JSON via the tagged-binary
// encoding. A nil Blob serializes as JSON null and decodes back to nil.
type Blob []byte

type taggedBinary struct {
	Kind  string `json:"kind"`
	Bytes string `json:"bytes"`
}

func (b Blob) MarshalJSON() ([]byte, error) {
	if b == nil {
		return []byte("null"), nil
	}
	return json.Marshal(taggedBinary{
		Kind:  binaryKind,
		Bytes: base64.StdEncoding.EncodeToString(b),
	})
}

func (b *Blob) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*b = nil
		return nil
	}
	var tag taggedBinary
	if err := json.Unmarshal(data, &tag); err != nil {
		return err
	}
	if tag.Kind != binaryKind {
		return fmt.Errorf("messaging: unexpected encoded kind %q", tag.Kind)
	}
	raw, err := base64.StdEncoding.DecodeString(tag.Bytes)
	if err != nil {
		return err
	}
	*b = raw
	return nil
}

// EncodeCredentials serializes a credential record for text storage.
func EncodeCredentials(rec *CredentialRecord) (string, error) {
	out, err := json.MarshalToString(rec)
	if err != nil {
		return "", err
	}
	return out, nil
}

// DecodeCredentials restores a credential record from its stored form.
func DecodeCredentials(raw string) (*CredentialRecord, error) {
	var rec CredentialRecord
	if err := json.UnmarshalFromString(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// EncodeKeyStore serializes the open-ended key mapping.
func EncodeKeyStore(ks KeyStore) (string, error) {
	if ks == nil {
		ks = KeyStore{}
	}
	return json.MarshalToString(ks)
}

// DecodeKeyStore restores the key mapping from its stored form.
func DecodeKeyStore(raw string) (KeyStore, error) {
	if raw == "" {
		return KeyStore{}, nil
	}
	var ks KeyStore
	if err := json.UnmarshalFromString(raw, &ks); err != nil {
		return nil, err
	}
	return ks, nil
}
