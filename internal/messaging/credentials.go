package messaging

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// KeyPair holds one asymmetric key pair as raw bytes.
type KeyPair struct {
	Private Blob `json:"private"`
	Public  Blob `json:"public"`
}

// Empty reports whether either half of the pair is missing.
func (k KeyPair) Empty() bool {
	return len(k.Private) == 0 || len(k.Public) == 0
}

// SignedPreKey is a pre-key pair published with a signature from the
// signing identity key.
type SignedPreKey struct {
	KeyPair
	KeyID     uint32 `json:"key_id"`
	Signature Blob   `json:"signature"`
}

// KeyRecord is one entry of the open-ended key store. One-time pre-keys
// carry only Key; session and sender keys carry Private/Public.
type KeyRecord struct {
	Private Blob `json:"private,omitempty"`
	Public  Blob `json:"public,omitempty"`
	Key     Blob `json:"key,omitempty"`
}

// KeyStore maps a composite "<type>:<id>" reference to its key record.
type KeyStore map[string]KeyRecord

// KeyRef builds the composite key-store reference for kind and id.
func KeyRef(kind string, id uint32) string {
	return fmt.Sprintf("%s:%d", kind, id)
}

// CredentialRecord is the long-term identity a tenant's session
// authenticates with. NoiseKey is mandatory: a record without a complete
// noise pair is treated as corrupt and regenerated.
type CredentialRecord struct {
	NoiseKey       KeyPair      `json:"noise_key"`
	IdentityKey    KeyPair      `json:"identity_key"`
	SigningKey     KeyPair      `json:"signing_key"`
	SignedPreKey   SignedPreKey `json:"signed_pre_key"`
	AdvSecret      Blob         `json:"adv_secret"`
	RegistrationID uint32       `json:"registration_id"`
	PhoneNumber    string       `json:"phone_number,omitempty"`
}

// Valid reports whether the mandatory identity fields are present.
func (c *CredentialRecord) Valid() bool {
	if c == nil {
		return false
	}
	return !c.NoiseKey.Empty() && !c.IdentityKey.Empty()
}

const initialPreKeyCount = 10

// GenerateCredentials creates a complete fresh identity plus an initial
// batch of one-time pre-keys.
func GenerateCredentials() (*CredentialRecord, KeyStore, error) {
	noise, err := newX25519Pair()
	if err != nil {
		return nil, nil, err
	}
	identity, err := newX25519Pair()
	if err != nil {
		return nil, nil, err
	}
	signPub, signPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	preKey, err := newX25519Pair()
	if err != nil {
		return nil, nil, err
	}
	advSecret := make([]byte, 32)
	if _, err := rand.Read(advSecret); err != nil {
		return nil, nil, err
	}
	var regRaw [4]byte
	if _, err := rand.Read(regRaw[:]); err != nil {
		return nil, nil, err
	}

	rec := &CredentialRecord{
		NoiseKey:    noise,
		IdentityKey: identity,
		SigningKey:  KeyPair{Private: Blob(signPriv), Public: Blob(signPub)},
		SignedPreKey: SignedPreKey{
			KeyPair:   preKey,
			KeyID:     1,
			Signature: Blob(ed25519.Sign(signPriv, preKey.Public)),
		},
		AdvSecret:      advSecret,
		RegistrationID: binary.BigEndian.Uint32(regRaw[:])%16380 + 1,
	}

	ks := make(KeyStore, initialPreKeyCount)
	for id := uint32(1); id <= initialPreKeyCount; id++ {
		otp, err := newX25519Pair()
		if err != nil {
			return nil, nil, err
		}
		ks[KeyRef("pre-key", id)] = KeyRecord{Key: otp.Private}
	}
	return rec, ks, nil
}

// CredentialDelta carries the fields a transport rotated during normal
// operation. Absent fields never erase existing values on merge.
type CredentialDelta struct {
	NoiseKey     *KeyPair
	IdentityKey  *KeyPair
	SignedPreKey *SignedPreKey
	AdvSecret    Blob
	PhoneNumber  string
	Keys         KeyStore
}

// Merge applies delta onto rec and ks in place.
func (d *CredentialDelta) Merge(rec *CredentialRecord, ks KeyStore) {
	if d == nil {
		return
	}
	if d.NoiseKey != nil {
		rec.NoiseKey = *d.NoiseKey
	}
	if d.IdentityKey != nil {
		rec.IdentityKey = *d.IdentityKey
	}
	if d.SignedPreKey != nil {
		rec.SignedPreKey = *d.SignedPreKey
	}
	if len(d.AdvSecret) > 0 {
		rec.AdvSecret = d.AdvSecret
	}
	if d.PhoneNumber != "" {
		rec.PhoneNumber = d.PhoneNumber
	}
	for ref, kr := range d.Keys {
		ks[ref] = kr
	}
}

func newX25519Pair() (KeyPair, error) {
	priv := make([]byte, 32)
	if _, err := rand.Read(priv); err != nil {
		return KeyPair{}, err
	}
	// curve25519 clamping
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{Private: priv, Public: pub}, nil
}
