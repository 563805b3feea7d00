package messaging

import (
	"bytes"
	"testing"
	"time"

	"github.com/micha-dev87/shopify-logistics-app/internal/domain"
)

func TestCredentialStoreLoadAbsent(t *testing.T) {
	store := NewCredentialStore(newTestDB(t))
	rec, ks, found, err := store.Load(1)
	if err != nil {
		t.Fatal(err)
	}
	if found || rec != nil || ks != nil {
		t.Fatal("missing record must read as absent, not error")
	}
}

func TestCredentialStoreSaveLoadRoundTrip(t *testing.T) {
	store := NewCredentialStore(newTestDB(t))
	rec, ks, err := GenerateCredentials()
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Save(42, rec, ks); err != nil {
		t.Fatal(err)
	}
	// Idempotent under repeated identical saves.
	if err := store.Save(42, rec, ks); err != nil {
		t.Fatal(err)
	}

	got, gotKs, found, err := store.Load(42)
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("saved record not found")
	}
	if !bytes.Equal(got.NoiseKey.Private, rec.NoiseKey.Private) {
		t.Fatal("noise key not byte-identical")
	}
	if !bytes.Equal(got.AdvSecret, rec.AdvSecret) {
		t.Fatal("adv secret not byte-identical")
	}
	if len(gotKs) != len(ks) {
		t.Fatalf("key store size %d != %d", len(gotKs), len(ks))
	}
}

func TestCredentialStoreCorruptTreatedAsAbsent(t *testing.T) {
	db := newTestDB(t)
	store := NewCredentialStore(db)
	if err := db.Create(&domain.WaCredential{
		TenantID: 9,
		Identity: "{not json",
	}).Error; err != nil {
		t.Fatal(err)
	}
	_, _, found, err := store.Load(9)
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("corrupt identity must be treated as absent")
	}
}

func TestPairingArtifactLifecycle(t *testing.T) {
	db := newTestDB(t)
	store := NewCredentialStore(db)

	if err := store.SavePairingArtifact(5, "qr-payload", 90*time.Second); err != nil {
		t.Fatal(err)
	}
	row, found, err := store.StatusRow(5)
	if err != nil || !found {
		t.Fatalf("status row: found=%v err=%v", found, err)
	}
	if row.LastQr != "qr-payload" {
		t.Fatalf("artifact = %q", row.LastQr)
	}
	if row.QrExpiry == nil || time.Until(*row.QrExpiry) > 91*time.Second {
		t.Fatal("expiry not within ttl window")
	}

	if err := store.MarkConnected(5, "221771234567"); err != nil {
		t.Fatal(err)
	}
	row, _, err = store.StatusRow(5)
	if err != nil {
		t.Fatal(err)
	}
	if !row.Connected || row.PhoneNumber != "221771234567" {
		t.Fatal("connected status not persisted")
	}
	if row.LastQr != "" {
		t.Fatal("pairing artifact must clear once connected")
	}

	if err := store.MarkDisconnected(5); err != nil {
		t.Fatal(err)
	}
	row, _, _ = store.StatusRow(5)
	if row.Connected {
		t.Fatal("disconnected status not persisted")
	}
}

func TestCredentialStoreDelete(t *testing.T) {
	store := NewCredentialStore(newTestDB(t))
	rec, ks, _ := GenerateCredentials()
	if err := store.Save(7, rec, ks); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(7); err != nil {
		t.Fatal(err)
	}
	_, _, found, err := store.Load(7)
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("deleted record still loads")
	}
}
