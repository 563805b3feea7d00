package messaging

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/micha-dev87/shopify-logistics-app/internal/domain"
)

// CredentialStore persists credential records per tenant through the
// tagged-binary codec. A missing record is not an error.
type CredentialStore struct {
	db *gorm.DB
}

func NewCredentialStore(db *gorm.DB) *CredentialStore {
	return &CredentialStore{db: db}
}

// Load returns the stored credentials and key store for tenantID. The
// second result is false when no record exists.
func (s *CredentialStore) Load(tenantID int64) (*CredentialRecord, KeyStore, bool, error) {
	var row domain.WaCredential
	err := s.db.Where("tenant_id = ?", tenantID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, false, nil
	}
	if err != nil {
		return nil, nil, false, err
	}
	if row.Identity == "" {
		return nil, nil, false, nil
	}
	rec, err := DecodeCredentials(row.Identity)
	if err != nil {
		// Corrupt stored identity is treated as absent so the session
		// manager regenerates instead of failing.
		zap.L().Warn("messaging: stored credentials undecodable, treating as absent",
			zap.Int64("tenant_id", tenantID), zap.Error(err))
		return nil, nil, false, nil
	}
	ks, err := DecodeKeyStore(row.KeyStore)
	if err != nil {
		zap.L().Warn("messaging: stored key store undecodable, starting empty",
			zap.Int64("tenant_id", tenantID), zap.Error(err))
		ks = KeyStore{}
	}
	return rec, ks, true, nil
}

// Save upserts the credential record and key store for tenantID. Repeated
// calls with identical content are harmless.
func (s *CredentialStore) Save(tenantID int64, rec *CredentialRecord, ks KeyStore) error {
	identity, err := EncodeCredentials(rec)
	if err != nil {
		return err
	}
	keyStore, err := EncodeKeyStore(ks)
	if err != nil {
		return err
	}
	var row domain.WaCredential
	err = s.db.Where("tenant_id = ?", tenantID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.db.Create(&domain.WaCredential{
			TenantID: tenantID,
			Identity: identity,
			KeyStore: keyStore,
		}).Error
	}
	if err != nil {
		return err
	}
	return s.db.Model(&domain.WaCredential{}).Where("tenant_id = ?", tenantID).
		Updates(map[string]interface{}{
			"identity":   identity,
			"key_store":  keyStore,
			"updated_at": time.Now(),
		}).Error
}

// SavePairingArtifact stores the transient QR payload or pairing code with
// an expiry of now + ttl.
func (s *CredentialStore) SavePairingArtifact(tenantID int64, artifact string, ttl time.Duration) error {
	expiry := time.Now().Add(ttl)
	res := s.db.Model(&domain.WaCredential{}).Where("tenant_id = ?", tenantID).
		Updates(map[string]interface{}{
			"last_qr":    artifact,
			"qr_expiry":  expiry,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return s.db.Create(&domain.WaCredential{
			TenantID: tenantID,
			LastQr:   artifact,
			QrExpiry: &expiry,
		}).Error
	}
	return nil
}

func (s *CredentialStore) ClearPairingArtifact(tenantID int64) error {
	return s.db.Model(&domain.WaCredential{}).Where("tenant_id = ?", tenantID).
		Updates(map[string]interface{}{
			"last_qr":    "",
			"qr_expiry":  nil,
			"updated_at": time.Now(),
		}).Error
}

// MarkConnected flips the denormalized status fields on both the credential
// row and the tenant row, and clears any pairing artifact.
func (s *CredentialStore) MarkConnected(tenantID int64, phoneNumber string) error {
	err := s.db.Model(&domain.WaCredential{}).Where("tenant_id = ?", tenantID).
		Updates(map[string]interface{}{
			"connected":    true,
			"phone_number": phoneNumber,
			"last_qr":      "",
			"qr_expiry":    nil,
			"updated_at":   time.Now(),
		}).Error
	if err != nil {
		return err
	}
	if err := s.db.Model(&domain.Tenant{}).Where("id = ?", tenantID).
		Updates(map[string]interface{}{
			"wa_connected":    true,
			"wa_phone_number": phoneNumber,
		}).Error; err != nil {
		zap.L().Warn("messaging: tenant status mirror failed", zap.Int64("tenant_id", tenantID), zap.Error(err))
	}
	return nil
}

func (s *CredentialStore) MarkDisconnected(tenantID int64) error {
	err := s.db.Model(&domain.WaCredential{}).Where("tenant_id = ?", tenantID).
		Updates(map[string]interface{}{
			"connected":  false,
			"updated_at": time.Now(),
		}).Error
	if err != nil {
		return err
	}
	if err := s.db.Model(&domain.Tenant{}).Where("id = ?", tenantID).
		Update("wa_connected", false).Error; err != nil {
		zap.L().Warn("messaging: tenant status mirror failed", zap.Int64("tenant_id", tenantID), zap.Error(err))
	}
	return nil
}

// Delete removes the persisted credentials entirely. Used by the pairing
// code flow, which always starts from a clean identity.
func (s *CredentialStore) Delete(tenantID int64) error {
	return s.db.Where("tenant_id = ?", tenantID).Delete(&domain.WaCredential{}).Error
}

// StatusRow returns the raw persisted row for status reads.
func (s *CredentialStore) StatusRow(tenantID int64) (*domain.WaCredential, bool, error) {
	var row domain.WaCredential
	err := s.db.Where("tenant_id = ?", tenantID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &row, true, nil
}
