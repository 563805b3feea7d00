package domain

import "time"

// WaCredential is the persisted authentication state for one tenant's
// WhatsApp session. Identity and KeyStore hold JSON produced by the
// messaging codec; binary key material inside them is tag-encoded so the
// text columns round-trip it losslessly.
type WaCredential struct {
	ID          int64      `json:"id,string" gorm:"primaryKey"`
	TenantID    int64      `json:"tenant_id,string" gorm:"uniqueIndex"`
	Identity    string     `gorm:"type:text" json:"-"`
	KeyStore    string     `gorm:"type:text" json:"-"`
	Connected   bool       `json:"connected"`
	PhoneNumber string     `json:"phone_number"`
	LastQr      string     `gorm:"type:text" json:"last_qr"`
	QrExpiry    *time.Time `json:"qr_expiry"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (WaCredential) TableName() string {
	return "wa_credential"
}
