package domain

import "time"

// WaRateCounter is the authoritative day-scoped send counter, one row per
// (tenant, UTC day). Rows expire 24h after creation and are swept by a
// scheduled job; the day key alone already makes stale rows unreachable.
type WaRateCounter struct {
	ID        int64     `json:"id,string" gorm:"primaryKey"`
	TenantID  int64     `json:"tenant_id,string" gorm:"uniqueIndex:idx_rate_tenant_day"`
	DayKey    string    `json:"day_key" gorm:"uniqueIndex:idx_rate_tenant_day;size:8"`
	Count     int64     `json:"count"`
	ExpiresAt time.Time `gorm:"index" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (WaRateCounter) TableName() string {
	return "wa_rate_counter"
}
