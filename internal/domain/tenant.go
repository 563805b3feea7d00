package domain

import "time"

// Tenant is an isolated shop account. All messaging state is partitioned by
// tenant ID. DailyCount/DailyDate mirror the authoritative rate counter for
// dashboard display only.
type Tenant struct {
	ID                int64     `json:"id,string" gorm:"primaryKey"`
	Name              string    `gorm:"index" json:"name"`
	ShopDomain        string    `gorm:"index" json:"shop_domain"`
	Status            string    `json:"status"`
	MessagingEnabled  bool      `json:"messaging_enabled"`
	NotificationMode  string    `json:"notification_mode"` // e.g. all_orders, assigned_only
	WaConnected       bool      `json:"wa_connected"`
	WaPhoneNumber     string    `json:"wa_phone_number"`
	DailyCount        int       `json:"daily_count"`
	DailyDate         string    `json:"daily_date"` // yyyymmdd snapshot key
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (Tenant) TableName() string {
	return "tenant"
}
