package domain

import "time"

// Delivery order states reachable from the interactive buttons.
const (
	OrderStatusPending       = "PENDING"
	OrderStatusTakenInCharge = "TAKEN_IN_CHARGE"
	OrderStatusDelivered     = "DELIVERED"
	OrderStatusNotDelivered  = "NOT_DELIVERED"
)

// DeliveryAgent is a courier registered by a tenant. WaIdentity is the
// messaging address (JID) the agent answers from; inbound button presses
// are authorized against it.
type DeliveryAgent struct {
	ID         int64     `json:"id,string" gorm:"primaryKey"`
	TenantID   int64     `gorm:"index" json:"tenant_id,string"`
	Name       string    `json:"name"`
	Phone      string    `json:"phone"`
	WaIdentity string    `gorm:"index" json:"wa_identity"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (DeliveryAgent) TableName() string {
	return "delivery_agent"
}

// DeliveryOrder is one shipment to notify about. BillID is the correlation
// ID embedded in outgoing buttons and matched back on inbound actions.
type DeliveryOrder struct {
	ID              int64     `json:"id,string" gorm:"primaryKey"`
	TenantID        int64     `gorm:"index" json:"tenant_id,string"`
	BillID          string    `gorm:"uniqueIndex" json:"bill_id"`
	OrderName       string    `json:"order_name"`
	CustomerName    string    `json:"customer_name"`
	CustomerPhone   string    `json:"customer_phone"`
	Address         string    `json:"address"`
	ProductTitle    string    `json:"product_title"`
	ProductQuantity int       `json:"product_quantity"`
	Status          string    `gorm:"index" json:"status"`
	StatusSource    string    `json:"status_source"`
	AgentID         int64     `gorm:"index" json:"agent_id,string"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (DeliveryOrder) TableName() string {
	return "delivery_order"
}
