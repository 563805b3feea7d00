// Package orders owns delivery orders and agents: the correlation targets
// of messaging button callbacks.
package orders

import (
	"errors"
	"fmt"
	"time"

	"github.com/guonaihong/gout"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/micha-dev87/shopify-logistics-app/internal/domain"
)

var validTransitions = map[string]bool{
	domain.OrderStatusTakenInCharge: true,
	domain.OrderStatusDelivered:     true,
	domain.OrderStatusNotDelivered:  true,
}

// Service looks up orders by bill ID and applies status transitions. When a
// remote endpoint is configured, transitions are also forwarded to the
// storefront backend.
type Service struct {
	db *gorm.DB

	// remoteURL, when set, receives a POST per transition.
	remoteURL string
}

func NewService(db *gorm.DB, remoteURL string) *Service {
	return &Service{db: db, remoteURL: remoteURL}
}

// AssignedAgentIdentity resolves the messaging identity of the agent
// assigned to the bill. Unknown or unassigned bills read as not found.
func (s *Service) AssignedAgentIdentity(billID string) (string, bool, error) {
	var order domain.DeliveryOrder
	err := s.db.Where("bill_id = ?", billID).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if order.AgentID == 0 {
		return "", false, nil
	}
	var agent domain.DeliveryAgent
	err = s.db.Where("id = ?", order.AgentID).First(&agent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if agent.WaIdentity == "" {
		return "", false, nil
	}
	return agent.WaIdentity, true, nil
}

// ApplyTransition moves the order to state and records where the change
// came from.
func (s *Service) ApplyTransition(billID, state, source string) error {
	if !validTransitions[state] {
		return fmt.Errorf("orders: invalid target state %q", state)
	}
	res := s.db.Model(&domain.DeliveryOrder{}).
		Where("bill_id = ?", billID).
		Updates(map[string]interface{}{
			"status":        state,
			"status_source": source,
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("orders: bill %s not found", billID)
	}
	if s.remoteURL != "" {
		go s.forwardTransition(billID, state, source)
	}
	return nil
}

// forwardTransition mirrors the transition to the storefront backend. Best
// effort; the local row already carries the authoritative state.
func (s *Service) forwardTransition(billID, state, source string) {
	var code int
	err := gout.POST(s.remoteURL).
		SetJSON(gout.H{
			"bill_id": billID,
			"status":  state,
			"source":  source,
		}).
		SetTimeout(10 * time.Second).
		Code(&code).
		Do()
	if err != nil || code >= 400 {
		zap.L().Warn("orders: remote transition forward failed",
			zap.String("bill_id", billID),
			zap.String("status", state),
			zap.Int("code", code),
			zap.Error(err))
		return
	}
	zap.L().Info("orders: transition forwarded",
		zap.String("bill_id", billID), zap.String("status", state))
}

// GetByBillID returns the order row for the admin API.
func (s *Service) GetByBillID(billID string) (*domain.DeliveryOrder, error) {
	var order domain.DeliveryOrder
	if err := s.db.Where("bill_id = ?", billID).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// UpsertFromWebhook stores or refreshes an order from a storefront webhook
// payload, preserving any status already set by a callback.
func (s *Service) UpsertFromWebhook(order *domain.DeliveryOrder) error {
	var existing domain.DeliveryOrder
	err := s.db.Where("bill_id = ?", order.BillID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if order.Status == "" {
			order.Status = domain.OrderStatusPending
		}
		return s.db.Create(order).Error
	}
	if err != nil {
		return err
	}
	return s.db.Model(&domain.DeliveryOrder{}).Where("bill_id = ?", order.BillID).
		Updates(map[string]interface{}{
			"order_name":       order.OrderName,
			"customer_name":    order.CustomerName,
			"customer_phone":   order.CustomerPhone,
			"address":          order.Address,
			"product_title":    order.ProductTitle,
			"product_quantity": order.ProductQuantity,
			"agent_id":         order.AgentID,
			"updated_at":       time.Now(),
		}).Error
}
