package messaging

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/micha-dev87/shopify-logistics-app/pkg/metrics"
)

// DeliveryPayload is the descriptive content of one delivery notification.
// Absent optionals render as "-" in the message body.
type DeliveryPayload struct {
	OrderName       string `json:"order_name" mapstructure:"order_name"`
	CustomerName    string `json:"customer_name" mapstructure:"customer_name"`
	CustomerPhone   string `json:"customer_phone" mapstructure:"customer_phone"`
	Address         string `json:"address" mapstructure:"address"`
	ProductTitle    string `json:"product_title" mapstructure:"product_title"`
	ProductQuantity int    `json:"product_quantity" mapstructure:"product_quantity"`
}

// DecodeDeliveryPayload normalizes a loosely-typed payload map (webhook
// JSON) into a DeliveryPayload.
func DecodeDeliveryPayload(raw map[string]interface{}) (DeliveryPayload, error) {
	var p DeliveryPayload
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &p,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return p, err
	}
	return p, dec.Decode(raw)
}

// SendResult reports the outcome of one dispatch attempt.
type SendResult struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Button callback tokens: status_<billID>_<TARGET_STATE>.
const actionTokenPrefix = "status"

func actionToken(billID, state string) string {
	return fmt.Sprintf("%s_%s_%s", actionTokenPrefix, billID, state)
}

// Dispatcher formats delivery notifications and pushes them through the
// tenant's live connection, under the daily quota.
type Dispatcher struct {
	registry *Registry
	limiter  *RateLimiter

	// sleep runs the randomized pre-send delay. Replaced in tests.
	sleep func(time.Duration)
	// delayMin/delayMax bound the uniform human-like delay window.
	delayMin time.Duration
	delayMax time.Duration
}

func NewDispatcher(registry *Registry, limiter *RateLimiter) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		limiter:  limiter,
		sleep:    time.Sleep,
		delayMin: 2 * time.Second,
		delayMax: 5 * time.Second,
	}
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

// renderBody is a deterministic substitution of the payload fields. No
// business logic beyond defaulting empty optionals to "-".
func renderBody(p DeliveryPayload) string {
	qty := "-"
	if p.ProductQuantity > 0 {
		qty = fmt.Sprintf("%d", p.ProductQuantity)
	}
	var b strings.Builder
	b.WriteString("📦 Nouvelle livraison\n\n")
	fmt.Fprintf(&b, "Commande : %s\n", orDash(p.OrderName))
	fmt.Fprintf(&b, "Client : %s\n", orDash(p.CustomerName))
	fmt.Fprintf(&b, "Téléphone : %s\n", orDash(p.CustomerPhone))
	fmt.Fprintf(&b, "Adresse : %s\n", orDash(p.Address))
	fmt.Fprintf(&b, "Produit : %s\n", orDash(p.ProductTitle))
	fmt.Fprintf(&b, "Quantité : %s\n", qty)
	b.WriteString("\nMettez à jour le statut de la livraison :")
	return b.String()
}

func deliveryButtons(billID string) []Button {
	return []Button{
		{ID: actionToken(billID, "TAKEN_IN_CHARGE"), Title: "✅ Prise en charge"},
		{ID: actionToken(billID, "DELIVERED"), Title: "📬 Livré"},
		{ID: actionToken(billID, "NOT_DELIVERED"), Title: "❌ Non livré"},
	}
}

// SendDeliveryNotification delivers one templated notification with the
// three status buttons. Preconditions in order: quota, then live connection.
// The counter is incremented only after a successful transmit; a transport
// failure is surfaced without retry.
func (d *Dispatcher) SendDeliveryNotification(ctx context.Context, tenantID int64, recipient string, payload DeliveryPayload, billID string) (SendResult, error) {
	info, err := d.limiter.CheckAndInfo(tenantID)
	if err != nil {
		return SendResult{Error: err.Error()}, err
	}
	if !info.Allowed {
		metrics.IncrCounter(metrics.MessagingSendRejected)
		rlErr := &RateLimitError{
			DailyCount: info.DailyCount,
			DailyLimit: info.DailyLimit,
			ResetAt:    info.ResetAt,
		}
		return SendResult{Error: rlErr.Error()}, rlErr
	}

	h, ok := d.registry.Get(tenantID)
	if !ok {
		metrics.IncrCounter(metrics.MessagingSendRejected)
		return SendResult{Error: ErrNotConnected.Error()}, ErrNotConnected
	}

	// Human-like pause before the send, so a burst of webhook events does
	// not hit the network as machine-gun traffic.
	d.sleep(d.randomDelay())

	msgID, err := h.Transport.SendButtons(ctx, recipient, renderBody(payload), deliveryButtons(billID))
	if err != nil {
		sendErr := &SendError{Cause: err}
		zap.L().Error("messaging: notification send failed",
			zap.Int64("tenant_id", tenantID),
			zap.String("bill_id", billID),
			zap.Error(err))
		return SendResult{Error: sendErr.Error()}, sendErr
	}

	if err := d.limiter.Increment(tenantID); err != nil {
		// The message is already out; a counter fault must not fail the
		// dispatch.
		zap.L().Error("messaging: quota increment failed",
			zap.Int64("tenant_id", tenantID), zap.Error(err))
	}
	metrics.IncrCounter(metrics.MessagingSendOk)
	zap.L().Info("messaging: notification sent",
		zap.Int64("tenant_id", tenantID),
		zap.String("bill_id", billID),
		zap.String("message_id", msgID))
	return SendResult{Success: true, MessageID: msgID}, nil
}

func (d *Dispatcher) randomDelay() time.Duration {
	window := d.delayMax - d.delayMin
	if window <= 0 {
		return d.delayMin
	}
	return d.delayMin + time.Duration(rand.Int63n(int64(window)))
}
