package messaging

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/micha-dev87/shopify-logistics-app/pkg/metrics"
)

// StatusSourceCallback marks transitions that originated from a button
// press on the messaging network.
const StatusSourceCallback = "messaging_callback"

// OrderSystem is the collaborator that owns delivery orders. The inbound
// handler only needs lookup and transition.
type OrderSystem interface {
	// AssignedAgentIdentity returns the registered messaging identity of
	// the agent assigned to billID. found is false when the bill is
	// unknown or unassigned.
	AssignedAgentIdentity(billID string) (identity string, found bool, err error)
	// ApplyTransition moves the order for billID to state, recording
	// source.
	ApplyTransition(billID, state, source string) error
}

// InboundHandler authorizes and applies button-press callbacks.
type InboundHandler struct {
	registry *Registry
	orders   OrderSystem
}

func NewInboundHandler(registry *Registry, orders OrderSystem) *InboundHandler {
	return &InboundHandler{registry: registry, orders: orders}
}

var confirmationText = map[string]string{
	"TAKEN_IN_CHARGE": "✅ Prise en charge enregistrée.",
	"DELIVERED":       "📬 Livraison confirmée, merci !",
	"NOT_DELIVERED":   "❌ Échec de livraison enregistré.",
}

// Target states, longest first: both the bill ID and the states themselves
// contain underscores, so the state is matched as a known suffix.
var actionStates = []string{"TAKEN_IN_CHARGE", "NOT_DELIVERED", "DELIVERED"}

// parseActionToken splits "status_<billID>_<STATE>".
func parseActionToken(token string) (billID, state string, ok bool) {
	rest, found := strings.CutPrefix(token, actionTokenPrefix+"_")
	if !found {
		return "", "", false
	}
	for _, s := range actionStates {
		suffix := "_" + s
		if strings.HasSuffix(rest, suffix) && len(rest) > len(suffix) {
			return rest[:len(rest)-len(suffix)], s, true
		}
	}
	return "", "", false
}

// HandleInboundAction processes one button callback. Malformed tokens,
// unknown bills and identity mismatches are logged and dropped; the network
// has no notion of a rejection response, so nothing is surfaced to the
// transport.
func (h *InboundHandler) HandleInboundAction(ctx context.Context, tenantID int64, token, respondingIdentity string) {
	billID, state, ok := parseActionToken(token)
	if !ok {
		zap.L().Warn("messaging: malformed action token dropped",
			zap.Int64("tenant_id", tenantID), zap.String("token", token))
		return
	}

	identity, found, err := h.orders.AssignedAgentIdentity(billID)
	if err != nil {
		zap.L().Error("messaging: agent lookup failed",
			zap.Int64("tenant_id", tenantID), zap.String("bill_id", billID), zap.Error(err))
		return
	}
	if !found {
		zap.L().Debug("messaging: action for unknown bill dropped",
			zap.Int64("tenant_id", tenantID), zap.String("bill_id", billID))
		return
	}
	if identity != respondingIdentity {
		zap.L().Warn("messaging: unauthorized action dropped",
			zap.Int64("tenant_id", tenantID),
			zap.String("bill_id", billID),
			zap.String("responder", respondingIdentity))
		return
	}

	if err := h.orders.ApplyTransition(billID, state, StatusSourceCallback); err != nil {
		zap.L().Error("messaging: status transition failed",
			zap.Int64("tenant_id", tenantID), zap.String("bill_id", billID), zap.Error(err))
		return
	}
	metrics.IncrCounter(metrics.MessagingInboundAct)
	zap.L().Info("messaging: status updated from callback",
		zap.Int64("tenant_id", tenantID),
		zap.String("bill_id", billID),
		zap.String("state", state))

	conn, ok := h.registry.Get(tenantID)
	if !ok {
		return
	}
	text, ok := confirmationText[state]
	if !ok {
		text = fmt.Sprintf("Statut %s enregistré.", state)
	}
	if _, err := conn.Transport.SendText(ctx, respondingIdentity, text); err != nil {
		zap.L().Warn("messaging: confirmation send failed",
			zap.Int64("tenant_id", tenantID), zap.Error(err))
	}
}
