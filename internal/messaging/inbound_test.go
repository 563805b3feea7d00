package messaging

import (
	"context"
	"strings"
	"testing"
)

type fakeOrders struct {
	agents      map[string]string
	transitions []string
	failLookup  error
}

func (f *fakeOrders) AssignedAgentIdentity(billID string) (string, bool, error) {
	if f.failLookup != nil {
		return "", false, f.failLookup
	}
	id, ok := f.agents[billID]
	return id, ok, nil
}

func (f *fakeOrders) ApplyTransition(billID, state, source string) error {
	f.transitions = append(f.transitions, billID+"|"+state+"|"+source)
	return nil
}

func TestParseActionToken(t *testing.T) {
	cases := []struct {
		token  string
		bill   string
		state  string
		wantOk bool
	}{
		{"status_bill-42_DELIVERED", "bill-42", "DELIVERED", true},
		{"status_bill_42_TAKEN_IN_CHARGE", "bill_42", "TAKEN_IN_CHARGE", true},
		{"status_b1_NOT_DELIVERED", "b1", "NOT_DELIVERED", true},
		{"status_bill-42_SHIPPED", "", "", false},
		{"update_bill-42_DELIVERED", "", "", false},
		{"status_DELIVERED", "", "", false},
		{"garbage", "", "", false},
		{"", "", "", false},
	}
	for _, c := range cases {
		bill, state, ok := parseActionToken(c.token)
		if ok != c.wantOk || bill != c.bill || state != c.state {
			t.Fatalf("parse(%q) = (%q,%q,%v), want (%q,%q,%v)",
				c.token, bill, state, ok, c.bill, c.state, c.wantOk)
		}
	}
}

func TestInboundAppliesAuthorizedTransition(t *testing.T) {
	orders := &fakeOrders{agents: map[string]string{"bill-42": "221771234567@s.whatsapp.net"}}
	registry := NewRegistry()
	tp := newFakeTransport()
	registry.Set(1, &Handle{TenantID: 1, Transport: tp})
	h := NewInboundHandler(registry, orders)

	h.HandleInboundAction(context.Background(), 1,
		"status_bill-42_DELIVERED", "221771234567@s.whatsapp.net")

	if len(orders.transitions) != 1 {
		t.Fatalf("transitions = %v", orders.transitions)
	}
	if orders.transitions[0] != "bill-42|DELIVERED|messaging_callback" {
		t.Fatalf("transition = %q", orders.transitions[0])
	}
	if len(tp.sentText) != 1 {
		t.Fatal("no confirmation sent")
	}
	if !strings.HasPrefix(tp.sentText[0], "221771234567@s.whatsapp.net|") {
		t.Fatalf("confirmation went to %q", tp.sentText[0])
	}
}

func TestInboundDropsUnauthorizedIdentity(t *testing.T) {
	orders := &fakeOrders{agents: map[string]string{"bill-42": "221771234567@s.whatsapp.net"}}
	registry := NewRegistry()
	tp := newFakeTransport()
	registry.Set(1, &Handle{TenantID: 1, Transport: tp})
	h := NewInboundHandler(registry, orders)

	h.HandleInboundAction(context.Background(), 1,
		"status_bill-42_DELIVERED", "221779999999@s.whatsapp.net")

	if len(orders.transitions) != 0 {
		t.Fatal("unauthorized action changed order state")
	}
	if len(tp.sentText) != 0 {
		t.Fatal("unauthorized action got a confirmation")
	}
}

func TestInboundDropsMalformedToken(t *testing.T) {
	orders := &fakeOrders{agents: map[string]string{"bill-42": "a@x"}}
	h := NewInboundHandler(NewRegistry(), orders)

	h.HandleInboundAction(context.Background(), 1, "not-a-token", "a@x")
	h.HandleInboundAction(context.Background(), 1, "status_bill-42_BOGUS", "a@x")

	if len(orders.transitions) != 0 {
		t.Fatal("malformed token changed order state")
	}
}

func TestInboundDropsUnknownBill(t *testing.T) {
	orders := &fakeOrders{agents: map[string]string{}}
	h := NewInboundHandler(NewRegistry(), orders)

	h.HandleInboundAction(context.Background(), 1, "status_ghost_DELIVERED", "a@x")

	if len(orders.transitions) != 0 {
		t.Fatal("unknown bill changed order state")
	}
}

func TestInboundTransitionWithoutLiveConnection(t *testing.T) {
	// The transition still applies when the session dropped between the
	// button press and the callback; only the confirmation is skipped.
	orders := &fakeOrders{agents: map[string]string{"bill-42": "a@x"}}
	h := NewInboundHandler(NewRegistry(), orders)

	h.HandleInboundAction(context.Background(), 1, "status_bill-42_DELIVERED", "a@x")

	if len(orders.transitions) != 1 {
		t.Fatal("transition skipped without live connection")
	}
}
