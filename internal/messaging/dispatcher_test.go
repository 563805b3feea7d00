package messaging

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func newTestDispatcher(t *testing.T, limit int64) (*Dispatcher, *Registry, *RateLimiter) {
	t.Helper()
	rl := NewRateLimiter(newTestDB(t), limit)
	registry := NewRegistry()
	d := NewDispatcher(registry, rl)
	d.sleep = func(time.Duration) {}
	return d, registry, rl
}

func samplePayload() DeliveryPayload {
	return DeliveryPayload{
		OrderName:       "#1001",
		CustomerName:    "Aïcha",
		ProductTitle:    "Chaussures",
		ProductQuantity: 2,
	}
}

func TestDispatchSuccessIncrementsCounter(t *testing.T) {
	d, registry, rl := newTestDispatcher(t, DefaultDailyLimit)
	tp := newFakeTransport()
	registry.Set(1, &Handle{TenantID: 1, Transport: tp})

	res, err := d.SendDeliveryNotification(context.Background(), 1,
		"221771234567@s.whatsapp.net", samplePayload(), "bill-42")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.MessageID == "" {
		t.Fatalf("result = %+v", res)
	}

	info, err := rl.CheckAndInfo(1)
	if err != nil {
		t.Fatal(err)
	}
	if info.DailyCount != 1 {
		t.Fatalf("counter = %d after one send", info.DailyCount)
	}
}

func TestDispatchRejectedWhenNotConnected(t *testing.T) {
	d, _, rl := newTestDispatcher(t, DefaultDailyLimit)

	res, err := d.SendDeliveryNotification(context.Background(), 1,
		"221771234567@s.whatsapp.net", samplePayload(), "bill-42")
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
	if res.Success {
		t.Fatal("result reported success")
	}
	info, _ := rl.CheckAndInfo(1)
	if info.DailyCount != 0 {
		t.Fatal("rejected send consumed quota")
	}
}

func TestDispatchRejectedOverQuota(t *testing.T) {
	d, registry, rl := newTestDispatcher(t, 1)
	registry.Set(1, &Handle{TenantID: 1, Transport: newFakeTransport()})
	if err := rl.Increment(1); err != nil {
		t.Fatal(err)
	}

	_, err := d.SendDeliveryNotification(context.Background(), 1,
		"221771234567@s.whatsapp.net", samplePayload(), "bill-42")
	if !IsRateLimited(err) {
		t.Fatalf("err = %v, want rate limit error", err)
	}
	var rlErr *RateLimitError
	if !errors.As(err, &rlErr) {
		t.Fatal("rate limit error not extractable")
	}
	if rlErr.ResetAt.IsZero() || !rlErr.ResetAt.After(time.Now().UTC()) {
		t.Fatal("reset time missing or in the past")
	}
}

func TestDispatchTransportFailureNoRetryNoCount(t *testing.T) {
	d, registry, rl := newTestDispatcher(t, DefaultDailyLimit)
	tp := newFakeTransport()
	tp.sendErr = errors.New("stream closed")
	registry.Set(1, &Handle{TenantID: 1, Transport: tp})

	res, err := d.SendDeliveryNotification(context.Background(), 1,
		"221771234567@s.whatsapp.net", samplePayload(), "bill-42")
	var sendErr *SendError
	if !errors.As(err, &sendErr) {
		t.Fatalf("err = %v, want SendError", err)
	}
	if res.Success {
		t.Fatal("result reported success")
	}
	info, _ := rl.CheckAndInfo(1)
	if info.DailyCount != 0 {
		t.Fatal("failed send consumed quota")
	}
	if len(tp.sentBodies) != 0 {
		t.Fatal("failed send recorded a body")
	}
}

func TestDispatchButtonTokens(t *testing.T) {
	d, registry, _ := newTestDispatcher(t, DefaultDailyLimit)
	tp := newFakeTransport()
	registry.Set(1, &Handle{TenantID: 1, Transport: tp})

	if _, err := d.SendDeliveryNotification(context.Background(), 1,
		"221771234567@s.whatsapp.net", samplePayload(), "bill-42"); err != nil {
		t.Fatal(err)
	}

	if len(tp.sentBtns) != 1 {
		t.Fatalf("sends = %d", len(tp.sentBtns))
	}
	btns := tp.sentBtns[0]
	if len(btns) != 3 {
		t.Fatalf("buttons = %d, want 3", len(btns))
	}
	want := []string{
		"status_bill-42_TAKEN_IN_CHARGE",
		"status_bill-42_DELIVERED",
		"status_bill-42_NOT_DELIVERED",
	}
	for i, w := range want {
		if btns[i].ID != w {
			t.Fatalf("button[%d] = %q, want %q", i, btns[i].ID, w)
		}
	}
}

func TestRenderBodyDefaultsAbsentFields(t *testing.T) {
	body := renderBody(DeliveryPayload{OrderName: "#1001"})
	if !strings.Contains(body, "#1001") {
		t.Fatal("order name missing from body")
	}
	for _, line := range []string{"Client : -", "Adresse : -", "Quantité : -"} {
		if !strings.Contains(body, line) {
			t.Fatalf("placeholder line %q missing:\n%s", line, body)
		}
	}
}

func TestDecodeDeliveryPayloadWeakTypes(t *testing.T) {
	p, err := DecodeDeliveryPayload(map[string]interface{}{
		"order_name":       "#1001",
		"customer_name":    "Aïcha",
		"product_quantity": "2",
	})
	if err != nil {
		t.Fatal(err)
	}
	if p.ProductQuantity != 2 {
		t.Fatalf("quantity = %d", p.ProductQuantity)
	}
	if p.CustomerName != "Aïcha" {
		t.Fatalf("customer = %q", p.CustomerName)
	}
}

func TestRandomDelayWithinWindow(t *testing.T) {
	d, _, _ := newTestDispatcher(t, DefaultDailyLimit)
	for i := 0; i < 100; i++ {
		got := d.randomDelay()
		if got < 2*time.Second || got >= 5*time.Second {
			t.Fatalf("delay %v outside [2s,5s)", got)
		}
	}
}
