package messaging

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	evbus "github.com/asaskevich/EventBus"
)

func newTestManager(t *testing.T) (*SessionManager, *fakeDialer, *CredentialStore, *Registry) {
	t.Helper()
	db := newTestDB(t)
	store := NewCredentialStore(db)
	dialer := &fakeDialer{}
	registry := NewRegistry()
	m := NewSessionManager(store, dialer, registry, evbus.New())
	m.SetReconnectDelay(20 * time.Millisecond)
	return m, dialer, store, registry
}

func TestConnectBootstrapsCredentials(t *testing.T) {
	m, dialer, store, _ := newTestManager(t)

	if err := m.Connect(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if dialer.dialCount() != 1 {
		t.Fatalf("dials = %d", dialer.dialCount())
	}
	rec, _, found, err := store.Load(1)
	if err != nil {
		t.Fatal(err)
	}
	if !found || !rec.Valid() {
		t.Fatal("first connect did not persist a fresh identity")
	}
}

func TestConnectReusesStoredCredentials(t *testing.T) {
	m, _, store, _ := newTestManager(t)
	rec, ks, _ := GenerateCredentials()
	if err := store.Save(1, rec, ks); err != nil {
		t.Fatal(err)
	}

	if err := m.Connect(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	got, _, _, err := store.Load(1)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.NoiseKey.Private, rec.NoiseKey.Private) {
		t.Fatal("stored identity replaced on reconnect")
	}
}

func TestConnectNoopWhileLive(t *testing.T) {
	m, dialer, _, registry := newTestManager(t)
	registry.Set(1, &Handle{TenantID: 1, Transport: newFakeTransport()})

	if err := m.Connect(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if dialer.dialCount() != 0 {
		t.Fatal("connect dialed while a live handle existed")
	}
}

func TestPairingThenOpenScenario(t *testing.T) {
	m, dialer, _, registry := newTestManager(t)
	ctx := context.Background()

	if err := m.Connect(ctx, 1); err != nil {
		t.Fatal(err)
	}
	tp := dialer.lastTransport()

	tp.emit(PairingEvent{QRCode: "qr-artifact-1"})
	eventually(t, time.Second, func() bool {
		v, err := m.Status(1)
		return err == nil && v.QRCode == "qr-artifact-1" && !v.Connected
	}, "status never exposed the pairing artifact")

	view, err := m.Status(1)
	if err != nil {
		t.Fatal(err)
	}
	if view.State != StateAwaitingPairing {
		t.Fatalf("state = %s", view.State)
	}
	if view.QRExpiry == nil || time.Until(*view.QRExpiry) > 91*time.Second {
		t.Fatal("artifact expiry not within the ttl window")
	}

	tp.emit(OpenedEvent{PhoneNumber: "221771234567"})
	eventually(t, time.Second, func() bool {
		v, err := m.Status(1)
		return err == nil && v.Connected && v.PhoneNumber == "221771234567"
	}, "status never reflected the open session")

	view, _ = m.Status(1)
	if view.QRCode != "" {
		t.Fatal("pairing artifact survived the open")
	}
	if _, ok := registry.Get(1); !ok {
		t.Fatal("open session missing from registry")
	}
}

func TestLoggedOutIsTerminal(t *testing.T) {
	m, dialer, store, registry := newTestManager(t)
	ctx := context.Background()

	if err := m.Connect(ctx, 1); err != nil {
		t.Fatal(err)
	}
	tp := dialer.lastTransport()
	tp.emit(OpenedEvent{PhoneNumber: "221771234567"})
	eventually(t, time.Second, func() bool {
		_, ok := registry.Get(1)
		return ok
	}, "session never opened")

	tp.emit(ClosedEvent{Reason: CloseReasonLoggedOut})
	eventually(t, time.Second, func() bool {
		v, _ := m.Status(1)
		return v.State == StateClosedTerminal
	}, "logout close did not reach terminal state")

	if _, ok := registry.Get(1); ok {
		t.Fatal("handle survived logout")
	}
	_, _, found, err := store.Load(1)
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("dead identity survived logout")
	}

	time.Sleep(80 * time.Millisecond)
	if dialer.dialCount() != 1 {
		t.Fatalf("reconnect scheduled after logout: dials = %d", dialer.dialCount())
	}
}

func TestErrorCloseSchedulesOneReconnect(t *testing.T) {
	m, dialer, _, _ := newTestManager(t)
	ctx := context.Background()

	if err := m.Connect(ctx, 1); err != nil {
		t.Fatal(err)
	}
	tp := dialer.lastTransport()
	tp.emit(ClosedEvent{Reason: CloseReasonError})

	eventually(t, time.Second, func() bool {
		return dialer.dialCount() == 2
	}, "no reconnect after a non-terminal close")

	time.Sleep(80 * time.Millisecond)
	if n := dialer.dialCount(); n != 2 {
		t.Fatalf("dials = %d, want exactly one reconnect", n)
	}
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	m, dialer, _, _ := newTestManager(t)
	m.SetReconnectDelay(60 * time.Millisecond)
	ctx := context.Background()

	if err := m.Connect(ctx, 1); err != nil {
		t.Fatal(err)
	}
	tp := dialer.lastTransport()
	tp.emit(ClosedEvent{Reason: CloseReasonError})
	eventually(t, time.Second, func() bool {
		v, _ := m.Status(1)
		return v.State == StateClosedReconnecting
	}, "close never observed")

	if err := m.Disconnect(1); err != nil {
		t.Fatal(err)
	}
	time.Sleep(120 * time.Millisecond)
	if dialer.dialCount() != 1 {
		t.Fatal("cancelled reconnect still fired")
	}
	v, _ := m.Status(1)
	if v.State != StateClosedTerminal {
		t.Fatalf("state = %s", v.State)
	}
}

func TestCredentialDeltaMerged(t *testing.T) {
	m, dialer, store, _ := newTestManager(t)
	ctx := context.Background()

	if err := m.Connect(ctx, 1); err != nil {
		t.Fatal(err)
	}
	before, _, _, err := store.Load(1)
	if err != nil {
		t.Fatal(err)
	}

	tp := dialer.lastTransport()
	tp.emit(CredentialDeltaEvent{Delta: CredentialDelta{
		PhoneNumber: "221771234567",
		Keys: KeyStore{
			KeyRef("session", 99): {Private: Blob("rotated")},
		},
	}})

	eventually(t, time.Second, func() bool {
		rec, ks, _, err := store.Load(1)
		if err != nil || rec == nil {
			return false
		}
		_, ok := ks[KeyRef("session", 99)]
		return ok && rec.PhoneNumber == "221771234567"
	}, "delta never persisted")

	after, _, _, err := store.Load(1)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(after.NoiseKey.Private, before.NoiseKey.Private) {
		t.Fatal("delta merge erased an absent field")
	}
}

func TestRequestPairingCode(t *testing.T) {
	m, dialer, store, _ := newTestManager(t)
	tp := newFakeTransport()
	tp.pairCode = "ABCD-1234"
	dialer.queue = []*fakeTransport{tp}

	code, err := m.RequestPairingCode(context.Background(), 1, "221771234567")
	if err != nil {
		t.Fatal(err)
	}
	if code != "ABCD-1234" {
		t.Fatalf("code = %q", code)
	}
	row, found, err := store.StatusRow(1)
	if err != nil || !found {
		t.Fatalf("status row: found=%v err=%v", found, err)
	}
	if row.LastQr != "ABCD-1234" {
		t.Fatal("pairing code not stored as artifact")
	}
}

func TestRequestPairingCodeTimeout(t *testing.T) {
	m, dialer, _, _ := newTestManager(t)
	m.pairingTimeout = 50 * time.Millisecond
	dialer.queue = []*fakeTransport{newFakeTransport()}

	_, err := m.RequestPairingCode(context.Background(), 1, "221771234567")
	if err != ErrPairingTimeout {
		t.Fatalf("err = %v, want ErrPairingTimeout", err)
	}
}

func TestRequestPairingCodeRequiresPhone(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	if _, err := m.RequestPairingCode(context.Background(), 1, ""); err == nil {
		t.Fatal("empty phone accepted")
	}
}

func TestRequestPairingCodeSerializedWithConnect(t *testing.T) {
	m, dialer, _, _ := newTestManager(t)
	a := newFakeTransport()
	a.pairCode = "AAAA-1111"
	b := newFakeTransport()
	b.pairCode = "BBBB-2222"
	dialer.queue = []*fakeTransport{a, b}
	dialer.delay = 30 * time.Millisecond

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = m.Connect(context.Background(), 1)
	}()
	// Land inside the in-flight connect attempt.
	time.Sleep(10 * time.Millisecond)
	code, err := m.RequestPairingCode(context.Background(), 1, "221771234567")
	wg.Wait()
	if err != nil {
		t.Fatal(err)
	}
	if code == "" {
		t.Fatal("no pairing code returned")
	}

	live := 0
	for _, tp := range dialer.issuedTransports() {
		if tp.isConnected() {
			live++
		}
	}
	if live > 1 {
		t.Fatalf("live transports = %d, want at most 1", live)
	}
	if a.isConnected() {
		t.Fatal("transport from the earlier connect attempt was never torn down")
	}
}

func TestConcurrentConnectSingleDial(t *testing.T) {
	m, dialer, _, _ := newTestManager(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_ = m.Connect(ctx, 1)
		}()
	}
	close(start)
	wg.Wait()

	if n := dialer.dialCount(); n != 1 {
		t.Fatalf("dials = %d, want 1", n)
	}
}
