package meow

import (
	"context"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waTypes "go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.mau.fi/whatsmeow/util/keys"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/micha-dev87/shopify-logistics-app/internal/messaging"
)

// InboundSink receives button-press callbacks extracted from the wire.
type InboundSink func(ctx context.Context, tenantID int64, token, respondingIdentity string)

// Dialer adapts whatsmeow to the messaging transport contract. Devices live
// in a sqlite-backed sqlstore shared by all tenants; each tenant's device is
// tagged with a marker in BusinessName so it can be found across restarts.
type Dialer struct {
	container *sqlstore.Container

	mu   sync.RWMutex
	sink InboundSink
}

// NewDialer opens the shared device store. deviceName, when set, is the
// companion name shown in the phone's linked-devices list.
func NewDialer(ctx context.Context, storePath, deviceName string) (*Dialer, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on", storePath)
	container, err := sqlstore.New(ctx, "sqlite3", dsn, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlstore init failed: %w", err)
	}
	if deviceName != "" {
		store.DeviceProps.Os = proto.String(deviceName)
	}
	return &Dialer{container: container}, nil
}

// SetInboundSink wires the receiver for button callbacks. Must be called
// before the first Dial.
func (d *Dialer) SetInboundSink(sink InboundSink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sink = sink
}

func (d *Dialer) inboundSink() InboundSink {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sink
}

func tenantMarker(tenantID int64) string {
	return fmt.Sprintf("tenant:%d", tenantID)
}

// Dial finds or creates the whatsmeow device for the tenant and wraps it in
// a transport. A brand-new device is seeded from the persisted credential
// record so the identity survives sqlstore loss.
func (d *Dialer) Dial(ctx context.Context, tenantID int64, creds *messaging.CredentialRecord) (messaging.Transport, error) {
	dev, err := d.findDevice(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if dev == nil {
		dev = d.container.NewDevice()
		dev.BusinessName = tenantMarker(tenantID)
		seedDevice(dev, creds)
	}

	client := whatsmeow.NewClient(dev, nil)
	client.EnableAutoReconnect = false

	t := &transport{
		tenantID: tenantID,
		dialer:   d,
		client:   client,
		events:   make(chan messaging.Event, 32),
	}
	client.AddEventHandler(t.handleEvent)
	return t, nil
}

func (d *Dialer) findDevice(ctx context.Context, tenantID int64) (*store.Device, error) {
	devices, err := d.container.GetAllDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlstore GetAllDevices failed: %w", err)
	}
	marker := tenantMarker(tenantID)
	for _, dev := range devices {
		if dev != nil && dev.BusinessName == marker {
			return dev, nil
		}
	}
	return nil, nil
}

// DeleteDevice removes the tenant's persisted whatsmeow device. Called after
// logout so the dead registration is not revived at the next dial.
func (d *Dialer) DeleteDevice(ctx context.Context, tenantID int64) error {
	dev, err := d.findDevice(ctx, tenantID)
	if err != nil || dev == nil {
		return err
	}
	return d.container.DeleteDevice(ctx, dev)
}

func to32(b []byte) (*[32]byte, bool) {
	if len(b) != 32 {
		return nil, false
	}
	var out [32]byte
	copy(out[:], b)
	return &out, true
}

func to64(b []byte) (*[64]byte, bool) {
	if len(b) != 64 {
		return nil, false
	}
	var out [64]byte
	copy(out[:], b)
	return &out, true
}

// seedDevice overrides the freshly generated device keys with the identity
// from our credential store, so the record in our database stays the source
// of truth.
func seedDevice(dev *store.Device, creds *messaging.CredentialRecord) {
	if creds == nil {
		return
	}
	if priv, ok := to32(creds.NoiseKey.Private); ok {
		dev.NoiseKey = keys.NewKeyPairFromPrivateKey(*priv)
	}
	if priv, ok := to32(creds.IdentityKey.Private); ok {
		dev.IdentityKey = keys.NewKeyPairFromPrivateKey(*priv)
	}
	if priv, ok := to32(creds.SignedPreKey.Private); ok {
		pre := &keys.PreKey{
			KeyPair: *keys.NewKeyPairFromPrivateKey(*priv),
			KeyID:   creds.SignedPreKey.KeyID,
		}
		if sig, ok := to64(creds.SignedPreKey.Signature); ok {
			pre.Signature = sig
		}
		dev.SignedPreKey = pre
	}
	if len(creds.AdvSecret) > 0 {
		dev.AdvSecretKey = creds.AdvSecret
	}
	if creds.RegistrationID != 0 {
		dev.RegistrationID = creds.RegistrationID
	}
}

// deviceDelta extracts the current device key material so the session
// manager can persist it through the credential store.
func deviceDelta(dev *store.Device) messaging.CredentialDelta {
	delta := messaging.CredentialDelta{}
	if dev.NoiseKey != nil {
		delta.NoiseKey = &messaging.KeyPair{
			Private: dev.NoiseKey.Priv[:],
			Public:  dev.NoiseKey.Pub[:],
		}
	}
	if dev.IdentityKey != nil {
		delta.IdentityKey = &messaging.KeyPair{
			Private: dev.IdentityKey.Priv[:],
			Public:  dev.IdentityKey.Pub[:],
		}
	}
	if dev.SignedPreKey != nil {
		spk := &messaging.SignedPreKey{
			KeyPair: messaging.KeyPair{
				Private: dev.SignedPreKey.Priv[:],
				Public:  dev.SignedPreKey.Pub[:],
			},
			KeyID: dev.SignedPreKey.KeyID,
		}
		if dev.SignedPreKey.Signature != nil {
			spk.Signature = dev.SignedPreKey.Signature[:]
		}
		delta.SignedPreKey = spk
	}
	if len(dev.AdvSecretKey) > 0 {
		delta.AdvSecret = dev.AdvSecretKey
	}
	if dev.ID != nil {
		delta.PhoneNumber = dev.ID.User
	}
	return delta
}

type transport struct {
	tenantID int64
	dialer   *Dialer
	client   *whatsmeow.Client

	// evMu serializes emit against closeEvents: whatsmeow dispatches events
	// from its own goroutine, so a late Disconnected (or a straggling QR
	// item) can race a user-initiated close, and a send on a closed channel
	// panics even under select/default.
	evMu   sync.Mutex
	closed bool
	events chan messaging.Event
}

func (t *transport) Events() <-chan messaging.Event { return t.events }

func (t *transport) emit(ev messaging.Event) {
	t.evMu.Lock()
	defer t.evMu.Unlock()
	if t.closed {
		return
	}
	select {
	case t.events <- ev:
	default:
		zap.L().Warn("whatsapp: event buffer full, dropping",
			zap.Int64("tenant_id", t.tenantID), zap.String("event", fmt.Sprintf("%T", ev)))
	}
}

func (t *transport) closeEvents() {
	t.evMu.Lock()
	defer t.evMu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	close(t.events)
}

// Connect starts the handshake. An unregistered device goes through the QR
// channel; pairing material is forwarded as events.
func (t *transport) Connect(ctx context.Context) error {
	if t.client.Store.ID == nil {
		qrChan, err := t.client.GetQRChannel(context.Background())
		if err != nil {
			return fmt.Errorf("qr channel: %w", err)
		}
		go t.pumpQR(qrChan)
	}
	if err := t.client.Connect(); err != nil {
		return fmt.Errorf("whatsmeow connect: %w", err)
	}
	return nil
}

func (t *transport) pumpQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case "code":
			t.emit(messaging.PairingEvent{QRCode: item.Code, ExpiresIn: item.Timeout})
		case whatsmeow.QRChannelSuccess.Event:
			// Login completes; the Connected handler takes over.
		default:
			zap.L().Debug("whatsapp: qr channel item",
				zap.Int64("tenant_id", t.tenantID), zap.String("event", item.Event))
		}
	}
}

func (t *transport) handleEvent(evt interface{}) {
	switch e := evt.(type) {
	case *events.PairSuccess:
		t.emit(messaging.CredentialDeltaEvent{Delta: deviceDelta(t.client.Store)})

	case *events.Connected:
		phone := ""
		if t.client.Store.ID != nil {
			phone = t.client.Store.ID.User
		}
		if err := t.dialer.container.PutDevice(context.Background(), t.client.Store); err != nil {
			zap.L().Warn("whatsapp: device persist after connect failed",
				zap.Int64("tenant_id", t.tenantID), zap.Error(err))
		}
		t.emit(messaging.CredentialDeltaEvent{Delta: deviceDelta(t.client.Store)})
		t.emit(messaging.OpenedEvent{PhoneNumber: phone})

	case *events.LoggedOut:
		zap.L().Info("whatsapp: logged out by remote",
			zap.Int64("tenant_id", t.tenantID), zap.Stringer("reason", e.Reason))
		if err := t.dialer.DeleteDevice(context.Background(), t.tenantID); err != nil {
			zap.L().Warn("whatsapp: device delete after logout failed",
				zap.Int64("tenant_id", t.tenantID), zap.Error(err))
		}
		t.emit(messaging.ClosedEvent{Reason: messaging.CloseReasonLoggedOut})
		t.closeEvents()

	case *events.StreamReplaced:
		t.emit(messaging.ClosedEvent{Reason: messaging.CloseReasonReplaced})
		t.closeEvents()

	case *events.Disconnected:
		t.emit(messaging.ClosedEvent{Reason: messaging.CloseReasonError})
		t.closeEvents()

	case *events.Message:
		t.handleMessage(e)
	}
}

// handleMessage forwards button responses to the inbound sink. Everything
// else on the wire is ignored.
func (t *transport) handleMessage(e *events.Message) {
	if e.Message == nil {
		return
	}
	resp := e.Message.GetButtonsResponseMessage()
	if resp == nil {
		return
	}
	token := resp.GetSelectedButtonID()
	if token == "" {
		return
	}
	sink := t.dialer.inboundSink()
	if sink == nil {
		return
	}
	responder := e.Info.Sender.ToNonAD().String()
	sink(context.Background(), t.tenantID, token, responder)
}

func (t *transport) SendText(ctx context.Context, to, body string) (string, error) {
	jid, err := waTypes.ParseJID(to)
	if err != nil {
		return "", fmt.Errorf("invalid jid %q: %w", to, err)
	}
	resp, err := t.client.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(body)})
	if err != nil {
		return "", err
	}
	return string(resp.ID), nil
}

func (t *transport) SendButtons(ctx context.Context, to, body string, buttons []messaging.Button) (string, error) {
	jid, err := waTypes.ParseJID(to)
	if err != nil {
		return "", fmt.Errorf("invalid jid %q: %w", to, err)
	}
	waButtons := make([]*waE2E.ButtonsMessage_Button, 0, len(buttons))
	for _, b := range buttons {
		waButtons = append(waButtons, &waE2E.ButtonsMessage_Button{
			ButtonID: proto.String(b.ID),
			ButtonText: &waE2E.ButtonsMessage_Button_ButtonText{
				DisplayText: proto.String(b.Title),
			},
			Type: waE2E.ButtonsMessage_Button_RESPONSE.Enum(),
		})
	}
	msg := &waE2E.Message{
		ButtonsMessage: &waE2E.ButtonsMessage{
			ContentText: proto.String(body),
			Buttons:     waButtons,
			HeaderType:  waE2E.ButtonsMessage_EMPTY.Enum(),
		},
	}
	resp, err := t.client.SendMessage(ctx, jid, msg)
	if err != nil {
		return "", err
	}
	return string(resp.ID), nil
}

func (t *transport) RequestPairingCode(ctx context.Context, phoneNumber string) (string, error) {
	return t.client.PairPhone(ctx, phoneNumber, true, whatsmeow.PairClientChrome, "Chrome (Linux)")
}

func (t *transport) Disconnect() {
	t.client.Disconnect()
	t.closeEvents()
}

func (t *transport) Logout(ctx context.Context) error {
	err := t.client.Logout(ctx)
	t.closeEvents()
	return err
}
