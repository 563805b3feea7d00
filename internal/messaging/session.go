package messaging

import (
	"context"
	"sync"
	"time"

	evbus "github.com/asaskevich/EventBus"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/micha-dev87/shopify-logistics-app/pkg/metrics"
)

// SessionState is the lifecycle phase of a tenant's messaging session.
type SessionState string

const (
	StateUninitialized      SessionState = "UNINITIALIZED"
	StateConnecting         SessionState = "CONNECTING"
	StateAwaitingPairing    SessionState = "AWAITING_PAIRING"
	StateOpen               SessionState = "OPEN"
	StateClosedReconnecting SessionState = "CLOSED_RECONNECTING"
	StateClosedTerminal     SessionState = "CLOSED_TERMINAL"
)

// Bus topics published by the session manager. Payload is the tenant ID.
const (
	TopicSessionPairing = "messaging.session.pairing"
	TopicSessionOpen    = "messaging.session.open"
	TopicSessionClosed  = "messaging.session.closed"
)

const (
	// DefaultPairingArtifactTTL bounds how long a stored QR payload or
	// pairing code stays readable.
	DefaultPairingArtifactTTL = 90 * time.Second
	// DefaultReconnectDelay is the fixed wait before a single automatic
	// reconnect attempt after a non-terminal close.
	DefaultReconnectDelay = 5 * time.Second
	// DefaultPairingCodeTimeout bounds the wait for the network to issue a
	// linking code.
	DefaultPairingCodeTimeout = 30 * time.Second
)

// StatusView is the read-only snapshot returned by Status.
type StatusView struct {
	TenantID    int64        `json:"tenant_id"`
	State       SessionState `json:"state"`
	Connected   bool         `json:"connected"`
	PhoneNumber string       `json:"phone_number,omitempty"`
	QRCode      string       `json:"qr_code,omitempty"`
	QRExpiry    *time.Time   `json:"qr_expiry,omitempty"`
	HasIdentity bool         `json:"has_identity"`
}

// session is the in-memory lifecycle record for one tenant. All state
// transitions happen under mu, and transport events are applied by a single
// goroutine per connection, so observers always see transitions in order.
type session struct {
	mu        sync.Mutex
	state     SessionState
	transport Transport
	cancelRun context.CancelFunc
	reconnect *time.Timer
}

// SessionManager owns the lifecycle of every tenant session: credential
// bootstrap, connection, pairing, reconnection and teardown.
type SessionManager struct {
	store    *CredentialStore
	dialer   Dialer
	registry *Registry
	bus      evbus.Bus

	artifactTTL    time.Duration
	reconnectDelay time.Duration
	pairingTimeout time.Duration

	mu       sync.Mutex
	sessions map[int64]*session
}

func NewSessionManager(store *CredentialStore, dialer Dialer, registry *Registry, bus evbus.Bus) *SessionManager {
	return &SessionManager{
		store:          store,
		dialer:         dialer,
		registry:       registry,
		bus:            bus,
		artifactTTL:    DefaultPairingArtifactTTL,
		reconnectDelay: DefaultReconnectDelay,
		pairingTimeout: DefaultPairingCodeTimeout,
		sessions:       make(map[int64]*session),
	}
}

// SetReconnectDelay overrides the reconnect wait. Used by tests.
func (m *SessionManager) SetReconnectDelay(d time.Duration) { m.reconnectDelay = d }

func (m *SessionManager) getSession(tenantID int64) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[tenantID]
	if !ok {
		s = &session{state: StateUninitialized}
		m.sessions[tenantID] = s
	}
	return s
}

// Connect establishes (or re-establishes) the tenant's session. Credentials
// are loaded from the store, or generated and persisted on first use.
// Concurrent calls for the same tenant collapse into one attempt; a call
// while a live connection exists is a no-op.
func (m *SessionManager) Connect(ctx context.Context, tenantID int64) error {
	_, err := m.registry.DoConnect(tenantID, func() (interface{}, error) {
		if _, ok := m.registry.Get(tenantID); ok {
			return nil, nil
		}
		s := m.getSession(tenantID)
		s.mu.Lock()
		inFlight := s.transport != nil &&
			(s.state == StateConnecting || s.state == StateAwaitingPairing || s.state == StateOpen)
		s.mu.Unlock()
		if inFlight {
			return nil, nil
		}
		return nil, m.connectLocked(ctx, tenantID)
	})
	return err
}

func (m *SessionManager) connectLocked(ctx context.Context, tenantID int64) error {
	rec, ks, found, err := m.store.Load(tenantID)
	if err != nil {
		return errors.WithMessage(err, "load credentials")
	}
	if !found || !rec.Valid() {
		rec, ks, err = GenerateCredentials()
		if err != nil {
			return errors.WithMessage(err, "generate credentials")
		}
		if err := m.store.Save(tenantID, rec, ks); err != nil {
			return errors.WithMessage(err, "save credentials")
		}
	}
	return m.dialAndRun(ctx, tenantID, rec)
}

func (m *SessionManager) dialAndRun(ctx context.Context, tenantID int64, rec *CredentialRecord) error {
	t, err := m.dialer.Dial(ctx, tenantID, rec)
	if err != nil {
		return errors.WithMessage(err, "dial transport")
	}

	s := m.getSession(tenantID)
	s.mu.Lock()
	s.stopReconnectTimer()
	s.transport = t
	s.state = StateConnecting
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancelRun = cancel
	s.mu.Unlock()

	if err := t.Connect(ctx); err != nil {
		s.mu.Lock()
		s.transport = nil
		s.state = StateClosedTerminal
		s.mu.Unlock()
		cancel()
		return errors.WithMessage(err, "connect")
	}
	go m.runEvents(runCtx, tenantID, s, t)
	return nil
}

// runEvents consumes the transport's lifecycle stream until it closes. One
// goroutine per connection keeps per-tenant event ordering strict.
func (m *SessionManager) runEvents(ctx context.Context, tenantID int64, s *session, t Transport) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-t.Events():
			if !ok {
				return
			}
			m.applyEvent(tenantID, s, t, ev)
		}
	}
}

func (m *SessionManager) applyEvent(tenantID int64, s *session, t Transport, ev Event) {
	switch e := ev.(type) {
	case PairingEvent:
		s.mu.Lock()
		s.state = StateAwaitingPairing
		s.mu.Unlock()
		artifact := e.QRCode
		if artifact == "" {
			artifact = e.PairingCode
		}
		ttl := m.artifactTTL
		if e.ExpiresIn > 0 && e.ExpiresIn < ttl {
			ttl = e.ExpiresIn
		}
		if err := m.store.SavePairingArtifact(tenantID, artifact, ttl); err != nil {
			zap.L().Error("messaging: save pairing artifact", zap.Int64("tenant_id", tenantID), zap.Error(err))
		}
		m.bus.Publish(TopicSessionPairing, tenantID)

	case OpenedEvent:
		s.mu.Lock()
		s.state = StateOpen
		s.mu.Unlock()
		m.registry.Set(tenantID, &Handle{
			TenantID:    tenantID,
			Transport:   t,
			PhoneNumber: e.PhoneNumber,
			OpenedAt:    time.Now(),
		})
		if err := m.store.MarkConnected(tenantID, e.PhoneNumber); err != nil {
			zap.L().Error("messaging: mark connected", zap.Int64("tenant_id", tenantID), zap.Error(err))
		}
		zap.L().Info("messaging: session open",
			zap.Int64("tenant_id", tenantID), zap.String("phone", e.PhoneNumber))
		m.bus.Publish(TopicSessionOpen, tenantID)

	case CredentialDeltaEvent:
		m.mergeDelta(tenantID, e.Delta)

	case ClosedEvent:
		m.handleClosed(tenantID, s, e)
	}
}

func (m *SessionManager) mergeDelta(tenantID int64, delta CredentialDelta) {
	rec, ks, found, err := m.store.Load(tenantID)
	if err != nil {
		zap.L().Error("messaging: load for delta merge", zap.Int64("tenant_id", tenantID), zap.Error(err))
		return
	}
	if !found {
		rec = &CredentialRecord{}
		ks = KeyStore{}
	}
	delta.Merge(rec, ks)
	if err := m.store.Save(tenantID, rec, ks); err != nil {
		zap.L().Error("messaging: save merged credentials", zap.Int64("tenant_id", tenantID), zap.Error(err))
	}
}

func (m *SessionManager) handleClosed(tenantID int64, s *session, e ClosedEvent) {
	m.registry.Remove(tenantID)
	if err := m.store.MarkDisconnected(tenantID); err != nil {
		zap.L().Error("messaging: mark disconnected", zap.Int64("tenant_id", tenantID), zap.Error(err))
	}
	zap.L().Info("messaging: session closed",
		zap.Int64("tenant_id", tenantID),
		zap.String("reason", e.Reason.String()),
		zap.Error(e.Err))
	m.bus.Publish(TopicSessionClosed, tenantID, e.Reason.String())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.transport = nil
	if s.cancelRun != nil {
		s.cancelRun()
		s.cancelRun = nil
	}

	if e.Reason == CloseReasonLoggedOut {
		// Unlinked on the phone. The stored identity is dead; drop it so
		// the next connect starts a fresh pairing.
		s.state = StateClosedTerminal
		if err := m.store.Delete(tenantID); err != nil {
			zap.L().Error("messaging: delete credentials after logout", zap.Int64("tenant_id", tenantID), zap.Error(err))
		}
		return
	}
	if e.Reason.Terminal() {
		s.state = StateClosedTerminal
		return
	}

	s.state = StateClosedReconnecting
	metrics.IncrCounter(metrics.MessagingReconnect)
	s.stopReconnectTimer()
	s.reconnect = time.AfterFunc(m.reconnectDelay, func() {
		s.mu.Lock()
		pending := s.state == StateClosedReconnecting
		s.mu.Unlock()
		if !pending {
			return
		}
		if err := m.Connect(context.Background(), tenantID); err != nil {
			zap.L().Error("messaging: reconnect failed", zap.Int64("tenant_id", tenantID), zap.Error(err))
			s.mu.Lock()
			s.state = StateClosedTerminal
			s.mu.Unlock()
		}
	})
}

// stopReconnectTimer must be called with s.mu held.
func (s *session) stopReconnectTimer() {
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
}

// Disconnect tears down the tenant's connection and cancels any pending
// reconnect. The stored credentials stay intact.
func (m *SessionManager) Disconnect(tenantID int64) error {
	s := m.getSession(tenantID)
	s.mu.Lock()
	s.stopReconnectTimer()
	t := s.transport
	s.transport = nil
	if s.cancelRun != nil {
		s.cancelRun()
		s.cancelRun = nil
	}
	s.state = StateClosedTerminal
	s.mu.Unlock()

	m.registry.Remove(tenantID)
	if t != nil {
		t.Disconnect()
	}
	return m.store.MarkDisconnected(tenantID)
}

// Logout unlinks the device server-side, then deletes the stored identity.
func (m *SessionManager) Logout(ctx context.Context, tenantID int64) error {
	s := m.getSession(tenantID)
	s.mu.Lock()
	s.stopReconnectTimer()
	t := s.transport
	s.transport = nil
	if s.cancelRun != nil {
		s.cancelRun()
		s.cancelRun = nil
	}
	s.state = StateClosedTerminal
	s.mu.Unlock()

	m.registry.Remove(tenantID)
	if t != nil {
		if err := t.Logout(ctx); err != nil {
			zap.L().Warn("messaging: remote logout failed", zap.Int64("tenant_id", tenantID), zap.Error(err))
		}
	}
	if err := m.store.MarkDisconnected(tenantID); err != nil {
		return err
	}
	return m.store.Delete(tenantID)
}

// RequestPairingCode starts the phone-number linking flow. Any existing
// session and identity for the tenant are discarded first: the code flow
// always begins from a clean registration. The reset-and-dial sequence
// shares the singleflight key with Connect, so an overlapping connect
// attempt can never leave a second live transport behind.
func (m *SessionManager) RequestPairingCode(ctx context.Context, tenantID int64, phoneNumber string) (string, error) {
	if phoneNumber == "" {
		return "", errors.New("phone number required")
	}

	var t Transport
	for t == nil {
		ran := false
		v, err := m.registry.DoConnect(tenantID, func() (interface{}, error) {
			ran = true
			if err := m.Disconnect(tenantID); err != nil {
				return nil, err
			}
			if err := m.store.Delete(tenantID); err != nil {
				return nil, err
			}
			rec, ks, err := GenerateCredentials()
			if err != nil {
				return nil, errors.WithMessage(err, "generate credentials")
			}
			if err := m.store.Save(tenantID, rec, ks); err != nil {
				return nil, errors.WithMessage(err, "save credentials")
			}
			if err := m.dialAndRun(ctx, tenantID, rec); err != nil {
				return nil, err
			}
			s := m.getSession(tenantID)
			s.mu.Lock()
			defer s.mu.Unlock()
			return s.transport, nil
		})
		if err != nil {
			return "", err
		}
		if !ran {
			// Collapsed into a concurrent Connect's in-flight attempt. That
			// session must be discarded, not reused, so take another
			// singleflight round to run the reset.
			continue
		}
		t, _ = v.(Transport)
		if t == nil {
			return "", ErrNotConnected
		}
	}

	codeCtx, cancel := context.WithTimeout(ctx, m.pairingTimeout)
	defer cancel()
	code, err := t.RequestPairingCode(codeCtx, phoneNumber)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", ErrPairingTimeout
		}
		return "", errors.WithMessage(err, "request pairing code")
	}
	if err := m.store.SavePairingArtifact(tenantID, code, m.artifactTTL); err != nil {
		zap.L().Error("messaging: save pairing code", zap.Int64("tenant_id", tenantID), zap.Error(err))
	}
	return code, nil
}

// Status is a pure read: it never connects, never mutates, and reflects the
// live registry plus the persisted credential row.
func (m *SessionManager) Status(tenantID int64) (StatusView, error) {
	view := StatusView{TenantID: tenantID, State: StateUninitialized}

	s := m.getSession(tenantID)
	s.mu.Lock()
	view.State = s.state
	s.mu.Unlock()

	if h, ok := m.registry.Get(tenantID); ok {
		view.Connected = true
		view.PhoneNumber = h.PhoneNumber
		view.State = StateOpen
	}

	row, found, err := m.store.StatusRow(tenantID)
	if err != nil {
		return view, err
	}
	if !found {
		return view, nil
	}
	view.HasIdentity = row.Identity != ""
	if view.PhoneNumber == "" {
		view.PhoneNumber = row.PhoneNumber
	}
	if row.LastQr != "" && row.QrExpiry != nil && time.Now().Before(*row.QrExpiry) {
		view.QRCode = row.LastQr
		view.QRExpiry = row.QrExpiry
	}
	return view, nil
}

// ConnectAll starts sessions for every tenant ID in ids. Used at boot to
// restore sessions that were open before the last shutdown.
func (m *SessionManager) ConnectAll(ctx context.Context, ids []int64) {
	for _, id := range ids {
		if err := m.Connect(ctx, id); err != nil {
			zap.L().Error("messaging: boot connect failed", zap.Int64("tenant_id", id), zap.Error(err))
		}
	}
}
