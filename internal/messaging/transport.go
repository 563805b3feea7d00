package messaging

import (
	"context"
	"time"
)

// CloseReason classifies why a transport connection ended.
type CloseReason int

const (
	CloseReasonUnknown CloseReason = iota
	// CloseReasonError covers network faults and server-side stream errors.
	CloseReasonError
	// CloseReasonLoggedOut means the device was unlinked on the phone. The
	// session is terminal until a human re-pairs.
	CloseReasonLoggedOut
	// CloseReasonReplaced means another connection took over the session.
	CloseReasonReplaced
	// CloseReasonRequested is a local, deliberate disconnect.
	CloseReasonRequested
)

func (r CloseReason) String() string {
	switch r {
	case CloseReasonError:
		return "error"
	case CloseReasonLoggedOut:
		return "logged_out"
	case CloseReasonReplaced:
		return "replaced"
	case CloseReasonRequested:
		return "requested"
	default:
		return "unknown"
	}
}

// Terminal reports whether the reason forbids automatic reconnection.
func (r CloseReason) Terminal() bool {
	return r == CloseReasonLoggedOut || r == CloseReasonRequested
}

// Event is one item of a transport's lifecycle stream. Events for a single
// tenant are consumed strictly in arrival order.
type Event interface {
	transportEvent()
}

// PairingEvent carries fresh pairing material: a QR payload, or a short
// numeric code in the code-pairing flow.
type PairingEvent struct {
	QRCode      string
	PairingCode string
	ExpiresIn   time.Duration
}

// OpenedEvent signals a fully established, authenticated connection.
type OpenedEvent struct {
	PhoneNumber string
}

// ClosedEvent signals the connection ended. Err may be nil.
type ClosedEvent struct {
	Reason CloseReason
	Err    error
}

// CredentialDeltaEvent carries rotated key material to persist.
type CredentialDeltaEvent struct {
	Delta CredentialDelta
}

func (PairingEvent) transportEvent()         {}
func (OpenedEvent) transportEvent()          {}
func (ClosedEvent) transportEvent()          {}
func (CredentialDeltaEvent) transportEvent() {}

// Button is one interactive quick-reply action attached to a message.
type Button struct {
	ID    string
	Title string
}

// Transport is one live connection to the messaging network. Implementations
// wrap the wire protocol library; the session manager only ever sees this
// interface.
type Transport interface {
	// Connect starts the asynchronous handshake. Lifecycle progress is
	// reported on Events; Connect itself returns as soon as the attempt is
	// underway.
	Connect(ctx context.Context) error

	// Events streams lifecycle events until the transport closes the
	// channel after a terminal disconnect.
	Events() <-chan Event

	// SendText delivers a plain text message and returns the
	// network-assigned message ID.
	SendText(ctx context.Context, to string, body string) (string, error)

	// SendButtons delivers a text message with interactive quick-reply
	// buttons and returns the network-assigned message ID.
	SendButtons(ctx context.Context, to string, body string, buttons []Button) (string, error)

	// RequestPairingCode asks the network for a short alphanumeric linking
	// code for phoneNumber. Only valid while no session is established.
	RequestPairingCode(ctx context.Context, phoneNumber string) (string, error)

	// Disconnect tears the connection down without unlinking the device.
	Disconnect()

	// Logout unlinks the device server-side and tears the connection down.
	Logout(ctx context.Context) error
}

// Dialer produces a transport for a tenant from its credential record.
type Dialer interface {
	Dial(ctx context.Context, tenantID int64, creds *CredentialRecord) (Transport, error)
}
