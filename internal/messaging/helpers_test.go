package messaging

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/micha-dev87/shopify-logistics-app/internal/domain"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "messaging.db")
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	// Single connection: file-backed sqlite rejects concurrent writers.
	sqlDB.SetMaxOpenConns(1)
	if err := db.Migrator().AutoMigrate(domain.Tables...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// fakeTransport is a scripted Transport for lifecycle tests.
type fakeTransport struct {
	mu         sync.Mutex
	events     chan Event
	connected  bool
	loggedOut  bool
	sentText   []string
	sentBodies []string
	sentBtns   [][]Button
	sendErr    error
	msgID      string
	pairCode   string
	pairErr    error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan Event, 16), msgID: "wamid.TEST"}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

func (f *fakeTransport) Events() <-chan Event { return f.events }

func (f *fakeTransport) SendText(ctx context.Context, to, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sentText = append(f.sentText, to+"|"+body)
	return f.msgID, nil
}

func (f *fakeTransport) SendButtons(ctx context.Context, to, body string, buttons []Button) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sentBodies = append(f.sentBodies, body)
	f.sentBtns = append(f.sentBtns, buttons)
	return f.msgID, nil
}

func (f *fakeTransport) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	if f.pairErr != nil {
		return "", f.pairErr
	}
	if f.pairCode == "" {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.pairCode, nil
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

func (f *fakeTransport) Logout(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loggedOut = true
	f.connected = false
	return nil
}

func (f *fakeTransport) emit(ev Event) { f.events <- ev }

func (f *fakeTransport) isConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// fakeDialer hands out one fakeTransport per Dial call and counts dials.
type fakeDialer struct {
	mu     sync.Mutex
	dials  int
	queue  []*fakeTransport
	issued []*fakeTransport
	last   *fakeTransport
	fail   error
	delay  time.Duration
}

func (d *fakeDialer) Dial(ctx context.Context, tenantID int64, creds *CredentialRecord) (Transport, error) {
	d.mu.Lock()
	delay := d.delay
	d.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return nil, d.fail
	}
	d.dials++
	var t *fakeTransport
	if len(d.queue) > 0 {
		t = d.queue[0]
		d.queue = d.queue[1:]
	} else {
		t = newFakeTransport()
	}
	d.issued = append(d.issued, t)
	d.last = t
	return t, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) lastTransport() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

func (d *fakeDialer) issuedTransports() []*fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*fakeTransport, len(d.issued))
	copy(out, d.issued)
	return out
}
