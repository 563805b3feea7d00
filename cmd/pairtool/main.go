// Command pairtool links a tenant's WhatsApp device from the terminal: it
// starts the session, renders the QR code (or requests a phone pairing
// code) and waits for the link to complete.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mdp/qrterminal/v3"
	"go.uber.org/zap"

	"github.com/micha-dev87/shopify-logistics-app/config"
	"github.com/micha-dev87/shopify-logistics-app/internal/app"
	"github.com/micha-dev87/shopify-logistics-app/internal/messaging"
)

var (
	cfile    = flag.String("c", "logistics.yml", "config file path")
	tenantID = flag.Int64("tenant", 0, "tenant ID to pair")
	phone    = flag.String("phone", "", "request a pairing code for this phone number instead of a QR code")
	timeout  = flag.Duration("timeout", 3*time.Minute, "give up after this long")
)

func main() {
	flag.Parse()
	if *tenantID == 0 {
		fmt.Fprintln(os.Stderr, "usage: pairtool -tenant <id> [-phone <number>]")
		os.Exit(2)
	}

	cfg := config.LoadConfig(*cfile)
	application := app.NewApplication(cfg)
	application.Init(cfg)
	defer application.Release()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if *phone != "" {
		code, err := application.Sessions().RequestPairingCode(ctx, *tenantID, *phone)
		if err != nil {
			zap.S().Fatalf("pairing code request failed: %v", err)
		}
		fmt.Printf("Enter this code on the phone: %s\n", code)
		waitForOpen(ctx, application, *tenantID)
		return
	}

	pairing := make(chan int64, 4)
	open := make(chan int64, 1)
	_ = application.Bus().Subscribe(messaging.TopicSessionPairing, func(id int64) {
		if id == *tenantID {
			pairing <- id
		}
	})
	_ = application.Bus().Subscribe(messaging.TopicSessionOpen, func(id int64) {
		if id == *tenantID {
			open <- id
		}
	})

	if err := application.Sessions().Connect(ctx, *tenantID); err != nil {
		zap.S().Fatalf("connect failed: %v", err)
	}

	lastQR := ""
	for {
		select {
		case <-pairing:
			view, err := application.Sessions().Status(*tenantID)
			if err != nil || view.QRCode == "" || view.QRCode == lastQR {
				continue
			}
			lastQR = view.QRCode
			fmt.Println("Scan with WhatsApp (Linked devices > Link a device):")
			qrterminal.GenerateHalfBlock(view.QRCode, qrterminal.L, os.Stdout)
		case <-open:
			view, _ := application.Sessions().Status(*tenantID)
			fmt.Printf("Linked. Phone number: %s\n", view.PhoneNumber)
			return
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "timed out waiting for pairing")
			os.Exit(1)
		}
	}
}

func waitForOpen(ctx context.Context, application *app.Application, tenantID int64) {
	open := make(chan struct{}, 1)
	_ = application.Bus().Subscribe(messaging.TopicSessionOpen, func(id int64) {
		if id == tenantID {
			open <- struct{}{}
		}
	})
	select {
	case <-open:
		fmt.Println("Linked.")
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "timed out waiting for pairing")
		os.Exit(1)
	}
}
