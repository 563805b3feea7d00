package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/micha-dev87/shopify-logistics-app/config"
	"github.com/micha-dev87/shopify-logistics-app/internal/adminapi"
	"github.com/micha-dev87/shopify-logistics-app/internal/app"
	"github.com/micha-dev87/shopify-logistics-app/internal/webserver"
)

var (
	cfile   = flag.String("c", "logistics.yml", "config file path")
	initDb  = flag.Bool("initdb", false, "drop and recreate all tables, then exit")
	showVer = flag.Bool("v", false, "print version and exit")
	version = "dev"
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Println("logisticsd", version)
		return
	}

	cfg := config.LoadConfig(*cfile)
	if err := os.MkdirAll(cfg.System.Workdir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "workdir init failed: %v\n", err)
		os.Exit(1)
	}

	application := app.NewApplication(cfg)
	application.Init(cfg)
	defer application.Release()

	if *initDb {
		application.InitDb()
		zap.L().Info("database initialized")
		return
	}

	server := webserver.Init(application)
	adminapi.InitRouter()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		zap.L().Error("webserver stopped", zap.Error(err))
	case sig := <-sigCh:
		zap.L().Info("shutting down", zap.String("signal", sig.String()))
	}
}
