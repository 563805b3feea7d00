package app

import (
	"context"
	"os"
	"runtime/debug"
	"time"
	_ "time/tzdata"

	evbus "github.com/asaskevich/EventBus"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/gorm"

	"github.com/micha-dev87/shopify-logistics-app/config"
	"github.com/micha-dev87/shopify-logistics-app/internal/domain"
	"github.com/micha-dev87/shopify-logistics-app/internal/messaging"
	"github.com/micha-dev87/shopify-logistics-app/internal/messaging/meow"
	"github.com/micha-dev87/shopify-logistics-app/internal/orders"
	"github.com/micha-dev87/shopify-logistics-app/pkg/metrics"
)

type Application struct {
	appConfig *config.AppConfig
	gormDB    *gorm.DB
	sched     *cron.Cron
	bus       evbus.Bus
	settings  *SettingsCache

	registry   *messaging.Registry
	credStore  *messaging.CredentialStore
	limiter    *messaging.RateLimiter
	sessions   *messaging.SessionManager
	dispatcher *messaging.Dispatcher
	inbound    *messaging.InboundHandler
	ordersSvc  *orders.Service
	waDialer   *meow.Dialer
}

// Ensure Application implements all interfaces
var (
	_ DBProvider        = (*Application)(nil)
	_ ConfigProvider    = (*Application)(nil)
	_ SettingsProvider  = (*Application)(nil)
	_ SchedulerProvider = (*Application)(nil)
	_ MessagingProvider = (*Application)(nil)
	_ AppContext        = (*Application)(nil)
)

func NewApplication(appConfig *config.AppConfig) *Application {
	return &Application{appConfig: appConfig}
}

func (a *Application) Config() *config.AppConfig {
	return a.appConfig
}

func (a *Application) DB() *gorm.DB {
	return a.gormDB
}

// OverrideDB replaces the application's database handle (used in tests).
func (a *Application) OverrideDB(db *gorm.DB) {
	a.gormDB = db
}

func (a *Application) Init(cfg *config.AppConfig) {
	loc, err := time.LoadLocation(cfg.System.Location)
	if err != nil {
		zap.S().Error("timezone config error")
	} else {
		time.Local = loc
	}

	// Initialize zap logger
	var zapConfig zap.Config
	if cfg.Logger.Mode == "production" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}

	zapConfig.OutputPaths = []string{"stdout"}
	if cfg.Logger.FileEnable {
		zapConfig.OutputPaths = append(zapConfig.OutputPaths, cfg.Logger.Filename)
	}

	// Build logger with file rotation if enabled
	var logger *zap.Logger
	if cfg.Logger.FileEnable {
		lumberJackLogger := &lumberjack.Logger{
			Filename:   cfg.Logger.Filename,
			MaxSize:    64,
			MaxBackups: 7,
			MaxAge:     7,
			Compress:   false,
		}

		core := zapcore.NewTee(
			zapcore.NewCore(
				zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
				zapcore.AddSync(lumberJackLogger),
				zapConfig.Level,
			),
			zapcore.NewCore(
				zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
				zapcore.AddSync(os.Stdout),
				zapConfig.Level,
			),
		)
		logger = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	} else {
		logger, err = zapConfig.Build(zap.AddCaller(), zap.AddCallerSkip(1))
		if err != nil {
			panic(err)
		}
	}

	zap.ReplaceGlobals(logger)

	// Initialize metrics with workdir convention
	err = metrics.InitMetrics(cfg.System.Workdir)
	if err != nil {
		zap.S().Warn("Failed to initialize metrics:", err)
	}

	// Initialize database connection
	if cfg.Database.Type == "" {
		cfg.Database.Type = "postgres"
	}
	a.gormDB = getDatabase(cfg.Database, cfg.System.Workdir)
	zap.S().Infof("Database connection successful, type: %s", cfg.Database.Type)

	// Ensure database schema is migrated before anything reads it
	if err := a.MigrateDB(false); err != nil {
		zap.S().Errorf("database migration failed: %v", err)
	}

	a.bus = evbus.New()
	a.settings = NewSettingsCache(a.gormDB)

	go func() {
		time.Sleep(3 * time.Second)
		a.checkSuper()
		a.checkSettings()
	}()

	if err := a.initMessaging(); err != nil {
		zap.S().Errorf("messaging init failed: %v", err)
	}

	a.initJob()
}

// initMessaging wires the session manager stack: credential store, rate
// limiter, registry, whatsmeow dialer, dispatcher and inbound handler.
func (a *Application) initMessaging() error {
	a.registry = messaging.NewRegistry()
	a.credStore = messaging.NewCredentialStore(a.gormDB)

	limit := a.GetSettingsInt64Value("messaging", "DailyLimit")
	a.limiter = messaging.NewRateLimiter(a.gormDB, limit)

	dialer, err := meow.NewDialer(context.Background(),
		a.appConfig.MessagingStorePath(), a.appConfig.Messaging.DeviceName)
	if err != nil {
		return err
	}
	a.waDialer = dialer

	a.sessions = messaging.NewSessionManager(a.credStore, dialer, a.registry, a.bus)
	a.dispatcher = messaging.NewDispatcher(a.registry, a.limiter)
	a.ordersSvc = orders.NewService(a.gormDB, a.GetSettingsStringValue("messaging", "RemoteOrdersURL"))
	a.inbound = messaging.NewInboundHandler(a.registry, a.ordersSvc)

	dialer.SetInboundSink(func(ctx context.Context, tenantID int64, token, identity string) {
		a.inbound.HandleInboundAction(ctx, tenantID, token, identity)
	})

	zap.L().Info("messaging stack initialized",
		zap.String("store", a.appConfig.MessagingStorePath()))
	return nil
}

func (a *Application) MigrateDB(track bool) (err error) {
	defer func() {
		if err1 := recover(); err1 != nil {
			if os.Getenv("GO_DEGUB_TRACE") != "" {
				debug.PrintStack()
			}
			err2, ok := err1.(error)
			if ok {
				err = err2
				zap.S().Error(err2.Error())
			}
		}
	}()
	if track {
		if err := a.gormDB.Debug().Migrator().AutoMigrate(domain.Tables...); err != nil {
			zap.S().Error(err)
		}
	} else {
		if err := a.gormDB.Migrator().AutoMigrate(domain.Tables...); err != nil {
			zap.S().Error(err)
		}
	}
	return nil
}

func (a *Application) DropAll() {
	_ = a.gormDB.Migrator().DropTable(domain.Tables...)
}

func (a *Application) InitDb() {
	_ = a.gormDB.Migrator().DropTable(domain.Tables...)
	err := a.gormDB.Migrator().AutoMigrate(domain.Tables...)
	if err != nil {
		zap.S().Error(err)
	}
}

// Scheduler returns the cron scheduler
func (a *Application) Scheduler() *cron.Cron {
	return a.sched
}

// Bus returns the in-process event bus.
func (a *Application) Bus() evbus.Bus {
	return a.bus
}

func (a *Application) Sessions() *messaging.SessionManager {
	return a.sessions
}

func (a *Application) Dispatcher() *messaging.Dispatcher {
	return a.dispatcher
}

func (a *Application) RateLimiter() *messaging.RateLimiter {
	return a.limiter
}

func (a *Application) Orders() *orders.Service {
	return a.ordersSvc
}

func (a *Application) Inbound() *messaging.InboundHandler {
	return a.inbound
}

// GetSettingsStringValue retrieves a string configuration value
func (a *Application) GetSettingsStringValue(category, key string) string {
	return a.settings.GetString(category, key)
}

// GetSettingsInt64Value retrieves an int64 configuration value
func (a *Application) GetSettingsInt64Value(category, key string) int64 {
	return a.settings.GetInt64(category, key)
}

// GetSettingsBoolValue retrieves a boolean configuration value
func (a *Application) GetSettingsBoolValue(category, key string) bool {
	return a.settings.GetBool(category, key)
}

// Release releases application resources
func (a *Application) Release() {
	if a.sched != nil {
		a.sched.Stop()
	}

	a.registry.Range(func(tenantID int64, h *messaging.Handle) bool {
		h.Transport.Disconnect()
		return true
	})

	_ = metrics.Close()
	_ = zap.L().Sync()
}
