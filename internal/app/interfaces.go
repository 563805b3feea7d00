package app

import (
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"github.com/micha-dev87/shopify-logistics-app/config"
	"github.com/micha-dev87/shopify-logistics-app/internal/messaging"
	"github.com/micha-dev87/shopify-logistics-app/internal/orders"
)

// DBProvider provides database access
type DBProvider interface {
	DB() *gorm.DB
}

// ConfigProvider provides application configuration
type ConfigProvider interface {
	Config() *config.AppConfig
}

// SettingsProvider provides system settings access
type SettingsProvider interface {
	GetSettingsStringValue(category, key string) string
	GetSettingsInt64Value(category, key string) int64
	GetSettingsBoolValue(category, key string) bool
}

// SchedulerProvider provides task scheduling capability
type SchedulerProvider interface {
	Scheduler() *cron.Cron
}

// MessagingProvider exposes the messaging core to HTTP handlers.
type MessagingProvider interface {
	Sessions() *messaging.SessionManager
	Dispatcher() *messaging.Dispatcher
	RateLimiter() *messaging.RateLimiter
	Orders() *orders.Service
}

// AppContext combines all provider interfaces for full application context.
// Services should depend on specific providers or this combined interface.
type AppContext interface {
	DBProvider
	ConfigProvider
	SettingsProvider
	SchedulerProvider
	MessagingProvider

	// Application lifecycle methods
	MigrateDB(track bool) error
	InitDb()
	DropAll()
}
