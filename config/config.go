package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type SysConfig struct {
	Appid    string `yaml:"appid" json:"appid"`
	Location string `yaml:"location" json:"location"`
	Workdir  string `yaml:"workdir" json:"workdir"`
	Debug    bool   `yaml:"debug" json:"debug"`
}

type WebConfig struct {
	Host   string `yaml:"host" json:"host"`
	Port   int    `yaml:"port" json:"port"`
	Secret string `yaml:"secret" json:"secret"`
	// WebhookToken authenticates unauthenticated storefront webhooks.
	WebhookToken string `yaml:"webhook_token" json:"webhook_token"`
}

type DBConfig struct {
	Type   string `yaml:"type" json:"type"`
	Host   string `yaml:"host" json:"host"`
	Port   int    `yaml:"port" json:"port"`
	Name   string `yaml:"name" json:"name"`
	User   string `yaml:"user" json:"user"`
	Passwd string `yaml:"passwd" json:"passwd"`
	Debug  bool   `yaml:"debug" json:"debug"`
}

type LogConfig struct {
	Mode       string `yaml:"mode" json:"mode"`
	FileEnable bool   `yaml:"file_enable" json:"file_enable"`
	Filename   string `yaml:"filename" json:"filename"`
}

// MessagingConfig holds the WhatsApp session-manager knobs. Zero values fall
// back to the package defaults in internal/messaging.
type MessagingConfig struct {
	// StoreFile is the sqlite database used by the transport's own
	// protocol store, resolved relative to the workdir when not absolute.
	StoreFile string `yaml:"store_file" json:"store_file"`
	// DeviceName is the display name shown on the paired phone.
	DeviceName string `yaml:"device_name" json:"device_name"`
	// AutoConnect reconnects tenants that were connected before restart.
	AutoConnect bool `yaml:"auto_connect" json:"auto_connect"`
}

type AppConfig struct {
	System    SysConfig       `yaml:"system" json:"system"`
	Web       WebConfig       `yaml:"web" json:"web"`
	Database  DBConfig        `yaml:"database" json:"database"`
	Logger    LogConfig       `yaml:"logger" json:"logger"`
	Messaging MessagingConfig `yaml:"messaging" json:"messaging"`
}

func DefaultConfig() *AppConfig {
	return &AppConfig{
		System: SysConfig{
			Appid:    "LogisticsApp",
			Location: "UTC",
			Workdir:  "/var/logistics",
		},
		Web: WebConfig{
			Host:         "0.0.0.0",
			Port:         1816,
			Secret:       "9b6de5cc-logistics-0cc5-47b7",
			WebhookToken: "logistics-webhook-token",
		},
		Database: DBConfig{
			Type: "postgres",
			Host: "127.0.0.1",
			Port: 5432,
			Name: "logistics",
			User: "postgres",
		},
		Logger: LogConfig{
			Mode:     "development",
			Filename: "/var/logistics/logistics.log",
		},
		Messaging: MessagingConfig{
			StoreFile:   "wasession.db",
			DeviceName:  "LogisticsApp",
			AutoConnect: true,
		},
	}
}

// LoadConfig reads the YAML file at cfile, falling back to defaults for any
// unset section, then applies environment overrides.
func LoadConfig(cfile string) *AppConfig {
	cfg := DefaultConfig()
	if cfile != "" {
		if data, err := os.ReadFile(cfile); err == nil {
			_ = yaml.Unmarshal(data, cfg)
		}
	}
	setEnvStr("LOGISTICS_WORKDIR", &cfg.System.Workdir)
	setEnvStr("LOGISTICS_DB_HOST", &cfg.Database.Host)
	setEnvStr("LOGISTICS_DB_NAME", &cfg.Database.Name)
	setEnvStr("LOGISTICS_DB_USER", &cfg.Database.User)
	setEnvStr("LOGISTICS_DB_PWD", &cfg.Database.Passwd)
	setEnvStr("LOGISTICS_WEB_SECRET", &cfg.Web.Secret)
	setEnvStr("LOGISTICS_WEBHOOK_TOKEN", &cfg.Web.WebhookToken)
	return cfg
}

// MessagingStorePath resolves the transport store file under the workdir.
func (c *AppConfig) MessagingStorePath() string {
	if filepath.IsAbs(c.Messaging.StoreFile) {
		return c.Messaging.StoreFile
	}
	return filepath.Join(c.System.Workdir, c.Messaging.StoreFile)
}

func setEnvStr(name string, val *string) {
	if v := os.Getenv(name); v != "" {
		*val = v
	}
}
