package config

import (
	"fmt"
	"log"

	"github.com/caarlos0/env/v10"
)

// insecure defaults that must never survive into production
var insecureDefaults = map[string]bool{
	"change-me":       true,
	"internal-secret": true,
	"":                true,
}

// Config is the immutable configuration object handed to every component at
// construction. Nothing reads the environment after Load returns.
type Config struct {
	Server   ServerConfig   `envPrefix:"SERVER_"`
	Database DatabaseConfig `envPrefix:"DB_"`
	Billing  BillingConfig  `envPrefix:"BILLING_"`
	Instance InstanceConfig
	Nginx    NginxConfig  `envPrefix:"NGINX_"`
	Notify   NotifyConfig `envPrefix:"NOTIFY_"`

	JWTSecret      string `env:"JWT_SECRET_KEY"`
	InternalSecret string `env:"INTERNAL_SECRET"`
	AdminAPIKey    string `env:"ADMIN_API_KEY"`
}

type ServerConfig struct {
	Port string `env:"PORT" envDefault:"8020"`
	Mode string `env:"MODE" envDefault:"release"`
}

type DatabaseConfig struct {
	Host     string `env:"HOST" envDefault:"localhost"`
	Port     string `env:"PORT" envDefault:"5432"`
	User     string `env:"USER" envDefault:"provisioner"`
	Password string `env:"PASSWORD" envDefault:"provisioner"`
	DBName   string `env:"NAME" envDefault:"provisioner"`
	SSLMode  string `env:"SSLMODE" envDefault:"disable"`
}

type BillingConfig struct {
	APIBaseURL    string `env:"API_BASE_URL" envDefault:"https://api.stripe.com"`
	SecretKey     string `env:"SECRET_KEY"`
	WebhookSecret string `env:"WEBHOOK_SECRET"`
	PriceID       string `env:"PRICE_ID"`
}

type InstanceConfig struct {
	Image          string `env:"INSTANCE_IMAGE" envDefault:"shopkite/shop:latest"`
	BaseDomain     string `env:"BASE_DOMAIN" envDefault:"shopkite.app"`
	ServerIP       string `env:"SERVER_IP"`
	Network        string `env:"CONTAINER_NETWORK" envDefault:"shopkite_net"`
	DataRoot       string `env:"CUSTOMER_DATA_ROOT" envDefault:"/srv/shopkite/customers"`
	PortRangeStart int    `env:"PORT_RANGE_START" envDefault:"10000"`
	PortRangeEnd   int    `env:"PORT_RANGE_END" envDefault:"10999"`
}

type NginxConfig struct {
	ConfigDir    string   `env:"CONFIG_DIR" envDefault:"/etc/nginx/conf.d"`
	ScanDirs     []string `env:"SCAN_DIRS" envSeparator:":" envDefault:"/etc/nginx/sites-enabled"`
	CertLiveDir  string   `env:"CERT_LIVE_DIR" envDefault:"/etc/letsencrypt/live"`
	CertbotEmail string   `env:"CERTBOT_EMAIL" envDefault:"noreply@shopkite.app"`
}

type NotifyConfig struct {
	ServiceURL string `env:"SERVICE_URL" envDefault:"http://localhost:8025"`
}

// Load parses configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	log.Printf("[config] Provisioner loaded: port=%s db=%s/%s base_domain=%s ports=%d-%d",
		cfg.Server.Port, cfg.Database.Host, cfg.Database.DBName,
		cfg.Instance.BaseDomain, cfg.Instance.PortRangeStart, cfg.Instance.PortRangeEnd)

	return cfg, nil
}

// Validate rejects configurations that cannot safely serve production traffic.
func (c *Config) Validate() error {
	if insecureDefaults[c.Billing.WebhookSecret] {
		return fmt.Errorf("BILLING_WEBHOOK_SECRET must be set to a secure value")
	}
	if insecureDefaults[c.InternalSecret] || len(c.InternalSecret) < 32 {
		return fmt.Errorf("INTERNAL_SECRET must be set and at least 32 characters long")
	}
	if insecureDefaults[c.JWTSecret] || len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET_KEY must be set and at least 32 characters long")
	}
	if insecureDefaults[c.AdminAPIKey] || len(c.AdminAPIKey) < 32 {
		return fmt.Errorf("ADMIN_API_KEY must be set and at least 32 characters long")
	}
	if c.Instance.ServerIP == "" {
		return fmt.Errorf("SERVER_IP must be set (custom domain DNS checks compare against it)")
	}
	if c.Instance.PortRangeStart <= 0 || c.Instance.PortRangeEnd < c.Instance.PortRangeStart {
		return fmt.Errorf("invalid instance port range %d-%d",
			c.Instance.PortRangeStart, c.Instance.PortRangeEnd)
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return "postgres://" + c.User + ":" + c.Password + "@" + c.Host + ":" + c.Port +
		"/" + c.DBName + "?sslmode=" + c.SSLMode
}
