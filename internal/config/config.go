package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lattice-data/market-cli/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Gateway     GatewayConfig     `yaml:"gateway" mapstructure:"gateway"`
	Facilitator FacilitatorConfig `yaml:"facilitator" mapstructure:"facilitator"`
	Wallet      WalletConfig      `yaml:"wallet" mapstructure:"wallet"`
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Access      AccessConfig      `yaml:"access" mapstructure:"access"`
	Publish     PublishConfig     `yaml:"publish" mapstructure:"publish"`
	Mockpay     MockpayConfig     `yaml:"mockpay" mapstructure:"mockpay"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// GatewayConfig points at the ledger gateway that fronts the marketplace
// contract.
type GatewayConfig struct {
	BaseURL  string `yaml:"base_url" mapstructure:"base_url"`
	Contract string `yaml:"contract" mapstructure:"contract"`
}

// FacilitatorConfig configures the payment and authorization backend.
type FacilitatorConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	// RequireTLS refuses plaintext facilitator URLs, mirroring running the
	// flow from a secure context.
	RequireTLS bool `yaml:"require_tls" mapstructure:"require_tls"`
}

// WalletConfig configures the local signer.
type WalletConfig struct {
	Address    string `yaml:"address" mapstructure:"address"`
	ChainID    int    `yaml:"chain_id" mapstructure:"chain_id"`
	PaymentKey string `yaml:"payment_key" mapstructure:"payment_key"`
}

// StoreConfig configures the local database backend.
type StoreConfig struct {
	Driver      string            `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string            `yaml:"database_url" mapstructure:"database_url"`
	Pool        *store.PoolConfig `yaml:"pool" mapstructure:"pool"`
	CacheTTL    time.Duration     `yaml:"cache_ttl" mapstructure:"cache_ttl"`
}

// AccessConfig tunes confirmation polling.
type AccessConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	PollTimeout  time.Duration `yaml:"poll_timeout" mapstructure:"poll_timeout"`
}

// PublishConfig configures listing publication.
type PublishConfig struct {
	ShareBase string `yaml:"share_base" mapstructure:"share_base"`
}

// MockpayConfig configures the dev facilitator server.
type MockpayConfig struct {
	Port        int           `yaml:"port" mapstructure:"port"`
	CreditDelay time.Duration `yaml:"credit_delay" mapstructure:"credit_delay"`
	Network     string        `yaml:"network" mapstructure:"network"`
	Asset       string        `yaml:"asset" mapstructure:"asset"`
	RPS         float64       `yaml:"rps" mapstructure:"rps"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("MARKET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("gateway.base_url", "http://localhost:8545")
	v.SetDefault("facilitator.base_url", "http://localhost:8402")
	v.SetDefault("facilitator.require_tls", false)
	v.SetDefault("wallet.chain_id", 84532)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "market.db")
	v.SetDefault("store.cache_ttl", time.Hour)
	v.SetDefault("access.poll_interval", 3*time.Second)
	v.SetDefault("access.poll_timeout", 180*time.Second)
	v.SetDefault("publish.share_base", "http://localhost:3000")
	v.SetDefault("mockpay.port", 8402)
	v.SetDefault("mockpay.credit_delay", 5*time.Second)
	v.SetDefault("mockpay.network", "base-sepolia")
	v.SetDefault("mockpay.asset", "usdc")
	v.SetDefault("mockpay.rps", 50)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
