package httpapi

import (
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/campuspay/pkg/payment"
	"github.com/gagliardetto/solana-go"
)

const (
	defaultListenAddr      = ":8080"
	defaultRPCURL          = "https://api.mainnet-beta.solana.com"
	defaultAllowedOrigin   = "*"
	defaultLogLevel        = "info"
	defaultLedgerTimeout   = 5 * time.Second
	defaultShutdownTimeout = 5 * time.Second

	// RegistryBackendGorm stores references through GORM.
	RegistryBackendGorm = "gorm"
	// RegistryBackendPgx stores references through a pgx pool.
	RegistryBackendPgx = "pgx"
)

// Config aggregates runtime settings for the payment request API.
type Config struct {
	ListenAddr      string
	RPCURL          string
	MerchantAccount string
	LedgerTimeout   time.Duration
	AllowedOrigins  []string
	IconURL         string
	LabelPrefix     string
	DatabaseURL     string
	RegistryBackend string
	LogLevel        string
	MetricsEnabled  bool
	ShutdownTimeout time.Duration
}

// Validate fills defaults and ensures the configuration contains sane values.
func (cfg *Config) Validate() error {
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	cfg.RPCURL = defaultIfEmpty(cfg.RPCURL, defaultRPCURL)
	cfg.MerchantAccount = defaultIfEmpty(cfg.MerchantAccount, payment.DefaultMerchantAccount)
	cfg.RegistryBackend = defaultIfEmpty(cfg.RegistryBackend, RegistryBackendGorm)
	cfg.LogLevel = defaultIfEmpty(cfg.LogLevel, defaultLogLevel)
	if cfg.LedgerTimeout <= 0 {
		cfg.LedgerTimeout = defaultLedgerTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	if _, err := cfg.Merchant(); err != nil {
		return err
	}
	if !strings.HasPrefix(cfg.RPCURL, "http://") && !strings.HasPrefix(cfg.RPCURL, "https://") {
		return fmt.Errorf("rpc url must be http(s), got %q", cfg.RPCURL)
	}
	switch cfg.RegistryBackend {
	case RegistryBackendGorm:
	case RegistryBackendPgx:
		if !isPostgresURL(cfg.DatabaseURL) {
			return fmt.Errorf("registry backend %q requires a postgres database url", cfg.RegistryBackend)
		}
	default:
		return fmt.Errorf("unknown registry backend %q", cfg.RegistryBackend)
	}
	for _, origin := range cfg.AllowedOrigins {
		if origin == defaultAllowedOrigin && len(cfg.AllowedOrigins) > 1 {
			return fmt.Errorf("wildcard origin cannot be combined with explicit origins")
		}
	}
	return nil
}

// Merchant parses the configured merchant account.
func (cfg Config) Merchant() (solana.PublicKey, error) {
	merchant, err := solana.PublicKeyFromBase58(strings.TrimSpace(cfg.MerchantAccount))
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("merchant account %q: %w", cfg.MerchantAccount, err)
	}
	return merchant, nil
}

func (cfg Config) allowsAnyOrigin() bool {
	return len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == defaultAllowedOrigin
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}

func isPostgresURL(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
