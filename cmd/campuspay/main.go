package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MarkoPoloResearchLab/campuspay/internal/httpapi"
	"github.com/MarkoPoloResearchLab/campuspay/pkg/payment"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	flagListenAddr      = "listen-addr"
	flagRPCURL          = "rpc-url"
	flagMerchantAccount = "merchant-account"
	flagLedgerTimeout   = "ledger-timeout"
	flagAllowedOrigins  = "allowed-origins"
	flagIconURL         = "icon-url"
	flagLabelPrefix     = "label-prefix"
	flagDatabaseURL     = "database-url"
	flagRegistryBackend = "registry-backend"
	flagLogLevel        = "log-level"
	flagMetricsEnabled  = "metrics"
	flagShutdownTimeout = "shutdown-timeout"
	envPrefix           = "CAMPUSPAY"
)

var serveFlags = []string{
	flagListenAddr,
	flagRPCURL,
	flagMerchantAccount,
	flagLedgerTimeout,
	flagAllowedOrigins,
	flagIconURL,
	flagLabelPrefix,
	flagDatabaseURL,
	flagRegistryBackend,
	flagLogLevel,
	flagMetricsEnabled,
	flagShutdownTimeout,
}

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "campuspay: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "campuspay",
		Short:         "Solana Pay checkout for the campus marketplace",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newWalletCommand())
	return cmd
}

func newServeCommand() *cobra.Command {
	cfg := httpapi.Config{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the Solana Pay transaction request endpoint",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadServeConfig(cmd, newViper(), &cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}

	cmd.Flags().String(flagListenAddr, "", "HTTP listen address (default :8080)")
	cmd.Flags().String(flagRPCURL, "", "Solana JSON-RPC URL (default mainnet-beta)")
	cmd.Flags().String(flagMerchantAccount, "", "merchant account receiving payments")
	cmd.Flags().Duration(flagLedgerTimeout, 0, "blockhash lookup timeout (e.g. 5s)")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins (default *)")
	cmd.Flags().String(flagIconURL, "", "icon URL shown by wallets")
	cmd.Flags().String(flagLabelPrefix, "", "store name shown in wallet labels")
	cmd.Flags().String(flagDatabaseURL, "", "reference registry database (postgres:// or sqlite path); empty disables the registry")
	cmd.Flags().String(flagRegistryBackend, "", "reference registry backend: gorm or pgx")
	cmd.Flags().String(flagLogLevel, "", "log level (debug, info, warn, error)")
	cmd.Flags().Bool(flagMetricsEnabled, false, "expose Prometheus metrics on /metrics")
	cmd.Flags().Duration(flagShutdownTimeout, 0, "graceful shutdown timeout")

	return cmd
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

func loadServeConfig(cmd *cobra.Command, v *viper.Viper, cfg *httpapi.Config) error {
	for _, flagName := range serveFlags {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.ListenAddr = strings.TrimSpace(v.GetString(flagListenAddr))
	cfg.RPCURL = strings.TrimSpace(v.GetString(flagRPCURL))
	cfg.MerchantAccount = strings.TrimSpace(v.GetString(flagMerchantAccount))
	cfg.LedgerTimeout = v.GetDuration(flagLedgerTimeout)
	cfg.AllowedOrigins = httpapi.ParseAllowedOrigins(v.GetString(flagAllowedOrigins))
	cfg.IconURL = strings.TrimSpace(v.GetString(flagIconURL))
	cfg.LabelPrefix = strings.TrimSpace(v.GetString(flagLabelPrefix))
	cfg.DatabaseURL = strings.TrimSpace(v.GetString(flagDatabaseURL))
	cfg.RegistryBackend = strings.TrimSpace(v.GetString(flagRegistryBackend))
	cfg.LogLevel = strings.TrimSpace(v.GetString(flagLogLevel))
	cfg.MetricsEnabled = v.GetBool(flagMetricsEnabled)
	cfg.ShutdownTimeout = v.GetDuration(flagShutdownTimeout)

	return cfg.Validate()
}

func runServe(ctx context.Context, cfg httpapi.Config) error {
	logger, err := httpapi.NewLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.MerchantAccount == payment.DefaultMerchantAccount {
		logger.Warn("merchant account not configured, using placeholder", zap.String("merchant", cfg.MerchantAccount))
	}

	store, cleanup, err := openReferenceStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("reference registry: %w", err)
	}
	defer cleanup()

	return httpapi.Run(ctx, cfg, logger, store)
}
