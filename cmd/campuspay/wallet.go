package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/campuspay/internal/chain"
	"github.com/MarkoPoloResearchLab/campuspay/internal/httpapi"
	"github.com/MarkoPoloResearchLab/campuspay/pkg/wallet"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	flagKeypair        = "keypair"
	flagTrusted        = "trusted"
	flagServerURL      = "server-url"
	flagItem           = "item"
	flagBroadcast      = "broadcast"
	flagRequestTimeout = "request-timeout"

	defaultWalletLogLevel = "warn"
	defaultServerURL      = "http://localhost:8080"
	defaultRequestTimeout = 15 * time.Second
)

var walletFlags = []string{flagKeypair, flagTrusted, flagRPCURL, flagLogLevel, flagRequestTimeout}

type walletConfig struct {
	KeypairPath    string
	Trusted        bool
	RPCURL         string
	LogLevel       string
	RequestTimeout time.Duration
}

func newWalletCommand() *cobra.Command {
	cfg := walletConfig{}
	cmd := &cobra.Command{
		Use:   "wallet",
		Short: "Drive a wallet session from the terminal",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadWalletConfig(cmd, newViper(), &cfg)
		},
	}
	cmd.PersistentFlags().String(flagKeypair, "", "Solana CLI keygen file used as the wallet")
	cmd.PersistentFlags().Bool(flagTrusted, false, "treat the keypair as previously approved so it reconnects silently")
	cmd.PersistentFlags().String(flagRPCURL, "", "Solana JSON-RPC URL (default mainnet-beta)")
	cmd.PersistentFlags().String(flagLogLevel, "", "log level (default warn)")
	cmd.PersistentFlags().Duration(flagRequestTimeout, 0, "timeout for RPC and HTTP calls")

	cmd.AddCommand(newWalletProvidersCommand(&cfg))
	cmd.AddCommand(newWalletBalanceCommand(&cfg))
	cmd.AddCommand(newWalletPayCommand(&cfg))
	return cmd
}

func loadWalletConfig(cmd *cobra.Command, v *viper.Viper, cfg *walletConfig) error {
	for _, flagName := range walletFlags {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}
	cfg.KeypairPath = strings.TrimSpace(v.GetString(flagKeypair))
	cfg.Trusted = v.GetBool(flagTrusted)
	cfg.RPCURL = strings.TrimSpace(v.GetString(flagRPCURL))
	cfg.LogLevel = strings.TrimSpace(v.GetString(flagLogLevel))
	cfg.RequestTimeout = v.GetDuration(flagRequestTimeout)

	if cfg.RPCURL == "" {
		defaults := httpapi.Config{}
		if err := defaults.Validate(); err != nil {
			return err
		}
		cfg.RPCURL = defaults.RPCURL
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultWalletLogLevel
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	return nil
}

type walletRuntime struct {
	session *wallet.Session
	ledger  *chain.RPCLedger
	logger  *zap.Logger
}

func newWalletRuntime(cfg walletConfig) (*walletRuntime, error) {
	logger, err := httpapi.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("logger init: %w", err)
	}
	ledger, err := chain.NewRPCLedger(cfg.RPCURL)
	if err != nil {
		return nil, err
	}
	environment := wallet.StaticEnvironment{}
	if cfg.KeypairPath != "" {
		environment[wallet.KeypairPath] = wallet.NewKeypairAdapter(cfg.KeypairPath, cfg.Trusted).Injected()
	}
	session, err := wallet.NewSession(environment, ledger,
		wallet.WithLogger(logger),
		wallet.WithFamilies(append(wallet.DefaultFamilies(), wallet.KeypairFamily())),
	)
	if err != nil {
		return nil, err
	}
	return &walletRuntime{session: session, ledger: ledger, logger: logger}, nil
}

func (runtime *walletRuntime) close() {
	runtime.session.Close()
	_ = runtime.logger.Sync()
}

// connect reuses a trusted provider when possible and otherwise prompts the
// single discovered provider.
func (runtime *walletRuntime) connect(ctx context.Context, out io.Writer) error {
	if runtime.session.AutoReconnect(ctx) {
		return nil
	}
	err := runtime.session.Connect(ctx, nil)
	var selection *wallet.SelectionRequiredError
	if errors.As(err, &selection) {
		if len(selection.Candidates) == 0 {
			fmt.Fprintln(out, "No wallet found. Install one of:")
			for _, link := range selection.InstallLinks {
				fmt.Fprintf(out, "  %s: %s\n", link.Name, link.URL)
			}
			fmt.Fprintf(out, "or pass --%s with a Solana CLI keygen file.\n", flagKeypair)
		} else {
			fmt.Fprintln(out, "Several wallets found; choose one:")
			for _, candidate := range selection.Candidates {
				fmt.Fprintf(out, "  %s\n", candidate.Name)
			}
		}
	}
	return err
}

func newWalletProvidersCommand(cfg *walletConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List detected wallet providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			runtime, err := newWalletRuntime(*cfg)
			if err != nil {
				return err
			}
			defer runtime.close()

			out := cmd.OutOrStdout()
			providers := runtime.session.Providers()
			if len(providers) == 0 {
				fmt.Fprintln(out, "No wallet providers detected.")
				for _, link := range runtime.session.InstallLinks() {
					fmt.Fprintf(out, "  install %s: %s\n", link.Name, link.URL)
				}
				return nil
			}
			for _, provider := range providers {
				fmt.Fprintf(out, "%s\t%s\n", provider.Name, provider.IconURL)
			}
			return nil
		},
	}
}

func newWalletBalanceCommand(cfg *walletConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Connect the wallet and print its SOL balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			runtime, err := newWalletRuntime(*cfg)
			if err != nil {
				return err
			}
			defer runtime.close()

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.RequestTimeout)
			defer cancel()
			out := cmd.OutOrStdout()
			if err := runtime.connect(ctx, out); err != nil {
				return err
			}
			balance, err := runtime.session.Balance(ctx)
			if err != nil {
				return err
			}
			snapshot := runtime.session.Snapshot()
			fmt.Fprintf(out, "%s (%s): %s SOL\n", wallet.ShortAddress(snapshot.PublicKey), snapshot.Provider, balance.String())
			return nil
		},
	}
}

func newWalletPayCommand(cfg *walletConfig) *cobra.Command {
	var (
		serverURL string
		item      string
		broadcast bool
	)
	cmd := &cobra.Command{
		Use:   "pay",
		Short: "Request a payment transaction from the server and sign it",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(item) == "" {
				return fmt.Errorf("%s is required", flagItem)
			}
			runtime, err := newWalletRuntime(*cfg)
			if err != nil {
				return err
			}
			defer runtime.close()

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.RequestTimeout)
			defer cancel()
			out := cmd.OutOrStdout()
			if err := runtime.connect(ctx, out); err != nil {
				return err
			}
			payer := runtime.session.Snapshot().PublicKey

			transaction, err := requestTransaction(ctx, http.DefaultClient, serverURL, item, payer)
			if err != nil {
				return err
			}
			if err := runtime.session.Sign(ctx, transaction); err != nil {
				return err
			}
			signed, err := transaction.MarshalBinary()
			if err != nil {
				return fmt.Errorf("encode signed transaction: %w", err)
			}
			fmt.Fprintln(out, base64.StdEncoding.EncodeToString(signed))

			if !broadcast {
				return nil
			}
			signature, err := runtime.ledger.SendTransaction(ctx, transaction)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "submitted %s\n", signature)
			return nil
		},
	}
	cmd.Flags().StringVar(&serverURL, flagServerURL, defaultServerURL, "base URL of the payment request API")
	cmd.Flags().StringVar(&item, flagItem, "", `item JSON, e.g. {"id":"order-42","title":"Textbook","priceSol":0.5}`)
	cmd.Flags().BoolVar(&broadcast, flagBroadcast, false, "submit the signed transaction to the cluster")
	return cmd
}

type transactionRequestBody struct {
	Account string `json:"account"`
}

type transactionResponseBody struct {
	Transaction string `json:"transaction"`
	Message     string `json:"message"`
	Error       *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// requestTransaction performs the Solana Pay POST and decodes the returned
// transaction, refusing one whose fee payer is not the connected wallet.
func requestTransaction(ctx context.Context, client *http.Client, serverURL string, item string, payer solana.PublicKey) (*solana.Transaction, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(serverURL), "/") + "/solanapay?item=" + url.QueryEscape(item)
	body, err := json.Marshal(transactionRequestBody{Account: payer.String()})
	if err != nil {
		return nil, err
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("payment request: %w", err)
	}
	defer response.Body.Close()

	var decoded transactionResponseBody
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("payment response (status %d): %w", response.StatusCode, err)
	}
	if response.StatusCode != http.StatusOK {
		if decoded.Error != nil {
			return nil, fmt.Errorf("payment request rejected: %s: %s", decoded.Error.Code, decoded.Error.Message)
		}
		return nil, fmt.Errorf("payment request rejected with status %d", response.StatusCode)
	}

	raw, err := base64.StdEncoding.DecodeString(decoded.Transaction)
	if err != nil {
		return nil, fmt.Errorf("transaction base64: %w", err)
	}
	transaction, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, fmt.Errorf("transaction decode: %w", err)
	}
	if len(transaction.Message.AccountKeys) == 0 || !transaction.Message.AccountKeys[0].Equals(payer) {
		return nil, fmt.Errorf("transaction fee payer is not %s", payer)
	}
	return transaction, nil
}
