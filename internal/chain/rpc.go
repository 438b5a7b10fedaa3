// Package chain queries a Solana cluster over JSON-RPC.
package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/MarkoPoloResearchLab/campuspay/internal/metrics"
	"github.com/MarkoPoloResearchLab/campuspay/pkg/payment"
)

var (
	// ErrAccountNotFound reports an account the cluster has never seen.
	ErrAccountNotFound = errors.New("account not found")
	// ErrInvalidEndpoint reports an unusable RPC URL.
	ErrInvalidEndpoint = errors.New("invalid rpc endpoint")
)

const (
	metricRPCCall    = "rpc_call"
	metricRPCFailure = "rpc_failure"
)

// AccountInfo is the subset of account state the storefront reads.
type AccountInfo struct {
	Lamports   uint64
	Owner      solana.PublicKey
	Executable bool
}

// Option configures an RPCLedger.
type Option func(*RPCLedger)

// WithCommitment overrides the commitment level used by every query.
func WithCommitment(commitment rpc.CommitmentType) Option {
	return func(ledger *RPCLedger) {
		if commitment != "" {
			ledger.commitment = commitment
		}
	}
}

// WithRecorder records per-method call latency and failures.
func WithRecorder(recorder metrics.Recorder) Option {
	return func(ledger *RPCLedger) {
		if recorder != nil {
			ledger.recorder = recorder
		}
	}
}

// RPCLedger implements payment.Ledger and wallet.BalanceReader against a cluster.
type RPCLedger struct {
	client     *rpc.Client
	endpoint   string
	commitment rpc.CommitmentType
	recorder   metrics.Recorder
}

var _ payment.Ledger = (*RPCLedger)(nil)

// NewRPCLedger connects to endpoint.
func NewRPCLedger(endpoint string, options ...Option) (*RPCLedger, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty url", ErrInvalidEndpoint)
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		return nil, fmt.Errorf("%w: %q must be http(s)", ErrInvalidEndpoint, trimmed)
	}
	ledger := &RPCLedger{
		client:     rpc.New(trimmed),
		endpoint:   trimmed,
		commitment: rpc.CommitmentFinalized,
		recorder:   metrics.NoopRecorder{},
	}
	for _, option := range options {
		if option != nil {
			option(ledger)
		}
	}
	return ledger, nil
}

// Endpoint returns the RPC URL.
func (ledger *RPCLedger) Endpoint() string {
	return ledger.endpoint
}

// LatestBlockhash returns the newest blockhash and its last valid block height.
func (ledger *RPCLedger) LatestBlockhash(ctx context.Context) (payment.Blockhash, error) {
	var blockhash payment.Blockhash
	err := ledger.observe("getLatestBlockhash", func() error {
		result, err := ledger.client.GetLatestBlockhash(ctx, ledger.commitment)
		if err != nil {
			return err
		}
		if result == nil || result.Value == nil {
			return errors.New("empty getLatestBlockhash result")
		}
		blockhash = payment.Blockhash{
			Hash:                 result.Value.Blockhash,
			LastValidBlockHeight: result.Value.LastValidBlockHeight,
		}
		return nil
	})
	if err != nil {
		return payment.Blockhash{}, fmt.Errorf("chain: latest blockhash: %w", err)
	}
	return blockhash, nil
}

// Balance returns the account balance in lamports.
func (ledger *RPCLedger) Balance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	var lamports uint64
	err := ledger.observe("getBalance", func() error {
		result, err := ledger.client.GetBalance(ctx, account, ledger.commitment)
		if err != nil {
			return err
		}
		if result == nil {
			return errors.New("empty getBalance result")
		}
		lamports = result.Value
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("chain: balance %s: %w", account, err)
	}
	return lamports, nil
}

// AccountInfo returns the account state, or ErrAccountNotFound.
func (ledger *RPCLedger) AccountInfo(ctx context.Context, account solana.PublicKey) (AccountInfo, error) {
	var info AccountInfo
	err := ledger.observe("getAccountInfo", func() error {
		result, err := ledger.client.GetAccountInfoWithOpts(ctx, account, &rpc.GetAccountInfoOpts{
			Commitment: ledger.commitment,
		})
		if errors.Is(err, rpc.ErrNotFound) || (err == nil && (result == nil || result.Value == nil)) {
			return ErrAccountNotFound
		}
		if err != nil {
			return err
		}
		info = AccountInfo{
			Lamports:   result.Value.Lamports,
			Owner:      result.Value.Owner,
			Executable: result.Value.Executable,
		}
		return nil
	})
	if err != nil {
		return AccountInfo{}, fmt.Errorf("chain: account info %s: %w", account, err)
	}
	return info, nil
}

// SendTransaction submits a signed transaction without waiting for confirmation.
func (ledger *RPCLedger) SendTransaction(ctx context.Context, transaction *solana.Transaction) (solana.Signature, error) {
	var signature solana.Signature
	err := ledger.observe("sendTransaction", func() error {
		sent, err := ledger.client.SendTransaction(ctx, transaction)
		if err != nil {
			return err
		}
		signature = sent
		return nil
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("chain: send transaction: %w", err)
	}
	return signature, nil
}

func (ledger *RPCLedger) observe(method string, call func() error) error {
	started := time.Now()
	err := call()
	labels := map[string]string{"method": method}
	ledger.recorder.ObserveLatency(metricRPCCall, time.Since(started), labels)
	if err != nil && !errors.Is(err, ErrAccountNotFound) {
		ledger.recorder.IncCounter(metricRPCFailure, labels)
	}
	return err
}
