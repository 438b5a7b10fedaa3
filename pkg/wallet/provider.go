package wallet

import (
	"context"

	"github.com/gagliardetto/solana-go"
)

// ConnectOptions controls a single connect attempt.
type ConnectOptions struct {
	// OnlyIfTrusted forbids prompting the user; the provider succeeds only
	// when it already trusts the application.
	OnlyIfTrusted bool
}

// Adapter is the capability every wallet family exposes.
type Adapter interface {
	Connect(ctx context.Context, options ConnectOptions) (solana.PublicKey, error)
}

// Disconnecter is implemented by adapters that can revoke their connection.
type Disconnecter interface {
	Disconnect(ctx context.Context) error
}

// Signer is implemented by adapters that can sign transactions for the connected key.
type Signer interface {
	SignTransaction(ctx context.Context, transaction *solana.Transaction) error
}

// Provider is a discovered wallet.
type Provider struct {
	Name    string
	IconURL string
	Adapter Adapter
}

// BalanceReader returns an account balance in lamports.
type BalanceReader interface {
	Balance(ctx context.Context, account solana.PublicKey) (uint64, error)
}
