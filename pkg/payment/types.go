package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

var maxLamports = decimal.NewFromBigInt(new(big.Int).SetUint64(^uint64(0)), 0)

// OrderItem is the purchasable listing carried in the item query parameter.
type OrderItem struct {
	ID       string
	Title    string
	PriceSOL decimal.Decimal
}

// MarshalJSON renders the item in the storefront wire shape.
func (item OrderItem) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID       string          `json:"id"`
		Title    string          `json:"title"`
		PriceSOL decimal.Decimal `json:"priceSol"`
	}{ID: item.ID, Title: item.Title, PriceSOL: item.PriceSOL})
}

// Lamports is an amount in the smallest SOL unit.
type Lamports uint64

// LamportsFromSOL converts a SOL price to lamports, rounding to the nearest lamport.
func LamportsFromSOL(priceSOL decimal.Decimal) (Lamports, error) {
	scaled := priceSOL.Shift(LamportDecimals).Round(0)
	if !scaled.IsPositive() {
		return 0, fmt.Errorf("%w: %s SOL is not a positive lamport amount", ErrInvalidAmount, priceSOL.String())
	}
	if scaled.GreaterThan(maxLamports) {
		return 0, fmt.Errorf("%w: %s SOL overflows lamports", ErrInvalidAmount, priceSOL.String())
	}
	return Lamports(scaled.BigInt().Uint64()), nil
}

// Uint64 returns the raw lamport count.
func (lamports Lamports) Uint64() uint64 {
	return uint64(lamports)
}

// SOL converts lamports to SOL without floating point.
func (lamports Lamports) SOL() decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(uint64(lamports)), -LamportDecimals)
}

// ParsePayerKey validates a base58 account identifier supplied by the buyer's wallet.
func ParsePayerKey(raw string) (solana.PublicKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return solana.PublicKey{}, fmt.Errorf("%w: empty value", ErrInvalidPayerKey)
	}
	publicKey, err := solana.PublicKeyFromBase58(trimmed)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidPayerKey, err)
	}
	return publicKey, nil
}

// ItemDescription is the label/icon pair shown by wallets before a purchase.
type ItemDescription struct {
	Label string
	Icon  string
}

// TransactionRequest is a serialized, unsigned transfer ready for client-side signing.
type TransactionRequest struct {
	Transaction          string
	Message              string
	Reference            Reference
	Lamports             Lamports
	Blockhash            solana.Hash
	LastValidBlockHeight uint64
}

// Blockhash is a recent blockhash and the last block height at which it is accepted.
type Blockhash struct {
	Hash                 solana.Hash
	LastValidBlockHeight uint64
}

// Ledger is the chain query contract used by Service.
type Ledger interface {
	LatestBlockhash(ctx context.Context) (Blockhash, error)
}

// ReferenceRecord is the registry row written when a reference is first issued.
type ReferenceRecord struct {
	Reference      Reference
	OrderID        string
	Title          string
	Lamports       Lamports
	Merchant       solana.PublicKey
	ItemJSON       string
	CreatedUnixUTC int64
}

// ReferenceStore is the persistence contract for issued references.
// (gormstore and pgstore implement it.)
type ReferenceStore interface {
	InsertReference(ctx context.Context, record ReferenceRecord) error
	GetReference(ctx context.Context, reference Reference) (ReferenceRecord, error)
	ListByOrder(ctx context.Context, orderID string, limit int) ([]ReferenceRecord, error)
}
