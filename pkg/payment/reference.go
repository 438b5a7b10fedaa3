package payment

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// Reference is a read-only account key attached to a transfer so the
// transaction can be found later by scanning for it.
type Reference struct {
	key solana.PublicKey
}

// DeriveReference derives the reference for an order id as a seeded address
// under the merchant account, so the builder and any later lookup agree on
// the same key without storing anything. Ids longer than a seed allows, such
// as UUIDs or base58 keys, are seeded with a hex SHA-256 digest prefix.
func DeriveReference(merchant solana.PublicKey, orderID string) (Reference, error) {
	seed := strings.TrimSpace(orderID)
	if seed == "" {
		return Reference{}, fmt.Errorf("%w: empty order id", ErrInvalidPaymentReference)
	}
	if len(seed) > MaxReferenceSeedLength {
		seed = digestSeed(seed)
	}
	if merchant.IsZero() {
		return Reference{}, fmt.Errorf("%w: merchant account is zero", ErrInvalidPaymentReference)
	}
	key, err := solana.CreateWithSeed(merchant, seed, solana.SystemProgramID)
	if err != nil {
		return Reference{}, fmt.Errorf("%w: %v", ErrInvalidPaymentReference, err)
	}
	return Reference{key: key}, nil
}

// ParseReference validates a base58 reference key.
func ParseReference(raw string) (Reference, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Reference{}, fmt.Errorf("%w: empty value", ErrInvalidPaymentReference)
	}
	key, err := solana.PublicKeyFromBase58(trimmed)
	if err != nil {
		return Reference{}, fmt.Errorf("%w: %v", ErrInvalidPaymentReference, err)
	}
	return Reference{key: key}, nil
}

// PublicKey returns the reference as an account key.
func (reference Reference) PublicKey() solana.PublicKey {
	return reference.key
}

// String returns the base58 form.
func (reference Reference) String() string {
	return reference.key.String()
}

// Equals reports whether both references point at the same key.
func (reference Reference) Equals(other Reference) bool {
	return reference.key.Equals(other.key)
}

func digestSeed(orderID string) string {
	digest := sha256.Sum256([]byte(orderID))
	return hex.EncodeToString(digest[:])[:MaxReferenceSeedLength]
}
