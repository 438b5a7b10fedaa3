package wallet

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gagliardetto/solana-go"
)

const (
	// KeypairPath is where a keypair wallet is injected into a StaticEnvironment.
	KeypairPath   = "keypair"
	keypairMarker = "isKeypair"
)

// KeypairFamily detects a KeypairAdapter registered under KeypairPath.
func KeypairFamily() Family {
	return Family{Name: "Keypair file", Path: KeypairPath, Marker: keypairMarker}
}

// KeypairAdapter is a terminal wallet backed by a Solana CLI keygen file.
type KeypairAdapter struct {
	path    string
	trusted bool

	mu     sync.Mutex
	loaded solana.PrivateKey
}

// NewKeypairAdapter returns an adapter for the keygen file at path. A trusted
// adapter accepts trust-only connects.
func NewKeypairAdapter(path string, trusted bool) *KeypairAdapter {
	return &KeypairAdapter{path: strings.TrimSpace(path), trusted: trusted}
}

// Injected wraps the adapter for registration in a StaticEnvironment.
func (adapter *KeypairAdapter) Injected() Injected {
	return Injected{Markers: map[string]bool{keypairMarker: true}, Adapter: adapter}
}

// Connect loads the key file.
func (adapter *KeypairAdapter) Connect(_ context.Context, options ConnectOptions) (solana.PublicKey, error) {
	if options.OnlyIfTrusted && !adapter.trusted {
		return solana.PublicKey{}, ErrNotTrusted
	}
	if adapter.path == "" {
		return solana.PublicKey{}, fmt.Errorf("%w: keypair path is empty", ErrWalletNotFound)
	}
	privateKey, err := solana.PrivateKeyFromSolanaKeygenFile(adapter.path)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("load keypair %s: %w", adapter.path, err)
	}
	adapter.mu.Lock()
	adapter.loaded = privateKey
	adapter.mu.Unlock()
	return privateKey.PublicKey(), nil
}

// Disconnect forgets the loaded key.
func (adapter *KeypairAdapter) Disconnect(context.Context) error {
	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	adapter.loaded = nil
	return nil
}

// SignTransaction adds the loaded key's signature to transaction.
func (adapter *KeypairAdapter) SignTransaction(_ context.Context, transaction *solana.Transaction) error {
	adapter.mu.Lock()
	privateKey := adapter.loaded
	adapter.mu.Unlock()
	if len(privateKey) == 0 {
		return ErrNotConnected
	}
	publicKey := privateKey.PublicKey()
	_, err := transaction.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(publicKey) {
			return &privateKey
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sign transaction: %w", err)
	}
	return nil
}
