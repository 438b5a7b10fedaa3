package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const lamportDecimals = 9

// Status is the connection state of a Session.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (status Status) String() string {
	switch status {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Snapshot is a read-only view of a Session.
type Snapshot struct {
	Status          Status
	Provider        string
	PublicKey       solana.PublicKey
	BalanceLamports uint64
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithLogger sets the logger used for swallowed provider failures.
func WithLogger(logger *zap.Logger) SessionOption {
	return func(session *Session) {
		if logger != nil {
			session.logger = logger
		}
	}
}

// WithFamilies replaces the wallet families probed during discovery.
func WithFamilies(families []Family) SessionOption {
	return func(session *Session) {
		session.families = append([]Family(nil), families...)
	}
}

// Session tracks the single active wallet connection of an application.
// All methods are safe for concurrent use; adapter and ledger calls run
// without holding the session lock.
type Session struct {
	environment Environment
	balances    BalanceReader
	families    []Family
	logger      *zap.Logger

	mu              sync.Mutex
	status          Status
	provider        *Provider
	publicKey       solana.PublicKey
	balanceLamports uint64
	generation      uint64
	closed          bool
	observers       map[uint64]func(Snapshot)
	nextObserverID  uint64
}

// NewSession builds a disconnected session over the given environment.
func NewSession(environment Environment, balances BalanceReader, options ...SessionOption) (*Session, error) {
	if environment == nil {
		return nil, fmt.Errorf("%w: environment is nil", ErrInvalidSessionConfig)
	}
	if balances == nil {
		return nil, fmt.Errorf("%w: balance reader is nil", ErrInvalidSessionConfig)
	}
	session := &Session{
		environment: environment,
		balances:    balances,
		families:    DefaultFamilies(),
		logger:      zap.NewNop(),
		observers:   map[uint64]func(Snapshot){},
	}
	for _, option := range options {
		if option != nil {
			option(session)
		}
	}
	return session, nil
}

// Providers runs discovery against the session environment.
func (session *Session) Providers() []Provider {
	return DiscoverProviders(session.environment, session.families)
}

// InstallLinks returns download pages for the families this session knows.
func (session *Session) InstallLinks() []InstallLink {
	return InstallLinks(session.families)
}

// Snapshot returns the current state.
func (session *Session) Snapshot() Snapshot {
	session.mu.Lock()
	defer session.mu.Unlock()
	return session.snapshotLocked()
}

// Subscribe registers fn to receive a snapshot after every state change.
// The returned function removes the subscription.
func (session *Session) Subscribe(fn func(Snapshot)) func() {
	if fn == nil {
		return func() {}
	}
	session.mu.Lock()
	defer session.mu.Unlock()
	id := session.nextObserverID
	session.nextObserverID++
	session.observers[id] = fn
	return func() {
		session.mu.Lock()
		defer session.mu.Unlock()
		delete(session.observers, id)
	}
}

// AutoReconnect tries a trust-only connect on each discovered provider in
// order and stops at the first success. Provider failures are logged and
// skipped. It reports whether the session ended up connected.
func (session *Session) AutoReconnect(ctx context.Context) bool {
	session.mu.Lock()
	if session.closed || session.status != StatusDisconnected {
		connected := session.status == StatusConnected
		session.mu.Unlock()
		return connected
	}
	generation := session.beginConnectLocked()
	snapshot := session.snapshotLocked()
	session.mu.Unlock()
	session.notify(snapshot)

	for _, provider := range session.Providers() {
		if ctx.Err() != nil {
			break
		}
		publicKey, err := provider.Adapter.Connect(ctx, ConnectOptions{OnlyIfTrusted: true})
		if err == nil && publicKey.IsZero() {
			err = ErrNotTrusted
		}
		if err != nil {
			session.logger.Debug("trust-only connect declined",
				zap.String("provider", provider.Name),
				zap.Error(err),
			)
			continue
		}
		if err := session.finishConnect(ctx, generation, provider, publicKey); err != nil {
			return false
		}
		session.logger.Info("wallet reconnected",
			zap.String("provider", provider.Name),
			zap.String("public_key", publicKey.String()),
		)
		return true
	}
	session.abortConnect(generation)
	return false
}

// Connect connects to selected, or to the only discovered provider when
// selected is nil. A *SelectionRequiredError is returned when the caller must
// choose first. Connect is a no-op while another connect is in flight or a
// wallet is already connected.
func (session *Session) Connect(ctx context.Context, selected *Provider) error {
	session.mu.Lock()
	if session.closed {
		session.mu.Unlock()
		return ErrSessionClosed
	}
	if session.status != StatusDisconnected {
		session.mu.Unlock()
		return nil
	}
	target, err := session.resolveTarget(selected)
	if err != nil {
		session.mu.Unlock()
		return err
	}
	generation := session.beginConnectLocked()
	snapshot := session.snapshotLocked()
	session.mu.Unlock()
	session.notify(snapshot)

	publicKey, err := target.Adapter.Connect(ctx, ConnectOptions{})
	if err == nil && publicKey.IsZero() {
		err = errors.New("provider returned an empty public key")
	}
	if err != nil {
		session.abortConnect(generation)
		session.logger.Warn("wallet connect failed",
			zap.String("provider", target.Name),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %s: %w", ErrWalletConnectionRejected, target.Name, err)
	}
	if err := session.finishConnect(ctx, generation, target, publicKey); err != nil {
		return err
	}
	session.logger.Info("wallet connected",
		zap.String("provider", target.Name),
		zap.String("public_key", publicKey.String()),
	)
	return nil
}

func (session *Session) resolveTarget(selected *Provider) (Provider, error) {
	if selected != nil {
		if selected.Adapter == nil {
			return Provider{}, fmt.Errorf("%w: provider %q has no adapter", ErrWalletNotFound, selected.Name)
		}
		return *selected, nil
	}
	providers := session.Providers()
	switch len(providers) {
	case 0:
		return Provider{}, &SelectionRequiredError{InstallLinks: InstallLinks(session.families)}
	case 1:
		return providers[0], nil
	default:
		return Provider{}, &SelectionRequiredError{Candidates: providers}
	}
}

// Disconnect asks the active provider to disconnect, then clears the session
// whether or not the provider call succeeded. The provider error is returned.
func (session *Session) Disconnect(ctx context.Context) error {
	session.mu.Lock()
	provider := session.provider
	session.mu.Unlock()

	var providerErr error
	if provider != nil {
		if disconnecter, ok := provider.Adapter.(Disconnecter); ok {
			providerErr = disconnecter.Disconnect(ctx)
		}
	}

	session.mu.Lock()
	session.clearLocked()
	snapshot := session.snapshotLocked()
	session.mu.Unlock()
	session.notify(snapshot)

	if providerErr != nil {
		session.logger.Warn("wallet disconnect failed",
			zap.String("provider", provider.Name),
			zap.Error(providerErr),
		)
		return fmt.Errorf("wallet: disconnect %s: %w", provider.Name, providerErr)
	}
	return nil
}

// Balance returns the connected account balance in SOL. A disconnected
// session reports zero without error. A result that arrives after the
// session moved to another account or disconnected is discarded and
// reported as zero.
func (session *Session) Balance(ctx context.Context) (decimal.Decimal, error) {
	session.mu.Lock()
	if session.status != StatusConnected {
		session.mu.Unlock()
		return decimal.Zero, nil
	}
	publicKey := session.publicKey
	generation := session.generation
	session.mu.Unlock()

	lamports, err := session.balances.Balance(ctx, publicKey)

	session.mu.Lock()
	if session.status != StatusConnected || session.generation != generation || !session.publicKey.Equals(publicKey) {
		session.mu.Unlock()
		session.logger.Debug("discarding stale balance", zap.String("public_key", publicKey.String()), zap.Error(err))
		return decimal.Zero, nil
	}
	if err != nil {
		session.mu.Unlock()
		return decimal.Zero, fmt.Errorf("wallet: balance %s: %w", publicKey, err)
	}
	session.balanceLamports = lamports
	snapshot := session.snapshotLocked()
	session.mu.Unlock()
	session.notify(snapshot)
	return LamportsToSOL(lamports), nil
}

// Sign signs transaction with the connected wallet.
func (session *Session) Sign(ctx context.Context, transaction *solana.Transaction) error {
	session.mu.Lock()
	provider := session.provider
	connected := session.status == StatusConnected
	session.mu.Unlock()
	if !connected || provider == nil {
		return ErrNotConnected
	}
	signer, ok := provider.Adapter.(Signer)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSigningUnsupported, provider.Name)
	}
	return signer.SignTransaction(ctx, transaction)
}

// Close tears the session down without revoking provider trust, so a later
// session can auto-reconnect. Observers are dropped.
func (session *Session) Close() {
	session.mu.Lock()
	defer session.mu.Unlock()
	session.closed = true
	session.clearLocked()
	session.observers = map[uint64]func(Snapshot){}
}

func (session *Session) beginConnectLocked() uint64 {
	session.generation++
	session.status = StatusConnecting
	return session.generation
}

func (session *Session) finishConnect(ctx context.Context, generation uint64, provider Provider, publicKey solana.PublicKey) error {
	session.mu.Lock()
	if session.closed || session.generation != generation || session.status != StatusConnecting {
		session.mu.Unlock()
		if disconnecter, ok := provider.Adapter.(Disconnecter); ok {
			_ = disconnecter.Disconnect(ctx)
		}
		return ErrConnectionAbandoned
	}
	session.status = StatusConnected
	session.provider = &provider
	session.publicKey = publicKey
	session.balanceLamports = 0
	snapshot := session.snapshotLocked()
	session.mu.Unlock()
	session.notify(snapshot)
	return nil
}

func (session *Session) abortConnect(generation uint64) {
	session.mu.Lock()
	if session.generation != generation || session.status != StatusConnecting {
		session.mu.Unlock()
		return
	}
	session.status = StatusDisconnected
	snapshot := session.snapshotLocked()
	session.mu.Unlock()
	session.notify(snapshot)
}

func (session *Session) clearLocked() {
	session.generation++
	session.status = StatusDisconnected
	session.provider = nil
	session.publicKey = solana.PublicKey{}
	session.balanceLamports = 0
}

func (session *Session) snapshotLocked() Snapshot {
	snapshot := Snapshot{
		Status:          session.status,
		PublicKey:       session.publicKey,
		BalanceLamports: session.balanceLamports,
	}
	if session.provider != nil {
		snapshot.Provider = session.provider.Name
	}
	return snapshot
}

func (session *Session) notify(snapshot Snapshot) {
	session.mu.Lock()
	observers := make([]func(Snapshot), 0, len(session.observers))
	for _, observer := range session.observers {
		observers = append(observers, observer)
	}
	session.mu.Unlock()
	for _, observer := range observers {
		observer(snapshot)
	}
}

// LamportsToSOL converts a raw balance to SOL exactly.
func LamportsToSOL(lamports uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), -lamportDecimals)
}

// ShortAddress abbreviates a key for display as "abcd...wxyz".
func ShortAddress(publicKey solana.PublicKey) string {
	text := publicKey.String()
	if len(text) <= 8 {
		return text
	}
	return text[:4] + "..." + text[len(text)-4:]
}
