package wallet

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
)

const (
	phantomKeyValue  = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
	solflareKeyValue = "EAx3oF6kmpAa6aR9G6LjhuWoqKJLpYsufSDoGp2dDWkh"
	backpackKeyValue = "8FBgLBFxJcm7Rre75C1fmA6TyqFRpnRqzucktLJBvC82"
	waitTimeout      = 2 * time.Second
)

type attemptLog struct {
	mu       sync.Mutex
	attempts []string
}

func (log *attemptLog) record(name string) {
	log.mu.Lock()
	defer log.mu.Unlock()
	log.attempts = append(log.attempts, name)
}

func (log *attemptLog) snapshot() []string {
	log.mu.Lock()
	defer log.mu.Unlock()
	return append([]string(nil), log.attempts...)
}

type fakeAdapter struct {
	name          string
	key           solana.PublicKey
	trusted       bool
	connectErr    error
	disconnectErr error
	attempts      *attemptLog
	started       chan struct{}
	release       chan struct{}

	mu          sync.Mutex
	options     []ConnectOptions
	disconnects int
}

func (adapter *fakeAdapter) Connect(ctx context.Context, options ConnectOptions) (solana.PublicKey, error) {
	adapter.mu.Lock()
	adapter.options = append(adapter.options, options)
	adapter.mu.Unlock()
	if adapter.attempts != nil {
		adapter.attempts.record(adapter.name)
	}
	if adapter.started != nil {
		close(adapter.started)
	}
	if adapter.release != nil {
		select {
		case <-adapter.release:
		case <-ctx.Done():
			return solana.PublicKey{}, ctx.Err()
		}
	}
	if adapter.connectErr != nil {
		return solana.PublicKey{}, adapter.connectErr
	}
	if options.OnlyIfTrusted && !adapter.trusted {
		return solana.PublicKey{}, ErrNotTrusted
	}
	return adapter.key, nil
}

func (adapter *fakeAdapter) Disconnect(context.Context) error {
	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	adapter.disconnects++
	return adapter.disconnectErr
}

func (adapter *fakeAdapter) connectCalls() []ConnectOptions {
	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	return append([]ConnectOptions(nil), adapter.options...)
}

func (adapter *fakeAdapter) disconnectCount() int {
	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	return adapter.disconnects
}

// connectOnlyAdapter has no disconnect or signing capability.
type connectOnlyAdapter struct {
	key solana.PublicKey
}

func (adapter connectOnlyAdapter) Connect(context.Context, ConnectOptions) (solana.PublicKey, error) {
	return adapter.key, nil
}

type fakeBalances struct {
	mu       sync.Mutex
	lamports uint64
	err      error
	calls    int
	started  chan struct{}
	release  chan struct{}
}

func (balances *fakeBalances) Balance(ctx context.Context, _ solana.PublicKey) (uint64, error) {
	balances.mu.Lock()
	balances.calls++
	started, release := balances.started, balances.release
	balances.mu.Unlock()
	if started != nil {
		close(started)
	}
	if release != nil {
		<-release
	}
	return balances.lamports, balances.err
}

func (balances *fakeBalances) callCount() int {
	balances.mu.Lock()
	defer balances.mu.Unlock()
	return balances.calls
}

func mustKey(test *testing.T, raw string) solana.PublicKey {
	test.Helper()
	key, err := solana.PublicKeyFromBase58(raw)
	if err != nil {
		test.Fatalf("invalid key %q: %v", raw, err)
	}
	return key
}

func mustSession(test *testing.T, environment Environment, balances BalanceReader, options ...SessionOption) *Session {
	test.Helper()
	if balances == nil {
		balances = &fakeBalances{}
	}
	session, err := NewSession(environment, balances, options...)
	if err != nil {
		test.Fatalf("session init failed: %v", err)
	}
	test.Cleanup(session.Close)
	return session
}

func phantomInjected(adapter Adapter) Injected {
	return Injected{Markers: map[string]bool{"isPhantom": true}, Adapter: adapter}
}

func solflareInjected(adapter Adapter) Injected {
	return Injected{Markers: map[string]bool{"isSolflare": true}, Adapter: adapter}
}

func backpackInjected(adapter Adapter) Injected {
	return Injected{Markers: map[string]bool{"isBackpack": true}, Adapter: adapter}
}

func TestNewSessionValidatesDependencies(test *testing.T) {
	test.Parallel()
	if _, err := NewSession(nil, &fakeBalances{}); !errors.Is(err, ErrInvalidSessionConfig) {
		test.Fatalf("expected ErrInvalidSessionConfig, got %v", err)
	}
	if _, err := NewSession(StaticEnvironment{}, nil); !errors.Is(err, ErrInvalidSessionConfig) {
		test.Fatalf("expected ErrInvalidSessionConfig, got %v", err)
	}
}

func TestAutoReconnectFallsThroughToNextProvider(test *testing.T) {
	test.Parallel()
	attempts := &attemptLog{}
	phantom := &fakeAdapter{name: "Phantom", key: mustKey(test, phantomKeyValue), trusted: false, attempts: attempts}
	solflare := &fakeAdapter{name: "Solflare", key: mustKey(test, solflareKeyValue), trusted: true, attempts: attempts}
	backpack := &fakeAdapter{name: "Backpack", key: mustKey(test, backpackKeyValue), trusted: true, attempts: attempts}
	session := mustSession(test, StaticEnvironment{
		"phantom.solana": phantomInjected(phantom),
		"solflare":       solflareInjected(solflare),
		"backpack":       backpackInjected(backpack),
	}, nil)

	if !session.AutoReconnect(context.Background()) {
		test.Fatalf("expected auto-reconnect to succeed")
	}
	snapshot := session.Snapshot()
	if snapshot.Status != StatusConnected || snapshot.Provider != "Solflare" {
		test.Fatalf("unexpected snapshot %+v", snapshot)
	}
	if !snapshot.PublicKey.Equals(mustKey(test, solflareKeyValue)) {
		test.Fatalf("unexpected public key %s", snapshot.PublicKey)
	}
	order := attempts.snapshot()
	if len(order) != 2 || order[0] != "Phantom" || order[1] != "Solflare" {
		test.Fatalf("unexpected attempt order %v", order)
	}
	for _, options := range append(phantom.connectCalls(), solflare.connectCalls()...) {
		if !options.OnlyIfTrusted {
			test.Fatalf("auto-reconnect must not prompt")
		}
	}
	if len(backpack.connectCalls()) != 0 {
		test.Fatalf("providers after the first success must not be attempted")
	}
}

func TestAutoReconnectTotalFailureIsSilent(test *testing.T) {
	test.Parallel()
	phantom := &fakeAdapter{name: "Phantom", key: mustKey(test, phantomKeyValue)}
	sollet := &fakeAdapter{name: "Sollet", connectErr: errors.New("extension crashed")}
	session := mustSession(test, StaticEnvironment{
		"phantom.solana": phantomInjected(phantom),
		"sollet":         {Adapter: sollet},
	}, nil)

	if session.AutoReconnect(context.Background()) {
		test.Fatalf("expected auto-reconnect to fail")
	}
	if snapshot := session.Snapshot(); snapshot.Status != StatusDisconnected || snapshot.Provider != "" {
		test.Fatalf("unexpected snapshot %+v", snapshot)
	}
	if len(sollet.connectCalls()) != 1 {
		test.Fatalf("every provider should be attempted once")
	}
}

func TestConnectRequiresSelection(test *testing.T) {
	test.Parallel()

	empty := mustSession(test, StaticEnvironment{}, nil)
	err := empty.Connect(context.Background(), nil)
	if !errors.Is(err, ErrWalletNotFound) {
		test.Fatalf("expected ErrWalletNotFound, got %v", err)
	}
	var selectionError *SelectionRequiredError
	if !errors.As(err, &selectionError) {
		test.Fatalf("expected SelectionRequiredError, got %T", err)
	}
	if len(selectionError.InstallLinks) != 4 || selectionError.InstallLinks[0].URL != "https://phantom.app/download" {
		test.Fatalf("unexpected install links %+v", selectionError.InstallLinks)
	}
	if empty.Snapshot().Status != StatusDisconnected {
		test.Fatalf("selection request must not change status")
	}

	phantom := &fakeAdapter{name: "Phantom", key: mustKey(test, phantomKeyValue)}
	solflare := &fakeAdapter{name: "Solflare", key: mustKey(test, solflareKeyValue)}
	several := mustSession(test, StaticEnvironment{
		"phantom.solana": phantomInjected(phantom),
		"solflare":       solflareInjected(solflare),
	}, nil)
	err = several.Connect(context.Background(), nil)
	if !errors.Is(err, ErrSelectionRequired) || errors.Is(err, ErrWalletNotFound) {
		test.Fatalf("expected ErrSelectionRequired, got %v", err)
	}
	if !errors.As(err, &selectionError) || len(selectionError.Candidates) != 2 {
		test.Fatalf("expected two candidates, got %v", err)
	}
	if len(phantom.connectCalls())+len(solflare.connectCalls()) != 0 {
		test.Fatalf("no provider may be contacted before selection")
	}

	candidate := selectionError.Candidates[1]
	if err := several.Connect(context.Background(), &candidate); err != nil {
		test.Fatalf("connect failed: %v", err)
	}
	if snapshot := several.Snapshot(); snapshot.Provider != "Solflare" || snapshot.Status != StatusConnected {
		test.Fatalf("unexpected snapshot %+v", snapshot)
	}
	if calls := solflare.connectCalls(); len(calls) != 1 || calls[0].OnlyIfTrusted {
		test.Fatalf("explicit connect must prompt, got %+v", calls)
	}
}

func TestConnectSingleProviderDirectly(test *testing.T) {
	test.Parallel()
	phantom := &fakeAdapter{name: "Phantom", key: mustKey(test, phantomKeyValue)}
	session := mustSession(test, StaticEnvironment{"phantom.solana": phantomInjected(phantom)}, nil)
	if err := session.Connect(context.Background(), nil); err != nil {
		test.Fatalf("connect failed: %v", err)
	}
	snapshot := session.Snapshot()
	if snapshot.Status != StatusConnected || snapshot.Provider != "Phantom" || !snapshot.PublicKey.Equals(phantom.key) {
		test.Fatalf("unexpected snapshot %+v", snapshot)
	}
}

func TestDiscoveryIgnoresUnmarkedObjects(test *testing.T) {
	test.Parallel()
	impostor := &fakeAdapter{name: "Impostor", key: mustKey(test, phantomKeyValue)}
	providers := DiscoverProviders(StaticEnvironment{
		"phantom.solana": {Markers: map[string]bool{"isPhantom": false}, Adapter: impostor},
		"solflare":       {Markers: map[string]bool{"isSolflare": true}},
		"backpack":       backpackInjected(impostor),
		"sollet":         {Adapter: impostor},
	}, DefaultFamilies())
	if len(providers) != 2 || providers[0].Name != "Backpack" || providers[1].Name != "Sollet" {
		test.Fatalf("unexpected providers %+v", providers)
	}
	if DiscoverProviders(nil, DefaultFamilies()) != nil {
		test.Fatalf("nil environment should discover nothing")
	}
}

func TestConnectRejectionReturnsToDisconnected(test *testing.T) {
	test.Parallel()
	declined := errors.New("user rejected the request")
	phantom := &fakeAdapter{name: "Phantom", connectErr: declined}
	session := mustSession(test, StaticEnvironment{"phantom.solana": phantomInjected(phantom)}, nil)

	err := session.Connect(context.Background(), nil)
	if !errors.Is(err, ErrWalletConnectionRejected) || !errors.Is(err, declined) {
		test.Fatalf("expected wrapped rejection, got %v", err)
	}
	if session.Snapshot().Status != StatusDisconnected {
		test.Fatalf("failed connect must leave the session disconnected")
	}
	if len(phantom.connectCalls()) != 1 {
		test.Fatalf("connect must not retry")
	}
}

func TestConcurrentConnectTransitionsOnce(test *testing.T) {
	test.Parallel()
	phantom := &fakeAdapter{
		name:    "Phantom",
		key:     mustKey(test, phantomKeyValue),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	session := mustSession(test, StaticEnvironment{"phantom.solana": phantomInjected(phantom)}, nil)

	var transitionsMu sync.Mutex
	connectedTransitions := 0
	session.Subscribe(func(snapshot Snapshot) {
		if snapshot.Status == StatusConnected {
			transitionsMu.Lock()
			connectedTransitions++
			transitionsMu.Unlock()
		}
	})

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- session.Connect(context.Background(), nil)
	}()
	select {
	case <-phantom.started:
	case <-time.After(waitTimeout):
		test.Fatalf("first connect never reached the provider")
	}
	if status := session.Snapshot().Status; status != StatusConnecting {
		test.Fatalf("expected connecting, got %s", status)
	}
	if err := session.Connect(context.Background(), nil); err != nil {
		test.Fatalf("second connect should be a no-op, got %v", err)
	}
	close(phantom.release)
	select {
	case err := <-firstDone:
		if err != nil {
			test.Fatalf("first connect failed: %v", err)
		}
	case <-time.After(waitTimeout):
		test.Fatalf("first connect did not finish")
	}

	if len(phantom.connectCalls()) != 1 {
		test.Fatalf("expected a single provider connect, got %d", len(phantom.connectCalls()))
	}
	transitionsMu.Lock()
	defer transitionsMu.Unlock()
	if connectedTransitions != 1 {
		test.Fatalf("expected one transition to connected, got %d", connectedTransitions)
	}
}

func TestDisconnectDuringConnectAbandonsAttempt(test *testing.T) {
	test.Parallel()
	phantom := &fakeAdapter{
		name:    "Phantom",
		key:     mustKey(test, phantomKeyValue),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	session := mustSession(test, StaticEnvironment{"phantom.solana": phantomInjected(phantom)}, nil)
	done := make(chan error, 1)
	go func() {
		done <- session.Connect(context.Background(), nil)
	}()
	<-phantom.started
	if err := session.Disconnect(context.Background()); err != nil {
		test.Fatalf("disconnect failed: %v", err)
	}
	close(phantom.release)
	if err := <-done; !errors.Is(err, ErrConnectionAbandoned) {
		test.Fatalf("expected ErrConnectionAbandoned, got %v", err)
	}
	if session.Snapshot().Status != StatusDisconnected {
		test.Fatalf("abandoned connect must not connect the session")
	}
	if phantom.disconnectCount() != 1 {
		test.Fatalf("abandoned connection should be released")
	}
}

func TestDisconnectClearsStateWhenProviderFails(test *testing.T) {
	test.Parallel()
	phantom := &fakeAdapter{name: "Phantom", key: mustKey(test, phantomKeyValue), disconnectErr: errors.New("extension gone")}
	balances := &fakeBalances{lamports: 2_000_000_000}
	session := mustSession(test, StaticEnvironment{"phantom.solana": phantomInjected(phantom)}, balances)
	if err := session.Connect(context.Background(), nil); err != nil {
		test.Fatalf("connect failed: %v", err)
	}
	if _, err := session.Balance(context.Background()); err != nil {
		test.Fatalf("balance failed: %v", err)
	}

	err := session.Disconnect(context.Background())
	if err == nil || !errors.Is(err, phantom.disconnectErr) {
		test.Fatalf("expected provider error, got %v", err)
	}
	snapshot := session.Snapshot()
	if snapshot.Status != StatusDisconnected || snapshot.Provider != "" || !snapshot.PublicKey.IsZero() || snapshot.BalanceLamports != 0 {
		test.Fatalf("state not cleared: %+v", snapshot)
	}
	if phantom.disconnectCount() != 1 {
		test.Fatalf("provider disconnect should be invoked once")
	}

	withoutCapability := mustSession(test, StaticEnvironment{"sollet": {Adapter: connectOnlyAdapter{key: mustKey(test, phantomKeyValue)}}}, nil)
	if err := withoutCapability.Connect(context.Background(), nil); err != nil {
		test.Fatalf("connect failed: %v", err)
	}
	if err := withoutCapability.Disconnect(context.Background()); err != nil {
		test.Fatalf("disconnect without capability failed: %v", err)
	}
	if withoutCapability.Snapshot().Status != StatusDisconnected {
		test.Fatalf("expected disconnected")
	}
}

func TestBalance(test *testing.T) {
	test.Parallel()
	balances := &fakeBalances{lamports: 1_500_000_001}
	phantom := &fakeAdapter{name: "Phantom", key: mustKey(test, phantomKeyValue)}
	session := mustSession(test, StaticEnvironment{"phantom.solana": phantomInjected(phantom)}, balances)

	balance, err := session.Balance(context.Background())
	if err != nil || !balance.IsZero() {
		test.Fatalf("disconnected balance must be zero without error, got %s, %v", balance, err)
	}
	if balances.callCount() != 0 {
		test.Fatalf("disconnected balance must not query the ledger")
	}

	if err := session.Connect(context.Background(), nil); err != nil {
		test.Fatalf("connect failed: %v", err)
	}
	for attempt := 0; attempt < 3; attempt++ {
		balance, err = session.Balance(context.Background())
		if err != nil {
			test.Fatalf("balance failed: %v", err)
		}
		if balance.String() != "1.500000001" {
			test.Fatalf("unexpected balance %s", balance.String())
		}
	}
	if session.Snapshot().BalanceLamports != 1_500_000_001 {
		test.Fatalf("balance not applied to session")
	}

	balances.err = errors.New("rpc timeout")
	if _, err := session.Balance(context.Background()); err == nil {
		test.Fatalf("expected ledger error")
	}
}

func TestBalanceDiscardsStaleResult(test *testing.T) {
	test.Parallel()
	balances := &fakeBalances{lamports: 42, started: make(chan struct{}), release: make(chan struct{})}
	phantom := &fakeAdapter{name: "Phantom", key: mustKey(test, phantomKeyValue)}
	session := mustSession(test, StaticEnvironment{"phantom.solana": phantomInjected(phantom)}, balances)
	if err := session.Connect(context.Background(), nil); err != nil {
		test.Fatalf("connect failed: %v", err)
	}

	type result struct {
		balanceText string
		err         error
	}
	done := make(chan result, 1)
	go func() {
		balance, err := session.Balance(context.Background())
		done <- result{balanceText: balance.String(), err: err}
	}()
	<-balances.started
	if err := session.Disconnect(context.Background()); err != nil {
		test.Fatalf("disconnect failed: %v", err)
	}
	close(balances.release)

	outcome := <-done
	if outcome.err != nil || outcome.balanceText != "0" {
		test.Fatalf("stale balance must be discarded, got %s, %v", outcome.balanceText, outcome.err)
	}
	if session.Snapshot().BalanceLamports != 0 {
		test.Fatalf("stale balance applied to session")
	}
}

func TestBalanceDiscardsStaleFailure(test *testing.T) {
	test.Parallel()
	balances := &fakeBalances{err: errors.New("rpc timeout"), started: make(chan struct{}), release: make(chan struct{})}
	phantom := &fakeAdapter{name: "Phantom", key: mustKey(test, phantomKeyValue)}
	session := mustSession(test, StaticEnvironment{"phantom.solana": phantomInjected(phantom)}, balances)
	if err := session.Connect(context.Background(), nil); err != nil {
		test.Fatalf("connect failed: %v", err)
	}

	type result struct {
		balanceText string
		err         error
	}
	done := make(chan result, 1)
	go func() {
		balance, err := session.Balance(context.Background())
		done <- result{balanceText: balance.String(), err: err}
	}()
	<-balances.started
	if err := session.Disconnect(context.Background()); err != nil {
		test.Fatalf("disconnect failed: %v", err)
	}
	close(balances.release)

	outcome := <-done
	if outcome.err != nil || outcome.balanceText != "0" {
		test.Fatalf("stale failure must be discarded, got %s, %v", outcome.balanceText, outcome.err)
	}
}

func TestBalanceReportsCurrentFailure(test *testing.T) {
	test.Parallel()
	balances := &fakeBalances{err: errors.New("rpc timeout")}
	phantom := &fakeAdapter{name: "Phantom", key: mustKey(test, phantomKeyValue)}
	session := mustSession(test, StaticEnvironment{"phantom.solana": phantomInjected(phantom)}, balances)
	if err := session.Connect(context.Background(), nil); err != nil {
		test.Fatalf("connect failed: %v", err)
	}
	if _, err := session.Balance(context.Background()); err == nil {
		test.Fatalf("expected balance failure for the current session")
	}
}

func TestSignRequiresConnectedSigner(test *testing.T) {
	test.Parallel()
	session := mustSession(test, StaticEnvironment{"sollet": {Adapter: connectOnlyAdapter{key: mustKey(test, phantomKeyValue)}}}, nil)
	if err := session.Sign(context.Background(), &solana.Transaction{}); !errors.Is(err, ErrNotConnected) {
		test.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if err := session.Connect(context.Background(), nil); err != nil {
		test.Fatalf("connect failed: %v", err)
	}
	if err := session.Sign(context.Background(), &solana.Transaction{}); !errors.Is(err, ErrSigningUnsupported) {
		test.Fatalf("expected ErrSigningUnsupported, got %v", err)
	}
}

func TestClosedSessionRejectsConnect(test *testing.T) {
	test.Parallel()
	phantom := &fakeAdapter{name: "Phantom", key: mustKey(test, phantomKeyValue), trusted: true}
	session := mustSession(test, StaticEnvironment{"phantom.solana": phantomInjected(phantom)}, nil)
	notified := 0
	session.Subscribe(func(Snapshot) { notified++ })
	session.Close()

	if err := session.Connect(context.Background(), nil); !errors.Is(err, ErrSessionClosed) {
		test.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	if session.AutoReconnect(context.Background()) {
		test.Fatalf("closed session must not reconnect")
	}
	if notified != 0 {
		test.Fatalf("observers must be dropped on close")
	}
	if len(phantom.connectCalls()) != 0 {
		test.Fatalf("closed session contacted a provider")
	}
}

func TestSubscribeReceivesTransitions(test *testing.T) {
	test.Parallel()
	phantom := &fakeAdapter{name: "Phantom", key: mustKey(test, phantomKeyValue)}
	session := mustSession(test, StaticEnvironment{"phantom.solana": phantomInjected(phantom)}, nil)
	var statuses []Status
	unsubscribe := session.Subscribe(func(snapshot Snapshot) {
		statuses = append(statuses, snapshot.Status)
	})
	if err := session.Connect(context.Background(), nil); err != nil {
		test.Fatalf("connect failed: %v", err)
	}
	unsubscribe()
	if err := session.Disconnect(context.Background()); err != nil {
		test.Fatalf("disconnect failed: %v", err)
	}
	if len(statuses) != 2 || statuses[0] != StatusConnecting || statuses[1] != StatusConnected {
		test.Fatalf("unexpected transitions %v", statuses)
	}
}

func TestShortAddress(test *testing.T) {
	test.Parallel()
	if short := ShortAddress(mustKey(test, phantomKeyValue)); short != "9xQe...VFin" {
		test.Fatalf("unexpected short address %q", short)
	}
}
