package payment

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

const (
	payerKeyValue     = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
	otherPayerValue   = "EAx3oF6kmpAa6aR9G6LjhuWoqKJLpYsufSDoGp2dDWkh"
	blockhashValue    = "5NP37fvUCKitiui2c4dNyfLhAkp26HxdHiiUS2zsCJH3"
	textbookItemJSON  = `{"id":"order-42","title":"Calculus Textbook","priceSol":0.5}`
	textbookOrderID   = "order-42"
	textbookTitle     = "Calculus Textbook"
	textbookLamports  = 500000000
	lastValidHeight   = 250_000_150
	fixedUnixUTC      = 1_700_000_000
	errorMismatchText = "expected %v, got %v"
)

type fakeLedger struct {
	mu        sync.Mutex
	blockhash Blockhash
	err       error
	calls     int
}

func newFakeLedger(test *testing.T) *fakeLedger {
	test.Helper()
	return &fakeLedger{blockhash: Blockhash{
		Hash:                 mustHash(test, blockhashValue),
		LastValidBlockHeight: lastValidHeight,
	}}
}

func (ledger *fakeLedger) LatestBlockhash(ctx context.Context) (Blockhash, error) {
	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	ledger.calls++
	if ledger.err != nil {
		return Blockhash{}, ledger.err
	}
	if err := ctx.Err(); err != nil {
		return Blockhash{}, err
	}
	return ledger.blockhash, nil
}

func (ledger *fakeLedger) callCount() int {
	ledger.mu.Lock()
	defer ledger.mu.Unlock()
	return ledger.calls
}

type memoryReferenceStore struct {
	mu      sync.Mutex
	records map[string]ReferenceRecord
	inserts int
}

func newMemoryReferenceStore() *memoryReferenceStore {
	return &memoryReferenceStore{records: map[string]ReferenceRecord{}}
}

func (store *memoryReferenceStore) InsertReference(_ context.Context, record ReferenceRecord) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if _, exists := store.records[record.Reference.String()]; exists {
		return ErrDuplicateReference
	}
	store.records[record.Reference.String()] = record
	store.inserts++
	return nil
}

func (store *memoryReferenceStore) GetReference(_ context.Context, reference Reference) (ReferenceRecord, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	record, exists := store.records[reference.String()]
	if !exists {
		return ReferenceRecord{}, ErrUnknownReference
	}
	return record, nil
}

func (store *memoryReferenceStore) ListByOrder(_ context.Context, orderID string, limit int) ([]ReferenceRecord, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	records := make([]ReferenceRecord, 0)
	for _, record := range store.records {
		if record.OrderID == orderID && len(records) < limit {
			records = append(records, record)
		}
	}
	return records, nil
}

type recorderLogger struct {
	mu      sync.Mutex
	entries []OperationLog
}

func (logger *recorderLogger) LogOperation(_ context.Context, entry OperationLog) {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	logger.entries = append(logger.entries, entry)
}

func mustHash(test *testing.T, raw string) solana.Hash {
	test.Helper()
	key, err := solana.PublicKeyFromBase58(raw)
	if err != nil {
		test.Fatalf("invalid hash %q: %v", raw, err)
	}
	return solana.Hash(key)
}

func mustPublicKey(test *testing.T, raw string) solana.PublicKey {
	test.Helper()
	key, err := solana.PublicKeyFromBase58(raw)
	if err != nil {
		test.Fatalf("invalid key %q: %v", raw, err)
	}
	return key
}

func mustMerchant(test *testing.T) solana.PublicKey {
	test.Helper()
	return mustPublicKey(test, DefaultMerchantAccount)
}

func mustNewService(test *testing.T, ledger Ledger, options ...ServiceOption) *Service {
	test.Helper()
	options = append([]ServiceOption{WithClock(func() int64 { return fixedUnixUTC })}, options...)
	service, err := NewService(ledger, mustMerchant(test), options...)
	if err != nil {
		test.Fatalf("service init failed: %v", err)
	}
	return service
}

func mustReference(test *testing.T, orderID string) Reference {
	test.Helper()
	reference, err := DeriveReference(mustMerchant(test), orderID)
	if err != nil {
		test.Fatalf("derive reference failed: %v", err)
	}
	return reference
}

func decodeTransaction(test *testing.T, encoded string) *solana.Transaction {
	test.Helper()
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		test.Fatalf("transaction is not base64: %v", err)
	}
	transaction, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		test.Fatalf("transaction decode failed: %v", err)
	}
	return transaction
}
