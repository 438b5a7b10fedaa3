package payment

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
)

const defaultLedgerTimeout = 5 * time.Second

// Service builds payment requests for storefront items. It keeps no
// per-request state and is safe for concurrent use.
type Service struct {
	ledger        Ledger
	merchant      solana.PublicKey
	store         ReferenceStore
	ledgerTimeout time.Duration
	labelPrefix   string
	iconURL       string
	nowFn         func() int64
	logger        OperationLogger
}

// NewService wires a Service.
func NewService(ledger Ledger, merchant solana.PublicKey, options ...ServiceOption) (*Service, error) {
	if ledger == nil {
		return nil, fmt.Errorf("%w: ledger dependency is nil", ErrInvalidServiceConfig)
	}
	if merchant.IsZero() {
		return nil, fmt.Errorf("%w: merchant account is zero", ErrInvalidServiceConfig)
	}
	service := &Service{
		ledger:        ledger,
		merchant:      merchant,
		ledgerTimeout: defaultLedgerTimeout,
		labelPrefix:   defaultLabelPrefix,
		iconURL:       defaultIconURL,
		nowFn:         func() int64 { return time.Now().UTC().Unix() },
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Merchant returns the account receiving payments.
func (service *Service) Merchant() solana.PublicKey {
	return service.merchant
}

// DescribeItem returns the label and icon a wallet shows before the purchase.
func (service *Service) DescribeItem(ctx context.Context, itemPayload string) (ItemDescription, error) {
	item, err := ParseItemPayload(itemPayload)
	service.logOperation(ctx, OperationLog{
		Operation: operationDescribe,
		OrderID:   item.ID,
		Error:     err,
	})
	if err != nil {
		return ItemDescription{}, err
	}
	return ItemDescription{
		Label: fmt.Sprintf("%s - %s", service.labelPrefix, item.Title),
		Icon:  service.iconURL,
	}, nil
}

// BuildPaymentTransaction builds an unsigned SOL transfer from the payer to the
// merchant, tagged with the order's reference key, and returns it base64-encoded.
func (service *Service) BuildPaymentTransaction(ctx context.Context, itemPayload string, account string) (TransactionRequest, error) {
	entry := OperationLog{Operation: operationBuild}
	request, operationError := service.buildPaymentTransaction(ctx, itemPayload, account, &entry)
	entry.Error = operationError
	service.logOperation(ctx, entry)
	if operationError != nil {
		return TransactionRequest{}, operationError
	}
	return request, nil
}

func (service *Service) buildPaymentTransaction(ctx context.Context, itemPayload string, account string, entry *OperationLog) (TransactionRequest, error) {
	item, err := ParseItemPayload(itemPayload)
	if err != nil {
		return TransactionRequest{}, err
	}
	entry.OrderID = item.ID

	payer, err := ParsePayerKey(account)
	if err != nil {
		return TransactionRequest{}, err
	}
	entry.Payer = payer.String()

	reference, err := DeriveReference(service.merchant, item.ID)
	if err != nil {
		return TransactionRequest{}, err
	}
	entry.Reference = reference.String()

	lamports, err := LamportsFromSOL(item.PriceSOL)
	if err != nil {
		return TransactionRequest{}, err
	}
	entry.Lamports = lamports

	blockhash, err := service.latestBlockhash(ctx)
	if err != nil {
		return TransactionRequest{}, err
	}

	encoded, err := service.encodeTransfer(payer, reference, lamports, blockhash.Hash)
	if err != nil {
		return TransactionRequest{}, err
	}

	itemJSON, err := item.MarshalJSON()
	if err != nil {
		return TransactionRequest{}, WrapError("service", "item", "encode", err)
	}
	if err := service.registerReference(ctx, ReferenceRecord{
		Reference:      reference,
		OrderID:        item.ID,
		Title:          item.Title,
		Lamports:       lamports,
		Merchant:       service.merchant,
		ItemJSON:       string(itemJSON),
		CreatedUnixUTC: service.nowFn(),
	}); err != nil {
		return TransactionRequest{}, err
	}

	return TransactionRequest{
		Transaction:          encoded,
		Message:              fmt.Sprintf("Purchase of %s for %s SOL", item.Title, item.PriceSOL.String()),
		Reference:            reference,
		Lamports:             lamports,
		Blockhash:            blockhash.Hash,
		LastValidBlockHeight: blockhash.LastValidBlockHeight,
	}, nil
}

func (service *Service) latestBlockhash(ctx context.Context) (Blockhash, error) {
	requestCtx, cancel := context.WithTimeout(ctx, service.ledgerTimeout)
	defer cancel()
	blockhash, err := service.ledger.LatestBlockhash(requestCtx)
	if err != nil {
		return Blockhash{}, WrapError("service", "blockhash", "fetch", fmt.Errorf("%w: %w", ErrLedgerUnavailable, err))
	}
	if blockhash.Hash == (solana.Hash{}) {
		return Blockhash{}, WrapError("service", "blockhash", "empty", ErrLedgerUnavailable)
	}
	return blockhash, nil
}

// encodeTransfer assembles the single transfer instruction with the reference
// appended as a read-only, non-signing account and serializes it with empty
// signature slots for the payer to fill in.
func (service *Service) encodeTransfer(payer solana.PublicKey, reference Reference, lamports Lamports, blockhash solana.Hash) (string, error) {
	transfer := system.NewTransferInstruction(lamports.Uint64(), payer, service.merchant).Build()
	data, err := transfer.Data()
	if err != nil {
		return "", WrapError("service", "transaction", "instruction", err)
	}
	accounts := append(solana.AccountMetaSlice{}, transfer.Accounts()...)
	accounts = append(accounts, &solana.AccountMeta{
		PublicKey:  reference.PublicKey(),
		IsSigner:   false,
		IsWritable: false,
	})
	instruction := solana.NewInstruction(solana.SystemProgramID, accounts, data)

	transaction, err := solana.NewTransaction(
		[]solana.Instruction{instruction},
		blockhash,
		solana.TransactionPayer(payer),
	)
	if err != nil {
		return "", WrapError("service", "transaction", "assemble", err)
	}
	transaction.Signatures = make([]solana.Signature, transaction.Message.Header.NumRequiredSignatures)
	raw, err := transaction.MarshalBinary()
	if err != nil {
		return "", WrapError("service", "transaction", "serialize", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
