package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// WithReferenceStore records every issued reference and rejects conflicting reuse of an order id.
func WithReferenceStore(store ReferenceStore) ServiceOption {
	return func(service *Service) {
		service.store = store
	}
}

// WithLedgerTimeout bounds each blockhash lookup.
func WithLedgerTimeout(timeout time.Duration) ServiceOption {
	return func(service *Service) {
		if timeout > 0 {
			service.ledgerTimeout = timeout
		}
	}
}

// WithIcon overrides the icon returned by DescribeItem.
func WithIcon(iconURL string) ServiceOption {
	return func(service *Service) {
		if trimmed := strings.TrimSpace(iconURL); trimmed != "" {
			service.iconURL = trimmed
		}
	}
}

// WithLabelPrefix overrides the store name shown in wallet labels.
func WithLabelPrefix(prefix string) ServiceOption {
	return func(service *Service) {
		if trimmed := strings.TrimSpace(prefix); trimmed != "" {
			service.labelPrefix = trimmed
		}
	}
}

// WithClock replaces the clock used for registry timestamps.
func WithClock(now func() int64) ServiceOption {
	return func(service *Service) {
		if now != nil {
			service.nowFn = now
		}
	}
}

// LookupReference returns the registry row for a previously issued reference.
func (service *Service) LookupReference(ctx context.Context, rawReference string) (ReferenceRecord, error) {
	reference, err := ParseReference(rawReference)
	if err != nil {
		return ReferenceRecord{}, err
	}
	var record ReferenceRecord
	operationError := func() error {
		if service.store == nil {
			return WrapError("service", "reference", "lookup", ErrUnknownReference)
		}
		found, err := service.store.GetReference(ctx, reference)
		if err != nil {
			return err
		}
		record = found
		return nil
	}()
	service.logOperation(ctx, OperationLog{
		Operation: operationLookup,
		OrderID:   record.OrderID,
		Reference: reference.String(),
		Lamports:  record.Lamports,
		Error:     operationError,
	})
	return record, operationError
}

// ListOrderReferences returns the references issued for orderID, newest first.
// An order with no registered references reports ErrUnknownReference.
func (service *Service) ListOrderReferences(ctx context.Context, orderID string) ([]ReferenceRecord, error) {
	trimmed := strings.TrimSpace(orderID)
	var records []ReferenceRecord
	operationError := func() error {
		if trimmed == "" {
			return WrapError("service", "order", "list", fmt.Errorf("%w: empty order id", ErrInvalidPaymentReference))
		}
		if service.store == nil {
			return WrapError("service", "order", "list", ErrUnknownReference)
		}
		found, err := service.store.ListByOrder(ctx, trimmed, MaxOrderReferences)
		if err != nil {
			return err
		}
		if len(found) == 0 {
			return WrapError("service", "order", "list", ErrUnknownReference)
		}
		records = found
		return nil
	}()
	service.logOperation(ctx, OperationLog{
		Operation: operationList,
		OrderID:   trimmed,
		Error:     operationError,
	})
	if operationError != nil {
		return nil, operationError
	}
	return records, nil
}

func (service *Service) registerReference(ctx context.Context, record ReferenceRecord) error {
	if service.store == nil {
		return nil
	}
	existing, err := service.store.GetReference(ctx, record.Reference)
	if err == nil {
		return matchReferenceRecord(existing, record)
	}
	if !errors.Is(err, ErrUnknownReference) {
		return err
	}
	err = service.store.InsertReference(ctx, record)
	if errors.Is(err, ErrDuplicateReference) {
		existing, getErr := service.store.GetReference(ctx, record.Reference)
		if getErr != nil {
			return getErr
		}
		return matchReferenceRecord(existing, record)
	}
	return err
}

// matchReferenceRecord allows re-issuing the same order (for a fresh blockhash)
// but not a different order under the same id.
func matchReferenceRecord(existing ReferenceRecord, candidate ReferenceRecord) error {
	if existing.OrderID != candidate.OrderID ||
		existing.Title != candidate.Title ||
		existing.Lamports != candidate.Lamports ||
		!existing.Merchant.Equals(candidate.Merchant) {
		return WrapError("service", "reference", "conflict", ErrReferenceConflict)
	}
	return nil
}
