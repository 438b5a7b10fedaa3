package gormstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/MarkoPoloResearchLab/campuspay/pkg/payment"
	"github.com/gagliardetto/solana-go"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	constraintPaymentReference = "uniq_payment_reference"
	defaultItemJSON            = "{}"
	pgUniqueViolationCode      = "23505"
	sqliteConstraintCode       = 19
	errorOperationStore        = "store"
	errorSubjectReference      = "reference"
	errorCodeDuplicate         = "duplicate"
	errorCodeGet               = "get"
	errorCodeInsert            = "insert"
	errorCodeInvalid           = "invalid"
	errorCodeList              = "list"
)

// Store implements payment.ReferenceStore using GORM.
type Store struct {
	db *gorm.DB
}

var _ payment.ReferenceStore = (*Store)(nil)

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (store *Store) InsertReference(ctx context.Context, record payment.ReferenceRecord) error {
	if record.Lamports.Uint64() > math.MaxInt64 {
		return wrapStoreError(errorSubjectReference, errorCodeInvalid, fmt.Errorf("%w: lamports exceed column range", payment.ErrInvalidAmount))
	}
	model := PaymentReference{
		Reference: record.Reference.String(),
		OrderID:   record.OrderID,
		Title:     record.Title,
		Lamports:  int64(record.Lamports.Uint64()),
		Merchant:  record.Merchant.String(),
		Item:      datatypesJSON(record.ItemJSON),
		CreatedAt: time.Unix(record.CreatedUnixUTC, 0).UTC(),
	}
	if record.CreatedUnixUTC == 0 {
		model.CreatedAt = time.Now().UTC()
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isReferenceConflict(err) {
		return wrapStoreError(errorSubjectReference, errorCodeDuplicate, payment.ErrDuplicateReference)
	}
	if err != nil {
		return wrapStoreError(errorSubjectReference, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) GetReference(ctx context.Context, reference payment.Reference) (payment.ReferenceRecord, error) {
	var model PaymentReference
	err := store.db.WithContext(ctx).
		Where("reference = ?", reference.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return payment.ReferenceRecord{}, wrapStoreError(errorSubjectReference, errorCodeGet, payment.ErrUnknownReference)
		}
		return payment.ReferenceRecord{}, wrapStoreError(errorSubjectReference, errorCodeGet, err)
	}
	record, err := mapPaymentReference(model)
	if err != nil {
		return payment.ReferenceRecord{}, wrapStoreError(errorSubjectReference, errorCodeInvalid, err)
	}
	return record, nil
}

// ListByOrder returns every reference issued for orderID, newest first.
func (store *Store) ListByOrder(ctx context.Context, orderID string, limit int) ([]payment.ReferenceRecord, error) {
	var rows []PaymentReference
	err := store.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectReference, errorCodeList, err)
	}
	records := make([]payment.ReferenceRecord, 0, len(rows))
	for _, row := range rows {
		record, err := mapPaymentReference(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectReference, errorCodeInvalid, err)
		}
		records = append(records, record)
	}
	return records, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return payment.WrapError(errorOperationStore, subject, code, err)
}

func mapPaymentReference(row PaymentReference) (payment.ReferenceRecord, error) {
	reference, err := payment.ParseReference(row.Reference)
	if err != nil {
		return payment.ReferenceRecord{}, err
	}
	merchant, err := solana.PublicKeyFromBase58(row.Merchant)
	if err != nil {
		return payment.ReferenceRecord{}, err
	}
	if row.Lamports <= 0 {
		return payment.ReferenceRecord{}, fmt.Errorf("%w: stored lamports %d", payment.ErrInvalidAmount, row.Lamports)
	}
	return payment.ReferenceRecord{
		Reference:      reference,
		OrderID:        row.OrderID,
		Title:          row.Title,
		Lamports:       payment.Lamports(row.Lamports),
		Merchant:       merchant,
		ItemJSON:       string(row.Item),
		CreatedUnixUTC: row.CreatedAt.Unix(),
	}, nil
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultItemJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isReferenceConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintPaymentReference
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
