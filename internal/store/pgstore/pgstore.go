package pgstore

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/MarkoPoloResearchLab/campuspay/pkg/payment"
	"github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	constraintPaymentReference = "uniq_payment_reference"
	pgUniqueViolationCode      = "23505"
	errorOperationStore        = "store"
	errorSubjectReference      = "reference"
	errorSubjectSchema         = "schema"
	errorCodeCreate            = "create"
	errorCodeDuplicate         = "duplicate"
	errorCodeGet               = "get"
	errorCodeInsert            = "insert"
	errorCodeInvalid           = "invalid"
	errorCodeList              = "list"

	sqlCreateSchema = `
		create table if not exists payment_references (
			record_id uuid primary key default gen_random_uuid(),
			reference text not null,
			order_id text not null,
			title text not null,
			lamports bigint not null check (lamports > 0),
			merchant text not null,
			item jsonb not null default '{}'::jsonb,
			created_at timestamptz not null default now(),
			constraint uniq_payment_reference unique (reference)
		);
		create index if not exists idx_payment_reference_order on payment_references(order_id);
	`

	sqlInsertReference = `
		insert into payment_references(reference, order_id, title, lamports, merchant, item, created_at)
		values($1, $2, $3, $4, $5, coalesce(nullif($6,''),'{}')::jsonb, to_timestamp($7))
	`

	sqlSelectReference = `
		select reference, order_id, title, lamports, merchant, item::text, extract(epoch from created_at)::bigint
		from payment_references
		where reference = $1
	`

	sqlSelectByOrder = `
		select reference, order_id, title, lamports, merchant, item::text, extract(epoch from created_at)::bigint
		from payment_references
		where order_id = $1
		order by created_at desc
		limit $2
	`
)

// Store implements payment.ReferenceStore using a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ payment.ReferenceStore = (*Store)(nil)

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema creates the payment_references table when it is missing.
func (store *Store) EnsureSchema(ctx context.Context) error {
	if _, err := store.pool.Exec(ctx, sqlCreateSchema); err != nil {
		return wrapStoreError(errorSubjectSchema, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) InsertReference(ctx context.Context, record payment.ReferenceRecord) error {
	if record.Lamports.Uint64() > math.MaxInt64 {
		return wrapStoreError(errorSubjectReference, errorCodeInvalid, fmt.Errorf("%w: lamports exceed column range", payment.ErrInvalidAmount))
	}
	_, err := store.pool.Exec(ctx, sqlInsertReference,
		record.Reference.String(),
		record.OrderID,
		record.Title,
		int64(record.Lamports.Uint64()),
		record.Merchant.String(),
		record.ItemJSON,
		record.CreatedUnixUTC,
	)
	if isReferenceConflict(err) {
		return wrapStoreError(errorSubjectReference, errorCodeDuplicate, payment.ErrDuplicateReference)
	}
	if err != nil {
		return wrapStoreError(errorSubjectReference, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) GetReference(ctx context.Context, reference payment.Reference) (payment.ReferenceRecord, error) {
	var row referenceRow
	err := store.pool.QueryRow(ctx, sqlSelectReference, reference.String()).Scan(
		&row.reference,
		&row.orderID,
		&row.title,
		&row.lamports,
		&row.merchant,
		&row.item,
		&row.createdUnixUTC,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return payment.ReferenceRecord{}, wrapStoreError(errorSubjectReference, errorCodeGet, payment.ErrUnknownReference)
		}
		return payment.ReferenceRecord{}, wrapStoreError(errorSubjectReference, errorCodeGet, err)
	}
	record, err := row.toRecord()
	if err != nil {
		return payment.ReferenceRecord{}, wrapStoreError(errorSubjectReference, errorCodeInvalid, err)
	}
	return record, nil
}

// ListByOrder returns up to limit references issued for orderID, newest first.
func (store *Store) ListByOrder(ctx context.Context, orderID string, limit int) ([]payment.ReferenceRecord, error) {
	rows, err := store.pool.Query(ctx, sqlSelectByOrder, orderID, limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectReference, errorCodeList, err)
	}
	defer rows.Close()

	records := make([]payment.ReferenceRecord, 0)
	for rows.Next() {
		var row referenceRow
		if err := rows.Scan(&row.reference, &row.orderID, &row.title, &row.lamports, &row.merchant, &row.item, &row.createdUnixUTC); err != nil {
			return nil, wrapStoreError(errorSubjectReference, errorCodeList, err)
		}
		record, err := row.toRecord()
		if err != nil {
			return nil, wrapStoreError(errorSubjectReference, errorCodeInvalid, err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectReference, errorCodeList, err)
	}
	return records, nil
}

type referenceRow struct {
	reference      string
	orderID        string
	title          string
	lamports       int64
	merchant       string
	item           string
	createdUnixUTC int64
}

func (row referenceRow) toRecord() (payment.ReferenceRecord, error) {
	reference, err := payment.ParseReference(row.reference)
	if err != nil {
		return payment.ReferenceRecord{}, err
	}
	merchant, err := solana.PublicKeyFromBase58(row.merchant)
	if err != nil {
		return payment.ReferenceRecord{}, err
	}
	if row.lamports <= 0 {
		return payment.ReferenceRecord{}, fmt.Errorf("%w: stored lamports %d", payment.ErrInvalidAmount, row.lamports)
	}
	return payment.ReferenceRecord{
		Reference:      reference,
		OrderID:        row.orderID,
		Title:          row.title,
		Lamports:       payment.Lamports(row.lamports),
		Merchant:       merchant,
		ItemJSON:       row.item,
		CreatedUnixUTC: row.createdUnixUTC,
	}, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return payment.WrapError(errorOperationStore, subject, code, err)
}

func isReferenceConflict(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintPaymentReference
	}
	return false
}
