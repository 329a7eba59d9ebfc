package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/journal-classifier/internal/domain"
	"github.com/dvloznov/journal-classifier/internal/journal"
	"github.com/dvloznov/journal-classifier/internal/logger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

var (
	// ErrNoPool is returned when the store has no database handle.
	ErrNoPool = errors.New("postgres: database pool is not configured")
	// ErrMissingTenant is returned when a write has no tenant id.
	ErrMissingTenant = errors.New("postgres: tenant id is required")
)

// DefaultListLimit bounds ListEntries when no limit is given.
const DefaultListLimit = 100

const setTenantSQL = `SELECT set_config('app.current_tenant_id', $1, true)`

const insertPredictionSQL = `
INSERT INTO classification_predictions (
	id, tenant_id,
	input_vendor, input_description, input_amount, input_direction,
	predicted_account, account_confidence, reasoning,
	matched_vendor_id, matched_vendor_code, matched_vendor_name, vendor_confidence,
	matched_account_code, matched_account_name,
	model, tokens_used, raw_response,
	status, created_at, updated_at
)
VALUES (
	$1, $2,
	$3, $4, $5, $6,
	$7, $8, $9,
	$10, $11, $12, $13,
	$14, $15,
	$16, $17, $18,
	$19, $20, $20
)
RETURNING id::text`

const insertEntrySQL = `
INSERT INTO mf_journal_entries (
	id, tenant_id, prediction_id,
	transaction_date, transaction_type, income_amount, expense_amount,
	account_subject, matched_account_code,
	vendor, matched_vendor_id, matched_vendor_code,
	description, account_book, tax_category, memo, tag_names,
	csv_exported, mf_imported, status, created_at, updated_at
)
VALUES (
	$1, $2, $3,
	$4, $5, $6, $7,
	$8, $9,
	$10, $11, $12,
	$13, $14, $15, $16, $17,
	FALSE, FALSE, $18, $19, $19
)
RETURNING id::text`

const markExportedSQL = `
UPDATE mf_journal_entries
SET
	csv_exported = TRUE,
	csv_exported_at = COALESCE(csv_exported_at, NOW()),
	status = CASE WHEN status IN ('draft', 'ready') THEN 'exported' ELSE status END,
	updated_at = NOW()
WHERE tenant_id = $1 AND id::text = ANY($2)`

const listEntriesSQL = `
SELECT
	id::text, COALESCE(prediction_id::text, ''),
	transaction_date, transaction_type,
	income_amount::text, expense_amount::text,
	account_subject, COALESCE(matched_account_code, ''),
	COALESCE(vendor, ''), COALESCE(matched_vendor_id, ''), COALESCE(matched_vendor_code, ''),
	COALESCE(description, ''), account_book, tax_category,
	COALESCE(memo, ''), tag_names, csv_exported, status, created_at
FROM mf_journal_entries
WHERE tenant_id = $1
ORDER BY created_at DESC
LIMIT $2`

// Beginner starts a database transaction. *pgxpool.Pool satisfies it.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store writes classification results for one tenant at a time. Every call
// runs in its own transaction on one pooled connection.
type Store struct {
	db    Beginner
	newID func() string
	now   func() time.Time
}

// New returns a Store over db.
func New(db Beginner) *Store {
	return &Store{db: db, newID: uuid.NewString, now: time.Now}
}

// withTenant runs fn in a transaction scoped to tenantID. Failing to set
// the tenant is logged and the unit of work still runs.
func (s *Store) withTenant(ctx context.Context, tenantID string, fn func(tx pgx.Tx) error) error {
	if s == nil || s.db == nil {
		return ErrNoPool
	}
	if tenantID == "" {
		return ErrMissingTenant
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	setTenant(ctx, tx, tenantID)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// setTenant scopes the transaction to tenantID inside a savepoint so a
// failure leaves the outer transaction usable.
func setTenant(ctx context.Context, tx pgx.Tx, tenantID string) {
	sp, err := tx.Begin(ctx)
	if err == nil {
		if _, err = sp.Exec(ctx, setTenantSQL, tenantID); err == nil {
			err = sp.Commit(ctx)
		} else {
			_ = sp.Rollback(ctx)
		}
	}
	if err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("tenant_id", tenantID).Msg("store.postgres.set_tenant.failed")
	}
}

// SavePrediction inserts p and returns its id.
func (s *Store) SavePrediction(ctx context.Context, tenantID string, p journal.Prediction) (string, error) {
	var id string
	err := s.withTenant(ctx, tenantID, func(tx pgx.Tx) error {
		if p.ID == "" {
			p.ID = s.newID()
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = s.now().UTC()
		}
		return tx.QueryRow(ctx, insertPredictionSQL,
			p.ID, tenantID,
			p.InputVendor, p.InputDescription, p.InputAmount.String(), p.InputDirection,
			p.PredictedAccount, p.AccountConfidence, nullString(p.Reasoning),
			nullString(p.MatchedVendorID), nullString(p.MatchedVendorCode), nullString(p.MatchedVendorName), p.VendorConfidence,
			nullString(p.MatchedAccountCode), nullString(p.MatchedAccountName),
			p.Model, p.TokensUsed, nullString(p.RawResponse),
			p.Status, p.CreatedAt,
		).Scan(&id)
	})
	if err != nil {
		return "", fmt.Errorf("SavePrediction: %w", err)
	}
	return id, nil
}

// SaveJournalEntry inserts e and returns its id.
func (s *Store) SaveJournalEntry(ctx context.Context, tenantID string, e journal.Entry) (string, error) {
	var id string
	err := s.withTenant(ctx, tenantID, func(tx pgx.Tx) error {
		if e.ID == "" {
			e.ID = s.newID()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = s.now().UTC()
		}
		if e.Status == "" {
			e.Status = journal.StatusDraft
		}
		return tx.QueryRow(ctx, insertEntrySQL,
			e.ID, tenantID, nullString(e.PredictionID),
			e.TransactionDate, string(e.TransactionType), decimalText(e.IncomeAmount), decimalText(e.ExpenseAmount),
			e.AccountSubject, nullString(e.MatchedAccountCode),
			nullString(e.Vendor), nullString(e.MatchedVendorID), nullString(e.MatchedVendorCode),
			nullString(e.Description), e.AccountBook, e.TaxCategory, nullString(e.Memo), e.TagNames,
			e.Status, e.CreatedAt,
		).Scan(&id)
	})
	if err != nil {
		return "", fmt.Errorf("SaveJournalEntry: %w", err)
	}
	return id, nil
}

// MarkExported flags entries as exported and returns how many rows changed.
func (s *Store) MarkExported(ctx context.Context, tenantID string, entryIDs []string) (int64, error) {
	if len(entryIDs) == 0 {
		return 0, nil
	}
	var n int64
	err := s.withTenant(ctx, tenantID, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, markExportedSQL, tenantID, entryIDs)
		if err != nil {
			return err
		}
		n = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("MarkExported: %w", err)
	}
	return n, nil
}

// ListEntries returns the tenant's most recent journal entries.
func (s *Store) ListEntries(ctx context.Context, tenantID string, limit int) ([]journal.Entry, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	var out []journal.Entry
	err := s.withTenant(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, listEntriesSQL, tenantID, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				e               journal.Entry
				kind            string
				income, expense *string
			)
			if err := rows.Scan(
				&e.ID, &e.PredictionID,
				&e.TransactionDate, &kind,
				&income, &expense,
				&e.AccountSubject, &e.MatchedAccountCode,
				&e.Vendor, &e.MatchedVendorID, &e.MatchedVendorCode,
				&e.Description, &e.AccountBook, &e.TaxCategory,
				&e.Memo, &e.TagNames, &e.CSVExported, &e.Status, &e.CreatedAt,
			); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			e.TenantID = tenantID
			e.TransactionType = domain.NormalizeDirection(kind)
			e.IncomeAmount = parseDecimal(income)
			e.ExpenseAmount = parseDecimal(expense)
			out = append(out, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("ListEntries: %w", err)
	}
	return out, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func decimalText(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func parseDecimal(s *string) *decimal.Decimal {
	if s == nil {
		return nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil
	}
	return &d
}
