// Package mfapi posts classified transactions to the MoneyForward journal
// API.
package mfapi

import (
	"errors"
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/journal-classifier/internal/domain"
	"github.com/dvloznov/journal-classifier/internal/export"
	"github.com/dvloznov/journal-classifier/internal/journal"
)

// JournalTypeNormal is the only journal type the classifier produces.
const JournalTypeNormal = "normal"

const (
	SideDebit  = "debit"
	SideCredit = "credit"
)

// ErrInvalidTransaction is returned for transactions that cannot be posted.
var ErrInvalidTransaction = errors.New("mfapi: transaction cannot be posted")

// JournalPayload is the request body of POST /api/v1/journals.
type JournalPayload struct {
	TransactionDate civil.Date      `json:"transaction_date"`
	JournalType     string          `json:"journal_type"`
	Memo            string          `json:"memo,omitempty"`
	Tags            []string        `json:"tags,omitempty"`
	Details         []JournalDetail `json:"details"`
}

// JournalDetail is one side of the entry.
type JournalDetail struct {
	Side        string `json:"side"`
	AccountName string `json:"account_name"`
	TaxName     string `json:"tax_name"`
	Value       int64  `json:"value"`
	PartnerName string `json:"partner_name,omitempty"`
	Description string `json:"description,omitempty"`
}

// BuildJournalPayload mirrors the ledger export rule: expenses debit the
// resolved account and credit cash, income does the reverse. Both sides
// carry the same absolute integer amount.
func BuildJournalPayload(tx *domain.Transaction) (JournalPayload, error) {
	date, ok := journal.ParseDate(tx.Date)
	if !ok {
		return JournalPayload{}, fmt.Errorf("%w: invalid date %q", ErrInvalidTransaction, tx.Date)
	}
	value := tx.Amount.Abs().IntPart()
	if value == 0 {
		return JournalPayload{}, fmt.Errorf("%w: zero amount", ErrInvalidTransaction)
	}

	account := tx.ResolvedAccount()
	description := export.Description(tx)
	cash := JournalDetail{AccountName: export.CashAccount, TaxName: export.TaxNotApplicable, Value: value}
	posted := JournalDetail{AccountName: account, Value: value, PartnerName: tx.Vendor, Description: description}

	var debit, credit JournalDetail
	if tx.Direction == domain.DirectionIncome {
		posted.TaxName = export.TaxSale
		debit, credit = cash, posted
	} else {
		posted.TaxName = export.TaxPurchase
		debit, credit = posted, cash
	}
	debit.Side = SideDebit
	credit.Side = SideCredit

	return JournalPayload{
		TransactionDate: civil.DateOf(date),
		JournalType:     JournalTypeNormal,
		Memo:            export.Memo(tx),
		Tags:            []string{export.AutoJournalTag},
		Details:         []JournalDetail{debit, credit},
	}, nil
}
