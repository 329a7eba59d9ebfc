// Package export encodes classified transactions into the MoneyForward
// journal import format.
package export

import (
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"github.com/dvloznov/journal-classifier/internal/confidence"
	"github.com/dvloznov/journal-classifier/internal/domain"
)

// Headers is the fixed journal import header, in column order.
var Headers = []string{
	"取引No",
	"取引日",
	"借方勘定科目",
	"借方補助科目",
	"借方部門",
	"借方取引先",
	"借方税区分",
	"借方インボイス",
	"借方金額(円)",
	"借方税額",
	"貸方勘定科目",
	"貸方補助科目",
	"貸方部門",
	"貸方取引先",
	"貸方税区分",
	"貸方インボイス",
	"貸方金額(円)",
	"貸方税額",
	"摘要",
	"仕訳メモ",
	"タグ",
	"MF仕訳タイプ",
	"決算整理仕訳",
}

// Fixed values of the double-entry rule.
const (
	CashAccount      = "普通預金"
	TaxPurchase      = "課税仕入10%"
	TaxSale          = "課税売上10%"
	TaxNotApplicable = "対象外"
	InvoiceQualified = "適格"
	AutoJournalTag   = "AI自動仕訳"
	JournalTypeValue = "インポート"
	zeroTax          = "0"
)

// Column indexes into a row.
const (
	colNo = iota
	colDate
	colDebitAccount
	colDebitSubAccount
	colDebitDepartment
	colDebitPartner
	colDebitTax
	colDebitInvoice
	colDebitAmount
	colDebitTaxAmount
	colCreditAccount
	colCreditSubAccount
	colCreditDepartment
	colCreditPartner
	colCreditTax
	colCreditInvoice
	colCreditAmount
	colCreditTaxAmount
	colDescription
	colMemo
	colTags
	colJournalType
	colClosing
	columnCount
)

// FormatDate converts YYYY-MM-DD to YYYY/MM/DD.
func FormatDate(date string) string {
	return strings.ReplaceAll(strings.TrimSpace(date), "-", "/")
}

// Amount is the absolute amount truncated to an integer.
func Amount(tx *domain.Transaction) string {
	return strconv.FormatInt(tx.Amount.Abs().IntPart(), 10)
}

// Memo renders the journal memo from the explanation and confidences.
func Memo(tx *domain.Transaction) string {
	acc := tx.AccountConfidence
	if acc == nil {
		acc = tx.Confidence
	}
	memo, _ := confidence.BuildJournalMemo(tx.ReasonText(), acc, tx.VendorConfidence)
	return memo
}

// Description joins the description and source file name.
func Description(tx *domain.Transaction) string {
	switch {
	case tx.FileName != "" && tx.Description != "":
		return fmt.Sprintf("%s (%s)", tx.Description, tx.FileName)
	case tx.FileName != "":
		return tx.FileName
	default:
		return tx.Description
	}
}

// Row encodes one transaction as a double-entry row. no is the 1-based
// transaction number.
func Row(tx *domain.Transaction, no int) []string {
	row := make([]string, columnCount)
	amount := Amount(tx)
	account := tx.ResolvedAccount()

	row[colNo] = strconv.Itoa(no)
	row[colDate] = FormatDate(tx.Date)
	row[colDebitAmount] = amount
	row[colDebitTaxAmount] = zeroTax
	row[colCreditAmount] = amount
	row[colCreditTaxAmount] = zeroTax
	row[colDescription] = Description(tx)
	row[colMemo] = Memo(tx)
	row[colTags] = AutoJournalTag
	row[colJournalType] = JournalTypeValue

	if tx.Direction == domain.DirectionIncome {
		row[colDebitAccount] = CashAccount
		row[colDebitTax] = TaxNotApplicable
		row[colCreditAccount] = account
		row[colCreditSubAccount] = tx.SubAccountItem
		row[colCreditPartner] = tx.Vendor
		row[colCreditTax] = TaxSale
		row[colCreditInvoice] = InvoiceQualified
		return row
	}

	row[colDebitAccount] = account
	row[colDebitSubAccount] = tx.SubAccountItem
	row[colDebitPartner] = tx.Vendor
	row[colDebitTax] = TaxPurchase
	row[colDebitInvoice] = InvoiceQualified
	row[colCreditAccount] = CashAccount
	row[colCreditTax] = TaxNotApplicable
	return row
}

// Rows returns the header followed by one row per transaction.
func Rows(txs []*domain.Transaction) [][]string {
	rows := make([][]string, 0, len(txs)+1)
	rows = append(rows, append([]string(nil), Headers...))
	no := 0
	for _, tx := range txs {
		if tx == nil {
			continue
		}
		no++
		rows = append(rows, Row(tx, no))
	}
	return rows
}

// CSV renders the journal as CRLF-terminated CSV text.
func CSV(txs []*domain.Transaction) (string, error) {
	var sb strings.Builder
	w := csv.NewWriter(&sb)
	w.UseCRLF = true
	if err := w.WriteAll(Rows(txs)); err != nil {
		return "", fmt.Errorf("CSV: write rows: %w", err)
	}
	return sb.String(), nil
}

// ParseCSV reads journal CSV text back into rows.
func ParseCSV(text string) ([][]string, error) {
	r := csv.NewReader(strings.NewReader(strings.TrimPrefix(text, bom)))
	r.FieldsPerRecord = len(Headers)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("ParseCSV: %w", err)
	}
	return rows, nil
}

// Validate reports, per transaction, a missing date, a missing account or a
// missing amount. Transactions are not modified.
func Validate(txs []*domain.Transaction) []string {
	var msgs []string
	for i, tx := range txs {
		n := i + 1
		if tx == nil {
			continue
		}
		if strings.TrimSpace(tx.Date) == "" {
			msgs = append(msgs, fmt.Sprintf("取引%d: 日付が必要です", n))
		}
		if strings.TrimSpace(tx.AccountName) == "" {
			msgs = append(msgs, fmt.Sprintf("取引%d: 勘定科目が識別されていません", n))
		}
		if tx.Amount.IsZero() {
			msgs = append(msgs, fmt.Sprintf("取引%d: 金額が無効です", n))
		}
	}
	return msgs
}
