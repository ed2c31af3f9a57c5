package model

import "github.com/shopspring/decimal"

// StatementType identifies which financial statement a line item came from.
type StatementType string

// Statement type constants.
const (
	StatementIncome   StatementType = "income_statement"
	StatementBalance  StatementType = "balance_sheet"
	StatementCashFlow StatementType = "cash_flow"
)

// SourceLineItem is a single extracted financial figure awaiting mapping.
// It is produced by the document extraction pipeline and read-only here.
type SourceLineItem struct {
	ID            string
	RawLabel      string
	RawValue      decimal.Decimal
	StatementType StatementType
}
