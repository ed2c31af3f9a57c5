// Package model defines the core domain models used throughout the application.
package model

// AccountCategory indicates where a canonical account sits in the statement taxonomy.
type AccountCategory string

// Account category constants.
const (
	CategoryRevenue   AccountCategory = "revenue"
	CategoryCOGS      AccountCategory = "cogs"
	CategoryOpEx      AccountCategory = "opex"
	CategoryAsset     AccountCategory = "asset"
	CategoryLiability AccountCategory = "liability"
	CategoryEquity    AccountCategory = "equity"
	CategoryOther     AccountCategory = "other"
)

// CanonicalAccount is one entry in the canonical chart of accounts.
// Accounts are immutable once loaded into an index.
type CanonicalAccount struct {
	ID       string
	Name     string
	Category AccountCategory
	Synonyms []string
}
