package domain

import (
	"time"

	"github.com/google/uuid"
)

// BankAccount is an external account that withdrawals and settlements pay into.
type BankAccount struct {
	ID            uuid.UUID `json:"id"`
	WalletID      uuid.UUID `json:"wallet_id"`
	BankCode      string    `json:"bank_code"`
	BankName      string    `json:"bank_name"`
	AccountNumber string    `json:"account_number"`
	AccountName   string    `json:"account_name"`
	RecipientCode string    `json:"recipient_code,omitempty"`
	IsVerified    bool      `json:"is_verified"`
	IsDefault     bool      `json:"is_default"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Usable reports whether money may be sent to the account.
func (b *BankAccount) Usable() bool {
	return b.IsActive && b.IsVerified && b.RecipientCode != ""
}

// Card is a saved gateway authorization that can be charged again.
type Card struct {
	ID                uuid.UUID `json:"id"`
	WalletID          uuid.UUID `json:"wallet_id"`
	Last4             string    `json:"last4"`
	Bin               string    `json:"bin"`
	Brand             string    `json:"brand"`
	ExpMonth          int       `json:"exp_month"`
	ExpYear           int       `json:"exp_year"`
	Bank              string    `json:"bank,omitempty"`
	AuthorizationCode string    `json:"-"`
	Signature         string    `json:"-"`
	Reusable          bool      `json:"reusable"`
	IsDefault         bool      `json:"is_default"`
	IsActive          bool      `json:"is_active"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// MaskedPAN renders the card number with only the bin and last four digits visible.
func (c *Card) MaskedPAN() string {
	return c.Bin + "******" + c.Last4
}

// IsExpired reports whether now is past the last instant of the card's expiry month.
func (c *Card) IsExpired(now time.Time) bool {
	if c.ExpMonth < 1 || c.ExpMonth > 12 || c.ExpYear == 0 {
		return true
	}
	// First instant of the month after expiry.
	cutoff := time.Date(c.ExpYear, time.Month(c.ExpMonth)+1, 1, 0, 0, 0, 0, now.Location())
	return !now.Before(cutoff)
}

// Chargeable reports whether the card can be used for a new authorization charge.
func (c *Card) Chargeable(now time.Time) bool {
	return c.IsActive && c.Reusable && c.AuthorizationCode != "" && !c.IsExpired(now)
}

// Bank is an entry from the gateway's bank list.
type Bank struct {
	Name     string `json:"name"`
	Code     string `json:"code"`
	Slug     string `json:"slug,omitempty"`
	Country  string `json:"country,omitempty"`
	Currency string `json:"currency,omitempty"`
	Active   bool   `json:"active"`
}
