/**
 * @description
 * Fee calculation for every transaction type. Rules are a closed table keyed by
 * domain.TransactionType; NewFeeCalculator refuses a table that misses a type.
 *
 * @notes
 * - deposit:    fee deducted, wallet is credited amount - fee.
 * - withdrawal: fee added, wallet is debited amount + fee and the bank receives amount.
 * - settlement: fee deducted, wallet is debited amount and the bank receives amount - fee.
 * - transfer:   fee added, source is debited amount + fee and the destination receives amount.
 * - refund:     never charged.
 */

package app

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/transfa/wallet-service/internal/config"
	"github.com/transfa/wallet-service/internal/domain"
)

// FeeMode says whether a fee is charged on top of the amount or taken out of it.
type FeeMode int

const (
	FeeModeNone FeeMode = iota
	FeeModeAdded
	FeeModeDeducted
)

// FeeModeFor is fixed per type so a stored transaction can always be unwound from its
// amount and fee alone.
func FeeModeFor(t domain.TransactionType) FeeMode {
	switch t {
	case domain.TransactionTypeWithdrawal, domain.TransactionTypeTransfer:
		return FeeModeAdded
	case domain.TransactionTypeDeposit, domain.TransactionTypeSettlement:
		return FeeModeDeducted
	default:
		return FeeModeNone
	}
}

// FeeTier charges Fee for amounts up to and including UpTo. A nil UpTo matches everything.
type FeeTier struct {
	UpTo *decimal.Decimal
	Fee  decimal.Decimal
}

// FeeRule is percent + flat, with an optional cap and flat waiver, or a tier table.
type FeeRule struct {
	Percent         decimal.Decimal
	Flat            decimal.Decimal
	Cap             decimal.Decimal // zero means uncapped
	FlatWaivedBelow decimal.Decimal // zero means never waived
	Tiers           []FeeTier
}

func (r FeeRule) compute(amount decimal.Decimal) decimal.Decimal {
	if len(r.Tiers) > 0 {
		for _, tier := range r.Tiers {
			if tier.UpTo == nil || amount.LessThanOrEqual(*tier.UpTo) {
				return tier.Fee
			}
		}
		return decimal.Zero
	}
	fee := amount.Mul(r.Percent).Div(decimal.NewFromInt(100))
	if r.FlatWaivedBelow.IsZero() || amount.GreaterThanOrEqual(r.FlatWaivedBelow) {
		fee = fee.Add(r.Flat)
	}
	if r.Cap.IsPositive() && fee.GreaterThan(r.Cap) {
		fee = r.Cap
	}
	return fee.Round(domain.MoneyScale)
}

// FeeQuote is the fee for one movement and its effect on both ends.
type FeeQuote struct {
	// Amount is the requested amount recorded on the transaction.
	Amount domain.Money
	Fee    domain.Money
	Mode   FeeMode
	// Gross is what leaves (or, for deposits, arrives at) the payer side.
	Gross domain.Money
	// Net is what the counterparty receives, or what a deposit credits to the wallet.
	Net domain.Money
}

// FeeCalculator quotes fees from a closed rule table.
type FeeCalculator struct {
	enabled bool
	rules   map[domain.TransactionType]FeeRule
}

// NewFeeCalculator validates that rules covers every transaction type.
func NewFeeCalculator(enabled bool, rules map[domain.TransactionType]FeeRule) (*FeeCalculator, error) {
	for _, t := range domain.TransactionTypes {
		if _, ok := rules[t]; !ok {
			return nil, fmt.Errorf("no fee rule for transaction type %q", t)
		}
	}
	return &FeeCalculator{enabled: enabled, rules: rules}, nil
}

// Quote computes the fee for moving amount as a transaction of type t.
func (c *FeeCalculator) Quote(t domain.TransactionType, amount domain.Money) (FeeQuote, error) {
	rule, ok := c.rules[t]
	if !ok {
		return FeeQuote{}, fmt.Errorf("no fee rule for transaction type %q", t)
	}
	mode := FeeModeFor(t)
	fee := domain.Zero(amount.Currency)
	if c.enabled && mode != FeeModeNone {
		fee = domain.Money{Amount: rule.compute(amount.Amount), Currency: amount.Currency}
	}
	return quoteFor(mode, amount, fee)
}

func quoteFor(mode FeeMode, amount, fee domain.Money) (FeeQuote, error) {
	q := FeeQuote{Amount: amount, Fee: fee, Mode: mode, Gross: amount, Net: amount}
	switch mode {
	case FeeModeAdded:
		gross, err := amount.Add(fee)
		if err != nil {
			return FeeQuote{}, err
		}
		q.Gross = gross
	case FeeModeDeducted:
		if !fee.LessThan(amount) {
			return FeeQuote{}, fmt.Errorf("%w: fee %s consumes the whole amount %s", domain.ErrInvalidAmount, fee, amount)
		}
		net, err := amount.Sub(fee)
		if err != nil {
			return FeeQuote{}, err
		}
		q.Net = net
	}
	return q, nil
}

// QuoteOf rebuilds the quote recorded on a stored transaction.
func QuoteOf(txn *domain.Transaction) (FeeQuote, error) {
	fee := txn.Fee
	if fee.Currency == "" {
		fee = domain.Zero(txn.Amount.Currency)
	}
	return quoteFor(FeeModeFor(txn.Type), txn.Amount, fee)
}

// FeeRulesFromConfig builds the rule table from configuration.
func FeeRulesFromConfig(cfg config.Config) (map[domain.TransactionType]FeeRule, error) {
	depositFlat, err := config.ParseAmount("DEPOSIT_FEE_FLAT", cfg.DepositFeeFlat)
	if err != nil {
		return nil, err
	}
	depositCap, err := config.ParseAmount("DEPOSIT_FEE_CAP", cfg.DepositFeeCap)
	if err != nil {
		return nil, err
	}
	depositWaiver, err := config.ParseAmount("DEPOSIT_FEE_WAIVER_THRESHOLD", cfg.DepositFeeWaiverThreshold)
	if err != nil {
		return nil, err
	}
	transferFlat, err := config.ParseAmount("TRANSFER_FEE_FLAT", cfg.TransferFeeFlat)
	if err != nil {
		return nil, err
	}
	transferCap, err := config.ParseAmount("TRANSFER_FEE_CAP", cfg.TransferFeeCap)
	if err != nil {
		return nil, err
	}
	tiers, err := ParseFeeTiers(cfg.BankTransferFeeTiers)
	if err != nil {
		return nil, err
	}

	return map[domain.TransactionType]FeeRule{
		domain.TransactionTypeDeposit: {
			Percent:         decimal.NewFromFloat(cfg.DepositFeePercent),
			Flat:            depositFlat,
			Cap:             depositCap,
			FlatWaivedBelow: depositWaiver,
		},
		domain.TransactionTypeWithdrawal: {Tiers: tiers},
		domain.TransactionTypeSettlement: {Tiers: tiers},
		domain.TransactionTypeTransfer: {
			Percent: decimal.NewFromFloat(cfg.TransferFeePercent),
			Flat:    transferFlat,
			Cap:     transferCap,
		},
		domain.TransactionTypeRefund: {},
	}, nil
}

// ParseFeeTiers parses "5000:10,50000:25,*:50". Tiers must be ascending; "*" matches the rest.
func ParseFeeTiers(value string) ([]FeeTier, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	var (
		tiers []FeeTier
		last  *decimal.Decimal
	)
	for _, part := range strings.Split(value, ",") {
		bound, fee, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			return nil, fmt.Errorf("invalid fee tier %q", part)
		}
		feeAmount, err := decimal.NewFromString(strings.TrimSpace(fee))
		if err != nil || feeAmount.IsNegative() {
			return nil, fmt.Errorf("invalid fee in tier %q", part)
		}
		tier := FeeTier{Fee: feeAmount}
		if bound = strings.TrimSpace(bound); bound != "*" {
			upTo, err := decimal.NewFromString(bound)
			if err != nil {
				return nil, fmt.Errorf("invalid bound in tier %q", part)
			}
			if last != nil && !upTo.GreaterThan(*last) {
				return nil, fmt.Errorf("fee tiers must be ascending at %q", part)
			}
			tier.UpTo = &upTo
			last = &upTo
		}
		tiers = append(tiers, tier)
		if tier.UpTo == nil {
			break
		}
	}
	return tiers, nil
}
