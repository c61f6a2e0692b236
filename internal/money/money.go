package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	// CurrencyNP is the NANDA Points currency code.
	CurrencyNP = "NP"
	// ScaleNP is the decimal scale used for NANDA Points: 1000 minor units = 1.000 point.
	ScaleNP = 3
)

// Amount is a monetary value expressed in integer minor units at a decimal scale.
type Amount struct {
	Currency string `json:"currency"`
	Scale    int32  `json:"scale"`
	Value    int64  `json:"value"`
}

// NP builds a NANDA Points amount from minor units.
func NP(value int64) Amount {
	return Amount{Currency: CurrencyNP, Scale: ScaleNP, Value: value}
}

// Validate rejects amounts the ledger cannot post.
func (a Amount) Validate() error {
	if a.Currency == "" {
		return fmt.Errorf("amount currency is required")
	}
	if a.Scale < 0 || a.Scale > 9 {
		return fmt.Errorf("amount scale %d out of range", a.Scale)
	}
	if a.Value <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	return nil
}

// Decimal returns the amount in major units, e.g. 2500 minor units at scale 3 -> 2.5.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(a.Value, -a.Scale)
}

// String renders the amount in major units with its currency code.
func (a Amount) String() string {
	return a.Decimal().StringFixed(a.Scale) + " " + a.Currency
}
