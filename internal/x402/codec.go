package x402

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInvalidScheme indicates the payload's scheme or network does not
	// match what this facilitator accepts.
	ErrInvalidScheme = errors.New("unsupported payment scheme")

	// ErrMalformedPayload indicates the header could not be decoded or a
	// required field is missing.
	ErrMalformedPayload = errors.New("malformed payment payload")
)

// ExtraFacilitatorURL is the requirements extra key advertising where to
// verify and settle.
const ExtraFacilitatorURL = "facilitatorUrl"

// NewRequirements builds the payment requirements for a protected resource.
// Price is in minor units and is serialized as a decimal-string integer.
func NewRequirements(price int64, resource, payTo, description string, timeoutSeconds int, facilitatorURL string) PaymentRequirements {
	return PaymentRequirements{
		Scheme:            Scheme,
		Network:           Network,
		MaxAmountRequired: strconv.FormatInt(price, 10),
		Resource:          resource,
		Description:       description,
		MimeType:          "application/json",
		PayTo:             payTo,
		MaxTimeoutSeconds: timeoutSeconds,
		Asset:             Asset,
		Extra:             map[string]any{ExtraFacilitatorURL: facilitatorURL},
	}
}

// NewPayment builds a client-side payment payload with a fresh transaction id.
func NewPayment(from, payTo string, amount int64) PaymentPayload {
	return PaymentPayload{
		X402Version: Version,
		Scheme:      Scheme,
		Network:     Network,
		PayTo:       payTo,
		Amount:      strconv.FormatInt(amount, 10),
		From:        from,
		TxID:        uuid.NewString(),
		Timestamp:   time.Now().UnixMilli(),
	}
}

// EncodePayment serializes the payload for the X-PAYMENT header.
func EncodePayment(p PaymentPayload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode payment: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodePayment parses an X-PAYMENT header value. It is pure: no ledger or
// directory access happens here. Scheme/network mismatches fail with
// ErrInvalidScheme; missing required fields fail with ErrMalformedPayload.
func DecodePayment(header string) (PaymentPayload, error) {
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return PaymentPayload{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	var p PaymentPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return PaymentPayload{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if p.X402Version == 0 {
		p.X402Version = Version
	}
	if p.Scheme != Scheme || p.Network != Network {
		return PaymentPayload{}, fmt.Errorf("%w: %s/%s", ErrInvalidScheme, p.Scheme, p.Network)
	}
	for field, value := range map[string]string{
		"payTo":  p.PayTo,
		"amount": p.Amount,
		"from":   p.From,
		"txId":   p.TxID,
	} {
		if value == "" {
			return PaymentPayload{}, fmt.Errorf("%w: missing %s", ErrMalformedPayload, field)
		}
	}
	return p, nil
}

// AmountValue parses the payload's string-encoded amount into minor units.
func (p PaymentPayload) AmountValue() (int64, error) {
	v, err := strconv.ParseInt(p.Amount, 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%w: amount %q", ErrMalformedPayload, p.Amount)
	}
	return v, nil
}

// EncodeReceipt serializes a receipt for the X-PAYMENT-RESPONSE header.
func EncodeReceipt(r Receipt) (string, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode receipt: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeReceipt parses an X-PAYMENT-RESPONSE header value.
func DecodeReceipt(header string) (Receipt, error) {
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	var r Receipt
	if err := json.Unmarshal(raw, &r); err != nil {
		return Receipt{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return r, nil
}

// canonicalReceipt fixes the byte form used for signing: the signature field
// itself is excluded.
func canonicalReceipt(r Receipt) []byte {
	return []byte(fmt.Sprintf("%s|%s|%s|%s|%d|%d|%d",
		r.TxID, r.From, r.PayTo, r.Amount, r.Timestamp, r.Balances.From, r.Balances.PayTo))
}
