// Package x402 implements the NANDA Points flavor of the x402 payment
// protocol: the wire types exchanged over the X-PAYMENT headers and the
// facilitator endpoints, plus their base64 JSON codec.
package x402

// Protocol constants. A facilitator accepts exactly one scheme/network/asset
// triple.
const (
	Version = 1
	Scheme  = "nanda-points"
	Network = "nanda-network"
	Asset   = "NP"

	// PaymentHeader carries the base64-encoded PaymentPayload on requests.
	PaymentHeader = "X-PAYMENT"
	// PaymentResponseHeader carries the base64-encoded Receipt on responses,
	// present only when settlement succeeded.
	PaymentResponseHeader = "X-PAYMENT-RESPONSE"
)

// PaymentRequirements describes what a protected resource charges.
type PaymentRequirements struct {
	Scheme            string         `json:"scheme"`
	Network           string         `json:"network"`
	MaxAmountRequired string         `json:"maxAmountRequired"`
	Resource          string         `json:"resource"`
	Description       string         `json:"description"`
	MimeType          string         `json:"mimeType,omitempty"`
	PayTo             string         `json:"payTo"`
	MaxTimeoutSeconds int            `json:"maxTimeoutSeconds"`
	Asset             string         `json:"asset"`
	Extra             map[string]any `json:"extra,omitempty"`
}

// PaymentPayload is a payer's signed intent, carried base64-encoded in the
// X-PAYMENT request header.
type PaymentPayload struct {
	X402Version int            `json:"x402Version"`
	Scheme      string         `json:"scheme"`
	Network     string         `json:"network"`
	PayTo       string         `json:"payTo"`
	Amount      string         `json:"amount"`
	From        string         `json:"from"`
	TxID        string         `json:"txId"`
	Timestamp   int64          `json:"timestamp"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// ReceiptBalances holds the post-settlement balances of both parties, in
// minor units.
type ReceiptBalances struct {
	From  int64 `json:"from"`
	PayTo int64 `json:"payTo"`
}

// Receipt is the durable proof of settlement returned to the caller in the
// X-PAYMENT-RESPONSE header. Signature, when present, is a detached signature
// over the receipt's canonical form produced by the facilitator's credential.
type Receipt struct {
	TxID      string          `json:"txId"`
	From      string          `json:"from"`
	PayTo     string          `json:"payTo"`
	Amount    string          `json:"amount"`
	Timestamp int64           `json:"timestamp"`
	Balances  ReceiptBalances `json:"balances"`
	Signature string          `json:"signature,omitempty"`
}

// CanonicalBytes is the byte form of the receipt that gets signed.
func (r Receipt) CanonicalBytes() []byte {
	return canonicalReceipt(r)
}

// VerifyResponse is the facilitator's answer to a verify call.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleResponse is the facilitator's answer to a settle call.
type SettleResponse struct {
	Success     bool     `json:"success"`
	ErrorReason string   `json:"errorReason,omitempty"`
	TxID        string   `json:"txId,omitempty"`
	Network     string   `json:"network"`
	Receipt     *Receipt `json:"receipt,omitempty"`
}

// SupportedKind is one scheme/network/asset triple a facilitator accepts.
type SupportedKind struct {
	Scheme  string `json:"scheme"`
	Network string `json:"network"`
	Asset   string `json:"asset"`
}

// SupportedResponse is the body of GET /supported.
type SupportedResponse struct {
	Kinds []SupportedKind `json:"kinds"`
}

// Challenge is the HTTP 402 response body listing acceptable payments.
type Challenge struct {
	X402Version int                   `json:"x402Version"`
	Error       string                `json:"error"`
	Payer       string                `json:"payer,omitempty"`
	Accepts     []PaymentRequirements `json:"accepts"`
}
