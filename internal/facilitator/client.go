package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nanda-points/nanda_points/internal/x402"
)

// Client talks to a remote facilitator over HTTP. Resource servers that do
// not embed the ledger use this to verify and settle payments.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a facilitator client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Verify implements the paywall's facilitator dependency over HTTP.
func (c *Client) Verify(ctx context.Context, payment x402.PaymentPayload, reqs x402.PaymentRequirements) (x402.VerifyResponse, error) {
	var res x402.VerifyResponse
	err := c.post(ctx, "/verify", facilitatorRequest{Payment: payment, Requirements: reqs}, &res)
	return res, err
}

// Settle implements the paywall's facilitator dependency over HTTP.
func (c *Client) Settle(ctx context.Context, payment x402.PaymentPayload, reqs x402.PaymentRequirements) (x402.SettleResponse, error) {
	var res x402.SettleResponse
	err := c.post(ctx, "/settle", facilitatorRequest{Payment: payment, Requirements: reqs}, &res)
	return res, err
}

// Supported fetches the facilitator's accepted payment kinds.
func (c *Client) Supported(ctx context.Context) (x402.SupportedResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/supported", nil)
	if err != nil {
		return x402.SupportedResponse{}, err
	}
	var res x402.SupportedResponse
	return res, c.do(req, &res)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("facilitator %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("facilitator %s: status %d", req.URL.Path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("facilitator %s: decode: %w", req.URL.Path, err)
	}
	return nil
}
