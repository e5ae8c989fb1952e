// Package dwolla is a hand-rolled client for Dwolla's legacy transactions API.
// Dwolla ships no supported Go SDK, so the few endpoints the ledger needs are
// called directly. Organizer access tokens are passed per call; only the
// application key pair is client-wide.
package dwolla

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/littleweaver/brambling/pkg/errors"
	"github.com/littleweaver/brambling/pkg/gateway"
)

const (
	defaultBaseURL             = "https://www.dwolla.com/oauth/rest"
	responseBodyReadLimit int64 = 4096
)

var (
	errAppKeyRequired = errors.New("dwolla application key and secret are required")
	errPinRequired    = pkgerrors.New(pkgerrors.CodeValidation, "dwolla pin is required")
)

// Client talks to Dwolla's REST API for one application key pair.
type Client struct {
	httpClient *http.Client
	baseURL    string
	appKey     string
	appSecret  string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the API base URL, e.g. for the UAT sandbox.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// NewClient builds a Dwolla client from the application key pair.
func NewClient(appKey, appSecret string, opts ...Option) (*Client, error) {
	key := strings.TrimSpace(appKey)
	secret := strings.TrimSpace(appSecret)
	if key == "" || secret == "" {
		return nil, errAppKeyRequired
	}

	client := &Client{
		appKey:     key,
		appSecret:  secret,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if client.baseURL == "" {
		client.baseURL = defaultBaseURL
	}
	return client, nil
}

// ChargeParams describes a send-money transaction into an organizer account.
type ChargeParams struct {
	AccessToken         string
	Pin                 string
	SourceID            string
	DestinationID       string
	AmountCents         int
	ApplicationFeeCents int
	Notes               string
}

// Charge moves money from the payer's funding source to the organizer.
// Dwolla assesses no percentage processing fee on these transfers.
func (c *Client) Charge(ctx context.Context, params ChargeParams) (*gateway.ChargeResult, error) {
	if err := gateway.ValidateAmount(params.AmountCents); err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.Pin) == "" {
		return nil, errPinRequired
	}

	payload := map[string]any{
		"oauth_token":       params.AccessToken,
		"pin":               params.Pin,
		"destinationId":     params.DestinationID,
		"amount":            DollarString(params.AmountCents),
		"facilitatorAmount": DollarString(params.ApplicationFeeCents),
	}
	if params.SourceID != "" {
		payload["fundsSource"] = params.SourceID
	}
	if params.Notes != "" {
		payload["notes"] = params.Notes
	}

	remoteID, err := c.post(ctx, "transactions/send", payload)
	if err != nil {
		return nil, err
	}
	return &gateway.ChargeResult{
		RemoteID:            remoteID,
		ApplicationFeeCents: params.ApplicationFeeCents,
	}, nil
}

// RefundParams describes a refund of a prior Dwolla transaction.
type RefundParams struct {
	AccessToken               string
	Pin                       string
	TransactionID             string
	FundsSource               string
	AmountCents               int
	ApplicationFeeRefundCents int
}

// Refund reverses part of a prior transaction. The organizer's pin is
// required on every refund; it is never stored.
func (c *Client) Refund(ctx context.Context, params RefundParams) (*gateway.RefundResult, error) {
	if err := gateway.ValidateAmount(params.AmountCents); err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.Pin) == "" {
		return nil, errPinRequired
	}

	fundsSource := params.FundsSource
	if fundsSource == "" {
		fundsSource = "Balance"
	}
	payload := map[string]any{
		"oauth_token":   params.AccessToken,
		"pin":           params.Pin,
		"transactionId": params.TransactionID,
		"fundsSource":   fundsSource,
		"amount":        DollarString(params.AmountCents),
	}

	remoteID, err := c.post(ctx, "transactions/refund", payload)
	if err != nil {
		return nil, err
	}
	return &gateway.RefundResult{
		RemoteID:                  remoteID,
		ApplicationFeeRefundCents: params.ApplicationFeeRefundCents,
	}, nil
}

// SignWebhook computes the hex HMAC-SHA1 signature of a webhook body keyed
// with the application secret.
func (c *Client) SignWebhook(body []byte) string {
	mac := hmac.New(sha1.New, []byte(c.appSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhook checks a webhook body against its delivered signature.
func (c *Client) VerifyWebhook(body []byte, signature string) bool {
	if c == nil {
		return false
	}
	expected := c.SignWebhook(body)
	return hmac.Equal([]byte(expected), []byte(strings.TrimSpace(signature)))
}

func (c *Client) post(ctx context.Context, path string, payload map[string]any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeGateway, err, "marshal dwolla request")
	}

	url := strings.TrimRight(c.baseURL, "/") + "/" + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeGateway, err, "build dwolla request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeGateway, err, "execute dwolla request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return "", pkgerrors.Wrap(pkgerrors.CodeGateway,
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))),
			"dwolla request failed")
	}

	var apiResp struct {
		Success  bool            `json:"Success"`
		Message  string          `json:"Message"`
		Response json.RawMessage `json:"Response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeGateway, err, "decode dwolla response")
	}
	if !apiResp.Success {
		return "", pkgerrors.Wrap(pkgerrors.CodeGateway, errors.New(apiResp.Message), "dwolla rejected the request")
	}
	return transactionID(apiResp.Response), nil
}

// transactionID extracts the transaction identifier, which Dwolla returns
// either as a bare number or as an object with a TransactionId field.
func transactionID(raw json.RawMessage) string {
	var numeric int64
	if err := json.Unmarshal(raw, &numeric); err == nil {
		return strconv.FormatInt(numeric, 10)
	}
	var wrapped struct {
		TransactionID int64 `json:"TransactionId"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.TransactionID != 0 {
		return strconv.FormatInt(wrapped.TransactionID, 10)
	}
	return strings.Trim(string(raw), `"`)
}

// DollarString renders cents as the dollar-and-cents string Dwolla expects.
func DollarString(cents int) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
