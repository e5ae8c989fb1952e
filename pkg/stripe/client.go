// Package stripe wraps Stripe's API client for per-event organizer accounts.
// Credentials live on the event row, so a client is constructed per call
// rather than once at boot.
package stripe

import (
	"context"
	"errors"
	"strings"

	"github.com/stripe/stripe-go/v84"

	"github.com/littleweaver/brambling/pkg/db/models"
	"github.com/littleweaver/brambling/pkg/enums"
	pkgerrors "github.com/littleweaver/brambling/pkg/errors"
	"github.com/littleweaver/brambling/pkg/fees"
	"github.com/littleweaver/brambling/pkg/gateway"
)

var (
	errAccessTokenRequired = errors.New("stripe access token is required")
	errEventNotConnected   = errors.New("event has no stripe account connected")
)

// Client wraps Stripe's API client plus the key's resolved environment.
type Client struct {
	api     *stripe.Client
	apiType enums.StripeAPIType
}

// NewClient builds a Stripe client around one organizer access token.
func NewClient(accessToken string) (*Client, error) {
	token := strings.TrimSpace(accessToken)
	if token == "" {
		return nil, errAccessTokenRequired
	}
	return &Client{
		api:     stripe.NewClient(token),
		apiType: apiTypeForKey(token),
	}, nil
}

// ForEvent builds a client from the event's connected Stripe account.
func ForEvent(event *models.Event) (*Client, error) {
	if event == nil || strings.TrimSpace(event.StripeAccessToken) == "" {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStateConflict, errEventNotConnected, "stripe is not enabled for this event")
	}
	return NewClient(event.StripeAccessToken)
}

// APIType reports whether this client talks to the live or test API.
func (c *Client) APIType() enums.StripeAPIType {
	if c == nil {
		return enums.StripeAPITypeTest
	}
	return c.apiType
}

// ChargeParams describes one card charge against an organizer account.
type ChargeParams struct {
	Token               string
	AmountCents         int
	ApplicationFeeCents int
	Description         string
	OrderCode           string
}

// Charge creates a card charge and reports the ledger-relevant amounts.
// The processing fee is Stripe's published rate; the actual balance
// transaction settles asynchronously and is not awaited here.
func (c *Client) Charge(ctx context.Context, params ChargeParams) (*gateway.ChargeResult, error) {
	if err := gateway.ValidateAmount(params.AmountCents); err != nil {
		return nil, err
	}
	create := &stripe.ChargeCreateParams{
		Amount:   stripe.Int64(int64(params.AmountCents)),
		Currency: stripe.String(string(stripe.CurrencyUSD)),
		Source:   &stripe.PaymentSourceSourceParams{Token: stripe.String(params.Token)},
	}
	if params.Description != "" {
		create.Description = stripe.String(params.Description)
	}
	if params.ApplicationFeeCents > 0 {
		create.ApplicationFeeAmount = stripe.Int64(int64(params.ApplicationFeeCents))
	}
	if params.OrderCode != "" {
		create.Metadata = map[string]string{"order_code": params.OrderCode}
	}
	charge, err := c.api.V1Charges.Create(ctx, create)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "stripe charge failed")
	}
	return &gateway.ChargeResult{
		RemoteID:            charge.ID,
		ApplicationFeeCents: params.ApplicationFeeCents,
		ProcessingFeeCents:  fees.StripeProcessingFee(params.AmountCents),
	}, nil
}

// RefundParams describes a partial or full refund of a prior charge.
type RefundParams struct {
	ChargeID                  string
	AmountCents               int
	ApplicationFeeRefundCents int
	ProcessingFeeRefundCents  int
}

// Refund reverses part of a charge. The application fee is refunded in
// proportion by the caller, so the flat RefundApplicationFee flag stays off.
func (c *Client) Refund(ctx context.Context, params RefundParams) (*gateway.RefundResult, error) {
	if err := gateway.ValidateAmount(params.AmountCents); err != nil {
		return nil, err
	}
	create := &stripe.RefundCreateParams{
		Charge: stripe.String(params.ChargeID),
		Amount: stripe.Int64(int64(params.AmountCents)),
	}
	refund, err := c.api.V1Refunds.Create(ctx, create)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "stripe refund failed")
	}
	return &gateway.RefundResult{
		RemoteID:                  refund.ID,
		ApplicationFeeRefundCents: params.ApplicationFeeRefundCents,
		ProcessingFeeRefundCents:  params.ProcessingFeeRefundCents,
	}, nil
}

// FetchEvent re-fetches a webhook event from Stripe by ID. Webhook payloads
// are never trusted directly; the event is always re-read from the API.
func (c *Client) FetchEvent(ctx context.Context, id string) (*stripe.Event, error) {
	event, err := c.api.V1Events.Retrieve(ctx, id, &stripe.EventRetrieveParams{})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "fetching stripe event")
	}
	return event, nil
}

func apiTypeForKey(key string) enums.StripeAPIType {
	if strings.HasPrefix(key, "sk_test") || strings.HasPrefix(key, "rk_test") {
		return enums.StripeAPITypeTest
	}
	return enums.StripeAPITypeLive
}
