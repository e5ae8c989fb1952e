package controllers

import (
	"time"

	"github.com/google/uuid"

	"github.com/littleweaver/brambling/internal/orders"
	"github.com/littleweaver/brambling/pkg/db/models"
)

type eventView struct {
	Slug                 string     `json:"slug"`
	Name                 string     `json:"name"`
	Currency             string     `json:"currency"`
	IsFrozen             bool       `json:"is_frozen"`
	CartTimeoutMinutes   int        `json:"cart_timeout_minutes"`
	CheckPostmarkCutoff  *time.Time `json:"check_postmark_cutoff,omitempty"`
	StripePublishableKey string     `json:"stripe_publishable_key,omitempty"`
}

func newEventView(event *models.Event) eventView {
	return eventView{
		Slug:                 event.Slug,
		Name:                 event.Name,
		Currency:             event.Currency,
		IsFrozen:             event.IsFrozen,
		CartTimeoutMinutes:   event.CartTimeoutMinutes,
		CheckPostmarkCutoff:  event.CheckPostmarkCutoff,
		StripePublishableKey: event.StripePublishableKey,
	}
}

type discountView struct {
	Name   string `json:"name"`
	Code   string `json:"code"`
	Type   string `json:"type"`
	Amount int    `json:"amount"`
}

type itemView struct {
	ID             uuid.UUID      `json:"id"`
	Status         string         `json:"status"`
	ItemName       string         `json:"item_name"`
	ItemOptionName string         `json:"item_option_name"`
	PriceCents     int            `json:"price_cents"`
	Added          time.Time      `json:"added"`
	Discounts      []discountView `json:"discounts,omitempty"`
}

func newItemView(item *models.BoughtItem) itemView {
	view := itemView{
		ID:             item.ID,
		Status:         string(item.Status),
		ItemName:       item.Snapshot.ItemName,
		ItemOptionName: item.Snapshot.ItemOptionName,
		PriceCents:     item.Snapshot.PriceCents,
		Added:          item.Added,
	}
	for _, d := range item.Discounts {
		view.Discounts = append(view.Discounts, discountView{
			Name:   d.Name,
			Code:   d.Code,
			Type:   string(d.DiscountType),
			Amount: d.Amount,
		})
	}
	return view
}

type orderView struct {
	ID            uuid.UUID            `json:"id"`
	Code          string               `json:"code"`
	Email         string               `json:"email,omitempty"`
	CartStartTime *time.Time           `json:"cart_start_time,omitempty"`
	CartExpiresAt *time.Time           `json:"cart_expires_at,omitempty"`
	Items         []itemView           `json:"items"`
	Summary       *orders.OrderSummary `json:"summary,omitempty"`
}

func newOrderView(event *models.Event, order *models.Order, items []models.BoughtItem, summary *orders.OrderSummary) orderView {
	view := orderView{
		ID:            order.ID,
		Code:          order.Code,
		Email:         order.Email,
		CartStartTime: order.CartStartTime,
		Items:         []itemView{},
		Summary:       summary,
	}
	if order.CartStartTime != nil {
		expires := order.CartStartTime.Add(event.CartTimeout())
		view.CartExpiresAt = &expires
	}
	for i := range items {
		view.Items = append(view.Items, newItemView(&items[i]))
	}
	return view
}

type transactionView struct {
	ID                   uuid.UUID  `json:"id"`
	OrderID              uuid.UUID  `json:"order_id"`
	Type                 string     `json:"type"`
	AmountCents          int        `json:"amount_cents"`
	Method               string     `json:"method"`
	IsConfirmed          bool       `json:"is_confirmed"`
	RemoteID             string     `json:"remote_id,omitempty"`
	ApplicationFeeCents  int        `json:"application_fee_cents"`
	ProcessingFeeCents   int        `json:"processing_fee_cents"`
	RelatedTransactionID *uuid.UUID `json:"related_transaction_id,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
}

func newTransactionView(txn *models.Transaction) transactionView {
	return transactionView{
		ID:                   txn.ID,
		OrderID:              txn.OrderID,
		Type:                 string(txn.TransactionType),
		AmountCents:          txn.AmountCents,
		Method:               string(txn.Method),
		IsConfirmed:          txn.IsConfirmed,
		RemoteID:             txn.RemoteID,
		ApplicationFeeCents:  txn.ApplicationFeeCents,
		ProcessingFeeCents:   txn.ProcessingFeeCents,
		RelatedTransactionID: txn.RelatedTransactionID,
		CreatedAt:            txn.CreatedAt,
	}
}
