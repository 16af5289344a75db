package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const EventOrderCreated = "order.created"

// OrderCreatedEvent is published to Kafka after a checkout commits.
type OrderCreatedEvent struct {
	Event       string          `json:"event"`
	OrderID     string          `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	OwnerID     string          `json:"owner_id"`
	Total       decimal.Decimal `json:"total"`
	Currency    string          `json:"currency"`
	Items       []EventItem     `json:"items"`
	Timestamp   time.Time       `json:"timestamp"`
}

type EventItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

func NewOrderCreatedEvent(o *Order) OrderCreatedEvent {
	items := make([]EventItem, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, EventItem{ProductID: it.ProductID.String(), Quantity: it.Quantity})
	}
	return OrderCreatedEvent{
		Event:       EventOrderCreated,
		OrderID:     o.ID.String(),
		OrderNumber: o.OrderNumber,
		OwnerID:     o.OwnerID,
		Total:       o.Total,
		Currency:    o.Currency,
		Items:       items,
		Timestamp:   time.Now().UTC(),
	}
}
