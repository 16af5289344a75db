package models

import "github.com/google/uuid"

// AddItemRequest adds quantity of a product to the cart. ExpectedVersion,
// when non-zero, must match the stored cart version for the write to apply.
type AddItemRequest struct {
	ProductID       uuid.UUID `json:"product_id" binding:"required"`
	Quantity        int       `json:"quantity" binding:"required,gt=0"`
	ExpectedVersion int64     `json:"expected_version"`
}

// UpdateItemRequest sets the quantity of an existing line. Zero removes it.
type UpdateItemRequest struct {
	Quantity        int   `json:"quantity" binding:"gte=0"`
	ExpectedVersion int64 `json:"expected_version"`
}

type ClearCartRequest struct {
	ExpectedVersion int64 `json:"expected_version"`
}

// MergeCartRequest folds the guest cart identified by GuestID into the
// authenticated owner's cart, typically right after login.
type MergeCartRequest struct {
	GuestID string `json:"guest_id" binding:"required"`
}

// PaymentDetails is the minimal payment input forwarded to the gateway.
type PaymentDetails struct {
	Method    string `json:"method"`
	CardToken string `json:"card_token"`
}

type CheckoutRequest struct {
	IdempotencyKey string         `json:"idempotency_key"`
	Payment        PaymentDetails `json:"payment"`
}

type SetStockRequest struct {
	Available int `json:"available" binding:"gte=0"`
}
