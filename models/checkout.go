package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CheckoutState tracks an attempt through the checkout pipeline.
// Committed and Rejected are terminal; an attempt never leaves them.
type CheckoutState string

const (
	CheckoutInitiated      CheckoutState = "initiated"
	CheckoutValidated      CheckoutState = "validated"
	CheckoutReserved       CheckoutState = "reserved"
	CheckoutPaymentPending CheckoutState = "payment_pending"
	CheckoutCommitted      CheckoutState = "committed"
	CheckoutRejected       CheckoutState = "rejected"
)

func (s CheckoutState) Terminal() bool {
	return s == CheckoutCommitted || s == CheckoutRejected
}

// FailureCode explains why an attempt ended in Rejected.
type FailureCode string

const (
	FailureInsufficientStock  FailureCode = "insufficient_stock"
	FailurePriceChanged       FailureCode = "price_changed"
	FailureProductUnavailable FailureCode = "product_unavailable"
	FailureInvalidQuantity    FailureCode = "invalid_quantity"
	FailurePaymentDeclined    FailureCode = "payment_declined"
	FailurePaymentError       FailureCode = "payment_error"
	FailureEmptyCart          FailureCode = "empty_cart"
	FailureTimeout            FailureCode = "timeout"
)

type PaymentOutcome string

const (
	PaymentApproved PaymentOutcome = "approved"
	PaymentDeclined PaymentOutcome = "declined"
	PaymentFailed   PaymentOutcome = "error"
)

// CartSnapshot freezes the cart contents at the moment checkout began.
// Validation, pricing and reservation all run against the snapshot, never
// the live cart.
type CartSnapshot struct {
	Items       []CartItem `json:"items"`
	CartVersion int64      `json:"cart_version"`
	TakenAt     time.Time  `json:"taken_at"`
}

// Value and Scan store the snapshot as a jsonb column.
func (s CartSnapshot) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *CartSnapshot) Scan(value interface{}) error {
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return fmt.Errorf("unsupported snapshot column type %T", value)
	}
}

// CheckoutAttempt is the durable record of one pass through the checkout
// state machine. The payment outcome is written before any commit effect
// runs, so a crashed attempt can be resumed without charging again.
type CheckoutAttempt struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerID        string          `gorm:"size:64;not null;index" json:"owner_id"`
	IdempotencyKey string          `gorm:"size:128;not null;index:idx_attempts_active_key,unique,where:state <> 'committed' AND state <> 'rejected'" json:"idempotency_key"`
	State          CheckoutState   `gorm:"type:varchar(20);not null;index" json:"state"`
	Snapshot       CartSnapshot    `gorm:"type:jsonb" json:"snapshot"`
	Subtotal       decimal.Decimal `gorm:"type:numeric(12,2)" json:"subtotal"`
	Total          decimal.Decimal `gorm:"type:numeric(12,2)" json:"total"`
	Currency       string          `gorm:"size:3;not null" json:"currency"`
	PaymentOutcome PaymentOutcome  `gorm:"type:varchar(16)" json:"payment_outcome,omitempty"`
	PaymentRef     string          `gorm:"size:64" json:"payment_ref,omitempty"`
	FailureCode    FailureCode     `gorm:"type:varchar(32)" json:"failure_code,omitempty"`
	OrderID        *uuid.UUID      `gorm:"type:uuid" json:"order_id,omitempty"`
	ExpiresAt      time.Time       `gorm:"not null;index" json:"expires_at"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
