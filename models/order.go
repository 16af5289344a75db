package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const OrderStatusPaid = "paid"

// Order is an immutable record of a committed checkout. Rows are only ever
// appended; there is no update path.
type Order struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	OrderNumber    string          `gorm:"size:32;uniqueIndex;not null" json:"order_number"`
	OwnerID        string          `gorm:"size:64;not null;index" json:"owner_id"`
	IdempotencyKey string          `gorm:"size:128;not null;uniqueIndex" json:"-"`
	Status         string          `gorm:"size:16;not null;default:'paid'" json:"status"`
	Subtotal       decimal.Decimal `gorm:"type:numeric(12,2)" json:"subtotal"`
	Total          decimal.Decimal `gorm:"type:numeric(12,2)" json:"total"`
	Currency       string          `gorm:"size:3;not null;default:'USD'" json:"currency"`
	PaymentRef     string          `gorm:"size:64" json:"payment_ref,omitempty"`
	Items          []OrderItem     `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"items"`
	CreatedAt      time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}

// OrderItem snapshots one purchased line. Name and price are copied from
// the catalog at checkout so later catalog edits do not rewrite history.
type OrderItem struct {
	ID        uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderID   uuid.UUID       `gorm:"type:uuid;not null;index" json:"-"`
	ProductID uuid.UUID       `gorm:"type:uuid;not null" json:"product_id"`
	Name      string          `gorm:"size:255" json:"name"`
	UnitPrice decimal.Decimal `gorm:"type:numeric(12,2)" json:"unit_price"`
	Quantity  int             `gorm:"not null" json:"quantity"`
	LineTotal decimal.Decimal `gorm:"type:numeric(12,2)" json:"line_total"`
}

// NewOrderNumber builds a human-facing order number such as
// ORD-20250114-3F2A9C1D from the creation time and the order ID.
func NewOrderNumber(ts time.Time, id uuid.UUID) string {
	suffix := strings.ToUpper(strings.ReplaceAll(id.String(), "-", ""))[:8]
	return fmt.Sprintf("ORD-%s-%s", ts.UTC().Format("20060102"), suffix)
}
