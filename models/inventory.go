package models

import (
	"time"

	"github.com/google/uuid"
)

// ProductStock is the inventory ledger row for one product.
// Available and Reserved never go negative.
type ProductStock struct {
	ProductID uuid.UUID `gorm:"type:uuid;primaryKey" json:"product_id"`
	Available int       `gorm:"not null;default:0" json:"available"`
	Reserved  int       `gorm:"not null;default:0" json:"reserved"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "active"
	ReservationReleased  ReservationStatus = "released"
	ReservationCommitted ReservationStatus = "committed"
)

// Reservation records units moved from available to reserved for one
// checkout attempt. Only the transition out of active moves ledger
// counters, which is what makes release and commit idempotent.
type Reservation struct {
	ID         uuid.UUID         `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	CheckoutID uuid.UUID         `gorm:"type:uuid;not null;index" json:"checkout_id"`
	ProductID  uuid.UUID         `gorm:"type:uuid;not null;index" json:"product_id"`
	Quantity   int               `gorm:"not null" json:"quantity"`
	Status     ReservationStatus `gorm:"type:varchar(16);not null;default:'active';index" json:"status"`
	ExpiresAt  time.Time         `gorm:"not null;index" json:"expires_at"`
	CreatedAt  time.Time         `gorm:"autoCreateTime" json:"created_at"`
}
