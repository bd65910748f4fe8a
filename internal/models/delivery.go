package models

import (
	"time"

	"github.com/uptrace/bun"
)

type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
)

// AccountDelivery tracks the post-win account handover for one (raffle, user)
// pair. Created lazily when a reservation is approved; one row per pair even
// when the user holds several approved numbers.
type AccountDelivery struct {
	bun.BaseModel `bun:"table:account_deliveries"`

	ID          string         `bun:"id,pk" json:"id"`
	RaffleID    string         `bun:"raffle_id,notnull" json:"raffle_id"`
	UserID      string         `bun:"user_id,notnull" json:"user_id"`
	Status      DeliveryStatus `bun:"status,notnull" json:"status"`
	DeliveredBy *string        `bun:"delivered_by,nullzero" json:"delivered_by,omitempty"`
	DeliveredAt *time.Time     `bun:"delivered_at,nullzero" json:"delivered_at,omitempty"`
}

// DeliveryEntry is one participant row of the admin delivery overview.
type DeliveryEntry struct {
	UserID      string         `json:"user_id"`
	UserName    string         `json:"user_name"`
	UserEmail   string         `json:"user_email"`
	UserPhone   string         `json:"user_phone"`
	Numbers     []int          `json:"numbers"`
	Status      DeliveryStatus `json:"status"`
	DeliveredAt *time.Time     `json:"delivered_at,omitempty"`
}

// RaffleDeliveries groups the delivery entries of one raffle with tallies.
type RaffleDeliveries struct {
	RaffleID     string          `json:"raffle_id"`
	Description  string          `json:"description"`
	Lifecycle    RaffleState     `json:"lifecycle"`
	Capacity     int             `json:"capacity"`
	Pending      int             `json:"pending"`
	Delivered    int             `json:"delivered"`
	Participants []DeliveryEntry `json:"participants"`
}
