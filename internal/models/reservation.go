package models

import (
	"time"

	"github.com/uptrace/bun"
)

type ReservationStatus string

const (
	ReservationPending  ReservationStatus = "pending"
	ReservationApproved ReservationStatus = "approved"
	ReservationRejected ReservationStatus = "rejected"
)

// NumberReservation holds one number of one raffle. For a given
// (raffle, number) pair at most one row exists; a rejected row is recycled in
// place by the next reservation attempt instead of inserting a second row.
type NumberReservation struct {
	bun.BaseModel `bun:"table:number_reservations"`

	ID         string            `bun:"id,pk" json:"id"`
	RaffleID   string            `bun:"raffle_id,notnull" json:"raffle_id"`
	UserID     string            `bun:"user_id,notnull" json:"user_id"`
	Number     int               `bun:"number,notnull" json:"number"`
	Status     ReservationStatus `bun:"status,notnull" json:"status"`
	ProofURL   string            `bun:"proof_url,nullzero" json:"proof_url,omitempty"`
	ReservedAt time.Time         `bun:"reserved_at,notnull" json:"reserved_at"`
}

// PendingReservation is the admin review projection: a pending row joined
// with its owner and raffle.
type PendingReservation struct {
	ReservationID string    `bun:"reservation_id" json:"reservation_id"`
	RaffleID      string    `bun:"raffle_id" json:"raffle_id"`
	RaffleTitle   string    `bun:"raffle_title" json:"raffle_title"`
	Number        int       `bun:"number" json:"number"`
	UserID        string    `bun:"user_id" json:"user_id"`
	UserName      string    `bun:"user_name" json:"user_name"`
	UserPhone     string    `bun:"user_phone" json:"user_phone"`
	ProofURL      string    `bun:"proof_url" json:"proof_url,omitempty"`
	ReservedAt    time.Time `bun:"reserved_at" json:"reserved_at"`
}

// UserReservation is the participant projection of their own reservations.
type UserReservation struct {
	ReservationID string            `bun:"reservation_id" json:"reservation_id"`
	RaffleID      string            `bun:"raffle_id" json:"raffle_id"`
	RaffleTitle   string            `bun:"raffle_title" json:"raffle_title"`
	Prize         string            `bun:"prize" json:"prize"`
	Number        int               `bun:"number" json:"number"`
	Status        ReservationStatus `bun:"status" json:"status"`
	ReservedAt    time.Time         `bun:"reserved_at" json:"reserved_at"`
}

// ApprovalOutcome reports what one approval did, including whether it was the
// approval that filled the raffle.
type ApprovalOutcome struct {
	ReservationID string `json:"reservation_id"`
	RaffleID      string `json:"raffle_id"`
	UserID        string `json:"user_id"`
	Number        int    `json:"number"`
	ApprovedCount int    `json:"approved_count"`
	BecameFull    bool   `json:"became_full"`
}
