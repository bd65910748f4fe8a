package models

import (
	"time"

	"github.com/uptrace/bun"
)

// RaffleState is the lifecycle of a raffle. Transitions only move forward:
// draft -> active -> full -> finalized.
type RaffleState string

const (
	RaffleDraft     RaffleState = "draft"
	RaffleActive    RaffleState = "active"
	RaffleFull      RaffleState = "full"
	RaffleFinalized RaffleState = "finalized"
)

// CanTransition reports whether moving from s to next is a valid forward edge.
func (s RaffleState) CanTransition(next RaffleState) bool {
	switch s {
	case RaffleDraft:
		return next == RaffleActive
	case RaffleActive:
		return next == RaffleFull
	case RaffleFull:
		return next == RaffleFinalized
	default:
		return false
	}
}

func (s RaffleState) Valid() bool {
	switch s {
	case RaffleDraft, RaffleActive, RaffleFull, RaffleFinalized:
		return true
	}
	return false
}

// DrawState tracks the draw independently of the raffle lifecycle.
// Monotonic: not_scheduled -> scheduled -> finalized.
type DrawState string

const (
	DrawNotScheduled DrawState = "not_scheduled"
	DrawScheduled    DrawState = "scheduled"
	DrawFinalized    DrawState = "finalized"
)

func (s DrawState) CanTransition(next DrawState) bool {
	switch s {
	case DrawNotScheduled:
		return next == DrawScheduled
	case DrawScheduled:
		return next == DrawFinalized
	default:
		return false
	}
}

// DrawPolicy is the closed set of winner-selection policies.
type DrawPolicy string

const (
	// PolicyUniformPerUser gives every participating user equal odds,
	// regardless of how many numbers they hold.
	PolicyUniformPerUser DrawPolicy = "uniform_per_user"
	// PolicyWeightedByTicket gives every approved number equal odds.
	PolicyWeightedByTicket DrawPolicy = "weighted_by_ticket"
	// PolicyTopBuyer awards the user holding the most approved numbers.
	PolicyTopBuyer DrawPolicy = "top_buyer"
)

func (p DrawPolicy) Valid() bool {
	switch p {
	case PolicyUniformPerUser, PolicyWeightedByTicket, PolicyTopBuyer:
		return true
	}
	return false
}

type Raffle struct {
	bun.BaseModel `bun:"table:raffles"`

	ID              string      `bun:"id,pk" json:"id"`
	Description     string      `bun:"description,notnull" json:"description"`
	Prize           string      `bun:"prize,notnull" json:"prize"`
	Capacity        int         `bun:"capacity,notnull" json:"capacity"`
	NumberPrice     float64     `bun:"number_price,notnull" json:"number_price"`
	Lifecycle       RaffleState `bun:"lifecycle,notnull" json:"lifecycle"`
	DrawState       DrawState   `bun:"draw_state,notnull" json:"draw_state"`
	Policy          DrawPolicy  `bun:"policy,notnull" json:"policy"`
	ScheduledAt     *time.Time  `bun:"scheduled_at,nullzero" json:"scheduled_at,omitempty"`
	DrawCompletedAt *time.Time  `bun:"draw_completed_at,nullzero" json:"draw_completed_at,omitempty"`
	WinningNumber   *int        `bun:"winning_number,nullzero" json:"winning_number,omitempty"`
	TopBuyerUserID  *string     `bun:"top_buyer_user_id,nullzero" json:"top_buyer_user_id,omitempty"`
	CreatedAt       time.Time   `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

// RaffleSummary is the public listing projection: a raffle plus how many of
// its numbers are approved.
type RaffleSummary struct {
	Raffle
	ApprovedCount int `bun:"approved_count" json:"approved_count"`
}

// RaffleDetail is the single-raffle projection with the approved number set.
type RaffleDetail struct {
	Raffle
	OccupiedNumbers []int `json:"occupied_numbers"`
}
