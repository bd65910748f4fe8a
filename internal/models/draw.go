package models

import (
	"time"

	"github.com/uptrace/bun"
)

// DrawCandidate is one approved reservation frozen at draw time, carrying the
// identity fields the audit trail needs.
type DrawCandidate struct {
	ReservationID string `json:"reservation_id"`
	Number        int    `json:"number"`
	UserID        string `json:"user_id"`
	UserName      string `json:"user_name"`
	UserPhone     string `json:"user_phone"`
}

// DrawSelection is the result of applying a policy to a candidate set.
type DrawSelection struct {
	WinningNumber  int
	WinnerUserID   string
	TopBuyerUserID string
}

// WinnerPicker applies a selection policy to the frozen candidate set.
// Implementations must be pure: no store access, randomness injected.
type WinnerPicker interface {
	Pick(policy DrawPolicy, candidates []DrawCandidate) (DrawSelection, error)
}

// DrawAudit is the append-only record of one executed draw. Written once
// inside the draw transaction, never updated.
type DrawAudit struct {
	bun.BaseModel `bun:"table:draw_audits"`

	ID             string          `bun:"id,pk" json:"id"`
	RaffleID       string          `bun:"raffle_id,notnull" json:"raffle_id"`
	Policy         DrawPolicy      `bun:"policy,notnull" json:"policy"`
	WinningNumber  int             `bun:"winning_number,notnull" json:"winning_number"`
	WinnerUserID   string          `bun:"winner_user_id,notnull" json:"winner_user_id"`
	TopBuyerUserID string          `bun:"top_buyer_user_id,notnull" json:"top_buyer_user_id"`
	Participants   []DrawCandidate `bun:"participants,type:jsonb" json:"participants"`
	ExecutedBy     string          `bun:"executed_by,notnull" json:"executed_by"`
	ExecutedAt     time.Time       `bun:"executed_at,notnull" json:"executed_at"`
}

// DrawOutcome is what a successful draw returns to the caller.
type DrawOutcome struct {
	RaffleID       string        `json:"raffle_id"`
	Policy         DrawPolicy    `json:"policy"`
	WinningNumber  int           `json:"winning_number"`
	Winner         DrawCandidate `json:"winner"`
	TopBuyerUserID string        `json:"top_buyer_user_id"`
	ExecutedAt     time.Time     `json:"executed_at"`
}

// DrawStatus is the read-only draw projection for participants and admins.
type DrawStatus struct {
	RaffleID      string      `json:"raffle_id"`
	Description   string      `json:"description"`
	Prize         string      `json:"prize"`
	Capacity      int         `json:"capacity"`
	Lifecycle     RaffleState `json:"lifecycle"`
	DrawState     DrawState   `json:"draw_state"`
	Policy        DrawPolicy  `json:"policy"`
	ScheduledAt   *time.Time  `json:"scheduled_at,omitempty"`
	CompletedAt   *time.Time  `json:"completed_at,omitempty"`
	WinningNumber *int        `json:"winning_number,omitempty"`
	Winner        *User       `json:"winner,omitempty"`
	TopBuyer      *User       `json:"top_buyer,omitempty"`
}
