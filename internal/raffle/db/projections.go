package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ms-raffle/internal/models"
)

// Read-only projections. No locks: listings tolerate being a moment stale.

// ListOpenRaffles returns active and full raffles with their approved-number
// counts, newest first.
func (d *DB) ListOpenRaffles(ctx context.Context) ([]models.RaffleSummary, error) {
	var raffles []models.RaffleSummary
	err := d.Bun.NewSelect().
		ColumnExpr("r.*").
		ColumnExpr("COUNT(nr.id) AS approved_count").
		TableExpr("raffles AS r").
		Join("LEFT JOIN number_reservations AS nr ON nr.raffle_id = r.id AND nr.status = ?", models.ReservationApproved).
		Where("r.lifecycle IN (?, ?)", models.RaffleActive, models.RaffleFull).
		GroupExpr("r.id").
		OrderExpr("r.created_at DESC").
		Scan(ctx, &raffles)
	if err != nil {
		return nil, fmt.Errorf("failed to list raffles: %w", err)
	}
	return raffles, nil
}

// GetRaffleDetail returns one raffle with its approved number set.
func (d *DB) GetRaffleDetail(ctx context.Context, raffleID string) (*models.RaffleDetail, error) {
	raffle, err := d.GetRaffle(ctx, raffleID)
	if err != nil {
		return nil, err
	}

	var numbers []int
	err = d.Bun.NewSelect().
		Column("number").
		Table("number_reservations").
		Where("raffle_id = ?", raffleID).
		Where("status = ?", models.ReservationApproved).
		Order("number ASC").
		Scan(ctx, &numbers)
	if err != nil {
		return nil, fmt.Errorf("failed to load occupied numbers: %w", err)
	}
	if numbers == nil {
		numbers = []int{}
	}

	return &models.RaffleDetail{Raffle: *raffle, OccupiedNumbers: numbers}, nil
}

// ApprovedNumbers returns the bare approved numbers of a raffle, for the
// public wheel display.
func (d *DB) ApprovedNumbers(ctx context.Context, raffleID string) ([]int, error) {
	detail, err := d.GetRaffleDetail(ctx, raffleID)
	if err != nil {
		return nil, err
	}
	return detail.OccupiedNumbers, nil
}

// PendingReservations lists every pending reservation with owner identity and
// proof reference, newest first, for admin review.
func (d *DB) PendingReservations(ctx context.Context) ([]models.PendingReservation, error) {
	var pending []models.PendingReservation
	err := d.Bun.NewSelect().
		ColumnExpr("nr.id AS reservation_id").
		ColumnExpr("nr.raffle_id AS raffle_id").
		ColumnExpr("r.description AS raffle_title").
		ColumnExpr("nr.number AS number").
		ColumnExpr("nr.user_id AS user_id").
		ColumnExpr("u.name AS user_name").
		ColumnExpr("u.phone AS user_phone").
		ColumnExpr("nr.proof_url AS proof_url").
		ColumnExpr("nr.reserved_at AS reserved_at").
		TableExpr("number_reservations AS nr").
		Join("JOIN users AS u ON u.id = nr.user_id").
		Join("JOIN raffles AS r ON r.id = nr.raffle_id").
		Where("nr.status = ?", models.ReservationPending).
		OrderExpr("nr.reserved_at DESC").
		Scan(ctx, &pending)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending reservations: %w", err)
	}
	return pending, nil
}

// UserReservations lists a participant's own reservations across raffles.
func (d *DB) UserReservations(ctx context.Context, userID string) ([]models.UserReservation, error) {
	var reservations []models.UserReservation
	err := d.Bun.NewSelect().
		ColumnExpr("nr.id AS reservation_id").
		ColumnExpr("nr.raffle_id AS raffle_id").
		ColumnExpr("r.description AS raffle_title").
		ColumnExpr("r.prize AS prize").
		ColumnExpr("nr.number AS number").
		ColumnExpr("nr.status AS status").
		ColumnExpr("nr.reserved_at AS reserved_at").
		TableExpr("number_reservations AS nr").
		Join("JOIN raffles AS r ON r.id = nr.raffle_id").
		Where("nr.user_id = ?", userID).
		OrderExpr("nr.reserved_at DESC").
		Scan(ctx, &reservations)
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations for user %s: %w", userID, err)
	}
	return reservations, nil
}

// DrawStatus returns the draw projection: state, countdown target, and the
// winner/top-buyer identities once they exist.
func (d *DB) DrawStatus(ctx context.Context, raffleID string) (*models.DrawStatus, error) {
	raffle, err := d.GetRaffle(ctx, raffleID)
	if err != nil {
		return nil, err
	}

	status := &models.DrawStatus{
		RaffleID:      raffle.ID,
		Description:   raffle.Description,
		Prize:         raffle.Prize,
		Capacity:      raffle.Capacity,
		Lifecycle:     raffle.Lifecycle,
		DrawState:     raffle.DrawState,
		Policy:        raffle.Policy,
		ScheduledAt:   raffle.ScheduledAt,
		CompletedAt:   raffle.DrawCompletedAt,
		WinningNumber: raffle.WinningNumber,
	}

	if raffle.WinningNumber != nil {
		var winner models.User
		err := d.Bun.NewSelect().
			Model(&winner).
			Join("JOIN number_reservations AS nr ON nr.user_id = u.id").
			Where("nr.raffle_id = ?", raffleID).
			Where("nr.number = ?", *raffle.WinningNumber).
			Where("nr.status = ?", models.ReservationApproved).
			Limit(1).
			Scan(ctx)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("failed to load winner: %w", err)
		}
		if err == nil {
			status.Winner = &winner
		}
	}

	if raffle.TopBuyerUserID != nil {
		var topBuyer models.User
		err := d.Bun.NewSelect().
			Model(&topBuyer).
			Where("id = ?", *raffle.TopBuyerUserID).
			Limit(1).
			Scan(ctx)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("failed to load top buyer: %w", err)
		}
		if err == nil {
			status.TopBuyer = &topBuyer
		}
	}

	return status, nil
}
