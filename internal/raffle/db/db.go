package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"

	"ms-raffle/internal/models"
)

// DB is the ledger-store client. Every state-mutating operation runs inside
// exactly one transaction; row locks and conditional updates serialize
// conflicting callers.
type DB struct {
	Bun *bun.DB
}

// forUpdate adds a row lock on dialects that support it. SQLite (tests)
// serializes writers on its own, so the clause is omitted there.
func (d *DB) forUpdate(q *bun.SelectQuery) *bun.SelectQuery {
	if d.Bun.Dialect().Name() == dialect.PG {
		return q.For("UPDATE")
	}
	return q
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// ---------------- RAFFLES ----------------

func (d *DB) CreateRaffle(ctx context.Context, raffle *models.Raffle) error {
	if raffle.ID == "" {
		raffle.ID = uuid.NewString()
	}
	if raffle.CreatedAt.IsZero() {
		raffle.CreatedAt = time.Now().UTC()
	}
	if _, err := d.Bun.NewInsert().Model(raffle).Exec(ctx); err != nil {
		return fmt.Errorf("failed to create raffle: %w", err)
	}
	return nil
}

func (d *DB) GetRaffle(ctx context.Context, raffleID string) (*models.Raffle, error) {
	var raffle models.Raffle
	err := d.Bun.NewSelect().
		Model(&raffle).
		Where("id = ?", raffleID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load raffle %s: %w", raffleID, err)
	}
	return &raffle, nil
}

// ActivateRaffle opens a draft raffle for reservations. Only the
// draft -> active edge is allowed; anything else conflicts.
func (d *DB) ActivateRaffle(ctx context.Context, raffleID string) error {
	res, err := d.Bun.NewUpdate().
		Model((*models.Raffle)(nil)).
		Set("lifecycle = ?", models.RaffleActive).
		Where("id = ?", raffleID).
		Where("lifecycle = ?", models.RaffleDraft).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to activate raffle %s: %w", raffleID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := d.GetRaffle(ctx, raffleID); err != nil {
			return err
		}
		return models.ErrRaffleUnavailable
	}
	return nil
}

// ---------------- RESERVATIONS ----------------

// ReserveNumbers atomically reserves the given numbers for the user. The
// operation is all-or-nothing: any taken or out-of-range number rolls back
// the whole set. A rejected row for a requested number is recycled in place
// (new owner, new proof, back to pending) instead of inserting a duplicate.
func (d *DB) ReserveNumbers(ctx context.Context, raffleID, userID string, numbers []int, proofURL string) error {
	// Lock rows in number order so two overlapping requests cannot deadlock.
	sorted := make([]int, len(numbers))
	copy(sorted, numbers)
	sort.Ints(sorted)

	err := d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		var raffle models.Raffle
		err := tx.NewSelect().
			Model(&raffle).
			Where("id = ?", raffleID).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return models.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load raffle %s: %w", raffleID, err)
		}
		if raffle.Lifecycle != models.RaffleActive {
			return models.ErrRaffleUnavailable
		}

		now := time.Now().UTC()
		for _, number := range sorted {
			if number < 1 || number > raffle.Capacity {
				return fmt.Errorf("number %d: %w", number, models.ErrInvalidNumber)
			}

			// Lock the existing row (if any) before deciding, so the check
			// and the write are one critical section.
			var existing models.NumberReservation
			err := d.forUpdate(tx.NewSelect().
				Model(&existing).
				Where("raffle_id = ?", raffleID).
				Where("number = ?", number)).
				Scan(ctx)

			switch {
			case errors.Is(err, sql.ErrNoRows):
				reservation := models.NumberReservation{
					ID:         uuid.NewString(),
					RaffleID:   raffleID,
					UserID:     userID,
					Number:     number,
					Status:     models.ReservationPending,
					ProofURL:   proofURL,
					ReservedAt: now,
				}
				if _, err := tx.NewInsert().Model(&reservation).Exec(ctx); err != nil {
					if isUniqueViolation(err) {
						// Lost the race against a concurrent fresh insert.
						return fmt.Errorf("number %d: %w", number, models.ErrNumberTaken)
					}
					return fmt.Errorf("failed to insert reservation for number %d: %w", number, err)
				}
			case err != nil:
				return fmt.Errorf("failed to check number %d: %w", number, err)
			case existing.Status == models.ReservationRejected:
				// Recycle the rejected row: same row, new owner.
				_, err := tx.NewUpdate().
					Model((*models.NumberReservation)(nil)).
					Set("user_id = ?", userID).
					Set("status = ?", models.ReservationPending).
					Set("proof_url = ?", proofURL).
					Set("reserved_at = ?", now).
					Where("id = ?", existing.ID).
					Exec(ctx)
				if err != nil {
					return fmt.Errorf("failed to recycle reservation for number %d: %w", number, err)
				}
			default:
				// Pending or approved, held by anyone including the caller.
				return fmt.Errorf("number %d: %w", number, models.ErrNumberTaken)
			}
		}
		return nil
	})
	return err
}

// ApproveReservation flips a pending reservation to approved, ensures the
// (raffle, user) delivery record exists, and runs the fullness check, all in
// one transaction. Returns whether this approval filled the raffle.
func (d *DB) ApproveReservation(ctx context.Context, reservationID string) (*models.ApprovalOutcome, error) {
	var outcome models.ApprovalOutcome

	err := d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		var reservation models.NumberReservation
		err := d.forUpdate(tx.NewSelect().
			Model(&reservation).
			Where("id = ?", reservationID)).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return models.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load reservation %s: %w", reservationID, err)
		}
		if reservation.Status != models.ReservationPending {
			return models.ErrAlreadyProcessed
		}

		res, err := tx.NewUpdate().
			Model((*models.NumberReservation)(nil)).
			Set("status = ?", models.ReservationApproved).
			Where("id = ?", reservationID).
			Where("status = ?", models.ReservationPending).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to approve reservation %s: %w", reservationID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return models.ErrAlreadyProcessed
		}

		// Idempotent: a second approval for the same user and raffle must
		// not create a duplicate delivery record.
		delivery := models.AccountDelivery{
			ID:       uuid.NewString(),
			RaffleID: reservation.RaffleID,
			UserID:   reservation.UserID,
			Status:   models.DeliveryPending,
		}
		if _, err := tx.NewInsert().
			Model(&delivery).
			On("CONFLICT (raffle_id, user_id) DO NOTHING").
			Exec(ctx); err != nil {
			return fmt.Errorf("failed to ensure delivery record: %w", err)
		}

		approvedCount, becameFull, err := d.checkFullness(ctx, tx, reservation.RaffleID)
		if err != nil {
			return err
		}

		outcome = models.ApprovalOutcome{
			ReservationID: reservationID,
			RaffleID:      reservation.RaffleID,
			UserID:        reservation.UserID,
			Number:        reservation.Number,
			ApprovedCount: approvedCount,
			BecameFull:    becameFull,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &outcome, nil
}

// checkFullness recomputes the approved count with a fresh query and flips
// the raffle to full at most once. The update is conditioned on the current
// lifecycle so two racing "last approval" transactions cannot both flip.
func (d *DB) checkFullness(ctx context.Context, tx bun.Tx, raffleID string) (int, bool, error) {
	var raffle models.Raffle
	err := d.forUpdate(tx.NewSelect().
		Model(&raffle).
		Where("id = ?", raffleID)).
		Scan(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("failed to lock raffle %s: %w", raffleID, err)
	}

	approvedCount, err := tx.NewSelect().
		Model((*models.NumberReservation)(nil)).
		Where("raffle_id = ?", raffleID).
		Where("status = ?", models.ReservationApproved).
		Count(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("failed to count approvals: %w", err)
	}

	if raffle.Lifecycle != models.RaffleActive || approvedCount < raffle.Capacity {
		return approvedCount, false, nil
	}

	res, err := tx.NewUpdate().
		Model((*models.Raffle)(nil)).
		Set("lifecycle = ?", models.RaffleFull).
		Where("id = ?", raffleID).
		Where("lifecycle = ?", models.RaffleActive).
		Exec(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("failed to mark raffle full: %w", err)
	}
	n, _ := res.RowsAffected()
	return approvedCount, n > 0, nil
}

// RejectReservation frees the number for reuse. Non-pending rows are left
// untouched; a missing row is an error.
func (d *DB) RejectReservation(ctx context.Context, reservationID string) error {
	return d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		var reservation models.NumberReservation
		err := d.forUpdate(tx.NewSelect().
			Model(&reservation).
			Where("id = ?", reservationID)).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return models.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load reservation %s: %w", reservationID, err)
		}
		if reservation.Status != models.ReservationPending {
			return nil
		}

		_, err = tx.NewUpdate().
			Model((*models.NumberReservation)(nil)).
			Set("status = ?", models.ReservationRejected).
			Where("id = ?", reservationID).
			Where("status = ?", models.ReservationPending).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to reject reservation %s: %w", reservationID, err)
		}
		return nil
	})
}

// ---------------- DRAW ----------------

// ScheduleDraw stores the draw time on a full raffle. The conditional update
// rejects duplicate schedule attempts instead of overwriting the time.
func (d *DB) ScheduleDraw(ctx context.Context, raffleID string, at time.Time) (*models.Raffle, error) {
	var scheduled models.Raffle

	err := d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		var raffle models.Raffle
		err := d.forUpdate(tx.NewSelect().
			Model(&raffle).
			Where("id = ?", raffleID)).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return models.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load raffle %s: %w", raffleID, err)
		}

		if raffle.DrawState == models.DrawFinalized || raffle.WinningNumber != nil {
			return models.ErrAlreadyDrawn
		}
		if raffle.Lifecycle != models.RaffleFull {
			return models.ErrRaffleUnavailable
		}
		if raffle.DrawState != models.DrawNotScheduled {
			return models.ErrAlreadyScheduled
		}

		res, err := tx.NewUpdate().
			Model((*models.Raffle)(nil)).
			Set("draw_state = ?", models.DrawScheduled).
			Set("scheduled_at = ?", at.UTC()).
			Where("id = ?", raffleID).
			Where("draw_state = ?", models.DrawNotScheduled).
			Where("winning_number IS NULL").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to schedule draw: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return models.ErrAlreadyScheduled
		}

		scheduled = raffle
		scheduled.DrawState = models.DrawScheduled
		scheduledAt := at.UTC()
		scheduled.ScheduledAt = &scheduledAt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &scheduled, nil
}

// RunDraw executes the draw: it freezes the approved candidate set, applies
// the raffle's policy through the picker, finalizes the result behind a
// conditional update, and appends the audit record in one transaction. At
// most one draw ever succeeds per raffle.
func (d *DB) RunDraw(ctx context.Context, raffleID, adminID string, picker models.WinnerPicker, now time.Time) (*models.DrawOutcome, error) {
	var outcome models.DrawOutcome

	err := d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		var raffle models.Raffle
		err := d.forUpdate(tx.NewSelect().
			Model(&raffle).
			Where("id = ?", raffleID)).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return models.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load raffle %s: %w", raffleID, err)
		}

		if raffle.DrawState == models.DrawFinalized || raffle.WinningNumber != nil {
			return models.ErrAlreadyDrawn
		}
		if raffle.DrawState != models.DrawScheduled {
			return models.ErrNotScheduled
		}
		if raffle.ScheduledAt == nil || now.Before(*raffle.ScheduledAt) {
			return models.ErrNotYetDue
		}

		candidates, err := d.drawCandidates(ctx, tx, raffleID)
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			return models.ErrNoParticipants
		}

		selection, err := picker.Pick(raffle.Policy, candidates)
		if err != nil {
			return fmt.Errorf("winner selection failed: %w", err)
		}

		executedAt := now.UTC()
		res, err := tx.NewUpdate().
			Model((*models.Raffle)(nil)).
			Set("winning_number = ?", selection.WinningNumber).
			Set("top_buyer_user_id = ?", selection.TopBuyerUserID).
			Set("draw_state = ?", models.DrawFinalized).
			Set("draw_completed_at = ?", executedAt).
			Where("id = ?", raffleID).
			Where("draw_state = ?", models.DrawScheduled).
			Where("winning_number IS NULL").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to finalize draw: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return models.ErrAlreadyDrawn
		}

		audit := models.DrawAudit{
			ID:             uuid.NewString(),
			RaffleID:       raffleID,
			Policy:         raffle.Policy,
			WinningNumber:  selection.WinningNumber,
			WinnerUserID:   selection.WinnerUserID,
			TopBuyerUserID: selection.TopBuyerUserID,
			Participants:   candidates,
			ExecutedBy:     adminID,
			ExecutedAt:     executedAt,
		}
		if _, err := tx.NewInsert().Model(&audit).Exec(ctx); err != nil {
			return fmt.Errorf("failed to append draw audit: %w", err)
		}

		var winner models.DrawCandidate
		for _, c := range candidates {
			if c.Number == selection.WinningNumber {
				winner = c
				break
			}
		}
		outcome = models.DrawOutcome{
			RaffleID:       raffleID,
			Policy:         raffle.Policy,
			WinningNumber:  selection.WinningNumber,
			Winner:         winner,
			TopBuyerUserID: selection.TopBuyerUserID,
			ExecutedAt:     executedAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &outcome, nil
}

func (d *DB) drawCandidates(ctx context.Context, idb bun.IDB, raffleID string) ([]models.DrawCandidate, error) {
	var candidates []models.DrawCandidate
	err := idb.NewSelect().
		ColumnExpr("nr.id AS reservation_id").
		ColumnExpr("nr.number AS number").
		ColumnExpr("nr.user_id AS user_id").
		ColumnExpr("u.name AS user_name").
		ColumnExpr("u.phone AS user_phone").
		TableExpr("number_reservations AS nr").
		Join("JOIN users AS u ON u.id = nr.user_id").
		Where("nr.raffle_id = ?", raffleID).
		Where("nr.status = ?", models.ReservationApproved).
		OrderExpr("nr.number ASC").
		Scan(ctx, &candidates)
	if err != nil {
		return nil, fmt.Errorf("failed to load approved participants: %w", err)
	}
	return candidates, nil
}

// DrawParticipants returns the approved roster outside a draw transaction,
// for the wheel UI and admin review.
func (d *DB) DrawParticipants(ctx context.Context, raffleID string) ([]models.DrawCandidate, error) {
	if _, err := d.GetRaffle(ctx, raffleID); err != nil {
		return nil, err
	}
	return d.drawCandidates(ctx, d.Bun, raffleID)
}

// GetDrawAudit returns the audit record of a finalized draw.
func (d *DB) GetDrawAudit(ctx context.Context, raffleID string) (*models.DrawAudit, error) {
	var audit models.DrawAudit
	err := d.Bun.NewSelect().
		Model(&audit).
		Where("raffle_id = ?", raffleID).
		Order("executed_at DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load draw audit for raffle %s: %w", raffleID, err)
	}
	return &audit, nil
}

// ---------------- USERS ----------------

// UpsertUser refreshes the identity mirror from the authenticated caller.
func (d *DB) UpsertUser(ctx context.Context, user models.User) error {
	_, err := d.Bun.NewInsert().
		Model(&user).
		On("CONFLICT (id) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("email = EXCLUDED.email").
		Set("phone = EXCLUDED.phone").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to upsert user %s: %w", user.ID, err)
	}
	return nil
}
