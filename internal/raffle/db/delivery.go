package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"ms-raffle/internal/models"
)

// MarkDelivered transitions a delivery row from pending to delivered,
// stamping the admin and time. NotFound when the (raffle, user) pair never
// had an approved reservation.
func (d *DB) MarkDelivered(ctx context.Context, raffleID, userID, adminID string) (*models.AccountDelivery, error) {
	var delivery models.AccountDelivery

	err := d.Bun.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		err := d.forUpdate(tx.NewSelect().
			Model(&delivery).
			Where("raffle_id = ?", raffleID).
			Where("user_id = ?", userID)).
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return models.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load delivery record: %w", err)
		}

		now := time.Now().UTC()
		_, err = tx.NewUpdate().
			Model((*models.AccountDelivery)(nil)).
			Set("status = ?", models.DeliveryDelivered).
			Set("delivered_by = ?", adminID).
			Set("delivered_at = ?", now).
			Where("id = ?", delivery.ID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to mark delivery: %w", err)
		}

		delivery.Status = models.DeliveryDelivered
		delivery.DeliveredBy = &adminID
		delivery.DeliveredAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &delivery, nil
}

type deliveryRow struct {
	RaffleID     string                `bun:"raffle_id"`
	Description  string                `bun:"description"`
	Lifecycle    models.RaffleState    `bun:"lifecycle"`
	Capacity     int                   `bun:"capacity"`
	UserID       string                `bun:"user_id"`
	UserName     string                `bun:"user_name"`
	UserEmail    string                `bun:"user_email"`
	UserPhone    string                `bun:"user_phone"`
	Status       models.DeliveryStatus `bun:"status"`
	DeliveredAt  *time.Time            `bun:"delivered_at"`
	Number       int                   `bun:"number"`
	RaffleSorted time.Time             `bun:"raffle_created_at"`
}

// ListDeliveries returns the account-handover overview grouped per raffle:
// each participant with their aggregated approved numbers and the
// pending/delivered tallies.
func (d *DB) ListDeliveries(ctx context.Context) ([]models.RaffleDeliveries, error) {
	var rows []deliveryRow
	err := d.Bun.NewSelect().
		ColumnExpr("r.id AS raffle_id").
		ColumnExpr("r.description AS description").
		ColumnExpr("r.lifecycle AS lifecycle").
		ColumnExpr("r.capacity AS capacity").
		ColumnExpr("r.created_at AS raffle_created_at").
		ColumnExpr("u.id AS user_id").
		ColumnExpr("u.name AS user_name").
		ColumnExpr("u.email AS user_email").
		ColumnExpr("u.phone AS user_phone").
		ColumnExpr("ad.status AS status").
		ColumnExpr("ad.delivered_at AS delivered_at").
		ColumnExpr("nr.number AS number").
		TableExpr("account_deliveries AS ad").
		Join("JOIN raffles AS r ON r.id = ad.raffle_id").
		Join("JOIN users AS u ON u.id = ad.user_id").
		Join("JOIN number_reservations AS nr ON nr.raffle_id = ad.raffle_id AND nr.user_id = ad.user_id AND nr.status = ?", models.ReservationApproved).
		OrderExpr("r.created_at DESC, u.name ASC, nr.number ASC").
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}

	// One row per (raffle, user, number); fold into the grouped shape here
	// rather than leaning on dialect-specific array aggregation.
	var out []models.RaffleDeliveries
	raffleIdx := make(map[string]int)
	entryIdx := make(map[string]int)

	for _, row := range rows {
		ri, ok := raffleIdx[row.RaffleID]
		if !ok {
			out = append(out, models.RaffleDeliveries{
				RaffleID:    row.RaffleID,
				Description: row.Description,
				Lifecycle:   row.Lifecycle,
				Capacity:    row.Capacity,
			})
			ri = len(out) - 1
			raffleIdx[row.RaffleID] = ri
		}

		key := row.RaffleID + "/" + row.UserID
		ei, ok := entryIdx[key]
		if !ok {
			out[ri].Participants = append(out[ri].Participants, models.DeliveryEntry{
				UserID:      row.UserID,
				UserName:    row.UserName,
				UserEmail:   row.UserEmail,
				UserPhone:   row.UserPhone,
				Status:      row.Status,
				DeliveredAt: row.DeliveredAt,
			})
			ei = len(out[ri].Participants) - 1
			entryIdx[key] = ei
			if row.Status == models.DeliveryDelivered {
				out[ri].Delivered++
			} else {
				out[ri].Pending++
			}
		}
		out[ri].Participants[ei].Numbers = append(out[ri].Participants[ei].Numbers, row.Number)
	}

	return out, nil
}
