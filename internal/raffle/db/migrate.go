package db

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"ms-raffle/internal/models"
)

// CreateSchema bootstraps the raffle tables from the bun models. Used by the
// in-memory test stores and local development; production schemas go through
// the migrations runner.
func CreateSchema(ctx context.Context, bunDB *bun.DB) error {
	tables := []interface{}{
		(*models.User)(nil),
		(*models.Raffle)(nil),
		(*models.NumberReservation)(nil),
		(*models.DrawAudit)(nil),
		(*models.AccountDelivery)(nil),
	}
	for _, model := range tables {
		if _, err := bunDB.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table failed: %w", err)
		}
	}

	// Logical uniqueness backstops: one live row per (raffle, number), one
	// delivery record per (raffle, user).
	if _, err := bunDB.NewCreateIndex().
		Model((*models.NumberReservation)(nil)).
		Index("idx_reservations_raffle_number").
		Unique().
		Column("raffle_id", "number").
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("create reservation index failed: %w", err)
	}
	if _, err := bunDB.NewCreateIndex().
		Model((*models.AccountDelivery)(nil)).
		Index("idx_deliveries_raffle_user").
		Unique().
		Column("raffle_id", "user_id").
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("create delivery index failed: %w", err)
	}
	return nil
}
