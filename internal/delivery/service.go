package delivery

import (
	"context"
	"fmt"

	"ms-raffle/internal/logger"
	"ms-raffle/internal/models"
)

// DBLayer is the slice of the store the delivery tracker needs.
type DBLayer interface {
	MarkDelivered(ctx context.Context, raffleID, userID, adminID string) (*models.AccountDelivery, error)
	ListDeliveries(ctx context.Context) ([]models.RaffleDeliveries, error)
}

// Service tracks post-win account handovers.
type Service struct {
	DB     DBLayer
	Logger *logger.Logger
}

func NewService(db DBLayer, log *logger.Logger) *Service {
	return &Service{DB: db, Logger: log}
}

// MarkDelivered records that an admin handed the account over to the user.
// Marking an already delivered row again just overwrites who delivered it.
func (s *Service) MarkDelivered(ctx context.Context, raffleID, userID, adminID string) (*models.AccountDelivery, error) {
	record, err := s.DB.MarkDelivered(ctx, raffleID, userID, adminID)
	if err != nil {
		return nil, err
	}
	s.Logger.Info("DELIVERY", fmt.Sprintf("Account delivered to user %s for raffle %s by %s", userID, raffleID, adminID))
	return record, nil
}

// Overview returns every raffle with its participants' delivery state,
// grouped for the admin dashboard.
func (s *Service) Overview(ctx context.Context) ([]models.RaffleDeliveries, error) {
	return s.DB.ListDeliveries(ctx)
}
