package delivery_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"ms-raffle/internal/delivery"
	"ms-raffle/internal/logger"
	"ms-raffle/internal/models"
)

// MockDeliveryDBLayer is a mock implementation of the delivery DBLayer interface
type MockDeliveryDBLayer struct {
	mock.Mock
}

func (m *MockDeliveryDBLayer) MarkDelivered(ctx context.Context, raffleID, userID, adminID string) (*models.AccountDelivery, error) {
	args := m.Called(ctx, raffleID, userID, adminID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AccountDelivery), args.Error(1)
}

func (m *MockDeliveryDBLayer) ListDeliveries(ctx context.Context) ([]models.RaffleDeliveries, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.RaffleDeliveries), args.Error(1)
}

func TestMarkDelivered(t *testing.T) {
	mockDB := new(MockDeliveryDBLayer)
	svc := delivery.NewService(mockDB, logger.NewLogger())

	now := time.Now()
	admin := "admin-1"
	expected := &models.AccountDelivery{
		ID:          "del-1",
		RaffleID:    "raffle-1",
		UserID:      "user-1",
		Status:      models.DeliveryDelivered,
		DeliveredBy: &admin,
		DeliveredAt: &now,
	}

	mockDB.On("MarkDelivered", mock.Anything, "raffle-1", "user-1", "admin-1").Return(expected, nil)

	record, err := svc.MarkDelivered(context.Background(), "raffle-1", "user-1", "admin-1")
	assert.NoError(t, err)
	assert.Equal(t, models.DeliveryDelivered, record.Status)
	assert.Equal(t, "admin-1", *record.DeliveredBy)
	mockDB.AssertExpectations(t)
}

func TestMarkDeliveredNotFound(t *testing.T) {
	mockDB := new(MockDeliveryDBLayer)
	svc := delivery.NewService(mockDB, logger.NewLogger())

	mockDB.On("MarkDelivered", mock.Anything, "raffle-1", "ghost", "admin-1").Return(nil, models.ErrNotFound)

	_, err := svc.MarkDelivered(context.Background(), "raffle-1", "ghost", "admin-1")
	assert.ErrorIs(t, err, models.ErrNotFound)
	mockDB.AssertExpectations(t)
}

func TestOverview(t *testing.T) {
	mockDB := new(MockDeliveryDBLayer)
	svc := delivery.NewService(mockDB, logger.NewLogger())

	overview := []models.RaffleDeliveries{
		{
			RaffleID:    "raffle-1",
			Description: "Console giveaway",
			Lifecycle:   models.RaffleFull,
			Capacity:    100,
			Pending:     1,
			Delivered:   1,
			Participants: []models.DeliveryEntry{
				{UserID: "user-1", Numbers: []int{3, 7}, Status: models.DeliveryDelivered},
				{UserID: "user-2", Numbers: []int{12}, Status: models.DeliveryPending},
			},
		},
	}

	mockDB.On("ListDeliveries", mock.Anything).Return(overview, nil)

	got, err := svc.Overview(context.Background())
	assert.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Pending)
	assert.Equal(t, 1, got[0].Delivered)
	mockDB.AssertExpectations(t)
}
