package raffle

import (
	"context"
	"fmt"
	"time"

	"ms-raffle/internal/kafka"
	"ms-raffle/internal/models"
)

const defaultScheduleMinutes = 10

type ScheduleRequest struct {
	// Minutes schedules the draw that many minutes from now; minimum 1.
	Minutes int `json:"minutes,omitempty"`
	// At is an absolute instant and takes precedence over Minutes.
	At *time.Time `json:"at,omitempty"`
}

// ScheduleDraw resolves the requested time to an absolute UTC instant and
// stores it on the raffle. Only a full raffle with no scheduled or executed
// draw accepts a schedule.
func (s *RaffleService) ScheduleDraw(ctx context.Context, raffleID string, req ScheduleRequest) (*models.Raffle, error) {
	var at time.Time
	switch {
	case req.At != nil:
		at = req.At.UTC()
	case req.Minutes < 0:
		return nil, models.ErrInvalidSchedule
	default:
		minutes := req.Minutes
		if minutes == 0 {
			minutes = defaultScheduleMinutes
		}
		if minutes < 1 {
			return nil, models.ErrInvalidSchedule
		}
		at = s.now().UTC().Add(time.Duration(minutes) * time.Minute)
	}

	raffle, err := s.DB.ScheduleDraw(ctx, raffleID, at)
	if err != nil {
		return nil, err
	}
	s.Logger.Info("DRAW", fmt.Sprintf("raffle %s draw scheduled for %s", raffleID, at.Format(time.RFC3339)))
	return raffle, nil
}

// RunDraw executes the draw for a due, scheduled raffle and publishes the
// result. At most one draw ever succeeds per raffle.
func (s *RaffleService) RunDraw(ctx context.Context, raffleID, adminID string) (*models.DrawOutcome, error) {
	outcome, err := s.DB.RunDraw(ctx, raffleID, adminID, s.picker, s.now())
	if err != nil {
		return nil, err
	}
	s.Logger.Info("DRAW", fmt.Sprintf("raffle %s drawn: number %d (user %s, policy %s)",
		raffleID, outcome.WinningNumber, outcome.Winner.UserID, outcome.Policy))

	s.publish(kafka.TopicDraws, raffleID, map[string]interface{}{
		"raffle_id":      raffleID,
		"winning_number": outcome.WinningNumber,
		"winner_user_id": outcome.Winner.UserID,
		"policy":         outcome.Policy,
		"executed_at":    outcome.ExecutedAt,
	})
	return outcome, nil
}

func (s *RaffleService) DrawStatus(ctx context.Context, raffleID string) (*models.DrawStatus, error) {
	return s.DB.DrawStatus(ctx, raffleID)
}

func (s *RaffleService) DrawParticipants(ctx context.Context, raffleID string) ([]models.DrawCandidate, error) {
	return s.DB.DrawParticipants(ctx, raffleID)
}

func (s *RaffleService) ApprovedNumbers(ctx context.Context, raffleID string) ([]int, error) {
	return s.DB.ApprovedNumbers(ctx, raffleID)
}

// DrawReceipt returns the audited outcome of a finalized draw, for the
// winner-receipt QR.
func (s *RaffleService) DrawReceipt(ctx context.Context, raffleID string) (*models.DrawOutcome, error) {
	audit, err := s.DB.GetDrawAudit(ctx, raffleID)
	if err != nil {
		return nil, err
	}
	outcome := &models.DrawOutcome{
		RaffleID:       audit.RaffleID,
		Policy:         audit.Policy,
		WinningNumber:  audit.WinningNumber,
		TopBuyerUserID: audit.TopBuyerUserID,
		ExecutedAt:     audit.ExecutedAt,
	}
	for _, c := range audit.Participants {
		if c.Number == audit.WinningNumber {
			outcome.Winner = c
			break
		}
	}
	return outcome, nil
}
