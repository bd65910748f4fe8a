package raffle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ms-raffle/internal/kafka"
	"ms-raffle/internal/logger"
	"ms-raffle/internal/models"
)

// DBLayer is the ledger-store contract the service runs against. Every
// mutating method executes as one atomic transaction; implementations
// serialize conflicting calls through row locks and conditional updates.
type DBLayer interface {
	CreateRaffle(ctx context.Context, raffle *models.Raffle) error
	GetRaffle(ctx context.Context, raffleID string) (*models.Raffle, error)
	ActivateRaffle(ctx context.Context, raffleID string) error
	ListOpenRaffles(ctx context.Context) ([]models.RaffleSummary, error)
	GetRaffleDetail(ctx context.Context, raffleID string) (*models.RaffleDetail, error)
	ApprovedNumbers(ctx context.Context, raffleID string) ([]int, error)

	ReserveNumbers(ctx context.Context, raffleID, userID string, numbers []int, proofURL string) error
	UserReservations(ctx context.Context, userID string) ([]models.UserReservation, error)
	PendingReservations(ctx context.Context) ([]models.PendingReservation, error)
	ApproveReservation(ctx context.Context, reservationID string) (*models.ApprovalOutcome, error)
	RejectReservation(ctx context.Context, reservationID string) error

	ScheduleDraw(ctx context.Context, raffleID string, at time.Time) (*models.Raffle, error)
	RunDraw(ctx context.Context, raffleID, adminID string, picker models.WinnerPicker, now time.Time) (*models.DrawOutcome, error)
	DrawStatus(ctx context.Context, raffleID string) (*models.DrawStatus, error)
	DrawParticipants(ctx context.Context, raffleID string) ([]models.DrawCandidate, error)
	GetDrawAudit(ctx context.Context, raffleID string) (*models.DrawAudit, error)

	UpsertUser(ctx context.Context, user models.User) error
}

type KafkaPublisher interface {
	Publish(topic string, key string, value []byte) error
}

// ProofUploader is the media collaborator: it stores raw proof-of-payment
// content and returns a stable reference. The core persists only the
// reference.
type ProofUploader interface {
	Upload(ctx context.Context, userID, raffleID, content string) (string, error)
}

type RaffleService struct {
	DB     DBLayer
	Kafka  KafkaPublisher
	Media  ProofUploader
	Logger *logger.Logger

	picker models.WinnerPicker
	now    func() time.Time
}

func NewRaffleService(db DBLayer, kafkaPub KafkaPublisher, media ProofUploader, log *logger.Logger) *RaffleService {
	return &RaffleService{
		DB:     db,
		Kafka:  kafkaPub,
		Media:  media,
		Logger: log,
		picker: NewPicker(),
		now:    time.Now,
	}
}

// ---------------- RAFFLES ----------------

type CreateRaffleRequest struct {
	Description string  `json:"description"`
	Prize       string  `json:"prize"`
	Capacity    int     `json:"capacity"`
	NumberPrice float64 `json:"number_price"`
	Policy      string  `json:"policy"`
	Draft       bool    `json:"draft"`
}

func (s *RaffleService) CreateRaffle(ctx context.Context, req CreateRaffleRequest) (*models.Raffle, error) {
	if req.Description == "" || req.Capacity < 1 {
		return nil, models.ErrInvalidRaffle
	}
	policy := models.DrawPolicy(req.Policy)
	if req.Policy == "" {
		policy = models.PolicyWeightedByTicket
	}
	if !policy.Valid() {
		return nil, fmt.Errorf("policy %q: %w", req.Policy, models.ErrInvalidRaffle)
	}

	lifecycle := models.RaffleActive
	if req.Draft {
		lifecycle = models.RaffleDraft
	}
	raffle := &models.Raffle{
		Description: req.Description,
		Prize:       req.Prize,
		Capacity:    req.Capacity,
		NumberPrice: req.NumberPrice,
		Lifecycle:   lifecycle,
		DrawState:   models.DrawNotScheduled,
		Policy:      policy,
	}
	if err := s.DB.CreateRaffle(ctx, raffle); err != nil {
		return nil, err
	}
	s.Logger.Info("RAFFLE", fmt.Sprintf("created raffle %s (capacity=%d, policy=%s)", raffle.ID, raffle.Capacity, raffle.Policy))
	return raffle, nil
}

func (s *RaffleService) ActivateRaffle(ctx context.Context, raffleID string) error {
	return s.DB.ActivateRaffle(ctx, raffleID)
}

func (s *RaffleService) ListOpenRaffles(ctx context.Context) ([]models.RaffleSummary, error) {
	return s.DB.ListOpenRaffles(ctx)
}

func (s *RaffleService) GetRaffleDetail(ctx context.Context, raffleID string) (*models.RaffleDetail, error) {
	return s.DB.GetRaffleDetail(ctx, raffleID)
}

// ---------------- RESERVATIONS ----------------

type ReserveRequest struct {
	Numbers []int `json:"numbers"`
	// Proof is inline base64 proof-of-payment content; uploaded to the media
	// collaborator before the reservation transaction.
	Proof string `json:"proof,omitempty"`
	// ProofURL is an already-stored reference, accepted as-is.
	ProofURL string `json:"proof_url,omitempty"`
}

type ReserveResult struct {
	RaffleID string `json:"raffle_id"`
	Numbers  []int  `json:"numbers"`
	ProofURL string `json:"proof_url,omitempty"`
}

// Reserve validates the requested set, stores the proof artifact, and runs
// the all-or-nothing reservation transaction.
func (s *RaffleService) Reserve(ctx context.Context, identity models.Identity, raffleID string, req ReserveRequest) (*ReserveResult, error) {
	if len(req.Numbers) < 1 || len(req.Numbers) > 5 {
		return nil, models.ErrInvalidNumberCount
	}
	seen := make(map[int]bool, len(req.Numbers))
	for _, n := range req.Numbers {
		if seen[n] {
			return nil, models.ErrInvalidNumberCount
		}
		seen[n] = true
	}

	proofURL := req.ProofURL
	if req.Proof != "" {
		if s.Media == nil {
			return nil, fmt.Errorf("inline proof upload is not configured")
		}
		url, err := s.Media.Upload(ctx, identity.ID, raffleID, req.Proof)
		if err != nil {
			return nil, fmt.Errorf("failed to store payment proof: %w", err)
		}
		proofURL = url
	}

	// Mirror the caller's identity so review listings and draw audits can
	// show who holds each number.
	if err := s.DB.UpsertUser(ctx, identity.User()); err != nil {
		return nil, err
	}

	if err := s.DB.ReserveNumbers(ctx, raffleID, identity.ID, req.Numbers, proofURL); err != nil {
		return nil, err
	}
	s.Logger.Info("RAFFLE", fmt.Sprintf("user %s reserved %v in raffle %s", identity.ID, req.Numbers, raffleID))

	s.publish(kafka.TopicReservations, raffleID, map[string]interface{}{
		"raffle_id": raffleID,
		"user_id":   identity.ID,
		"numbers":   req.Numbers,
	})

	return &ReserveResult{RaffleID: raffleID, Numbers: req.Numbers, ProofURL: proofURL}, nil
}

func (s *RaffleService) MyReservations(ctx context.Context, userID string) ([]models.UserReservation, error) {
	return s.DB.UserReservations(ctx, userID)
}

func (s *RaffleService) PendingReservations(ctx context.Context) ([]models.PendingReservation, error) {
	return s.DB.PendingReservations(ctx)
}

// Approve flips a pending reservation to approved and reports the outcome.
// When this approval fills the raffle, a raffle.full event goes out.
func (s *RaffleService) Approve(ctx context.Context, reservationID string) (*models.ApprovalOutcome, error) {
	outcome, err := s.DB.ApproveReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	s.Logger.Info("RAFFLE", fmt.Sprintf("approved reservation %s (raffle %s, approved=%d)", reservationID, outcome.RaffleID, outcome.ApprovedCount))

	if outcome.BecameFull {
		s.Logger.Info("RAFFLE", fmt.Sprintf("raffle %s is full", outcome.RaffleID))
		s.publish(kafka.TopicRaffleFull, outcome.RaffleID, map[string]interface{}{
			"raffle_id":      outcome.RaffleID,
			"approved_count": outcome.ApprovedCount,
		})
	}
	return outcome, nil
}

func (s *RaffleService) Reject(ctx context.Context, reservationID string) error {
	if err := s.DB.RejectReservation(ctx, reservationID); err != nil {
		return err
	}
	s.Logger.Info("RAFFLE", fmt.Sprintf("rejected reservation %s", reservationID))
	return nil
}

// publish sends a domain event; broker failures are logged, never fatal to
// the committed operation.
func (s *RaffleService) publish(topic, key string, payload interface{}) {
	if s.Kafka == nil {
		return
	}
	value, err := json.Marshal(payload)
	if err != nil {
		s.Logger.Error("KAFKA", fmt.Sprintf("failed to marshal %s event: %v", topic, err))
		return
	}
	if err := s.Kafka.Publish(topic, key, value); err != nil {
		s.Logger.Error("KAFKA", fmt.Sprintf("failed to publish %s event: %v", topic, err))
	}
}
