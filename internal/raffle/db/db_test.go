package db_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"

	"ms-raffle/internal/models"
	"ms-raffle/internal/raffle/db"
)

func setupTestDB(t *testing.T) (*db.DB, *bun.DB) {
	// Connect to an in-memory SQLite DB for testing
	sqldb, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to connect to in-memory database: %v", err)
	}
	// A single connection keeps the :memory: database alive and serializes
	// the concurrent test writers the way row locks do on postgres.
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())

	if err := db.CreateSchema(context.Background(), bunDB); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}

	return &db.DB{Bun: bunDB}, bunDB
}

func createTestRaffle(t *testing.T, store *db.DB, capacity int) *models.Raffle {
	raffle := &models.Raffle{
		Description: "Test raffle",
		Prize:       "Gaming account",
		Capacity:    capacity,
		NumberPrice: 5.0,
		Lifecycle:   models.RaffleActive,
		DrawState:   models.DrawNotScheduled,
		Policy:      models.PolicyWeightedByTicket,
	}
	err := store.CreateRaffle(context.Background(), raffle)
	assert.NoError(t, err)
	return raffle
}

func createTestUser(t *testing.T, store *db.DB, id, name string) {
	err := store.UpsertUser(context.Background(), models.User{
		ID:    id,
		Name:  name,
		Email: id + "@example.com",
		Phone: "+1555" + id,
	})
	assert.NoError(t, err)
}

// fixedPicker always selects the candidate at the given index.
type fixedPicker struct {
	index int
}

func (p fixedPicker) Pick(policy models.DrawPolicy, candidates []models.DrawCandidate) (models.DrawSelection, error) {
	c := candidates[p.index]
	return models.DrawSelection{
		WinningNumber:  c.Number,
		WinnerUserID:   c.UserID,
		TopBuyerUserID: c.UserID,
	}, nil
}

func reservationsFor(t *testing.T, bunDB *bun.DB, raffleID string) []models.NumberReservation {
	var rows []models.NumberReservation
	err := bunDB.NewSelect().
		Model(&rows).
		Where("raffle_id = ?", raffleID).
		Order("number ASC").
		Scan(context.Background())
	assert.NoError(t, err)
	return rows
}

func TestReserveNumbers(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()

	raffle := createTestRaffle(t, store, 100)
	createTestUser(t, store, "user-1", "Alice")

	err := store.ReserveNumbers(context.Background(), raffle.ID, "user-1", []int{3, 7, 50}, "https://cdn/proof1.png")
	assert.NoError(t, err)

	rows := reservationsFor(t, bunDB, raffle.ID)
	assert.Len(t, rows, 3)
	for _, row := range rows {
		assert.Equal(t, models.ReservationPending, row.Status)
		assert.Equal(t, "user-1", row.UserID)
		assert.Equal(t, "https://cdn/proof1.png", row.ProofURL)
	}
}

func TestReserveNumbersTaken(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()

	raffle := createTestRaffle(t, store, 100)
	createTestUser(t, store, "user-1", "Alice")
	createTestUser(t, store, "user-2", "Bob")

	err := store.ReserveNumbers(context.Background(), raffle.ID, "user-1", []int{7}, "")
	assert.NoError(t, err)

	// Pending rows block everyone, the holder included.
	err = store.ReserveNumbers(context.Background(), raffle.ID, "user-2", []int{7}, "")
	assert.ErrorIs(t, err, models.ErrNumberTaken)
	err = store.ReserveNumbers(context.Background(), raffle.ID, "user-1", []int{7}, "")
	assert.ErrorIs(t, err, models.ErrNumberTaken)
}

func TestReserveNumbersAllOrNothing(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()

	raffle := createTestRaffle(t, store, 100)
	createTestUser(t, store, "user-1", "Alice")
	createTestUser(t, store, "user-2", "Bob")

	err := store.ReserveNumbers(context.Background(), raffle.ID, "user-1", []int{10}, "")
	assert.NoError(t, err)

	// 10 is taken, so neither 9 nor 11 may be written.
	err = store.ReserveNumbers(context.Background(), raffle.ID, "user-2", []int{9, 10, 11}, "")
	assert.ErrorIs(t, err, models.ErrNumberTaken)

	rows := reservationsFor(t, bunDB, raffle.ID)
	assert.Len(t, rows, 1)
	assert.Equal(t, 10, rows[0].Number)
	assert.Equal(t, "user-1", rows[0].UserID)
}

func TestReserveNumbersOutOfRange(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()

	raffle := createTestRaffle(t, store, 50)
	createTestUser(t, store, "user-1", "Alice")

	err := store.ReserveNumbers(context.Background(), raffle.ID, "user-1", []int{20, 51}, "")
	assert.ErrorIs(t, err, models.ErrInvalidNumber)

	err = store.ReserveNumbers(context.Background(), raffle.ID, "user-1", []int{0}, "")
	assert.ErrorIs(t, err, models.ErrInvalidNumber)

	assert.Empty(t, reservationsFor(t, bunDB, raffle.ID))
}

func TestReserveNumbersRaffleNotActive(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()

	createTestUser(t, store, "user-1", "Alice")

	draft := &models.Raffle{
		Description: "Draft raffle",
		Prize:       "Account",
		Capacity:    10,
		Lifecycle:   models.RaffleDraft,
		DrawState:   models.DrawNotScheduled,
		Policy:      models.PolicyWeightedByTicket,
	}
	assert.NoError(t, store.CreateRaffle(context.Background(), draft))

	err := store.ReserveNumbers(context.Background(), draft.ID, "user-1", []int{1}, "")
	assert.ErrorIs(t, err, models.ErrRaffleUnavailable)

	err = store.ReserveNumbers(context.Background(), "missing-raffle", "user-1", []int{1}, "")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestRecycleRejectedReservation(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()

	raffle := createTestRaffle(t, store, 100)
	createTestUser(t, store, "user-1", "Alice")
	createTestUser(t, store, "user-2", "Bob")

	err := store.ReserveNumbers(context.Background(), raffle.ID, "user-1", []int{7}, "proof-a")
	assert.NoError(t, err)

	rows := reservationsFor(t, bunDB, raffle.ID)
	originalID := rows[0].ID

	assert.NoError(t, store.RejectReservation(context.Background(), originalID))

	// The rejected row is reused for the new holder, not duplicated.
	err = store.ReserveNumbers(context.Background(), raffle.ID, "user-2", []int{7}, "proof-b")
	assert.NoError(t, err)

	rows = reservationsFor(t, bunDB, raffle.ID)
	assert.Len(t, rows, 1)
	assert.Equal(t, originalID, rows[0].ID)
	assert.Equal(t, "user-2", rows[0].UserID)
	assert.Equal(t, models.ReservationPending, rows[0].Status)
	assert.Equal(t, "proof-b", rows[0].ProofURL)
}

func TestConcurrentReserveSameNumber(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()

	raffle := createTestRaffle(t, store, 100)
	createTestUser(t, store, "user-1", "Alice")
	createTestUser(t, store, "user-2", "Bob")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, userID := range []string{"user-1", "user-2"} {
		wg.Add(1)
		go func(i int, userID string) {
			defer wg.Done()
			errs[i] = store.ReserveNumbers(context.Background(), raffle.ID, userID, []int{42}, "")
		}(i, userID)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, models.ErrNumberTaken)
		}
	}
	assert.Equal(t, 1, succeeded)

	rows := reservationsFor(t, bunDB, raffle.ID)
	assert.Len(t, rows, 1)
}

func TestApproveReservation(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()

	raffle := createTestRaffle(t, store, 100)
	createTestUser(t, store, "user-1", "Alice")

	assert.NoError(t, store.ReserveNumbers(context.Background(), raffle.ID, "user-1", []int{5, 6}, ""))
	rows := reservationsFor(t, bunDB, raffle.ID)

	outcome, err := store.ApproveReservation(context.Background(), rows[0].ID)
	assert.NoError(t, err)
	assert.Equal(t, raffle.ID, outcome.RaffleID)
	assert.Equal(t, "user-1", outcome.UserID)
	assert.Equal(t, 1, outcome.ApprovedCount)
	assert.False(t, outcome.BecameFull)

	// Second approval must not be re-processable.
	_, err = store.ApproveReservation(context.Background(), rows[0].ID)
	assert.ErrorIs(t, err, models.ErrAlreadyProcessed)

	_, err = store.ApproveReservation(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestApproveCreatesOneDeliveryPerUser(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()

	raffle := createTestRaffle(t, store, 100)
	createTestUser(t, store, "user-1", "Alice")

	assert.NoError(t, store.ReserveNumbers(context.Background(), raffle.ID, "user-1", []int{5, 6}, ""))
	rows := reservationsFor(t, bunDB, raffle.ID)

	for _, row := range rows {
		_, err := store.ApproveReservation(context.Background(), row.ID)
		assert.NoError(t, err)
	}

	count, err := bunDB.NewSelect().
		Model((*models.AccountDelivery)(nil)).
		Where("raffle_id = ?", raffle.ID).
		Where("user_id = ?", "user-1").
		Count(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestFullnessFlipsOnce(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()

	raffle := createTestRaffle(t, store, 2)
	createTestUser(t, store, "user-1", "Alice")
	createTestUser(t, store, "user-2", "Bob")

	assert.NoError(t, store.ReserveNumbers(context.Background(), raffle.ID, "user-1", []int{1}, ""))
	assert.NoError(t, store.ReserveNumbers(context.Background(), raffle.ID, "user-2", []int{2}, ""))
	rows := reservationsFor(t, bunDB, raffle.ID)

	first, err := store.ApproveReservation(context.Background(), rows[0].ID)
	assert.NoError(t, err)
	assert.False(t, first.BecameFull)

	second, err := store.ApproveReservation(context.Background(), rows[1].ID)
	assert.NoError(t, err)
	assert.True(t, second.BecameFull)
	assert.Equal(t, 2, second.ApprovedCount)

	got, err := store.GetRaffle(context.Background(), raffle.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.RaffleFull, got.Lifecycle)
}

func TestConcurrentLastApprovals(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()

	raffle := createTestRaffle(t, store, 2)
	createTestUser(t, store, "user-1", "Alice")
	createTestUser(t, store, "user-2", "Bob")

	assert.NoError(t, store.ReserveNumbers(context.Background(), raffle.ID, "user-1", []int{1}, ""))
	assert.NoError(t, store.ReserveNumbers(context.Background(), raffle.ID, "user-2", []int{2}, ""))
	rows := reservationsFor(t, bunDB, raffle.ID)

	var wg sync.WaitGroup
	outcomes := make([]*models.ApprovalOutcome, 2)
	for i, row := range rows {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			outcome, err := store.ApproveReservation(context.Background(), id)
			assert.NoError(t, err)
			outcomes[i] = outcome
		}(i, row.ID)
	}
	wg.Wait()

	// Exactly one approval observes the transition to full.
	flips := 0
	for _, outcome := range outcomes {
		if outcome != nil && outcome.BecameFull {
			flips++
		}
	}
	assert.Equal(t, 1, flips)
}

func TestRejectReservation(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()

	raffle := createTestRaffle(t, store, 100)
	createTestUser(t, store, "user-1", "Alice")

	assert.NoError(t, store.ReserveNumbers(context.Background(), raffle.ID, "user-1", []int{9}, ""))
	rows := reservationsFor(t, bunDB, raffle.ID)

	assert.NoError(t, store.RejectReservation(context.Background(), rows[0].ID))
	rows = reservationsFor(t, bunDB, raffle.ID)
	assert.Equal(t, models.ReservationRejected, rows[0].Status)

	// Rejecting a non-pending row is a no-op, not an error.
	assert.NoError(t, store.RejectReservation(context.Background(), rows[0].ID))
	rows = reservationsFor(t, bunDB, raffle.ID)
	assert.Equal(t, models.ReservationRejected, rows[0].Status)

	assert.ErrorIs(t, store.RejectReservation(context.Background(), "missing"), models.ErrNotFound)
}

func TestActivateRaffle(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()

	draft := &models.Raffle{
		Description: "Draft raffle",
		Prize:       "Account",
		Capacity:    10,
		Lifecycle:   models.RaffleDraft,
		DrawState:   models.DrawNotScheduled,
		Policy:      models.PolicyWeightedByTicket,
	}
	assert.NoError(t, store.CreateRaffle(context.Background(), draft))

	assert.NoError(t, store.ActivateRaffle(context.Background(), draft.ID))

	got, err := store.GetRaffle(context.Background(), draft.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.RaffleActive, got.Lifecycle)

	// Already active: conflict, not a silent success.
	assert.ErrorIs(t, store.ActivateRaffle(context.Background(), draft.ID), models.ErrRaffleUnavailable)
	assert.ErrorIs(t, store.ActivateRaffle(context.Background(), "missing"), models.ErrNotFound)
}

// fillRaffle reserves and approves every number so the raffle goes full.
func fillRaffle(t *testing.T, store *db.DB, bunDB *bun.DB, raffle *models.Raffle, users []string) {
	for i, userID := range users {
		createTestUser(t, store, userID, "User "+userID)
		assert.NoError(t, store.ReserveNumbers(context.Background(), raffle.ID, userID, []int{i + 1}, ""))
	}
	for _, row := range reservationsFor(t, bunDB, raffle.ID) {
		_, err := store.ApproveReservation(context.Background(), row.ID)
		assert.NoError(t, err)
	}
}

func TestScheduleDraw(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()

	raffle := createTestRaffle(t, store, 2)
	at := time.Now().UTC().Add(10 * time.Minute)

	// Not full yet.
	_, err := store.ScheduleDraw(context.Background(), raffle.ID, at)
	assert.ErrorIs(t, err, models.ErrRaffleUnavailable)

	fillRaffle(t, store, bunDB, raffle, []string{"user-1", "user-2"})

	scheduled, err := store.ScheduleDraw(context.Background(), raffle.ID, at)
	assert.NoError(t, err)
	assert.Equal(t, models.DrawScheduled, scheduled.DrawState)
	assert.NotNil(t, scheduled.ScheduledAt)

	// Scheduling again conflicts instead of moving the time.
	_, err = store.ScheduleDraw(context.Background(), raffle.ID, at.Add(time.Hour))
	assert.ErrorIs(t, err, models.ErrAlreadyScheduled)

	_, err = store.ScheduleDraw(context.Background(), "missing", at)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestRunDrawGuards(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()

	raffle := createTestRaffle(t, store, 2)
	fillRaffle(t, store, bunDB, raffle, []string{"user-1", "user-2"})

	now := time.Now().UTC()

	// Full but not scheduled.
	_, err := store.RunDraw(context.Background(), raffle.ID, "admin-1", fixedPicker{}, now)
	assert.ErrorIs(t, err, models.ErrNotScheduled)

	_, err = store.ScheduleDraw(context.Background(), raffle.ID, now.Add(10*time.Minute))
	assert.NoError(t, err)

	// Scheduled but not due.
	_, err = store.RunDraw(context.Background(), raffle.ID, "admin-1", fixedPicker{}, now)
	assert.ErrorIs(t, err, models.ErrNotYetDue)

	// Due: the draw succeeds exactly once.
	due := now.Add(11 * time.Minute)
	outcome, err := store.RunDraw(context.Background(), raffle.ID, "admin-1", fixedPicker{index: 1}, due)
	assert.NoError(t, err)
	assert.Equal(t, 2, outcome.WinningNumber)
	assert.Equal(t, "user-2", outcome.Winner.UserID)

	_, err = store.RunDraw(context.Background(), raffle.ID, "admin-1", fixedPicker{}, due)
	assert.ErrorIs(t, err, models.ErrAlreadyDrawn)

	// A finalized draw also rejects late schedule attempts.
	_, err = store.ScheduleDraw(context.Background(), raffle.ID, due.Add(time.Hour))
	assert.ErrorIs(t, err, models.ErrAlreadyDrawn)
}

func TestRunDrawWritesAudit(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()

	raffle := createTestRaffle(t, store, 2)
	fillRaffle(t, store, bunDB, raffle, []string{"user-1", "user-2"})

	now := time.Now().UTC()
	_, err := store.ScheduleDraw(context.Background(), raffle.ID, now)
	assert.NoError(t, err)

	outcome, err := store.RunDraw(context.Background(), raffle.ID, "admin-1", fixedPicker{}, now.Add(time.Minute))
	assert.NoError(t, err)

	audit, err := store.GetDrawAudit(context.Background(), raffle.ID)
	assert.NoError(t, err)
	assert.Equal(t, outcome.WinningNumber, audit.WinningNumber)
	assert.Equal(t, outcome.Winner.UserID, audit.WinnerUserID)
	assert.Equal(t, "admin-1", audit.ExecutedBy)
	assert.Len(t, audit.Participants, 2)

	got, err := store.GetRaffle(context.Background(), raffle.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.DrawFinalized, got.DrawState)
	assert.NotNil(t, got.WinningNumber)
	assert.Equal(t, outcome.WinningNumber, *got.WinningNumber)
}

func TestMarkDelivered(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()

	raffle := createTestRaffle(t, store, 2)
	fillRaffle(t, store, bunDB, raffle, []string{"user-1", "user-2"})

	record, err := store.MarkDelivered(context.Background(), raffle.ID, "user-1", "admin-1")
	assert.NoError(t, err)
	assert.Equal(t, models.DeliveryDelivered, record.Status)
	assert.NotNil(t, record.DeliveredBy)
	assert.Equal(t, "admin-1", *record.DeliveredBy)
	assert.NotNil(t, record.DeliveredAt)

	_, err = store.MarkDelivered(context.Background(), raffle.ID, "ghost", "admin-1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestListDeliveriesGrouping(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()

	raffle := createTestRaffle(t, store, 10)
	createTestUser(t, store, "user-1", "Alice")
	createTestUser(t, store, "user-2", "Bob")

	assert.NoError(t, store.ReserveNumbers(context.Background(), raffle.ID, "user-1", []int{1, 2}, ""))
	assert.NoError(t, store.ReserveNumbers(context.Background(), raffle.ID, "user-2", []int{3}, ""))
	for _, row := range reservationsFor(t, bunDB, raffle.ID) {
		_, err := store.ApproveReservation(context.Background(), row.ID)
		assert.NoError(t, err)
	}

	_, err := store.MarkDelivered(context.Background(), raffle.ID, "user-1", "admin-1")
	assert.NoError(t, err)

	overview, err := store.ListDeliveries(context.Background())
	assert.NoError(t, err)
	assert.Len(t, overview, 1)
	assert.Equal(t, 1, overview[0].Delivered)
	assert.Equal(t, 1, overview[0].Pending)
	assert.Len(t, overview[0].Participants, 2)

	for _, entry := range overview[0].Participants {
		switch entry.UserID {
		case "user-1":
			assert.Equal(t, models.DeliveryDelivered, entry.Status)
			assert.Equal(t, []int{1, 2}, entry.Numbers)
		case "user-2":
			assert.Equal(t, models.DeliveryPending, entry.Status)
			assert.Equal(t, []int{3}, entry.Numbers)
		}
	}
}

func TestProjections(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()

	raffle := createTestRaffle(t, store, 10)
	createTestUser(t, store, "user-1", "Alice")
	createTestUser(t, store, "user-2", "Bob")

	assert.NoError(t, store.ReserveNumbers(context.Background(), raffle.ID, "user-1", []int{1, 2}, "proof-a"))
	assert.NoError(t, store.ReserveNumbers(context.Background(), raffle.ID, "user-2", []int{3}, "proof-b"))

	rows := reservationsFor(t, bunDB, raffle.ID)
	_, err := store.ApproveReservation(context.Background(), rows[0].ID)
	assert.NoError(t, err)

	summaries, err := store.ListOpenRaffles(context.Background())
	assert.NoError(t, err)
	assert.Len(t, summaries, 1)
	assert.Equal(t, 1, summaries[0].ApprovedCount)

	detail, err := store.GetRaffleDetail(context.Background(), raffle.ID)
	assert.NoError(t, err)
	assert.Equal(t, []int{1}, detail.OccupiedNumbers)

	pending, err := store.PendingReservations(context.Background())
	assert.NoError(t, err)
	assert.Len(t, pending, 2)

	mine, err := store.UserReservations(context.Background(), "user-1")
	assert.NoError(t, err)
	assert.Len(t, mine, 2)

	approved, err := store.ApprovedNumbers(context.Background(), raffle.ID)
	assert.NoError(t, err)
	assert.Equal(t, []int{1}, approved)

	status, err := store.DrawStatus(context.Background(), raffle.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.DrawNotScheduled, status.DrawState)
	assert.Nil(t, status.Winner)
}

func TestUpsertUserRefreshesIdentity(t *testing.T) {
	store, bunDB := setupTestDB(t)
	defer bunDB.Close()

	createTestUser(t, store, "user-1", "Alice")
	assert.NoError(t, store.UpsertUser(context.Background(), models.User{
		ID:    "user-1",
		Name:  "Alice Updated",
		Email: "alice@new.example.com",
		Phone: "+1555999",
	}))

	var user models.User
	err := bunDB.NewSelect().
		Model(&user).
		Where("id = ?", "user-1").
		Scan(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "Alice Updated", user.Name)
	assert.Equal(t, "+1555999", user.Phone)

	count, err := bunDB.NewSelect().Model((*models.User)(nil)).Count(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, count)
}
