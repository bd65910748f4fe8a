package raffle_api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"ms-raffle/internal/auth"
	"ms-raffle/internal/delivery"
	"ms-raffle/internal/logger"
	"ms-raffle/internal/models"
	"ms-raffle/internal/raffle"
	"ms-raffle/internal/raffle/qr"
)

type Handler struct {
	RaffleService   *raffle.RaffleService
	DeliveryService *delivery.Service
	Receipts        *qr.ReceiptGenerator
	Logger          *logger.Logger
}

func NewHandler(raffleService *raffle.RaffleService, deliveryService *delivery.Service, log *logger.Logger) *Handler {
	secretKey := os.Getenv("QR_SECRET_KEY")
	return &Handler{
		RaffleService:   raffleService,
		DeliveryService: deliveryService,
		Receipts:        qr.NewReceiptGenerator(secretKey),
		Logger:          log,
	}
}

// writeError maps domain errors onto HTTP statuses. Anything outside the
// sentinel set is a store failure.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case models.IsValidation(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, models.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case models.IsConflict(err):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.Logger.Error("API", fmt.Sprintf("internal error: %v", err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ---------------- RAFFLES ----------------

func (h *Handler) CreateRaffle(w http.ResponseWriter, r *http.Request) {
	var req raffle.CreateRaffleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	created, err := h.RaffleService.CreateRaffle(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) ActivateRaffle(w http.ResponseWriter, r *http.Request) {
	raffleID := chi.URLParam(r, "raffleID")
	if err := h.RaffleService.ActivateRaffle(r.Context(), raffleID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Raffle activated"))
}

func (h *Handler) ListRaffles(w http.ResponseWriter, r *http.Request) {
	raffles, err := h.RaffleService.ListOpenRaffles(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, raffles)
}

func (h *Handler) GetRaffle(w http.ResponseWriter, r *http.Request) {
	raffleID := chi.URLParam(r, "raffleID")
	detail, err := h.RaffleService.GetRaffleDetail(r.Context(), raffleID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// ---------------- RESERVATIONS ----------------

func (h *Handler) Reserve(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFrom(r.Context())
	if !ok {
		http.Error(w, "Authorization required", http.StatusUnauthorized)
		return
	}
	raffleID := chi.URLParam(r, "raffleID")

	var req raffle.ReserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.RaffleService.Reserve(r.Context(), identity, raffleID, req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) MyReservations(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFrom(r.Context())
	if !ok {
		http.Error(w, "Authorization required", http.StatusUnauthorized)
		return
	}
	reservations, err := h.RaffleService.MyReservations(r.Context(), identity.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reservations)
}

func (h *Handler) PendingReservations(w http.ResponseWriter, r *http.Request) {
	pending, err := h.RaffleService.PendingReservations(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

func (h *Handler) ApproveReservation(w http.ResponseWriter, r *http.Request) {
	reservationID := chi.URLParam(r, "reservationID")
	outcome, err := h.RaffleService.Approve(r.Context(), reservationID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (h *Handler) RejectReservation(w http.ResponseWriter, r *http.Request) {
	reservationID := chi.URLParam(r, "reservationID")
	if err := h.RaffleService.Reject(r.Context(), reservationID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Reservation rejected"))
}

// ---------------- DRAWS ----------------

func (h *Handler) ScheduleDraw(w http.ResponseWriter, r *http.Request) {
	raffleID := chi.URLParam(r, "raffleID")

	var req raffle.ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	scheduled, err := h.RaffleService.ScheduleDraw(r.Context(), raffleID, req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scheduled)
}

func (h *Handler) RunDraw(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFrom(r.Context())
	if !ok {
		http.Error(w, "Authorization required", http.StatusUnauthorized)
		return
	}
	raffleID := chi.URLParam(r, "raffleID")

	outcome, err := h.RaffleService.RunDraw(r.Context(), raffleID, identity.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (h *Handler) DrawStatus(w http.ResponseWriter, r *http.Request) {
	raffleID := chi.URLParam(r, "raffleID")
	status, err := h.RaffleService.DrawStatus(r.Context(), raffleID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) DrawNumbers(w http.ResponseWriter, r *http.Request) {
	raffleID := chi.URLParam(r, "raffleID")
	numbers, err := h.RaffleService.ApprovedNumbers(r.Context(), raffleID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"raffle_id": raffleID,
		"numbers":   numbers,
	})
}

func (h *Handler) DrawParticipants(w http.ResponseWriter, r *http.Request) {
	raffleID := chi.URLParam(r, "raffleID")
	participants, err := h.RaffleService.DrawParticipants(r.Context(), raffleID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, participants)
}

// WinnerReceipt returns the encrypted QR image for a finalized draw.
func (h *Handler) WinnerReceipt(w http.ResponseWriter, r *http.Request) {
	raffleID := chi.URLParam(r, "raffleID")
	outcome, err := h.RaffleService.DrawReceipt(r.Context(), raffleID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	png, err := h.Receipts.GenerateWinnerQR(*outcome)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("failed to generate winner receipt: %v", err))
		http.Error(w, "failed to generate receipt", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// ---------------- DELIVERIES ----------------

func (h *Handler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	overview, err := h.DeliveryService.Overview(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

func (h *Handler) MarkDelivered(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFrom(r.Context())
	if !ok {
		http.Error(w, "Authorization required", http.StatusUnauthorized)
		return
	}
	raffleID := chi.URLParam(r, "raffleID")
	userID := chi.URLParam(r, "userID")

	record, err := h.DeliveryService.MarkDelivered(r.Context(), raffleID, userID, identity.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}
