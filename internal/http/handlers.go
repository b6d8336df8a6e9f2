package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/showtix/showtix/internal/booking"
	"github.com/showtix/showtix/internal/config"
	"github.com/showtix/showtix/internal/domain"
	"github.com/showtix/showtix/internal/idempotency"
)

type Handlers struct {
	cfg    *config.Config
	engine *booking.Engine
	idemp  *idempotency.Idempotency
}

func NewHandlers(cfg *config.Config, engine *booking.Engine, idemp *idempotency.Idempotency) *Handlers {
	return &Handlers{cfg: cfg, engine: engine, idemp: idemp}
}

type bookingResponse struct {
	ID          uuid.UUID  `json:"id"`
	UserID      uuid.UUID  `json:"user_id"`
	TicketID    uuid.UUID  `json:"ticket_id"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

func toBookingResponse(b *domain.Booking) bookingResponse {
	return bookingResponse{
		ID:          b.ID,
		UserID:      b.UserID,
		TicketID:    b.TicketID,
		Status:      string(b.Status),
		CreatedAt:   b.CreatedAt,
		ExpiresAt:   b.ExpiresAt,
		ConfirmedAt: b.ConfirmedAt,
		CancelledAt: b.CancelledAt,
	}
}

// writeEngineError maps the error taxonomy onto status codes: conflicts
// and not-found are distinct so a client can retry, pick another ticket,
// or give up; transient store failures are retryable.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrConflict):
		http.Error(w, "ticket held by another request", http.StatusConflict)
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrUnavailable), errors.Is(err, domain.ErrSerializationFailure):
		http.Error(w, "temporarily unavailable, retry", http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) []byte {
	data, _ := json.Marshal(v)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
	return data
}

func (h *Handlers) Reserve(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	key := r.Header.Get("Idempotency-Key")
	existing, err := h.idemp.Get(r.Context(), key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if existing != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(existing.Status)
		w.Write(existing.Result)
		return
	}

	var req struct {
		TicketID uuid.UUID `json:"ticket_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.TicketID == uuid.Nil {
		http.Error(w, "ticket_id required", http.StatusBadRequest)
		return
	}

	b, err := h.engine.Reserve(r.Context(), req.TicketID, userID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	data := writeJSON(w, http.StatusCreated, toBookingResponse(b))
	h.idemp.Set(r.Context(), key, idempotency.Response{Status: http.StatusCreated, Result: data})
}

func (h *Handlers) Confirm(w http.ResponseWriter, r *http.Request) {
	userID, bookingID, ok := h.bookingRequest(w, r)
	if !ok {
		return
	}

	b, err := h.engine.Confirm(r.Context(), bookingID, userID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(b))
}

func (h *Handlers) Cancel(w http.ResponseWriter, r *http.Request) {
	userID, bookingID, ok := h.bookingRequest(w, r)
	if !ok {
		return
	}

	b, err := h.engine.Cancel(r.Context(), bookingID, userID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(b))
}

func (h *Handlers) GetBooking(w http.ResponseWriter, r *http.Request) {
	userID, bookingID, ok := h.bookingRequest(w, r)
	if !ok {
		return
	}

	b, err := h.engine.GetBooking(r.Context(), bookingID, userID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(b))
}

func (h *Handlers) ListBookings(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	bookings, err := h.engine.ListBookings(r.Context(), userID, limit, offset)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	out := make([]bookingResponse, 0, len(bookings))
	for i := range bookings {
		out = append(out, toBookingResponse(&bookings[i]))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"bookings": out,
		"limit":    limit,
		"offset":   offset,
	})
}

// SweepExpired exposes the reaper's transition for operational use; the
// background sweep does the same thing on its own schedule.
func (h *Handlers) SweepExpired(w http.ResponseWriter, r *http.Request) {
	count, err := h.engine.SweepExpired(r.Context(), h.cfg.SweepBatch)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"expired": count})
}

func (h *Handlers) bookingRequest(w http.ResponseWriter, r *http.Request) (userID, bookingID uuid.UUID, ok bool) {
	userID, ok = UserFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return uuid.Nil, uuid.Nil, false
	}
	bookingID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid booking id", http.StatusBadRequest)
		return uuid.Nil, uuid.Nil, false
	}
	return userID, bookingID, true
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}
