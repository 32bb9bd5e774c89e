package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/robertarktes/fleet-rental-holds/internal/booking"
	"github.com/robertarktes/fleet-rental-holds/internal/domain"
	"github.com/robertarktes/fleet-rental-holds/internal/identity"
	"github.com/robertarktes/fleet-rental-holds/internal/observability"
)

const (
	dateLayout = "2006-01-02"
	maxBody    = 1 << 16
)

// Reservations is the lifecycle surface the handlers drive.
type Reservations interface {
	Create(ctx context.Context, req booking.CreateRequest) (domain.Reservation, error)
	Pay(ctx context.Context, id string) (domain.Reservation, error)
	Cancel(ctx context.Context, id string, reason domain.CancelReason) (domain.Reservation, error)
	Get(ctx context.Context, id string) (domain.Reservation, error)
	ListForHolder(ctx context.Context, holderID string) ([]domain.Reservation, error)
}

// Check reports whether a dependency is ready to serve traffic.
type Check func(ctx context.Context) error

type Handlers struct {
	reservations Reservations
	checks       map[string]Check
	logger       observability.Logger
}

func NewHandlers(reservations Reservations, checks map[string]Check, logger observability.Logger) *Handlers {
	return &Handlers{reservations: reservations, checks: checks, logger: logger}
}

type createReservationRequest struct {
	VehicleID string `json:"vehicle_id"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	StartTime string `json:"start_time,omitempty"`
	EndTime   string `json:"end_time,omitempty"`
}

func (req createReservationRequest) toDomain(holderID string) (booking.CreateRequest, error) {
	start, err := time.Parse(dateLayout, req.StartDate)
	if err != nil {
		return booking.CreateRequest{}, errors.Wrapf(domain.ErrInvalidInput, "start_date %q", req.StartDate)
	}
	end, err := time.Parse(dateLayout, req.EndDate)
	if err != nil {
		return booking.CreateRequest{}, errors.Wrapf(domain.ErrInvalidInput, "end_date %q", req.EndDate)
	}

	out := booking.CreateRequest{
		HolderID:  holderID,
		VehicleID: req.VehicleID,
		Dates:     domain.DateRange{Start: start, End: end},
	}
	switch {
	case req.StartTime != "" && req.EndTime != "":
		out.Times = &domain.TimeRange{Start: req.StartTime, End: req.EndTime}
	case req.StartTime != "" || req.EndTime != "":
		return booking.CreateRequest{}, errors.Wrap(domain.ErrInvalidInput, "start_time and end_time go together")
	}
	return out, nil
}

type reservationResponse struct {
	ID           string     `json:"id"`
	HolderID     string     `json:"holder_id"`
	VehicleID    string     `json:"vehicle_id"`
	StartDate    string     `json:"start_date"`
	EndDate      string     `json:"end_date"`
	StartTime    string     `json:"start_time,omitempty"`
	EndTime      string     `json:"end_time,omitempty"`
	RentAmount   string     `json:"rent_amount"`
	Status       string     `json:"status"`
	CancelReason string     `json:"cancel_reason,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func toResponse(r domain.Reservation) reservationResponse {
	resp := reservationResponse{
		ID:           r.ID,
		HolderID:     r.HolderID,
		VehicleID:    r.VehicleID,
		StartDate:    r.Dates.Start.Format(dateLayout),
		EndDate:      r.Dates.End.Format(dateLayout),
		RentAmount:   r.RentAmount.StringFixed(2),
		Status:       string(r.Status),
		CancelReason: string(r.CancelReason),
		ExpiresAt:    r.ExpiresAt,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.Times != nil {
		resp.StartTime, resp.EndTime = r.Times.Start, r.Times.End
	}
	return resp
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (h *Handlers) CreateReservation(w http.ResponseWriter, r *http.Request) {
	holderID, err := identity.HolderFromContext(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req createReservationRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.writeError(w, r, errors.Wrap(domain.ErrInvalidInput, "malformed request body"))
		return
	}
	createReq, err := req.toDomain(holderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.reservations.Create(r.Context(), createReq)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toResponse(res))
}

func (h *Handlers) PayReservation(w http.ResponseWriter, r *http.Request) {
	res, ok := h.ownedReservation(w, r)
	if !ok {
		return
	}
	paid, err := h.reservations.Pay(r.Context(), res.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(paid))
}

func (h *Handlers) CancelReservation(w http.ResponseWriter, r *http.Request) {
	res, ok := h.ownedReservation(w, r)
	if !ok {
		return
	}
	cancelled, err := h.reservations.Cancel(r.Context(), res.ID, domain.ReasonManual)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(cancelled))
}

func (h *Handlers) GetReservation(w http.ResponseWriter, r *http.Request) {
	res, ok := h.ownedReservation(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toResponse(res))
}

func (h *Handlers) ListReservations(w http.ResponseWriter, r *http.Request) {
	holderID, err := identity.HolderFromContext(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	list, err := h.reservations.ListForHolder(r.Context(), holderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]reservationResponse, 0, len(list))
	for _, res := range list {
		out = append(out, toResponse(res))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"reservations": out})
}

// ownedReservation loads the reservation named in the path. Reservations of
// other holders are reported as not found.
func (h *Handlers) ownedReservation(w http.ResponseWriter, r *http.Request) (domain.Reservation, bool) {
	holderID, err := identity.HolderFromContext(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return domain.Reservation{}, false
	}
	id := chi.URLParam(r, "id")
	res, err := h.reservations.Get(r.Context(), id)
	if err == nil && res.HolderID != holderID {
		err = errors.Wrapf(domain.ErrNotFound, "reservation %s", id)
	}
	if err != nil {
		h.writeError(w, r, err)
		return domain.Reservation{}, false
	}
	return res, true
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failed := map[string]string{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		h.logger.WithField("failed", failed).Warn("readiness check failed")
		writeJSON(w, http.StatusServiceUnavailable, failed)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(domain.KindOf(err))
	resp := errorResponse{Error: domain.Code(err), Message: err.Error()}
	if status == http.StatusInternalServerError {
		requestLogger(r, h.logger).WithError(err).Error("request failed")
		resp.Message = "internal error"
	}
	writeJSON(w, status, resp)
}

func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindUnauthenticated:
		return http.StatusUnauthorized
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindCapacity, domain.KindStateConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
