package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/groombook/groombook/libs/httpx"
	"github.com/groombook/groombook/services/booking-service/internal/booking"
	"github.com/groombook/groombook/services/booking-service/internal/calendar"
	"github.com/groombook/groombook/services/booking-service/internal/model"
	"github.com/groombook/groombook/services/booking-service/internal/policy"
)

type BookingHandler struct {
	svc      *booking.Service
	cal      *calendar.Calendar
	rules    policy.Rules
	logger   *slog.Logger
	validate *validator.Validate
}

func NewBookingHandler(svc *booking.Service, cal *calendar.Calendar, rules policy.Rules, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{
		svc:      svc,
		cal:      cal,
		rules:    rules,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

var (
	post = httpx.WithMethods(http.MethodPost)
	get  = httpx.WithMethods(http.MethodGet)
)

// Register mounts the routes that need a caller identity.
func (h *BookingHandler) Register(mux *http.ServeMux) {
	mux.Handle("/api/v1/appointments/book", post(http.HandlerFunc(h.Book)))
	mux.Handle("/api/v1/appointments/cancel", post(http.HandlerFunc(h.Cancel)))
	mux.Handle("/api/v1/appointments/complete", post(http.HandlerFunc(h.Complete)))
	mux.Handle("/api/v1/appointments/get", get(http.HandlerFunc(h.Get)))
	mux.Handle("/api/v1/appointments", get(http.HandlerFunc(h.ListForDate)))
	mux.Handle("/api/v1/calendar/month", get(http.HandlerFunc(h.Month)))
}

// RegisterPublic mounts the anonymous calendar routes.
func (h *BookingHandler) RegisterPublic(mux *http.ServeMux) {
	mux.Handle("/api/v1/calendar/density", get(http.HandlerFunc(h.Density)))
	mux.Handle("/api/v1/public/slots", get(http.HandlerFunc(h.Slots)))
}

type bookRequest struct {
	CustomerID string   `json:"customer_id"`
	PetIDs     []string `json:"pet_ids" validate:"required,min=1,max=20,dive,required"`
	ServiceID  string   `json:"service_id" validate:"required"`
	Date       string   `json:"date" validate:"required,datetime=2006-01-02"`
	Time       string   `json:"time" validate:"required,datetime=15:04"`
	StaffID    string   `json:"staff_id"`
	Notes      string   `json:"notes" validate:"max=500"`
}

type appointmentItem struct {
	AppointmentID   string `json:"appointment_id"`
	CustomerID      string `json:"customer_id"`
	PetID           string `json:"pet_id"`
	ServiceID       string `json:"service_id"`
	StaffID         string `json:"staff_id,omitempty"`
	Staff           string `json:"staff"`
	ScheduledAt     string `json:"scheduled_at"`
	EndsAt          string `json:"ends_at"`
	DurationMinutes int    `json:"duration_minutes"`
	SpecialRequest  string `json:"special_request,omitempty"`
	Status          string `json:"status"`
	CancelReason    string `json:"cancel_reason,omitempty"`
	CancelledAt     string `json:"cancelled_at,omitempty"`
	CompletedAt     string `json:"completed_at,omitempty"`
	CreatedAt       string `json:"created_at"`
}

type petFailure struct {
	PetID string `json:"pet_id"`
	errorResponse
}

type bookResponse struct {
	Appointments   []appointmentItem `json:"appointments"`
	Failures       []petFailure      `json:"failures"`
	LoyaltyBalance int               `json:"loyalty_balance"`
}

type transitionRequest struct {
	AppointmentID string `json:"appointment_id" validate:"required"`
	Reason        string `json:"reason" validate:"max=500"`
}

func (h *BookingHandler) toItem(a model.Appointment) appointmentItem {
	loc := h.rules.Location
	item := appointmentItem{
		AppointmentID:   a.ID,
		CustomerID:      a.CustomerID,
		PetID:           a.PetID,
		ServiceID:       a.ServiceID,
		StaffID:         a.StaffID,
		Staff:           a.StaffLabel(),
		ScheduledAt:     a.ScheduledAt.In(loc).Format(time.RFC3339),
		EndsAt:          a.EndsAt().In(loc).Format(time.RFC3339),
		DurationMinutes: a.DurationMins,
		SpecialRequest:  a.SpecialRequest,
		Status:          string(a.Status),
		CancelReason:    a.CancelReason,
		CreatedAt:       a.CreatedAt.UTC().Format(time.RFC3339),
	}
	if a.CancelledAt != nil {
		item.CancelledAt = a.CancelledAt.UTC().Format(time.RFC3339)
	}
	if a.CompletedAt != nil {
		item.CompletedAt = a.CompletedAt.UTC().Format(time.RFC3339)
	}
	return item
}

func (h *BookingHandler) Book(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req bookRequest
	if err := decode(r, h.validate, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	scheduledAt, err := time.ParseInLocation("2006-01-02 15:04", req.Date+" "+req.Time, h.rules.Location)
	if err != nil {
		badRequest(w, "invalid date or time")
		return
	}
	customerID := strings.TrimSpace(req.CustomerID)
	if customerID == "" && actor.Role == model.RoleCustomer {
		customerID = actor.ID
	}

	res, err := h.svc.Book(r.Context(), actor, booking.BookingRequest{
		CustomerID:     customerID,
		PetIDs:         req.PetIDs,
		ServiceID:      req.ServiceID,
		ScheduledAt:    scheduledAt,
		StaffID:        req.StaffID,
		SpecialRequest: strings.TrimSpace(req.Notes),
	})
	if err != nil && len(res.Appointments) == 0 {
		writeError(w, h.logger, "book", err)
		return
	}
	if err != nil {
		// Some pets were booked before the fault; report what committed.
		h.logger.Error("book interrupted", "err", err, "created", len(res.Appointments))
	}

	resp := bookResponse{
		Appointments:   make([]appointmentItem, 0, len(res.Appointments)),
		Failures:       make([]petFailure, 0, len(res.Failures)),
		LoyaltyBalance: res.LoyaltyBalance,
	}
	for _, a := range res.Appointments {
		resp.Appointments = append(resp.Appointments, h.toItem(a))
	}
	for _, f := range res.Failures {
		resp.Failures = append(resp.Failures, petFailure{PetID: f.PetID, errorResponse: rejectionBody(f.Rejection)})
	}

	status := http.StatusCreated
	if len(res.Appointments) == 0 {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, resp)
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req transitionRequest
	if err := decode(r, h.validate, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	appt, err := h.svc.Cancel(r.Context(), actor, req.AppointmentID, req.Reason)
	if err != nil {
		writeError(w, h.logger, "cancel", err)
		return
	}
	writeJSON(w, http.StatusOK, h.toItem(appt))
}

func (h *BookingHandler) Complete(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req transitionRequest
	if err := decode(r, h.validate, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	appt, err := h.svc.Complete(r.Context(), actor, req.AppointmentID)
	if err != nil {
		writeError(w, h.logger, "complete", err)
		return
	}
	writeJSON(w, http.StatusOK, h.toItem(appt))
}

func (h *BookingHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		badRequest(w, "id required")
		return
	}
	appt, err := h.svc.Get(r.Context(), actor, id)
	if err != nil {
		writeError(w, h.logger, "get", err)
		return
	}
	writeJSON(w, http.StatusOK, h.toItem(appt))
}
