package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/groombook/groombook/services/booking-service/internal/model"
)

type densityItem struct {
	Date   string `json:"date"`
	Count  int    `json:"count"`
	Bucket string `json:"bucket"`
}

type monthItem struct {
	AppointmentID string `json:"appointment_id"`
	Date          string `json:"date"`
	Time          string `json:"time"`
	Status        string `json:"status"`
}

type slotItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

func (h *BookingHandler) parseDate(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("date"))
	if raw == "" {
		badRequest(w, "date required")
		return time.Time{}, false
	}
	day, err := h.rules.ParseDate(raw)
	if err != nil {
		badRequest(w, "invalid date, expected YYYY-MM-DD")
		return time.Time{}, false
	}
	return day, true
}

func parseYearMonth(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	year, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("year")))
	if err != nil {
		badRequest(w, "invalid year")
		return 0, 0, false
	}
	month, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("month")))
	if err != nil {
		badRequest(w, "invalid month")
		return 0, 0, false
	}
	return year, month, true
}

// ListForDate lists the caller's appointments on ?date=YYYY-MM-DD.
func (h *BookingHandler) ListForDate(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	day, ok := h.parseDate(w, r)
	if !ok {
		return
	}
	appts, err := h.cal.ForDate(r.Context(), actor, day)
	if err != nil {
		writeError(w, h.logger, "list appointments", err)
		return
	}
	items := make([]appointmentItem, 0, len(appts))
	for _, a := range appts {
		items = append(items, h.toItem(a))
	}
	writeJSON(w, http.StatusOK, items)
}

// Month returns the (id, date, status) projection of a customer's month.
// Staff and admins may pass ?customer_id=.
func (h *BookingHandler) Month(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	year, month, ok := parseYearMonth(w, r)
	if !ok {
		return
	}
	customerID := actor.ID
	if actor.Role != model.RoleCustomer {
		customerID = strings.TrimSpace(r.URL.Query().Get("customer_id"))
	}
	entries, err := h.cal.ForMonth(r.Context(), customerID, year, month)
	if err != nil {
		writeError(w, h.logger, "month", err)
		return
	}
	items := make([]monthItem, 0, len(entries))
	for _, e := range entries {
		local := e.ScheduledAt.In(h.rules.Location)
		items = append(items, monthItem{
			AppointmentID: e.AppointmentID,
			Date:          local.Format("2006-01-02"),
			Time:          local.Format("15:04"),
			Status:        string(e.Status),
		})
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *BookingHandler) Density(w http.ResponseWriter, r *http.Request) {
	year, month, ok := parseYearMonth(w, r)
	if !ok {
		return
	}
	days, err := h.cal.Density(r.Context(), year, month)
	if err != nil {
		writeError(w, h.logger, "density", err)
		return
	}
	items := make([]densityItem, 0, len(days))
	for _, d := range days {
		items = append(items, densityItem{Date: d.Date.Format("2006-01-02"), Count: d.Count, Bucket: string(d.Bucket)})
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	staffID := strings.TrimSpace(r.URL.Query().Get("staff_id"))
	serviceID := strings.TrimSpace(r.URL.Query().Get("service_id"))
	if staffID == "" || serviceID == "" {
		badRequest(w, "staff_id, service_id, and date are required")
		return
	}
	day, ok := h.parseDate(w, r)
	if !ok {
		return
	}

	slots, err := h.cal.Slots(r.Context(), staffID, serviceID, day)
	if err != nil {
		writeError(w, h.logger, "slots", err)
		return
	}
	resp := make([]slotItem, 0, len(slots))
	for _, s := range slots {
		resp = append(resp, slotItem{
			StartTime: s.Start.Format(time.RFC3339),
			EndTime:   s.End.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
