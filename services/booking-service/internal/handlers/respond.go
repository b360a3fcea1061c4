package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/groombook/groombook/libs/auth"
	"github.com/groombook/groombook/services/booking-service/internal/booking"
	"github.com/groombook/groombook/services/booking-service/internal/calendar"
	"github.com/groombook/groombook/services/booking-service/internal/model"
)

type errorResponse struct {
	Error            string `json:"error"`
	Guard            string `json:"guard,omitempty"`
	Reason           string `json:"reason"`
	Entity           string `json:"entity,omitempty"`
	MinutesRemaining int    `json:"minutes_remaining,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func rejectionStatus(rej *booking.Rejection) int {
	switch rej.Kind {
	case booking.KindValidation:
		if rej.Guard == booking.GuardRequest {
			return http.StatusBadRequest
		}
		return http.StatusUnprocessableEntity
	case booking.KindNotFound:
		return http.StatusNotFound
	case booking.KindOwnership:
		return http.StatusForbidden
	case booking.KindInvalidTransition:
		return http.StatusConflict
	case booking.KindAssignment:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

func rejectionBody(rej *booking.Rejection) errorResponse {
	return errorResponse{
		Error:            string(rej.Kind),
		Guard:            rej.Guard,
		Reason:           rej.Reason,
		Entity:           rej.Entity,
		MinutesRemaining: rej.MinutesRemaining,
	}
}

// writeError maps domain errors to status codes. Faults are logged and
// answered with a generic 500.
func writeError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	if rej, ok := booking.AsRejection(err); ok {
		writeJSON(w, rejectionStatus(rej), rejectionBody(rej))
		return
	}
	switch {
	case errors.Is(err, calendar.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: string(booking.KindValidation), Reason: err.Error()})
	case errors.Is(err, model.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: string(booking.KindNotFound), Reason: err.Error()})
	default:
		logger.Error(op+" failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal", Reason: "operation did not complete"})
	}
}

func badRequest(w http.ResponseWriter, reason string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: string(booking.KindValidation), Guard: booking.GuardRequest, Reason: reason})
}

// decode reads a JSON body into dst and validates its struct tags.
func decode(r *http.Request, v *validator.Validate, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.New("invalid json body")
	}
	if err := v.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field()+" ("+fe.Tag()+")")
			}
			return errors.New("invalid fields: " + strings.Join(fields, ", "))
		}
		return err
	}
	return nil
}

// actorFromRequest reads the caller identity set by the gateway or by
// auth.Verifier.RequireAuth.
func actorFromRequest(r *http.Request) (model.Actor, bool) {
	id := strings.TrimSpace(r.Header.Get(auth.HeaderUserID))
	role, ok := model.ParseRole(r.Header.Get(auth.HeaderRole))
	if id == "" || !ok {
		return model.Actor{}, false
	}
	return model.Actor{ID: id, Role: role}, true
}

func requireActor(w http.ResponseWriter, r *http.Request) (model.Actor, bool) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Reason: "caller identity required"})
		return model.Actor{}, false
	}
	return actor, true
}
