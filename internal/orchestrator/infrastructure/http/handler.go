package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/pdhuy2k3/booking-platform-sub005/internal/orchestrator/application"
	"github.com/pdhuy2k3/booking-platform-sub005/pkg/fault"
)

type Handler struct {
	log     *slog.Logger
	service *application.Service
	tracer  trace.Tracer
}

func NewHandler(log *slog.Logger, service *application.Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
		tracer:  otel.Tracer("orchestrator-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/bookings", h.createBooking)
	r.Post("/bookings/{id}/cancel", h.cancelBooking)
	r.Get("/sagas/{id}", h.getSaga)

	return r
}

func (h *Handler) createBooking(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateBooking")
	defer span.End()

	var cmd application.CreateBooking
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	sagaID, err := h.service.StartSaga(ctx, cmd)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":     "PENDING",
		"booking_id": cmd.BookingID,
		"saga_id":    sagaID,
	})
}

func (h *Handler) cancelBooking(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CancelBooking")
	defer span.End()

	var cmd application.CancelBooking
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	cmd.BookingID = chi.URLParam(r, "id")

	if err := h.service.Cancel(ctx, cmd); err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":     "CANCELLING",
		"booking_id": cmd.BookingID,
	})
}

func (h *Handler) getSaga(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetSaga")
	defer span.End()

	sg, b, err := h.service.SagaStatus(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := map[string]any{
		"saga_id":           sg.ID,
		"booking_id":        sg.BookingID,
		"current_state":     sg.CurrentState,
		"booking_status":    b.Status,
		"completed_steps":   sg.CompletedSteps,
		"compensated_steps": sg.CompensatedSteps,
		"cancel_requested":  sg.CancelRequested,
		"error_trail":       sg.ErrorTrail,
		"updated_at":        sg.UpdatedAt,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, application.ErrSagaNotFound):
		status = http.StatusNotFound
	case fault.Is(err, fault.KindValidation):
		status = http.StatusBadRequest
	case fault.Is(err, fault.KindConflict):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", "err", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
