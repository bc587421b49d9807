package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"salonbook/internal/domain"
	"salonbook/internal/export"
	"salonbook/internal/models"
	"salonbook/internal/payment"
	"salonbook/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const maxBodyBytes = 1 << 20

type payRequest struct {
	Method string              `json:"method"`
	Card   payment.CardDetails `json:"card"`
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("path", r.URL.Path).
			Msg("Request failed")
	}
	writeJSON(w, status, body)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return false
	}
	return true
}

func parseDay(raw string) (time.Time, error) {
	day, err := models.ParseDate(raw, nil)
	if err != nil {
		return time.Time{}, domain.Invalid("date", "%v", err)
	}
	return day, nil
}

// scoped loads a booking and hides it when it belongs to another salon.
func (s *HTTPServer) scoped(ctx context.Context, salonID, orderID string) (*models.Booking, error) {
	b, err := s.orders.GetBooking(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if b.SalonID != salonID {
		return nil, domain.ErrNotFound
	}
	return b, nil
}

func (s *HTTPServer) actor(r *http.Request) string {
	if name := clientName(r.Context()); name != "" {
		return name
	}
	return "api"
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleGetOrder answers GET /orders/{id}: the booking with that id, or the
// bookings of the salon with that id.
func (s *HTTPServer) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "salonId")

	b, err := s.orders.GetBookingExpanded(r.Context(), id)
	if err == nil {
		writeJSON(w, http.StatusOK, b)
		return
	}
	if !errors.Is(err, domain.ErrNotFound) || s.catalog == nil {
		s.fail(w, r, err)
		return
	}

	if _, cerr := s.catalog.GetSalon(r.Context(), id); cerr != nil {
		if !errors.Is(cerr, domain.ErrCatalogNotFound) {
			s.fail(w, r, cerr)
			return
		}
		s.fail(w, r, err)
		return
	}
	list, err := s.orders.ListSalonBookings(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *HTTPServer) handleSlotBookings(w http.ResponseWriter, r *http.Request) {
	var day time.Time
	if raw := strings.TrimSpace(r.URL.Query().Get("date")); raw != "" {
		var err error
		if day, err = parseDay(raw); err != nil {
			s.fail(w, r, err)
			return
		}
	}

	list, err := s.orders.ListSlotBookings(r.Context(), chi.URLParam(r, "salonId"), r.URL.Query().Get("staffId"), day)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *HTTPServer) handleUserBookings(w http.ResponseWriter, r *http.Request) {
	list, err := s.orders.ListUserBookings(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *HTTPServer) handleCreate(w http.ResponseWriter, r *http.Request) {
	salonID := chi.URLParam(r, "salonId")

	var b models.Booking
	if !decodeBody(w, r, &b) {
		return
	}
	if b.SalonID != "" && b.SalonID != salonID {
		s.fail(w, r, domain.Invalid("salonId", "does not match the salon in the path"))
		return
	}
	b.SalonID = salonID
	// expanded catalog objects are output only
	b.Salon, b.Service, b.Staff = nil, nil, nil

	if err := s.orders.CreateBooking(r.Context(), &b); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, &b)
}

func (s *HTTPServer) handleGetSalonOrder(w http.ResponseWriter, r *http.Request) {
	b, err := s.orders.GetBookingExpanded(r.Context(), chi.URLParam(r, "orderId"))
	if err == nil && b.SalonID != chi.URLParam(r, "salonId") {
		err = domain.ErrNotFound
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handleUpdate(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "salonId")
	orderID := chi.URLParam(r, "orderId")

	current, err := s.orders.GetBooking(r.Context(), orderID)
	if err == nil && current.SalonID != owner && current.UserID != owner {
		err = domain.ErrNotFound
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var req service.UpdateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ChangedBy == "" {
		req.ChangedBy = s.actor(r)
	}
	// подтверждение без шлюза: только для ключей с confirm:orders
	if current.Status == models.StatusPending && models.NormalizeStatus(req.Status) == models.StatusConfirmed &&
		!clientAllowed(r.Context(), permConfirmOrders) {
		writeError(w, http.StatusForbidden, "forbidden", "use the pay endpoint to confirm a booking")
		return
	}

	b, err := s.orders.ApplyUpdate(r.Context(), orderID, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	if _, err := s.scoped(r.Context(), chi.URLParam(r, "salonId"), orderID); err != nil {
		s.fail(w, r, err)
		return
	}

	hard, _ := strconv.ParseBool(r.URL.Query().Get("hard"))
	if hard {
		if err := s.orders.DeleteBooking(r.Context(), orderID); err != nil {
			s.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	b, err := s.orders.CancelBooking(r.Context(), orderID, s.actor(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handlePay(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	if _, err := s.scoped(r.Context(), chi.URLParam(r, "salonId"), orderID); err != nil {
		s.fail(w, r, err)
		return
	}

	var req payRequest
	if !decodeBody(w, r, &req) {
		return
	}

	b, err := s.payments.Pay(r.Context(), orderID, req.Method, req.Card, r.Header.Get("Idempotency-Key"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handleQPay(w http.ResponseWriter, r *http.Request) {
	b, err := s.scoped(r.Context(), chi.URLParam(r, "salonId"), chi.URLParam(r, "orderId"))
	if err == nil && b.Status != models.StatusPending {
		err = fmt.Errorf("%w: booking is %s", domain.ErrInvalidTransition, b.Status)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}

	png, err := payment.QPayInvoice(s.merchant, b)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	salonID := chi.URLParam(r, "salonId")
	if s.catalog == nil {
		writeError(w, http.StatusNotImplemented, "not_implemented", "export needs the catalog")
		return
	}

	salon, err := s.catalog.GetSalon(r.Context(), salonID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	bookings, err := s.orders.ListSalonBookings(r.Context(), salonID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	names, err := s.exportNames(r.Context(), salonID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	now := s.now()
	var buf bytes.Buffer
	if err := export.WriteBookings(&buf, salon.Name, bookings, names, now); err != nil {
		s.fail(w, r, err)
		return
	}

	filename := fmt.Sprintf("bookings_%s_%s.xlsx", salonID, now.Format("20060102"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *HTTPServer) exportNames(ctx context.Context, salonID string) (export.Names, error) {
	names := export.Names{Staff: map[string]string{}, Services: map[string]string{}}
	staff, err := s.catalog.ListStaff(ctx, salonID)
	if err != nil {
		return names, err
	}
	for _, st := range staff {
		names.Staff[st.ID] = st.Name
	}
	services, err := s.catalog.ListServices(ctx, salonID)
	if err != nil {
		return names, err
	}
	for _, svc := range services {
		names.Services[svc.ID] = svc.Name
	}
	return names, nil
}

func (s *HTTPServer) handleAvailability(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("date"))
	if raw == "" {
		s.fail(w, r, domain.Invalid("date", "date is required"))
		return
	}
	day, err := parseDay(raw)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	a, err := s.orders.Availability(r.Context(), chi.URLParam(r, "salonId"), chi.URLParam(r, "staffId"), day)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}
