// Package client is the REST implementation of domain.BookingStore used by
// front-ends and the staff bot.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"salonbook/internal/config"
	"salonbook/internal/domain"
	"salonbook/internal/models"
	"salonbook/internal/payment"
	"salonbook/internal/service"
	"salonbook/internal/worker"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Code       string `json:"error"`
	Message    string `json:"message"`
	Field      string `json:"field,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d: %s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("http %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

// Unwrap maps the answer back onto the sentinel errors the server started from.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		switch e.Code {
		case "past_slot":
			return domain.ErrPastSlot
		case "slot_too_far":
			return domain.ErrSlotTooFar
		case "unsupported_method":
			return payment.ErrUnsupportedMethod
		}
		return &domain.ValidationError{Field: e.Field, Message: e.Message}
	case http.StatusServiceUnavailable:
		if e.Code == "availability_unknown" {
			return domain.ErrAvailabilityUnknown
		}
	case http.StatusConflict:
		switch e.Code {
		case "slot_taken":
			return domain.ErrSlotTaken
		case "invalid_transition":
			return domain.ErrInvalidTransition
		case "payment_in_progress":
			return payment.ErrPaymentInProgress
		default:
			return domain.ErrConcurrentModification
		}
	}
	return nil
}

// OrdersClient talks to the /api/orders surface.
type OrdersClient struct {
	baseURL    string
	apiKey     string
	apiExtra   string
	httpClient *http.Client
	retry      worker.RetryPolicy
	logger     *zerolog.Logger
}

func NewOrdersClient(cfg config.ClientConfig, logger *zerolog.Logger) *OrdersClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &OrdersClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		apiExtra:   cfg.APIExtra,
		httpClient: &http.Client{Timeout: timeout},
		retry: worker.RetryPolicy{
			MaxRetries:    cfg.MaxRetries,
			InitialDelay:  cfg.InitialDelay,
			MaxDelay:      5 * time.Second,
			BackoffFactor: 2,
		},
		logger: logger,
	}
}

func (c *OrdersClient) endpoint(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return c.baseURL + "/api/" + strings.Join(escaped, "/")
}

// CreateBooking generates the id when the caller did not, so a retried POST
// replays instead of creating a second booking.
func (c *OrdersClient) CreateBooking(ctx context.Context, booking *models.Booking) error {
	if booking.ID == "" {
		booking.ID = uuid.New().String()
	}
	endpoint := c.endpoint("orders", booking.SalonID)
	return c.withRetry(ctx, "create", func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodPost, endpoint, nil, booking, booking)
	})
}

func (c *OrdersClient) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, c.endpoint("orders", id), nil, nil, &raw); err != nil {
		return nil, err
	}
	// a salon id answers with that salon's list
	if len(raw) == 0 || raw[0] != '{' {
		return nil, domain.ErrNotFound
	}
	var b models.Booking
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("decode booking: %w", err)
	}
	return &b, nil
}

// UpdateBooking sends the difference between the stored booking and booking as a PUT.
func (c *OrdersClient) UpdateBooking(ctx context.Context, booking *models.Booking, fromVersion int64) error {
	body := service.UpdateFromBooking(booking, fromVersion)
	endpoint := c.endpoint("orders", booking.SalonID, booking.ID)
	return c.withRetry(ctx, "update", func(ctx context.Context) error {
		return c.doJSON(ctx, http.MethodPut, endpoint, nil, body, booking)
	})
}

func (c *OrdersClient) DeleteBooking(ctx context.Context, id string) error {
	b, err := c.GetBooking(ctx, id)
	if err != nil {
		return err
	}
	q := url.Values{"hard": {"true"}}
	return c.doJSON(ctx, http.MethodDelete, c.endpoint("orders", b.SalonID, id), q, nil, nil)
}

// CancelOrder is the soft DELETE: the booking stays with status cancelled.
func (c *OrdersClient) CancelOrder(ctx context.Context, salonID, id string) (*models.Booking, error) {
	var b models.Booking
	if err := c.doJSON(ctx, http.MethodDelete, c.endpoint("orders", salonID, id), nil, nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *OrdersClient) list(ctx context.Context, endpoint string, q url.Values) ([]*models.Booking, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, endpoint, q, nil, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 || raw[0] != '[' {
		return nil, fmt.Errorf("expected a list from %s", endpoint)
	}
	out := make([]*models.Booking, 0)
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode bookings: %w", err)
	}
	return out, nil
}

func (c *OrdersClient) ListSalonBookings(ctx context.Context, salonID string) ([]*models.Booking, error) {
	return c.list(ctx, c.endpoint("orders", salonID), nil)
}

func (c *OrdersClient) ListUserBookings(ctx context.Context, userID string) ([]*models.Booking, error) {
	return c.list(ctx, c.endpoint("orders", "user", userID), nil)
}

func (c *OrdersClient) ListSlotBookings(ctx context.Context, salonID, staffID string, day time.Time) ([]*models.Booking, error) {
	q := url.Values{}
	if staffID != "" {
		q.Set("staffId", staffID)
	}
	if !day.IsZero() {
		q.Set("date", day.Format(models.DateLayout))
	}
	return c.list(ctx, c.endpoint("orders", "pay", salonID), q)
}

// PayRequest is the body of POST /orders/{salon}/{id}/pay.
type PayRequest struct {
	Method string              `json:"method"`
	Card   payment.CardDetails `json:"card"`
}

func (c *OrdersClient) Pay(ctx context.Context, salonID, id string, req PayRequest, idempotencyKey string) (*models.Booking, error) {
	if idempotencyKey == "" {
		idempotencyKey = uuid.New().String()
	}
	var b models.Booking
	err := c.send(ctx, http.MethodPost, c.endpoint("orders", salonID, id, "pay"), nil, req, &b,
		map[string]string{"Idempotency-Key": idempotencyKey})
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *OrdersClient) Availability(ctx context.Context, salonID, staffID string, day time.Time) (*models.Availability, error) {
	var a models.Availability
	q := url.Values{"date": {day.Format(models.DateLayout)}}
	if err := c.doJSON(ctx, http.MethodGet, c.endpoint("availability", salonID, staffID), q, nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// Retries cover transport failures, 429 and 5xx. A retried create or update is
// safe because the server treats a replay as a no-op.
func retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

func (c *OrdersClient) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempt := 0
	return c.retry.Do(ctx, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err != nil && attempt <= c.retry.MaxRetries && retryable(err) {
			c.logger.Warn().Err(err).Str("op", op).Int("attempt", attempt).Msg("Orders request failed, retrying")
		}
		return err
	}, retryable)
}

func (c *OrdersClient) doJSON(ctx context.Context, method, endpoint string, q url.Values, body, out any) error {
	return c.send(ctx, method, endpoint, q, body, out, nil)
}

func (c *OrdersClient) send(ctx context.Context, method, endpoint string, q url.Values, body, out any, headers map[string]string) error {
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	c.addHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, apiErr) != nil || apiErr.Code == "" {
			apiErr.Code = http.StatusText(resp.StatusCode)
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *OrdersClient) addHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
	if c.apiExtra != "" {
		req.Header.Set("x-api-extra", c.apiExtra)
	}
}
