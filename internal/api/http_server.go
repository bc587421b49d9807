package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"salonbook/internal/config"
	"salonbook/internal/models"
	"salonbook/internal/payment"
	"salonbook/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Orders is the booking service as the HTTP layer sees it.
type Orders interface {
	CreateBooking(ctx context.Context, booking *models.Booking) error
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	GetBookingExpanded(ctx context.Context, id string) (*models.Booking, error)
	ListSalonBookings(ctx context.Context, salonID string) ([]*models.Booking, error)
	ListUserBookings(ctx context.Context, userID string) ([]*models.Booking, error)
	ListSlotBookings(ctx context.Context, salonID, staffID string, day time.Time) ([]*models.Booking, error)
	ApplyUpdate(ctx context.Context, id string, req service.UpdateRequest) (*models.Booking, error)
	CancelBooking(ctx context.Context, id string, actor string) (*models.Booking, error)
	DeleteBooking(ctx context.Context, id string) error
	Availability(ctx context.Context, salonID, staffID string, day time.Time) (*models.Availability, error)
}

type Payments interface {
	Pay(ctx context.Context, bookingID, method string, card payment.CardDetails, idempotencyKey string) (*models.Booking, error)
}

// Catalog resolves salons and the names used in exports.
type Catalog interface {
	GetSalon(ctx context.Context, id string) (*models.Salon, error)
	ListStaff(ctx context.Context, salonID string) ([]models.Staff, error)
	ListServices(ctx context.Context, salonID string) ([]models.Service, error)
}

type Dependencies struct {
	Orders       Orders
	Payments     Payments
	Catalog      Catalog
	QPayMerchant string
	// Ready backs /readyz; nil means always ready.
	Ready func(ctx context.Context) error
}

// HTTPServer exposes the /api/orders surface.
type HTTPServer struct {
	cfg      config.APIConfig
	orders   Orders
	payments Payments
	catalog  Catalog
	merchant string
	ready    func(ctx context.Context) error
	server   *http.Server
	auth     *HTTPAuth
	logger   *zerolog.Logger
	now      func() time.Time
}

func NewHTTPServer(cfg config.APIConfig, deps Dependencies, logger *zerolog.Logger) *HTTPServer {
	srv := &HTTPServer{
		cfg:      cfg,
		orders:   deps.Orders,
		payments: deps.Payments,
		catalog:  deps.Catalog,
		merchant: deps.QPayMerchant,
		ready:    deps.Ready,
		logger:   logger,
		now:      time.Now,
	}
	srv.auth = NewHTTPAuth(&srv.cfg)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}

	return srv
}

func (s *HTTPServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.recoverer)
	r.Use(s.requestLogger)
	r.Use(s.auth.Wrap)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	r.Route("/api", func(r chi.Router) {
		r.Get("/availability/{salonId}/{staffId}", s.handleAvailability)

		r.Route("/orders", func(r chi.Router) {
			r.Get("/pay/{salonId}", s.handleSlotBookings)
			r.Get("/user/{userId}", s.handleUserBookings)
			r.Get("/{salonId}", s.handleGetOrder)
			r.Post("/{salonId}", s.handleCreate)
			r.Get("/{salonId}/export", s.handleExport)
			r.Get("/{salonId}/{orderId}", s.handleGetSalonOrder)
			// the first segment of a PUT is the salon or the user owning the booking
			r.Put("/{salonId}/{orderId}", s.handleUpdate)
			r.Delete("/{salonId}/{orderId}", s.handleDelete)
			r.Post("/{salonId}/{orderId}/pay", s.handlePay)
			r.Get("/{salonId}/{orderId}/qpay", s.handleQPay)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
	return r
}

// Handler returns the routed handler with every middleware applied.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
