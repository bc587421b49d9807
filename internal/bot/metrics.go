package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics структура для метрик Prometheus
type Metrics struct {
	CommandsProcessed    *prometheus.CounterVec
	StatusChanges        *prometheus.CounterVec
	NotificationsSent    *prometheus.CounterVec
	ErrorsTotal          prometheus.Counter
	AccessDenied         prometheus.Counter
	UpdateProcessingTime prometheus.Histogram
}

// NewMetrics создает метрики бота в указанном реестре
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CommandsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "telegram_bot_commands_total",
			Help: "Total number of processed bot commands",
		}, []string{"command"}),

		StatusChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "telegram_bot_status_changes_total",
			Help: "Booking status changes made from the bot",
		}, []string{"status"}),

		NotificationsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "telegram_bot_notifications_total",
			Help: "Booking notifications delivered to manager chats",
		}, []string{"event_type", "result"}),

		ErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "telegram_bot_errors_total",
			Help: "Total number of recovered handler panics",
		}),

		AccessDenied: factory.NewCounter(prometheus.CounterOpts{
			Name: "telegram_bot_access_denied_total",
			Help: "Updates rejected because the sender is not a manager",
		}),

		UpdateProcessingTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "telegram_bot_update_processing_time_seconds",
			Help:    "Time spent processing updates",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) command(name string) {
	if m == nil {
		return
	}
	m.CommandsProcessed.WithLabelValues(name).Inc()
}

func (m *Metrics) notification(eventType, result string) {
	if m == nil {
		return
	}
	m.NotificationsSent.WithLabelValues(eventType, result).Inc()
}
