package events

import (
	"context"
	"time"

	"salonbook/internal/config"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer the forwarder needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewKafkaWriter(cfg config.KafkaConfig) *kafka.Writer {
	return kafka.NewWriter(kafka.WriterConfig{
		Brokers: cfg.Brokers,
		Topic:   cfg.Topic,
	})
}

// KafkaForwarder streams bus events to a Kafka topic keyed by booking id.
type KafkaForwarder struct {
	writer  MessageWriter
	timeout time.Duration
	logger  *zerolog.Logger
}

func NewKafkaForwarder(writer MessageWriter, logger *zerolog.Logger) *KafkaForwarder {
	return &KafkaForwarder{writer: writer, timeout: 5 * time.Second, logger: logger}
}

// Attach subscribes the forwarder to every booking event.
func (f *KafkaForwarder) Attach(bus *EventBus) {
	bus.SubscribeAll(BookingEvents, f.Handle)
}

func (f *KafkaForwarder) Handle(event *Event) error {
	key := ""
	if p, err := DecodeBooking(event); err == nil {
		key = p.BookingID
	}

	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	err := f.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: event.Payload,
		Time:  event.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	})
	if err != nil {
		f.logger.Error().Err(err).Str("event_type", event.Type).Str("booking_id", key).Msg("kafka publish failed")
		return err
	}
	f.logger.Debug().Str("event_type", event.Type).Str("booking_id", key).Msg("event forwarded to kafka")
	return nil
}

func (f *KafkaForwarder) Close() error {
	return f.writer.Close()
}
