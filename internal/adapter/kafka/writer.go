package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/couchcryptid/air-quality-etl/internal/config"
	"github.com/couchcryptid/air-quality-etl/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// AlertMessage is the value published for one station in alert.
type AlertMessage struct {
	Station  string    `json:"station"`
	NO2      *float64  `json:"no2"`
	PM10     *float64  `json:"pm10"`
	PM25     *float64  `json:"pm25"`
	LoadedAt time.Time `json:"loaded_at"`
}

// AlertPublisher produces alert messages to a Kafka topic.
// It implements pipeline.AlertPublisher.
type AlertPublisher struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewAlertPublisher creates a Kafka producer for the configured alert topic.
func NewAlertPublisher(cfg *config.Config, logger *slog.Logger) *AlertPublisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaAlertTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &AlertPublisher{writer: w, logger: logger}
}

// Publish writes one message per station in a single WriteMessages call.
// Messages are keyed by station name so a station's alerts stay ordered.
func (p *AlertPublisher) Publish(ctx context.Context, alerts domain.Alerts, loadedAt time.Time) error {
	if len(alerts) == 0 {
		return nil
	}
	msgs, err := alertMessages(alerts, loadedAt)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish alerts: %w", err)
	}
	p.logger.Info("alerts published", "topic", p.writer.Topic, "stations", len(msgs))
	return nil
}

func (p *AlertPublisher) Close() error {
	return p.writer.Close()
}

// alertMessages builds messages in station-name order.
func alertMessages(alerts domain.Alerts, loadedAt time.Time) ([]kafkago.Message, error) {
	names := make([]string, 0, len(alerts))
	for name := range alerts {
		names = append(names, name)
	}
	sort.Strings(names)

	msgs := make([]kafkago.Message, 0, len(names))
	for _, name := range names {
		a := alerts[name]
		data, err := json.Marshal(AlertMessage{
			Station:  name,
			NO2:      a.NO2,
			PM10:     a.PM10,
			PM25:     a.PM25,
			LoadedAt: loadedAt,
		})
		if err != nil {
			return nil, fmt.Errorf("serialize alert: %w", err)
		}
		msgs = append(msgs, kafkago.Message{
			Key:   []byte(name),
			Value: data,
			Headers: []kafkago.Header{
				{Key: "station", Value: []byte(name)},
				{Key: "loaded_at", Value: []byte(loadedAt.Format(time.RFC3339))},
			},
		})
	}
	return msgs, nil
}
