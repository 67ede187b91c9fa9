package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/JawadKotaichh/AUBus-sub000/pkg/logger"
)

// Subjects for dispatch lifecycle events.
const (
	SubjectRequestCreated   = "requests.created"
	SubjectRequestAccepted  = "requests.accepted"
	SubjectRequestConfirmed = "requests.confirmed"
	SubjectRequestCanceled  = "requests.canceled"
	SubjectRequestExhausted = "requests.exhausted"

	SubjectOfferSent    = "offers.sent"
	SubjectOfferExpired = "offers.expired"

	SubjectRideCompleted = "rides.completed"
	SubjectDriverRated   = "rides.driver_rated"
)

const defaultStream = "AUBUS"

// Event carries one lifecycle notification. Data holds the
// subject-specific payload, encoded once at construction.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// NewEvent wraps data in an envelope with a fresh ID and UTC timestamp.
func NewEvent(eventType, source string, data interface{}) (*Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", eventType, err)
	}
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      raw,
	}, nil
}

// Config selects the NATS server and stream the bus publishes to.
type Config struct {
	URL        string
	Name       string // client connection name
	StreamName string // JetStream stream name (default: "AUBUS")
}

// DefaultConfig targets a local NATS server.
func DefaultConfig() Config {
	return Config{
		URL:        nats.DefaultURL,
		Name:       "aubus",
		StreamName: defaultStream,
	}
}

// Bus publishes dispatch lifecycle events onto a JetStream stream.
// Consumers live outside this repository; nothing here subscribes.
type Bus struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	stream string
}

// New connects to NATS and ensures the lifecycle stream exists. The
// connection retries forever in the background once established, so a
// broker restart does not take the dispatcher down with it.
func New(cfg Config) (*Bus, error) {
	stream := cfg.StreamName
	if stream == "" {
		stream = defaultStream
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("Event bus connection lost", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("Event bus connection restored")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.URL, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to open jetstream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      stream,
		Subjects:  []string{"requests.>", "offers.>", "rides.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.InterestPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	}); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream %s: %w", stream, err)
	}

	logger.Info("Event bus connected",
		zap.String("url", cfg.URL),
		zap.String("stream", stream))
	return &Bus{conn: nc, js: js, stream: stream}, nil
}

// Publish sends one event. The event ID doubles as the JetStream
// message ID, so a redelivered publish deduplicates server-side.
func (b *Bus) Publish(ctx context.Context, subject string, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", event.ID, err)
	}
	if _, err := b.js.Publish(ctx, subject, data, jetstream.WithMsgID(event.ID)); err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}

	logger.Debug("lifecycle event published",
		zap.String("subject", subject),
		zap.String("event_id", event.ID))
	return nil
}

// Close drains the connection, letting buffered publishes flush.
func (b *Bus) Close() {
	if b.conn == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		logger.Warn("Event bus drain failed", zap.Error(err))
	}
}

// Connected reports whether the underlying connection is live.
func (b *Bus) Connected() bool {
	return b.conn != nil && b.conn.IsConnected()
}
