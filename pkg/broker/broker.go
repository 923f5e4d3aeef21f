package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/orderlanelabs/orderlane/pkg/retry"
	"github.com/orderlanelabs/orderlane/pkg/telemetry/correlation"
)

var ErrClosed = errors.New("broker: connection closed")

// Publisher is the only surface the outbox publisher and consumer framework
// depend on; tests swap in an in-memory implementation.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Handler processes one delivery. Returning an error means the handler could
// not even route the message (infrastructure failure); the delivery is then
// requeued. Domain failures never surface here - the consumer framework
// routes them to retry or dead-letter queues itself and returns nil.
type Handler func(ctx context.Context, msg Message) error

// Broker wraps one AMQP connection plus the channel used for publishing.
type Broker struct {
	cfg    Config
	conn   *amqp.Connection
	ch     *amqp.Channel
	logger *zap.Logger
	tracer trace.Tracer
}

// Connect dials the broker, retrying because RabbitMQ commonly starts slower
// than the services depending on it, then declares the shared topic exchange.
func Connect(cfg Config, logger *zap.Logger) (*Broker, error) {
	var conn *amqp.Connection

	dialPolicy := retry.Policy{
		MaxAttempts:  cfg.DialRetries,
		InitialDelay: cfg.DialDelay,
		Multiplier:   1.0,
		MaxDelay:     cfg.DialDelay,
	}

	err := dialPolicy.Do(context.Background(), func() error {
		var dialErr error
		conn, dialErr = amqp.Dial(cfg.URL)
		return dialErr
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("broker: dial %s: %w", cfg.URL, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("broker: open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("broker: declare exchange %s: %w", cfg.Exchange, err)
	}

	return &Broker{
		cfg:    cfg,
		conn:   conn,
		ch:     ch,
		logger: logger.Named("broker"),
		tracer: otel.Tracer("orderlane/broker"),
	}, nil
}

// Publish sends one persistent message. Work topics route through the shared
// topic exchange; retry and dead-letter queues are addressed directly via the
// default exchange so their names stay authoritative.
func (b *Broker) Publish(ctx context.Context, msg Message) error {
	if b.conn == nil || b.conn.IsClosed() {
		return fmt.Errorf("broker: publish to %s: %w", msg.Topic, ErrClosed)
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.PublishTimeout)
	defer cancel()

	ctx, cid := correlation.EnsureCorrelationID(ctx)
	if msg.CorrelationID == "" {
		msg.CorrelationID = cid
	}

	ctx, span := b.tracer.Start(ctx, "broker.publish", trace.WithAttributes(
		attribute.String("messaging.destination", msg.Topic),
		attribute.String("messaging.message_key", msg.Key),
	))
	defer span.End()

	if msg.TraceID == "" {
		msg.TraceID, msg.SpanID = correlation.SpanIDs(ctx)
	}

	exchange := b.cfg.Exchange
	routingKey := msg.Topic
	if isDerivedQueue(msg.Topic) {
		exchange = ""
		routingKey = msg.Topic
	}

	if err := b.ch.PublishWithContext(ctx, exchange, routingKey, false, false, msg.toPublishing()); err != nil {
		return fmt.Errorf("broker: publish to %s: %w", msg.Topic, err)
	}
	return nil
}

// Subscribe consumes a queue until ctx is cancelled. The in-flight delivery
// is always finished before the loop exits so shutdown never leaves a
// half-applied message behind.
func (b *Broker) Subscribe(ctx context.Context, queue string, handler Handler) error {
	if b.conn == nil || b.conn.IsClosed() {
		return fmt.Errorf("broker: subscribe %s: %w", queue, ErrClosed)
	}

	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("broker: open consumer channel: %w", err)
	}

	if err := ch.Qos(b.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("broker: set qos: %w", err)
	}

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("broker: consume %s: %w", queue, err)
	}

	go func() {
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				b.handleDelivery(queue, d, handler)
			}
		}
	}()

	return nil
}

func (b *Broker) handleDelivery(queue string, d amqp.Delivery, handler Handler) {
	msg := fromDelivery(queue, d)

	// The per-message context is deliberately detached from the subscriber's
	// so cancellation cannot abort a message mid-application.
	ctx := context.Background()
	ctx = correlation.ContextWithCorrelationID(ctx, msg.CorrelationID)
	ctx = correlation.ContextWithRemoteSpan(ctx, msg.TraceID, msg.SpanID)

	ctx, span := b.tracer.Start(ctx, "broker.consume", trace.WithAttributes(
		attribute.String("messaging.source", queue),
		attribute.String("messaging.message_id", msg.MessageID),
	))
	defer span.End()

	if err := handler(ctx, msg); err != nil {
		b.logger.Warn("delivery_requeued",
			zap.String("queue", queue),
			zap.String("message_id", msg.MessageID),
			zap.Error(err),
		)
		// Give the broker a moment before redelivery to avoid a tight loop.
		time.Sleep(200 * time.Millisecond)
		_ = d.Nack(false, true)
		return
	}

	_ = d.Ack(false)
}

func (b *Broker) Close() error {
	if b.ch != nil {
		_ = b.ch.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
