package rabbitmq

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/nicedentist/auth-service/internal/core/domain"
	"github.com/nicedentist/auth-service/internal/core/ports"
	"github.com/nicedentist/auth-service/internal/infrastructure/queue"
	"github.com/nicedentist/auth-service/internal/pkg/metrics"
)

// ErrDeliveriesClosed is returned by Run when the broker closes the delivery
// stream, which happens when the channel or connection dies.
var ErrDeliveriesClosed = errors.New("rabbitmq: delivery channel closed")

const (
	headerDeliveryCount = "x-delivery-count"
	headerDeathReason   = "x-death-reason"
	headerAttempts      = "x-attempts"
	headerOriginalQueue = "x-original-queue"
	defaultPrefetch     = 16
)

// RetryPolicy decides what happens to a delivery whose handler failed.
// With MaxRedeliveries <= 0 failed deliveries are requeued indefinitely.
// Otherwise the delivery that reaches MaxRedeliveries attempts is copied to
// DeadLetterQueue and acknowledged. Conflict failures cannot succeed on retry
// and go to DeadLetterQueue on their first attempt.
type RetryPolicy struct {
	MaxRedeliveries int
	DeadLetterQueue string
}

// AttemptCounter counts failed attempts per message key.
type AttemptCounter interface {
	Increment(ctx context.Context, messageID string) (int, error)
	Reset(ctx context.Context, messageID string) error
}

// JobDispatcher runs handler work off the delivery loop.
type JobDispatcher interface {
	Start(ctx context.Context)
	Enqueue(ctx context.Context, job queue.Job) error
}

// Handlers binds each consumed event type to its handler.
type Handlers struct {
	Customer ports.CustomerCreatedHandler
	Dentist  ports.DentistCreatedHandler
}

// ConsumerConfig describes the consumer's queue and its bindings.
type ConsumerConfig struct {
	Exchange    string
	Queue       string
	Bindings    []string
	Tag         string
	Prefetch    int
	QuorumQueue bool
	Retry       RetryPolicy
}

// Consumer reads the manager events queue and drives each delivery to an
// ack, a requeue, or the dead-letter queue.
type Consumer struct {
	ch         Channel
	cfg        ConsumerConfig
	handlers   Handlers
	dispatcher JobDispatcher
	attempts   AttemptCounter
	log        zerolog.Logger
}

// NewConsumer declares the exchange, the consumer queue with its bindings and
// the dead-letter queue, then applies the prefetch limit. attempts may be nil,
// in which case only the broker's delivery count header is consulted.
func NewConsumer(ch Channel, cfg ConsumerConfig, handlers Handlers, dispatcher JobDispatcher, attempts AttemptCounter, log zerolog.Logger) (*Consumer, error) {
	if cfg.Exchange == "" {
		cfg.Exchange = DefaultExchange
	}
	if cfg.Queue == "" {
		cfg.Queue = DefaultConsumerQueue
	}
	if len(cfg.Bindings) == 0 {
		cfg.Bindings = DefaultConsumerBindings
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = defaultPrefetch
	}
	if handlers.Customer == nil || handlers.Dentist == nil {
		return nil, errors.New("rabbitmq: consumer needs customer and dentist handlers")
	}

	c := &Consumer{
		ch:         ch,
		cfg:        cfg,
		handlers:   handlers,
		dispatcher: dispatcher,
		attempts:   attempts,
		log:        log.With().Str("component", "consumer").Str("queue", cfg.Queue).Logger(),
	}
	if err := c.declareTopology(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Consumer) declareTopology() error {
	if err := c.ch.ExchangeDeclare(c.cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", c.cfg.Exchange, err)
	}

	var args amqp.Table
	if c.cfg.QuorumQueue {
		args = amqp.Table{"x-queue-type": "quorum"}
	}
	if _, err := c.ch.QueueDeclare(c.cfg.Queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("declare queue %s: %w", c.cfg.Queue, err)
	}
	for _, key := range c.cfg.Bindings {
		if err := c.ch.QueueBind(c.cfg.Queue, key, c.cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s to %s: %w", c.cfg.Queue, key, err)
		}
	}

	if c.cfg.Retry.MaxRedeliveries > 0 && c.cfg.Retry.DeadLetterQueue != "" {
		if _, err := c.ch.QueueDeclare(c.cfg.Retry.DeadLetterQueue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare dead-letter queue %s: %w", c.cfg.Retry.DeadLetterQueue, err)
		}
	}

	if err := c.ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}
	return nil
}

// Run consumes until ctx is cancelled or the broker closes the stream.
// Deliveries still being handled when Run returns are left unacknowledged and
// will be redelivered by the broker.
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.ch.Consume(c.cfg.Queue, c.cfg.Tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.cfg.Queue, err)
	}

	c.dispatcher.Start(ctx)
	c.log.Info().Strs("bindings", c.cfg.Bindings).Msg("consumer started")

	for {
		select {
		case <-ctx.Done():
			c.log.Info().Msg("consumer stopping")
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return ErrDeliveriesClosed
			}
			c.dispatch(ctx, d)
		}
	}
}

// dispatch decodes d and schedules its handler. Unknown and unhandled types
// are acknowledged immediately.
func (c *Consumer) dispatch(ctx context.Context, d amqp.Delivery) {
	start := time.Now()
	log := c.log.With().Str("message_id", d.MessageId).Str("type_tag", d.Type).Logger()

	evt, err := Decode(d.Type, d.Body)
	switch {
	case errors.Is(err, ErrUnknownEventType):
		log.Info().Msg("ignoring message of unknown type")
		c.ack(d, "unknown", "ignored")
		return
	case err != nil:
		metrics.DecodeErrorsTotal.WithLabelValues(d.Type).Inc()
		log.Error().Err(err).Msg("failed to decode message")
		c.fail(ctx, d, "unknown", err)
		return
	}

	typ := string(evt.Type())
	if evt.Type() != domain.EventCustomerCreated && evt.Type() != domain.EventDentistCreated {
		log.Info().Str("event_type", typ).Msg("no handler for event type")
		c.ack(d, typ, "ignored")
		return
	}

	job := queue.Job{
		Key: domain.PartitionKey(evt),
		Run: func(ctx context.Context) {
			err := c.handle(ctx, evt)
			metrics.HandlerDuration.WithLabelValues(typ).Observe(time.Since(start).Seconds())
			if err != nil {
				log.Error().Err(err).Str("event_type", typ).Msg("handler failed")
				c.fail(ctx, d, typ, err)
				return
			}
			c.succeed(ctx, d, typ)
		},
	}
	if err := c.dispatcher.Enqueue(ctx, job); err != nil {
		log.Warn().Err(err).Msg("dispatcher unavailable, returning message to queue")
		c.nack(d, typ)
	}
}

// handle runs the handler for evt. A panicking handler counts as a failure.
func (c *Consumer) handle(ctx context.Context, evt domain.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	switch e := evt.(type) {
	case *domain.CustomerCreated:
		return c.handlers.Customer.HandleCustomerCreated(ctx, e)
	case *domain.DentistCreated:
		return c.handlers.Dentist.HandleDentistCreated(ctx, e)
	default:
		return fmt.Errorf("no handler for %s", evt.Type())
	}
}

func (c *Consumer) succeed(ctx context.Context, d amqp.Delivery, typ string) {
	c.ack(d, typ, "ack")
	if c.attempts != nil && c.cfg.Retry.MaxRedeliveries > 0 {
		if err := c.attempts.Reset(ctx, attemptKey(d)); err != nil {
			c.log.Warn().Err(err).Str("message_id", d.MessageId).Msg("failed to reset attempt counter")
		}
	}
}

// fail applies the retry policy to a delivery whose processing failed.
func (c *Consumer) fail(ctx context.Context, d amqp.Delivery, typ string, cause error) {
	limit := c.cfg.Retry.MaxRedeliveries
	if limit <= 0 || c.cfg.Retry.DeadLetterQueue == "" {
		c.nack(d, typ)
		return
	}

	attempts, ok := c.attemptCount(ctx, d)
	permanent := domain.KindOf(cause) == domain.KindConflict
	if permanent && !ok {
		attempts, ok = 1, true
	}
	if !ok || (attempts < limit && !permanent) {
		c.nack(d, typ)
		return
	}

	if err := c.deadLetter(ctx, d, cause, attempts); err != nil {
		c.log.Error().Err(err).Str("message_id", d.MessageId).Msg("dead-letter publish failed, requeueing")
		c.nack(d, typ)
		return
	}

	c.log.Warn().
		Str("message_id", d.MessageId).
		Str("event_type", typ).
		Int("attempts", attempts).
		Str("dead_letter_queue", c.cfg.Retry.DeadLetterQueue).
		Msg("message dead-lettered")
	c.ack(d, typ, "dead_letter")

	if c.attempts != nil {
		_ = c.attempts.Reset(ctx, attemptKey(d))
	}
}

// attemptCount returns how many times d has now been attempted. The broker's
// delivery count header wins over the attempt counter.
func (c *Consumer) attemptCount(ctx context.Context, d amqp.Delivery) (int, bool) {
	if n, ok := headerInt(d.Headers, headerDeliveryCount); ok {
		return n + 1, true
	}
	if c.attempts == nil {
		return 0, false
	}

	n, err := c.attempts.Increment(ctx, attemptKey(d))
	if err != nil {
		c.log.Warn().Err(err).Str("message_id", d.MessageId).Msg("attempt counter unavailable")
		return 0, false
	}
	return n, true
}

// attemptKey identifies d across redeliveries. Messages published without an
// id are keyed by a digest of their type and body.
func attemptKey(d amqp.Delivery) string {
	if d.MessageId != "" {
		return d.MessageId
	}
	sum := sha256.New()
	sum.Write([]byte(d.Type))
	sum.Write([]byte{0})
	sum.Write(d.Body)
	return "body:" + hex.EncodeToString(sum.Sum(nil))
}

func (c *Consumer) deadLetter(ctx context.Context, d amqp.Delivery, cause error, attempts int) error {
	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[headerDeathReason] = cause.Error()
	headers[headerAttempts] = int32(attempts)
	headers[headerOriginalQueue] = c.cfg.Queue

	msg := amqp.Publishing{
		Headers:      headers,
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    d.MessageId,
		Timestamp:    d.Timestamp,
		Type:         d.Type,
		AppId:        d.AppId,
		Body:         d.Body,
	}

	confirm, err := c.ch.PublishWithDeferredConfirmWithContext(ctx, "", c.cfg.Retry.DeadLetterQueue, false, false, msg)
	if err != nil {
		return err
	}
	if confirm != nil {
		if acked, err := confirm.WaitContext(ctx); err != nil || !acked {
			return errors.Join(errors.New("dead-letter publish not confirmed"), err)
		}
	}
	return nil
}

func (c *Consumer) ack(d amqp.Delivery, typ, outcome string) {
	if err := d.Ack(false); err != nil {
		c.log.Error().Err(err).Str("message_id", d.MessageId).Msg("ack failed")
		return
	}
	metrics.MessagesConsumedTotal.WithLabelValues(typ, outcome).Inc()
}

func (c *Consumer) nack(d amqp.Delivery, typ string) {
	if err := d.Nack(false, true); err != nil {
		c.log.Error().Err(err).Str("message_id", d.MessageId).Msg("nack failed")
		return
	}
	metrics.MessagesConsumedTotal.WithLabelValues(typ, "requeue").Inc()
}

func headerInt(h amqp.Table, key string) (int, bool) {
	switch v := h[key].(type) {
	case int:
		return v, true
	case int8:
		return int(v), true
	case int16:
		return int(v), true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	default:
		return 0, false
	}
}
