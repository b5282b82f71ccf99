package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/nicedentist/auth-service/internal/core/domain"
	"github.com/nicedentist/auth-service/internal/pkg/metrics"
)

// PublisherConfig names the exchange and the correlation queue the publisher
// declares at startup.
type PublisherConfig struct {
	Exchange         string
	CorrelationQueue string
}

// Publisher implements ports.EventPublisher. The channel runs in confirm mode,
// so a publish returns only once the broker has taken the message.
type Publisher struct {
	ch       Channel
	exchange string
	log      zerolog.Logger

	mu       sync.Mutex
	declared map[string]struct{}
}

// NewPublisher declares the exchange and correlation queue and puts ch into
// confirm mode.
func NewPublisher(ch Channel, cfg PublisherConfig, log zerolog.Logger) (*Publisher, error) {
	if cfg.Exchange == "" {
		cfg.Exchange = DefaultExchange
	}
	if cfg.CorrelationQueue == "" {
		cfg.CorrelationQueue = DefaultCorrelationQueue
	}

	if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", cfg.Exchange, err)
	}
	if _, err := ch.QueueDeclare(cfg.CorrelationQueue, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare queue %s: %w", cfg.CorrelationQueue, err)
	}
	if err := ch.QueueBind(cfg.CorrelationQueue, correlationBinding, cfg.Exchange, false, nil); err != nil {
		return nil, fmt.Errorf("bind queue %s: %w", cfg.CorrelationQueue, err)
	}
	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("enable confirms: %w", err)
	}

	return &Publisher{
		ch:       ch,
		exchange: cfg.Exchange,
		log:      log.With().Str("component", "publisher").Logger(),
		declared: map[string]struct{}{cfg.CorrelationQueue: {}},
	}, nil
}

// Publish sends evt to the exchange under the routing key derived from its type.
func (p *Publisher) Publish(ctx context.Context, evt domain.Event) error {
	return p.send(ctx, p.exchange, RoutingKey(string(evt.Type())), evt)
}

// PublishToQueue sends evt straight to queue through the default exchange,
// declaring the queue first if this publisher has not seen it yet.
func (p *Publisher) PublishToQueue(ctx context.Context, evt domain.Event, queue string) error {
	if err := p.ensureQueue(queue); err != nil {
		metrics.EventsPublishedTotal.WithLabelValues(string(evt.Type()), "error").Inc()
		return domain.DeliveryError(fmt.Sprintf("declare queue %s", queue), err)
	}
	return p.send(ctx, "", queue, evt)
}

func (p *Publisher) ensureQueue(queue string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.declared[queue]; ok {
		return nil
	}
	if _, err := p.ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return err
	}
	p.declared[queue] = struct{}{}
	return nil
}

func (p *Publisher) send(ctx context.Context, exchange, key string, evt domain.Event) error {
	typ := string(evt.Type())

	body, err := Encode(evt)
	if err != nil {
		metrics.EventsPublishedTotal.WithLabelValues(typ, "error").Inc()
		return domain.DeliveryError("encode "+typ, err)
	}

	meta := evt.Metadata()
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    meta.ID.String(),
		Timestamp:    meta.OccurredAt.Truncate(time.Second),
		Type:         typ,
		AppId:        meta.Source,
		Body:         body,
	}

	p.mu.Lock()
	confirm, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, exchange, key, false, false, msg)
	p.mu.Unlock()
	if err != nil {
		metrics.EventsPublishedTotal.WithLabelValues(typ, "error").Inc()
		return domain.DeliveryError("publish "+typ, err)
	}

	if confirm != nil {
		acked, err := confirm.WaitContext(ctx)
		if err != nil {
			metrics.EventsPublishedTotal.WithLabelValues(typ, "error").Inc()
			return domain.DeliveryError("await confirm for "+typ, err)
		}
		if !acked {
			metrics.EventsPublishedTotal.WithLabelValues(typ, "error").Inc()
			return domain.DeliveryError("broker rejected "+typ, nil)
		}
	}

	metrics.EventsPublishedTotal.WithLabelValues(typ, "ok").Inc()
	p.log.Debug().
		Str("event_id", msg.MessageId).
		Str("event_type", typ).
		Str("exchange", exchange).
		Str("routing_key", key).
		Msg("event published")
	return nil
}
