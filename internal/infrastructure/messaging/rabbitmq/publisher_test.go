package rabbitmq

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/nicedentist/auth-service/internal/core/domain"
)

func newTestPublisher(t *testing.T, ch *fakeChannel) *Publisher {
	t.Helper()
	p, err := NewPublisher(ch, PublisherConfig{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	return p
}

func TestNewPublisher_DeclaresTopology(t *testing.T) {
	ch := newFakeChannel()
	newTestPublisher(t, ch)

	if ch.exchanges[DefaultExchange] != amqp.ExchangeTopic {
		t.Fatalf("expected topic exchange %s, got %v", DefaultExchange, ch.exchanges)
	}
	if _, ok := ch.queues[DefaultCorrelationQueue]; !ok {
		t.Fatalf("correlation queue not declared")
	}
	if !ch.hasBinding("manager.user.created<-user.*@nicedentist.events") {
		t.Fatalf("correlation binding missing: %v", ch.bindings)
	}
	if !ch.confirm {
		t.Fatalf("expected confirm mode")
	}
}

func TestPublisher_Publish_MessageProperties(t *testing.T) {
	ch := newFakeChannel()
	p := newTestPublisher(t, ch)

	at := time.Date(2025, 7, 1, 8, 15, 30, 987000000, time.UTC)
	evt := domain.NewUserCreated(domain.UserCreatedData{UserID: 4, Email: "a@b.c", Role: "Customer", EntityType: "Customer", EntityID: 1},
		domain.WithOccurredAt(at))

	if err := p.Publish(context.Background(), evt); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if len(ch.published) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(ch.published))
	}
	call := ch.published[0]
	if call.exchange != DefaultExchange || call.key != "user.created" {
		t.Fatalf("unexpected routing %s/%s", call.exchange, call.key)
	}

	msg := call.msg
	if msg.MessageId != evt.Metadata().ID.String() {
		t.Fatalf("message id %q does not match event id", msg.MessageId)
	}
	if !msg.Timestamp.Equal(at.Truncate(time.Second)) {
		t.Fatalf("expected second-precision timestamp, got %v", msg.Timestamp)
	}
	if msg.Type != "UserCreated" || msg.DeliveryMode != amqp.Persistent || msg.ContentType != "application/json" {
		t.Fatalf("unexpected properties: %+v", msg)
	}

	var env map[string]any
	if err := json.Unmarshal(msg.Body, &env); err != nil {
		t.Fatalf("body is not json: %v", err)
	}
	if env["eventId"] != msg.MessageId {
		t.Fatalf("body event id %v does not match message id", env["eventId"])
	}
}

func TestPublisher_PublishToQueue_DeclaresOnce(t *testing.T) {
	ch := newFakeChannel()
	p := newTestPublisher(t, ch)
	declaresAfterSetup := ch.declares

	evt := domain.NewUserCreated(domain.UserCreatedData{UserID: 1, Email: "a@b.c"})
	for i := 0; i < 2; i++ {
		if err := p.PublishToQueue(context.Background(), evt, "billing.user.created"); err != nil {
			t.Fatalf("PublishToQueue: %v", err)
		}
	}
	if err := p.PublishToQueue(context.Background(), evt, DefaultCorrelationQueue); err != nil {
		t.Fatalf("PublishToQueue: %v", err)
	}

	if ch.declares-declaresAfterSetup != 1 {
		t.Fatalf("expected exactly one extra declare, got %d", ch.declares-declaresAfterSetup)
	}
	for _, call := range ch.published {
		if call.exchange != "" {
			t.Fatalf("direct queue publish must use the default exchange, got %q", call.exchange)
		}
	}
	if ch.published[2].key != DefaultCorrelationQueue {
		t.Fatalf("expected routing to queue name, got %q", ch.published[2].key)
	}
}

func TestPublisher_FailuresAreDeliveryErrors(t *testing.T) {
	ch := newFakeChannel()
	p := newTestPublisher(t, ch)
	evt := domain.NewUserCreated(domain.UserCreatedData{UserID: 1, Email: "a@b.c"})

	ch.publishErr = amqp.ErrClosed
	if err := p.Publish(context.Background(), evt); domain.KindOf(err) != domain.KindDelivery {
		t.Fatalf("expected delivery error, got %v", err)
	}

	ch.publishErr = nil
	ch.declareErr = amqp.ErrClosed
	if err := p.PublishToQueue(context.Background(), evt, "new.queue"); domain.KindOf(err) != domain.KindDelivery {
		t.Fatalf("expected delivery error on declare failure, got %v", err)
	}
}
