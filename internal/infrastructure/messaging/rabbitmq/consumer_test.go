package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/nicedentist/auth-service/internal/core/domain"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type consumerFixture struct {
	ch       *fakeChannel
	handlers *stubHandlers
	attempts *stubAttempts
	consumer *Consumer
}

func newConsumerFixture(t *testing.T, retry RetryPolicy) *consumerFixture {
	t.Helper()
	f := &consumerFixture{
		ch:       newFakeChannel(),
		handlers: &stubHandlers{},
		attempts: newStubAttempts(),
	}
	c, err := NewConsumer(f.ch, ConsumerConfig{Retry: retry},
		Handlers{Customer: f.handlers, Dentist: f.handlers},
		inlineDispatcher{}, f.attempts, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}
	f.consumer = c
	return f
}

func delivery(t *testing.T, evt domain.Event, tag string, ack *fakeAck) amqp.Delivery {
	t.Helper()
	body, err := Encode(evt)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return amqp.Delivery{
		Acknowledger: ack,
		DeliveryTag:  1,
		MessageId:    evt.Metadata().ID.String(),
		Type:         tag,
		Body:         body,
	}
}

func customerCreated() *domain.CustomerCreated {
	return domain.NewCustomerCreated(domain.CustomerCreatedData{CustomerID: 1, Name: "Ana", Email: "ana@example.com"})
}

// ---------------------------------------------------------------------------
// Topology
// ---------------------------------------------------------------------------

func TestNewConsumer_DeclaresTopology(t *testing.T) {
	f := newConsumerFixture(t, RetryPolicy{MaxRedeliveries: 3, DeadLetterQueue: "auth.manager.events.dead"})

	if f.ch.exchanges[DefaultExchange] != amqp.ExchangeTopic {
		t.Fatalf("exchange not declared")
	}
	for _, key := range DefaultConsumerBindings {
		if !f.ch.hasBinding("auth.manager.events<-" + key + "@nicedentist.events") {
			t.Fatalf("missing binding for %s: %v", key, f.ch.bindings)
		}
	}
	if _, ok := f.ch.queues["auth.manager.events.dead"]; !ok {
		t.Fatalf("dead-letter queue not declared")
	}
	if f.ch.prefetch != defaultPrefetch {
		t.Fatalf("expected prefetch %d, got %d", defaultPrefetch, f.ch.prefetch)
	}
}

func TestNewConsumer_QuorumQueueArgs(t *testing.T) {
	ch := newFakeChannel()
	h := &stubHandlers{}
	_, err := NewConsumer(ch, ConsumerConfig{QuorumQueue: true}, Handlers{Customer: h, Dentist: h}, inlineDispatcher{}, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}
	if ch.queues[DefaultConsumerQueue]["x-queue-type"] != "quorum" {
		t.Fatalf("expected quorum queue args, got %v", ch.queues[DefaultConsumerQueue])
	}
}

func TestNewConsumer_RequiresHandlers(t *testing.T) {
	if _, err := NewConsumer(newFakeChannel(), ConsumerConfig{}, Handlers{}, inlineDispatcher{}, nil, zerolog.Nop()); err == nil {
		t.Fatalf("expected error without handlers")
	}
}

// ---------------------------------------------------------------------------
// Settlement
// ---------------------------------------------------------------------------

func TestConsumer_HandlerSuccessAcksOnce(t *testing.T) {
	f := newConsumerFixture(t, RetryPolicy{})
	ack := newFakeAck()

	f.consumer.dispatch(context.Background(), delivery(t, customerCreated(), "CustomerCreated", ack))

	acks, nacks := ack.counts()
	if acks != 1 || nacks != 0 {
		t.Fatalf("expected one ack, got acks=%d nacks=%d", acks, nacks)
	}
	if len(f.handlers.customers) != 1 {
		t.Fatalf("handler not invoked")
	}
}

func TestConsumer_LowercaseDentistTagDispatches(t *testing.T) {
	f := newConsumerFixture(t, RetryPolicy{})
	ack := newFakeAck()
	evt := domain.NewDentistCreated(domain.DentistCreatedData{DentistID: 2, Email: "lee@example.com"})

	f.consumer.dispatch(context.Background(), delivery(t, evt, "dentistcreated", ack))

	if len(f.handlers.dentists) != 1 {
		t.Fatalf("dentist handler not invoked")
	}
	if acks, _ := ack.counts(); acks != 1 {
		t.Fatalf("expected ack")
	}
}

func TestConsumer_HandlerFailureRequeues(t *testing.T) {
	f := newConsumerFixture(t, RetryPolicy{})
	f.handlers.err = domain.PersistenceError("create user", errBoom)
	ack := newFakeAck()

	f.consumer.dispatch(context.Background(), delivery(t, customerCreated(), "CustomerCreated", ack))

	acks, nacks := ack.counts()
	if acks != 0 || nacks != 1 || !ack.requeue {
		t.Fatalf("expected requeue, got acks=%d nacks=%d requeue=%v", acks, nacks, ack.requeue)
	}
}

func TestConsumer_HandlerPanicRequeues(t *testing.T) {
	f := newConsumerFixture(t, RetryPolicy{})
	f.handlers.panicMsg = "nil map"
	ack := newFakeAck()

	f.consumer.dispatch(context.Background(), delivery(t, customerCreated(), "CustomerCreated", ack))

	if _, nacks := ack.counts(); nacks != 1 || !ack.requeue {
		t.Fatalf("expected requeue after panic")
	}
}

func TestConsumer_UnknownTypeAckedWithoutHandler(t *testing.T) {
	f := newConsumerFixture(t, RetryPolicy{})
	ack := newFakeAck()

	f.consumer.dispatch(context.Background(), amqp.Delivery{Acknowledger: ack, Type: "AppointmentBooked", Body: []byte("{}")})

	if acks, nacks := ack.counts(); acks != 1 || nacks != 0 {
		t.Fatalf("expected ack for unknown type, got acks=%d nacks=%d", acks, nacks)
	}
	if len(f.handlers.customers)+len(f.handlers.dentists) != 0 {
		t.Fatalf("no handler should run")
	}
}

func TestConsumer_UserCreatedIsIgnored(t *testing.T) {
	f := newConsumerFixture(t, RetryPolicy{})
	ack := newFakeAck()
	evt := domain.NewUserCreated(domain.UserCreatedData{UserID: 1, Email: "a@b.c"})

	f.consumer.dispatch(context.Background(), delivery(t, evt, "UserCreated", ack))

	if acks, _ := ack.counts(); acks != 1 {
		t.Fatalf("expected ack")
	}
}

func TestConsumer_DecodeFailureRequeues(t *testing.T) {
	f := newConsumerFixture(t, RetryPolicy{})
	ack := newFakeAck()

	f.consumer.dispatch(context.Background(), amqp.Delivery{Acknowledger: ack, Type: "CustomerCreated", Body: []byte("{broken")})

	if _, nacks := ack.counts(); nacks != 1 || !ack.requeue {
		t.Fatalf("expected requeue on decode failure")
	}
}

func TestConsumer_DispatcherUnavailableRequeues(t *testing.T) {
	ch := newFakeChannel()
	h := &stubHandlers{}
	c, err := NewConsumer(ch, ConsumerConfig{}, Handlers{Customer: h, Dentist: h},
		inlineDispatcher{enqueueErr: context.Canceled}, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}
	ack := newFakeAck()

	c.dispatch(context.Background(), delivery(t, customerCreated(), "CustomerCreated", ack))

	if _, nacks := ack.counts(); nacks != 1 {
		t.Fatalf("expected nack when dispatcher rejects the job")
	}
}

// ---------------------------------------------------------------------------
// Dead-letter policy
// ---------------------------------------------------------------------------

func TestConsumer_DeadLettersAfterMaxAttempts(t *testing.T) {
	f := newConsumerFixture(t, RetryPolicy{MaxRedeliveries: 3, DeadLetterQueue: "dlq"})
	f.handlers.err = errBoom
	evt := customerCreated()

	for i := 1; i <= 3; i++ {
		ack := newFakeAck()
		f.consumer.dispatch(context.Background(), delivery(t, evt, "CustomerCreated", ack))

		acks, nacks := ack.counts()
		if i < 3 && (nacks != 1 || acks != 0) {
			t.Fatalf("attempt %d: expected requeue, got acks=%d nacks=%d", i, acks, nacks)
		}
		if i == 3 && (acks != 1 || nacks != 0) {
			t.Fatalf("attempt %d: expected ack after dead-lettering, got acks=%d nacks=%d", i, acks, nacks)
		}
	}

	if len(f.ch.published) != 1 {
		t.Fatalf("expected one dead-letter publish, got %d", len(f.ch.published))
	}
	dl := f.ch.published[0]
	if dl.exchange != "" || dl.key != "dlq" {
		t.Fatalf("unexpected dead-letter routing %q/%q", dl.exchange, dl.key)
	}
	if dl.msg.Headers[headerDeathReason] != errBoom.Error() || dl.msg.Headers[headerAttempts] != int32(3) {
		t.Fatalf("unexpected dead-letter headers %v", dl.msg.Headers)
	}
	if dl.msg.MessageId != evt.Metadata().ID.String() {
		t.Fatalf("dead-letter must keep the message id")
	}
	if _, tracked := f.attempts.counts[evt.Metadata().ID.String()]; tracked {
		t.Fatalf("attempt counter should be reset after dead-lettering")
	}
}

func TestConsumer_DeliveryCountHeaderWins(t *testing.T) {
	f := newConsumerFixture(t, RetryPolicy{MaxRedeliveries: 2, DeadLetterQueue: "dlq"})
	f.handlers.err = errBoom
	ack := newFakeAck()

	d := delivery(t, customerCreated(), "CustomerCreated", ack)
	d.Headers = amqp.Table{headerDeliveryCount: int64(1)}
	f.consumer.dispatch(context.Background(), d)

	if acks, _ := ack.counts(); acks != 1 {
		t.Fatalf("expected dead-letter on second delivery")
	}
	if len(f.attempts.counts) != 0 {
		t.Fatalf("attempt counter must not be consulted when the header is present")
	}
}

func TestConsumer_AttemptCounterErrorRequeues(t *testing.T) {
	f := newConsumerFixture(t, RetryPolicy{MaxRedeliveries: 1, DeadLetterQueue: "dlq"})
	f.handlers.err = errBoom
	f.attempts.err = errors.New("redis down")
	ack := newFakeAck()

	f.consumer.dispatch(context.Background(), delivery(t, customerCreated(), "CustomerCreated", ack))

	if _, nacks := ack.counts(); nacks != 1 {
		t.Fatalf("expected requeue when attempts are unknown")
	}
	if len(f.ch.published) != 0 {
		t.Fatalf("nothing should be dead-lettered")
	}
}

func TestConsumer_DeadLetterPublishFailureRequeues(t *testing.T) {
	f := newConsumerFixture(t, RetryPolicy{MaxRedeliveries: 1, DeadLetterQueue: "dlq"})
	f.handlers.err = errBoom
	f.ch.publishErr = amqp.ErrClosed
	ack := newFakeAck()

	f.consumer.dispatch(context.Background(), delivery(t, customerCreated(), "CustomerCreated", ack))

	if acks, nacks := ack.counts(); acks != 0 || nacks != 1 {
		t.Fatalf("expected requeue when dead-lettering fails, got acks=%d nacks=%d", acks, nacks)
	}
}

func TestConsumer_SuccessResetsAttempts(t *testing.T) {
	f := newConsumerFixture(t, RetryPolicy{MaxRedeliveries: 5, DeadLetterQueue: "dlq"})
	evt := customerCreated()

	f.handlers.err = errBoom
	f.consumer.dispatch(context.Background(), delivery(t, evt, "CustomerCreated", newFakeAck()))
	f.handlers.err = nil
	f.consumer.dispatch(context.Background(), delivery(t, evt, "CustomerCreated", newFakeAck()))

	if f.attempts.resets != 1 {
		t.Fatalf("expected one reset, got %d", f.attempts.resets)
	}
}

func TestConsumer_UndecodableMessageWithoutIDIsDeadLettered(t *testing.T) {
	f := newConsumerFixture(t, RetryPolicy{MaxRedeliveries: 2, DeadLetterQueue: "dlq"})
	poison := func(ack *fakeAck) amqp.Delivery {
		return amqp.Delivery{Acknowledger: ack, Type: "CustomerCreated", Body: []byte("{broken")}
	}

	first := newFakeAck()
	f.consumer.dispatch(context.Background(), poison(first))
	if acks, nacks := first.counts(); acks != 0 || nacks != 1 {
		t.Fatalf("first attempt: expected requeue, got acks=%d nacks=%d", acks, nacks)
	}

	second := newFakeAck()
	f.consumer.dispatch(context.Background(), poison(second))
	if acks, nacks := second.counts(); acks != 1 || nacks != 0 {
		t.Fatalf("second attempt: expected ack after dead-lettering, got acks=%d nacks=%d", acks, nacks)
	}
	if len(f.ch.published) != 1 || f.ch.published[0].key != "dlq" {
		t.Fatalf("expected the message on the dead-letter queue, got %v", f.ch.published)
	}
	if len(f.attempts.counts) != 0 {
		t.Fatalf("attempt counter should be cleared, got %v", f.attempts.counts)
	}
}

func TestAttemptKey(t *testing.T) {
	withID := amqp.Delivery{MessageId: "m-1", Body: []byte("a")}
	if got := attemptKey(withID); got != "m-1" {
		t.Fatalf("expected message id, got %q", got)
	}

	a := amqp.Delivery{Type: "CustomerCreated", Body: []byte("a")}
	b := amqp.Delivery{Type: "CustomerCreated", Body: []byte("b")}
	if attemptKey(a) != attemptKey(a) {
		t.Fatalf("key must be stable for the same body")
	}
	if attemptKey(a) == attemptKey(b) {
		t.Fatalf("different bodies must not share a key")
	}
}

func TestConsumer_ConflictIsDeadLetteredOnFirstAttempt(t *testing.T) {
	f := newConsumerFixture(t, RetryPolicy{MaxRedeliveries: 10, DeadLetterQueue: "dlq"})
	f.handlers.err = fmt.Errorf("provision CustomerCreated: %w", domain.ConflictError("username held by another account"))
	ack := newFakeAck()

	f.consumer.dispatch(context.Background(), delivery(t, customerCreated(), "CustomerCreated", ack))

	if acks, nacks := ack.counts(); acks != 1 || nacks != 0 {
		t.Fatalf("expected ack after dead-lettering, got acks=%d nacks=%d", acks, nacks)
	}
	if len(f.ch.published) != 1 {
		t.Fatalf("expected one dead-letter publish, got %d", len(f.ch.published))
	}
	if f.ch.published[0].msg.Headers[headerAttempts] != int32(1) {
		t.Fatalf("unexpected attempts header %v", f.ch.published[0].msg.Headers[headerAttempts])
	}
}

func TestConsumer_ConflictRequeuesWithoutDeadLetterQueue(t *testing.T) {
	f := newConsumerFixture(t, RetryPolicy{})
	f.handlers.err = domain.ConflictError("username held by another account")
	ack := newFakeAck()

	f.consumer.dispatch(context.Background(), delivery(t, customerCreated(), "CustomerCreated", ack))

	if _, nacks := ack.counts(); nacks != 1 || !ack.requeue {
		t.Fatalf("expected requeue when no dead-letter queue is configured")
	}
}

// ---------------------------------------------------------------------------
// Run loop
// ---------------------------------------------------------------------------

func TestConsumer_RunProcessesUntilStreamCloses(t *testing.T) {
	f := newConsumerFixture(t, RetryPolicy{})
	ack := newFakeAck()

	f.ch.deliveries <- delivery(t, customerCreated(), "CustomerCreated", ack)
	close(f.ch.deliveries)

	errCh := make(chan error, 1)
	go func() { errCh <- f.consumer.Run(context.Background()) }()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrDeliveriesClosed) {
			t.Fatalf("expected ErrDeliveriesClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return")
	}
	if acks, _ := ack.counts(); acks != 1 {
		t.Fatalf("expected delivery to be acked")
	}
}

func TestConsumer_RunStopsOnCancel(t *testing.T) {
	f := newConsumerFixture(t, RetryPolicy{})
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- f.consumer.Run(ctx) }()
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("expected nil on cancel, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop")
	}
}
