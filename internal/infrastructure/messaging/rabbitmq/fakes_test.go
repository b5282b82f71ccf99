package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/nicedentist/auth-service/internal/core/domain"
	"github.com/nicedentist/auth-service/internal/infrastructure/queue"
)

// ---------------------------------------------------------------------------
// Channel
// ---------------------------------------------------------------------------

type publishCall struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	mu sync.Mutex

	exchanges map[string]string
	queues    map[string]amqp.Table
	bindings  []string
	prefetch  int
	confirm   bool
	closed    bool

	declareErr error
	publishErr error
	published  []publishCall
	declares   int

	deliveries chan amqp.Delivery
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		exchanges:  make(map[string]string),
		queues:     make(map[string]amqp.Table),
		deliveries: make(chan amqp.Delivery, 8),
	}
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exchanges[name] = kind
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, args amqp.Table) (amqp.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.declares++
	if f.declareErr != nil {
		return amqp.Queue{}, f.declareErr
	}
	f.queues[name] = args
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) QueueBind(name, key, exchange string, _ bool, _ amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bindings = append(f.bindings, fmt.Sprintf("%s<-%s@%s", name, key, exchange))
	return nil
}

func (f *fakeChannel) Qos(prefetchCount, _ int, _ bool) error {
	f.prefetch = prefetchCount
	return nil
}

func (f *fakeChannel) Confirm(bool) error {
	f.confirm = true
	return nil
}

func (f *fakeChannel) Consume(string, string, bool, bool, bool, bool, amqp.Table) (<-chan amqp.Delivery, error) {
	return f.deliveries, nil
}

func (f *fakeChannel) PublishWithDeferredConfirmWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return nil, f.publishErr
	}
	f.published = append(f.published, publishCall{exchange: exchange, key: key, msg: msg})
	return nil, nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func (f *fakeChannel) hasBinding(b string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, got := range f.bindings {
		if got == b {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Acknowledger
// ---------------------------------------------------------------------------

type fakeAck struct {
	mu      sync.Mutex
	acks    int
	nacks   int
	requeue bool
	done    chan struct{}
}

func newFakeAck() *fakeAck {
	return &fakeAck{done: make(chan struct{}, 1)}
}

func (a *fakeAck) Ack(uint64, bool) error {
	a.mu.Lock()
	a.acks++
	a.mu.Unlock()
	a.signal()
	return nil
}

func (a *fakeAck) Nack(_ uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	a.nacks++
	a.requeue = requeue
	a.mu.Unlock()
	a.signal()
	return nil
}

func (a *fakeAck) Reject(_ uint64, requeue bool) error {
	return a.Nack(0, false, requeue)
}

func (a *fakeAck) signal() {
	select {
	case a.done <- struct{}{}:
	default:
	}
}

func (a *fakeAck) counts() (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acks, a.nacks
}

// ---------------------------------------------------------------------------
// Dispatcher, handlers, attempts
// ---------------------------------------------------------------------------

// inlineDispatcher runs each job on the caller's goroutine.
type inlineDispatcher struct {
	enqueueErr error
}

func (inlineDispatcher) Start(context.Context) {}

func (d inlineDispatcher) Enqueue(ctx context.Context, job queue.Job) error {
	if d.enqueueErr != nil {
		return d.enqueueErr
	}
	job.Run(ctx)
	return nil
}

type stubHandlers struct {
	mu        sync.Mutex
	err       error
	panicMsg  string
	customers []*domain.CustomerCreated
	dentists  []*domain.DentistCreated
}

func (h *stubHandlers) HandleCustomerCreated(_ context.Context, evt *domain.CustomerCreated) error {
	if h.panicMsg != "" {
		panic(h.panicMsg)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.customers = append(h.customers, evt)
	return h.err
}

func (h *stubHandlers) HandleDentistCreated(_ context.Context, evt *domain.DentistCreated) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dentists = append(h.dentists, evt)
	return h.err
}

type stubAttempts struct {
	counts map[string]int
	err    error
	resets int
}

func newStubAttempts() *stubAttempts {
	return &stubAttempts{counts: make(map[string]int)}
}

func (s *stubAttempts) Increment(_ context.Context, id string) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.counts[id]++
	return s.counts[id], nil
}

func (s *stubAttempts) Reset(_ context.Context, id string) error {
	s.resets++
	delete(s.counts, id)
	return nil
}

var errBoom = errors.New("boom")
