package queue

import (
	"context"
	"hash/fnv"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/nicedentist/auth-service/internal/pkg/metrics"
)

const (
	defaultWorkers = 8
	channelBuffer  = 64
)

// Job is a unit of work routed by Key. Jobs sharing a key run on the same
// worker, one after another.
type Job struct {
	Key string
	Run func(ctx context.Context)
}

// Dispatcher routes jobs to a fixed set of workers using consistent hashing on
// the job key, so work for the same account never runs concurrently on this
// instance.
type Dispatcher struct {
	workers []chan Job
	log     zerolog.Logger
	wg      sync.WaitGroup
}

// NewDispatcher creates a Dispatcher with numWorkers sharded workers.
// If numWorkers <= 0, defaultWorkers is used.
func NewDispatcher(numWorkers int, log zerolog.Logger) *Dispatcher {
	if numWorkers <= 0 {
		numWorkers = defaultWorkers
	}
	d := &Dispatcher{
		workers: make([]chan Job, numWorkers),
		log:     log.With().Str("component", "dispatcher").Logger(),
	}
	for i := range d.workers {
		d.workers[i] = make(chan Job, channelBuffer)
	}
	return d
}

// Start launches all worker goroutines. Workers stop when ctx is cancelled;
// jobs still queued at that point are dropped.
func (d *Dispatcher) Start(ctx context.Context) {
	for i, ch := range d.workers {
		d.wg.Add(1)
		go d.runWorker(ctx, i, ch)
	}
}

// Enqueue hands job to the worker responsible for its key. It blocks while
// that worker's buffer is full and gives up when ctx is done.
func (d *Dispatcher) Enqueue(ctx context.Context, job Job) error {
	idx := d.shardIndex(job.Key)
	select {
	case d.workers[idx] <- job:
		metrics.DispatcherQueueDepth.WithLabelValues(strconv.Itoa(idx)).Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every worker has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// shardIndex maps a key deterministically to a worker index.
func (d *Dispatcher) shardIndex(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(d.workers)))
}

func (d *Dispatcher) runWorker(ctx context.Context, id int, ch <-chan Job) {
	defer d.wg.Done()
	depth := metrics.DispatcherQueueDepth.WithLabelValues(strconv.Itoa(id))

	for {
		select {
		case <-ctx.Done():
			d.log.Debug().Int("worker_id", id).Int("dropped", len(ch)).Msg("worker stopped")
			return
		case job, ok := <-ch:
			if !ok {
				return
			}
			depth.Dec()
			job.Run(ctx)
		}
	}
}
