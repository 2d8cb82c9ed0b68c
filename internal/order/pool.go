package order

import (
	"context"
	"sync"
	"sync/atomic"

	"trader/pkg/exception"

	"github.com/yanun0323/logs"
)

// Submitter is what the pool hands requests to. *Executor satisfies it.
type Submitter interface {
	SubmitWithKey(ctx context.Context, key string, req Request) Result
}

type task struct {
	key  string
	req  Request
	done chan Result
}

// Pool runs submissions on a fixed set of lanes. Each asset pair is bound to
// one lane the first time it is seen, so orders for the same pair execute in
// arrival order while other pairs proceed on their own lanes.
type Pool struct {
	submitter Submitter
	namespace string

	mu     sync.Mutex
	lanes  []chan task
	byPair map[string]int
	next   int
	closed bool

	running atomic.Bool
	wg      sync.WaitGroup
}

// NewPool creates a pool with cfg.Workers lanes, each buffering cfg.QueueSize requests.
func NewPool(cfg Config, submitter Submitter) (*Pool, error) {
	if submitter == nil {
		return nil, exception.ErrOrderNilBroker
	}
	cfg = cfg.withDefaults()
	if cfg.Workers <= 0 || cfg.QueueSize <= 0 {
		return nil, exception.ErrOrderInvalidWorkerConfig
	}

	lanes := make([]chan task, cfg.Workers)
	for i := range lanes {
		lanes[i] = make(chan task, cfg.QueueSize)
	}
	return &Pool{
		submitter: submitter,
		namespace: cfg.Namespace,
		lanes:     lanes,
		byPair:    make(map[string]int),
	}, nil
}

// Handle enqueues req without blocking. The idempotency key is assigned here,
// so the one Result the returned channel receives always carries it, even
// when the task is drained without being sent.
func (p *Pool) Handle(req Request) (<-chan Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, exception.ErrOrderPoolClosed
	}

	lane, ok := p.byPair[req.AssetPair]
	if !ok {
		lane = p.next % len(p.lanes)
		p.next++
		p.byPair[req.AssetPair] = lane
	}

	t := task{key: NewIdempotencyKey(p.namespace, req.DecisionID), req: req, done: make(chan Result, 1)}
	select {
	case p.lanes[lane] <- t:
		return t.done, nil
	default:
		return nil, exception.ErrOrderQueueFull
	}
}

// Run starts one worker per lane. Calling it twice is a no-op.
func (p *Pool) Run(ctx context.Context) {
	if p.running.Swap(true) {
		return
	}

	for i, lane := range p.lanes {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.work(ctx, i, lane)
		}()
	}
}

// Close stops accepting requests, lets the lanes drain and waits for the workers.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		for _, lane := range p.lanes {
			close(lane)
		}
	}
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Pool) work(ctx context.Context, id int, lane chan task) {
	for {
		select {
		case t, ok := <-lane:
			if !ok {
				return
			}
			t.done <- p.submitter.SubmitWithKey(ctx, t.key, t.req)
		case <-ctx.Done():
			logs.Infof("order lane %d stopped, reason: %v", id, ctx.Err())
			p.drain(lane)
			return
		}
	}
}

// drain answers every queued task with a closed-pool result so no caller
// waits forever on its channel. None of these tasks reached the broker.
func (p *Pool) drain(lane chan task) {
	for {
		select {
		case t, ok := <-lane:
			if !ok {
				return
			}
			t.done <- Result{
				Outcome:        OutcomeTransientFailure,
				Err:            exception.ErrOrderPoolClosed,
				ErrorKind:      exception.KindOf(exception.ErrOrderPoolClosed),
				IdempotencyKey: t.key,
				Request:        t.req,
			}
		default:
			return
		}
	}
}
