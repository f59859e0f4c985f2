package feed

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"sales-dashboard/internal/models"
)

const DefaultScrollDebounce = 50 * time.Millisecond

type Fetcher interface {
	Query(ctx context.Context, spec models.QuerySpec) (models.QueryResult, error)
}

type Option func(*Controller)

func WithPageSize(n int) Option {
	return func(c *Controller) { c.state.PageSize = n }
}

func WithMaxRetained(n int) Option {
	return func(c *Controller) { c.state.MaxRetained = n }
}

func WithScrollDebounce(d time.Duration) Option {
	return func(c *Controller) { c.debounce = d }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// Controller serializes events through Reduce and runs the fetches it asks
// for, one goroutine per request. A fetch superseded by a new generation is
// cancelled and its outcome dropped.
type Controller struct {
	fetcher  Fetcher
	logger   *slog.Logger
	debounce time.Duration

	mu          sync.Mutex
	state       State
	cancelFetch context.CancelFunc
	scrollTimer *time.Timer
	subscribers map[int]chan State
	nextSub     int
	closed      bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewController(fetcher Fetcher, opts ...Option) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		fetcher:     fetcher,
		logger:      slog.Default(),
		debounce:    DefaultScrollDebounce,
		subscribers: make(map[int]chan State),
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.state = NewState(c.state.PageSize, c.state.MaxRetained)
	return c
}

// Dispatch applies ev. It never blocks on network I/O.
func (c *Controller) Dispatch(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	prev := c.state
	next, req := Reduce(prev, ev)
	c.state = next

	if next.Generation != prev.Generation && c.cancelFetch != nil {
		c.cancelFetch()
		c.cancelFetch = nil
	}
	if req != nil {
		c.start(*req)
	}
	c.publish()
}

// ScrollThreshold reports that the view reached its load-more threshold.
// Calls within the debounce window collapse into one LoadMore.
func (c *Controller) ScrollThreshold() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	if c.scrollTimer != nil {
		c.scrollTimer.Stop()
	}
	c.scrollTimer = time.AfterFunc(c.debounce, func() {
		c.Dispatch(LoadMore{})
	})
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return snapshot(c.state)
}

// Subscribe returns a channel that always holds the latest state. Slow
// readers see only the most recent change.
func (c *Controller) Subscribe() (<-chan State, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan State, 1)
	id := c.nextSub
	c.nextSub++
	c.subscribers[id] = ch
	ch <- snapshot(c.state)

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.subscribers[id]; ok {
			delete(c.subscribers, id)
			close(ch)
		}
	}
}

// Close cancels any fetch in flight and waits for fetch goroutines to exit.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.scrollTimer != nil {
		c.scrollTimer.Stop()
	}
	for id, ch := range c.subscribers {
		delete(c.subscribers, id)
		close(ch)
	}
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

func (c *Controller) start(req Request) {
	ctx, cancel := context.WithCancel(c.ctx)
	c.cancelFetch = cancel

	c.logger.Debug("fetching page",
		"generation", req.Generation,
		"offset", req.Spec.Offset,
		"append", req.Append,
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()

		res, err := c.fetcher.Query(ctx, req.Spec)
		if ctx.Err() != nil {
			c.logger.Debug("discarding superseded page", "generation", req.Generation, "offset", req.Spec.Offset)
			return
		}
		if err != nil {
			c.logger.Warn("page fetch failed", "offset", req.Spec.Offset, "error", err)
			c.Dispatch(PageFailed{Request: req, Err: err})
			return
		}
		c.Dispatch(PageLoaded{Request: req, Result: res})
	}()
}

func (c *Controller) publish() {
	s := snapshot(c.state)
	for _, ch := range c.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}

func snapshot(s State) State {
	s.Records = slices.Clone(s.Records)
	if s.InFlight != nil {
		r := *s.InFlight
		s.InFlight = &r
	}
	if s.Failed != nil {
		r := *s.Failed
		s.Failed = &r
	}
	return s
}
