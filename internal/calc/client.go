package calc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kingrea/reflweb/internal/logging"
)

// DefaultMaxParallel bounds concurrent requests within one batch.
const DefaultMaxParallel = 8

// Service is the external evaluation service.
type Service interface {
	CalcTerminal(ctx context.Context, req Request) (*Response, error)
}

// ServiceFunc adapts a function into a Service.
type ServiceFunc func(ctx context.Context, req Request) (*Response, error)

// CalcTerminal calls f.
func (f ServiceFunc) CalcTerminal(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// Cache stores encoded responses by request key. ok is false on a miss.
type Cache interface {
	Get(ctx context.Context, key string) (payload []byte, ok bool, err error)
	Put(ctx context.Context, key string, payload []byte) error
}

// Outcome is one settled request of a batch: exactly one of Result and Err
// is set.
type Outcome struct {
	Request Request
	Result  *Result
	Err     error
}

// Client issues calculation requests. It performs no retries.
type Client struct {
	service     Service
	cache       Cache
	maxParallel int
	log         *zap.Logger
}

// Option customizes client construction.
type Option func(*Client)

// WithCache enables the response cache. Only successful responses are
// stored.
func WithCache(cache Cache) Option {
	return func(c *Client) {
		c.cache = cache
	}
}

// WithMaxParallel bounds batch concurrency.
func WithMaxParallel(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxParallel = n
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		c.log = logging.OrNop(l)
	}
}

// NewClient wraps service.
func NewClient(service Service, opts ...Option) *Client {
	c := &Client{service: service, maxParallel: DefaultMaxParallel, log: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Calc issues one request and returns its typed result. Service failures
// are returned as *EvaluationError.
func (c *Client) Calc(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	req = req.Clone()
	key, err := req.Key()
	if err != nil {
		return nil, err
	}
	if resp, ok := c.cached(ctx, key); ok {
		return newResult(req, resp), nil
	}
	resp, err := c.service.CalcTerminal(ctx, req)
	if err != nil {
		c.log.Debug("calc failed", zap.Int("node", req.Node), zap.String("terminal", req.Terminal), zap.Error(err))
		return nil, evaluationError(req, err)
	}
	if resp == nil {
		return nil, &EvaluationError{Node: req.Node, Terminal: req.Terminal, Message: "empty response"}
	}
	c.store(ctx, key, resp)
	return newResult(req, resp), nil
}

// Calculate issues every request concurrently. With noblock set the batch
// waits for all requests and returns one outcome per request in input
// order; individual failures never abort siblings. Without noblock the
// first failure cancels the rest and is returned.
func (c *Client) Calculate(ctx context.Context, reqs []Request, noblock bool) ([]Outcome, error) {
	outcomes := make([]Outcome, len(reqs))
	if noblock {
		var eg errgroup.Group
		eg.SetLimit(c.maxParallel)
		for idx := range reqs {
			idx := idx
			eg.Go(func() error {
				res, err := c.Calc(ctx, reqs[idx])
				outcomes[idx] = Outcome{Request: reqs[idx], Result: res, Err: err}
				return nil
			})
		}
		_ = eg.Wait()
		return outcomes, nil
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(c.maxParallel)
	for idx := range reqs {
		idx := idx
		eg.Go(func() error {
			res, err := c.Calc(egCtx, reqs[idx])
			if err != nil {
				return err
			}
			outcomes[idx] = Outcome{Request: reqs[idx], Result: res}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// Failures counts the outcomes that carry an error.
func Failures(outcomes []Outcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Err != nil {
			n++
		}
	}
	return n
}

func (c *Client) cached(ctx context.Context, key string) (*Response, bool) {
	if c.cache == nil {
		return nil, false
	}
	payload, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.log.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		c.log.Warn("cache entry unreadable", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return &resp, true
}

func (c *Client) store(ctx context.Context, key string, resp *Response) {
	if c.cache == nil {
		return
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		c.log.Warn("cache encode failed", zap.Error(err))
		return
	}
	if err := c.cache.Put(ctx, key, payload); err != nil {
		c.log.Warn("cache write failed", zap.String("key", key), zap.Error(fmt.Errorf("calc: %w", err)))
	}
}

// Latest tracks the newest request per target so superseded completions can
// be discarded. Requests are never cancelled in flight.
type Latest struct {
	mu   sync.Mutex
	gens map[string]uint64
}

// NewLatest returns an empty tracker.
func NewLatest() *Latest {
	return &Latest{gens: map[string]uint64{}}
}

// Start records a new request for target and returns its generation.
func (l *Latest) Start(target string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gens[target]++
	return l.gens[target]
}

// Current reports whether gen is still the newest request for target.
func (l *Latest) Current(target string, gen uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gens[target] == gen
}
