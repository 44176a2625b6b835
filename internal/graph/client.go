// Package graph wraps a FalkorDB property graph reached over the Redis
// protocol. The client speaks GRAPH.QUERY / GRAPH.RO_QUERY with a CYPHER
// parameter preamble; the store layer on top provides typed accessors that
// stamp the namespace triple onto every node and edge.
package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "membria/internal/errors"
	"membria/internal/logging"
	"membria/internal/observability"
)

// Conn is the slice of the Redis client the graph layer needs. Tests swap in
// a canned-reply fake.
type Conn interface {
	Do(ctx context.Context, args ...interface{}) *redis.Cmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// Options configures a Client.
type Options struct {
	Addr     string
	Password string

	GraphName    string
	QueryTimeout time.Duration

	Logger  logging.Logger
	Metrics *observability.MetricsCollector
	Breaker *apperrors.CircuitBreaker

	// Conn overrides the dialed connection; used by tests.
	Conn Conn
}

// Client is the process-wide graph engine connection. All writes pass
// through it; callers must Connect before issuing queries.
type Client struct {
	conn      Conn
	graph     string
	timeout   time.Duration
	breaker   *apperrors.CircuitBreaker
	metrics   *observability.MetricsCollector
	logger    logging.Logger
	connected atomic.Bool
}

// NewClient builds a client but does not dial; call Connect.
func NewClient(opts Options) *Client {
	conn := opts.Conn
	if conn == nil {
		conn = redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
		})
	}

	graphName := opts.GraphName
	if graphName == "" {
		graphName = "membria"
	}
	timeout := opts.QueryTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	breaker := opts.Breaker
	if breaker == nil {
		breaker = apperrors.NewCircuitBreaker("graph", apperrors.DefaultCircuitBreakerConfig())
	}

	return &Client{
		conn:    conn,
		graph:   graphName,
		timeout: timeout,
		breaker: breaker,
		metrics: opts.Metrics,
		logger:  logging.OrNop(opts.Logger),
	}
}

// Connect verifies the engine is reachable and marks the client usable.
func (c *Client) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.conn.Ping(ctx).Err(); err != nil {
		c.logger.Error("graph engine unreachable: %v", err)
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	c.connected.Store(true)
	c.logger.Info("connected to graph %q", c.graph)
	return nil
}

// Close marks the client unusable and releases the connection.
func (c *Client) Close() error {
	c.connected.Store(false)
	return c.conn.Close()
}

// Connected reports whether Connect has succeeded.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// GraphName returns the engine-side graph key.
func (c *Client) GraphName() string {
	return c.graph
}

// Healthy pings the engine; used by the health monitor.
func (c *Client) Healthy(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.conn.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	return nil
}

// Query runs a read-write Cypher statement.
func (c *Client) Query(ctx context.Context, query string, params map[string]any) (*ResultSet, error) {
	return c.run(ctx, "GRAPH.QUERY", "write", query, params)
}

// ROQuery runs a read-only Cypher statement on a reader-eligible path.
func (c *Client) ROQuery(ctx context.Context, query string, params map[string]any) (*ResultSet, error) {
	return c.run(ctx, "GRAPH.RO_QUERY", "read", query, params)
}

func (c *Client) run(ctx context.Context, command, kind, query string, params map[string]any) (*ResultSet, error) {
	if !c.connected.Load() {
		return nil, ErrNotConnected
	}

	full, err := buildQuery(query, params)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	var rs *ResultSet
	err = c.breaker.Execute(ctx, func(ctx context.Context) error {
		raw, doErr := c.conn.Do(ctx, command, c.graph, full).Result()
		if doErr != nil {
			return doErr
		}
		decoded, decErr := decodeResult(raw)
		if decErr != nil {
			return decErr
		}
		rs = decoded
		return nil
	})

	elapsed := time.Since(start)
	if err != nil {
		c.metrics.RecordGraphQuery(ctx, kind, "error", elapsed)
		if apperrors.IsDegraded(err) {
			return nil, err
		}
		c.logger.Warn("graph %s failed after %s: %v", kind, elapsed.Round(time.Millisecond), err)
		// Decode failures are already typed; everything else is an engine or
		// transport fault.
		if errors.Is(err, ErrSerializationFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}

	c.metrics.RecordGraphQuery(ctx, kind, "ok", elapsed)
	if elapsed > c.timeout/2 {
		c.logger.Debug("slow graph %s (%s): %s", kind, elapsed.Round(time.Millisecond), truncateQuery(query))
	}
	return rs, nil
}

// BreakerState exposes the circuit state for the health surface.
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

func truncateQuery(q string) string {
	q = strings.Join(strings.Fields(q), " ")
	if len(q) > 140 {
		return q[:140] + "..."
	}
	return q
}
