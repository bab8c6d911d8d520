package mcp

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arman-khosravi/tabletalk/internal/capability"
	"github.com/arman-khosravi/tabletalk/internal/toolerr"
)

// ClientConfig tunes the protocol client.
type ClientConfig struct {
	CallTimeout time.Duration // per-attempt deadline, default 30s
	MaxRetries  int           // extra attempts on transport failures
	Backoff     time.Duration // base backoff, doubles per attempt
}

func (c ClientConfig) normalize() ClientConfig {
	if c.CallTimeout <= 0 {
		c.CallTimeout = 30 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.Backoff <= 0 {
		c.Backoff = 300 * time.Millisecond
	}
	return c
}

// Client speaks the protocol over one connection and matches responses to
// outstanding requests by correlation id. Safe for concurrent use; the
// reader goroutine demultiplexes frames into per-call channels. Responses
// for ids nobody is waiting on (late arrivals after a timeout or
// cancellation, or duplicates) are discarded.
type Client struct {
	cfg    ClientConfig
	codec  *codec
	conn   io.Closer
	logger *log.Logger

	mu      sync.Mutex
	pending map[string]chan Response
	closed  bool
	readErr error
}

// Dial connects to a server over TCP.
func Dial(addr string, cfg ClientConfig, logger *log.Logger) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, cfg.normalize().CallTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, toolerr.ErrConnection)
	}
	return NewClient(conn, cfg, logger), nil
}

// NewClient attaches a client to an existing connection.
func NewClient(conn io.ReadWriteCloser, cfg ClientConfig, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	c := &Client{
		cfg:     cfg.normalize(),
		codec:   newCodec(conn),
		conn:    conn,
		logger:  logger,
		pending: make(map[string]chan Response),
	}
	go c.readLoop()
	return c
}

func (c *Client) readLoop() {
	for {
		var resp Response
		if err := c.codec.readResponse(&resp); err != nil {
			c.mu.Lock()
			c.readErr = err
			for id, ch := range c.pending {
				close(ch)
				delete(c.pending, id)
			}
			c.mu.Unlock()
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()
		if !ok {
			c.logger.Printf("discarding response for unknown id %s", resp.ID)
			continue
		}
		ch <- resp
	}
}

// register reserves a correlation id. It guarantees at most one in-flight
// request per id.
func (c *Client) register(id string) (chan Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("client closed: %w", toolerr.ErrConnection)
	}
	if c.readErr != nil {
		return nil, fmt.Errorf("connection lost: %w", toolerr.ErrConnection)
	}
	if _, dup := c.pending[id]; dup {
		return nil, fmt.Errorf("correlation id %s already in flight", id)
	}
	ch := make(chan Response, 1)
	c.pending[id] = ch
	return ch, nil
}

func (c *Client) deregister(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// roundTrip performs one request/response exchange with a fresh correlation
// id and a per-attempt deadline.
func (c *Client) roundTrip(ctx context.Context, req Request) (Response, error) {
	req.ID = uuid.NewString()
	ch, err := c.register(req.ID)
	if err != nil {
		return Response{}, err
	}
	if err := c.codec.writeRequest(req); err != nil {
		c.deregister(req.ID)
		return Response{}, fmt.Errorf("write %s: %w", req.Method, toolerr.ErrConnection)
	}

	timer := time.NewTimer(c.cfg.CallTimeout)
	defer timer.Stop()
	select {
	case resp, ok := <-ch:
		if !ok {
			return Response{}, fmt.Errorf("connection lost: %w", toolerr.ErrConnection)
		}
		return resp, nil
	case <-timer.C:
		c.deregister(req.ID)
		return Response{}, fmt.Errorf("call %s id %s: %w", req.Method, req.ID, toolerr.ErrTimeout)
	case <-ctx.Done():
		c.deregister(req.ID)
		return Response{}, ctx.Err()
	}
}

// call runs roundTrip with bounded retries. Only transport failures are
// retried; tool-level failures come back exactly once.
func (c *Client) call(ctx context.Context, req Request) (Response, error) {
	var lastErr error
	attempts := c.cfg.MaxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.cfg.Backoff * time.Duration(1<<(attempt-1))):
			case <-ctx.Done():
				return Response{}, ctx.Err()
			}
		}
		resp, err := c.roundTrip(ctx, req)
		if err == nil {
			if resp.Status == StatusError && resp.Error != nil {
				err = toolerr.FromCode(resp.Error.Code, resp.Error.Message)
				if toolerr.Retryable(err) {
					lastErr = err
					continue
				}
				return Response{}, err
			}
			return resp, nil
		}
		if ctx.Err() != nil {
			return Response{}, err
		}
		if !toolerr.Retryable(err) {
			return Response{}, err
		}
		lastErr = err
	}
	return Response{}, lastErr
}

// ListTools fetches the specs advertised by the server.
func (c *Client) ListTools(ctx context.Context) ([]capability.ToolSpec, error) {
	resp, err := c.call(ctx, Request{Method: MethodListTools})
	if err != nil {
		return nil, err
	}
	return resp.Specs, nil
}

// CallTool executes one remote tool invocation.
func (c *Client) CallTool(ctx context.Context, tool string, args map[string]interface{}) (capability.Result, error) {
	resp, err := c.call(ctx, Request{Method: MethodCallTool, Tool: tool, Args: args})
	if err != nil {
		return capability.Result{}, err
	}
	if resp.Payload == nil {
		return capability.Result{}, fmt.Errorf("tool %s returned empty payload", tool)
	}
	return *resp.Payload, nil
}

// Close shuts the connection down; outstanding calls fail with a
// connection error.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}

// RemoteTool adapts one server-side tool into the local registry: the
// orchestrator resolves and invokes it like any in-process adapter while the
// execution happens in the server process.
type RemoteTool struct {
	spec   capability.ToolSpec
	client *Client
}

// NewRemoteTool wraps a spec advertised by the server.
func NewRemoteTool(spec capability.ToolSpec, client *Client) *RemoteTool {
	return &RemoteTool{spec: spec, client: client}
}

func (r *RemoteTool) Spec() capability.ToolSpec { return r.spec }

func (r *RemoteTool) Invoke(ctx context.Context, args map[string]interface{}) (capability.Result, error) {
	return r.client.CallTool(ctx, r.spec.Name, args)
}
