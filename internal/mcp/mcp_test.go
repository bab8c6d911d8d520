package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arman-khosravi/tabletalk/internal/capability"
	"github.com/arman-khosravi/tabletalk/internal/toolerr"
)

type fakeTool struct {
	spec    capability.ToolSpec
	invoked int32
	result  capability.Result
	err     error
}

func (f *fakeTool) Spec() capability.ToolSpec { return f.spec }

func (f *fakeTool) Invoke(ctx context.Context, args map[string]interface{}) (capability.Result, error) {
	atomic.AddInt32(&f.invoked, 1)
	if f.err != nil {
		return capability.Result{}, f.err
	}
	return f.result, nil
}

func listTablesSpec() capability.ToolSpec {
	return capability.ToolSpec{
		Name:        "list_tables",
		Version:     "v1",
		Description: "List database tables",
		InputSchema: capability.ObjectSchema(map[string]interface{}{}),
	}
}

func startPair(t *testing.T, reg *capability.Registry, cfg ClientConfig) *Client {
	t.Helper()
	clientEnd, serverEnd := net.Pipe()
	srv := NewServer(reg, ServerConfig{CallTimeout: 2 * time.Second}, nil)
	go srv.ServeConn(serverEnd)
	client := NewClient(clientEnd, cfg, nil)
	t.Cleanup(func() {
		_ = client.Close()
		_ = serverEnd.Close()
	})
	return client
}

func TestListAndCallRoundTrip(t *testing.T) {
	reg := capability.NewRegistry("")
	tool := &fakeTool{
		spec:   listTablesSpec(),
		result: capability.Result{Content: "Found 2 tables", Data: map[string]interface{}{"tables": []interface{}{"users", "orders"}}},
	}
	if err := reg.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}
	client := startPair(t, reg, ClientConfig{CallTimeout: time.Second})

	specs, err := client.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(specs) != 1 || specs[0].Name != "list_tables" {
		t.Fatalf("unexpected specs: %+v", specs)
	}

	result, err := client.CallTool(context.Background(), "list_tables", nil)
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if result.Content != "Found 2 tables" {
		t.Fatalf("unexpected content: %q", result.Content)
	}
}

func TestUnknownToolNotRetried(t *testing.T) {
	reg := capability.NewRegistry("")
	client := startPair(t, reg, ClientConfig{CallTimeout: time.Second, MaxRetries: 3, Backoff: time.Millisecond})

	_, err := client.CallTool(context.Background(), "nope", nil)
	if !errors.Is(err, toolerr.ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
}

func TestQueryErrorSurfacesOnce(t *testing.T) {
	reg := capability.NewRegistry("")
	tool := &fakeTool{spec: listTablesSpec(), err: toolerr.ErrQuery}
	if err := reg.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}
	client := startPair(t, reg, ClientConfig{CallTimeout: time.Second, MaxRetries: 3, Backoff: time.Millisecond})

	_, err := client.CallTool(context.Background(), "list_tables", nil)
	if !errors.Is(err, toolerr.ErrQuery) {
		t.Fatalf("expected ErrQuery, got %v", err)
	}
	if got := atomic.LoadInt32(&tool.invoked); got != 1 {
		t.Fatalf("tool invoked %d times, want 1", got)
	}
}

func TestInvalidArgumentRejectedByServer(t *testing.T) {
	reg := capability.NewRegistry("")
	tool := &fakeTool{spec: listTablesSpec()}
	if err := reg.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}
	client := startPair(t, reg, ClientConfig{CallTimeout: time.Second})

	_, err := client.CallTool(context.Background(), "list_tables", map[string]interface{}{"bogus": true})
	if !errors.Is(err, toolerr.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if got := atomic.LoadInt32(&tool.invoked); got != 0 {
		t.Fatalf("tool invoked %d times, want 0", got)
	}
}

// silentServer reads frames and never answers, counting what it saw.
func silentServer(t *testing.T, conn net.Conn, seen *int32) {
	t.Helper()
	go func() {
		dec := json.NewDecoder(conn)
		for {
			var req Request
			if err := dec.Decode(&req); err != nil {
				return
			}
			atomic.AddInt32(seen, 1)
		}
	}()
}

func TestTimeoutRetryBound(t *testing.T) {
	clientEnd, serverEnd := net.Pipe()
	defer serverEnd.Close()
	var seen int32
	silentServer(t, serverEnd, &seen)

	client := NewClient(clientEnd, ClientConfig{
		CallTimeout: 30 * time.Millisecond,
		MaxRetries:  2,
		Backoff:     time.Millisecond,
	}, nil)
	defer client.Close()

	_, err := client.CallTool(context.Background(), "list_tables", nil)
	if !errors.Is(err, toolerr.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if got := atomic.LoadInt32(&seen); got != 3 {
		t.Fatalf("server saw %d attempts, want 3 (1 + 2 retries)", got)
	}
}

func TestLateResponseDiscarded(t *testing.T) {
	clientEnd, serverEnd := net.Pipe()
	defer serverEnd.Close()

	// Answers every request, but only after the client's deadline passed.
	go func() {
		dec := json.NewDecoder(serverEnd)
		enc := json.NewEncoder(serverEnd)
		for {
			var req Request
			if err := dec.Decode(&req); err != nil {
				return
			}
			go func(id string) {
				time.Sleep(80 * time.Millisecond)
				_ = enc.Encode(Response{ID: id, Status: StatusOK, Payload: &capability.Result{Content: "late"}})
			}(req.ID)
		}
	}()

	client := NewClient(clientEnd, ClientConfig{CallTimeout: 20 * time.Millisecond}, nil)
	defer client.Close()

	_, err := client.CallTool(context.Background(), "list_tables", nil)
	if !errors.Is(err, toolerr.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	// Give the late frame time to arrive; it must be dropped, not delivered
	// to a later call or crash the reader.
	time.Sleep(100 * time.Millisecond)
}

func TestCancellationAbandonsCall(t *testing.T) {
	clientEnd, serverEnd := net.Pipe()
	defer serverEnd.Close()
	var seen int32
	silentServer(t, serverEnd, &seen)

	client := NewClient(clientEnd, ClientConfig{CallTimeout: time.Second}, nil)
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := client.CallTool(ctx, "list_tables", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRemoteToolInvoke(t *testing.T) {
	reg := capability.NewRegistry("")
	tool := &fakeTool{spec: listTablesSpec(), result: capability.Result{Content: "ok"}}
	if err := reg.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}
	client := startPair(t, reg, ClientConfig{CallTimeout: time.Second})

	remote := NewRemoteTool(tool.Spec(), client)
	result, err := remote.Invoke(context.Background(), nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if result.Content != "ok" {
		t.Fatalf("unexpected content %q", result.Content)
	}
}
