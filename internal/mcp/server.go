package mcp

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/arman-khosravi/tabletalk/internal/capability"
	"github.com/arman-khosravi/tabletalk/internal/toolerr"
)

// ServerConfig tunes the protocol server.
type ServerConfig struct {
	CallTimeout time.Duration // per-call handler deadline, default 60s
}

func (c ServerConfig) normalize() ServerConfig {
	if c.CallTimeout <= 0 {
		c.CallTimeout = 60 * time.Second
	}
	return c
}

// Server hosts tool adapters behind the wire protocol. Each request is
// handled on its own goroutine so one slow query does not block the frame
// stream; write framing is serialized by the codec.
type Server struct {
	cfg      ServerConfig
	registry *capability.Registry
	logger   *log.Logger
}

// NewServer creates a server over the given registry.
func NewServer(registry *capability.Registry, cfg ServerConfig, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{cfg: cfg.normalize(), registry: registry, logger: logger}
}

// Serve accepts connections until the listener closes.
func (s *Server) Serve(lis net.Listener) error {
	for {
		conn, err := lis.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go func() {
			defer conn.Close()
			s.ServeConn(conn)
		}()
	}
}

// ServeConn speaks the protocol over one stream until EOF.
func (s *Server) ServeConn(rw io.ReadWriter) {
	c := newCodec(rw)
	var wg sync.WaitGroup
	for {
		var req Request
		if err := c.readRequest(&req); err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Printf("read frame: %v", err)
			}
			break
		}
		wg.Add(1)
		go func(req Request) {
			defer wg.Done()
			resp := s.handle(req)
			if err := c.writeResponse(resp); err != nil {
				s.logger.Printf("write response %s: %v", req.ID, err)
			}
		}(req)
	}
	wg.Wait()
}

func (s *Server) handle(req Request) Response {
	switch req.Method {
	case MethodListTools:
		return Response{ID: req.ID, Status: StatusOK, Specs: s.registry.List()}
	case MethodCallTool:
		return s.handleCall(req)
	default:
		return errorResponse(req.ID, toolerr.CodeInvalidArgument, "unknown method: "+req.Method)
	}
}

func (s *Server) handleCall(req Request) Response {
	tool, err := s.registry.Resolve(req.Tool)
	if err != nil {
		return errorResponse(req.ID, toolerr.CodeUnknownTool, req.Tool)
	}
	if err := capability.ValidateArgs(tool.Spec(), req.Args); err != nil {
		return errorResponse(req.ID, toolerr.CodeInvalidArgument, err.Error())
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CallTimeout)
	defer cancel()
	started := time.Now()
	result, err := tool.Invoke(ctx, req.Args)
	if err != nil {
		s.logger.Printf("tool %s failed after %v: %v", req.Tool, time.Since(started), err)
		return errorResponse(req.ID, toolerr.Code(err), err.Error())
	}
	return Response{ID: req.ID, Status: StatusOK, Payload: &result}
}

func errorResponse(id, code, message string) Response {
	return Response{ID: id, Status: StatusError, Error: &WireError{Code: code, Message: message}}
}
