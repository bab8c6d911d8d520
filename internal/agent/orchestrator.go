// Package agent runs the per-session control loop: a bounded reasoning loop
// that either answers the user or dispatches a round of tool calls and folds
// the results back into the conversation.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/arman-khosravi/tabletalk/internal/budget"
	"github.com/arman-khosravi/tabletalk/internal/capability"
	"github.com/arman-khosravi/tabletalk/internal/llm"
	"github.com/arman-khosravi/tabletalk/internal/session"
	"github.com/arman-khosravi/tabletalk/internal/telemetry"
	"github.com/arman-khosravi/tabletalk/internal/toolerr"
	"github.com/arman-khosravi/tabletalk/internal/tools/searchctx"
)

// Control loop states. A session sits in AWAITING_INPUT between messages;
// the other states are traversed inside HandleMessage.
const (
	StateAwaitingInput = "AWAITING_INPUT"
	StateReasoning     = "REASONING"
	StateDispatching   = "DISPATCHING"
	StateAnswering     = "ANSWERING"
	StateTerminated    = "TERMINATED"
)

// Persister receives every appended turn and status change. Implementations
// must tolerate being called from the session's control goroutine only.
type Persister interface {
	SaveTurn(ctx context.Context, sessionID string, turn session.Turn) error
	SaveStatus(ctx context.Context, sessionID, status string) error
}

// Config bounds one orchestrator.
type Config struct {
	Budget          budget.Config
	LLMRetries      int
	LLMBackoff      time.Duration
	DispatchBackoff time.Duration
	Debug           bool
}

func (c *Config) normalize() {
	c.Budget = c.Budget.Normalize()
	if c.LLMRetries <= 0 {
		c.LLMRetries = 2
	}
	if c.LLMBackoff <= 0 {
		c.LLMBackoff = 500 * time.Millisecond
	}
	if c.DispatchBackoff <= 0 {
		c.DispatchBackoff = time.Second
	}
}

// Orchestrator drives sessions. One HandleMessage call at a time per
// session; distinct sessions are fully independent.
type Orchestrator struct {
	cfg      Config
	registry *capability.Registry
	provider llm.Provider
	tel      *telemetry.Telemetry
	corpus   *searchctx.Corpus
	store    Persister
	logger   *log.Logger
	tracer   trace.Tracer

	mu       sync.Mutex
	monitors map[string]*budget.Monitor
}

// New wires an orchestrator. corpus and store may be nil.
func New(registry *capability.Registry, provider llm.Provider, tel *telemetry.Telemetry, corpus *searchctx.Corpus, store Persister, cfg Config, logger *log.Logger) *Orchestrator {
	cfg.normalize()
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Orchestrator{
		cfg:      cfg,
		registry: registry,
		provider: provider,
		tel:      tel,
		corpus:   corpus,
		store:    store,
		logger:   logger,
		tracer:   otel.Tracer("tabletalk/agent"),
		monitors: make(map[string]*budget.Monitor),
	}
}

func (o *Orchestrator) monitorFor(sessionID string) *budget.Monitor {
	o.mu.Lock()
	defer o.mu.Unlock()
	if m, ok := o.monitors[sessionID]; ok {
		return m
	}
	m := budget.NewMonitor(o.cfg.Budget)
	o.monitors[sessionID] = m
	return m
}

// Forget drops per-session bookkeeping once a session is terminated.
func (o *Orchestrator) Forget(sessionID string) {
	o.mu.Lock()
	delete(o.monitors, sessionID)
	o.mu.Unlock()
	if o.corpus != nil {
		o.corpus.Drop(sessionID)
	}
}

func (o *Orchestrator) appendTurn(ctx context.Context, sess *session.Session, turn session.Turn) error {
	if err := sess.Append(turn); err != nil {
		return err
	}
	if o.tel != nil {
		o.tel.TurnsAppended.WithLabelValues(turn.Role).Inc()
	}
	if o.store != nil {
		if err := o.store.SaveTurn(ctx, sess.ID(), turn); err != nil {
			o.logger.Printf("persist turn for session %s: %v", sess.ID(), err)
		}
	}
	return nil
}

func (o *Orchestrator) setStatus(ctx context.Context, sess *session.Session, status string) {
	if err := sess.Transition(status); err != nil {
		o.logger.Printf("transition session %s to %s: %v", sess.ID(), status, err)
		return
	}
	if o.tel != nil && status != session.StatusActive {
		o.tel.SessionsEnded.WithLabelValues(status).Inc()
	}
	if o.store != nil {
		if err := o.store.SaveStatus(ctx, sess.ID(), status); err != nil {
			o.logger.Printf("persist status for session %s: %v", sess.ID(), err)
		}
	}
}

// Cancel terminates a session, abandoning any in-flight work the caller is
// responsible for interrupting via context.
func (o *Orchestrator) Cancel(ctx context.Context, sess *session.Session) {
	o.setStatus(ctx, sess, session.StatusFailed)
	o.Forget(sess.ID())
}

// End closes a session at the caller's request: completed when the
// conversation rests on an answer, failed when a message was cut off
// mid-flight or never answered.
func (o *Orchestrator) End(ctx context.Context, sess *session.Session) {
	status := session.StatusFailed
	if sess.Answered() {
		status = session.StatusCompleted
	}
	o.setStatus(ctx, sess, status)
	o.Forget(sess.ID())
}

// HandleMessage appends the user's message, runs the reasoning loop and
// returns the agent's answer. The session must be owned by the caller for
// the duration of the call.
func (o *Orchestrator) HandleMessage(ctx context.Context, sess *session.Session, message string) (string, error) {
	if sess.Status() != session.StatusActive {
		return "", fmt.Errorf("session %s is %s", sess.ID(), sess.Status())
	}
	if err := o.appendTurn(ctx, sess, session.Turn{
		Role:      session.RoleUser,
		Content:   message,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return "", err
	}

	monitor := o.monitorFor(sess.ID())
	system := buildSystemPrompt(o.registry.List())
	corrective := ""
	parseRetried := false
	loops := 0

	defer func() {
		if o.tel != nil && loops > 0 {
			o.tel.ReasoningLoops.Observe(float64(loops))
		}
	}()

	for loops < monitor.MaxReasoningLoops() {
		if err := ctx.Err(); err != nil {
			o.fail(ctx, sess)
			return "", err
		}
		loops++

		prompt := buildHistoryPrompt(sess.Turns())
		if corrective != "" {
			prompt += "\n\n" + corrective
			corrective = ""
		}

		reply, err := o.reason(ctx, sess.ID(), system, prompt)
		if err != nil {
			if ctx.Err() != nil {
				o.fail(ctx, sess)
				return "", ctx.Err()
			}
			return "", err
		}

		action, perr := parseAction(reply)
		if perr != nil {
			if !parseRetried {
				parseRetried = true
				corrective = correctiveMessage
				o.logger.Printf("session %s: malformed action, retrying: %v", sess.ID(), perr)
				continue
			}
			// Degraded: surface the raw reply rather than looping forever.
			o.logger.Printf("session %s: malformed action twice, answering degraded", sess.ID())
			return o.answer(ctx, sess, reply)
		}

		if action.Answer != "" {
			return o.answer(ctx, sess, action.Answer)
		}

		if err := monitor.AddToolCalls(len(action.ToolCalls)); err != nil {
			var exceeded budget.ErrExceeded
			if errors.As(err, &exceeded) {
				o.logger.Printf("session %s: %v, forcing best-effort answer", sess.ID(), err)
				return o.forcedAnswer(ctx, sess, system)
			}
			return "", err
		}

		if err := o.dispatch(ctx, sess, action.ToolCalls); err != nil {
			if ctx.Err() != nil {
				o.fail(ctx, sess)
				return "", ctx.Err()
			}
			return "", err
		}
	}

	return o.forcedAnswer(ctx, sess, system)
}

func (o *Orchestrator) answer(ctx context.Context, sess *session.Session, text string) (string, error) {
	if err := o.appendTurn(ctx, sess, session.Turn{
		Role:      session.RoleAgent,
		Content:   text,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return "", err
	}
	return text, nil
}

func (o *Orchestrator) fail(ctx context.Context, sess *session.Session) {
	// Persist with a fresh context so cancellation does not lose the state.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	o.setStatus(pctx, sess, session.StatusFailed)
}

// reason performs one LLM step with bounded retries on availability
// failures.
func (o *Orchestrator) reason(ctx context.Context, sessionID, system, prompt string) (string, error) {
	ctx, span := o.tracer.Start(ctx, "agent.reason",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	var lastErr error
	for attempt := 0; attempt <= o.cfg.LLMRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(o.cfg.LLMBackoff * time.Duration(1<<(attempt-1))):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		reply, usage, err := o.provider.Complete(ctx, system, prompt)
		if err == nil {
			if o.tel != nil {
				o.tel.RecordLLMUsage(o.provider.Model(), usage.InputTokens, usage.OutputTokens, usage.Cost)
			}
			if serr := o.monitorSpend(sessionID, usage); serr != nil {
				o.logger.Printf("session %s: %v", sessionID, serr)
			}
			return reply, nil
		}
		lastErr = err
		if !errors.Is(err, toolerr.ErrReasoningUnavailable) {
			return "", err
		}
		o.logger.Printf("session %s: reasoning attempt %d failed: %v", sessionID, attempt+1, err)
	}
	return "", fmt.Errorf("reasoning failed after %d attempts: %w", o.cfg.LLMRetries+1, lastErr)
}

func (o *Orchestrator) monitorSpend(sessionID string, usage llm.Usage) error {
	return o.monitorFor(sessionID).AddSpend(usage.Cost, usage.InputTokens+usage.OutputTokens)
}

// forcedAnswer asks the model for a final answer with no further tools; if
// even that fails the caller gets a plain degraded answer.
func (o *Orchestrator) forcedAnswer(ctx context.Context, sess *session.Session, system string) (string, error) {
	prompt := buildHistoryPrompt(sess.Turns()) + "\n\n" + forcedAnswerMessage
	reply, err := o.reason(ctx, sess.ID(), system, prompt)
	if err != nil {
		if ctx.Err() != nil {
			o.fail(ctx, sess)
			return "", ctx.Err()
		}
		return "", err
	}
	if action, perr := parseAction(reply); perr == nil && action.Answer != "" {
		return o.answer(ctx, sess, action.Answer)
	}
	return o.answer(ctx, sess, reply)
}

type dispatchOutcome struct {
	record  session.ToolRecord
	elapsed time.Duration
}

// dispatch runs one round of tool calls. Calls run concurrently; call turns
// and result turns are appended in issue order regardless of completion
// order.
func (o *Orchestrator) dispatch(ctx context.Context, sess *session.Session, calls []session.ToolCall) error {
	ctx, span := o.tracer.Start(ctx, "agent.dispatch",
		trace.WithAttributes(
			attribute.String("session.id", sess.ID()),
			attribute.Int("calls", len(calls)),
		))
	defer span.End()

	for i := range calls {
		calls[i].ID = uuid.NewString()
		call := calls[i]
		if err := o.appendTurn(ctx, sess, session.Turn{
			Role:      session.RoleAgent,
			Call:      &call,
			CreatedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
	}

	outcomes := make([]dispatchOutcome, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		tool, err := o.registry.Resolve(call.Tool)
		if err != nil {
			outcomes[i] = errorOutcome(call, err)
			continue
		}
		if err := capability.ValidateArgs(tool.Spec(), call.Args); err != nil {
			outcomes[i] = errorOutcome(call, err)
			continue
		}
		wg.Add(1)
		go func(i int, call session.ToolCall, tool capability.Tool) {
			defer wg.Done()
			t0 := time.Now()
			result, err := tool.Invoke(searchctx.WithSession(ctx, sess.ID()), call.Args)
			elapsed := time.Since(t0)
			if err != nil {
				outcomes[i] = errorOutcome(call, err)
				outcomes[i].elapsed = elapsed
				return
			}
			outcomes[i] = dispatchOutcome{
				record: session.ToolRecord{
					CallID:  call.ID,
					Status:  session.ResultOK,
					Content: result.Content,
				},
				elapsed: elapsed,
			}
			o.indexResult(sess.ID(), call, result)
		}(i, call, tool)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}

	backoff := false
	for i, outcome := range outcomes {
		record := outcome.record
		if err := o.appendTurn(ctx, sess, session.Turn{
			Role:      session.RoleTool,
			Record:    &record,
			CreatedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
		if o.tel != nil {
			o.tel.RecordToolCall(calls[i].Tool, record.Status, outcome.elapsed)
		}
		if record.ErrorCode == toolerr.CodeResourceExhausted {
			backoff = true
		}
	}

	if backoff {
		o.logger.Printf("session %s: pool saturated, backing off %s before next round", sess.ID(), o.cfg.DispatchBackoff)
		select {
		case <-time.After(o.cfg.DispatchBackoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func errorOutcome(call session.ToolCall, err error) dispatchOutcome {
	return dispatchOutcome{record: session.ToolRecord{
		CallID:       call.ID,
		Status:       session.ResultError,
		ErrorCode:    toolerr.Code(err),
		ErrorMessage: err.Error(),
	}}
}

// indexResult feeds fetched artifacts into the session corpus so
// search_context can find them later.
func (o *Orchestrator) indexResult(sessionID string, call session.ToolCall, result capability.Result) {
	if o.corpus == nil {
		return
	}
	switch call.Tool {
	case "get_transcript", "visit_webpage":
	default:
		return
	}
	title := ""
	if result.Data != nil {
		if t, ok := result.Data["title"].(string); ok {
			title = t
		} else if id, ok := result.Data["video_id"].(string); ok {
			title = "video " + id
		}
	}
	if err := o.corpus.Add(sessionID, searchctx.Document{
		ID:     call.ID,
		Source: call.Tool,
		Title:  title,
		Text:   result.Content,
	}); err != nil {
		o.logger.Printf("session %s: index %s result: %v", sessionID, call.Tool, err)
	}
}
