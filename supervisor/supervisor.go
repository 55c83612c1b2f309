// Package supervisor owns the lifecycle of one backend transport.
//
// A Supervisor connects lazily, detects channel failures, reconnects with
// capped exponential backoff, trips a circuit breaker after repeated
// failures, and permanently disables a server whose errors match a
// critical signature. Every transport call is bounded by a per-call
// timeout; connection losses are retried with linear backoff.
//
// All state for one server is serialized through its Supervisor. Separate
// servers never share a lock.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jonwraymond/toolfoundation/model"
	"github.com/jonwraymond/toolrelay/backend"
	"github.com/jonwraymond/toolrelay/pending"
	"github.com/jonwraymond/toolrelay/toolerr"
	"golang.org/x/sync/singleflight"
)

// ErrClosed is the cause reported for calls on a closed supervisor.
var ErrClosed = errors.New("supervisor closed")

// Status is a point-in-time snapshot of a server's health.
type Status struct {
	Name                string    `json:"name"`
	Transport           string    `json:"transport"`
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	CircuitOpenUntil    time.Time `json:"circuitOpenUntil,omitzero"`
	ReconnectAttempts   int       `json:"reconnectAttempts"`
	LastError           string    `json:"lastError,omitempty"`
	Since               time.Time `json:"since"`
}

// Supervisor owns one transport and its connection state.
type Supervisor struct {
	name       string
	transport  backend.Transport
	opts       Options
	classifier *Classifier
	table      *pending.Table
	logger     *slog.Logger
	connects   singleflight.Group

	mu             sync.Mutex
	state          State
	since          time.Time
	live           bool
	breaker        *Breaker
	backoff        *backoff.ExponentialBackOff
	attempts       int
	reconnectTimer *time.Timer
	reconnectSeq   uint64
	cooldownTimer  *time.Timer
	cooldownSeq    uint64
	lastErr        error
	inflight       map[string]struct{}
	closed         bool
}

// New creates a supervisor for transport. The transport is not connected
// until the first call, ListTools or Connect.
func New(transport backend.Transport, opts Options) *Supervisor {
	opts = opts.withDefaults()
	s := &Supervisor{
		name:       transport.Name(),
		transport:  transport,
		opts:       opts,
		classifier: NewClassifier(opts.CriticalPatterns...),
		table:      opts.Pending,
		logger:     opts.Logger.With("server", transport.Name()),
		state:      Disconnected,
		since:      time.Now(),
		breaker:    NewBreaker(opts.BreakerThreshold, opts.BreakerCooldown),
		backoff:    newReconnectBackOff(opts.ReconnectBaseDelay, opts.ReconnectMaxDelay),
		inflight:   make(map[string]struct{}),
	}
	if src, ok := transport.(backend.EventSource); ok {
		src.SetEventHandler(s.handleEvent)
	}
	return s
}

// Name returns the server name.
func (s *Supervisor) Name() string { return s.name }

// State returns the current connection state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns a health snapshot. It never fails.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Name:                s.name,
		Transport:           s.transport.Kind(),
		State:               s.state,
		ConsecutiveFailures: s.breaker.Failures(),
		CircuitOpenUntil:    s.breaker.OpenUntil(),
		ReconnectAttempts:   s.attempts,
		Since:               s.since,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// Connect establishes the transport if it is not already live.
func (s *Supervisor) Connect(ctx context.Context) error {
	return s.ensureConnected(ctx)
}

// Execute invokes tool through the transport.
//
// It fails fast while the server is disabled or its circuit is open.
// Connection losses are retried Retries times with linear backoff and then
// recorded as a single breaker failure. Timeouts and protocol errors are
// recorded without retry. Tool errors leave the breaker untouched.
func (s *Supervisor) Execute(ctx context.Context, tool string, args map[string]any) (any, error) {
	var lastErr error
	for attempt := 0; attempt <= s.opts.Retries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * s.opts.RetryDelay
			s.logger.Warn("retrying after connection loss", "tool", tool, "attempt", attempt, "delay", delay, "err", lastErr)
			if err := sleep(ctx, delay); err != nil {
				return nil, s.callerDone(tool, err)
			}
		}
		if err := s.admit(tool); err != nil {
			return nil, err
		}

		v, err := s.attempt(ctx, tool, args)
		if err == nil {
			s.recordSuccess()
			return v, nil
		}
		if !retryable(ctx, err) {
			return nil, s.recordFailure(ctx, err)
		}
		lastErr = err
	}
	return nil, s.recordFailure(ctx, lastErr)
}

// ListTools lists the server's tools, connecting if needed. It is not gated
// by the circuit breaker and does not affect it; connection losses are
// retried like calls.
func (s *Supervisor) ListTools(ctx context.Context) ([]model.Tool, error) {
	var lastErr error
	for attempt := 0; attempt <= s.opts.Retries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, time.Duration(attempt)*s.opts.RetryDelay); err != nil {
				return nil, s.callerDone("", err)
			}
		}
		if err := s.ensureConnected(ctx); err != nil {
			if !retryable(ctx, err) {
				return nil, err
			}
			lastErr = err
			continue
		}

		v, err := s.invoke(ctx, func(cctx context.Context) (any, error) {
			return s.transport.ListTools(cctx)
		})
		if err == nil {
			tools, _ := v.([]model.Tool)
			return tools, nil
		}
		err = s.classify(ctx, "", err)
		if !retryable(ctx, err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// Disconnect releases the transport and cancels pending timers. The
// supervisor stays usable: the next call reconnects. A disabled server
// stays disabled.
func (s *Supervisor) Disconnect() {
	s.mu.Lock()
	s.stopReconnectLocked()
	s.live = false
	s.attempts = 0
	s.backoff.Reset()
	if s.state == Connected || s.state == Connecting {
		s.setStateLocked(Disconnected)
	}
	ids := s.drainInflightLocked()
	s.mu.Unlock()

	s.failInflight(ids, toolerr.New(toolerr.KindConnectionLost, s.name, "", errors.New("disconnected")))
	s.release()
}

// Close permanently shuts the supervisor down and releases the transport.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.stopReconnectLocked()
	s.stopCooldownLocked()
	s.live = false
	if s.state != PermanentlyDisabled {
		s.setStateLocked(Disconnected)
	}
	ids := s.drainInflightLocked()
	s.mu.Unlock()

	s.failInflight(ids, toolerr.New(toolerr.KindConnectionLost, s.name, "", ErrClosed))
	return s.transport.Close()
}

func (s *Supervisor) admit(tool string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.closed:
		return toolerr.New(toolerr.KindConnectionLost, s.name, tool, ErrClosed)
	case s.state == PermanentlyDisabled:
		return toolerr.New(toolerr.KindPermanentlyDisabled, s.name, tool, s.lastErr)
	case s.state == CircuitOpen:
		if s.breaker.Open(time.Now()) {
			return toolerr.New(toolerr.KindCircuitOpen, s.name, tool,
				fmt.Errorf("open until %s", s.breaker.OpenUntil().Format(time.RFC3339)))
		}
		s.closeCircuitLocked()
	}
	return nil
}

func (s *Supervisor) attempt(ctx context.Context, tool string, args map[string]any) (any, error) {
	if err := s.ensureConnected(ctx); err != nil {
		return nil, err
	}
	v, err := s.invoke(ctx, func(cctx context.Context) (any, error) {
		return s.transport.Call(cctx, tool, args)
	})
	if err != nil {
		return nil, s.classify(ctx, tool, err)
	}
	return v, nil
}

// invoke runs fn under the call timeout. The caller is released at the
// deadline even if fn never returns; a late result is discarded by the
// pending table.
func (s *Supervisor) invoke(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	id := uuid.NewString()
	call, err := s.table.Register(id, s.opts.CallTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", backend.ErrConnectionLost, err)
	}

	s.mu.Lock()
	s.inflight[id] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.inflight, id)
		s.mu.Unlock()
	}()

	cctx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	go func() {
		defer cancel()
		v, err := fn(cctx)
		if err != nil {
			s.table.Fail(id, err)
			return
		}
		s.table.Resolve(id, v)
	}()

	return call.Await(ctx)
}

// classify maps a transport error to the relay taxonomy and applies its
// side effects on connection state.
func (s *Supervisor) classify(ctx context.Context, tool string, err error) error {
	var te *toolerr.Error
	switch {
	case errors.As(err, &te):
		return err
	case errors.Is(err, backend.ErrToolFailed):
		return toolerr.New(toolerr.KindTool, s.name, tool, err)
	case errors.Is(err, backend.ErrToolNotFound):
		return toolerr.New(toolerr.KindUnknownTool, s.name, tool, err)
	case errors.Is(err, backend.ErrInvalidArguments):
		return toolerr.New(toolerr.KindInvalidRequest, s.name, tool, err)
	case s.classifier.IsCritical(err):
		s.disable(err)
		return toolerr.New(toolerr.KindPermanentlyDisabled, s.name, tool, err)
	case ctx.Err() != nil:
		return s.callerDone(tool, ctx.Err())
	case errors.Is(err, pending.ErrExpired), errors.Is(err, backend.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		s.logger.Warn("call timed out", "tool", tool, "timeout", s.opts.CallTimeout)
		return toolerr.New(toolerr.KindTimeout, s.name, tool, err)
	case backend.IsConnectionLoss(err), errors.Is(err, pending.ErrClosed):
		s.markLost(err)
		return toolerr.New(toolerr.KindConnectionLost, s.name, tool, err)
	default:
		return toolerr.New(toolerr.KindProtocol, s.name, tool, err)
	}
}

func (s *Supervisor) callerDone(tool string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return toolerr.New(toolerr.KindTimeout, s.name, tool, err)
	}
	return fmt.Errorf("call %s on %s: %w", tool, s.name, err)
}

func (s *Supervisor) recordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.breaker.RecordSuccess()
}

// recordFailure counts err toward the breaker when it reflects server
// health. Caller cancellations and tool errors do not count.
func (s *Supervisor) recordFailure(ctx context.Context, err error) error {
	switch toolerr.KindOf(err) {
	case toolerr.KindConnectionLost, toolerr.KindProtocol, toolerr.KindTimeout:
	default:
		return err
	}
	if ctx.Err() != nil {
		return err
	}

	s.mu.Lock()
	if s.closed || s.state == PermanentlyDisabled {
		s.mu.Unlock()
		return err
	}
	s.lastErr = err
	tripped := s.breaker.RecordFailure(time.Now())
	if tripped {
		s.tripLocked()
	}
	s.mu.Unlock()

	if tripped {
		s.release()
	}
	return err
}

func (s *Supervisor) ensureConnected(ctx context.Context) error {
	s.mu.Lock()
	live := s.live
	s.mu.Unlock()
	if live {
		return nil
	}

	ch := s.connects.DoChan("connect", func() (any, error) {
		return nil, s.connect(ctx)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return s.callerDone("", ctx.Err())
	}
}

// connect performs one connect attempt. Callers go through the
// singleflight group so concurrent attempts collapse into one.
func (s *Supervisor) connect(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return toolerr.New(toolerr.KindConnectionLost, s.name, "", ErrClosed)
	case s.state == PermanentlyDisabled:
		err := toolerr.New(toolerr.KindPermanentlyDisabled, s.name, "", s.lastErr)
		s.mu.Unlock()
		return err
	case s.live:
		s.mu.Unlock()
		return nil
	}
	s.stopReconnectLocked()
	if s.state != CircuitOpen {
		s.setStateLocked(Connecting)
	}
	s.mu.Unlock()

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ConnectTimeout)
	err := s.transport.Connect(cctx)
	cancel()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = s.transport.Close()
		return toolerr.New(toolerr.KindConnectionLost, s.name, "", ErrClosed)
	}

	if err != nil {
		s.lastErr = err
		if s.classifier.IsCritical(err) {
			s.disableLocked(err)
			s.mu.Unlock()
			s.release()
			return toolerr.New(toolerr.KindPermanentlyDisabled, s.name, "", err)
		}
		if s.state != CircuitOpen {
			s.setStateLocked(Disconnected)
			s.scheduleReconnectLocked()
		}
		s.mu.Unlock()
		s.logger.Warn("connect failed", "err", err)
		return toolerr.New(toolerr.KindConnectionLost, s.name, "", err)
	}

	s.live = true
	s.attempts = 0
	s.backoff.Reset()
	if s.state != CircuitOpen {
		s.setStateLocked(Connected)
	}
	s.mu.Unlock()
	return nil
}

func (s *Supervisor) handleEvent(ev backend.Event) {
	s.mu.Lock()
	if s.closed || s.state == PermanentlyDisabled {
		s.mu.Unlock()
		return
	}

	if ev.Err != nil && s.classifier.IsCritical(ev.Err) {
		s.disableLocked(ev.Err)
		s.mu.Unlock()
		s.release()
		return
	}

	s.live = false
	if ev.Err != nil {
		s.lastErr = ev.Err
	} else {
		s.lastErr = backend.ErrConnectionLost
	}
	s.logger.Info("channel event", "event", ev.Type.String(), "err", ev.Err)
	if s.state == Connected {
		s.setStateLocked(Disconnected)
		s.scheduleReconnectLocked()
	}
	s.mu.Unlock()
}

// markLost records a connection loss detected by a call.
func (s *Supervisor) markLost(err error) {
	s.mu.Lock()
	if s.closed || s.state == PermanentlyDisabled {
		s.mu.Unlock()
		return
	}
	s.live = false
	s.lastErr = err
	if s.state == Connected {
		s.setStateLocked(Disconnected)
		s.scheduleReconnectLocked()
	}
	s.mu.Unlock()
	s.release()
}

func (s *Supervisor) disable(err error) {
	s.mu.Lock()
	if s.closed || s.state == PermanentlyDisabled {
		s.mu.Unlock()
		return
	}
	s.disableLocked(err)
	s.mu.Unlock()
	s.release()
}

func (s *Supervisor) disableLocked(err error) {
	s.stopReconnectLocked()
	s.stopCooldownLocked()
	s.live = false
	s.lastErr = err
	s.setStateLocked(PermanentlyDisabled)
	s.logger.Error("server permanently disabled", "err", err)
}

func (s *Supervisor) tripLocked() {
	s.stopReconnectLocked()
	s.stopCooldownLocked()
	s.live = false
	s.setStateLocked(CircuitOpen)
	s.logger.Warn("circuit opened", "failures", s.breaker.Failures(), "until", s.breaker.OpenUntil())

	s.cooldownSeq++
	seq := s.cooldownSeq
	s.cooldownTimer = time.AfterFunc(time.Until(s.breaker.OpenUntil()), func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if seq != s.cooldownSeq || s.state != CircuitOpen {
			return
		}
		s.cooldownTimer = nil
		s.closeCircuitLocked()
	})
}

// closeCircuitLocked ends a cooldown. The server behaves as disconnected
// (or connected, if a breaker-exempt ListTools reconnected it meanwhile).
func (s *Supervisor) closeCircuitLocked() {
	s.stopCooldownLocked()
	s.breaker.Reset()
	if s.live {
		s.setStateLocked(Connected)
	} else {
		s.setStateLocked(Disconnected)
	}
	s.logger.Info("circuit cooldown elapsed")
}

func (s *Supervisor) scheduleReconnectLocked() {
	if s.closed || s.state == PermanentlyDisabled || s.reconnectTimer != nil {
		return
	}
	if s.attempts >= s.opts.MaxReconnectAttempts {
		s.logger.Warn("reconnect attempts exhausted", "attempts", s.attempts)
		return
	}

	delay := s.backoff.NextBackOff()
	s.attempts++
	s.reconnectSeq++
	seq := s.reconnectSeq
	s.logger.Info("scheduling reconnect", "attempt", s.attempts, "delay", delay)

	s.reconnectTimer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if seq != s.reconnectSeq || s.state != Disconnected || s.closed {
			s.mu.Unlock()
			return
		}
		s.reconnectTimer = nil
		s.mu.Unlock()

		_, _, _ = s.connects.Do("connect", func() (any, error) {
			return nil, s.connect(context.Background())
		})
	})
}

func (s *Supervisor) stopReconnectLocked() {
	s.reconnectSeq++
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
}

func (s *Supervisor) stopCooldownLocked() {
	s.cooldownSeq++
	if s.cooldownTimer != nil {
		s.cooldownTimer.Stop()
		s.cooldownTimer = nil
	}
}

func (s *Supervisor) setStateLocked(next State) {
	if s.state == next {
		return
	}
	s.logger.Info("state transition", "from", s.state.String(), "to", next.String())
	s.state = next
	s.since = time.Now()
}

func (s *Supervisor) drainInflightLocked() []string {
	ids := make([]string, 0, len(s.inflight))
	for id := range s.inflight {
		ids = append(ids, id)
	}
	clear(s.inflight)
	return ids
}

func (s *Supervisor) failInflight(ids []string, err error) {
	for _, id := range ids {
		s.table.Fail(id, err)
	}
}

// release closes the transport. It must be called without s.mu held.
func (s *Supervisor) release() {
	if err := s.transport.Close(); err != nil {
		s.logger.Debug("transport close", "err", err)
	}
}

// retryable reports whether err is a connection loss worth another attempt.
func retryable(ctx context.Context, err error) bool {
	return ctx.Err() == nil &&
		toolerr.KindOf(err) == toolerr.KindConnectionLost &&
		!errors.Is(err, ErrClosed)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
