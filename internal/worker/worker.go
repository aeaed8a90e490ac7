// Package worker runs agents: each Runner owns one identity, registers it,
// consumes its inbox one message at a time and retries transient handler
// failures.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/daimoniac/swarmshield/internal/errors"
	"github.com/daimoniac/swarmshield/internal/observability"
	"github.com/daimoniac/swarmshield/internal/registry"
	"github.com/daimoniac/swarmshield/internal/transport"
)

// Registrar is the part of the agent registry a runner needs
type Registrar interface {
	Register(a registry.Agent) (registry.Agent, error)
	Heartbeat(identity string) (registry.Agent, error)
}

// Config contains configuration for a runner
type Config struct {
	RetryAttempts     int
	RetryBackoff      time.Duration
	HeartbeatInterval time.Duration
	ShutdownTimeout   time.Duration
}

// DefaultConfig returns default runner configuration
func DefaultConfig() Config {
	return Config{
		RetryAttempts:     3,
		RetryBackoff:      time.Second,
		HeartbeatInterval: 20 * time.Second,
		ShutdownTimeout:   30 * time.Second,
	}
}

// Runner serves one agent identity
type Runner struct {
	agent     registry.Agent
	registry  Registrar
	transport transport.Transport
	routes    map[transport.MessageType]transport.Handler
	config    Config
	logger    *slog.Logger

	mu      sync.Mutex
	sub     transport.Subscription
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewRunner creates a runner for agent. Heartbeat messages from other
// agents refresh their registry entry unless a route overrides it.
func NewRunner(agent registry.Agent, reg Registrar, tr transport.Transport, config Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		agent:     agent,
		registry:  reg,
		transport: tr,
		routes:    make(map[transport.MessageType]transport.Handler),
		config:    config,
		logger:    observability.ForAgent(logger, agent.Identity),
	}
	r.routes[transport.Heartbeat] = r.handleHeartbeat
	return r
}

// Identity returns the identity this runner serves
func (r *Runner) Identity() string {
	return r.agent.Identity
}

// Handle routes messages of type t to h. Routes must be set before Start.
func (r *Runner) Handle(t transport.MessageType, h transport.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[t] = h
}

// Start registers the agent, subscribes to its inbox and starts the
// heartbeat loop. It returns once the subscription is active.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return errors.NewConflictf("runner for %s already started", r.agent.Identity)
	}

	if _, err := r.registry.Register(r.agent); err != nil {
		return fmt.Errorf("failed to register %s: %w", r.agent.Identity, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	sub, err := r.transport.Subscribe(runCtx, r.agent.Identity, r.dispatch)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to subscribe %s: %w", r.agent.Identity, err)
	}
	r.sub = sub
	r.cancel = cancel
	r.started = true

	if r.config.HeartbeatInterval > 0 {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.heartbeatLoop(runCtx)
		}()
	}

	r.logger.Info("agent started", "capabilities", r.agent.Capabilities)
	return nil
}

// Stop closes the subscription, waiting for an in-flight handler.
func (r *Runner) Stop() error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	sub, cancel := r.sub, r.cancel
	r.started = false
	r.mu.Unlock()

	err := sub.Close()
	cancel()
	r.wg.Wait()
	r.logger.Info("agent stopped")
	return err
}

// Run starts the runner and blocks until ctx is done, then stops it
// within the configured shutdown timeout.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	done := make(chan error, 1)
	go func() { done <- r.Stop() }()

	timeout := r.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().ShutdownTimeout
	}
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		r.logger.Warn("agent shutdown timeout, in-flight message may not have completed")
		return fmt.Errorf("shutdown timeout")
	}
}

func (r *Runner) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(r.config.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.registry.Heartbeat(r.agent.Identity); err != nil {
				r.logger.Warn("heartbeat failed", "error", err)
			}
		}
	}
}

func (r *Runner) handleHeartbeat(ctx context.Context, msg transport.Message) error {
	_, err := r.registry.Heartbeat(msg.From)
	return err
}

func (r *Runner) dispatch(ctx context.Context, msg transport.Message) error {
	r.mu.Lock()
	h, ok := r.routes[msg.Type]
	r.mu.Unlock()

	if !ok {
		r.logger.Warn("no handler for message type, dropping",
			"message_id", msg.ID,
			"type", msg.Type,
			"from", msg.From)
		return nil
	}

	r.logger.Debug("processing message",
		"message_id", msg.ID,
		"type", msg.Type,
		"from", msg.From)

	if err := r.ProcessMessage(ctx, msg, h); err != nil {
		r.logger.Error("message processing failed",
			"message_id", msg.ID,
			"type", msg.Type,
			"from", msg.From,
			"error", err)
		observability.GetMetrics().WorkerErrors.Inc()
		return err
	}

	observability.GetMetrics().WorkerTasksProcessed.Inc()
	return nil
}

// ErrorHandlerAction determines what action to take for a given error
type ErrorHandlerAction int

const (
	// ActionRetry indicates the error is transient and should be retried
	ActionRetry ErrorHandlerAction = iota
	// ActionFail indicates the error should not be retried
	ActionFail
)

// handleError classifies err and determines whether another attempt is made.
func (r *Runner) handleError(err error, attempt int, msg transport.Message) (ErrorHandlerAction, time.Duration) {
	switch classify(err) {
	case errors.ErrorClassTransient:
		if attempt >= r.config.RetryAttempts {
			return ActionFail, 0
		}
		backoff := r.config.RetryBackoff * time.Duration(attempt)
		r.logger.Warn("transient error, retrying",
			"message_id", msg.ID,
			"type", msg.Type,
			"attempt", attempt,
			"max_attempts", r.config.RetryAttempts,
			"backoff", backoff,
			"error", err)
		return ActionRetry, backoff

	case errors.ErrorClassConflict:
		r.logger.Warn("conflicting write rejected",
			"message_id", msg.ID,
			"type", msg.Type,
			"error", err)
		return ActionFail, 0

	default:
		return ActionFail, 0
	}
}

// ProcessMessage runs h with retry of transient failures
func (r *Runner) ProcessMessage(ctx context.Context, msg transport.Message, h transport.Handler) error {
	attempts := r.config.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := h(ctx, msg)
		if err == nil {
			return nil
		}
		lastErr = err

		action, backoff := r.handleError(err, attempt, msg)
		if action == ActionFail {
			return err
		}

		observability.GetMetrics().WorkerRetries.Inc()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	return errors.NewPermanentf("max retries exceeded: %w", lastErr)
}
