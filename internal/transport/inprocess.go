package transport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/daimoniac/swarmshield/internal/errors"
	"github.com/daimoniac/swarmshield/internal/observability"
)

// InProcess delivers messages through one unbounded FIFO inbox per
// recipient. Publishing to an identity nobody subscribes to yet queues the
// message until a subscriber appears.
type InProcess struct {
	mu      sync.Mutex
	inboxes map[string]*inbox
	closed  bool
	stats   InProcessStats
	logger  *slog.Logger
}

// InProcessStats tracks delivery statistics.
type InProcessStats struct {
	Published int64
	Delivered int64
	Failed    int64
}

type inbox struct {
	identity   string
	messages   []Message
	signal     chan struct{}
	subscribed bool
	busy       bool
}

// NewInProcess creates an empty in-process transport. Each call returns an
// independent bus.
func NewInProcess(logger *slog.Logger) *InProcess {
	if logger == nil {
		logger = slog.Default()
	}
	return &InProcess{
		inboxes: make(map[string]*inbox),
		logger:  logger,
	}
}

// inboxFor returns identity's inbox, creating it. Caller holds t.mu.
func (t *InProcess) inboxFor(identity string) *inbox {
	ib, ok := t.inboxes[identity]
	if !ok {
		ib = &inbox{identity: identity, signal: make(chan struct{}, 1)}
		t.inboxes[identity] = ib
	}
	return ib
}

// Publish appends msg to the recipient's inbox. It never blocks.
func (t *InProcess) Publish(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return errors.NewInvalidInputf("message recipient is required")
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errors.NewPermanentf("transport is closed")
	}
	ib := t.inboxFor(msg.To)
	ib.messages = append(ib.messages, msg)
	depth := len(ib.messages)
	t.stats.Published++
	t.mu.Unlock()

	select {
	case ib.signal <- struct{}{}:
	default:
	}

	observability.GetMetrics().InboxDepth.WithLabelValues(msg.To).Set(float64(depth))
	return nil
}

// Subscribe starts a drain goroutine for identity. Only one subscription
// per identity may be active.
func (t *InProcess) Subscribe(ctx context.Context, identity string, h Handler) (Subscription, error) {
	if identity == "" {
		return nil, errors.NewInvalidInputf("subscriber identity is required")
	}
	if h == nil {
		return nil, errors.NewInvalidInputf("handler is required")
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, errors.NewPermanentf("transport is closed")
	}
	ib := t.inboxFor(identity)
	if ib.subscribed {
		t.mu.Unlock()
		return nil, errors.NewConflictf("%s already has an active subscription", identity)
	}
	ib.subscribed = true
	t.mu.Unlock()

	subCtx, cancel := context.WithCancel(ctx)
	sub := &inProcessSubscription{cancel: cancel, done: make(chan struct{})}

	go t.drain(subCtx, ib, h, sub.done)

	t.logger.Debug("subscribed", "identity", identity)
	return sub, nil
}

func (t *InProcess) drain(ctx context.Context, ib *inbox, h Handler, done chan struct{}) {
	defer close(done)
	defer func() {
		t.mu.Lock()
		ib.subscribed = false
		ib.busy = false
		t.mu.Unlock()
	}()

	for {
		msg, ok := t.next(ib)
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-ib.signal:
				continue
			}
		}

		if ctx.Err() != nil {
			t.requeueFront(ib, msg)
			return
		}

		err := h(ctx, msg)

		t.mu.Lock()
		ib.busy = false
		if err != nil {
			t.stats.Failed++
		} else {
			t.stats.Delivered++
		}
		t.mu.Unlock()

		if err != nil {
			observability.GetMetrics().MessagesFailed.WithLabelValues(string(msg.Type)).Inc()
			t.logger.Warn("message handler failed",
				"identity", ib.identity,
				"message_id", msg.ID,
				"type", msg.Type,
				"error", err)
		} else {
			observability.GetMetrics().MessagesDelivered.WithLabelValues(string(msg.Type)).Inc()
		}
	}
}

// next pops the head of ib and marks it busy.
func (t *InProcess) next(ib *inbox) (Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(ib.messages) == 0 {
		return Message{}, false
	}
	msg := ib.messages[0]
	ib.messages[0] = Message{}
	ib.messages = ib.messages[1:]
	ib.busy = true

	observability.GetMetrics().InboxDepth.WithLabelValues(ib.identity).Set(float64(len(ib.messages)))
	return msg, true
}

func (t *InProcess) requeueFront(ib *inbox, msg Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ib.messages = append([]Message{msg}, ib.messages...)
	ib.busy = false
}

// Pending returns the number of undelivered messages for identity.
func (t *InProcess) Pending(identity string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ib, ok := t.inboxes[identity]; ok {
		return len(ib.messages)
	}
	return 0
}

// Idle reports whether every subscribed inbox is empty and no handler is
// running. Inboxes without a subscriber are ignored.
func (t *InProcess) Idle() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ib := range t.inboxes {
		if ib.busy || (ib.subscribed && len(ib.messages) > 0) {
			return false
		}
	}
	return true
}

// WaitIdle blocks until Idle or ctx is done.
func (t *InProcess) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()
	for {
		if t.Idle() {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.NewTransientf("transport did not become idle: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// Stats returns a copy of the delivery statistics.
func (t *InProcess) Stats() InProcessStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// Close rejects further publishes and subscriptions. Active subscriptions
// stop when their context is cancelled or they are closed.
func (t *InProcess) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.NewPermanentf("transport already closed")
	}
	t.closed = true
	return nil
}

type inProcessSubscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *inProcessSubscription) Close() error {
	s.once.Do(s.cancel)
	<-s.done
	return nil
}
