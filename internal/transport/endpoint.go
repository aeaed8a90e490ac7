package transport

import (
	"context"

	"github.com/daimoniac/swarmshield/internal/errors"
	"github.com/daimoniac/swarmshield/internal/observability"
	"github.com/daimoniac/swarmshield/internal/registry"
)

// Directory resolves capabilities to agents.
type Directory interface {
	FindByCapability(c registry.Capability) []registry.Agent
}

// Endpoint is an agent's view of the transport: it stamps outgoing
// messages with the agent's identity and routes broadcasts by capability.
type Endpoint struct {
	transport Transport
	directory Directory
	identity  string
}

func NewEndpoint(t Transport, directory Directory, identity string) *Endpoint {
	return &Endpoint{
		transport: t,
		directory: directory,
		identity:  identity,
	}
}

// Identity returns the sender identity.
func (e *Endpoint) Identity() string {
	return e.identity
}

// Publish sends payload to one identity.
func (e *Endpoint) Publish(ctx context.Context, to string, t MessageType, payload interface{}) error {
	msg, err := NewMessage(e.identity, to, t, payload)
	if err != nil {
		return errors.NewPermanent(err)
	}
	if err := e.transport.Publish(ctx, msg); err != nil {
		observability.GetMetrics().MessagesFailed.WithLabelValues(string(t)).Inc()
		return err
	}
	observability.GetMetrics().MessagesPublished.WithLabelValues(string(t)).Inc()
	return nil
}

// Broadcast sends payload to every agent with capability c, skipping the
// sender itself. It returns the number of successful publishes and the
// first error encountered.
func (e *Endpoint) Broadcast(ctx context.Context, c registry.Capability, t MessageType, payload interface{}) (int, error) {
	var firstErr error
	sent := 0
	for _, agent := range e.directory.FindByCapability(c) {
		if agent.Identity == e.identity {
			continue
		}
		if err := e.Publish(ctx, agent.Identity, t, payload); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		sent++
	}
	return sent, firstErr
}

// Subscribe consumes this endpoint's inbox.
func (e *Endpoint) Subscribe(ctx context.Context, h Handler) (Subscription, error) {
	return e.transport.Subscribe(ctx, e.identity, h)
}
