// Package registry keeps the capability directory of agents. Liveness is
// derived from lastSeenAt whenever a record is read.
package registry

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/daimoniac/swarmshield/internal/errors"
)

// DefaultLivenessWindow is how long an agent stays online after its last
// heartbeat.
const DefaultLivenessWindow = 60 * time.Second

// Status is the derived liveness of an agent.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Agent is a registered agent record.
type Agent struct {
	Identity     string       `json:"identity"`
	DisplayName  string       `json:"displayName"`
	Capabilities []Capability `json:"capabilities"`
	Endpoint     string       `json:"endpoint,omitempty"`
	LastSeenAt   time.Time    `json:"lastSeenAt"`
	Status       Status       `json:"status"`
}

// HasCapability reports an exact capability match.
func (a Agent) HasCapability(c Capability) bool {
	for _, have := range a.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// Registry is an in-memory, concurrency-safe agent directory.
type Registry struct {
	mu       sync.RWMutex
	agents   map[string]Agent
	liveness time.Duration
	now      func() time.Time
}

// New creates a registry. A non-positive window uses DefaultLivenessWindow.
func New(liveness time.Duration) *Registry {
	if liveness <= 0 {
		liveness = DefaultLivenessWindow
	}
	return &Registry{
		agents:   make(map[string]Agent),
		liveness: liveness,
		now:      time.Now,
	}
}

// SetClock replaces the time source.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Register adds or replaces an agent record and marks it seen now.
func (r *Registry) Register(a Agent) (Agent, error) {
	a.Identity = strings.TrimSpace(a.Identity)
	if a.Identity == "" {
		return Agent{}, errors.NewInvalidInputf("agent identity is required")
	}
	if len(a.Capabilities) == 0 {
		return Agent{}, errors.NewInvalidInputf("agent %s declares no capabilities", a.Identity)
	}

	seen := make(map[Capability]struct{}, len(a.Capabilities))
	caps := make([]Capability, 0, len(a.Capabilities))
	for _, c := range a.Capabilities {
		if !c.Valid() {
			return Agent{}, errors.NewInvalidInputf("unknown capability %q", c)
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		caps = append(caps, c)
	}
	a.Capabilities = caps
	if a.DisplayName == "" {
		a.DisplayName = a.Identity
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	a.LastSeenAt = r.now().UTC()
	a.Status = ""
	r.agents[a.Identity] = a

	return r.withStatus(a), nil
}

// Heartbeat refreshes lastSeenAt for identity.
func (r *Registry) Heartbeat(identity string) (Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[identity]
	if !ok {
		return Agent{}, errors.NewNotFoundf("agent %s is not registered", identity)
	}
	a.LastSeenAt = r.now().UTC()
	r.agents[identity] = a

	return r.withStatus(a), nil
}

// Get returns one agent.
func (r *Registry) Get(identity string) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[identity]
	if !ok {
		return Agent{}, errors.NewNotFoundf("agent %s is not registered", identity)
	}
	return r.withStatus(a), nil
}

// FindByCapability returns every agent declaring c, online or not, sorted
// by identity. Messages to offline agents are queued by the transport.
func (r *Registry) FindByCapability(c Capability) []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Agent
	for _, a := range r.agents {
		if a.HasCapability(c) {
			out = append(out, r.withStatus(a))
		}
	}
	sortAgents(out)
	return out
}

// List returns all agents sorted by identity.
func (r *Registry) List() []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, r.withStatus(a))
	}
	sortAgents(out)
	return out
}

// LivenessWindow returns the configured window.
func (r *Registry) LivenessWindow() time.Duration {
	return r.liveness
}

// withStatus copies a and derives its status. Caller holds r.mu.
func (r *Registry) withStatus(a Agent) Agent {
	a.Capabilities = append([]Capability(nil), a.Capabilities...)
	if r.now().Sub(a.LastSeenAt) <= r.liveness {
		a.Status = StatusOnline
	} else {
		a.Status = StatusOffline
	}
	return a
}

func sortAgents(agents []Agent) {
	sort.Slice(agents, func(i, j int) bool {
		return agents[i].Identity < agents[j].Identity
	})
}
