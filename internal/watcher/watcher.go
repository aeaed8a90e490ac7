// Package watcher polls an npm-compatible registry for new versions of the
// watched packages and hands each unscanned release to the scanning agents.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/daimoniac/swarmshield/internal/config"
	"github.com/daimoniac/swarmshield/internal/errors"
	"github.com/daimoniac/swarmshield/internal/observability"
	"github.com/daimoniac/swarmshield/internal/registry"
	"github.com/daimoniac/swarmshield/internal/transport"
	"github.com/daimoniac/swarmshield/internal/types"
)

// Source is recorded on every release event the watcher emits
const Source = "registry"

// Identity is the sender of the release events the watcher broadcasts
const Identity = "did:simulator:watcher"

// Watcher continuously monitors the registry for new package versions
type Watcher interface {
	// Start begins the continuous discovery loop
	Start(ctx context.Context) error

	// Discover performs a single discovery cycle
	Discover(ctx context.Context) error
}

// Store reports which releases the scanner already processed
type Store interface {
	ReleaseScanned(ctx context.Context, packageName, version string) (bool, error)
}

// Broadcaster routes a message to every agent with a capability
type Broadcaster interface {
	Broadcast(ctx context.Context, c registry.Capability, t transport.MessageType, payload interface{}) (int, error)
}

// Config contains configuration for the watcher
type Config struct {
	PollInterval time.Duration
	// RequeueAfter is how long an enqueued but not yet scanned release is
	// left alone before it is sent again.
	RequeueAfter time.Duration
}

// watcherImpl implements the Watcher interface
type watcherImpl struct {
	client       Client
	packages     []config.WatchedPackage
	store        Store
	broadcaster  Broadcaster
	pollInterval time.Duration
	requeueAfter time.Duration
	logger       *slog.Logger
	now          func() time.Time

	mu       sync.Mutex
	enqueued map[string]time.Time
}

// NewWatcher creates a new registry watcher
func NewWatcher(
	client Client,
	packages []config.WatchedPackage,
	store Store,
	broadcaster Broadcaster,
	cfg Config,
	logger *slog.Logger,
) Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Minute
	}
	if cfg.RequeueAfter <= 0 {
		cfg.RequeueAfter = 6 * cfg.PollInterval
	}
	return &watcherImpl{
		client:       client,
		packages:     packages,
		store:        store,
		broadcaster:  broadcaster,
		pollInterval: cfg.PollInterval,
		requeueAfter: cfg.RequeueAfter,
		logger:       logger.With("component", "watcher"),
		now:          time.Now,
		enqueued:     make(map[string]time.Time),
	}
}

// Start begins the continuous discovery loop
func (w *watcherImpl) Start(ctx context.Context) error {
	w.logger.Info("starting registry watcher",
		"poll_interval", w.pollInterval.String(),
		"packages", len(w.packages))

	if err := w.Discover(ctx); err != nil {
		w.logger.Error("initial discovery failed",
			"error", err.Error())
	}

	// wait for the poll interval after each discovery completes
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("registry watcher shutting down")
			return ctx.Err()
		case <-time.After(w.pollInterval):
			if err := w.Discover(ctx); err != nil {
				w.logger.Error("discovery cycle failed",
					"error", err.Error())
			}
		}
	}
}

// Discover performs a single discovery cycle
func (w *watcherImpl) Discover(ctx context.Context) error {
	w.logger.Debug("starting discovery cycle", "packages", len(w.packages))

	enqueued := 0
	for _, pkg := range w.packages {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := w.processPackage(ctx, pkg)
		enqueued += n
		if err != nil {
			observability.GetMetrics().WatcherErrors.Inc()
			w.logger.Error("failed to process package",
				"package", pkg.Name,
				"error", err.Error())
			continue
		}
	}

	w.logger.Info("discovery cycle completed", "enqueued", enqueued)
	return nil
}

// processPackage enqueues every in-range, unscanned version of pkg
func (w *watcherImpl) processPackage(ctx context.Context, pkg config.WatchedPackage) (int, error) {
	var constraint *semver.Constraints
	if pkg.Range != "" {
		c, err := semver.NewConstraint(pkg.Range)
		if err != nil {
			return 0, errors.NewPermanentf("invalid range %q: %w", pkg.Range, err)
		}
		constraint = c
	}

	doc, err := w.client.Packument(ctx, pkg.Name)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch packument: %w", err)
	}

	enqueued := 0
	for _, v := range sortedVersions(doc) {
		if constraint != nil && !constraint.Check(v.semver) {
			continue
		}

		if w.recentlyEnqueued(pkg.Name, v.raw) {
			continue
		}

		scanned, err := w.store.ReleaseScanned(ctx, pkg.Name, v.raw)
		if err != nil {
			w.logger.Error("failed to check scan state, enqueuing to be safe",
				"package", pkg.Name,
				"version", v.raw,
				"error", err.Error())
			scanned = false
		}
		if scanned {
			observability.GetMetrics().ReleasesSkipped.Inc()
			continue
		}

		ev := releaseEvent(pkg, v.manifest, v.raw)
		sent, err := w.broadcaster.Broadcast(ctx, registry.CapSecurityScan, transport.ReleaseEvent, ev)
		if sent == 0 {
			if err == nil {
				err = errors.NewDeliveryf("no scanner reachable for %s", ev.Key())
			}
			return enqueued, fmt.Errorf("failed to enqueue %s: %w", ev.Key(), err)
		}
		if err != nil {
			w.logger.Warn("release reached only some scanners",
				"package", pkg.Name,
				"version", v.raw,
				"delivered", sent,
				"error", err.Error())
		}

		w.markEnqueued(pkg.Name, v.raw)
		observability.GetMetrics().ReleasesDiscovered.Inc()
		enqueued++

		w.logger.Debug("enqueued release",
			"package", pkg.Name,
			"version", v.raw,
			"project", ev.ProjectID)
	}
	return enqueued, nil
}

func (w *watcherImpl) recentlyEnqueued(name, version string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	at, ok := w.enqueued[types.PackageKey(name, version)]
	return ok && w.now().Sub(at) < w.requeueAfter
}

func (w *watcherImpl) markEnqueued(name, version string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.enqueued[types.PackageKey(name, version)] = w.now()
}

type publishedVersion struct {
	raw      string
	semver   *semver.Version
	manifest VersionManifest
}

// sortedVersions returns the valid semver versions of doc, oldest first
func sortedVersions(doc *Packument) []publishedVersion {
	out := make([]publishedVersion, 0, len(doc.Versions))
	for raw, m := range doc.Versions {
		v, err := semver.NewVersion(raw)
		if err != nil {
			continue
		}
		out = append(out, publishedVersion{raw: raw, semver: v, manifest: m})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].semver.LessThan(out[j].semver)
	})
	return out
}

func releaseEvent(pkg config.WatchedPackage, m VersionManifest, version string) types.ReleaseEvent {
	ev := types.ReleaseEvent{
		PackageName:          pkg.Name,
		Version:              version,
		DeclaredDependencies: m.Dependencies,
		LifecycleScripts:     m.Scripts,
		Source:               Source,
	}
	if len(pkg.Projects) > 0 {
		ev.ProjectID = pkg.Projects[0]
	}
	return ev
}
