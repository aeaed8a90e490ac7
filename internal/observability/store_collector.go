package observability

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/daimoniac/swarmshield/internal/credential"
	"github.com/daimoniac/swarmshield/internal/types"
)

var (
	storeCollectorOnce     sync.Once
	storeCollectorInstance *StoreCollector
)

// StoreStats is the read side of the incident store used on scrape.
type StoreStats interface {
	CountIncidentsByStatus(ctx context.Context) (map[types.IncidentStatus]int, error)
	CountCredentialsByType(ctx context.Context) (map[credential.Type]int, error)
}

// StoreCollector reads incident and credential counts from the store when
// /metrics is scraped.
type StoreCollector struct {
	store   StoreStats
	logger  *slog.Logger
	timeout time.Duration

	incidentsDesc   *prometheus.Desc
	credentialsDesc *prometheus.Desc
}

// NewStoreCollector creates a new store metrics collector
func NewStoreCollector(store StoreStats, logger *slog.Logger) *StoreCollector {
	return &StoreCollector{
		store:   store,
		logger:  logger,
		timeout: 3 * time.Second,
		incidentsDesc: prometheus.NewDesc(
			"swarmshield_incidents",
			"Current number of incidents by status",
			[]string{"status"},
			nil,
		),
		credentialsDesc: prometheus.NewDesc(
			"swarmshield_credentials",
			"Current number of stored credentials by type",
			[]string{"type"},
			nil,
		),
	}
}

// RegisterStoreCollector registers the store collector exactly once
func RegisterStoreCollector(store StoreStats, logger *slog.Logger) {
	storeCollectorOnce.Do(func() {
		storeCollectorInstance = NewStoreCollector(store, logger)
		prometheus.MustRegister(storeCollectorInstance)
		logger.Info("store metrics collector registered")
	})
}

func (c *StoreCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.incidentsDesc
	ch <- c.credentialsDesc
}

// Collect queries the store. Failures are logged and the affected series
// are omitted from this scrape.
func (c *StoreCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	byStatus, err := c.store.CountIncidentsByStatus(ctx)
	if err != nil {
		c.logger.Warn("failed to count incidents for metrics", "error", err)
	} else {
		for _, status := range []types.IncidentStatus{
			types.StatusDetected, types.StatusVerified, types.StatusFalsePositive, types.StatusMitigated,
		} {
			ch <- prometheus.MustNewConstMetric(c.incidentsDesc, prometheus.GaugeValue,
				float64(byStatus[status]), string(status))
		}
	}

	byType, err := c.store.CountCredentialsByType(ctx)
	if err != nil {
		c.logger.Warn("failed to count credentials for metrics", "error", err)
		return
	}
	keys := make([]string, 0, len(byType))
	for t := range byType {
		keys = append(keys, string(t))
	}
	sort.Strings(keys)
	for _, t := range keys {
		ch <- prometheus.MustNewConstMetric(c.credentialsDesc, prometheus.GaugeValue,
			float64(byType[credential.Type(t)]), t)
	}
}
