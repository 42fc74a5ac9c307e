package collector

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"fw-proxy/internal/conntrack"
)

// Source yields every parseable row of the connection table and the number
// of rows it had to skip.
type Source interface {
	Entries() ([]conntrack.Entry, int, error)
}

// ConntabCollector periodically snapshots the firewall's connection table and
// maintains a cached set of Prometheus metrics.
//
// Rows are counted per TCP state. The state GaugeVec is reset on each refresh
// so states that disappeared from the table stop being exported. A failed
// read leaves the previous snapshot in place and sets the up gauge to 0.
type ConntabCollector struct {
	source   Source
	interval time.Duration

	entries   *prometheus.GaugeVec
	total     prometheus.Gauge
	malformed prometheus.Gauge
	up        prometheus.Gauge

	stopCh chan struct{}
	doneCh chan struct{}
}

func NewConntabCollector(source Source, interval time.Duration) *ConntabCollector {
	c := &ConntabCollector{
		source:   source,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}

	c.entries = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fwproxy_conntab_entries",
		Help: "Connection table rows in the last snapshot, by TCP state.",
	}, []string{"state"})
	c.total = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fwproxy_conntab_total_entries",
		Help: "Parseable connection table rows in the last snapshot.",
	})
	c.malformed = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fwproxy_conntab_malformed_rows",
		Help: "Connection table rows that could not be parsed in the last snapshot.",
	})
	c.up = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fwproxy_conntab_up",
		Help: "Whether the last connection table read succeeded.",
	})

	return c
}

// MustRegister registers all metrics into the provided registry.
func (c *ConntabCollector) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(c.entries, c.total, c.malformed, c.up)
}

// Start begins periodic collection in a background goroutine.
// It performs an initial update immediately.
func (c *ConntabCollector) Start(ctx context.Context) {
	go func() {
		defer close(c.doneCh)

		_ = c.UpdateOnce(ctx)

		t := time.NewTicker(c.interval)
		defer t.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-t.C:
				_ = c.UpdateOnce(ctx)
			}
		}
	}()
}

// Stop ends collection and waits for the background goroutine. It must only
// be called after Start.
func (c *ConntabCollector) Stop() {
	close(c.stopCh)
	<-c.doneCh
}

// UpdateOnce reads the connection table and updates metrics.
func (c *ConntabCollector) UpdateOnce(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	rows, malformed, err := c.source.Entries()
	if err != nil {
		c.up.Set(0)
		return err
	}

	byState := map[string]int{}
	for _, e := range rows {
		byState[e.State.String()]++
	}

	c.entries.Reset()
	for state, n := range byState {
		c.entries.WithLabelValues(state).Set(float64(n))
	}
	c.total.Set(float64(len(rows)))
	c.malformed.Set(float64(malformed))
	c.up.Set(1)
	return nil
}
