package report

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsTextfile writes the gathered engine metrics in Prometheus text
// format, as consumed by a node exporter textfile collector.
type MetricsTextfile struct {
	Path     string
	Gatherer prometheus.Gatherer
}

// Name implements Sink.
func (m MetricsTextfile) Name() string { return "metrics" }

// Write implements Sink.
func (m MetricsTextfile) Write(_ context.Context, _ Run, _ []Row) error {
	return prometheus.WriteToTextfile(m.Path, m.Gatherer)
}
