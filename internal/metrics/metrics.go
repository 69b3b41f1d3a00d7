// Package metrics describes the last hook run for the node_exporter
// textfile collector.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "yk_acme_hook"

// Recorder collects the outcome of one hook operation.
type Recorder struct {
	registry   *prometheus.Registry
	timestamp  *prometheus.GaugeVec
	success    *prometheus.GaugeVec
	duration   *prometheus.GaugeVec
	challenges *prometheus.GaugeVec
}

// NewRecorder returns a Recorder backed by its own registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		timestamp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the operation last finished.",
		}, []string{"operation"}),
		success: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_success",
			Help:      "1 if the last run of the operation succeeded, 0 otherwise.",
		}, []string{"operation"}),
		duration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_duration_seconds",
			Help:      "Wall time of the last run of the operation.",
		}, []string{"operation"}),
		challenges: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_challenges",
			Help:      "Challenges handled by the last run of the operation.",
		}, []string{"operation"}),
	}
	r.registry.MustRegister(r.timestamp, r.success, r.duration, r.challenges)
	return r
}

// Observe records one finished operation.
func (r *Recorder) Observe(operation string, challenges int, start time.Time, err error) {
	end := time.Now()
	ok := 0.0
	if err == nil {
		ok = 1
	}
	r.timestamp.WithLabelValues(operation).Set(float64(end.Unix()))
	r.success.WithLabelValues(operation).Set(ok)
	r.duration.WithLabelValues(operation).Set(end.Sub(start).Seconds())
	r.challenges.WithLabelValues(operation).Set(float64(challenges))
}

// WriteTextfile atomically writes the collected metrics for operation to
// dir/yk_acme_hook_<operation>.prom and returns the path.
func (r *Recorder) WriteTextfile(dir, operation string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("metrics: create %s: %w", dir, err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.prom", namespace, operation))
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return "", fmt.Errorf("metrics: write %s: %w", path, err)
	}
	return path, nil
}
