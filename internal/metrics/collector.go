package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "aqueue"

// PoolSource はCollectorが読み出すプールの診断値
type PoolSource interface {
	Name() string
	PoolSize() int
	ActiveJobs() int
	ActiveWorkers() int
	QueueLen() int
	Running() bool
	Metrics() *Metrics
}

// Collector はプールの状態を Prometheus に公開する
// スクレイプ時に値を読むだけで、プールには何も書き込まない
type Collector struct {
	source PoolSource

	poolSize      *prometheus.Desc
	activeJobs    *prometheus.Desc
	activeWorkers *prometheus.Desc
	queueLength   *prometheus.Desc
	running       *prometheus.Desc
	completed     *prometheus.Desc
	rejected      *prometheus.Desc
	avgLatency    *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector は新しいCollectorを作成する
func NewCollector(source PoolSource) *Collector {
	labels := prometheus.Labels{"pool": source.Name()}
	desc := func(subsystem, name, help string, variable ...string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, name),
			help, variable, labels,
		)
	}

	return &Collector{
		source:        source,
		poolSize:      desc("pool", "size", "Configured number of workers."),
		activeJobs:    desc("pool", "active_jobs", "Jobs submitted but not yet finished (queued plus executing)."),
		activeWorkers: desc("pool", "active_workers", "Workers currently executing a job."),
		queueLength:   desc("pool", "queue_length", "Jobs waiting in the queue."),
		running:       desc("pool", "running", "1 if the pool accepts jobs, 0 otherwise."),
		completed:     desc("jobs", "completed_total", "Jobs finished, by outcome.", "outcome"),
		rejected:      desc("jobs", "rejected_total", "Jobs rejected at submission."),
		avgLatency:    desc("jobs", "average_latency_seconds", "Average job execution time."),
	}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.poolSize
	ch <- c.activeJobs
	ch <- c.activeWorkers
	ch <- c.queueLength
	ch <- c.running
	ch <- c.completed
	ch <- c.rejected
	ch <- c.avgLatency
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	running := 0.0
	if c.source.Running() {
		running = 1
	}

	ch <- prometheus.MustNewConstMetric(c.poolSize, prometheus.GaugeValue, float64(c.source.PoolSize()))
	ch <- prometheus.MustNewConstMetric(c.activeJobs, prometheus.GaugeValue, float64(c.source.ActiveJobs()))
	ch <- prometheus.MustNewConstMetric(c.activeWorkers, prometheus.GaugeValue, float64(c.source.ActiveWorkers()))
	ch <- prometheus.MustNewConstMetric(c.queueLength, prometheus.GaugeValue, float64(c.source.QueueLen()))
	ch <- prometheus.MustNewConstMetric(c.running, prometheus.GaugeValue, running)

	m := c.source.Metrics()
	if m == nil {
		return
	}
	// panicked を先に読むと failed - panicked は負にならない
	succeeded := float64(m.SucceededJobs())
	panicked := float64(m.PanickedJobs())
	failed := float64(m.FailedJobs()) - panicked

	ch <- prometheus.MustNewConstMetric(c.completed, prometheus.CounterValue, succeeded, "success")
	ch <- prometheus.MustNewConstMetric(c.completed, prometheus.CounterValue, failed, "error")
	ch <- prometheus.MustNewConstMetric(c.completed, prometheus.CounterValue, panicked, "panic")
	ch <- prometheus.MustNewConstMetric(c.rejected, prometheus.CounterValue, float64(m.RejectedJobs()))
	ch <- prometheus.MustNewConstMetric(c.avgLatency, prometheus.GaugeValue, m.AverageLatency().Seconds())
}
