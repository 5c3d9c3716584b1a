// Package metrics provides job execution metrics and their Prometheus export.
//
// Metrics collects statistics about job latency, success/failure/panic
// counts, rejections and throughput. It is thread-safe and intended to be
// written from every worker of a pool concurrently.
//
// # Basic Usage
//
//	m := metrics.New()
//
//	start := time.Now()
//	err := job.Execute()
//	if err != nil {
//	    m.RecordFailure(time.Since(start))
//	} else {
//	    m.RecordSuccess(time.Since(start))
//	}
//
//	snap := m.Snapshot()
//	fmt.Printf("Jobs: %d, P99: %v\n", snap.TotalJobs, snap.P99Latency)
//
// # Prometheus
//
// Collector exposes a pool's live counters (size, active jobs, active
// workers, queue length, running) together with the Metrics totals:
//
//	reg := prometheus.NewRegistry()
//	reg.MustRegister(metrics.NewCollector(pool))
//
// # Thread Safety
//
// Counters are atomics; latency samples are guarded by an RWMutex.
package metrics
