// Package worker provides a fixed-size goroutine pool for concurrent job execution.
//
// A Pool owns a fixed number of Workers that take jobs from one shared FIFO
// queue. Construction starts the workers; there is no separate Start step.
//
// # Basic Usage
//
//	pool, err := worker.NewPool(4) // 4 workers; NewAutoPool sizes to the CPU count
//	if err != nil {
//	    return err
//	}
//	defer pool.Guard().Release()
//
//	for i := 0; i < 100; i++ {
//	    if err := pool.Submit(func() {
//	        // do work
//	    }); err != nil {
//	        return err
//	    }
//	}
//
// # Outcomes
//
// Jobs implement Job (or use JobFunc / Func). A job that returns an error or
// panics never takes its worker down; the failure is wrapped in a *JobError
// and delivered as an Outcome to PoolConfig.OutcomeHandler, the pool's
// Metrics, the log, and the optional events.Bus.
//
// # Diagnostics
//
// ActiveJobs counts jobs submitted but not finished (queued plus executing).
// ActiveWorkers counts workers currently executing a job. Both are atomic
// counters and can be read from any goroutine without blocking.
//
// # Graceful Shutdown
//
// Stop refuses new submissions, lets queued and in-flight jobs finish, and
// waits for every worker to exit. It is idempotent. With
// PoolConfig.ShutdownTimeout or StopContext a join that does not complete in
// time returns ErrJoinTimeout and the pool stays in StateShuttingDown.
//
//	err := worker.WithPool(config, func(p *worker.Pool) error {
//	    return p.SubmitFunc(work)
//	}) // the pool is stopped on every exit path
package worker
