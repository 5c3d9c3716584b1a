// Package client provides a load generator for stress testing a worker pool.
//
// The Client runs a number of submitter goroutines that push jobs into one
// shared pool. Every job records its submitter and sequence number when a
// worker runs it, so a run can be checked for exactly-once execution and,
// on a single-worker pool, for per-submitter FIFO order.
//
// # Basic Usage
//
//	pool, _ := worker.NewPool(4)
//	defer pool.Guard().Release()
//
//	config := client.DefaultConfig()
//	config.Submitters = 8
//	cl := client.New(pool, config)
//
//	// Submit a fixed number of jobs per submitter
//	res, err := cl.Run(ctx)
//	fmt.Printf("Executed: %d, Missing: %d\n", res.Executed, res.Missing)
//
//	// Or keep submitting for a duration
//	res, err = cl.RunFor(ctx, 10*time.Second)
//
// # Configuration
//
// The Config struct allows tuning:
//   - Submitters: concurrent submitter goroutines (0 = CPU count)
//   - JobsPerSubmitter: jobs per submitter (0 = unlimited, use RunFor)
//   - JobDuration: how long each job sleeps
//   - Interval: pause between submissions
//   - DrainTimeout: how long Run waits for the pool to go idle
//
// SetInjector wraps every job with a chaos.Injector. Faulted jobs still
// count as executed.
package client
