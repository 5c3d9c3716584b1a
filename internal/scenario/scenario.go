package scenario

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"aqueue/internal/chaos"
	"aqueue/internal/client"
	"aqueue/internal/events"
	"aqueue/internal/logger"
	"aqueue/internal/watchdog"
	"aqueue/internal/worker"
)

// ErrAlreadyRunning は実行中の Engine を再度 Run したときに返される
var ErrAlreadyRunning = errors.New("scenario is already running")

// Kind はシナリオの種類
type Kind string

const (
	KindCompletion Kind = "completion" // ジョブの完了通知を待つ
	KindPolling    Kind = "polling"    // ActiveJobs が 0 になるまで監視する
	KindReport     Kind = "report"     // 実行環境とプールの情報を収集する
	KindLoad       Kind = "load"       // 複数投入者による負荷と障害注入
)

// Config はシナリオの設定
type Config struct {
	Name        string        // シナリオ名
	Description string        // 説明
	Kind        Kind          // シナリオの種類
	Workers     int           // プールのワーカー数（0でCPU数）
	Jobs        int           // ジョブ数（load では投入者あたり）
	JobDuration time.Duration // 各ジョブの実行時間
	Timeout     time.Duration // 完了待ちの上限

	PollInterval time.Duration // polling の監視間隔

	// 負荷生成設定
	Submitters int           // 投入ゴルーチン数
	Duration   time.Duration // 投入を続ける時間（0で Jobs 件ずつ）
	Interval   time.Duration // 投入間隔

	// 障害注入設定
	EnableFaults     bool
	FaultProbability float64
	FaultTypes       []chaos.FaultType

	// 監視設定
	EnableWatchdog bool
	StallAfter     time.Duration
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Name:         "default",
		Description:  "Default scenario",
		Kind:         KindCompletion,
		Workers:      2,
		Jobs:         1,
		JobDuration:  500 * time.Millisecond,
		Timeout:      5 * time.Second,
		PollInterval: time.Second,
		Submitters:   1,
		StallAfter:   5 * time.Second,
	}
}

// Environment は実行環境の情報
type Environment struct {
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	NumCPU    int    `json:"num_cpu"`
}

// Result はシナリオ実行結果
type Result struct {
	ScenarioName string        `json:"scenario"`
	Kind         Kind          `json:"kind"`
	StartTime    time.Time     `json:"start_time"`
	EndTime      time.Time     `json:"end_time"`
	Duration     time.Duration `json:"duration"`
	Passed       bool          `json:"passed"`
	Issues       []string      `json:"issues,omitempty"`

	// プール
	PoolSize           int    `json:"pool_size"`
	CPUCount           int    `json:"cpu_count"`
	Oversized          bool   `json:"oversized"`
	InitialActiveJobs  int    `json:"initial_active_jobs"`
	FinalActiveJobs    int    `json:"final_active_jobs"`
	FinalActiveWorkers int    `json:"final_active_workers"`
	FinalState         string `json:"final_state"`
	StopError          string `json:"stop_error,omitempty"`

	// ジョブ
	JobsSubmitted int           `json:"jobs_submitted"`
	JobsCompleted uint64        `json:"jobs_completed"`
	FailedJobs    uint64        `json:"failed_jobs"`
	PanickedJobs  uint64        `json:"panicked_jobs"`
	AvgLatency    time.Duration `json:"avg_latency"`
	P99Latency    time.Duration `json:"p99_latency"`

	// polling
	Polls []int `json:"polls,omitempty"`

	// report
	Environment *Environment `json:"environment,omitempty"`

	// load
	Load          *client.Result `json:"load,omitempty"`
	FaultStats    *chaos.Stats   `json:"faults,omitempty"`
	WatchdogStats *watchdog.Stats `json:"watchdog,omitempty"`
}

func (r *Result) fail(format string, args ...any) {
	r.Issues = append(r.Issues, fmt.Sprintf(format, args...))
}

// Engine はシナリオ実行エンジン
type Engine struct {
	config   Config
	eventBus *events.Bus

	mu      sync.RWMutex
	running bool
	pool    *worker.Pool
}

// New は新しいEngineを作成する
func New(config Config) *Engine {
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	return &Engine{
		config: config,
	}
}

// SetEventBus はイベントバスを設定する
func (e *Engine) SetEventBus(bus *events.Bus) {
	e.eventBus = bus
}

// Config はシナリオ設定を返す
func (e *Engine) Config() Config {
	return e.config
}

// Run はシナリオを実行する
// プールはシナリオごとに作成され、どの経路で抜けても停止される
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	e.running = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.pool = nil
		e.mu.Unlock()
	}()

	logger.Info("scenario", "=== Scenario '%s' started ===", e.config.Name)
	logger.Info("scenario", "Description: %s", e.config.Description)

	result := &Result{
		ScenarioName: e.config.Name,
		Kind:         e.config.Kind,
		StartTime:    time.Now(),
	}

	poolConfig := worker.DefaultPoolConfig()
	poolConfig.Name = e.config.Name
	poolConfig.MaxWorkers = e.config.Workers
	poolConfig.Events = e.eventBus
	poolConfig.ShutdownTimeout = e.config.Timeout

	pool, err := worker.New(poolConfig)
	if err != nil {
		return nil, fmt.Errorf("setup failed: %w", err)
	}
	guard := pool.Guard()
	defer func() { _ = guard.Release() }()

	e.mu.Lock()
	e.pool = pool
	e.mu.Unlock()

	result.PoolSize = pool.PoolSize()
	result.CPUCount = pool.CPUCount()
	result.Oversized = pool.Oversized()

	var runErr error
	switch e.config.Kind {
	case KindCompletion, "":
		runErr = e.runCompletion(ctx, pool, result)
	case KindPolling:
		runErr = e.runPolling(ctx, pool, result)
	case KindReport:
		e.runReport(pool, result)
	case KindLoad:
		runErr = e.runLoad(ctx, pool, result)
	default:
		runErr = fmt.Errorf("unknown scenario kind: %s", e.config.Kind)
	}

	if stopErr := guard.Release(); stopErr != nil {
		result.StopError = stopErr.Error()
		result.fail("pool did not stop cleanly: %v", stopErr)
	}
	e.collectResults(pool, result)

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	result.Passed = runErr == nil && len(result.Issues) == 0

	logger.Info("scenario", "=== Scenario '%s' completed (passed: %v) ===", e.config.Name, result.Passed)

	return result, runErr
}

// runCompletion は各ジョブの完了コールバックを数え、全件完了か期限切れまで待つ
func (e *Engine) runCompletion(ctx context.Context, pool *worker.Pool, result *Result) error {
	jobs := max(e.config.Jobs, 1)

	var completed atomic.Int32
	allDone := make(chan struct{})
	var once sync.Once

	for i := range jobs {
		err := pool.Submit(func() {
			time.Sleep(e.config.JobDuration)
			if n := completed.Add(1); int(n) >= jobs {
				once.Do(func() { close(allDone) })
			}
		})
		if err != nil {
			return fmt.Errorf("failed to add job %d: %w", i+1, err)
		}
		result.JobsSubmitted++
	}
	result.InitialActiveJobs = pool.ActiveJobs()
	logger.Info("scenario", "Added %d jobs, active jobs: %d", jobs, result.InitialActiveJobs)

	select {
	case <-allDone:
		logger.Info("scenario", "All jobs completed")
	case <-time.After(e.config.Timeout):
		result.fail("only %d/%d jobs completed within %v", completed.Load(), jobs, e.config.Timeout)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	// 完了通知はジョブの終了直前に届くため、カウンタが戻るのを少し待つ
	idleCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := pool.WaitIdle(idleCtx); err != nil {
		result.fail("active jobs did not return to 0 after completion: %d", pool.ActiveJobs())
	}
	return nil
}

// runPolling は ActiveJobs を一定間隔で読み、0 になるか期限切れまで監視する
func (e *Engine) runPolling(ctx context.Context, pool *worker.Pool, result *Result) error {
	jobs := max(e.config.Jobs, 1)

	for i := range jobs {
		id := i + 1
		err := pool.Submit(func() {
			if e.config.JobDuration > 0 {
				time.Sleep(e.config.JobDuration)
			}
			sum := 0
			for n := range 1000 {
				sum += n
			}
			logger.Debug("scenario", "Job %d finished with result: %d", id, sum)
		})
		if err != nil {
			return fmt.Errorf("failed to add job %d: %w", id, err)
		}
		result.JobsSubmitted++
	}
	result.InitialActiveJobs = pool.ActiveJobs()

	interval := e.config.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	deadline := time.After(e.config.Timeout)

	for {
		active := pool.ActiveJobs()
		result.Polls = append(result.Polls, active)
		logger.Info("scenario", "Active jobs: %d", active)
		if active == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			result.fail("active jobs still %d after %v", pool.ActiveJobs(), e.config.Timeout)
			return nil
		case <-ticker.C:
		}
	}
}

// runReport は実行環境とプールの状態を収集する
func (e *Engine) runReport(pool *worker.Pool, result *Result) {
	result.Environment = &Environment{
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		NumCPU:    runtime.NumCPU(),
	}
	result.InitialActiveJobs = pool.ActiveJobs()

	if !pool.Running() {
		result.fail("pool is not running after construction")
	}
	if e.config.Workers > 0 && pool.PoolSize() != e.config.Workers {
		result.fail("pool size %d, expected %d", pool.PoolSize(), e.config.Workers)
	}
	if pool.ActiveWorkers() != 0 {
		result.fail("fresh pool reports %d active workers", pool.ActiveWorkers())
	}
}

// runLoad は負荷生成器で投入し、障害注入と停滞検出を組み合わせる
func (e *Engine) runLoad(ctx context.Context, pool *worker.Pool, result *Result) error {
	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	clientConfig := client.DefaultConfig()
	clientConfig.Submitters = e.config.Submitters
	clientConfig.JobsPerSubmitter = e.config.Jobs
	clientConfig.JobDuration = e.config.JobDuration
	clientConfig.Interval = e.config.Interval
	clientConfig.DrainTimeout = e.config.Timeout
	if e.config.Duration > 0 {
		clientConfig.JobsPerSubmitter = 0
	}
	cl := client.New(pool, clientConfig)

	var injector *chaos.Injector
	if e.config.EnableFaults {
		chaosConfig := chaos.DefaultConfig()
		chaosConfig.Probability = e.config.FaultProbability
		if len(e.config.FaultTypes) > 0 {
			chaosConfig.FaultTypes = e.config.FaultTypes
		}
		injector = chaos.New(chaosConfig)
		injector.SetEventBus(e.eventBus)
		cl.SetInjector(injector)
	}

	var wd *watchdog.Watchdog
	if e.config.EnableWatchdog {
		wdConfig := watchdog.DefaultConfig()
		wdConfig.StallAfter = e.config.StallAfter
		wdConfig.CheckInterval = max(e.config.StallAfter/4, 10*time.Millisecond)
		wd = watchdog.New(pool, wdConfig)
		wd.SetEventBus(e.eventBus)
		wd.Start(ctx)
		defer wd.Stop()
	}

	var (
		res *client.Result
		err error
	)
	if e.config.Duration > 0 {
		res, err = cl.RunFor(ctx, e.config.Duration)
	} else {
		res, err = cl.Run(ctx)
	}
	if res == nil {
		return err
	}
	result.Load = res
	result.JobsSubmitted = int(res.Submitted)
	result.InitialActiveJobs = pool.ActiveJobs()

	if err != nil {
		result.fail("load generator: %v", err)
	}
	if res.Duplicates > 0 {
		result.fail("%d jobs ran more than once", res.Duplicates)
	}
	if res.Missing > 0 {
		result.fail("%d submitted jobs never ran", res.Missing)
	}
	if pool.ActiveWorkers() != 0 {
		result.fail("%d workers still active after drain", pool.ActiveWorkers())
	}

	if injector != nil {
		stats := injector.Stats()
		result.FaultStats = &stats
		want := injector.FiredOf(chaos.FaultError) + injector.FiredOf(chaos.FaultPanic)
		if got := pool.Metrics().FailedJobs(); got != want {
			result.fail("pool recorded %d failed jobs, injected %d", got, want)
		}
	}
	if wd != nil {
		stats := wd.Stats()
		result.WatchdogStats = &stats
		if stats.Stalls > 0 {
			result.fail("watchdog detected %d stalls", stats.Stalls)
		}
	}
	return nil
}

// collectResults はプールから結果を収集する
func (e *Engine) collectResults(pool *worker.Pool, result *Result) {
	m := pool.Metrics()
	result.JobsCompleted = m.TotalJobs()
	result.FailedJobs = m.FailedJobs()
	result.PanickedJobs = m.PanickedJobs()
	result.AvgLatency = m.AverageLatency()
	result.P99Latency = m.P99Latency()

	result.FinalActiveJobs = pool.ActiveJobs()
	result.FinalActiveWorkers = pool.ActiveWorkers()
	result.FinalState = pool.State().String()
}

// Report は結果をフォーマットして返す
func (r *Result) Report() string {
	status := "PASSED"
	if !r.Passed {
		status = "FAILED"
	}

	var b strings.Builder
	fmt.Fprintf(&b, `
================================================================================
                         SCENARIO REPORT: %s
================================================================================

EXECUTION SUMMARY
-----------------
  Kind:           %s
  Start Time:     %s
  End Time:       %s
  Duration:       %v
  Status:         %s

POOL
----
  Pool Size:            %d
  CPU Count:            %d
  Oversized:            %v
  Initial Active Jobs:  %d
  Final Active Jobs:    %d
  Final Active Workers: %d
  Final State:          %s

JOBS
----
  Submitted:        %d
  Completed:        %d
  Failed:           %d
  Panicked:         %d
  Avg Latency:      %v
  P99 Latency:      %v
`,
		r.ScenarioName,
		r.Kind,
		r.StartTime.Format("2006-01-02 15:04:05"),
		r.EndTime.Format("2006-01-02 15:04:05"),
		r.Duration.Round(time.Millisecond),
		status,
		r.PoolSize,
		r.CPUCount,
		r.Oversized,
		r.InitialActiveJobs,
		r.FinalActiveJobs,
		r.FinalActiveWorkers,
		r.FinalState,
		r.JobsSubmitted,
		r.JobsCompleted,
		r.FailedJobs,
		r.PanickedJobs,
		r.AvgLatency.Round(time.Microsecond),
		r.P99Latency.Round(time.Microsecond),
	)

	if r.Environment != nil {
		fmt.Fprintf(&b, `
ENVIRONMENT
-----------
  Go Version:       %s
  OS:               %s/%s
  CPUs:             %d
`, r.Environment.GoVersion, r.Environment.OS, r.Environment.Arch, r.Environment.NumCPU)
	}

	if len(r.Polls) > 0 {
		polls := make([]string, len(r.Polls))
		for i, p := range r.Polls {
			polls[i] = fmt.Sprint(p)
		}
		fmt.Fprintf(&b, "\nPOLLING\n-------\n  Active Jobs:      %s\n", strings.Join(polls, " -> "))
	}

	if r.Load != nil {
		fmt.Fprintf(&b, `
LOAD
----
  Submitters:       %d
  Submitted:        %d
  Rejected:         %d
  Executed:         %d
  Duplicates:       %d
  Missing:          %d
`, r.Load.Submitters, r.Load.Submitted, r.Load.Rejected, r.Load.Executed, r.Load.Duplicates, r.Load.Missing)
	}

	if r.FaultStats != nil {
		fmt.Fprintf(&b, "\nFAULT INJECTION\n---------------\n  Total Faults:     %d\n", r.FaultStats.TotalFaults)
		for _, t := range []chaos.FaultType{chaos.FaultError, chaos.FaultPanic, chaos.FaultDelay} {
			fmt.Fprintf(&b, "  %-17s %d\n", t.String()+":", r.FaultStats.ByType[t.String()])
		}
	}

	if r.WatchdogStats != nil {
		fmt.Fprintf(&b, "\nWATCHDOG\n--------\n  Checks:           %d\n  Stalls:           %d\n",
			r.WatchdogStats.Checks, r.WatchdogStats.Stalls)
	}

	if r.StopError != "" {
		fmt.Fprintf(&b, "\nSTOP ERROR\n----------\n  %s\n", r.StopError)
	}

	if len(r.Issues) > 0 {
		b.WriteString("\nISSUES\n------\n")
		for _, issue := range r.Issues {
			fmt.Fprintf(&b, "  - %s\n", issue)
		}
	}

	b.WriteString("\n================================================================================")
	return b.String()
}

// IsRunning は実行中かどうかを返す
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Pool は実行中のシナリオのプールを返す（実行中でなければ nil）
func (e *Engine) Pool() *worker.Pool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pool
}
