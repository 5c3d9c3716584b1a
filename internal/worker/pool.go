package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"aqueue/internal/events"
	"aqueue/internal/logger"
	"aqueue/internal/metrics"
	"aqueue/internal/queue"
)

// State はプールのライフサイクル状態
type State int32

const (
	StateRunning State = iota
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// PoolConfig はワーカープールの設定
type PoolConfig struct {
	Name            string           // ログ・イベント・メトリクスのラベル
	MaxWorkers      int              // ワーカー数（AutoWorkers でCPU数）
	QueueCapacity   int              // キュー容量（0で無制限）
	ShutdownTimeout time.Duration    // Stop の待機上限（0で無期限）
	OutcomeHandler  func(Outcome)    // ジョブ完了ごとに呼ばれる
	Logger          *logger.Logger   // nil なら logger.Default
	Events          *events.Bus      // nil ならイベントを発行しない
	Metrics         *metrics.Metrics // nil なら新規作成
	CPUCount        func() int       // nil なら DetectCPUCount
}

// DefaultPoolConfig はデフォルト設定を返す
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Name:       "pool",
		MaxWorkers: AutoWorkers,
	}
}

// Pool は固定数のワーカーと1本のジョブキューを管理する
type Pool struct {
	name            string
	size            int
	cpuCount        int
	oversized       bool
	shutdownTimeout time.Duration

	queue   *queue.JobQueue[*task]
	workers []*Worker
	wg      sync.WaitGroup

	state   atomic.Int32
	pending atomic.Int64 // 投入済みで未完了のジョブ（待機中＋実行中）
	active  atomic.Int32 // 実行中のワーカー

	stopOnce sync.Once
	stopErr  error
	done     chan struct{}

	handler func(Outcome)
	log     *logger.Logger
	bus     *events.Bus
	metrics *metrics.Metrics
	started time.Time
}

var _ metrics.PoolSource = (*Pool)(nil)

// AutoWorkers は PoolConfig.MaxWorkers に指定すると CPU 数で自動決定する
const AutoWorkers = 0

// NewPool は maxWorkers 個のワーカーを持つプールを作成して起動する
// maxWorkers は1以上。CPU数で決める場合は NewAutoPool を使う
func NewPool(maxWorkers int) (*Pool, error) {
	if maxWorkers <= 0 {
		return nil, fmt.Errorf("%w: pool size must be greater than 0, got %d", ErrInvalidPoolSize, maxWorkers)
	}
	config := DefaultPoolConfig()
	config.MaxWorkers = maxWorkers
	return New(config)
}

// NewAutoPool は CPU 数のワーカーを持つプールを作成して起動する
func NewAutoPool() (*Pool, error) {
	return New(DefaultPoolConfig())
}

// New は設定を指定してプールを作成して起動する
func New(config PoolConfig) (*Pool, error) {
	if config.MaxWorkers < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPoolSize, config.MaxWorkers)
	}

	detect := config.CPUCount
	if detect == nil {
		detect = DetectCPUCount
	}
	cpuCount := max(detect(), 1)

	size := config.MaxWorkers
	if size == 0 {
		size = cpuCount
	}

	name := config.Name
	if name == "" {
		name = "pool"
	}
	log := config.Logger
	if log == nil {
		log = logger.Default
	}
	m := config.Metrics
	if m == nil {
		m = metrics.New()
	}

	p := &Pool{
		name:            name,
		size:            size,
		cpuCount:        cpuCount,
		shutdownTimeout: config.ShutdownTimeout,
		queue:           queue.New[*task](config.QueueCapacity),
		workers:         make([]*Worker, size),
		done:            make(chan struct{}),
		handler:         config.OutcomeHandler,
		log:             log,
		bus:             config.Events,
		metrics:         m,
		started:         time.Now(),
	}
	p.state.Store(int32(StateRunning))

	if recommended := recommendedMaxWorkers(cpuCount); size > recommended {
		p.oversized = true
		p.log.Warn(name, "%d workers exceeds the recommended maximum of %d for %d CPUs", size, recommended, cpuCount)
		p.publish(events.NewPoolOversizedEvent(name, size, cpuCount))
	}

	for i := range size {
		w := newWorker(i, p)
		p.workers[i] = w
		p.wg.Add(1)
		go w.run()
	}

	p.log.Info(name, "pool started with %d workers", size)
	p.publish(events.NewPoolStartedEvent(name, size))
	return p, nil
}

// AddJob はジョブをキューに投入する
// 実行結果は OutcomeHandler に渡される
func (p *Pool) AddJob(job Job) error {
	_, err := p.SubmitJob(job)
	return err
}

// SubmitJob はジョブを投入し、採番されたジョブIDを返す
func (p *Pool) SubmitJob(job Job) (string, error) {
	if job == nil {
		return "", ErrNilJob
	}
	if p.State() != StateRunning {
		p.metrics.RecordRejection()
		return "", ErrPoolShutDown
	}

	t := newTask(job)

	// キューに入る前に加算し、ワーカー側の減算が先行しないようにする
	p.pending.Add(1)
	if err := p.queue.Enqueue(t); err != nil {
		p.pending.Add(-1)
		p.metrics.RecordRejection()
		if errors.Is(err, queue.ErrQueueClosed) {
			return "", ErrPoolShutDown
		}
		return "", err
	}
	return t.id, nil
}

// Submit は戻り値のない関数をジョブとして投入する
func (p *Pool) Submit(fn func()) error {
	if fn == nil {
		return ErrNilJob
	}
	return p.AddJob(Func(fn))
}

// SubmitFunc はエラーを返す関数をジョブとして投入する
func (p *Pool) SubmitFunc(fn func() error) error {
	if fn == nil {
		return ErrNilJob
	}
	return p.AddJob(JobFunc(fn))
}

// Stop はプールを停止する
// 新規投入を拒否し、キューに残ったジョブを処理し終えたワーカーを待つ
// 何度呼んでも最初の呼び出しと同じ結果を返す
func (p *Pool) Stop() error {
	ctx := context.Background()
	if p.shutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.shutdownTimeout)
		defer cancel()
	}
	return p.StopContext(ctx)
}

// StopContext は ctx が終わるまでワーカーの終了を待つ Stop
// 待ちきれなかった場合でも、後でワーカーが全て終了していれば以降の呼び出しは nil を返す
func (p *Pool) StopContext(ctx context.Context) error {
	p.stopOnce.Do(func() {
		p.state.Store(int32(StateShuttingDown))

		pending := p.ActiveJobs()
		p.log.Info(p.name, "stopping pool (%d jobs pending)", pending)
		p.publish(events.NewPoolStoppingEvent(p.name, pending))

		p.queue.Close()

		go func() {
			p.wg.Wait()
			p.state.Store(int32(StateStopped))
			close(p.done)
		}()

		select {
		case <-p.done:
		case <-ctx.Done():
			select {
			case <-p.done:
			default:
				p.stopErr = fmt.Errorf("%w: %w", ErrJoinTimeout, ctx.Err())
			}
		}

		if p.stopErr != nil {
			p.log.Error(p.name, "pool did not stop cleanly: %v", p.stopErr)
		} else {
			p.log.Info(p.name, "pool stopped")
		}
		p.publish(events.NewPoolStoppedEvent(p.name, p.stopErr))
	})

	select {
	case <-p.done:
		return nil
	default:
		return p.stopErr
	}
}

// Close は Stop を呼ぶ
func (p *Pool) Close() error {
	return p.Stop()
}

// Done は全ワーカーが終了したときに閉じられるチャネルを返す
func (p *Pool) Done() <-chan struct{} {
	return p.done
}

// WaitIdle は投入済みのジョブがすべて完了するまで待つ
func (p *Pool) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for p.ActiveJobs() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// ActiveJobs は投入済みで未完了のジョブ数（待機中＋実行中）を返す
func (p *Pool) ActiveJobs() int {
	return int(p.pending.Load())
}

// ActiveWorkers はジョブを実行中のワーカー数を返す
func (p *Pool) ActiveWorkers() int {
	return int(p.active.Load())
}

// PoolSize は設定されたワーカー数を返す
func (p *Pool) PoolSize() int {
	return p.size
}

// Running はプールがジョブを受け付けているかを返す
func (p *Pool) Running() bool {
	return p.State() == StateRunning
}

// State は現在の状態を返す
func (p *Pool) State() State {
	return State(p.state.Load())
}

// QueueLen はキューで待機中のジョブ数を返す
func (p *Pool) QueueLen() int {
	return p.queue.Len()
}

// Name はプール名を返す
func (p *Pool) Name() string {
	return p.name
}

// CPUCount は構築時に検出したCPU数を返す
func (p *Pool) CPUCount() int {
	return p.cpuCount
}

// Oversized は推奨サイズを超えて構築されたかを返す
func (p *Pool) Oversized() bool {
	return p.oversized
}

// Metrics はプールのメトリクスを返す
func (p *Pool) Metrics() *metrics.Metrics {
	return p.metrics
}

// Uptime は起動からの経過時間を返す
func (p *Pool) Uptime() time.Duration {
	return time.Since(p.started)
}

// WorkerInfo はワーカーの状態
type WorkerInfo struct {
	ID        int    `json:"id"`
	Busy      bool   `json:"busy"`
	Processed uint64 `json:"processed"`
}

// Workers は全ワーカーの状態を返す
func (p *Pool) Workers() []WorkerInfo {
	infos := make([]WorkerInfo, len(p.workers))
	for i, w := range p.workers {
		infos[i] = WorkerInfo{
			ID:        w.id,
			Busy:      w.busy.Load(),
			Processed: w.processed.Load(),
		}
	}
	return infos
}

// Stats はプールの診断値のスナップショット
type Stats struct {
	Name          string           `json:"name"`
	State         string           `json:"state"`
	PoolSize      int              `json:"pool_size"`
	CPUCount      int              `json:"cpu_count"`
	Oversized     bool             `json:"oversized"`
	ActiveJobs    int              `json:"active_jobs"`
	ActiveWorkers int              `json:"active_workers"`
	QueueLen      int              `json:"queue_length"`
	Uptime        string           `json:"uptime"`
	Metrics       metrics.Snapshot `json:"metrics"`
}

// Stats は診断値をまとめて返す
// ActiveWorkers を先に読み、ActiveJobs がそれを下回らないよう揃える
func (p *Pool) Stats() Stats {
	activeWorkers := p.ActiveWorkers()
	activeJobs := max(p.ActiveJobs(), activeWorkers)
	return Stats{
		Name:          p.name,
		State:         p.State().String(),
		PoolSize:      p.size,
		CPUCount:      p.cpuCount,
		Oversized:     p.oversized,
		ActiveJobs:    activeJobs,
		ActiveWorkers: activeWorkers,
		QueueLen:      p.QueueLen(),
		Uptime:        p.Uptime().Round(time.Millisecond).String(),
		Metrics:       p.metrics.Snapshot(),
	}
}

func (p *Pool) publish(e events.Event) {
	if p.bus != nil {
		p.bus.Publish(e)
	}
}

// report は1件の実行結果をメトリクス・ログ・イベント・ハンドラに流す
func (p *Pool) report(o Outcome, log *logger.Entry) {
	switch {
	case o.Panicked:
		p.metrics.RecordPanic(o.Duration)
	case o.Err != nil:
		p.metrics.RecordFailure(o.Duration)
	default:
		p.metrics.RecordSuccess(o.Duration)
	}

	if o.Err != nil {
		cause := o.Err
		var jobErr *JobError
		if errors.As(o.Err, &jobErr) {
			cause = jobErr.Err
		}
		log.Warn("job %s failed: %v", o.JobID, cause)
		if o.Panicked {
			log.Debug("stack trace for job %s:\n%s", o.JobID, o.Stack)
		}
		p.publish(events.NewJobFailedEvent(p.name, o.JobID, o.WorkerID, cause, o.Panicked))
	}

	if p.handler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("outcome handler panicked for job %s: %v", o.JobID, r)
		}
	}()
	p.handler(o)
}
