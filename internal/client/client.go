package client

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"aqueue/internal/chaos"
	"aqueue/internal/logger"
	"aqueue/internal/metrics"
	"aqueue/internal/worker"
)

// ErrAlreadyRunning は実行中の Client を再度 Run したときに返される
var ErrAlreadyRunning = errors.New("client already running")

// Config はClientの設定
type Config struct {
	Submitters       int           // 投入ゴルーチン数（0でCPU数）
	JobsPerSubmitter int           // 1投入者あたりのジョブ数（0で無制限）
	JobDuration      time.Duration // 各ジョブの実行時間
	Interval         time.Duration // 投入間隔
	DrainTimeout     time.Duration // 投入後にプールが空くまで待つ上限
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Submitters:       0, // CPU数
		JobsPerSubmitter: 100,
		JobDuration:      time.Millisecond,
		Interval:         0,
		DrainTimeout:     10 * time.Second,
	}
}

// Result は負荷生成の結果
type Result struct {
	Submitters      int              `json:"submitters"`
	Submitted       uint64           `json:"submitted"`
	Rejected        uint64           `json:"rejected"`
	Executed        uint64           `json:"executed"`
	Duplicates      uint64           `json:"duplicates"`
	Missing         uint64           `json:"missing"`
	OrderViolations uint64           `json:"order_violations"`
	Elapsed         time.Duration    `json:"elapsed"`
	Metrics         metrics.Snapshot `json:"metrics"`
}

// Client は複数の投入者からプールにジョブを流し込む負荷生成器
type Client struct {
	config   Config
	pool     *worker.Pool
	injector *chaos.Injector
	metrics  *metrics.Metrics

	running   atomic.Bool
	submitted atomic.Uint64
	rejected  atomic.Uint64

	mu       sync.Mutex
	executed map[int][]int // 投入者ごとの実行順のシーケンス番号
}

// New は新しいClientを作成する
func New(pool *worker.Pool, config Config) *Client {
	if config.Submitters <= 0 {
		config.Submitters = runtime.NumCPU()
	}
	return &Client{
		config:   config,
		pool:     pool,
		metrics:  metrics.New(),
		executed: make(map[int][]int),
	}
}

// SetInjector は障害注入器を設定する
func (c *Client) SetInjector(injector *chaos.Injector) {
	c.injector = injector
}

// Run は全投入者が投入を終えるか ctx が終わるまで負荷を生成し、プールが空くのを待つ
func (c *Client) Run(ctx context.Context) (*Result, error) {
	if c.running.Swap(true) {
		return nil, ErrAlreadyRunning
	}
	defer c.running.Store(false)

	start := time.Now()
	logger.Info("client", "Client started (submitters: %d, jobs per submitter: %d)",
		c.config.Submitters, c.config.JobsPerSubmitter)

	g, gctx := errgroup.WithContext(ctx)
	for s := range c.config.Submitters {
		g.Go(func() error {
			return c.submitLoop(gctx, s)
		})
	}
	err := g.Wait()

	if drainErr := c.drain(); drainErr != nil {
		err = errors.Join(err, drainErr)
	}

	result := c.result(time.Since(start))
	logger.Info("client", "Client finished (submitted: %d, executed: %d, rejected: %d)",
		result.Submitted, result.Executed, result.Rejected)
	return result, err
}

// RunFor は指定時間だけ負荷を生成する
func (c *Client) RunFor(ctx context.Context, duration time.Duration) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()
	return c.Run(ctx)
}

// submitLoop は1投入者の投入ループ
func (c *Client) submitLoop(ctx context.Context, submitter int) error {
	var ticker *time.Ticker
	if c.config.Interval > 0 {
		ticker = time.NewTicker(c.config.Interval)
		defer ticker.Stop()
	}

	limit := c.config.JobsPerSubmitter
	for seq := 0; limit == 0 || seq < limit; seq++ {
		if ticker != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		} else if ctx.Err() != nil {
			return nil
		}

		err := c.pool.AddJob(c.createJob(submitter, seq))
		switch {
		case err == nil:
			c.submitted.Add(1)
		case errors.Is(err, worker.ErrQueueFull):
			c.rejected.Add(1)
			c.metrics.RecordRejection()
		case errors.Is(err, worker.ErrPoolShutDown):
			c.rejected.Add(1)
			c.metrics.RecordRejection()
			logger.Warn("client", "submitter %d stopped: %v", submitter, err)
			return nil
		default:
			return fmt.Errorf("submitter %d: %w", submitter, err)
		}
	}
	return nil
}

// createJob は実行順を記録するジョブを作成する
// 障害注入は記録の内側に掛けるので、失敗したジョブも実行済みとして数えられる
func (c *Client) createJob(submitter, seq int) worker.Job {
	var inner worker.Job = worker.Func(func() {
		if c.config.JobDuration > 0 {
			time.Sleep(c.config.JobDuration)
		}
	})
	if c.injector != nil {
		inner = c.injector.Wrap(inner)
	}

	return worker.JobFunc(func() (err error) {
		c.record(submitter, seq)

		start := time.Now()
		panicked := true
		defer func() {
			latency := time.Since(start)
			switch {
			case panicked:
				c.metrics.RecordPanic(latency)
			case err != nil:
				c.metrics.RecordFailure(latency)
			default:
				c.metrics.RecordSuccess(latency)
			}
		}()

		err = inner.Execute()
		panicked = false
		return err
	})
}

func (c *Client) record(submitter, seq int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.executed[submitter] = append(c.executed[submitter], seq)
}

// drain はプールに残ったジョブの完了を待つ
func (c *Client) drain() error {
	timeout := c.config.DrainTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().DrainTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := c.pool.WaitIdle(ctx); err != nil {
		return fmt.Errorf("pool did not drain (%d jobs active): %w", c.pool.ActiveJobs(), err)
	}
	return nil
}

// result は記録した実行順から結果を集計する
func (c *Client) result(elapsed time.Duration) *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := &Result{
		Submitters: c.config.Submitters,
		Submitted:  c.submitted.Load(),
		Rejected:   c.rejected.Load(),
		Elapsed:    elapsed,
		Metrics:    c.metrics.Snapshot(),
	}

	var unique uint64
	for _, seqs := range c.executed {
		seen := make(map[int]struct{}, len(seqs))
		for i, seq := range seqs {
			r.Executed++
			if _, dup := seen[seq]; dup {
				r.Duplicates++
			} else {
				seen[seq] = struct{}{}
				unique++
			}
			if i > 0 && seq < seqs[i-1] {
				r.OrderViolations++
			}
		}
	}
	if r.Submitted > unique {
		r.Missing = r.Submitted - unique
	}
	return r
}

// Executed は投入者ごとの実行順のコピーを返す
func (c *Client) Executed(submitter int) []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.executed[submitter]...)
}

// Metrics はメトリクスを返す
func (c *Client) Metrics() *metrics.Metrics {
	return c.metrics
}

// IsRunning は実行中かどうかを返す
func (c *Client) IsRunning() bool {
	return c.running.Load()
}
