package watchdog

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"aqueue/internal/events"
	"aqueue/internal/logger"
	"aqueue/internal/metrics"
)

// Config はWatchdogの設定
type Config struct {
	CheckInterval time.Duration // チェック間隔
	StallAfter    time.Duration // 進捗なしを停滞とみなすまでの時間
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		CheckInterval: 1 * time.Second,
		StallAfter:    5 * time.Second,
	}
}

// Target は監視対象のプール
type Target interface {
	Name() string
	ActiveJobs() int
	Metrics() *metrics.Metrics
}

// Stats は監視統計
type Stats struct {
	Checks       uint64    `json:"checks"`
	Stalls       uint64    `json:"stalls"`
	Stalled      bool      `json:"stalled"`
	LastProgress time.Time `json:"last_progress"`
}

// Watchdog は未完了ジョブがあるのに完了数が増えないプールを検出する
type Watchdog struct {
	config   Config
	target   Target
	eventBus *events.Bus

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu            sync.Mutex
	lastCompleted uint64
	lastProgress  time.Time
	stalled       bool
	stats         Stats
}

// New は新しいWatchdogを作成する
// 0以下の間隔はデフォルト値に置き換える
func New(target Target, config Config) *Watchdog {
	defaults := DefaultConfig()
	if config.CheckInterval <= 0 {
		config.CheckInterval = defaults.CheckInterval
	}
	if config.StallAfter <= 0 {
		config.StallAfter = defaults.StallAfter
	}
	return &Watchdog{
		config:       config,
		target:       target,
		lastProgress: time.Now(),
	}
}

// SetEventBus はイベントバスを設定する
func (w *Watchdog) SetEventBus(bus *events.Bus) {
	w.eventBus = bus
}

func (w *Watchdog) publishEvent(event events.Event) {
	if w.eventBus != nil {
		w.eventBus.Publish(event)
	}
}

// Start は監視を開始する
func (w *Watchdog) Start(ctx context.Context) {
	if w.running.Swap(true) {
		return
	}

	w.ctx, w.cancel = context.WithCancel(ctx)

	w.mu.Lock()
	w.lastCompleted = w.target.Metrics().TotalJobs()
	w.lastProgress = time.Now()
	w.mu.Unlock()

	w.wg.Add(1)
	go w.checkLoop()

	logger.Info("watchdog", "Watchdog started for %s (interval: %v, stall after: %v)",
		w.target.Name(), w.config.CheckInterval, w.config.StallAfter)
}

// Stop は監視を停止する
func (w *Watchdog) Stop() {
	if !w.running.Swap(false) {
		return
	}

	w.cancel()
	w.wg.Wait()

	stats := w.Stats()
	logger.Info("watchdog", "Watchdog stopped (checks: %d, stalls: %d)", stats.Checks, stats.Stalls)
}

// checkLoop は定期的にチェックを実行する
func (w *Watchdog) checkLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case now := <-ticker.C:
			w.check(now)
		}
	}
}

// check は進捗を確認し、停滞の開始時に1度だけ通知する
func (w *Watchdog) check(now time.Time) {
	completed := w.target.Metrics().TotalJobs()
	pending := w.target.ActiveJobs()

	w.mu.Lock()
	w.stats.Checks++

	if completed != w.lastCompleted || pending == 0 {
		w.lastCompleted = completed
		w.lastProgress = now
		recovered := w.stalled
		w.stalled = false
		w.mu.Unlock()

		if recovered {
			logger.Info("watchdog", "%s is making progress again", w.target.Name())
		}
		return
	}

	stalledFor := now.Sub(w.lastProgress)
	if w.stalled || stalledFor < w.config.StallAfter {
		w.mu.Unlock()
		return
	}
	w.stalled = true
	w.stats.Stalls++
	w.mu.Unlock()

	logger.Warn("watchdog", "%s stalled: %d jobs pending, no job finished for %v",
		w.target.Name(), pending, stalledFor.Round(time.Millisecond))
	w.publishEvent(events.NewPoolStalledEvent(w.target.Name(), pending, stalledFor))
}

// IsRunning は実行中かどうかを返す
func (w *Watchdog) IsRunning() bool {
	return w.running.Load()
}

// Stalled は現在停滞中かどうかを返す
func (w *Watchdog) Stalled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stalled
}

// Stats は監視統計を返す
func (w *Watchdog) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	stats := w.stats
	stats.Stalled = w.stalled
	stats.LastProgress = w.lastProgress
	return stats
}
