package chaos

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"aqueue/internal/events"
	"aqueue/internal/logger"
	"aqueue/internal/worker"
)

// FaultType は注入する障害の種類を表す
type FaultType int

const (
	FaultError FaultType = iota
	FaultPanic
	FaultDelay
)

func (f FaultType) String() string {
	switch f {
	case FaultError:
		return "error"
	case FaultPanic:
		return "panic"
	case FaultDelay:
		return "delay"
	default:
		return "unknown"
	}
}

// ParseFaultType は文字列から障害タイプを解析する
func ParseFaultType(s string) (FaultType, error) {
	switch s {
	case "error":
		return FaultError, nil
	case "panic":
		return FaultPanic, nil
	case "delay":
		return FaultDelay, nil
	default:
		return 0, fmt.Errorf("unknown fault type: %s", s)
	}
}

func (f FaultType) eventKind() events.FaultKind {
	switch f {
	case FaultPanic:
		return events.FaultPanic
	case FaultDelay:
		return events.FaultDelay
	default:
		return events.FaultError
	}
}

// ErrInjected は FaultError で注入されたジョブが返すエラー
var ErrInjected = errors.New("injected fault")

// Config はInjectorの設定
type Config struct {
	Probability   float64       // ジョブごとの注入確率（0.0〜1.0）
	FaultTypes    []FaultType   // 有効な障害タイプ
	DelayDuration time.Duration // Delay障害の遅延時間
	Seed          int64         // 乱数シード（0で時刻）
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Probability:   0.1,
		FaultTypes:    []FaultType{FaultError, FaultPanic, FaultDelay},
		DelayDuration: 50 * time.Millisecond,
	}
}

// Stats は注入の統計情報
type Stats struct {
	WrappedJobs  uint64            `json:"wrapped_jobs"`
	TotalFaults  uint64            `json:"total_faults"`
	ByType       map[string]uint64 `json:"faults_by_type"`
	FiredFaults  uint64            `json:"fired_faults"`
	PendingFault uint64            `json:"pending_faults"`
}

// Injector はジョブを包み、確率的に失敗・パニック・遅延に置き換える
type Injector struct {
	eventBus *events.Bus

	mu     sync.Mutex
	config Config
	rng    *rand.Rand
	byType map[FaultType]uint64

	wrapped atomic.Uint64
	planned atomic.Uint64
	fired   atomic.Uint64
	firedBy [3]atomic.Uint64 // FaultType ごとの発火数
}

// New は新しいInjectorを作成する
func New(config Config) *Injector {
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Injector{
		config: config,
		rng:    rand.New(rand.NewSource(seed)),
		byType: make(map[FaultType]uint64),
	}
}

// SetEventBus はイベントバスを設定する
func (i *Injector) SetEventBus(bus *events.Bus) {
	i.eventBus = bus
}

// SetConfig は設定を更新する
func (i *Injector) SetConfig(config Config) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.config = config
}

// Wrap はジョブを包む
// 障害を注入するかどうかは包む時点で決まり、実行時に発火する
func (i *Injector) Wrap(job worker.Job) worker.Job {
	i.wrapped.Add(1)

	fault, ok := i.roll()
	if !ok {
		return job
	}
	i.planned.Add(1)

	i.mu.Lock()
	delay := i.config.DelayDuration
	i.mu.Unlock()

	return worker.JobFunc(func() error {
		i.fired.Add(1)
		i.firedBy[fault].Add(1)
		switch fault {
		case FaultPanic:
			i.publish(events.NewFaultInjectedEvent(events.FaultPanic))
			panic("chaos: injected panic")
		case FaultDelay:
			i.publish(events.NewDelayFaultEvent(delay))
			time.Sleep(delay)
			return job.Execute()
		default:
			i.publish(events.NewFaultInjectedEvent(fault.eventKind()))
			return ErrInjected
		}
	})
}

// WrapFunc は関数を包む
func (i *Injector) WrapFunc(fn func()) worker.Job {
	return i.Wrap(worker.Func(fn))
}

// roll は注入する障害を決める
func (i *Injector) roll() (FaultType, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.config.Probability <= 0 || len(i.config.FaultTypes) == 0 {
		return 0, false
	}
	if i.rng.Float64() >= i.config.Probability {
		return 0, false
	}

	fault := i.config.FaultTypes[i.rng.Intn(len(i.config.FaultTypes))]
	i.byType[fault]++
	logger.Debug("chaos", "planned %s fault", fault)
	return fault, true
}

func (i *Injector) publish(event events.Event) {
	if i.eventBus != nil {
		i.eventBus.Publish(event)
	}
}

// FaultCount は注入を決めた障害数を返す
func (i *Injector) FaultCount() uint64 {
	return i.planned.Load()
}

// CountOf は指定タイプの障害数を返す
func (i *Injector) CountOf(fault FaultType) uint64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.byType[fault]
}

// FiredOf は実行時に発火した指定タイプの障害数を返す
// 投入に失敗したジョブの障害は含まれない
func (i *Injector) FiredOf(fault FaultType) uint64 {
	if fault < 0 || int(fault) >= len(i.firedBy) {
		return 0
	}
	return i.firedBy[fault].Load()
}

// Stats は注入統計を返す
func (i *Injector) Stats() Stats {
	i.mu.Lock()
	defer i.mu.Unlock()

	byType := make(map[string]uint64)
	for t, count := range i.byType {
		byType[t.String()] = count
	}

	planned := i.planned.Load()
	fired := i.fired.Load()
	return Stats{
		WrappedJobs:  i.wrapped.Load(),
		TotalFaults:  planned,
		ByType:       byType,
		FiredFaults:  fired,
		PendingFault: planned - fired,
	}
}
