package scenario

import (
	"slices"
	"time"

	"aqueue/internal/chaos"
)

// BasicScenario は基本的なシナリオ設定を返す
// 2ワーカーで1件のジョブを投入し、完了コールバックを待つ
func BasicScenario() Config {
	return Config{
		Name:        "basic",
		Description: "Single job with a completion callback on a 2-worker pool",
		Kind:        KindCompletion,
		Workers:     2,
		Jobs:        1,
		JobDuration: 500 * time.Millisecond,
		Timeout:     5 * time.Second,
	}
}

// MultipleScenario は複数ジョブのシナリオを返す
func MultipleScenario() Config {
	return Config{
		Name:        "multiple",
		Description: "Five jobs with completion counting on a 4-worker pool",
		Kind:        KindCompletion,
		Workers:     4,
		Jobs:        5,
		JobDuration: 500 * time.Millisecond,
		Timeout:     10 * time.Second,
	}
}

// PollingScenario は ActiveJobs を監視するシナリオを返す
func PollingScenario() Config {
	return Config{
		Name:         "polling",
		Description:  "Three jobs on a 2-worker pool, polling active jobs until idle",
		Kind:         KindPolling,
		Workers:      2,
		Jobs:         3,
		PollInterval: time.Second,
		Timeout:      20 * time.Second,
	}
}

// ReportScenario は診断レポートのシナリオを返す
func ReportScenario() Config {
	return Config{
		Name:        "report",
		Description: "Runtime and pool facts from a 1-worker pool",
		Kind:        KindReport,
		Workers:     1,
		Timeout:     5 * time.Second,
	}
}

// FaultsScenario は障害分離のシナリオを返す
// 失敗・パニックするジョブが混ざっても全ジョブが処理されることを確認する
func FaultsScenario() Config {
	return Config{
		Name:             "faults",
		Description:      "Jobs with injected errors, panics and delays still complete",
		Kind:             KindLoad,
		Workers:          4,
		Jobs:             25,
		JobDuration:      time.Millisecond,
		Timeout:          30 * time.Second,
		Submitters:       4,
		EnableFaults:     true,
		FaultProbability: 0.3,
		FaultTypes:       []chaos.FaultType{chaos.FaultError, chaos.FaultPanic, chaos.FaultDelay},
	}
}

// StressScenario は高負荷シナリオを返す
// 多数の投入者、障害注入、停滞検出
func StressScenario() Config {
	return Config{
		Name:             "stress",
		Description:      "Many submitters with fault injection and a stall watchdog",
		Kind:             KindLoad,
		Workers:          0, // CPU数
		JobDuration:      100 * time.Microsecond,
		Timeout:          30 * time.Second,
		Submitters:       16,
		Duration:         5 * time.Second,
		Interval:         100 * time.Microsecond,
		EnableFaults:     true,
		FaultProbability: 0.05,
		FaultTypes:       []chaos.FaultType{chaos.FaultError, chaos.FaultPanic, chaos.FaultDelay},
		EnableWatchdog:   true,
		StallAfter:       2 * time.Second,
	}
}

var presets = map[string]func() Config{
	"basic":    BasicScenario,
	"multiple": MultipleScenario,
	"polling":  PollingScenario,
	"report":   ReportScenario,
	"faults":   FaultsScenario,
	"stress":   StressScenario,
}

// GetPreset は名前からプリセットシナリオを取得する
func GetPreset(name string) (Config, bool) {
	if fn, ok := presets[name]; ok {
		return fn(), true
	}
	return Config{}, false
}

// ListPresets は利用可能なプリセット名を返す
func ListPresets() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// DiagnosticSuite は一括診断で実行するプリセットを順に返す
func DiagnosticSuite() []string {
	return []string{"report", "polling", "basic", "multiple"}
}
