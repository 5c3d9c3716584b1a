package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"aqueue/internal/chaos"
	"aqueue/internal/logger"
	"aqueue/internal/scenario"
	"aqueue/internal/worker"

	"gopkg.in/yaml.v3"
)

// FileConfig は設定ファイルの構造
type FileConfig struct {
	Pool     PoolConfig     `yaml:"pool" json:"pool"`
	Log      LogConfig      `yaml:"log" json:"log"`
	Server   ServerConfig   `yaml:"server" json:"server"`
	Scenario ScenarioConfig `yaml:"scenario" json:"scenario"`
}

// PoolConfig はプール設定
type PoolConfig struct {
	Name            string `yaml:"name" json:"name"`
	MaxWorkers      int    `yaml:"max_workers" json:"max_workers"`
	QueueCapacity   int    `yaml:"queue_capacity" json:"queue_capacity"`
	ShutdownTimeout string `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// LogConfig はログ設定
type LogConfig struct {
	Level string `yaml:"level" json:"level"`
}

// ServerConfig はAPIサーバー設定
type ServerConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// ScenarioConfig はシナリオ設定
// Name のプリセットに対して指定された項目だけを上書きする
type ScenarioConfig struct {
	Name        string      `yaml:"name" json:"name"`
	Workers     int         `yaml:"workers" json:"workers"`
	Jobs        int         `yaml:"jobs" json:"jobs"`
	JobDuration string      `yaml:"job_duration" json:"job_duration"`
	Timeout     string      `yaml:"timeout" json:"timeout"`
	Faults      FaultConfig `yaml:"faults" json:"faults"`
}

// FaultConfig は障害注入設定
type FaultConfig struct {
	Enabled     bool     `yaml:"enabled" json:"enabled"`
	Probability float64  `yaml:"probability" json:"probability"`
	Types       []string `yaml:"types" json:"types"`
}

// DefaultServerAddr はAPIサーバーのデフォルトアドレス
const DefaultServerAddr = ":8080"

// LoadFile は設定ファイルを読み込む
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config FileConfig
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}

	return &config, nil
}

// ToPoolConfig はFileConfigをworker.PoolConfigに変換する
// Logger・Events などの実行時依存は呼び出し側で設定する
func (f *FileConfig) ToPoolConfig() (worker.PoolConfig, error) {
	pc := f.Pool
	config := worker.DefaultPoolConfig()

	if pc.Name != "" {
		config.Name = pc.Name
	}
	config.MaxWorkers = pc.MaxWorkers
	config.QueueCapacity = pc.QueueCapacity

	if pc.ShutdownTimeout != "" {
		d, err := time.ParseDuration(pc.ShutdownTimeout)
		if err != nil {
			return config, fmt.Errorf("invalid shutdown timeout: %w", err)
		}
		config.ShutdownTimeout = d
	}

	return config, nil
}

// ToScenarioConfig はFileConfigをscenario.Configに変換する
func (f *FileConfig) ToScenarioConfig() (scenario.Config, error) {
	sc := f.Scenario

	name := sc.Name
	if name == "" {
		name = "basic"
	}
	config, ok := scenario.GetPreset(name)
	if !ok {
		return config, fmt.Errorf("unknown scenario: %s", name)
	}

	if sc.Workers > 0 {
		config.Workers = sc.Workers
	}
	if sc.Jobs > 0 {
		config.Jobs = sc.Jobs
	}
	if sc.JobDuration != "" {
		d, err := time.ParseDuration(sc.JobDuration)
		if err != nil {
			return config, fmt.Errorf("invalid job duration: %w", err)
		}
		config.JobDuration = d
	}
	if sc.Timeout != "" {
		d, err := time.ParseDuration(sc.Timeout)
		if err != nil {
			return config, fmt.Errorf("invalid timeout: %w", err)
		}
		config.Timeout = d
	}

	// 障害注入設定
	if sc.Faults.Enabled {
		config.EnableFaults = true
		if sc.Faults.Probability > 0 {
			config.FaultProbability = sc.Faults.Probability
		}
	}
	if len(sc.Faults.Types) > 0 {
		faults, err := parseFaultTypes(sc.Faults.Types)
		if err != nil {
			return config, err
		}
		config.FaultTypes = faults
	}

	return config, nil
}

// LogLevel はログレベルを返す
func (f *FileConfig) LogLevel() (logger.Level, error) {
	return logger.ParseLevel(f.Log.Level)
}

// ServerAddr はAPIサーバーのアドレスを返す
func (f *FileConfig) ServerAddr() string {
	if f.Server.Addr == "" {
		return DefaultServerAddr
	}
	return f.Server.Addr
}

// parseFaultTypes は文字列の障害タイプをパースする
func parseFaultTypes(types []string) ([]chaos.FaultType, error) {
	var faults []chaos.FaultType

	for _, t := range types {
		fault, err := chaos.ParseFaultType(strings.ToLower(t))
		if err != nil {
			return nil, err
		}
		faults = append(faults, fault)
	}

	return faults, nil
}

// Validate は設定を検証する
func (f *FileConfig) Validate() error {
	if f.Pool.MaxWorkers < 0 {
		return fmt.Errorf("pool.max_workers must be non-negative")
	}

	if f.Pool.QueueCapacity < 0 {
		return fmt.Errorf("pool.queue_capacity must be non-negative")
	}

	if err := validateDuration("pool.shutdown_timeout", f.Pool.ShutdownTimeout); err != nil {
		return err
	}

	if _, err := f.LogLevel(); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	if f.Scenario.Workers < 0 {
		return fmt.Errorf("scenario.workers must be non-negative")
	}

	if f.Scenario.Jobs < 0 {
		return fmt.Errorf("scenario.jobs must be non-negative")
	}

	if err := validateDuration("scenario.job_duration", f.Scenario.JobDuration); err != nil {
		return err
	}

	if err := validateDuration("scenario.timeout", f.Scenario.Timeout); err != nil {
		return err
	}

	if p := f.Scenario.Faults.Probability; p < 0 || p > 1 {
		return fmt.Errorf("scenario.faults.probability must be between 0 and 1")
	}

	return nil
}

func validateDuration(field, value string) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if d < 0 {
		return fmt.Errorf("%s must be non-negative", field)
	}
	return nil
}
