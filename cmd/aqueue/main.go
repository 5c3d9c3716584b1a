// Package main is the entry point for aqueue.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"aqueue/internal/api"
	"aqueue/internal/config"
	"aqueue/internal/events"
	"aqueue/internal/logger"
	"aqueue/internal/scenario"
	"aqueue/internal/worker"
)

var (
	version = "dev"
)

func main() {
	// フラグ定義
	var (
		configFile  = flag.String("config", "", "設定ファイルパス (YAML/JSON)")
		presetName  = flag.String("preset", "", "プリセットシナリオ名 (省略時は診断スイートを実行)")
		workers     = flag.Int("workers", 0, "ワーカー数 (0でCPU数)")
		jobs        = flag.Int("jobs", 0, "ジョブ数")
		enableFault = flag.Bool("faults", false, "障害注入を有効化")
		logLevel    = flag.String("log-level", "", "ログレベル (debug, info, warn, error)")
		listPresets = flag.Bool("list-presets", false, "利用可能なプリセットを表示")
		showVersion = flag.Bool("version", false, "バージョンを表示")
		serverMode  = flag.Bool("server", false, "診断APIサーバーモードで起動")
		serverAddr  = flag.String("addr", "", "サーバーアドレス (例: :8080, 0.0.0.0:3000)")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `aqueue - Fixed-Size Worker Pool Diagnostics

Usage:
  aqueue [options]

Options:
`)
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # 診断スイートを実行
  aqueue

  # プリセットシナリオを実行
  aqueue --preset multiple

  # 設定ファイルから実行
  aqueue --config aqueue.yaml

  # フラグでカスタマイズ
  aqueue --preset faults --workers 8 --jobs 50

  # プリセット一覧を表示
  aqueue --list-presets

  # 診断APIサーバーを起動
  aqueue --server --addr :3000
`)
	}

	flag.Parse()

	// バージョン表示
	if *showVersion {
		fmt.Printf("aqueue version %s\n", version)
		return
	}

	// プリセット一覧表示
	if *listPresets {
		printPresets()
		return
	}

	fileConfig, err := loadConfig(*configFile)
	if err != nil {
		logger.Error("", "設定エラー: %v", err)
		os.Exit(1)
	}

	if err := applyLogLevel(fileConfig, *logLevel); err != nil {
		logger.Error("", "設定エラー: %v", err)
		os.Exit(1)
	}

	ctx, cancel := signalContext()
	defer cancel()

	// APIサーバーモード
	if *serverMode {
		addr := fileConfig.ServerAddr()
		if *serverAddr != "" {
			addr = *serverAddr
		}
		if err := runServer(ctx, fileConfig, addr, *workers); err != nil {
			logger.Error("", "サーバーエラー: %v", err)
			os.Exit(1)
		}
		return
	}

	// シナリオ設定の決定
	configs, err := buildScenarioConfigs(fileConfig, *configFile != "", *presetName, *workers, *jobs, *enableFault)
	if err != nil {
		logger.Error("", "設定エラー: %v", err)
		os.Exit(1)
	}

	passed, err := runScenarios(ctx, configs)
	if err != nil {
		logger.Error("", "シナリオ実行エラー: %v", err)
		os.Exit(1)
	}
	if !passed {
		os.Exit(1)
	}
}

// loadConfig は設定ファイルを読み込む。パスが空なら空の設定を返す
func loadConfig(path string) (*config.FileConfig, error) {
	if path == "" {
		return &config.FileConfig{}, nil
	}

	fileConfig, err := config.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("設定ファイル読み込みエラー: %w", err)
	}
	if err := fileConfig.Validate(); err != nil {
		return nil, fmt.Errorf("設定検証エラー: %w", err)
	}
	return fileConfig, nil
}

// applyLogLevel はフラグ、設定ファイルの順でログレベルを決める
func applyLogLevel(fileConfig *config.FileConfig, flagLevel string) error {
	if flagLevel == "" && fileConfig.Log.Level == "" {
		return nil
	}

	level, err := fileConfig.LogLevel()
	if flagLevel != "" {
		level, err = logger.ParseLevel(flagLevel)
	}
	if err != nil {
		return err
	}
	logger.Default.SetLevel(level)
	return nil
}

// buildScenarioConfigs は実行するシナリオ設定を構築する
func buildScenarioConfigs(
	fileConfig *config.FileConfig, fromFile bool,
	presetName string, workers, jobs int, enableFaults bool,
) ([]scenario.Config, error) {
	var configs []scenario.Config

	switch {
	case presetName != "":
		// 1. プリセットから読み込み
		preset, ok := scenario.GetPreset(presetName)
		if !ok {
			return nil, fmt.Errorf("不明なプリセット: %s (利用可能: %v)", presetName, scenario.ListPresets())
		}
		configs = append(configs, preset)
	case fromFile:
		// 2. 設定ファイルから読み込み
		cfg, err := fileConfig.ToScenarioConfig()
		if err != nil {
			return nil, fmt.Errorf("設定変換エラー: %w", err)
		}
		configs = append(configs, cfg)
	default:
		// 3. デフォルト（診断スイート）
		for _, name := range scenario.DiagnosticSuite() {
			preset, _ := scenario.GetPreset(name)
			configs = append(configs, preset)
		}
	}

	// フラグでオーバーライド
	for i := range configs {
		if workers > 0 {
			configs[i].Workers = workers
		}
		if jobs > 0 {
			configs[i].Jobs = jobs
		}
		if enableFaults {
			configs[i].EnableFaults = true
		}
	}

	return configs, nil
}

// runScenarios はシナリオを順に実行し、全て合格したかを返す
func runScenarios(ctx context.Context, configs []scenario.Config) (bool, error) {
	fmt.Println("aqueue - Fixed-Size Worker Pool Diagnostics")
	fmt.Println("===========================================")
	fmt.Printf("CPUs: %d\n", worker.DetectCPUCount())
	fmt.Printf("Scenarios: %d\n", len(configs))
	fmt.Println("===========================================")
	fmt.Println()

	passed := true
	for _, cfg := range configs {
		engine := scenario.New(cfg)
		result, err := engine.Run(ctx)
		if err != nil {
			return false, fmt.Errorf("%s: %w", cfg.Name, err)
		}

		// レポート出力
		fmt.Println(result.Report())

		if !result.Passed {
			passed = false
		}
		if ctx.Err() != nil {
			return passed, nil
		}
	}

	return passed, nil
}

// printPresets は利用可能なプリセットを表示する
func printPresets() {
	fmt.Println("利用可能なプリセットシナリオ:")
	fmt.Println()

	for _, name := range scenario.ListPresets() {
		cfg, _ := scenario.GetPreset(name)
		fmt.Printf("  %-12s %s\n", name, cfg.Description)
	}

	fmt.Println()
	fmt.Printf("診断スイート: %v\n", scenario.DiagnosticSuite())
	fmt.Println("使用例: aqueue --preset multiple")
}

// runServer は診断APIサーバーを起動する
func runServer(ctx context.Context, fileConfig *config.FileConfig, addr string, workers int) error {
	poolConfig, err := fileConfig.ToPoolConfig()
	if err != nil {
		return err
	}
	if workers > 0 {
		poolConfig.MaxWorkers = workers
	}

	bus := events.NewBus()
	defer bus.Close()
	poolConfig.Events = bus

	pool, err := worker.New(poolConfig)
	if err != nil {
		return err
	}
	defer func() {
		if err := pool.Stop(); err != nil {
			logger.Error("", "プール停止エラー: %v", err)
		}
	}()

	fmt.Println("aqueue - Diagnostics API Server")
	fmt.Println("===============================")
	fmt.Printf("Pool: %s (%d workers)\n", pool.Name(), pool.PoolSize())
	fmt.Printf("Starting server on http://%s\n", addr)
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	server, err := api.NewServer(addr, pool, bus)
	if err != nil {
		return err
	}
	return server.Start(ctx)
}

// signalContext は SIGINT/SIGTERM で終了する context を返す
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	// シグナルハンドリング
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			fmt.Println("\n中断シグナルを受信、終了中...")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
