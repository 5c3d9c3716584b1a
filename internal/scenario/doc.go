// Package scenario はワーカープールの診断シナリオ実行機能を提供する。
//
// シナリオエンジンはシナリオごとに新しいプールを作成し、
// ジョブ投入・完了待ち・カウンタ監視を行って結果をレポートにまとめる。
// 負荷シナリオではClient、Injector、Watchdogを連携させる。
//
// # プリセットシナリオ
//
// - report: 実行環境と1ワーカープールの状態
// - polling: ActiveJobs が 0 になるまでの監視
// - basic: 1件のジョブと完了コールバック
// - multiple: 5件のジョブの完了数カウント
// - faults: 障害注入下での全ジョブ完了
// - stress: 多数の投入者、障害注入、停滞検出
//
// # 使用例
//
//	config := scenario.MultipleScenario()
//	engine := scenario.New(config)
//	result, err := engine.Run(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(result.Report())
package scenario
