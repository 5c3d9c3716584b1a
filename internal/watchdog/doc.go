// Package watchdog はワーカープールの停滞検出機能を提供する。
//
// Watchdogはプールを定期的に監視し、未完了のジョブがあるにもかかわらず
// 一定時間ジョブが1件も完了しない場合に停滞として警告する。
// 停滞は1回の発生につき1度だけ通知され、進捗が戻ると解除される。
//
// # 使用例
//
//	config := watchdog.DefaultConfig()
//	config.StallAfter = 10 * time.Second
//
//	wd := watchdog.New(pool, config)
//	wd.SetEventBus(bus)
//	wd.Start(ctx)
//	defer wd.Stop()
package watchdog
