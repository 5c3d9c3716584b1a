// Package chaos はジョブへの障害注入機能を提供する。
//
// Injectorはプールに投入するジョブを包み、設定した確率で
// 失敗・パニック・遅延に置き換える。障害を起こしたジョブが
// ワーカーを巻き込まず、後続ジョブが処理され続けることを確認するために使用される。
//
// # 障害タイプ
//
// - Error: ジョブが ErrInjected を返す
// - Panic: ジョブがパニックする
// - Delay: ジョブの実行前に遅延を注入する（ジョブ自体は実行される）
//
// # 使用例
//
//	config := chaos.DefaultConfig()
//	config.Probability = 0.2
//
//	injector := chaos.New(config)
//	pool.AddJob(injector.Wrap(job))
package chaos
