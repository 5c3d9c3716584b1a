// Package api はワーカープールの診断用HTTPサーバーを提供する。
//
// プールの状態・ワーカー一覧の取得、ジョブの投入、停止、
// 診断シナリオの実行を REST で公開する。
// /metrics は Prometheus 形式、/ws はイベントと1秒ごとのステータスを
// WebSocket で配信する。
//
// # エンドポイント
//
//	GET  /health
//	GET  /api/v1/pool
//	POST /api/v1/pool/jobs
//	POST /api/v1/pool/stop
//	GET  /api/v1/scenarios
//	GET  /api/v1/scenarios/last
//	POST /api/v1/scenarios/{name}
//	GET  /metrics
//	GET  /ws
package api
