package worker

import "runtime"

// DetectCPUCount はホストの論理CPU数を返す
// 状態は保持せず、プール生成ごとに1回呼ばれる
func DetectCPUCount() int {
	return runtime.NumCPU()
}

// recommendedMaxWorkers はこれを超えると警告を出すワーカー数
func recommendedMaxWorkers(cpuCount int) int {
	return cpuCount * 2
}
