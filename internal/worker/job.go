package worker

import (
	"time"

	"github.com/google/uuid"
)

// Job はワーカーが実行するジョブを表す
// プールは戻り値のエラーを Outcome として報告するだけで、結果の受け渡しには関与しない
type Job interface {
	Execute() error
}

// JobFunc はエラーを返す関数を Job に適合させる
type JobFunc func() error

// Execute implements Job
func (f JobFunc) Execute() error {
	return f()
}

// Func は戻り値のない関数を Job に適合させる
type Func func()

// Execute implements Job
func (f Func) Execute() error {
	f()
	return nil
}

// Outcome は1つのジョブの実行結果
type Outcome struct {
	JobID    string        // 投入時に採番されたID
	WorkerID int           // 実行したワーカー
	Err      error         // 失敗時は *JobError
	Panicked bool          // ジョブがパニックした
	Stack    string        // パニック時のスタックトレース
	Queued   time.Duration // 投入から実行開始までの待ち時間
	Duration time.Duration // 実行時間
}

// OK はジョブが成功したかどうかを返す
func (o Outcome) OK() bool {
	return o.Err == nil
}

// task はキュー上のジョブの封筒
type task struct {
	id        string
	job       Job
	submitted time.Time
}

func newTask(job Job) *task {
	return &task{
		id:        uuid.NewString(),
		job:       job,
		submitted: time.Now(),
	}
}
