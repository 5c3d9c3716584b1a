package worker

import (
	"errors"
	"fmt"

	"aqueue/internal/queue"
)

var (
	// ErrPoolShutDown は Running 以外の状態で投入されたときに返される
	ErrPoolShutDown = errors.New("pool shut down")
	// ErrInvalidPoolSize は NewPool に1未満、New に負のワーカー数が指定されたときに返される
	ErrInvalidPoolSize = errors.New("invalid pool size")
	// ErrNilJob は nil のジョブが投入されたときに返される
	ErrNilJob = errors.New("nil job")
	// ErrJoinTimeout はワーカーの終了を待ちきれなかったときに Stop が返す
	ErrJoinTimeout = errors.New("workers did not terminate")
	// ErrJobPanicked はパニックしたジョブの JobError がラップする
	ErrJobPanicked = errors.New("job panicked")
	// ErrQueueFull は容量付きキューが満杯のときに返される
	ErrQueueFull = queue.ErrQueueFull
)

// JobError はジョブの失敗をラップする
type JobError struct {
	JobID    string
	WorkerID int
	Err      error
	Stack    string // パニック時のスタックトレース
}

func (e *JobError) Error() string {
	if e.Stack != "" {
		return fmt.Sprintf("job %s on worker %d failed with panic: %v\nStack trace:\n%s", e.JobID, e.WorkerID, e.Err, e.Stack)
	}
	return fmt.Sprintf("job %s on worker %d failed: %v", e.JobID, e.WorkerID, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}
