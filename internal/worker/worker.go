package worker

import (
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"aqueue/internal/logger"
)

// Worker はキューからジョブを取り出して実行するゴルーチン
type Worker struct {
	id        int
	pool      *Pool
	log       *logger.Entry // worker-<id> タグ付き
	busy      atomic.Bool
	processed atomic.Uint64
}

// ID はワーカーIDを返す
func (w *Worker) ID() int {
	return w.id
}

func newWorker(id int, p *Pool) *Worker {
	return &Worker{id: id, pool: p, log: p.log.With(fmt.Sprintf("worker-%d", id))}
}

// run はキューが閉じられ空になるまでジョブを処理する
func (w *Worker) run() {
	defer w.pool.wg.Done()

	w.log.Debug("started")
	for {
		t, ok := w.pool.queue.Dequeue()
		if !ok {
			w.log.Debug("exiting (%d jobs processed)", w.processed.Load())
			return
		}
		w.execute(t)
	}
}

// execute は1件のジョブを実行し結果を報告する
// カウンタの減算は報告の後、結果に関わらず行う
func (w *Worker) execute(t *task) {
	p := w.pool

	w.busy.Store(true)
	p.active.Add(1)
	defer func() {
		w.busy.Store(false)
		w.processed.Add(1)
		p.active.Add(-1)
		p.pending.Add(-1)
	}()

	start := time.Now()
	stack, err := invoke(t.job)
	outcome := Outcome{
		JobID:    t.id,
		WorkerID: w.id,
		Queued:   start.Sub(t.submitted),
		Duration: time.Since(start),
	}
	if err != nil {
		outcome.Err = &JobError{JobID: t.id, WorkerID: w.id, Err: err, Stack: stack}
		outcome.Panicked = stack != ""
		outcome.Stack = stack
	}

	p.report(outcome, w.log)
}

// invoke はジョブを実行し、パニックをエラーに変換する
func invoke(job Job) (stack string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrJobPanicked, r)
			stack = string(debug.Stack())
		}
	}()
	return "", job.Execute()
}
