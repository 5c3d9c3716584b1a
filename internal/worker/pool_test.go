package worker

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"aqueue/internal/events"
	"aqueue/internal/logger"
)

// syncBuffer はワーカーから並行に書き込まれるログを受けるバッファ
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig(workers int) (PoolConfig, *syncBuffer) {
	buf := &syncBuffer{}
	config := DefaultPoolConfig()
	config.MaxWorkers = workers
	config.Logger = logger.New(buf, logger.LevelDebug)
	config.CPUCount = func() int { return 8 }
	return config, buf
}

func newTestPool(t *testing.T, workers int) *Pool {
	t.Helper()
	config, _ := testConfig(workers)
	p, err := New(config)
	if err != nil {
		t.Fatalf("failed to create pool: %v", err)
	}
	t.Cleanup(func() { _ = p.Stop() })
	return p
}

func waitIdle(t *testing.T, p *Pool, timeout time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := p.WaitIdle(ctx); err != nil {
		t.Fatalf("pool did not become idle: %v (active jobs %d)", err, p.ActiveJobs())
	}
}

func TestNewPool(t *testing.T) {
	for _, n := range []int{1, 2, 4, 16} {
		p := newTestPool(t, n)
		if p.PoolSize() != n {
			t.Errorf("expected pool size %d, got %d", n, p.PoolSize())
		}
		if !p.Running() {
			t.Errorf("expected pool of %d to be running", n)
		}
		if p.ActiveJobs() != 0 || p.ActiveWorkers() != 0 {
			t.Errorf("expected idle counters, got jobs=%d workers=%d", p.ActiveJobs(), p.ActiveWorkers())
		}
		if len(p.Workers()) != n {
			t.Errorf("expected %d workers, got %d", n, len(p.Workers()))
		}
	}
}

func TestNewPoolAutoSize(t *testing.T) {
	p := newTestPool(t, 0)
	if p.PoolSize() != 8 {
		t.Errorf("expected auto size 8 on an 8-CPU host, got %d", p.PoolSize())
	}
	if p.Oversized() {
		t.Error("auto-sized pool should not be oversized")
	}
}

func TestNewPoolDefaultCPUCount(t *testing.T) {
	p, err := NewAutoPool()
	if err != nil {
		t.Fatalf("failed to create pool: %v", err)
	}
	defer p.Guard().Release()

	if p.PoolSize() != DetectCPUCount() {
		t.Errorf("expected %d workers, got %d", DetectCPUCount(), p.PoolSize())
	}
}

func TestNewPoolInvalidSize(t *testing.T) {
	for _, n := range []int{0, -1} {
		p, err := NewPool(n)
		if !errors.Is(err, ErrInvalidPoolSize) {
			t.Errorf("NewPool(%d): expected ErrInvalidPoolSize, got %v", n, err)
		}
		if p != nil {
			t.Errorf("NewPool(%d): expected no pool", n)
		}
	}

	config, _ := testConfig(-1)
	if _, err := New(config); !errors.Is(err, ErrInvalidPoolSize) {
		t.Errorf("New with -1 workers: expected ErrInvalidPoolSize, got %v", err)
	}
}

func TestNewPoolOversized(t *testing.T) {
	config, buf := testConfig(100)
	bus := events.NewBus()
	defer bus.Close()
	sub := bus.Subscribe()
	config.Events = bus

	p, err := New(config)
	if err != nil {
		t.Fatalf("oversized pool should still build: %v", err)
	}
	defer p.Guard().Release()

	if p.PoolSize() != 100 {
		t.Errorf("expected pool size 100, got %d", p.PoolSize())
	}
	if !p.Oversized() {
		t.Error("expected pool to be flagged oversized")
	}
	if !strings.Contains(buf.String(), "[WARN]") || !strings.Contains(buf.String(), "recommended maximum of 16") {
		t.Errorf("expected oversize warning in log, got:\n%s", buf.String())
	}

	select {
	case e := <-sub:
		if e.Type != events.EventPoolOversized || e.Data.CPUCount != 8 {
			t.Errorf("unexpected first event: %+v", e)
		}
	case <-time.After(time.Second):
		t.Error("timeout waiting for oversize event")
	}
}

func TestPoolTwoWorkersFiveJobs(t *testing.T) {
	p := newTestPool(t, 2)

	var counter atomic.Int32
	for range 5 {
		if err := p.Submit(func() {
			time.Sleep(20 * time.Millisecond)
			counter.Add(1)
		}); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}

	if p.ActiveWorkers() > 2 {
		t.Errorf("active workers %d exceeds pool size", p.ActiveWorkers())
	}

	waitIdle(t, p, 5*time.Second)

	if counter.Load() != 5 {
		t.Errorf("expected 5 executions, got %d", counter.Load())
	}
	if p.ActiveWorkers() != 0 {
		t.Errorf("expected 0 active workers, got %d", p.ActiveWorkers())
	}
}

func TestPoolExactlyOnce(t *testing.T) {
	p := newTestPool(t, 4)

	const jobs = 1000
	var runs [jobs]atomic.Int32
	for i := range jobs {
		if err := p.Submit(func() { runs[i].Add(1) }); err != nil {
			t.Fatalf("submit %d failed: %v", i, err)
		}
	}
	waitIdle(t, p, 5*time.Second)

	for i := range jobs {
		if n := runs[i].Load(); n != 1 {
			t.Fatalf("job %d ran %d times", i, n)
		}
	}
}

func TestPoolCounterInvariants(t *testing.T) {
	p := newTestPool(t, 3)

	// 全ジョブを投入してから解放し、以降 ActiveJobs は減る一方にする
	gate := make(chan struct{})
	for range 200 {
		_ = p.Submit(func() {
			<-gate
			time.Sleep(100 * time.Microsecond)
		})
	}

	stop := make(chan struct{})
	var violations atomic.Int32
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			// 投入が止まっているので、先に読んだ jobs は後で読む workers 以上
			jobs := p.ActiveJobs()
			workers := p.ActiveWorkers()
			if workers > p.PoolSize() || workers < 0 || jobs < 0 {
				violations.Add(1)
			}
			if jobs < workers {
				violations.Add(1)
			}
			if s := p.Stats(); s.ActiveJobs < s.ActiveWorkers {
				violations.Add(1)
			}
		}
	}()

	close(gate)
	waitIdle(t, p, 5*time.Second)
	close(stop)
	wg.Wait()

	if violations.Load() != 0 {
		t.Errorf("observed %d counter invariant violations", violations.Load())
	}
}

func TestPoolAddJobAfterStop(t *testing.T) {
	p := newTestPool(t, 2)

	if err := p.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	before := p.QueueLen()
	err := p.AddJob(Func(func() {}))
	if !errors.Is(err, ErrPoolShutDown) {
		t.Errorf("expected ErrPoolShutDown, got %v", err)
	}
	if err != nil && err.Error() != "pool shut down" {
		t.Errorf("unexpected error message %q", err.Error())
	}
	if p.QueueLen() != before {
		t.Errorf("queue length changed from %d to %d", before, p.QueueLen())
	}
	if p.ActiveJobs() != 0 {
		t.Errorf("expected 0 active jobs, got %d", p.ActiveJobs())
	}
	if p.Metrics().RejectedJobs() != 1 {
		t.Errorf("expected 1 rejected job, got %d", p.Metrics().RejectedJobs())
	}
}

func TestPoolAddNilJob(t *testing.T) {
	p := newTestPool(t, 1)

	if err := p.AddJob(nil); !errors.Is(err, ErrNilJob) {
		t.Errorf("expected ErrNilJob, got %v", err)
	}
	if err := p.Submit(nil); !errors.Is(err, ErrNilJob) {
		t.Errorf("expected ErrNilJob from Submit, got %v", err)
	}
	if err := p.SubmitFunc(nil); !errors.Is(err, ErrNilJob) {
		t.Errorf("expected ErrNilJob from SubmitFunc, got %v", err)
	}
}

func TestPoolDoubleStop(t *testing.T) {
	p := newTestPool(t, 2)

	if err := p.Stop(); err != nil {
		t.Fatalf("first stop failed: %v", err)
	}
	if err := p.Stop(); err != nil {
		t.Errorf("second stop failed: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("close after stop failed: %v", err)
	}
	if p.State() != StateStopped {
		t.Errorf("expected state stopped, got %s", p.State())
	}
	if p.Running() {
		t.Error("expected pool not running")
	}
}

func TestPoolConcurrentStop(t *testing.T) {
	p := newTestPool(t, 4)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- p.Stop()
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("concurrent stop failed: %v", err)
		}
	}
	select {
	case <-p.Done():
	default:
		t.Error("expected done channel closed after stop")
	}
}

func TestPoolStopDrainsQueuedJobs(t *testing.T) {
	p := newTestPool(t, 1)

	var counter atomic.Int32
	for range 20 {
		_ = p.Submit(func() {
			time.Sleep(time.Millisecond)
			counter.Add(1)
		})
	}

	if err := p.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if counter.Load() != 20 {
		t.Errorf("expected all 20 queued jobs to run before stop returned, got %d", counter.Load())
	}
	if p.ActiveJobs() != 0 {
		t.Errorf("expected 0 active jobs after stop, got %d", p.ActiveJobs())
	}
}

func TestPoolPerSubmitterOrder(t *testing.T) {
	p := newTestPool(t, 1)

	const submitters = 4
	const perSubmitter = 50

	var mu sync.Mutex
	seen := make(map[int][]int)

	var wg sync.WaitGroup
	for s := range submitters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for seq := range perSubmitter {
				err := p.Submit(func() {
					mu.Lock()
					seen[s] = append(seen[s], seq)
					mu.Unlock()
				})
				if err != nil {
					t.Errorf("submitter %d: %v", s, err)
					return
				}
			}
		}()
	}
	wg.Wait()
	waitIdle(t, p, 5*time.Second)

	for s := range submitters {
		got := seen[s]
		if len(got) != perSubmitter {
			t.Fatalf("submitter %d: expected %d jobs, got %d", s, perSubmitter, len(got))
		}
		for i, seq := range got {
			if seq != i {
				t.Fatalf("submitter %d: job %d ran at position %d", s, seq, i)
			}
		}
	}
}

func TestPoolFailureIsolation(t *testing.T) {
	config, buf := testConfig(2)

	var mu sync.Mutex
	var outcomes []Outcome
	config.OutcomeHandler = func(o Outcome) {
		mu.Lock()
		outcomes = append(outcomes, o)
		mu.Unlock()
	}

	p, err := New(config)
	if err != nil {
		t.Fatalf("failed to create pool: %v", err)
	}
	defer p.Guard().Release()

	boom := errors.New("boom")
	_ = p.SubmitFunc(func() error { return boom })
	_ = p.Submit(func() { panic("kaboom") })

	var later atomic.Int32
	for range 10 {
		_ = p.Submit(func() { later.Add(1) })
	}

	waitIdle(t, p, 5*time.Second)

	if later.Load() != 10 {
		t.Errorf("expected 10 later jobs to run, got %d", later.Load())
	}
	if p.ActiveWorkers() != 0 {
		t.Errorf("expected 0 active workers, got %d", p.ActiveWorkers())
	}
	if p.PoolSize() != 2 {
		t.Errorf("expected pool size unchanged, got %d", p.PoolSize())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(outcomes) != 12 {
		t.Fatalf("expected 12 outcomes, got %d", len(outcomes))
	}

	var failed, panicked int
	for _, o := range outcomes {
		if o.JobID == "" {
			t.Error("expected job ID on outcome")
		}
		if o.OK() {
			continue
		}
		failed++
		var jobErr *JobError
		if !errors.As(o.Err, &jobErr) {
			t.Errorf("expected *JobError, got %T", o.Err)
			continue
		}
		if jobErr.JobID != o.JobID || jobErr.WorkerID != o.WorkerID {
			t.Errorf("job error does not match outcome: %+v vs %+v", jobErr, o)
		}
		if o.Panicked {
			panicked++
			if !errors.Is(o.Err, ErrJobPanicked) {
				t.Errorf("expected panic outcome to wrap ErrJobPanicked, got %v", o.Err)
			}
			if !strings.Contains(o.Stack, "goroutine") {
				t.Error("expected stack trace on panic outcome")
			}
		} else if !errors.Is(o.Err, boom) {
			t.Errorf("expected failure outcome to wrap boom, got %v", o.Err)
		}
	}
	if failed != 2 || panicked != 1 {
		t.Errorf("expected 2 failed (1 panicked), got %d failed %d panicked", failed, panicked)
	}

	m := p.Metrics()
	if m.TotalJobs() != 12 || m.FailedJobs() != 2 || m.PanickedJobs() != 1 {
		t.Errorf("unexpected metrics: total=%d failed=%d panicked=%d", m.TotalJobs(), m.FailedJobs(), m.PanickedJobs())
	}

	log := buf.String()
	if !strings.Contains(log, "[WARN] [worker-") || !strings.Contains(log, "boom") || !strings.Contains(log, "kaboom") {
		t.Errorf("expected failure warnings tagged with worker, got:\n%s", log)
	}
}

func TestPoolOutcomeHandlerPanic(t *testing.T) {
	config, buf := testConfig(1)
	config.OutcomeHandler = func(Outcome) { panic("handler") }

	p, err := New(config)
	if err != nil {
		t.Fatalf("failed to create pool: %v", err)
	}
	defer p.Guard().Release()

	var ran atomic.Int32
	_ = p.Submit(func() { ran.Add(1) })
	_ = p.Submit(func() { ran.Add(1) })
	waitIdle(t, p, 5*time.Second)

	if ran.Load() != 2 {
		t.Errorf("expected both jobs to run, got %d", ran.Load())
	}
	if !strings.Contains(buf.String(), "outcome handler panicked") {
		t.Error("expected handler panic to be logged")
	}
}

func TestPoolQueueFull(t *testing.T) {
	config, _ := testConfig(1)
	config.QueueCapacity = 1

	p, err := New(config)
	if err != nil {
		t.Fatalf("failed to create pool: %v", err)
	}
	defer p.Guard().Release()

	release := make(chan struct{})
	started := make(chan struct{})
	_ = p.Submit(func() {
		close(started)
		<-release
	})
	<-started

	if err := p.Submit(func() {}); err != nil {
		t.Fatalf("expected second job to queue, got %v", err)
	}
	if err := p.Submit(func() {}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}
	if p.ActiveJobs() != 2 {
		t.Errorf("expected rejected job rolled back (2 active), got %d", p.ActiveJobs())
	}

	close(release)
	waitIdle(t, p, 5*time.Second)
}

func TestPoolStopJoinTimeout(t *testing.T) {
	p := newTestPool(t, 1)

	release := make(chan struct{})
	started := make(chan struct{})
	_ = p.Submit(func() {
		close(started)
		<-release
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := p.StopContext(ctx)
	if !errors.Is(err, ErrJoinTimeout) {
		t.Fatalf("expected ErrJoinTimeout, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected wrapped deadline error, got %v", err)
	}
	if p.State() != StateShuttingDown {
		t.Errorf("expected state shutting_down, got %s", p.State())
	}
	if err := p.AddJob(Func(func() {})); !errors.Is(err, ErrPoolShutDown) {
		t.Errorf("expected submissions refused while shutting down, got %v", err)
	}

	close(release)
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("workers did not exit after release")
	}
	if p.State() != StateStopped {
		t.Errorf("expected state stopped, got %s", p.State())
	}
	if err := p.Stop(); err != nil {
		t.Errorf("expected stop after workers exited to succeed, got %v", err)
	}
}

func TestPoolStopAfterAbandonedWait(t *testing.T) {
	p := newTestPool(t, 1)

	release := make(chan struct{})
	started := make(chan struct{})
	_ = p.Submit(func() {
		close(started)
		<-release
	})
	<-started

	// 呼び出し側が待つのを諦める
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	if err := p.StopContext(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled join, got %v", err)
	}

	// まだ終了していない間は同じエラーを返す
	if err := p.Stop(); !errors.Is(err, ErrJoinTimeout) {
		t.Errorf("expected ErrJoinTimeout while workers are busy, got %v", err)
	}

	close(release)
	<-p.Done()

	for i := range 3 {
		if err := p.Stop(); err != nil {
			t.Errorf("stop %d after workers exited: expected nil, got %v", i, err)
		}
	}
	if err := p.Close(); err != nil {
		t.Errorf("close after workers exited: expected nil, got %v", err)
	}
}

func TestPoolShutdownTimeout(t *testing.T) {
	config, _ := testConfig(1)
	config.ShutdownTimeout = 20 * time.Millisecond

	p, err := New(config)
	if err != nil {
		t.Fatalf("failed to create pool: %v", err)
	}

	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})
	_ = p.Submit(func() {
		close(started)
		<-release
	})
	<-started

	if err := p.Stop(); !errors.Is(err, ErrJoinTimeout) {
		t.Errorf("expected ErrJoinTimeout, got %v", err)
	}
}

func TestPoolEvents(t *testing.T) {
	config, _ := testConfig(2)
	bus := events.NewBusWithBuffer(64)
	defer bus.Close()
	sub := bus.Subscribe()
	config.Events = bus
	config.Name = "evented"

	p, err := New(config)
	if err != nil {
		t.Fatalf("failed to create pool: %v", err)
	}
	_ = p.SubmitFunc(func() error { return errors.New("fail") })
	waitIdle(t, p, 5*time.Second)
	if err := p.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	want := []events.EventType{
		events.EventPoolStarted,
		events.EventJobFailed,
		events.EventPoolStopping,
		events.EventPoolStopped,
	}
	for _, typ := range want {
		select {
		case e := <-sub:
			if e.Type != typ {
				t.Errorf("expected %s, got %s", typ, e.Type)
			}
			if e.Pool != "evented" {
				t.Errorf("expected pool label evented, got %q", e.Pool)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for %s", typ)
		}
	}
}

func TestPoolStats(t *testing.T) {
	p := newTestPool(t, 3)
	_ = p.Submit(func() {})
	waitIdle(t, p, 5*time.Second)

	stats := p.Stats()
	if stats.PoolSize != 3 || stats.CPUCount != 8 || stats.State != "running" {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if stats.Metrics.TotalJobs != 1 {
		t.Errorf("expected 1 job in stats, got %d", stats.Metrics.TotalJobs)
	}

	var processed uint64
	for _, w := range p.Workers() {
		processed += w.Processed
	}
	if processed != 1 {
		t.Errorf("expected 1 processed job across workers, got %d", processed)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateRunning, "running"},
		{StateShuttingDown, "shutting_down"},
		{StateStopped, "stopped"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
