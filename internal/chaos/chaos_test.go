package chaos

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"aqueue/internal/events"
	"aqueue/internal/worker"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Probability != 0.1 {
		t.Errorf("expected probability 0.1, got %f", config.Probability)
	}
	if len(config.FaultTypes) != 3 {
		t.Errorf("expected 3 fault types, got %d", len(config.FaultTypes))
	}
	if config.DelayDuration != 50*time.Millisecond {
		t.Errorf("expected delay 50ms, got %v", config.DelayDuration)
	}
}

func TestFaultTypeString(t *testing.T) {
	tests := []struct {
		fault    FaultType
		expected string
	}{
		{FaultError, "error"},
		{FaultPanic, "panic"},
		{FaultDelay, "delay"},
		{FaultType(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.fault.String(); got != tt.expected {
			t.Errorf("FaultType(%d).String() = %s, want %s", tt.fault, got, tt.expected)
		}
	}
}

func TestParseFaultType(t *testing.T) {
	for _, f := range []FaultType{FaultError, FaultPanic, FaultDelay} {
		got, err := ParseFaultType(f.String())
		if err != nil || got != f {
			t.Errorf("ParseFaultType(%q) = %v, %v", f.String(), got, err)
		}
	}
	if _, err := ParseFaultType("meteor"); err == nil {
		t.Error("expected error for unknown fault type")
	}
}

func TestWrapNoFaults(t *testing.T) {
	injector := New(Config{Probability: 0, FaultTypes: []FaultType{FaultError}})

	var ran atomic.Bool
	job := injector.WrapFunc(func() { ran.Store(true) })

	if err := job.Execute(); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if !ran.Load() {
		t.Error("expected wrapped job to run")
	}
	if injector.FaultCount() != 0 {
		t.Errorf("expected 0 faults, got %d", injector.FaultCount())
	}
}

func TestWrapErrorFault(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	sub := bus.Subscribe()

	injector := New(Config{Probability: 1, FaultTypes: []FaultType{FaultError}, Seed: 1})
	injector.SetEventBus(bus)

	var ran atomic.Bool
	job := injector.WrapFunc(func() { ran.Store(true) })

	if err := job.Execute(); !errors.Is(err, ErrInjected) {
		t.Errorf("expected ErrInjected, got %v", err)
	}
	if ran.Load() {
		t.Error("expected original job to be replaced")
	}

	select {
	case e := <-sub:
		if e.Type != events.EventFaultInjected || e.Data.Fault != events.FaultError {
			t.Errorf("unexpected event: %+v", e)
		}
	case <-time.After(time.Second):
		t.Error("timeout waiting for fault event")
	}
}

func TestWrapPanicFault(t *testing.T) {
	injector := New(Config{Probability: 1, FaultTypes: []FaultType{FaultPanic}, Seed: 1})
	job := injector.WrapFunc(func() {})

	defer func() {
		if r := recover(); r == nil {
			t.Error("expected injected panic")
		}
		if injector.CountOf(FaultPanic) != 1 {
			t.Errorf("expected 1 panic fault, got %d", injector.CountOf(FaultPanic))
		}
	}()
	_ = job.Execute()
}

func TestWrapDelayFault(t *testing.T) {
	injector := New(Config{
		Probability:   1,
		FaultTypes:    []FaultType{FaultDelay},
		DelayDuration: 20 * time.Millisecond,
		Seed:          1,
	})

	var ran atomic.Bool
	job := injector.WrapFunc(func() { ran.Store(true) })

	start := time.Now()
	if err := job.Execute(); err != nil {
		t.Errorf("expected delayed job to succeed, got %v", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("expected delay before job ran")
	}
	if !ran.Load() {
		t.Error("expected delayed job to still run")
	}
}

func TestInjectorStats(t *testing.T) {
	injector := New(Config{Probability: 0.5, FaultTypes: []FaultType{FaultError, FaultDelay}, Seed: 42})

	for range 200 {
		job := injector.WrapFunc(func() {})
		_ = job.Execute()
	}

	stats := injector.Stats()
	if stats.WrappedJobs != 200 {
		t.Errorf("expected 200 wrapped jobs, got %d", stats.WrappedJobs)
	}
	if stats.TotalFaults == 0 || stats.TotalFaults == 200 {
		t.Errorf("expected some but not all jobs faulted, got %d", stats.TotalFaults)
	}
	if stats.ByType["error"]+stats.ByType["delay"] != stats.TotalFaults {
		t.Errorf("by-type counts do not add up: %+v", stats)
	}
	if stats.FiredFaults != stats.TotalFaults || stats.PendingFault != 0 {
		t.Errorf("expected every planned fault fired: %+v", stats)
	}
}

func TestInjectorWithPool(t *testing.T) {
	injector := New(Config{Probability: 1, FaultTypes: []FaultType{FaultError, FaultPanic}, Seed: 7})

	var failed atomic.Int32
	config := worker.DefaultPoolConfig()
	config.MaxWorkers = 2
	config.OutcomeHandler = func(o worker.Outcome) {
		if !o.OK() {
			failed.Add(1)
		}
	}

	err := worker.WithPool(config, func(p *worker.Pool) error {
		for range 10 {
			if err := p.AddJob(injector.WrapFunc(func() {})); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if failed.Load() != 10 {
		t.Errorf("expected 10 failed outcomes, got %d", failed.Load())
	}
}
