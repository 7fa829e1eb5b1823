package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_BurstThenWait(t *testing.T) {
	const n = 5
	window := 500 * time.Millisecond
	l := New(n, window, 1.0)

	if got, want := l.EffectiveLimit(), n; got != want {
		t.Fatalf("EffectiveLimit() = %d, want %d", got, want)
	}

	start := time.Now()
	for i := 0; i < n; i++ {
		if err := l.Acquire(context.Background()); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	burstElapsed := time.Since(start)
	if burstElapsed > 50*time.Millisecond {
		t.Errorf("first %d acquires took %v, want near-instant", n, burstElapsed)
	}

	start = time.Now()
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire n+1: %v", err)
	}
	waited := time.Since(start)
	minWait := window / time.Duration(n)
	if waited < minWait/2 {
		t.Errorf("(n+1)th acquire waited %v, want at least ~%v", waited, minWait)
	}
}

func TestLimiter_SafetyMargin(t *testing.T) {
	l := New(10, time.Minute, 0.5)
	if got, want := l.EffectiveLimit(), 5; got != want {
		t.Errorf("EffectiveLimit() = %d, want %d", got, want)
	}
}

func TestLimiter_CancelledContext(t *testing.T) {
	l := New(1, time.Minute, 1.0)
	ctx := context.Background()
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Acquire(cancelled); err == nil {
		t.Error("expected error acquiring with a cancelled context")
	}
}

func TestRegistry_PreConfiguredClasses(t *testing.T) {
	r := NewRegistry(1.0)
	tests := []struct {
		class Class
		want  int
	}{
		{ClassAuth, 5},
		{ClassAPI, 20},
		{ClassManagement, 50},
		{ClassAuditor, 250},
		{ClassAuditorWrite, 10},
		{ClassAuditorEvidence, 600},
	}
	for _, tt := range tests {
		if got := r.For(tt.class).EffectiveLimit(); got != tt.want {
			t.Errorf("For(%s).EffectiveLimit() = %d, want %d", tt.class, got, tt.want)
		}
	}
}

func TestRegistry_UnknownClassFallsBackToAPI(t *testing.T) {
	r := NewRegistry(1.0)
	if got, want := r.For(Class("bogus")).EffectiveLimit(), r.For(ClassAPI).EffectiveLimit(); got != want {
		t.Errorf("unknown class limiter = %d, want fallback to api = %d", got, want)
	}
}
