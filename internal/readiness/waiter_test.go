package readiness

import (
	"context"
	"errors"
	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	"github.com/google/go-cmp/cmp"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

type logSink struct {
	mu    sync.Mutex
	lines []string
}

func (s *logSink) logger() logr.Logger {
	return funcr.New(func(prefix, args string) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.lines = append(s.lines, args)
	}, funcr.Options{})
}

func (s *logSink) count(substr string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, l := range s.lines {
		if strings.Contains(l, substr) {
			n++
		}
	}
	return n
}

type countingProbe struct {
	calls   int
	readyAt int
	fn      func(call int) (bool, error)
}

func (p *countingProbe) Ready(_ context.Context, _ string) (bool, error) {
	p.calls++
	if p.fn != nil {
		return p.fn(p.calls)
	}
	return p.readyAt > 0 && p.calls >= p.readyAt, nil
}

func TestWaiter_NeverHealthy(t *testing.T) {
	clock := newFakeClock()
	start := clock.Now()
	logs := &logSink{}
	probe := &countingProbe{}

	w := NewWaiter().SetClock(clock).SetLogger(logs.logger())
	if w.AwaitReady(context.Background(), Target{Service: "runner--7", Probe: probe}) {
		t.Fatal("AwaitReady() = true, want false")
	}

	if got := clock.Now().Sub(start); got != Deadline {
		t.Errorf("waited %v, want %v", got, Deadline)
	}
	if probe.calls != 16 {
		t.Errorf("probe called %d times, want 16", probe.calls)
	}
	if n := logs.count("taking longer than usual"); n != 1 {
		t.Errorf("slow notice emitted %d times, want 1", n)
	}
	if n := logs.count("still waiting"); n != 1 {
		t.Errorf("still notice emitted %d times, want 1", n)
	}
	if n := logs.count("did not become ready in time"); n != 1 {
		t.Errorf("timeout warning emitted %d times, want 1", n)
	}
	if n := logs.count(`"warning"=true`); n != 3 {
		t.Errorf("%d warnings, want 3", n)
	}
}

func TestWaiter_Ready(t *testing.T) {
	tests := []struct {
		name       string
		readyAt    int
		wantSleeps []time.Duration
	}{
		{
			name:    "healthy on first probe",
			readyAt: 1,
		},
		{
			name:       "healthy on third probe",
			readyAt:    3,
			wantSleeps: []time.Duration{Interval, Interval},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			probe := &countingProbe{readyAt: tt.readyAt}

			w := NewWaiter().SetClock(clock)
			if !w.AwaitReady(context.Background(), Target{Service: "selection--7", Probe: probe}) {
				t.Fatal("AwaitReady() = false, want true")
			}
			if probe.calls != tt.readyAt {
				t.Errorf("probe called %d times, want %d", probe.calls, tt.readyAt)
			}
			if diff := cmp.Diff(tt.wantSleeps, clock.sleeps); diff != "" {
				t.Errorf("sleeps (-want +got):\n%s", diff)
			}
		})
	}
}

func TestWaiter_ProbeFailures(t *testing.T) {
	clock := newFakeClock()
	start := clock.Now()
	probe := &countingProbe{fn: func(call int) (bool, error) {
		switch {
		case call%3 == 0:
			panic("probe exploded")
		case call%2 == 0:
			return false, errors.New("connection refused")
		default:
			return false, nil
		}
	}}

	w := NewWaiter().SetClock(clock)
	if w.AwaitReady(context.Background(), Target{Service: "fitness--7", Probe: probe}) {
		t.Fatal("AwaitReady() = true, want false")
	}
	if got := clock.Now().Sub(start); got != Deadline {
		t.Errorf("waited %v, want %v", got, Deadline)
	}
}

func TestWaiter_RecoversAfterErrors(t *testing.T) {
	clock := newFakeClock()
	probe := &countingProbe{fn: func(call int) (bool, error) {
		if call < 4 {
			return false, errors.New("no such host")
		}
		return true, nil
	}}

	w := NewWaiter().SetClock(clock)
	if !w.AwaitReady(context.Background(), Target{Service: "runner--7", Probe: probe}) {
		t.Fatal("AwaitReady() = false, want true")
	}
	if probe.calls != 4 {
		t.Errorf("probe called %d times, want 4", probe.calls)
	}
}

func TestWaiter_Cancelled(t *testing.T) {
	clock := newFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	probe := &countingProbe{fn: func(call int) (bool, error) {
		if call == 2 {
			cancel()
		}
		return false, nil
	}}

	w := NewWaiter().SetClock(clock)
	if w.AwaitReady(ctx, Target{Service: "runner--7", Probe: probe}) {
		t.Fatal("AwaitReady() = true, want false")
	}
	if probe.calls != 2 {
		t.Errorf("probe called %d times, want 2", probe.calls)
	}
	if len(clock.sleeps) != 1 {
		t.Errorf("slept %d times, want 1", len(clock.sleeps))
	}
}

// slowClock reports no progress at all, the wait must still end.
type slowClock struct {
	fakeClock
}

func (c *slowClock) Sleep(ctx context.Context, d time.Duration) error {
	c.sleeps = append(c.sleeps, d)
	return ctx.Err()
}

func TestWaiter_StalledClock(t *testing.T) {
	clock := &slowClock{fakeClock: *newFakeClock()}
	w := NewWaiter().SetClock(clock)
	if w.AwaitReady(context.Background(), Target{Service: "runner--7", Probe: &countingProbe{}}) {
		t.Fatal("AwaitReady() = true, want false")
	}
	var total time.Duration
	for _, d := range clock.sleeps {
		total += d
	}
	if total != Deadline {
		t.Errorf("requested %v of sleep, want %v", total, Deadline)
	}
}

func TestState_Step(t *testing.T) {
	tests := []struct {
		name  string
		steps []time.Duration
		want  [][]Notice
	}{
		{
			name:  "before any threshold",
			steps: []time.Duration{3 * time.Second, 12 * time.Second},
			want:  [][]Notice{nil, nil},
		},
		{
			name:  "threshold is exclusive",
			steps: []time.Duration{15 * time.Second, time.Second},
			want:  [][]Notice{nil, {NoticeSlow}},
		},
		{
			name:  "both notices at once",
			steps: []time.Duration{31 * time.Second},
			want:  [][]Notice{{NoticeSlow, NoticeStill}},
		},
		{
			name:  "notices are one-shot",
			steps: []time.Duration{18 * time.Second, 3 * time.Second, 12 * time.Second, 3 * time.Second},
			want:  [][]Notice{{NoticeSlow}, nil, {NoticeStill}, nil},
		},
		{
			name:  "negative steps are ignored",
			steps: []time.Duration{-time.Minute, 16 * time.Second},
			want:  [][]Notice{nil, {NoticeSlow}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var st State
			var got [][]Notice
			for _, d := range tt.steps {
				got = append(got, st.Step(d))
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Step() (-want +got):\n%s", diff)
			}
		})
	}
}

func TestState_Next(t *testing.T) {
	if got := (State{}).Next(); got != Interval {
		t.Errorf("Next() = %v, want %v", got, Interval)
	}
	if got := (State{Elapsed: 44 * time.Second}).Next(); got != time.Second {
		t.Errorf("Next() = %v, want 1s", got)
	}
	if !(State{Elapsed: Deadline}).Expired() {
		t.Error("Expired() = false at the deadline")
	}
}
