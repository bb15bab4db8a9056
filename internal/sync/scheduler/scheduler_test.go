package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dl-alexandre/gsyncfs/internal/testing/mocks"
	"github.com/jonboulle/clockwork"
)

var testConfig = Config{Initial: 2 * time.Second, Max: 64 * time.Second, Offline: 120 * time.Second}

func TestNextDelay(t *testing.T) {
	tests := []struct {
		name    string
		current time.Duration
		changes int
		err     error
		want    time.Duration
	}{
		{"no changes doubles", 2 * time.Second, 0, nil, 4 * time.Second},
		{"doubling is capped", 48 * time.Second, 0, nil, 64 * time.Second},
		{"at cap stays", 64 * time.Second, 0, nil, 64 * time.Second},
		{"changes reset", 32 * time.Second, 3, nil, 2 * time.Second},
		{"offline jumps", 4 * time.Second, 0, mocks.OfflineError(), 120 * time.Second},
		{"error keeps delay", 16 * time.Second, 0, errors.New("boom"), 16 * time.Second},
		{"back from offline", 120 * time.Second, 0, nil, 64 * time.Second},
		{"back from offline with changes", 120 * time.Second, 1, nil, 2 * time.Second},
		{"below initial is raised", 0, 0, errors.New("boom"), 2 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextDelay(tt.current, tt.changes, tt.err, testConfig); got != tt.want {
				t.Errorf("NextDelay() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextDelay_Bounds(t *testing.T) {
	outcomes := []struct {
		changes int
		err     error
	}{
		{0, nil}, {0, nil}, {5, nil}, {0, mocks.OfflineError()}, {0, nil},
		{0, errors.New("boom")}, {0, nil}, {0, nil}, {0, nil}, {0, nil}, {0, nil}, {0, nil},
	}

	delay := testConfig.Initial
	prevZero := time.Duration(0)
	for i, o := range outcomes {
		next := NextDelay(delay, o.changes, o.err, testConfig)
		if next < testConfig.Initial || next > testConfig.Offline {
			t.Fatalf("step %d: delay %v outside bounds", i, next)
		}
		if o.changes > 0 && next != testConfig.Initial {
			t.Errorf("step %d: changes did not reset delay", i)
		}
		if o.err == nil && o.changes == 0 && delay <= testConfig.Max {
			if next < delay || next > testConfig.Max {
				t.Errorf("step %d: zero change delay %v -> %v", i, delay, next)
			}
			prevZero = next
		}
		delay = next
	}
	if prevZero != testConfig.Max {
		t.Errorf("consecutive zero change polls settled at %v, want %v", prevZero, testConfig.Max)
	}
}

type pollRecorder struct {
	results []int
	errs    []error
	calls   int
}

func (p *pollRecorder) poll(ctx context.Context) (int, error) {
	i := p.calls
	p.calls++
	if i < len(p.results) {
		return p.results[i], p.errs[i]
	}
	return 0, nil
}

func TestScheduler_TimerDrivenPolls(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := &pollRecorder{results: []int{0, 2, 0}, errs: []error{nil, nil, mocks.OfflineError()}}
	s := New(testConfig, rec.poll, clock, nil)

	results := make(chan Result, 8)
	s.SetObserver(func(r Result) { results <- r })
	s.Start(context.Background())
	defer s.Stop()

	if s.Delay() != testConfig.Initial {
		t.Fatalf("initial delay = %v", s.Delay())
	}

	want := []time.Duration{4 * time.Second, 2 * time.Second, 120 * time.Second}
	wait := testConfig.Initial
	for i, w := range want {
		clock.BlockUntil(1)
		clock.Advance(wait)
		select {
		case r := <-results:
			if r.Delay != w {
				t.Errorf("poll %d delay = %v, want %v", i, r.Delay, w)
			}
			wait = r.Delay
		case <-time.After(2 * time.Second):
			t.Fatalf("poll %d did not run", i)
		}
	}
	if s.Delay() != 120*time.Second {
		t.Errorf("Delay() = %v", s.Delay())
	}
}

func TestScheduler_Trigger(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := &pollRecorder{}
	s := New(testConfig, rec.poll, clock, nil)

	results := make(chan Result, 8)
	s.SetObserver(func(r Result) { results <- r })
	s.Start(context.Background())
	defer s.Stop()

	s.Trigger()
	select {
	case <-results:
	case <-time.After(2 * time.Second):
		t.Fatal("triggered poll did not run")
	}
	if rec.calls != 1 {
		t.Errorf("calls = %d, want 1", rec.calls)
	}
}

func TestScheduler_StopPreventsFurtherPolls(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := &pollRecorder{}
	s := New(testConfig, rec.poll, clock, nil)
	s.Start(context.Background())

	clock.BlockUntil(1)
	s.Stop()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit")
	}

	clock.Advance(time.Hour)
	s.Trigger()
	if rec.calls != 0 {
		t.Errorf("calls after Stop = %d", rec.calls)
	}
	s.Stop()
}
