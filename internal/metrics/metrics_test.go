package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeBackend is an in-memory Backend implementation for tests.
type fakeBackend struct {
	mu sync.Mutex

	counters   []counterCall
	durations  []durationCall
	flushCount int
}

type counterCall struct {
	name   string
	delta  float64
	labels Labels
}

type durationCall struct {
	name    string
	seconds float64
	labels  Labels
}

func (f *fakeBackend) IncCounter(name string, delta float64, labels Labels) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters = append(f.counters, counterCall{name, delta, labels})
}

func (f *fakeBackend) ObserveDuration(name string, seconds float64, labels Labels) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.durations = append(f.durations, durationCall{name, seconds, labels})
}

func (f *fakeBackend) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushCount++
	return nil
}

func TestRecordStep_SuccessAndFailure(t *testing.T) {
	orig := backend
	defer func() { backend = orig }()

	fb := &fakeBackend{}
	backend = fb

	RecordStep("subscription", "transform", nil, 2*time.Second)
	RecordStep("appointment", "load", errors.New("boom"), 1500*time.Millisecond)

	if len(fb.counters) != 2 || len(fb.durations) != 2 {
		t.Fatalf("got %d counters / %d durations, want 2 / 2", len(fb.counters), len(fb.durations))
	}
	if got := fb.counters[0].labels["status"]; got != "success" {
		t.Errorf("counter[0] status = %q, want success", got)
	}
	if got := fb.counters[1].labels["status"]; got != "failure" {
		t.Errorf("counter[1] status = %q, want failure", got)
	}
	if got := fb.durations[1].seconds; got != 1.5 {
		t.Errorf("duration[1] = %v, want 1.5", got)
	}
}

func TestRecordRows_IgnoresNonPositive(t *testing.T) {
	orig := backend
	defer func() { backend = orig }()

	fb := &fakeBackend{}
	backend = fb

	RecordRows("subscription", "succeeded", 0)
	RecordRows("subscription", "succeeded", -3)
	RecordRows("subscription", "succeeded", 5)

	if len(fb.counters) != 1 {
		t.Fatalf("got %d counter calls, want 1", len(fb.counters))
	}
	if fb.counters[0].delta != 5 {
		t.Fatalf("delta = %v, want 5", fb.counters[0].delta)
	}
}

func TestNopBackendIsDefaultSafe(t *testing.T) {
	// Must not panic with no backend configured.
	RecordStep("subscription", "x", nil, time.Second)
	RecordRows("subscription", "y", 1)
	RecordBatches("subscription", 1)
	if err := Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}
