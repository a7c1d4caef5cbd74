// Nutward - UPS Service Supervision and Connection Health for Network UPS Tools
// Copyright 2026 Nutward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nutward/nutward

package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nutward/nutward/internal/nut"
)

type fakeFetcher struct {
	snap  *nut.Snapshot
	err   error
	calls int
}

func (f *fakeFetcher) Fetch(context.Context) (*nut.Snapshot, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.snap, nil
}

type fakeSink struct {
	saved []*nut.Snapshot
	err   error
}

func (f *fakeSink) Save(_ context.Context, snap *nut.Snapshot) error {
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, snap)
	return nil
}

type fixedHealth bool

func (f fixedHealth) IsConnected() bool { return bool(f) }

func testSnapshot() *nut.Snapshot {
	return &nut.Snapshot{
		ID:      "test",
		UPS:     "ups",
		TakenAt: time.Now(),
		Vars:    map[string]string{"ups.status": "OL", "battery.charge": "100"},
	}
}

func TestPollerSavesWhileConnected(t *testing.T) {
	fetcher := &fakeFetcher{snap: testSnapshot()}
	sink := &fakeSink{}
	p := NewPoller(fetcher, sink, fixedHealth(true), func() int { return 30 })

	delay := p.cycle(context.Background())
	if delay != 30*time.Second {
		t.Errorf("delay = %v, want 30s", delay)
	}
	if len(sink.saved) != 1 {
		t.Fatalf("expected 1 saved snapshot, got %d", len(sink.saved))
	}
	if p.failures != 0 {
		t.Errorf("failures = %d, want 0", p.failures)
	}
}

// While the connection is down the poller must not touch the device at
// all, and the cycle still paces at the configured interval.
func TestPollerSkipsWhileDisconnected(t *testing.T) {
	fetcher := &fakeFetcher{snap: testSnapshot()}
	sink := &fakeSink{}
	p := NewPoller(fetcher, sink, fixedHealth(false), func() int { return 10 })

	for i := 0; i < 5; i++ {
		if delay := p.cycle(context.Background()); delay != 10*time.Second {
			t.Errorf("delay = %v, want 10s", delay)
		}
	}
	if fetcher.calls != 0 {
		t.Errorf("fetch called %d times while disconnected", fetcher.calls)
	}
	if len(sink.saved) != 0 {
		t.Errorf("nothing should be saved while disconnected, got %d", len(sink.saved))
	}
}

func TestPollerFetchFailureBacksOff(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("read timeout")}
	p := NewPoller(fetcher, &fakeSink{}, fixedHealth(true), func() int { return 30 })

	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i, w := range want {
		if got := p.cycle(context.Background()); got != w {
			t.Errorf("cycle %d: delay = %v, want %v", i+1, got, w)
		}
	}

	// The failure backoff saturates at five minutes.
	p.failures = 60
	if got := p.cycle(context.Background()); got != pollBackoffCap {
		t.Errorf("saturated delay = %v, want %v", got, pollBackoffCap)
	}
}

func TestPollerSaveFailureBacksOff(t *testing.T) {
	fetcher := &fakeFetcher{snap: testSnapshot()}
	sink := &fakeSink{err: errors.New("disk full")}
	p := NewPoller(fetcher, sink, fixedHealth(true), func() int { return 30 })

	if got := p.cycle(context.Background()); got != 2*time.Second {
		t.Errorf("delay = %v, want 2s after one save failure", got)
	}
	if p.failures != 1 {
		t.Errorf("failures = %d, want 1", p.failures)
	}
}

func TestPollerSuccessResetsFailures(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("read timeout")}
	sink := &fakeSink{}
	p := NewPoller(fetcher, sink, fixedHealth(true), func() int { return 30 })

	p.cycle(context.Background())
	p.cycle(context.Background())

	fetcher.err = nil
	fetcher.snap = testSnapshot()
	if got := p.cycle(context.Background()); got != 30*time.Second {
		t.Errorf("delay = %v, want 30s after recovery", got)
	}
	if p.failures != 0 {
		t.Errorf("failures = %d, want 0 after success", p.failures)
	}
}

// The interval source is consulted every cycle and out-of-range values
// are clamped.
func TestPollerIntervalReadEveryCycle(t *testing.T) {
	intervals := []int{30, 120, 0}
	i := 0
	source := func() int {
		v := intervals[i]
		i++
		return v
	}
	fetcher := &fakeFetcher{snap: testSnapshot()}
	p := NewPoller(fetcher, &fakeSink{}, fixedHealth(true), source)

	want := []time.Duration{30 * time.Second, 60 * time.Second, time.Second}
	for n, w := range want {
		if got := p.cycle(context.Background()); got != w {
			t.Errorf("cycle %d: delay = %v, want %v", n+1, got, w)
		}
	}
}
