// Nutward - UPS Service Supervision and Connection Health for Network UPS Tools
// Copyright 2026 Nutward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nutward/nutward

package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nutward/nutward/internal/config"
	"github.com/nutward/nutward/internal/nut"
)

func openTestStore(t *testing.T) *SnapshotStore {
	t.Helper()
	s, err := Open(config.StoreConfig{
		Path:       t.TempDir(),
		TTL:        time.Hour,
		GCInterval: time.Minute,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return s
}

func snapshotAt(ts time.Time, status string) *nut.Snapshot {
	return &nut.Snapshot{
		UPS:     "ups",
		TakenAt: ts,
		Vars:    map[string]string{"ups.status": status, "battery.charge": "87"},
	}
}

func TestSaveAssignsID(t *testing.T) {
	s := openTestStore(t)
	snap := snapshotAt(time.Now().UTC(), "OL")

	if err := s.Save(context.Background(), snap); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if snap.ID == "" {
		t.Error("Save should assign an ID")
	}
}

func TestLatestEmpty(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Latest(context.Background()); !errors.Is(err, ErrNoSnapshots) {
		t.Fatalf("expected ErrNoSnapshots, got %v", err)
	}
}

func TestLatestReturnsNewest(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 3; i++ {
		snap := snapshotAt(base.Add(time.Duration(i)*time.Minute), fmt.Sprintf("OL-%d", i))
		if err := s.Save(ctx, snap); err != nil {
			t.Fatalf("Save #%d: %v", i, err)
		}
	}

	latest, err := s.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if got := latest.Vars["ups.status"]; got != "OL-2" {
		t.Errorf("latest status = %q, want OL-2", got)
	}
}

func TestRecentNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 5; i++ {
		if err := s.Save(ctx, snapshotAt(base.Add(time.Duration(i)*time.Second), fmt.Sprintf("S%d", i))); err != nil {
			t.Fatalf("Save #%d: %v", i, err)
		}
	}

	snaps, err := s.Recent(ctx, 3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(snaps) != 3 {
		t.Fatalf("expected 3 snapshots, got %d", len(snaps))
	}
	for i, want := range []string{"S4", "S3", "S2"} {
		if got := snaps[i].Vars["ups.status"]; got != want {
			t.Errorf("snaps[%d] = %q, want %q", i, got, want)
		}
	}
}

func TestRecentLimitLargerThanStore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, snapshotAt(time.Now().UTC(), "OL")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	snaps, err := s.Recent(ctx, 100)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(snaps) != 1 {
		t.Errorf("expected 1 snapshot, got %d", len(snaps))
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ts := time.Now().UTC().Truncate(time.Millisecond)

	in := snapshotAt(ts, "OB LB")
	if err := s.Save(ctx, in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	out, err := s.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if out.ID != in.ID || out.UPS != in.UPS || !out.TakenAt.Equal(ts) {
		t.Errorf("round trip mismatch: got %+v, want %+v", out, in)
	}
	if out.Vars["battery.charge"] != "87" {
		t.Errorf("vars not preserved: %v", out.Vars)
	}
}
