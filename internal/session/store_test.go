package session

import (
	"errors"
	"log/slog"
	"testing"
	"time"
)

func newTestStore(t *testing.T, max int, clock *manualClock) *Store {
	t.Helper()
	return NewStore(max, time.Hour, clock.Now, slog.Default())
}

func TestStore_CreateAndGet(t *testing.T) {
	clock := newManualClock()
	st := newTestStore(t, 10, clock)

	s, err := st.Create("user@example.com", "vm down", nil, "")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if s.TraceID == "" {
		t.Fatal("Create did not generate a trace ID")
	}

	got, err := st.Get(s.TraceID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got != s {
		t.Error("Get returned a different session instance")
	}
}

func TestStore_ResumeReturnsSameSession(t *testing.T) {
	clock := newManualClock()
	st := newTestStore(t, 10, clock)

	s, _ := st.Create("user@example.com", "vm down", nil, "trace-resume")
	s.IncrementCounters()
	s.AddFinding("something", "info", "scope")

	got, err := st.Get("trace-resume")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.CallCount() != 1 || len(got.Findings()) != 1 {
		t.Error("resumed session lost accumulated state")
	}
}

func TestStore_GetMissing(t *testing.T) {
	clock := newManualClock()
	st := newTestStore(t, 10, clock)

	_, err := st.Get("no-such-trace")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get error = %v, want ErrNotFound", err)
	}
}

func TestStore_Delete(t *testing.T) {
	clock := newManualClock()
	st := newTestStore(t, 10, clock)

	st.Create("user@example.com", "vm down", nil, "trace-del")
	if !st.Delete("trace-del") {
		t.Error("Delete existing session = false")
	}
	if st.Delete("trace-del") {
		t.Error("Delete missing session = true")
	}
}

func TestStore_CapacityEvictsOldestIdle(t *testing.T) {
	clock := newManualClock()
	st := newTestStore(t, 3, clock)

	st.Create("u", "first", nil, "t1")
	clock.Advance(time.Minute)
	st.Create("u", "second", nil, "t2")
	clock.Advance(time.Minute)
	st.Create("u", "third", nil, "t3")
	clock.Advance(time.Minute)

	s4, err := st.Create("u", "fourth", nil, "t4")
	if err != nil {
		t.Fatalf("Create at capacity error: %v", err)
	}

	// Exactly the least-recently-active session goes; never the new one.
	if _, err := st.Get("t1"); !errors.Is(err, ErrNotFound) {
		t.Error("t1 should have been evicted")
	}
	for _, id := range []string{"t2", "t3", "t4"} {
		if _, err := st.Get(id); err != nil {
			t.Errorf("%s should survive eviction: %v", id, err)
		}
	}
	if s4.TraceID != "t4" {
		t.Errorf("new session trace = %s", s4.TraceID)
	}
}

func TestStore_CapacityPrefersExpired(t *testing.T) {
	clock := newManualClock()
	st := newTestStore(t, 2, clock)

	st.Create("u", "old", nil, "t1")
	clock.Advance(2 * time.Hour) // t1 idles past the timeout
	st.Create("u", "newer", nil, "t2")

	if _, err := st.Create("u", "newest", nil, "t3"); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if _, err := st.Get("t1"); !errors.Is(err, ErrNotFound) {
		t.Error("expired t1 should have been swept")
	}
	if _, err := st.Get("t2"); err != nil {
		t.Errorf("t2 should survive: %v", err)
	}
}

func TestStore_AllBusyAtCapacity(t *testing.T) {
	clock := newManualClock()
	st := newTestStore(t, 2, clock)

	s1, _ := st.Create("u", "one", nil, "t1")
	s2, _ := st.Create("u", "two", nil, "t2")
	s1.SetBusy(true)
	s2.SetBusy(true)

	if _, err := st.Create("u", "three", nil, "t3"); err == nil {
		t.Fatal("Create should fail when all resident sessions are busy")
	}

	s1.SetBusy(false)
	if _, err := st.Create("u", "three", nil, "t3"); err != nil {
		t.Fatalf("Create after a session freed: %v", err)
	}
	if _, err := st.Get("t2"); err != nil {
		t.Errorf("busy t2 must not be evicted: %v", err)
	}
}

func TestStore_ListFiltersAndSorts(t *testing.T) {
	clock := newManualClock()
	st := newTestStore(t, 10, clock)

	st.Create("alice@example.com", "a", nil, "t1")
	clock.Advance(time.Minute)
	st.Create("bob@example.com", "b", nil, "t2")
	clock.Advance(time.Minute)
	st.Create("alice@example.com", "c", nil, "t3")

	got := st.List("alice@example.com")
	if len(got) != 2 {
		t.Fatalf("List = %d sessions, want 2", len(got))
	}
	if got[0].TraceID != "t1" || got[1].TraceID != "t3" {
		t.Errorf("List order = [%s, %s], want [t1, t3]", got[0].TraceID, got[1].TraceID)
	}
}

func TestStore_Stats(t *testing.T) {
	clock := newManualClock()
	st := newTestStore(t, 5, clock)

	st.Create("u", "one", nil, "t1")
	clock.Advance(2 * time.Hour)
	st.Create("u", "two", nil, "t2")

	stats := st.Stats()
	if stats.Total != 2 || stats.Active != 1 || stats.Expired != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.CapacityUsage != "2/5" {
		t.Errorf("capacity = %q, want 2/5", stats.CapacityUsage)
	}
	if stats.EstimatedMemoryMB <= 0 {
		t.Error("memory estimate should be positive")
	}
}
