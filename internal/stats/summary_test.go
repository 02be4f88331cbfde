package stats

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func TestSummaryCounts(t *testing.T) {
	s := NewSummary()
	s.Record(1, "true", 0, 10*time.Millisecond)
	s.Record(2, "exit 2", 2, 30*time.Millisecond)
	s.RecordSpawnFailure(3, "nope")

	snap := s.Snapshot()
	if snap.Succeeded != 1 || snap.Failed != 1 || snap.SpawnFailures != 1 {
		t.Errorf("unexpected counts %+v", snap)
	}
	if snap.Count() != 3 || snap.OK() {
		t.Errorf("Count() = %d, OK() = %v", snap.Count(), snap.OK())
	}
	if snap.Min != 10*time.Millisecond || snap.Max != 30*time.Millisecond {
		t.Errorf("min/max = %v/%v", snap.Min, snap.Max)
	}
	if snap.Total != 40*time.Millisecond {
		t.Errorf("total = %v", snap.Total)
	}

	want := []Failure{{ID: 2, Command: "exit 2", ExitCode: 2}, {ID: 3, Command: "nope", ExitCode: -1}}
	if len(snap.Failures) != len(want) {
		t.Fatalf("failures = %+v", snap.Failures)
	}
	for i := range want {
		if snap.Failures[i] != want[i] {
			t.Errorf("failure %d = %+v, want %+v", i, snap.Failures[i], want[i])
		}
	}
}

func TestSummaryPercentiles(t *testing.T) {
	s := NewSummary()
	for i := 1; i <= 1000; i++ {
		s.Record(i, "sleep", 0, time.Duration(i)*time.Millisecond)
	}

	snap := s.Snapshot()
	checks := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"p50", snap.P50, 500 * time.Millisecond},
		{"p90", snap.P90, 900 * time.Millisecond},
		{"p99", snap.P99, 990 * time.Millisecond},
	}
	for _, c := range checks {
		diff := c.got - c.want
		if diff < 0 {
			diff = -diff
		}
		// t-digest is an estimate; 2% of the range is plenty for 1000 samples
		if diff > 20*time.Millisecond {
			t.Errorf("%s = %v, want about %v", c.name, c.got, c.want)
		}
	}
	if !(snap.P50 <= snap.P90 && snap.P90 <= snap.P99 && snap.P99 <= snap.Max) {
		t.Errorf("percentiles not monotonic: %v %v %v %v", snap.P50, snap.P90, snap.P99, snap.Max)
	}
}

func TestSummarySingleSample(t *testing.T) {
	s := NewSummary()
	s.Record(1, "true", 0, 42*time.Millisecond)

	snap := s.Snapshot()
	if snap.P50 != 42*time.Millisecond || snap.P99 != 42*time.Millisecond {
		t.Errorf("single sample percentiles = %v/%v", snap.P50, snap.P99)
	}
}

func TestSummaryEmpty(t *testing.T) {
	snap := NewSummary().Snapshot()
	if snap.Count() != 0 || !snap.OK() || snap.Min != 0 || snap.P50 != 0 {
		t.Errorf("unexpected empty snapshot %+v", snap)
	}
}

func TestSummaryConcurrentRecord(t *testing.T) {
	s := NewSummary()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s.Record(i, "x", 0, time.Millisecond)
			}
		}()
	}
	wg.Wait()

	if got := s.Snapshot().Succeeded; got != 800 {
		t.Errorf("Succeeded = %d, want 800", got)
	}
}

func TestRender(t *testing.T) {
	s := NewSummary()
	s.Record(1, "true", 0, 10*time.Millisecond)
	s.Record(2, "exit 3", 3, 2*time.Second)
	s.RecordSpawnFailure(3, "missing-binary --flag")
	s.SetWallTime(3 * time.Second)

	out := Render(s.Snapshot())
	for _, want := range []string{"procpool summary", "FAILED", "3 total, 1 ok, 1 failed, 1 not started", "[2] exit 3", "[3] exit -1", "missing-binary --flag", "3s"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in:\n%s", want, out)
		}
	}

	ok := NewSummary()
	ok.Record(1, "true", 0, time.Millisecond)
	if out := Render(ok.Snapshot()); !strings.Contains(out, "OK") || strings.Contains(out, "failures") {
		t.Errorf("unexpected render for successful run:\n%s", out)
	}
}

func TestRenderTruncatesFailureList(t *testing.T) {
	s := NewSummary()
	for i := 1; i <= maxListedFailures+5; i++ {
		s.Record(i, "false", 1, time.Millisecond)
	}

	out := Render(s.Snapshot())
	if !strings.Contains(out, "... and 5 more") {
		t.Errorf("expected truncation note in:\n%s", out)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate short = %q", got)
	}
	if got := truncate("a\nb", 10); got != "a b" {
		t.Errorf("truncate newline = %q", got)
	}
	if got := truncate(strings.Repeat("x", 20), 10); got != "xxxxxxx..." {
		t.Errorf("truncate long = %q", got)
	}
}
