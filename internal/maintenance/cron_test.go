package maintenance

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestAddJobRejectsInvalidSpec(t *testing.T) {
	s := NewScheduler()
	if err := s.AddJob("bad", "not a cron spec", func(context.Context) {}); err == nil {
		t.Fatal("expected AddJob to reject an invalid cron spec")
	}
}

func TestAddJobReplacesPriorEntryUnderSameName(t *testing.T) {
	s := NewScheduler()
	if err := s.AddJob("sweep", "@every 1h", func(context.Context) {}); err != nil {
		t.Fatalf("AddJob (first): %v", err)
	}
	firstID := s.ids["sweep"]

	if err := s.AddJob("sweep", "@every 2h", func(context.Context) {}); err != nil {
		t.Fatalf("AddJob (replacement): %v", err)
	}
	if len(s.ids) != 1 {
		t.Fatalf("ids has %d entries, want 1 (replacement should not accumulate)", len(s.ids))
	}
	if s.ids["sweep"] == firstID {
		t.Fatal("expected the replacement to register a new cron entry id")
	}
}

func TestSchedulerRunsRegisteredJob(t *testing.T) {
	s := NewScheduler()
	var ran atomic.Bool
	if err := s.AddJob("tick", "@every 1s", func(context.Context) { ran.Store(true) }); err != nil {
		t.Fatalf("AddJob: %v", err)
	}
	s.Start()
	defer s.Stop(context.Background())

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if ran.Load() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("expected the scheduled job to run within 3 seconds")
}
