package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jholhewres/clawbridge/pkg/clawbridge/history"
)

func TestAddValidation(t *testing.T) {
	s := New(nil, nil, nil)

	tests := []struct {
		name string
		job  *Job
	}{
		{"missing_id", &Job{Schedule: "@daily", Prompt: "p"}},
		{"missing_schedule", &Job{ID: "j1", Prompt: "p"}},
		{"missing_prompt", &Job{ID: "j1", Schedule: "@daily"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Add(tt.job); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	job := &Job{ID: "j1", Schedule: "@daily", Prompt: "morning briefing", Enabled: true}
	if err := s.Add(job); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add(&Job{ID: "j1", Schedule: "@daily", Prompt: "dup"}); err == nil {
		t.Error("expected duplicate ID error")
	}
}

func TestAddRejectsInvalidCronExpression(t *testing.T) {
	s := New(nil, nil, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	err := s.Add(&Job{ID: "bad", Schedule: "not a cron expr", Prompt: "p", Enabled: true})
	if err == nil {
		t.Fatal("expected schedule parse error")
	}
}

func TestRemoveAndList(t *testing.T) {
	s := New(nil, nil, nil)
	s.Add(&Job{ID: "a", Schedule: "@daily", Prompt: "p"})
	s.Add(&Job{ID: "b", Schedule: "@hourly", Prompt: "p"})

	if got := len(s.List()); got != 2 {
		t.Fatalf("List length = %d, want 2", got)
	}
	if err := s.Remove("a"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := s.Get("a"); ok {
		t.Error("removed job still present")
	}
	if err := s.Remove("a"); err == nil {
		t.Error("expected not-found error on second remove")
	}
}

func TestExecuteSkipsOverlappingRun(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	runs := 0
	handler := func(ctx context.Context, job *Job) (string, error) {
		runs++
		close(started)
		<-release
		return "done", nil
	}

	s := New(nil, handler, nil)
	job := &Job{ID: "slow", Schedule: "@hourly", Prompt: "p", Enabled: true}
	s.Add(job)

	go s.executeJob(job)
	<-started

	// Second fire while the first is still running must be skipped.
	s.executeJob(job)
	close(release)

	deadline := time.After(2 * time.Second)
	for {
		s.mu.RLock()
		running := s.runningJobs[job.ID]
		s.mu.RUnlock()
		if !running {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first run never finished")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if runs != 1 {
		t.Errorf("handler runs = %d, want 1", runs)
	}
	if job.RunCount != 1 {
		t.Errorf("RunCount = %d, want 1", job.RunCount)
	}
}

func TestExecuteRecordsOutcome(t *testing.T) {
	handler := func(ctx context.Context, job *Job) (string, error) {
		return "briefing text", nil
	}
	s := New(nil, handler, nil)
	job := &Job{ID: "ok", Schedule: "@daily", Prompt: "p", Enabled: true}
	s.Add(job)

	s.executeJob(job)
	if job.LastRunAt == nil || job.RunCount != 1 || job.LastError != "" {
		t.Errorf("job state = %+v", job)
	}
}

func TestStorageRoundTrip(t *testing.T) {
	db, err := history.OpenDatabase(filepath.Join(t.TempDir(), "clawbridge.db"))
	if err != nil {
		t.Fatalf("OpenDatabase: %v", err)
	}
	defer db.Close()
	storage := NewSQLJobStorage(db)

	now := time.Now().UTC().Truncate(time.Second)
	job := &Job{
		ID:        "morning",
		Schedule:  "0 7 * * *",
		Prompt:    "summarize the house state",
		SessionID: "briefings",
		Enabled:   true,
		CreatedAt: now,
		LastRunAt: &now,
		LastError: "",
		RunCount:  3,
	}
	if err := storage.Save(job); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := storage.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("loaded %d jobs, want 1", len(loaded))
	}
	got := loaded[0]
	if got.ID != "morning" || got.Schedule != "0 7 * * *" || !got.Enabled || got.RunCount != 3 {
		t.Errorf("loaded job = %+v", got)
	}
	if got.LastRunAt == nil || !got.LastRunAt.Equal(now) {
		t.Errorf("LastRunAt = %v, want %v", got.LastRunAt, now)
	}

	if err := storage.Delete("morning"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	loaded, _ = storage.LoadAll()
	if len(loaded) != 0 {
		t.Errorf("jobs after delete = %d", len(loaded))
	}
}

func TestStartLoadsPersistedJobs(t *testing.T) {
	db, err := history.OpenDatabase(filepath.Join(t.TempDir(), "clawbridge.db"))
	if err != nil {
		t.Fatalf("OpenDatabase: %v", err)
	}
	defer db.Close()
	storage := NewSQLJobStorage(db)

	seed := New(storage, nil, nil)
	seed.Add(&Job{ID: "persisted", Schedule: "@daily", Prompt: "p", Enabled: true})

	s := New(storage, nil, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	if _, ok := s.Get("persisted"); !ok {
		t.Error("persisted job not loaded on start")
	}
}
