package cron

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func okJob(counter *atomic.Int32) JobFunc {
	return func(ctx context.Context) (string, error) {
		counter.Add(1)
		return "ok", nil
	}
}

func TestNewJob(t *testing.T) {
	job := NewJob("scan", "@every 12h", func(context.Context) (string, error) { return "", nil })
	if job.ID == "" {
		t.Error("job ID should not be empty")
	}
	if job.Name != "scan" {
		t.Errorf("name = %q, want scan", job.Name)
	}
	other := NewJob("scan", "@every 12h", nil)
	if other.ID == job.ID {
		t.Error("job IDs should be unique")
	}
}

func TestValidateSpec(t *testing.T) {
	valid := []string{"@every 12h", "@daily", "0 9 * * *", "*/30 * * * * *"}
	for _, spec := range valid {
		if err := ValidateSpec(spec); err != nil {
			t.Errorf("ValidateSpec(%q) error: %v", spec, err)
		}
	}
	invalid := []string{"", "every 12h", "@every banana", "61 * * * *"}
	for _, spec := range invalid {
		if err := ValidateSpec(spec); err == nil {
			t.Errorf("ValidateSpec(%q) should fail", spec)
		}
	}
}

func TestNextAfter(t *testing.T) {
	bangkok, err := time.LoadLocation("Asia/Bangkok")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	from := time.Date(2025, 1, 9, 23, 30, 0, 0, time.UTC) // 06:30 on the 10th in Bangkok

	next, err := NextAfter("0 9 * * *", bangkok, from)
	if err != nil {
		t.Fatalf("NextAfter error: %v", err)
	}
	want := time.Date(2025, 1, 10, 9, 0, 0, 0, bangkok)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}

	next, err = NextAfter("@every 12h", nil, from)
	if err != nil {
		t.Fatalf("NextAfter error: %v", err)
	}
	if got := next.Sub(from); got != 12*time.Hour {
		t.Errorf("every 12h next in %v", got)
	}

	if _, err := NextAfter("every tuesday", nil, from); err == nil {
		t.Error("expected error for invalid schedule")
	}
}

func TestService_AddAndListJobs(t *testing.T) {
	s := NewService(nil)
	var n atomic.Int32

	job, err := s.AddJob("job1", "@every 1h", okJob(&n))
	if err != nil {
		t.Fatalf("AddJob error: %v", err)
	}
	if job.Name != "job1" {
		t.Errorf("name = %q, want job1", job.Name)
	}

	jobs := s.ListJobs()
	if len(jobs) != 1 {
		t.Fatalf("len(jobs) = %d, want 1", len(jobs))
	}
	if jobs[0].ID != job.ID {
		t.Errorf("jobs[0].ID = %q, want %q", jobs[0].ID, job.ID)
	}
}

func TestService_AddJob_Invalid(t *testing.T) {
	s := NewService(nil)
	if _, err := s.AddJob("bad", "not a spec", func(context.Context) (string, error) { return "", nil }); err == nil {
		t.Error("expected error for invalid spec")
	}
	if _, err := s.AddJob("nil", "@every 1h", nil); err == nil {
		t.Error("expected error for nil function")
	}
	if len(s.ListJobs()) != 0 {
		t.Error("rejected jobs should not be listed")
	}
}

func TestService_RunJob_RecordsState(t *testing.T) {
	s := NewService(nil)
	var n atomic.Int32
	job, _ := s.AddJob("scan", "@every 1h", okJob(&n))

	if err := s.RunJob("scan"); err != nil {
		t.Fatalf("RunJob error: %v", err)
	}
	if n.Load() != 1 {
		t.Errorf("executions = %d, want 1", n.Load())
	}

	got := s.ListJobs()[0]
	if got.ID != job.ID {
		t.Fatalf("unexpected job %+v", got)
	}
	if got.State.LastStatus != StatusOK {
		t.Errorf("lastStatus = %q, want ok", got.State.LastStatus)
	}
	if got.State.LastRunAt.IsZero() {
		t.Error("lastRunAt should be set")
	}
	if got.State.Runs != 1 {
		t.Errorf("runs = %d, want 1", got.State.Runs)
	}

	if err := s.RunJob("missing"); err == nil {
		t.Error("RunJob should fail for unknown job")
	}
}

func TestService_RunJob_Error(t *testing.T) {
	s := NewService(nil)
	_, _ = s.AddJob("fail", "@every 1h", func(context.Context) (string, error) {
		return "", errors.New("db locked")
	})

	_ = s.RunJob("fail")
	got := s.ListJobs()[0]
	if got.State.LastStatus != StatusError {
		t.Errorf("lastStatus = %q, want error", got.State.LastStatus)
	}
	if got.State.LastError != "db locked" {
		t.Errorf("lastError = %q", got.State.LastError)
	}

	// A later success clears the error.
	s.jobs[0].run = func(context.Context) (string, error) { return "fine", nil }
	_ = s.RunJob("fail")
	got = s.ListJobs()[0]
	if got.State.LastStatus != StatusOK || got.State.LastError != "" {
		t.Errorf("state after success = %+v", got.State)
	}
}

func TestService_StartStop(t *testing.T) {
	s := NewService(time.UTC)
	var n atomic.Int32
	_, _ = s.AddJob("idle", "@every 1h", okJob(&n))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if err := s.Start(ctx); err == nil {
		t.Error("second Start should fail")
	}

	job := s.ListJobs()[0]
	if next := s.NextRun(job.ID); next.IsZero() {
		t.Error("NextRun should be set after Start")
	}

	s.Stop()
	s.Stop()
	if next := s.NextRun(job.ID); !next.IsZero() {
		t.Errorf("NextRun after Stop = %v, want zero", next)
	}
}

func TestService_Start_ParentCancelInvokesStop(t *testing.T) {
	s := NewService(nil)

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		stopped := s.cancel == nil && s.cron == nil
		s.mu.Unlock()
		if stopped {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}

	s.Stop()
	t.Fatal("expected parent context cancellation to trigger Stop")
}

func TestService_ScheduledExecution(t *testing.T) {
	s := NewService(nil)
	var n atomic.Int32
	if _, err := s.AddJob("tick", "@every 1s", okJob(&n)); err != nil {
		t.Fatalf("AddJob error: %v", err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for n.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if n.Load() == 0 {
		s.Stop()
		t.Fatal("expected at least one scheduled execution")
	}

	s.Stop()
	after := n.Load()
	time.Sleep(1300 * time.Millisecond)
	if n.Load() != after {
		t.Fatalf("job ran after Stop; count changed from %d to %d", after, n.Load())
	}
}

func TestService_AddJobAfterStart(t *testing.T) {
	s := NewService(nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer s.Stop()

	var n atomic.Int32
	job, err := s.AddJob("late", "@every 1h", okJob(&n))
	if err != nil {
		t.Fatalf("AddJob error: %v", err)
	}
	if s.NextRun(job.ID).IsZero() {
		t.Error("job added after Start should be scheduled")
	}
}

func TestService_PanicIsRecovered(t *testing.T) {
	s := NewService(nil)
	var after atomic.Int32
	_, _ = s.AddJob("boom", "@every 1s", func(context.Context) (string, error) {
		panic("boom")
	})
	_, _ = s.AddJob("survivor", "@every 1s", okJob(&after))

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer s.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for after.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if after.Load() < 2 {
		t.Fatalf("survivor ran %d times, want at least 2", after.Load())
	}
}

func TestService_JobReceivesRunContext(t *testing.T) {
	s := NewService(nil)
	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	var jobCtx context.Context
	_, _ = s.AddJob("ctx", "@every 1h", func(c context.Context) (string, error) {
		jobCtx = c
		return "", nil
	})
	_ = s.RunJob("ctx")
	if jobCtx == nil || jobCtx.Err() != nil {
		t.Fatal("job should receive a live context")
	}

	cancel()
	s.Stop()
	if jobCtx.Err() == nil {
		t.Error("job context should be canceled after Stop")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate = %q", got)
	}
	got := truncate(strings.Repeat("x", 20), 5)
	if got != "xxxxx..." {
		t.Errorf("truncate = %q", got)
	}
}
