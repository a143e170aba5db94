// Package cron runs in-process background jobs on robfig/cron schedules.
package cron

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
)

// parser accepts optional seconds and descriptors such as "@every 12h".
var parser = rcron.NewParser(rcron.SecondOptional | rcron.Minute | rcron.Hour |
	rcron.Dom | rcron.Month | rcron.Dow | rcron.Descriptor)

type Service struct {
	loc      *time.Location
	mu       sync.Mutex
	jobs     []Job
	cron     *rcron.Cron
	entryMap map[string]rcron.EntryID // job ID -> cron entry ID
	runCtx   context.Context
	cancel   context.CancelFunc
	stopCh   chan struct{}
}

// NewService creates a scheduler evaluating specs in loc (UTC when nil).
func NewService(loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		loc:      loc,
		entryMap: make(map[string]rcron.EntryID),
	}
}

// NextAfter returns the first time after from that spec fires in loc.
func NextAfter(spec string, loc *time.Location, from time.Time) (time.Time, error) {
	sched, err := parser.Parse(spec)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return sched.Next(from.In(loc)), nil
}

// ValidateSpec reports whether spec is a schedule AddJob accepts.
func ValidateSpec(spec string) error {
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return nil
}

func (s *Service) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	stopCh := make(chan struct{})

	s.mu.Lock()
	if s.cron != nil {
		s.mu.Unlock()
		cancel()
		return fmt.Errorf("cron service already started")
	}
	s.runCtx = runCtx
	s.cancel = cancel
	s.stopCh = stopCh
	s.cron = rcron.New(
		rcron.WithParser(parser),
		rcron.WithLocation(s.loc),
		rcron.WithChain(rcron.Recover(rcron.DefaultLogger)),
	)
	for i := range s.jobs {
		s.registerJob(&s.jobs[i])
	}
	count := len(s.entryMap)
	s.cron.Start()
	s.mu.Unlock()

	log.Printf("[cron] started with %d jobs (tz %s)", count, s.loc)

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stopCh:
			return
		}
	}()

	return nil
}

// registerJob must be called with s.mu held and s.cron set.
func (s *Service) registerJob(job *Job) {
	id := job.ID
	entryID, err := s.cron.AddFunc(job.Spec, func() {
		s.executeJob(id)
	})
	if err != nil {
		log.Printf("[cron] failed to register job %s (%s): %v", job.Name, job.Spec, err)
		return
	}
	s.entryMap[id] = entryID
}

func (s *Service) executeJob(id string) {
	s.mu.Lock()
	var job *Job
	for i := range s.jobs {
		if s.jobs[i].ID == id {
			job = &s.jobs[i]
			break
		}
	}
	if job == nil {
		s.mu.Unlock()
		return
	}
	name, fn := job.Name, job.run
	ctx := s.runCtx
	s.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	log.Printf("[cron] executing job %s (%s)", name, id)

	var result string
	var err error
	if fn == nil {
		err = fmt.Errorf("job %s has no function", name)
	} else {
		result, err = fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.jobs {
		if s.jobs[i].ID != id {
			continue
		}
		st := &s.jobs[i].State
		st.LastRunAt = time.Now()
		st.Runs++
		if err != nil {
			st.LastStatus = StatusError
			st.LastError = err.Error()
			log.Printf("[cron] job %s error: %v", name, err)
		} else {
			st.LastStatus = StatusOK
			st.LastError = ""
			log.Printf("[cron] job %s result: %s", name, truncate(result, 100))
		}
		break
	}
}

func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	stopCh := s.stopCh
	c := s.cron
	s.cancel = nil
	s.stopCh = nil
	s.cron = nil
	s.entryMap = make(map[string]rcron.EntryID)
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stopCh != nil {
		close(stopCh)
	}

	if c != nil {
		stopCtx := c.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(5 * time.Second):
			log.Printf("[cron] stop timeout waiting for running jobs")
		}
		log.Printf("[cron] stopped")
	}
}

// AddJob registers fn under spec. A job added after Start is scheduled at once.
func (s *Service) AddJob(name, spec string, fn JobFunc) (*Job, error) {
	if fn == nil {
		return nil, fmt.Errorf("add job %s: nil function", name)
	}
	if err := ValidateSpec(spec); err != nil {
		return nil, fmt.Errorf("add job %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs = append(s.jobs, NewJob(name, spec, fn))
	job := &s.jobs[len(s.jobs)-1]
	if s.cron != nil {
		s.registerJob(job)
	}
	out := *job
	return &out, nil
}

// RunJob executes the named job synchronously, outside its schedule.
func (s *Service) RunJob(name string) error {
	s.mu.Lock()
	id := ""
	for _, job := range s.jobs {
		if job.Name == name {
			id = job.ID
			break
		}
	}
	s.mu.Unlock()
	if id == "" {
		return fmt.Errorf("job %s not found", name)
	}
	s.executeJob(id)
	return nil
}

func (s *Service) ListJobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]Job, len(s.jobs))
	copy(result, s.jobs)
	return result
}

// NextRun returns the next scheduled time of a job, or zero if it is not scheduled.
func (s *Service) NextRun(id string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	entryID, ok := s.entryMap[id]
	if !ok || s.cron == nil {
		return time.Time{}
	}
	return s.cron.Entry(entryID).Next
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
