package cron

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// JobFunc is the work a job performs on each run. The string result is logged.
type JobFunc func(ctx context.Context) (string, error)

type Job struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Spec  string   `json:"spec"`
	State JobState `json:"state"`

	run JobFunc
}

type JobState struct {
	LastRunAt  time.Time `json:"lastRunAt,omitempty"`
	LastStatus string    `json:"lastStatus,omitempty"`
	LastError  string    `json:"lastError,omitempty"`
	Runs       int       `json:"runs"`
}

const (
	StatusOK    = "ok"
	StatusError = "error"
)

func NewJob(name, spec string, fn JobFunc) Job {
	return Job{
		ID:   uuid.NewString(),
		Name: name,
		Spec: spec,
		run:  fn,
	}
}
