// Package deadline emits reminders for tasks due the next day.
package deadline

import (
	"context"
	"fmt"
	"log"
	"time"
	_ "time/tzdata"

	"github.com/stellarlinkco/taskflow/internal/notify"
	"github.com/stellarlinkco/taskflow/internal/task"
)

const (
	DefaultTimezone = "Asia/Bangkok"
	DefaultSchedule = "@every 12h"
	JobName         = "deadline-reminder"
)

// Lister is the read access a scan needs. *store.Store implements it.
type Lister interface {
	ListDueOn(ctx context.Context, date string) ([]task.Task, error)
}

type Reminder struct {
	store    Lister
	notifier notify.Notifier
	loc      *time.Location
	now      func() time.Time
}

// NewReminder returns a Reminder that computes "tomorrow" in loc.
func NewReminder(st Lister, n notify.Notifier, loc *time.Location) *Reminder {
	if n == nil {
		n = notify.Nop{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Reminder{store: st, notifier: n, loc: loc, now: time.Now}
}

// LoadLocation resolves name, falling back to DefaultTimezone when empty.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return loc, nil
}

// Tomorrow returns the calendar date after today in the reminder's timezone.
func (r *Reminder) Tomorrow() string {
	today := r.now().In(r.loc)
	return time.Date(today.Year(), today.Month(), today.Day()+1, 0, 0, 0, 0, r.loc).Format(task.DateLayout)
}

// Due lists the unfinished tasks with a deadline of tomorrow.
func (r *Reminder) Due(ctx context.Context) ([]task.Task, error) {
	tasks, _, err := r.due(ctx)
	return tasks, err
}

func (r *Reminder) due(ctx context.Context) ([]task.Task, string, error) {
	date := r.Tomorrow()
	tasks, err := r.store.ListDueOn(ctx, date)
	if err != nil {
		return nil, date, fmt.Errorf("list tasks due %s: %w", date, err)
	}
	return tasks, date, nil
}

// Run notifies each assignee of a task due tomorrow and returns the number
// of reminders emitted.
func (r *Reminder) Run(ctx context.Context) (int, error) {
	tasks, date, err := r.due(ctx)
	if err != nil {
		return 0, err
	}
	for _, t := range tasks {
		r.notifier.Notify(ctx, notify.Event{Kind: notify.KindDeadline, Recipient: t.Assignee, Task: t})
	}
	if len(tasks) > 0 {
		log.Printf("[deadline] sent %d reminders for %s", len(tasks), date)
	}
	return len(tasks), nil
}

// Job adapts Run to the cron job signature.
func (r *Reminder) Job(ctx context.Context) (string, error) {
	n, err := r.Run(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d reminders", n), nil
}
