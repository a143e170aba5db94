// Package workflow implements the guarded task operations: assignee
// transitions, the review cycle and the reviewer/admin commands.
package workflow

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/stellarlinkco/taskflow/internal/notify"
	"github.com/stellarlinkco/taskflow/internal/store"
	"github.com/stellarlinkco/taskflow/internal/task"
)

// Store is the persistence the workflow needs. *store.Store implements it.
type Store interface {
	Get(ctx context.Context, id string) (task.Task, error)
	Insert(ctx context.Context, t task.Task) error
	LastID(ctx context.Context) (string, error)
	Delete(ctx context.Context, id string) error
	Reassign(ctx context.Context, id, assignee string) (task.Task, string, error)
	Transition(ctx context.Context, tr store.Transition) (task.Task, error)
	ListOpenByAssignee(ctx context.Context, assignee string) ([]task.Task, error)
	Reviewer(ctx context.Context) (string, error)
	SetReviewer(ctx context.Context, userID string) error
}

type Options struct {
	// Admins may set the main reviewer.
	Admins []string
	// StrictReview limits approve/reject to tasks submitted for review.
	StrictReview bool
}

type Service struct {
	store        Store
	notifier     notify.Notifier
	admins       map[string]struct{}
	strictReview bool
}

// NewTask is the input of AddTask.
type NewTask struct {
	Title      string
	Assignee   string
	Deadline   string
	Dependency string
}

func New(st Store, n notify.Notifier, opts Options) *Service {
	if n == nil {
		n = notify.Nop{}
	}
	admins := make(map[string]struct{}, len(opts.Admins))
	for _, a := range opts.Admins {
		if a = strings.TrimSpace(a); a != "" {
			admins[a] = struct{}{}
		}
	}
	return &Service{
		store:        st,
		notifier:     n,
		admins:       admins,
		strictReview: opts.StrictReview,
	}
}

func (s *Service) IsAdmin(userID string) bool {
	_, ok := s.admins[userID]
	return ok
}

func (s *Service) Reviewer(ctx context.Context) (string, error) {
	return s.store.Reviewer(ctx)
}

func (s *Service) SetReviewer(ctx context.Context, actor, reviewer string) error {
	if !s.IsAdmin(actor) {
		return task.ErrNotAdmin
	}
	reviewer = strings.TrimSpace(reviewer)
	if reviewer == "" {
		return fmt.Errorf("%w: reviewer is required", task.ErrInvalidInput)
	}
	if err := s.store.SetReviewer(ctx, reviewer); err != nil {
		return err
	}
	log.Printf("[workflow] reviewer set to %s by %s", reviewer, actor)
	return nil
}

// AddTask creates a task owned by the reviewer and assigned to req.Assignee.
func (s *Service) AddTask(ctx context.Context, actor string, req NewTask) (task.Task, error) {
	if err := s.requireReviewer(ctx, actor); err != nil {
		return task.Task{}, err
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		return task.Task{}, fmt.Errorf("%w: title is required", task.ErrInvalidInput)
	}
	assignee := strings.TrimSpace(req.Assignee)
	if assignee == "" {
		return task.Task{}, fmt.Errorf("%w: assignee is required", task.ErrInvalidInput)
	}
	deadline, err := task.ParseDeadline(req.Deadline)
	if err != nil {
		return task.Task{}, err
	}
	dependency := strings.ToUpper(strings.TrimSpace(req.Dependency))
	if dependency != "" {
		if _, err := s.store.Get(ctx, dependency); err != nil {
			return task.Task{}, fmt.Errorf("dependency: %w", err)
		}
	}

	last, err := s.store.LastID(ctx)
	if err != nil {
		return task.Task{}, err
	}
	id, err := task.NextID(last)
	if err != nil {
		return task.Task{}, fmt.Errorf("allocate task id: %w", err)
	}

	t := task.Task{
		ID:         id,
		Title:      title,
		Owner:      actor,
		Assignee:   assignee,
		Deadline:   deadline,
		Status:     task.StatusAssigned,
		Dependency: dependency,
	}
	if err := s.store.Insert(ctx, t); err != nil {
		return task.Task{}, err
	}
	log.Printf("[workflow] %s created %s for %s (deadline %s)", actor, id, assignee, deadline)
	return t, nil
}

// MyTasks lists the caller's unfinished tasks.
func (s *Service) MyTasks(ctx context.Context, actor string) ([]task.Task, error) {
	return s.store.ListOpenByAssignee(ctx, actor)
}

// Advance moves a task one step along the assignee path.
func (s *Service) Advance(ctx context.Context, actor, taskID string, action Action) (task.Task, error) {
	rule, ok := RuleFor(action)
	if !ok {
		return task.Task{}, fmt.Errorf("%w: unknown action %q", task.ErrInvalidInput, action)
	}
	return s.advance(ctx, actor, taskID, rule)
}

func (s *Service) advance(ctx context.Context, actor, taskID string, rule Rule) (task.Task, error) {
	if actor == "" {
		return task.Task{}, task.ErrNotAssignee
	}
	t, err := s.store.Transition(ctx, store.Transition{
		TaskID:                taskID,
		Actor:                 actor,
		From:                  rule.From,
		To:                    rule.Target,
		RequireDependencyDone: rule.RequireDependencyDone,
	})
	if err != nil {
		return task.Task{}, err
	}
	log.Printf("[workflow] %s moved %s to %s", actor, t.ID, t.Status)

	if t.Status == task.StatusSubmittedForReview {
		reviewer, err := s.store.Reviewer(ctx)
		if err != nil {
			log.Printf("[workflow] load reviewer for %s warning: %v", t.ID, err)
		} else {
			s.notifier.Notify(ctx, notify.Event{Kind: notify.KindSubmitted, Recipient: reviewer, Task: t})
		}
	}
	return t, nil
}

// ReviewTarget returns the task the reviewer wants to review.
func (s *Service) ReviewTarget(ctx context.Context, actor, taskID string) (task.Task, error) {
	if err := s.requireReviewer(ctx, actor); err != nil {
		return task.Task{}, err
	}
	return s.store.Get(ctx, taskID)
}

// Review applies the reviewer's verdict and tells the assignee.
func (s *Service) Review(ctx context.Context, actor, taskID string, outcome Outcome) (task.Task, error) {
	target, ok := outcome.Target()
	if !ok {
		return task.Task{}, fmt.Errorf("%w: unknown review outcome %q", task.ErrInvalidInput, outcome)
	}
	if err := s.requireReviewer(ctx, actor); err != nil {
		return task.Task{}, err
	}

	tr := store.Transition{TaskID: taskID, To: target}
	if s.strictReview {
		tr.From = []task.Status{task.StatusSubmittedForReview}
	}
	t, err := s.store.Transition(ctx, tr)
	if err != nil {
		return task.Task{}, err
	}
	log.Printf("[workflow] %s reviewed %s: %s", actor, t.ID, outcome)

	kind := notify.KindApproved
	if outcome == OutcomeReject {
		kind = notify.KindRejected
	}
	s.notifier.Notify(ctx, notify.Event{Kind: kind, Recipient: t.Assignee, Task: t})
	return t, nil
}

func (s *Service) DeleteTask(ctx context.Context, actor, taskID string) error {
	if err := s.requireReviewer(ctx, actor); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, taskID); err != nil {
		return err
	}
	log.Printf("[workflow] %s deleted %s", actor, taskID)
	return nil
}

// ReassignTask hands a task to a new assignee and restarts it from assigned.
func (s *Service) ReassignTask(ctx context.Context, actor, taskID, newAssignee string) (task.Task, error) {
	if err := s.requireReviewer(ctx, actor); err != nil {
		return task.Task{}, err
	}
	newAssignee = strings.TrimSpace(newAssignee)
	if newAssignee == "" {
		return task.Task{}, fmt.Errorf("%w: new assignee is required", task.ErrInvalidInput)
	}

	t, previous, err := s.store.Reassign(ctx, taskID, newAssignee)
	if err != nil {
		return task.Task{}, err
	}
	log.Printf("[workflow] %s reassigned %s from %s to %s", actor, t.ID, previous, newAssignee)

	s.notifier.Notify(ctx, notify.Event{Kind: notify.KindReassignedTo, Recipient: newAssignee, Task: t})
	if previous != newAssignee {
		s.notifier.Notify(ctx, notify.Event{Kind: notify.KindReassignedFrom, Recipient: previous, Task: t})
	}
	return t, nil
}

func (s *Service) requireReviewer(ctx context.Context, actor string) error {
	reviewer, err := s.store.Reviewer(ctx)
	if err != nil {
		return err
	}
	if reviewer == "" || actor != reviewer {
		return task.ErrNotReviewer
	}
	return nil
}
