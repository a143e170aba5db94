package workflow

import (
	"github.com/stellarlinkco/taskflow/internal/task"
)

// Action is an assignee-driven step, also used as button callback data.
type Action string

const (
	ActionAcknowledge Action = "ack"
	ActionStart       Action = "start"
	ActionSubmit      Action = "submit"
)

// Rule binds a target status to the statuses it may be entered from.
type Rule struct {
	Target                task.Status
	From                  []task.Status
	RequireDependencyDone bool
}

var rules = map[Action]Rule{
	ActionAcknowledge: {
		Target: task.StatusAcknowledged,
		From:   []task.Status{task.StatusAssigned},
	},
	ActionStart: {
		Target:                task.StatusInProgress,
		From:                  []task.Status{task.StatusAcknowledged},
		RequireDependencyDone: true,
	},
	ActionSubmit: {
		Target: task.StatusSubmittedForReview,
		From:   []task.Status{task.StatusInProgress},
	},
}

func RuleFor(a Action) (Rule, bool) {
	r, ok := rules[a]
	return r, ok
}

// Outcome is the reviewer's verdict.
type Outcome string

const (
	OutcomeApprove Outcome = "approve"
	OutcomeReject  Outcome = "reject"
)

// Target returns the status an outcome moves a task to.
func (o Outcome) Target() (task.Status, bool) {
	switch o {
	case OutcomeApprove:
		return task.StatusDone, true
	case OutcomeReject:
		return task.StatusAcknowledged, true
	}
	return "", false
}
