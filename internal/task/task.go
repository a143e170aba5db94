package task

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// IDPrefix is the fixed prefix of every task id.
const IDPrefix = "KT"

// DateLayout is the on-disk and command-line form of a deadline.
const DateLayout = "2006-01-02"

type Status string

const (
	StatusAssigned           Status = "assigned"
	StatusAcknowledged       Status = "acknowledged"
	StatusInProgress         Status = "in_progress"
	StatusSubmittedForReview Status = "submitted_for_review"
	StatusDone               Status = "done"
)

var statusOrder = []Status{
	StatusAssigned,
	StatusAcknowledged,
	StatusInProgress,
	StatusSubmittedForReview,
	StatusDone,
}

// Statuses returns every status in lifecycle order.
func Statuses() []Status {
	out := make([]Status, len(statusOrder))
	copy(out, statusOrder)
	return out
}

func (s Status) Valid() bool {
	return s.Order() >= 0
}

// Order is the position of s in the lifecycle, or -1 for unknown values.
func (s Status) Order() int {
	for i, st := range statusOrder {
		if st == s {
			return i
		}
	}
	return -1
}

func ParseStatus(v string) (Status, error) {
	s := Status(strings.TrimSpace(v))
	if !s.Valid() {
		return "", fmt.Errorf("unknown task status %q", v)
	}
	return s, nil
}

type Task struct {
	ID         string
	Title      string
	Owner      string
	Assignee   string
	Deadline   string
	Status     Status
	Dependency string
}

func (t Task) HasDependency() bool {
	return t.Dependency != ""
}

// NextID returns the id following prev. An empty prev yields KT001.
func NextID(prev string) (string, error) {
	if prev == "" {
		return formatID(1), nil
	}
	n, err := parseSeq(prev)
	if err != nil {
		return "", err
	}
	return formatID(n + 1), nil
}

// ValidID reports whether id has the KT### shape.
func ValidID(id string) bool {
	_, err := parseSeq(id)
	return err == nil
}

func parseSeq(id string) (int, error) {
	if !strings.HasPrefix(id, IDPrefix) {
		return 0, fmt.Errorf("task id %q: missing %s prefix", id, IDPrefix)
	}
	digits := id[len(IDPrefix):]
	if len(digits) < 3 {
		return 0, fmt.Errorf("task id %q: suffix too short", id)
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("task id %q: invalid numeric suffix", id)
	}
	return n, nil
}

func formatID(n int) string {
	return fmt.Sprintf("%s%03d", IDPrefix, n)
}

// ParseDeadline parses a YYYY-MM-DD date and returns it normalized.
func ParseDeadline(v string) (string, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(v))
	if err != nil {
		return "", fmt.Errorf("%w: deadline %q must be YYYY-MM-DD", ErrInvalidInput, v)
	}
	return d.Format(DateLayout), nil
}
