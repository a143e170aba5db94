package task

import (
	"errors"
	"fmt"
	"testing"
)

func TestNextID(t *testing.T) {
	tests := []struct {
		prev string
		want string
	}{
		{"", "KT001"},
		{"KT001", "KT002"},
		{"KT009", "KT010"},
		{"KT099", "KT100"},
		{"KT999", "KT1000"},
	}
	for _, tt := range tests {
		got, err := NextID(tt.prev)
		if err != nil {
			t.Fatalf("NextID(%q) error: %v", tt.prev, err)
		}
		if got != tt.want {
			t.Errorf("NextID(%q) = %q, want %q", tt.prev, got, tt.want)
		}
	}
}

func TestNextID_Sequence(t *testing.T) {
	prev := ""
	for n := 1; n <= 25; n++ {
		id, err := NextID(prev)
		if err != nil {
			t.Fatalf("NextID(%q) error: %v", prev, err)
		}
		if want := fmt.Sprintf("KT%03d", n); id != want {
			t.Fatalf("creation %d got %q, want %q", n, id, want)
		}
		prev = id
	}
}

func TestNextID_Malformed(t *testing.T) {
	for _, prev := range []string{"AB001", "KT", "KT1", "KTabc", "kt001"} {
		if _, err := NextID(prev); err == nil {
			t.Errorf("NextID(%q) expected error", prev)
		}
	}
}

func TestValidID(t *testing.T) {
	if !ValidID("KT042") {
		t.Error("KT042 should be valid")
	}
	if ValidID("42") {
		t.Error("42 should be invalid")
	}
}

func TestStatusOrder(t *testing.T) {
	all := Statuses()
	if len(all) != 5 {
		t.Fatalf("len(Statuses) = %d, want 5", len(all))
	}
	for i, s := range all {
		if s.Order() != i {
			t.Errorf("%s.Order() = %d, want %d", s, s.Order(), i)
		}
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
	}
	if Status("archived").Valid() {
		t.Error("archived should not be a valid status")
	}
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus(" in_progress ")
	if err != nil {
		t.Fatalf("ParseStatus error: %v", err)
	}
	if s != StatusInProgress {
		t.Errorf("status = %q, want %q", s, StatusInProgress)
	}
	if _, err := ParseStatus("finished"); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestParseDeadline(t *testing.T) {
	got, err := ParseDeadline("2025-01-10")
	if err != nil {
		t.Fatalf("ParseDeadline error: %v", err)
	}
	if got != "2025-01-10" {
		t.Errorf("deadline = %q, want 2025-01-10", got)
	}

	for _, bad := range []string{"", "10/01/2025", "2025-13-01", "tomorrow"} {
		_, err := ParseDeadline(bad)
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("ParseDeadline(%q) err = %v, want ErrInvalidInput", bad, err)
		}
	}
}

func TestErrorKinds(t *testing.T) {
	for _, err := range []error{ErrNotAdmin, ErrNotReviewer, ErrNotAssignee} {
		if !errors.Is(err, ErrForbidden) {
			t.Errorf("%v should wrap ErrForbidden", err)
		}
	}

	var wrapped error = fmt.Errorf("advance: %w", &DependencyError{TaskID: "KT002", DependencyID: "KT001"})
	var depErr *DependencyError
	if !errors.As(wrapped, &depErr) {
		t.Fatal("expected DependencyError")
	}
	if depErr.DependencyID != "KT001" {
		t.Errorf("dependency = %q, want KT001", depErr.DependencyID)
	}
	if !errors.Is(wrapped, ErrDependencyNotSatisfied) {
		t.Error("DependencyError should wrap ErrDependencyNotSatisfied")
	}

	trErr := &TransitionError{TaskID: "KT001", Current: StatusAssigned, Target: StatusInProgress}
	if !errors.Is(trErr, ErrInvalidTransition) {
		t.Error("TransitionError should wrap ErrInvalidTransition")
	}
}
