package domain

import (
	"testing"
	"time"
)

func TestTaskInputValidateResolvesDeadline(t *testing.T) {
	in := TaskInput{Title: "Ship report", AssigneeID: 7, Date: "2025-03-01"}
	nt, err := in.Validate(time.UTC)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got := FormatDeadline(nt.Deadline, time.UTC); got != "2025-03-01T00:00:00" {
		t.Fatalf("unexpected deadline %s", got)
	}
	if nt.AlertSent {
		t.Fatalf("expected alert_sent false on new task")
	}
	if nt.Status != StatusPending || nt.Priority != PriorityMedium {
		t.Fatalf("unexpected defaults: %#v", nt)
	}
}

func TestTaskInputValidateWithTime(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	in := TaskInput{Title: "x", AssigneeID: 1, Date: "2025-03-01", Time: "17:45", Priority: "high"}
	nt, err := in.Validate(loc)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	want := time.Date(2025, 3, 1, 17, 45, 0, 0, loc)
	if !nt.Deadline.Equal(want) {
		t.Fatalf("expected %v, got %v", want, nt.Deadline)
	}
	if nt.Priority != PriorityHigh {
		t.Fatalf("expected high priority, got %s", nt.Priority)
	}
}

func TestTaskInputValidateRequiredFields(t *testing.T) {
	cases := []struct {
		name  string
		in    TaskInput
		field string
	}{
		{"blank title", TaskInput{Title: "   ", AssigneeID: 1, Date: "2025-03-01"}, "title"},
		{"no assignee", TaskInput{Title: "t", Date: "2025-03-01"}, "assigned_to"},
		{"no date", TaskInput{Title: "t", AssigneeID: 1}, "date"},
		{"bad date", TaskInput{Title: "t", AssigneeID: 1, Date: "01/03/2025"}, "date"},
		{"bad time", TaskInput{Title: "t", AssigneeID: 1, Date: "2025-03-01", Time: "5pm"}, "time"},
		{"bad priority", TaskInput{Title: "t", AssigneeID: 1, Date: "2025-03-01", Priority: "urgent"}, "priority"},
	}
	for _, tc := range cases {
		_, err := tc.in.Validate(time.UTC)
		v, ok := err.(*ValidationError)
		if !ok {
			t.Fatalf("%s: expected *ValidationError, got %T (%v)", tc.name, err, err)
		}
		if v.Field != tc.field {
			t.Fatalf("%s: expected field %s, got %s", tc.name, tc.field, v.Field)
		}
	}
}

func TestMemberInputValidate(t *testing.T) {
	nm, err := MemberInput{Name: " Asha ", Phone: "919876543210", Role: "2"}.Validate()
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if nm.Name != "Asha" || nm.Role != RoleLead {
		t.Fatalf("unexpected member %#v", nm)
	}
	if _, err := (MemberInput{Phone: "919876543210"}).Validate(); !IsValidation(err) {
		t.Fatalf("expected name validation error, got %v", err)
	}
	if _, err := (MemberInput{Name: "a", Phone: "12345"}).Validate(); !IsValidation(err) {
		t.Fatalf("expected phone validation error, got %v", err)
	}
	nm, err = MemberInput{Name: "b", Phone: "1234567890"}.Validate()
	if err != nil || nm.Role != RoleMember {
		t.Fatalf("expected default member role, got %#v err=%v", nm, err)
	}
}
