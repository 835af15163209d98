package domain

import (
	"strings"
	"time"
)

const (
	// DateLayout is the date component of a task form.
	DateLayout = "2006-01-02"
	// TimeLayout is the optional time component of a task form.
	TimeLayout = "15:04"
	// DeadlineLayout is how deadlines are written to the record store.
	DeadlineLayout = "2006-01-02T15:04:05"
	// DefaultDeadlineTime applies when the form has no time component.
	DefaultDeadlineTime = "00:00"
	// MinPhoneLength is the shortest phone number accepted for a member.
	MinPhoneLength = 10
)

// TaskInput is the creation form for a task.
type TaskInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	AssigneeID  int64  `json:"assigned_to"`
	Date        string `json:"date"`
	Time        string `json:"time"`
}

// Validate checks the required fields and resolves the deadline in loc.
// It performs no I/O.
func (in TaskInput) Validate(loc *time.Location) (NewTask, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return NewTask{}, &ValidationError{Field: "title", Reason: "title is required"}
	}
	if in.AssigneeID <= 0 {
		return NewTask{}, &ValidationError{Field: "assigned_to", Reason: "assignee is required"}
	}
	if strings.TrimSpace(in.Date) == "" {
		return NewTask{}, &ValidationError{Field: "date", Reason: "date is required"}
	}
	prio, err := ParsePriority(in.Priority)
	if err != nil {
		return NewTask{}, &ValidationError{Field: "priority", Reason: err.Error()}
	}
	deadline, err := CombineDeadline(in.Date, in.Time, loc)
	if err != nil {
		return NewTask{}, err
	}
	return NewTask{
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		Priority:    prio,
		Status:      StatusPending,
		Deadline:    deadline,
		AssigneeID:  in.AssigneeID,
		AlertSent:   false,
	}, nil
}

// CombineDeadline joins a date and an optional HH:MM time into a single
// timestamp in loc. A missing time means midnight.
func CombineDeadline(date, clock string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	date = strings.TrimSpace(date)
	clock = strings.TrimSpace(clock)
	if clock == "" {
		clock = DefaultDeadlineTime
	}
	if _, err := time.Parse(DateLayout, date); err != nil {
		return time.Time{}, &ValidationError{Field: "date", Reason: "expected YYYY-MM-DD"}
	}
	if _, err := time.Parse(TimeLayout, clock); err != nil {
		return time.Time{}, &ValidationError{Field: "time", Reason: "expected HH:MM"}
	}
	t, err := time.ParseInLocation(DeadlineLayout, date+"T"+clock+":00", loc)
	if err != nil {
		return time.Time{}, &ValidationError{Field: "deadline", Reason: err.Error()}
	}
	return t, nil
}

// FormatDeadline renders a deadline the way the record store expects it.
func FormatDeadline(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format(DeadlineLayout)
}

// MemberInput is the form for adding a team member.
type MemberInput struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Validate checks the member form.
func (in MemberInput) Validate() (NewMember, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return NewMember{}, &ValidationError{Field: "name", Reason: "name is required"}
	}
	phone := strings.TrimSpace(in.Phone)
	if phone == "" || len(phone) < MinPhoneLength {
		return NewMember{}, &ValidationError{Field: "phone", Reason: "a valid phone number is required"}
	}
	return NewMember{
		Name:  name,
		Phone: phone,
		Email: strings.TrimSpace(in.Email),
		Role:  ParseRole(in.Role),
	}, nil
}
