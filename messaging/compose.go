package messaging

import (
	"strings"

	"taskboard/domain"
)

// AssignmentMessage builds the text sent to a member when a task is assigned
// to them. An empty time is shown as midnight.
func AssignmentMessage(title, description, date, clock string) string {
	desc := strings.TrimSpace(description)
	if desc == "" {
		desc = "N/A"
	}
	clock = strings.TrimSpace(clock)
	if clock == "" {
		clock = domain.DefaultDeadlineTime
	}
	var b strings.Builder
	b.WriteString("*NEW TASK ASSIGNED* 🚀\n\n")
	b.WriteString("*Task:* " + title + "\n")
	b.WriteString("*Desc:* " + desc + "\n")
	b.WriteString("*Deadline:* " + strings.TrimSpace(date) + " " + clock)
	return b.String()
}
