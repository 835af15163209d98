package workflow

import (
	"context"

	"taskboard/domain"
)

// Draft is a task form being filled in.
type Draft struct {
	domain.TaskInput
}

// NewDraft returns an empty form with the default priority.
func NewDraft() *Draft {
	d := &Draft{}
	d.Reset()
	return d
}

// Reset clears the form.
func (d *Draft) Reset() {
	d.TaskInput = domain.TaskInput{Priority: string(domain.PriorityMedium)}
}

// Submit creates a task from the draft and clears it on success. On failure
// the draft keeps its contents.
func (c *Creator) Submit(ctx context.Context, d *Draft) (domain.Task, error) {
	t, err := c.Create(ctx, d.TaskInput)
	if err != nil {
		return domain.Task{}, err
	}
	d.Reset()
	return t, nil
}
