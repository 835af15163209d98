package api

import (
	"strings"
	"time"

	"taskboard/board"
	"taskboard/domain"
)

const postBodyMaxSize = 64 * 1024 // 64 KiB

// HeaderIdempotencyKey deduplicates POST /api/tasks.
const HeaderIdempotencyKey = "Idempotency-Key"

// GET /api/tasks response body
type tasksResponse struct {
	Filter  domain.Filter    `json:"filter"`
	Tasks   []board.TaskView `json:"tasks"`
	Loading bool             `json:"loading"`
}

// GET /api/board response body
type boardResponse struct {
	Lanes   []board.Lane `json:"lanes"`
	Loading bool         `json:"loading"`
}

// PUT /api/tasks/:id/status request body
type statusRequest struct {
	Status string `json:"status"`
}

// POST /api/board/drop request body
type dropRequest struct {
	TaskID dropPayload `json:"taskId"`
	Lane   string      `json:"lane"`
}

// dropPayload is the dragged task id, sent either as a JSON string or a
// number. Anything else is passed on verbatim and rejected by the board.
type dropPayload string

func (p *dropPayload) UnmarshalJSON(b []byte) error {
	*p = dropPayload(strings.Trim(strings.TrimSpace(string(b)), `"`))
	return nil
}

// POST /api/board/drop response body
type dropResponse struct {
	Accepted bool `json:"accepted"`
}

// GET /api/notifications response body
type notificationsResponse struct {
	Notifications []domain.Task `json:"notifications"`
	Loading       bool          `json:"loading"`
	UpdatedAt     *time.Time    `json:"updatedAt,omitempty"`
}

// POST /api/tasks response body
type createResponse struct {
	Task           domain.Task `json:"task"`
	IdempotencyKey string      `json:"idempotencyKey"`
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}
