package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"taskboard/domain"
)

const (
	tasksCollection   = "Tasks"
	membersCollection = "Task_manger_member"
	maxErrorBody      = 4 << 10
)

// RESTStore talks to the remote record store over its items API. Payloads are
// wrapped in a {"data": ...} envelope.
type RESTStore struct {
	baseURL string
	token   string
	http    *http.Client
	loc     *time.Location
}

// NewREST creates a RESTStore. Deadlines without a zone are read and written
// in loc. A zero timeout leaves requests bounded only by their context.
func NewREST(baseURL, token string, timeout time.Duration, loc *time.Location) (*RESTStore, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse store url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("store url %q must be absolute", baseURL)
	}
	if loc == nil {
		loc = time.Local
	}
	return &RESTStore{
		baseURL: u.String(),
		token:   token,
		http:    &http.Client{Timeout: timeout},
		loc:     loc,
	}, nil
}

type taskRecord struct {
	ID          int64        `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Priority    string       `json:"priority"`
	Status      string       `json:"status"`
	Deadline    string       `json:"deadline"`
	AssignedTo  assigneeWire `json:"assigned_to"`
	AlertSent   flexBool     `json:"alert_sent"`
	DateCreated string       `json:"date_created"`
}

type memberRecord struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Phone       flexStr `json:"phone"`
	Email       string  `json:"email"`
	Role        flexStr `json:"role"`
	DateCreated string  `json:"date_created"`
}

type newTaskRecord struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	Status      string `json:"status"`
	Deadline    string `json:"deadline"`
	AssignedTo  int64  `json:"assigned_to"`
	AlertSent   bool   `json:"alert_sent"`
}

type newMemberRecord struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role"`
}

type envelope[T any] struct {
	Data T `json:"data"`
}

// ListTasks fetches task records with the assignee projection.
func (s *RESTStore) ListTasks(ctx context.Context, q TaskQuery) ([]domain.Task, error) {
	params := url.Values{}
	params.Set("sort", q.Sort())
	params.Set("fields", TaskFields)
	if q.AlertSentOnly {
		params.Set("filter[alert_sent][_eq]", "1")
	}
	var out envelope[[]taskRecord]
	if err := s.do(ctx, "list tasks", http.MethodGet, itemsPath(tasksCollection), params, nil, &out); err != nil {
		return nil, err
	}
	tasks := make([]domain.Task, 0, len(out.Data))
	for _, rec := range out.Data {
		tasks = append(tasks, rec.toDomain(s.loc))
	}
	return tasks, nil
}

// ListMembers fetches all team members.
func (s *RESTStore) ListMembers(ctx context.Context) ([]domain.Member, error) {
	var out envelope[[]memberRecord]
	if err := s.do(ctx, "list members", http.MethodGet, itemsPath(membersCollection), nil, nil, &out); err != nil {
		return nil, err
	}
	members := make([]domain.Member, 0, len(out.Data))
	for _, rec := range out.Data {
		members = append(members, rec.toDomain())
	}
	return members, nil
}

// CreateTask persists a new task and returns the stored record.
func (s *RESTStore) CreateTask(ctx context.Context, t domain.NewTask) (domain.Task, error) {
	body := newTaskRecord{
		Title:       t.Title,
		Description: t.Description,
		Priority:    string(t.Priority),
		Status:      t.Status.StoreValue(),
		Deadline:    domain.FormatDeadline(t.Deadline, s.loc),
		AssignedTo:  t.AssigneeID,
		AlertSent:   t.AlertSent,
	}
	var out envelope[taskRecord]
	if err := s.do(ctx, "create task", http.MethodPost, itemsPath(tasksCollection), nil, body, &out); err != nil {
		return domain.Task{}, err
	}
	return out.Data.toDomain(s.loc), nil
}

// UpdateTaskStatus issues a partial update of the task's status.
func (s *RESTStore) UpdateTaskStatus(ctx context.Context, id int64, st domain.Status) error {
	body := map[string]string{"status": st.StoreValue()}
	path := itemsPath(tasksCollection) + "/" + strconv.FormatInt(id, 10)
	return s.do(ctx, "update task status", http.MethodPatch, path, nil, body, nil)
}

// CreateMember persists a new team member.
func (s *RESTStore) CreateMember(ctx context.Context, m domain.NewMember) (domain.Member, error) {
	body := newMemberRecord{
		Name:  m.Name,
		Phone: m.Phone,
		Email: m.Email,
		Role:  m.Role.StoreValue(),
	}
	var out envelope[memberRecord]
	if err := s.do(ctx, "create member", http.MethodPost, itemsPath(membersCollection), nil, body, &out); err != nil {
		return domain.Member{}, err
	}
	return out.Data.toDomain(), nil
}

func itemsPath(collection string) string {
	return "/items/" + collection
}

func (s *RESTStore) do(ctx context.Context, op, method, path string, params url.Values, body, out any) error {
	target := s.baseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	var rdr io.Reader
	if body != nil {
		payload, err := sonic.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode body: %w", op, err)
		}
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rdr)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return &domain.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return classifyStatus(op, resp.StatusCode, raw)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.NetworkError{Op: op, Err: err}
	}
	if err := sonic.Unmarshal(raw, out); err != nil {
		return &domain.NetworkError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// classifyStatus maps a non-2xx answer onto the error taxonomy. Statuses a
// retry could fix are network errors; anything else is a rejection.
func classifyStatus(op string, code int, body []byte) error {
	msg := storeErrorMessage(body)
	if retryableStatus(code) {
		if msg == "" {
			msg = http.StatusText(code)
		}
		return &domain.NetworkError{Op: op, Err: fmt.Errorf("status %d: %s", code, msg)}
	}
	return &domain.RejectedUpdate{Op: op, StatusCode: code, Message: msg}
}

func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
}

func storeErrorMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var payload struct {
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := sonic.Unmarshal(body, &payload); err == nil && len(payload.Errors) > 0 {
		msgs := make([]string, 0, len(payload.Errors))
		for _, e := range payload.Errors {
			if e.Message != "" {
				msgs = append(msgs, e.Message)
			}
		}
		return strings.Join(msgs, "; ")
	}
	return strings.TrimSpace(string(body))
}

func (r taskRecord) toDomain(loc *time.Location) domain.Task {
	status, err := domain.ParseStatus(r.Status)
	if err != nil {
		status = domain.StatusUnknown
	}
	prio, err := domain.ParsePriority(r.Priority)
	if err != nil {
		prio = domain.PriorityMedium
	}
	return domain.Task{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		Priority:    prio,
		Status:      status,
		Deadline:    parseStoreTime(r.Deadline, loc),
		AssignedTo:  r.AssignedTo.assignee(),
		AlertSent:   bool(r.AlertSent),
		CreatedAt:   parseStoreTime(r.DateCreated, loc),
	}
}

func (r memberRecord) toDomain() domain.Member {
	return domain.Member{
		ID:        r.ID,
		Name:      r.Name,
		Phone:     string(r.Phone),
		Email:     r.Email,
		Role:      domain.ParseRole(string(r.Role)),
		CreatedAt: parseStoreTime(r.DateCreated, time.UTC),
	}
}

// parseStoreTime accepts zoned RFC 3339 timestamps as well as the naive
// datetime form, which is read in loc.
func parseStoreTime(v string, loc *time.Location) time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t
	}
	for _, layout := range []string{domain.DeadlineLayout, "2006-01-02T15:04", "2006-01-02 15:04:05", domain.DateLayout} {
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			return t
		}
	}
	return time.Time{}
}

// assigneeWire decodes assigned_to, which is either a bare member id or an
// object carrying the requested projection.
type assigneeWire struct {
	set   bool
	value domain.Assignee
}

func (a *assigneeWire) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*a = assigneeWire{}
		return nil
	}
	if trimmed[0] == '{' {
		var obj struct {
			ID    flexID  `json:"id"`
			Name  string  `json:"name"`
			Phone flexStr `json:"phone"`
		}
		if err := sonic.Unmarshal(trimmed, &obj); err != nil {
			return err
		}
		*a = assigneeWire{set: true, value: domain.Assignee{ID: int64(obj.ID), Name: obj.Name, Phone: string(obj.Phone)}}
		return nil
	}
	var id flexID
	if err := id.UnmarshalJSON(trimmed); err != nil {
		return err
	}
	*a = assigneeWire{set: true, value: domain.Assignee{ID: int64(id)}}
	return nil
}

func (a assigneeWire) assignee() *domain.Assignee {
	if !a.set {
		return nil
	}
	v := a.value
	return &v
}

// flexBool decodes true/false, 0/1 and their quoted forms.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	switch strings.Trim(strings.TrimSpace(string(data)), `"`) {
	case "true", "1":
		*b = true
	case "false", "0", "", "null":
		*b = false
	default:
		return fmt.Errorf("invalid boolean %s", data)
	}
	return nil
}

// flexID decodes numeric ids that may arrive quoted.
type flexID int64

func (i *flexID) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*i = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return errors.New("invalid id " + string(data))
	}
	*i = flexID(n)
	return nil
}

// flexStr decodes strings that may arrive as bare numbers, such as phone
// numbers and role codes.
type flexStr string

func (f *flexStr) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := sonic.UnmarshalString(trimmed, &s); err != nil {
			return err
		}
		*f = flexStr(s)
		return nil
	}
	*f = flexStr(trimmed)
	return nil
}
