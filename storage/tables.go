package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"taskboard/domain"
)

const (
	taskPartition   = "task"
	memberPartition = "member"
	maxAddAttempts  = 3
)

// TableStore keeps tasks and members in Azure Table Storage. Sorting and the
// alert filter are applied by the client.
type TableStore struct {
	taskTable   *aztables.Client
	memberTable *aztables.Client
	ids         sequence
}

// NewTables creates a TableStore from a storage connection string.
func NewTables(connStr, tasksTable, membersTable string) (*TableStore, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &TableStore{
		taskTable:   svc.NewClient(tasksTable),
		memberTable: svc.NewClient(membersTable),
	}, nil
}

type taskEntity struct {
	aztables.Entity
	Title       string `json:"Title"`
	Description string `json:"Description"`
	Priority    string `json:"Priority"`
	Status      string `json:"Status"`
	Deadline    string `json:"Deadline"`
	AssigneeID  string `json:"AssigneeID"`
	AlertSent   bool   `json:"AlertSent"`
	CreatedAt   string `json:"CreatedAt"`
}

type taskStatusUpdate struct {
	aztables.Entity
	Status string `json:"Status"`
}

type memberEntity struct {
	aztables.Entity
	Name      string `json:"Name"`
	Phone     string `json:"Phone"`
	Email     string `json:"Email"`
	Role      string `json:"Role"`
	CreatedAt string `json:"CreatedAt"`
}

func rowKey(id int64) string {
	return fmt.Sprintf("%019d", id)
}

// ListTasks lists task entities and joins the assignee projection from the
// members table.
func (s *TableStore) ListTasks(ctx context.Context, q TaskQuery) ([]domain.Task, error) {
	members, err := s.ListMembers(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]domain.Member, len(members))
	for _, m := range members {
		byID[m.ID] = m
	}

	filter := "PartitionKey eq '" + taskPartition + "'"
	if q.AlertSentOnly {
		filter += " and AlertSent eq true"
	}
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, classifyAzure("list tasks", err)
		}
		for _, e := range resp.Entities {
			var ent taskEntity
			if err := sonic.Unmarshal(e, &ent); err != nil {
				return nil, fmt.Errorf("list tasks: decode entity: %w", err)
			}
			tasks = append(tasks, ent.toDomain(byID))
		}
	}
	sortTasks(tasks, q)
	return tasks, nil
}

func sortTasks(tasks []domain.Task, q TaskQuery) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if q.AlertSentOnly {
			if !a.Deadline.Equal(b.Deadline) {
				return a.Deadline.After(b.Deadline)
			}
		} else if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
}

// ListMembers lists member entities in join order.
func (s *TableStore) ListMembers(ctx context.Context) ([]domain.Member, error) {
	filter := "PartitionKey eq '" + memberPartition + "'"
	pager := s.memberTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	members := []domain.Member{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, classifyAzure("list members", err)
		}
		for _, e := range resp.Entities {
			var ent memberEntity
			if err := sonic.Unmarshal(e, &ent); err != nil {
				return nil, fmt.Errorf("list members: decode entity: %w", err)
			}
			members = append(members, ent.toDomain())
		}
	}
	return members, nil
}

// CreateTask adds a task entity under a fresh id.
func (s *TableStore) CreateTask(ctx context.Context, t domain.NewTask) (domain.Task, error) {
	now := time.Now().UTC()
	for attempt := 0; ; attempt++ {
		id := s.ids.next()
		ent := taskEntity{
			Entity:      aztables.Entity{PartitionKey: taskPartition, RowKey: rowKey(id)},
			Title:       t.Title,
			Description: t.Description,
			Priority:    string(t.Priority),
			Status:      t.Status.StoreValue(),
			Deadline:    t.Deadline.Format(time.RFC3339),
			AssigneeID:  strconv.FormatInt(t.AssigneeID, 10),
			AlertSent:   t.AlertSent,
			CreatedAt:   now.Format(time.RFC3339Nano),
		}
		err := s.add(ctx, s.taskTable, ent)
		if err == nil {
			return ent.toDomain(nil), nil
		}
		if !isConflict(err) || attempt+1 >= maxAddAttempts {
			return domain.Task{}, classifyAzure("create task", err)
		}
	}
}

// UpdateTaskStatus merges the new status into the task entity.
func (s *TableStore) UpdateTaskStatus(ctx context.Context, id int64, st domain.Status) error {
	payload, err := sonic.Marshal(taskStatusUpdate{
		Entity: aztables.Entity{PartitionKey: taskPartition, RowKey: rowKey(id)},
		Status: st.StoreValue(),
	})
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	_, err = s.taskTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	if err != nil {
		return classifyAzure("update task status", err)
	}
	return nil
}

// CreateMember adds a member entity under a fresh id.
func (s *TableStore) CreateMember(ctx context.Context, m domain.NewMember) (domain.Member, error) {
	now := time.Now().UTC()
	for attempt := 0; ; attempt++ {
		id := s.ids.next()
		ent := memberEntity{
			Entity:    aztables.Entity{PartitionKey: memberPartition, RowKey: rowKey(id)},
			Name:      m.Name,
			Phone:     m.Phone,
			Email:     m.Email,
			Role:      m.Role.StoreValue(),
			CreatedAt: now.Format(time.RFC3339Nano),
		}
		err := s.add(ctx, s.memberTable, ent)
		if err == nil {
			return ent.toDomain(), nil
		}
		if !isConflict(err) || attempt+1 >= maxAddAttempts {
			return domain.Member{}, classifyAzure("create member", err)
		}
	}
}

func (s *TableStore) add(ctx context.Context, table *aztables.Client, ent any) error {
	payload, err := sonic.Marshal(ent)
	if err != nil {
		return err
	}
	_, err = table.AddEntity(ctx, payload, nil)
	return err
}

func isConflict(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusConflict
}

// classifyAzure maps table service failures onto the error taxonomy.
func classifyAzure(op string, err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode >= 400 && !retryableStatus(respErr.StatusCode) {
		return &domain.RejectedUpdate{Op: op, StatusCode: respErr.StatusCode, Message: respErr.ErrorCode}
	}
	return &domain.NetworkError{Op: op, Err: err}
}

func (e taskEntity) toDomain(members map[int64]domain.Member) domain.Task {
	id, _ := strconv.ParseInt(e.RowKey, 10, 64)
	status, err := domain.ParseStatus(e.Status)
	if err != nil {
		status = domain.StatusUnknown
	}
	prio, err := domain.ParsePriority(e.Priority)
	if err != nil {
		prio = domain.PriorityMedium
	}
	t := domain.Task{
		ID:          id,
		Title:       e.Title,
		Description: e.Description,
		Priority:    prio,
		Status:      status,
		Deadline:    parseStoreTime(e.Deadline, time.UTC),
		AlertSent:   e.AlertSent,
		CreatedAt:   parseStoreTime(e.CreatedAt, time.UTC),
	}
	if aid, err := strconv.ParseInt(e.AssigneeID, 10, 64); err == nil && aid > 0 {
		a := &domain.Assignee{ID: aid}
		if m, ok := members[aid]; ok {
			a.Name = m.Name
			a.Phone = m.Phone
		}
		t.AssignedTo = a
	}
	return t
}

func (e memberEntity) toDomain() domain.Member {
	id, _ := strconv.ParseInt(e.RowKey, 10, 64)
	return domain.Member{
		ID:        id,
		Name:      e.Name,
		Phone:     e.Phone,
		Email:     e.Email,
		Role:      domain.ParseRole(e.Role),
		CreatedAt: parseStoreTime(e.CreatedAt, time.UTC),
	}
}
