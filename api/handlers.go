package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

const createTaskScope = "create-task"

var errBodyTooLarge = errors.New("request body too large")

// Register wires up all API routes on the provided Echo instance. deduper
// may be nil, in which case Idempotency-Key headers are ignored.
func Register(e *echo.Echo, b Board, feed Feed, creator Creator, deduper Deduper, logger *log.Logger) {
	e.GET("/api/tasks", observe(logger, "/api/tasks", getTasks(b)))
	e.POST("/api/tasks", observe(logger, "/api/tasks", postTask(creator, deduper, logger)))
	e.POST("/api/tasks/:id/start", observe(logger, "/api/tasks/:id/start", postAction(b.Start)))
	e.POST("/api/tasks/:id/done", observe(logger, "/api/tasks/:id/done", postAction(b.Done)))
	e.PUT("/api/tasks/:id/status", observe(logger, "/api/tasks/:id/status", putStatus(b)))
	e.GET("/api/board", observe(logger, "/api/board", getBoard(b)))
	e.POST("/api/board/drop", observe(logger, "/api/board/drop", postDrop(b)))
	e.POST("/api/refresh", observe(logger, "/api/refresh", postRefresh(b)))
	e.GET("/api/members", observe(logger, "/api/members", getMembers(b)))
	e.POST("/api/members", observe(logger, "/api/members", postMember(creator)))
	e.GET("/api/notifications", observe(logger, "/api/notifications", getNotifications(feed)))
	e.GET("/api/dashboard", observe(logger, "/api/dashboard", getDashboard(b)))
	e.GET("/api/stream", streamBoard(b, logger))
	e.GET("/healthz", healthz())
}

type observedHandler func(c echo.Context, m *requestMetrics) error

// observe runs h inside a request span and logs its metrics once the
// response is written.
func observe(logger *log.Logger, route string, h observedHandler) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, spanCtx := newRequestMetrics(c.Request().Context(), logger, route)
		c.SetRequest(c.Request().WithContext(spanCtx))
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()
		return h(c, metrics)
	}
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func getTasks(b Board) observedHandler {
	return func(c echo.Context, m *requestMetrics) error {
		filter, err := domain.ParseFilter(c.QueryParam("filter"))
		if err != nil {
			m.SetErrorStage("invalid_filter")
			return writeError(c, err)
		}
		fetchStart := time.Now()
		tasks := b.List(filter)
		m.ObserveFetch(time.Since(fetchStart))
		m.SetItems(len(tasks))
		return encode(c, m, http.StatusOK, tasksResponse{Filter: filter, Tasks: tasks, Loading: b.Loading()})
	}
}

func getBoard(b Board) observedHandler {
	return func(c echo.Context, m *requestMetrics) error {
		lanes := b.Kanban()
		n := 0
		for _, l := range lanes {
			n += l.Count
		}
		m.SetItems(n)
		return encode(c, m, http.StatusOK, boardResponse{Lanes: lanes, Loading: b.Loading()})
	}
}

func getDashboard(b Board) observedHandler {
	return func(c echo.Context, m *requestMetrics) error {
		stats := b.Dashboard()
		m.SetItems(stats.Total)
		return encode(c, m, http.StatusOK, stats)
	}
}

func getMembers(b Board) observedHandler {
	return func(c echo.Context, m *requestMetrics) error {
		members := b.Members()
		if members == nil {
			members = []domain.Member{}
		}
		m.SetItems(len(members))
		return encode(c, m, http.StatusOK, members)
	}
}

func getNotifications(feed Feed) observedHandler {
	return func(c echo.Context, m *requestMetrics) error {
		resp := notificationsResponse{Notifications: feed.Notifications(), Loading: feed.Loading()}
		if resp.Notifications == nil {
			resp.Notifications = []domain.Task{}
		}
		if at := feed.UpdatedAt(); !at.IsZero() {
			resp.UpdatedAt = &at
		}
		m.SetItems(len(resp.Notifications))
		return encode(c, m, http.StatusOK, resp)
	}
}

func postRefresh(b Board) observedHandler {
	return func(c echo.Context, m *requestMetrics) error {
		fetchStart := time.Now()
		err := b.Refresh(c.Request().Context())
		m.ObserveFetch(time.Since(fetchStart))
		if err != nil {
			m.SetErrorStage("refresh")
			return writeError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func postAction(action func(ctx context.Context, id int64) error) observedHandler {
	return func(c echo.Context, m *requestMetrics) error {
		id, err := taskID(c)
		if err != nil {
			m.SetErrorStage("invalid_id")
			return writeError(c, err)
		}
		if err := action(c.Request().Context(), id); err != nil {
			m.SetErrorStage("transition")
			return writeError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func putStatus(b Board) observedHandler {
	return func(c echo.Context, m *requestMetrics) error {
		id, err := taskID(c)
		if err != nil {
			m.SetErrorStage("invalid_id")
			return writeError(c, err)
		}
		var req statusRequest
		if err := decodeBody(c, &req); err != nil {
			m.SetErrorStage("decode_body")
			return writeError(c, err)
		}
		status, err := domain.ParseStatus(req.Status)
		if err != nil {
			m.SetErrorStage("invalid_status")
			return writeError(c, &domain.ValidationError{Field: "status", Reason: err.Error()})
		}
		if err := b.Transition(c.Request().Context(), id, status); err != nil {
			m.SetErrorStage("transition")
			return writeError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func postDrop(b Board) observedHandler {
	return func(c echo.Context, m *requestMetrics) error {
		var req dropRequest
		if err := decodeBody(c, &req); err != nil {
			m.SetErrorStage("decode_body")
			return writeError(c, err)
		}
		accepted, err := b.Drop(c.Request().Context(), string(req.TaskID), req.Lane)
		if err != nil {
			m.SetErrorStage("transition")
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, dropResponse{Accepted: accepted})
	}
}

func postMember(creator Creator) observedHandler {
	return func(c echo.Context, m *requestMetrics) error {
		var in domain.MemberInput
		if err := decodeBody(c, &in); err != nil {
			m.SetErrorStage("decode_body")
			return writeError(c, err)
		}
		member, err := creator.AddMember(c.Request().Context(), in)
		if err != nil {
			m.SetErrorStage("add_member")
			return writeError(c, err)
		}
		return c.JSON(http.StatusCreated, member)
	}
}

func postTask(creator Creator, deduper Deduper, logger *log.Logger) observedHandler {
	return func(c echo.Context, m *requestMetrics) error {
		ctx := c.Request().Context()
		key := strings.TrimSpace(c.Request().Header.Get(HeaderIdempotencyKey))
		if key == "" {
			key = uuid.NewString()
		}

		if deduper != nil {
			added, err := deduper.Add(ctx, createTaskScope, key)
			if err != nil {
				m.SetErrorStage("deduper")
				logger.WithError(err).WithField("idempotency_key", key).Error("api.create: deduper unavailable")
				return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "idempotency store unavailable"})
			}
			if !added {
				m.SetErrorStage("duplicate")
				return c.JSON(http.StatusConflict, errorResponse{Error: "duplicate request"})
			}
		}
		release := func() {
			if deduper == nil {
				return
			}
			if err := deduper.Remove(context.WithoutCancel(ctx), createTaskScope, key); err != nil {
				logger.WithError(err).WithField("idempotency_key", key).Warn("api.create: release idempotency key failed")
			}
		}

		var in domain.TaskInput
		if err := decodeBody(c, &in); err != nil {
			release()
			m.SetErrorStage("decode_body")
			return writeError(c, err)
		}
		task, err := creator.Create(ctx, in)
		if err != nil {
			release()
			m.SetErrorStage("create")
			return writeError(c, err)
		}
		m.SetItems(1)
		return c.JSON(http.StatusCreated, createResponse{Task: task, IdempotencyKey: key})
	}
}

func taskID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, &domain.ValidationError{Field: "id", Reason: "invalid task id"}
	}
	return id, nil
}

func decodeBody(c echo.Context, dst any) error {
	lr := io.LimitReader(c.Request().Body, postBodyMaxSize+1)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if bodyTooLarge(c.Request().Body) {
			return errBodyTooLarge
		}
		return &domain.ValidationError{Reason: "invalid body"}
	}
	return nil
}

func encode(c echo.Context, m *requestMetrics, status int, body any) error {
	encodeStart := time.Now()
	err := c.JSON(status, body)
	m.ObserveEncode(time.Since(encodeStart))
	if err != nil {
		m.SetErrorStage("encode_response")
	}
	return err
}

// statusFor maps the error taxonomy to an HTTP status.
func statusFor(err error) int {
	var (
		rejected *domain.RejectedUpdate
		network  *domain.NetworkError
	)
	switch {
	case errors.Is(err, errBodyTooLarge):
		return http.StatusRequestEntityTooLarge
	case domain.IsValidation(err):
		return http.StatusBadRequest
	case errors.As(err, &rejected):
		if rejected.StatusCode == http.StatusNotFound {
			return http.StatusNotFound
		}
		return http.StatusConflict
	case errors.As(err, &network):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeError(c echo.Context, err error) error {
	resp := errorResponse{Error: err.Error()}
	var v *domain.ValidationError
	if errors.As(err, &v) {
		resp.Field = v.Field
	}
	return c.JSON(statusFor(err), resp)
}
