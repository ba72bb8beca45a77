package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/carline/pickup-queue/internal/model"
	"github.com/carline/pickup-queue/internal/repository"
)

// QueueViewHandler serves read-only queue snapshots.  Clients that
// cannot hold a websocket open poll these instead.
type QueueViewHandler struct {
	Queue *repository.QueueStore
}

func NewQueueViewHandler(q *repository.QueueStore) *QueueViewHandler {
	return &QueueViewHandler{Queue: q}
}

// SchoolQueue handles GET /v1/schools/:id/queue: the full active queue
// of one school in position order.  Staff may only view their own
// school's queue.
func (h *QueueViewHandler) SchoolQueue(c echo.Context) error {
	schoolID := pathID(c, "id")
	if schoolID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid school id"})
	}
	if model.IsStaffRole(getRole(c)) && getRole(c) != model.RoleAdmin && getSchoolID(c) != schoolID {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "staff may only view their own school"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	entries, err := h.Queue.ActiveBySchool(ctx, schoolID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"school_id": schoolID,
		"entries":   entries,
	})
}

// MyQueue handles GET /v1/my-queue: every active entry for the calling
// parent's students, across schools.
func (h *QueueViewHandler) MyQueue(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	entries, err := h.Queue.ActiveByParent(ctx, getUserID(c))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"entries": entries})
}
