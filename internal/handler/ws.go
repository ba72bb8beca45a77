package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/carline/pickup-queue/internal/model"
	"github.com/carline/pickup-queue/internal/notify"
)

// WSHandler upgrades queue viewers to websockets joined to their
// school's room.
type WSHandler struct {
	Hub *notify.Hub
}

func NewWSHandler(hub *notify.Hub) *WSHandler {
	return &WSHandler{Hub: hub}
}

// QueueSocket handles GET /v1/schools/:id/queue/ws.  The same access
// rule as the snapshot endpoint applies: staff are pinned to their own
// school.
func (h *WSHandler) QueueSocket(c echo.Context) error {
	if h.Hub == nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "live updates unavailable"})
	}
	schoolID := pathID(c, "id")
	if schoolID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid school id"})
	}
	if model.IsStaffRole(getRole(c)) && getRole(c) != model.RoleAdmin && getSchoolID(c) != schoolID {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "staff may only view their own school"})
	}
	return h.Hub.Serve(schoolID, c.Response(), c.Request())
}
