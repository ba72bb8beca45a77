package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/carline/pickup-queue/internal/repository"
)

// SchoolHandler serves school administration and the public directory.
type SchoolHandler struct {
	Schools *repository.SchoolRepo
}

func NewSchoolHandler(s *repository.SchoolRepo) *SchoolHandler {
	return &SchoolHandler{Schools: s}
}

type schoolReq struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type schoolResp struct {
	ID      uint64 `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

// Create adds a school (ADMIN only, enforced by the route guard).
func (h *SchoolHandler) Create(c echo.Context) error {
	var req schoolReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	s, err := h.Schools.Create(ctx, req.Name, strings.TrimSpace(req.Address))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create school failed"})
	}
	return c.JSON(http.StatusCreated, schoolResp{ID: s.ID, Name: s.Name, Address: s.Address})
}

// List returns the public school directory.  This endpoint sits behind
// the response cache.
func (h *SchoolHandler) List(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	items, err := h.Schools.List(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	out := make([]schoolResp, 0, len(items))
	for _, s := range items {
		out = append(out, schoolResp{ID: s.ID, Name: s.Name, Address: s.Address})
	}
	return c.JSON(http.StatusOK, echo.Map{"schools": out})
}
