package handler

import (
	"context"
	"database/sql"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/carline/pickup-queue/internal/model"
	"github.com/carline/pickup-queue/internal/repository"
)

// StudentHandler serves the parent's student registry.
type StudentHandler struct {
	Students *repository.StudentRepo
	Schools  *repository.SchoolRepo
}

func NewStudentHandler(s *repository.StudentRepo, sc *repository.SchoolRepo) *StudentHandler {
	return &StudentHandler{Students: s, Schools: sc}
}

type studentReq struct {
	SchoolID  uint64 `json:"school_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Grade     string `json:"grade"`
}

type studentResp struct {
	ID        uint64 `json:"id"`
	SchoolID  uint64 `json:"school_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Grade     string `json:"grade"`
	QRCode    string `json:"qr_code"`
}

func toStudentResp(s *model.Student) studentResp {
	return studentResp{
		ID:        s.ID,
		SchoolID:  s.SchoolID,
		FirstName: s.FirstName,
		LastName:  s.LastName,
		Grade:     s.Grade,
		QRCode:    s.QRCode,
	}
}

// Create registers a student under the calling parent and mints the QR
// badge token.
func (h *StudentHandler) Create(c echo.Context) error {
	var req studentReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	if req.FirstName == "" || req.LastName == "" || req.SchoolID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "first_name, last_name and school_id required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if _, err := h.Schools.GetByID(ctx, req.SchoolID); err != nil {
		if err == sql.ErrNoRows {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "school not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}

	s, err := h.Students.Create(ctx, getUserID(c), req.SchoolID, req.FirstName, req.LastName, req.Grade)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create student failed"})
	}
	return c.JSON(http.StatusCreated, toStudentResp(s))
}

// List returns the calling parent's students.
func (h *StudentHandler) List(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	items, err := h.Students.ListByParent(ctx, getUserID(c))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	out := make([]studentResp, 0, len(items))
	for i := range items {
		out = append(out, toStudentResp(&items[i]))
	}
	return c.JSON(http.StatusOK, echo.Map{"students": out})
}

// Get returns a single student owned by the caller.
func (h *StudentHandler) Get(c echo.Context) error {
	id := pathID(c, "id")
	if id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	s, err := h.Students.GetByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "student not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	if s.ParentID != getUserID(c) {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not your student"})
	}
	return c.JSON(http.StatusOK, toStudentResp(s))
}

// Update changes name/grade of a student owned by the caller.
func (h *StudentHandler) Update(c echo.Context) error {
	id := pathID(c, "id")
	if id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}
	var req studentReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	if req.FirstName == "" || req.LastName == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "first_name and last_name required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	err := h.Students.Update(ctx, id, getUserID(c), req.FirstName, req.LastName, req.Grade)
	switch {
	case err == sql.ErrNoRows:
		return c.JSON(http.StatusNotFound, echo.Map{"error": "student not found"})
	case err == repository.ErrForbidden:
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not your student"})
	case err != nil:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update failed"})
	}
	return c.NoContent(http.StatusNoContent)
}

// Delete removes a student owned by the caller.
func (h *StudentHandler) Delete(c echo.Context) error {
	id := pathID(c, "id")
	if id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	err := h.Students.Delete(ctx, id, getUserID(c))
	switch {
	case err == sql.ErrNoRows:
		return c.JSON(http.StatusNotFound, echo.Map{"error": "student not found"})
	case err == repository.ErrForbidden:
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not your student"})
	case err != nil:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "delete failed"})
	}
	return c.NoContent(http.StatusNoContent)
}
