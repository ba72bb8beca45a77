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

// VehicleHandler serves the parent's vehicle registry and the links
// between vehicles and students that drive batched plate scans.
type VehicleHandler struct {
	Vehicles *repository.VehicleRepo
}

func NewVehicleHandler(v *repository.VehicleRepo) *VehicleHandler {
	return &VehicleHandler{Vehicles: v}
}

type vehicleReq struct {
	LicensePlate string `json:"license_plate"`
	Description  string `json:"description"`
}

type linkReq struct {
	StudentID uint64 `json:"student_id"`
}

type vehicleResp struct {
	ID           uint64   `json:"id"`
	LicensePlate string   `json:"license_plate"`
	Description  string   `json:"description"`
	StudentIDs   []uint64 `json:"student_ids,omitempty"`
}

func toVehicleResp(v *model.Vehicle) vehicleResp {
	return vehicleResp{ID: v.ID, LicensePlate: v.LicensePlate, Description: v.Description}
}

// Create registers a vehicle under the calling parent.  The plate is
// normalized so that kiosk OCR variants ("ab-123 cd") match.
func (h *VehicleHandler) Create(c echo.Context) error {
	var req vehicleReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	plate := repository.NormalizePlate(req.LicensePlate)
	if plate == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "license_plate required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	v, err := h.Vehicles.Create(ctx, getUserID(c), plate, strings.TrimSpace(req.Description))
	if err != nil {
		if err == repository.ErrDuplicate {
			return c.JSON(http.StatusConflict, echo.Map{"error": "license plate already registered"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create vehicle failed"})
	}
	return c.JSON(http.StatusCreated, toVehicleResp(v))
}

// List returns the calling parent's vehicles.
func (h *VehicleHandler) List(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	items, err := h.Vehicles.ListByParent(ctx, getUserID(c))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	out := make([]vehicleResp, 0, len(items))
	for i := range items {
		resp := toVehicleResp(&items[i])
		// The linked students drive what a plate scan will enqueue, so
		// the listing shows them.
		if ids, err := h.Vehicles.StudentIDs(ctx, items[i].ID); err == nil {
			resp.StudentIDs = ids
		}
		out = append(out, resp)
	}
	return c.JSON(http.StatusOK, echo.Map{"vehicles": out})
}

// Delete removes a vehicle owned by the caller, along with its student
// links.
func (h *VehicleHandler) Delete(c echo.Context) error {
	id := pathID(c, "id")
	if id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	err := h.Vehicles.Delete(ctx, id, getUserID(c))
	switch {
	case err == sql.ErrNoRows:
		return c.JSON(http.StatusNotFound, echo.Map{"error": "vehicle not found"})
	case err == repository.ErrForbidden:
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not your vehicle"})
	case err != nil:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "delete failed"})
	}
	return c.NoContent(http.StatusNoContent)
}

// LinkStudent attaches a student to a vehicle.  Both records must
// belong to the caller.
func (h *VehicleHandler) LinkStudent(c echo.Context) error {
	id := pathID(c, "id")
	if id == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}
	var req linkReq
	if err := c.Bind(&req); err != nil || req.StudentID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "student_id required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	err := h.Vehicles.LinkStudent(ctx, id, req.StudentID, getUserID(c))
	switch {
	case err == sql.ErrNoRows:
		return c.JSON(http.StatusNotFound, echo.Map{"error": "vehicle or student not found"})
	case err == repository.ErrForbidden:
		return c.JSON(http.StatusForbidden, echo.Map{"error": "vehicle and student must both be yours"})
	case err == repository.ErrDuplicate:
		return c.JSON(http.StatusConflict, echo.Map{"error": "student already linked"})
	case err != nil:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "link failed"})
	}
	return c.NoContent(http.StatusNoContent)
}

// UnlinkStudent detaches a student from a vehicle.
func (h *VehicleHandler) UnlinkStudent(c echo.Context) error {
	id := pathID(c, "id")
	studentID := pathID(c, "studentId")
	if id == 0 || studentID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	err := h.Vehicles.UnlinkStudent(ctx, id, studentID, getUserID(c))
	switch {
	case err == sql.ErrNoRows:
		return c.JSON(http.StatusNotFound, echo.Map{"error": "link not found"})
	case err == repository.ErrForbidden:
		return c.JSON(http.StatusForbidden, echo.Map{"error": "vehicle and student must both be yours"})
	case err != nil:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "unlink failed"})
	}
	return c.NoContent(http.StatusNoContent)
}
