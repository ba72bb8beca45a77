package handler

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/carline/pickup-queue/internal/pickup"
	"github.com/carline/pickup-queue/internal/repository"
)

// ScanHandler serves the queue mutations: badge scans, plate scans and
// explicit removals.  All queue semantics live in the pickup manager;
// this layer only resolves identifiers and maps errors to HTTP.
type ScanHandler struct {
	Manager  *pickup.Manager
	Students *repository.StudentRepo
	Vehicles *repository.VehicleRepo
}

func NewScanHandler(m *pickup.Manager, s *repository.StudentRepo, v *repository.VehicleRepo) *ScanHandler {
	return &ScanHandler{Manager: m, Students: s, Vehicles: v}
}

type scanReq struct {
	QRCode    string  `json:"qr_code"`
	StudentID uint64  `json:"student_id"`
	VehicleID *uint64 `json:"vehicle_id"`
}

type vehicleScanReq struct {
	LicensePlate string `json:"license_plate"`
	VehicleID    uint64 `json:"vehicle_id"`
}

// Scan handles POST /v1/schools/:id/scan.  The student is identified
// either by the QR badge token or directly by id (the staff manual-add
// path).  Repeated scans walk the entry through its lifecycle; a scan
// of a student already waiting reports already_queued without change.
func (h *ScanHandler) Scan(c echo.Context) error {
	schoolID := pathID(c, "id")
	if schoolID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid school id"})
	}
	var req scanReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	studentID := req.StudentID
	if qr := strings.TrimSpace(req.QRCode); qr != "" {
		s, err := h.Students.GetByQRCode(ctx, qr)
		if err != nil {
			if err == sql.ErrNoRows {
				return c.JSON(http.StatusNotFound, echo.Map{"error": "unknown qr code"})
			}
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
		}
		studentID = s.ID
	}
	if studentID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "qr_code or student_id required"})
	}

	res, err := h.Manager.EnqueueOrAdvance(ctx, pickup.EnqueueParams{
		StudentID: studentID,
		SchoolID:  schoolID,
		VehicleID: req.VehicleID,
		Actor:     actorFromContext(c),
	})
	if err != nil {
		return queueError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// ScanVehicle handles POST /v1/schools/:id/scan-vehicle.  The vehicle
// is identified by plate (kiosk OCR) or by id; every linked student
// without an active entry is queued in one transaction.
func (h *ScanHandler) ScanVehicle(c echo.Context) error {
	schoolID := pathID(c, "id")
	if schoolID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid school id"})
	}
	var req vehicleScanReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	vehicleID := req.VehicleID
	if plate := repository.NormalizePlate(req.LicensePlate); plate != "" {
		v, err := h.Vehicles.GetByPlate(ctx, plate)
		if err != nil {
			if err == sql.ErrNoRows {
				return c.JSON(http.StatusNotFound, echo.Map{"error": "unknown license plate"})
			}
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
		}
		vehicleID = v.ID
	}
	if vehicleID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "license_plate or vehicle_id required"})
	}

	res, err := h.Manager.EnqueueVehicle(ctx, pickup.VehicleScanParams{
		VehicleID: vehicleID,
		SchoolID:  schoolID,
		Actor:     actorFromContext(c),
	})
	if err != nil {
		if errors.Is(err, pickup.ErrNoStudents) {
			return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "vehicle has no linked students"})
		}
		return queueError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// Dequeue handles DELETE /v1/queue/:id: explicit removal of an active
// entry, with everyone behind it moving up one position.
func (h *ScanHandler) Dequeue(c echo.Context) error {
	entryID := pathID(c, "id")
	if entryID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid entry id"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	res, err := h.Manager.Dequeue(ctx, entryID, actorFromContext(c))
	if err != nil {
		return queueError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// queueError maps pickup sentinel errors to HTTP responses.
func queueError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, pickup.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	case errors.Is(err, pickup.ErrUnauthorized):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not allowed"})
	case errors.Is(err, pickup.ErrTransient):
		// The write kept colliding; the client should simply re-scan.
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "queue busy, retry the scan"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "queue operation failed"})
	}
}
